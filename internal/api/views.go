package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/session"
	"github.com/erazemk/posodi/internal/store"
)

// View names shared by the list endpoints and the live feeds.
const (
	ViewBrowse    = "browse"
	ViewInventory = "inventory"
	ViewIncoming  = "incoming"
	ViewBorrows   = "borrows"
)

type viewLoader func(ctx context.Context, db *sql.DB, sc *session.Context) (any, error)

var views = map[string]viewLoader{
	ViewBrowse: func(ctx context.Context, db *sql.DB, sc *session.Context) (any, error) {
		items, err := store.ListBrowsableItems(ctx, db, sc.Scope(), sc.UserID)
		return nonNil(items), err
	},
	ViewInventory: func(ctx context.Context, db *sql.DB, sc *session.Context) (any, error) {
		items, err := store.ListOwnerItems(ctx, db, sc.Scope(), sc.UserID)
		return nonNil(items), err
	},
	ViewIncoming: func(ctx context.Context, db *sql.DB, sc *session.Context) (any, error) {
		reqs, err := store.ListIncomingRequests(ctx, db, sc.Scope(), sc.UserID)
		return nonNil(reqs), err
	},
	ViewBorrows: func(ctx context.Context, db *sql.DB, sc *session.Context) (any, error) {
		reqs, err := store.ListBorrowerRequests(ctx, db, sc.Scope(), sc.UserID)
		return nonNil(reqs), err
	},
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T model.Item | model.Request](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

// serveView answers a list endpoint with the caller's current view.
func serveView(w http.ResponseWriter, r *http.Request, db *sql.DB, view string) {
	sc := GetSession(r.Context())
	data, err := views[view](r.Context(), db, sc)
	if err != nil {
		storeError(w, err, "load "+view)
		return
	}
	jsonResponse(w, http.StatusOK, data)
}
