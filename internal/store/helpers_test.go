package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/erazemk/posodi/internal/model"
)

var testScope = model.Scope{Deployment: "test", Neighborhood: "elm-street"}

func mustProfile(t *testing.T, database *sql.DB, userID string) *model.Profile {
	t.Helper()
	p, _, err := EnsureProfile(context.Background(), database, testScope.Deployment, userID, testScope.Neighborhood)
	if err != nil {
		t.Fatalf("EnsureProfile(%s): %v", userID, err)
	}
	return p
}

func mustItem(t *testing.T, database *sql.DB, owner *model.Profile, name string) *model.Item {
	t.Helper()
	item, err := CreateItem(context.Background(), database, testScope, owner, model.NewItem{
		Name:        name,
		Description: name + " for the neighborhood",
	})
	if err != nil {
		t.Fatalf("CreateItem(%s): %v", name, err)
	}
	return item
}

func mustRequest(t *testing.T, database *sql.DB, borrower *model.Profile, item *model.Item) *model.Request {
	t.Helper()
	req, err := CreateRequest(context.Background(), database, testScope, borrower, model.NewRequest{
		ItemID:     item.ID,
		BorrowDate: "2026-06-01",
		ReturnDate: "2026-06-05",
	})
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	return req
}
