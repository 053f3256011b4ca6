package api

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/session"
	"github.com/erazemk/posodi/internal/store"
)

// errSessionOver ends a feed whose token was revoked or has expired.
var errSessionOver = errors.New("session over")

// FeedHandler streams live views as server-sent events.
type FeedHandler struct {
	DB  *sql.DB
	Hub *feed.Hub
}

// Stream handles GET /api/feed/{view}. It sends the view's current contents
// and then a fresh copy after every change in the caller's neighbourhood,
// until the client goes away or the session is signed out or expires.
func (h *FeedHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())
	view := r.PathValue("view")

	load, ok := views[view]
	if !ok {
		jsonError(w, http.StatusNotFound, "unknown view")
		return
	}

	sub, err := h.Hub.Subscribe(feed.NeighborhoodTopic(sc.Scope()), feed.UserTopic(sc.Deployment, sc.UserID))
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer sub.Cancel()

	// The server's write timeout applies to whole responses.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("clearing write deadline", "error", err)
	}

	expired := time.NewTimer(time.Until(sc.ExpiresAt))
	defer expired.Stop()

	sse := datastar.NewSSE(w, r)
	send := func() error {
		if err := h.checkSession(r.Context(), sc); err != nil {
			return err
		}
		data, err := load(r.Context(), h.DB, sc)
		if err != nil {
			return err
		}
		return sse.MarshalAndPatchSignals(map[string]any{view: data})
	}

	if err := send(); err != nil {
		slog.Warn("feed snapshot failed", "user", sc.UserID, "view", view, "error", err)
		return
	}
	slog.Info("feed opened", "user", sc.UserID, "view", view)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-expired.C:
			slog.Info("feed closed, session expired", "user", sc.UserID, "view", view)
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			switch {
			case ev.Kind == feed.KindSessionStarted:
				continue
			case ev.Kind == feed.KindSessionEnded && ev.ID == sc.TokenID:
				slog.Info("feed closed by logout", "user", sc.UserID, "view", view)
				return
			}
			// Another device's logout may have displaced a change, so
			// anything else means "re-query".
			if err := send(); errors.Is(err, errSessionOver) {
				slog.Info("feed closed, session no longer valid", "user", sc.UserID, "view", view)
				return
			} else if err != nil {
				slog.Warn("feed update failed", "user", sc.UserID, "view", view, "error", err)
				return
			}
		}
	}
}

// checkSession reports errSessionOver once the feed's token is revoked or
// past its expiry.
func (h *FeedHandler) checkSession(ctx context.Context, sc *session.Context) error {
	if !time.Now().Before(sc.ExpiresAt) {
		return errSessionOver
	}
	revoked, err := store.IsTokenRevoked(ctx, h.DB, sc.TokenID)
	if err != nil {
		return err
	}
	if revoked {
		return errSessionOver
	}
	return nil
}
