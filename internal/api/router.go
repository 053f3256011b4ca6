package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/session"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, sessions *session.Manager, hub *feed.Hub) http.Handler {
	mux := http.NewServeMux()

	sessionHandler := &SessionHandler{Sessions: sessions}
	itemsHandler := &ItemsHandler{DB: db, Hub: hub}
	requestsHandler := &RequestsHandler{DB: db, Hub: hub}
	feedHandler := &FeedHandler{DB: db, Hub: hub}

	authMW := AuthMiddleware(sessions)

	// Public: sign-in.
	mux.HandleFunc("POST /api/session", sessionHandler.Start)
	mux.HandleFunc("POST /api/session/restore", sessionHandler.Restore)

	// Session.
	mux.Handle("GET /api/session", authMW(http.HandlerFunc(sessionHandler.Get)))
	mux.Handle("PUT /api/session/passphrase", authMW(http.HandlerFunc(sessionHandler.SetPassphrase)))
	mux.Handle("POST /api/session/logout", authMW(http.HandlerFunc(sessionHandler.Logout)))

	// Items.
	mux.Handle("GET /api/items", authMW(http.HandlerFunc(itemsHandler.Browse)))
	mux.Handle("GET /api/items/mine", authMW(http.HandlerFunc(itemsHandler.Mine)))
	mux.Handle("POST /api/items", authMW(http.HandlerFunc(itemsHandler.Create)))
	mux.Handle("GET /api/items/{id}", authMW(http.HandlerFunc(itemsHandler.Get)))
	mux.Handle("PUT /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.UploadImage)))
	mux.Handle("GET /api/items/{id}/image", authMW(http.HandlerFunc(itemsHandler.GetImage)))

	// Borrow requests.
	mux.Handle("POST /api/requests", authMW(http.HandlerFunc(requestsHandler.Create)))
	mux.Handle("GET /api/requests/incoming", authMW(http.HandlerFunc(requestsHandler.Incoming)))
	mux.Handle("GET /api/requests/outgoing", authMW(http.HandlerFunc(requestsHandler.Outgoing)))
	mux.Handle("POST /api/requests/{id}/approve", authMW(http.HandlerFunc(requestsHandler.Approve)))
	mux.Handle("POST /api/requests/{id}/decline", authMW(http.HandlerFunc(requestsHandler.Decline)))
	mux.Handle("POST /api/requests/{id}/return", authMW(http.HandlerFunc(requestsHandler.Return)))

	// Live feeds.
	mux.Handle("GET /api/feed/{view}", authMW(http.HandlerFunc(feedHandler.Stream)))

	return mux
}
