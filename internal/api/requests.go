package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/posodi/internal/feed"
	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/store"
)

// RequestsHandler handles borrow requests and their disposition.
type RequestsHandler struct {
	DB  *sql.DB
	Hub *feed.Hub
}

type createRequestRequest struct {
	ItemID     string `json:"item_id"`
	BorrowDate string `json:"borrow_date"`
	ReturnDate string `json:"return_date"`
	Message    string `json:"message"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// Create handles POST /api/requests.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ItemID == "" {
		jsonError(w, http.StatusBadRequest, "item_id required")
		return
	}

	created, err := store.CreateRequest(r.Context(), h.DB, sc.Scope(), sc.Profile, model.NewRequest{
		ItemID:     req.ItemID,
		BorrowDate: req.BorrowDate,
		ReturnDate: req.ReturnDate,
		Message:    req.Message,
	})
	if err != nil {
		storeError(w, err, "request item")
		return
	}

	slog.Info("borrow requested", "user", sc.UserID, "item", created.ItemID, "request", created.ID,
		"from", created.BorrowDate, "until", created.ReturnDate)
	h.publish(sc.Scope(), feed.KindRequestCreated, created.ID, sc.UserID)

	jsonResponse(w, http.StatusCreated, created)
}

// Incoming handles GET /api/requests/incoming.
func (h *RequestsHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	serveView(w, r, h.DB, ViewIncoming)
}

// Outgoing handles GET /api/requests/outgoing.
func (h *RequestsHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	serveView(w, r, h.DB, ViewBorrows)
}

// Approve handles POST /api/requests/{id}/approve.
func (h *RequestsHandler) Approve(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	var req notesRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	approved, err := store.ApproveRequest(r.Context(), h.DB, sc.Scope(), r.PathValue("id"), sc.UserID, req.Notes)
	if err != nil {
		storeError(w, err, "approve request")
		return
	}

	slog.Info("request approved", "user", sc.UserID, "request", approved.ID, "item", approved.ItemID,
		"borrower", approved.BorrowerID)
	h.publish(sc.Scope(), feed.KindRequestApproved, approved.ID, sc.UserID)

	jsonResponse(w, http.StatusOK, approved)
}

// Decline handles POST /api/requests/{id}/decline.
func (h *RequestsHandler) Decline(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	declined, err := store.DeclineRequest(r.Context(), h.DB, sc.Scope(), r.PathValue("id"), sc.UserID)
	if err != nil {
		storeError(w, err, "decline request")
		return
	}

	slog.Info("request declined", "user", sc.UserID, "request", declined.ID, "item", declined.ItemID)
	h.publish(sc.Scope(), feed.KindRequestDeclined, declined.ID, sc.UserID)

	jsonResponse(w, http.StatusOK, declined)
}

// Return handles POST /api/requests/{id}/return.
func (h *RequestsHandler) Return(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	var req notesRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	returned, err := store.ReturnRequest(r.Context(), h.DB, sc.Scope(), r.PathValue("id"), sc.UserID, req.Notes)
	if err != nil {
		storeError(w, err, "return item")
		return
	}

	slog.Info("item returned", "user", sc.UserID, "request", returned.ID, "item", returned.ItemID)
	h.publish(sc.Scope(), feed.KindRequestReturned, returned.ID, sc.UserID)

	jsonResponse(w, http.StatusOK, returned)
}

func (h *RequestsHandler) publish(scope model.Scope, kind, id, actor string) {
	h.Hub.Publish(feed.NeighborhoodTopic(scope), feed.Event{Kind: kind, ID: id, Actor: actor})
}
