package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/posodi/internal/auth"
	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/session"
)

// SessionHandler handles sign-in, sign-out and passphrase endpoints.
type SessionHandler struct {
	Sessions *session.Manager
}

type startRequest struct {
	Token string `json:"token"`
}

type restoreRequest struct {
	UserID     string `json:"user_id"`
	Passphrase string `json:"passphrase"`
}

type passphraseRequest struct {
	Passphrase string `json:"passphrase"`
}

type sessionResponse struct {
	Token   string         `json:"token"`
	Created bool           `json:"created"`
	Profile *model.Profile `json:"profile"`
}

// Start handles POST /api/session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	started, err := h.Sessions.Bootstrap(r.Context(), req.Token)
	if errors.Is(err, auth.ErrInvalidToken) {
		jsonError(w, http.StatusUnauthorized, "invalid bootstrap token")
		return
	}
	if err != nil {
		storeError(w, err, "start session")
		return
	}

	slog.Info("session started", "user", started.Session.UserID, "remote", r.RemoteAddr)
	jsonResponse(w, http.StatusOK, sessionResponse{
		Token:   started.Token,
		Created: started.Created,
		Profile: started.Session.Profile,
	})
}

// Restore handles POST /api/session/restore.
func (h *SessionHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	started, err := h.Sessions.Restore(r.Context(), req.UserID, req.Passphrase)
	if errors.Is(err, session.ErrInvalidCredentials) {
		jsonError(w, http.StatusUnauthorized, "invalid user id or passphrase")
		return
	}
	if err != nil {
		storeError(w, err, "restore session")
		return
	}

	slog.Info("session restored", "user", started.Session.UserID, "remote", r.RemoteAddr)
	jsonResponse(w, http.StatusOK, sessionResponse{
		Token:   started.Token,
		Profile: started.Session.Profile,
	})
}

// Get handles GET /api/session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, GetSession(r.Context()).Profile)
}

// SetPassphrase handles PUT /api/session/passphrase.
func (h *SessionHandler) SetPassphrase(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	var req passphraseRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.Sessions.SetPassphrase(r.Context(), sc, req.Passphrase); err != nil {
		storeError(w, err, "set passphrase")
		return
	}

	slog.Info("passphrase set", "user", sc.UserID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "passphrase set"})
}

// Logout handles POST /api/session/logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sc := GetSession(r.Context())

	if err := h.Sessions.SignOut(r.Context(), sc); err != nil {
		storeError(w, err, "logout")
		return
	}

	slog.Info("session ended", "user", sc.UserID)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}
