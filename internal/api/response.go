package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/erazemk/posodi/internal/imaging"
	"github.com/erazemk/posodi/internal/model"
	"github.com/erazemk/posodi/internal/store"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, target any) error {
	if err := decodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// badRequestErrors are caller mistakes reported back verbatim.
var badRequestErrors = []error{
	model.ErrNameRequired,
	model.ErrDescriptionRequired,
	model.ErrInvalidDate,
	model.ErrReturnBeforeBorrow,
	model.ErrPassphraseTooShort,
	store.ErrOwnItem,
	imaging.ErrUnsupportedFormat,
	imaging.ErrTooLarge,
}

// storeError maps a store or validation error to a response. Anything
// unrecognised is logged and reported as "failed to <action>".
func storeError(w http.ResponseWriter, err error, action string) {
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			jsonError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrForbidden):
		jsonError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrItemUnavailable):
		slog.Warn("write rejected", "action", action, "error", err)
		jsonError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("failed to "+action, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to "+action)
	}
}
