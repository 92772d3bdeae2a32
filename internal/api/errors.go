package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/kycdocumentintake/internal/models"
	"github.com/Lllllllleong/kycdocumentintake/internal/services"
	"github.com/Lllllllleong/kycdocumentintake/internal/store"
)

// Client-facing messages. Internal error text never reaches the body.
const (
	msgUnauthorized    = "Unauthorized"
	msgNotConfigured   = "Server not configured"
	msgInvalidJSON     = "Invalid JSON"
	msgSaveFailed      = "Save failed"
	msgPaymentRequired = "Payment required"
	msgInternal        = "Internal error"
	msgUpstream        = "Upstream service failed"
	msgVerifyFailed    = "Payment verification failed"
)

// WriteError writes the {"ok": false, "error": ...} envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{OK: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write response.", "error", err)
	}
}

// writeServiceError maps an error returned by a service onto a status and
// a safe message. upstreamStatus is used for failures of the external APIs
// the handler depends on.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, upstreamStatus int) {
	if dup, ok := services.AsDuplicate(err); ok {
		writeJSON(w, http.StatusConflict, models.ErrorResponse{
			OK:             false,
			Error:          "Duplicate " + dup.Field,
			DuplicateField: dup.Field,
			DuplicateValue: dup.Value,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrPaymentRequired):
		WriteError(w, http.StatusPaymentRequired, msgPaymentRequired)
	case errors.Is(err, services.ErrInvalidPayload):
		WriteError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, services.ErrEmptyRecord):
		WriteError(w, http.StatusBadRequest, "Empty record")
	case errors.Is(err, services.ErrSignatureMismatch):
		WriteError(w, http.StatusBadRequest, msgVerifyFailed)
	case errors.Is(err, services.ErrUnauthorized):
		WriteError(w, http.StatusUnauthorized, msgUnauthorized)
	case errors.Is(err, services.ErrNotConfigured):
		WriteError(w, http.StatusInternalServerError, msgNotConfigured)
	case errors.Is(err, services.ErrPersistFailed), errors.Is(err, store.ErrStoreUnavailable):
		WriteError(w, http.StatusInternalServerError, msgSaveFailed)
	case errors.Is(err, services.ErrUpstream):
		WriteError(w, upstreamStatus, msgUpstream)
	default:
		slog.Error("Unhandled service error.", "path", r.URL.Path, "error", err)
		WriteError(w, http.StatusInternalServerError, msgInternal)
	}
}

// validationMessage strips the sentinel prefix from a validation error.
// The remainder is written by the services for clients to read.
func validationMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, services.ErrInvalidPayload.Error()+": "); ok && rest != "" {
		return rest
	}
	return "Invalid payload"
}
