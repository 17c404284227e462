package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/cart-recovery-service/internal/errors"
)

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// WriteError maps domain errors to status codes. Anything unrecognised is
// logged and answered with a generic 500.
func WriteError(w http.ResponseWriter, log zerolog.Logger, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case appErrors.IsValidation(err):
		status, msg = http.StatusBadRequest, err.Error()
	case appErrors.IsNotFound(err):
		status, msg = http.StatusNotFound, err.Error()
	case appErrors.IsInvalidTransition(err), errors.Is(err, appErrors.ErrDuplicate):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, appErrors.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, appErrors.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	default:
		log.Error().Err(err).Msg("request failed")
	}

	WriteJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

// DecodeBody rejects malformed JSON with a validation error.
func DecodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.NewValidation("", "invalid request body: "+err.Error())
	}
	return nil
}
