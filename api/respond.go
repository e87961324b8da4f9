package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/generic"
)

// =============================================================================
// RESPONSE ENVELOPE
// =============================================================================

// Envelope wraps every JSON response.
type Envelope struct {
	StatusCode int                  `json:"statusCode"`
	Data       any                  `json:"data"`
	Message    string               `json:"message"`
	Errors     []generic.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respond(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Envelope{StatusCode: status, Data: data, Message: message})
}

// =============================================================================
// ERROR MAPPING - The only place errors become status codes
// =============================================================================

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrValidation), errors.Is(err, generic.ErrInvalidState),
		errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrConcurrentModification), errors.Is(err, auth.ErrEmailExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the envelope. Internal errors are logged and
// their details hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	env := Envelope{StatusCode: status, Message: err.Error()}

	var verr *generic.ValidationError
	var ise *generic.InvalidStateError
	switch {
	case errors.As(err, &verr):
		env.Message = "validation failed"
		env.Errors = verr.Fields
	case errors.As(err, &ise):
		data := map[string]any{"code": ise.Code}
		if ise.Balance != nil {
			data["balance"] = ise.Balance.StringFixed(2)
		}
		env.Data = data
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		env.Message = "internal server error"
	}
	writeJSON(w, status, env)
}

// decodeJSON reads the body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return generic.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	return validateStruct(dst)
}
