// Package httputil centralizes JSON encoding and domain error translation so
// every handler emits the same envelope.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"gatepass/pkg/domerr"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError maps a domain error to its HTTP status and writes the envelope.
// Non-domain errors are reported as opaque internals; their detail belongs in
// the log, not the response.
func WriteError(w http.ResponseWriter, err error) {
	code := domerr.CodeOf(err)
	message := "internal server error"
	var domErr *domerr.Error
	if errors.As(err, &domErr) {
		message = domErr.Message
	}
	WriteJSON(w, StatusOf(code), ErrorBody{Code: string(code), Message: message})
}

// StatusOf maps error codes to HTTP statuses.
func StatusOf(code domerr.Code) int {
	switch code {
	case domerr.CodeBadRequest, domerr.CodeMalformedToken, domerr.CodeGroupSizeExceeded,
		domerr.CodeSensorDataIncomplete:
		return http.StatusBadRequest
	case domerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case domerr.CodeChecksumMismatch:
		return http.StatusForbidden
	case domerr.CodeNotFound, domerr.CodePassNotFound:
		return http.StatusNotFound
	case domerr.CodePassNotActive, domerr.CodeEntrySlotExpired, domerr.CodeTokenStale:
		return http.StatusConflict
	case domerr.CodePaymentFailed:
		return http.StatusPaymentRequired
	case domerr.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON reads the request body into a value, rejecting unknown fields.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, domerr.Wrap(err, domerr.CodeBadRequest, "invalid JSON request body")
	}
	return v, nil
}
