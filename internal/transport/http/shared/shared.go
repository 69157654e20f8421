// Package shared holds response helpers used by every handler so all
// endpoints emit the same JSON envelopes.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "doorledger/pkg/domain-errors"
)

// WriteJSON writes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into the standard error envelope.
// Only the coded message is exposed; wrapped causes stay in logs.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	message := "internal error"
	var de dErrors.Error
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}
	WriteJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error":   string(code),
		"message": message,
	})
}
