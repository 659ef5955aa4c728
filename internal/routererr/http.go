// Copyright 2025 James Ross
package routererr

import (
	"encoding/json"
	"net/http"
)

// Payload is the wire shape of any error response: {code, message,
// retryable, backoff_ms?, detail?} per §7.
type Payload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	BackoffMS int    `json:"backoff_ms,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// WriteHTTP renders e as a JSON error envelope at its HTTP status.
func WriteHTTP(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(Payload{
		Code:      string(e.Kind),
		Message:   e.Message,
		Retryable: e.Retryable,
		BackoffMS: e.BackoffMS,
		Detail:    e.Detail,
	})
}
