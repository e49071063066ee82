package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"tidbyt.dev/arrivals"
)

type ErrorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Writes err as an error envelope, with the status code of its kind.
// Internal failures don't leak details to the client.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	kind := arrivals.KindOf(err)
	status := kind.HTTPStatus()

	message := err.Error()
	if kind == arrivals.KindInternal {
		message = "internal error"
	}

	event := log.Warn()
	if status >= 500 {
		event = log.Error()
	}
	event.Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("kind", kind.String()).
		Msg("request failed")

	writeJSON(w, status, ErrorResponse{
		ErrorKind: kind.String(),
		Message:   message,
		RequestID: GetRequestID(r.Context()),
	})
}
