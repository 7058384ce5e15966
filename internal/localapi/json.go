package localapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// maxBodyBytes bounds request bodies; token values are small.
const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondJSON marshals v before touching the response, so an encoding failure
// still yields a clean 500 instead of a truncated body.
func respondJSON(ctx context.Context, w http.ResponseWriter, v any, status int) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Internal Server Error"}`)
	}
	body = append(body, '\n')

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func respondError(ctx context.Context, w http.ResponseWriter, message string, status int) {
	respondJSON(ctx, w, ErrorResponse{Error: message}, status)
}

// decodeBody reads a single JSON object into v, rejecting unknown fields and
// bodies over maxBodyBytes.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
