package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/shoptalk/shoptalk/internal/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v into a buffer first so an encoding failure can still
// produce a clean 500 instead of a half-written body.
func writeJSON(w http.ResponseWriter, logger log.Logger, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		logger.Error("encoding response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError sends a JSON error body with the given status.
func writeError(w http.ResponseWriter, logger log.Logger, status int, message string) {
	writeJSON(w, logger, status, errorResponse{Error: message})
}
