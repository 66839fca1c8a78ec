package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// streamWriter emits plain SSE data frames, one JSON object per frame. The
// browser clients of the original frontend parse "data: {json}" lines, so
// no event names are used.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newStreamWriter(w http.ResponseWriter) (*streamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &streamWriter{w: w, flusher: flusher}, nil
}

// writeFrame marshals v and writes it as one SSE data frame, flushing
// immediately so deltas reach the client as they are produced.
func (s *streamWriter) writeFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
