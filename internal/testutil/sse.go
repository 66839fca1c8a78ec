package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SSEFrame is one decoded "data: {json}" frame.
type SSEFrame map[string]any

// Has reports whether the frame carries the given key.
func (f SSEFrame) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// String returns the frame's value for key as a string, or "".
func (f SSEFrame) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// ParseSSEFrames decodes a plain-data SSE body into its JSON frames.
// It fails on any line that is not a data line or blank separator.
func ParseSSEFrames(body string) ([]SSEFrame, error) {
	var frames []SSEFrame
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			return nil, fmt.Errorf("unexpected SSE line %q", line)
		}
		var frame SSEFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return nil, fmt.Errorf("decoding frame %q: %w", payload, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
