package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lifequery/backend/internal/pkg/logger"
)

// DoneFrame terminates every stream so EventSource-less clients can stop
// reading without waiting for EOF.
const DoneFrame = "[DONE]"

// Stream writes server-sent events onto one HTTP response. Frames use
// CRLF pairs; some proxies eat bare LF delimiters.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	log     *logger.Logger
}

// NewStream prepares w for event streaming and returns the writer. A nil
// return means the ResponseWriter cannot flush and the caller should fall
// back to a plain response.
func NewStream(w http.ResponseWriter, log *logger.Logger) *Stream {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Stream{w: w, flusher: flusher, log: log.With("component", "SSEStream")}
}

// Send marshals v and writes it as one data frame.
func (s *Stream) Send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("Failed to marshal SSE frame", "error", err)
		return err
	}
	return s.SendRaw(string(raw))
}

// SendRaw writes an already-encoded payload as one data frame.
func (s *Stream) SendRaw(payload string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\r\n\r\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Done writes the terminal frame.
func (s *Stream) Done() {
	_ = s.SendRaw(DoneFrame)
}
