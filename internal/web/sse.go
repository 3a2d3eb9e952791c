package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// eventStream writes Server-Sent Events and flushes after each one.
type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// errHeadersSent marks a stream failure after the 200 response was committed.
var errHeadersSent = errors.New("event stream headers already sent")

// newEventStream returns http.ErrNotSupported, before writing anything, when
// w cannot flush. Any later error wraps errHeadersSent.
func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	if !canFlush(w) {
		return nil, http.ErrNotSupported
	}
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flushing: %v", errHeadersSent, err)
	}
	return &eventStream{w: w, rc: rc}, nil
}

// canFlush follows Unwrap the same way http.ResponseController does.
func canFlush(w http.ResponseWriter) bool {
	for {
		switch t := w.(type) {
		case interface{ FlushError() error }, http.Flusher:
			return true
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return false
		}
	}
}

// Send writes one event. Multi-line data is split across data fields.
func (e *eventStream) Send(event, data string) error {
	var b strings.Builder
	b.WriteString("event: ")
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(line, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := e.w.Write([]byte(b.String())); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	return e.rc.Flush()
}
