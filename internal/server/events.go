package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var errNotFlushable = errors.New("streaming not supported")

// eventStream writes server-sent events, flushing after each one. Events carry
// increasing ids so a client can tell whether it missed any.
type eventStream struct {
	w    http.ResponseWriter
	rc   *http.ResponseController
	next int
}

func openEventStream(w http.ResponseWriter) (*eventStream, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			return nil, errNotFlushable
		}
		return nil, err
	}
	return &eventStream{w: w, rc: rc, next: 1}, nil
}

// send encodes data as JSON on a single data line.
func (s *eventStream) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: %d\nevent: %s\ndata: %s\n\n", s.next, event, payload)
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.next++
	return s.rc.Flush()
}

// fail ends the stream with an error event shaped like errorResponse bodies.
func (s *eventStream) fail(err error) error {
	return s.send("error", map[string]any{"error": err.Error(), "status": HTTPStatus(err)})
}
