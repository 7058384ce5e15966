package localapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// eventStream writes Server-Sent Events. Every write is flushed immediately.
// Methods may be called from several goroutines.
type eventStream struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	nextID uint64
}

// openEventStream commits the SSE response headers and flushes them so the
// client sees the stream before the first event.
func openEventStream(w http.ResponseWriter) (*eventStream, error) {
	s := &eventStream{w: w, rc: http.NewResponseController(w)}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream;charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := s.rc.Flush(); err != nil {
		return nil, fmt.Errorf("event stream: %w", err)
	}
	return s, nil
}

// send writes v as JSON under the given event name with an increasing id.
func (s *eventStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(strconv.FormatUint(s.nextID, 10))
	buf.WriteString("\nevent: ")
	buf.WriteString(singleLine(event))
	buf.WriteString("\ndata: ")
	buf.Write(data) // json.Marshal never emits raw newlines
	buf.WriteString("\n\n")

	return s.writeLocked(buf.Bytes())
}

// comment writes a comment block that clients ignore; used for keep-alives
// and diagnostics.
func (s *eventStream) comment(text string) error {
	var buf bytes.Buffer
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		buf.WriteString(": ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(buf.Bytes())
}

func (s *eventStream) writeLocked(b []byte) error {
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	return s.rc.Flush()
}

func singleLine(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
