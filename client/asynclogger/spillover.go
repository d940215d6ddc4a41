package asynclogger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/processlog/eventlog/pkg/models"
)

const (
	spillFlushThreshold = 100
	spillIdleDelay      = 100 * time.Millisecond
)

// spilloverSink is the reference spillover sink: newline-delimited JSON
// written to dated files under dir, debounced so a burst of events costs
// one append instead of one open/write/close per event. Flushes
// immediately once spillFlushThreshold events are buffered, otherwise
// after spillIdleDelay of inactivity.
type spilloverSink struct {
	dir string

	mu       sync.Mutex
	buf      []*models.EventInput
	timer    *time.Timer
	closed   bool
	flushErr func(error)
}

func newSpilloverSink(dir string, onFlushError func(error)) (*spilloverSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spillover directory: %w", err)
	}
	return &spilloverSink{dir: dir, flushErr: onFlushError}, nil
}

// Spill buffers one event, flushing immediately if the buffer is full
// and otherwise (re)arming the idle-flush timer.
func (s *spilloverSink) Spill(event *models.EventInput) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.flushOne(event)
		return
	}

	s.buf = append(s.buf, event)
	if len(s.buf) >= spillFlushThreshold {
		s.flushLocked()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(spillIdleDelay, s.flushAsync)
}

func (s *spilloverSink) flushAsync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// flushLocked writes the buffered events to today's spill file. Caller
// must hold s.mu.
func (s *spilloverSink) flushLocked() {
	if len(s.buf) == 0 {
		return
	}
	path := filepath.Join(s.dir, fmt.Sprintf("spill-%s.ndjson", time.Now().UTC().Format("2006-01-02")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		if s.flushErr != nil {
			s.flushErr(fmt.Errorf("open spillover file: %w", err))
		}
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, event := range s.buf {
		if err := enc.Encode(event); err != nil && s.flushErr != nil {
			s.flushErr(fmt.Errorf("write spilled event: %w", err))
		}
	}
	s.buf = s.buf[:0]
}

func (s *spilloverSink) flushOne(event *models.EventInput) {
	prior := s.buf
	s.buf = []*models.EventInput{event}
	s.flushLocked()
	s.buf = prior
}

// Close flushes any buffered events and stops accepting new ones in a
// debounced way: further Spill calls write synchronously instead.
func (s *spilloverSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.flushLocked()
	s.closed = true
	return nil
}
