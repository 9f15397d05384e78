// Package audit is the security event sink for Bastion. Every detector that
// fires records exactly one structured event here; consumers subscribe for
// alerting but recording never blocks on delivery.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity grades a recorded event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a single structured security event.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	EntityID  string            `json:"entity_id"`
	Severity  Severity          `json:"severity"`
	Context   map[string]string `json:"context,omitempty"`
	Details   string            `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Type     string
	EntityID string
	Severity Severity
}

// Sink receives security events and answers time-windowed queries over them.
type Sink interface {
	// Record stores one event. Implementations must not block the caller on
	// downstream delivery.
	Record(ev Event)

	// Query returns events recorded at or after since, newest last.
	Query(since time.Time, f Filter) []Event
}

// MemorySink is a bounded in-memory ring of recent events with non-blocking
// subscriber fan-out. Suitable for single-node deployments and tests.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	limit  int

	subs    []chan Event
	dropped int
}

// NewMemorySink creates a sink retaining at most limit events (default 1000).
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 1000
	}
	return &MemorySink{limit: limit}
}

// Record stores the event, stamping ID and timestamp if unset, and fans it
// out to subscribers. Subscribers with full buffers lose the event; the
// recording path never waits.
func (s *MemorySink) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
	subs := s.subs
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	}
}

// Query returns events at or after since that match the filter.
func (s *MemorySink) Query(since time.Time, f Filter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		if f.EntityID != "" && ev.EntityID != f.EntityID {
			continue
		}
		if f.Severity != "" && ev.Severity != f.Severity {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Subscribe returns a channel receiving future events. The buffer absorbs
// bursts; events beyond it are dropped for that subscriber.
func (s *MemorySink) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Dropped reports how many events were lost to slow subscribers.
func (s *MemorySink) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// JSONLSink appends events to a JSON-lines file and keeps a MemorySink for
// queries and subscriptions. Write failures are counted, not propagated:
// audit delivery must never fail a detection.
type JSONLSink struct {
	*MemorySink

	mu        sync.Mutex
	file      *os.File
	writeErrs int
}

// NewJSONLSink opens (or creates) the audit log at path.
func NewJSONLSink(path string, memoryLimit int) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONLSink{MemorySink: NewMemorySink(memoryLimit), file: f}, nil
}

// Record appends one JSON line and forwards to the in-memory sink.
func (s *JSONLSink) Record(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if line, err := json.Marshal(ev); err == nil {
		s.mu.Lock()
		if _, werr := s.file.Write(append(line, '\n')); werr != nil {
			s.writeErrs++
		}
		s.mu.Unlock()
	}

	s.MemorySink.Record(ev)
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

var _ Sink = (*MemorySink)(nil)
var _ Sink = (*JSONLSink)(nil)
