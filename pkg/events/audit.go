package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/concordhq/concord/pkg/contracts"
)

// AuditEntry is one recorded governance event.
type AuditEntry struct {
	EventName  string          `json:"event_name"`
	OccurredAt time.Time       `json:"occurred_at"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

// AuditSink records every dispatched event into a bounded in-memory ring,
// newest last. It exists so operators can reconstruct what the engine did
// and why, without the events ever influencing decisions.
type AuditSink struct {
	mu      sync.RWMutex
	entries []AuditEntry
	limit   int
	clock   func() time.Time
}

// NewAuditSink creates a sink retaining at most limit entries (0 means 1000).
func NewAuditSink(limit int) *AuditSink {
	if limit <= 0 {
		limit = 1000
	}
	return &AuditSink{limit: limit, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *AuditSink) WithClock(clock func() time.Time) *AuditSink {
	s.clock = clock
	return s
}

// Record is a Handler; register it with Dispatcher.SubscribeAll.
func (s *AuditSink) Record(ctx context.Context, event contracts.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte(`{}`)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, AuditEntry{
		EventName:  event.EventName(),
		OccurredAt: event.OccurredAt(),
		RecordedAt: s.clock(),
		Payload:    payload,
	})
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
}

// Entries returns a copy of the recorded entries, oldest first.
func (s *AuditSink) Entries() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
