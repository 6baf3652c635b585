package sinks

import (
	"sync"

	"github.com/tidelock/bittern/internal/event"
)

const DefaultMemoryLimit = 10000

// Memory keeps the most recent events in a bounded in-process buffer,
// backing the live feed's replay and ad-hoc inspection.
type Memory struct {
	mu     sync.RWMutex
	events []event.Event
	limit  int
}

// NewMemory creates the sink with a retention limit.
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	return &Memory{
		events: make([]event.Event, 0, limit),
		limit:  limit,
	}
}

func (s *Memory) Name() string { return "memory" }

func (s *Memory) Start() error { return nil }

func (s *Memory) Write(e event.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	if len(s.events) > s.limit {
		s.events = s.events[len(s.events)-s.limit:]
	}
	s.mu.Unlock()
	return nil
}

// List returns a paginated slice of retained events, newest last, and
// the total retained count.
func (s *Memory) List(offset, limit int) ([]event.Event, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.events)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = total
	}
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	out := make([]event.Event, end-start)
	copy(out, s.events[start:end])
	return out, total
}

// Session returns every retained event for one session ID.
func (s *Memory) Session(id string) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.Event
	for _, e := range s.events {
		if e.Session == id {
			out = append(out, e)
		}
	}
	return out
}

func (s *Memory) Stop() error { return nil }
