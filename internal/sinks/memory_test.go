package sinks

import (
	"fmt"
	"testing"

	"github.com/tidelock/bittern/internal/event"
)

func TestMemoryRetentionLimit(t *testing.T) {
	s := NewMemory(3)
	for i := 0; i < 5; i++ {
		s.Write(sampleEvent(event.CommandInput, fmt.Sprintf("s%d", i)))
	}

	events, total := s.List(0, 0)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if events[0].Session != "s2" || events[2].Session != "s4" {
		t.Fatalf("retained sessions = %s..%s", events[0].Session, events[2].Session)
	}
}

func TestMemoryPagination(t *testing.T) {
	s := NewMemory(100)
	for i := 0; i < 10; i++ {
		s.Write(sampleEvent(event.CommandInput, fmt.Sprintf("s%d", i)))
	}

	page, total := s.List(4, 3)
	if total != 10 || len(page) != 3 {
		t.Fatalf("total = %d, page = %d", total, len(page))
	}
	if page[0].Session != "s4" {
		t.Fatalf("page start = %s", page[0].Session)
	}

	page, _ = s.List(20, 5)
	if len(page) != 0 {
		t.Fatalf("out-of-range page length = %d", len(page))
	}
}

func TestMemorySessionFilter(t *testing.T) {
	s := NewMemory(100)
	s.Write(sampleEvent(event.SessionConnect, "a"))
	s.Write(sampleEvent(event.CommandInput, "b"))
	s.Write(sampleEvent(event.SessionClosed, "a"))

	got := s.Session("a")
	if len(got) != 2 {
		t.Fatalf("session events = %d, want 2", len(got))
	}
	if got[0].ID != event.SessionConnect || got[1].ID != event.SessionClosed {
		t.Fatalf("session events = %s, %s", got[0].ID, got[1].ID)
	}
}
