package sinks

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidelock/bittern/internal/event"
)

func TestCrashLogRecordsInternalEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.jsonl")
	s := NewCrashLog(path)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// ordinary traffic goes nowhere
	if err := s.Write(sampleEvent(event.CommandInput, "s1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.Emit(sampleEvent(event.CommandInput, "s1"))

	s.Emit(event.NewAt(event.Internal, "s1", time.Now(), map[string]any{
		"error": "sink jsonl: disk full",
	}))

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("record not JSON: %v", err)
		}
		records = append(records, m)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0]["eventid"] != event.Internal {
		t.Fatalf("eventid = %v", records[0]["eventid"])
	}
	if records[0]["error"] != "sink jsonl: disk full" {
		t.Fatalf("error = %v", records[0]["error"])
	}
}

func TestCrashLogEmitAfterStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.jsonl")
	s := NewCrashLog(path)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// must not panic on the closed file
	s.Emit(event.NewAt(event.Internal, "s1", time.Now(), nil))
}
