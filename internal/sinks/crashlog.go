package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidelock/bittern/internal/event"
)

// CrashLog writes internal diagnostic records to a dedicated file.
// It implements the bus Emitter interface: diagnostics arrive through
// Emit on the publisher's goroutine, bypassing the queued path, so a
// wedged pipeline still leaves a trace on disk.
type CrashLog struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// NewCrashLog creates the sink; the file opens at Start.
func NewCrashLog(path string) *CrashLog {
	return &CrashLog{path: path}
}

func (s *CrashLog) Name() string { return "crashlog" }

func (s *CrashLog) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("crashlog dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("crashlog open: %w", err)
	}
	s.f = f
	return nil
}

// Write drops everything: the queued path only ever sees ordinary
// traffic, and ordinary traffic is not this sink's business.
func (s *CrashLog) Write(event.Event) error { return nil }

// Emit records one diagnostic event synchronously.
func (s *CrashLog) Emit(e event.Event) {
	if e.ID != event.Internal {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f != nil {
		s.f.Write(data)
		s.f.Sync()
	}
}

func (s *CrashLog) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
