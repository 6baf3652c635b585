// Package sinks holds the event consumers that hang off the bus: flat
// files, relational storage, queues, webhooks and live feeds. Every
// sink is independent; one backend failing never costs the others
// their copy of an event.
package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidelock/bittern/internal/event"
)

// JSONL appends one JSON object per event to a flat file, the
// canonical capture format downstream tooling parses.
type JSONL struct {
	path string
	f    *os.File
}

// NewJSONL creates the sink; the file opens at Start.
func NewJSONL(path string) *JSONL {
	return &JSONL{path: path}
}

func (s *JSONL) Name() string { return "jsonl" }

func (s *JSONL) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("jsonl dir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("jsonl open: %w", err)
	}
	s.f = f
	return nil
}

func (s *JSONL) Write(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.f.Write(data)
	return err
}

func (s *JSONL) Stop() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
