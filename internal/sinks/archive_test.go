package sinks

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tidelock/bittern/internal/event"
)

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func uploadEvent(outfile, shasum string) event.Event {
	return event.NewAt(event.FileUpload, "s1", time.Now(), map[string]any{
		"filename": "/tmp/payload", "outfile": outfile, "shasum": shasum,
	})
}

func TestArchiveStoresOncePerChecksum(t *testing.T) {
	work := t.TempDir()
	dir := t.TempDir()
	src := writeArtifact(t, work, "payload", "#!/bin/sh\nrm -rf /\n")

	s := NewArchive(dir)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// the same payload arrives from many sessions
	for i := 0; i < 5; i++ {
		if err := s.Write(uploadEvent(src, "abc123")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("archived files = %d, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, "abc123"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "#!/bin/sh\nrm -rf /\n" {
		t.Fatalf("archived content = %q", data)
	}
}

func TestArchiveResumesDedupSetFromDisk(t *testing.T) {
	work := t.TempDir()
	dir := t.TempDir()
	src := writeArtifact(t, work, "payload", "old content")
	writeArtifact(t, dir, "abc123", "archived earlier")

	s := NewArchive(dir)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Write(uploadEvent(src, "abc123")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "abc123"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "archived earlier" {
		t.Fatal("existing artifact was overwritten")
	}
}

func TestArchiveSkipsEventsWithoutArtifact(t *testing.T) {
	dir := t.TempDir()
	s := NewArchive(dir)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// a fetch that never materialized a file carries no outfile
	e := event.NewAt(event.FileDownload, "s1", time.Now(), map[string]any{
		"url": "http://203.0.113.7/x.sh", "shasum": "feedface",
	})
	if err := s.Write(e); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("archived files = %d, want 0", len(entries))
	}
}
