package sinks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidelock/bittern/internal/event"
)

// Archive copies captured artifacts into a content-addressed
// directory. Artifacts are keyed by checksum, so the same payload
// uploaded across a thousand sessions is stored exactly once.
type Archive struct {
	dir string

	mu   sync.Mutex
	seen map[string]bool
}

// NewArchive creates the sink rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{dir: dir, seen: make(map[string]bool)}
}

func (s *Archive) Name() string { return "archive" }

func (s *Archive) Start() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}
	// Resume the dedup set from artifacts already on disk.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			s.seen[ent.Name()] = true
		}
	}
	return nil
}

func (s *Archive) Write(e event.Event) error {
	switch e.ID {
	case event.FileUpload, event.FileDownload, event.LogClosed:
	default:
		return nil
	}
	shasum := e.String("shasum")
	if shasum == "" {
		return nil
	}
	src := e.String("outfile")
	if src == "" {
		src = e.String("ttylog")
	}
	if src == "" {
		// nothing was captured on disk for this artifact
		return nil
	}

	if !s.claim(shasum) {
		return nil
	}
	if err := s.store(src, shasum); err != nil {
		s.release(shasum)
		return err
	}
	return nil
}

func (s *Archive) claim(shasum string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[shasum] {
		return false
	}
	s.seen[shasum] = true
	return true
}

func (s *Archive) release(shasum string) {
	s.mu.Lock()
	delete(s.seen, shasum)
	s.mu.Unlock()
}

func (s *Archive) store(src, shasum string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive source: %w", err)
	}
	defer in.Close()

	dst := filepath.Join(s.dir, shasum)
	tmp, err := os.CreateTemp(s.dir, ".archive-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *Archive) Stop() error { return nil }
