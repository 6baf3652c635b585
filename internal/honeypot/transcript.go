package honeypot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Transcript captures the raw terminal byte stream of one session.
// Single writer: only the owning session's protocol instance touches it.
type Transcript struct {
	path string

	mu     sync.Mutex
	f      *os.File
	hash   hash.Hash
	size   int64
	closed bool
}

// newTranscript opens a transcript file under dir, named after the
// session and its start time.
func newTranscript(dir, sessionID string, start time.Time) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("transcript dir: %w", err)
	}
	base := fmt.Sprintf("%s-%s", start.UTC().Format("20060102-150405"), sessionID)
	// A connection may open more than one session channel; each gets
	// its own transcript file.
	for i := 0; ; i++ {
		name := base + ".log"
		if i > 0 {
			name = fmt.Sprintf("%s-%d.log", base, i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("transcript open: %w", err)
		}
		return &Transcript{path: path, f: f, hash: sha256.New()}, nil
	}
}

// Path returns the transcript file location.
func (t *Transcript) Path() string { return t.path }

// Write appends bytes to the transcript. Safe to call after close;
// late writes from a tearing-down session are discarded.
func (t *Transcript) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return len(p), nil
	}
	n, err := t.f.Write(p)
	t.hash.Write(p[:n])
	t.size += int64(n)
	return n, err
}

// CloseResult describes a flushed transcript.
type CloseResult struct {
	Path   string
	Shasum string
	Size   int64
}

// Close flushes the file and returns its path, sha-256 and size.
// Idempotent; later calls return the first result.
func (t *Transcript) Close() (CloseResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := CloseResult{
		Path:   t.path,
		Shasum: hex.EncodeToString(t.hash.Sum(nil)),
		Size:   t.size,
	}
	if t.closed {
		return res, nil
	}
	t.closed = true
	if err := t.f.Close(); err != nil {
		return res, fmt.Errorf("transcript close: %w", err)
	}
	return res, nil
}
