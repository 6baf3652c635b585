package honeypot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/sftp"

	"github.com/tidelock/bittern/internal/config"
	"github.com/tidelock/bittern/internal/event"
)

func testSFTPHandlers(t *testing.T, pub *capturePublisher) *sftpHandlers {
	t.Helper()
	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()
	return &sftpHandlers{cc: testConnContext(pub, cfg)}
}

func TestSFTPDownloadRecordsPull(t *testing.T) {
	pub := &capturePublisher{}
	h := testSFTPHandlers(t, pub)

	r, err := h.Fileread(&sftp.Request{Method: "Get", Filepath: "/etc/passwd"})
	if err != nil {
		t.Fatalf("Fileread: %v", err)
	}
	buf := make([]byte, 4096)
	n, _ := r.ReadAt(buf, 0)
	if !strings.Contains(string(buf[:n]), "root:x:0:0") {
		t.Fatalf("content = %q", buf[:n])
	}

	e, ok := pub.last(event.FileDownload)
	if !ok {
		t.Fatal("no download event")
	}
	if e.String("filename") != "/etc/passwd" {
		t.Fatalf("filename = %q", e.String("filename"))
	}
	sum := sha256.Sum256(buf[:n])
	if e.String("shasum") != hex.EncodeToString(sum[:]) {
		t.Fatalf("shasum = %q", e.String("shasum"))
	}
}

func TestSFTPDownloadMissingAndRestricted(t *testing.T) {
	pub := &capturePublisher{}
	h := testSFTPHandlers(t, pub)

	if _, err := h.Fileread(&sftp.Request{Method: "Get", Filepath: "/etc/nosuch"}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file err = %v", err)
	}
	if _, err := h.Fileread(&sftp.Request{Method: "Get", Filepath: "/etc/shadow"}); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("restricted file err = %v", err)
	}
	if pub.count(event.FileDownload) != 0 {
		t.Fatal("download event for a failed read")
	}
}

func TestSFTPUploadCaptured(t *testing.T) {
	pub := &capturePublisher{}
	h := testSFTPHandlers(t, pub)
	dir := h.cc.srv.cfg.DownloadDir
	content := []byte("#!/bin/sh\necho pwned\n")

	w, err := h.Filewrite(&sftp.Request{Method: "Put", Filepath: "/tmp/rootkit.sh"})
	if err != nil {
		t.Fatalf("Filewrite: %v", err)
	}
	if _, err := w.WriteAt(content, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := w.(io.Closer).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sum := sha256.Sum256(content)
	shasum := hex.EncodeToString(sum[:])

	e, ok := pub.last(event.FileUpload)
	if !ok {
		t.Fatal("no upload event")
	}
	if e.String("filename") != "/tmp/rootkit.sh" {
		t.Fatalf("filename = %q", e.String("filename"))
	}
	if e.String("shasum") != shasum {
		t.Fatalf("shasum = %q", e.String("shasum"))
	}
	if e.Int("size") != len(content) {
		t.Fatalf("size = %d", e.Int("size"))
	}

	stored, err := os.ReadFile(filepath.Join(dir, shasum))
	if err != nil {
		t.Fatalf("stored capture: %v", err)
	}
	if string(stored) != string(content) {
		t.Fatal("stored content differs from upload")
	}
}

func TestSFTPUploadDedupedByContent(t *testing.T) {
	pub := &capturePublisher{}
	h := testSFTPHandlers(t, pub)
	dir := h.cc.srv.cfg.DownloadDir
	content := []byte("same payload twice")

	for _, name := range []string{"/tmp/a", "/tmp/b"} {
		w, err := h.Filewrite(&sftp.Request{Method: "Put", Filepath: name})
		if err != nil {
			t.Fatalf("Filewrite: %v", err)
		}
		if _, err := w.WriteAt(content, 0); err != nil {
			t.Fatalf("WriteAt: %v", err)
		}
		if err := w.(io.Closer).Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	if got := pub.count(event.FileUpload); got != 2 {
		t.Fatalf("upload events = %d, want 2", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("stored files = %d, want 1", len(entries))
	}
}

func TestSFTPListAndStat(t *testing.T) {
	pub := &capturePublisher{}
	h := testSFTPHandlers(t, pub)

	lister, err := h.Filelist(&sftp.Request{Method: "List", Filepath: "/etc"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	infos := make([]os.FileInfo, 8)
	n, lerr := lister.ListAt(infos, 0)
	if lerr != nil && lerr != io.EOF {
		t.Fatalf("ListAt: %v", lerr)
	}
	names := make(map[string]bool, n)
	for _, fi := range infos[:n] {
		names[fi.Name()] = true
	}
	if !names["passwd"] || !names["shadow"] {
		t.Fatalf("listing = %v", names)
	}

	lister, err = h.Filelist(&sftp.Request{Method: "Stat", Filepath: "/etc/shadow"})
	if err != nil {
		t.Fatalf("Stat restricted: %v", err)
	}
	if n, _ := lister.ListAt(infos, 0); n != 1 || infos[0].Name() != "shadow" {
		t.Fatalf("stat = %d %v", n, infos[0])
	}

	if _, err := h.Filelist(&sftp.Request{Method: "Stat", Filepath: "/etc/nosuch"}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing stat err = %v", err)
	}
}
