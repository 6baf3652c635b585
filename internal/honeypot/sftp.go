package honeypot

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tidelock/bittern/internal/event"
	"github.com/tidelock/bittern/internal/shell"
)

// serveSFTP runs an SFTP request server over the session channel. The
// tree served is the same fabricated filesystem the shell shows;
// uploads are captured to the download directory and checksummed.
func (cc *connContext) serveSFTP(ch ssh.Channel) {
	h := &sftpHandlers{cc: cc}
	server := sftp.NewRequestServer(ch, sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	})
	if err := server.Serve(); err != nil && err != io.EOF {
		cc.srv.logger.Debug("sftp server ended",
			zap.String("session", cc.sid), zap.Error(err))
	}
	server.Close()
}

type sftpHandlers struct {
	cc *connContext
}

// Fileread serves fake content for known paths and records the pull.
func (h *sftpHandlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	if shell.Restricted(r.Filepath) {
		return nil, os.ErrPermission
	}
	ident := h.cc.ident
	content, ok := shell.FileContent(r.Filepath, ident.Username, ident.UID, ident.Home)
	if !ok {
		return nil, os.ErrNotExist
	}
	sum := sha256.Sum256([]byte(content))
	h.cc.publish(event.FileDownload, map[string]any{
		"filename": r.Filepath,
		"shasum":   hex.EncodeToString(sum[:]),
		"outfile":  r.Filepath,
	})
	return strings.NewReader(content), nil
}

// Filewrite stages the upload to disk; the capture is finalized and
// reported when the transfer closes.
func (h *sftpHandlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	dir := h.cc.srv.cfg.DownloadDir
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return nil, err
	}
	return &uploadCapture{File: f, cc: h.cc, virtual: r.Filepath, dir: dir}, nil
}

// Filecmd pretends mkdir/remove/rename/setstat succeeded. Nothing on
// disk changes.
func (h *sftpHandlers) Filecmd(r *sftp.Request) error {
	return nil
}

// Filelist answers List/Stat out of the fabricated tree.
func (h *sftpHandlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	ident := h.cc.ident
	switch r.Method {
	case "List":
		entries := shell.Listing(r.Filepath, ident.Username)
		if entries == nil && !shell.IsDir(r.Filepath, ident.Username) {
			return nil, os.ErrNotExist
		}
		infos := make([]os.FileInfo, 0, len(entries))
		for _, e := range entries {
			infos = append(infos, fakeFileInfo{name: e.Name, size: e.Size, dir: e.Dir})
		}
		return listerat(infos), nil
	case "Stat", "Lstat":
		if shell.Restricted(r.Filepath) {
			// stat succeeds where read does not
			dir, name := filepath.Split(r.Filepath)
			for _, e := range shell.Listing(filepath.Clean(dir), ident.Username) {
				if e.Name == name {
					return listerat{fakeFileInfo{name: name, size: e.Size}}, nil
				}
			}
			return nil, os.ErrNotExist
		}
		if content, ok := shell.FileContent(r.Filepath, ident.Username, ident.UID, ident.Home); ok {
			return listerat{fakeFileInfo{
				name: filepath.Base(r.Filepath),
				size: int64(len(content)),
			}}, nil
		}
		if shell.IsDir(r.Filepath, ident.Username) {
			return listerat{fakeFileInfo{
				name: filepath.Base(r.Filepath),
				size: 4096,
				dir:  true,
			}}, nil
		}
		return nil, os.ErrNotExist
	}
	return nil, os.ErrInvalid
}

// uploadCapture finalizes a staged upload: checksum, rename into the
// content-addressed store, one file_upload event.
type uploadCapture struct {
	*os.File
	cc      *connContext
	virtual string
	dir     string
	once    sync.Once
}

func (u *uploadCapture) Close() error {
	err := u.File.Close()
	u.once.Do(func() {
		staged := u.File.Name()
		shasum, size, herr := hashFile(staged)
		if herr != nil {
			u.cc.srv.logger.Warn("upload hash failed", zap.Error(herr))
			os.Remove(staged)
			return
		}
		outfile := filepath.Join(u.dir, shasum)
		if _, serr := os.Stat(outfile); serr == nil {
			// Same content captured before; keep one copy.
			os.Remove(staged)
		} else if rerr := os.Rename(staged, outfile); rerr != nil {
			u.cc.srv.logger.Warn("upload store failed", zap.Error(rerr))
			os.Remove(staged)
			return
		}
		u.cc.publish(event.FileUpload, map[string]any{
			"filename": u.virtual,
			"outfile":  outfile,
			"shasum":   shasum,
			"size":     size,
		})
	})
	return err
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// listerat serves a fixed slice through the sftp ListerAt contract.
type listerat []os.FileInfo

func (l listerat) ListAt(f []os.FileInfo, off int64) (int, error) {
	if off >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(f, l[off:])
	if n < len(f) {
		return n, io.EOF
	}
	return n, nil
}

type fakeFileInfo struct {
	name string
	size int64
	dir  bool
}

func (f fakeFileInfo) Name() string { return f.name }
func (f fakeFileInfo) Size() int64  { return f.size }
func (f fakeFileInfo) Mode() os.FileMode {
	if f.dir {
		return os.ModeDir | 0755
	}
	return 0644
}
func (f fakeFileInfo) ModTime() time.Time { return time.Date(2024, 11, 3, 8, 12, 0, 0, time.UTC) }
func (f fakeFileInfo) IsDir() bool        { return f.dir }
func (f fakeFileInfo) Sys() any           { return nil }
