// Package shell provides the pluggable command-emulation behavior the
// session core drives. The default implementation fakes a small Linux
// userland; it never executes anything.
package shell

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/tidelock/bittern/internal/event"
)

// ErrLogout is returned by Run when the attacker asked to leave the
// shell (exit, logout). The caller tears the session down cleanly.
var ErrLogout = errors.New("logout requested")

// Reporter receives shell-level occurrences (downloads, uploads) for
// the event pipeline. The session layer supplies session id and
// timestamps.
type Reporter func(eventID string, fields map[string]any)

// Emulator is the behavior contract the session protocols drive.
type Emulator interface {
	// Welcome writes the post-login banner.
	Welcome(w io.Writer)
	// Prompt returns the current prompt string.
	Prompt() string
	// Run emulates one command line, writing its output to w.
	Run(cmdline string, w io.Writer) error
	// Arch reports the advertised machine architecture.
	Arch() string
}

// Factory builds one emulator per session.
type Factory func(username, home string, uid int, report Reporter) Emulator

// Options configures the default emulator.
type Options struct {
	Username string
	Hostname string
	Home     string
	UID      int
	Report   Reporter
}

// Shell is the default Emulator: a canned Linux host with believable
// responses for the commands bots run first.
type Shell struct {
	username string
	hostname string
	home     string
	uid      int
	cwd      string
	report   Reporter
}

// New creates a default emulator.
func New(opts Options) *Shell {
	if opts.Hostname == "" {
		opts.Hostname = "srv01"
	}
	if opts.Home == "" {
		opts.Home = "/home/" + opts.Username
	}
	if opts.Report == nil {
		opts.Report = func(string, map[string]any) {}
	}
	return &Shell{
		username: opts.Username,
		hostname: opts.Hostname,
		home:     opts.Home,
		uid:      opts.UID,
		cwd:      opts.Home,
		report:   opts.Report,
	}
}

// DefaultFactory adapts New to the Factory shape using hostname as the
// advertised machine name.
func DefaultFactory(hostname string) Factory {
	return func(username, home string, uid int, report Reporter) Emulator {
		return New(Options{
			Username: username,
			Hostname: hostname,
			Home:     home,
			UID:      uid,
			Report:   report,
		})
	}
}

func (s *Shell) Arch() string { return "linux-x64-lsb" }

func (s *Shell) Welcome(w io.Writer) {
	fmt.Fprintf(w, "Last login: %s from 192.168.1.14\r\n",
		time.Now().UTC().Add(-37*time.Hour).Format("Mon Jan  2 15:04:05 2006"))
}

func (s *Shell) Prompt() string {
	dir := s.cwd
	if dir == s.home {
		dir = "~"
	}
	if s.uid == 0 {
		return fmt.Sprintf("%s@%s:%s# ", s.username, s.hostname, dir)
	}
	return fmt.Sprintf("%s@%s:%s$ ", s.username, s.hostname, dir)
}

// Run splits a command line on ; and && and emulates each part.
func (s *Shell) Run(cmdline string, w io.Writer) error {
	for _, part := range splitCommands(cmdline) {
		if err := s.runOne(part, w); err != nil {
			return err
		}
	}
	return nil
}

func splitCommands(line string) []string {
	raw := strings.FieldsFunc(line, func(r rune) bool { return r == ';' })
	var out []string
	for _, r := range raw {
		for _, p := range strings.Split(r, "&&") {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *Shell) runOne(cmdline string, w io.Writer) error {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "logout":
		return ErrLogout
	case "pwd":
		fmt.Fprintf(w, "%s\r\n", s.cwd)
	case "whoami":
		fmt.Fprintf(w, "%s\r\n", s.username)
	case "hostname":
		fmt.Fprintf(w, "%s\r\n", s.hostname)
	case "id":
		fmt.Fprintf(w, "uid=%d(%s) gid=%d(%s) groups=%d(%s)\r\n",
			s.uid, s.username, s.uid, s.username, s.uid, s.username)
	case "uname":
		s.uname(args, w)
	case "echo":
		fmt.Fprintf(w, "%s\r\n", strings.Join(args, " "))
	case "cd":
		s.cd(args)
	case "ls":
		s.ls(args, w)
	case "cat":
		s.cat(args, w)
	case "ps":
		fmt.Fprint(w, psOutput)
	case "uptime":
		fmt.Fprintf(w, " %s up 26 days,  4:17,  1 user,  load average: 0.08, 0.03, 0.01\r\n",
			time.Now().UTC().Format("15:04:05"))
	case "free":
		fmt.Fprint(w, freeOutput)
	case "w", "who":
		fmt.Fprintf(w, "%-8s pts/0        %s (192.168.1.14)\r\n",
			s.username, time.Now().UTC().Format("15:04"))
	case "wget", "curl":
		s.fetch(cmd, args, w)
	case "history":
	case "unset", "export", "alias":
	case "sudo":
		if len(args) > 0 {
			return s.runOne(strings.Join(args, " "), w)
		}
	default:
		fmt.Fprintf(w, "-bash: %s: command not found\r\n", cmd)
	}
	return nil
}

func (s *Shell) uname(args []string, w io.Writer) {
	if len(args) > 0 && (args[0] == "-a" || args[0] == "--all") {
		fmt.Fprintf(w, "Linux %s 5.10.0-21-amd64 #1 SMP Debian 5.10.162-1 (2023-01-21) x86_64 GNU/Linux\r\n", s.hostname)
		return
	}
	fmt.Fprint(w, "Linux\r\n")
}

func (s *Shell) cd(args []string) {
	if len(args) == 0 {
		s.cwd = s.home
		return
	}
	target := args[0]
	if !strings.HasPrefix(target, "/") {
		target = path.Join(s.cwd, target)
	}
	s.cwd = path.Clean(target)
}

func (s *Shell) ls(args []string, w io.Writer) {
	long := false
	for _, a := range args {
		if strings.HasPrefix(a, "-") && strings.Contains(a, "l") {
			long = true
		}
	}
	entries := Listing(s.cwd, s.username)
	if !long {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name
		}
		if len(names) > 0 {
			fmt.Fprintf(w, "%s\r\n", strings.Join(names, "  "))
		}
		return
	}
	fmt.Fprintf(w, "total %d\r\n", len(entries)*4)
	for _, e := range entries {
		fmt.Fprintf(w, "%s %2d %-8s %-8s %8d %s %s\r\n",
			e.Mode, 1, s.username, s.username, e.Size, "Feb 11 09:14", e.Name)
	}
}

func (s *Shell) cat(args []string, w io.Writer) {
	for _, a := range args {
		target := a
		if !strings.HasPrefix(target, "/") {
			target = path.Join(s.cwd, target)
		}
		if Restricted(target) {
			fmt.Fprintf(w, "cat: %s: Permission denied\r\n", a)
			continue
		}
		if content, ok := FileContent(target, s.username, s.uid, s.home); ok {
			fmt.Fprint(w, content)
			continue
		}
		fmt.Fprintf(w, "cat: %s: No such file or directory\r\n", a)
	}
}

// fetch fakes wget/curl. Nothing is downloaded; a deterministic
// checksum derived from the URL stands in for file content so sinks
// can correlate repeat attempts.
func (s *Shell) fetch(tool string, args []string, w io.Writer) {
	var url string
	for _, a := range args {
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") ||
			strings.HasPrefix(a, "ftp://") {
			url = a
			break
		}
	}
	if url == "" {
		s.report(event.FileDownloadFailed, map[string]any{
			"url": strings.Join(args, " "),
		})
		fmt.Fprintf(w, "%s: missing URL\r\n", tool)
		return
	}
	outfile := path.Base(url)
	if outfile == "/" || outfile == "." {
		outfile = "index.html"
	}
	sum := sha256.Sum256([]byte(url))
	shasum := hex.EncodeToString(sum[:])

	s.report(event.FileDownload, map[string]any{
		"url":     url,
		"outfile": path.Join(s.cwd, outfile),
		"shasum":  shasum,
	})

	if tool == "wget" {
		fmt.Fprintf(w, "--%s--  %s\r\n", time.Now().UTC().Format("2006-01-02 15:04:05"), url)
		fmt.Fprintf(w, "Resolving host... connected.\r\n")
		fmt.Fprintf(w, "HTTP request sent, awaiting response... 200 OK\r\n")
		fmt.Fprintf(w, "Saving to: '%s'\r\n\r\n", outfile)
		fmt.Fprintf(w, "'%s' saved\r\n", outfile)
		return
	}
	// curl prints nothing on a silent success path bots expect
	fmt.Fprintf(w, "  %% Total    %% Received %% Xferd  Average Speed   Time    Time     Time  Current\r\n")
	fmt.Fprintf(w, "100 24576  100 24576    0     0   120k      0 --:--:-- --:--:-- --:--:--  121k\r\n")
}

const psOutput = "  PID TTY          TIME CMD\r\n" +
	"  814 ?        00:00:02 sshd\r\n" +
	" 1021 pts/0    00:00:00 bash\r\n" +
	" 1038 pts/0    00:00:00 ps\r\n"

const freeOutput = "              total        used        free      shared  buff/cache   available\r\n" +
	"Mem:        4030332      612412     2214320        9312     1203600     3151288\r\n" +
	"Swap:        998396           0      998396\r\n"
