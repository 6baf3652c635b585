package honeypot

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tidelock/bittern/internal/event"
	"github.com/tidelock/bittern/internal/identity"
	"github.com/tidelock/bittern/internal/shell"
)

// Publisher accepts captured events for distribution. Satisfied by
// *bus.Bus.
type Publisher interface {
	Publish(e event.Event)
}

// SessionState tracks the session lifecycle. Closed is terminal.
type SessionState int

const (
	StateCreated SessionState = iota
	StateAttached
	StateRunning
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// sessionProtocol is the adapter bound to a session once a shell or
// exec request attaches. Interactive and exec modes are distinct
// implementations over the same pluggable emulator.
type sessionProtocol interface {
	Input(data []byte)
	Resize(width, height int)
	EOF()
	Close()
}

// SessionOptions wires one session to its connection context.
type SessionOptions struct {
	ID            string
	Identity      *identity.Identity
	Publisher     Publisher
	Logger        *zap.Logger
	Emulators     shell.Factory
	TranscriptDir string
	// ConnectTime is when the owning connection was accepted; the
	// session.closed duration is measured from it.
	ConnectTime time.Time
	Now         func() time.Time
	// OnEnd is invoked at most once when the attached protocol asks
	// for the channel to be closed (logout, exec completion, EOF).
	OnEnd func()
	// NoteClosed is invoked when this session emits session.closed,
	// letting the connection suppress its own fallback emission.
	NoteClosed func()
}

// Session is the execution context bound to one session-type channel.
// One session per channel; no re-entry after Closed.
type Session struct {
	id        string
	ident     *identity.Identity
	pub       Publisher
	logger    *zap.Logger
	emulators shell.Factory
	trDir     string
	connectAt time.Time
	now       func() time.Time

	onEnd      func()
	endOnce    sync.Once
	noteClosed func()

	mu         sync.Mutex
	state      SessionState
	env        map[string]string
	term       string
	width      int
	height     int
	proto      sessionProtocol
	transcript *Transcript
	out        io.Writer
}

// NewSession creates a session in the Created state.
func NewSession(opts SessionOptions) *Session {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConnectTime.IsZero() {
		opts.ConnectTime = opts.Now()
	}
	return &Session{
		id:         opts.ID,
		ident:      opts.Identity,
		pub:        opts.Publisher,
		logger:     opts.Logger,
		emulators:  opts.Emulators,
		trDir:      opts.TranscriptDir,
		connectAt:  opts.ConnectTime,
		now:        opts.Now,
		onEnd:      opts.OnEnd,
		noteClosed: opts.NoteClosed,
		state:      StateCreated,
		env:        make(map[string]string),
	}
}

// ID returns the session identifier carried on every event.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) publish(id string, fields map[string]any) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(event.NewAt(id, s.id, s.now(), fields))
}

// report adapts the event pipeline for the shell emulator.
func (s *Session) report(id string, fields map[string]any) {
	s.publish(id, fields)
}

// GetPty records terminal type and geometry. Callable before or after
// a protocol attaches; it never transitions state.
func (s *Session) GetPty(term string, width, height int) {
	s.mu.Lock()
	s.term = term
	s.env["TERM"] = term
	s.width, s.height = width, height
	proto := s.proto
	s.mu.Unlock()

	s.publish(event.ClientSize, map[string]any{"width": width, "height": height})
	if proto != nil {
		proto.Resize(width, height)
	}
}

// WindowChanged updates geometry mid-session.
func (s *Session) WindowChanged(width, height int) {
	s.mu.Lock()
	s.width, s.height = width, height
	proto := s.proto
	s.mu.Unlock()

	s.publish(event.ClientSize, map[string]any{"width": width, "height": height})
	if proto != nil {
		proto.Resize(width, height)
	}
}

// SetEnv records an environment variable pushed by the client.
func (s *Session) SetEnv(name, value string) {
	s.mu.Lock()
	s.env[name] = value
	s.mu.Unlock()
	s.publish(event.ClientVar, map[string]any{"name": name, "value": value})
}

// Env returns a copy of the session environment.
func (s *Session) Env() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(s.env))
	for k, v := range s.env {
		cp[k] = v
	}
	return cp
}

// OpenShell attaches the interactive protocol to the transport,
// transitioning Created -> Attached -> Running. All bytes written to
// the attacker also land in the transcript.
func (s *Session) OpenShell(transport io.Writer) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: shell request in state %s", s.id, state)
	}
	s.state = StateAttached

	tr, err := newTranscript(s.trDir, s.id, s.connectAt)
	if err != nil {
		s.state = StateCreated
		s.mu.Unlock()
		return err
	}
	s.transcript = tr
	out := &recordingWriter{dst: transport, transcript: tr}
	s.out = out

	emu := s.emulators(s.ident.Username, s.ident.Home, s.ident.UID, s.report)
	p := newInteractiveProtocol(s, out, emu)
	s.proto = p
	s.state = StateRunning
	s.mu.Unlock()

	s.publish(event.LogOpen, map[string]any{"ttylog": tr.Path()})
	s.publish(event.SessionParams, map[string]any{"arch": emu.Arch()})
	p.start()
	return nil
}

// ExecCommand attaches the one-shot exec protocol, runs the command,
// then transitions to Closing and signals end-of-stream upstream.
func (s *Session) ExecCommand(transport io.Writer, cmdline string) error {
	s.mu.Lock()
	if s.state != StateCreated {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: exec request in state %s", s.id, state)
	}
	s.state = StateAttached

	tr, err := newTranscript(s.trDir, s.id, s.connectAt)
	if err != nil {
		s.state = StateCreated
		s.mu.Unlock()
		return err
	}
	s.transcript = tr
	out := &recordingWriter{dst: transport, transcript: tr}
	s.out = out

	emu := s.emulators(s.ident.Username, s.ident.Home, s.ident.UID, s.report)
	p := newExecProtocol(s, out, emu, cmdline)
	s.proto = p
	s.state = StateRunning
	s.mu.Unlock()

	s.publish(event.LogOpen, map[string]any{"ttylog": tr.Path()})
	p.run()
	s.end()
	return nil
}

// Dispatch routes raw transport bytes to the attached protocol while
// appending them to the transcript. Any panic inside the behavior
// implementation is converted into a command.failed event; it never
// tears down sibling channels.
func (s *Session) Dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("shell behavior dispatch failed",
				zap.String("session", s.id), zap.Any("panic", r))
			s.publish(event.CommandFailed, map[string]any{
				"error": fmt.Sprint(r),
			})
			s.mu.Lock()
			out := s.out
			s.mu.Unlock()
			if out != nil {
				io.WriteString(out, "\r\n-bash: fork: Resource temporarily unavailable\r\n")
			}
		}
	}()

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	tr := s.transcript
	proto := s.proto
	s.mu.Unlock()

	if tr != nil {
		tr.Write(data)
	}
	if proto != nil {
		proto.Input(data)
	}
}

// EOFReceived forwards end-of-stream to the attached protocol. A no-op
// on a session that never attached one.
func (s *Session) EOFReceived() {
	s.mu.Lock()
	proto := s.proto
	s.mu.Unlock()
	if proto != nil {
		proto.EOF()
	}
}

// end requests channel teardown from the owning handler. Safe to call
// more than once.
func (s *Session) end() {
	s.mu.Lock()
	if s.state == StateRunning {
		s.state = StateClosing
	}
	s.mu.Unlock()
	s.endOnce.Do(func() {
		if s.onEnd != nil {
			s.onEnd()
		}
	})
}

// Closed tears the session down. Idempotent: only the first call with
// an attached protocol flushes the transcript and emits session.closed.
func (s *Session) Closed() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	proto := s.proto
	s.proto = nil
	tr := s.transcript
	s.transcript = nil
	s.state = StateClosed
	s.mu.Unlock()

	if proto != nil {
		proto.Close()
	}
	if tr != nil {
		res, err := tr.Close()
		if err != nil {
			s.logger.Error("transcript close failed",
				zap.String("session", s.id), zap.Error(err))
		}
		s.publish(event.LogClosed, map[string]any{
			"ttylog": res.Path,
			"shasum": res.Shasum,
			"size":   res.Size,
		})
	}
	if proto != nil {
		duration := s.now().Sub(s.connectAt).Seconds()
		s.publish(event.SessionClosed, map[string]any{"duration": duration})
		if s.noteClosed != nil {
			s.noteClosed()
		}
	}
}

// recordingWriter duplicates attacker-facing output into the
// transcript. The transcript write happens regardless of transport
// errors so a dying channel still leaves a complete capture.
type recordingWriter struct {
	mu         sync.Mutex
	dst        io.Writer
	transcript *Transcript
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transcript.Write(p)
	n, err := w.dst.Write(p)
	if err != nil {
		// The attacker side is gone; report full length so emulator
		// output keeps flowing into the transcript.
		return len(p), nil
	}
	return n, err
}
