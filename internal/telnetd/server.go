// Package telnetd is the telnet deception frontend. It performs just
// enough option negotiation to satisfy common bot clients, walks the
// login prompt, then hands the connection to the same session core the
// SSH frontend uses.
package telnetd

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidelock/bittern/internal/config"
	"github.com/tidelock/bittern/internal/event"
	"github.com/tidelock/bittern/internal/honeypot"
	"github.com/tidelock/bittern/internal/identity"
	"github.com/tidelock/bittern/internal/shell"
)

const maxLoginAttempts = 3

// Options wires the telnet frontend to its collaborators.
type Options struct {
	Config    *config.Config
	Publisher honeypot.Publisher
	Logger    *zap.Logger
	Resolver  *identity.Resolver
	Emulators shell.Factory
	Now       func() time.Time
}

// Server accepts telnet connections and drives the login dialogue.
type Server struct {
	cfg       *config.Config
	pub       Publisher
	logger    *zap.Logger
	resolver  *identity.Resolver
	emulators shell.Factory
	now       func() time.Time

	listener net.Listener
	mu       sync.Mutex
	closed   bool
}

// Publisher mirrors honeypot.Publisher so tests can inject captures.
type Publisher = honeypot.Publisher

// NewServer prepares the telnet frontend.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("telnet config required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("telnet publisher required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.NewResolver(nil, opts.Config.Identity.SyntheticRoot)
	}
	if opts.Emulators == nil {
		opts.Emulators = shell.DefaultFactory(opts.Config.Sensor)
	}
	return &Server{
		cfg:       opts.Config,
		pub:       opts.Publisher,
		logger:    opts.Logger,
		resolver:  opts.Resolver,
		emulators: opts.Emulators,
		now:       opts.Now,
	}, nil
}

// Start begins accepting connections. It blocks until Close.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Telnet.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Info("telnet frontend listening", zap.String("addr", listener.Addr().String()))
	return s.serve(listener)
}

// Close stops the listener. In-flight connections finish on their own.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			s.logger.Warn("telnet accept error", zap.Error(err))
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sid := uuid.NewString()[:18]
	start := s.now()
	srcIP, srcPort := hostPort(conn.RemoteAddr())
	dstIP, dstPort := hostPort(conn.LocalAddr())

	s.pub.Publish(event.NewAt(event.SessionConnect, sid, start, map[string]any{
		"src_ip":   srcIP,
		"src_port": srcPort,
		"dst_ip":   dstIP,
		"dst_port": dstPort,
		"protocol": "telnet",
		"sensor":   s.cfg.Sensor,
	}))

	var closedEmitted atomic.Bool
	defer func() {
		if !closedEmitted.Load() {
			duration := s.now().Sub(start).Seconds()
			s.pub.Publish(event.NewAt(event.SessionClosed, sid, s.now(),
				map[string]any{"duration": duration}))
		}
	}()

	tc := newTelnetIO(conn)
	tc.negotiate()

	username, ok := s.login(tc, sid)
	if !ok {
		return
	}

	ident := s.resolver.Resolve(username)
	sess := honeypot.NewSession(honeypot.SessionOptions{
		ID:            sid,
		Identity:      ident,
		Publisher:     s.pub,
		Logger:        s.logger,
		Emulators:     s.emulators,
		TranscriptDir: s.cfg.LogDir,
		ConnectTime:   start,
		Now:           s.now,
		OnEnd:         func() { conn.Close() },
		NoteClosed:    func() { closedEmitted.Store(true) },
	})
	defer sess.Closed()

	if err := sess.OpenShell(tc); err != nil {
		s.logger.Warn("telnet shell attach failed",
			zap.String("session", sid), zap.Error(err))
		return
	}

	buf := make([]byte, 1024)
	for {
		n, err := tc.Read(buf)
		if n > 0 {
			sess.Dispatch(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				sess.EOFReceived()
			}
			return
		}
	}
}

// login walks the prompt dialogue until a credential pair is accepted
// or the attempt budget runs out.
func (s *Server) login(tc *telnetIO, sid string) (string, bool) {
	for i := 0; i < maxLoginAttempts; i++ {
		io.WriteString(tc, s.cfg.Telnet.Banner)
		username, err := tc.readLine(true)
		if err != nil {
			return "", false
		}
		io.WriteString(tc, "Password: ")
		password, err := tc.readLine(false)
		if err != nil {
			return "", false
		}
		io.WriteString(tc, "\r\n")

		if s.credentialsAccepted(username, password) {
			s.pub.Publish(event.NewAt(event.LoginSuccess, sid, s.now(), map[string]any{
				"username": username,
				"password": password,
			}))
			return username, true
		}
		s.pub.Publish(event.NewAt(event.LoginFailed, sid, s.now(), map[string]any{
			"username": username,
			"password": password,
		}))
		io.WriteString(tc, "Login incorrect\r\n")
	}
	return "", false
}

func (s *Server) credentialsAccepted(username, password string) bool {
	if username == "" {
		return false
	}
	if s.cfg.Auth.AllowAny {
		return true
	}
	for _, a := range s.cfg.Auth.Accounts {
		if a.Username == username && a.Password == password {
			return true
		}
	}
	return false
}

func hostPort(addr net.Addr) (string, int) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
