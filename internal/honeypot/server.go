// Package honeypot implements the attacker-facing session core: the
// SSH frontend, per-connection channel dispatch, the shell/exec
// session state machine, TCP/IP forwarding, and the SFTP adapter.
package honeypot

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tidelock/bittern/internal/config"
	"github.com/tidelock/bittern/internal/event"
	"github.com/tidelock/bittern/internal/identity"
	"github.com/tidelock/bittern/internal/shell"
)

// Options wires the SSH frontend to its collaborators.
type Options struct {
	Config    *config.Config
	Publisher Publisher
	Logger    *zap.Logger
	Resolver  *identity.Resolver
	Emulators shell.Factory
	Now       func() time.Time
}

// Server is the SSH deception frontend. One goroutine per connection,
// one per channel; channels share only the read-mostly Identity.
type Server struct {
	cfg       *config.Config
	pub       Publisher
	logger    *zap.Logger
	resolver  *identity.Resolver
	emulators shell.Factory
	now       func() time.Time
	hostKey   ssh.Signer

	listener net.Listener
	sem      chan struct{}
	mu       sync.Mutex
	closed   bool
}

// NewServer loads the host key and prepares the frontend.
func NewServer(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("honeypot config required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("honeypot publisher required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("honeypot identity resolver required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Emulators == nil {
		opts.Emulators = shell.DefaultFactory(opts.Config.Sensor)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	signer, err := loadOrCreateHostKey(opts.Config.SSH.HostKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load host key: %w", err)
	}

	maxConns := opts.Config.SSH.MaxConns
	if maxConns <= 0 {
		maxConns = 512
	}

	return &Server{
		cfg:       opts.Config,
		pub:       opts.Publisher,
		logger:    opts.Logger,
		resolver:  opts.Resolver,
		emulators: opts.Emulators,
		now:       opts.Now,
		hostKey:   signer,
		sem:       make(chan struct{}, maxConns),
	}, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.SSH.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	go s.serve()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.SSH.Addr
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.logger.Warn("accept error", zap.Error(err))
			continue
		}
		select {
		case s.sem <- struct{}{}:
			go func() {
				defer func() { <-s.sem }()
				s.handleConn(conn)
			}()
		default:
			s.logger.Warn("connection limit reached",
				zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
		}
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handleConn runs one attacker connection start to finish.
func (s *Server) handleConn(netConn net.Conn) {
	defer netConn.Close()

	sid := newSessionID()
	start := s.now()
	srcIP, srcPort := hostPort(netConn.RemoteAddr())
	dstIP, dstPort := hostPort(netConn.LocalAddr())

	s.pub.Publish(event.NewAt(event.SessionConnect, sid, start, map[string]any{
		"src_ip":   srcIP,
		"src_port": srcPort,
		"dst_ip":   dstIP,
		"dst_port": dstPort,
		"protocol": "ssh",
		"sensor":   s.cfg.Sensor,
	}))

	var closedEmitted atomic.Bool
	defer func() {
		// Connections that never ran a session channel still close.
		if !closedEmitted.Load() {
			duration := s.now().Sub(start).Seconds()
			s.pub.Publish(event.NewAt(event.SessionClosed, sid, s.now(),
				map[string]any{"duration": duration}))
		}
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.sshConfigFor(sid))
	if err != nil {
		s.logger.Debug("handshake failed",
			zap.String("session", sid), zap.Error(err))
		return
	}
	defer sshConn.Close()

	s.pub.Publish(event.NewAt(event.ClientVersion, sid, s.now(), map[string]any{
		"version": string(sshConn.ClientVersion()),
	}))

	ident := s.resolver.Resolve(sshConn.User())
	cc := newConnContext(s, sid, ident, start, &closedEmitted)

	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		opener, err := cc.dispatch.open(nc.ChannelType())
		if err != nil {
			s.logger.Info("rejecting channel",
				zap.String("session", sid),
				zap.String("type", nc.ChannelType()),
				zap.Strings("registered", cc.dispatch.kinds()))
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		go opener(nc)
	}

	cc.teardown()
}

// sshConfigFor builds the per-connection handshake config so auth
// callbacks can stamp the session id onto their events.
func (s *Server) sshConfigFor(sid string) *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{
		ServerVersion: s.cfg.SSH.Version,
		MaxAuthTries:  6,
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			username := meta.User()
			if s.credentialsAccepted(username, string(password)) {
				s.pub.Publish(event.NewAt(event.LoginSuccess, sid, s.now(), map[string]any{
					"username": username,
					"password": string(password),
				}))
				return nil, nil
			}
			s.pub.Publish(event.NewAt(event.LoginFailed, sid, s.now(), map[string]any{
				"username": username,
				"password": string(password),
			}))
			return nil, fmt.Errorf("password rejected for %q", username)
		},
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			s.pub.Publish(event.NewAt(event.ClientFingerprint, sid, s.now(), map[string]any{
				"username":    meta.User(),
				"fingerprint": ssh.FingerprintSHA256(key),
				"key_type":    key.Type(),
			}))
			return nil, errors.New("publickey rejected")
		},
	}
	cfg.AddHostKey(s.hostKey)
	return cfg
}

// credentialsAccepted applies the auth policy. The policy decides who
// gets past the door; identity resolution afterwards never fails.
func (s *Server) credentialsAccepted(username, password string) bool {
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

func newSessionID() string {
	return uuid.NewString()[:18]
}

func hostPort(addr net.Addr) (string, int) {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, _ := net.LookupPort("tcp", port)
	return host, p
}

// loadOrCreateHostKey reads the host key at path, generating and
// persisting an RSA key on first start. RSA keeps the key exchange
// indistinguishable from a stock OpenSSH install.
func loadOrCreateHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		return ssh.ParsePrivateKey(data)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read host key: %w", err)
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	return ssh.ParsePrivateKey(pemBytes)
}
