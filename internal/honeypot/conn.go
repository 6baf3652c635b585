package honeypot

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tidelock/bittern/internal/event"
	"github.com/tidelock/bittern/internal/identity"
)

// connContext is the per-connection state every channel handler hangs
// off: the resolved identity, the dispatch table built from it, and
// the sessions to tear down when the transport drops.
type connContext struct {
	srv           *Server
	sid           string
	ident         *identity.Identity
	start         time.Time
	closedEmitted *atomic.Bool
	dispatch      *dispatcher

	mu       sync.Mutex
	sessions []*Session
	torn     bool
}

// newConnContext builds the channel dispatch table for this identity
// from the active feature flags. Disabled features simply never
// register, so their channel types resolve to unknown.
func newConnContext(srv *Server, sid string, ident *identity.Identity, start time.Time, closedEmitted *atomic.Bool) *connContext {
	cc := &connContext{
		srv:           srv,
		sid:           sid,
		ident:         ident,
		start:         start,
		closedEmitted: closedEmitted,
	}
	d := newDispatcher()
	d.register("session", cc.openSession)
	if srv.cfg.Forward.Enabled {
		d.register("direct-tcpip", cc.openDirectTCPIP)
	}
	cc.dispatch = d
	return cc
}

func (cc *connContext) publish(id string, fields map[string]any) {
	cc.srv.pub.Publish(event.NewAt(id, cc.sid, cc.srv.now(), fields))
}

func (cc *connContext) addSession(sess *Session) {
	cc.mu.Lock()
	if cc.torn {
		cc.mu.Unlock()
		sess.Closed()
		return
	}
	cc.sessions = append(cc.sessions, sess)
	cc.mu.Unlock()
}

// teardown forces every session on this connection through
// Closing -> Closed. Transcripts flush and session.closed fires once
// per session that attached a protocol.
func (cc *connContext) teardown() {
	cc.mu.Lock()
	cc.torn = true
	sessions := cc.sessions
	cc.sessions = nil
	cc.mu.Unlock()

	for _, sess := range sessions {
		sess.Closed()
	}
}

// openSession serves one session-type channel: pty/env/shell/exec/
// subsystem requests and the input pump.
func (cc *connContext) openSession(nc ssh.NewChannel) {
	ch, reqs, err := nc.Accept()
	if err != nil {
		cc.srv.logger.Debug("session channel accept failed",
			zap.String("session", cc.sid), zap.Error(err))
		return
	}

	sess := NewSession(SessionOptions{
		ID:            cc.sid,
		Identity:      cc.ident,
		Publisher:     cc.srv.pub,
		Logger:        cc.srv.logger,
		Emulators:     cc.srv.emulators,
		TranscriptDir: cc.srv.cfg.LogDir,
		ConnectTime:   cc.start,
		Now:           cc.srv.now,
		OnEnd: func() {
			ch.SendRequest("exit-status", false, []byte{0, 0, 0, 0})
			ch.Close()
		},
		NoteClosed: func() { cc.closedEmitted.Store(true) },
	})
	cc.addSession(sess)
	defer sess.Closed()
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "pty-req":
			var pty ptyRequest
			if err := ssh.Unmarshal(req.Payload, &pty); err == nil {
				sess.GetPty(pty.Term, int(pty.Cols), int(pty.Rows))
				req.Reply(true, nil)
			} else {
				req.Reply(false, nil)
			}
		case "env":
			var env envRequest
			if err := ssh.Unmarshal(req.Payload, &env); err == nil {
				sess.SetEnv(env.Name, env.Value)
				req.Reply(true, nil)
			} else {
				req.Reply(false, nil)
			}
		case "window-change":
			var win windowChangeRequest
			if err := ssh.Unmarshal(req.Payload, &win); err == nil {
				sess.WindowChanged(int(win.Cols), int(win.Rows))
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			err := sess.OpenShell(ch)
			req.Reply(err == nil, nil)
			if err != nil {
				cc.srv.logger.Warn("shell attach failed",
					zap.String("session", cc.sid), zap.Error(err))
				continue
			}
			go cc.pump(ch, sess)
		case "exec":
			var ex execRequest
			if err := ssh.Unmarshal(req.Payload, &ex); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				if err := sess.ExecCommand(ch, ex.Command); err != nil {
					cc.srv.logger.Warn("exec attach failed",
						zap.String("session", cc.sid), zap.Error(err))
				}
			}()
		case "subsystem":
			var sub subsystemRequest
			if err := ssh.Unmarshal(req.Payload, &sub); err != nil {
				req.Reply(false, nil)
				continue
			}
			if sub.Name == "sftp" && cc.srv.cfg.SSH.SFTPEnabled {
				req.Reply(true, nil)
				go cc.serveSFTP(ch)
			} else {
				req.Reply(false, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// pump routes raw channel bytes into the session until the channel
// drains, then closes the session.
func (cc *connContext) pump(ch ssh.Channel, sess *Session) {
	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			sess.Dispatch(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				sess.EOFReceived()
			}
			sess.Closed()
			return
		}
	}
}

type ptyRequest struct {
	Term   string
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
	Modes  string
}

type windowChangeRequest struct {
	Cols   uint32
	Rows   uint32
	Width  uint32
	Height uint32
}

type envRequest struct {
	Name  string
	Value string
}

type execRequest struct {
	Command string
}

type subsystemRequest struct {
	Name string
}
