package honeypot

import (
	"io"
	"strings"
	"sync"

	"github.com/tidelock/bittern/internal/event"
	"github.com/tidelock/bittern/internal/shell"
)

// interactiveProtocol drives the emulator from a live terminal: line
// assembly, echo, and control-character handling. Escape sequences are
// swallowed by the line editor but still reach the transcript through
// Session.Dispatch.
type interactiveProtocol struct {
	sess *Session
	out  io.Writer
	emu  shell.Emulator

	mu     sync.Mutex
	line   []byte
	esc    escState
	closed bool
}

type escState int

const (
	escNone escState = iota
	escIntro
	escCSI
)

func newInteractiveProtocol(sess *Session, out io.Writer, emu shell.Emulator) *interactiveProtocol {
	return &interactiveProtocol{sess: sess, out: out, emu: emu}
}

func (p *interactiveProtocol) start() {
	p.emu.Welcome(p.out)
	p.prompt()
}

func (p *interactiveProtocol) prompt() {
	io.WriteString(p.out, p.emu.Prompt())
}

func (p *interactiveProtocol) Input(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, b := range data {
		p.handleByte(b)
		if p.closed {
			return
		}
	}
}

func (p *interactiveProtocol) handleByte(b byte) {
	switch p.esc {
	case escIntro:
		if b == '[' || b == 'O' {
			p.esc = escCSI
		} else {
			p.esc = escNone
		}
		return
	case escCSI:
		if b >= 0x40 && b <= 0x7e {
			p.esc = escNone
		}
		return
	}

	switch {
	case b == 0x1b:
		p.esc = escIntro
	case b == '\r':
		io.WriteString(p.out, "\r\n")
		line := string(p.line)
		p.line = p.line[:0]
		p.submit(line)
	case b == '\n':
		// bare LF after CR already handled; ignore
	case b == 0x7f || b == 0x08:
		if len(p.line) > 0 {
			p.line = p.line[:len(p.line)-1]
			io.WriteString(p.out, "\b \b")
		}
	case b == 0x03: // ^C
		io.WriteString(p.out, "^C\r\n")
		p.line = p.line[:0]
		p.prompt()
	case b == 0x04: // ^D
		if len(p.line) == 0 {
			p.logout()
		}
	case b == 0x09: // tab completion is not offered
	case b >= 0x20:
		p.line = append(p.line, b)
		p.out.Write([]byte{b})
	}
}

func (p *interactiveProtocol) submit(line string) {
	if strings.TrimSpace(line) == "" {
		p.prompt()
		return
	}
	p.sess.publish(event.CommandInput, map[string]any{"input": line})

	err := p.emu.Run(line, p.out)
	switch {
	case err == shell.ErrLogout:
		p.logout()
		return
	case err != nil:
		p.sess.publish(event.CommandFailed, map[string]any{
			"input": line,
			"error": err.Error(),
		})
		io.WriteString(p.out, "-bash: "+strings.Fields(line)[0]+": Input/output error\r\n")
	}
	p.prompt()
}

func (p *interactiveProtocol) logout() {
	io.WriteString(p.out, "logout\r\n")
	p.closed = true
	p.sess.end()
}

func (p *interactiveProtocol) Resize(width, height int) {
	if r, ok := p.emu.(interface{ Resize(width, height int) }); ok {
		r.Resize(width, height)
	}
}

// EOF from the transport reads as ^D on an empty line.
func (p *interactiveProtocol) EOF() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.logout()
}

func (p *interactiveProtocol) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// execProtocol runs a single command line and finishes. Stdin pushed
// by the client is captured in the transcript but not interpreted.
type execProtocol struct {
	sess    *Session
	out     io.Writer
	emu     shell.Emulator
	cmdline string

	mu     sync.Mutex
	closed bool
}

func newExecProtocol(sess *Session, out io.Writer, emu shell.Emulator, cmdline string) *execProtocol {
	return &execProtocol{sess: sess, out: out, emu: emu, cmdline: cmdline}
}

func (p *execProtocol) run() {
	p.sess.publish(event.CommandInput, map[string]any{"input": p.cmdline})

	err := p.emu.Run(p.cmdline, p.out)
	if err != nil && err != shell.ErrLogout {
		p.sess.publish(event.CommandFailed, map[string]any{
			"input": p.cmdline,
			"error": err.Error(),
		})
	}
}

func (p *execProtocol) Input(data []byte) {}

func (p *execProtocol) Resize(width, height int) {}

func (p *execProtocol) EOF() {}

func (p *execProtocol) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
