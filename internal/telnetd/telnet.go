package telnetd

import (
	"io"
	"net"
)

// Telnet protocol bytes (RFC 854/857/858).
const (
	tnSE   = 240
	tnSB   = 250
	tnWill = 251
	tnWont = 252
	tnDo   = 253
	tnDont = 254
	tnIAC  = 255

	optEcho = 1
	optSGA  = 3
)

// telnetIO filters IAC sequences out of the inbound stream and answers
// option negotiation. Writes pass through untouched; the session core
// already emits CRLF line endings.
type telnetIO struct {
	conn net.Conn

	state   tnState
	command byte
}

type tnState int

const (
	tnData tnState = iota
	tnSawIAC
	tnSawCmd
	tnSawSB
	tnSawSBIAC
)

func newTelnetIO(conn net.Conn) *telnetIO {
	return &telnetIO{conn: conn}
}

// negotiate announces server-side echo and go-ahead suppression, the
// combination interactive clients expect from a login prompt.
func (t *telnetIO) negotiate() {
	t.conn.Write([]byte{tnIAC, tnWill, optEcho, tnIAC, tnWill, optSGA, tnIAC, tnDo, optSGA})
}

func (t *telnetIO) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Read returns application bytes with telnet commands stripped. Option
// requests beyond echo and go-ahead are refused.
func (t *telnetIO) Read(p []byte) (int, error) {
	buf := make([]byte, len(p))
	for {
		n, err := t.conn.Read(buf)
		out := 0
		for _, b := range buf[:n] {
			if keep := t.filter(b); keep {
				p[out] = b
				out++
			}
		}
		if out > 0 || err != nil {
			return out, err
		}
	}
}

func (t *telnetIO) filter(b byte) bool {
	switch t.state {
	case tnData:
		if b == tnIAC {
			t.state = tnSawIAC
			return false
		}
		return true
	case tnSawIAC:
		switch b {
		case tnIAC:
			t.state = tnData
			return true // escaped 0xff data byte
		case tnWill, tnWont, tnDo, tnDont:
			t.command = b
			t.state = tnSawCmd
		case tnSB:
			t.state = tnSawSB
		default:
			t.state = tnData
		}
		return false
	case tnSawCmd:
		t.reply(t.command, b)
		t.state = tnData
		return false
	case tnSawSB:
		if b == tnIAC {
			t.state = tnSawSBIAC
		}
		return false
	case tnSawSBIAC:
		if b == tnSE {
			t.state = tnData
		} else {
			t.state = tnSawSB
		}
		return false
	}
	return false
}

func (t *telnetIO) reply(command, option byte) {
	switch command {
	case tnDo:
		if option == optEcho || option == optSGA {
			t.conn.Write([]byte{tnIAC, tnWill, option})
		} else {
			t.conn.Write([]byte{tnIAC, tnWont, option})
		}
	case tnWill:
		if option == optSGA {
			t.conn.Write([]byte{tnIAC, tnDo, option})
		} else {
			t.conn.Write([]byte{tnIAC, tnDont, option})
		}
	}
}

// readLine collects one CR-terminated line during the login dialogue.
// Echo is suppressed for the password field.
func (t *telnetIO) readLine(echo bool) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := t.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		b := buf[0]
		switch {
		case b == '\r':
			if echo {
				io.WriteString(t, "\r\n")
			}
			return string(line), nil
		case b == '\n' || b == 0:
			// CR NUL / CR LF trailers from the previous line
			if len(line) > 0 {
				return string(line), nil
			}
		case b == 0x7f || b == 0x08:
			if len(line) > 0 {
				line = line[:len(line)-1]
				if echo {
					io.WriteString(t, "\b \b")
				}
			}
		case b >= 0x20:
			line = append(line, b)
			if echo {
				t.Write([]byte{b})
			}
		}
	}
}
