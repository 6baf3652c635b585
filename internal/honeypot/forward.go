package honeypot

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/tidelock/bittern/internal/event"
)

// directTCPIP is the wire payload of a direct-tcpip channel-open
// request.
type directTCPIP struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// openDirectTCPIP serves a forwarding request per the configured
// policy: reject refuses the open, simulate accepts and swallows,
// proxy relays to the sandbox endpoint only. Every relayed chunk emits
// a bounded direct-tcpip.data event.
func (cc *connContext) openDirectTCPIP(nc ssh.NewChannel) {
	srv := cc.srv

	var payload directTCPIP
	if err := ssh.Unmarshal(nc.ExtraData(), &payload); err != nil {
		srv.logger.Warn("malformed direct-tcpip payload",
			zap.String("session", cc.sid), zap.Error(err))
		nc.Reject(ssh.Prohibited, "invalid direct-tcpip payload")
		return
	}

	cc.publish(event.ForwardRequest, map[string]any{
		"dst_ip":   payload.DestAddr,
		"dst_port": int(payload.DestPort),
		"src_ip":   payload.OrigAddr,
		"src_port": int(payload.OrigPort),
	})

	switch srv.cfg.Forward.Mode {
	case "simulate":
		cc.simulateForward(nc, payload)
	case "proxy":
		cc.proxyForward(nc, payload)
	default:
		nc.Reject(ssh.Prohibited, "administratively prohibited")
	}
}

// simulateForward accepts the channel and discards everything sent,
// recording bounded samples. No outbound connection is ever made.
func (cc *connContext) simulateForward(nc ssh.NewChannel, payload directTCPIP) {
	ch, reqs, err := nc.Accept()
	if err != nil {
		cc.srv.logger.Debug("direct-tcpip accept failed", zap.Error(err))
		return
	}
	defer ch.Close()
	go ssh.DiscardRequests(reqs)

	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			cc.publishForwardData(payload, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// proxyForward relays between the channel and the sandbox endpoint.
// The attacker-requested destination is recorded but never dialed.
func (cc *connContext) proxyForward(nc ssh.NewChannel, payload directTCPIP) {
	srv := cc.srv

	target, err := net.Dial("tcp", srv.cfg.Forward.SandboxAddr)
	if err != nil {
		srv.logger.Warn("sandbox dial failed",
			zap.String("addr", srv.cfg.Forward.SandboxAddr), zap.Error(err))
		nc.Reject(ssh.ConnectionFailed, "connect failed: "+
			net.JoinHostPort(payload.DestAddr, strconv.Itoa(int(payload.DestPort))))
		return
	}

	ch, reqs, err := nc.Accept()
	if err != nil {
		target.Close()
		srv.logger.Debug("direct-tcpip accept failed", zap.Error(err))
		return
	}
	go ssh.DiscardRequests(reqs)

	// Closing either side tears down the other; no half-open socket
	// outlives the channel.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cc.relay(target, ch, payload)
		target.Close()
		ch.Close()
	}()
	go func() {
		defer wg.Done()
		cc.relay(ch, target, payload)
		ch.Close()
		target.Close()
	}()
	wg.Wait()
}

func (cc *connContext) relay(dst io.Writer, src io.Reader, payload directTCPIP) {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			cc.publishForwardData(payload, buf[:n])
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// publishForwardData emits one data event with the payload truncated
// to the configured cap so storage stays bounded.
func (cc *connContext) publishForwardData(payload directTCPIP, chunk []byte) {
	capLen := cc.srv.cfg.Forward.DataCap
	if capLen <= 0 {
		capLen = 80
	}
	sample := chunk
	if len(sample) > capLen {
		sample = sample[:capLen]
	}
	cc.publish(event.ForwardData, map[string]any{
		"dst_ip":   payload.DestAddr,
		"dst_port": int(payload.DestPort),
		"size":     len(chunk),
		"data":     fmt.Sprintf("%q", sample),
	})
}
