package honeypot

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// ErrUnknownChannel is returned for channel types with no registered
// handler, including types disabled by configuration. The server maps
// it to a protocol-level open-failed response; the connection lives on.
var ErrUnknownChannel = errors.New("unknown channel type")

// channelOpener accepts and serves one channel-open request. The raw
// open payload and window parameters travel with the request.
type channelOpener func(nc ssh.NewChannel)

// dispatcher maps channel types to handlers. The table is built once
// per connection from the identity and the active feature flags; there
// is no runtime registration after that.
type dispatcher struct {
	handlers map[string]channelOpener
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[string]channelOpener)}
}

func (d *dispatcher) register(kind string, fn channelOpener) {
	d.handlers[kind] = fn
}

// open resolves the handler for a channel type.
func (d *dispatcher) open(kind string) (channelOpener, error) {
	fn, ok := d.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, kind)
	}
	return fn, nil
}

// kinds lists the registered channel types, for logging.
func (d *dispatcher) kinds() []string {
	out := make([]string, 0, len(d.handlers))
	for k := range d.handlers {
		out = append(out, k)
	}
	return out
}
