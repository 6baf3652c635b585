package honeypot

import (
	"errors"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestDispatcherKnownType(t *testing.T) {
	d := newDispatcher()
	called := false
	d.register("session", func(nc ssh.NewChannel) { called = true })

	opener, err := d.open("session")
	if err != nil {
		t.Fatalf("open(session): %v", err)
	}
	opener(nil)
	if !called {
		t.Fatal("registered opener not invoked")
	}
}

func TestDispatcherUnknownType(t *testing.T) {
	d := newDispatcher()
	d.register("session", func(ssh.NewChannel) {})

	_, err := d.open("x11")
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("open(x11) err = %v, want ErrUnknownChannel", err)
	}
}

func TestDispatcherKinds(t *testing.T) {
	d := newDispatcher()
	d.register("session", func(ssh.NewChannel) {})
	d.register("direct-tcpip", func(ssh.NewChannel) {})

	kinds := d.kinds()
	if len(kinds) != 2 {
		t.Fatalf("kinds = %v", kinds)
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		seen[k] = true
	}
	if !seen["session"] || !seen["direct-tcpip"] {
		t.Fatalf("kinds = %v", kinds)
	}
}
