package sinks

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tidelock/bittern/internal/event"
)

func TestFeedBroadcastsToSubscribers(t *testing.T) {
	s := NewFeed("127.0.0.1:0", nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// the subscriber registers asynchronously with the upgrade
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Write(sampleEvent(event.CommandInput, "s1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		t.Fatalf("message not JSON: %v", err)
	}
	if m["session"] != "s1" {
		t.Fatalf("session = %v", m["session"])
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestFeedWriteSurvivesConcurrentDrop(t *testing.T) {
	s := NewFeed("127.0.0.1:0", nil)

	// A subscriber torn down between the broadcast snapshot and the
	// send must be skipped, not panicked on, and must not abort the
	// fan-out for everyone else.
	stale := &feedClient{send: make(chan []byte), done: make(chan struct{})}
	live := &feedClient{send: make(chan []byte, 1), done: make(chan struct{})}
	s.clients[stale] = true
	s.clients[live] = true
	stale.once.Do(func() { close(stale.done) })

	if err := s.Write(sampleEvent(event.CommandInput, "s1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case <-live.send:
	default:
		t.Fatal("live subscriber missed the event")
	}

	s.drop(stale)
	s.drop(stale) // already gone; must be a no-op

	s.mu.Lock()
	n := len(s.clients)
	s.mu.Unlock()
	if n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
}
