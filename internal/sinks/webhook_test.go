package sinks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tidelock/bittern/internal/event"
)

func TestWebhookPostsFilteredEvents(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var m map[string]any
		json.Unmarshal(data, &m)
		mu.Lock()
		bodies = append(bodies, m)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhook(WebhookOptions{
		URL:    srv.URL,
		Token:  "sekrit",
		Events: []string{event.LoginSuccess},
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Write(sampleEvent(event.CommandInput, "s1")); err != nil {
		t.Fatalf("Write filtered: %v", err)
	}
	if err := s.Write(sampleEvent(event.LoginSuccess, "s1")); err != nil {
		t.Fatalf("Write accepted: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("posts = %d, want 1", len(bodies))
	}
	if bodies[0]["eventid"] != event.LoginSuccess {
		t.Fatalf("posted eventid = %v", bodies[0]["eventid"])
	}
	if auth != "Bearer sekrit" {
		t.Fatalf("authorization = %q", auth)
	}
}

func TestWebhookReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhook(WebhookOptions{URL: srv.URL})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Write(sampleEvent(event.LoginSuccess, "s1")); err == nil {
		t.Fatal("Write swallowed a 502")
	}
}
