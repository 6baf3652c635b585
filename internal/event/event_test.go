package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventWireShape(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	e := NewAt(SessionConnect, "abc123", ts, map[string]any{
		"src_ip":   "10.0.0.5",
		"src_port": 51000,
	})

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["eventid"] != SessionConnect {
		t.Fatalf("eventid = %v", m["eventid"])
	}
	if m["session"] != "abc123" {
		t.Fatalf("session = %v", m["session"])
	}
	if m["src_ip"] != "10.0.0.5" {
		t.Fatalf("src_ip = %v", m["src_ip"])
	}
	if m["timestamp"] != "2025-03-01T12:30:00Z" {
		t.Fatalf("timestamp = %v", m["timestamp"])
	}
}

func TestEventImmutable(t *testing.T) {
	src := map[string]any{"username": "root"}
	e := New(LoginFailed, "s1", src)

	src["username"] = "admin"
	if e.String("username") != "root" {
		t.Fatal("event saw caller mutation of source map")
	}

	cp := e.Fields()
	cp["username"] = "other"
	if e.String("username") != "root" {
		t.Fatal("event saw mutation of Fields copy")
	}
}

func TestFieldAccessors(t *testing.T) {
	e := New(ClientSize, "s1", map[string]any{
		"width":    80,
		"height":   float64(24),
		"duration": 12.3,
	})
	if e.Int("width") != 80 {
		t.Fatalf("width = %d", e.Int("width"))
	}
	if e.Int("height") != 24 {
		t.Fatalf("height = %d", e.Int("height"))
	}
	if e.Float("duration") != 12.3 {
		t.Fatalf("duration = %v", e.Float("duration"))
	}
	if e.Int("missing") != 0 || e.String("missing") != "" {
		t.Fatal("missing fields should zero-value")
	}
}
