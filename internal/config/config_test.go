package config

import "testing"

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("sensor: trap-01\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sensor != "trap-01" {
		t.Fatalf("sensor = %q", cfg.Sensor)
	}
	if !cfg.SSH.Enabled {
		t.Fatal("ssh should default enabled")
	}
	if cfg.SSH.Addr != ":2222" {
		t.Fatalf("ssh addr = %q", cfg.SSH.Addr)
	}
	if cfg.Forward.Mode != "reject" {
		t.Fatalf("forward mode = %q", cfg.Forward.Mode)
	}
	if cfg.Sinks.QueueSize != 1024 {
		t.Fatalf("queue size = %d", cfg.Sinks.QueueSize)
	}
}

func TestLoadFromBytesSinks(t *testing.T) {
	raw := `
sinks:
  strict: true
  jsonl:
    path: /tmp/events.jsonl
  redis:
    addr: localhost:6379
    key: bittern:events
`
	cfg, err := LoadFromBytes([]byte(raw))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Sinks.Strict {
		t.Fatal("strict not set")
	}
	if cfg.Sinks.JSONL == nil || cfg.Sinks.JSONL.Path != "/tmp/events.jsonl" {
		t.Fatalf("jsonl = %+v", cfg.Sinks.JSONL)
	}
	if cfg.Sinks.Redis == nil || cfg.Sinks.Redis.Key != "bittern:events" {
		t.Fatalf("redis = %+v", cfg.Sinks.Redis)
	}
	if cfg.Sinks.SQLite != nil {
		t.Fatal("sqlite should stay unregistered")
	}
}

func TestValidateForwardMode(t *testing.T) {
	if _, err := LoadFromBytes([]byte("forwarding:\n  mode: tunnel\n")); err == nil {
		t.Fatal("expected error for unknown forward mode")
	}
	if _, err := LoadFromBytes([]byte("forwarding:\n  mode: proxy\n")); err == nil {
		t.Fatal("expected error for proxy mode without sandbox addr")
	}
}

func TestValidateFrontends(t *testing.T) {
	raw := "ssh:\n  enabled: false\ntelnet:\n  enabled: false\n"
	if _, err := LoadFromBytes([]byte(raw)); err == nil {
		t.Fatal("expected error when both frontends disabled")
	}
}
