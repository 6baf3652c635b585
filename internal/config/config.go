// Package config loads the resolved settings consumed by the deception
// endpoint. The core packages only ever see the structs defined here.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full endpoint configuration.
type Config struct {
	Sensor string `yaml:"sensor"`

	SSH    SSH    `yaml:"ssh"`
	Telnet Telnet `yaml:"telnet"`

	Auth     Auth     `yaml:"auth"`
	Identity Identity `yaml:"identity"`
	Forward  Forward  `yaml:"forwarding"`

	LogDir      string `yaml:"log_dir"`
	DownloadDir string `yaml:"download_dir"`

	Sinks Sinks `yaml:"sinks"`

	API *API `yaml:"api"`
}

// API configures the operator inspection endpoint. Nil disables it.
type API struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

// SSH configures the SSH frontend.
type SSH struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	HostKeyPath string `yaml:"host_key"`
	Version     string `yaml:"version"`
	MaxConns    int    `yaml:"max_conns"`
	SFTPEnabled bool   `yaml:"sftp_enabled"`
}

// Telnet configures the telnet frontend.
type Telnet struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Banner  string `yaml:"banner"`
}

// Account is a pre-provisioned credential pair.
type Account struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Auth decides which credential attempts succeed.
type Auth struct {
	AllowAny bool      `yaml:"allow_any"`
	Accounts []Account `yaml:"accounts"`
}

// UserRecord is a pre-provisioned identity record.
type UserRecord struct {
	Username string `yaml:"username"`
	UID      int    `yaml:"uid"`
	GID      int    `yaml:"gid"`
	Home     string `yaml:"home"`
}

// Identity configures the avatar layer.
type Identity struct {
	Users         []UserRecord `yaml:"users"`
	SyntheticRoot string       `yaml:"synthetic_root"`
}

// Forward configures direct-tcpip handling. Mode is one of reject,
// simulate, proxy. In proxy mode all destinations are rewritten to the
// sandbox address.
type Forward struct {
	Enabled     bool   `yaml:"enabled"`
	Mode        string `yaml:"mode"`
	SandboxAddr string `yaml:"sandbox_addr"`
	DataCap     int    `yaml:"data_cap"`
}

// Sinks carries the per-backend connection parameters. A nil section
// means the sink is not registered.
type Sinks struct {
	// Strict aborts startup when any registered sink fails Start.
	// When false the failing sink is logged and left out.
	Strict bool `yaml:"strict"`

	QueueSize int `yaml:"queue_size"`

	JSONL      *JSONLSink      `yaml:"jsonl"`
	SQLite     *SQLiteSink     `yaml:"sqlite"`
	Redis      *RedisSink      `yaml:"redis"`
	Webhook    *WebhookSink    `yaml:"webhook"`
	ThreatFeed *ThreatFeedSink `yaml:"threatfeed"`
	Archive    *ArchiveSink    `yaml:"archive"`
	Feed       *FeedSink       `yaml:"feed"`
	CrashLog   *CrashLogSink   `yaml:"crashlog"`
}

// JSONLSink appends one JSON object per event to a file.
type JSONLSink struct {
	Path string `yaml:"path"`
}

// SQLiteSink records events in a relational schema.
type SQLiteSink struct {
	Path string `yaml:"path"`
}

// RedisSink pushes event JSON onto a redis list.
type RedisSink struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// WebhookSink posts selected events to an HTTP endpoint.
type WebhookSink struct {
	URL       string   `yaml:"url"`
	Token     string   `yaml:"token"`
	TimeoutMS int      `yaml:"timeout_ms"`
	Events    []string `yaml:"events"`
}

// ThreatFeedSink submits source-IP indicators.
type ThreatFeedSink struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	Feed      string `yaml:"feed"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// ArchiveSink stores captured artifacts content-addressed by checksum.
type ArchiveSink struct {
	Dir string `yaml:"dir"`
}

// FeedSink serves a live websocket stream of events.
type FeedSink struct {
	Addr string `yaml:"addr"`
}

// CrashLogSink writes internal diagnostic records to its own file.
type CrashLogSink struct {
	Path string `yaml:"path"`
}

// LoadFromFile reads a YAML config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML bytes into a Config and applies defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Sensor: hostname(),
		SSH: SSH{
			Enabled:     true,
			Addr:        ":2222",
			HostKeyPath: "var/bittern_host_key",
			Version:     "SSH-2.0-OpenSSH_8.4p1 Debian-5+deb11u1",
			MaxConns:    512,
		},
		Telnet: Telnet{
			Addr:   ":2223",
			Banner: "login: ",
		},
		Identity: Identity{
			SyntheticRoot: "/home",
		},
		Forward: Forward{
			Mode:    "reject",
			DataCap: 80,
		},
		LogDir:      "var/log",
		DownloadDir: "var/downloads",
		Sinks: Sinks{
			QueueSize: 1024,
		},
	}
}

func (c *Config) validate() error {
	switch c.Forward.Mode {
	case "reject", "simulate", "proxy":
	default:
		return fmt.Errorf("forwarding mode %q not one of reject, simulate, proxy", c.Forward.Mode)
	}
	if c.Forward.Mode == "proxy" && c.Forward.SandboxAddr == "" {
		return fmt.Errorf("forwarding mode proxy requires sandbox_addr")
	}
	if !c.SSH.Enabled && !c.Telnet.Enabled {
		return fmt.Errorf("at least one of ssh or telnet must be enabled")
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "bittern"
	}
	return h
}
