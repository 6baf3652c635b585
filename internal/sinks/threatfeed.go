package sinks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidelock/bittern/internal/event"
)

// ThreatFeedOptions configures the indicator submission sink.
type ThreatFeedOptions struct {
	URL     string
	APIKey  string
	Feed    string
	Timeout time.Duration
}

// ThreatFeed submits one scanner indicator per source address per day.
// The dedup set resets when the UTC date rolls over, so a persistent
// scanner reappears in the feed daily without flooding it per
// connection.
type ThreatFeed struct {
	opts   ThreatFeedOptions
	client *http.Client

	mu   sync.Mutex
	day  string
	seen map[string]bool
}

type indicator struct {
	Feed        string `json:"feed"`
	Indicator   string `json:"indicator"`
	Tags        string `json:"tags"`
	Description string `json:"description"`
	PortList    int    `json:"portlist"`
	Protocol    string `json:"protocol"`
	FirstSeen   string `json:"firsttime"`
	LastSeen    string `json:"lasttime"`
}

// NewThreatFeed creates the sink.
func NewThreatFeed(opts ThreatFeedOptions) *ThreatFeed {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Feed == "" {
		opts.Feed = "scanners"
	}
	return &ThreatFeed{opts: opts, seen: make(map[string]bool)}
}

func (s *ThreatFeed) Name() string { return "threatfeed" }

func (s *ThreatFeed) Start() error {
	if s.opts.URL == "" {
		return fmt.Errorf("threatfeed url required")
	}
	s.client = &http.Client{Timeout: s.opts.Timeout}
	return nil
}

func (s *ThreatFeed) Write(e event.Event) error {
	if e.ID != event.SessionConnect {
		return nil
	}
	srcIP := e.String("src_ip")
	if srcIP == "" {
		return nil
	}

	if !s.firstSightingToday(srcIP, e.Time) {
		return nil
	}

	ts := e.Time.Format(time.RFC3339)
	ind := indicator{
		Feed:        s.opts.Feed,
		Indicator:   srcIP,
		Tags:        "scanner," + e.String("protocol"),
		Description: "sessions",
		PortList:    e.Int("dst_port"),
		Protocol:    "tcp",
		FirstSeen:   ts,
		LastSeen:    ts,
	}
	return s.submit(ind)
}

// firstSightingToday records the address in the daily dedup set and
// reports whether it was new for the event's UTC date.
func (s *ThreatFeed) firstSightingToday(srcIP string, t time.Time) bool {
	day := t.UTC().Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if day != s.day {
		s.day = day
		s.seen = make(map[string]bool)
	}
	if s.seen[srcIP] {
		return false
	}
	s.seen[srcIP] = true
	return true
}

func (s *ThreatFeed) submit(ind indicator) error {
	data, err := json.Marshal(ind)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.opts.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Token token="+s.opts.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("threatfeed status %d", resp.StatusCode)
	}
	return nil
}

func (s *ThreatFeed) Stop() error { return nil }
