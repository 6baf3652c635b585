package sinks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidelock/bittern/internal/event"
)

// WebhookOptions configures the outbound HTTP sink.
type WebhookOptions struct {
	URL     string
	Token   string
	Timeout time.Duration
	// Events filters which event IDs are posted. Empty means all.
	Events []string
}

// Webhook posts matching events as JSON to an HTTP endpoint.
type Webhook struct {
	opts   WebhookOptions
	client *http.Client
	accept map[string]bool
}

// NewWebhook creates the sink.
func NewWebhook(opts WebhookOptions) *Webhook {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	var accept map[string]bool
	if len(opts.Events) > 0 {
		accept = make(map[string]bool, len(opts.Events))
		for _, id := range opts.Events {
			accept[id] = true
		}
	}
	return &Webhook{opts: opts, accept: accept}
}

func (s *Webhook) Name() string { return "webhook" }

func (s *Webhook) Start() error {
	if s.opts.URL == "" {
		return fmt.Errorf("webhook url required")
	}
	s.client = &http.Client{Timeout: s.opts.Timeout}
	return nil
}

func (s *Webhook) Write(e event.Event) error {
	if s.accept != nil && !s.accept[e.ID] {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.opts.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (s *Webhook) Stop() error { return nil }
