package api

import "github.com/tidelock/bittern/internal/event"

type statusResponse struct {
	Version        string  `json:"version"`
	Sensor         string  `json:"sensor"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	EventsRetained int     `json:"events_retained"`
}

type eventsResponse struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
	Events []event.Event `json:"events"`
}

type sessionResponse struct {
	Session string        `json:"session"`
	Events  []event.Event `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}
