package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidelock/bittern/internal/sinks"
)

const defaultPageLimit = 100

// Handlers serves the operator inspection endpoints from the
// in-process event store.
type Handlers struct {
	store   *sinks.Memory
	version string
	sensor  string
	started time.Time
}

// NewHandlers creates handlers backed by the given event store.
func NewHandlers(store *sinks.Memory, version, sensor string) *Handlers {
	return &Handlers{
		store:   store,
		version: version,
		sensor:  sensor,
		started: time.Now(),
	}
}

// StatusHandler reports process health and retention counters.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, total := h.store.List(0, 1)
	writeJSON(w, http.StatusOK, statusResponse{
		Version:        h.version,
		Sensor:         h.sensor,
		UptimeSeconds:  time.Since(h.started).Seconds(),
		EventsRetained: total,
	})
}

// ListEventsHandler returns a page of retained events, oldest first.
func (h *Handlers) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", defaultPageLimit)
	events, total := h.store.List(offset, limit)
	writeJSON(w, http.StatusOK, eventsResponse{
		Total:  total,
		Offset: offset,
		Limit:  limit,
		Events: events,
	})
}

// SessionHandler returns every retained event for one session.
func (h *Handlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	events := h.store.Session(id)
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: id, Events: events})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, status, errorResponse{Error: msg})
}
