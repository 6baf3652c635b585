// Package event defines the immutable typed records emitted by the
// deception endpoint and the closed identifier taxonomy sinks key on.
package event

import (
	"encoding/json"
	"time"
)

// Event identifiers. Sinks switch on these; identifiers outside this
// list flow through the pipeline opaquely.
const (
	SessionConnect     = "bittern.session.connect"
	SessionParams      = "bittern.session.params"
	SessionClosed      = "bittern.session.closed"
	LoginSuccess       = "bittern.login.success"
	LoginFailed        = "bittern.login.failed"
	CommandInput       = "bittern.command.input"
	CommandFailed      = "bittern.command.failed"
	ClientVersion      = "bittern.client.version"
	ClientKex          = "bittern.client.kex"
	ClientFingerprint  = "bittern.client.fingerprint"
	ClientSize         = "bittern.client.size"
	ClientVar          = "bittern.client.var"
	FileDownload       = "bittern.session.file_download"
	FileDownloadFailed = "bittern.session.file_download.failed"
	FileUpload         = "bittern.session.file_upload"
	LogOpen            = "bittern.log.open"
	LogClosed          = "bittern.log.closed"
	ForwardRequest     = "bittern.direct-tcpip.request"
	ForwardData        = "bittern.direct-tcpip.data"
	Internal           = "bittern.internal.error"
)

// Event is a single timestamped occurrence. It is never mutated after
// construction; the field map is copied in and only handed out as
// copies, so concurrent sinks may read it freely.
type Event struct {
	ID      string
	Session string
	Time    time.Time
	fields  map[string]any
}

// New builds an event stamped with the current UTC time.
func New(id, session string, fields map[string]any) Event {
	return NewAt(id, session, time.Now().UTC(), fields)
}

// NewAt builds an event with an explicit timestamp. Used by the session
// layer, which carries its own clock.
func NewAt(id, session string, t time.Time, fields map[string]any) Event {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Event{ID: id, Session: session, Time: t.UTC(), fields: cp}
}

// Field returns one kind-specific field.
func (e Event) Field(key string) (any, bool) {
	v, ok := e.fields[key]
	return v, ok
}

// String returns a field as a string, or "" when absent or not a string.
func (e Event) String(key string) string {
	s, _ := e.fields[key].(string)
	return s
}

// Int returns a field as an int, tolerating the numeric types that
// survive a JSON round trip.
func (e Event) Int(key string) int {
	switch v := e.fields[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint32:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a field as a float64, or 0 when absent.
func (e Event) Float(key string) float64 {
	switch v := e.fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Fields returns a copy of the kind-specific fields.
func (e Event) Fields() map[string]any {
	cp := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		cp[k] = v
	}
	return cp
}

// MarshalJSON flattens the event into the wire shape consumed by
// sinks: eventid, timestamp, session, plus the kind-specific fields.
func (e Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.fields)+3)
	for k, v := range e.fields {
		m[k] = v
	}
	m["eventid"] = e.ID
	m["timestamp"] = e.Time.Format(time.RFC3339Nano)
	m["session"] = e.Session
	return json.Marshal(m)
}
