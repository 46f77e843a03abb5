// Package realtime pushes notifications to connected clients.
//
// A Registry holds at most one live Transport per user and probes it for
// liveness. A Dispatcher coalesces notifications enqueued in quick succession
// into one batch per user and pushes it once the debounce delay elapses. A
// Replayer sends what the store still holds as undelivered when a user
// connects, and a Session ties token verification, registration and replay
// together for a new connection.
//
// Durability lives in the notification store, not here: anything dropped from
// memory (no connection at flush time, a failed write, shutdown) is recovered
// by replay on the user's next connection.
package realtime

import (
	"encoding/json"
	"errors"

	"vn.io.arda/livenotify/internal/domain"
)

var (
	// ErrTransportClosed is returned when writing to a transport that has been closed.
	ErrTransportClosed = errors.New("realtime: transport closed")
	// ErrSendBufferFull is returned when a transport cannot queue another frame.
	ErrSendBufferFull = errors.New("realtime: send buffer full")
	// ErrNoPong is returned by Probe when the previous probe was never answered.
	ErrNoPong = errors.New("realtime: no response to previous probe")
)

// Transport is one live client connection.
//
// Send queues msg and must not block. When Send returns nil, done (if not nil)
// is called exactly once: with nil after msg was written to the client, or
// with the write error. Probe checks that the previous probe was answered and
// issues a new one. Close is idempotent.
type Transport interface {
	Send(msg []byte, done func(error)) error
	Probe() error
	Close() error
}

// Message types pushed to clients.
const (
	MessageBatch        = "notification_batch"
	MessageNotification = "notification"
)

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func encodeBatch(ns []domain.Notification) ([]byte, error) {
	return json.Marshal(Envelope{Type: MessageBatch, Data: ns})
}

func encodeNotification(n domain.Notification) ([]byte, error) {
	return json.Marshal(Envelope{Type: MessageNotification, Data: n})
}
