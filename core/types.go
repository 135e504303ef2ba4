// Package core provides the foundational types for the Relay event bus.
//
// This package contains:
//   - Envelope: the CloudEvents-style record describing one event occurrence
//   - Handler: the tagged reference to the code that consumes an event
//   - Registration, DeadLetterEntry, DeclaredEvent: the persisted shapes
//     read and written by the bus and the topology validator
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SpecVersion is the envelope protocol version written to every event.
const SpecVersion = "1.0"

// ContentTypeJSON is the only data content type the bus produces.
const ContentTypeJSON = "application/json"

// Envelope is the structured record describing one event occurrence.
// Once appended to a partition an envelope is never mutated or removed,
// except by time-based compaction.
type Envelope struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	CausationID     string         `json:"causation_id,omitempty"`
	Subject         string         `json:"subject,omitempty"`
}

// DeliveryMode selects how registered handlers receive events.
type DeliveryMode string

const (
	// DeliveryBroadcast pushes the event to every registered handler
	// synchronously at emission time.
	DeliveryBroadcast DeliveryMode = "broadcast"

	// DeliveryQueue leaves the event in the partition for offset-tracked
	// pull consumption by a named consumer group.
	DeliveryQueue DeliveryMode = "queue"
)

// String returns the string representation of the DeliveryMode.
func (m DeliveryMode) String() string {
	return string(m)
}

// Valid reports whether m is a known delivery mode.
func (m DeliveryMode) Valid() bool {
	return m == DeliveryBroadcast || m == DeliveryQueue
}

// HandlerKind discriminates the Handler variants.
type HandlerKind string

const (
	// HandlerScript is an executable on disk, invoked with the envelope
	// JSON on stdin.
	HandlerScript HandlerKind = "script"

	// HandlerCallback is an in-process function registered on the bus
	// under a stable id.
	HandlerCallback HandlerKind = "callback"
)

// Handler is a tagged reference to consumer code. The variant is resolved
// once at registration time, never re-probed at dispatch.
type Handler struct {
	Kind HandlerKind `json:"kind"`
	// Ref is the script path for HandlerScript, or the callback id for
	// HandlerCallback.
	Ref string `json:"ref"`
}

// ScriptHandler returns a Handler referencing an executable path.
func ScriptHandler(path string) Handler {
	return Handler{Kind: HandlerScript, Ref: path}
}

// CallbackHandler returns a Handler referencing a registered callback id.
func CallbackHandler(id string) Handler {
	return Handler{Kind: HandlerCallback, Ref: id}
}

// ConsumerID derives the stable consumer identity used by the idempotency
// tracker. Two registrations of the same handler reference share one
// identity regardless of event type.
func (h Handler) ConsumerID() string {
	sum := sha256.Sum256([]byte(string(h.Kind) + ":" + h.Ref))
	return hex.EncodeToString(sum[:8])
}

// String returns a human-readable form, e.g. "script:./on_user_created.sh".
func (h Handler) String() string {
	return string(h.Kind) + ":" + h.Ref
}

// Registration binds an event type to a handler with a delivery mode.
type Registration struct {
	Type          string       `json:"type"`
	Handler       Handler      `json:"handler"`
	Mode          DeliveryMode `json:"mode"`
	ConsumerGroup string       `json:"consumer_group,omitempty"`
}

// DeadLetterEntry records one failed delivery attempt for operator
// inspection and manual replay.
type DeadLetterEntry struct {
	Time        time.Time `json:"time"`
	EventType   string    `json:"event_type"`
	Handler     Handler   `json:"handler"`
	ExitCode    int       `json:"exit_code"`
	ErrorOutput string    `json:"error_output"`
	Envelope    Envelope  `json:"envelope"`
	RetryCount  int       `json:"retry_count"`
}

// Direction marks which side of an event a manifest declares.
type Direction string

const (
	DirectionEmit    Direction = "emit"
	DirectionConsume Direction = "consume"
)

// DeclaredEvent is one emits/consumes entry from an external pack or skill
// manifest. Read-only to the bus; used only by the topology validator.
type DeclaredEvent struct {
	Owner         string       `json:"owner"`
	Name          string       `json:"name"`
	Direction     Direction    `json:"direction"`
	Version       string       `json:"version,omitempty"`
	Mode          DeliveryMode `json:"mode,omitempty"`
	ConsumerGroup string       `json:"consumer_group,omitempty"`
}
