// Package bus implements the Relay broker: lock-guarded append-only
// partitions, broadcast dispatch, offset-tracked pull consumption,
// idempotency tracking, and a dead-letter sink, all on local storage,
// with no daemon and no network socket. Concurrency comes from multiple
// processes invoking the bus at once; per-resource advisory locks are the
// only serialization point.
package bus

import (
	"encoding/json"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/relay/core"
)

// typePattern validates event type names: dotted lowercase segments,
// e.g. "app.user.created".
var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

// ValidType reports whether name is a well-formed event type.
func ValidType(name string) bool {
	return typePattern.MatchString(name)
}

// EnvelopeOption sets an optional envelope attribute at build time.
type EnvelopeOption func(*core.Envelope)

// WithCorrelationID propagates a correlation id across a causally-related
// chain of events.
func WithCorrelationID(id string) EnvelopeOption {
	return func(e *core.Envelope) { e.CorrelationID = id }
}

// WithCausationID records the id of the event that triggered this one.
func WithCausationID(id string) EnvelopeOption {
	return func(e *core.Envelope) { e.CausationID = id }
}

// WithSubject names the entity the event concerns.
func WithSubject(subject string) EnvelopeOption {
	return func(e *core.Envelope) { e.Subject = subject }
}

// BuildEnvelope validates inputs and assembles a new envelope. The id is a
// random UUIDv4 and the timestamp is UTC at second precision. No I/O is
// performed beyond clock and RNG reads.
func BuildEnvelope(eventType string, data map[string]any, source string, maxPayload int, opts ...EnvelopeOption) (core.Envelope, error) {
	if !ValidType(eventType) {
		return core.Envelope{}, core.Validationf("type", "%q does not match system.component.event_name", eventType)
	}
	if source == "" {
		return core.Envelope{}, core.Validationf("source", "must not be empty")
	}
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return core.Envelope{}, core.Validationf("data", "not serializable as JSON: %v", err)
	}
	if maxPayload > 0 && len(raw) > maxPayload {
		return core.Envelope{}, core.Validationf("data", "payload is %d bytes, limit is %d", len(raw), maxPayload)
	}

	env := core.Envelope{
		SpecVersion:     core.SpecVersion,
		ID:              uuid.NewString(),
		Type:            eventType,
		Source:          source,
		Time:            time.Now().UTC().Truncate(time.Second),
		DataContentType: core.ContentTypeJSON,
		Data:            data,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

// BuildEnvelopeJSON is BuildEnvelope for callers holding the payload as a
// raw JSON document (the CLI emit path). The payload must be a JSON object.
func BuildEnvelopeJSON(eventType, dataJSON, source string, maxPayload int, opts ...EnvelopeOption) (core.Envelope, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
		return core.Envelope{}, core.Validationf("data", "invalid JSON object: %v", err)
	}
	return BuildEnvelope(eventType, data, source, maxPayload, opts...)
}

// encodeLine serializes an envelope as one compact JSON line, newline
// terminated, ready to append to a partition.
func encodeLine(env core.Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}
