package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LifecycleEvent represents a versioned domain event.
type LifecycleEvent interface {
	EventType() string
}

// Envelope captures transport metadata for lifecycle events. AppointmentID is
// the aggregate the consumer shards on to preserve per-appointment ordering.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	AppointmentID   string          `json:"appointment_id"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeOption customizes the generated envelope (useful in tests).
type EnvelopeOption func(*Envelope)

// WithEventID overrides the automatically generated event id.
func WithEventID(id uuid.UUID) EnvelopeOption {
	return func(e *Envelope) {
		if id != uuid.Nil {
			e.EventID = id
		}
	}
}

// WithTimestamp overrides the timestamp stored in microseconds.
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *Envelope) {
		if ts.IsZero() {
			return
		}
		e.TimestampMicros = ts.UTC().UnixMicro()
	}
}

var (
	errMissingAppointment = errors.New("events: appointment id is required")
	errNilEvent           = errors.New("events: lifecycle event required")
	nowFunc               = time.Now
)

// NewEnvelope wraps a lifecycle event for transport.
func NewEnvelope(appointmentID string, evt LifecycleEvent, opts ...EnvelopeOption) (Envelope, error) {
	if strings.TrimSpace(appointmentID) == "" {
		return Envelope{}, errMissingAppointment
	}
	if evt == nil {
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, fmt.Errorf("events: event type missing")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal payload: %w", err)
	}
	env := Envelope{
		EventID:         uuid.New(),
		EventType:       eventType,
		AppointmentID:   strings.TrimSpace(appointmentID),
		TimestampMicros: nowFunc().UTC().UnixMicro(),
		Payload:         append([]byte(nil), payload...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&env)
		}
	}
	return env, nil
}

// Encode serializes the envelope for the queue.
func (e Envelope) Encode() (string, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("events: marshal envelope: %w", err)
	}
	return string(body), nil
}

// DecodeEnvelope parses a queue message body.
func DecodeEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("events: unmarshal envelope: %w", err)
	}
	if env.EventType == "" {
		return Envelope{}, fmt.Errorf("events: envelope missing event type")
	}
	return env, nil
}
