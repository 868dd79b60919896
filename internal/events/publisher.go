package events

import (
	"context"
	"fmt"

	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

// Publisher wraps a Queue with envelope encoding. Publish is called by the
// scheduling core only after a store commit succeeds.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher creates a publisher on the given queue.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Publish wraps the event and enqueues it.
func (p *Publisher) Publish(ctx context.Context, appointmentID string, evt LifecycleEvent) error {
	env, err := NewEnvelope(appointmentID, evt)
	if err != nil {
		return err
	}
	body, err := env.Encode()
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("events: enqueue %s: %w", env.EventType, err)
	}
	p.logger.Debug("lifecycle event enqueued",
		"event_id", env.EventID,
		"event_type", env.EventType,
		"appointment_id", env.AppointmentID,
	)
	return nil
}
