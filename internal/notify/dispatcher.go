package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/luaxhealth/clinic-scheduler/internal/events"
	"github.com/luaxhealth/clinic-scheduler/internal/observability/metrics"
	"github.com/luaxhealth/clinic-scheduler/internal/patients"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

// Dispatcher drains the lifecycle event queue and sends the emails each event
// calls for. Messages are sharded by appointment id so events for the same
// appointment are handled in arrival order, while unrelated appointments
// proceed in parallel.
type Dispatcher struct {
	queue      events.Queue
	email      EmailSender
	patientDir patients.Repository
	logger     *logging.Logger
	metrics    *metrics.NotifyMetrics

	clinicName  string
	adminEmail  string
	workerCount int
	maxAttempts int
	baseDelay   time.Duration

	shards []chan shardedMessage
	wg     sync.WaitGroup

	mu   sync.Mutex
	seen map[string]struct{}
}

type shardedMessage struct {
	envelope events.Envelope
	receipt  string
}

// DispatcherConfig holds the dispatcher's delivery settings.
type DispatcherConfig struct {
	ClinicName  string
	AdminEmail  string
	WorkerCount int
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewDispatcher creates a dispatcher. Call Start to begin draining the queue.
func NewDispatcher(queue events.Queue, email EmailSender, patientDir patients.Repository, cfg DispatcherConfig, logger *logging.Logger) *Dispatcher {
	if queue == nil {
		panic("notify: queue required")
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "Clinic Scheduler"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &Dispatcher{
		queue:       queue,
		email:       email,
		patientDir:  patientDir,
		logger:      logger,
		clinicName:  cfg.ClinicName,
		adminEmail:  cfg.AdminEmail,
		workerCount: cfg.WorkerCount,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		seen:        make(map[string]struct{}),
	}
}

// WithMetrics attaches prometheus counters.
func (d *Dispatcher) WithMetrics(m *metrics.NotifyMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Start launches the poll loop and shard workers. They stop when ctx is
// canceled; use Wait for a clean shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.shards = make([]chan shardedMessage, d.workerCount)
	for i := range d.shards {
		d.shards[i] = make(chan shardedMessage, 32)
	}

	for i := range d.shards {
		d.wg.Add(1)
		go func(shard chan shardedMessage) {
			defer d.wg.Done()
			for msg := range shard {
				d.process(ctx, msg)
			}
		}(d.shards[i])
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			for _, shard := range d.shards {
				close(shard)
			}
		}()
		d.poll(ctx)
	}()
}

// Wait blocks until the poll loop and all shard workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) poll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := d.queue.Receive(ctx, 10, 5)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("notify: queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.baseDelay):
			}
			continue
		}
		for _, msg := range messages {
			env, err := events.DecodeEnvelope(msg.Body)
			if err != nil {
				// A malformed message never becomes parseable: drop it.
				d.logger.Error("notify: dropping undecodable message", "error", err, "message_id", msg.ID)
				d.metrics.ObserveDropped()
				d.deleteMessage(ctx, msg.ReceiptHandle)
				continue
			}
			shard := d.shards[shardIndex(env.AppointmentID, d.workerCount)]
			select {
			case shard <- shardedMessage{envelope: env, receipt: msg.ReceiptHandle}:
			case <-ctx.Done():
				return
			}
		}
	}
}

var dispatcherTracer = otel.Tracer("clinic.internal.notify")

func (d *Dispatcher) process(ctx context.Context, msg shardedMessage) {
	env := msg.envelope
	ctx, span := dispatcherTracer.Start(ctx, "notify.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.event_type", env.EventType),
		attribute.String("clinic.appointment_id", env.AppointmentID),
	)
	if d.alreadySeen(env.EventID.String()) {
		d.logger.Debug("notify: duplicate event skipped", "event_id", env.EventID)
		d.deleteMessage(ctx, msg.receipt)
		return
	}

	emails, err := d.buildEmails(ctx, env)
	if err != nil {
		d.logger.Error("notify: could not build emails", "error", err, "event_type", env.EventType, "appointment_id", env.AppointmentID)
		d.metrics.ObserveDropped()
		d.deleteMessage(ctx, msg.receipt)
		return
	}

	for _, email := range emails {
		if d.sendWithRetry(ctx, email) {
			d.metrics.ObserveEmail(env.EventType, "sent")
		} else {
			d.metrics.ObserveEmail(env.EventType, "dropped")
			d.metrics.ObserveDropped()
			d.logger.Warn("notify: email dropped after retries",
				"to", email.To,
				"event_type", env.EventType,
				"appointment_id", env.AppointmentID,
			)
		}
	}
	d.deleteMessage(ctx, msg.receipt)
}

// sendWithRetry attempts delivery with capped exponential backoff and reports
// whether the email eventually went out.
func (d *Dispatcher) sendWithRetry(ctx context.Context, email EmailMessage) bool {
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if attempt > 0 {
			d.metrics.ObserveRetry()
			select {
			case <-ctx.Done():
				return false
			case <-time.After(d.nextDelay(attempt - 1)):
			}
		}
		err := d.email.Send(ctx, email)
		if err == nil {
			return true
		}
		d.logger.Warn("notify: email send failed", "error", err, "to", email.To, "attempt", attempt+1)
	}
	return false
}

func (d *Dispatcher) nextDelay(attempts int) time.Duration {
	delay := d.baseDelay * time.Duration(1<<attempts)
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// buildEmails maps an event to its recipients: a booking alerts the clinic
// admin, a cancellation alerts both the patient and the admin, and a
// confirmation generates no email since staff themselves trigger it.
func (d *Dispatcher) buildEmails(ctx context.Context, env events.Envelope) ([]EmailMessage, error) {
	switch env.EventType {
	case events.AppointmentBookedV1{}.EventType():
		var evt events.AppointmentBookedV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, fmt.Errorf("notify: decode booked payload: %w", err)
		}
		return d.bookedEmails(ctx, evt), nil

	case events.AppointmentCancelledV1{}.EventType():
		var evt events.AppointmentCancelledV1
		if err := json.Unmarshal(env.Payload, &evt); err != nil {
			return nil, fmt.Errorf("notify: decode cancelled payload: %w", err)
		}
		return d.cancelledEmails(ctx, evt), nil

	case events.AppointmentConfirmedV1{}.EventType():
		return nil, nil

	default:
		d.logger.Debug("notify: ignoring unknown event type", "event_type", env.EventType)
		return nil, nil
	}
}

func (d *Dispatcher) bookedEmails(ctx context.Context, evt events.AppointmentBookedV1) []EmailMessage {
	if d.adminEmail == "" {
		d.logger.Debug("notify: admin email not configured, skipping booking alert")
		return nil
	}
	a := evt.Appointment
	name, _ := d.patientName(ctx, a.PatientID)

	subject := fmt.Sprintf("New Appointment Request - %s %s", a.Date, a.Time)
	body := fmt.Sprintf(`%s has requested an appointment.

Patient: %s
Date: %s
Time: %s
Details: %s

Log in to the dashboard to confirm or cancel this request.

— %s`, name, name, a.Date, a.Time, orNone(a.Details), d.clinicName)

	return []EmailMessage{{
		To:      d.adminEmail,
		Subject: subject,
		Body:    body,
	}}
}

func (d *Dispatcher) cancelledEmails(ctx context.Context, evt events.AppointmentCancelledV1) []EmailMessage {
	a := evt.Appointment
	name, email := d.patientName(ctx, a.PatientID)

	var out []EmailMessage
	if email != "" {
		body := fmt.Sprintf(`Hi %s,

Your appointment on %s at %s has been cancelled.

If this was a mistake or you would like to rebook, please visit the
booking page or contact the clinic.

— %s`, name, a.Date, a.Time, d.clinicName)
		out = append(out, EmailMessage{
			To:      email,
			ToName:  name,
			Subject: fmt.Sprintf("Appointment Cancelled - %s %s", a.Date, a.Time),
			Body:    body,
		})
	}

	if d.adminEmail != "" {
		body := fmt.Sprintf(`The appointment below has been cancelled by the %s.

Patient: %s
Date: %s
Time: %s
Details: %s

The slot is available again.

— %s`, evt.CancelledBy, name, a.Date, a.Time, orNone(a.Details), d.clinicName)
		out = append(out, EmailMessage{
			To:      d.adminEmail,
			Subject: fmt.Sprintf("Appointment Cancelled - %s %s", a.Date, a.Time),
			Body:    body,
		})
	}
	return out
}

// patientName resolves the patient's display name and email, falling back to
// the raw id when the directory has no record.
func (d *Dispatcher) patientName(ctx context.Context, patientID string) (string, string) {
	if d.patientDir == nil {
		return patientID, ""
	}
	p, err := d.patientDir.Get(ctx, patientID)
	if err != nil {
		d.logger.Warn("notify: patient lookup failed", "error", err, "patient_id", patientID)
		return patientID, ""
	}
	return p.Name, p.Email
}

func (d *Dispatcher) alreadySeen(eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[eventID]; ok {
		return true
	}
	// Bounded: queue redelivery windows are short, a full reset is fine.
	if len(d.seen) >= 8192 {
		d.seen = make(map[string]struct{})
	}
	d.seen[eventID] = struct{}{}
	return false
}

func (d *Dispatcher) deleteMessage(ctx context.Context, receipt string) {
	if receipt == "" {
		return
	}
	if err := d.queue.Delete(ctx, receipt); err != nil {
		d.logger.Warn("notify: queue delete failed", "error", err)
	}
}

func shardIndex(appointmentID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(appointmentID))
	return int(h.Sum32() % uint32(shards))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
