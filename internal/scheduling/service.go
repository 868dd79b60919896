package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/luaxhealth/clinic-scheduler/internal/events"
	"github.com/luaxhealth/clinic-scheduler/internal/observability/metrics"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

var tracer trace.Tracer = otel.Tracer("clinic.internal.scheduling")

// EventPublisher hands committed lifecycle events to the notification
// pipeline. Enqueueing is fire-and-forget from the caller's perspective.
type EventPublisher interface {
	Publish(ctx context.Context, appointmentID string, evt events.LifecycleEvent) error
}

// Service drives the appointment state machine. It holds no locks: the
// store's version check is the sole serialization point, and conflict losers
// re-read and retry a bounded number of times.
type Service struct {
	store      Store
	publisher  EventPublisher
	logger     *logging.Logger
	metrics    *metrics.SchedulingMetrics
	maxRetries int
	nowFunc    func() time.Time
	loc        *time.Location
}

// NewService constructs a scheduling service.
func NewService(store Store, publisher EventPublisher, logger *logging.Logger) *Service {
	if store == nil {
		panic("scheduling: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 3,
		nowFunc:    time.Now,
		loc:        time.Local,
	}
}

// WithMaxRetries bounds the optimistic-concurrency retry loop.
func (s *Service) WithMaxRetries(n int) *Service {
	if n > 0 {
		s.maxRetries = n
	}
	return s
}

// WithMetrics attaches prometheus counters.
func (s *Service) WithMetrics(m *metrics.SchedulingMetrics) *Service {
	s.metrics = m
	return s
}

// WithLocation sets the clinic's timezone for past-slot validation.
func (s *Service) WithLocation(loc *time.Location) *Service {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// Book creates a Pending/Unread appointment for the calling patient.
func (s *Service) Book(ctx context.Context, caller Caller, date, timeOfDay, details string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.book")
	defer span.End()

	if caller.PatientID == "" {
		return nil, s.reject("book", fmt.Errorf("%w: booking requires a patient identity", ErrInvalidInput))
	}
	slotAt, err := parseSlot(date, timeOfDay, s.loc)
	if err != nil {
		return nil, s.reject("book", err)
	}
	if slotAt.Before(s.nowFunc().In(s.loc)) {
		return nil, s.reject("book", fmt.Errorf("%w: slot %s %s is in the past", ErrInvalidInput, date, timeOfDay))
	}

	a := &Appointment{
		ID:        uuid.NewString(),
		PatientID: caller.PatientID,
		Date:      slotAt.Format(dateLayout),
		Time:      slotAt.Format(timeLayout),
		Details:   details,
		Status:    StatusPending,
		CreatedAt: s.nowFunc().UTC(),
	}
	span.SetAttributes(attribute.String("clinic.appointment_id", a.ID))

	if err := s.slotFree(ctx, a.Date, a.Time, a.ID); err != nil {
		return nil, s.reject("book", err)
	}
	// The store backstops the pre-check: a racing insert loses here with
	// ErrSlotConflict rather than double-booking.
	if err := s.store.Put(ctx, a); err != nil {
		return nil, s.reject("book", err)
	}

	s.observe("book")
	s.logger.Info("appointment booked",
		"appointment_id", a.ID,
		"patient_id", a.PatientID,
		"date", a.Date,
		"time", a.Time,
	)
	s.emit(ctx, a, events.AppointmentBookedV1{
		Appointment: snapshotOf(a),
		BookedAt:    a.UpdatedAt,
	})
	return a, nil
}

// Edit changes a Pending appointment's slot or details. Only the owning
// patient may edit.
func (s *Service) Edit(ctx context.Context, caller Caller, id, newDate, newTime, newDetails string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.edit")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id))

	for attempt := 0; ; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.reject("edit", err)
		}
		if !caller.owns(a) {
			return nil, s.reject("edit", fmt.Errorf("%w: only the owning patient may edit", ErrForbidden))
		}
		if a.Status != StatusPending {
			return nil, s.reject("edit", fmt.Errorf("%w: cannot edit a %s appointment", ErrInvalidState, a.Status))
		}

		date, timeOfDay := a.Date, a.Time
		if newDate != "" {
			date = newDate
		}
		if newTime != "" {
			timeOfDay = newTime
		}
		slotChanged := date != a.Date || timeOfDay != a.Time
		if slotChanged {
			slotAt, err := parseSlot(date, timeOfDay, s.loc)
			if err != nil {
				return nil, s.reject("edit", err)
			}
			if slotAt.Before(s.nowFunc().In(s.loc)) {
				return nil, s.reject("edit", fmt.Errorf("%w: slot %s %s is in the past", ErrInvalidInput, date, timeOfDay))
			}
			date = slotAt.Format(dateLayout)
			timeOfDay = slotAt.Format(timeLayout)
			if err := s.slotFree(ctx, date, timeOfDay, a.ID); err != nil {
				return nil, s.reject("edit", err)
			}
		}

		a.Date = date
		a.Time = timeOfDay
		if newDetails != "" {
			a.Details = newDetails
		}

		err = s.store.Put(ctx, a)
		if s.retryable(err, attempt) {
			continue
		}
		if err != nil {
			return nil, s.reject("edit", err)
		}

		s.observe("edit")
		s.logger.Info("appointment edited", "appointment_id", a.ID, "date", a.Date, "time", a.Time)
		return a, nil
	}
}

// Cancel moves a Pending or Confirmed appointment to Cancelled, freeing the
// slot immediately. The owning patient or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, caller Caller, id string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id))

	for attempt := 0; ; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.reject("cancel", err)
		}
		if !caller.Admin && !caller.owns(a) {
			return nil, s.reject("cancel", fmt.Errorf("%w: caller may not cancel this appointment", ErrForbidden))
		}
		if !a.Active() {
			return nil, s.reject("cancel", fmt.Errorf("%w: appointment already %s", ErrInvalidState, a.Status))
		}

		a.Status = StatusCancelled

		err = s.store.Put(ctx, a)
		if s.retryable(err, attempt) {
			continue
		}
		if err != nil {
			return nil, s.reject("cancel", err)
		}

		s.observe("cancel")
		cancelledBy := "patient"
		if caller.Admin {
			cancelledBy = "admin"
		}
		s.logger.Info("appointment cancelled", "appointment_id", a.ID, "by", cancelledBy)
		s.emit(ctx, a, events.AppointmentCancelledV1{
			Appointment: snapshotOf(a),
			CancelledAt: a.UpdatedAt,
			CancelledBy: cancelledBy,
		})
		return a, nil
	}
}

// Confirm moves a Pending appointment to Confirmed. Admin only.
func (s *Service) Confirm(ctx context.Context, caller Caller, id string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id))

	if !caller.Admin {
		return nil, s.reject("confirm", fmt.Errorf("%w: confirm requires admin", ErrForbidden))
	}

	for attempt := 0; ; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.reject("confirm", err)
		}
		if a.Status != StatusPending {
			return nil, s.reject("confirm", fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidState, a.Status))
		}

		a.Status = StatusConfirmed

		err = s.store.Put(ctx, a)
		if s.retryable(err, attempt) {
			continue
		}
		if err != nil {
			return nil, s.reject("confirm", err)
		}

		s.observe("confirm")
		s.logger.Info("appointment confirmed", "appointment_id", a.ID)
		s.emit(ctx, a, events.AppointmentConfirmedV1{
			Appointment: snapshotOf(a),
			ConfirmedAt: a.UpdatedAt,
		})
		return a, nil
	}
}

// SetReadFlag flips the staff-facing read marker. Admin only, any status,
// no lifecycle event.
func (s *Service) SetReadFlag(ctx context.Context, caller Caller, id string, read bool) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "scheduling.set_read_flag")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.appointment_id", id))

	if !caller.Admin {
		return nil, s.reject("set_read_flag", fmt.Errorf("%w: read flag requires admin", ErrForbidden))
	}

	for attempt := 0; ; attempt++ {
		a, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.reject("set_read_flag", err)
		}
		if a.Read == read {
			return a, nil
		}

		a.Read = read

		err = s.store.Put(ctx, a)
		if s.retryable(err, attempt) {
			continue
		}
		if err != nil {
			return nil, s.reject("set_read_flag", err)
		}

		s.observe("set_read_flag")
		return a, nil
	}
}

// Get returns an appointment visible to the caller.
func (s *Service) Get(ctx context.Context, caller Caller, id string) (*Appointment, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Admin && !caller.owns(a) {
		return nil, ErrForbidden
	}
	return a, nil
}

// ListForPatient returns the patient's appointments. Patients may only list
// their own.
func (s *Service) ListForPatient(ctx context.Context, caller Caller, patientID string) ([]*Appointment, error) {
	if !caller.Admin && caller.PatientID != patientID {
		return nil, ErrForbidden
	}
	return s.store.ListByPatient(ctx, patientID)
}

// ListAll returns every appointment. Admin only.
func (s *Service) ListAll(ctx context.Context, caller Caller) ([]*Appointment, error) {
	if !caller.Admin {
		return nil, ErrForbidden
	}
	return s.store.ListAll(ctx)
}

// slotFree fails with ErrSlotConflict when another active appointment holds
// the slot.
func (s *Service) slotFree(ctx context.Context, date, timeOfDay, excludeID string) error {
	existing, err := s.store.FindBySlot(ctx, date, timeOfDay)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.ID != excludeID {
			return fmt.Errorf("%w: %s %s", ErrSlotConflict, date, timeOfDay)
		}
	}
	return nil
}

// retryable reports whether the loop should re-read and retry after err.
func (s *Service) retryable(err error, attempt int) bool {
	if !errors.Is(err, ErrVersionConflict) {
		return false
	}
	if attempt+1 >= s.maxRetries {
		return false
	}
	s.metrics.ObservePutRetry()
	return true
}

// emit publishes the lifecycle event for a committed transition. Emission
// failures are logged, never surfaced: a notification must not fail a
// transition that already persisted.
func (s *Service) emit(ctx context.Context, a *Appointment, evt events.LifecycleEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, a.ID, evt); err != nil {
		s.logger.Warn("lifecycle event enqueue failed",
			"error", err,
			"appointment_id", a.ID,
			"event_type", evt.EventType(),
		)
	}
}

func (s *Service) observe(operation string) {
	s.metrics.ObserveTransition(operation, "ok")
}

func (s *Service) reject(operation string, err error) error {
	s.metrics.ObserveTransition(operation, resultLabel(err))
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	default:
		return "store_unavailable"
	}
}

func snapshotOf(a *Appointment) events.AppointmentSnapshot {
	return events.AppointmentSnapshot{
		ID:        a.ID,
		PatientID: a.PatientID,
		Date:      a.Date,
		Time:      a.Time,
		Details:   a.Details,
		Status:    string(a.Status),
		Read:      a.Read,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
		Version:   a.Version,
	}
}
