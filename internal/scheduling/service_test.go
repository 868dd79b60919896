package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luaxhealth/clinic-scheduler/internal/events"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

// capturePublisher records published events in order.
type capturePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	appointmentID string
	event         events.LifecycleEvent
}

func (p *capturePublisher) Publish(ctx context.Context, appointmentID string, evt events.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedEvent{appointmentID: appointmentID, event: evt})
	return nil
}

func (p *capturePublisher) byType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, pe := range p.published {
		if pe.event.EventType() == eventType {
			out = append(out, pe)
		}
	}
	return out
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

var testNow = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *MemoryStore, *capturePublisher) {
	t.Helper()
	store := NewMemoryStore()
	pub := &capturePublisher{}
	svc := NewService(store, pub, logging.Default()).WithLocation(time.UTC)
	svc.nowFunc = func() time.Time { return testNow }
	return svc, store, pub
}

func TestBookCreatesPendingAppointment(t *testing.T) {
	svc, _, pub := newTestService(t)

	a, err := svc.Book(context.Background(), PatientCaller("p1"), "2026-06-01", "10:00", "checkup")
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("status = %s, want Pending", a.Status)
	}
	if a.Read {
		t.Error("new appointment should be unread")
	}
	if a.Version != 1 {
		t.Errorf("version = %d, want 1", a.Version)
	}
	if a.PatientID != "p1" {
		t.Errorf("patient id = %s, want p1", a.PatientID)
	}

	booked := pub.byType("appointment.booked.v1")
	if len(booked) != 1 {
		t.Fatalf("booked events = %d, want 1", len(booked))
	}
	if booked[0].appointmentID != a.ID {
		t.Errorf("event appointment id = %s, want %s", booked[0].appointmentID, a.ID)
	}
}

func TestBookValidation(t *testing.T) {
	svc, _, pub := newTestService(t)

	tests := []struct {
		name   string
		caller Caller
		date   string
		time   string
	}{
		{"admin without patient identity", AdminCaller(), "2026-06-01", "10:00"},
		{"empty date", PatientCaller("p1"), "", "10:00"},
		{"empty time", PatientCaller("p1"), "2026-06-01", ""},
		{"malformed date", PatientCaller("p1"), "06/01/2026", "10:00"},
		{"malformed time", PatientCaller("p1"), "2026-06-01", "10am"},
		{"past slot", PatientCaller("p1"), "2020-01-01", "10:00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Book(context.Background(), tc.caller, tc.date, tc.time, "")
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	if pub.count() != 0 {
		t.Errorf("rejected bookings emitted %d events, want 0", pub.count())
	}
}

func TestBookSlotConflictAndRelease(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
	if err != nil {
		t.Fatalf("first book failed: %v", err)
	}

	if _, err := svc.Book(ctx, PatientCaller("p2"), "2026-06-01", "10:00", ""); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("second book err = %v, want ErrSlotConflict", err)
	}

	// Cancelling frees the slot immediately.
	if _, err := svc.Cancel(ctx, PatientCaller("p1"), first.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.Book(ctx, PatientCaller("p2"), "2026-06-01", "10:00", ""); err != nil {
		t.Fatalf("rebook after cancel failed: %v", err)
	}
}

func TestBookConcurrentSingleWinner(t *testing.T) {
	svc, store, pub := newTestService(t)
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotConflict):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}

	active, err := store.FindBySlot(ctx, "2026-06-01", "10:00")
	if err != nil {
		t.Fatalf("find by slot: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("active records in slot = %d, want 1", len(active))
	}
	if got := len(pub.byType("appointment.booked.v1")); got != 1 {
		t.Errorf("booked events = %d, want 1", got)
	}
}

func TestEditAuthorizationAndState(t *testing.T) {
	ctx := context.Background()

	t.Run("non-owner forbidden", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
		if _, err := svc.Edit(ctx, PatientCaller("p2"), a.ID, "2026-06-02", "10:00", ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("err = %v, want ErrForbidden", err)
		}
	})

	t.Run("admin cannot edit", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
		if _, err := svc.Edit(ctx, AdminCaller(), a.ID, "2026-06-02", "10:00", ""); !errors.Is(err, ErrForbidden) {
			t.Errorf("err = %v, want ErrForbidden", err)
		}
	})

	t.Run("confirmed is immutable", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
		if _, err := svc.Confirm(ctx, AdminCaller(), a.ID); err != nil {
			t.Fatalf("confirm failed: %v", err)
		}
		if _, err := svc.Edit(ctx, PatientCaller("p1"), a.ID, "2026-06-02", "10:00", ""); !errors.Is(err, ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("cancelled is immutable", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
		if _, err := svc.Cancel(ctx, PatientCaller("p1"), a.ID); err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if _, err := svc.Edit(ctx, PatientCaller("p1"), a.ID, "2026-06-02", "10:00", ""); !errors.Is(err, ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		if _, err := svc.Edit(ctx, PatientCaller("p1"), "nope", "2026-06-02", "10:00", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestEditMovesSlot(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "checkup")
	other, _ := svc.Book(ctx, PatientCaller("p2"), "2026-06-01", "11:00", "")
	_ = other

	// Moving into an occupied slot fails.
	if _, err := svc.Edit(ctx, PatientCaller("p1"), a.ID, "2026-06-01", "11:00", ""); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("err = %v, want ErrSlotConflict", err)
	}

	// Editing details without moving keeps the slot; own occupancy never
	// conflicts with itself.
	updated, err := svc.Edit(ctx, PatientCaller("p1"), a.ID, a.Date, a.Time, "follow-up")
	if err != nil {
		t.Fatalf("details edit failed: %v", err)
	}
	if updated.Details != "follow-up" {
		t.Errorf("details = %q, want follow-up", updated.Details)
	}

	// Moving into a free slot succeeds and frees the old one.
	moved, err := svc.Edit(ctx, PatientCaller("p1"), a.ID, "2026-06-02", "09:30", "")
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if moved.Date != "2026-06-02" || moved.Time != "09:30" {
		t.Errorf("slot = %s %s, want 2026-06-02 09:30", moved.Date, moved.Time)
	}
	if _, err := svc.Book(ctx, PatientCaller("p3"), "2026-06-01", "10:00", ""); err != nil {
		t.Fatalf("booking the vacated slot failed: %v", err)
	}

	// Edits emit no lifecycle events.
	if got := pub.count() - len(pub.byType("appointment.booked.v1")); got != 0 {
		t.Errorf("non-booked events after edits = %d, want 0", got)
	}

	// Past slot on edit is rejected.
	if _, err := svc.Edit(ctx, PatientCaller("p1"), a.ID, "2020-01-01", "10:00", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestConfirmTransitions(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")

	// Non-admin callers never confirm, and the record is untouched.
	if _, err := svc.Confirm(ctx, PatientCaller("p1"), a.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	got, _ := svc.Get(ctx, AdminCaller(), a.ID)
	if got.Status != StatusPending || got.Version != 1 {
		t.Fatalf("record mutated by forbidden confirm: status=%s version=%d", got.Status, got.Version)
	}

	confirmed, err := svc.Confirm(ctx, AdminCaller(), a.ID)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s, want Confirmed", confirmed.Status)
	}

	if _, err := svc.Confirm(ctx, AdminCaller(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double confirm err = %v, want ErrInvalidState", err)
	}

	if got := len(pub.byType("appointment.confirmed.v1")); got != 1 {
		t.Errorf("confirmed events = %d, want 1", got)
	}
}

func TestCancelTransitions(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")

	if _, err := svc.Cancel(ctx, PatientCaller("p2"), a.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger cancel err = %v, want ErrForbidden", err)
	}

	// Admin may cancel a confirmed appointment.
	if _, err := svc.Confirm(ctx, AdminCaller(), a.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	cancelled, err := svc.Cancel(ctx, AdminCaller(), a.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", cancelled.Status)
	}

	if _, err := svc.Cancel(ctx, AdminCaller(), a.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double cancel err = %v, want ErrInvalidState", err)
	}

	evts := pub.byType("appointment.cancelled.v1")
	if len(evts) != 1 {
		t.Fatalf("cancelled events = %d, want 1", len(evts))
	}
	evt := evts[0].event.(events.AppointmentCancelledV1)
	if evt.CancelledBy != "admin" {
		t.Errorf("cancelled_by = %s, want admin", evt.CancelledBy)
	}
}

func TestSetReadFlag(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")

	if _, err := svc.SetReadFlag(ctx, PatientCaller("p1"), a.ID, true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("patient set read err = %v, want ErrForbidden", err)
	}

	marked, err := svc.SetReadFlag(ctx, AdminCaller(), a.ID, true)
	if err != nil {
		t.Fatalf("set read failed: %v", err)
	}
	if !marked.Read {
		t.Error("read flag not set")
	}

	// Setting the same value is a no-op and does not bump the version.
	again, err := svc.SetReadFlag(ctx, AdminCaller(), a.ID, true)
	if err != nil {
		t.Fatalf("idempotent set read failed: %v", err)
	}
	if again.Version != marked.Version {
		t.Errorf("version bumped on no-op: %d -> %d", marked.Version, again.Version)
	}

	// The flag stays writable after cancellation.
	if _, err := svc.Cancel(ctx, PatientCaller("p1"), a.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	cleared, err := svc.SetReadFlag(ctx, AdminCaller(), a.ID, false)
	if err != nil {
		t.Fatalf("set read on cancelled failed: %v", err)
	}
	if cleared.Read {
		t.Error("read flag not cleared")
	}
	if cleared.Status != StatusCancelled {
		t.Errorf("status = %s, want Cancelled", cleared.Status)
	}

	// Read-flag changes never emit lifecycle events.
	for _, pe := range pub.published {
		if pe.event.EventType() == "" {
			t.Error("unexpected empty event type")
		}
	}
	if got := pub.count(); got != 2 { // booked + cancelled
		t.Errorf("events = %d, want 2", got)
	}
}

// flakyStore injects version conflicts before delegating to the real store.
type flakyStore struct {
	Store
	mu        sync.Mutex
	conflicts int
}

func (s *flakyStore) Put(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	s.mu.Unlock()
	if inject {
		return ErrVersionConflict
	}
	return s.Store.Put(ctx, a)
}

func TestRetryAfterVersionConflict(t *testing.T) {
	mem := NewMemoryStore()
	pub := &capturePublisher{}
	flaky := &flakyStore{Store: mem}
	svc := NewService(flaky, pub, logging.Default()).WithLocation(time.UTC).WithMaxRetries(3)
	svc.nowFunc = func() time.Time { return testNow }
	ctx := context.Background()

	a, err := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}

	// Two stale writes, third attempt lands.
	flaky.conflicts = 2
	if _, err := svc.Confirm(ctx, AdminCaller(), a.ID); err != nil {
		t.Fatalf("confirm with retries failed: %v", err)
	}

	// More conflicts than the retry budget surface the conflict.
	flaky.conflicts = 5
	if _, err := svc.SetReadFlag(ctx, AdminCaller(), a.ID, true); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	if got := len(pub.byType("appointment.confirmed.v1")); got != 1 {
		t.Errorf("confirmed events = %d, want exactly 1 despite retries", got)
	}
}

func TestEnqueueFailureDoesNotFailTransition(t *testing.T) {
	svc, _, pub := newTestService(t)
	pub.err = errors.New("queue down")

	a, err := svc.Book(context.Background(), PatientCaller("p1"), "2026-06-01", "10:00", "")
	if err != nil {
		t.Fatalf("book failed despite queue outage: %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("status = %s, want Pending", a.Status)
	}
}

func TestReadVisibility(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Book(ctx, PatientCaller("p1"), "2026-06-01", "10:00", "")

	if _, err := svc.Get(ctx, PatientCaller("p2"), a.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger get err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Get(ctx, AdminCaller(), a.ID); err != nil {
		t.Errorf("admin get failed: %v", err)
	}

	if _, err := svc.ListForPatient(ctx, PatientCaller("p2"), "p1"); !errors.Is(err, ErrForbidden) {
		t.Errorf("cross-patient list err = %v, want ErrForbidden", err)
	}
	mine, err := svc.ListForPatient(ctx, PatientCaller("p1"), "p1")
	if err != nil || len(mine) != 1 {
		t.Errorf("own list = %d records, err %v; want 1, nil", len(mine), err)
	}

	if _, err := svc.ListAll(ctx, PatientCaller("p1")); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient list-all err = %v, want ErrForbidden", err)
	}
	if _, err := svc.ListAll(ctx, AdminCaller()); err != nil {
		t.Errorf("admin list-all failed: %v", err)
	}
}

// TestBookingScenario walks an appointment through its whole life: a patient
// books, the admin confirms, the locked record rejects an edit, the admin
// cancels, and the freed slot accepts a new booking.
func TestBookingScenario(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	a, err := svc.Book(ctx, PatientCaller("P"), "2026-06-01", "10:00", "consultation")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("status = %s, want Pending", a.Status)
	}
	if got := len(pub.byType("appointment.booked.v1")); got != 1 {
		t.Fatalf("booked events = %d, want 1", got)
	}

	if _, err := svc.Confirm(ctx, AdminCaller(), a.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := svc.Edit(ctx, PatientCaller("P"), a.ID, "2026-06-03", "10:00", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("edit of confirmed err = %v, want ErrInvalidState", err)
	}

	if _, err := svc.Cancel(ctx, AdminCaller(), a.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := len(pub.byType("appointment.cancelled.v1")); got != 1 {
		t.Fatalf("cancelled events = %d, want 1", got)
	}

	if _, err := svc.Book(ctx, PatientCaller("Q"), "2026-06-01", "10:00", ""); err != nil {
		t.Fatalf("rebooking the freed slot: %v", err)
	}

	// One booked, one confirmed, one cancelled, one more booked.
	if got := pub.count(); got != 4 {
		t.Fatalf("total events = %d, want 4", got)
	}
}
