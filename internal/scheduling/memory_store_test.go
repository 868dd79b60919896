package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedAppointment(id, patientID, date, timeOfDay string) *Appointment {
	return &Appointment{
		ID:        id,
		PatientID: patientID,
		Date:      date,
		Time:      timeOfDay,
		Status:    StatusPending,
		CreatedAt: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStorePutProtocol(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	a := seedAppointment("a1", "p1", "2026-06-01", "10:00")
	if err := store.Put(ctx, a); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if a.Version != 1 {
		t.Fatalf("version after insert = %d, want 1", a.Version)
	}

	// Re-inserting the same id with Version 0 conflicts.
	dup := seedAppointment("a1", "p1", "2026-06-01", "11:00")
	if err := store.Put(ctx, dup); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("duplicate insert err = %v, want ErrVersionConflict", err)
	}

	// A write carrying the current version commits and bumps it.
	cur, _ := store.Get(ctx, "a1")
	cur.Details = "updated"
	if err := store.Put(ctx, cur); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if cur.Version != 2 {
		t.Errorf("version after update = %d, want 2", cur.Version)
	}

	// A stale version is rejected without mutating the record.
	stale := cur.Clone()
	stale.Version = 1
	stale.Details = "stale write"
	if err := store.Put(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale update err = %v, want ErrVersionConflict", err)
	}
	got, _ := store.Get(ctx, "a1")
	if got.Details != "updated" {
		t.Errorf("details = %q, stale write leaked", got.Details)
	}

	// Updating a record that never existed reports not-found.
	ghost := seedAppointment("ghost", "p1", "2026-06-01", "12:00")
	ghost.Version = 3
	if err := store.Put(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Errorf("ghost update err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSlotInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	first := seedAppointment("a1", "p1", "2026-06-01", "10:00")
	if err := store.Put(ctx, first); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// A second active record cannot take the slot.
	second := seedAppointment("a2", "p2", "2026-06-01", "10:00")
	if err := store.Put(ctx, second); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("slot steal err = %v, want ErrSlotConflict", err)
	}

	// A cancelled record may share the slot.
	cancelled := seedAppointment("a3", "p3", "2026-06-01", "10:00")
	cancelled.Status = StatusCancelled
	if err := store.Put(ctx, cancelled); err != nil {
		t.Fatalf("cancelled insert failed: %v", err)
	}

	// Once the holder cancels, the slot opens up.
	holder, _ := store.Get(ctx, "a1")
	holder.Status = StatusCancelled
	if err := store.Put(ctx, holder); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if err := store.Put(ctx, second); err != nil {
		t.Fatalf("insert after release failed: %v", err)
	}

	active, err := store.FindBySlot(ctx, "2026-06-01", "10:00")
	if err != nil {
		t.Fatalf("find by slot: %v", err)
	}
	if len(active) != 1 || active[0].ID != "a2" {
		t.Errorf("active slot holders = %+v, want just a2", active)
	}
}

func TestMemoryStoreHandsOutCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Put(ctx, seedAppointment("a1", "p1", "2026-06-01", "10:00")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, _ := store.Get(ctx, "a1")
	got.Details = "mutated outside the store"

	fresh, _ := store.Get(ctx, "a1")
	if fresh.Details != "" {
		t.Error("store record aliased by a returned copy")
	}
}

func TestMemoryStoreListing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i, spec := range []struct {
		id, patient, timeOfDay string
	}{
		{"a1", "p1", "09:00"},
		{"a2", "p2", "10:00"},
		{"a3", "p1", "11:00"},
	} {
		a := seedAppointment(spec.id, spec.patient, "2026-06-01", spec.timeOfDay)
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Put(ctx, a); err != nil {
			t.Fatalf("insert %s failed: %v", spec.id, err)
		}
	}

	mine, err := store.ListByPatient(ctx, "p1")
	if err != nil {
		t.Fatalf("list by patient: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != "a1" || mine[1].ID != "a3" {
		t.Errorf("patient listing = %+v, want [a1 a3] oldest first", mine)
	}

	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a1" || all[2].ID != "a3" {
		t.Errorf("full listing out of order: %+v", all)
	}
}
