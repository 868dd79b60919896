package scheduling

import "context"

// Store is the record store adapter contract. Implementations return the
// package's structured errors, never raw driver errors.
//
// Put is the single synchronization point for concurrent transitions:
//   - Version == 0 inserts a new record and fails with ErrSlotConflict when
//     an active appointment already occupies the slot.
//   - Version > 0 updates the record only if the stored version still
//     matches, failing with ErrVersionConflict otherwise; an update that
//     would move an active appointment onto an occupied slot fails with
//     ErrSlotConflict.
//
// On success Put stamps UpdatedAt and increments Version on the passed
// record, so callers observe the committed state.
type Store interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	FindBySlot(ctx context.Context, date, timeOfDay string) ([]*Appointment, error)
	Put(ctx context.Context, a *Appointment) error
	ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error)
	ListAll(ctx context.Context) ([]*Appointment, error)
}
