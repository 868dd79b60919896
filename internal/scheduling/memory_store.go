package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in tests and single-process
// deployments. A single mutex makes each Put atomic, which is all the
// optimistic protocol needs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Appointment
	nowFunc func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Appointment),
		nowFunc: time.Now,
	}
}

// Get retrieves an appointment by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// FindBySlot returns the non-Cancelled appointments occupying the slot.
func (s *MemoryStore) FindBySlot(ctx context.Context, date, timeOfDay string) ([]*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Appointment
	for _, a := range s.records {
		if a.Active() && a.Date == date && a.Time == timeOfDay {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

// Put commits a record under the optimistic protocol described on Store.
func (s *MemoryStore) Put(ctx context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.records[a.ID]
	switch {
	case a.Version == 0 && exists:
		return fmt.Errorf("%w: id %s already exists", ErrVersionConflict, a.ID)
	case a.Version > 0 && !exists:
		return ErrNotFound
	case a.Version > 0 && stored.Version != a.Version:
		return ErrVersionConflict
	}

	// The slot invariant is enforced at the commit point so that the first
	// successful Put wins any race.
	if a.Active() {
		for id, other := range s.records {
			if id != a.ID && other.Active() && other.Date == a.Date && other.Time == a.Time {
				return ErrSlotConflict
			}
		}
	}

	a.UpdatedAt = s.nowFunc().UTC()
	a.Version++
	s.records[a.ID] = a.Clone()
	return nil
}

// ListByPatient returns the patient's appointments, oldest first.
func (s *MemoryStore) ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Appointment
	for _, a := range s.records {
		if a.PatientID == patientID {
			out = append(out, a.Clone())
		}
	}
	sortByCreated(out)
	return out, nil
}

// ListAll returns every appointment, oldest first.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Appointment, 0, len(s.records))
	for _, a := range s.records {
		out = append(out, a.Clone())
	}
	sortByCreated(out)
	return out, nil
}

func sortByCreated(list []*Appointment) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

var _ Store = (*MemoryStore)(nil)
