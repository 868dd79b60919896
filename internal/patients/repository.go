package patients

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository stores patient records.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id string) (*Patient, error)
	GetByEmail(ctx context.Context, email string) (*Patient, error)
	List(ctx context.Context) ([]*Patient, error)
}

// InMemoryRepository is the test and single-process implementation.
type InMemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*Patient
	nowFunc func() time.Time
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byID:    make(map[string]*Patient),
		nowFunc: time.Now,
	}
}

// Create registers a patient, assigning an id when absent.
func (r *InMemoryRepository) Create(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	email := p.NormalizedEmail()
	for _, other := range r.byID {
		if other.NormalizedEmail() == email {
			return ErrDuplicateEmail
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.nowFunc().UTC()
	}
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

// Get retrieves a patient by id.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetByEmail retrieves a patient by normalized email.
func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, p := range r.byID {
		if p.NormalizedEmail() == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List returns every patient, oldest first.
func (r *InMemoryRepository) List(ctx context.Context) ([]*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Patient, 0, len(r.byID))
	for _, p := range r.byID {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Repository = (*InMemoryRepository)(nil)
