package patients

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryRepositoryCreate(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := &Patient{Name: "Pat Doe", Email: "Pat@Example.com"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == "" {
		t.Error("id not assigned")
	}
	if p.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}

	// Email uniqueness is case-insensitive.
	dup := &Patient{Name: "Other", Email: "pat@example.com"}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("duplicate err = %v, want ErrDuplicateEmail", err)
	}
}

func TestInMemoryRepositoryValidation(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	tests := []struct {
		name    string
		patient *Patient
	}{
		{"missing name", &Patient{Email: "a@b.com"}},
		{"missing email", &Patient{Name: "Pat"}},
		{"malformed email", &Patient{Name: "Pat", Email: "not-an-email"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := repo.Create(ctx, tc.patient); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestInMemoryRepositoryLookups(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	p := &Patient{Name: "Pat Doe", Email: "pat@example.com"}
	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get(ctx, p.ID)
	if err != nil || got.Name != "Pat Doe" {
		t.Errorf("get = %+v, %v", got, err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing get err = %v, want ErrNotFound", err)
	}

	byEmail, err := repo.GetByEmail(ctx, "PAT@example.com")
	if err != nil || byEmail.ID != p.ID {
		t.Errorf("get by email = %+v, %v", byEmail, err)
	}

	list, err := repo.List(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("list = %d records, %v; want 1, nil", len(list), err)
	}

	// Returned records are copies.
	got.Name = "mutated"
	fresh, _ := repo.Get(ctx, p.ID)
	if fresh.Name != "Pat Doe" {
		t.Error("repository record aliased by a returned copy")
	}
}
