// Package patients holds the patient directory the scheduler resolves
// notification recipients and caller identity against.
package patients

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the patient does not exist.
	ErrNotFound = errors.New("patients: not found")
	// ErrInvalidInput indicates a malformed or incomplete patient record.
	ErrInvalidInput = errors.New("patients: invalid input")
	// ErrDuplicateEmail indicates another patient already registered the email.
	ErrDuplicateEmail = errors.New("patients: email already registered")
	// ErrStoreUnavailable indicates the backing database failed.
	ErrStoreUnavailable = errors.New("patients: store unavailable")
)

// Patient is a registered clinic patient.
type Patient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	// CredentialHash is the bcrypt-style hash of the patient's portal
	// credential. Never serialized.
	CredentialHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the fields a new record must carry.
func (p *Patient) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	email := strings.TrimSpace(p.Email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	return nil
}

// NormalizedEmail returns the email in the canonical form used for
// uniqueness checks.
func (p *Patient) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(p.Email))
}
