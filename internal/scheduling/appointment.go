// Package scheduling owns the appointment lifecycle state machine: the
// Pending/Confirmed/Cancelled status axis, the independent read flag, the
// one-active-appointment-per-slot invariant, and the optimistic-concurrency
// commit protocol against the record store.
package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle axis of an appointment.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Appointment is the persisted scheduling record. Version is the optimistic
// concurrency token: Put commits only when it matches the stored value, and
// the store bumps it on every committed write.
type Appointment struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Date      string    `json:"date"` // YYYY-MM-DD
	Time      string    `json:"time"` // HH:MM, 24-hour
	Details   string    `json:"details"`
	Status    Status    `json:"status"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// Active reports whether the appointment occupies its slot.
func (a *Appointment) Active() bool {
	return a.Status == StatusPending || a.Status == StatusConfirmed
}

// Slot identifies the (date, time) pair an appointment occupies.
type Slot struct {
	Date string
	Time string
}

func (a *Appointment) Slot() Slot {
	return Slot{Date: a.Date, Time: a.Time}
}

// Clone returns a copy so stores can hand out records without aliasing.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	return &cp
}

// parseSlot validates the wire format and returns the slot's wall-clock time
// in loc.
func parseSlot(date, timeOfDay string, loc *time.Location) (time.Time, error) {
	date = strings.TrimSpace(date)
	timeOfDay = strings.TrimSpace(timeOfDay)
	if date == "" || timeOfDay == "" {
		return time.Time{}, fmt.Errorf("%w: date and time are required", ErrInvalidInput)
	}
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+timeOfDay, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date/time %q %q", ErrInvalidInput, date, timeOfDay)
	}
	return t, nil
}
