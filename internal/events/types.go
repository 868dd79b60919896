// Package events defines the lifecycle events emitted after committed
// appointment transitions and the queue contract that decouples the
// notification pipeline from the booking path.
package events

import "time"

// AppointmentSnapshot is the immutable appointment state carried by every
// lifecycle event.
type AppointmentSnapshot struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Details   string    `json:"details"`
	Status    string    `json:"status"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

type AppointmentBookedV1 struct {
	Appointment AppointmentSnapshot `json:"appointment"`
	BookedAt    time.Time           `json:"booked_at"`
}

func (AppointmentBookedV1) EventType() string { return "appointment.booked.v1" }

type AppointmentConfirmedV1 struct {
	Appointment AppointmentSnapshot `json:"appointment"`
	ConfirmedAt time.Time           `json:"confirmed_at"`
}

func (AppointmentConfirmedV1) EventType() string { return "appointment.confirmed.v1" }

type AppointmentCancelledV1 struct {
	Appointment AppointmentSnapshot `json:"appointment"`
	CancelledAt time.Time           `json:"cancelled_at"`
	// CancelledBy is "patient" or "admin".
	CancelledBy string `json:"cancelled_by"`
}

func (AppointmentCancelledV1) EventType() string { return "appointment.cancelled.v1" }
