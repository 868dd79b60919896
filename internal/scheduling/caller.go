package scheduling

// Caller is the already-authenticated identity forwarded by the access
// boundary. The core only ever sees an opaque admin capability flag, never
// credentials.
type Caller struct {
	PatientID string
	Admin     bool
}

// PatientCaller builds the identity of a patient acting on their own records.
func PatientCaller(patientID string) Caller {
	return Caller{PatientID: patientID}
}

// AdminCaller builds the privileged staff identity.
func AdminCaller() Caller {
	return Caller{Admin: true}
}

// owns reports whether the caller is the owning patient of the appointment.
func (c Caller) owns(a *Appointment) bool {
	return c.PatientID != "" && c.PatientID == a.PatientID
}
