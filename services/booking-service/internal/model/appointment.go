package model

import "time"

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Active reports whether an appointment in this status still holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Terminal reports whether no further transition is allowed out of this status.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusRejected:
		return Status(raw), true
	default:
		return "", false
	}
}

// TimeSlot is a bookable time window. A slot holds at most one active
// appointment; Occupied mirrors that (and doubles as the row-level mutex
// for concurrent reservations).
type TimeSlot struct {
	ID        string
	TypeTag   string
	StartAt   time.Time
	EndAt     time.Time
	Occupied  bool
	Note      string
	CreatedAt time.Time
}

type Appointment struct {
	ID          string
	ClientID    string
	SlotID      *string
	ScheduledAt time.Time
	TypeTag     string
	Note        string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ClientRef is the read-only projection of the external client registry
// joined into list views. The core never writes it.
type ClientRef struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// AppointmentDetail is an appointment joined with client display fields.
type AppointmentDetail struct {
	Appointment
	Client ClientRef
}

// SlotType is a reference entry describing a bookable appointment type.
type SlotType struct {
	Code        string
	Description string
	Position    int
}
