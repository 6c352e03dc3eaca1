// Package storage persists time slots and appointments. The Postgres
// implementation backs production; the in-memory implementation backs tests
// that exercise the locking protocol without a database.
package storage

import (
	"context"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
)

// SlotFilter narrows slot listings. Zero values mean "no constraint".
type SlotFilter struct {
	From     time.Time
	To       time.Time
	TypeTag  string
	OnlyFree bool
	Limit    int
}

// AppointmentFilter narrows appointment listings.
type AppointmentFilter struct {
	ClientID string
	Status   model.Status
	From     time.Time
	To       time.Time
	Limit    int
}

// Store is the read side plus the transaction entry point.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	SlotByID(ctx context.Context, slotID string) (model.TimeSlot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]model.TimeSlot, error)
	AppointmentByID(ctx context.Context, apptID string) (model.AppointmentDetail, error)
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.AppointmentDetail, error)
	ListSlotTypes(ctx context.Context) ([]model.SlotType, error)
	ClientByID(ctx context.Context, clientID string) (model.ClientRef, error)
}

// Tx is a unit of work over slots and appointments. SlotForUpdate and
// AppointmentForUpdate take row locks that are held until Commit or Rollback;
// everything the booking protocol decides after the lock is safe from
// concurrent writers of the same row.
type Tx interface {
	SlotForUpdate(ctx context.Context, slotID string) (model.TimeSlot, error)
	InsertSlot(ctx context.Context, slot model.TimeSlot) error
	SetSlotOccupied(ctx context.Context, slotID string, occupied bool) error
	DeleteSlot(ctx context.Context, slotID string) error

	AppointmentForUpdate(ctx context.Context, apptID string) (model.Appointment, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	UpdateAppointmentStatus(ctx context.Context, apptID string, status model.Status) error
	DeleteAppointment(ctx context.Context, apptID string) error

	ActiveAppointmentForSlot(ctx context.Context, slotID string) (model.Appointment, error)
	HasActiveAppointmentAt(ctx context.Context, clientID string, at time.Time) (bool, error)
	CountActiveForSlot(ctx context.Context, slotID string) (int, error)

	ClientByID(ctx context.Context, clientID string) (model.ClientRef, error)
	InsertEvent(ctx context.Context, evt outbox.Event) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
