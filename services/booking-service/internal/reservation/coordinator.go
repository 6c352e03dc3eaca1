// Package reservation implements the slot booking protocol. All decisions
// about an occupied slot happen while holding that slot's row lock, so two
// clients racing for the same slot serialize: one books, the other gets a
// conflict.
package reservation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
)

type Coordinator struct {
	store  storage.Store
	guard  guard.Provider
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(store storage.Store, g guard.Provider, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		guard:  g,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ReserveInput is a validated booking request. ClientID names who the
// appointment is for; the actor may differ when an admin books on behalf.
type ReserveInput struct {
	Actor    guard.Actor
	SlotID   string
	ClientID string
	Note     string
}

// Reserve books a slot for a client. Clients land in pending; bookings made
// by admins are confirmed immediately.
func (c *Coordinator) Reserve(ctx context.Context, in ReserveInput) (model.Appointment, error) {
	if in.SlotID == "" {
		return model.Appointment{}, model.Errorf(model.KindInvalid, "slot id is required")
	}
	if in.ClientID == "" {
		return model.Appointment{}, model.Errorf(model.KindInvalid, "client id is required")
	}

	// Access is checked before taking the lock; a forbidden caller never
	// touches the slot row.
	allowed, err := c.guard.CanAccessClient(ctx, in.Actor, in.ClientID)
	if err != nil {
		return model.Appointment{}, err
	}
	if !allowed {
		return model.Appointment{}, model.ErrForbidden
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot, err := tx.SlotForUpdate(ctx, in.SlotID)
	if err != nil {
		return model.Appointment{}, err
	}
	if slot.StartAt.Before(c.now()) {
		return model.Appointment{}, model.Errorf(model.KindInvalid, "slot is in the past")
	}

	if _, err := tx.ClientByID(ctx, in.ClientID); err != nil {
		return model.Appointment{}, err
	}

	if slot.Occupied {
		return model.Appointment{}, c.occupiedError(ctx, tx, slot.ID, in.ClientID)
	}

	// One appointment per client per instant, across slots of any type.
	dup, err := tx.HasActiveAppointmentAt(ctx, in.ClientID, slot.StartAt)
	if err != nil {
		return model.Appointment{}, err
	}
	if dup {
		return model.Appointment{}, model.ErrDuplicateBooking
	}

	status := model.StatusPending
	eventType := outbox.EventAppointmentRequested
	if c.guard.IsAdmin(in.Actor) {
		status = model.StatusConfirmed
		eventType = outbox.EventAppointmentConfirmed
	}

	now := c.now()
	appt := model.Appointment{
		ID:          uuid.NewString(),
		ClientID:    in.ClientID,
		SlotID:      &slot.ID,
		ScheduledAt: slot.StartAt,
		TypeTag:     slot.TypeTag,
		Note:        in.Note,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.SetSlotOccupied(ctx, slot.ID, true); err != nil {
		return model.Appointment{}, err
	}

	evt, err := outbox.AppointmentEvent(eventType, appt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.InsertEvent(ctx, evt); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	c.logger.Info("slot reserved",
		"appointment_id", appt.ID,
		"slot_id", slot.ID,
		"client_id", appt.ClientID,
		"status", string(appt.Status))
	return appt, nil
}

// occupiedError distinguishes "you already hold this slot" from "someone
// else does". Both are conflicts; the message differs.
func (c *Coordinator) occupiedError(ctx context.Context, tx storage.Tx, slotID, clientID string) error {
	existing, err := tx.ActiveAppointmentForSlot(ctx, slotID)
	if errors.Is(err, model.ErrNotFound) {
		// Occupied flag without a live appointment: the slot was blocked
		// manually by staff.
		return model.ErrSlotOccupied
	}
	if err != nil {
		return err
	}
	if existing.ClientID == clientID {
		return model.ErrOwnBooking
	}
	return model.ErrSlotTaken
}

// DirectInput describes an appointment an admin records without a slot,
// e.g. one arranged over the phone.
type DirectInput struct {
	Actor       guard.Actor
	ClientID    string
	ScheduledAt time.Time
	TypeTag     string
	Note        string
}

// CreateDirect inserts a confirmed, slot-less appointment. Admin only; the
// per-client one-appointment-per-instant rule still applies.
func (c *Coordinator) CreateDirect(ctx context.Context, in DirectInput) (model.Appointment, error) {
	if !c.guard.IsAdmin(in.Actor) {
		return model.Appointment{}, model.ErrForbidden
	}
	if in.ClientID == "" {
		return model.Appointment{}, model.Errorf(model.KindInvalid, "client id is required")
	}
	if in.ScheduledAt.IsZero() {
		return model.Appointment{}, model.Errorf(model.KindInvalid, "scheduled time is required")
	}
	if in.ScheduledAt.Before(c.now()) {
		return model.Appointment{}, model.Errorf(model.KindInvalid, "scheduled time is in the past")
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.ClientByID(ctx, in.ClientID); err != nil {
		return model.Appointment{}, err
	}
	dup, err := tx.HasActiveAppointmentAt(ctx, in.ClientID, in.ScheduledAt)
	if err != nil {
		return model.Appointment{}, err
	}
	if dup {
		return model.Appointment{}, model.ErrDuplicateBooking
	}

	now := c.now()
	appt := model.Appointment{
		ID:          uuid.NewString(),
		ClientID:    in.ClientID,
		ScheduledAt: in.ScheduledAt.UTC(),
		TypeTag:     in.TypeTag,
		Note:        in.Note,
		Status:      model.StatusConfirmed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return model.Appointment{}, err
	}

	evt, err := outbox.AppointmentEvent(outbox.EventAppointmentConfirmed, appt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.InsertEvent(ctx, evt); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	c.logger.Info("appointment recorded directly",
		"appointment_id", appt.ID, "client_id", appt.ClientID, "scheduled_at", appt.ScheduledAt)
	return appt, nil
}

// CreateSlotInput describes a new bookable slot.
type CreateSlotInput struct {
	Actor   guard.Actor
	TypeTag string
	StartAt time.Time
	EndAt   time.Time
	Blocked bool
	Note    string
}

// CreateSlot opens a new slot. Admin only.
func (c *Coordinator) CreateSlot(ctx context.Context, in CreateSlotInput) (model.TimeSlot, error) {
	if !c.guard.IsAdmin(in.Actor) {
		return model.TimeSlot{}, model.ErrForbidden
	}
	if in.TypeTag == "" {
		return model.TimeSlot{}, model.Errorf(model.KindInvalid, "type tag is required")
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() {
		return model.TimeSlot{}, model.Errorf(model.KindInvalid, "start and end times are required")
	}
	if !in.EndAt.After(in.StartAt) {
		return model.TimeSlot{}, model.Errorf(model.KindInvalid, "end time must be after start time")
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return model.TimeSlot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot := model.TimeSlot{
		ID:        uuid.NewString(),
		TypeTag:   in.TypeTag,
		StartAt:   in.StartAt.UTC(),
		EndAt:     in.EndAt.UTC(),
		Occupied:  in.Blocked,
		Note:      in.Note,
		CreatedAt: c.now(),
	}
	if err := tx.InsertSlot(ctx, slot); err != nil {
		return model.TimeSlot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.TimeSlot{}, err
	}

	c.logger.Info("slot created", "slot_id", slot.ID, "type_tag", slot.TypeTag, "start_at", slot.StartAt)
	return slot, nil
}

// RemoveSlot deletes a slot that has no live appointment. Admin only.
func (c *Coordinator) RemoveSlot(ctx context.Context, actor guard.Actor, slotID string) error {
	if !c.guard.IsAdmin(actor) {
		return model.ErrForbidden
	}
	if slotID == "" {
		return model.Errorf(model.KindInvalid, "slot id is required")
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slot, err := tx.SlotForUpdate(ctx, slotID)
	if err != nil {
		return err
	}
	n, err := tx.CountActiveForSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if n > 0 {
		return model.Errorf(model.KindConflict, "slot has a live appointment")
	}
	// A blocked slot carries no appointment but is still occupied; unblock
	// it before deleting.
	if slot.Occupied {
		return model.Errorf(model.KindConflict, "slot is blocked")
	}
	if err := tx.DeleteSlot(ctx, slotID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	c.logger.Info("slot removed", "slot_id", slotID)
	return nil
}
