// Package transition drives the appointment state machine: pending moves to
// confirmed or rejected by staff decision, and owners may cancel outright.
package transition

import (
	"context"
	"log/slog"

	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
)

type Service struct {
	store  storage.Store
	guard  guard.Provider
	logger *slog.Logger
}

func NewService(store storage.Store, g guard.Provider, logger *slog.Logger) *Service {
	return &Service{store: store, guard: g, logger: logger}
}

// Confirm accepts a pending appointment. Repeating a confirm is a no-op;
// confirming a rejected appointment is a conflict.
func (s *Service) Confirm(ctx context.Context, actor guard.Actor, apptID string) (model.Appointment, error) {
	if !s.guard.IsAdmin(actor) {
		return model.Appointment{}, model.ErrForbidden
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.AppointmentForUpdate(ctx, apptID)
	if err != nil {
		return model.Appointment{}, err
	}

	switch appt.Status {
	case model.StatusConfirmed:
		return appt, tx.Commit(ctx)
	case model.StatusRejected:
		return model.Appointment{}, model.Errorf(model.KindConflict, "appointment was already rejected")
	}

	if err := tx.UpdateAppointmentStatus(ctx, apptID, model.StatusConfirmed); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusConfirmed

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

	s.logger.Info("appointment confirmed", "appointment_id", apptID, "client_id", appt.ClientID)
	return appt, nil
}

// Reject declines a pending appointment and frees its slot. Repeating a
// reject is a no-op; rejecting a confirmed appointment is a conflict.
func (s *Service) Reject(ctx context.Context, actor guard.Actor, apptID string) (model.Appointment, error) {
	if !s.guard.IsAdmin(actor) {
		return model.Appointment{}, model.ErrForbidden
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.AppointmentForUpdate(ctx, apptID)
	if err != nil {
		return model.Appointment{}, err
	}

	switch appt.Status {
	case model.StatusRejected:
		return appt, tx.Commit(ctx)
	case model.StatusConfirmed:
		return model.Appointment{}, model.Errorf(model.KindConflict, "appointment was already confirmed")
	}

	if err := tx.UpdateAppointmentStatus(ctx, apptID, model.StatusRejected); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.StatusRejected

	if err := s.releaseSlot(ctx, tx, appt); err != nil {
		return model.Appointment{}, err
	}

	evt, err := outbox.AppointmentEvent(outbox.EventAppointmentRejected, appt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.InsertEvent(ctx, evt); err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment rejected", "appointment_id", apptID, "client_id", appt.ClientID)
	return appt, nil
}

// Cancel removes an appointment entirely and frees its slot. Owners may
// cancel their own; admins may cancel any. Anyone else sees not-found, never
// a hint that the appointment exists.
func (s *Service) Cancel(ctx context.Context, actor guard.Actor, apptID string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.AppointmentForUpdate(ctx, apptID)
	if err != nil {
		return err
	}

	allowed, err := s.guard.CanAccessClient(ctx, actor, appt.ClientID)
	if err != nil {
		return err
	}
	if !allowed {
		return model.ErrNotFound
	}

	if err := tx.DeleteAppointment(ctx, apptID); err != nil {
		return err
	}
	if err := s.releaseSlot(ctx, tx, appt); err != nil {
		return err
	}

	evt, err := outbox.AppointmentEvent(outbox.EventAppointmentCancelled, appt)
	if err != nil {
		return err
	}
	if err := tx.InsertEvent(ctx, evt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	s.logger.Info("appointment cancelled", "appointment_id", apptID, "client_id", appt.ClientID)
	return nil
}

// releaseSlot clears the occupied flag once no live appointment remains on
// the slot. The recount guards against a stray second appointment row left
// by older data.
func (s *Service) releaseSlot(ctx context.Context, tx storage.Tx, appt model.Appointment) error {
	if appt.SlotID == nil {
		return nil
	}
	if _, err := tx.SlotForUpdate(ctx, *appt.SlotID); err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return nil
		}
		return err
	}
	n, err := tx.CountActiveForSlot(ctx, *appt.SlotID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return tx.SetSlotOccupied(ctx, *appt.SlotID, false)
}
