package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/reservation"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
)

// Every operation is a typed command: decode, validate, run. The dispatcher
// is the single funnel all writes and reads pass through.
type command interface {
	validate() error
	run(ctx context.Context, h *Handler) (any, int, error)
}

type bookSlotCommand struct {
	actor    guard.Actor
	SlotID   string `json:"slot_id"`
	ClientID string `json:"client_id"`
	Note     string `json:"note"`
}

func (c *bookSlotCommand) validate() error {
	c.SlotID = strings.TrimSpace(c.SlotID)
	c.ClientID = strings.TrimSpace(c.ClientID)
	if c.ClientID == "" {
		// Clients book for themselves unless they say otherwise.
		c.ClientID = c.actor.ClientID
	}
	if c.SlotID == "" {
		return model.Errorf(model.KindInvalid, "slot_id is required")
	}
	if c.ClientID == "" {
		return model.Errorf(model.KindInvalid, "client_id is required")
	}
	return nil
}

func (c *bookSlotCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	appt, err := h.coordinator.Reserve(ctx, reservation.ReserveInput{
		Actor:    c.actor,
		SlotID:   c.SlotID,
		ClientID: c.ClientID,
		Note:     c.Note,
	})
	if err != nil {
		return nil, 0, err
	}
	return appointmentItemFrom(appt), http.StatusCreated, nil
}

type createAppointmentCommand struct {
	actor       guard.Actor
	ClientID    string `json:"client_id"`
	ScheduledAt string `json:"scheduled_at"`
	TypeTag     string `json:"type_tag"`
	Note        string `json:"note"`

	scheduledAt time.Time
}

func (c *createAppointmentCommand) validate() error {
	c.ClientID = strings.TrimSpace(c.ClientID)
	if c.ClientID == "" {
		return model.Errorf(model.KindInvalid, "client_id is required")
	}
	var err error
	if c.scheduledAt, err = time.Parse(time.RFC3339, c.ScheduledAt); err != nil {
		return model.Errorf(model.KindInvalid, "invalid scheduled_at")
	}
	return nil
}

func (c *createAppointmentCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	appt, err := h.coordinator.CreateDirect(ctx, reservation.DirectInput{
		Actor:       c.actor,
		ClientID:    c.ClientID,
		ScheduledAt: c.scheduledAt,
		TypeTag:     strings.TrimSpace(c.TypeTag),
		Note:        c.Note,
	})
	if err != nil {
		return nil, 0, err
	}
	return appointmentItemFrom(appt), http.StatusCreated, nil
}

type confirmCommand struct {
	actor         guard.Actor
	AppointmentID string `json:"appointment_id"`
}

func (c *confirmCommand) validate() error {
	c.AppointmentID = strings.TrimSpace(c.AppointmentID)
	if c.AppointmentID == "" {
		return model.Errorf(model.KindInvalid, "appointment_id is required")
	}
	return nil
}

func (c *confirmCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	appt, err := h.transitions.Confirm(ctx, c.actor, c.AppointmentID)
	if err != nil {
		return nil, 0, err
	}
	return appointmentItemFrom(appt), http.StatusOK, nil
}

type rejectCommand struct {
	actor         guard.Actor
	AppointmentID string `json:"appointment_id"`
}

func (c *rejectCommand) validate() error {
	c.AppointmentID = strings.TrimSpace(c.AppointmentID)
	if c.AppointmentID == "" {
		return model.Errorf(model.KindInvalid, "appointment_id is required")
	}
	return nil
}

func (c *rejectCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	appt, err := h.transitions.Reject(ctx, c.actor, c.AppointmentID)
	if err != nil {
		return nil, 0, err
	}
	return appointmentItemFrom(appt), http.StatusOK, nil
}

type cancelCommand struct {
	actor         guard.Actor
	AppointmentID string `json:"appointment_id"`
}

func (c *cancelCommand) validate() error {
	c.AppointmentID = strings.TrimSpace(c.AppointmentID)
	if c.AppointmentID == "" {
		return model.Errorf(model.KindInvalid, "appointment_id is required")
	}
	return nil
}

func (c *cancelCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	if err := h.transitions.Cancel(ctx, c.actor, c.AppointmentID); err != nil {
		return nil, 0, err
	}
	return map[string]string{"appointment_id": c.AppointmentID, "status": "cancelled"}, http.StatusOK, nil
}

type createSlotCommand struct {
	actor   guard.Actor
	TypeTag string `json:"type_tag"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	Blocked bool   `json:"blocked"`
	Note    string `json:"note"`

	startAt time.Time
	endAt   time.Time
}

func (c *createSlotCommand) validate() error {
	c.TypeTag = strings.TrimSpace(c.TypeTag)
	if c.TypeTag == "" {
		return model.Errorf(model.KindInvalid, "type_tag is required")
	}
	var err error
	if c.startAt, err = time.Parse(time.RFC3339, c.StartAt); err != nil {
		return model.Errorf(model.KindInvalid, "invalid start_at")
	}
	if c.endAt, err = time.Parse(time.RFC3339, c.EndAt); err != nil {
		return model.Errorf(model.KindInvalid, "invalid end_at")
	}
	if !c.endAt.After(c.startAt) {
		return model.Errorf(model.KindInvalid, "end_at must be after start_at")
	}
	return nil
}

func (c *createSlotCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	slot, err := h.coordinator.CreateSlot(ctx, reservation.CreateSlotInput{
		Actor:   c.actor,
		TypeTag: c.TypeTag,
		StartAt: c.startAt,
		EndAt:   c.endAt,
		Blocked: c.Blocked,
		Note:    c.Note,
	})
	if err != nil {
		return nil, 0, err
	}
	return slotItemFrom(slot), http.StatusCreated, nil
}

type deleteSlotCommand struct {
	actor  guard.Actor
	SlotID string `json:"slot_id"`
}

func (c *deleteSlotCommand) validate() error {
	c.SlotID = strings.TrimSpace(c.SlotID)
	if c.SlotID == "" {
		return model.Errorf(model.KindInvalid, "slot_id is required")
	}
	return nil
}

func (c *deleteSlotCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	if err := h.coordinator.RemoveSlot(ctx, c.actor, c.SlotID); err != nil {
		return nil, 0, err
	}
	return map[string]string{"slot_id": c.SlotID, "status": "deleted"}, http.StatusOK, nil
}

type listSlotsCommand struct {
	actor  guard.Actor
	filter storage.SlotFilter
}

func (c *listSlotsCommand) validate() error { return nil }

func (c *listSlotsCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	// Only staff browse the full catalog; everyone else sees free future
	// slots no matter what the query string asked for.
	if !h.guard.IsAdmin(c.actor) {
		c.filter.OnlyFree = true
		if c.filter.From.IsZero() {
			c.filter.From = time.Now().UTC()
		}
	}
	slots, err := h.store.ListSlots(ctx, c.filter)
	if err != nil {
		return nil, 0, err
	}
	items := make([]slotItem, 0, len(slots))
	for _, slot := range slots {
		items = append(items, slotItemFrom(slot))
	}
	return items, http.StatusOK, nil
}

type listAppointmentsCommand struct {
	actor  guard.Actor
	filter storage.AppointmentFilter
}

func (c *listAppointmentsCommand) validate() error { return nil }

func (c *listAppointmentsCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	// Non-admin callers only ever see their own appointments, whatever the
	// query string says.
	if !h.guard.IsAdmin(c.actor) {
		if c.actor.ClientID == "" {
			return nil, 0, model.ErrForbidden
		}
		c.filter.ClientID = c.actor.ClientID
	}
	details, err := h.store.ListAppointments(ctx, c.filter)
	if err != nil {
		return nil, 0, err
	}
	items := make([]appointmentDetailItem, 0, len(details))
	for _, d := range details {
		items = append(items, detailItemFrom(d))
	}
	return items, http.StatusOK, nil
}

type getAppointmentCommand struct {
	actor         guard.Actor
	AppointmentID string
}

func (c *getAppointmentCommand) validate() error {
	c.AppointmentID = strings.TrimSpace(c.AppointmentID)
	if c.AppointmentID == "" {
		return model.Errorf(model.KindInvalid, "id is required")
	}
	return nil
}

func (c *getAppointmentCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	d, err := h.store.AppointmentByID(ctx, c.AppointmentID)
	if err != nil {
		return nil, 0, err
	}
	allowed, err := h.guard.CanAccessClient(ctx, c.actor, d.ClientID)
	if err != nil {
		return nil, 0, err
	}
	if !allowed {
		// Existence of other clients' appointments is not disclosed.
		return nil, 0, model.ErrNotFound
	}
	return detailItemFrom(d), http.StatusOK, nil
}

type listSlotTypesCommand struct{}

func (c *listSlotTypesCommand) validate() error { return nil }

func (c *listSlotTypesCommand) run(ctx context.Context, h *Handler) (any, int, error) {
	types, err := h.store.ListSlotTypes(ctx)
	if err != nil {
		return nil, 0, err
	}
	items := make([]slotTypeItem, 0, len(types))
	for _, st := range types {
		items = append(items, slotTypeItem{Code: st.Code, Description: st.Description})
	}
	return items, http.StatusOK, nil
}
