// Package handlers exposes the booking API. Handlers translate HTTP into
// typed commands and send them through one dispatcher; the envelope and
// error mapping live in exactly one place.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/reservation"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
	"github.com/marcodenti/gymbook/services/booking-service/internal/transition"
)

type Handler struct {
	store       storage.Store
	coordinator *reservation.Coordinator
	transitions *transition.Service
	guard       guard.Provider
	logger      *slog.Logger
}

func New(store storage.Store, coordinator *reservation.Coordinator, transitions *transition.Service, g guard.Provider, logger *slog.Logger) *Handler {
	return &Handler{
		store:       store,
		coordinator: coordinator,
		transitions: transitions,
		guard:       g,
		logger:      logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.HandleFunc("/api/v1/slots/create", h.CreateSlot)
	mux.HandleFunc("/api/v1/slots/delete", h.DeleteSlot)
	mux.HandleFunc("/api/v1/slot-types", h.SlotTypes)
	mux.HandleFunc("/api/v1/appointments", h.Appointments)
	mux.HandleFunc("/api/v1/appointments/get", h.Appointment)
	mux.HandleFunc("/api/v1/appointments/book", h.Book)
	mux.HandleFunc("/api/v1/appointments/create", h.CreateAppointment)
	mux.HandleFunc("/api/v1/appointments/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/appointments/reject", h.Reject)
	mux.HandleFunc("/api/v1/appointments/cancel", h.Cancel)
}

// actorFrom reads the identity headers the gateway sets after verifying the
// caller's token.
func actorFrom(r *http.Request) guard.Actor {
	return guard.Actor{
		UserID:   strings.TrimSpace(r.Header.Get("X-User-Id")),
		ClientID: strings.TrimSpace(r.Header.Get("X-Client-Id")),
		Role:     strings.TrimSpace(r.Header.Get("X-Role")),
	}
}

func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, cmd command) {
	if err := cmd.validate(); err != nil {
		fail(w, err)
		return
	}
	data, status, err := cmd.run(r.Context(), h)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			h.logger.Error("command failed", "path", r.URL.Path, "err", err)
		}
		fail(w, err)
		return
	}
	respond(w, status, data)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		fail(w, model.Errorf(model.KindInvalid, "invalid json body"))
		return false
	}
	return true
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	cmd := bookSlotCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	cmd := createAppointmentCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	cmd := confirmCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	cmd := rejectCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	cmd := cancelCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	cmd := createSlotCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	cmd := deleteSlotCommand{actor: actorFrom(r)}
	if !h.decode(w, r, &cmd) {
		return
	}
	h.dispatch(w, r, &cmd)
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := storage.SlotFilter{
		TypeTag:  strings.TrimSpace(q.Get("type")),
		OnlyFree: q.Get("free") == "true" || q.Get("free") == "1",
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(w, model.Errorf(model.KindInvalid, "invalid from"))
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(w, model.Errorf(model.KindInvalid, "invalid to"))
			return
		}
		filter.To = t
	}
	h.dispatch(w, r, &listSlotsCommand{actor: actorFrom(r), filter: filter})
}

func (h *Handler) SlotTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.dispatch(w, r, &listSlotTypesCommand{})
}

func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	filter := storage.AppointmentFilter{
		ClientID: strings.TrimSpace(q.Get("client_id")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, ok := model.ParseStatus(raw)
		if !ok {
			fail(w, model.Errorf(model.KindInvalid, "invalid status"))
			return
		}
		filter.Status = status
	}
	h.dispatch(w, r, &listAppointmentsCommand{actor: actorFrom(r), filter: filter})
}

func (h *Handler) Appointment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.dispatch(w, r, &getAppointmentCommand{
		actor:         actorFrom(r),
		AppointmentID: r.URL.Query().Get("id"),
	})
}

type slotItem struct {
	SlotID    string `json:"slot_id"`
	TypeTag   string `json:"type_tag"`
	StartAt   string `json:"start_at"`
	EndAt     string `json:"end_at"`
	Occupied  bool   `json:"occupied"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func slotItemFrom(slot model.TimeSlot) slotItem {
	item := slotItem{
		SlotID:   slot.ID,
		TypeTag:  slot.TypeTag,
		StartAt:  slot.StartAt.Format(time.RFC3339),
		EndAt:    slot.EndAt.Format(time.RFC3339),
		Occupied: slot.Occupied,
		Note:     slot.Note,
	}
	if !slot.CreatedAt.IsZero() {
		item.CreatedAt = slot.CreatedAt.Format(time.RFC3339)
	}
	return item
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	SlotID        string `json:"slot_id,omitempty"`
	ScheduledAt   string `json:"scheduled_at"`
	TypeTag       string `json:"type_tag,omitempty"`
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
}

func appointmentItemFrom(appt model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		ScheduledAt:   appt.ScheduledAt.Format(time.RFC3339),
		TypeTag:       appt.TypeTag,
		Status:        string(appt.Status),
		Note:          appt.Note,
	}
	if appt.SlotID != nil {
		item.SlotID = *appt.SlotID
	}
	return item
}

type clientItem struct {
	ClientID  string `json:"client_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type appointmentDetailItem struct {
	appointmentItem
	Client clientItem `json:"client"`
}

func detailItemFrom(d model.AppointmentDetail) appointmentDetailItem {
	return appointmentDetailItem{
		appointmentItem: appointmentItemFrom(d.Appointment),
		Client: clientItem{
			ClientID:  d.Client.ID,
			FirstName: d.Client.FirstName,
			LastName:  d.Client.LastName,
			Email:     d.Client.Email,
		},
	}
}

type slotTypeItem struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}
