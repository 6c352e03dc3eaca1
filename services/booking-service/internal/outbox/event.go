package outbox

import (
	"encoding/json"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
)

// Topic names double as event types; every appointment transition gets its
// own topic so downstream consumers subscribe to exactly what they handle.
const (
	EventAppointmentRequested = "booking.appointment.requested.v1"
	EventAppointmentConfirmed = "booking.appointment.confirmed.v1"
	EventAppointmentRejected  = "booking.appointment.rejected.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
)

// Event is the domain event envelope written to the outbox table in the same
// transaction as the state change it describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// AppointmentPayload is the JSON body shared by all appointment events.
type AppointmentPayload struct {
	AppointmentID string    `json:"appointment_id"`
	ClientID      string    `json:"client_id"`
	SlotID        string    `json:"slot_id,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	TypeTag       string    `json:"type_tag,omitempty"`
	Status        string    `json:"status"`
	Note          string    `json:"note,omitempty"`
}

// AppointmentEvent builds the outbox envelope for an appointment transition.
func AppointmentEvent(eventType string, appt model.Appointment) (Event, error) {
	p := AppointmentPayload{
		AppointmentID: appt.ID,
		ClientID:      appt.ClientID,
		ScheduledAt:   appt.ScheduledAt,
		TypeTag:       appt.TypeTag,
		Status:        string(appt.Status),
		Note:          appt.Note,
	}
	if appt.SlotID != nil {
		p.SlotID = *appt.SlotID
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
