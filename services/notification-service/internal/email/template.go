package email

import (
	"fmt"
	"time"
)

// Appointment carries the fields the mail templates need.
type Appointment struct {
	ClientName  string
	TypeTag     string
	ScheduledAt time.Time
}

func when(t time.Time) string {
	return t.Format("Monday, 2 January 2006 at 15:04")
}

// RequestReceived goes to staff when a client asks for a slot.
func RequestReceived(a Appointment) (subject, body string) {
	subject = "New appointment request"
	body = fmt.Sprintf(
		"%s requested a %s appointment on %s.\n\nPlease confirm or reject it from the admin panel.\n",
		a.ClientName, a.TypeTag, when(a.ScheduledAt))
	return subject, body
}

// Confirmed goes to the client once staff accepts.
func Confirmed(a Appointment) (subject, body string) {
	subject = "Your appointment is confirmed"
	body = fmt.Sprintf(
		"Hi %s,\n\nyour %s appointment on %s is confirmed. See you there!\n",
		a.ClientName, a.TypeTag, when(a.ScheduledAt))
	return subject, body
}

// Rejected goes to the client when staff declines.
func Rejected(a Appointment) (subject, body string) {
	subject = "Your appointment request was declined"
	body = fmt.Sprintf(
		"Hi %s,\n\nunfortunately your %s appointment request for %s could not be accepted. The slot is free again, feel free to pick another one.\n",
		a.ClientName, a.TypeTag, when(a.ScheduledAt))
	return subject, body
}

// Reminder goes to the client ahead of a confirmed appointment.
func Reminder(a Appointment) (subject, body string) {
	subject = "Appointment reminder"
	body = fmt.Sprintf(
		"Hi %s,\n\nthis is a reminder for your %s appointment on %s.\n",
		a.ClientName, a.TypeTag, when(a.ScheduledAt))
	return subject, body
}

// Cancelled goes to staff when a booking disappears.
func Cancelled(a Appointment) (subject, body string) {
	subject = "Appointment cancelled"
	body = fmt.Sprintf(
		"%s cancelled the %s appointment on %s. The slot is bookable again.\n",
		a.ClientName, a.TypeTag, when(a.ScheduledAt))
	return subject, body
}
