package model

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the transport boundary. Raw storage errors
// are translated to the nearest kind before they cross it.
type Kind int

const (
	KindInvalid Kind = iota + 1
	KindForbidden
	KindNotFound
	KindConflict
	KindInternal
)

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func Errorf(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

var (
	// ErrNotFound covers both rows that do not exist and rows the actor may
	// not see; the two are deliberately indistinguishable.
	ErrNotFound  = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrForbidden = &Error{Kind: KindForbidden, Msg: "forbidden"}

	// ErrSlotTaken: another client holds the slot's active appointment.
	ErrSlotTaken = &Error{Kind: KindConflict, Msg: "slot already booked"}
	// ErrOwnBooking: the requesting client itself holds the slot, so a retry
	// is pointless. Kept distinct from ErrSlotTaken on purpose.
	ErrOwnBooking = &Error{Kind: KindConflict, Msg: "you have already booked this slot"}
	// ErrDuplicateBooking: the client already has an active appointment at
	// the same instant on some other slot.
	ErrDuplicateBooking = &Error{Kind: KindConflict, Msg: "an active appointment already exists at this time"}

	ErrDuplicateSlot = &Error{Kind: KindConflict, Msg: "a slot already exists for this time window"}
	ErrSlotOccupied  = &Error{Kind: KindConflict, Msg: "slot has an active appointment"}
)

// KindOf extracts the classification of err, defaulting to KindInternal for
// anything that is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
