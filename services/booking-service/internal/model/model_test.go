package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusActive(t *testing.T) {
	cases := []struct {
		status Status
		active bool
	}{
		{StatusPending, true},
		{StatusConfirmed, true},
		{StatusRejected, false},
	}
	for _, tc := range cases {
		if got := tc.status.Active(); got != tc.active {
			t.Errorf("%s.Active() = %v, want %v", tc.status, got, tc.active)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !StatusConfirmed.Terminal() || !StatusRejected.Terminal() {
		t.Error("confirmed and rejected must be terminal")
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("confirmed"); !ok || s != StatusConfirmed {
		t.Fatalf("ParseStatus(confirmed) = %q, %v", s, ok)
	}
	if _, ok := ParseStatus("booked"); ok {
		t.Fatal("ParseStatus should reject unknown values")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Errorf(KindInvalid, "bad input"), http.StatusBadRequest},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrSlotTaken, http.StatusConflict},
		{ErrOwnBooking, http.StatusConflict},
		{errors.New("pg is down"), http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", ErrNotFound), http.StatusNotFound},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestConflictMessagesDiffer(t *testing.T) {
	// Clients react differently to the two conflicts (retry another slot vs
	// no-op), so the messages must stay distinguishable.
	if ErrSlotTaken.Error() == ErrOwnBooking.Error() {
		t.Fatal("conflict messages must differ")
	}
}
