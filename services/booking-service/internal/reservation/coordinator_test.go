package reservation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
)

var testStart = time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)

func testCoordinator(t *testing.T) (*Coordinator, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	store.SeedSlot(model.TimeSlot{
		ID:      "slot-1",
		TypeTag: "personal-training",
		StartAt: testStart,
		EndAt:   testStart.Add(time.Hour),
	})
	for i := 1; i <= 20; i++ {
		store.SeedClient(model.ClientRef{
			ID:        fmt.Sprintf("c-%d", i),
			FirstName: "Client",
			LastName:  fmt.Sprintf("Number%d", i),
			Email:     fmt.Sprintf("client%d@example.com", i),
		})
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(store, guard.NewStaticProvider(), logger)
	c.now = func() time.Time { return testStart.Add(-24 * time.Hour) }
	return c, store
}

func clientActor(n int) guard.Actor {
	id := fmt.Sprintf("c-%d", n)
	return guard.Actor{UserID: "u-" + id, ClientID: id, Role: guard.RoleClient}
}

func TestReservePendingForClient(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()

	appt, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-1", ClientID: "c-1", Note: "first session"})
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("client booking status = %s, want pending", appt.Status)
	}
	if !appt.ScheduledAt.Equal(testStart) {
		t.Fatalf("scheduled_at = %v, want slot start %v", appt.ScheduledAt, testStart)
	}

	slot, err := store.SlotByID(ctx, "slot-1")
	if err != nil {
		t.Fatal(err)
	}
	if !slot.Occupied {
		t.Fatal("slot not marked occupied after reserve")
	}

	events := store.Events()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentRequested {
		t.Fatalf("events = %+v, want one requested event", events)
	}
}

func TestReserveConfirmedForAdmin(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()

	admin := guard.Actor{UserID: "u-admin", Role: guard.RoleAdmin}
	appt, err := c.Reserve(ctx, ReserveInput{Actor: admin, SlotID: "slot-1", ClientID: "c-2"})
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("admin booking status = %s, want confirmed", appt.Status)
	}

	events := store.Events()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentConfirmed {
		t.Fatalf("events = %+v, want one confirmed event", events)
	}
}

func TestReserveConflicts(t *testing.T) {
	c, _ := testCoordinator(t)
	ctx := context.Background()

	if _, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-1", ClientID: "c-1"}); err != nil {
		t.Fatal(err)
	}

	// Rebooking the same slot reports it as the caller's own booking.
	_, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-1", ClientID: "c-1"})
	if err == nil || err.Error() != model.ErrOwnBooking.Error() {
		t.Fatalf("own rebooking: got %v, want %v", err, model.ErrOwnBooking)
	}

	// A different client gets the taken message.
	_, err = c.Reserve(ctx, ReserveInput{Actor: clientActor(2), SlotID: "slot-1", ClientID: "c-2"})
	if err == nil || err.Error() != model.ErrSlotTaken.Error() {
		t.Fatalf("taken slot: got %v, want %v", err, model.ErrSlotTaken)
	}
	if model.HTTPStatus(err) != 409 {
		t.Fatalf("conflict status = %d, want 409", model.HTTPStatus(err))
	}
}

func TestReserveDuplicateInstant(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()

	// A second slot of a different type at the same instant.
	store.SeedSlot(model.TimeSlot{
		ID:      "slot-2",
		TypeTag: "massage",
		StartAt: testStart,
		EndAt:   testStart.Add(time.Hour),
	})

	if _, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-1", ClientID: "c-1"}); err != nil {
		t.Fatal(err)
	}
	_, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-2", ClientID: "c-1"})
	if model.KindOf(err) != model.KindConflict {
		t.Fatalf("same-instant booking: got %v, want conflict", err)
	}
}

func TestReserveAccessAndValidation(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()

	// A client may not book for someone else.
	_, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-1", ClientID: "c-2"})
	if model.KindOf(err) != model.KindForbidden {
		t.Fatalf("cross-client booking: got %v, want forbidden", err)
	}

	_, err = c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "missing", ClientID: "c-1"})
	if model.KindOf(err) != model.KindNotFound {
		t.Fatalf("unknown slot: got %v, want not found", err)
	}

	_, err = c.Reserve(ctx, ReserveInput{Actor: guard.Actor{Role: guard.RoleAdmin}, SlotID: "slot-1", ClientID: "ghost"})
	if model.KindOf(err) != model.KindNotFound {
		t.Fatalf("unknown client: got %v, want not found", err)
	}

	_, err = c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "", ClientID: "c-1"})
	if model.KindOf(err) != model.KindInvalid {
		t.Fatalf("missing slot id: got %v, want invalid", err)
	}

	// A slot whose start has passed is no longer bookable.
	store.SeedSlot(model.TimeSlot{
		ID:      "slot-past",
		TypeTag: "personal-training",
		StartAt: testStart.Add(-48 * time.Hour),
		EndAt:   testStart.Add(-47 * time.Hour),
	})
	_, err = c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-past", ClientID: "c-1"})
	if model.KindOf(err) != model.KindInvalid {
		t.Fatalf("past slot: got %v, want invalid", err)
	}
}

func TestReserveBlockedSlot(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()

	// Occupied flag set by staff with no appointment behind it.
	store.SeedSlot(model.TimeSlot{
		ID:       "slot-blocked",
		TypeTag:  "personal-training",
		StartAt:  testStart.Add(2 * time.Hour),
		EndAt:    testStart.Add(3 * time.Hour),
		Occupied: true,
	})

	_, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-blocked", ClientID: "c-1"})
	if err == nil || err.Error() != model.ErrSlotOccupied.Error() {
		t.Fatalf("blocked slot: got %v, want %v", err, model.ErrSlotOccupied)
	}
}

// Twenty clients race for one slot; exactly one reservation must win and the
// rest must see a conflict.
func TestReserveRaceSingleWinner(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()

	const racers = 20
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Reserve(ctx, ReserveInput{
				Actor:    clientActor(i + 1),
				SlotID:   "slot-1",
				ClientID: fmt.Sprintf("c-%d", i+1),
			})
		}(i)
	}
	wg.Wait()

	won, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case model.KindOf(err) == model.KindConflict:
			conflicts++
		default:
			t.Errorf("unexpected error kind: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("winners = %d, want exactly 1", won)
	}
	if conflicts != racers-1 {
		t.Fatalf("conflicts = %d, want %d", conflicts, racers-1)
	}

	appts, err := store.ListAppointments(ctx, storage.AppointmentFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(appts) != 1 {
		t.Fatalf("stored appointments = %d, want 1", len(appts))
	}
}

func TestCreateAndRemoveSlot(t *testing.T) {
	c, _ := testCoordinator(t)
	ctx := context.Background()
	admin := guard.Actor{UserID: "u-admin", Role: guard.RoleAdmin}

	slot, err := c.CreateSlot(ctx, CreateSlotInput{
		Actor:   admin,
		TypeTag: "massage",
		StartAt: testStart.Add(4 * time.Hour),
		EndAt:   testStart.Add(5 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	// A second slot at the same type and start collides.
	_, err = c.CreateSlot(ctx, CreateSlotInput{
		Actor:   admin,
		TypeTag: "massage",
		StartAt: testStart.Add(4 * time.Hour),
		EndAt:   testStart.Add(6 * time.Hour),
	})
	if model.KindOf(err) != model.KindConflict {
		t.Fatalf("duplicate slot: got %v, want conflict", err)
	}

	// Clients cannot manage slots.
	if _, err := c.CreateSlot(ctx, CreateSlotInput{Actor: clientActor(1), TypeTag: "x", StartAt: testStart, EndAt: testStart.Add(time.Hour)}); model.KindOf(err) != model.KindForbidden {
		t.Fatalf("client CreateSlot: got %v, want forbidden", err)
	}
	if err := c.RemoveSlot(ctx, clientActor(1), slot.ID); model.KindOf(err) != model.KindForbidden {
		t.Fatalf("client RemoveSlot: got %v, want forbidden", err)
	}

	if err := c.RemoveSlot(ctx, admin, slot.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveSlot(ctx, admin, slot.ID); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("double remove: got %v, want not found", err)
	}
}

func TestRemoveSlotWithLiveAppointment(t *testing.T) {
	c, _ := testCoordinator(t)
	ctx := context.Background()

	if _, err := c.Reserve(ctx, ReserveInput{Actor: clientActor(1), SlotID: "slot-1", ClientID: "c-1"}); err != nil {
		t.Fatal(err)
	}
	err := c.RemoveSlot(ctx, guard.Actor{Role: guard.RoleAdmin}, "slot-1")
	if model.KindOf(err) != model.KindConflict {
		t.Fatalf("remove booked slot: got %v, want conflict", err)
	}
}

func TestRemoveBlockedSlot(t *testing.T) {
	c, _ := testCoordinator(t)
	ctx := context.Background()
	admin := guard.Actor{UserID: "u-admin", Role: guard.RoleAdmin}

	slot, err := c.CreateSlot(ctx, CreateSlotInput{
		Actor:   admin,
		TypeTag: "massage",
		StartAt: testStart.Add(8 * time.Hour),
		EndAt:   testStart.Add(9 * time.Hour),
		Blocked: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Blocked slots hold no appointment but are still occupied.
	if err := c.RemoveSlot(ctx, admin, slot.ID); model.KindOf(err) != model.KindConflict {
		t.Fatalf("remove blocked slot: got %v, want conflict", err)
	}
}

func TestCreateDirect(t *testing.T) {
	c, store := testCoordinator(t)
	ctx := context.Background()
	admin := guard.Actor{UserID: "u-admin", Role: guard.RoleAdmin}
	at := testStart.Add(2 * time.Hour)

	appt, err := c.CreateDirect(ctx, DirectInput{Actor: admin, ClientID: "c-1", ScheduledAt: at, TypeTag: "assessment"})
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", appt.Status)
	}
	if appt.SlotID != nil {
		t.Fatalf("slot_id = %v, want none", *appt.SlotID)
	}

	events := store.Events()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentConfirmed {
		t.Fatalf("events = %+v, want one confirmed event", events)
	}

	// Same client, same instant: still one appointment per instant.
	if _, err := c.CreateDirect(ctx, DirectInput{Actor: admin, ClientID: "c-1", ScheduledAt: at}); model.KindOf(err) != model.KindConflict {
		t.Fatalf("duplicate direct creation: got %v, want conflict", err)
	}

	if _, err := c.CreateDirect(ctx, DirectInput{Actor: clientActor(1), ClientID: "c-1", ScheduledAt: at.Add(time.Hour)}); model.KindOf(err) != model.KindForbidden {
		t.Fatalf("client direct creation: got %v, want forbidden", err)
	}
	if _, err := c.CreateDirect(ctx, DirectInput{Actor: admin, ClientID: "ghost", ScheduledAt: at.Add(time.Hour)}); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("unknown client: got %v, want not found", err)
	}
	if _, err := c.CreateDirect(ctx, DirectInput{Actor: admin, ClientID: "c-1", ScheduledAt: testStart.Add(-48 * time.Hour)}); model.KindOf(err) != model.KindInvalid {
		t.Fatalf("past direct creation: got %v, want invalid", err)
	}
}
