package transition

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/guard"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
	"github.com/marcodenti/gymbook/services/booking-service/internal/storage"
)

var (
	admin = guard.Actor{UserID: "u-admin", Role: guard.RoleAdmin}
	owner = guard.Actor{UserID: "u-1", ClientID: "c-1", Role: guard.RoleClient}
	other = guard.Actor{UserID: "u-2", ClientID: "c-2", Role: guard.RoleClient}
)

func testService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	start := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	slotID := "slot-1"
	store.SeedClient(model.ClientRef{ID: "c-1", FirstName: "Ada", LastName: "Moretti", Email: "ada@example.com"})
	store.SeedClient(model.ClientRef{ID: "c-2", FirstName: "Bo", LastName: "Keller", Email: "bo@example.com"})
	store.SeedSlot(model.TimeSlot{ID: slotID, TypeTag: "personal-training", StartAt: start, EndAt: start.Add(time.Hour), Occupied: true})

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = tx.InsertAppointment(ctx, model.Appointment{
		ID:          "appt-1",
		ClientID:    "c-1",
		SlotID:      &slotID,
		ScheduledAt: start,
		TypeTag:     "personal-training",
		Status:      model.StatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, guard.NewStaticProvider(), logger), store
}

func lastEventType(t *testing.T, store *storage.MemoryStore) string {
	t.Helper()
	events := store.Events()
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	return events[len(events)-1].EventType
}

func TestConfirm(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	appt, err := svc.Confirm(ctx, admin, "appt-1")
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Fatalf("status = %s, want confirmed", appt.Status)
	}
	if got := lastEventType(t, store); got != outbox.EventAppointmentConfirmed {
		t.Fatalf("event = %s, want %s", got, outbox.EventAppointmentConfirmed)
	}

	// Repeating the decision is a no-op, not an error.
	if _, err := svc.Confirm(ctx, admin, "appt-1"); err != nil {
		t.Fatalf("repeated confirm: %v", err)
	}
	if n := len(store.Events()); n != 1 {
		t.Fatalf("repeated confirm emitted events, total %d", n)
	}

	// The opposite decision on a settled appointment is a conflict.
	if _, err := svc.Reject(ctx, admin, "appt-1"); model.KindOf(err) != model.KindConflict {
		t.Fatalf("reject after confirm: got %v, want conflict", err)
	}
}

func TestRejectFreesSlot(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	appt, err := svc.Reject(ctx, admin, "appt-1")
	if err != nil {
		t.Fatal(err)
	}
	if appt.Status != model.StatusRejected {
		t.Fatalf("status = %s, want rejected", appt.Status)
	}
	if got := lastEventType(t, store); got != outbox.EventAppointmentRejected {
		t.Fatalf("event = %s, want %s", got, outbox.EventAppointmentRejected)
	}

	slot, err := store.SlotByID(ctx, "slot-1")
	if err != nil {
		t.Fatal(err)
	}
	if slot.Occupied {
		t.Fatal("slot still occupied after reject")
	}

	if _, err := svc.Reject(ctx, admin, "appt-1"); err != nil {
		t.Fatalf("repeated reject: %v", err)
	}
	if _, err := svc.Confirm(ctx, admin, "appt-1"); model.KindOf(err) != model.KindConflict {
		t.Fatal("confirm after reject should conflict")
	}
}

func TestRejectKeepsSlotWithSecondLiveAppointment(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	// Seed a second live appointment on the same slot, the kind of stray
	// row older data can carry. The recount must keep the slot occupied.
	slotID := "slot-1"
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	err = tx.InsertAppointment(ctx, model.Appointment{
		ID:          "appt-2",
		ClientID:    "c-2",
		SlotID:      &slotID,
		ScheduledAt: time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC),
		TypeTag:     "personal-training",
		Status:      model.StatusConfirmed,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Reject(ctx, admin, "appt-1"); err != nil {
		t.Fatal(err)
	}
	slot, err := store.SlotByID(ctx, slotID)
	if err != nil {
		t.Fatal(err)
	}
	if !slot.Occupied {
		t.Fatal("slot freed while another live appointment references it")
	}
}

func TestDecisionsAreAdminOnly(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.Confirm(ctx, owner, "appt-1"); model.KindOf(err) != model.KindForbidden {
		t.Fatalf("owner confirm: got %v, want forbidden", err)
	}
	if _, err := svc.Reject(ctx, owner, "appt-1"); model.KindOf(err) != model.KindForbidden {
		t.Fatalf("owner reject: got %v, want forbidden", err)
	}
	if _, err := svc.Confirm(ctx, admin, "missing"); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("confirm missing: got %v, want not found", err)
	}
}

func TestCancel(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	// A stranger cancelling sees not-found, not forbidden.
	if err := svc.Cancel(ctx, other, "appt-1"); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("stranger cancel: got %v, want not found", err)
	}

	if err := svc.Cancel(ctx, owner, "appt-1"); err != nil {
		t.Fatal(err)
	}
	if got := lastEventType(t, store); got != outbox.EventAppointmentCancelled {
		t.Fatalf("event = %s, want %s", got, outbox.EventAppointmentCancelled)
	}

	if _, err := store.AppointmentByID(ctx, "appt-1"); model.KindOf(err) != model.KindNotFound {
		t.Fatal("appointment still present after cancel")
	}
	slot, err := store.SlotByID(ctx, "slot-1")
	if err != nil {
		t.Fatal(err)
	}
	if slot.Occupied {
		t.Fatal("slot still occupied after cancel")
	}

	if err := svc.Cancel(ctx, owner, "appt-1"); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("double cancel: got %v, want not found", err)
	}
}

func TestAdminCancelsAnyAppointment(t *testing.T) {
	svc, _ := testService(t)
	if err := svc.Cancel(context.Background(), admin, "appt-1"); err != nil {
		t.Fatal(err)
	}
}
