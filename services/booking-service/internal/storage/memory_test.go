package storage

import (
	"context"
	"testing"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	s.SeedClient(model.ClientRef{ID: "c-1", FirstName: "Ada", LastName: "Moretti", Email: "ada@example.com"})
	s.SeedSlot(model.TimeSlot{
		ID:      "slot-1",
		TypeTag: "personal-training",
		StartAt: time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 9, 14, 11, 0, 0, 0, time.UTC),
	})
	return s
}

func TestSlotLockHeldUntilCommit(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	tx1, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx1.SlotForUpdate(ctx, "slot-1"); err != nil {
		t.Fatal(err)
	}
	if err := tx1.SetSlotOccupied(ctx, "slot-1", true); err != nil {
		t.Fatal(err)
	}

	// Second transaction must not observe the slot until tx1 commits.
	observed := make(chan model.TimeSlot, 1)
	go func() {
		tx2, err := store.Begin(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		defer tx2.Rollback(ctx)
		slot, err := tx2.SlotForUpdate(ctx, "slot-1")
		if err != nil {
			t.Error(err)
			return
		}
		observed <- slot
	}()

	select {
	case <-observed:
		t.Fatal("second transaction acquired the row lock before commit")
	case <-time.After(50 * time.Millisecond):
	}

	if err := tx1.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case slot := <-observed:
		if !slot.Occupied {
			t.Fatal("second transaction did not see the committed write")
		}
	case <-time.After(time.Second):
		t.Fatal("second transaction never acquired the lock after commit")
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.SetSlotOccupied(ctx, "slot-1", true); err != nil {
		t.Fatal(err)
	}
	if err := tx.InsertAppointment(ctx, model.Appointment{ID: "a-1", ClientID: "c-1", Status: model.StatusPending}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}

	slot, err := store.SlotByID(ctx, "slot-1")
	if err != nil {
		t.Fatal(err)
	}
	if slot.Occupied {
		t.Fatal("rolled-back write leaked into the store")
	}
	if _, err := store.AppointmentByID(ctx, "a-1"); err == nil {
		t.Fatal("rolled-back appointment is visible")
	}
}

func TestInsertSlotRejectsDuplicateStart(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback(ctx)

	err = tx.InsertSlot(ctx, model.TimeSlot{
		ID:      "slot-2",
		TypeTag: "personal-training",
		StartAt: time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 9, 14, 11, 0, 0, 0, time.UTC),
	})
	if model.KindOf(err) != model.KindConflict {
		t.Fatalf("want conflict for duplicate start, got %v", err)
	}
}

func TestListSlotsFilters(t *testing.T) {
	ctx := context.Background()
	store := seedStore(t)
	store.SeedSlot(model.TimeSlot{
		ID:       "slot-2",
		TypeTag:  "massage",
		StartAt:  time.Date(2026, 9, 14, 12, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2026, 9, 14, 13, 0, 0, 0, time.UTC),
		Occupied: true,
	})

	free, err := store.ListSlots(ctx, SlotFilter{OnlyFree: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(free) != 1 || free[0].ID != "slot-1" {
		t.Fatalf("OnlyFree: got %+v", free)
	}

	byType, err := store.ListSlots(ctx, SlotFilter{TypeTag: "massage"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].ID != "slot-2" {
		t.Fatalf("TypeTag: got %+v", byType)
	}

	windowed, err := store.ListSlots(ctx, SlotFilter{
		From: time.Date(2026, 9, 14, 11, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(windowed) != 1 || windowed[0].ID != "slot-2" {
		t.Fatalf("window: got %+v", windowed)
	}
}
