package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
)

// MemoryStore keeps everything in maps. Row locks are real mutexes held
// until Commit or Rollback, so concurrent transactions contend exactly the
// way they do against Postgres FOR UPDATE.
type MemoryStore struct {
	mu        sync.Mutex
	slots     map[string]model.TimeSlot
	appts     map[string]model.Appointment
	clients   map[string]model.ClientRef
	slotTypes []model.SlotType
	events    []outbox.Event

	slotLocks map[string]*sync.Mutex
	apptLocks map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:     make(map[string]model.TimeSlot),
		appts:     make(map[string]model.Appointment),
		clients:   make(map[string]model.ClientRef),
		slotLocks: make(map[string]*sync.Mutex),
		apptLocks: make(map[string]*sync.Mutex),
	}
}

// SeedSlot, SeedClient and SeedSlotTypes prepare fixtures outside any
// transaction.
func (s *MemoryStore) SeedSlot(slot model.TimeSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slot.ID] = slot
}

func (s *MemoryStore) SeedClient(c model.ClientRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

func (s *MemoryStore) SeedSlotTypes(types ...model.SlotType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotTypes = append(s.slotTypes, types...)
}

// Events returns a copy of everything written through InsertEvent.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memTx{
		store:        s,
		pendingSlots: make(map[string]*model.TimeSlot),
		pendingAppts: make(map[string]*model.Appointment),
	}, nil
}

func (s *MemoryStore) SlotByID(_ context.Context, slotID string) (model.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[slotID]
	if !ok {
		return model.TimeSlot{}, model.ErrNotFound
	}
	return slot, nil
}

func (s *MemoryStore) ListSlots(_ context.Context, f SlotFilter) ([]model.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slots []model.TimeSlot
	for _, slot := range s.slots {
		if !f.From.IsZero() && slot.StartAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !slot.StartAt.Before(f.To) {
			continue
		}
		if f.TypeTag != "" && slot.TypeTag != f.TypeTag {
			continue
		}
		if f.OnlyFree && slot.Occupied {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartAt.Before(slots[j].StartAt) })
	if f.Limit > 0 && len(slots) > f.Limit {
		slots = slots[:f.Limit]
	}
	return slots, nil
}

func (s *MemoryStore) AppointmentByID(_ context.Context, apptID string) (model.AppointmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	appt, ok := s.appts[apptID]
	if !ok {
		return model.AppointmentDetail{}, model.ErrNotFound
	}
	return s.detailLocked(appt), nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, f AppointmentFilter) ([]model.AppointmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var details []model.AppointmentDetail
	for _, appt := range s.appts {
		if f.ClientID != "" && appt.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && appt.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && appt.ScheduledAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !appt.ScheduledAt.Before(f.To) {
			continue
		}
		details = append(details, s.detailLocked(appt))
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].ScheduledAt.Equal(details[j].ScheduledAt) {
			return strings.Compare(details[i].ID, details[j].ID) < 0
		}
		return details[i].ScheduledAt.Before(details[j].ScheduledAt)
	})
	if f.Limit > 0 && len(details) > f.Limit {
		details = details[:f.Limit]
	}
	return details, nil
}

func (s *MemoryStore) ListSlotTypes(_ context.Context) ([]model.SlotType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]model.SlotType, len(s.slotTypes))
	copy(types, s.slotTypes)
	sort.Slice(types, func(i, j int) bool {
		if types[i].Position == types[j].Position {
			return types[i].Code < types[j].Code
		}
		return types[i].Position < types[j].Position
	})
	return types, nil
}

func (s *MemoryStore) ClientByID(_ context.Context, clientID string) (model.ClientRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return model.ClientRef{}, model.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) detailLocked(appt model.Appointment) model.AppointmentDetail {
	return model.AppointmentDetail{Appointment: appt, Client: s.clients[appt.ClientID]}
}

func (s *MemoryStore) rowLock(locks map[string]*sync.Mutex, id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := locks[id]
	if !ok {
		l = &sync.Mutex{}
		locks[id] = l
	}
	return l
}

// memTx buffers writes until Commit, mirroring read-committed visibility:
// other transactions never see uncommitted changes. A nil pending pointer
// marks a row deleted inside this transaction.
type memTx struct {
	store        *MemoryStore
	pendingSlots map[string]*model.TimeSlot
	pendingAppts map[string]*model.Appointment
	events       []outbox.Event
	held         []*sync.Mutex
	heldIDs      map[string]bool
	done         bool
}

func (t *memTx) lockRow(locks map[string]*sync.Mutex, key, id string) {
	if t.heldIDs == nil {
		t.heldIDs = make(map[string]bool)
	}
	if t.heldIDs[key+id] {
		return
	}
	l := t.store.rowLock(locks, id)
	l.Lock()
	t.held = append(t.held, l)
	t.heldIDs[key+id] = true
}

func (t *memTx) SlotForUpdate(_ context.Context, slotID string) (model.TimeSlot, error) {
	t.lockRow(t.store.slotLocks, "slot:", slotID)
	if p, ok := t.pendingSlots[slotID]; ok {
		if p == nil {
			return model.TimeSlot{}, model.ErrNotFound
		}
		return *p, nil
	}
	t.store.mu.Lock()
	slot, ok := t.store.slots[slotID]
	t.store.mu.Unlock()
	if !ok {
		return model.TimeSlot{}, model.ErrNotFound
	}
	return slot, nil
}

func (t *memTx) InsertSlot(_ context.Context, slot model.TimeSlot) error {
	t.store.mu.Lock()
	_, exists := t.store.slots[slot.ID]
	var clash bool
	for _, other := range t.store.slots {
		if other.TypeTag == slot.TypeTag && other.StartAt.Equal(slot.StartAt) {
			clash = true
			break
		}
	}
	t.store.mu.Unlock()
	if exists || clash {
		return model.ErrDuplicateSlot
	}
	for _, p := range t.pendingSlots {
		if p != nil && p.TypeTag == slot.TypeTag && p.StartAt.Equal(slot.StartAt) {
			return model.ErrDuplicateSlot
		}
	}
	s := slot
	t.pendingSlots[slot.ID] = &s
	return nil
}

func (t *memTx) SetSlotOccupied(ctx context.Context, slotID string, occupied bool) error {
	slot, err := t.SlotForUpdate(ctx, slotID)
	if err != nil {
		return err
	}
	slot.Occupied = occupied
	t.pendingSlots[slotID] = &slot
	return nil
}

func (t *memTx) DeleteSlot(ctx context.Context, slotID string) error {
	if _, err := t.SlotForUpdate(ctx, slotID); err != nil {
		return err
	}
	t.pendingSlots[slotID] = nil
	return nil
}

func (t *memTx) AppointmentForUpdate(_ context.Context, apptID string) (model.Appointment, error) {
	t.lockRow(t.store.apptLocks, "appt:", apptID)
	if p, ok := t.pendingAppts[apptID]; ok {
		if p == nil {
			return model.Appointment{}, model.ErrNotFound
		}
		return *p, nil
	}
	t.store.mu.Lock()
	appt, ok := t.store.appts[apptID]
	t.store.mu.Unlock()
	if !ok {
		return model.Appointment{}, model.ErrNotFound
	}
	return appt, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt model.Appointment) error {
	t.store.mu.Lock()
	_, exists := t.store.appts[appt.ID]
	t.store.mu.Unlock()
	if exists {
		return model.ErrDuplicateBooking
	}
	a := appt
	t.pendingAppts[appt.ID] = &a
	return nil
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, apptID string, status model.Status) error {
	appt, err := t.AppointmentForUpdate(ctx, apptID)
	if err != nil {
		return err
	}
	appt.Status = status
	appt.UpdatedAt = time.Now().UTC()
	t.pendingAppts[apptID] = &appt
	return nil
}

func (t *memTx) DeleteAppointment(ctx context.Context, apptID string) error {
	if _, err := t.AppointmentForUpdate(ctx, apptID); err != nil {
		return err
	}
	t.pendingAppts[apptID] = nil
	return nil
}

func (t *memTx) ActiveAppointmentForSlot(_ context.Context, slotID string) (model.Appointment, error) {
	for _, appt := range t.visibleAppointments() {
		if appt.SlotID != nil && *appt.SlotID == slotID && appt.Status.Active() {
			return appt, nil
		}
	}
	return model.Appointment{}, model.ErrNotFound
}

func (t *memTx) HasActiveAppointmentAt(_ context.Context, clientID string, at time.Time) (bool, error) {
	for _, appt := range t.visibleAppointments() {
		if appt.ClientID == clientID && appt.ScheduledAt.Equal(at) && appt.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountActiveForSlot(_ context.Context, slotID string) (int, error) {
	n := 0
	for _, appt := range t.visibleAppointments() {
		if appt.SlotID != nil && *appt.SlotID == slotID && appt.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ClientByID(_ context.Context, clientID string) (model.ClientRef, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	c, ok := t.store.clients[clientID]
	if !ok {
		return model.ClientRef{}, model.ErrNotFound
	}
	return c, nil
}

func (t *memTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	t.store.mu.Lock()
	for id, p := range t.pendingSlots {
		if p == nil {
			delete(t.store.slots, id)
			continue
		}
		t.store.slots[id] = *p
	}
	for id, p := range t.pendingAppts {
		if p == nil {
			delete(t.store.appts, id)
			continue
		}
		t.store.appts[id] = *p
	}
	t.store.events = append(t.store.events, t.events...)
	t.store.mu.Unlock()

	t.release()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

// visibleAppointments merges committed rows with this transaction's pending
// writes, pending taking precedence.
func (t *memTx) visibleAppointments() []model.Appointment {
	t.store.mu.Lock()
	var appts []model.Appointment
	for id, appt := range t.store.appts {
		if _, overridden := t.pendingAppts[id]; overridden {
			continue
		}
		appts = append(appts, appt)
	}
	t.store.mu.Unlock()

	for _, p := range t.pendingAppts {
		if p != nil {
			appts = append(appts, *p)
		}
	}
	return appts
}
