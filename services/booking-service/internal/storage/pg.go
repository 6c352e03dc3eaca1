package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/marcodenti/gymbook/libs/db"
	"github.com/marcodenti/gymbook/services/booking-service/internal/model"
	"github.com/marcodenti/gymbook/services/booking-service/internal/outbox"
)

const slotColumns = `id::text, type_tag, start_at, end_at, occupied, COALESCE(note, ''), created_at`

const apptColumns = `id::text, client_id::text, slot_id::text, scheduled_at, COALESCE(type_tag, ''), COALESCE(note, ''), status, created_at, updated_at`

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool   *db.Pool
	events *outbox.Repository
}

func NewPgStore(pool *db.Pool, events *outbox.Repository) *PgStore {
	return &PgStore{pool: pool, events: events}
}

func (s *PgStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, events: s.events}, nil
}

func (s *PgStore) SlotByID(ctx context.Context, slotID string) (model.TimeSlot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, slotID)
	return scanSlot(row)
}

func (s *PgStore) ListSlots(ctx context.Context, f SlotFilter) ([]model.TimeSlot, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE ($1::timestamptz IS NULL OR start_at >= $1)
			AND ($2::timestamptz IS NULL OR start_at < $2)
			AND ($3::text = '' OR type_tag = $3)
			AND (NOT $4::bool OR occupied = false)
		ORDER BY start_at ASC
		LIMIT $5
	`, nullTime(f.From), nullTime(f.To), f.TypeTag, f.OnlyFree, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []model.TimeSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return slots, nil
}

func (s *PgStore) AppointmentByID(ctx context.Context, apptID string) (model.AppointmentDetail, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT a.id::text, a.client_id::text, a.slot_id::text, a.scheduled_at,
			COALESCE(a.type_tag, ''), COALESCE(a.note, ''), a.status, a.created_at, a.updated_at,
			c.id::text, c.first_name, c.last_name, c.email
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		WHERE a.id = $1
	`, apptID)
	return scanDetail(row)
}

func (s *PgStore) ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.AppointmentDetail, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT a.id::text, a.client_id::text, a.slot_id::text, a.scheduled_at,
			COALESCE(a.type_tag, ''), COALESCE(a.note, ''), a.status, a.created_at, a.updated_at,
			c.id::text, c.first_name, c.last_name, c.email
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		WHERE ($1::text = '' OR a.client_id::text = $1)
			AND ($2::text = '' OR a.status = $2)
			AND ($3::timestamptz IS NULL OR a.scheduled_at >= $3)
			AND ($4::timestamptz IS NULL OR a.scheduled_at < $4)
		ORDER BY a.scheduled_at ASC
		LIMIT $5
	`, f.ClientID, string(f.Status), nullTime(f.From), nullTime(f.To), f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []model.AppointmentDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return details, nil
}

func (s *PgStore) ListSlotTypes(ctx context.Context) ([]model.SlotType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, COALESCE(description, ''), position
		FROM slot_types
		ORDER BY position ASC, code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []model.SlotType
	for rows.Next() {
		var st model.SlotType
		if err := rows.Scan(&st.Code, &st.Description, &st.Position); err != nil {
			return nil, err
		}
		types = append(types, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return types, nil
}

func (s *PgStore) ClientByID(ctx context.Context, clientID string) (model.ClientRef, error) {
	return clientByID(ctx, s.pool, clientID)
}

type pgTx struct {
	tx     pgx.Tx
	events *outbox.Repository
}

func (t *pgTx) SlotForUpdate(ctx context.Context, slotID string) (model.TimeSlot, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
		FOR UPDATE
	`, slotID)
	return scanSlot(row)
}

func (t *pgTx) InsertSlot(ctx context.Context, slot model.TimeSlot) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO time_slots (id, type_tag, start_at, end_at, occupied, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, slot.ID, slot.TypeTag, slot.StartAt, slot.EndAt, slot.Occupied, slot.Note)
	return mapPgError(err, model.ErrDuplicateSlot)
}

func (t *pgTx) SetSlotOccupied(ctx context.Context, slotID string, occupied bool) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE time_slots SET occupied = $2 WHERE id = $1
	`, slotID, occupied)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteSlot(ctx context.Context, slotID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM time_slots WHERE id = $1`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgTx) AppointmentForUpdate(ctx context.Context, apptID string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, apptID)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (id, client_id, slot_id, scheduled_at, type_tag, note, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, appt.ID, appt.ClientID, appt.SlotID, appt.ScheduledAt, appt.TypeTag, appt.Note, string(appt.Status))
	return mapPgError(err, model.ErrDuplicateBooking)
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, apptID string, status model.Status) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1
	`, apptID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteAppointment(ctx context.Context, apptID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, apptID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (t *pgTx) ActiveAppointmentForSlot(ctx context.Context, slotID string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, slotID)
	return scanAppointment(row)
}

func (t *pgTx) HasActiveAppointmentAt(ctx context.Context, clientID string, at time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE client_id = $1 AND scheduled_at = $2 AND status IN ('pending', 'confirmed')
		)
	`, clientID, at).Scan(&exists)
	return exists, err
}

func (t *pgTx) CountActiveForSlot(ctx context.Context, slotID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM appointments
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
	`, slotID).Scan(&n)
	return n, err
}

func (t *pgTx) ClientByID(ctx context.Context, clientID string) (model.ClientRef, error) {
	return clientByID(ctx, t.tx, clientID)
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.events.Insert(ctx, t.tx, evt)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func clientByID(ctx context.Context, q querier, clientID string) (model.ClientRef, error) {
	var c model.ClientRef
	err := q.QueryRow(ctx, `
		SELECT id::text, first_name, last_name, email
		FROM clients
		WHERE id = $1
	`, clientID).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ClientRef{}, model.ErrNotFound
	}
	if err != nil {
		return model.ClientRef{}, err
	}
	return c, nil
}

func scanSlot(row pgx.Row) (model.TimeSlot, error) {
	var slot model.TimeSlot
	err := row.Scan(&slot.ID, &slot.TypeTag, &slot.StartAt, &slot.EndAt, &slot.Occupied, &slot.Note, &slot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TimeSlot{}, model.ErrNotFound
	}
	if err != nil {
		return model.TimeSlot{}, err
	}
	return slot, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(&appt.ID, &appt.ClientID, &appt.SlotID, &appt.ScheduledAt,
		&appt.TypeTag, &appt.Note, &appt.Status, &appt.CreatedAt, &appt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

type detailRow interface {
	Scan(dest ...any) error
}

func scanDetail(row detailRow) (model.AppointmentDetail, error) {
	var d model.AppointmentDetail
	err := row.Scan(&d.ID, &d.ClientID, &d.SlotID, &d.ScheduledAt,
		&d.TypeTag, &d.Note, &d.Status, &d.CreatedAt, &d.UpdatedAt,
		&d.Client.ID, &d.Client.FirstName, &d.Client.LastName, &d.Client.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AppointmentDetail{}, model.ErrNotFound
	}
	if err != nil {
		return model.AppointmentDetail{}, err
	}
	return d, nil
}

// mapPgError translates driver errors into the service taxonomy: missing
// rows to not-found, unique and exclusion violations to the given conflict.
func mapPgError(err error, conflict error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01") {
		return conflict
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
