package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/marcodenti/gymbook/libs/db"
)

var ErrClientNotFound = errors.New("client not found")

// Notification is one delivery attempt, recorded whatever the outcome.
type Notification struct {
	AppointmentID string
	ClientID      string
	Channel       string
	Recipient     string
	Payload       map[string]any
	Status        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, client_id, channel, recipient, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.AppointmentID, n.ClientID, n.Channel, n.Recipient, payload, n.Status)
	return err
}

// Client returns the contact details for a client id from the shared
// clients projection.
func (r *Repository) Client(ctx context.Context, clientID string) (name, email, phone string, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT first_name || ' ' || last_name, email, COALESCE(phone, '')
		FROM clients
		WHERE id = $1
	`, clientID).Scan(&name, &email, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", "", ErrClientNotFound
	}
	return name, email, phone, err
}
