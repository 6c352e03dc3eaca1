// Package guard consumes the external access-control collaborator: given the
// authenticated actor, it answers "is this an admin" and "may this actor act
// on this client". The core never interprets identities beyond that.
package guard

import "context"

const (
	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleClient = "client"
)

// Actor is the authenticated caller as forwarded by the gateway.
type Actor struct {
	UserID   string
	ClientID string
	Role     string
}

type Provider interface {
	IsAdmin(actor Actor) bool
	CanAccessClient(ctx context.Context, actor Actor, clientID string) (bool, error)
}

type staticProvider struct{}

// NewStaticProvider returns the local ruleset: admins and staff reach every
// client, a client reaches only its own record.
func NewStaticProvider() Provider {
	return staticProvider{}
}

func (staticProvider) IsAdmin(actor Actor) bool {
	return actor.Role == RoleAdmin || actor.Role == RoleStaff
}

func (p staticProvider) CanAccessClient(_ context.Context, actor Actor, clientID string) (bool, error) {
	if p.IsAdmin(actor) {
		return true, nil
	}
	return clientID != "" && actor.ClientID == clientID, nil
}
