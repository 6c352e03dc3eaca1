//go:build protogen

package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcodenti/gymbook/libs/grpcx"
	identityv1 "github.com/marcodenti/gymbook/protos/gen/identity/v1"
)

type grpcProvider struct {
	client identityv1.IdentityServiceClient
}

// NewIdentityProvider dials the identity service; when no address is
// configured or the dial fails, it falls back to the static ruleset so
// booking keeps working in dev.
func NewIdentityProvider(logger *slog.Logger, addr string) (Provider, error) {
	if addr == "" {
		return NewStaticProvider(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn("identity guard unavailable, using static rules", "err", err)
		return NewStaticProvider(), nil
	}

	logger.Info("identity guard enabled", "addr", addr)
	return &grpcProvider{client: identityv1.NewIdentityServiceClient(conn)}, nil
}

func (p *grpcProvider) IsAdmin(actor Actor) bool {
	return actor.Role == RoleAdmin || actor.Role == RoleStaff
}

func (p *grpcProvider) CanAccessClient(ctx context.Context, actor Actor, clientID string) (bool, error) {
	resp, err := p.client.CheckClientAccess(ctx, &identityv1.ClientAccessRequest{
		UserId:   actor.UserID,
		Role:     actor.Role,
		ClientId: clientID,
	})
	if err != nil {
		return false, err
	}
	return resp.GetAllowed(), nil
}
