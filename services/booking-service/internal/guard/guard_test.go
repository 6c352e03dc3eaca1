package guard

import (
	"context"
	"testing"
)

func TestStaticProviderIsAdmin(t *testing.T) {
	p := NewStaticProvider()

	cases := []struct {
		role string
		want bool
	}{
		{RoleAdmin, true},
		{RoleStaff, true},
		{RoleClient, false},
		{"", false},
		{"superuser", false},
	}
	for _, tc := range cases {
		if got := p.IsAdmin(Actor{Role: tc.role}); got != tc.want {
			t.Errorf("IsAdmin(role=%q) = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestStaticProviderCanAccessClient(t *testing.T) {
	p := NewStaticProvider()
	ctx := context.Background()

	cases := []struct {
		name     string
		actor    Actor
		clientID string
		want     bool
	}{
		{"admin reaches any client", Actor{UserID: "u1", Role: RoleAdmin}, "c-9", true},
		{"staff reaches any client", Actor{UserID: "u2", Role: RoleStaff}, "c-9", true},
		{"client reaches own record", Actor{UserID: "u3", ClientID: "c-9", Role: RoleClient}, "c-9", true},
		{"client denied other record", Actor{UserID: "u3", ClientID: "c-9", Role: RoleClient}, "c-4", false},
		{"client with no claim denied", Actor{UserID: "u4", Role: RoleClient}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.CanAccessClient(ctx, tc.actor, tc.clientID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}
