// Package identity turns connection tokens into participant identities. The
// support chat never owns user accounts: tokens are issued by the shop's login
// endpoint and, optionally, resolved against its users table.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role distinguishes customers, who are pinned to their own room, from
// support operators, who may join any room.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// ErrUnauthenticated is returned for any invalid, expired or malformed token.
// Callers reject the connection before any room state is touched.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// ParseRole maps a role string from a token or the users table onto a Role.
// The shop stores "user" and "admin"; anything unrecognised is treated as a
// customer so that an unknown role never grants operator access.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "operator", "admin", "support", "staff":
		return RoleOperator
	default:
		return RoleCustomer
	}
}

// Identity is an authenticated participant. It is immutable for the life of
// a connection.
type Identity struct {
	ID          string `json:"id"`           // stable identifier, usually the email
	DisplayName string `json:"display_name"` // shown as the message sender
	Role        Role   `json:"role"`
}

// IsOperator reports whether the identity belongs to support staff.
func (i Identity) IsOperator() bool {
	return i.Role == RoleOperator
}

// Name returns the display name, falling back to the identifier.
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ID
}

// Validate checks that the identity can be routed.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("identity: empty identifier")
	}
	if i.Role != RoleCustomer && i.Role != RoleOperator {
		return fmt.Errorf("identity: unknown role %q", i.Role)
	}
	return nil
}

// Authenticator resolves a connection token into an Identity. Implementations
// return an error matching ErrUnauthenticated for any token they reject.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

// Authenticate calls f(ctx, token).
func (f AuthenticatorFunc) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}
