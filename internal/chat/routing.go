package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/libnamic/support-chat/internal/identity"
)

var (
	// ErrRoomRequired is returned when an operator connects without naming
	// the room to join.
	ErrRoomRequired = errors.New("chat: operator must name a room")

	// ErrInvalidIdentity is returned for identities that cannot be routed.
	ErrInvalidIdentity = errors.New("chat: invalid identity")
)

// Route decides which room a connection is admitted to. Customers always get
// the room named after their own identifier, whatever they asked for, so a
// customer can never reach another customer's room. Operators get exactly the
// room they requested, which need not exist yet.
func Route(id identity.Identity, requested string) (string, error) {
	if err := id.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if id.Role == identity.RoleCustomer {
		return id.ID, nil
	}
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "", ErrRoomRequired
	}
	return requested, nil
}
