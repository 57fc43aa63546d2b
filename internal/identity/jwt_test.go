package identity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapDirectory map[string]Identity

func (d mapDirectory) Lookup(_ context.Context, subject string) (Identity, error) {
	id, ok := d[subject]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return id, nil
}

func newTestAuthenticator(t *testing.T, opts ...JWTOption) *JWTAuthenticator {
	t.Helper()
	a, err := NewJWTAuthenticator("test-secret", opts...)
	require.NoError(t, err)
	return a
}

func TestNewJWTAuthenticator_EmptySecret(t *testing.T) {
	_, err := NewJWTAuthenticator("")
	require.Error(t, err)
}

func TestAuthenticate_ClaimsOnly(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	t.Run("customer with profile claims", func(t *testing.T) {
		token, err := a.IssueToken("alice", "alice@example.com", "Alice", RoleCustomer, time.Minute)
		require.NoError(t, err)

		id, err := a.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, Identity{ID: "alice@example.com", DisplayName: "Alice", Role: RoleCustomer}, id)
	})

	t.Run("admin role maps to operator", func(t *testing.T) {
		token, err := a.IssueToken("bob", "bob@shop.test", "", Role("admin"), time.Minute)
		require.NoError(t, err)

		id, err := a.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, RoleOperator, id.Role)
		assert.Equal(t, "bob", id.DisplayName, "display name falls back to subject")
	})

	t.Run("subject only", func(t *testing.T) {
		token, err := a.IssueToken("carol", "", "", "", time.Minute)
		require.NoError(t, err)

		id, err := a.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "carol", id.ID)
		assert.Equal(t, RoleCustomer, id.Role)
	})
}

func TestAuthenticate_Rejections(t *testing.T) {
	a := newTestAuthenticator(t, WithIssuer("shop"))
	other, err := NewJWTAuthenticator("another-secret", WithIssuer("shop"))
	require.NoError(t, err)

	expired, err := a.IssueToken("alice", "alice@example.com", "", RoleCustomer, -time.Minute)
	require.NoError(t, err)
	forged, err := other.IssueToken("alice", "alice@example.com", "", RoleOperator, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := newTestAuthenticator(t, WithIssuer("elsewhere")).
		IssueToken("alice", "alice@example.com", "", RoleCustomer, time.Minute)
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "shop"},
	})
	noExpToken, err := noExp.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "shop",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	noneToken, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"expired", expired},
		{"wrong secret", forged},
		{"wrong issuer", wrongIssuer},
		{"missing exp", noExpToken},
		{"alg none", noneToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tc.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestAuthenticate_WithDirectory(t *testing.T) {
	dir := mapDirectory{
		"dave": {ID: "dave@example.com", DisplayName: "dave", Role: RoleCustomer},
	}
	a := newTestAuthenticator(t, WithDirectory(dir))
	ctx := context.Background()

	// Claims in the token are ignored in favour of the directory entry.
	token, err := a.IssueToken("dave", "spoofed@example.com", "Spoof", RoleOperator, time.Minute)
	require.NoError(t, err)
	id, err := a.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, dir["dave"], id)

	unknown, err := a.IssueToken("mallory", "", "", RoleCustomer, time.Minute)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, unknown)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticatorFunc(t *testing.T) {
	var f Authenticator = AuthenticatorFunc(func(_ context.Context, token string) (Identity, error) {
		return Identity{ID: token, Role: RoleCustomer}, nil
	})
	id, err := f.Authenticate(context.Background(), "x@y.z")
	require.NoError(t, err)
	assert.Equal(t, "x@y.z", id.ID)
}
