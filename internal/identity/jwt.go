package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued by the shop's login endpoint. Only "sub"
// is guaranteed; email, name and role are optional and, when a Directory is
// configured, are looked up from the users table instead.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret    []byte
	issuer    string
	directory Directory
}

// JWTOption customises a JWTAuthenticator.
type JWTOption func(*JWTAuthenticator)

// WithIssuer requires tokens to carry the given "iss" claim.
func WithIssuer(issuer string) JWTOption {
	return func(a *JWTAuthenticator) { a.issuer = issuer }
}

// WithDirectory resolves the token subject through d instead of trusting the
// optional profile claims.
func WithDirectory(d Directory) JWTOption {
	return func(a *JWTAuthenticator) { a.directory = d }
}

// NewJWTAuthenticator creates an authenticator for tokens signed with secret.
func NewJWTAuthenticator(secret string, opts ...JWTOption) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("identity: jwt secret is empty")
	}
	a := &JWTAuthenticator{secret: []byte(secret)}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate parses and verifies token and returns the identity it names.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: token expired", ErrUnauthenticated)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	if a.directory != nil {
		id, err := a.directory.Lookup(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, ErrUnknownSubject) {
				return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
			}
			return Identity{}, fmt.Errorf("identity: directory lookup: %w", err)
		}
		return id, nil
	}

	id := Identity{
		ID:          claims.Email,
		DisplayName: claims.Name,
		Role:        ParseRole(claims.Role),
	}
	if id.ID == "" {
		id.ID = claims.Subject
	}
	if id.DisplayName == "" {
		id.DisplayName = claims.Subject
	}
	return id, nil
}

// IssueToken signs a token for the given profile. The shop's login endpoint
// owns issuance in production; this is used by supportctl and tests.
func (a *JWTAuthenticator) IssueToken(subject, email, name string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Name:  name,
		Role:  string(role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}
