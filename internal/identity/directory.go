package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// ErrUnknownSubject is returned by a Directory when no active user matches.
var ErrUnknownSubject = errors.New("identity: unknown subject")

// Directory resolves a token subject into a full identity.
type Directory interface {
	Lookup(ctx context.Context, subject string) (Identity, error)
}

// PostgresDirectory reads identities from the shop's users table. The table
// is owned by the catalog/orders backend; this type only ever reads from it.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory wraps an existing database handle.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// OpenPostgresDirectory opens and verifies a connection to dsn.
func OpenPostgresDirectory(ctx context.Context, dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("identity: postgres connection failed: %w", err)
	}
	return &PostgresDirectory{db: db}, nil
}

// Lookup finds an active user by username or email. The email becomes the
// identity identifier, which is also the name of the customer's room.
func (d *PostgresDirectory) Lookup(ctx context.Context, subject string) (Identity, error) {
	const query = `
		SELECT username, email, role
		FROM users
		WHERE (username = $1 OR email = $1)
		  AND is_active
		LIMIT 1`

	var username, email, role sql.NullString
	err := d.db.QueryRowContext(ctx, query, subject).Scan(&username, &email, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("identity: lookup %s: %w", subject, err)
	}

	id := Identity{
		ID:          email.String,
		DisplayName: username.String,
		Role:        ParseRole(role.String),
	}
	if id.ID == "" {
		id.ID = username.String
	}
	return id, nil
}

// Close closes the underlying database handle.
func (d *PostgresDirectory) Close() error {
	return d.db.Close()
}
