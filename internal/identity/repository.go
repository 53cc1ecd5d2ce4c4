package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that no identity matched the lookup.
	ErrNotFound = errors.New("identity: not found")
	// ErrEmailTaken signals a case-insensitive email collision.
	ErrEmailTaken = errors.New("identity: email already registered")
)

// Repository persists identities. Email lookups are case-insensitive.
type Repository interface {
	Create(ctx context.Context, identity Identity) error
	FindByID(ctx context.Context, id string) (Identity, error)
	FindByEmail(ctx context.Context, email string) (Identity, error)
	FindByPhone(ctx context.Context, phone string) (Identity, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectIdentity = `SELECT id, username, email, phone, password_hash, role, created_at FROM identities`

// Create inserts a new identity.
func (r *PostgresRepository) Create(ctx context.Context, identity Identity) error {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO identities (id, username, email, phone, password_hash, role, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, identity.Username, identity.Email, identity.Phone, identity.PasswordHash, string(identity.Role), identity.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("identity: create: %w", err)
	}
	return nil
}

// FindByID fetches an identity by its identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Identity, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return Identity{}, ErrNotFound
	}
	return scanIdentity(r.db.QueryRow(ctx, selectIdentity+` WHERE id = $1`, uid))
}

// FindByEmail fetches an identity by email, ignoring case.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (Identity, error) {
	return scanIdentity(r.db.QueryRow(ctx, selectIdentity+` WHERE lower(email) = lower($1)`, email))
}

// FindByPhone fetches an identity by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Identity, error) {
	return scanIdentity(r.db.QueryRow(ctx, selectIdentity+` WHERE phone = $1 ORDER BY created_at LIMIT 1`, phone))
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		id        uuid.UUID
		role      string
		createdAt time.Time
		identity  Identity
	)
	if err := row.Scan(&id, &identity.Username, &identity.Email, &identity.Phone, &identity.PasswordHash, &role, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrNotFound
		}
		return Identity{}, fmt.Errorf("identity: scan: %w", err)
	}
	identity.ID = id.String()
	identity.Role = Role(role)
	identity.CreatedAt = createdAt.UTC()
	return identity, nil
}
