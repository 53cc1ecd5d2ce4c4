package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harvestloop/harvestloop/internal/apperrors"
)

var (
	// ErrNotFound signals that no entitlement matched the lookup.
	ErrNotFound = errors.New("subscription: not found")
	// ErrDuplicatePayment is returned when a payment reference already backs an entitlement.
	ErrDuplicatePayment = apperrors.New(apperrors.ErrDuplicateTransaction, "This payment has already been used for a subscription")
	// ErrNoUnitsRemaining is returned when an unlock finds the entitlement exhausted.
	ErrNoUnitsRemaining = apperrors.New(apperrors.ErrForbidden, "No unlocks remaining, please upgrade your plan")
)

// Repository persists entitlements and farmer unlocks.
type Repository interface {
	// Create stores a new entitlement. Payment references are unique.
	Create(ctx context.Context, e Entitlement) error
	FindByPaymentRef(ctx context.Context, ref string) (Entitlement, error)
	FindActive(ctx context.Context, identityID string, now time.Time) (Entitlement, error)
	ListByIdentity(ctx context.Context, identityID string) ([]Entitlement, error)
	// Unlock consumes one unit the first time a farmer is unlocked.
	Unlock(ctx context.Context, entitlementID, farmerID string, at time.Time) (UnlockResult, error)
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed subscription repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectEntitlement = `SELECT id, identity_id, plan, duration_months, units_granted, units_remaining,
        amount, currency, payment_ref, order_id, status, started_at, ends_at, created_at
    FROM entitlements`

// Create inserts an entitlement, mapping the payment_ref unique violation to ErrDuplicatePayment.
func (r *PostgresRepository) Create(ctx context.Context, e Entitlement) error {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return err
	}
	identityID, err := uuid.Parse(e.IdentityID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO entitlements
        (id, identity_id, plan, duration_months, units_granted, units_remaining, amount, currency,
         payment_ref, order_id, status, started_at, ends_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		id, identityID, e.Plan, e.DurationMonths, e.UnitsGranted, e.UnitsRemaining, e.Amount, e.Currency,
		e.PaymentRef, e.OrderID, e.Status, e.StartedAt.UTC(), e.EndsAt.UTC(), e.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("subscription: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByPaymentRef(ctx context.Context, ref string) (Entitlement, error) {
	return scanEntitlement(r.db.QueryRow(ctx, selectEntitlement+` WHERE payment_ref = $1`, ref))
}

func (r *PostgresRepository) FindActive(ctx context.Context, identityID string, now time.Time) (Entitlement, error) {
	uid, err := uuid.Parse(identityID)
	if err != nil {
		return Entitlement{}, ErrNotFound
	}
	return scanEntitlement(r.db.QueryRow(ctx, selectEntitlement+`
        WHERE identity_id = $1 AND status = 'active' AND ends_at > $2
        ORDER BY ends_at DESC LIMIT 1`, uid, now.UTC()))
}

func (r *PostgresRepository) ListByIdentity(ctx context.Context, identityID string) ([]Entitlement, error) {
	uid, err := uuid.Parse(identityID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, selectEntitlement+` WHERE identity_id = $1 ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("subscription: list: %w", err)
	}
	defer rows.Close()

	var out []Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Unlock locks the entitlement row so concurrent unlocks cannot overspend units.
func (r *PostgresRepository) Unlock(ctx context.Context, entitlementID, farmerID string, at time.Time) (UnlockResult, error) {
	eid, err := uuid.Parse(entitlementID)
	if err != nil {
		return UnlockResult{}, ErrNotFound
	}
	fid, err := uuid.Parse(farmerID)
	if err != nil {
		return UnlockResult{}, apperrors.Validation("Invalid farmer id")
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UnlockResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT units_remaining FROM entitlements WHERE id = $1 FOR UPDATE`, eid).Scan(&remaining); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UnlockResult{}, ErrNotFound
		}
		return UnlockResult{}, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM unlocks WHERE entitlement_id = $1 AND farmer_id = $2)`, eid, fid).Scan(&exists); err != nil {
		return UnlockResult{}, err
	}
	if exists {
		return UnlockResult{FarmerID: farmerID, UnitsRemaining: remaining, AlreadyUnlocked: true}, nil
	}
	if remaining <= 0 {
		return UnlockResult{}, ErrNoUnitsRemaining
	}

	if _, err := tx.Exec(ctx, `INSERT INTO unlocks (entitlement_id, farmer_id, unlocked_at) VALUES ($1, $2, $3)`, eid, fid, at.UTC()); err != nil {
		return UnlockResult{}, err
	}
	if err := tx.QueryRow(ctx, `UPDATE entitlements SET units_remaining = units_remaining - 1 WHERE id = $1 RETURNING units_remaining`, eid).Scan(&remaining); err != nil {
		return UnlockResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UnlockResult{}, err
	}
	return UnlockResult{FarmerID: farmerID, UnitsRemaining: remaining}, nil
}

func (r *PostgresRepository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE entitlements SET status = 'expired' WHERE status = 'active' AND ends_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("subscription: expire: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEntitlement(row pgx.Row) (Entitlement, error) {
	var (
		id, identityID uuid.UUID
		e              Entitlement
	)
	err := row.Scan(&id, &identityID, &e.Plan, &e.DurationMonths, &e.UnitsGranted, &e.UnitsRemaining,
		&e.Amount, &e.Currency, &e.PaymentRef, &e.OrderID, &e.Status, &e.StartedAt, &e.EndsAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entitlement{}, ErrNotFound
		}
		return Entitlement{}, fmt.Errorf("subscription: scan: %w", err)
	}
	e.ID = id.String()
	e.IdentityID = identityID.String()
	e.StartedAt = e.StartedAt.UTC()
	e.EndsAt = e.EndsAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
