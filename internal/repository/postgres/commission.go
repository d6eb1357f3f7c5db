package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
)

type CommissionRepo struct {
	DB DBTX
}

const commissionColumns = `id, order_id, from_user_id, to_user_id, level, amount, status, withdrawal_id, created_at, confirmed_at, paid_at, cancelled_at`

// The accrual key (order_id, to_user_id, level) is unique: replayed accruals insert nothing
const createCommission = `-- name: CreateCommission
INSERT INTO commissions (id, order_id, from_user_id, to_user_id, level, amount, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT ON CONSTRAINT commissions_accrual_key DO NOTHING
RETURNING ` + commissionColumns

func (r *CommissionRepo) CreateCommission(ctx context.Context, c models.Commission) (models.Commission, error) {
	rows, _ := r.DB.Query(ctx, createCommission, c.ID, c.OrderID, c.FromUserID, c.ToUserID, c.Level, c.Amount, c.Status, c.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToCommission)

	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, apperrors.ErrDuplicateAccrual
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

const getCommission = `-- name: GetCommission
SELECT ` + commissionColumns + ` FROM commissions
WHERE id = $1
`

func (r *CommissionRepo) GetCommission(ctx context.Context, id uuid.UUID, forUpdate bool) (models.Commission, error) {
	query := getCommission
	if forUpdate {
		query += "FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, query, id)
	c, err := pgx.CollectOneRow(rows, rowToCommission)

	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, apperrors.ErrCommissionNotFound
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

const confirmCommission = `-- name: ConfirmCommission
UPDATE commissions
SET status = 'CONFIRMED', confirmed_at = $2
WHERE id = $1 AND status = 'PENDING'
RETURNING ` + commissionColumns

func (r *CommissionRepo) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (models.Commission, error) {
	rows, _ := r.DB.Query(ctx, confirmCommission, id, at)
	c, err := pgx.CollectOneRow(rows, rowToCommission)

	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, pgx.ErrNoRows):
		return c, fmt.Errorf("repo error: %w", apperrors.ErrInvalidStateTransition)
	default:
		return c, fmt.Errorf("db error: %w", err)
	}
}

const confirmDue = `-- name: ConfirmDue
UPDATE commissions
SET status = 'CONFIRMED', confirmed_at = $2
WHERE status = 'PENDING' AND created_at <= $1
`

func (r *CommissionRepo) ConfirmDue(ctx context.Context, createdBefore time.Time, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, confirmDue, createdBefore, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PAID commissions are never reversed here
const cancelByOrder = `-- name: CancelByOrder
UPDATE commissions
SET status = 'CANCELLED', cancelled_at = $2
WHERE order_id = $1 AND status IN ('PENDING', 'CONFIRMED')
RETURNING ` + commissionColumns

func (r *CommissionRepo) CancelByOrder(ctx context.Context, orderID string, at time.Time) ([]models.Commission, error) {
	rows, _ := r.DB.Query(ctx, cancelByOrder, orderID, at)
	cancelled, err := pgx.CollectRows(rows, rowToCommission)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return cancelled, nil
}

const availableBalance = `-- name: AvailableBalance
SELECT COALESCE(SUM(amount), 0) FROM commissions
WHERE to_user_id = $1 AND status = 'CONFIRMED' AND withdrawal_id IS NULL
`

func (r *CommissionRepo) AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	rows, _ := r.DB.Query(ctx, availableBalance, userID)
	balance, err := pgx.CollectOneRow(rows, pgx.RowTo[decimal.Decimal])
	if err != nil {
		return decimal.Zero, fmt.Errorf("db error: %w", err)
	}
	return balance, nil
}

const listAvailable = `-- name: ListAvailable
SELECT ` + commissionColumns + ` FROM commissions
WHERE to_user_id = $1 AND status = 'CONFIRMED' AND withdrawal_id IS NULL
ORDER BY created_at, id
`

func (r *CommissionRepo) ListAvailable(ctx context.Context, userID uuid.UUID) ([]models.Commission, error) {
	rows, _ := r.DB.Query(ctx, listAvailable, userID)
	commissions, err := pgx.CollectRows(rows, rowToCommission)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return commissions, nil
}

// Rows are locked in id order so concurrent reservations never deadlock.
// After waiting for a lock the row is re-checked: rows reserved or cancelled
// by a concurrent transaction are skipped
const reserve = `-- name: Reserve
WITH picked AS (
	SELECT id FROM commissions
	WHERE id = ANY($2::uuid[]) AND status = 'CONFIRMED' AND withdrawal_id IS NULL
	ORDER BY id
	FOR UPDATE
)
UPDATE commissions AS c
SET withdrawal_id = $1
FROM picked
WHERE c.id = picked.id
RETURNING c.id, c.order_id, c.from_user_id, c.to_user_id, c.level, c.amount, c.status, c.withdrawal_id,
	c.created_at, c.confirmed_at, c.paid_at, c.cancelled_at
`

func (r *CommissionRepo) Reserve(ctx context.Context, withdrawalID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error) {
	rows, _ := r.DB.Query(ctx, reserve, withdrawalID, ids)
	reserved, err := pgx.CollectRows(rows, rowToCommission)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return reserved, nil
	case errors.As(err, &pgErr) && (pgErr.Code == pgerrcode.DeadlockDetected || pgErr.Code == pgerrcode.SerializationFailure):
		return nil, fmt.Errorf("db error: %s: %w", pgErr.Code, apperrors.ErrReservationConflict)
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

const settle = `-- name: Settle
UPDATE commissions
SET status = 'PAID', paid_at = $2
WHERE withdrawal_id = $1 AND status = 'CONFIRMED'
`

func (r *CommissionRepo) Settle(ctx context.Context, withdrawalID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, settle, withdrawalID, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Cancelled commissions keep the reference for audit
const release = `-- name: Release
UPDATE commissions
SET withdrawal_id = NULL
WHERE withdrawal_id = $1 AND status = 'CONFIRMED'
`

func (r *CommissionRepo) Release(ctx context.Context, withdrawalID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, release, withdrawalID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listCommissions = `-- name: ListCommissions
SELECT ` + commissionColumns + ` FROM commissions
WHERE to_user_id = $1
	AND (COALESCE(cardinality($2::text[]), 0) = 0 OR status = ANY($2::text[]))
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`

func (r *CommissionRepo) ListCommissions(ctx context.Context, opts repository.ListCommissionsOpts) ([]models.Commission, error) {
	rows, _ := r.DB.Query(ctx, listCommissions, opts.UserID, opts.Statuses, opts.Limit, opts.Offset)
	commissions, err := pgx.CollectRows(rows, rowToCommission)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return commissions, nil
}

func rowToCommission(row pgx.CollectableRow) (models.Commission, error) {
	var c models.Commission
	err := row.Scan(
		&c.ID, &c.OrderID, &c.FromUserID, &c.ToUserID, &c.Level, &c.Amount, &c.Status, &c.WithdrawalID,
		&c.CreatedAt, &c.ConfirmedAt, &c.PaidAt, &c.CancelledAt,
	)
	return c, err
}
