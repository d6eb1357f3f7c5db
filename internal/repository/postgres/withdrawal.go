package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
)

type WithdrawalRepo struct {
	DB DBTX
}

const withdrawalColumns = `id, user_id, requested_amount, fee_rate, fee, net_amount, method, account, status, operator_remark, created_at, resolved_at`

const createWithdrawal = `-- name: CreateWithdrawal
INSERT INTO withdrawals (id, user_id, requested_amount, fee_rate, fee, net_amount, method, account, status, operator_remark, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + withdrawalColumns

const createWithdrawalCommissions = `-- name: CreateWithdrawalCommissions
INSERT INTO withdrawal_commissions (withdrawal_id, commission_id, position)
SELECT $1, ids.commission_id, ids.position
FROM unnest($2::uuid[]) WITH ORDINALITY AS ids (commission_id, position)
`

func (r *WithdrawalRepo) CreateWithdrawal(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, createWithdrawal,
		w.ID, w.UserID, w.RequestedAmount, w.FeeRate, w.Fee, w.NetAmount, w.Method, w.Account, w.Status, w.OperatorRemark, w.CreatedAt,
	)
	created, err := pgx.CollectOneRow(rows, rowToWithdrawal)
	if err != nil {
		return w, fmt.Errorf("db error: %w", err)
	}

	_, err = r.DB.Exec(ctx, createWithdrawalCommissions, created.ID, w.CommissionIDs)
	if err != nil {
		return w, fmt.Errorf("db error: %w", err)
	}
	created.CommissionIDs = w.CommissionIDs

	return created, nil
}

const getWithdrawal = `-- name: GetWithdrawal
SELECT ` + withdrawalColumns + ` FROM withdrawals
WHERE id = $1
`

func (r *WithdrawalRepo) GetWithdrawal(ctx context.Context, id uuid.UUID, forUpdate bool) (models.Withdrawal, error) {
	query := getWithdrawal
	if forUpdate {
		query += "FOR UPDATE"
	}

	rows, _ := r.DB.Query(ctx, query, id)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return r.withCommissionIDs(ctx, w)
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

const updateWithdrawalStatus = `-- name: UpdateWithdrawalStatus
UPDATE withdrawals
SET status = $2, operator_remark = $3, resolved_at = $4
WHERE id = $1
RETURNING ` + withdrawalColumns

func (r *WithdrawalRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, remark string, resolvedAt *time.Time) (models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, updateWithdrawalStatus, id, status, remark, resolvedAt)
	w, err := pgx.CollectOneRow(rows, rowToWithdrawal)

	switch {
	case err == nil:
		return r.withCommissionIDs(ctx, w)
	case errors.Is(err, pgx.ErrNoRows):
		return w, apperrors.ErrWithdrawalNotFound
	default:
		return w, fmt.Errorf("db error: %w", err)
	}
}

const listWithdrawals = `-- name: ListWithdrawals
SELECT ` + withdrawalColumns + ` FROM withdrawals
WHERE ($1::uuid IS NULL OR user_id = $1::uuid)
	AND (COALESCE(cardinality($2::text[]), 0) = 0 OR status = ANY($2::text[]))
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`

func (r *WithdrawalRepo) ListWithdrawals(ctx context.Context, opts repository.ListWithdrawalsOpts) ([]models.Withdrawal, error) {
	var userID pgtype.UUID
	if opts.UserID != nil {
		userID = pgtype.UUID{Bytes: *opts.UserID, Valid: true}
	}

	rows, _ := r.DB.Query(ctx, listWithdrawals, userID, opts.Statuses, opts.Limit, opts.Offset)
	withdrawals, err := pgx.CollectRows(rows, rowToWithdrawal)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	for i := range withdrawals {
		withdrawals[i], err = r.withCommissionIDs(ctx, withdrawals[i])
		if err != nil {
			return nil, err
		}
	}

	return withdrawals, nil
}

const listWithdrawalCommissions = `-- name: ListWithdrawalCommissions
SELECT commission_id FROM withdrawal_commissions
WHERE withdrawal_id = $1
ORDER BY position
`

func (r *WithdrawalRepo) withCommissionIDs(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	rows, _ := r.DB.Query(ctx, listWithdrawalCommissions, w.ID)
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return w, fmt.Errorf("db error: %w", err)
	}

	w.CommissionIDs = ids
	return w, nil
}

func rowToWithdrawal(row pgx.CollectableRow) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(
		&w.ID, &w.UserID, &w.RequestedAmount, &w.FeeRate, &w.Fee, &w.NetAmount, &w.Method, &w.Account, &w.Status,
		&w.OperatorRemark, &w.CreatedAt, &w.ResolvedAt,
	)
	return w, err
}
