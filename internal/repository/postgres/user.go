package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
)

const referralCodeConstraint = "users_referral_code_key"

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, created_at, username, password_hash, referral_code, referrer_id, is_operator`

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, password_hash, referral_code, referrer_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + userColumns

func (r *UserRepo) CreateUser(ctx context.Context, arg repository.CreateUserParams) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), arg.Username, arg.HashedPassword, arg.ReferralCode, arg.ReferrerID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		switch {
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == referralCodeConstraint:
			return user, apperrors.ErrReferralCodeTaken
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
			return user, apperrors.ErrUserAlreadyExists
		case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
			return user, fmt.Errorf("referrer does not exist: %w", apperrors.ErrUserNotFound)
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT ` + userColumns + ` FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

const getUserByReferralCode = `-- name: GetUserByReferralCode
SELECT ` + userColumns + ` FROM users
WHERE referral_code = $1
`

func (r *UserRepo) GetUserByReferralCode(ctx context.Context, code string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByReferralCode, code)
	return collectUser(rows)
}

const getReferrerID = `-- name: GetReferrerID
SELECT referrer_id FROM users
WHERE id = $1
`

func (r *UserRepo) GetReferrerID(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error) {
	rows, _ := r.DB.Query(ctx, getReferrerID, userID)
	referrerID, err := pgx.CollectOneRow(rows, pgx.RowTo[*uuid.UUID])

	switch {
	case err == nil:
		return referrerID, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperrors.ErrUserNotFound
	default:
		return nil, fmt.Errorf("db error: %w", err)
	}
}

// Referrer is set once: the row is updated only if referrer_id is still empty
const setReferrer = `-- name: SetReferrer
UPDATE users
SET referrer_id = $2
WHERE id = $1 AND referrer_id IS NULL
RETURNING ` + userColumns

func (r *UserRepo) SetReferrer(ctx context.Context, userID uuid.UUID, referrerID uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setReferrer, userID, referrerID)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return user, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation:
		return user, fmt.Errorf("referrer does not exist: %w", apperrors.ErrUserNotFound)
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation:
		return user, apperrors.ErrReferralCycle
	case !errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("db error: %w", err)
	}

	// Nothing updated: user not exists or it's referrer set already
	user, err = r.GetUserByID(ctx, userID)
	if err != nil {
		return user, err
	}
	return user, apperrors.ErrReferrerAlreadySet
}

// Any constant works while every referrer change takes the same key
const referralGraphLockKey int64 = 0x726566657272616c

const lockReferralGraph = `-- name: LockReferralGraph
SELECT pg_advisory_xact_lock($1)
`

func (r *UserRepo) LockReferralGraph(ctx context.Context) error {
	if _, err := r.DB.Exec(ctx, lockReferralGraph, referralGraphLockKey); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const setOperator = `-- name: SetOperator
UPDATE users
SET is_operator = $2
WHERE username = $1
RETURNING ` + userColumns

func (r *UserRepo) SetOperator(ctx context.Context, username string, isOperator bool) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setOperator, username, isOperator)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.HashedPassword, &u.ReferralCode, &u.ReferrerID, &u.IsOperator)
	return u, err
}
