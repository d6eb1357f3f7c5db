package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/models"
)

// Storage gives access to all repositories sharing the same connection (or transaction)
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Commission() CommissionRepo
	Withdrawal() WithdrawalRepo

	// Run fn in transaction. Storage passed to fn is bound to the transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Username       string
	HashedPassword string
	ReferralCode   string
	ReferrerID     *uuid.UUID
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	// If referral code is taken has to return apperrors.ErrReferralCodeTaken
	CreateUser(ctx context.Context, arg CreateUserParams) (models.User, error)

	// Get user by it's id, username or referral code
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (models.User, error)

	// Return user referrer id or nil if user has no referrer
	// If user not found must return apperrors.ErrUserNotFound
	GetReferrerID(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error)

	// Set referrer if it is not set yet
	// If referrer is set already must return apperrors.ErrReferrerAlreadySet
	SetReferrer(ctx context.Context, userID uuid.UUID, referrerID uuid.UUID) (models.User, error)

	// Hold the referral graph lock till the end of the transaction
	// Referrer changes made under it are serialized
	LockReferralGraph(ctx context.Context) error

	// Grant or revoke operator access
	// If user not found must return apperrors.ErrUserNotFound
	SetOperator(ctx context.Context, username string, isOperator bool) (models.User, error)
}

// RefreshToken repository interface
// Tokens are looked up by digest, the plain value is never stored
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) error

	// Return token and mark it as used
	// If the token is already used, must not overwrite the existing 'usedAt' and return apperrors.ErrRefreshTokenIsUsed
	GetAndMarkUsed(ctx context.Context, tokenHash string) (models.RefreshToken, error)
}

type ListCommissionsOpts struct {
	UserID   uuid.UUID
	Statuses []string // empty means any status
	Limit    int
	Offset   int
}

type CommissionRepo interface {
	// Insert commission
	// If commission with the same (order, beneficiary, level) exists must return apperrors.ErrDuplicateAccrual
	CreateCommission(ctx context.Context, c models.Commission) (models.Commission, error)

	// If commission not found must return apperrors.ErrCommissionNotFound
	GetCommission(ctx context.Context, id uuid.UUID, forUpdate bool) (models.Commission, error)

	// Move PENDING commission to CONFIRMED
	// If commission is not pending must return apperrors.ErrInvalidStateTransition
	Confirm(ctx context.Context, id uuid.UUID, at time.Time) (models.Commission, error)

	// Confirm every pending commission created before 'createdBefore'
	ConfirmDue(ctx context.Context, createdBefore time.Time, at time.Time) (int64, error)

	// Cancel PENDING and CONFIRMED commissions of the order, return the cancelled ones
	CancelByOrder(ctx context.Context, orderID string, at time.Time) ([]models.Commission, error)

	// Sum of CONFIRMED commissions not reserved by any withdrawal
	AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)

	// CONFIRMED not reserved commissions, oldest first
	ListAvailable(ctx context.Context, userID uuid.UUID) ([]models.Commission, error)

	// Reserve commissions for withdrawal
	// Only commissions that are still CONFIRMED and not reserved are reserved, they are returned
	// Lock conflicts (deadlock, serialization failure) must return apperrors.ErrReservationConflict
	Reserve(ctx context.Context, withdrawalID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error)

	// Mark commissions reserved by withdrawal PAID
	Settle(ctx context.Context, withdrawalID uuid.UUID, at time.Time) (int64, error)

	// Clear reservation of confirmed commissions reserved by withdrawal
	Release(ctx context.Context, withdrawalID uuid.UUID) (int64, error)

	// Newest first
	ListCommissions(ctx context.Context, opts ListCommissionsOpts) ([]models.Commission, error)
}

type ListWithdrawalsOpts struct {
	UserID   *uuid.UUID // nil means all users
	Statuses []string   // empty means any status
	Limit    int
	Offset   int
}

type WithdrawalRepo interface {
	// Insert withdrawal together with it's reserved commission set
	CreateWithdrawal(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error)

	// If withdrawal not found must return apperrors.ErrWithdrawalNotFound
	GetWithdrawal(ctx context.Context, id uuid.UUID, forUpdate bool) (models.Withdrawal, error)

	// Set status and bookkeeping fields. Transition rules are enforced by the caller
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, remark string, resolvedAt *time.Time) (models.Withdrawal, error)

	// Newest first
	ListWithdrawals(ctx context.Context, opts ListWithdrawalsOpts) ([]models.Withdrawal, error)
}
