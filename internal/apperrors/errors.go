package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists   = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrReferralCodeTaken   = errors.New("referral code already taken")
	ErrReferralCodeInvalid = errors.New("referral code is invalid")
	ErrReferrerAlreadySet  = errors.New("referrer already set")
	ErrReferralCycle       = errors.New("referrer would create a referral cycle")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenIsUsed   = errors.New("refresh token is used")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")

	ErrInvalidAmount      = errors.New("amount is invalid")
	ErrOrderIDInvalid     = errors.New("order id is invalid")
	ErrCommissionNotFound = errors.New("commission not found")

	// Raised when an already accrued commission is inserted again.
	// Never surfaces to callers of the ledger
	ErrDuplicateAccrual = errors.New("commission already accrued")

	// Warning only: refund cancelled a commission reserved by an active withdrawal
	ErrOrphanedReservation = errors.New("cancelled commission is reserved by active withdrawal")

	ErrWithdrawalNotFound      = errors.New("withdrawal not found")
	ErrWithdrawalMethodInvalid = errors.New("withdrawal method is invalid")
	ErrWithdrawalOutcome       = errors.New("withdrawal outcome is invalid")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrReservationConflict     = errors.New("commissions reserved concurrently")

	ErrBalanceInsufficient = errors.New("insufficient balance")
)
