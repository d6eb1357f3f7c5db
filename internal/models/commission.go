package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CommissionPending   = "PENDING"
	CommissionConfirmed = "CONFIRMED"
	CommissionPaid      = "PAID"
	CommissionCancelled = "CANCELLED"
)

func IsCommissionStatus(status string) bool {
	switch status {
	case CommissionPending, CommissionConfirmed, CommissionPaid, CommissionCancelled:
		return true
	default:
		return false
	}
}

// Referral levels paid by the two-tier program
const (
	LevelDirect   = 1
	LevelIndirect = 2
)

type Commission struct {
	ID         uuid.UUID
	OrderID    string
	FromUserID uuid.UUID // buyer
	ToUserID   uuid.UUID // beneficiary
	Level      int
	Amount     decimal.Decimal
	Status     string

	// Withdrawal currently reserving the commission, nil if not reserved
	WithdrawalID *uuid.UUID

	CreatedAt   time.Time
	ConfirmedAt *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
}

// Available to withdraw: confirmed and not reserved by any withdrawal
func (c Commission) IsAvailable() bool {
	return c.Status == CommissionConfirmed && c.WithdrawalID == nil
}

func (c Commission) IsTerminal() bool {
	return c.Status == CommissionPaid || c.Status == CommissionCancelled
}
