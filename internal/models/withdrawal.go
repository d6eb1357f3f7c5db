package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WithdrawalPending    = "PENDING"
	WithdrawalProcessing = "PROCESSING"
	WithdrawalCompleted  = "COMPLETED"
	WithdrawalRejected   = "REJECTED"
)

func IsWithdrawalStatus(status string) bool {
	switch status {
	case WithdrawalPending, WithdrawalProcessing, WithdrawalCompleted, WithdrawalRejected:
		return true
	default:
		return false
	}
}

const (
	MethodBankCard = "BANK_CARD"
	MethodAlipay   = "ALIPAY"
	MethodWechat   = "WECHAT_PAY"
)

// Operator decision on a withdrawal
const (
	OutcomeApprove = "APPROVE"
	OutcomeReject  = "REJECT"
)

func IsWithdrawalMethod(method string) bool {
	switch method {
	case MethodBankCard, MethodAlipay, MethodWechat:
		return true
	default:
		return false
	}
}

// Payout destination as provided by the user
// Stored as json document
type AccountInfo struct {
	Name     string `json:"name"`
	Number   string `json:"number"`
	BankName string `json:"bank_name,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type Withdrawal struct {
	ID     uuid.UUID
	UserID uuid.UUID

	// Sum of reserved commissions. Fee and net amount are calculated once on request
	RequestedAmount decimal.Decimal
	FeeRate         decimal.Decimal
	Fee             decimal.Decimal
	NetAmount       decimal.Decimal

	Method         string
	Account        AccountInfo
	Status         string
	OperatorRemark string

	// Commissions reserved by the request, oldest first
	CommissionIDs []uuid.UUID

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func (w Withdrawal) IsTerminal() bool {
	return w.Status == WithdrawalCompleted || w.Status == WithdrawalRejected
}
