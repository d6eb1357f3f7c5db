package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/affiliate/internal/models"
)

// Money is rendered as string with two decimal places
const moneyPlaces = 2

type userResponse struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	ReferralCode string     `json:"referral_code"`
	ReferrerID   *uuid.UUID `json:"referrer_id"`
	IsOperator   bool       `json:"is_operator"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:           u.ID,
		Username:     u.Username,
		ReferralCode: u.ReferralCode,
		ReferrerID:   u.ReferrerID,
		IsOperator:   u.IsOperator,
	}
}

type commissionResponse struct {
	ID           uuid.UUID  `json:"id"`
	OrderID      string     `json:"order_id"`
	FromUserID   uuid.UUID  `json:"from_user_id"`
	Level        int        `json:"level"`
	Amount       string     `json:"amount"`
	Status       string     `json:"status"`
	WithdrawalID *uuid.UUID `json:"withdrawal_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

func toCommissionResponse(c models.Commission) commissionResponse {
	return commissionResponse{
		ID:           c.ID,
		OrderID:      c.OrderID,
		FromUserID:   c.FromUserID,
		Level:        c.Level,
		Amount:       c.Amount.StringFixed(moneyPlaces),
		Status:       c.Status,
		WithdrawalID: c.WithdrawalID,
		CreatedAt:    c.CreatedAt,
		ConfirmedAt:  c.ConfirmedAt,
		PaidAt:       c.PaidAt,
		CancelledAt:  c.CancelledAt,
	}
}

func toCommissionsResponse(commissions []models.Commission) []commissionResponse {
	response := make([]commissionResponse, 0, len(commissions))
	for _, c := range commissions {
		response = append(response, toCommissionResponse(c))
	}
	return response
}

type withdrawalResponse struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	RequestedAmount string             `json:"requested_amount"`
	FeeRate         string             `json:"fee_rate"`
	Fee             string             `json:"fee"`
	NetAmount       string             `json:"net_amount"`
	Method          string             `json:"method"`
	Account         models.AccountInfo `json:"account"`
	Status          string             `json:"status"`
	OperatorRemark  string             `json:"operator_remark,omitempty"`
	CommissionIDs   []uuid.UUID        `json:"commission_ids"`
	CreatedAt       time.Time          `json:"created_at"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
}

func toWithdrawalResponse(w models.Withdrawal) withdrawalResponse {
	ids := w.CommissionIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}

	return withdrawalResponse{
		ID:              w.ID,
		UserID:          w.UserID,
		RequestedAmount: w.RequestedAmount.StringFixed(moneyPlaces),
		FeeRate:         w.FeeRate.String(),
		Fee:             w.Fee.StringFixed(moneyPlaces),
		NetAmount:       w.NetAmount.StringFixed(moneyPlaces),
		Method:          w.Method,
		Account:         w.Account,
		Status:          w.Status,
		OperatorRemark:  w.OperatorRemark,
		CommissionIDs:   ids,
		CreatedAt:       w.CreatedAt,
		ResolvedAt:      w.ResolvedAt,
	}
}

func toWithdrawalsResponse(withdrawals []models.Withdrawal) []withdrawalResponse {
	response := make([]withdrawalResponse, 0, len(withdrawals))
	for _, w := range withdrawals {
		response = append(response, toWithdrawalResponse(w))
	}
	return response
}
