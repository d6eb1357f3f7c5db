package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
	"github.com/nkiryanov/affiliate/internal/service/referral"
)

// Refund protection window: pending commissions become withdrawable after it
const DefaultConfirmationWindow = 7 * 24 * time.Hour

type Config struct {
	// If zero DefaultRuleSet is used
	Rules RuleSet

	// If zero DefaultConfirmationWindow is used
	ConfirmationWindow time.Duration
}

// Result of order refund
type RefundResult struct {
	Cancelled []models.Commission

	// Active withdrawals that reserve one of the cancelled commissions
	// They are not adjusted and have to be reviewed by operator
	OrphanedWithdrawals []uuid.UUID
}

// Ledger owns commissions: accrual, confirmation, cancellation and balance
type Ledger struct {
	rules  RuleSet
	window time.Duration

	storage repository.Storage
	logger  logger.Logger

	now func() time.Time
}

func NewLedger(cfg Config, storage repository.Storage, l logger.Logger) *Ledger {
	if cfg.Rules.rates == nil {
		cfg.Rules = DefaultRuleSet()
	}
	if cfg.ConfirmationWindow == 0 {
		cfg.ConfirmationWindow = DefaultConfirmationWindow
	}

	return &Ledger{
		rules:   cfg.Rules,
		window:  cfg.ConfirmationWindow,
		storage: storage,
		logger:  l.With("component", "ledger"),
		now:     func() time.Time { return time.Now().Truncate(time.Microsecond) },
	}
}

// Accrue commissions for the upline of the buyer
// Safe to call many times for the same order: only missing commissions are created
// Return commissions created by this call
func (l *Ledger) OnOrderPaid(ctx context.Context, orderID string, buyerID uuid.UUID, total decimal.Decimal) ([]models.Commission, error) {
	if orderID == "" {
		return nil, apperrors.ErrOrderIDInvalid
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("order total %s: %w", total, apperrors.ErrInvalidAmount)
	}

	var created []models.Commission

	err := l.storage.InTx(ctx, func(s repository.Storage) error {
		created = created[:0]

		upline, err := referral.NewGraph(s.User()).Upline(ctx, buyerID)
		if err != nil {
			return err
		}

		now := l.now()
		for _, b := range upline {
			if b.UserID == buyerID {
				continue
			}

			amount, ok := l.rules.CommissionFor(total, b.Level)
			if !ok {
				continue
			}

			c, err := s.Commission().CreateCommission(ctx, models.Commission{
				ID:         uuid.New(),
				OrderID:    orderID,
				FromUserID: buyerID,
				ToUserID:   b.UserID,
				Level:      b.Level,
				Amount:     amount,
				Status:     models.CommissionPending,
				CreatedAt:  now,
			})

			switch {
			case err == nil:
				created = append(created, c)
			case errors.Is(err, apperrors.ErrDuplicateAccrual):
				l.logger.Debug("Commission already accrued", "order_id", orderID, "to_user_id", b.UserID, "level", b.Level)
			default:
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("can't accrue commissions for order %s. Err: %w", orderID, err)
	}

	if len(created) > 0 {
		l.logger.Info("Commissions accrued", "order_id", orderID, "buyer_id", buyerID, "count", len(created))
	}

	return created, nil
}

// Cancel not paid commissions of the refunded order
// Paid commissions are not reversed
func (l *Ledger) OnOrderRefunded(ctx context.Context, orderID string) (RefundResult, error) {
	var result RefundResult
	if orderID == "" {
		return result, apperrors.ErrOrderIDInvalid
	}

	err := l.storage.InTx(ctx, func(s repository.Storage) error {
		cancelled, err := s.Commission().CancelByOrder(ctx, orderID, l.now())
		if err != nil {
			return err
		}

		result = RefundResult{Cancelled: cancelled}
		seen := make(map[uuid.UUID]struct{})

		for _, c := range cancelled {
			if c.WithdrawalID == nil {
				continue
			}
			if _, ok := seen[*c.WithdrawalID]; ok {
				continue
			}
			seen[*c.WithdrawalID] = struct{}{}

			w, err := s.Withdrawal().GetWithdrawal(ctx, *c.WithdrawalID, false)
			if err != nil {
				return err
			}
			if !w.IsTerminal() {
				result.OrphanedWithdrawals = append(result.OrphanedWithdrawals, w.ID)
			}
		}

		return nil
	})
	if err != nil {
		return RefundResult{}, fmt.Errorf("can't cancel commissions for order %s. Err: %w", orderID, err)
	}

	for _, withdrawalID := range result.OrphanedWithdrawals {
		l.logger.Warn("Refund cancelled commission reserved by active withdrawal",
			"error", apperrors.ErrOrphanedReservation,
			"order_id", orderID,
			"withdrawal_id", withdrawalID,
		)
	}
	if len(result.Cancelled) > 0 {
		l.logger.Info("Commissions cancelled", "order_id", orderID, "count", len(result.Cancelled))
	}

	return result, nil
}

// Explicitly confirm pending commission
// Confirming confirmed commission is no-op
func (l *Ledger) Confirm(ctx context.Context, commissionID uuid.UUID) (models.Commission, error) {
	var confirmed models.Commission

	err := l.storage.InTx(ctx, func(s repository.Storage) error {
		c, err := s.Commission().GetCommission(ctx, commissionID, true)
		if err != nil {
			return err
		}

		switch c.Status {
		case models.CommissionPending:
			confirmed, err = s.Commission().Confirm(ctx, commissionID, l.now())
			return err
		case models.CommissionConfirmed:
			confirmed = c
			return nil
		default:
			return fmt.Errorf("commission is %s: %w", c.Status, apperrors.ErrInvalidStateTransition)
		}
	})

	return confirmed, err
}

// Confirm every pending commission older than confirmation window
// Idempotent, may run concurrently with itself
func (l *Ledger) ConfirmDue(ctx context.Context, now time.Time) (int64, error) {
	count, err := l.storage.Commission().ConfirmDue(ctx, now.Add(-l.window), now)
	if err != nil {
		return 0, fmt.Errorf("can't confirm due commissions. Err: %w", err)
	}

	return count, nil
}

// Sum of confirmed commissions not reserved by any withdrawal
func (l *Ledger) AvailableBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return l.storage.Commission().AvailableBalance(ctx, userID)
}

func (l *Ledger) ListCommissions(ctx context.Context, userID uuid.UUID, statuses []string, page models.Page) ([]models.Commission, error) {
	page = page.Normalize()

	return l.storage.Commission().ListCommissions(ctx, repository.ListCommissionsOpts{
		UserID:   userID,
		Statuses: statuses,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
}
