package withdrawal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
)

// Attempts of the whole request when reservation lost a race
const requestAttempts = 2

type Config struct {
	// Fee rate applied to new requests. Zero means withdrawals free of charge
	FeeRate decimal.Decimal
}

// Manager owns withdrawals: request, operator resolution and bookkeeping
type Manager struct {
	feeRate decimal.Decimal

	storage repository.Storage
	logger  logger.Logger

	now func() time.Time
}

func NewManager(cfg Config, storage repository.Storage, l logger.Logger) (*Manager, error) {
	if err := validateFeeRate(cfg.FeeRate); err != nil {
		return nil, err
	}

	return &Manager{
		feeRate: cfg.FeeRate,
		storage: storage,
		logger:  l.With("component", "withdrawal"),
		now:     func() time.Time { return time.Now().Truncate(time.Microsecond) },
	}, nil
}

type RequestParams struct {
	UserID  uuid.UUID
	Amount  decimal.Decimal
	Method  string
	Account models.AccountInfo
}

// Reserve the user's oldest confirmed commissions covering the amount and create PENDING withdrawal
//
// Commissions are never split, so requested amount of the withdrawal is the sum of reserved
// commissions and may be greater than asked.
func (m *Manager) Request(ctx context.Context, p RequestParams) (models.Withdrawal, error) {
	if !p.Amount.IsPositive() || !p.Amount.Equal(p.Amount.Round(feePlaces)) {
		return models.Withdrawal{}, fmt.Errorf("withdrawal amount %s: %w", p.Amount, apperrors.ErrInvalidAmount)
	}
	if !models.IsWithdrawalMethod(p.Method) {
		return models.Withdrawal{}, fmt.Errorf("withdrawal method %q: %w", p.Method, apperrors.ErrWithdrawalMethodInvalid)
	}

	var (
		w   models.Withdrawal
		err error
	)

	for attempt := 1; attempt <= requestAttempts; attempt++ {
		err = m.storage.InTx(ctx, func(s repository.Storage) error {
			created, err := m.request(ctx, s, p)
			w = created
			return err
		})
		if !errors.Is(err, apperrors.ErrReservationConflict) {
			break
		}
		m.logger.Info("Withdrawal reservation conflict", "user_id", p.UserID, "attempt", attempt, "error", err)
	}

	switch {
	case err == nil:
		m.logger.Info("Withdrawal requested",
			"withdrawal_id", w.ID,
			"user_id", w.UserID,
			"requested", w.RequestedAmount,
			"commissions", len(w.CommissionIDs),
		)
		return w, nil
	case errors.Is(err, apperrors.ErrReservationConflict):
		return models.Withdrawal{}, fmt.Errorf("%w: %w", apperrors.ErrBalanceInsufficient, err)
	default:
		return models.Withdrawal{}, err
	}
}

func (m *Manager) request(ctx context.Context, s repository.Storage, p RequestParams) (models.Withdrawal, error) {
	candidates, err := s.Commission().ListAvailable(ctx, p.UserID)
	if err != nil {
		return models.Withdrawal{}, err
	}
	if available := sum(candidates); available.LessThan(p.Amount) {
		return models.Withdrawal{}, fmt.Errorf("available %s, requested %s: %w", available, p.Amount, apperrors.ErrBalanceInsufficient)
	}

	withdrawalID := uuid.New()
	reserved := make([]models.Commission, 0, len(candidates))
	total := decimal.Zero
	tried := make(map[uuid.UUID]struct{}, len(candidates))

	for total.LessThan(p.Amount) {
		picked := pick(candidates, tried, p.Amount.Sub(total))
		if len(picked) == 0 {
			return models.Withdrawal{}, fmt.Errorf("reserved %s of %s: %w", total, p.Amount, apperrors.ErrReservationConflict)
		}

		got, err := s.Commission().Reserve(ctx, withdrawalID, picked)
		if err != nil {
			return models.Withdrawal{}, err
		}
		reserved = append(reserved, got...)
		total = total.Add(sum(got))

		if len(got) < len(picked) {
			// Some were taken by concurrent request or cancelled. Look for the deficit in the fresh state
			candidates, err = s.Commission().ListAvailable(ctx, p.UserID)
			if err != nil {
				return models.Withdrawal{}, err
			}
		}
	}

	slices.SortFunc(reserved, func(a, b models.Commission) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	ids := make([]uuid.UUID, 0, len(reserved))
	for _, c := range reserved {
		ids = append(ids, c.ID)
	}

	fee, net := Split(total, m.feeRate)

	return s.Withdrawal().CreateWithdrawal(ctx, models.Withdrawal{
		ID:              withdrawalID,
		UserID:          p.UserID,
		RequestedAmount: total,
		FeeRate:         m.feeRate,
		Fee:             fee,
		NetAmount:       net,
		Method:          p.Method,
		Account:         p.Account,
		Status:          models.WithdrawalPending,
		CommissionIDs:   ids,
		CreatedAt:       m.now(),
	})
}

// Resolve withdrawal with operator decision
// Resolving terminal withdrawal with the same outcome again is no-op
func (m *Manager) Resolve(ctx context.Context, withdrawalID uuid.UUID, outcome string, remark string) (models.Withdrawal, error) {
	var target string
	switch outcome {
	case models.OutcomeApprove:
		target = models.WithdrawalCompleted
	case models.OutcomeReject:
		target = models.WithdrawalRejected
	default:
		return models.Withdrawal{}, fmt.Errorf("outcome %q: %w", outcome, apperrors.ErrWithdrawalOutcome)
	}

	var (
		resolved models.Withdrawal
		changed  bool
	)

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		w, err := s.Withdrawal().GetWithdrawal(ctx, withdrawalID, true)
		if err != nil {
			return err
		}

		if w.IsTerminal() {
			if w.Status != target {
				return fmt.Errorf("withdrawal is %s, can't %s: %w", w.Status, outcome, apperrors.ErrInvalidStateTransition)
			}
			resolved = w
			return nil
		}

		now := m.now()
		switch target {
		case models.WithdrawalCompleted:
			_, err = s.Commission().Settle(ctx, withdrawalID, now)
		case models.WithdrawalRejected:
			_, err = s.Commission().Release(ctx, withdrawalID)
		}
		if err != nil {
			return err
		}

		resolved, err = s.Withdrawal().UpdateStatus(ctx, withdrawalID, target, remark, &now)
		changed = err == nil
		return err
	})
	if err != nil {
		return models.Withdrawal{}, err
	}

	if changed {
		m.logger.Info("Withdrawal resolved", "withdrawal_id", resolved.ID, "status", resolved.Status)
	}

	return resolved, nil
}

// Move PENDING withdrawal to PROCESSING. No commission is touched
func (m *Manager) MarkProcessing(ctx context.Context, withdrawalID uuid.UUID) (models.Withdrawal, error) {
	var marked models.Withdrawal

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		w, err := s.Withdrawal().GetWithdrawal(ctx, withdrawalID, true)
		if err != nil {
			return err
		}

		switch w.Status {
		case models.WithdrawalPending:
			marked, err = s.Withdrawal().UpdateStatus(ctx, withdrawalID, models.WithdrawalProcessing, w.OperatorRemark, nil)
			return err
		case models.WithdrawalProcessing:
			marked = w
			return nil
		default:
			return fmt.Errorf("withdrawal is %s: %w", w.Status, apperrors.ErrInvalidStateTransition)
		}
	})

	return marked, err
}

// List withdrawals newest first. Nil userID lists withdrawals of all users
func (m *Manager) ListWithdrawals(ctx context.Context, userID *uuid.UUID, statuses []string, page models.Page) ([]models.Withdrawal, error) {
	page = page.Normalize()

	return m.storage.Withdrawal().ListWithdrawals(ctx, repository.ListWithdrawalsOpts{
		UserID:   userID,
		Statuses: statuses,
		Limit:    page.Limit,
		Offset:   page.Offset,
	})
}

// Oldest candidates not tried yet, until their sum covers the deficit
func pick(candidates []models.Commission, tried map[uuid.UUID]struct{}, deficit decimal.Decimal) []uuid.UUID {
	var (
		ids   []uuid.UUID
		total decimal.Decimal
	)

	for _, c := range candidates {
		if total.GreaterThanOrEqual(deficit) {
			break
		}
		if _, ok := tried[c.ID]; ok {
			continue
		}
		tried[c.ID] = struct{}{}

		ids = append(ids, c.ID)
		total = total.Add(c.Amount)
	}

	return ids
}

func sum(commissions []models.Commission) decimal.Decimal {
	total := decimal.Zero
	for _, c := range commissions {
		total = total.Add(c.Amount)
	}
	return total
}
