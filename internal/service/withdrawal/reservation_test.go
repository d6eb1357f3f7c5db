package withdrawal

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
)

// In memory storage where reservations may be lost to concurrent requests
// Transaction rollback restores commissions available before it
type raceStorage struct {
	commissions *raceCommissions
	withdrawals *raceWithdrawals
	txs         int
}

func (s *raceStorage) User() repository.UserRepo            { return nil }
func (s *raceStorage) Refresh() repository.RefreshTokenRepo { return nil }
func (s *raceStorage) Commission() repository.CommissionRepo {
	return s.commissions
}
func (s *raceStorage) Withdrawal() repository.WithdrawalRepo {
	return s.withdrawals
}

func (s *raceStorage) InTx(_ context.Context, fn func(repository.Storage) error) error {
	s.txs++

	saved := slices.Clone(s.commissions.available)
	if err := fn(s); err != nil {
		s.commissions.available = saved
		return err
	}
	return nil
}

type raceCommissions struct {
	repository.CommissionRepo

	available []models.Commission
	reserves  int

	// Called on every Reserve, returns an error for the whole call or ids taken by someone else
	race func(call int, ids []uuid.UUID) ([]uuid.UUID, error)
}

func (r *raceCommissions) ListAvailable(_ context.Context, _ uuid.UUID) ([]models.Commission, error) {
	return slices.Clone(r.available), nil
}

func (r *raceCommissions) Reserve(_ context.Context, withdrawalID uuid.UUID, ids []uuid.UUID) ([]models.Commission, error) {
	r.reserves++

	var lost []uuid.UUID
	if r.race != nil {
		var err error
		if lost, err = r.race(r.reserves, ids); err != nil {
			return nil, err
		}
	}

	var got []models.Commission
	for _, id := range ids {
		if slices.Contains(lost, id) {
			continue
		}
		i := slices.IndexFunc(r.available, func(c models.Commission) bool { return c.ID == id })
		if i < 0 {
			continue
		}

		c := r.available[i]
		c.WithdrawalID = &withdrawalID
		got = append(got, c)
		r.available = slices.Delete(r.available, i, i+1)
	}

	return got, nil
}

type raceWithdrawals struct {
	repository.WithdrawalRepo

	created []models.Withdrawal
}

func (r *raceWithdrawals) CreateWithdrawal(_ context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	r.created = append(r.created, w)
	return w, nil
}

func newRaceStorage(amounts ...string) (*raceStorage, []models.Commission) {
	userID := uuid.New()
	created := time.Now().Add(-30 * 24 * time.Hour)

	commissions := make([]models.Commission, 0, len(amounts))
	for i, amount := range amounts {
		commissions = append(commissions, models.Commission{
			ID:        uuid.New(),
			OrderID:   uuid.NewString(),
			ToUserID:  userID,
			Level:     models.LevelDirect,
			Amount:    decimal.RequireFromString(amount),
			Status:    models.CommissionConfirmed,
			CreatedAt: created.Add(time.Duration(i) * time.Minute),
		})
	}

	return &raceStorage{
		commissions: &raceCommissions{available: slices.Clone(commissions)},
		withdrawals: &raceWithdrawals{},
	}, commissions
}

func TestManager_Reservation(t *testing.T) {
	t.Parallel()

	request := func(t *testing.T, s *raceStorage, rate decimal.Decimal, userID uuid.UUID, amount string) (models.Withdrawal, error) {
		t.Helper()

		m, err := NewManager(Config{FeeRate: rate}, s, logger.NewNoOpLogger())
		require.NoError(t, err)

		return m.Request(t.Context(), RequestParams{UserID: userID, Amount: decimal.RequireFromString(amount), Method: models.MethodWechat, Account: account})
	}

	// First id of every reserved batch is taken by someone else
	loseFirst := func(_ int, ids []uuid.UUID) ([]uuid.UUID, error) {
		return ids[:1], nil
	}

	t.Run("short reservation refilled from fresh candidates", func(t *testing.T) {
		s, commissions := newRaceStorage("10", "10", "10", "10")
		s.commissions.race = func(call int, ids []uuid.UUID) ([]uuid.UUID, error) {
			if call == 1 {
				return loseFirst(call, ids)
			}
			return nil, nil
		}

		w, err := request(t, s, DefaultFeeRate, commissions[0].ToUserID, "20")

		require.NoError(t, err)
		assert.Equal(t, 1, s.txs, "no retry is needed")
		assert.Equal(t, 2, s.commissions.reserves)
		assert.Equal(t, []uuid.UUID{commissions[1].ID, commissions[2].ID}, w.CommissionIDs, "lost commission is replaced by the next oldest")
		assert.Equal(t, "20.00", w.RequestedAmount.StringFixed(2))
		assert.Equal(t, "0.40", w.Fee.StringFixed(2))
		assert.Equal(t, "19.60", w.NetAmount.StringFixed(2))
		require.Len(t, s.withdrawals.created, 1)
	})

	t.Run("conflict of the store is retried once", func(t *testing.T) {
		s, commissions := newRaceStorage("10", "10", "10")
		s.commissions.race = func(call int, _ []uuid.UUID) ([]uuid.UUID, error) {
			if call == 1 {
				return nil, apperrors.ErrReservationConflict
			}
			return nil, nil
		}

		w, err := request(t, s, DefaultFeeRate, commissions[0].ToUserID, "20")

		require.NoError(t, err)
		assert.Equal(t, 2, s.txs)
		assert.Equal(t, []uuid.UUID{commissions[0].ID, commissions[1].ID}, w.CommissionIDs)
	})

	t.Run("reservation always short fails after retry", func(t *testing.T) {
		s, commissions := newRaceStorage("10", "10", "10", "10")
		s.commissions.race = loseFirst

		_, err := request(t, s, DefaultFeeRate, commissions[0].ToUserID, "20")

		require.Error(t, err)
		assert.ErrorIs(t, err, apperrors.ErrBalanceInsufficient)
		assert.ErrorIs(t, err, apperrors.ErrReservationConflict)
		assert.Equal(t, requestAttempts, s.txs)
		assert.Empty(t, s.withdrawals.created)
		assert.Len(t, s.commissions.available, len(commissions), "reservations of failed attempts are rolled back")
	})

	t.Run("zero fee rate", func(t *testing.T) {
		s, commissions := newRaceStorage("15.50")

		w, err := request(t, s, decimal.Zero, commissions[0].ToUserID, "15.50")

		require.NoError(t, err)
		assert.True(t, w.FeeRate.IsZero())
		assert.True(t, w.Fee.IsZero())
		assert.Equal(t, "15.50", w.NetAmount.StringFixed(2))
		assert.True(t, w.NetAmount.Equal(w.RequestedAmount))
	})
}
