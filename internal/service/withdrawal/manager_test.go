package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
	"github.com/nkiryanov/affiliate/internal/repository/postgres"
	"github.com/nkiryanov/affiliate/internal/testutil"
)

var account = models.AccountInfo{Name: "R1", Number: "6222020200112233"}

// Create user with confirmed commissions of given amounts, oldest first
func seed(t *testing.T, s repository.Storage, name string, amounts ...string) (models.User, []models.Commission) {
	t.Helper()

	u, err := s.User().CreateUser(t.Context(), repository.CreateUserParams{
		Username:       name,
		HashedPassword: "hashed",
		ReferralCode:   "code-" + name,
	})
	require.NoError(t, err)

	created := time.Now().Add(-30 * 24 * time.Hour).Truncate(time.Microsecond)
	commissions := make([]models.Commission, 0, len(amounts))
	for i, amount := range amounts {
		c, err := s.Commission().CreateCommission(t.Context(), models.Commission{
			ID:         uuid.New(),
			OrderID:    uuid.NewString(),
			FromUserID: uuid.New(),
			ToUserID:   u.ID,
			Level:      models.LevelDirect,
			Amount:     decimal.RequireFromString(amount),
			Status:     models.CommissionConfirmed,
			CreatedAt:  created.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		commissions = append(commissions, c)
	}

	return u, commissions
}

func balance(t *testing.T, s repository.Storage, userID uuid.UUID) string {
	t.Helper()

	b, err := s.Commission().AvailableBalance(t.Context(), userID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func newManager(t *testing.T, s repository.Storage) *Manager {
	t.Helper()

	m, err := NewManager(Config{FeeRate: DefaultFeeRate}, s, logger.NewNoOpLogger())
	require.NoError(t, err)
	return m
}

func TestManager(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withStorage := func(t *testing.T, fn func(s repository.Storage)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			fn(postgres.NewStorage(tx))
		})
	}

	t.Run("request reserves and computes fee", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, commissions := seed(t, s, "r1", "60", "40")
			m := newManager(t, s)

			w, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("100"), Method: models.MethodAlipay, Account: account})

			require.NoError(t, err)
			assert.Equal(t, models.WithdrawalPending, w.Status)
			assert.Equal(t, "100.00", w.RequestedAmount.StringFixed(2))
			assert.Equal(t, "2.00", w.Fee.StringFixed(2))
			assert.Equal(t, "98.00", w.NetAmount.StringFixed(2))
			assert.True(t, w.FeeRate.Equal(DefaultFeeRate))
			assert.Equal(t, []uuid.UUID{commissions[0].ID, commissions[1].ID}, w.CommissionIDs)
			assert.Equal(t, account, w.Account)
			assert.Equal(t, "0.00", balance(t, s, u.ID))

			for _, c := range commissions {
				got, err := s.Commission().GetCommission(t.Context(), c.ID, false)
				require.NoError(t, err)
				assert.Equal(t, models.CommissionConfirmed, got.Status)
				assert.Equal(t, &w.ID, got.WithdrawalID)
			}
		})
	})

	t.Run("request takes oldest commissions first", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, commissions := seed(t, s, "r1", "10", "20", "30")
			m := newManager(t, s)

			w, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("25"), Method: models.MethodBankCard, Account: account})

			require.NoError(t, err)
			assert.Equal(t, []uuid.UUID{commissions[0].ID, commissions[1].ID}, w.CommissionIDs)
			assert.Equal(t, "30.00", w.RequestedAmount.StringFixed(2), "commissions are not split")
			assert.True(t, w.Fee.Add(w.NetAmount).Equal(w.RequestedAmount))
			assert.Equal(t, "30.00", balance(t, s, u.ID))
		})
	})

	t.Run("request more than available", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, _ := seed(t, s, "r1", "10", "20")
			m := newManager(t, s)

			_, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("30.01"), Method: models.MethodBankCard, Account: account})

			require.ErrorIs(t, err, apperrors.ErrBalanceInsufficient)
			assert.Equal(t, "30.00", balance(t, s, u.ID), "nothing has to be reserved")
		})
	})

	t.Run("pending commissions are not available", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, commissions := seed(t, s, "r1", "10")
			_, err := s.Commission().CreateCommission(t.Context(), models.Commission{
				ID:         uuid.New(),
				OrderID:    "pending-order",
				FromUserID: uuid.New(),
				ToUserID:   u.ID,
				Level:      models.LevelDirect,
				Amount:     decimal.RequireFromString("50"),
				Status:     models.CommissionPending,
				CreatedAt:  commissions[0].CreatedAt,
			})
			require.NoError(t, err)
			m := newManager(t, s)

			_, err = m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("20"), Method: models.MethodBankCard, Account: account})

			require.ErrorIs(t, err, apperrors.ErrBalanceInsufficient)
		})
	})

	t.Run("request validation", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, _ := seed(t, s, "r1", "10")
			m := newManager(t, s)

			for _, amount := range []string{"0", "-5", "1.001"} {
				_, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString(amount), Method: models.MethodBankCard, Account: account})
				assert.ErrorIs(t, err, apperrors.ErrInvalidAmount, "amount %s", amount)
			}

			_, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("5"), Method: "PAYPAL", Account: account})
			assert.ErrorIs(t, err, apperrors.ErrWithdrawalMethodInvalid)
		})
	})

	t.Run("reject restores balance", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, _ := seed(t, s, "r1", "100")
			m := newManager(t, s)
			w, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("100"), Method: models.MethodAlipay, Account: account})
			require.NoError(t, err)
			require.Equal(t, "0.00", balance(t, s, u.ID))

			rejected, err := m.Resolve(t.Context(), w.ID, models.OutcomeReject, "wrong account")

			require.NoError(t, err)
			assert.Equal(t, models.WithdrawalRejected, rejected.Status)
			assert.Equal(t, "wrong account", rejected.OperatorRemark)
			assert.NotNil(t, rejected.ResolvedAt)
			assert.Equal(t, w.CommissionIDs, rejected.CommissionIDs, "reserved set is frozen")
			assert.Equal(t, "100.00", balance(t, s, u.ID))

			_, err = m.Resolve(t.Context(), w.ID, models.OutcomeApprove, "")
			require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

			again, err := m.Resolve(t.Context(), w.ID, models.OutcomeReject, "retried")
			require.NoError(t, err, "same outcome is no-op")
			assert.Equal(t, "wrong account", again.OperatorRemark)
			assert.Equal(t, "100.00", balance(t, s, u.ID))
		})
	})

	t.Run("approve pays commissions", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, commissions := seed(t, s, "r1", "40", "60")
			m := newManager(t, s)
			w, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("100"), Method: models.MethodWechat, Account: account})
			require.NoError(t, err)

			processing, err := m.MarkProcessing(t.Context(), w.ID)
			require.NoError(t, err)
			assert.Equal(t, models.WithdrawalProcessing, processing.Status)
			assert.Nil(t, processing.ResolvedAt)

			completed, err := m.Resolve(t.Context(), w.ID, models.OutcomeApprove, "sent")

			require.NoError(t, err)
			assert.Equal(t, models.WithdrawalCompleted, completed.Status)
			for _, c := range commissions {
				got, err := s.Commission().GetCommission(t.Context(), c.ID, false)
				require.NoError(t, err)
				assert.Equal(t, models.CommissionPaid, got.Status)
				assert.NotNil(t, got.PaidAt)
			}
			assert.Equal(t, "0.00", balance(t, s, u.ID))

			_, err = m.Resolve(t.Context(), w.ID, models.OutcomeReject, "")
			require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)

			_, err = m.MarkProcessing(t.Context(), w.ID)
			require.ErrorIs(t, err, apperrors.ErrInvalidStateTransition)
		})
	})

	t.Run("approve skips commissions cancelled by refund", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, commissions := seed(t, s, "r1", "40", "60")
			m := newManager(t, s)
			w, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("100"), Method: models.MethodWechat, Account: account})
			require.NoError(t, err)
			_, err = s.Commission().CancelByOrder(t.Context(), commissions[0].OrderID, time.Now())
			require.NoError(t, err)

			_, err = m.Resolve(t.Context(), w.ID, models.OutcomeApprove, "")

			require.NoError(t, err)
			cancelled, err := s.Commission().GetCommission(t.Context(), commissions[0].ID, false)
			require.NoError(t, err)
			assert.Equal(t, models.CommissionCancelled, cancelled.Status, "cancelled is terminal")
		})
	})

	t.Run("mark processing twice is no-op", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u, _ := seed(t, s, "r1", "10")
			m := newManager(t, s)
			w, err := m.Request(t.Context(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("10"), Method: models.MethodBankCard, Account: account})
			require.NoError(t, err)

			_, err = m.MarkProcessing(t.Context(), w.ID)
			require.NoError(t, err)
			again, err := m.MarkProcessing(t.Context(), w.ID)

			require.NoError(t, err)
			assert.Equal(t, models.WithdrawalProcessing, again.Status)
		})
	})

	t.Run("unknown withdrawal", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			m := newManager(t, s)

			_, err := m.Resolve(t.Context(), uuid.New(), models.OutcomeApprove, "")
			require.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound)

			_, err = m.MarkProcessing(t.Context(), uuid.New())
			require.ErrorIs(t, err, apperrors.ErrWithdrawalNotFound)

			_, err = m.Resolve(t.Context(), uuid.New(), "MAYBE", "")
			require.ErrorIs(t, err, apperrors.ErrWithdrawalOutcome)
		})
	})

	t.Run("list withdrawals", func(t *testing.T) {
		withStorage(t, func(s repository.Storage) {
			u1, _ := seed(t, s, "u1", "10", "20")
			u2, _ := seed(t, s, "u2", "30")
			m := newManager(t, s)
			first, err := m.Request(t.Context(), RequestParams{UserID: u1.ID, Amount: decimal.RequireFromString("10"), Method: models.MethodBankCard, Account: account})
			require.NoError(t, err)
			m.now = func() time.Time { return first.CreatedAt.Add(time.Second) }
			second, err := m.Request(t.Context(), RequestParams{UserID: u1.ID, Amount: decimal.RequireFromString("20"), Method: models.MethodBankCard, Account: account})
			require.NoError(t, err)
			other, err := m.Request(t.Context(), RequestParams{UserID: u2.ID, Amount: decimal.RequireFromString("30"), Method: models.MethodBankCard, Account: account})
			require.NoError(t, err)
			_, err = m.Resolve(t.Context(), first.ID, models.OutcomeReject, "")
			require.NoError(t, err)

			own, err := m.ListWithdrawals(t.Context(), &u1.ID, nil, models.Page{})
			require.NoError(t, err)
			require.Len(t, own, 2)
			assert.Equal(t, second.ID, own[0].ID, "newest first")
			assert.Equal(t, first.ID, own[1].ID)
			assert.Len(t, own[0].CommissionIDs, 1)

			pending, err := m.ListWithdrawals(t.Context(), nil, []string{models.WithdrawalPending}, models.Page{})
			require.NoError(t, err)
			ids := make([]uuid.UUID, 0, len(pending))
			for _, w := range pending {
				ids = append(ids, w.ID)
			}
			assert.ElementsMatch(t, []uuid.UUID{second.ID, other.ID}, ids)

			paged, err := m.ListWithdrawals(t.Context(), &u1.ID, nil, models.Page{Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, paged, 1)
			assert.Equal(t, first.ID, paged[0].ID)
		})
	})
}

// Runs against committed data: reservations of concurrent transactions must see each other
func TestManager_ConcurrentRequests(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	s := postgres.NewStorage(pg.Pool)
	u, _ := seed(t, s, "concurrent", "10", "10", "10", "10", "10", "10", "10", "10", "10", "10")
	m := newManager(t, s)

	const requests = 8
	var (
		g       errgroup.Group
		mu      sync.Mutex
		created []models.Withdrawal
		errs    []error
	)

	for range requests {
		g.Go(func() error {
			w, err := m.Request(context.Background(), RequestParams{UserID: u.ID, Amount: decimal.RequireFromString("30"), Method: models.MethodBankCard, Account: account})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			created = append(created, w)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	conflicts := 0
	for _, err := range errs {
		require.ErrorIs(t, err, apperrors.ErrBalanceInsufficient)
		if errors.Is(err, apperrors.ErrReservationConflict) {
			conflicts++
		}
	}
	if conflicts == 0 {
		// Nothing lost to deadlocks, so every request got its share until balance ran out
		require.Len(t, created, 3)
	} else {
		require.NotEmpty(t, created)
		require.LessOrEqual(t, len(created), 3)
	}

	reserved := make(map[uuid.UUID]uuid.UUID)
	total := decimal.Zero
	for _, w := range created {
		assert.Equal(t, "30.00", w.RequestedAmount.StringFixed(2))
		total = total.Add(w.RequestedAmount)

		for _, id := range w.CommissionIDs {
			other, ok := reserved[id]
			require.False(t, ok, "commission %s reserved by %s and %s", id, other, w.ID)
			reserved[id] = w.ID
		}
	}

	available, err := s.Commission().AvailableBalance(t.Context(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, decimal.NewFromInt(100).Sub(total).StringFixed(2), available.StringFixed(2))
}
