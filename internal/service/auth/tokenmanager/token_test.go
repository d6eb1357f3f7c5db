package tokenmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
	"github.com/nkiryanov/affiliate/internal/repository/postgres"
	"github.com/nkiryanov/affiliate/internal/testutil"
)

const testSecret = "test-secret-key"

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Refresh tokens reference users, so every test gets a real affiliate
	withManager := func(t *testing.T, fn func(m *TokenManager, storage repository.Storage, user models.User)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			user, err := storage.User().CreateUser(t.Context(), repository.CreateUserParams{
				Username:       "affiliate",
				HashedPassword: "hashed_password",
				ReferralCode:   "AFFILIAT",
			})
			require.NoError(t, err)

			m, err := New(Config{SecretKey: testSecret}, storage.Refresh())
			require.NoError(t, err)

			fn(m, storage, user)
		})
	}

	// Move manager clock forward
	advance := func(m *TokenManager, d time.Duration) {
		at := time.Now().Add(d)
		m.now = func() time.Time { return at }
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"}, nil)
		require.NoError(t, err)

		require.Equal(t, []byte("secret"), m.key)
		require.Equal(t, defaultAccessTokenTTL, m.accessTTL)
		require.Equal(t, defaultRefreshTokenTTL, m.refreshTTL)
		require.Equal(t, defaultSigningMethod, m.alg.Alg())
	})

	t.Run("new fail", func(t *testing.T) {
		tests := map[string]Config{
			"no secret":     {},
			"asymmetric":    {SecretKey: "secret", Alg: "RS256"},
			"unknown alg":   {SecretKey: "secret", Alg: "HS1024"},
			"not signed at": {SecretKey: "secret", Alg: "none"},
		}
		for name, cfg := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := New(cfg, nil)
				require.Error(t, err)
			})
		}
	})

	t.Run("GeneratePair", func(t *testing.T) {
		t.Run("access claims", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, user models.User) {
				pair, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)

				claims := &jwt.RegisteredClaims{}
				_, err = jwt.ParseWithClaims(pair.Access.Value, claims, func(*jwt.Token) (any, error) {
					return []byte(testSecret), nil
				})
				require.NoError(t, err)

				assert.Equal(t, user.ID.String(), claims.Subject)
				assert.Equal(t, "affiliate-ledger", claims.Issuer)
				assert.NotEmpty(t, claims.ID, "token has to has jti")
				assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second)
				assert.WithinDuration(t, pair.Access.ExpiresAt, claims.ExpiresAt.Time, 0)
				assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.Access.ExpiresAt, time.Second)
				assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.Refresh.ExpiresAt, time.Second)
			})
		})

		t.Run("only digest of refresh token is stored", func(t *testing.T) {
			withManager(t, func(m *TokenManager, storage repository.Storage, user models.User) {
				pair, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)
				require.Len(t, pair.Refresh.Value, 2*refreshBytesLen)

				_, err = storage.Refresh().GetAndMarkUsed(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "plain value must not be found")

				stored, err := storage.Refresh().GetAndMarkUsed(t.Context(), hashRefresh(pair.Refresh.Value))
				require.NoError(t, err)
				assert.Equal(t, user.ID, stored.UserID)
			})
		})

		t.Run("generate different tokens", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, user models.User) {
				pair1, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)
				pair2, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)

				assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value)
				assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value)
			})
		})
	})

	t.Run("UseRefresh", func(t *testing.T) {
		t.Run("use token once", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, user models.User) {
				pair, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)

				token, err := m.UseRefresh(t.Context(), pair.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, user.ID, token.UserID)
				require.WithinDuration(t, pair.Refresh.ExpiresAt, token.ExpiresAt, 0)

				_, err = m.UseRefresh(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenIsUsed)
			})
		})

		t.Run("unknown token", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, _ models.User) {
				_, err := m.UseRefresh(t.Context(), "not-issued")
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			})
		})

		t.Run("expired token", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, user models.User) {
				pair, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)

				advance(m, 25*time.Hour)
				_, err = m.UseRefresh(t.Context(), pair.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenExpired)
			})
		})
	})

	t.Run("ParseAccess", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, user models.User) {
				pair, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)

				userID, err := m.ParseAccess(t.Context(), pair.Access.Value)
				require.NoError(t, err)
				require.Equal(t, user.ID, userID)
			})
		})

		t.Run("expired token", func(t *testing.T) {
			withManager(t, func(m *TokenManager, _ repository.Storage, user models.User) {
				pair, err := m.GeneratePair(t.Context(), user)
				require.NoError(t, err)

				advance(m, 16*time.Minute)
				_, err = m.ParseAccess(t.Context(), pair.Access.Value)
				require.ErrorIs(t, err, jwt.ErrTokenExpired)
			})
		})

		t.Run("not a token", func(t *testing.T) {
			m, err := New(Config{SecretKey: testSecret}, nil)
			require.NoError(t, err)

			_, err = m.ParseAccess(t.Context(), "invalid token")
			require.Error(t, err)
		})

		t.Run("forged tokens", func(t *testing.T) {
			m, err := New(Config{SecretKey: testSecret}, nil)
			require.NoError(t, err)

			valid := jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    issuer,
				Subject:   uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			}
			sign := func(method jwt.SigningMethod, claims jwt.RegisteredClaims, key any) string {
				s, err := jwt.NewWithClaims(method, claims).SignedString(key)
				require.NoError(t, err)
				return s
			}

			otherIssuer := valid
			otherIssuer.Issuer = "somebody-else"
			noExpiry := valid
			noExpiry.ExpiresAt = nil
			notUser := valid
			notUser.Subject = "operator"

			tests := map[string]string{
				"not signed":     sign(jwt.SigningMethodNone, valid, jwt.UnsafeAllowNoneSignatureType),
				"other key":      sign(jwt.SigningMethodHS256, valid, []byte("other-secret")),
				"other alg":      sign(jwt.SigningMethodHS512, valid, []byte(testSecret)),
				"other issuer":   sign(jwt.SigningMethodHS256, otherIssuer, []byte(testSecret)),
				"no expiry":      sign(jwt.SigningMethodHS256, noExpiry, []byte(testSecret)),
				"subject not id": sign(jwt.SigningMethodHS256, notUser, []byte(testSecret)),
			}

			for name, access := range tests {
				t.Run(name, func(t *testing.T) {
					_, err := m.ParseAccess(t.Context(), access)
					require.Error(t, err)
				})
			}

			_, err = m.ParseAccess(t.Context(), sign(jwt.SigningMethodHS256, valid, []byte(testSecret)))
			require.NoError(t, err, "the same claims signed properly are accepted")
		})
	})
}
