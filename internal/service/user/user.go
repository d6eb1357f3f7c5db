package user

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/logger"
	"github.com/nkiryanov/affiliate/internal/models"
	"github.com/nkiryanov/affiliate/internal/repository"
	"github.com/nkiryanov/affiliate/internal/service/auth"
	"github.com/nkiryanov/affiliate/internal/service/referral"
)

const (
	// No 0/O and 1/I to make codes easy to dictate
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength   = 8
	referralCodeAttempts = 5

	// Upline depth inspected to reject cyclic referrer links
	cycleCheckDepth = 256
)

type UserService struct {
	hasher  auth.PasswordHasher
	storage repository.Storage
	logger  logger.Logger
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage, l logger.Logger) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
		logger:  l.With("component", "user"),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newReferralCode() string {
	b := make([]byte, referralCodeLength)
	_, _ = rand.Read(b) // never returns an error

	for i := range b {
		b[i] = referralCodeAlphabet[int(b[i])%len(referralCodeAlphabet)]
	}
	return string(b)
}

// Create user with unique referral code
// If referralCode is not empty the owner of the code becomes referrer of the new user
func (s *UserService) CreateUser(ctx context.Context, username string, password string, referralCode string) (models.User, error) {
	var user models.User
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	var referrerID *uuid.UUID
	if code := normalizeCode(referralCode); code != "" {
		referrer, err := s.storage.User().GetUserByReferralCode(ctx, code)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return user, fmt.Errorf("code %q: %w", code, apperrors.ErrReferralCodeInvalid)
		case err != nil:
			return user, fmt.Errorf("can't resolve referral code. Err: %w", err)
		}
		referrerID = &referrer.ID
	}

	for range referralCodeAttempts {
		// Each attempt in own (sub)transaction: failed insert must not abort the caller transaction
		err = s.storage.InTx(ctx, func(tx repository.Storage) error {
			created, err := tx.User().CreateUser(ctx, repository.CreateUserParams{
				Username:       username,
				HashedPassword: hash,
				ReferralCode:   newReferralCode(),
				ReferrerID:     referrerID,
			})
			user = created
			return err
		})
		if !errors.Is(err, apperrors.ErrReferralCodeTaken) {
			break
		}
	}
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	s.logger.Info("User created", "user_id", user.ID, "referrer_id", user.ReferrerID)
	return user, nil
}

// Return user if password matches
// Unknown user and wrong password both return apperrors.ErrUserNotFound
func (s *UserService) Authenticate(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		return models.User{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

// Set referrer of the user by referral code. Referrer may be set only once
func (s *UserService) AttachReferrer(ctx context.Context, userID uuid.UUID, referralCode string) (models.User, error) {
	var user models.User

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		// Two opposite attaches running concurrently would both pass the cycle check otherwise
		if err := tx.User().LockReferralGraph(ctx); err != nil {
			return err
		}

		referrer, err := tx.User().GetUserByReferralCode(ctx, normalizeCode(referralCode))
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return apperrors.ErrReferralCodeInvalid
		case err != nil:
			return err
		}

		upline, err := referral.Walk(ctx, referrer.ID, cycleCheckDepth, tx.User().GetReferrerID)
		if err != nil {
			return err
		}
		if referrer.ID == userID || inUpline(upline, userID) {
			return apperrors.ErrReferralCycle
		}

		user, err = tx.User().SetReferrer(ctx, userID, referrer.ID)
		return err
	})
	if err != nil {
		return models.User{}, fmt.Errorf("can't attach referrer. Err: %w", err)
	}

	s.logger.Info("Referrer attached", "user_id", user.ID, "referrer_id", user.ReferrerID)
	return user, nil
}

// Grant operator access to existing users. Unknown usernames are skipped with a warning
func (s *UserService) GrantOperators(ctx context.Context, usernames []string) error {
	for _, username := range usernames {
		_, err := s.storage.User().SetOperator(ctx, username, true)
		switch {
		case err == nil:
			s.logger.Info("Operator access granted", "username", username)
		case errors.Is(err, apperrors.ErrUserNotFound):
			s.logger.Warn("Operator not registered yet", "username", username)
		default:
			return fmt.Errorf("can't grant operator access. Err: %w", err)
		}
	}
	return nil
}

func inUpline(upline []referral.Beneficiary, userID uuid.UUID) bool {
	for _, b := range upline {
		if b.UserID == userID {
			return true
		}
	}
	return false
}
