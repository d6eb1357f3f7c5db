package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/affiliate/internal/apperrors"
)

// Two-tier program: direct referrer and referrer's referrer
const MaxDepth = 2

// Upline member of a buyer
type Beneficiary struct {
	Level  int
	UserID uuid.UUID
}

// Return referrer of the user or nil if the user has no referrer
// Has to return apperrors.ErrUserNotFound for unknown user
type ReferrerLookup func(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error)

// Walk the referrer chain of userID up to depth hops
//
// The walk stops early when the chain ends, when a referenced user does not exist
// or when a user would appear in its own upline (cycle). Broken or cyclic
// referral data only shortens the upline, it never fails the walk.
// Lookup errors other than apperrors.ErrUserNotFound are returned.
func Walk(ctx context.Context, userID uuid.UUID, depth int, lookup ReferrerLookup) ([]Beneficiary, error) {
	upline := make([]Beneficiary, 0, depth)
	seen := map[uuid.UUID]struct{}{userID: {}}

	current := userID
	for level := 1; level <= depth; level++ {
		referrerID, err := lookup(ctx, current)
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			return upline, nil
		case err != nil:
			return nil, fmt.Errorf("can't resolve referrer of %s. Err: %w", current, err)
		case referrerID == nil:
			return upline, nil
		}

		if _, ok := seen[*referrerID]; ok {
			return upline, nil
		}
		seen[*referrerID] = struct{}{}

		upline = append(upline, Beneficiary{Level: level, UserID: *referrerID})
		current = *referrerID
	}

	return upline, nil
}

type userRepo interface {
	GetReferrerID(ctx context.Context, userID uuid.UUID) (*uuid.UUID, error)
}

// Graph resolves the upline from users referrer links
type Graph struct {
	users userRepo
}

func NewGraph(users userRepo) *Graph {
	return &Graph{users: users}
}

// Ordered upline of the buyer: level 1 first
func (g *Graph) Upline(ctx context.Context, buyerID uuid.UUID) ([]Beneficiary, error) {
	return Walk(ctx, buyerID, MaxDepth, g.users.GetReferrerID)
}
