package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string
	ReferralCode   string
	ReferrerID     *uuid.UUID // nil if user registered without referral code
	IsOperator     bool
}
