package models

import (
	"time"

	"github.com/google/uuid"
)

// Stored refresh token. The value handed to the client is never kept, only its digest
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time // nil if token not used
}

func (t RefreshToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Credentials of an affiliate session: short lived access token and one-off refresh token
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
