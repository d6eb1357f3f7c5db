package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/affiliate/internal/apperrors"
	"github.com/nkiryanov/affiliate/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at, used_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	rows, _ := r.DB.Query(ctx, saveToken, token.ID, token.UserID, token.TokenHash, token.CreatedAt, token.ExpiresAt, token.UsedAt)
	_, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Previous used_at is returned alongside the updated row:
// if it not null the token was used before this call
const getAndMarkUsed = `-- name: GetAndMarkUsed
UPDATE refresh_tokens AS t
SET used_at = COALESCE(t.used_at, $2)
FROM (SELECT id, used_at FROM refresh_tokens WHERE token_hash = $1 FOR UPDATE) AS prev
WHERE t.id = prev.id
RETURNING t.id, t.user_id, t.created_at, t.expires_at, t.used_at, prev.used_at
`

func (r *RefreshTokenRepo) GetAndMarkUsed(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	var prevUsedAt *time.Time

	rows, _ := r.DB.Query(ctx, getAndMarkUsed, tokenHash, time.Now())
	token, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		t := models.RefreshToken{TokenHash: tokenHash}
		err := row.Scan(&t.ID, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.UsedAt, &prevUsedAt)
		return t, err
	})

	switch {
	case err == nil && prevUsedAt == nil:
		return token, nil
	case err == nil:
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenIsUsed)
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}
