package sqlite

import (
	"context"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (
			id, family_id, user_id, app_id, token_hash, session_id,
			scopes, amr, expires_at, revoked
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.FamilyID, t.UserID, t.AppID, t.TokenHash, t.SessionID,
		joinFields(t.Scopes), joinFields(t.AMR), t.ExpiresAt, t.Revoked,
	)
	return err
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t      domain.RefreshToken
		scopes string
		amr    string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, family_id, user_id, app_id, token_hash, session_id,
			scopes, amr, expires_at, revoked, created_at, updated_at
		FROM refresh_tokens WHERE token_hash = ?`, hash).Scan(
		&t.ID, &t.FamilyID, &t.UserID, &t.AppID, &t.TokenHash, &t.SessionID,
		&scopes, &amr, &t.ExpiresAt, &t.Revoked, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}

	t.Scopes = splitAndFilter(scopes)
	t.AMR = splitAndFilter(amr)
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = CURRENT_TIMESTAMP WHERE token_hash = ?`,
		hash)
	return err
}

func (r *refreshTokensRepo) RevokeRefreshTokenFamily(ctx context.Context, familyID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = CURRENT_TIMESTAMP WHERE family_id = ?`,
		familyID)
	return err
}

func (r *refreshTokensRepo) RevokeAllUserAppRefreshTokens(ctx context.Context, userID, appID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1, updated_at = CURRENT_TIMESTAMP WHERE user_id = ? AND app_id = ?`,
		userID, appID)
	return err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < CURRENT_TIMESTAMP`)
	return err
}
