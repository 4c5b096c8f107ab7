package sqlite

import (
	"context"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type consentsRepo struct {
	db dbtx
}

func (r *consentsRepo) HasConsent(ctx context.Context, userID, appID string) (bool, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM consents WHERE user_id = ? AND app_id = ?`,
		userID, appID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *consentsRepo) CreateConsent(ctx context.Context, c domain.Consent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO consents (user_id, app_id) VALUES (?, ?)
		 ON CONFLICT (user_id, app_id) DO NOTHING`,
		c.UserID, c.AppID)
	return err
}

func (r *consentsRepo) DeleteConsent(ctx context.Context, userID, appID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM consents WHERE user_id = ? AND app_id = ?`, userID, appID)
	return err
}
