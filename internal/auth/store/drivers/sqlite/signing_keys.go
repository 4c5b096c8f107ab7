package sqlite

import (
	"context"
	"database/sql"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type signingKeysRepo struct {
	db dbtx
}

func scanSigningKey(scan func(dest ...any) error) (domain.SigningKey, error) {
	var (
		k       domain.SigningKey
		retired sql.NullTime
	)

	err := scan(
		&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeyEncrypted,
		&k.CreatedAt, &retired, &k.ExpiresAt,
	)
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}

	k.RetiredAt = mapNullTimePtr(retired)
	return k, nil
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted,
	created_at, retired_at, expires_at`

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_keys (id, kid, algorithm, private_key_encrypted, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.Kid, key.Algorithm, key.PrivateKeyEncrypted, key.ExpiresAt,
	)
	return err
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	return scanSigningKey(r.db.QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid).Scan)
}

func (r *signingKeysRepo) ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	return r.list(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE retired_at IS NULL AND expires_at > CURRENT_TIMESTAMP
		ORDER BY created_at DESC`)
}

func (r *signingKeysRepo) ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	return r.list(ctx, `
		SELECT `+signingKeyColumns+` FROM signing_keys
		ORDER BY created_at DESC`)
}

func (r *signingKeysRepo) list(ctx context.Context, query string) ([]domain.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = CURRENT_TIMESTAMP WHERE kid = ? AND retired_at IS NULL`,
		kid)
	return err
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM signing_keys WHERE expires_at < CURRENT_TIMESTAMP`)
	return err
}
