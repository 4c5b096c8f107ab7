package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/store"
)

type passkeysRepo struct {
	db dbtx
}

const passkeyColumns = `id, user_id, credential_id, public_key,
	attestation_type, transports, aaguid, sign_count, clone_warning,
	created_at, last_used_at`

func scanPasskey(scan func(dest ...any) error) (domain.PasskeyCredential, error) {
	var (
		p          domain.PasskeyCredential
		transports string
		lastUsed   sql.NullTime
	)

	err := scan(
		&p.ID, &p.UserID, &p.CredentialID, &p.PublicKey,
		&p.AttestationType, &transports, &p.AAGUID, &p.SignCount,
		&p.CloneWarning, &p.CreatedAt, &lastUsed,
	)
	if err != nil {
		return domain.PasskeyCredential{}, mapNotFound(err)
	}

	p.Transports = splitAndFilter(transports)
	p.LastUsedAt = mapNullTimePtr(lastUsed)
	return p, nil
}

func (r *passkeysRepo) CreatePasskey(ctx context.Context, p domain.PasskeyCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO passkeys (
			id, user_id, credential_id, public_key, attestation_type,
			transports, aaguid, sign_count, clone_warning
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CredentialID, p.PublicKey, p.AttestationType,
		joinFields(p.Transports), p.AAGUID, p.SignCount, p.CloneWarning,
	)
	return err
}

func (r *passkeysRepo) ListUserPasskeys(ctx context.Context, userID string) ([]domain.PasskeyCredential, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkeys WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.PasskeyCredential
	for rows.Next() {
		p, err := scanPasskey(rows.Scan)
		if err != nil {
			return nil, err
		}
		creds = append(creds, p)
	}
	return creds, rows.Err()
}

func (r *passkeysRepo) GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (domain.PasskeyCredential, error) {
	return scanPasskey(r.db.QueryRowContext(ctx,
		`SELECT `+passkeyColumns+` FROM passkeys WHERE credential_id = ?`,
		credentialID).Scan)
}

func (r *passkeysRepo) UpdatePasskeyCounter(ctx context.Context, id string, signCount uint32, cloneWarning bool, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passkeys SET sign_count = ?, clone_warning = ?, last_used_at = ?
		WHERE id = ? AND (sign_count < ? OR (sign_count = 0 AND ? = 0))`,
		signCount, cloneWarning, usedAt, id, signCount, signCount)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrStaleCounter
	}
	return nil
}

func (r *passkeysRepo) DeletePasskey(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM passkeys WHERE id = ?`, id)
	return err
}
