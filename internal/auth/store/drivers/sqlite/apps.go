package sqlite

import (
	"context"
	"database/sql"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type appsRepo struct {
	db dbtx
}

const appColumns = `id, client_id, name, secret_hash, type, redirect_uris,
	scopes, active, created_at, updated_at`

func scanApp(scan func(dest ...any) error) (domain.App, error) {
	var (
		a          domain.App
		secretHash sql.NullString
		appType    string
		redirects  string
		scopes     string
	)

	err := scan(
		&a.ID, &a.ClientID, &a.Name, &secretHash, &appType, &redirects,
		&scopes, &a.Active, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.App{}, mapNotFound(err)
	}

	if secretHash.Valid {
		a.SecretHash = secretHash.String
	}
	a.Type = domain.AppType(appType)
	a.RedirectURIs = splitAndFilter(redirects)
	a.Scopes = splitAndFilter(scopes)
	return a, nil
}

func (r *appsRepo) GetAppByID(ctx context.Context, id string) (domain.App, error) {
	return scanApp(r.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM apps WHERE id = ?`, id).Scan)
}

func (r *appsRepo) GetAppByClientID(ctx context.Context, clientID string) (domain.App, error) {
	return scanApp(r.db.QueryRowContext(ctx,
		`SELECT `+appColumns+` FROM apps WHERE client_id = ?`, clientID).Scan)
}

func (r *appsRepo) ListApps(ctx context.Context) ([]domain.App, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+appColumns+` FROM apps ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.App
	for rows.Next() {
		a, err := scanApp(rows.Scan)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

func (r *appsRepo) CreateApp(ctx context.Context, a domain.App) error {
	secretHash := sql.NullString{}
	if a.SecretHash != "" {
		secretHash = sql.NullString{String: a.SecretHash, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO apps (id, client_id, name, secret_hash, type, redirect_uris, scopes, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClientID, a.Name, secretHash, string(a.Type),
		joinFields(a.RedirectURIs), joinFields(a.Scopes), a.Active,
	)
	return err
}

func (r *appsRepo) DeleteApp(ctx context.Context, appID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM apps WHERE id = ?`, appID)
	return err
}

func (r *appsRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM apps`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
