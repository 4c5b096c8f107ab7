package sqlite

import (
	"context"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type rolesRepo struct {
	db dbtx
}

func scanRole(scan func(dest ...any) error) (domain.Role, error) {
	var (
		role   domain.Role
		scopes string
	)
	if err := scan(&role.ID, &role.Name, &scopes, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	role.Scopes = splitAndFilter(scopes)
	return role, nil
}

func (r *rolesRepo) GetRoleByID(ctx context.Context, id string) (domain.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx,
		`SELECT id, name, scopes, created_at, updated_at FROM roles WHERE id = ?`, id).Scan)
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return scanRole(r.db.QueryRowContext(ctx,
		`SELECT id, name, scopes, created_at, updated_at FROM roles WHERE name = ?`, name).Scan)
}

func (r *rolesRepo) ListAll(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, scopes, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, scopes) VALUES (?, ?, ?)`,
		role.ID, role.Name, joinFields(role.Scopes))
	return err
}

func (r *rolesRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
