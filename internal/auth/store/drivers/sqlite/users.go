package sqlite

import (
	"context"
	"database/sql"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, auth_id, email, password_hash, mfa_mechanisms,
	otp_secret, otp_verified, sms_phone_number, sms_verified,
	social_provider, social_subject, role_id, locale, active, login_count,
	created_at, updated_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u              domain.User
		email          sql.NullString
		passwordHash   sql.NullString
		mechanisms     string
		otpSecret      sql.NullString
		smsPhone       sql.NullString
		socialProvider sql.NullString
		socialSubject  sql.NullString
	)

	err := row.Scan(
		&u.ID, &u.AuthID, &email, &passwordHash, &mechanisms,
		&otpSecret, &u.OTPVerified, &smsPhone, &u.SMSVerified,
		&socialProvider, &socialSubject, &u.RoleID, &u.Locale, &u.Active,
		&u.LoginCount, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	u.Email = mapNullStringPtr(email)
	u.PasswordHash = mapNullStringPtr(passwordHash)
	u.MFAMechanisms = splitMechanisms(mechanisms)
	u.OTPSecret = mapNullStringPtr(otpSecret)
	u.SMSPhoneNumber = mapNullStringPtr(smsPhone)
	u.SocialProvider = mapNullStringPtr(socialProvider)
	u.SocialSubject = mapNullStringPtr(socialSubject)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) GetUserByAuthID(ctx context.Context, authID string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE auth_id = ?`, authID))
}

func (r *usersRepo) GetUserBySocialSubject(ctx context.Context, provider, subject string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE social_provider = ? AND social_subject = ?`,
		provider, subject))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, auth_id, email, password_hash, mfa_mechanisms,
			otp_secret, otp_verified, sms_phone_number, sms_verified,
			social_provider, social_subject, role_id, locale, active, login_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.AuthID, mapOptionalString(u.Email), mapOptionalString(u.PasswordHash),
		joinMechanisms(u.MFAMechanisms),
		mapOptionalString(u.OTPSecret), u.OTPVerified,
		mapOptionalString(u.SMSPhoneNumber), u.SMSVerified,
		mapOptionalString(u.SocialProvider), mapOptionalString(u.SocialSubject),
		u.RoleID, u.Locale, u.Active, u.LoginCount,
	)
	return err
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newHash, userID)
	return err
}

func (r *usersRepo) UpdateMFAMechanisms(ctx context.Context, userID string, mechanisms []domain.Mechanism) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_mechanisms = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		joinMechanisms(mechanisms), userID)
	return err
}

func (r *usersRepo) SetOTPSecret(ctx context.Context, userID, secret string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET otp_secret = ?, otp_verified = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		secret, userID)
	return err
}

func (r *usersRepo) MarkOTPVerified(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET otp_verified = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		userID)
	return err
}

func (r *usersRepo) SetSMSPhoneNumber(ctx context.Context, userID, phone string, verified bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET sms_phone_number = ?, sms_verified = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		phone, verified, userID)
	return err
}

func (r *usersRepo) LinkSocialAccount(ctx context.Context, userID, provider, subject string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET social_provider = ?, social_subject = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		provider, subject, userID)
	return err
}

func (r *usersRepo) IncrementLoginCount(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET login_count = login_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		userID)
	return err
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	return err
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return false, err
	}
	return count == 0, nil
}
