package store

import (
	"context"
	"errors"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrStaleCounter means a passkey counter write lost to a concurrent
	// assertion: the stored counter already reached or passed the value.
	ErrStaleCounter = errors.New("store: stale signature counter")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. Sub-repositories keep concerns tidy and make it
// obvious when someone is about to open a transaction inside a transaction.
type Store interface {
	Users() Users
	Apps() Apps
	Roles() Roles
	Consents() Consents
	Passkeys() Passkeys
	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn
	// returns an error and committing otherwise. Prefer this over Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is the primary lookup during sign-in.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// GetUserByAuthID resolves the public opaque identifier.
	GetUserByAuthID(ctx context.Context, authID string) (domain.User, error)

	// GetUserBySocialSubject resolves a linked social account.
	GetUserBySocialSubject(ctx context.Context, provider, subject string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	UpdatePasswordHash(ctx context.Context, userID, newHash string) error

	// UpdateMFAMechanisms replaces the user's enrolled mechanism set.
	UpdateMFAMechanisms(ctx context.Context, userID string, mechanisms []domain.Mechanism) error

	// SetOTPSecret stores a freshly generated TOTP secret, unverified.
	SetOTPSecret(ctx context.Context, userID, secret string) error

	// MarkOTPVerified flips otp_verified permanently.
	MarkOTPVerified(ctx context.Context, userID string) error

	// SetSMSPhoneNumber stores the user's phone number for SMS codes.
	SetSMSPhoneNumber(ctx context.Context, userID, phone string, verified bool) error

	// LinkSocialAccount records the provider/subject pair for the user.
	LinkSocialAccount(ctx context.Context, userID, provider, subject string) error

	// IncrementLoginCount bumps the counter after a completed sign-in.
	IncrementLoginCount(ctx context.Context, userID string) error

	DeleteUser(ctx context.Context, userID string) error

	IsEmpty(ctx context.Context) (bool, error)
}

type Apps interface {
	GetAppByID(ctx context.Context, id string) (domain.App, error)

	// GetAppByClientID fetches the app an authorize/token request names.
	GetAppByClientID(ctx context.Context, clientID string) (domain.App, error)

	ListApps(ctx context.Context) ([]domain.App, error)

	// CreateApp inserts a new app (id is ULID; secret_hash may be empty
	// for public interactive apps).
	CreateApp(ctx context.Context, a domain.App) error

	DeleteApp(ctx context.Context, appID string) error

	IsEmpty(ctx context.Context) (bool, error)
}

type Roles interface {
	GetRoleByID(ctx context.Context, id string) (domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	ListAll(ctx context.Context) ([]domain.Role, error)
	CreateRole(ctx context.Context, r domain.Role) error
	IsEmpty(ctx context.Context) (bool, error)
}

type Consents interface {
	// HasConsent reports whether the user previously granted the app.
	HasConsent(ctx context.Context, userID, appID string) (bool, error)

	// CreateConsent records a grant; granting twice is not an error.
	CreateConsent(ctx context.Context, c domain.Consent) error

	// DeleteConsent revokes a grant.
	DeleteConsent(ctx context.Context, userID, appID string) error
}

type Passkeys interface {
	CreatePasskey(ctx context.Context, p domain.PasskeyCredential) error

	// ListUserPasskeys returns every credential registered by a user.
	ListUserPasskeys(ctx context.Context, userID string) ([]domain.PasskeyCredential, error)

	GetPasskeyByCredentialID(ctx context.Context, credentialID []byte) (domain.PasskeyCredential, error)

	// UpdatePasskeyCounter persists the signature counter after a fully
	// verified assertion, never before. The write is conditional: it only
	// lands while the stored counter is still below signCount (counters
	// pinned at zero on both sides update last_used_at only). A write that
	// finds the stored counter already caught up returns ErrStaleCounter,
	// so two racing assertions cannot both advance from the same read.
	UpdatePasskeyCounter(ctx context.Context, id string, signCount uint32, cloneWarning bool, usedAt time.Time) error

	DeletePasskey(ctx context.Context, id string) error
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked, sets updated_at.
	RevokeRefreshToken(ctx context.Context, hash string) error

	// RevokeRefreshTokenFamily revokes every token in a rotation lineage,
	// used when a rotated-out predecessor is replayed.
	RevokeRefreshTokenFamily(ctx context.Context, familyID string) error

	// RevokeAllUserAppRefreshTokens bulk revocation for a user+app pair.
	RevokeAllUserAppRefreshTokens(ctx context.Context, userID, appID string) error

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListActiveSigningKeys returns all non-retired, non-expired keys
	// ordered by creation date (newest first).
	ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// ListAllSigningKeys includes retired keys still inside their grace
	// period; they verify but do not sign.
	ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey marks a key as retired (sets retired_at).
	RetireSigningKey(ctx context.Context, kid string) error

	// DeleteExpiredSigningKeys purges keys past expires_at.
	DeleteExpiredSigningKeys(ctx context.Context) error
}
