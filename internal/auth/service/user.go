package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// UserConfig bounds credential checks.
type UserConfig struct {
	LoginThreshold int64  // wrong passwords per (email, ip) before lockout
	DefaultRoleID  string // role assigned to self-registered accounts
	DefaultLocale  string
}

// UserService authenticates users by password or federated identity and
// manages the profile fields the flows depend on.
type UserService struct {
	Store     store.Store
	Federated FederatedResolver
	Ledger    *AttemptLedger
	Config    UserConfig
}

// FederatedResolver verifies an upstream provider's ID token. Satisfied by
// *jwtx.FederatedVerifier.
type FederatedResolver interface {
	Verify(ctx context.Context, provider, rawIDToken string) (jwtx.FederatedIdentity, error)
	Providers() []string
}

// FederatedProviders lists the configured social sign-in providers for the
// login UI, sorted for stable output.
func (s *UserService) FederatedProviders() []string {
	if s.Federated == nil {
		return []string{}
	}
	names := s.Federated.Providers()
	if len(names) == 0 {
		return []string{}
	}
	slices.Sort(names)
	return names
}

// GetUserByID fetches a user by id.
func (s *UserService) GetUserByID(ctx context.Context, userID string) (domain.User, error) {
	return s.Store.Users().GetUserByID(ctx, userID)
}

// GetUserByAuthID resolves the public opaque identifier carried as the
// token subject back to the account.
func (s *UserService) GetUserByAuthID(ctx context.Context, authID string) (domain.User, error) {
	return s.Store.Users().GetUserByAuthID(ctx, authID)
}

// PasswordLogin authenticates an email/password pair. Lookup misses and
// hash mismatches return the same error and both feed the attempt ledger,
// so the endpoint leaks nothing about which addresses exist.
func (s *UserService) PasswordLogin(ctx context.Context, email, password, ip string) (*domain.User, error) {
	log := slogx.FromContext(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	locked, err := s.Ledger.Exceeded(ctx, "login", email, ip, s.Config.LoginThreshold)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, ErrMechanismLocked
	}

	fail := func() (*domain.User, error) {
		if _, err := s.Ledger.Increment(ctx, "login", email, ip); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return fail()
	}
	if err != nil {
		return nil, err
	}
	if !user.Active || user.PasswordHash == nil {
		return fail()
	}
	if cryptox.VerifyPassword(password, *user.PasswordHash) != nil {
		return fail()
	}

	if err := s.Ledger.Reset(ctx, "login", email, ip); err != nil {
		return nil, err
	}

	log.Info("password login succeeded", "user_id", user.ID)
	return &user, nil
}

// SocialLogin verifies a federated ID token and resolves it to a local
// account: by linked (provider, subject) first, then by verified email,
// creating an account when neither matches.
func (s *UserService) SocialLogin(ctx context.Context, provider, rawIDToken string) (*domain.User, error) {
	log := slogx.FromContext(ctx)

	identity, err := s.Federated.Verify(ctx, provider, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	user, err := s.Store.Users().GetUserBySocialSubject(ctx, provider, identity.Subject)
	if err == nil {
		if !user.Active {
			return nil, ErrInvalidCredentials
		}
		return &user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Email linkage requires the provider to have verified it, otherwise
	// anyone could claim an address at a lax provider and take over the
	// matching local account.
	if identity.Email != "" && identity.EmailVerified {
		user, err = s.Store.Users().GetUserByEmail(ctx, strings.ToLower(identity.Email))
		if err == nil {
			if !user.Active {
				return nil, ErrInvalidCredentials
			}
			if err := s.Store.Users().LinkSocialAccount(ctx, user.ID, provider, identity.Subject); err != nil {
				return nil, err
			}
			log.Info("social account linked", "user_id", user.ID, "provider", provider)
			return &user, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	created, err := s.provisionSocialUser(ctx, provider, identity)
	if err != nil {
		return nil, err
	}
	log.Info("social account provisioned", "user_id", created.ID, "provider", provider)
	return created, nil
}

func (s *UserService) provisionSocialUser(ctx context.Context, provider string, identity jwtx.FederatedIdentity) (*domain.User, error) {
	locale := identity.Locale
	if locale == "" {
		locale = s.Config.DefaultLocale
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:             idx.New().String(),
		AuthID:         idx.New().String(),
		RoleID:         s.Config.DefaultRoleID,
		SocialProvider: &provider,
		SocialSubject:  &identity.Subject,
		Locale:         locale,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if identity.Email != "" && identity.EmailVerified {
		email := strings.ToLower(identity.Email)
		user.Email = &email
	}

	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates a password account. The caller decides whether open
// registration is allowed.
func (s *UserService) Register(ctx context.Context, email, password, locale string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password required", ErrInvalidRequest)
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, err
	}
	if locale == "" {
		locale = s.Config.DefaultLocale
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           idx.New().String(),
		AuthID:       idx.New().String(),
		Email:        &email,
		PasswordHash: &hash,
		RoleID:       s.Config.DefaultRoleID,
		Locale:       locale,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: email already registered", ErrInvalidRequest)
		}
		return nil, err
	}
	return &user, nil
}

// RegisterPhoneNumber stores a phone number for SMS codes. The number is
// unverified until the first successful SMS verification.
func (s *UserService) RegisterPhoneNumber(ctx context.Context, userID, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" || !strings.HasPrefix(phone, "+") {
		return fmt.Errorf("%w: phone number must be E.164", ErrInvalidRequest)
	}
	return s.Store.Users().SetSMSPhoneNumber(ctx, userID, phone, false)
}

// ChangePassword rotates the password after re-verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	if next == "" {
		return fmt.Errorf("%w: new password required", ErrInvalidRequest)
	}

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == nil || cryptox.VerifyPassword(current, *user.PasswordHash) != nil {
		return ErrInvalidCredentials
	}

	hash, err := cryptox.HashPassword(next)
	if err != nil {
		return err
	}
	return s.Store.Users().UpdatePasswordHash(ctx, userID, hash)
}
