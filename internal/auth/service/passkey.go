package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/aegis-id/aegis/internal/auth/cache"
	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// PasskeyConfig names the relying party and bounds ceremony lifetimes.
type PasskeyConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	CeremonyTTL   time.Duration
}

// PasskeyService runs WebAuthn registration and login ceremonies over the
// credential store, with ceremony session data parked in the cache between
// the begin and finish halves.
type PasskeyService struct {
	Store    store.Store
	Cache    cache.Cache
	WebAuthn *webauthn.WebAuthn

	// Ledger, when set, throttles failed assertions per (email, ip).
	Ledger          *AttemptLedger
	AssertThreshold int64

	ttl time.Duration
}

// NewPasskeyService builds the relying-party handle from config.
func NewPasskeyService(s store.Store, c cache.Cache, cfg PasskeyConfig) (*PasskeyService, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}
	return &PasskeyService{Store: s, Cache: c, WebAuthn: wa, ttl: cfg.CeremonyTTL}, nil
}

func regCeremonyKey(userID string) string {
	return "webauthn:reg:" + userID
}

func loginCeremonyKey(email string) string {
	return "webauthn:login:" + cryptox.FingerprintToken(email)
}

// webauthnUser adapts a stored user and its credentials to the relying
// party's view.
type webauthnUser struct {
	user        *domain.User
	credentials []domain.PasskeyCredential
}

func (u *webauthnUser) WebAuthnID() []byte { return []byte(u.user.ID) }

func (u *webauthnUser) WebAuthnName() string {
	if u.user.Email != nil && *u.user.Email != "" {
		return *u.user.Email
	}
	return u.user.AuthID
}

func (u *webauthnUser) WebAuthnDisplayName() string { return u.WebAuthnName() }

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(u.credentials))
	for _, c := range u.credentials {
		transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
		for _, t := range c.Transports {
			transports = append(transports, protocol.AuthenticatorTransport(t))
		}
		out = append(out, webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       transports,
			Authenticator: webauthn.Authenticator{
				AAGUID:       c.AAGUID,
				SignCount:    c.SignCount,
				CloneWarning: c.CloneWarning,
			},
		})
	}
	return out
}

func (p *PasskeyService) loadUserHandle(ctx context.Context, userID string) (*webauthnUser, error) {
	user, err := p.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	creds, err := p.Store.Passkeys().ListUserPasskeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: &user, credentials: creds}, nil
}

func (p *PasskeyService) stashCeremony(ctx context.Context, key string, session *webauthn.SessionData) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode ceremony session: %w", err)
	}
	ttl := p.ceremonyTTL()
	return p.Cache.Set(ctx, key, raw, ttl)
}

// popCeremony consumes the parked session data. Single use: a second
// finish attempt finds nothing.
func (p *PasskeyService) popCeremony(ctx context.Context, key string) (*webauthn.SessionData, error) {
	raw, err := p.Cache.GetDelete(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode ceremony session: %w", err)
	}
	return &session, nil
}

func (p *PasskeyService) ceremonyTTL() time.Duration {
	if p.ttl > 0 {
		return p.ttl
	}
	return 5 * time.Minute
}

// BeginRegistration starts a credential creation ceremony for a logged-in
// user. Existing credentials are excluded so an authenticator is never
// registered twice.
func (p *PasskeyService) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	handle, err := p.loadUserHandle(ctx, userID)
	if err != nil {
		return nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(handle.credentials))
	for _, c := range handle.credentials {
		exclusions = append(exclusions, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.CredentialID,
		})
	}

	options, session, err := p.WebAuthn.BeginRegistration(handle,
		webauthn.WithExclusions(exclusions),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if err := p.stashCeremony(ctx, regCeremonyKey(userID), session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishRegistration verifies the attestation response and persists the
// new credential.
func (p *PasskeyService) FinishRegistration(ctx context.Context, userID string, r *http.Request) (*domain.PasskeyCredential, error) {
	log := slogx.FromContext(ctx)

	session, err := p.popCeremony(ctx, regCeremonyKey(userID))
	if err != nil {
		return nil, err
	}
	handle, err := p.loadUserHandle(ctx, userID)
	if err != nil {
		return nil, err
	}

	cred, err := p.WebAuthn.FinishRegistration(handle, *session, r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	record := domain.PasskeyCredential{
		ID:              idx.New().String(),
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transports:      transports,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CreatedAt:       time.Now().UTC(),
	}
	if err := p.Store.Passkeys().CreatePasskey(ctx, record); err != nil {
		return nil, err
	}

	log.Info("passkey registered", "user_id", userID, "passkey_id", record.ID)
	return &record, nil
}

// BeginLogin starts an assertion ceremony for the account behind an email
// address. A nil result with nil error means no ceremony could start; the
// HTTP layer responds identically to an unknown address and an account
// without passkeys so the endpoint cannot be used to probe registrations.
func (p *PasskeyService) BeginLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, error) {
	user, err := p.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	creds, err := p.Store.Passkeys().ListUserPasskeys(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 || !user.Active {
		return nil, nil
	}

	handle := &webauthnUser{user: &user, credentials: creds}
	options, session, err := p.WebAuthn.BeginLogin(handle)
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}

	if err := p.stashCeremony(ctx, loginCeremonyKey(email), session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishLogin verifies the assertion response, enforces the signature
// counter policy, and returns the authenticated user.
func (p *PasskeyService) FinishLogin(ctx context.Context, email, ip string, r *http.Request) (*domain.User, error) {
	log := slogx.FromContext(ctx)

	if p.Ledger != nil {
		locked, err := p.Ledger.Exceeded(ctx, "assert:passkey", email, ip, p.AssertThreshold)
		if err != nil {
			return nil, err
		}
		if locked {
			return nil, ErrMechanismLocked
		}
	}

	session, err := p.popCeremony(ctx, loginCeremonyKey(email))
	if err != nil {
		return nil, err
	}

	user, err := p.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	creds, err := p.Store.Passkeys().ListUserPasskeys(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	handle := &webauthnUser{user: &user, credentials: creds}

	cred, err := p.WebAuthn.FinishLogin(handle, *session, r)
	if err != nil {
		p.recordAssertFailure(ctx, email, ip)
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	stored, err := p.Store.Passkeys().GetPasskeyByCredentialID(ctx, cred.ID)
	if err != nil {
		return nil, err
	}

	if err := verifyCounterAdvance(stored.SignCount, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		log.Warn("passkey assertion rejected",
			"user_id", user.ID,
			"passkey_id", stored.ID,
			"stored_count", stored.SignCount,
			"reported_count", cred.Authenticator.SignCount,
		)
		p.recordAssertFailure(ctx, email, ip)
		return nil, err
	}

	// Counter persists only after the whole assertion checked out. The
	// write is conditional on the stored counter still being behind, so a
	// concurrent assertion that advanced it first surfaces here as a
	// replay instead of silently regressing the counter.
	err = p.Store.Passkeys().UpdatePasskeyCounter(ctx, stored.ID, cred.Authenticator.SignCount, false, time.Now().UTC())
	if errors.Is(err, store.ErrStaleCounter) {
		log.Warn("passkey assertion rejected",
			"user_id", user.ID,
			"passkey_id", stored.ID,
			"reported_count", cred.Authenticator.SignCount,
		)
		p.recordAssertFailure(ctx, email, ip)
		return nil, ErrReplayDetected
	}
	if err != nil {
		return nil, err
	}

	if p.Ledger != nil {
		if err := p.Ledger.Reset(ctx, "assert:passkey", email, ip); err != nil {
			log.Warn("failed to reset assertion ledger", "err", err)
		}
	}

	return &user, nil
}

func (p *PasskeyService) recordAssertFailure(ctx context.Context, email, ip string) {
	if p.Ledger == nil {
		return
	}
	if _, err := p.Ledger.Increment(ctx, "assert:passkey", email, ip); err != nil {
		slogx.FromContext(ctx).Warn("failed to record assertion failure", "err", err)
	}
}

// ListPasskeys returns a user's registered credentials for account pages.
func (p *PasskeyService) ListPasskeys(ctx context.Context, userID string) ([]domain.PasskeyCredential, error) {
	return p.Store.Passkeys().ListUserPasskeys(ctx, userID)
}

// DeletePasskey removes one of the user's own credentials.
func (p *PasskeyService) DeletePasskey(ctx context.Context, userID, passkeyID string) error {
	creds, err := p.Store.Passkeys().ListUserPasskeys(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range creds {
		if c.ID == passkeyID {
			return p.Store.Passkeys().DeletePasskey(ctx, passkeyID)
		}
	}
	return store.ErrNotFound
}

// verifyCounterAdvance applies the signature-counter policy. Authenticators
// that implement the counter must strictly advance it; a stall or regress
// on a counter-bearing credential means a cloned key. Counters stuck at
// zero on both sides are authenticators that never implement it.
func verifyCounterAdvance(stored, reported uint32, cloneWarning bool) error {
	if cloneWarning {
		return ErrReplayDetected
	}
	if stored == 0 && reported == 0 {
		return nil
	}
	if reported <= stored {
		return ErrReplayDetected
	}
	return nil
}
