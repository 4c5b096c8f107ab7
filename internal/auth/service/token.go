package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/auth/cache"
	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// fullyAuthorizedMarker is the literal substring the conditional consume
// matches inside the stored session JSON. It must track the struct tag on
// LoginSession.IsFullyAuthorized.
const fullyAuthorizedMarker = `"is_fully_authorized":true`

// TokenConfig bounds the lifetimes of everything the token endpoint mints.
type TokenConfig struct {
	Issuer               string
	AccessTTLInteractive time.Duration
	AccessTTLMachine     time.Duration
	IDTokenTTL           time.Duration
	RefreshTTL           time.Duration
}

// TokenService implements the OAuth2 token endpoint grants: authorization
// code (with PKCE), client credentials, and refresh-token rotation.
type TokenService struct {
	Store  store.Store
	Cache  cache.Cache
	Keys   *jwtx.KeyService
	Config TokenConfig
}

// ExchangeAuthorizationCode consumes a fully authorized session and mints
// the token set. The consume is atomic and conditional: the session record
// is removed only if it carries the fully-authorized marker, so a partial
// session can never be traded for tokens and a code is spendable once.
func (t *TokenService) ExchangeAuthorizationCode(ctx context.Context, clientID, clientSecret, code, redirectURI, codeVerifier string) (domain.TokenPair, error) {
	log := slogx.FromContext(ctx)

	app, err := t.authenticateApp(ctx, clientID, clientSecret)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if app.Type != domain.AppTypeInteractive {
		return domain.TokenPair{}, ErrInvalidClient
	}

	raw, err := t.Cache.ConsumeMatch(ctx, "authcode:"+cryptox.FingerprintToken(code), fullyAuthorizedMarker)
	if errors.Is(err, cache.ErrNotFound) || errors.Is(err, cache.ErrConditionFailed) {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if err != nil {
		return domain.TokenPair{}, err
	}

	session, err := domain.DecodeLoginSession(raw)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if session.AppID != app.ID {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if subtle.ConstantTimeCompare([]byte(session.Request.RedirectURI), []byte(redirectURI)) != 1 {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if err := verifyPKCE(session.Request, codeVerifier); err != nil {
		return domain.TokenPair{}, err
	}

	pair, err := t.mintInteractive(ctx, app, session, uuid.NewString())
	if err != nil {
		return domain.TokenPair{}, err
	}

	log.Info("authorization code exchanged",
		"client_id", clientID,
		"user_id", session.User.ID,
		"sid", session.SID,
	)
	return pair, nil
}

// verifyPKCE checks the S256 code verifier against the challenge captured
// at authorize time. Sessions created without a challenge skip the check.
func verifyPKCE(req domain.AuthorizeRequest, verifier string) error {
	if req.CodeChallenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("%w: code_verifier required", ErrInvalidGrant)
	}
	sum := sha256.Sum256([]byte(verifier))
	derived := base64.RawURLEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(derived), []byte(req.CodeChallenge)) != 1 {
		return ErrInvalidGrant
	}
	return nil
}

// mintInteractive issues access, ID, and refresh tokens for a completed
// session, persisting the refresh record and login counter in one
// transaction.
func (t *TokenService) mintInteractive(ctx context.Context, app domain.App, session *domain.LoginSession, familyID string) (domain.TokenPair, error) {
	now := time.Now().UTC()

	access, err := t.Keys.Sign(jwtx.NewAccessClaims(
		session.User.AuthID, session.SID,
		session.Request.Scopes, session.AMR,
		t.Config.AccessTTLInteractive,
		t.Config.Issuer, []string{app.ClientID}, now,
	))
	if err != nil {
		return domain.TokenPair{}, err
	}

	var idToken string
	if hasScope(session.Request.Scopes, "openid") {
		claims := jwtx.NewIDClaims(
			session.User.AuthID, session.SID,
			session.User.Email, session.User.Locale,
			session.AMR,
			t.Config.IDTokenTTL,
			t.Config.Issuer, app.ClientID,
			session.AuthTime, now,
		)
		claims.Nonce = session.Request.Nonce
		idToken, err = t.Keys.Sign(claims)
		if err != nil {
			return domain.TokenPair{}, err
		}
	}

	refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}
	record := domain.RefreshToken{
		ID:        idx.New().String(),
		FamilyID:  familyID,
		UserID:    session.User.ID,
		AppID:     app.ID,
		TokenHash: cryptox.FingerprintToken(refresh),
		SessionID: session.SID,
		Scopes:    session.Request.Scopes,
		AMR:       session.AMR,
		ExpiresAt: now.Add(t.Config.RefreshTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = t.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, record); err != nil {
			return err
		}
		return tx.Users().IncrementLoginCount(ctx, session.User.ID)
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		IDToken:      idToken,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.Config.AccessTTLInteractive.Seconds()),
		Scope:        strings.Join(session.Request.Scopes, " "),
	}, nil
}

// ExchangeClientCredentials mints an access token for a machine app. No
// user, no refresh token, no ID token.
func (t *TokenService) ExchangeClientCredentials(ctx context.Context, clientID, clientSecret string, scopes []string) (domain.TokenPair, error) {
	app, err := t.authenticateApp(ctx, clientID, clientSecret)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if app.Type != domain.AppTypeMachine {
		return domain.TokenPair{}, fmt.Errorf("%w: client_credentials is machine-only", ErrInvalidClient)
	}
	for _, s := range scopes {
		if !app.AllowsScope(s) {
			return domain.TokenPair{}, fmt.Errorf("%w: scope %q not granted to app", ErrInvalidScope, s)
		}
	}

	now := time.Now().UTC()
	access, err := t.Keys.Sign(jwtx.NewAccessClaims(
		app.ClientID, "",
		scopes, []string{jwtx.AMRClient},
		t.Config.AccessTTLMachine,
		t.Config.Issuer, []string{app.ClientID}, now,
	))
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(t.Config.AccessTTLMachine.Seconds()),
		Scope:       strings.Join(scopes, " "),
	}, nil
}

// ExchangeRefreshToken rotates a refresh token: the presented token is
// revoked and a successor in the same family is issued. Presenting an
// already-rotated token is treated as theft and burns the whole family.
func (t *TokenService) ExchangeRefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (domain.TokenPair, error) {
	log := slogx.FromContext(ctx)

	app, err := t.authenticateApp(ctx, clientID, clientSecret)
	if err != nil {
		return domain.TokenPair{}, err
	}

	hash := cryptox.FingerprintToken(refreshToken)
	record, err := t.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if err != nil {
		return domain.TokenPair{}, err
	}

	if record.AppID != app.ID {
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if record.Revoked {
		log.Warn("revoked refresh token replayed, burning family",
			"family_id", record.FamilyID,
			"user_id", record.UserID,
		)
		if err := t.Store.RefreshTokens().RevokeRefreshTokenFamily(ctx, record.FamilyID); err != nil {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{}, ErrInvalidGrant
	}
	if time.Now().After(record.ExpiresAt) {
		return domain.TokenPair{}, ErrInvalidGrant
	}

	user, err := t.Store.Users().GetUserByID(ctx, record.UserID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	if !user.Active {
		return domain.TokenPair{}, ErrInvalidGrant
	}

	now := time.Now().UTC()
	access, err := t.Keys.Sign(jwtx.NewAccessClaims(
		user.AuthID, record.SessionID,
		record.Scopes, record.AMR,
		t.Config.AccessTTLInteractive,
		t.Config.Issuer, []string{app.ClientID}, now,
	))
	if err != nil {
		return domain.TokenPair{}, err
	}

	successor, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.TokenPair{}, err
	}
	next := domain.RefreshToken{
		ID:        idx.New().String(),
		FamilyID:  record.FamilyID,
		UserID:    record.UserID,
		AppID:     record.AppID,
		TokenHash: cryptox.FingerprintToken(successor),
		SessionID: record.SessionID,
		Scopes:    record.Scopes,
		AMR:       record.AMR,
		ExpiresAt: now.Add(t.Config.RefreshTTL),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = t.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.RefreshTokens().RevokeRefreshToken(ctx, hash); err != nil {
			return err
		}
		return tx.RefreshTokens().CreateRefreshToken(ctx, next)
	})
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: successor,
		TokenType:    "Bearer",
		ExpiresIn:    int64(t.Config.AccessTTLInteractive.Seconds()),
		Scope:        strings.Join(record.Scopes, " "),
	}, nil
}

// Revoke invalidates a presented refresh token and its rotation family.
// Per RFC 7009 an unknown token is not an error.
func (t *TokenService) Revoke(ctx context.Context, clientID, clientSecret, refreshToken string) error {
	app, err := t.authenticateApp(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}

	record, err := t.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(refreshToken))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if record.AppID != app.ID {
		return nil
	}
	return t.Store.RefreshTokens().RevokeRefreshTokenFamily(ctx, record.FamilyID)
}

// RevokeUserApp revokes every refresh token a user holds for an app, used
// on sign-out-everywhere and consent withdrawal.
func (t *TokenService) RevokeUserApp(ctx context.Context, userID, appID string) error {
	return t.Store.RefreshTokens().RevokeAllUserAppRefreshTokens(ctx, userID, appID)
}

// authenticateApp resolves and authenticates the client. Public apps have
// no stored secret and must present none; confidential apps must match
// theirs.
func (t *TokenService) authenticateApp(ctx context.Context, clientID, clientSecret string) (domain.App, error) {
	app, err := t.Store.Apps().GetAppByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.App{}, ErrInvalidClient
	}
	if err != nil {
		return domain.App{}, err
	}
	if !app.Active {
		return domain.App{}, ErrInvalidClient
	}

	if app.SecretHash == "" {
		if clientSecret != "" {
			return domain.App{}, ErrInvalidClient
		}
		return app, nil
	}
	if err := cryptox.VerifyPassword(clientSecret, app.SecretHash); err != nil {
		return domain.App{}, ErrInvalidClient
	}
	return app, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
