package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/jwtx"
)

func testTokenConfig() TokenConfig {
	return TokenConfig{
		Issuer:               "https://auth.example.com",
		AccessTTLInteractive: 15 * time.Minute,
		AccessTTLMachine:     time.Hour,
		IDTokenTTL:           time.Hour,
		RefreshTTL:           30 * 24 * time.Hour,
	}
}

func newTokenService(t *testing.T, env *testEnv) *TokenService {
	t.Helper()

	keys, _, err := jwtx.NewKeyService(jwtx.KeyServiceOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    "https://auth.example.com",
	})
	require.NoError(t, err)

	return &TokenService{
		Store:  env.Store,
		Cache:  env.Cache,
		Keys:   keys,
		Config: testTokenConfig(),
	}
}

// authorizedCode runs a full flow to a released code for the given app.
func authorizedCode(t *testing.T, env *testEnv, user domain.User, app domain.App, req domain.AuthorizeRequest) string {
	t.Helper()

	ctx := context.Background()
	cfg := FlowConfig{CodeTTL: 5 * time.Minute}
	orch := newOrchestrator(env, cfg)

	begin, err := orch.Begin(ctx, &user, req, []string{"pwd"})
	require.NoError(t, err)

	session, err := orch.Load(ctx, begin.Code)
	require.NoError(t, err)
	res, err := orch.Evaluate(ctx, begin.Code, session, nil)
	require.NoError(t, err)
	require.False(t, res.Outstanding())
	return begin.Code
}

func pkcePair() (verifier, challenge string) {
	verifier = "test-verifier-test-verifier-test-verifier-43c"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestExchangeAuthorizationCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "rosa@example.com"})

	secretHash, err := cryptox.HashPassword("app-secret")
	require.NoError(t, err)
	app := seedApp(t, env, domain.AppTypeInteractive, secretHash)

	svc := newTokenService(t, env)

	verifier, challenge := pkcePair()
	req := domain.AuthorizeRequest{
		ClientID:            app.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		ResponseType:        "code",
		Scopes:              []string{"openid", "profile"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Nonce:               "n-0S6_WzA2Mj",
	}
	code := authorizedCode(t, env, user, app, req)

	pair, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", code, "https://app.example.com/callback", verifier)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.IDToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int64(900), pair.ExpiresIn)
	require.Equal(t, "openid profile", pair.Scope)

	claims, err := svc.Keys.Verify(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.AuthID, claims.Subject)
	require.Equal(t, []string{"openid", "profile"}, claims.Scopes)
	require.Contains(t, claims.AMR, "pwd")

	idClaims, err := svc.Keys.Verify(pair.IDToken)
	require.NoError(t, err)
	require.Equal(t, "rosa@example.com", idClaims.Email)
	require.Equal(t, "n-0S6_WzA2Mj", idClaims.Nonce)
	require.NotEmpty(t, idClaims.SID)

	stored, err := env.Store.Users().GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored.LoginCount)

	t.Run("code is single use", func(t *testing.T) {
		_, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", code, "https://app.example.com/callback", verifier)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestExchangeAuthorizationCodeRejections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "sara@example.com"})

	secretHash, err := cryptox.HashPassword("app-secret")
	require.NoError(t, err)
	app := seedApp(t, env, domain.AppTypeInteractive, secretHash)

	svc := newTokenService(t, env)
	verifier, challenge := pkcePair()
	req := domain.AuthorizeRequest{
		ClientID:            app.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		ResponseType:        "code",
		Scopes:              []string{"openid"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	}

	t.Run("wrong client secret", func(t *testing.T) {
		code := authorizedCode(t, env, user, app, req)
		_, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "wrong", code, "https://app.example.com/callback", verifier)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("wrong redirect uri", func(t *testing.T) {
		code := authorizedCode(t, env, user, app, req)
		_, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", code, "https://other.example.com/cb", verifier)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("wrong pkce verifier", func(t *testing.T) {
		code := authorizedCode(t, env, user, app, req)
		_, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", code, "https://app.example.com/callback", "not-the-verifier-not-the-verifier-not-the-43")
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("partially authorized session is not spendable", func(t *testing.T) {
		cfg := FlowConfig{ConsentRequired: true, CodeTTL: 5 * time.Minute}
		orch := newOrchestrator(env, cfg)
		begin, err := orch.Begin(ctx, &user, req, []string{"pwd"})
		require.NoError(t, err)

		session, err := orch.Load(ctx, begin.Code)
		require.NoError(t, err)
		res, err := orch.Evaluate(ctx, begin.Code, session, nil)
		require.NoError(t, err)
		require.True(t, res.RequireConsent)

		_, err = svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", begin.Code, "https://app.example.com/callback", verifier)
		require.ErrorIs(t, err, ErrInvalidGrant)

		// The failed exchange leaves the session intact for the flow to
		// finish.
		_, err = orch.Load(ctx, begin.Code)
		require.NoError(t, err)
	})
}

func TestExchangeClientCredentials(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	secretHash, err := cryptox.HashPassword("machine-secret")
	require.NoError(t, err)
	machine := seedApp(t, env, domain.AppTypeMachine, secretHash)

	svc := newTokenService(t, env)

	pair, err := svc.ExchangeClientCredentials(ctx, machine.ClientID, "machine-secret", []string{"profile"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.Empty(t, pair.IDToken)
	require.Empty(t, pair.RefreshToken)
	require.Equal(t, int64(3600), pair.ExpiresIn)

	claims, err := svc.Keys.Verify(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, machine.ClientID, claims.Subject)
	require.Equal(t, []string{jwtx.AMRClient}, claims.AMR)

	t.Run("interactive apps are refused", func(t *testing.T) {
		interactiveHash, err := cryptox.HashPassword("x")
		require.NoError(t, err)
		interactive := seedApp(t, env, domain.AppTypeInteractive, interactiveHash)
		_, err = svc.ExchangeClientCredentials(ctx, interactive.ClientID, "x", nil)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("scope outside the app grant", func(t *testing.T) {
		_, err := svc.ExchangeClientCredentials(ctx, machine.ClientID, "machine-secret", []string{"admin"})
		require.ErrorIs(t, err, ErrInvalidScope)
	})
}

func TestRefreshTokenRotation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "tess@example.com"})

	secretHash, err := cryptox.HashPassword("app-secret")
	require.NoError(t, err)
	app := seedApp(t, env, domain.AppTypeInteractive, secretHash)

	svc := newTokenService(t, env)
	verifier, challenge := pkcePair()
	code := authorizedCode(t, env, user, app, domain.AuthorizeRequest{
		ClientID:            app.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		ResponseType:        "code",
		Scopes:              []string{"openid"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})

	first, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", code, "https://app.example.com/callback", verifier)
	require.NoError(t, err)

	second, err := svc.ExchangeRefreshToken(ctx, app.ClientID, "app-secret", first.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, second.RefreshToken)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// The sid persists across rotations.
	firstClaims, err := svc.Keys.Verify(first.AccessToken)
	require.NoError(t, err)
	secondClaims, err := svc.Keys.Verify(second.AccessToken)
	require.NoError(t, err)
	require.Equal(t, firstClaims.SID, secondClaims.SID)

	t.Run("replaying a rotated token burns the family", func(t *testing.T) {
		_, err := svc.ExchangeRefreshToken(ctx, app.ClientID, "app-secret", first.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidGrant)

		// The legitimate successor is dead too.
		_, err = svc.ExchangeRefreshToken(ctx, app.ClientID, "app-secret", second.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "uma@example.com"})

	secretHash, err := cryptox.HashPassword("app-secret")
	require.NoError(t, err)
	app := seedApp(t, env, domain.AppTypeInteractive, secretHash)

	svc := newTokenService(t, env)
	verifier, challenge := pkcePair()
	code := authorizedCode(t, env, user, app, domain.AuthorizeRequest{
		ClientID:            app.ClientID,
		RedirectURI:         "https://app.example.com/callback",
		ResponseType:        "code",
		Scopes:              []string{"openid"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
	})

	pair, err := svc.ExchangeAuthorizationCode(ctx, app.ClientID, "app-secret", code, "https://app.example.com/callback", verifier)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, app.ClientID, "app-secret", pair.RefreshToken))

	_, err = svc.ExchangeRefreshToken(ctx, app.ClientID, "app-secret", pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidGrant)

	t.Run("unknown token is not an error", func(t *testing.T) {
		require.NoError(t, svc.Revoke(ctx, app.ClientID, "app-secret", "never-issued"))
	})
}

func TestVerifyPKCE(t *testing.T) {
	t.Parallel()

	verifier, challenge := pkcePair()

	t.Run("matching verifier passes", func(t *testing.T) {
		req := domain.AuthorizeRequest{CodeChallenge: challenge, CodeChallengeMethod: "S256"}
		require.NoError(t, verifyPKCE(req, verifier))
	})

	t.Run("missing verifier fails", func(t *testing.T) {
		req := domain.AuthorizeRequest{CodeChallenge: challenge, CodeChallengeMethod: "S256"}
		require.ErrorIs(t, verifyPKCE(req, ""), ErrInvalidGrant)
	})

	t.Run("no challenge skips the check", func(t *testing.T) {
		require.NoError(t, verifyPKCE(domain.AuthorizeRequest{}, ""))
	})

	t.Run("case variants fail", func(t *testing.T) {
		req := domain.AuthorizeRequest{CodeChallenge: challenge, CodeChallengeMethod: "S256"}
		require.ErrorIs(t, verifyPKCE(req, strings.ToUpper(verifier)), ErrInvalidGrant)
	})
}
