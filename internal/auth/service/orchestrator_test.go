package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/auth/domain"
)

func testFlowConfig() FlowConfig {
	return FlowConfig{
		EnforceMFAEnrollment: true,
		EmailFallbackEnabled: true,
		ConsentRequired:      true,
		CodeTTL:              5 * time.Minute,
	}
}

func snapshotWith(mechs []domain.Mechanism, otpVerified bool) domain.UserSnapshot {
	return domain.UserSnapshot{
		ID:          "u1",
		AuthID:      "a1",
		Email:       "user@example.com",
		Mechanisms:  mechs,
		OTPVerified: otpVerified,
	}
}

func TestDecideNextStep(t *testing.T) {
	t.Parallel()

	t.Run("no mechanisms demands enrollment", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith(nil, false)}
		res := DecideNextStep(testFlowConfig(), s, nil, false)
		require.True(t, res.RequireMFAEnroll)
		require.False(t, res.RequireOTPMFA)
	})

	t.Run("enrollment not demanded when globally required mechanisms exist", func(t *testing.T) {
		cfg := testFlowConfig()
		cfg.RequiredMechanisms = []domain.Mechanism{domain.MechanismEmail}
		s := &domain.LoginSession{User: snapshotWith(nil, false)}
		res := DecideNextStep(cfg, s, nil, false)
		require.False(t, res.RequireMFAEnroll)
		require.True(t, res.RequireEmailMFA)
	})

	t.Run("unverified otp routes to setup sub-step", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismOTP}, false)}
		res := DecideNextStep(testFlowConfig(), s, nil, false)
		require.True(t, res.RequireOTPSetup)
		require.False(t, res.RequireOTPMFA)
	})

	t.Run("verified otp demands code with email fallback offered", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismOTP}, true)}
		res := DecideNextStep(testFlowConfig(), s, nil, false)
		require.True(t, res.RequireOTPMFA)
		require.True(t, res.RequireEmailMFA)
	})

	t.Run("fallback surface hidden when disabled", func(t *testing.T) {
		cfg := testFlowConfig()
		cfg.EmailFallbackEnabled = false
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismOTP}, true)}
		res := DecideNextStep(cfg, s, nil, false)
		require.True(t, res.RequireOTPMFA)
		require.False(t, res.RequireEmailMFA)
	})

	t.Run("fallback surface hidden for email enrollees", func(t *testing.T) {
		mechs := []domain.Mechanism{domain.MechanismOTP, domain.MechanismEmail}
		s := &domain.LoginSession{User: snapshotWith(mechs, true)}
		res := DecideNextStep(testFlowConfig(), s, nil, false)
		require.True(t, res.RequireOTPMFA)
		require.False(t, res.RequireEmailMFA)
	})

	t.Run("email enrollment is its own step", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismEmail}, false)}
		res := DecideNextStep(testFlowConfig(), s, nil, false)
		require.True(t, res.RequireEmailMFA)
		require.False(t, res.RequireOTPMFA)
		require.False(t, res.RequireSMSMFA)
	})

	t.Run("completed mechanism falls through to consent", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismEmail}, false)}
		s.MarkMechanismDone(domain.MechanismEmail)
		res := DecideNextStep(testFlowConfig(), s, nil, false)
		require.True(t, res.RequireConsent)
	})

	t.Run("email completion satisfies otp and sms", func(t *testing.T) {
		mechs := []domain.Mechanism{domain.MechanismOTP, domain.MechanismSMS}
		s := &domain.LoginSession{User: snapshotWith(mechs, true)}
		s.MarkMechanismDone(domain.MechanismEmail)
		res := DecideNextStep(testFlowConfig(), s, nil, true)
		require.False(t, res.Outstanding())
	})

	t.Run("sms completion does not satisfy otp", func(t *testing.T) {
		mechs := []domain.Mechanism{domain.MechanismOTP, domain.MechanismSMS}
		s := &domain.LoginSession{User: snapshotWith(mechs, true)}
		s.MarkMechanismDone(domain.MechanismSMS)
		res := DecideNextStep(testFlowConfig(), s, nil, true)
		require.True(t, res.RequireOTPMFA)
	})

	t.Run("device bypass skips the mechanism", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismOTP}, true)}
		bypassed := map[domain.Mechanism]bool{domain.MechanismOTP: true}
		res := DecideNextStep(testFlowConfig(), s, bypassed, true)
		require.False(t, res.Outstanding())
	})

	t.Run("all satisfied releases", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismEmail}, false)}
		s.MarkMechanismDone(domain.MechanismEmail)
		res := DecideNextStep(testFlowConfig(), s, nil, true)
		require.False(t, res.Outstanding())
	})

	t.Run("pure and repeatable", func(t *testing.T) {
		s := &domain.LoginSession{User: snapshotWith([]domain.Mechanism{domain.MechanismOTP}, true)}
		first := DecideNextStep(testFlowConfig(), s, nil, false)
		for range 5 {
			require.Equal(t, first, DecideNextStep(testFlowConfig(), s, nil, false))
		}
	})
}

func newOrchestrator(env *testEnv, cfg FlowConfig) *Orchestrator {
	return &Orchestrator{Store: env.Store, Cache: env.Cache, Config: cfg}
}

func TestOrchestratorBegin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "alice@example.com"})
	app := seedApp(t, env, domain.AppTypeInteractive, "argon2id$dummy")

	orch := newOrchestrator(env, testFlowConfig())

	t.Run("happy path", func(t *testing.T) {
		res, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
			ClientID:     app.ClientID,
			RedirectURI:  "https://app.example.com/callback",
			ResponseType: "code",
			Scopes:       []string{"openid"},
			State:        "xyz",
		}, []string{"pwd"})
		require.NoError(t, err)
		require.NotEmpty(t, res.Code)
		require.Equal(t, "Test App", res.AppName)

		session, err := orch.Load(ctx, res.Code)
		require.NoError(t, err)
		require.Equal(t, user.ID, session.User.ID)
		require.NotEmpty(t, session.SID)
		require.False(t, session.IsFullyAuthorized)
	})

	t.Run("rejects unknown client", func(t *testing.T) {
		_, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
			ClientID:     "nope",
			RedirectURI:  "https://app.example.com/callback",
			ResponseType: "code",
		}, nil)
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("rejects unregistered redirect", func(t *testing.T) {
		_, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
			ClientID:     app.ClientID,
			RedirectURI:  "https://evil.example.com/cb",
			ResponseType: "code",
		}, nil)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("rejects scope outside the app grant", func(t *testing.T) {
		_, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
			ClientID:     app.ClientID,
			RedirectURI:  "https://app.example.com/callback",
			ResponseType: "code",
			Scopes:       []string{"admin"},
		}, nil)
		require.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("public client must bring PKCE", func(t *testing.T) {
		public := seedApp(t, env, domain.AppTypeInteractive, "")
		_, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
			ClientID:     public.ClientID,
			RedirectURI:  "https://app.example.com/callback",
			ResponseType: "code",
		}, nil)
		require.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("unknown code is an expired session", func(t *testing.T) {
		_, err := orch.Load(ctx, "no-such-code")
		require.ErrorIs(t, err, ErrSessionExpired)
	})
}

func TestOrchestratorEvaluate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{
		Email:      "bob@example.com",
		Mechanisms: []domain.Mechanism{domain.MechanismEmail},
	})
	app := seedApp(t, env, domain.AppTypeInteractive, "argon2id$dummy")

	cfg := testFlowConfig()
	orch := newOrchestrator(env, cfg)

	begin, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
		ClientID:     app.ClientID,
		RedirectURI:  "https://app.example.com/callback",
		ResponseType: "code",
		Scopes:       []string{"openid"},
		State:        "s123",
	}, []string{"pwd"})
	require.NoError(t, err)

	session, err := orch.Load(ctx, begin.Code)
	require.NoError(t, err)

	// Outstanding email step first.
	res, err := orch.Evaluate(ctx, begin.Code, session, nil)
	require.NoError(t, err)
	require.True(t, res.RequireEmailMFA)
	require.Empty(t, res.Code)

	// Complete the mechanism, then consent remains.
	session.MarkMechanismDone(domain.MechanismEmail)
	require.NoError(t, orch.Save(ctx, begin.Code, session))

	res, err = orch.Evaluate(ctx, begin.Code, session, nil)
	require.NoError(t, err)
	require.True(t, res.RequireConsent)

	require.NoError(t, orch.GrantConsent(ctx, begin.Code, session))

	res, err = orch.Evaluate(ctx, begin.Code, session, nil)
	require.NoError(t, err)
	require.False(t, res.Outstanding())
	require.Equal(t, begin.Code, res.Code)
	require.Equal(t, "https://app.example.com/callback", res.RedirectURI)
	require.Equal(t, "s123", res.State)
	require.Equal(t, []string{"openid"}, res.Scopes)

	// The persisted record now carries the authorization marker.
	reloaded, err := orch.Load(ctx, begin.Code)
	require.NoError(t, err)
	require.True(t, reloaded.IsFullyAuthorized)

	// Consent survives into the next flow for the same user and app.
	again, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
		ClientID:     app.ClientID,
		RedirectURI:  "https://app.example.com/callback",
		ResponseType: "code",
		Scopes:       []string{"openid"},
	}, []string{"pwd"})
	require.NoError(t, err)
	s2, err := orch.Load(ctx, again.Code)
	require.NoError(t, err)
	s2.MarkMechanismDone(domain.MechanismEmail)
	require.NoError(t, orch.Save(ctx, again.Code, s2))

	res, err = orch.Evaluate(ctx, again.Code, s2, nil)
	require.NoError(t, err)
	require.False(t, res.RequireConsent)
	require.False(t, res.Outstanding())
}

func TestOrchestratorSessionExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "carol@example.com"})
	app := seedApp(t, env, domain.AppTypeInteractive, "argon2id$dummy")

	cfg := testFlowConfig()
	cfg.CodeTTL = time.Minute
	orch := newOrchestrator(env, cfg)

	begin, err := orch.Begin(ctx, &user, domain.AuthorizeRequest{
		ClientID:     app.ClientID,
		RedirectURI:  "https://app.example.com/callback",
		ResponseType: "code",
	}, nil)
	require.NoError(t, err)

	env.Redis.FastForward(2 * time.Minute)

	_, err = orch.Load(ctx, begin.Code)
	require.ErrorIs(t, err, ErrSessionExpired)
}
