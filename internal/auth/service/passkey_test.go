package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyCounterAdvance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stored   uint32
		reported uint32
		clone    bool
		replay   bool
	}{
		{name: "both zero, counter unimplemented", stored: 0, reported: 0},
		{name: "strict advance", stored: 5, reported: 6},
		{name: "large jump is fine", stored: 5, reported: 500},
		{name: "first use of a counter", stored: 0, reported: 1},
		{name: "stall is a replay", stored: 5, reported: 5, replay: true},
		{name: "regress is a replay", stored: 5, reported: 4, replay: true},
		{name: "regress to zero is a replay", stored: 5, reported: 0, replay: true},
		{name: "library clone warning wins", stored: 5, reported: 6, clone: true, replay: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyCounterAdvance(tt.stored, tt.reported, tt.clone)
			if tt.replay {
				require.ErrorIs(t, err, ErrReplayDetected)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPasskeyCeremonyTTLFromConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	svc, err := NewPasskeyService(env.Store, env.Cache, PasskeyConfig{
		RPID:          "auth.example.com",
		RPDisplayName: "Aegis",
		RPOrigins:     []string{"https://auth.example.com"},
		CeremonyTTL:   90 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, svc.ceremonyTTL())

	t.Run("zero falls back to the default", func(t *testing.T) {
		svc, err := NewPasskeyService(env.Store, env.Cache, PasskeyConfig{
			RPID:          "auth.example.com",
			RPDisplayName: "Aegis",
			RPOrigins:     []string{"https://auth.example.com"},
		})
		require.NoError(t, err)
		require.Equal(t, 5*time.Minute, svc.ceremonyTTL())
	})
}

func TestPasskeyBeginLoginUnknownAccounts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)

	svc, err := NewPasskeyService(env.Store, env.Cache, PasskeyConfig{
		RPID:          "auth.example.com",
		RPDisplayName: "Aegis",
		RPOrigins:     []string{"https://auth.example.com"},
	})
	require.NoError(t, err)

	t.Run("unknown email yields no ceremony", func(t *testing.T) {
		options, err := svc.BeginLogin(ctx, "ghost@example.com")
		require.NoError(t, err)
		require.Nil(t, options)
	})

	t.Run("account without passkeys yields no ceremony", func(t *testing.T) {
		seedUser(t, env, role.ID, seedUserOpts{Email: "vera@example.com"})
		options, err := svc.BeginLogin(ctx, "vera@example.com")
		require.NoError(t, err)
		require.Nil(t, options)
	})
}

func TestPasskeyRegistrationCeremonyIsSingleUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "will@example.com"})

	svc, err := NewPasskeyService(env.Store, env.Cache, PasskeyConfig{
		RPID:          "auth.example.com",
		RPDisplayName: "Aegis",
		RPOrigins:     []string{"https://auth.example.com"},
	})
	require.NoError(t, err)

	options, err := svc.BeginRegistration(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, options)
	require.NotEmpty(t, options.Response.Challenge)

	// Consuming the parked ceremony twice fails the second time, even
	// with a garbage attestation on the first attempt.
	badAttestation := func() *http.Request {
		return httptest.NewRequest(http.MethodPost, "/passkeys/register/finish", strings.NewReader("{}"))
	}
	_, err = svc.FinishRegistration(ctx, user.ID, badAttestation())
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.FinishRegistration(ctx, user.ID, badAttestation())
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestDeletePasskeyOwnership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	role := seedRole(t, env)
	user := seedUser(t, env, role.ID, seedUserOpts{Email: "xena@example.com"})

	svc, err := NewPasskeyService(env.Store, env.Cache, PasskeyConfig{
		RPID:          "auth.example.com",
		RPDisplayName: "Aegis",
		RPOrigins:     []string{"https://auth.example.com"},
	})
	require.NoError(t, err)

	err = svc.DeletePasskey(ctx, user.ID, "not-owned")
	require.Error(t, err)
}

func TestPasskeyAssertionLockout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	svc, err := NewPasskeyService(env.Store, env.Cache, PasskeyConfig{
		RPID:          "auth.example.com",
		RPDisplayName: "Aegis",
		RPOrigins:     []string{"https://auth.example.com"},
	})
	require.NoError(t, err)
	svc.Ledger = &AttemptLedger{Cache: env.Cache, Window: 15 * time.Minute}
	svc.AssertThreshold = 2

	email := "victim@example.com"
	ip := "203.0.113.9"
	req := httptest.NewRequest(http.MethodPost, "/v1/passkeys/login/finish", strings.NewReader("{}"))

	for range 2 {
		_, err = svc.Ledger.Increment(ctx, "assert:passkey", email, ip)
		require.NoError(t, err)
	}

	_, err = svc.FinishLogin(ctx, email, ip, req)
	require.ErrorIs(t, err, ErrMechanismLocked)

	// A different address is unaffected.
	_, err = svc.FinishLogin(ctx, "other@example.com", ip, req)
	require.ErrorIs(t, err, ErrSessionExpired)
}
