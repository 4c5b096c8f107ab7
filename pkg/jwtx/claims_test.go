package jwtx_test

import (
	"testing"
	"time"

	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateExpiry(t *testing.T) {
	now := time.Now().UTC()

	t.Run("valid window", func(t *testing.T) {
		c := jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			},
		}
		require.NoError(t, c.ValidateExpiry())
	})

	t.Run("expired", func(t *testing.T) {
		c := jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			},
		}
		require.ErrorIs(t, c.ValidateExpiry(), jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		c := jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				NotBefore: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
		require.ErrorIs(t, c.ValidateExpiry(), jwtx.ErrNotYetValid)
	})

	t.Run("no bounds set", func(t *testing.T) {
		require.NoError(t, jwtx.Claims{}.ValidateExpiry())
	})
}

func TestNewAccessClaims(t *testing.T) {
	now := time.Now().UTC()
	c := jwtx.NewAccessClaims("user-1", "sess-1",
		[]string{"openid"}, []string{jwtx.AMRPasskey},
		15*time.Minute, "https://auth.test", []string{"aegis"}, now)

	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, "sess-1", c.SID)
	require.Equal(t, "https://auth.test", c.Issuer)
	require.Contains(t, c.Audience, "aegis")
	require.NotEmpty(t, c.ID)
	require.WithinDuration(t, now.Add(15*time.Minute), c.ExpiresAt.Time, time.Second)
}

func TestNewIDClaims(t *testing.T) {
	now := time.Now().UTC()
	authTime := now.Add(-30 * time.Second)

	c := jwtx.NewIDClaims("user-1", "sess-1", "user@example.com", "en-AU",
		[]string{jwtx.AMRPassword, jwtx.AMREmail},
		time.Hour, "https://auth.test", "client-1", authTime, now)

	require.Equal(t, "user@example.com", c.Email)
	require.Equal(t, "en-AU", c.Locale)
	require.Contains(t, c.Audience, "client-1")
	require.NotNil(t, c.AuthTime)
	require.WithinDuration(t, authTime, c.AuthTime.Time, time.Second)
}
