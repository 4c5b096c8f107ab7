package jwtx_test

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/aegis-id/aegis/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, alg string) *jwtx.KeyService {
	t.Helper()

	ks, pemData, err := jwtx.NewKeyService(jwtx.KeyServiceOptions{
		Algorithm: alg,
		Issuer:    "https://auth.test",
		RSABits:   2048,
	})
	require.NoError(t, err)
	require.NotEmpty(t, pemData)
	require.True(t, ks.IsReady())
	return ks
}

func TestKeyServiceSignVerify(t *testing.T) {
	t.Parallel()

	for _, alg := range []string{jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			t.Parallel()

			ks := newTestService(t, alg)

			claims := jwtx.NewAccessClaims(
				"user-1", "sess-1",
				[]string{"openid", "profile"},
				[]string{jwtx.AMRPassword, jwtx.AMROTP},
				time.Minute, "https://auth.test", []string{"aegis"}, time.Now(),
			)

			token, err := ks.Sign(claims)
			require.NoError(t, err)

			got, err := ks.Verify(token)
			require.NoError(t, err)
			require.Equal(t, "user-1", got.Subject)
			require.Equal(t, "sess-1", got.SID)
			require.Equal(t, []string{jwtx.AMRPassword, jwtx.AMROTP}, got.AMR)
			require.True(t, got.HasScope("openid"))
			require.False(t, got.HasScope("admin"))
		})
	}
}

func TestKeyServiceRSABits(t *testing.T) {
	t.Parallel()

	ks, pemData, err := jwtx.NewKeyService(jwtx.KeyServiceOptions{
		Algorithm: jwtx.AlgorithmRS256,
		Issuer:    "https://auth.test",
		RSABits:   2048,
	})
	require.NoError(t, err)
	require.Equal(t, 2048, rsaKeyBits(t, pemData))

	t.Run("rotation keeps the configured size", func(t *testing.T) {
		pemData, err := ks.Rotate()
		require.NoError(t, err)
		require.Equal(t, 2048, rsaKeyBits(t, pemData))
	})
}

func rsaKeyBits(t *testing.T, pemData []byte) int {
	t.Helper()

	block, _ := pem.Decode(pemData)
	require.NotNil(t, block)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)
	rsaKey, ok := key.(*rsa.PrivateKey)
	require.True(t, ok)
	return rsaKey.N.BitLen()
}

func TestKeyServiceRotate(t *testing.T) {
	t.Parallel()

	ks := newTestService(t, jwtx.AlgorithmEdDSA)
	oldKid := ks.SigningKID()

	claims := jwtx.NewAccessClaims("user-1", "sess-1", nil, nil,
		time.Minute, "https://auth.test", []string{"aegis"}, time.Now())
	oldToken, err := ks.Sign(claims)
	require.NoError(t, err)

	pemData, err := ks.Rotate()
	require.NoError(t, err)
	require.NotEmpty(t, pemData)
	require.NotEqual(t, oldKid, ks.SigningKID())

	t.Run("old tokens still verify after rotation", func(t *testing.T) {
		_, err := ks.Verify(oldToken)
		require.NoError(t, err)
	})

	t.Run("new tokens carry the new kid", func(t *testing.T) {
		token, err := ks.Sign(claims)
		require.NoError(t, err)
		_, err = ks.Verify(token)
		require.NoError(t, err)
	})

	t.Run("retired key no longer verifies", func(t *testing.T) {
		require.NoError(t, ks.Retire(oldKid))
		_, err := ks.Verify(oldToken)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})
}

func TestKeyServiceRetireCurrent(t *testing.T) {
	t.Parallel()

	ks := newTestService(t, jwtx.AlgorithmEdDSA)
	require.Error(t, ks.Retire(ks.SigningKID()))

	require.ErrorIs(t, ks.Retire("missing-kid"), jwtx.ErrUnknownKID)
}

func TestKeyServiceVerifyRejections(t *testing.T) {
	t.Parallel()

	ks := newTestService(t, jwtx.AlgorithmEdDSA)

	t.Run("garbage token", func(t *testing.T) {
		_, err := ks.Verify("not.a.jwt")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwtx.NewAccessClaims("user-1", "sess-1", nil, nil,
			time.Minute, "https://auth.test", []string{"aegis"}, time.Now().Add(-2*time.Hour))
		token, err := ks.Sign(claims)
		require.NoError(t, err)

		_, err = ks.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := jwtx.NewAccessClaims("user-1", "sess-1", nil, nil,
			time.Minute, "https://other.test", []string{"aegis"}, time.Now())
		token, err := ks.Sign(claims)
		require.NoError(t, err)

		_, err = ks.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("token from foreign service", func(t *testing.T) {
		other := newTestService(t, jwtx.AlgorithmEdDSA)
		claims := jwtx.NewAccessClaims("user-1", "sess-1", nil, nil,
			time.Minute, "https://auth.test", []string{"aegis"}, time.Now())
		token, err := other.Sign(claims)
		require.NoError(t, err)

		_, err = ks.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})
}

func TestKeyServiceReloadFromKeys(t *testing.T) {
	t.Parallel()

	opts := jwtx.KeyServiceOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "https://auth.test",
	}

	ks, pemData, err := jwtx.NewKeyService(opts)
	require.NoError(t, err)

	kid := ks.SigningKID()
	claims := jwtx.NewAccessClaims("user-1", "sess-1", nil, nil,
		time.Minute, "https://auth.test", []string{"aegis"}, time.Now())
	token, err := ks.Sign(claims)
	require.NoError(t, err)

	reloaded, err := jwtx.NewKeyServiceFromKeys(opts, map[string][]byte{kid: pemData}, kid)
	require.NoError(t, err)
	require.Equal(t, kid, reloaded.SigningKID())

	_, err = reloaded.Verify(token)
	require.NoError(t, err)

	t.Run("missing current kid rejected", func(t *testing.T) {
		_, err := jwtx.NewKeyServiceFromKeys(opts, map[string][]byte{kid: pemData}, "other")
		require.Error(t, err)
	})
}

func TestKeyServiceJWKS(t *testing.T) {
	t.Parallel()

	ks := newTestService(t, jwtx.AlgorithmES256)
	_, err := ks.Rotate()
	require.NoError(t, err)

	jwks := ks.KeySet().PublicJWKS()
	require.Len(t, jwks.Keys, 2)
	for _, k := range jwks.Keys {
		require.Equal(t, "EC", k.Kty)
		require.Equal(t, "ES256", k.Alg)
		require.Equal(t, "sig", k.Use)
		require.NotEmpty(t, k.Kid)

		pub, err := k.PublicKey()
		require.NoError(t, err)
		require.NotNil(t, pub)
	}
}
