package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/jwtx"
)

func TestKeyRotationEphemeral(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	keys, _, err := jwtx.NewKeyService(jwtx.KeyServiceOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    "https://auth.example.com",
	})
	require.NoError(t, err)

	svc := &KeyRotationService{Keys: keys}
	oldKid := keys.SigningKID()

	oldToken, err := keys.Sign(jwtx.NewAccessClaims("u1", "s1", nil, nil, time.Hour, "https://auth.example.com", nil, time.Now()))
	require.NoError(t, err)

	res, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.NoError(t, err)
	require.NotEqual(t, oldKid, res.NewKid)
	require.Empty(t, res.RetiredKids)

	// Tokens signed by the predecessor still verify.
	_, err = keys.Verify(oldToken)
	require.NoError(t, err)

	t.Run("retire existing drops old key verification", func(t *testing.T) {
		res, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true})
		require.NoError(t, err)
		require.NotEmpty(t, res.RetiredKids)

		_, err = keys.Verify(oldToken)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("current key cannot be retired", func(t *testing.T) {
		err := svc.RetireKey(ctx, keys.SigningKID())
		require.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestKeyRotationPersistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)

	cipher, err := cryptox.NewKeyCipher([]byte("test-master-key-material"))
	require.NoError(t, err)

	opts := jwtx.KeyServiceOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    "https://auth.example.com",
	}
	keys, _, err := jwtx.NewKeyService(opts)
	require.NoError(t, err)

	svc := &KeyRotationService{
		Store:       env.Store,
		Keys:        keys,
		Cipher:      cipher,
		GracePeriod: 30 * 24 * time.Hour,
	}

	res, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.NoError(t, err)

	stored, err := env.Store.SigningKeys().GetSigningKeyByKid(ctx, res.NewKid)
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmES256, stored.Algorithm)
	require.NotEmpty(t, stored.PrivateKeyEncrypted)

	token, err := keys.Sign(jwtx.NewAccessClaims("u1", "s1", nil, nil, time.Hour, "https://auth.example.com", nil, time.Now()))
	require.NoError(t, err)

	t.Run("keys reload after restart", func(t *testing.T) {
		reloaded, ok, err := LoadPersistedKeys(ctx, env.Store, cipher, opts)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, res.NewKid, reloaded.SigningKID())

		_, err = reloaded.Verify(token)
		require.NoError(t, err)
	})

	t.Run("wrong master key fails closed", func(t *testing.T) {
		other, err := cryptox.NewKeyCipher([]byte("different-material"))
		require.NoError(t, err)
		_, _, err = LoadPersistedKeys(ctx, env.Store, other, opts)
		require.Error(t, err)
	})

	t.Run("empty store reports no keys", func(t *testing.T) {
		fresh := newTestEnv(t)
		_, ok, err := LoadPersistedKeys(ctx, fresh.Store, cipher, opts)
		require.NoError(t, err)
		require.False(t, ok)
	})
}
