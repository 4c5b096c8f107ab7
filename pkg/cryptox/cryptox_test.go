package cryptox

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	t.Run("produces unique url-safe tokens", func(t *testing.T) {
		a, err := GenerateToken(TokenSize256)
		require.NoError(t, err)
		b, err := GenerateToken(TokenSize256)
		require.NoError(t, err)

		require.NotEqual(t, a, b)
		require.NotContains(t, a, "=")
		require.NotContains(t, a, "+")
		require.NotContains(t, a, "/")
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := GenerateToken(0)
		require.Error(t, err)
	})
}

func TestFingerprintToken(t *testing.T) {
	t.Parallel()

	fp := FingerprintToken("hello")
	require.Equal(t, fp, FingerprintToken("hello"))
	require.NotEqual(t, fp, FingerprintToken("hello2"))
	require.Len(t, fp, 43) // base64url of 32 bytes, no padding
}

func TestGenerateNumericCode(t *testing.T) {
	t.Parallel()

	code, err := GenerateNumericCode(6)
	require.NoError(t, err)
	require.Len(t, code, 6)
	for _, c := range code {
		require.True(t, c >= '0' && c <= '9')
	}

	_, err = GenerateNumericCode(0)
	require.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	t.Parallel()

	hash, err := HashPassword("s3cret-password")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	require.NoError(t, VerifyPassword("s3cret-password", hash))
	require.ErrorIs(t, VerifyPassword("wrong", hash), ErrPasswordMismatch)

	// Salted: two hashes of the same input differ.
	other, err := HashPassword("s3cret-password")
	require.NoError(t, err)
	require.NotEqual(t, hash, other)
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	require.Error(t, VerifyPassword("pw", "not-a-hash"))
	require.Error(t, VerifyPassword("pw", "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA"))
}

func TestKeyGeneration(t *testing.T) {
	t.Parallel()

	t.Run("ed25519", func(t *testing.T) {
		pemData, err := GenerateEd25519Key()
		require.NoError(t, err)

		key, err := ParsePrivateKey(pemData)
		require.NoError(t, err)
		require.IsType(t, ed25519.PrivateKey{}, key)
	})

	t.Run("es256", func(t *testing.T) {
		pemData, err := GenerateES256Key()
		require.NoError(t, err)

		key, err := ParsePrivateKey(pemData)
		require.NoError(t, err)
		require.IsType(t, &ecdsa.PrivateKey{}, key)
	})

	t.Run("rsa", func(t *testing.T) {
		pemData, err := GenerateRSAKey(2048)
		require.NoError(t, err)

		key, err := ParsePrivateKey(pemData)
		require.NoError(t, err)
		require.IsType(t, &rsa.PrivateKey{}, key)
	})

	t.Run("rsa rejects weak sizes", func(t *testing.T) {
		_, err := GenerateRSAKey(1024)
		require.Error(t, err)
	})
}

func TestKeyCipherRoundTrip(t *testing.T) {
	t.Parallel()

	c, err := NewKeyCipher([]byte("master-key-material"))
	require.NoError(t, err)

	pemData, err := GenerateEd25519Key()
	require.NoError(t, err)

	sealed, err := c.Seal(pemData)
	require.NoError(t, err)
	require.NotEqual(t, pemData, sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, pemData, opened)

	t.Run("wrong key fails authentication", func(t *testing.T) {
		other, err := NewKeyCipher([]byte("different-material"))
		require.NoError(t, err)
		_, err = other.Open(sealed)
		require.Error(t, err)
	})

	t.Run("truncated ciphertext rejected", func(t *testing.T) {
		_, err := c.Open(sealed[:4])
		require.Error(t, err)
	})
}
