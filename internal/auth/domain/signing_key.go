package domain

import "time"

// SigningKey is a JWT signing key persisted for restarts and rotation.
// Private material is encrypted at rest. A retired key stays valid for
// verification until it expires, then gets purged.
type SigningKey struct {
	ID                  string
	Kid                 string // key identifier published in the JWKS
	Algorithm           string // RS256, ES256, or EdDSA
	PrivateKeyEncrypted []byte // AES-256-GCM sealed private key PEM
	CreatedAt           time.Time
	RetiredAt           *time.Time // nil while the key signs new tokens
	ExpiresAt           time.Time  // hard deletion after this
}

// IsActive returns true if the key is not retired and not expired.
func (k *SigningKey) IsActive(now time.Time) bool {
	return k.RetiredAt == nil && now.Before(k.ExpiresAt)
}

// IsExpired returns true if the key has passed its expiration time.
func (k *SigningKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
