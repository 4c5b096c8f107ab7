package jwtx

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// Verifier validates a JWT and returns the claims if it is legitimate.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeyService owns the signing keys for the instance. Exactly one key is
// the current signing key; every registered, non-removed key remains valid
// for verification so rotation never invalidates in-flight tokens.
type KeyService struct {
	algorithm string
	issuer    string
	rsaBits   int
	leeway    time.Duration

	mu      sync.RWMutex
	current *Signer
	keyset  *KeySet
}

// KeyServiceOptions configures a KeyService.
type KeyServiceOptions struct {
	// Algorithm for new keys: "RS256", "ES256" or "EdDSA" (default EdDSA).
	Algorithm string

	// Issuer validated against the iss claim. Required.
	Issuer string

	// RSABits for RS256 key generation. Defaults to 4096.
	RSABits int

	// Leeway for clock skew on exp/nbf checks. Defaults to 30s.
	Leeway time.Duration
}

// NewKeyService creates a KeyService with one freshly generated signing
// key. The PEM of that key is returned so persistent deployments can store
// it (encrypted); ephemeral deployments discard it.
func NewKeyService(opts KeyServiceOptions) (*KeyService, []byte, error) {
	ks, err := newEmptyKeyService(opts)
	if err != nil {
		return nil, nil, err
	}

	pemData, err := ks.Rotate()
	if err != nil {
		return nil, nil, err
	}
	return ks, pemData, nil
}

// NewKeyServiceFromKeys creates a KeyService from previously persisted key
// material. Every entry is registered for verification; currentKid selects
// the signing key and must be present in keys.
func NewKeyServiceFromKeys(opts KeyServiceOptions, keys map[string][]byte, currentKid string) (*KeyService, error) {
	ks, err := newEmptyKeyService(opts)
	if err != nil {
		return nil, err
	}

	for kid, pemData := range keys {
		signer, err := NewSigner(ks.algorithm, kid, pemData)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to load key %s: %w", kid, err)
		}
		if err := ks.keyset.Add(signer.PublicJWK()); err != nil {
			return nil, err
		}
		if kid == currentKid {
			ks.current = signer
		}
	}

	if ks.current == nil {
		return nil, fmt.Errorf("jwtx: current signing key %q not among loaded keys", currentKid)
	}
	return ks, nil
}

func newEmptyKeyService(opts KeyServiceOptions) (*KeyService, error) {
	if opts.Issuer == "" {
		return nil, errors.New("jwtx: Issuer is required")
	}
	alg := opts.Algorithm
	if alg == "" {
		alg = AlgorithmEdDSA
	}
	switch alg {
	case AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA:
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}

	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}

	return &KeyService{
		algorithm: alg,
		issuer:    opts.Issuer,
		rsaBits:   opts.RSABits,
		leeway:    leeway,
		keyset:    NewKeySet(),
	}, nil
}

// Algorithm returns the signing algorithm in use.
func (ks *KeyService) Algorithm() string { return ks.algorithm }

// Issuer returns the issuer claim new tokens carry.
func (ks *KeyService) Issuer() string { return ks.issuer }

// SigningKID returns the kid of the current signing key.
func (ks *KeyService) SigningKID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	if ks.current == nil {
		return ""
	}
	return ks.current.KID()
}

// KeySet exposes the public verification keys for JWKS serving.
func (ks *KeyService) KeySet() *KeySet { return ks.keyset }

// IsReady reports whether a signing key is available.
func (ks *KeyService) IsReady() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.current != nil && ks.keyset.IsReady()
}

// Sign produces a compact token under the current signing key. The issuer
// claim is filled in when the caller left it empty.
func (ks *KeyService) Sign(c Claims) (string, error) {
	ks.mu.RLock()
	signer := ks.current
	ks.mu.RUnlock()

	if signer == nil {
		return "", errors.New("jwtx: no signing key available")
	}
	if c.Issuer == "" {
		c.Issuer = ks.issuer
	}
	return signer.Sign(c)
}

// Rotate generates a new key, makes it the current signing key and keeps
// all prior keys registered for verification. It returns the new key's
// PKCS8 PEM so the caller can persist it.
func (ks *KeyService) Rotate() ([]byte, error) {
	kid, err := newKID()
	if err != nil {
		return nil, err
	}

	signer, pemData, err := GenerateSigner(ks.algorithm, kid, ks.rsaBits)
	if err != nil {
		return nil, err
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.keyset.Add(signer.PublicJWK()); err != nil {
		return nil, err
	}
	ks.current = signer
	return pemData, nil
}

// AdoptSigner installs an externally constructed signer as the current
// signing key. Used when another instance rotated and this one reloads the
// persisted key.
func (ks *KeyService) AdoptSigner(signer *Signer) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if err := ks.keyset.Add(signer.PublicJWK()); err != nil {
		return err
	}
	ks.current = signer
	return nil
}

// Retire removes a key from verification. The current signing key cannot
// be retired; rotate first.
func (ks *KeyService) Retire(kid string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.current != nil && ks.current.KID() == kid {
		return fmt.Errorf("jwtx: cannot retire the current signing key %q", kid)
	}
	if _, err := ks.keyset.Get(kid); err != nil {
		return ErrUnknownKID
	}
	ks.keyset.Remove(kid)
	return nil
}

// Verify parses and validates a compact token against the key set,
// enforcing algorithm, kid, issuer and time-based claims.
func (ks *KeyService) Verify(token string) (Claims, error) {
	claims := Claims{}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKID
		}
		return ks.keyset.Get(kid)
	}

	_, err := jwt.ParseWithClaims(token, &claims, keyfunc,
		jwt.WithValidMethods([]string{ks.algorithm}),
		jwt.WithIssuer(ks.issuer),
		jwt.WithLeeway(ks.leeway),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	return claims, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, ErrNoKey), errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// newKID creates a random key identifier with cryptographic entropy.
func newKID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: failed to generate key id: %w", err)
	}
	return "aegis-" + token, nil
}
