package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer holds one private key and signs compact JWTs under a fixed kid.
type Signer struct {
	kid    string
	alg    string
	method jwt.SigningMethod
	key    any
	jwk    JWK
}

// NewSigner builds a Signer for the given algorithm from PKCS8 PEM key
// material.
func NewSigner(alg, kid string, pemKey []byte) (*Signer, error) {
	key, err := cryptox.ParsePrivateKey(pemKey)
	if err != nil {
		return nil, err
	}

	var (
		method jwt.SigningMethod
		pub    any
	)
	switch alg {
	case AlgorithmRS256:
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("jwtx: %s requires an RSA private key", alg)
		}
		method = jwt.SigningMethodRS256
		pub = &rsaKey.PublicKey

	case AlgorithmES256:
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("jwtx: %s requires an ECDSA private key", alg)
		}
		method = jwt.SigningMethodES256
		pub = &ecKey.PublicKey

	case AlgorithmEdDSA:
		edKey, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("jwtx: %s requires an Ed25519 private key", alg)
		}
		method = jwt.SigningMethodEdDSA
		pub = edKey.Public()

	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", alg)
	}

	jwk, err := newJWK(kid, alg, pub)
	if err != nil {
		return nil, err
	}

	return &Signer{kid: kid, alg: alg, method: method, key: key, jwk: jwk}, nil
}

// GenerateSigner creates fresh key material for the algorithm and returns
// the signer together with the PKCS8 PEM encoding of the private key so the
// caller can persist it.
func GenerateSigner(alg, kid string, rsaBits int) (*Signer, []byte, error) {
	var (
		pemData []byte
		err     error
	)
	switch alg {
	case AlgorithmRS256:
		if rsaBits == 0 {
			rsaBits = 4096
		}
		pemData, err = cryptox.GenerateRSAKey(rsaBits)
	case AlgorithmES256:
		pemData, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		pemData, err = cryptox.GenerateEd25519Key()
	default:
		return nil, nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("jwtx: failed to generate %s key: %w", alg, err)
	}

	signer, err := NewSigner(alg, kid, pemData)
	if err != nil {
		return nil, nil, err
	}
	return signer, pemData, nil
}

// KID returns the key identifier.
func (s *Signer) KID() string { return s.kid }

// Alg returns the signing algorithm name.
func (s *Signer) Alg() string { return s.alg }

// PublicJWK returns the public half of the key as a JWK.
func (s *Signer) PublicJWK() JWK { return s.jwk }

// Sign produces a compact JWT with the kid header set.
func (s *Signer) Sign(c Claims) (string, error) {
	tok := jwt.NewWithClaims(s.method, c)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.key)
}
