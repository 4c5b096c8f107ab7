package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication Method Reference values carried in the amr claim.
const (
	AMRPassword = "pwd"    // password login
	AMROTP      = "otp"    // authenticator-app one-time password
	AMREmail    = "email"  // emailed one-time code
	AMRSMS      = "sms"    // texted one-time code
	AMRPasskey  = "webauthn"
	AMRDevice   = "device" // remember-device bypass
	AMRClient   = "client" // machine-to-machine, no user
	AMRSocial   = "federated"
)

// Claims are the token claims minted by this service. Access and ID tokens
// share the struct; ID-token-only fields stay empty on access tokens.
type Claims struct {
	jwt.RegisteredClaims

	// SID is the login session id the token descends from.
	SID string `json:"sid,omitempty"`

	// Scopes granted to the token, e.g. "profile:read".
	Scopes []string `json:"scopes,omitempty"`

	// AMR lists which authentication methods produced this token.
	AMR []string `json:"amr,omitempty"`

	// Email of the authenticated user (ID tokens only; may be empty for
	// passkey-only accounts).
	Email string `json:"email,omitempty"`

	// AuthTime is when the authentication actually happened, as opposed
	// to iat which is when the token was minted.
	AuthTime *jwt.NumericDate `json:"auth_time,omitempty"`

	// Nonce echoes the value from the authorize request (ID tokens only).
	Nonce string `json:"nonce,omitempty"`

	// Locale of the user at authentication time (ID tokens only).
	Locale string `json:"locale,omitempty"`
}

// NewAccessClaims builds minimally-correct access-token claims.
func NewAccessClaims(
	subject, sid string,
	scopes, amr []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:    sid,
		Scopes: scopes,
		AMR:    amr,
	}
}

// NewIDClaims builds OIDC-style identity claims for the given user.
func NewIDClaims(
	subject, sid, email, locale string,
	amr []string,
	ttl time.Duration,
	issuer, clientID string,
	authTime, now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:      sid,
		AMR:      amr,
		Email:    email,
		Locale:   locale,
		AuthTime: jwt.NewNumericDate(authTime),
	}
}

// NewJTI returns a random token identifier for the jti claim.
func NewJTI() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ValidateExpiry checks exp/nbf against the current time. Verification
// already does this; middleware uses it as a cheap re-check after caching.
func (c Claims) ValidateExpiry() error {
	now := time.Now()
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}

// HasScope reports whether the claims carry the given scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
