package domain

import "time"

// TokenPair is what the token endpoint returns: a short-lived access token
// (JWT), an optional ID token, and an opaque refresh token for interactive
// apps.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    int64  `json:"expires_in"`           // seconds until access token expiry
	Scope        string `json:"scope,omitempty"`      // space-delimited
}

// RefreshToken models the stored refresh token record. FamilyID groups a
// rotation lineage so a replayed predecessor can revoke the whole chain.
type RefreshToken struct {
	ID        string
	FamilyID  string // uuid shared across rotations of the same grant
	UserID    string
	AppID     string
	TokenHash string // deterministic fingerprint (base64url SHA-256)
	SessionID string // sid claim that persists across refreshes
	Scopes    []string
	AMR       []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
