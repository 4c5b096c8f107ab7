package domain

import "time"

// PasskeyCredential is a stored WebAuthn credential. SignCount is the
// authenticator's signature counter; assertions whose reported counter does
// not advance past it are rejected as replays.
type PasskeyCredential struct {
	ID            string
	UserID        string
	CredentialID  []byte
	PublicKey     []byte // COSE encoded
	AttestationType string
	Transports    []string
	AAGUID        []byte
	SignCount     uint32
	CloneWarning  bool
	CreatedAt     time.Time
	LastUsedAt    *time.Time
}
