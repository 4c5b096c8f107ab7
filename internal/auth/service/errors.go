package service

import "errors"

// Failure classes. The HTTP layer maps each to a status and a locale-aware
// body; services only ever wrap these with context.
var (
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrInvalidClient      = errors.New("invalid_client")
	ErrInvalidGrant       = errors.New("invalid_grant")
	ErrInvalidScope       = errors.New("invalid_scope")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrLoginRequired      = errors.New("login_required")

	// ErrSessionExpired covers an unknown, expired or already consumed
	// login session. GET flows redirect to the expired view; POST flows
	// get a 4xx.
	ErrSessionExpired = errors.New("session_expired")

	// ErrWrongCode is a failed MFA code comparison. Deliberately vague:
	// it never says which part of a multi-factor check failed.
	ErrWrongCode = errors.New("wrong_code")

	// ErrMechanismLocked means the attempt threshold was exceeded. A
	// distinct reason from ErrWrongCode so clients can show a different
	// message without implying the last attempt itself was wrong.
	ErrMechanismLocked = errors.New("mechanism_locked")

	// ErrFeatureDisabled is returned when a flow invokes functionality
	// the configuration turned off. Caller error, never retried.
	ErrFeatureDisabled = errors.New("feature_disabled")

	// ErrReplayDetected is a passkey assertion whose signature counter
	// did not advance. The one condition never silently tolerated: it
	// indicates a cloned authenticator.
	ErrReplayDetected = errors.New("replay_detected")

	ErrNotEligible = errors.New("mechanism_not_eligible")
)
