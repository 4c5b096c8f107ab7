package domain

import "time"

type User struct {
	ID             string
	AuthID         string // public opaque identifier, stable across email changes
	Email          *string
	PasswordHash   *string // argon2 encoded, nil for passkey/social-only accounts
	MFAMechanisms  []Mechanism
	OTPSecret      *string // TOTP secret (base32 encoded), nil until enrolled
	OTPVerified    bool    // flips permanently on first successful TOTP match
	SMSPhoneNumber *string
	SMSVerified    bool
	SocialProvider *string // e.g. "google"
	SocialSubject  *string // provider-scoped subject for the linked account
	RoleID         string
	Locale         string
	Active         bool
	LoginCount     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasMechanism reports whether the user enrolled the given mechanism.
func (u *User) HasMechanism(m Mechanism) bool {
	for _, e := range u.MFAMechanisms {
		if e == m {
			return true
		}
	}
	return false
}

// Snapshot captures the user fields a login session needs. The snapshot is
// frozen into the session record so mid-flow profile edits cannot alter an
// in-flight authorization.
func (u *User) Snapshot() UserSnapshot {
	email := ""
	if u.Email != nil {
		email = *u.Email
	}
	return UserSnapshot{
		ID:          u.ID,
		AuthID:      u.AuthID,
		Email:       email,
		Locale:      u.Locale,
		Mechanisms:  append([]Mechanism(nil), u.MFAMechanisms...),
		OTPVerified: u.OTPVerified,
		SMSVerified: u.SMSVerified,
	}
}

// UserSnapshot is the frozen per-session view of a user.
type UserSnapshot struct {
	ID          string      `json:"id"`
	AuthID      string      `json:"auth_id"`
	Email       string      `json:"email,omitempty"`
	Locale      string      `json:"locale,omitempty"`
	Mechanisms  []Mechanism `json:"mechanisms,omitempty"`
	OTPVerified bool        `json:"otp_verified"`
	SMSVerified bool        `json:"sms_verified"`
}

// HasMechanism reports whether the snapshot carries the given mechanism.
func (s UserSnapshot) HasMechanism(m Mechanism) bool {
	for _, e := range s.Mechanisms {
		if e == m {
			return true
		}
	}
	return false
}
