package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthorizeRequest is the immutable snapshot of an incoming authorization
// request. It is captured once at the start of the flow and carried inside
// the session record untouched.
type AuthorizeRequest struct {
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri"`
	ResponseType        string   `json:"response_type"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	Nonce               string   `json:"nonce,omitempty"`
	State               string   `json:"state,omitempty"`
	Locale              string   `json:"locale,omitempty"`
	Organization        string   `json:"organization,omitempty"`
}

// LoginSession is the ephemeral authorization-code record. It lives in the
// TTL store keyed by the fingerprint of the opaque code and is deleted on
// exchange. There is no stored "current step": every request re-derives the
// outstanding step from these flags plus server config.
type LoginSession struct {
	AppID   string           `json:"app_id"`
	AppName string           `json:"app_name"`
	User    UserSnapshot     `json:"user"`
	Request AuthorizeRequest `json:"request"`

	// Per-mechanism completion for this session only.
	OTPDone   bool `json:"otp_done"`
	EmailDone bool `json:"email_done"`
	SMSDone   bool `json:"sms_done"`

	OTPSetupDone   bool `json:"otp_setup_done"`
	ConsentGranted bool `json:"consent_granted"`

	// IsFullyAuthorized gates token exchange. The tag spelling matters:
	// the store's conditional-consume matches on it.
	IsFullyAuthorized bool `json:"is_fully_authorized"`

	// SID is the OIDC session identifier carried into issued ID tokens.
	SID string `json:"sid"`

	AMR       []string  `json:"amr,omitempty"`
	AuthTime  time.Time `json:"auth_time"`
	CreatedAt time.Time `json:"created_at"`
}

// MechanismDone reports this session's completion flag for a mechanism.
func (s *LoginSession) MechanismDone(m Mechanism) bool {
	switch m {
	case MechanismOTP:
		return s.OTPDone
	case MechanismEmail:
		return s.EmailDone
	case MechanismSMS:
		return s.SMSDone
	}
	return false
}

// MarkMechanismDone sets the completion flag for a mechanism and for every
// mechanism it satisfies as a fallback.
func (s *LoginSession) MarkMechanismDone(m Mechanism) {
	set := func(m Mechanism) {
		switch m {
		case MechanismOTP:
			s.OTPDone = true
		case MechanismEmail:
			s.EmailDone = true
		case MechanismSMS:
			s.SMSDone = true
		}
	}
	set(m)
	for _, satisfied := range FallbackSatisfies[m] {
		set(satisfied)
	}
}

// AddAMR appends a method reference once.
func (s *LoginSession) AddAMR(method string) {
	for _, m := range s.AMR {
		if m == method {
			return
		}
	}
	s.AMR = append(s.AMR, method)
}

// Encode serializes the session for cache storage.
func (s *LoginSession) Encode() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode login session: %w", err)
	}
	return raw, nil
}

// DecodeLoginSession parses a stored session record.
func DecodeLoginSession(raw []byte) (*LoginSession, error) {
	var s LoginSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode login session: %w", err)
	}
	return &s, nil
}

// StepResult tells the client what the flow still needs. The JSON shape is
// a wire contract with the SDKs and must not change.
type StepResult struct {
	Code        string   `json:"code,omitempty"`
	RedirectURI string   `json:"redirectUri,omitempty"`
	State       string   `json:"state,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`

	RequireConsent   bool `json:"requireConsent"`
	RequireMFAEnroll bool `json:"requireMfaEnroll"`
	RequireOTPSetup  bool `json:"requireOtpSetup"`
	RequireOTPMFA    bool `json:"requireOtpMfa"`
	RequireEmailMFA  bool `json:"requireEmailMfa"`
	RequireSMSMFA    bool `json:"requireSmsMfa"`
}

// Outstanding reports whether any requirement flag is still set.
func (r StepResult) Outstanding() bool {
	return r.RequireConsent || r.RequireMFAEnroll || r.RequireOTPSetup ||
		r.RequireOTPMFA || r.RequireEmailMFA || r.RequireSMSMFA
}
