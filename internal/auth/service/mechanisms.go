package service

import (
	"fmt"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/notify"
)

// Lock reasons surfaced to clients when a mechanism threshold is exceeded.
const (
	LockedReasonOTP   = "OtpMfaLocked"
	LockedReasonEmail = "EmailMfaLocked"
	LockedReasonSMS   = "SmsMfaLocked"
)

// codeMechanism is a deliverable-code mechanism (email, sms). OTP shares
// the verify path but has no issue step: the authenticator app generates
// the code.
type codeMechanism interface {
	Name() domain.Mechanism
	LockedReason() string
	IssueThreshold(cfg MFAConfig) int64

	// Compose renders the localized outbound message. Fails when the
	// user has no destination for this channel.
	Compose(user *domain.User, locale, code, messageID string) (notify.Message, error)
}

type emailMechanism struct{}

func (emailMechanism) Name() domain.Mechanism           { return domain.MechanismEmail }
func (emailMechanism) LockedReason() string             { return LockedReasonEmail }
func (emailMechanism) IssueThreshold(cfg MFAConfig) int64 { return cfg.EmailIssueThreshold }

func (emailMechanism) Compose(user *domain.User, locale, code, messageID string) (notify.Message, error) {
	if user.Email == nil || *user.Email == "" {
		return notify.Message{}, fmt.Errorf("%w: user has no email address", ErrNotEligible)
	}
	subject, body := notify.RenderCodeEmail(locale, code)
	return notify.Message{
		ID:          messageID,
		Channel:     notify.ChannelEmail,
		Destination: *user.Email,
		Subject:     subject,
		Body:        body,
	}, nil
}

type smsMechanism struct{}

func (smsMechanism) Name() domain.Mechanism           { return domain.MechanismSMS }
func (smsMechanism) LockedReason() string             { return LockedReasonSMS }
func (smsMechanism) IssueThreshold(cfg MFAConfig) int64 { return cfg.SMSIssueThreshold }

func (smsMechanism) Compose(user *domain.User, locale, code, messageID string) (notify.Message, error) {
	if user.SMSPhoneNumber == nil || *user.SMSPhoneNumber == "" {
		return notify.Message{}, fmt.Errorf("%w: user has no phone number", ErrNotEligible)
	}
	return notify.Message{
		ID:          messageID,
		Channel:     notify.ChannelSMS,
		Destination: *user.SMSPhoneNumber,
		Body:        notify.RenderCodeSMS(locale, code),
	}, nil
}

var codeMechanisms = map[domain.Mechanism]codeMechanism{
	domain.MechanismEmail: emailMechanism{},
	domain.MechanismSMS:   smsMechanism{},
}

// LockedReasonFor maps a mechanism to the lock reason clients see.
func LockedReasonFor(m domain.Mechanism) string {
	switch m {
	case domain.MechanismOTP:
		return LockedReasonOTP
	case domain.MechanismEmail:
		return LockedReasonEmail
	case domain.MechanismSMS:
		return LockedReasonSMS
	}
	return ""
}
