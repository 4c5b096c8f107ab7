package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/aegis-id/aegis/internal/auth/cache"
	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/notify"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/idx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

const challengeCodeDigits = 6

// MFAConfig is the immutable engine configuration. Services receive it at
// construction and never consult ambient state.
type MFAConfig struct {
	Issuer string // TOTP issuer shown in authenticator apps

	CodeTTL       time.Duration // challenge code lifetime = session lifetime
	AttemptWindow time.Duration // ledger counter TTL

	EmailIssueThreshold int64 // issue attempts per (identity, ip)
	SMSIssueThreshold   int64
	VerifyThreshold     int64 // wrong email/sms codes per (identity, ip)
	OTPMaxFailures      int64 // consecutive wrong TOTP codes per user

	RequiredMechanisms   []domain.Mechanism // globally enforced regardless of enrollment
	EmailFallbackEnabled bool

	RememberDeviceEnabled bool
	RememberDeviceTTL     time.Duration
}

// MFAEngine issues and verifies one-time codes for email/sms/otp, applies
// the fallback rules between mechanisms, and manages remember-device
// bypass secrets.
type MFAEngine struct {
	Store  store.Store
	Cache  cache.Cache
	Sender notify.Sender
	Ledger *AttemptLedger
	Config MFAConfig
}

// IssueResult is the outcome of a code issue request. Sent=false with an
// empty LockedReason means delivery failed; the client may simply retry.
type IssueResult struct {
	Sent         bool   `json:"sent"`
	LockedReason string `json:"lockedReason,omitempty"`
}

// DeviceGrant carries a freshly issued remember-device secret. The cookie
// value is "<deviceID>-<secret>".
type DeviceGrant struct {
	Mechanism domain.Mechanism
	DeviceID  string
	Secret    string
	TTL       time.Duration
}

// RememberCookieName is the cookie a trusted device presents per mechanism.
func RememberCookieName(m domain.Mechanism) string {
	return "aegis_trust_" + string(m)
}

func challengeKey(sessionFP string, m domain.Mechanism) string {
	return fmt.Sprintf("mfacode:%s:%s", sessionFP, m)
}

func rememberKey(m domain.Mechanism, userID, deviceID string) string {
	return fmt.Sprintf("remember:%s:%s:%s", m, userID, deviceID)
}

func otpFailKey(userID string) string {
	return "otpfail:" + userID
}

// eligible reports whether the mechanism may be issued/verified for this
// user: enrolled, globally required, or permitted as the email fallback.
func (e *MFAEngine) eligible(m domain.Mechanism, user domain.UserSnapshot) bool {
	if user.HasMechanism(m) {
		return true
	}
	for _, req := range e.Config.RequiredMechanisms {
		if req == m {
			return true
		}
	}
	if m == domain.MechanismEmail && e.Config.EmailFallbackEnabled {
		// Email stands in for an outstanding otp or sms requirement.
		return user.HasMechanism(domain.MechanismOTP) || user.HasMechanism(domain.MechanismSMS)
	}
	return false
}

// IssueCode generates a challenge code for a deliverable mechanism and
// dispatches it. The code is only persisted when delivery succeeded, so a
// failed send leaves the flow open for a clean retry. OTP has no issue
// step.
func (e *MFAEngine) IssueCode(ctx context.Context, m domain.Mechanism, sessionFP string, session *domain.LoginSession, ip string) (IssueResult, error) {
	log := slogx.FromContext(ctx)

	mech, ok := codeMechanisms[m]
	if !ok {
		return IssueResult{}, fmt.Errorf("%w: mechanism %s has no issue step", ErrInvalidRequest, m)
	}
	if !e.eligible(m, session.User) {
		return IssueResult{}, ErrNotEligible
	}

	identity := session.User.Email
	if identity == "" {
		identity = session.User.ID
	}

	scope := "issue:" + string(m)
	locked, err := e.Ledger.Exceeded(ctx, scope, identity, ip, mech.IssueThreshold(e.Config))
	if err != nil {
		return IssueResult{}, err
	}
	if locked {
		return IssueResult{Sent: false, LockedReason: mech.LockedReason()}, nil
	}

	user, err := e.Store.Users().GetUserByID(ctx, session.User.ID)
	if err != nil {
		return IssueResult{}, err
	}

	code, err := cryptox.GenerateNumericCode(challengeCodeDigits)
	if err != nil {
		return IssueResult{}, err
	}

	msg, err := mech.Compose(&user, session.Request.Locale, code, uuid.NewString())
	if err != nil {
		return IssueResult{}, err
	}

	if err := e.Sender.Send(ctx, msg); err != nil {
		// Absorbed: the code was never persisted, the client can resend.
		// No delivery specifics leak to the caller.
		log.Warn("mfa code delivery failed", "mechanism", string(m), "msg_id", msg.ID, "err", err)
		return IssueResult{Sent: false}, nil
	}

	if err := e.Cache.Set(ctx, challengeKey(sessionFP, m), []byte(code), e.Config.CodeTTL); err != nil {
		return IssueResult{}, err
	}
	if _, err := e.Ledger.Increment(ctx, scope, identity, ip); err != nil {
		return IssueResult{}, err
	}

	return IssueResult{Sent: true}, nil
}

// VerifyCode checks a submitted code against the outstanding challenge.
// Success marks the mechanism (and anything it satisfies as a fallback)
// complete on the session record, which the caller persists. With
// rememberDevice set and the feature enabled, a DeviceGrant is returned
// for the HTTP layer to turn into a cookie.
func (e *MFAEngine) VerifyCode(ctx context.Context, m domain.Mechanism, sessionFP string, session *domain.LoginSession, submitted, ip string, rememberDevice bool) (*DeviceGrant, error) {
	if !e.eligible(m, session.User) {
		return nil, ErrNotEligible
	}

	var err error
	if m == domain.MechanismOTP {
		err = e.verifyTOTP(ctx, session.User.ID, submitted)
	} else {
		err = e.verifyChallengeCode(ctx, m, sessionFP, session, submitted, ip)
	}
	if err != nil {
		return nil, err
	}

	session.MarkMechanismDone(m)
	session.AddAMR(amrFor(m))

	if !rememberDevice || !e.Config.RememberDeviceEnabled {
		return nil, nil
	}
	return e.grantRememberDevice(ctx, m, session.User.ID)
}

func amrFor(m domain.Mechanism) string {
	switch m {
	case domain.MechanismOTP:
		return "otp"
	case domain.MechanismEmail:
		return "email"
	case domain.MechanismSMS:
		return "sms"
	}
	return string(m)
}

// verifyTOTP validates against the user's authenticator secret with a
// per-user consecutive-failure lockout.
func (e *MFAEngine) verifyTOTP(ctx context.Context, userID, submitted string) error {
	failures, err := e.counterValue(ctx, otpFailKey(userID))
	if err != nil {
		return err
	}
	if failures >= e.Config.OTPMaxFailures {
		return ErrMechanismLocked
	}

	user, err := e.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.OTPSecret == nil || !user.OTPVerified {
		return fmt.Errorf("%w: otp not set up", ErrNotEligible)
	}

	if !totp.Validate(submitted, *user.OTPSecret) {
		if _, err := e.Cache.Increment(ctx, otpFailKey(userID), e.Config.AttemptWindow); err != nil {
			return err
		}
		return ErrWrongCode
	}

	// Consecutive counter: success clears it.
	if err := e.Cache.Delete(ctx, otpFailKey(userID)); err != nil {
		return err
	}
	return nil
}

// verifyChallengeCode stamps a delivered email/sms code: one atomic
// compare-and-delete, so a second submission after success always fails.
func (e *MFAEngine) verifyChallengeCode(ctx context.Context, m domain.Mechanism, sessionFP string, session *domain.LoginSession, submitted, ip string) error {
	identity := session.User.Email
	if identity == "" {
		identity = session.User.ID
	}
	scope := "verify:" + string(m)

	locked, err := e.Ledger.Exceeded(ctx, scope, identity, ip, e.Config.VerifyThreshold)
	if err != nil {
		return err
	}
	if locked {
		return ErrMechanismLocked
	}

	matched, err := e.Cache.CompareDelete(ctx, challengeKey(sessionFP, m), submitted)
	if errors.Is(err, cache.ErrNotFound) {
		return ErrSessionExpired
	}
	if err != nil {
		return err
	}
	if !matched {
		if _, err := e.Ledger.Increment(ctx, scope, identity, ip); err != nil {
			return err
		}
		return ErrWrongCode
	}

	return e.Ledger.Reset(ctx, scope, identity, ip)
}

func (e *MFAEngine) counterValue(ctx context.Context, key string) (int64, error) {
	v, err := e.Cache.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad counter value %q: %w", v, err)
	}
	return n, nil
}

// grantRememberDevice mints a device id and secret, storing the secret
// server-side with its own TTL. Expiry is enforced here, never by the
// cookie alone.
func (e *MFAEngine) grantRememberDevice(ctx context.Context, m domain.Mechanism, userID string) (*DeviceGrant, error) {
	deviceID := idx.New().String()
	secret, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	if err := e.Cache.Set(ctx, rememberKey(m, userID, deviceID), []byte(secret), e.Config.RememberDeviceTTL); err != nil {
		return nil, err
	}

	return &DeviceGrant{
		Mechanism: m,
		DeviceID:  deviceID,
		Secret:    secret,
		TTL:       e.Config.RememberDeviceTTL,
	}, nil
}

// ValidateRememberDevice checks a presented cookie value against the
// server-held secret in constant time.
func (e *MFAEngine) ValidateRememberDevice(ctx context.Context, m domain.Mechanism, userID, deviceID, secret string) (bool, error) {
	stored, err := e.Cache.Get(ctx, rememberKey(m, userID, deviceID))
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(stored, []byte(secret)) == 1, nil
}

// BypassedMechanisms resolves which mechanisms the presented device
// cookies validly bypass. cookies maps mechanism to (deviceID, secret).
func (e *MFAEngine) BypassedMechanisms(ctx context.Context, userID string, cookies map[domain.Mechanism][2]string) (map[domain.Mechanism]bool, error) {
	if !e.Config.RememberDeviceEnabled || len(cookies) == 0 {
		return nil, nil
	}

	bypassed := make(map[domain.Mechanism]bool, len(cookies))
	for m, pair := range cookies {
		ok, err := e.ValidateRememberDevice(ctx, m, userID, pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		if ok {
			bypassed[m] = true
		}
	}
	return bypassed, nil
}

// OTPSetup is the provisioning material for enrolling an authenticator.
type OTPSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
	Issuer          string `json:"issuer"`
	Account         string `json:"account"`
}

// BeginOTPSetup returns the user's TOTP provisioning URI, generating the
// secret on first call. The secret is never rotated implicitly: repeat
// calls before verification return the same URI, and calls after
// verification are rejected.
func (e *MFAEngine) BeginOTPSetup(ctx context.Context, userID string) (OTPSetup, error) {
	user, err := e.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return OTPSetup{}, err
	}
	if user.OTPVerified {
		return OTPSetup{}, fmt.Errorf("%w: otp already verified", ErrInvalidRequest)
	}

	account := user.AuthID
	if user.Email != nil && *user.Email != "" {
		account = *user.Email
	}

	if user.OTPSecret != nil && *user.OTPSecret != "" {
		return OTPSetup{
			Secret:          *user.OTPSecret,
			ProvisioningURI: buildProvisioningURI(e.Config.Issuer, account, *user.OTPSecret),
			Issuer:          e.Config.Issuer,
			Account:         account,
		}, nil
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.Config.Issuer,
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return OTPSetup{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	if err := e.Store.Users().SetOTPSecret(ctx, userID, key.Secret()); err != nil {
		return OTPSetup{}, fmt.Errorf("failed to store otp secret: %w", err)
	}

	return OTPSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		Issuer:          e.Config.Issuer,
		Account:         account,
	}, nil
}

// VerifyOTPSetup confirms the user's authenticator produces valid codes.
// otp_verified flips permanently and otp joins the enrolled mechanisms.
func (e *MFAEngine) VerifyOTPSetup(ctx context.Context, userID, code string) error {
	user, err := e.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.OTPSecret == nil || *user.OTPSecret == "" {
		return fmt.Errorf("%w: otp setup not started", ErrInvalidRequest)
	}
	if user.OTPVerified {
		return fmt.Errorf("%w: otp already verified", ErrInvalidRequest)
	}

	if !totp.Validate(code, *user.OTPSecret) {
		return ErrWrongCode
	}

	return e.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().MarkOTPVerified(ctx, userID); err != nil {
			return err
		}
		if !user.HasMechanism(domain.MechanismOTP) {
			mechanisms := append(user.MFAMechanisms, domain.MechanismOTP)
			return tx.Users().UpdateMFAMechanisms(ctx, userID, mechanisms)
		}
		return nil
	})
}

// EnrollMechanisms replaces the user's enrolled mechanism set. SMS
// requires a registered phone number; OTP verification happens separately
// through the setup sub-step.
func (e *MFAEngine) EnrollMechanisms(ctx context.Context, userID string, mechanisms []domain.Mechanism) error {
	user, err := e.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	seen := make(map[domain.Mechanism]struct{}, len(mechanisms))
	for _, m := range mechanisms {
		if _, err := domain.ParseMechanism(string(m)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("%w: duplicate mechanism %s", ErrInvalidRequest, m)
		}
		seen[m] = struct{}{}

		if m == domain.MechanismSMS && (user.SMSPhoneNumber == nil || *user.SMSPhoneNumber == "") {
			return fmt.Errorf("%w: sms requires a registered phone number", ErrInvalidRequest)
		}
		if m == domain.MechanismEmail && (user.Email == nil || *user.Email == "") {
			return fmt.Errorf("%w: email mfa requires an email address", ErrInvalidRequest)
		}
	}

	return e.Store.Users().UpdateMFAMechanisms(ctx, userID, mechanisms)
}

// buildProvisioningURI reconstructs the otpauth URL for an existing
// secret, matching the format totp.Generate produces.
func buildProvisioningURI(issuer, account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", "30")
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: v.Encode(),
	}
	return u.String()
}
