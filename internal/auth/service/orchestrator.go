package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aegis-id/aegis/internal/auth/cache"
	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// FlowConfig controls which steps the authorization flow demands. It is
// fixed at boot; sessions created under one config are evaluated under
// whatever config is live, which is what lets operators tighten policy
// without draining sessions.
type FlowConfig struct {
	EnforceMFAEnrollment bool
	RequiredMechanisms   []domain.Mechanism
	EmailFallbackEnabled bool
	ConsentRequired      bool
	CodeTTL              time.Duration
}

// Orchestrator owns the authorization-code session lifecycle: creation at
// login, step evaluation on every client poll, and the final code release.
type Orchestrator struct {
	Store  store.Store
	Cache  cache.Cache
	MFA    *MFAEngine
	Config FlowConfig
}

func sessionKey(code string) string {
	return "authcode:" + cryptox.FingerprintToken(code)
}

// BeginResult carries the opaque code of a freshly created session plus
// the app metadata the login UI shows.
type BeginResult struct {
	Code    string `json:"code"`
	AppName string `json:"appName"`
}

// Begin validates an authorize request against the registered app, snapshots
// the user, and creates the session record. The returned opaque code is the
// only handle to the session; the store sees just its fingerprint.
func (o *Orchestrator) Begin(ctx context.Context, user *domain.User, req domain.AuthorizeRequest, amr []string) (BeginResult, error) {
	log := slogx.FromContext(ctx)

	if req.ResponseType != "code" {
		return BeginResult{}, fmt.Errorf("%w: unsupported response_type %q", ErrInvalidRequest, req.ResponseType)
	}

	app, err := o.Store.Apps().GetAppByClientID(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return BeginResult{}, ErrInvalidClient
	}
	if err != nil {
		return BeginResult{}, err
	}
	if !app.Active || app.Type != domain.AppTypeInteractive {
		return BeginResult{}, ErrInvalidClient
	}
	if !app.AllowsRedirect(req.RedirectURI) {
		return BeginResult{}, fmt.Errorf("%w: redirect_uri not registered", ErrInvalidRequest)
	}
	for _, s := range req.Scopes {
		if !app.AllowsScope(s) {
			return BeginResult{}, fmt.Errorf("%w: scope %q not granted to app", ErrInvalidScope, s)
		}
	}
	if app.SecretHash == "" {
		// Public clients cannot keep a secret, so PKCE is mandatory.
		if req.CodeChallenge == "" || req.CodeChallengeMethod != "S256" {
			return BeginResult{}, fmt.Errorf("%w: public clients require S256 PKCE", ErrInvalidRequest)
		}
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return BeginResult{}, err
	}
	sid, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return BeginResult{}, err
	}

	now := time.Now().UTC()
	session := domain.LoginSession{
		AppID:     app.ID,
		AppName:   app.Name,
		User:      user.Snapshot(),
		Request:   req,
		SID:       sid,
		AMR:       append([]string(nil), amr...),
		AuthTime:  now,
		CreatedAt: now,
	}

	if err := o.saveSession(ctx, code, &session); err != nil {
		return BeginResult{}, err
	}

	log.Info("authorization session created",
		"client_id", req.ClientID,
		"user_id", user.ID,
		"sid", sid,
	)
	return BeginResult{Code: code, AppName: app.Name}, nil
}

// Load fetches the live session for an opaque code.
func (o *Orchestrator) Load(ctx context.Context, code string) (*domain.LoginSession, error) {
	raw, err := o.Cache.Get(ctx, sessionKey(code))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeLoginSession(raw)
}

// saveSession persists the session under the remaining lifetime of its
// code. TTL is anchored to CreatedAt so step updates never extend it.
func (o *Orchestrator) saveSession(ctx context.Context, code string, s *domain.LoginSession) error {
	remaining := o.Config.CodeTTL - time.Since(s.CreatedAt)
	if remaining <= 0 {
		return ErrSessionExpired
	}
	raw, err := s.Encode()
	if err != nil {
		return err
	}
	return o.Cache.Set(ctx, sessionKey(code), raw, remaining)
}

// Evaluate re-derives the outstanding step for a session and persists any
// state transition. bypassed lists mechanisms satisfied by a valid
// remember-device cookie for this request; the bypass is per-request and
// is never written into the session record.
func (o *Orchestrator) Evaluate(ctx context.Context, code string, session *domain.LoginSession, bypassed map[domain.Mechanism]bool) (domain.StepResult, error) {
	hasConsent, err := o.hasConsent(ctx, session)
	if err != nil {
		return domain.StepResult{}, err
	}

	result := DecideNextStep(o.Config, session, bypassed, hasConsent)

	if !result.Outstanding() && !session.IsFullyAuthorized {
		session.IsFullyAuthorized = true
		for m := range bypassed {
			if bypassUsed(o.Config, session, bypassed, m) {
				session.AddAMR("device")
			}
		}
		if err := o.saveSession(ctx, code, session); err != nil {
			return domain.StepResult{}, err
		}
	}

	if !result.Outstanding() {
		result.Code = code
		result.RedirectURI = session.Request.RedirectURI
		result.State = session.Request.State
		result.Scopes = session.Request.Scopes
	}
	return result, nil
}

// Save persists mutations made outside Evaluate, e.g. a mechanism
// completion recorded by the MFA engine.
func (o *Orchestrator) Save(ctx context.Context, code string, session *domain.LoginSession) error {
	return o.saveSession(ctx, code, session)
}

// GrantConsent records the user's approval durably and on the session.
func (o *Orchestrator) GrantConsent(ctx context.Context, code string, session *domain.LoginSession) error {
	err := o.Store.Consents().CreateConsent(ctx, domain.Consent{
		UserID:    session.User.ID,
		AppID:     session.AppID,
		GrantedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	session.ConsentGranted = true
	return o.saveSession(ctx, code, session)
}

// WithdrawConsent removes a previously granted consent and returns the
// app's storage id so the caller can revoke outstanding tokens too.
func (o *Orchestrator) WithdrawConsent(ctx context.Context, userID, clientID string) (string, error) {
	app, err := o.Store.Apps().GetAppByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidRequest
	}
	if err != nil {
		return "", err
	}
	if err := o.Store.Consents().DeleteConsent(ctx, userID, app.ID); err != nil {
		return "", err
	}
	return app.ID, nil
}

func (o *Orchestrator) hasConsent(ctx context.Context, session *domain.LoginSession) (bool, error) {
	if !o.Config.ConsentRequired {
		return true, nil
	}
	if session.ConsentGranted {
		return true, nil
	}
	return o.Store.Consents().HasConsent(ctx, session.User.ID, session.AppID)
}

// requiredMechanisms is the union of the user's enrolled mechanisms and
// the globally enforced ones, in canonical order.
func requiredMechanisms(cfg FlowConfig, user domain.UserSnapshot) []domain.Mechanism {
	want := make(map[domain.Mechanism]bool, len(domain.Mechanisms))
	for _, m := range user.Mechanisms {
		want[m] = true
	}
	for _, m := range cfg.RequiredMechanisms {
		want[m] = true
	}

	out := make([]domain.Mechanism, 0, len(want))
	for _, m := range domain.Mechanisms {
		if want[m] {
			out = append(out, m)
		}
	}
	return out
}

// mechanismSatisfied reports whether a required mechanism needs no further
// action this request: completed in-session, or bypassed by a trusted
// device.
func mechanismSatisfied(session *domain.LoginSession, bypassed map[domain.Mechanism]bool, m domain.Mechanism) bool {
	if session.MechanismDone(m) {
		return true
	}
	if bypassed[m] {
		return true
	}
	// A bypass on a fallback-capable mechanism also covers what it
	// satisfies, mirroring MarkMechanismDone.
	for from, satisfies := range domain.FallbackSatisfies {
		if !bypassed[from] {
			continue
		}
		for _, s := range satisfies {
			if s == m {
				return true
			}
		}
	}
	return false
}

// bypassUsed reports whether the bypass for m actually stood in for an
// otherwise-incomplete requirement.
func bypassUsed(cfg FlowConfig, session *domain.LoginSession, bypassed map[domain.Mechanism]bool, m domain.Mechanism) bool {
	if !bypassed[m] {
		return false
	}
	for _, req := range requiredMechanisms(cfg, session.User) {
		if req == m && !session.MechanismDone(m) {
			return true
		}
	}
	return false
}

// DecideNextStep derives the single outstanding step for a session. It is
// pure: same inputs, same answer, no matter how often it runs. Precedence
// is enrollment, then each required mechanism in canonical order, then
// consent, then the final code release (flags all false).
func DecideNextStep(cfg FlowConfig, session *domain.LoginSession, bypassed map[domain.Mechanism]bool, hasConsent bool) domain.StepResult {
	user := session.User

	if cfg.EnforceMFAEnrollment && len(user.Mechanisms) == 0 && len(cfg.RequiredMechanisms) == 0 {
		return domain.StepResult{RequireMFAEnroll: true}
	}

	required := requiredMechanisms(cfg, user)
	emailCoversOutstanding := false
	for _, m := range required {
		if mechanismSatisfied(session, bypassed, m) {
			continue
		}

		switch m {
		case domain.MechanismOTP:
			if !user.OTPVerified && !session.OTPSetupDone {
				return domain.StepResult{RequireOTPSetup: true}
			}
			res := domain.StepResult{RequireOTPMFA: true}
			if fallbackAvailable(cfg, user) {
				res.RequireEmailMFA = true
			}
			return res

		case domain.MechanismSMS:
			res := domain.StepResult{RequireSMSMFA: true}
			if fallbackAvailable(cfg, user) {
				res.RequireEmailMFA = true
			}
			return res

		case domain.MechanismEmail:
			emailCoversOutstanding = true
		}
	}
	if emailCoversOutstanding {
		return domain.StepResult{RequireEmailMFA: true}
	}

	if !hasConsent {
		return domain.StepResult{RequireConsent: true}
	}

	return domain.StepResult{}
}

// fallbackAvailable reports whether the email fallback surface should be
// offered alongside an outstanding otp/sms step. Users enrolled in email
// MFA proper get it as its own required step instead.
func fallbackAvailable(cfg FlowConfig, user domain.UserSnapshot) bool {
	if !cfg.EmailFallbackEnabled {
		return false
	}
	if user.HasMechanism(domain.MechanismEmail) {
		return false
	}
	return user.Email != ""
}
