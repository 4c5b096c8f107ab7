package http

import (
	"encoding/json"
	"net/http"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/cryptox"
	"github.com/aegis-id/aegis/pkg/httpx"
)

// MFAHandler serves the in-flow MFA endpoints. All of them operate on an
// open authorization session named by its opaque code; none require a
// bearer token.
type MFAHandler struct {
	Orchestrator *service.Orchestrator
	MFA          *service.MFAEngine
	Users        *service.UserService
}

type mfaIssueRequest struct {
	Code      string `json:"code"`
	Mechanism string `json:"mechanism"`
}

// HandleIssue serves POST /v1/mfa/issue: generates and delivers a code
// for email or sms. The response shape is identical whether delivery
// succeeded, failed, or the mechanism is locked out.
func (h *MFAHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req mfaIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, mech, err := h.loadSessionAndMechanism(r, req.Code, req.Mechanism)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	result, err := h.MFA.IssueCode(r.Context(), mech, cryptox.FingerprintToken(req.Code), session, httpx.IPKeyExtractor(r))
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type mfaVerifyRequest struct {
	Code           string `json:"code"`
	Mechanism      string `json:"mechanism"`
	OTP            string `json:"otp"`
	RememberDevice bool   `json:"rememberDevice"`
}

// HandleVerify serves POST /v1/mfa/verify: checks the submitted code,
// records the completion on the session, optionally plants a trusted-
// device cookie, and returns the re-derived step.
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, mech, err := h.loadSessionAndMechanism(r, req.Code, req.Mechanism)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	grant, err := h.MFA.VerifyCode(r.Context(), mech, cryptox.FingerprintToken(req.Code), session, req.OTP, httpx.IPKeyExtractor(r), req.RememberDevice)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	if err := h.Orchestrator.Save(r.Context(), req.Code, session); err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	if grant != nil {
		httpx.SetDeviceCookie(w, service.RememberCookieName(grant.Mechanism), grant.DeviceID, grant.Secret, grant.TTL)
	}

	result, err := h.Orchestrator.Evaluate(r.Context(), req.Code, session, nil)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type otpSetupRequest struct {
	Code string `json:"code"`
	OTP  string `json:"otp"`
}

// HandleOTPSetupBegin serves POST /v1/mfa/otp/setup: returns the TOTP
// provisioning URI for the session's user. Safe to call repeatedly.
func (h *MFAHandler) HandleOTPSetupBegin(w http.ResponseWriter, r *http.Request) {
	var req otpSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, err := h.Orchestrator.Load(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	setup, err := h.MFA.BeginOTPSetup(r.Context(), session.User.ID)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, setup)
}

// HandleOTPSetupVerify serves POST /v1/mfa/otp/setup/verify: a valid code
// proves the authenticator works, flips otp_verified, and completes the
// otp step for this session.
func (h *MFAHandler) HandleOTPSetupVerify(w http.ResponseWriter, r *http.Request) {
	var req otpSetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, err := h.Orchestrator.Load(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	if err := h.MFA.VerifyOTPSetup(r.Context(), session.User.ID, req.OTP); err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	// Setup verification doubles as this session's otp completion: the
	// user just proved possession of the authenticator.
	session.OTPSetupDone = true
	session.MarkMechanismDone(domain.MechanismOTP)
	session.AddAMR("otp")
	session.User.OTPVerified = true
	if err := h.Orchestrator.Save(r.Context(), req.Code, session); err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	result, err := h.Orchestrator.Evaluate(r.Context(), req.Code, session, nil)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type mfaEnrollRequest struct {
	Code       string   `json:"code"`
	Mechanisms []string `json:"mechanisms"`
	Phone      string   `json:"phone,omitempty"`
}

// HandleEnroll serves POST /v1/mfa/enroll: picks the user's mechanism set
// mid-flow, registering a phone number first when sms is among them.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	var req mfaEnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, err := h.Orchestrator.Load(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	mechanisms := make([]domain.Mechanism, 0, len(req.Mechanisms))
	for _, raw := range req.Mechanisms {
		m, err := domain.ParseMechanism(raw)
		if err != nil {
			writeServiceError(w, r, service.ErrInvalidRequest, session.Request.Locale)
			return
		}
		mechanisms = append(mechanisms, m)
	}

	if req.Phone != "" {
		if err := h.Users.RegisterPhoneNumber(r.Context(), session.User.ID, req.Phone); err != nil {
			writeServiceError(w, r, err, session.Request.Locale)
			return
		}
	}

	if err := h.MFA.EnrollMechanisms(r.Context(), session.User.ID, mechanisms); err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	// Refresh the frozen snapshot so the step derivation sees the new
	// enrollment.
	session.User.Mechanisms = mechanisms
	if err := h.Orchestrator.Save(r.Context(), req.Code, session); err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	result, err := h.Orchestrator.Evaluate(r.Context(), req.Code, session, nil)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *MFAHandler) loadSessionAndMechanism(r *http.Request, code, mechanism string) (*domain.LoginSession, domain.Mechanism, error) {
	if code == "" {
		return nil, "", service.ErrInvalidRequest
	}
	mech, err := domain.ParseMechanism(mechanism)
	if err != nil {
		return nil, "", service.ErrInvalidRequest
	}
	session, err := h.Orchestrator.Load(r.Context(), code)
	if err != nil {
		return nil, "", err
	}
	return session, mech, nil
}
