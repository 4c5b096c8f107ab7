package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
	"github.com/aegis-id/aegis/pkg/jwtx"
)

// AuthorizeHandler runs the interactive authorization flow: login starts a
// session, the step endpoint reports what the flow still needs.
type AuthorizeHandler struct {
	Orchestrator *service.Orchestrator
	Users        *service.UserService
	MFA          *service.MFAEngine

	// ExpiredRedirectURL is where expired GET flows land.
	ExpiredRedirectURL string
}

type authorizeParams struct {
	ClientID            string `json:"clientId"`
	RedirectURI         string `json:"redirectUri"`
	ResponseType        string `json:"responseType"`
	Scope               string `json:"scope"`
	State               string `json:"state"`
	Nonce               string `json:"nonce"`
	CodeChallenge       string `json:"codeChallenge"`
	CodeChallengeMethod string `json:"codeChallengeMethod"`
	Locale              string `json:"locale"`
	Organization        string `json:"organization"`
}

func (p authorizeParams) request() domain.AuthorizeRequest {
	return domain.AuthorizeRequest{
		ClientID:            strings.TrimSpace(p.ClientID),
		RedirectURI:         strings.TrimSpace(p.RedirectURI),
		ResponseType:        strings.TrimSpace(p.ResponseType),
		Scopes:              httpx.ParseSpaceDelimitedFields(p.Scope),
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Nonce:               p.Nonce,
		State:               p.State,
		Locale:              p.Locale,
		Organization:        p.Organization,
	}
}

type loginRequest struct {
	authorizeParams

	// Password login.
	Email    string `json:"email"`
	Password string `json:"password"`

	// Social login: a provider name plus the provider-issued ID token.
	Provider string `json:"provider"`
	IDToken  string `json:"idToken"`
}

type loginResponse struct {
	Code    string `json:"code"`
	AppName string `json:"appName"`
}

// HandleLogin serves POST /v1/oauth2/authorize. It authenticates the user
// by password or social ID token and opens the authorization session.
func (h *AuthorizeHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, req.Locale)
		return
	}

	var (
		user *domain.User
		err  error
		amr  []string
	)
	switch {
	case req.Provider != "" && req.IDToken != "":
		user, err = h.Users.SocialLogin(r.Context(), req.Provider, req.IDToken)
		amr = []string{jwtx.AMRSocial}
	case req.Email != "" && req.Password != "":
		user, err = h.Users.PasswordLogin(r.Context(), req.Email, req.Password, httpx.IPKeyExtractor(r))
		amr = []string{jwtx.AMRPassword}
	default:
		err = service.ErrLoginRequired
	}
	if err != nil {
		writeServiceError(w, r, err, req.Locale)
		return
	}

	begin, err := h.Orchestrator.Begin(r.Context(), user, req.request(), amr)
	if err != nil {
		writeServiceError(w, r, err, req.Locale)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, loginResponse{Code: begin.Code, AppName: begin.AppName})
}

// HandleProviders serves GET /v1/oauth2/providers so the login UI can
// offer the configured social sign-in options.
func (h *AuthorizeHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{
		"providers": h.Users.FederatedProviders(),
	})
}

// HandleStep serves GET /v1/oauth2/authorize/step?code=... and reports the
// outstanding step. An expired or unknown session redirects the browser to
// the expired view rather than erroring.
func (h *AuthorizeHandler) HandleStep(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, err := h.Orchestrator.Load(r.Context(), code)
	if errors.Is(err, service.ErrSessionExpired) {
		http.Redirect(w, r, h.ExpiredRedirectURL, http.StatusFound)
		return
	}
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	bypassed, err := h.bypassedMechanisms(r, session)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	result, err := h.Orchestrator.Evaluate(r.Context(), code, session, bypassed)
	if err != nil {
		writeServiceError(w, r, err, session.Request.Locale)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, result)
}

// bypassedMechanisms collects valid remember-device cookies. Invalid or
// expired cookies are simply ignored; the step stays required.
func (h *AuthorizeHandler) bypassedMechanisms(r *http.Request, session *domain.LoginSession) (map[domain.Mechanism]bool, error) {
	cookies := make(map[domain.Mechanism][2]string)
	for _, m := range domain.Mechanisms {
		deviceID, secret, ok := httpx.ReadDeviceCookie(r, service.RememberCookieName(m))
		if ok {
			cookies[m] = [2]string{deviceID, secret}
		}
	}
	return h.MFA.BypassedMechanisms(r.Context(), session.User.ID, cookies)
}
