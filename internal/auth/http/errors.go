package http

import (
	"errors"
	"net/http"

	"golang.org/x/text/language"

	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/internal/auth/store"
	"github.com/aegis-id/aegis/pkg/httpx"
	"github.com/aegis-id/aegis/pkg/slogx"
)

// errorBody is the JSON error shape: the OAuth error code, a stable
// English description, and a message localized for the end user.
type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Message     string `json:"message,omitempty"`
}

var errorLocales = []language.Tag{
	language.English, // fallback
	language.German,
	language.Spanish,
	language.French,
}

var errorMatcher = language.NewMatcher(errorLocales)

type localized struct {
	en, de, es, fr string
}

func (l localized) in(locale string) string {
	tag, _ := language.MatchStrings(errorMatcher, locale)
	base, _ := tag.Base()
	switch base.String() {
	case "de":
		return l.de
	case "es":
		return l.es
	case "fr":
		return l.fr
	}
	return l.en
}

var errorMessages = map[string]localized{
	"session_expired": {
		en: "Your sign-in session has expired. Please start again.",
		de: "Ihre Anmeldesitzung ist abgelaufen. Bitte beginnen Sie erneut.",
		es: "Tu sesión de inicio ha caducado. Vuelve a empezar.",
		fr: "Votre session de connexion a expiré. Veuillez recommencer.",
	},
	"wrong_code": {
		en: "That code is not correct.",
		de: "Dieser Code ist nicht korrekt.",
		es: "Ese código no es correcto.",
		fr: "Ce code est incorrect.",
	},
	"mechanism_locked": {
		en: "Too many attempts. Please try again later.",
		de: "Zu viele Versuche. Bitte versuchen Sie es später erneut.",
		es: "Demasiados intentos. Inténtalo de nuevo más tarde.",
		fr: "Trop de tentatives. Veuillez réessayer plus tard.",
	},
	"invalid_credentials": {
		en: "The email address or password is not correct.",
		de: "E-Mail-Adresse oder Passwort ist nicht korrekt.",
		es: "El correo o la contraseña no son correctos.",
		fr: "L'adresse e-mail ou le mot de passe est incorrect.",
	},
}

// writeServiceError maps a service failure to an OAuth-style response.
// locale drives the human-readable message only; error codes stay stable.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, locale string) {
	code, oauthErr, desc := classify(err)

	if code == http.StatusInternalServerError {
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		desc = "internal error"
	}

	body := errorBody{Error: oauthErr, Description: desc}
	if msg, ok := errorMessages[oauthErr]; ok {
		body.Message = msg.in(locale)
	}
	httpx.WriteJSON(w, code, body)
}

func classify(err error) (status int, oauthErr, desc string) {
	switch {
	case errors.Is(err, service.ErrInvalidClient):
		return http.StatusUnauthorized, "invalid_client", "client authentication failed"
	case errors.Is(err, service.ErrInvalidGrant):
		return http.StatusBadRequest, "invalid_grant", "grant is invalid, expired, or already used"
	case errors.Is(err, service.ErrInvalidScope):
		return http.StatusBadRequest, "invalid_scope", "requested scope is not available"
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", "request is missing or has a malformed parameter"
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "authentication failed"
	case errors.Is(err, service.ErrLoginRequired):
		return http.StatusUnauthorized, "login_required", "user authentication is required"
	case errors.Is(err, service.ErrSessionExpired):
		return http.StatusGone, "session_expired", "authorization session expired or consumed"
	case errors.Is(err, service.ErrWrongCode):
		return http.StatusBadRequest, "wrong_code", "verification code mismatch"
	case errors.Is(err, service.ErrMechanismLocked):
		return http.StatusTooManyRequests, "mechanism_locked", "attempt threshold exceeded"
	case errors.Is(err, service.ErrNotEligible):
		return http.StatusForbidden, "mechanism_not_eligible", "mechanism not available for this account"
	case errors.Is(err, service.ErrFeatureDisabled):
		return http.StatusForbidden, "feature_disabled", "this feature is disabled"
	case errors.Is(err, service.ErrReplayDetected):
		return http.StatusUnauthorized, "invalid_credentials", "authentication failed"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "no such resource"
	}
	return http.StatusInternalServerError, "server_error", ""
}
