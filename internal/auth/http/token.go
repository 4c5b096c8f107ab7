package http

import (
	"net/http"
	"strings"

	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
)

// TokenHandler serves POST /v1/oauth2/token. Accepts
// application/x-www-form-urlencoded per RFC 6749.
type TokenHandler struct {
	Tokens *service.TokenService
}

func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "expected application/x-www-form-urlencoded")
		return
	}
	if err := r.ParseForm(); err != nil {
		httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID := strings.TrimSpace(r.Form.Get("client_id"))
	clientSecret := r.Form.Get("client_secret")
	if clientID == "" {
		httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}

	switch r.Form.Get("grant_type") {
	case "authorization_code":
		code := strings.TrimSpace(r.Form.Get("code"))
		redirectURI := strings.TrimSpace(r.Form.Get("redirect_uri"))
		verifier := strings.TrimSpace(r.Form.Get("code_verifier"))
		if code == "" || redirectURI == "" {
			httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "code and redirect_uri are required")
			return
		}
		pair, err := h.Tokens.ExchangeAuthorizationCode(r.Context(), clientID, clientSecret, code, redirectURI, verifier)
		if err != nil {
			writeServiceError(w, r, err, "")
			return
		}
		httpx.NoCache(w)
		httpx.WriteJSON(w, http.StatusOK, pair)

	case "refresh_token":
		refresh := strings.TrimSpace(r.Form.Get("refresh_token"))
		if refresh == "" {
			httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
			return
		}
		pair, err := h.Tokens.ExchangeRefreshToken(r.Context(), clientID, clientSecret, refresh)
		if err != nil {
			writeServiceError(w, r, err, "")
			return
		}
		httpx.NoCache(w)
		httpx.WriteJSON(w, http.StatusOK, pair)

	case "client_credentials":
		scopes := httpx.ParseSpaceDelimitedFields(r.Form.Get("scope"))
		pair, err := h.Tokens.ExchangeClientCredentials(r.Context(), clientID, clientSecret, scopes)
		if err != nil {
			writeServiceError(w, r, err, "")
			return
		}
		httpx.NoCache(w)
		httpx.WriteJSON(w, http.StatusOK, pair)

	default:
		httpx.WriteOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "unknown grant_type")
	}
}

// RevokeHandler serves POST /v1/oauth2/revoke per RFC 7009.
type RevokeHandler struct {
	Tokens *service.TokenService
}

func (h *RevokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID := strings.TrimSpace(r.Form.Get("client_id"))
	token := strings.TrimSpace(r.Form.Get("token"))
	if clientID == "" || token == "" {
		httpx.WriteOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id and token are required")
		return
	}

	if err := h.Tokens.Revoke(r.Context(), clientID, r.Form.Get("client_secret"), token); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusOK)
}
