package http

import (
	"encoding/json"
	"net/http"

	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
)

// ConsentHandler serves POST /v1/oauth2/consent for an open authorization
// session, and consent withdrawal for authenticated users.
type ConsentHandler struct {
	Orchestrator *service.Orchestrator
	Users        *service.UserService
	Tokens       *service.TokenService
}

type consentRequest struct {
	Code    string `json:"code"`
	Approve bool   `json:"approve"`
}

func (h *ConsentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	session, err := h.Orchestrator.Load(r.Context(), req.Code)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	if !req.Approve {
		// Declining ends the flow; the session is left to expire.
		writeServiceError(w, r, service.ErrInvalidRequest, session.Request.Locale)
		return
	}

	if err := h.Orchestrator.GrantConsent(r.Context(), req.Code, session); err != nil {
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

// HandleWithdraw serves DELETE /v1/consents/{clientId}. It removes the
// consent record and revokes every refresh token the user holds for the
// app.
func (h *ConsentHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	subject := httpx.UserIDFromContext(r.Context())
	if subject == "" {
		writeServiceError(w, r, service.ErrLoginRequired, "")
		return
	}

	user, err := h.Users.GetUserByAuthID(r.Context(), subject)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	appID, err := h.Orchestrator.WithdrawConsent(r.Context(), user.ID, r.PathValue("clientId"))
	if err != nil {
		writeServiceError(w, r, err, user.Locale)
		return
	}
	if err := h.Tokens.RevokeUserApp(r.Context(), user.ID, appID); err != nil {
		writeServiceError(w, r, err, user.Locale)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
