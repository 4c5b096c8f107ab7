package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
	"github.com/aegis-id/aegis/pkg/jwtx"
)

// PasskeyHandler serves WebAuthn ceremonies. Registration management
// requires a bearer token; login is public and begins an authorization
// session on success.
type PasskeyHandler struct {
	Passkeys     *service.PasskeyService
	Users        *service.UserService
	Orchestrator *service.Orchestrator
}

// resolveUser maps the token subject to the account. The access token
// carries the public auth id, not the storage id.
func (h *PasskeyHandler) resolveUser(r *http.Request) (string, error) {
	subject := httpx.UserIDFromContext(r.Context())
	if subject == "" {
		return "", service.ErrLoginRequired
	}
	user, err := h.Users.GetUserByAuthID(r.Context(), subject)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// HandleRegisterBegin serves POST /v1/passkeys/register/begin for the
// authenticated user.
func (h *PasskeyHandler) HandleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	options, err := h.Passkeys.BeginRegistration(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleRegisterFinish serves POST /v1/passkeys/register/finish. The body
// is the raw attestation response produced by the browser.
func (h *PasskeyHandler) HandleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	cred, err := h.Passkeys.FinishRegistration(r.Context(), userID, r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": cred.ID})
}

// HandleList serves GET /v1/passkeys for the authenticated user.
func (h *PasskeyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	creds, err := h.Passkeys.ListPasskeys(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	type passkeyView struct {
		ID         string `json:"id"`
		CreatedAt  string `json:"createdAt"`
		LastUsedAt string `json:"lastUsedAt,omitempty"`
	}
	views := make([]passkeyView, 0, len(creds))
	for _, c := range creds {
		v := passkeyView{ID: c.ID, CreatedAt: c.CreatedAt.Format(time.RFC3339)}
		if c.LastUsedAt != nil {
			v.LastUsedAt = c.LastUsedAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}

// HandleDelete serves DELETE /v1/passkeys/{id}.
func (h *PasskeyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	if err := h.Passkeys.DeletePasskey(r.Context(), userID, r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passkeyLoginBeginRequest struct {
	Email string `json:"email"`
}

// HandleLoginBegin serves POST /v1/passkeys/login/begin. Unknown emails
// and accounts without passkeys get the same empty 200, so the endpoint
// cannot probe registrations.
func (h *PasskeyHandler) HandleLoginBegin(w http.ResponseWriter, r *http.Request) {
	var req passkeyLoginBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	options, err := h.Passkeys.BeginLogin(r.Context(), email)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if options == nil {
		httpx.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleLoginFinish serves POST /v1/passkeys/login/finish. The assertion
// response rides in the body; the authorize parameters ride in the query
// string, and a verified assertion opens an authorization session.
func (h *PasskeyHandler) HandleLoginFinish(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := strings.ToLower(strings.TrimSpace(q.Get("email")))
	if email == "" {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	user, err := h.Passkeys.FinishLogin(r.Context(), email, httpx.IPKeyExtractor(r), r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	req := domain.AuthorizeRequest{
		ClientID:            q.Get("clientId"),
		RedirectURI:         q.Get("redirectUri"),
		ResponseType:        q.Get("responseType"),
		Scopes:              httpx.ParseSpaceDelimitedFields(q.Get("scope")),
		CodeChallenge:       q.Get("codeChallenge"),
		CodeChallengeMethod: q.Get("codeChallengeMethod"),
		Nonce:               q.Get("nonce"),
		State:               q.Get("state"),
		Locale:              q.Get("locale"),
		Organization:        q.Get("organization"),
	}

	begin, err := h.Orchestrator.Begin(r.Context(), user, req, []string{jwtx.AMRPasskey})
	if err != nil {
		writeServiceError(w, r, err, req.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{Code: begin.Code, AppName: begin.AppName})
}
