package http

import (
	"encoding/json"
	"net/http"

	"github.com/aegis-id/aegis/internal/auth/domain"
	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
)

// UsersHandler serves account self-management: registration and password
// changes.
type UsersHandler struct {
	Users *service.UserService
}

func (h *UsersHandler) resolveUser(r *http.Request) (string, error) {
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

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Locale   string `json:"locale"`
}

// HandleRegister serves POST /v1/users/register and creates a password
// account.
func (h *UsersHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	user, err := h.Users.Register(r.Context(), req.Email, req.Password, req.Locale)
	if err != nil {
		writeServiceError(w, r, err, req.Locale)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": user.AuthID})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleChangePassword serves POST /v1/users/password for the
// authenticated user. The current password is re-verified before the
// rotation lands.
func (h *UsersHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := h.resolveUser(r)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	if err := h.Users.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	// Trusted-device grants predate the new password; drop them on this
	// browser so the next sign-in re-verifies MFA.
	for _, m := range domain.Mechanisms {
		httpx.ClearDeviceCookie(w, service.RememberCookieName(m))
	}
	w.WriteHeader(http.StatusNoContent)
}
