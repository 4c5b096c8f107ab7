package http

import (
	"net/http"

	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
)

type UserInfoHandler struct {
	Users *service.UserService
}

type userInfoResponse struct {
	Subject             string `json:"sub"`
	Email               string `json:"email,omitempty"`
	PhoneNumber         string `json:"phone_number,omitempty"`
	PhoneNumberVerified bool   `json:"phone_number_verified,omitempty"`
	Locale              string `json:"locale,omitempty"`
	UpdatedAt           int64  `json:"updated_at"`
}

// ServeHTTP handles the OIDC UserInfo endpoint. The router requires the
// profile:read scope before the request reaches here.
func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	response := userInfoResponse{
		Subject:   user.AuthID,
		Locale:    user.Locale,
		UpdatedAt: user.UpdatedAt.Unix(),
	}
	if user.Email != nil {
		response.Email = *user.Email
	}
	if user.SMSPhoneNumber != nil {
		response.PhoneNumber = *user.SMSPhoneNumber
		response.PhoneNumberVerified = user.SMSVerified
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, response)
}
