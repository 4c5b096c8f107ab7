package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/pkg/httpx"
)

// KeysHandler exposes signing key administration. The router guards these
// routes with keys:read / keys:write scopes.
type KeysHandler struct {
	Rotation *service.KeyRotationService
}

// HandleRotate serves POST /v1/keys/rotate.
func (h *KeysHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req service.RotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeServiceError(w, r, service.ErrInvalidRequest, "")
		return
	}

	resp, err := h.Rotation.RotateKey(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleRetire serves POST /v1/keys/{kid}/retire.
func (h *KeysHandler) HandleRetire(w http.ResponseWriter, r *http.Request) {
	if err := h.Rotation.RetireKey(r.Context(), r.PathValue("kid")); err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type signingKeyView struct {
	Kid       string `json:"kid"`
	Algorithm string `json:"algorithm"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"createdAt"`
	RetiredAt string `json:"retiredAt,omitempty"`
	ExpiresAt string `json:"expiresAt"`
}

// HandleList serves GET /v1/keys. Private material never leaves the
// service; only metadata is reported.
func (h *KeysHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Rotation.ListSigningKeys(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	now := time.Now()
	views := make([]signingKeyView, 0, len(keys))
	for i := range keys {
		k := &keys[i]
		v := signingKeyView{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			Active:    k.IsActive(now),
			CreatedAt: k.CreatedAt.Format(time.RFC3339),
			ExpiresAt: k.ExpiresAt.Format(time.RFC3339),
		}
		if k.RetiredAt != nil {
			v.RetiredAt = k.RetiredAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	httpx.WriteJSON(w, http.StatusOK, views)
}
