package http

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-id/aegis/internal/auth/service"
	"github.com/aegis-id/aegis/internal/auth/store"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{service.ErrInvalidClient, http.StatusUnauthorized, "invalid_client"},
		{service.ErrInvalidGrant, http.StatusBadRequest, "invalid_grant"},
		{service.ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
		{service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{service.ErrLoginRequired, http.StatusUnauthorized, "login_required"},
		{service.ErrSessionExpired, http.StatusGone, "session_expired"},
		{service.ErrWrongCode, http.StatusBadRequest, "wrong_code"},
		{service.ErrMechanismLocked, http.StatusTooManyRequests, "mechanism_locked"},
		{service.ErrNotEligible, http.StatusForbidden, "mechanism_not_eligible"},
		{service.ErrFeatureDisabled, http.StatusForbidden, "feature_disabled"},
	}
	for _, tc := range cases {
		status, code, _ := classify(tc.err)
		require.Equal(t, tc.status, status, tc.code)
		require.Equal(t, tc.code, code)
	}

	// Wrapped errors classify the same as their sentinel.
	status, code, _ := classify(fmt.Errorf("loading session: %w", service.ErrSessionExpired))
	require.Equal(t, http.StatusGone, status)
	require.Equal(t, "session_expired", code)

	status, code, _ = classify(fmt.Errorf("loading passkey: %w", store.ErrNotFound))
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", code)

	// Replay never reveals itself on the wire.
	_, code, _ = classify(service.ErrReplayDetected)
	require.Equal(t, "invalid_credentials", code)

	status, code, _ = classify(fmt.Errorf("some internal failure"))
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "server_error", code)
}

func TestLocalizedMessages(t *testing.T) {
	msg := errorMessages["session_expired"]

	require.Contains(t, msg.in("de"), "abgelaufen")
	require.Contains(t, msg.in("de-AT"), "abgelaufen")
	require.Contains(t, msg.in("es"), "caducado")
	require.Contains(t, msg.in("fr"), "expiré")

	// Unknown locales fall back to English.
	require.Equal(t, msg.in(""), msg.in("zh"))
	require.Contains(t, msg.in("zh"), "expired")
}
