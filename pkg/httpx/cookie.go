package httpx

import (
	"net/http"
	"strings"
	"time"
)

// SetDeviceCookie writes a trusted-device cookie whose value is
// "<deviceID>-<secret>". The device ID must not contain '-' so the value
// splits unambiguously; ULIDs satisfy this.
func SetDeviceCookie(w http.ResponseWriter, name, deviceID, secret string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    deviceID + "-" + secret,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ReadDeviceCookie parses a trusted-device cookie back into its device ID
// and secret. ok is false when the cookie is absent or malformed.
func ReadDeviceCookie(r *http.Request, name string) (deviceID, secret string, ok bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", "", false
	}

	parts := strings.SplitN(c.Value, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ClearDeviceCookie expires a trusted-device cookie.
func ClearDeviceCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
