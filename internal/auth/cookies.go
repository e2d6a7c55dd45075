package auth

import (
	"net/http"
	"strings"
)

const AccessCookieName = "sl_access"

// TokenFromRequest prefers the access cookie and falls back to an
// Authorization bearer header when allowBearer is set.
func TokenFromRequest(r *http.Request, allowBearer bool) string {
	if cookie, err := r.Cookie(AccessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if !allowBearer {
		return ""
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
