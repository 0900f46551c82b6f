package security

import "net/http"

// Cookie names use the __Host- prefix so browsers refuse them unless they are
// Secure, Path=/, and carry no Domain attribute. This prevents a compromised
// subdomain from injecting cookies into the authorization flow.
const (
	CSRFCookieName            = "__Host-CSRF_TOKEN"
	ApprovedClientsCookieName = "__Host-APPROVED_CLIENTS"
	StateBindingCookieName    = "__Host-STATE_BINDING"
)

const (
	// CSRFCookieMaxAge bounds a single authorization attempt (10 minutes).
	CSRFCookieMaxAge = 600

	// ApprovedClientsCookieMaxAge keeps client approvals for 30 days.
	ApprovedClientsCookieMaxAge = 2592000

	// StateBindingCookieMaxAge matches the pending-state TTL (10 minutes).
	StateBindingCookieMaxAge = 600
)

// HostCookie builds a cookie satisfying the __Host- prefix requirements.
func HostCookie(name, value string, maxAge int) *http.Cookie {
	return hostCookie(name, value, maxAge)
}

// hostCookie builds a cookie satisfying the __Host- prefix requirements.
func hostCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that instructs the browser to drop name.
func ClearCookie(name string) *http.Cookie {
	return hostCookie(name, "", -1)
}
