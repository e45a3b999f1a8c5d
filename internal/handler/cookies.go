package handler

import (
	"net/http"
	"time"
)

const googleStateCookie = "google_oauth_state"

// CookieSettings describes the session cookie.
type CookieSettings struct {
	Name     string
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
	MaxAge   time.Duration
}

func ParseSameSite(s string) http.SameSite {
	switch s {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

func (c CookieSettings) session(value string, maxAge int) *http.Cookie {
	path := c.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	}
}

func (c CookieSettings) set(w http.ResponseWriter, value string) {
	http.SetCookie(w, c.session(value, int(c.MaxAge.Seconds())))
}

func (c CookieSettings) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.session("", -1))
}

// stateCookie carries the OAuth state between /google/url and /google.
// Lax so it survives the redirect back from the provider.
func (c CookieSettings) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     googleStateCookie,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
