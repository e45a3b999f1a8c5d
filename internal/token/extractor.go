package token

import (
	"net/http"
	"strings"
)

// Extractor pulls a raw token from a request.
type Extractor func(r *http.Request) (string, bool)

func CookieExtractor(name string) Extractor {
	return func(r *http.Request) (string, bool) {
		c, err := r.Cookie(name)
		if err != nil || c.Value == "" {
			return "", false
		}
		return c.Value, true
	}
}

func BearerExtractor() Extractor {
	return func(r *http.Request) (string, bool) {
		h := r.Header.Get("Authorization")
		const prefix = "bearer "
		if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
			return "", false
		}
		tok := strings.TrimSpace(h[len(prefix):])
		return tok, tok != ""
	}
}

// Extract runs extractors in order; the first hit wins.
func Extract(r *http.Request, extractors ...Extractor) (string, error) {
	for _, ex := range extractors {
		if tok, ok := ex(r); ok {
			return tok, nil
		}
	}
	return "", ErrMissingToken
}

// FromRequest reads the session cookie, falling back to the bearer header.
func FromRequest(r *http.Request, cookieName string) (string, error) {
	return Extract(r, CookieExtractor(cookieName), BearerExtractor())
}
