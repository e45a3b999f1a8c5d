package token

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-auth/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T, clock *fakeClock) *Service {
	t.Helper()
	s, err := NewService([]byte("test-secret"), 7*24*time.Hour, "marketplace-auth", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

var testIdentity = Identity{
	UserID:   "user-1",
	Email:    "a@x.com",
	Username: "alice",
	Role:     models.RoleVendor,
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, clock)

	tok, exp, err := s.Issue(testIdentity)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if want := clock.t.Add(7 * 24 * time.Hour); !exp.Equal(want) {
		t.Fatalf("expected expiry %s, got %s", want, exp)
	}

	clock.Advance(time.Hour)
	claims, err := s.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got := claims.Identity(); got != testIdentity {
		t.Fatalf("expected %+v, got %+v", testIdentity, got)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt.Time) != s.TTL() {
		t.Fatalf("expected exp - iat = ttl, got %s", claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	}
}

func TestIssueDiffersOverTime(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, clock)

	a, _, _ := s.Issue(testIdentity)
	clock.Advance(2 * time.Second)
	b, _, _ := s.Issue(testIdentity)
	if a == b {
		t.Fatal("expected tokens issued at different times to differ")
	}

	ca, _ := s.Verify(a)
	cb, _ := s.Verify(b)
	if ca.Identity() != cb.Identity() {
		t.Fatal("expected identical payloads")
	}
}

func TestVerifyExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := newTestService(t, clock)

	tok, _, _ := s.Issue(testIdentity)
	clock.Advance(7*24*time.Hour + time.Second)

	if _, err := s.Verify(tok); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestService(t, clock)
	other, err := NewService([]byte("other-secret"), time.Hour, "marketplace-auth", WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tok, _, _ := other.Issue(testIdentity)
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyBadSignatureBeatsExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestService(t, clock)
	other, _ := NewService([]byte("other-secret"), time.Minute, "marketplace-auth", WithClock(clock.Now))

	tok, _, _ := other.Issue(testIdentity)
	clock.Advance(time.Hour)
	if _, err := s.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for forged expired token, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	s := newTestService(t, &fakeClock{t: time.Now()})

	if _, err := s.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := s.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(nil, time.Hour, ""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestFromRequestPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   string
		err    error
	}{
		{name: "cookie wins", cookie: "from-cookie", header: "Bearer from-header", want: "from-cookie"},
		{name: "bearer fallback", header: "Bearer from-header", want: "from-header"},
		{name: "lowercase scheme", header: "bearer from-header", want: "from-header"},
		{name: "basic ignored", header: "Basic abc", err: ErrMissingToken},
		{name: "empty bearer", header: "Bearer ", err: ErrMissingToken},
		{name: "nothing", err: ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "accessToken", Value: tt.cookie})
			}
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			got, err := FromRequest(r, "accessToken")
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
