package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketplace-auth/internal/config"
)

func newGoogleTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *GoogleClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGoogleClient(config.GoogleConfig{
		ClientID:     "client-123",
		TokenInfoURL: srv.URL,
		Timeout:      timeout,
	})
}

func TestVerifyIDToken(t *testing.T) {
	g := newGoogleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") != "good" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		_, _ = w.Write([]byte(`{"aud":"client-123","sub":"g-1","email":"Ada@Example.com","email_verified":"true","given_name":"Ada"}`))
	}, time.Second)

	id, err := g.VerifyIDToken(context.Background(), "good")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Email != "ada@example.com" || id.Subject != "g-1" || id.GivenName != "Ada" {
		t.Fatalf("unexpected identity %+v", id)
	}

	if _, err := g.VerifyIDToken(context.Background(), "bad"); !errors.Is(err, ErrGoogleTokenRejected) {
		t.Fatalf("expected ErrGoogleTokenRejected, got %v", err)
	}
}

func TestVerifyIDTokenRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong audience", `{"aud":"someone-else","email":"a@x.com","email_verified":"true"}`},
		{"unverified email", `{"aud":"client-123","email":"a@x.com","email_verified":"false"}`},
		{"no email", `{"aud":"client-123","email_verified":true}`},
		{"expired", `{"aud":"client-123","email":"a@x.com","email_verified":"true","exp":"1000"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGoogleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, time.Second)
			if _, err := g.VerifyIDToken(context.Background(), "tok"); !errors.Is(err, ErrGoogleTokenRejected) {
				t.Fatalf("expected ErrGoogleTokenRejected, got %v", err)
			}
		})
	}
}

func TestVerifyIDTokenUnavailable(t *testing.T) {
	g := newGoogleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, time.Second)
	if _, err := g.VerifyIDToken(context.Background(), "tok"); !errors.Is(err, ErrGoogleUnavailable) {
		t.Fatalf("expected ErrGoogleUnavailable for 5xx, got %v", err)
	}

	slow := newGoogleTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	if _, err := slow.VerifyIDToken(context.Background(), "tok"); !errors.Is(err, ErrGoogleUnavailable) {
		t.Fatalf("expected ErrGoogleUnavailable on timeout, got %v", err)
	}
}

func TestAuthURL(t *testing.T) {
	g := NewGoogleClient(config.GoogleConfig{ClientID: "client-123", RedirectURL: "http://localhost/cb"})
	u := g.AuthURL("state-xyz")
	if !strings.Contains(u, "state=state-xyz") || !strings.Contains(u, "client_id=client-123") {
		t.Fatalf("unexpected auth url %s", u)
	}
}
