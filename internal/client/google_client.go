package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"marketplace-auth/internal/config"
	"marketplace-auth/internal/util"
)

var (
	// ErrGoogleTokenRejected means the provider refused the token or it
	// carried no verified e-mail.
	ErrGoogleTokenRejected = errors.New("google token rejected")
	// ErrGoogleUnavailable means the provider could not be reached in time.
	ErrGoogleUnavailable = errors.New("google identity provider unavailable")
)

// GoogleIdentity is the verified identity extracted from an id_token.
type GoogleIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
}

type GoogleClient struct {
	oauth        *oauth2.Config
	httpClient   *http.Client
	tokenInfoURL string
	clientID     string
}

func NewGoogleClient(cfg config.GoogleConfig) *GoogleClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GoogleClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		httpClient:   &http.Client{Timeout: timeout},
		tokenInfoURL: cfg.TokenInfoURL,
		clientID:     cfg.ClientID,
	}
}

// AuthURL builds the consent page URL for the authorization-code flow.
func (g *GoogleClient) AuthURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode trades an authorization code for an id_token and verifies it.
func (g *GoogleClient) ExchangeCode(ctx context.Context, code string) (*GoogleIdentity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return nil, fmt.Errorf("%w: code exchange: %v", ErrGoogleTokenRejected, err)
		}
		return nil, fmt.Errorf("%w: code exchange: %v", ErrGoogleUnavailable, err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return nil, fmt.Errorf("%w: no id_token in exchange response", ErrGoogleTokenRejected)
	}
	return g.VerifyIDToken(ctx, idToken)
}

// tokenInfo mirrors the tokeninfo endpoint response; Google encodes most
// values as strings.
type tokenInfo struct {
	Aud           string    `json:"aud"`
	Sub           string    `json:"sub"`
	Email         string    `json:"email"`
	EmailVerified flexBool  `json:"email_verified"`
	Name          string    `json:"name"`
	GivenName     string    `json:"given_name"`
	FamilyName    string    `json:"family_name"`
	Error         string    `json:"error"`
	ErrorDesc     string    `json:"error_description"`
	Exp           flexInt64 `json:"exp"`
}

// VerifyIDToken validates idToken against the tokeninfo endpoint. The call
// is bounded by the client timeout and never retried here.
func (g *GoogleClient) VerifyIDToken(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if strings.TrimSpace(idToken) == "" {
		return nil, ErrGoogleTokenRejected
	}

	endpoint := g.tokenInfoURL + "?" + url.Values{"id_token": {idToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tokeninfo request: %w", err)
	}

	start := time.Now()
	res, err := g.httpClient.Do(req)
	if err != nil {
		util.Warn("Google tokeninfo request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrGoogleUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGoogleUnavailable, err)
	}

	switch {
	case res.StatusCode >= 500:
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrGoogleUnavailable, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: tokeninfo status %d", ErrGoogleTokenRejected, res.StatusCode)
	}

	var info tokenInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: malformed tokeninfo response", ErrGoogleTokenRejected)
	}
	if info.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrGoogleTokenRejected, info.Error)
	}
	if g.clientID != "" && info.Aud != g.clientID {
		return nil, fmt.Errorf("%w: audience mismatch", ErrGoogleTokenRejected)
	}
	if info.Email == "" || !bool(info.EmailVerified) {
		return nil, fmt.Errorf("%w: no verified email", ErrGoogleTokenRejected)
	}
	if info.Exp > 0 && time.Unix(int64(info.Exp), 0).Before(time.Now()) {
		return nil, fmt.Errorf("%w: token expired", ErrGoogleTokenRejected)
	}

	return &GoogleIdentity{
		Subject:       info.Sub,
		Email:         strings.ToLower(info.Email),
		EmailVerified: true,
		Name:          info.Name,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
	}, nil
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*b = flexBool(v)
	return nil
}

type flexInt64 int64

func (n *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = flexInt64(v)
	return nil
}
