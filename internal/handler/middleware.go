package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/ratelimit"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/token"
	"marketplace-auth/internal/util"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Authenticator resolves the user behind a raw session token.
type Authenticator interface {
	Authenticate(ctx context.Context, tokenStr string) (*models.User, error)
}

// Middleware carries the collaborators shared by the request middleware.
type Middleware struct {
	auth       Authenticator
	limiter    ratelimit.Limiter
	auditor    audit.Recorder
	cookieName string
	logger     *zap.Logger
}

func NewMiddleware(auth Authenticator, limiter ratelimit.Limiter, auditor audit.Recorder, cookieName string, logger *zap.Logger) *Middleware {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Middleware{
		auth:       auth,
		limiter:    limiter,
		auditor:    auditor,
		cookieName: cookieName,
		logger:     logger,
	}
}

type authErrorKey struct{}

// Authenticate attaches the principal when the request carries a valid
// session (cookie first, then bearer header). Requests without one pass
// through anonymously; RequireAuth decides whether that is acceptable.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := token.FromRequest(r, m.cookieName)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.auth.Authenticate(r.Context(), raw)
		if err != nil {
			ctx := context.WithValue(r.Context(), authErrorKey{}, err)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		ctx := authz.WithPrincipal(r.Context(), authz.PrincipalFromUser(user))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects anonymous requests with 401. A token that failed
// verification is reported with the error that rejected it.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := authz.PrincipalFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		err, _ := r.Context().Value(authErrorKey{}).(error)
		if err == nil {
			err = token.ErrMissingToken
		}
		respondWithError(w, r, m.logger, err)
	})
}

// Require evaluates role, admin type and permission guards for a route.
func (m *Middleware) Require(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := authz.PrincipalFrom(r.Context())
			if err := authz.Evaluate(p, req); err != nil {
				respondWithError(w, r, m.logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit counts requests per client under policy. Limiter failures let
// the request through.
func (m *Middleware) RateLimit(policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := ""
			if p, ok := authz.PrincipalFrom(r.Context()); ok {
				subject = p.UserID
			}
			if m.allow(w, r, policy, ratelimit.Key(policy, clientIP(r), subject), subject) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// LimitTarget counts an attempt against the account a request names, so the
// budget for one phone number or e-mail holds however many addresses the
// guesses come from. It writes the 429 itself and returns false when the
// budget is spent.
func (m *Middleware) LimitTarget(w http.ResponseWriter, r *http.Request, policy ratelimit.Policy, route, target string) bool {
	if target == "" {
		return true
	}
	return m.allow(w, r, policy, ratelimit.TargetKey(policy, route, target), "")
}

func (m *Middleware) allow(w http.ResponseWriter, r *http.Request, policy ratelimit.Policy, key, subject string) bool {
	d, err := ratelimit.Check(r.Context(), m.limiter, key, policy)
	var limited *ratelimit.LimitError
	if err != nil && !errors.As(err, &limited) {
		m.logger.Warn("Rate limiter unavailable, allowing request",
			util.String("policy", policy.Name), util.ErrorField(err))
		return true
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if limited == nil {
		return true
	}
	retry := d.RetryAfterSeconds()
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	m.auditor.Record(models.SecurityEvent{
		Type:      models.EventRateLimited,
		UserID:    subject,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		Reason:    policy.Name,
		Timestamp: time.Now().UTC(),
	})
	e := statusFor(limited)
	respondWithJSON(w, e.Status, Response{
		Success: false,
		Data:    map[string]int{"retryAfter": retry},
		Error:   e.Code,
		Message: e.Message,
	})
	return false
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			respondWithJSON(w, http.StatusUpgradeRequired, Response{Success: false, Error: "HTTPSRequired", Message: "https required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. TrustedRealIP has already
// rewritten it when the request came through a trusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{IPAddress: clientIP(r), UserAgent: r.UserAgent()}
}
