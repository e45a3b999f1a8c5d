package handler

import (
	"context"
	"net/http"
	"net/netip"
	"sort"
	"time"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/ratelimit"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// HealthFunc reports per-dependency failures; an empty map is healthy.
type HealthFunc func(ctx context.Context) map[string]error

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Services       *service.ServiceFactory
	Limiter        ratelimit.Limiter
	Policies       ratelimit.Policies
	Auditor        audit.Recorder
	Google         GoogleURLBuilder
	Cookies        CookieSettings
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
	RequireTLS     bool
	RequestTimeout time.Duration
	Health         HealthFunc
	Logger         *zap.Logger
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	router := chi.NewRouter()

	if cfg.RequireTLS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(TrustedRealIP(cfg.TrustedProxies))
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(timeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	mw := NewMiddleware(cfg.Services.AuthService(), cfg.Limiter, cfg.Auditor, cfg.Cookies.Name, logger)

	router.Get("/health", healthHandler(cfg.Health))

	router.Group(func(r chi.Router) {
		r.Use(mw.Authenticate)
		r.Use(mw.RateLimit(cfg.Policies.General))

		NewAuthHandler(cfg.Services.AuthService(), cfg.Google, cfg.Cookies, mw, cfg.Policies, logger).RegisterRoutes(r)
		NewAdminHandler(cfg.Services.InvitationService(), cfg.Services.AdminService(), mw, logger).RegisterRoutes(r)
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, Response{Success: false, Error: "NotFound", Message: "endpoint not found"})
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Error: "MethodNotAllowed", Message: "method not allowed"})
	})

	return router
}

func healthHandler(check HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := map[string]string{}
		status, code := "healthy", http.StatusOK
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			failures := check(ctx)
			names := make([]string, 0, len(failures))
			for name := range failures {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				deps[name] = failures[name].Error()
			}
			if len(failures) > 0 {
				status, code = "degraded", http.StatusServiceUnavailable
				util.Warn("Health check failed", util.Any("dependencies", deps))
			}
		}
		respondWithJSON(w, code, map[string]interface{}{
			"status":       status,
			"service":      "marketplace-auth",
			"dependencies": deps,
		})
	}
}
