package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"time"

	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/ratelimit"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const googleStateTTL = 10 * time.Minute

// GoogleURLBuilder builds the consent page URL for a state value.
type GoogleURLBuilder interface {
	AuthURL(state string) string
}

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	google  GoogleURLBuilder
	cookies CookieSettings
	mw      *Middleware
	limits  ratelimit.Policies
	logger  *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, google GoogleURLBuilder, cookies CookieSettings, mw *Middleware, limits ratelimit.Policies, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:    auth,
		google:  google,
		cookies: cookies,
		mw:      mw,
		limits:  limits,
		logger:  logger,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber"`
	Role        string `json:"role"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	StoreName   string `json:"storeName"`
}

type loginRequest struct {
	Email      string `json:"email"`
	Username   string `json:"username"`
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

type phoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTPCode     string `json:"otpCode"`
	NewPassword string `json:"newPassword"`
}

type googleRequest struct {
	IDToken string `json:"id_token"`
	Code    string `json:"code"`
	State   string `json:"state"`
}

type sessionResponse struct {
	User      models.UserSummary `json:"user"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expiresAt"`
	NewUser   bool               `json:"newUser,omitempty"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.With(h.mw.RateLimit(h.limits.Registration)).Post("/register", h.Register)
		r.With(h.mw.RateLimit(h.limits.Login)).Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.mw.RateLimit(h.limits.OTP))
			r.Post("/verify-otp", h.VerifyOTP)
			r.Post("/resend-otp", h.ResendOTP)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RateLimit(h.limits.PasswordReset))
			r.Post("/forget-password", h.ForgetPassword)
			r.Post("/reset-password", h.ResetPassword)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.mw.RateLimit(h.limits.Google))
			r.Post("/google", h.Google)
			r.Get("/google/url", h.GoogleURL)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.mw.RequireAuth)
			r.Get("/validate-token", h.ValidateToken)
			r.Get("/me", h.Me)
		})
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:       req.Email,
		Username:    req.Username,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
		Role:        req.Role,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		StoreName:   req.StoreName,
	}, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	data := map[string]interface{}{"user": res.User.Summary()}
	if !res.OTPExpiresAt.IsZero() {
		data["otpExpiresAt"] = res.OTPExpiresAt
	}
	respondWithJSON(w, http.StatusCreated, successResponse(data, "Registration successful, verify your phone number"))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		identifier = req.Username
	}

	session, err := h.auth.Login(r.Context(), service.LoginInput{Identifier: identifier, Password: req.Password}, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, session, "Login successful")
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, session *service.Session, message string) {
	h.cookies.set(w, session.Token)
	respondWithJSON(w, http.StatusOK, successResponse(sessionResponse{
		User:      session.User.Summary(),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		NewUser:   session.NewUser,
	}, message))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if p, ok := authz.PrincipalFrom(r.Context()); ok {
		h.auth.Logout(r.Context(), p, requestMeta(r))
	}
	h.cookies.clear(w)
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	if !h.mw.LimitTarget(w, r, h.limits.OTP, "verify-otp", util.NormalizePhone(req.PhoneNumber)) {
		return
	}
	user, err := h.auth.VerifyOTP(r.Context(), req.PhoneNumber, req.OTP, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"verified": true,
		"user":     user.Summary(),
	}, "Phone number verified"))
}

func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	if !h.mw.LimitTarget(w, r, h.limits.OTP, "resend-otp", util.NormalizePhone(req.PhoneNumber)) {
		return
	}
	expiresAt, err := h.auth.ResendOTP(r.Context(), req.PhoneNumber)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"expiresAt": expiresAt,
	}, "Verification code sent"))
}

func (h *AuthHandler) ForgetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	if !h.mw.LimitTarget(w, r, h.limits.PasswordReset, "forget-password", util.NormalizeEmail(req.Email)) {
		return
	}
	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "If the address is registered, a reset code has been sent"))
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	if !h.mw.LimitTarget(w, r, h.limits.PasswordReset, "reset-password", util.NormalizeEmail(req.Email)) {
		return
	}
	err := h.auth.ResetPassword(r.Context(), service.ResetPasswordInput{
		Email:       req.Email,
		Code:        req.OTPCode,
		NewPassword: req.NewPassword,
	}, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(nil, "Password has been reset"))
}

func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	// The code flow must echo the state issued by /google/url.
	if req.IDToken == "" && req.Code != "" {
		c, err := r.Cookie(googleStateCookie)
		if err != nil || c.Value == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(req.State)) != 1 {
			respondWithError(w, r, h.logger, &service.ValidationError{Field: "state", Reason: "does not match"})
			return
		}
		http.SetCookie(w, h.cookies.stateCookie("", -1))
	}

	session, err := h.auth.GoogleAuth(r.Context(), service.GoogleAuthInput{IDToken: req.IDToken, Code: req.Code}, requestMeta(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	h.writeSession(w, session, "Login successful")
}

func (h *AuthHandler) GoogleURL(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		respondWithError(w, r, h.logger, service.ErrProviderUnavailable)
		return
	}
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, h.cookies.stateCookie(state, int(googleStateTTL.Seconds())))
	respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"url":   h.google.AuthURL(state),
		"state": state,
	}, ""))
}

func (h *AuthHandler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.PrincipalFrom(r.Context())
	user, err := h.auth.Me(r.Context(), p.UserID)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"isValid": true,
		"user":    user.Summary(),
	}, ""))
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := authz.PrincipalFrom(r.Context())
	user, err := h.auth.Me(r.Context(), p.UserID)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	h.logger.Debug("Profile requested", util.String("user_id", user.ID))
	respondWithJSON(w, http.StatusOK, successResponse(user.Summary(), ""))
}
