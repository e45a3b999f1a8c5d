package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/otp"
	"marketplace-auth/internal/ratelimit"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/token"
	"marketplace-auth/internal/util"

	"go.uber.org/zap"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// apiError is what a domain error looks like on the wire.
type apiError struct {
	Status  int
	Code    string
	Message string
}

// statusFor maps the error taxonomy onto HTTP. Anything unrecognised is a
// 500 with no detail.
func statusFor(err error) apiError {
	var (
		conflict   *service.ConflictError
		validation *service.ValidationError
	)
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return apiError{http.StatusTooManyRequests, "RateLimited", "too many requests, try again later"}
	case errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrExpiredToken),
		errors.Is(err, token.ErrMissingToken),
		errors.Is(err, authz.ErrAuthenticationRequired):
		return apiError{http.StatusUnauthorized, "AuthenticationRequired", "authentication required"}
	case errors.Is(err, service.ErrInvalidCredentials):
		return apiError{http.StatusUnauthorized, "InvalidCredentials", "invalid credentials"}
	case errors.Is(err, service.ErrAccountDeactivated):
		return apiError{http.StatusUnauthorized, "AccountDeactivated", "account is deactivated"}
	case errors.As(err, &conflict):
		return apiError{http.StatusConflict, "UserAlreadyExists", conflict.Error()}
	case errors.Is(err, service.ErrUserAlreadyExists):
		return apiError{http.StatusConflict, "UserAlreadyExists", "user already exists"}
	case errors.Is(err, otp.ErrOtpInvalidOrExpired):
		return apiError{http.StatusBadRequest, "OtpInvalidOrExpired", "otp is invalid or expired"}
	case errors.As(err, &validation):
		return apiError{http.StatusBadRequest, "InvalidInput", validation.Error()}
	case errors.Is(err, service.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "InvalidInput", "invalid input"}
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, otp.ErrUserNotFound):
		return apiError{http.StatusNotFound, "UserNotFound", "user not found"}
	case errors.Is(err, service.ErrInvitationNotFound):
		return apiError{http.StatusNotFound, "InvitationNotFound", "invitation not found"}
	case errors.Is(err, service.ErrInvitationExpired):
		return apiError{http.StatusGone, "InvitationExpired", "invitation has expired"}
	case errors.Is(err, service.ErrInvitationAlreadyPending):
		return apiError{http.StatusConflict, "InvitationAlreadyPending", "a pending invitation already exists for this email"}
	case errors.Is(err, authz.ErrAccessDeniedRole):
		return apiError{http.StatusForbidden, "AccessDeniedRole", "access denied for role"}
	case errors.Is(err, authz.ErrAccessDeniedAdmin):
		return apiError{http.StatusForbidden, "AccessDeniedAdmin", "admin access required"}
	case errors.Is(err, authz.ErrPermissionDenied):
		return apiError{http.StatusForbidden, "PermissionDenied", "permission denied"}
	case errors.Is(err, service.ErrProviderUnavailable):
		return apiError{http.StatusServiceUnavailable, "ProviderUnavailable", "identity provider unavailable, try again"}
	default:
		return apiError{http.StatusInternalServerError, "InternalError", "internal error"}
	}
}

func respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		util.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err and writes the error envelope. Server errors are
// logged with their cause; the cause never reaches the client.
func respondWithError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	e := statusFor(err)
	if e.Status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			util.String("path", r.URL.Path),
			util.Int("status_code", e.Status),
			util.ErrorField(err),
		)
	} else {
		logger.Debug("Request rejected",
			util.String("path", r.URL.Path),
			util.Int("status_code", e.Status),
			util.String("code", e.Code),
		)
	}
	respondWithJSON(w, e.Status, Response{Success: false, Error: e.Code, Message: e.Message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &service.ValidationError{Field: "body", Reason: "is not valid JSON"}
	}
	return nil
}
