package service

import (
	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/config"
	"marketplace-auth/internal/hashing"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/otp"
	"marketplace-auth/internal/repository"
	"marketplace-auth/internal/token"

	"go.uber.org/zap"
)

// Dependencies are the collaborators shared by all services.
type Dependencies struct {
	Users       repository.UserRepository
	Invitations repository.InvitationRepository
	Hasher      *hashing.Hasher
	Tokens      *token.Service
	Notifier    notification.Notifier
	Google      GoogleVerifier
	Auditor     audit.Recorder
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps   Dependencies
	cfg    *config.Config
	logger *zap.Logger

	otpEngine         *otp.Engine
	authService       *AuthService
	invitationService *InvitationService
	adminService      *AdminService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps Dependencies, cfg *config.Config, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// OTPEngine returns the one-time code engine (singleton)
func (f *ServiceFactory) OTPEngine() *otp.Engine {
	if f.otpEngine == nil {
		f.otpEngine = otp.NewEngine(
			f.deps.Users,
			f.deps.Notifier,
			otp.Config{
				PhoneTTL: f.cfg.OTP.PhoneTTL,
				ResetTTL: f.cfg.OTP.ResetTTL,
			},
			f.logger,
		)
	}
	return f.otpEngine
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	if f.authService == nil {
		f.authService = NewAuthService(
			f.deps.Users,
			f.deps.Hasher,
			f.deps.Tokens,
			f.OTPEngine(),
			f.deps.Notifier,
			f.deps.Google,
			f.deps.Auditor,
			f.logger,
		)
	}
	return f.authService
}

// InvitationService returns the invitation service instance (singleton)
func (f *ServiceFactory) InvitationService() *InvitationService {
	if f.invitationService == nil {
		f.invitationService = NewInvitationService(
			f.deps.Invitations,
			f.deps.Users,
			f.deps.Hasher,
			f.deps.Notifier,
			f.deps.Auditor,
			InvitationConfig{
				TTL:       f.cfg.Invitation.TTL,
				AcceptURL: f.cfg.Invitation.AcceptURL,
			},
			f.logger,
		)
	}
	return f.invitationService
}

// AdminService returns the admin service instance (singleton)
func (f *ServiceFactory) AdminService() *AdminService {
	if f.adminService == nil {
		f.adminService = NewAdminService(f.deps.Users, f.deps.Auditor, f.logger)
	}
	return f.adminService
}
