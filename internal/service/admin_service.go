package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/repository"
)

// AdminService holds account management operations reserved for admins.
type AdminService struct {
	users   repository.UserRepository
	auditor audit.Recorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewAdminService(users repository.UserRepository, auditor audit.Recorder, logger *zap.Logger) *AdminService {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &AdminService{
		users:   users,
		auditor: auditor,
		logger:  logger.Named("admin"),
		now:     time.Now,
	}
}

// managePermissions lists the permissions that allow acting on an account
// of the given role. Holding any one is enough.
func managePermissions(role models.Role) models.PermissionSet {
	switch role {
	case models.RoleAdmin:
		return models.NewPermissionSet(models.PermManageAdmins)
	case models.RoleVendor:
		return models.NewPermissionSet(models.PermManageVendors, models.PermManageUsers)
	default:
		return models.NewPermissionSet(models.PermManageCustomers, models.PermManageUsers)
	}
}

func (s *AdminService) loadTarget(ctx context.Context, actor *authz.Principal, userID string) (*models.User, error) {
	if err := authz.RequireAuthenticated(actor); err != nil {
		return nil, err
	}
	if userID == actor.UserID {
		return nil, invalid("userId", "cannot target your own account")
	}
	target, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := authz.CheckPermission(actor, managePermissions(target.Role())); err != nil {
		return nil, err
	}
	return target, nil
}

// SetUserStatus activates or deactivates an account.
func (s *AdminService) SetUserStatus(ctx context.Context, actor *authz.Principal, userID string, isActive bool, meta RequestMeta) (*models.User, error) {
	target, err := s.loadTarget(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	if target.IsActive != isActive {
		if err := s.users.UpdateUserStatus(ctx, target.ID, isActive); err != nil {
			return nil, fmt.Errorf("failed to update status: %w", err)
		}
		target.IsActive = isActive
	}

	s.logger.Info("User status changed",
		zap.String("user_id", target.ID),
		zap.Bool("is_active", isActive),
		zap.String("changed_by", actor.UserID),
	)
	s.auditor.Record(models.SecurityEvent{
		Type:      models.EventUserStatusChanged,
		UserID:    target.ID,
		Email:     target.Email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
		Reason:    "is_active=" + strconv.FormatBool(isActive) + " by " + actor.UserID,
		Timestamp: s.now().UTC(),
	})
	return target, nil
}

// SetAdminType moves an admin to another type, replacing the stored
// permission bundle with the one of the new type.
func (s *AdminService) SetAdminType(ctx context.Context, actor *authz.Principal, userID string, adminType models.AdminType) (*models.User, error) {
	if !adminType.Valid() {
		return nil, invalid("adminType", "is not an assignable admin type")
	}
	target, err := s.loadTarget(ctx, actor, userID)
	if err != nil {
		return nil, err
	}
	current, ok := target.Admin()
	if !ok {
		return nil, invalid("userId", "is not an administrator")
	}

	profile := models.NewAdminProfile(adminType, current.Department)
	if err := s.users.UpdateProfile(ctx, target.ID, profile); err != nil {
		return nil, fmt.Errorf("failed to update admin type: %w", err)
	}
	target.Profile = profile

	s.logger.Info("Admin type changed",
		zap.String("user_id", target.ID),
		zap.String("from", current.AdminType.String()),
		zap.String("to", adminType.String()),
		zap.String("changed_by", actor.UserID),
	)
	return target, nil
}
