package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/hashing"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/repository"
)

type InvitationConfig struct {
	TTL       time.Duration
	AcceptURL string
}

type AcceptInvitationInput struct {
	Token       string
	Username    string
	Password    string
	PhoneNumber string
	Department  string
}

// InvitationService drives the admin invitation lifecycle:
// pending -> accepted | expired | cancelled.
type InvitationService struct {
	invitations repository.InvitationRepository
	users       repository.UserRepository
	hasher      *hashing.Hasher
	notifier    notification.Notifier
	auditor     audit.Recorder
	cfg         InvitationConfig
	logger      *zap.Logger
	now         func() time.Time
}

type InvitationOption func(*InvitationService)

func WithInvitationClock(now func() time.Time) InvitationOption {
	return func(s *InvitationService) { s.now = now }
}

func NewInvitationService(
	invitations repository.InvitationRepository,
	users repository.UserRepository,
	hasher *hashing.Hasher,
	notifier notification.Notifier,
	auditor audit.Recorder,
	cfg InvitationConfig,
	logger *zap.Logger,
	opts ...InvitationOption,
) *InvitationService {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	s := &InvitationService{
		invitations: invitations,
		users:       users,
		hasher:      hasher,
		notifier:    notifier,
		auditor:     auditor,
		cfg:         cfg,
		logger:      logger.Named("invitations"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create invites email to become an admin of type adminType.
func (s *InvitationService) Create(ctx context.Context, inviter *authz.Principal, email string, adminType models.AdminType, meta RequestMeta) (*models.AdminInvitation, error) {
	if err := authz.RequireAuthenticated(inviter); err != nil {
		return nil, err
	}
	normalized, err := validateEmail(email)
	if err != nil {
		return nil, err
	}
	if !adminType.Valid() {
		return nil, invalid("adminType", "is not an assignable admin type")
	}

	if _, err := s.users.GetUserByEmail(ctx, normalized); err == nil {
		return nil, &ConflictError{Field: "email"}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	existing, err := s.invitations.GetPendingInvitationByEmail(ctx, normalized)
	switch {
	case err == nil:
		if !s.expireIfDue(ctx, existing) {
			return nil, ErrInvitationAlreadyPending
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to check pending invitations: %w", err)
	}

	tok, err := randomToken(32)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	inv := &models.AdminInvitation{
		ID:        uuid.NewString(),
		Email:     normalized,
		AdminType: adminType,
		Token:     tok,
		Status:    models.InvitationPending,
		InvitedBy: inviter.UserID,
		ExpiresAt: now.Add(s.cfg.TTL),
		CreatedAt: now,
	}
	if err := s.invitations.CreateInvitation(ctx, inv); err != nil {
		var conflict *repository.ConflictError
		if errors.As(err, &conflict) && conflict.Field == "email" {
			return nil, ErrInvitationAlreadyPending
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	s.logger.Info("Admin invitation created",
		zap.String("invitation_id", inv.ID),
		zap.String("admin_type", adminType.String()),
		zap.String("invited_by", inviter.UserID),
	)

	if s.notifier != nil {
		msg := notification.Message{
			Channel:   notification.ChannelEmail,
			Recipient: inv.Email,
			Kind:      notification.KindAdminInvitation,
			Data: map[string]string{
				"adminType": adminType.String(),
				"acceptUrl": s.acceptLink(inv.Token),
				"expiresAt": inv.ExpiresAt.Format(time.RFC3339),
			},
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("Invitation e-mail not queued", zap.String("invitation_id", inv.ID), zap.Error(err))
		}
	}
	s.record(models.EventInvitationCreated, inviter.UserID, inv.Email, meta, true, adminType.String())

	return inv, nil
}

func (s *InvitationService) acceptLink(tok string) string {
	if s.cfg.AcceptURL == "" {
		return ""
	}
	u, err := url.Parse(s.cfg.AcceptURL)
	if err != nil {
		return s.cfg.AcceptURL
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String()
}

// List returns invitations newest first, marking overdue pending ones expired.
func (s *InvitationService) List(ctx context.Context, status models.InvitationStatus) ([]*models.AdminInvitation, error) {
	switch status {
	case "", models.InvitationPending, models.InvitationAccepted, models.InvitationExpired, models.InvitationCancelled:
	default:
		return nil, invalid("status", "is not a known invitation status")
	}

	list, err := s.invitations.ListInvitations(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	out := list[:0]
	for _, inv := range list {
		if s.expireIfDue(ctx, inv) && status == models.InvitationPending {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

// Cancel withdraws a pending invitation.
func (s *InvitationService) Cancel(ctx context.Context, actor *authz.Principal, id string, meta RequestMeta) error {
	inv, err := s.invitations.GetInvitationByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrInvitationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load invitation: %w", err)
	}
	if err := s.checkPending(ctx, inv); err != nil {
		return err
	}

	err = s.invitations.TransitionInvitation(ctx, inv.ID, models.InvitationPending, models.InvitationCancelled, s.now().UTC())
	if errors.Is(err, repository.ErrConditionFailed) || errors.Is(err, repository.ErrNotFound) {
		return ErrInvitationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}

	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	s.record(models.EventInvitationCancelled, actorID, inv.Email, meta, true, "")
	return nil
}

// Validate returns the pending invitation for token. An overdue invitation
// is marked expired on the spot.
func (s *InvitationService) Validate(ctx context.Context, tok string) (*models.AdminInvitation, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, ErrInvitationNotFound
	}
	inv, err := s.invitations.GetInvitationByToken(ctx, tok)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}
	if err := s.checkPending(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *InvitationService) checkPending(ctx context.Context, inv *models.AdminInvitation) error {
	switch inv.Status {
	case models.InvitationPending:
	case models.InvitationExpired:
		return ErrInvitationExpired
	default:
		return ErrInvitationNotFound
	}
	if s.expireIfDue(ctx, inv) {
		return ErrInvitationExpired
	}
	return nil
}

// expireIfDue transitions an overdue pending invitation to expired and
// reports whether it is (now) expired.
func (s *InvitationService) expireIfDue(ctx context.Context, inv *models.AdminInvitation) bool {
	now := s.now().UTC()
	if !inv.IsExpired(now) {
		return inv.Status == models.InvitationExpired
	}
	err := s.invitations.TransitionInvitation(ctx, inv.ID, models.InvitationPending, models.InvitationExpired, now)
	if err != nil && !errors.Is(err, repository.ErrConditionFailed) {
		s.logger.Warn("Failed to mark invitation expired", zap.String("invitation_id", inv.ID), zap.Error(err))
	}
	inv.Status = models.InvitationExpired
	return true
}

// Accept creates the admin account for a valid invitation. If the
// invitation is consumed concurrently the new account is deactivated.
func (s *InvitationService) Accept(ctx context.Context, in AcceptInvitationInput, meta RequestMeta) (*models.User, error) {
	inv, err := s.Validate(ctx, in.Token)
	if err != nil {
		return nil, err
	}

	username := strings.TrimSpace(in.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	var phone string
	if in.PhoneNumber != "" {
		if phone, err = validatePhone(in.PhoneNumber); err != nil {
			return nil, err
		}
	}
	department, err := cleanName("department", in.Department)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.NewString(),
		Email:        inv.Email,
		Username:     username,
		PhoneNumber:  phone,
		PasswordHash: hash,
		Profile:      models.NewAdminProfile(inv.AdminType, department),
		IsActive:     true,
		AuthMethod:   models.AuthMethodEmail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, mapCreateError(err)
	}

	err = s.invitations.TransitionInvitation(ctx, inv.ID, models.InvitationPending, models.InvitationAccepted, now)
	if err != nil {
		if derr := s.users.UpdateUserStatus(ctx, user.ID, false); derr != nil {
			s.logger.Error("Failed to deactivate orphaned admin account",
				zap.String("user_id", user.ID), zap.Error(derr))
		}
		if errors.Is(err, repository.ErrConditionFailed) || errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	s.logger.Info("Admin invitation accepted",
		zap.String("invitation_id", inv.ID),
		zap.String("user_id", user.ID),
		zap.String("admin_type", inv.AdminType.String()),
	)
	s.record(models.EventInvitationAccepted, user.ID, user.Email, meta, true, inv.AdminType.String())
	return user, nil
}

func (s *InvitationService) record(typ models.SecurityEventType, userID, email string, meta RequestMeta, success bool, reason string) {
	s.auditor.Record(models.SecurityEvent{
		Type:      typ,
		UserID:    userID,
		Email:     email,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   success,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
}
