package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/client"
	"marketplace-auth/internal/hashing"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/otp"
	"marketplace-auth/internal/repository"
	"marketplace-auth/internal/token"
	"marketplace-auth/internal/util"
)

const maxUsernameAttempts = 6

// GoogleVerifier resolves a Google identity from an id_token or an
// authorization code.
type GoogleVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*client.GoogleIdentity, error)
	ExchangeCode(ctx context.Context, code string) (*client.GoogleIdentity, error)
}

// RequestMeta describes the caller for the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Session is a freshly issued session token and its owner.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *models.User
	// NewUser is set when Google sign-in created the account.
	NewUser bool
}

type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	PhoneNumber string
	Role        string
	FirstName   string
	LastName    string
	StoreName   string
}

type RegisterResult struct {
	User         *models.User
	OTPExpiresAt time.Time
}

type LoginInput struct {
	// Identifier is an e-mail address or a username.
	Identifier string
	Password   string
}

type ResetPasswordInput struct {
	Email       string
	Code        string
	NewPassword string
}

type GoogleAuthInput struct {
	IDToken string
	Code    string
}

// AuthService runs the authentication use cases.
type AuthService struct {
	users    repository.UserRepository
	hasher   *hashing.Hasher
	tokens   *token.Service
	otp      *otp.Engine
	notifier notification.Notifier
	google   GoogleVerifier
	auditor  audit.Recorder
	logger   *zap.Logger
	now      func() time.Time

	decoyOnce sync.Once
	decoy     string
}

type AuthOption func(*AuthService)

func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) { s.now = now }
}

func NewAuthService(
	users repository.UserRepository,
	hasher *hashing.Hasher,
	tokens *token.Service,
	otpEngine *otp.Engine,
	notifier notification.Notifier,
	google GoogleVerifier,
	auditor audit.Recorder,
	logger *zap.Logger,
	opts ...AuthOption,
) *AuthService {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	s := &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		otp:      otpEngine,
		notifier: notifier,
		google:   google,
		auditor:  auditor,
		logger:   logger.Named("auth"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an e-mail account and sends a phone verification code.
// No session is issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*RegisterResult, error) {
	user, err := s.newUserFromInput(in)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := s.checkAvailable(ctx, user); err != nil {
		return nil, err
	}

	user.PasswordHash, err = s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, mapCreateError(err)
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role())),
	)

	result := &RegisterResult{User: user}
	issued, err := s.otp.Generate(ctx, otp.ByPhone(user.PhoneNumber), models.PurposePhoneVerification)
	if err != nil {
		s.logger.Warn("Failed to issue verification code after registration",
			zap.String("user_id", user.ID), zap.Error(err))
	} else {
		result.OTPExpiresAt = issued.ExpiresAt
	}

	s.notify(ctx, notification.Message{
		Channel:   notification.ChannelEmail,
		Recipient: user.Email,
		Kind:      notification.KindWelcome,
		Data:      map[string]string{"username": user.Username},
	})
	s.record(models.EventRegister, user.ID, user.Email, meta, true, "")

	return result, nil
}

func (s *AuthService) newUserFromInput(in RegisterInput) (*models.User, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(in.Username)
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	phone, err := validatePhone(in.PhoneNumber)
	if err != nil {
		return nil, err
	}
	names := map[string]*string{
		"firstName": &in.FirstName, "lastName": &in.LastName, "storeName": &in.StoreName,
	}
	for field, value := range names {
		if *value, err = cleanName(field, *value); err != nil {
			return nil, err
		}
	}

	role := models.RoleCustomer
	if in.Role != "" {
		role, err = models.ParseRole(in.Role)
		if err != nil {
			return nil, invalid("role", "is not one of CUSTOMER, VENDOR")
		}
	}

	var profile models.Profile
	switch role {
	case models.RoleCustomer:
		profile = models.CustomerProfile{FirstName: in.FirstName, LastName: in.LastName}
	case models.RoleVendor:
		profile = models.VendorProfile{StoreName: in.StoreName}
	default:
		return nil, invalid("role", "cannot be self-assigned")
	}

	now := s.now().UTC()
	return &models.User{
		ID:          uuid.NewString(),
		Email:       email,
		Username:    username,
		PhoneNumber: phone,
		Profile:     profile,
		IsActive:    true,
		AuthMethod:  models.AuthMethodEmail,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// checkAvailable is a fast pre-check; CreateUser remains the authority.
func (s *AuthService) checkAvailable(ctx context.Context, u *models.User) error {
	checks := []struct {
		field  string
		lookup func(context.Context, string) (*models.User, error)
		value  string
	}{
		{"email", s.users.GetUserByEmail, u.Email},
		{"username", s.users.GetUserByUsername, u.Username},
		{"phone", s.users.GetUserByPhone, u.PhoneNumber},
	}
	for _, c := range checks {
		if c.value == "" {
			continue
		}
		_, err := c.lookup(ctx, c.value)
		if err == nil {
			return &ConflictError{Field: c.field}
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check %s: %w", c.field, err)
		}
	}
	return nil
}

func mapCreateError(err error) error {
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		return &ConflictError{Field: conflict.Field}
	}
	if errors.Is(err, models.ErrInvalidUser) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return fmt.Errorf("failed to create user: %w", err)
}

// Login verifies credentials and issues a session. Wrong identifier and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (*Session, error) {
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		return nil, ErrInvalidCredentials
	}

	var (
		user *models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.users.GetUserByEmail(ctx, util.NormalizeEmail(identifier))
	} else {
		user, err = s.users.GetUserByUsername(ctx, identifier)
	}
	if errors.Is(err, repository.ErrNotFound) {
		// Spend the same bcrypt time as a real comparison.
		s.hasher.Verify(in.Password, s.decoyHash())
		s.record(models.EventLoginFailure, "", identifier, meta, false, "unknown user")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !s.hasher.Verify(in.Password, user.PasswordHash) {
		s.record(models.EventLoginFailure, user.ID, user.Email, meta, false, "bad password")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		s.record(models.EventLoginFailure, user.ID, user.Email, meta, false, "deactivated")
		return nil, ErrAccountDeactivated
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		if hash, err := s.hasher.Hash(in.Password); err == nil {
			if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
				s.logger.Warn("Failed to upgrade password hash", zap.String("user_id", user.ID), zap.Error(err))
			} else {
				user.PasswordHash = hash
			}
		}
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	s.record(models.EventLoginSuccess, user.ID, user.Email, meta, true, "")
	return session, nil
}

func (s *AuthService) decoyHash() string {
	s.decoyOnce.Do(func() {
		secret, err := randomToken(18)
		if err != nil {
			secret = "decoy-password-1"
		}
		s.decoy, _ = s.hasher.Hash(secret)
	})
	return s.decoy
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User) (*Session, error) {
	signed, expiresAt, err := s.tokens.Issue(token.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, &now); err != nil {
		s.logger.Warn("Failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	return &Session{Token: signed, ExpiresAt: expiresAt, User: user}, nil
}

// Logout clears lastLoginAt. Tokens already issued stay valid until expiry.
func (s *AuthService) Logout(ctx context.Context, principal *authz.Principal, meta RequestMeta) {
	if principal == nil {
		return
	}
	if err := s.users.UpdateLastLogin(ctx, principal.UserID, nil); err != nil {
		s.logger.Warn("Failed to clear last login", zap.String("user_id", principal.UserID), zap.Error(err))
	}
	s.record(models.EventLogout, principal.UserID, principal.Email, meta, true, "")
}

// VerifyOTP consumes a phone verification code.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string, meta RequestMeta) (*models.User, error) {
	phone = util.NormalizePhone(phone)
	if phone == "" || code == "" {
		return nil, otp.ErrOtpInvalidOrExpired
	}
	user, err := s.otp.Verify(ctx, otp.ByPhone(phone), code, models.PurposePhoneVerification)
	if err != nil {
		if errors.Is(err, otp.ErrOtpInvalidOrExpired) {
			s.record(models.EventOTPFailed, "", "", meta, false, "phone verification")
		}
		return nil, err
	}
	s.record(models.EventOTPVerified, user.ID, user.Email, meta, true, "")
	return user, nil
}

// ResendOTP replaces the live phone verification code.
func (s *AuthService) ResendOTP(ctx context.Context, phone string) (time.Time, error) {
	phone = util.NormalizePhone(phone)
	issued, err := s.otp.Resend(ctx, otp.ByPhone(phone), models.PurposePhoneVerification)
	if errors.Is(err, otp.ErrUserNotFound) {
		return time.Time{}, ErrUserNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return issued.ExpiresAt, nil
}

// ForgotPassword e-mails a reset code. Unknown addresses succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	normalized, err := validateEmail(email)
	if err != nil {
		return err
	}
	_, err = s.otp.Generate(ctx, otp.ByEmail(normalized), models.PurposePasswordReset)
	if errors.Is(err, otp.ErrUserNotFound) {
		s.logger.Debug("Password reset requested for unknown address")
		return nil
	}
	return err
}

// ResetPassword consumes a reset code and replaces the password hash.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput, meta RequestMeta) error {
	email, err := validateEmail(in.Email)
	if err != nil {
		return err
	}
	if err := validatePassword(in.NewPassword); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.otp.Verify(ctx, otp.ByEmail(email), in.Code, models.PurposePasswordReset)
	if err != nil {
		if errors.Is(err, otp.ErrOtpInvalidOrExpired) {
			s.record(models.EventOTPFailed, "", email, meta, false, "password reset")
		}
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	s.record(models.EventPasswordReset, user.ID, user.Email, meta, true, "")
	return nil
}

// GoogleAuth signs in with a Google id_token or authorization code,
// creating the account on first use.
func (s *AuthService) GoogleAuth(ctx context.Context, in GoogleAuthInput, meta RequestMeta) (*Session, error) {
	if s.google == nil {
		return nil, ErrProviderUnavailable
	}

	var (
		identity *client.GoogleIdentity
		err      error
	)
	switch {
	case in.IDToken != "":
		identity, err = s.google.VerifyIDToken(ctx, in.IDToken)
	case in.Code != "":
		identity, err = s.google.ExchangeCode(ctx, in.Code)
	default:
		return nil, invalid("id_token", "is required")
	}
	if err != nil {
		if errors.Is(err, client.ErrGoogleUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		s.record(models.EventGoogleLogin, "", "", meta, false, "token rejected")
		return nil, ErrInvalidCredentials
	}
	if identity.Email == "" {
		return nil, ErrInvalidCredentials
	}
	email := util.NormalizeEmail(identity.Email)

	created := false
	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		user, created, err = s.createGoogleUser(ctx, identity, email)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		s.record(models.EventGoogleLogin, user.ID, user.Email, meta, false, "deactivated")
		return nil, ErrAccountDeactivated
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	session.NewUser = created
	s.record(models.EventGoogleLogin, user.ID, user.Email, meta, true, "")
	return session, nil
}

// createGoogleUser stores a customer with an unusable random password and a
// username derived from the e-mail local part. On a username collision a
// four digit suffix is tried. Losing an e-mail race returns the winner.
func (s *AuthService) createGoogleUser(ctx context.Context, identity *client.GoogleIdentity, email string) (*models.User, bool, error) {
	secret, err := randomToken(32)
	if err != nil {
		return nil, false, err
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hash password: %w", err)
	}

	base := util.UsernameFromEmail(email)
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		username := base
		if attempt > 0 {
			suffix, err := otp.GenerateCode()
			if err != nil {
				return nil, false, err
			}
			username = base + suffix
		}

		if _, err := s.users.GetUserByUsername(ctx, username); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("failed to check username: %w", err)
		}

		now := s.now().UTC()
		user := &models.User{
			ID:           uuid.NewString(),
			Email:        email,
			Username:     username,
			PasswordHash: hash,
			Profile: models.CustomerProfile{
				FirstName: identity.GivenName,
				LastName:  identity.FamilyName,
			},
			IsActive:   true,
			AuthMethod: models.AuthMethodGoogle,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err := s.users.CreateUser(ctx, user)
		var conflict *repository.ConflictError
		switch {
		case err == nil:
			s.logger.Info("User created from Google sign-in", zap.String("user_id", user.ID))
			s.notify(ctx, notification.Message{
				Channel:   notification.ChannelEmail,
				Recipient: user.Email,
				Kind:      notification.KindWelcome,
				Data:      map[string]string{"username": user.Username},
			})
			return user, true, nil
		case errors.As(err, &conflict) && conflict.Field == "username":
			continue
		case errors.As(err, &conflict) && conflict.Field == "email":
			existing, err := s.users.GetUserByEmail(ctx, email)
			return existing, false, err
		default:
			return nil, false, mapCreateError(err)
		}
	}
	return nil, false, fmt.Errorf("could not allocate a username after %d attempts", maxUsernameAttempts)
}

// Authenticate resolves the live user behind a session token.
func (s *AuthService) Authenticate(ctx context.Context, tokenStr string) (*models.User, error) {
	claims, err := s.tokens.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, authz.ErrAuthenticationRequired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrAccountDeactivated
	}
	return user, nil
}

// Me returns the stored user for id.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *AuthService) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("Notification not queued",
			zap.String("kind", string(msg.Kind)), zap.Error(err))
	}
}

func (s *AuthService) record(typ models.SecurityEventType, userID, email string, meta RequestMeta, success bool, reason string) {
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

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
