package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"marketplace-auth/internal/models"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/repository"

	"go.uber.org/zap"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrOtpInvalidOrExpired = errors.New("otp is invalid or expired")
	ErrInvalidPurpose      = errors.New("unknown otp purpose")
)

const (
	codeMin = 1000
	codeMax = 9999
)

// Key identifies the user a code is bound to.
type Key struct {
	Phone string
	Email string
}

func ByPhone(phone string) Key { return Key{Phone: phone} }
func ByEmail(email string) Key { return Key{Email: email} }

type Config struct {
	PhoneTTL time.Duration
	ResetTTL time.Duration
}

// Issued is the result of Generate. Code is returned for callers that
// deliver out of band; it is never logged.
type Issued struct {
	UserID    string
	Code      string
	ExpiresAt time.Time
}

// Engine generates, stores and consumes one-time codes.
type Engine struct {
	users    repository.UserRepository
	notifier notification.Notifier
	cfg      Config
	now      func() time.Time
	random   func() (string, error)
	logger   *zap.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCodeSource replaces the random code generator.
func WithCodeSource(fn func() (string, error)) Option {
	return func(e *Engine) { e.random = fn }
}

func NewEngine(users repository.UserRepository, notifier notification.Notifier, cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		users:    users,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		random:   GenerateCode,
		logger:   logger.Named("otp"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateCode returns a uniformly distributed code in [1000, 9999].
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()+codeMin), nil
}

func (e *Engine) ttl(purpose models.OTPPurpose) time.Duration {
	if purpose == models.PurposePasswordReset {
		return e.cfg.ResetTTL
	}
	return e.cfg.PhoneTTL
}

func (e *Engine) lookup(ctx context.Context, key Key) (*models.User, error) {
	var (
		u   *models.User
		err error
	)
	switch {
	case key.Phone != "":
		u, err = e.users.GetUserByPhone(ctx, key.Phone)
	case key.Email != "":
		u, err = e.users.GetUserByEmail(ctx, key.Email)
	default:
		return nil, ErrUserNotFound
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return u, nil
}

// Generate stores a fresh code for purpose, replacing any live one, and
// hands it to the notifier. Delivery failures are logged only.
func (e *Engine) Generate(ctx context.Context, key Key, purpose models.OTPPurpose) (*Issued, error) {
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}
	u, err := e.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	code, err := e.random()
	if err != nil {
		return nil, err
	}
	expiresAt := e.now().UTC().Add(e.ttl(purpose))
	if err := e.users.SetOTP(ctx, u.ID, purpose, &models.OTPCode{Code: code, ExpiresAt: expiresAt}); err != nil {
		return nil, fmt.Errorf("failed to store otp: %w", err)
	}

	e.deliver(ctx, u, purpose, code, expiresAt)

	return &Issued{UserID: u.ID, Code: code, ExpiresAt: expiresAt}, nil
}

// Resend is Generate; there is no separate cooldown.
func (e *Engine) Resend(ctx context.Context, key Key, purpose models.OTPPurpose) (*Issued, error) {
	return e.Generate(ctx, key, purpose)
}

// Verify consumes the code if it matches and is live. Unknown users get the
// same error as a wrong code.
func (e *Engine) Verify(ctx context.Context, key Key, code string, purpose models.OTPPurpose) (*models.User, error) {
	if !purpose.Valid() {
		return nil, ErrInvalidPurpose
	}
	u, err := e.lookup(ctx, key)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrOtpInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	err = e.users.ConsumeOTP(ctx, u.ID, purpose, code, now)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, ErrOtpInvalidOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}

	u.SetOTP(purpose, nil)
	if purpose == models.PurposePhoneVerification {
		u.IsNumberVerified = true
	}
	return u, nil
}

func (e *Engine) deliver(ctx context.Context, u *models.User, purpose models.OTPPurpose, code string, expiresAt time.Time) {
	msg := notification.Message{
		Kind: notification.KindOTP,
		Data: map[string]string{
			"code":      code,
			"purpose":   string(purpose),
			"expiresAt": expiresAt.Format(time.RFC3339),
			"username":  u.Username,
		},
	}
	switch {
	case purpose == models.PurposePasswordReset:
		msg.Kind = notification.KindPasswordReset
		msg.Channel, msg.Recipient = notification.ChannelEmail, u.Email
	case u.PhoneNumber != "":
		msg.Channel, msg.Recipient = notification.ChannelSMS, u.PhoneNumber
	default:
		msg.Channel, msg.Recipient = notification.ChannelEmail, u.Email
	}

	if err := e.notifier.Send(ctx, msg); err != nil {
		e.logger.Warn("OTP delivery failed",
			zap.String("user_id", u.ID),
			zap.String("purpose", string(purpose)),
			zap.String("channel", string(msg.Channel)),
			zap.Error(err),
		)
	}
}
