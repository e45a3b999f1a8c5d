package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketplace-auth/internal/models"
	"marketplace-auth/internal/repository"
)

// UserRepository keeps users in process memory. Used in development and tests.
type UserRepository struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	byEmail    map[string]string
	byUsername map[string]string
	byPhone    map[string]string
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:      make(map[string]*models.User),
		byEmail:    make(map[string]string),
		byUsername: make(map[string]string),
		byPhone:    make(map[string]string),
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return &repository.ConflictError{Field: "id"}
	}
	if _, ok := r.byEmail[fold(user.Email)]; ok {
		return &repository.ConflictError{Field: "email"}
	}
	if _, ok := r.byUsername[fold(user.Username)]; ok {
		return &repository.ConflictError{Field: "username"}
	}
	if user.PhoneNumber != "" {
		if _, ok := r.byPhone[user.PhoneNumber]; ok {
			return &repository.ConflictError{Field: "phone"}
		}
		r.byPhone[user.PhoneNumber] = user.ID
	}

	r.users[user.ID] = user.Clone()
	r.byEmail[fold(user.Email)] = user.ID
	r.byUsername[fold(user.Username)] = user.ID
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *UserRepository) getBy(index map[string]string, key string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.users[id].Clone(), nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getBy(r.byEmail, fold(email))
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getBy(r.byUsername, fold(username))
}

func (r *UserRepository) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.getBy(r.byPhone, phone)
}

func (r *UserRepository) update(userID string, fn func(u *models.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	next := u.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	r.users[userID] = next
	return nil
}

func (r *UserRepository) SetOTP(ctx context.Context, userID string, purpose models.OTPPurpose, code *models.OTPCode) error {
	return r.update(userID, func(u *models.User) error {
		u.SetOTP(purpose, code)
		return nil
	})
}

func (r *UserRepository) ConsumeOTP(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time) error {
	return r.update(userID, func(u *models.User) error {
		if !u.OTP(purpose).Matches(code, now) {
			return repository.ErrConditionFailed
		}
		u.SetOTP(purpose, nil)
		if purpose == models.PurposePhoneVerification {
			u.IsNumberVerified = true
		}
		return nil
	})
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.update(userID, func(u *models.User) error {
		u.PasswordHash = passwordHash
		return nil
	})
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at *time.Time) error {
	return r.update(userID, func(u *models.User) error {
		if at == nil {
			u.LastLoginAt = nil
			return nil
		}
		t := *at
		u.LastLoginAt = &t
		return nil
	})
}

func (r *UserRepository) UpdateUserStatus(ctx context.Context, userID string, isActive bool) error {
	return r.update(userID, func(u *models.User) error {
		u.IsActive = isActive
		return nil
	})
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, profile models.Profile) error {
	return r.update(userID, func(u *models.User) error {
		u.Profile = profile
		return u.Validate()
	})
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return nil
}

// Len returns the number of stored users.
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
