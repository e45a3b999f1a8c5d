package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-auth/internal/bucketing"
	"marketplace-auth/internal/encryption"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/repository"
	"marketplace-auth/internal/util"
)

const (
	lookupEmail    = "email"
	lookupUsername = "username"
	lookupPhone    = "phone"
)

// FieldCipher encrypts personal fields at rest and produces lookup digests.
type FieldCipher interface {
	EncryptField(ctx context.Context, plaintext string) (*encryption.EncryptedData, error)
	DecryptField(ctx context.Context, data *encryption.EncryptedData) (string, error)
	HashForLookup(value string) string
}

// UserRepository stores users bucketed by id. Email, username and phone
// uniqueness is enforced with lightweight transactions on user_lookup.
type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.BucketingManager
	cipher  FieldCipher
}

var _ repository.UserRepository = (*UserRepository)(nil)

func NewUserRepository(client *ScyllaClient, buckets *bucketing.BucketingManager, cipher FieldCipher) *UserRepository {
	return &UserRepository{
		client:  client,
		buckets: buckets,
		cipher:  cipher,
	}
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

type lookupEntry struct {
	kind  string
	value string
}

func (r *UserRepository) lookups(user *models.User) []lookupEntry {
	entries := []lookupEntry{
		{lookupEmail, fold(user.Email)},
		{lookupUsername, fold(user.Username)},
	}
	if user.PhoneNumber != "" {
		entries = append(entries, lookupEntry{lookupPhone, r.cipher.HashForLookup(user.PhoneNumber)})
	}
	return entries
}

func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	id, err := gocql.ParseUUID(user.ID)
	if err != nil {
		return fmt.Errorf("%w: id is not a uuid", models.ErrInvalidUser)
	}

	row, err := r.encodeUser(ctx, user)
	if err != nil {
		return err
	}

	var claimed []lookupEntry
	release := func() {
		for _, e := range claimed {
			if err := r.client.Query(ctx, Statements.DeleteLookup, e.kind, e.value).Exec(); err != nil {
				util.Error("failed to release user lookup",
					zap.String("kind", e.kind), zap.Error(err))
			}
		}
	}

	now := time.Now().UTC()
	for _, e := range r.lookups(user) {
		applied, err := r.client.Query(ctx, Statements.InsertLookup, e.kind, e.value, id, now).
			MapScanCAS(map[string]interface{}{})
		if err != nil {
			release()
			return fmt.Errorf("claim %s: %w", e.kind, err)
		}
		if !applied {
			release()
			return &repository.ConflictError{Field: e.kind}
		}
		claimed = append(claimed, e)
	}

	applied, err := r.client.Query(ctx, Statements.InsertUser,
		r.bucket(user.ID), id, user.Email, user.Username, row.phoneHash, row.phoneEncrypted,
		row.phoneDEK, row.phoneKeyID, user.PasswordHash, string(row.role), row.profile, row.permissions,
		user.IsActive, user.IsNumberVerified, string(user.AuthMethod), nullableTime(user.LastLoginAt),
		user.CreatedAt, user.UpdatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		release()
		util.Error("Failed to create user", zap.String("user_id", user.ID), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !applied {
		release()
		return &repository.ConflictError{Field: "id"}
	}

	util.Info("User created", zap.String("user_id", user.ID), zap.String("role", string(row.role)))
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	id, err := gocql.ParseUUID(userID)
	if err != nil {
		return nil, repository.ErrNotFound
	}

	var (
		row         userRow
		rowID       gocql.UUID
		phoneOTP    string
		phoneExp    time.Time
		resetOTP    string
		resetExp    time.Time
		lastLogin   time.Time
		role        string
		authMethod  string
		permissions []string
	)
	err = r.client.Query(ctx, Statements.GetUserByID, r.bucket(userID), id).Scan(
		&rowID, &row.email, &row.username, &row.phoneEncrypted, &row.phoneDEK, &row.phoneKeyID,
		&row.passwordHash, &role, &row.profile, &permissions, &row.isActive, &row.isNumberVerified,
		&authMethod, &phoneOTP, &phoneExp, &resetOTP, &resetExp, &lastLogin, &row.createdAt, &row.updatedAt,
	)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to get user by ID", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	row.role = models.Role(role)
	row.permissions = permissions

	user := &models.User{
		ID:               rowID.String(),
		Email:            row.email,
		Username:         row.username,
		PasswordHash:     row.passwordHash,
		IsActive:         row.isActive,
		IsNumberVerified: row.isNumberVerified,
		AuthMethod:       models.AuthMethod(authMethod),
		PhoneOTP:         otpCode(phoneOTP, phoneExp),
		ResetOTP:         otpCode(resetOTP, resetExp),
		CreatedAt:        row.createdAt,
		UpdatedAt:        row.updatedAt,
	}
	if !lastLogin.IsZero() {
		user.LastLoginAt = &lastLogin
	}

	user.Profile, err = decodeProfile(row.role, row.profile, row.permissions)
	if err != nil {
		return nil, err
	}

	if row.phoneEncrypted != "" {
		user.PhoneNumber, err = r.cipher.DecryptField(ctx, &encryption.EncryptedData{
			EncryptedValue: row.phoneEncrypted,
			EncryptedDEK:   row.phoneDEK,
			KeyID:          row.phoneKeyID,
		})
		if err != nil {
			return nil, fmt.Errorf("decrypt phone for %s: %w", userID, err)
		}
	}

	return user, nil
}

func (r *UserRepository) getByLookup(ctx context.Context, kind, value string) (*models.User, error) {
	var id gocql.UUID
	err := r.client.Query(ctx, Statements.GetLookup, kind, value).Scan(&id)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", kind, err)
	}
	return r.GetUserByID(ctx, id.String())
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getByLookup(ctx, lookupEmail, fold(email))
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getByLookup(ctx, lookupUsername, fold(username))
}

func (r *UserRepository) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.getByLookup(ctx, lookupPhone, r.cipher.HashForLookup(phone))
}

func (r *UserRepository) SetOTP(ctx context.Context, userID string, purpose models.OTPPurpose, code *models.OTPCode) error {
	stmt := Statements.SetPhoneOTP
	if purpose == models.PurposePasswordReset {
		stmt = Statements.SetResetOTP
	} else if purpose != models.PurposePhoneVerification {
		return fmt.Errorf("unknown otp purpose %q", purpose)
	}

	var value, expires interface{}
	if code != nil {
		value, expires = code.Code, code.ExpiresAt
	}
	return r.updateIfExists(ctx, userID, stmt, value, expires, time.Now().UTC())
}

func (r *UserRepository) ConsumeOTP(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time) error {
	stmt := Statements.ConsumePhoneOTP
	if purpose == models.PurposePasswordReset {
		stmt = Statements.ConsumeResetOTP
	} else if purpose != models.PurposePhoneVerification {
		return fmt.Errorf("unknown otp purpose %q", purpose)
	}
	if code == "" {
		return repository.ErrConditionFailed
	}
	id, err := gocql.ParseUUID(userID)
	if err != nil {
		return repository.ErrConditionFailed
	}

	applied, err := r.client.Query(ctx, stmt, time.Now().UTC(), r.bucket(userID), id, code, now).
		MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
	}
	if !applied {
		return repository.ErrConditionFailed
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	return r.updateIfExists(ctx, userID, Statements.UpdatePassword, passwordHash, time.Now().UTC())
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at *time.Time) error {
	return r.updateIfExists(ctx, userID, Statements.UpdateLastLogin, nullableTime(at), time.Now().UTC())
}

func (r *UserRepository) UpdateUserStatus(ctx context.Context, userID string, isActive bool) error {
	return r.updateIfExists(ctx, userID, Statements.UpdateStatus, isActive, time.Now().UTC())
}

func (r *UserRepository) UpdateProfile(ctx context.Context, userID string, profile models.Profile) error {
	role, body, perms, err := encodeProfile(profile)
	if err != nil {
		return err
	}
	return r.updateIfExists(ctx, userID, Statements.UpdateProfile, string(role), body, perms, time.Now().UTC())
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// updateIfExists runs an "... WHERE user_bucket = ? AND user_id = ? IF EXISTS"
// statement with values bound before the key columns.
func (r *UserRepository) updateIfExists(ctx context.Context, userID, stmt string, values ...interface{}) error {
	id, err := gocql.ParseUUID(userID)
	if err != nil {
		return repository.ErrNotFound
	}
	args := append(values, r.bucket(userID), id)
	applied, err := r.client.Query(ctx, stmt, args...).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("user update failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("update user: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) bucket(userID string) int {
	id, err := uuid.Parse(userID)
	if err != nil {
		return r.buckets.GetKeyBucket(userID)
	}
	return r.buckets.GetUserBucket(id)
}

type userRow struct {
	email            string
	username         string
	phoneHash        string
	phoneEncrypted   string
	phoneDEK         string
	phoneKeyID       string
	passwordHash     string
	role             models.Role
	profile          string
	permissions      []string
	isActive         bool
	isNumberVerified bool
	createdAt        time.Time
	updatedAt        time.Time
}

func (r *UserRepository) encodeUser(ctx context.Context, user *models.User) (*userRow, error) {
	role, body, perms, err := encodeProfile(user.Profile)
	if err != nil {
		return nil, err
	}
	row := &userRow{role: role, profile: body, permissions: perms}

	if user.PhoneNumber != "" {
		enc, err := r.cipher.EncryptField(ctx, user.PhoneNumber)
		if err != nil {
			return nil, fmt.Errorf("encrypt phone: %w", err)
		}
		row.phoneHash = r.cipher.HashForLookup(user.PhoneNumber)
		row.phoneEncrypted = enc.EncryptedValue
		row.phoneDEK = enc.EncryptedDEK
		row.phoneKeyID = enc.KeyID
	}
	return row, nil
}

// encodeProfile splits a profile into its role, JSON body and, for
// admins, the stored permission tags.
func encodeProfile(p models.Profile) (models.Role, string, []string, error) {
	if p == nil {
		return models.RoleCustomer, "", nil, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode profile: %w", err)
	}
	var perms []string
	switch admin := p.(type) {
	case models.AdminProfile:
		perms = admin.Permissions.Tags()
	case *models.AdminProfile:
		perms = admin.Permissions.Tags()
	}
	return p.Role(), string(body), perms, nil
}

func decodeProfile(role models.Role, body string, perms []string) (models.Profile, error) {
	if body == "" {
		body = "{}"
	}
	switch role {
	case models.RoleAdmin:
		var p models.AdminProfile
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode admin profile: %w", err)
		}
		set, err := models.ParsePermissionTags(perms)
		if err != nil {
			return nil, fmt.Errorf("decode admin permissions: %w", err)
		}
		p.Permissions = set
		return p, nil
	case models.RoleVendor:
		var p models.VendorProfile
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode vendor profile: %w", err)
		}
		return p, nil
	case models.RoleCustomer, "":
		var p models.CustomerProfile
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode customer profile: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown stored role %q", role)
}

func otpCode(code string, expires time.Time) *models.OTPCode {
	if code == "" {
		return nil
	}
	return &models.OTPCode{Code: code, ExpiresAt: expires}
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
