package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"marketplace-auth/internal/config"
	"marketplace-auth/internal/util"
)

// Statements holds the CQL used by the repository. gocql prepares and
// caches each one on first use.
var Statements = struct {
	InsertUser      string
	GetUserByID     string
	InsertLookup    string
	GetLookup       string
	DeleteLookup    string
	UpdatePassword  string
	UpdateLastLogin string
	UpdateStatus    string
	UpdateProfile   string
	SetPhoneOTP     string
	SetResetOTP     string
	ConsumePhoneOTP string
	ConsumeResetOTP string
}{
	InsertUser: `
        INSERT INTO users (
            user_bucket, user_id, email, username, phone_hash, phone_encrypted,
            phone_dek, phone_key_id, password_hash, role, profile, permissions,
            is_active, is_number_verified, auth_method, last_login, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,

	GetUserByID: `
        SELECT user_id, email, username, phone_encrypted, phone_dek, phone_key_id,
            password_hash, role, profile, permissions, is_active, is_number_verified,
            auth_method, phone_otp_code, phone_otp_expires, reset_otp_code,
            reset_otp_expires, last_login, created_at, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`,

	InsertLookup: `
        INSERT INTO user_lookup (kind, value, user_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,

	GetLookup: `SELECT user_id FROM user_lookup WHERE kind = ? AND value = ?`,

	DeleteLookup: `DELETE FROM user_lookup WHERE kind = ? AND value = ?`,

	UpdatePassword: `
        UPDATE users SET password_hash = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

	UpdateLastLogin: `
        UPDATE users SET last_login = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

	UpdateStatus: `
        UPDATE users SET is_active = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

	UpdateProfile: `
        UPDATE users SET role = ?, profile = ?, permissions = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

	SetPhoneOTP: `
        UPDATE users SET phone_otp_code = ?, phone_otp_expires = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

	SetResetOTP: `
        UPDATE users SET reset_otp_code = ?, reset_otp_expires = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

	ConsumePhoneOTP: `
        UPDATE users SET phone_otp_code = null, phone_otp_expires = null,
            is_number_verified = true, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?
        IF phone_otp_code = ? AND phone_otp_expires >= ?`,

	ConsumeResetOTP: `
        UPDATE users SET reset_otp_code = null, reset_otp_expires = null, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?
        IF reset_otp_code = ? AND reset_otp_expires >= ?`,
}

// Schema creates the tables the repository needs inside an existing keyspace.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        user_bucket int,
        user_id uuid,
        email text,
        username text,
        phone_hash text,
        phone_encrypted text,
        phone_dek text,
        phone_key_id text,
        password_hash text,
        role text,
        profile text,
        permissions set<text>,
        is_active boolean,
        is_number_verified boolean,
        auth_method text,
        phone_otp_code text,
        phone_otp_expires timestamp,
        reset_otp_code text,
        reset_otp_expires timestamp,
        last_login timestamp,
        created_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((user_bucket), user_id)
    )`,
	`CREATE TABLE IF NOT EXISTS user_lookup (
        kind text,
        value text,
        user_id uuid,
        created_at timestamp,
        PRIMARY KEY ((kind, value))
    )`,
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: !cfg.IsDevelopment(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}, nil
}

// EnsureSchema applies Schema. Safe to run on every start.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.String("keyspace", s.config.Keyspace))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
