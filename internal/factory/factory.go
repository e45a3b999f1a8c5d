package factory

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"marketplace-auth/internal/audit"
	"marketplace-auth/internal/bucketing"
	"marketplace-auth/internal/client"
	"marketplace-auth/internal/config"
	"marketplace-auth/internal/encryption"
	"marketplace-auth/internal/handler"
	"marketplace-auth/internal/hashing"
	"marketplace-auth/internal/notification"
	"marketplace-auth/internal/ratelimit"
	"marketplace-auth/internal/repository"
	"marketplace-auth/internal/repository/memory"
	"marketplace-auth/internal/repository/postgres"
	redisrepo "marketplace-auth/internal/repository/redis"
	"marketplace-auth/internal/repository/scylla"
	"marketplace-auth/internal/service"
	"marketplace-auth/internal/tls"
	"marketplace-auth/internal/token"
	"marketplace-auth/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients, created only for the backends the config selects
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	postgresClient   *client.PostgresClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	googleClient     *client.GoogleClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	tokens            *token.Service

	// Repositories
	userRepository       repository.UserRepository
	invitationRepository repository.InvitationRepository

	limiter    ratelimit.Limiter
	dispatcher *notification.Dispatcher
	auditor    *audit.Auditor

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"clients", factory.initializeClients},
		{"managers", factory.initializeManagers},
		{"repositories", factory.initializeRepositories},
		{"pipelines", factory.initializePipelines},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			factory.Close()
			return nil, fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}

	factory.serviceFactory = service.NewServiceFactory(service.Dependencies{
		Users:       factory.userRepository,
		Invitations: factory.invitationRepository,
		Hasher:      factory.hasher,
		Tokens:      factory.tokens,
		Notifier:    factory.dispatcher,
		Google:      factory.googleVerifier(),
		Auditor:     factory.Auditor(),
	}, cfg, util.Get())

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.String("user_storage", cfg.Storage.Users),
		util.String("invitation_storage", cfg.Storage.Invitations),
		util.String("rate_limit_backend", cfg.RateLimit.Backend),
		util.String("notification_backend", cfg.Notification.Backend),
		util.Bool("audit_enabled", cfg.Audit.Enabled),
	)

	return factory, nil
}

// initializeClients connects to the backends the config selects. Outside
// production an unreachable optional backend only logs a warning.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config
	logger := util.Get()

	if cfg.RateLimit.Backend == "redis" {
		c, err := client.NewRedisClient(cfg, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = c
		util.Info("Redis client initialized and healthy")
	}

	if cfg.Storage.Users == "scylla" {
		c, err := scylla.NewScyllaClient(cfg, logger)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c
		util.Info("ScyllaDB client initialized")
	}

	if cfg.Storage.Invitations == "postgres" {
		c, err := client.NewPostgresClient(cfg, logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		f.postgresClient = c
		util.Info("Postgres client initialized")
	}

	if cfg.Notification.Backend == "kafka" {
		producer, err := client.NewKafkaProducer(cfg, logger)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		f.kafkaProducer = producer
	}

	if cfg.Audit.Enabled && cfg.Audit.Elasticsearch {
		c, err := client.NewElasticsearchClient(cfg, logger)
		if err == nil {
			err = c.EnsureIndex(ctx, cfg.Elasticsearch.Index, audit.ElasticsearchMapping)
			f.esClient = c
		}
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("elasticsearch: %w", err)
			}
			util.Warn("Elasticsearch unavailable - audit events will skip it", util.ErrorField(err))
		}
	}

	if cfg.Audit.Enabled && cfg.Audit.Clickhouse {
		c, err := client.NewClickHouseClient(cfg, logger)
		if err == nil {
			f.clickhouseClient = c
			err = c.Exec(ctx, audit.ClickHouseSchema(cfg.Clickhouse.Table))
		}
		if err != nil {
			if cfg.IsProduction() {
				return fmt.Errorf("clickhouse: %w", err)
			}
			util.Warn("ClickHouse unavailable - audit events will skip it", util.ErrorField(err))
		}
	}

	if cfg.Google.ClientID != "" {
		f.googleClient = client.NewGoogleClient(cfg.Google)
	} else {
		util.Warn("GOOGLE_CLIENT_ID not set - Google sign-in disabled")
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing and token managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	cfg := f.config

	hasher, err := hashing.NewHasher(cfg.Hashing.BcryptCost)
	if err != nil {
		return err
	}
	f.hasher = hasher

	var kmsClient encryption.KMSAPI
	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	f.encryptionManager, err = encryption.NewEncryptionManager(cfg.KMS, kmsClient)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.bucketingManager = bucketing.NewBucketingManager(cfg.Bucketing.UserBuckets)

	secret, err := f.jwtSecret(ctx)
	if err != nil {
		return err
	}
	f.tokens, err = token.NewService(secret, cfg.JWT.TTL, cfg.JWT.Issuer)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	util.Info("Managers initialized successfully",
		util.Int("bcrypt_cost", f.hasher.Cost()),
		util.Int("user_buckets", f.bucketingManager.GetUserBuckets()),
		util.Duration("jwt_ttl", f.tokens.TTL()),
	)
	return nil
}

// jwtSecret prefers the KMS-encrypted secret, then the plain one. Outside
// production a missing secret is replaced by a random per-process value.
func (f *Factory) jwtSecret(ctx context.Context) ([]byte, error) {
	cfg := f.config
	if cfg.KMS.Enabled && cfg.JWT.EncryptedSecret != "" {
		secret, err := f.encryptionManager.DecryptSecret(ctx, cfg.JWT.EncryptedSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt jwt secret: %w", err)
		}
		return secret, nil
	}
	if cfg.JWT.Secret != "" {
		return []byte(cfg.JWT.Secret), nil
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("jwt secret is not configured")
	}

	util.Warn("JWT_SECRET not set - using a random secret, tokens will not survive a restart")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	return secret, nil
}

func (f *Factory) initializeRepositories(ctx context.Context) error {
	if f.scyllaClient != nil {
		if err := f.scyllaClient.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("scylla schema: %w", err)
		}
		f.userRepository = scylla.NewUserRepository(f.scyllaClient, f.bucketingManager, f.encryptionManager)
	} else {
		f.userRepository = memory.NewUserRepository()
	}

	if f.postgresClient != nil {
		repo := postgres.NewInvitationRepository(f.postgresClient.Pool)
		if err := repo.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		f.invitationRepository = repo
	} else {
		f.invitationRepository = memory.NewInvitationRepository()
	}

	if f.redisClient != nil {
		f.limiter = redisrepo.NewRateLimitCache(f.redisClient)
	} else {
		f.limiter = ratelimit.NewMemoryLimiter()
	}
	return nil
}

// initializePipelines starts the notification dispatcher and the audit writer.
func (f *Factory) initializePipelines(ctx context.Context) error {
	cfg := f.config
	logger := util.Get()

	var backend notification.Notifier
	if f.kafkaProducer != nil {
		backend = notification.NewKafkaNotifier(f.kafkaProducer, cfg.Kafka.NotificationTopic)
	} else {
		backend = notification.NewLogNotifier(logger, !cfg.IsProduction())
	}
	f.dispatcher = notification.NewDispatcher(backend, notification.DispatcherConfig{
		QueueSize:   cfg.Notification.QueueSize,
		Workers:     cfg.Notification.Workers,
		MaxAttempts: cfg.Notification.MaxAttempts,
	}, logger)
	f.dispatcher.Start()

	if cfg.Audit.Enabled {
		var sinks []audit.Sink
		if f.esClient != nil {
			sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, cfg.Elasticsearch.Index))
		}
		if f.clickhouseClient != nil {
			sinks = append(sinks, audit.NewClickHouseSink(f.clickhouseClient, cfg.Clickhouse.Table))
		}
		f.auditor = audit.NewAuditor(cfg.Audit.BufferSize, logger, sinks...)
	}
	return nil
}

// googleVerifier keeps a disabled provider a nil interface.
func (f *Factory) googleVerifier() service.GoogleVerifier {
	if f.googleClient == nil {
		return nil
	}
	return f.googleClient
}

func (f *Factory) googleURLBuilder() handler.GoogleURLBuilder {
	if f.googleClient == nil {
		return nil
	}
	return f.googleClient
}

// Router builds the HTTP surface over the service factory.
func (f *Factory) Router() chi.Router {
	cfg := f.config
	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		// Validate rejects this at load; trust nobody rather than everybody.
		util.Error("Ignoring trusted proxies", util.ErrorField(err))
		proxies = nil
	}
	return handler.NewRouter(handler.RouterConfig{
		Services: f.serviceFactory,
		Limiter:  f.limiter,
		Policies: ratelimit.PoliciesFromConfig(cfg.RateLimit),
		Auditor:  f.Auditor(),
		Google:   f.googleURLBuilder(),
		Cookies: handler.CookieSettings{
			Name:     cfg.Cookie.Name,
			Secure:   cfg.CookieSecure(),
			SameSite: handler.ParseSameSite(cfg.Cookie.SameSite),
			Domain:   cfg.Cookie.Domain,
			Path:     cfg.Cookie.Path,
			MaxAge:   cfg.JWT.TTL,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: proxies,
		RequireTLS:     cfg.IsProduction() && cfg.Server.EnableTLS,
		RequestTimeout: cfg.Server.RequestTimeout,
		Health:         f.HealthCheck,
		Logger:         util.Get(),
	})
}

// ==============================
// Health Checks
// ==============================

// HealthCheck pings every configured backend concurrently.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]func(context.Context) error{
		"user_repository":       f.userRepository.HealthCheck,
		"invitation_repository": f.invitationRepository.HealthCheck,
	}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient.HealthCheck
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer.HealthCheck
	}
	if f.esClient != nil {
		checks["elasticsearch"] = func(context.Context) error { return f.esClient.HealthCheck() }
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient.HealthCheck
	}

	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
		g            errgroup.Group
	)
	for name, check := range checks {
		g.Go(func() error {
			if err := check(ctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

// IsHealthy ignores the notification and audit backends; both are queued.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		ctx, cancel := context.WithTimeout(context.Background(), f.config.Server.ShutdownTimeout)
		defer cancel()

		// Drain queues before their backends go away.
		if f.dispatcher != nil {
			if err := f.dispatcher.Close(ctx); err != nil {
				util.Error("Notification dispatcher did not drain", util.ErrorField(err))
			} else {
				util.Info("Notification dispatcher stopped")
			}
		}
		if f.auditor != nil {
			if err := f.auditor.Close(ctx); err != nil {
				util.Error("Auditor did not drain", util.ErrorField(err))
			} else {
				util.Info("Auditor stopped")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.postgresClient != nil {
			f.postgresClient.Close()
			util.Info("Postgres client closed")
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	return f.serviceFactory
}

// Auditor returns the configured recorder, or a no-op one when auditing is off.
func (f *Factory) Auditor() audit.Recorder {
	if f.auditor == nil {
		return audit.Nop{}
	}
	return f.auditor
}

func (f *Factory) Limiter() ratelimit.Limiter {
	return f.limiter
}
