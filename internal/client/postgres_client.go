package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"marketplace-auth/internal/config"
)

type PostgresClient struct {
	Pool *pgxpool.Pool
}

func NewPostgresClient(cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	pgConfig := cfg.Postgres

	poolConfig, err := pgxpool.ParseConfig(pgConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Postgres URL: %w", err)
	}
	poolConfig.MaxConns = pgConfig.MaxConns
	poolConfig.MinConns = pgConfig.MinConns
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}

	logger.Info("Postgres client initialized",
		zap.Int32("max_conns", pgConfig.MaxConns),
	)

	return &PostgresClient{Pool: pool}, nil
}

func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *PostgresClient) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}
