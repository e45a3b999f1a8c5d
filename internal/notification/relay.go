package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Source yields records from the notification topic. *client.KafkaConsumer
// satisfies it.
type Source interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessage(ctx context.Context, msg kafka.Message) error
}

// Relay reads queued messages and hands them to the gateway backend. A
// record is committed once it is delivered, abandoned after MaxAttempts,
// or found undecodable.
type Relay struct {
	source  Source
	backend Notifier
	cfg     DispatcherConfig
	logger  *zap.Logger
}

func NewRelay(source Source, backend Notifier, cfg DispatcherConfig, logger *zap.Logger) *Relay {
	cfg.setDefaults()
	return &Relay{source: source, backend: backend, cfg: cfg, logger: logger}
}

// Run processes records until ctx is cancelled or the source fails.
func (r *Relay) Run(ctx context.Context) error {
	for {
		record, err := r.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch notification: %w", err)
		}

		r.handle(ctx, record)

		if err := r.source.CommitMessage(ctx, record); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit notification: %w", err)
		}
	}
}

func (r *Relay) handle(ctx context.Context, record kafka.Message) {
	var msg Message
	if err := json.Unmarshal(record.Value, &msg); err != nil {
		r.logger.Error("Dropping undecodable notification",
			zap.Int("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err),
		)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
		err := r.backend.Send(sendCtx, msg)
		if errors.Is(err, ErrPermanent) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("Relay delivery failed, retrying",
				zap.String("id", msg.ID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		r.logger.Error("Relay delivery abandoned",
			zap.String("id", msg.ID),
			zap.String("kind", string(msg.Kind)),
			zap.Int64("offset", record.Offset),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("Relayed notification", zap.String("id", msg.ID), zap.String("kind", string(msg.Kind)))
}
