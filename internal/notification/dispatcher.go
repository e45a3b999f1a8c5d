package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQueueFull        = errors.New("notification queue is full")
	ErrDispatcherClosed = errors.New("notification dispatcher is closed")
	// ErrPermanent marks a backend failure that retrying cannot fix.
	ErrPermanent = errors.New("notification rejected permanently")
)

type DispatcherConfig struct {
	QueueSize       int
	Workers         int
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// SendTimeout bounds each delivery attempt.
	SendTimeout time.Duration
}

func (c *DispatcherConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
}

// Dispatcher queues messages and delivers them on background workers,
// retrying each with exponential backoff. Send never blocks on delivery.
type Dispatcher struct {
	backend Notifier
	cfg     DispatcherConfig
	logger  *zap.Logger

	queue     chan Message
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
}

var _ Notifier = (*Dispatcher)(nil)

func NewDispatcher(backend Notifier, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		backend: backend,
		cfg:     cfg,
		logger:  logger.Named("notification"),
		queue:   make(chan Message, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
		d.logger.Info("Notification dispatcher started",
			zap.Int("workers", d.cfg.Workers),
			zap.Int("queue_size", d.cfg.QueueSize),
		)
	})
}

// Send enqueues msg. It fails only when the queue is full or closed.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		d.logger.Warn("Notification dropped, queue full",
			zap.String("kind", string(msg.Kind)),
			zap.String("channel", string(msg.Channel)),
		)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval

	attempts := 0
	_, err := backoff.Retry(d.ctx, func() (struct{}, error) {
		attempts++
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
		defer cancel()
		err := d.backend.Send(ctx, msg)
		if errors.Is(err, ErrPermanent) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Debug("Notification delivery failed, retrying",
				zap.String("id", msg.ID),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		d.logger.Error("Notification delivery abandoned",
			zap.String("id", msg.ID),
			zap.String("kind", string(msg.Kind)),
			zap.String("channel", string(msg.Channel)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return
	}
	d.logger.Debug("Notification delivered",
		zap.String("id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.Int("attempts", attempts),
	)
}

// Close stops accepting messages and waits for queued ones to drain. When
// ctx expires first, in-flight retries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
