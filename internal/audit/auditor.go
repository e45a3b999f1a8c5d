package audit

import (
	"context"
	"sync"
	"time"

	"marketplace-auth/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink persists security events.
type Sink interface {
	Name() string
	Write(ctx context.Context, event models.SecurityEvent) error
}

// Recorder accepts security events without blocking the caller.
type Recorder interface {
	Record(event models.SecurityEvent)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(models.SecurityEvent) {}

// Auditor buffers events and fans each one out to every sink in parallel.
// Events that do not fit in the buffer are dropped and logged.
type Auditor struct {
	sinks   []Sink
	events  chan models.SecurityEvent
	logger  *zap.Logger
	timeout time.Duration

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

var _ Recorder = (*Auditor)(nil)

func NewAuditor(bufferSize int, logger *zap.Logger, sinks ...Sink) *Auditor {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	a := &Auditor{
		sinks:   sinks,
		events:  make(chan models.SecurityEvent, bufferSize),
		logger:  logger.Named("audit"),
		timeout: 5 * time.Second,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Auditor) Record(event models.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.events <- event:
	default:
		a.logger.Warn("Audit event dropped, buffer full",
			zap.String("type", string(event.Type)),
			zap.String("user_id", event.UserID),
		)
	}
}

func (a *Auditor) run() {
	defer a.wg.Done()
	for event := range a.events {
		a.write(event)
	}
}

func (a *Auditor) write(event models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, sink := range a.sinks {
		g.Go(func() error {
			if err := sink.Write(ctx, event); err != nil {
				a.logger.Error("Audit sink write failed",
					zap.String("sink", sink.Name()),
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Close flushes buffered events and stops the worker.
func (a *Auditor) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.events)
		a.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
