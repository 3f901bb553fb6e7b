package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// AsyncSinkConfig tunes the buffering of an AsyncSink.
type AsyncSinkConfig struct {
	BufferSize     int           // Events queued before new ones are dropped
	PublishTimeout time.Duration // Per-event deadline for the wrapped sink
}

// DefaultAsyncSinkConfig returns sensible defaults.
func DefaultAsyncSinkConfig() AsyncSinkConfig {
	return AsyncSinkConfig{
		BufferSize:     256,
		PublishTimeout: 5 * time.Second,
	}
}

// AsyncSink decouples a slow remote sink from the session loops. Publish
// enqueues and returns immediately; one worker delivers in order. Failures
// are logged and swallowed.
type AsyncSink struct {
	sink    domain.EventSink
	config  AsyncSinkConfig
	logger  *zap.Logger
	queue   chan domain.SessionEvent
	done    chan struct{}
	dropped atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink wraps sink and starts its worker.
func NewAsyncSink(sink domain.EventSink, config AsyncSinkConfig, logger *zap.Logger) *AsyncSink {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultAsyncSinkConfig().BufferSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultAsyncSinkConfig().PublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncSink{
		sink:   sink,
		config: config,
		logger: logger.With(zap.String("sink", sink.Name())),
		queue:  make(chan domain.SessionEvent, config.BufferSize),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Name identifies the wrapped sink.
func (a *AsyncSink) Name() string { return a.sink.Name() }

// Publish enqueues the event. Never blocks; drops when the buffer is full.
func (a *AsyncSink) Publish(_ context.Context, event domain.SessionEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}

	select {
	case a.queue <- event:
	default:
		a.dropped.Add(1)
		a.logger.Warn("sink buffer full, dropping event",
			zap.String("session_id", event.SessionID),
			zap.String("kind", string(event.Kind)))
	}
	return nil
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for event := range a.queue {
		a.deliver(event)
	}
}

func (a *AsyncSink) deliver(event domain.SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			a.logger.Error("sink panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.config.PublishTimeout)
	defer cancel()

	if err := a.sink.Publish(ctx, event); err != nil {
		a.failed.Add(1)
		a.logger.Warn("sink publish failed",
			zap.String("session_id", event.SessionID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err))
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (a *AsyncSink) Dropped() int64 { return a.dropped.Load() }

// Failed returns the number of events the wrapped sink rejected.
func (a *AsyncSink) Failed() int64 { return a.failed.Load() }

// Close stops accepting events and waits for queued ones to drain, or ctx.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.logger.Warn("sink drain interrupted", zap.Int("pending", len(a.queue)))
		return ctx.Err()
	}
}

var _ domain.EventSink = (*AsyncSink)(nil)
