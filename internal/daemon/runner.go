// Package daemon runs the long-lived proctord service: HTTP transport,
// retention sweeps, config reloads and orderly shutdown.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/config"
	"github.com/eliteGoblin/proctord/internal/policy"
)

// Engine is the orchestrator surface the runner drives.
type Engine interface {
	SetPolicy(p policy.Policy) error
	Evict(olderThan time.Duration) int
	Shutdown(ctx context.Context) error
}

// Server is the transport the runner owns.
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Pruner deletes persisted sessions that ended before cutoff.
type Pruner struct {
	Name  string
	Prune func(ctx context.Context, cutoff time.Time) (int, error)
}

// Closer releases a resource on shutdown (sink drain, DB pool, client).
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

// RunnerConfig holds runner configuration.
type RunnerConfig struct {
	SweepInterval     time.Duration // How often to evict and prune ended sessions
	Retention         time.Duration // How long ended sessions are kept
	HeartbeatInterval time.Duration // How often to log a liveness line
	ShutdownTimeout   time.Duration // Budget for draining on shutdown
}

// DefaultRunnerConfig returns default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		SweepInterval:     10 * time.Minute,
		Retention:         24 * time.Hour,
		HeartbeatInterval: 5 * time.Minute,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Runner is the main service loop.
// It serves HTTP, sweeps expired sessions on a schedule, applies
// hot-reloaded policy, and shuts everything down in dependency order.
type Runner struct {
	config  RunnerConfig
	engine  Engine
	server  Server
	watcher *config.Watcher
	pruners []Pruner
	closers []Closer
	now     func() time.Time
	logger  *zap.Logger
}

// NewRunner creates a new runner. watcher may be nil.
func NewRunner(
	cfg RunnerConfig,
	engine Engine,
	server Server,
	watcher *config.Watcher,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Non-positive durations fall back to defaults; a zero ticker interval panics.
	defaults := DefaultRunnerConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return &Runner{
		config:  cfg,
		engine:  engine,
		server:  server,
		watcher: watcher,
		now:     time.Now,
		logger:  logger,
	}
}

// AddPruner registers a retention pruner. Call before Run.
func (r *Runner) AddPruner(p Pruner) {
	r.pruners = append(r.pruners, p)
}

// AddCloser registers a shutdown hook. Hooks run in registration order
// after the engine has ended every running session.
func (r *Runner) AddCloser(c Closer) {
	r.closers = append(r.closers, c)
}

// Run blocks until ctx is cancelled or the server fails.
func (r *Runner) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if r.watcher != nil {
		r.watcher.OnChange(r.applyConfig)
		go func() {
			if err := r.watcher.Run(watchCtx); err != nil {
				r.logger.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	r.logger.Info("proctord started",
		zap.Duration("retention", r.config.Retention),
		zap.Duration("sweep_interval", r.config.SweepInterval))

	sweepTicker := time.NewTicker(r.config.SweepInterval)
	heartbeatTicker := time.NewTicker(r.config.HeartbeatInterval)
	defer func() {
		sweepTicker.Stop()
		heartbeatTicker.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("proctord stopping")
			return r.shutdown()

		case err, ok := <-serverErr:
			if !ok {
				serverErr = nil
				continue
			}
			r.logger.Error("http server failed", zap.Error(err))
			return errors.Join(err, r.shutdown())

		case <-sweepTicker.C:
			r.sweep(ctx)

		case <-heartbeatTicker.C:
			r.logger.Debug("heartbeat")
		}
	}
}

// sweep evicts ended sessions from memory and prunes persisted copies.
func (r *Runner) sweep(ctx context.Context) {
	evicted := r.engine.Evict(r.config.Retention)
	cutoff := r.now().Add(-r.config.Retention)

	pruned := 0
	for _, p := range r.pruners {
		n, err := p.Prune(ctx, cutoff)
		if err != nil {
			r.logger.Warn("retention prune failed", zap.String("store", p.Name), zap.Error(err))
			continue
		}
		pruned += n
	}

	if evicted > 0 || pruned > 0 {
		r.logger.Info("retention sweep completed",
			zap.Int("sessions_evicted", evicted),
			zap.Int("records_pruned", pruned))
	}
}

// applyConfig pushes a reloaded policy into the engine. Sessions already
// running keep the policy they started with.
func (r *Runner) applyConfig(cfg *config.Config) {
	if err := r.engine.SetPolicy(cfg.Policy.ToPolicy()); err != nil {
		r.logger.Warn("reloaded policy rejected", zap.Error(err))
		return
	}
	r.logger.Info("policy updated from config")
}

func (r *Runner) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := r.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.engine.Shutdown(ctx); err != nil {
		r.logger.Warn("ending sessions on shutdown", zap.Error(err))
		errs = append(errs, err)
	}
	for _, c := range r.closers {
		if err := c.Close(ctx); err != nil {
			r.logger.Warn("close failed", zap.String("resource", c.Name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
