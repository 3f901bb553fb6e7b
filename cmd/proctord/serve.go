package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/api"
	"github.com/eliteGoblin/proctord/internal/config"
	"github.com/eliteGoblin/proctord/internal/daemon"
	"github.com/eliteGoblin/proctord/internal/infra"
	"github.com/eliteGoblin/proctord/internal/policy"
	"github.com/eliteGoblin/proctord/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proctoring service",
	Long: `Starts the HTTP API and session engine. Ended sessions are persisted to the
configured stores and swept after the retention window. Edits to the config
file's policy section apply to sessions started afterwards.

With --detach the service is re-launched in the background and this command
returns immediately.`,
	RunE: runServe,
}

var detach bool

func init() {
	serveCmd.Flags().BoolVar(&detach, "detach", false, "Run in the background, logging to the data directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	paths := resolvePaths(cfg)

	if detach {
		return startDetached(path, paths)
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting proctord",
		zap.String("version", Version),
		zap.String("mode", paths.Mode.String()),
		zap.String("config", path),
		zap.String("data_dir", paths.DataDir))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := buildStack(ctx, cfg, paths, logger)
	if err != nil {
		return err
	}

	catalog := policy.NewCatalog()
	opts := []usecase.Option{
		usecase.WithCatalog(catalog),
		usecase.WithSinks(s.sinks...),
	}
	if s.reports != nil {
		opts = append(opts, usecase.WithReportStore(s.reports))
	}
	if s.probe != nil {
		opts = append(opts, usecase.WithProbe(s.probe))
	}

	proctor := usecase.NewProctor(usecase.ProctorConfig{
		SampleInterval:  cfg.Monitoring.SampleInterval.Std(),
		EndOnDeviceLoss: cfg.Monitoring.EndOnDeviceLoss,
		Policy:          cfg.Policy.ToPolicy(),
	}, infra.NewPushAcquirer(), logger, opts...)

	handler := api.NewHandler(proctor, logger, api.Options{
		Catalog:        catalog,
		MaxFrameBytes:  cfg.Server.MaxFrameBytes,
		MaxFramePixels: cfg.Server.MaxFramePixels,
	})
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	runner := daemon.NewRunner(daemon.RunnerConfig{
		SweepInterval:     cfg.Monitoring.SweepInterval.Std(),
		Retention:         cfg.Monitoring.Retention.Std(),
		HeartbeatInterval: daemon.DefaultRunnerConfig().HeartbeatInterval,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout.Std(),
	}, proctor, server, watcherFor(path, cfg, logger), logger)

	for _, p := range s.pruners {
		runner.AddPruner(p)
	}
	runner.AddCloser(daemon.Closer{Name: "stack", Close: s.close})

	logger.Info("listening", zap.String("addr", cfg.Server.Addr))
	err = runner.Run(ctx)
	if ctx.Err() != nil && err == nil {
		logger.Info("proctord stopped")
	}
	return err
}

// watcherFor returns a config watcher when the config file exists.
func watcherFor(path string, cfg *config.Config, logger *zap.Logger) *config.Watcher {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return config.NewWatcher(path, cfg, logger)
}

func startDetached(path string, paths *infra.Paths) error {
	serveArgs := []string{"--config", path}
	if dataDir != "" {
		serveArgs = append(serveArgs, "--data-dir", dataDir)
	}
	logPath := filepath.Join(paths.DataDir, "proctord.out")

	pid, err := daemon.StartDetached(serveArgs, logPath)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	fmt.Printf("proctord started in background (pid %d)\n", pid)
	fmt.Printf("Output: %s\n", logPath)
	return nil
}
