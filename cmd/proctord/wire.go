package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/proctord/internal/config"
	"github.com/eliteGoblin/proctord/internal/daemon"
	"github.com/eliteGoblin/proctord/internal/domain"
	"github.com/eliteGoblin/proctord/internal/infra"
)

// stack is everything serve and report build from the config.
type stack struct {
	sinks   []domain.EventSink
	reports domain.ReportStore
	probe   domain.EnvironmentProbe
	pruners []daemon.Pruner

	// drains flush async sinks; closers release the resources behind them.
	drains  []daemon.Closer
	closers []daemon.Closer
}

// close runs drains then closers, collecting errors.
func (s *stack) close(ctx context.Context) error {
	var errs []error
	for _, c := range append(append([]daemon.Closer(nil), s.drains...), s.closers...) {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *stack) addAsync(sink domain.EventSink, cfg config.StorageConfig, logger *zap.Logger) {
	async := infra.NewAsyncSink(sink, infra.AsyncSinkConfig{
		BufferSize:     cfg.BufferSize,
		PublishTimeout: 5 * time.Second,
	}, logger)
	s.sinks = append(s.sinks, async)
	s.drains = append(s.drains, daemon.Closer{Name: sink.Name(), Close: async.Close})
}

func closeFunc(f func() error) func(context.Context) error {
	return func(context.Context) error { return f() }
}

// buildStack opens the configured stores, sinks and probe. Optional remote
// sinks that fail to connect are logged and skipped; local storage errors
// are fatal.
func buildStack(ctx context.Context, cfg *config.Config, paths *infra.Paths, logger *zap.Logger) (*stack, error) {
	s := &stack{}
	fail := func(err error) (*stack, error) {
		_ = s.close(ctx)
		return nil, err
	}

	if cfg.Storage.Encrypted {
		key, err := infra.EnsureKey(infra.SelectKeyProvider(paths.DataDir))
		if err != nil {
			return fail(fmt.Errorf("store key: %w", err))
		}
		store, err := infra.NewEncryptedStore(paths.DataDir, key)
		if err != nil {
			return fail(err)
		}
		s.addAsync(store, cfg.Storage, logger)
		s.closers = append(s.closers, daemon.Closer{Name: store.Name(), Close: closeFunc(store.Close)})
		s.pruners = append(s.pruners, daemon.Pruner{Name: store.Name(), Prune: store.PurgeBefore})
		s.reports = store
		logger.Info("encrypted store opened", zap.String("path", store.Path()))
	}

	if cfg.Storage.Archive {
		archive, err := infra.NewReportArchive(paths.ReportDir)
		if err != nil {
			return fail(err)
		}
		s.addAsync(archive, cfg.Storage, logger)
		s.pruners = append(s.pruners, daemon.Pruner{Name: archive.Name(), Prune: archive.Prune})
		if s.reports == nil {
			s.reports = archive
		}
	}

	if cfg.Storage.PostgresURL != "" {
		pg, err := infra.NewPostgresStore(ctx, cfg.Storage.PostgresURL)
		if err == nil {
			err = pg.EnsureSchema(ctx)
			if err != nil {
				_ = pg.Close()
			}
		}
		if err != nil {
			logger.Warn("postgres sink disabled", zap.Error(err))
		} else {
			s.addAsync(pg, cfg.Storage, logger)
			s.closers = append(s.closers, daemon.Closer{Name: pg.Name(), Close: closeFunc(pg.Close)})
			if s.reports == nil {
				s.reports = pg
			}
		}
	}

	if cfg.Redis.Addr != "" {
		client := infra.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis sink disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = client.Close()
		} else {
			sink := infra.NewRedisSnapshotSink(client, cfg.Redis.TTL.Std())
			s.addAsync(sink, cfg.Storage, logger)
			s.closers = append(s.closers, daemon.Closer{Name: sink.Name(), Close: closeFunc(sink.Close)})
		}
	}

	if cfg.Kafka.Brokers != "" {
		client, err := infra.NewKafkaClient(cfg.Kafka.Brokers)
		if err != nil {
			logger.Warn("kafka sink disabled", zap.Error(err))
		} else {
			topic := cfg.Kafka.Topic
			if topic == "" {
				topic = infra.DefaultKafkaTopic
			}
			pub := infra.NewKafkaPublisher(client, topic)
			s.addAsync(pub, cfg.Storage, logger)
			s.closers = append(s.closers, daemon.Closer{Name: pub.Name(), Close: closeFunc(pub.Close)})
		}
	}

	if cfg.Probe.Enabled {
		probeCfg := infra.DefaultProbeConfig()
		probeCfg.CheckProcesses = cfg.Probe.CheckProcesses
		probeCfg.CheckVirtualization = cfg.Probe.CheckVirtualization
		if len(cfg.Probe.RemoteDesktop) > 0 {
			probeCfg.RemoteDesktopProcesses = cfg.Probe.RemoteDesktop
		}

		var asn infra.ASNLookup
		if cfg.GeoIP.ASNDatabase != "" {
			geo, err := infra.NewGeoIPService(cfg.GeoIP.ASNDatabase)
			if err != nil {
				logger.Warn("geoip lookups disabled", zap.Error(err))
			} else {
				asn = geo
				s.closers = append(s.closers, daemon.Closer{Name: "geoip", Close: closeFunc(geo.Close)})
			}
		}
		probeCfg.CheckNetwork = asn != nil

		s.probe = infra.NewHostProbe(probeCfg, infra.NewProcessScanner(), asn, logger)
	}

	return s, nil
}

// resolvePaths applies the --data-dir flag and config over the mode defaults.
func resolvePaths(cfg *config.Config) *infra.Paths {
	paths := infra.DetectPaths().WithDataDir(cfg.Storage.DataDir)
	return paths.WithDataDir(dataDir)
}

// loadConfig loads the --config file or the mode's default location.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = infra.DetectPaths().ConfigFile
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}
