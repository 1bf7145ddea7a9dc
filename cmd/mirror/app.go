package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"poolmirror/internal/chain"
	"poolmirror/internal/config"
	"poolmirror/internal/events"
	"poolmirror/internal/lock"
	"poolmirror/internal/metrics"
	"poolmirror/internal/query"
	"poolmirror/internal/reconcile"
	"poolmirror/internal/source"
	"poolmirror/internal/source/evm"
	"poolmirror/internal/source/file"
	"poolmirror/internal/source/hyperion"
	"poolmirror/internal/source/tapp"
	"poolmirror/internal/storage"
	"poolmirror/internal/storage/postgres"
	"poolmirror/internal/storage/sqlite"
	"poolmirror/internal/store"
)

const (
	adapterTapp     = "tapp"
	adapterHyperion = "hyperion"
	adapterEVM      = "evm"
	adapterFile     = "file"
)

// mirrorStore is a store engine that also keeps scheduler state.
type mirrorStore interface {
	store.Store
	store.StateStore
}

// app holds the dependencies shared by every command.
type app struct {
	cfg        config.Common
	logger     *zap.Logger
	store      mirrorStore
	registry   *source.Registry
	dexes      []string
	promReg    *prometheus.Registry
	metrics    *metrics.Metrics
	reconciler *reconcile.Reconciler
	engine     *query.Engine

	closers []func()
}

func newApp(ctx context.Context, cfg config.Common, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	registry, dexes, err := a.newRegistry(ctx)
	if err != nil {
		return nil, err
	}
	a.registry = registry
	a.dexes = dexes

	a.promReg = prometheus.NewRegistry()
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(a.promReg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.metrics = m

	locker := a.newLocker()
	publisher, err := a.newPublisher()
	if err != nil {
		return nil, err
	}

	var archive storage.Archive
	if cfg.ArchivePath != "" {
		archive = storage.NewJsonlArchive(cfg.ArchivePath)
	}

	a.reconciler = reconcile.New(reconcile.Deps{
		Store:     st,
		Sources:   registry,
		Locker:    locker,
		Publisher: publisher,
		Metrics:   m,
		Archive:   archive,
	}, logger)
	a.engine = query.NewEngine(st, m, logger)

	logger.Info("app ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("pg_dsn", redactDSN(cfg.Store.PGDSN)),
		zap.Strings("dexes", dexes),
		zap.Bool("redis_lock", cfg.Lock.RedisAddr != ""),
		zap.Bool("kafka_events", len(cfg.Events.KafkaBrokers) > 0),
	)

	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (mirrorStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return st, nil
	default:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}

// newRegistry builds the enabled adapters and returns the dex tags they
// serve, in configuration order.
func (a *app) newRegistry(ctx context.Context) (*source.Registry, []string, error) {
	cfg := a.cfg.Sources
	registry := source.NewRegistry()
	dexes := make([]string, 0, len(cfg.Enabled))

	for _, name := range cfg.Enabled {
		switch name {
		case adapterTapp:
			registry.Register(adapterTapp, tapp.New(tapp.Config{
				APIURL:            cfg.TappAPIURL,
				NodeURL:           cfg.TappNodeURL,
				ViewAddress:       cfg.TappViewAddress,
				PageSize:          cfg.TappPageSize,
				MaxPages:          cfg.TappMaxPages,
				RequestsPerSecond: cfg.TappRPS,
				Timeout:           cfg.Timeout,
			}, a.logger))
			dexes = append(dexes, adapterTapp)
		case adapterHyperion:
			registry.Register(adapterHyperion, hyperion.New(hyperion.Config{
				URL:               cfg.HyperionURL,
				RequestsPerSecond: cfg.HyperionRPS,
				Timeout:           cfg.Timeout,
			}, a.logger))
			dexes = append(dexes, adapterHyperion)
		case adapterEVM:
			if cfg.EVMRPC == "" {
				return nil, nil, fmt.Errorf("evm-rpc is required for the evm source")
			}
			client, err := chain.NewClient(ctx, cfg.EVMRPC)
			if err != nil {
				return nil, nil, fmt.Errorf("connect rpc: %w", err)
			}
			a.closers = append(a.closers, client.Close)
			src, err := evm.New(evm.Config{
				Dex:               cfg.EVMDex,
				Pools:             cfg.EVMPools,
				RequestsPerSecond: cfg.EVMRPS,
			}, client, a.logger)
			if err != nil {
				return nil, nil, err
			}
			dex := cfg.EVMDex
			if dex == "" {
				dex = evm.DefaultDex
			}
			registry.Register(dex, src)
			dexes = append(dexes, dex)
		case adapterFile:
			dex := cfg.FileDex
			if dex == "" {
				dex = file.DefaultDex
			}
			registry.Register(dex, file.New(file.Config{Dir: cfg.FileDir, Dex: dex}, a.logger))
			dexes = append(dexes, dex)
		default:
			return nil, nil, fmt.Errorf("unknown source %q", name)
		}
	}
	return registry, dexes, nil
}

func (a *app) newLocker() lock.Locker {
	cfg := a.cfg.Lock
	if cfg.RedisAddr == "" {
		return lock.NewMemory()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = client.Close() })
	return lock.NewRedis(client, lock.RedisConfig{Prefix: cfg.RedisPrefix, TTL: cfg.RedisTTL}, a.logger)
}

func (a *app) newPublisher() (events.Publisher, error) {
	cfg := a.cfg.Events
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, nil
	}
	k, err := events.NewKafka(events.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := k.Close(); err != nil {
			a.logger.Warn("close kafka writer", zap.Error(err))
		}
	})
	return k, nil
}
