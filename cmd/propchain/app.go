package main

import (
	"context"
	"fmt"
	"io"

	"propchain/pkg/cache"
	"propchain/pkg/cache/manager"
	"propchain/pkg/cache/memory"
	"propchain/pkg/cache/redis"
	"propchain/pkg/chain"
	"propchain/pkg/config"
	"propchain/pkg/gateway"
	"propchain/pkg/logging"
	"propchain/pkg/metrics"
	"propchain/pkg/mirror"
	"propchain/pkg/models"
	"propchain/pkg/notify"
	"propchain/pkg/observer"
	"propchain/pkg/resilience"
	"propchain/pkg/session"
	"propchain/pkg/withdrawal"

	"go.uber.org/zap"
)

// app wires the client components for one command run.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	out    io.Writer

	gateway  gateway.Gateway
	cache    *chain.Chain
	manager  *manager.Manager
	coord    *withdrawal.Coordinator
	observer *observer.Observer
	session  *session.Watcher
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger, out io.Writer) (*app, error) {
	collector := metrics.NoOpCollector{}

	gw, err := gateway.NewREST(cfg.Gateway, gateway.WithMetrics(collector), gateway.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	layers := []cache.CacheLayer{memory.NewMemoryCache(cfg.Cache.Memory)}
	if cfg.Redis.Enabled {
		rc, err := redis.NewRedisCache(cfg.Redis.Cache)
		if err != nil {
			logger.Warn("shared cache unavailable, using memory only", zap.Error(err))
		} else {
			layers = append(layers, rc)
		}
	}

	resilient := make([]resilience.ResilientConfig, len(layers))
	for i := range resilient {
		resilient[i] = cfg.Cache.Resilience
	}
	ch, err := chain.NewWithConfig(chain.ChainConfig{
		ResilientConfigs: resilient,
		WarmTTL:          cfg.Cache.TTL,
		Metrics:          collector,
		Logger:           logger,
	}, layers...)
	if err != nil {
		return nil, err
	}

	mgr := manager.New(ch, cache.DefaultRegistry(),
		manager.WithTTL(cfg.Cache.TTL),
		manager.WithMetrics(collector),
		manager.WithLogger(logger),
	)

	mc, err := mirror.NewClient(cfg.Mirror, logger)
	if err != nil {
		ch.Close()
		return nil, err
	}

	sink := notify.NewMetered(notify.Fanout{notify.NewWriter(out), notify.NewLogSink(logger)}, collector)

	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		gateway: gw,
		cache:   ch,
		manager: mgr,
		coord: withdrawal.New(gw,
			withdrawal.WithCache(mgr),
			withdrawal.WithSink(sink),
			withdrawal.WithTreasuryAddress(cfg.Observer.TreasuryAddress),
			withdrawal.WithLogger(logger),
		),
		observer: observer.New(mc,
			observer.WithInterval(cfg.Observer.Interval),
			observer.WithCache(mgr),
			observer.WithMetrics(collector),
			observer.WithLogger(logger),
		),
		session: session.Watch(ctx, gw, cfg.Client.AccessToken, cfg.Client.SessionInterval, logger),
	}, nil
}

// currentSession waits for the first session resolution.
func (a *app) currentSession(ctx context.Context) (models.Session, error) {
	s := a.session.Wait(ctx)
	if s.State == models.SessionUnknown {
		return s, fmt.Errorf("session could not be resolved")
	}
	return s, nil
}

func (a *app) Close() error {
	a.session.Stop()
	return a.cache.Close()
}
