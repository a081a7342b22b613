// Command propchaind is the PropChain backend: server functions, the
// withdrawal row collection, sessions and HCS topic creation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"propchain/pkg/api"
	"propchain/pkg/config"
	"propchain/pkg/functions"
	"propchain/pkg/hcs"
	"propchain/pkg/logging"
	promMetrics "propchain/pkg/metrics/prometheus"
	"propchain/pkg/session"
	"propchain/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("propchaind stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := promMetrics.NewPrometheusCollector(cfg.Metrics.Namespace)
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	verifier, err := session.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("auth: %w (set auth.jwt_secret)", err)
	}

	svc := functions.NewService(st,
		functions.WithVerifier(verifier),
		functions.WithServiceKey(cfg.Auth.ServiceKey),
		functions.WithMetrics(collector),
		functions.WithLogger(logger),
	)

	opts := []api.Option{
		api.WithLogger(logger),
		api.WithFunctions(functions.NewHandler(svc, cfg.Auth.AnonKey, logger)),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithPrometheus(registry, registry, cfg.Metrics.Namespace, cfg.Metrics.Path))
	}

	if cfg.Ledger.Configured() {
		creator, err := hcs.NewHederaCreator(cfg.Ledger, logger)
		if err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		defer creator.Close()
		opts = append(opts, api.WithTopics(hcs.NewHandler(creator, logger)))
		logger.Info("topic creation enabled",
			zap.String("network", string(cfg.Ledger.Network)),
			zap.String("operator", cfg.Ledger.OperatorAccountID),
		)
	} else {
		logger.Warn("ledger operator not configured, topic creation disabled")
	}

	srv := api.NewServer(cfg.Server, opts...)
	errs := srv.Start()

	select {
	case err := <-errs:
		if err != nil {
			return err
		}
		return errors.New("server exited")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *logging.Logger) (store.Store, error) {
	if cfg.Driver != "postgres" {
		logger.Warn("using the in-memory store, data is lost on restart")
		return store.NewMemory(), nil
	}

	st, err := store.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return st, nil
}
