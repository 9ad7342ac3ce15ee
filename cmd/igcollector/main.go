package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"igcollector/internal/api"
	"igcollector/internal/downloader"
	"igcollector/internal/service"
	"igcollector/pkg/account"
	"igcollector/pkg/auth"
	"igcollector/pkg/collector"
	"igcollector/pkg/config"
	"igcollector/pkg/gateway"
	"igcollector/pkg/logger"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	host       = flag.String("host", "", "Bind address for the HTTP server")
	port       = flag.Int("port", 0, "Port for the HTTP server")
	poolFile   = flag.String("pool-file", "", "Path to the account pool file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	flags := make(map[string]interface{})
	if *host != "" {
		flags["host"] = *host
	}
	if *port > 0 {
		flags["port"] = *port
	}
	if *poolFile != "" {
		flags["pool-file"] = *poolFile
	}
	if *logLevel != "" {
		flags["log-level"] = *logLevel
	}

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()
	log.WithField("version", "1.0.0").Info("collection service starting")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("collection service failed")
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	sessions, err := gateway.NewSessionStore(cfg.Pool.SessionDir, cfg.Gateway.SessionPassphrase)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	gw, err := gateway.NewClient(&cfg.Gateway, sessions, cfg.Collector.TempDir, log)
	if err != nil {
		return fmt.Errorf("failed to create gateway client: %w", err)
	}

	store, err := account.NewStore(cfg.Pool.PoolFile, log)
	if err != nil {
		return fmt.Errorf("failed to create account store: %w", err)
	}

	pool, err := account.NewPool(cfg.Pool, gw, store, sessions, log)
	if err != nil {
		return fmt.Errorf("failed to create account pool: %w", err)
	}

	dl := downloader.NewPool(cfg.Collector.ConcurrentDownloads, cfg.Collector.RequestDelayMin, cfg.Collector.RequestDelayMax, log)

	coll, err := collector.New(pool, dl, cfg.Collector, log)
	if err != nil {
		return fmt.Errorf("failed to create collector: %w", err)
	}

	svc := service.New(coll, pool, log)
	resolver := auth.NewResolver()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seedAccounts(ctx, pool, resolver, cfg.Pool.Accounts, log)

	handlers := api.NewHandlers(svc, resolver, log)
	router := api.NewRouter(handlers, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go maintenanceLoop(ctx, pool, coll, cfg, log)

	serverErr := make(chan error, 1)
	go func() {
		log.InfoWithFields("HTTP server listening", map[string]interface{}{
			"addr": server.Addr,
		})
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("collection service stopped")
	return nil
}

// seedAccounts ensures configured accounts are present in the pool.
// Accounts already in the pool are left alone; failed probes are logged
// and skipped so one bad seed does not block startup.
func seedAccounts(ctx context.Context, pool *account.Pool, resolver *auth.Resolver, seeds []config.AccountSeed, log logger.Logger) {
	for _, seed := range seeds {
		password, err := resolver.Resolve(seed.Password)
		if err != nil {
			log.WithError(err).WithField("account", seed.Username).Error("failed to resolve seed account password")
			continue
		}

		err = pool.Add(ctx, seed.Username, password, seed.Proxy)
		switch {
		case err == nil:
			log.WithField("account", seed.Username).Info("seed account admitted")
		case errors.Is(err, account.ErrAccountExists):
			// already in the pool
		default:
			log.WithError(err).WithField("account", seed.Username).Error("failed to admit seed account")
		}
	}
}

// maintenanceLoop runs periodic pool reconciliation and temp cleanup
func maintenanceLoop(ctx context.Context, pool *account.Pool, coll *collector.Collector, cfg *config.Config, log logger.Logger) {
	reconcile := time.NewTicker(cfg.Pool.ReconcileInterval)
	cleanup := time.NewTicker(cfg.Collector.TempRetention)
	defer reconcile.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			pool.Reconcile(ctx)
		case <-cleanup.C:
			if _, err := coll.Cleanup(); err != nil {
				log.WithError(err).Warn("periodic cleanup failed")
			}
		}
	}
}
