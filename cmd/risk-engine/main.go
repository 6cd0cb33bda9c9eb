package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentstack/talent-risk/internal/api"
	"github.com/talentstack/talent-risk/internal/cache"
	"github.com/talentstack/talent-risk/internal/config"
	"github.com/talentstack/talent-risk/internal/engine"
	"github.com/talentstack/talent-risk/internal/extractors"
	"github.com/talentstack/talent-risk/internal/lifecycle"
	"github.com/talentstack/talent-risk/internal/metrics"
	"github.com/talentstack/talent-risk/internal/notify"
	"github.com/talentstack/talent-risk/internal/repo"
	"github.com/talentstack/talent-risk/internal/services"
	"github.com/talentstack/talent-risk/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting risk-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			logger.Warn("redis cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	hrClient := repo.NewHRCoreClient(cfg.Clients.HRCore, cacheProvider, cfg.Cache.ActiveCycleTTL, logger)

	var store services.RiskStore
	if cfg.Postgres.DSN != "" {
		pgStore, err := repo.NewPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			logger.Error("postgres unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("no postgres DSN configured, using in-memory store")
		store = repo.NewMemoryStore()
	}

	rulePack, err := engine.LoadRulePack(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	manager := lifecycle.NewManager(store, logger, nil)
	pipeline := engine.NewPipeline(
		hrClient,
		extractors.NewFeatureExtractor(rulePack.NegativeKeywords, nil),
		engine.NewRuleScorer(rulePack, logger),
		engine.NewEnsemble(cfg.Analysis, logger),
		engine.NewPotentialScorer(nil),
		manager,
		cfg.Sweep.Workers,
		logger,
	)

	var sink notify.Sink = notify.NoopSink{}
	if cfg.Notify.WebhookURL != "" {
		sink = notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
	}

	riskService := services.NewRiskService(logger, store, hrClient, pipeline, manager, sink)
	riskService.UseReportCache(cacheProvider, cfg.Cache.PopulationReportTTL)
	riskService.StartScheduler(ctx, cfg.Sweep.Interval)

	server, err := api.NewServer(cfg.Server, api.NewHandlers(riskService, logger), logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("risk-engine stopped")
}
