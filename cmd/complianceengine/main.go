// Command complianceengine runs the shop policy compliance engine: the HTTP
// API, the job supervisor's worker pool, and the event stream hub, all
// sharing one configuration and one database connection pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/shopcompliance/engine/pkg/api"
	"github.com/shopcompliance/engine/pkg/config"
	"github.com/shopcompliance/engine/pkg/database"
	"github.com/shopcompliance/engine/pkg/events"
	"github.com/shopcompliance/engine/pkg/job"
	"github.com/shopcompliance/engine/pkg/metrics"
	"github.com/shopcompliance/engine/pkg/provider"
	"github.com/shopcompliance/engine/pkg/quota"
	"github.com/shopcompliance/engine/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./deploy/config.yaml"),
		"Path to the YAML configuration file")
	flag.Parse()

	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	logger := newLogger(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "json"))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal startup error", "error", err)
		os.Exit(1)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	dbCfg := database.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, User: cfg.Database.User,
		Password: os.Getenv(cfg.Database.PasswordEnv), Database: cfg.Database.Database,
		SSLMode: cfg.Database.SSLMode, MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns, ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close()
	logger.Info("connected to postgres", "host", cfg.Database.Host, "database", cfg.Database.Database)

	idempotencyStore := store.NewIdempotencyStore(dbClient.DB())
	degradationStore := store.NewDegradationStore(dbClient.DB())

	providers, limits := buildProviders(cfg.Providers)
	registry := provider.NewRegistry(providerIDs(cfg.Providers.Providers),
		provider.WithPrimary(cfg.Providers.Primary),
		provider.WithBlacklistDuration(cfg.Providers.BlacklistDuration))
	tracker := quota.NewTracker(dbClient.DB(), limits)
	manager := provider.NewManager(registry, tracker, providers,
		provider.WithCallDeadline(cfg.Providers.CallDeadline), provider.WithLogger(logger))

	eventStore := events.NewStore(dbClient.DB())
	publisher := events.NewPublisher(dbClient.DB())
	hub := events.NewHub(eventStore, connString(dbCfg), events.WithLogger(logger), events.WithHeartbeatInterval(cfg.Stream.HeartbeatInterval))
	if err := hub.Start(ctx); err != nil {
		return fmt.Errorf("start event hub: %w", err)
	}
	defer hub.Stop(context.Background())

	jobStore := job.NewStore(dbClient.DB())
	jobCfg := jobConfigFrom(cfg)
	podID := fmt.Sprintf("pod-%s", uuid.NewString()[:8])
	supervisor := job.NewSupervisor(podID, jobStore, idempotencyStore, degradationStore, manager, publisher, jobCfg, job.WithLogger(logger))
	supervisor.Start(ctx)
	defer supervisor.Stop()
	logger.Info("job supervisor started", "pod_id", podID, "worker_count", jobCfg.WorkerCount)

	metricsServer := metrics.NewServer(":9090", logger)
	metricsServer.StartAsync()
	defer metricsServer.Stop(context.Background())

	apiServer := api.NewServer(supervisor, hub, cfg.RateLimit.ForceNewPerHour)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := apiServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

func buildProviders(pool config.ProviderPoolConfig) (map[string]provider.Provider, map[string]quota.Limits) {
	providers := make(map[string]provider.Provider, len(pool.Providers))
	limits := make(map[string]quota.Limits, len(pool.Providers))

	for _, pc := range pool.Providers {
		limits[pc.ID] = quota.Limits{
			DailyTokens: pc.DailyTokens, DailyRequests: pc.DailyRequests,
			HourlyTokens: pc.HourlyTokens, HourlyRequests: pc.HourlyRequests,
		}

		switch pc.Kind {
		case config.ProviderKindGRPC:
			adapter, err := provider.NewGRPCAdapter(pc.ID, pc.Endpoint)
			if err != nil {
				slog.Error("failed to build grpc provider adapter, it will be unreachable", "provider", pc.ID, "error", err)
				continue
			}
			providers[pc.ID] = adapter
		default:
			providers[pc.ID] = provider.NewHTTPAdapter(pc.ID, pc.Endpoint, pc.Model, os.Getenv(pc.APIKeyEnv))
		}
	}
	return providers, limits
}

func providerIDs(providers []config.ProviderConfig) []string {
	ids := make([]string, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}
	return ids
}

func jobConfigFrom(cfg *config.Config) job.Config {
	return job.Config{
		WorkerCount:         cfg.Worker.WorkerCount,
		MaxConcurrentJobs:   cfg.Worker.MaxConcurrentJobs,
		PollInterval:        cfg.Worker.PollInterval,
		PollIntervalJitter:  cfg.Worker.PollIntervalJitter,
		HeartbeatInterval:   cfg.Worker.HeartbeatInterval,
		SoftStageTimeout:    cfg.Worker.SoftTimeLimit,
		HardStageTimeout:    cfg.Worker.HardTimeLimit,
		OrphanStaleAfter:    cfg.Worker.OrphanStaleAfter,
		OrphanScanInterval:  cfg.Worker.OrphanScanInterval,
		ComplianceThreshold: cfg.Pipeline.ComplianceRegenerationThreshold,
		UncertaintyLow:      cfg.Pipeline.Stage1UncertaintyLow,
		UncertaintyHigh:     cfg.Pipeline.Stage1UncertaintyHigh,
		MaxRetries:          cfg.Worker.MaxRetries,
		RetryBackoff:        cfg.Worker.RetryBackoff,
		IdempotencyTTL:      cfg.Retention.IdempotencyTTL,
		DegradationTTL:      cfg.Retention.DegradationTTL,
	}
}

func connString(cfg database.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
}
