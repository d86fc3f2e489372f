// Package main is the SparkQuest Hub API server.
//
// It serves the learning core over HTTP: section content resolution,
// progress and rewards, streaks, achievements, and a per-child change
// stream. Background jobs (celebration flushing, balance reconciliation)
// run in-process on the scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sparkquest/sparkquest-hub/config"
	"github.com/sparkquest/sparkquest-hub/internal/application/command"
	"github.com/sparkquest/sparkquest-hub/internal/application/eventhandler"
	"github.com/sparkquest/sparkquest-hub/internal/application/query"
	"github.com/sparkquest/sparkquest-hub/internal/application/saga"
	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/external/openai"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/messaging"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/redis"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/scheduler"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/sparkquest/sparkquest-hub/internal/interface/http"
	"github.com/sparkquest/sparkquest-hub/internal/interface/http/handlers"
	"github.com/sparkquest/sparkquest-hub/pkg/circuitbreaker"
	"github.com/sparkquest/sparkquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

// eventBus is satisfied by both the in-process and the Redis bus.
type eventBus interface {
	shared.EventBus
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting SparkQuest Hub API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.App.Timezone,
		"driver", cfg.Database.Driver,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	stores, err := persistence.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		log.Info("closing storage...")
		if err := stores.Close(); err != nil {
			log.Warn("storage close failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional: balance cache, section cache, cross-instance events)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		cache        *redis.Cache
		balanceCache ledger.BalanceCache
		content      topic.ContentStore = stores.Content
	)
	if !cfg.Redis.Disabled {
		cache, err = redis.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, running without cache", logger.Err(err))
			cache = nil
		} else {
			defer cache.Close()
			balanceCache = redis.NewBalanceCache(cache, cfg.Redis.BalanceTTL)
			content = redis.NewSectionCache(stores.Content, cache, cfg.Redis.SectionTTL, log)
			log.Info("redis connected", "addr", redisConfig(cfg.Redis).Addr())
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. EVENT BUS & SYNC HUB
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	busConfig.Metrics = m

	var bus eventBus
	if cache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(cache),
			LocalBusConfig: busConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		bus = redisBus
	} else {
		bus = messaging.NewInMemoryEventBus(busConfig)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	hub, err := messaging.NewChildHub(bus, cfg.Engagement.DedupeWindow, log)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. CONTENT GENERATOR
	// ─────────────────────────────────────────────────────────────────────────
	breaker := circuitbreaker.GeneratorBreaker(
		cfg.Generator.BreakerThreshold,
		cfg.Generator.BreakerTimeout,
		func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	)

	var (
		generator   topic.Generator
		illustrator topic.Illustrator
	)
	if cfg.Generator.Enabled() {
		client := openai.NewClient(openAIConfig(cfg.Generator, log))
		generator = client
		if cfg.Features.IsEnabled(config.FeatureIllustrations, nil) {
			illustrator = client
		}
		log.Info("content generator enabled", "model", cfg.Generator.Model)
	} else {
		log.Warn("OPENAI_API_KEY is not set, sections will use outline fallbacks")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. COMMANDS, QUERIES & SAGAS
	// ─────────────────────────────────────────────────────────────────────────
	resolver := command.NewSectionResolver(stores.Topics, content, stores.Illustrations, generator, illustrator, bus,
		command.ResolverConfig{
			GenerationTimeout:   cfg.Resolver.GenerationTimeout,
			IllustrationTimeout: cfg.Resolver.IllustrationTimeout,
			FallbackTTL:         cfg.Resolver.FallbackTTL,
			FallbackMemoSize:    cfg.Resolver.FallbackMemoSize,
			Breaker:             breaker,
			Metrics:             m,
			Logger:              log,
		})

	ledgerHandler := command.NewAppendTransactionHandler(stores.Ledger, balanceCache, bus,
		command.AppendTransactionConfig{Logger: log})

	rewards := command.RewardSchedule{
		Section:     cfg.Rewards.Section,
		Quiz:        cfg.Rewards.Quiz,
		Certificate: cfg.Rewards.Certificate,
		StreakBonus: cfg.Rewards.StreakBonus,
	}
	progressCfg := command.ProgressConfig{
		Topics:    stores.Topics,
		Progress:  stores.Progress,
		Ledger:    ledgerHandler,
		Publisher: bus,
		Rewards:   rewards,
		Metrics:   m,
		Logger:    log,
	}

	activity := command.NewRecordActivityHandler(stores.Streaks, ledgerHandler, bus, command.RecordActivityConfig{
		Location:        cfg.App.Location,
		FreezeAvailable: cfg.Engagement.FreezeDefault,
		FreezeFor:       cfg.Features.Gate(config.FeatureStreakFreeze),
		BonusAmount:     rewards.StreakBonus,
		Metrics:         m,
		Logger:          log,
	})

	evaluator := achievement.NewEvaluator()
	loader := query.NewMetricsLoader(stores.Ledger, stores.Streaks, stores.Progress, cfg.App.Location, nil)
	achievements := saga.NewAchievementFlowSaga(loader, stores.Snapshots, bus, saga.AchievementFlowConfig{
		Evaluator: evaluator,
		Logger:    log,
	})

	learning := saga.NewLearningFlowSaga(saga.LearningFlowDeps{
		Sections:     command.NewCompleteSectionHandler(progressCfg),
		Quizzes:      command.NewCompleteQuizHandler(progressCfg),
		Certificates: command.NewIssueCertificateHandler(progressCfg),
		Activity:     activity,
		Achievements: achievements,
		Logger:       log,
	})

	celebrations := eventhandler.NewCelebrationHandler(
		achievement.NewDebouncer(cfg.Engagement.CelebrationCooldown, nil),
		bus,
		eventhandler.CelebrationConfig{
			Enabled:   cfg.Features.Gate(config.FeatureCelebrations),
			Evaluator: evaluator,
			Logger:    log,
		},
	)
	if err := celebrations.Register(bus); err != nil {
		return fmt.Errorf("failed to register celebration handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:       log,
		Timezone:     cfg.App.Location,
		TickInterval: cfg.Scheduler.TickInterval,
		JobTimeout:   cfg.Scheduler.JobTimeout,
		Metrics:      m,
	})
	if err := sched.Register(jobs.NewFlushCelebrationsJob(celebrations, log),
		scheduler.NewIntervalSchedule(cfg.Scheduler.CelebrationFlushInterval)); err != nil {
		return err
	}
	if balanceCache != nil && cfg.Scheduler.Enabled {
		reconciler := command.NewReconcileBalancesHandler(stores.Ledger, balanceCache, m, log)
		job := jobs.NewReconcileBalancesJob(reconciler, jobs.ReconcileBalancesConfig{
			Lookback: cfg.Scheduler.ReconcileLookback,
			Logger:   log,
		})
		if err := sched.Register(job, scheduler.NewDailySchedule(cfg.Scheduler.ReconcileHour, cfg.Scheduler.ReconcileMinute)); err != nil {
			return err
		}
	}
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed", "job", jobName, logger.Err(err))
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", handlers.NewPingCheck(stores))
	if cache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}
	health.AddOptionalCheck("generator", handlers.NewGeneratorCheck(func() bool {
		return breaker.State() == circuitbreaker.StateOpen
	}))

	server := httpapi.NewServer(httpConfig(cfg), httpapi.Dependencies{
		CreateTopic:      command.NewCreateTopicHandler(stores.Topics, bus, log),
		Resolver:         resolver,
		Learning:         learning,
		Transaction:      ledgerHandler,
		Topics:           stores.Topics,
		GetBalance:       query.NewGetBalanceHandler(stores.Ledger, balanceCache, log),
		ListTransactions: query.NewListTransactionsHandler(stores.Ledger),
		GetProgress:      query.NewGetProgressHandler(stores.Topics, stores.Progress),
		GetStreak:        query.NewGetStreakHandler(stores.Streaks, cfg.App.Location, nil),
		GetAchievements:  query.NewGetAchievementsHandler(loader, stores.Snapshots, evaluator),
		Hub:              hub,
		Illustrations:    cfg.Features.Gate(config.FeatureIllustrations),
		Realtime:         cfg.Features.Gate(config.FeatureRealtimeSync),
		HealthChecker:    health,
		Metrics:          m,
		Gatherer:         reg,
		Logger:           log,
	})
	errCh := server.StartAsync()

	log.Info("SparkQuest Hub API is running", "addr", cfg.HTTP.Addr)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", logger.Err(err))
			runErr = err
		}
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", logger.Err(err))
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := sched.Stop(); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if n, err := celebrations.Flush(); err != nil {
		log.Warn("final celebration flush failed", logger.Err(err))
	} else if n > 0 {
		log.Info("flushed pending celebrations", "count", n)
	}
	resolver.Wait()

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors", logger.Err(shutdownErr))
	} else {
		log.Info("shutdown completed successfully")
	}
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func setupLogger(cfg *config.Config) *slog.Logger {
	log := logger.New(logger.Options{
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    logger.Format(cfg.Observability.LogFormat),
		Output:    os.Stdout,
		AddSource: cfg.IsDevelopment(),
		Service:   cfg.App.Name,
	})
	slog.SetDefault(log)
	return log
}

func redisConfig(c config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = c.Host
	rc.Port = c.Port
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	if c.DialTimeout > 0 {
		rc.DialTimeout = c.DialTimeout
	}
	if c.ReadTimeout > 0 {
		rc.ReadTimeout = c.ReadTimeout
	}
	if c.WriteTimeout > 0 {
		rc.WriteTimeout = c.WriteTimeout
	}
	return rc
}

func openAIConfig(c config.GeneratorConfig, log *slog.Logger) openai.ClientConfig {
	oc := openai.DefaultClientConfig(c.APIKey)
	oc.BaseURL = c.BaseURL
	oc.Model = c.Model
	if c.ImageModel != "" {
		oc.ImageModel = c.ImageModel
	}
	if c.ImageSize != "" {
		oc.ImageSize = c.ImageSize
	}
	oc.MaxTokens = c.MaxTokens
	oc.Temperature = c.Temperature
	oc.RequestsPerSecond = c.RequestsPerSecond
	oc.Burst = c.Burst
	if c.HTTPTimeout > 0 {
		oc.HTTPTimeout = c.HTTPTimeout
	}
	oc.Logger = log
	return oc
}

func httpConfig(cfg *config.Config) httpapi.Config {
	hc := httpapi.DefaultConfig()
	hc.Addr = cfg.HTTP.Addr
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.RequestTimeout = cfg.HTTP.RequestTimeout
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.EnableMetrics = cfg.Observability.MetricsEnabled
	if cfg.Observability.MetricsPath != "" {
		hc.MetricsPath = cfg.Observability.MetricsPath
	}
	hc.RequestsPerSecond = cfg.HTTP.RequestsPerSec
	hc.RequestBurst = cfg.HTTP.RequestBurst
	hc.StreamPing = cfg.HTTP.StreamPing
	hc.Version = cfg.App.Version
	return hc
}
