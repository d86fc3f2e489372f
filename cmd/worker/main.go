// Package main is the SparkQuest Hub background worker.
//
// The worker keeps the schema current and reconciles cached spark balances
// against the ledger. It is optional: the API server runs the same
// reconciliation when SCHEDULER_ENABLED is set, so deployments with several
// API replicas usually disable it there and run one worker instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sparkquest/sparkquest-hub/config"
	"github.com/sparkquest/sparkquest-hub/internal/application/command"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/metrics"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/persistence/redis"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/scheduler"
	"github.com/sparkquest/sparkquest-hub/internal/infrastructure/scheduler/jobs"
	"github.com/sparkquest/sparkquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	once := flag.Bool("once", false, "run one reconciliation pass and exit")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *migrateOnly, *once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, migrateOnly, once bool) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Level:   logger.ParseLevel(cfg.Observability.LogLevel),
		Format:  logger.Format(cfg.Observability.LogFormat),
		Output:  os.Stdout,
		Service: cfg.App.Name + "-worker",
	})
	slog.SetDefault(log)
	log.Info("starting SparkQuest Hub worker", "env", cfg.App.Environment, "driver", cfg.Database.Driver)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE (migrations always run in the worker)
	// ─────────────────────────────────────────────────────────────────────────
	dbCfg := cfg.Database
	dbCfg.MigrateOnStart = true
	stores, err := persistence.Open(ctx, dbCfg, log)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer stores.Close()

	if migrateOnly {
		log.Info("migrations applied, exiting")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. BALANCE CACHE
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Disabled {
		return errors.New("balance reconciliation needs redis; unset REDIS_DISABLED or run with -migrate")
	}
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	cache, err := redis.NewCache(rc)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer cache.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	reconciler := command.NewReconcileBalancesHandler(stores.Ledger, redis.NewBalanceCache(cache, cfg.Redis.BalanceTTL), m, log)
	job := jobs.NewReconcileBalancesJob(reconciler, jobs.ReconcileBalancesConfig{
		Lookback: cfg.Scheduler.ReconcileLookback,
		Logger:   log,
	})

	if once {
		return job.Run(ctx)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:       log,
		Timezone:     cfg.App.Location,
		TickInterval: cfg.Scheduler.TickInterval,
		JobTimeout:   cfg.Scheduler.JobTimeout,
		Metrics:      m,
	})
	if err := sched.Register(job, scheduler.NewDailySchedule(cfg.Scheduler.ReconcileHour, cfg.Scheduler.ReconcileMinute)); err != nil {
		return err
	}
	sched.OnJobError(func(jobName string, err error) {
		log.Error("scheduled job failed", "job", jobName, logger.Err(err))
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	for _, info := range sched.ListJobs() {
		log.Info("job scheduled", "job", info.Name, "next_run", info.NextRun)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", logger.Err(err))
	}
	log.Info("shutdown completed successfully")
	return nil
}
