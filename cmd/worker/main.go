// Package main - точка входа для фоновых процессов (Worker) Lernportal Hub.
//
// Worker отвечает за периодические задачи:
// - Пересборка кэша таблицы лидеров в Redis
// - Напоминания ученикам, чья серия прервётся, если сегодня не заниматься
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/deutsch-portal/lernportal-hub/config"
	"github.com/deutsch-portal/lernportal-hub/internal/app"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/scheduler"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/scheduler/jobs"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

const serviceName = "lernportal-worker"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ И ТРАССИРОВКИ
	// ─────────────────────────────────────────────────────────────────────────
	log := app.NewLogger(cfg).With(logger.Component(serviceName))
	defer log.Sync()

	log.Info("starting Lernportal Worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("timezone", cfg.App.Timezone),
	)

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, nothing to do")
		return nil
	}

	shutdownTracing, err := app.InitTracing(ctx, cfg, serviceName, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ИНФРАСТРУКТУРА (хранилище, Redis, шина событий)
	// ─────────────────────────────────────────────────────────────────────────
	infra, err := app.OpenInfrastructure(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open infrastructure: %w", err)
	}
	defer infra.Close()

	bus, err := infra.NewEventBus()
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: cfg.App.Location,
	})

	if cache := infra.LeaderboardCache(); cache != nil {
		rebuild := jobs.NewRebuildLeaderboardJob(infra.Progress, cache, bus, infra.Clock, log, jobs.RebuildLeaderboardConfig{
			Size:    cfg.Ledger.LeaderboardCacheSize,
			Timeout: cfg.Scheduler.JobTimeout,
		})
		if err := sched.Register(rebuild, scheduler.Every(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return fmt.Errorf("register %s: %w", rebuild.Name(), err)
		}
	} else {
		log.Info("leaderboard cache off, rebuild job not scheduled")
	}

	if cfg.Features.StreakReminders() {
		reminder := jobs.NewStreakReminderJob(infra.Progress, bus, infra.Clock, log)
		if err := sched.Register(reminder, scheduler.Cron(cfg.Scheduler.StreakReminderCron)); err != nil {
			return fmt.Errorf("register %s: %w", reminder.Name(), err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	for _, job := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", job.Name),
			logger.String("schedule", job.Schedule),
			logger.Time("next_run", job.NextRun),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal, stopping scheduler...")

	if err := sched.Stop(); err != nil {
		log.Warn("scheduler stop failed", logger.Err(err))
	}

	log.Info("shutdown completed successfully")
	return nil
}
