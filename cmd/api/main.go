// Package main - точка входа HTTP API Lernportal Hub.
//
// API принимает начисления очков за активность ученика и отдаёт прогресс,
// значки, таблицу лидеров и расписание уроков с окном входа.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/deutsch-portal/lernportal-hub/config"
	"github.com/deutsch-portal/lernportal-hub/internal/app"
	"github.com/deutsch-portal/lernportal-hub/internal/application/command"
	"github.com/deutsch-portal/lernportal-hub/internal/application/query"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	httpapi "github.com/deutsch-portal/lernportal-hub/internal/interface/http"
	"github.com/deutsch-portal/lernportal-hub/internal/interface/http/handlers"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
)

const serviceName = "lernportal-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := app.NewLogger(cfg).With(logger.Component(serviceName))
	defer log.Sync()

	log.Info("starting Lernportal API",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.String("store", cfg.Database.Driver),
	)

	shutdownTracing, err := app.InitTracing(ctx, cfg, serviceName, log)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 2. ИНФРАСТРУКТУРА
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
	// 3. ОБРАБОТЧИКИ КОМАНД И ЗАПРОСОВ
	// ─────────────────────────────────────────────────────────────────────────
	awardPoints := command.NewAwardPointsHandler(
		infra.Progress,
		infra.Clock,
		bus,
		infra.LeaderboardCache(),
		log,
		command.AwardPointsHandlerConfig{Features: cfg.Features},
	)

	window := session.Window{Before: cfg.Session.JoinBefore, After: cfg.Session.JoinAfter}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if infra.StorePinger != nil {
		health.AddCheck("store", handlers.PingCheck(infra.StorePinger))
	}
	if infra.Redis != nil {
		health.AddOptionalCheck("redis", handlers.PingCheck(infra.Redis))
	}
	if infra.Leaderboard != nil {
		health.AddOptionalCheck("leaderboard_cache", infra.Leaderboard.Check)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.AllowedOrigins = cfg.HTTP.CORSOrigins
	httpCfg.EnableTracing = cfg.Observability.TracingEnabled
	httpCfg.ServiceName = serviceName
	httpCfg.CalendarHours = session.HourRange{From: cfg.Session.FirstHour, To: cfg.Session.LastHour}
	if cfg.App.Debug {
		httpCfg.Mode = gin.DebugMode
	}

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		AwardPoints:    awardPoints,
		GetProgress:    query.NewGetProgressHandler(infra.Progress, infra.Clock),
		GetHistory:     query.NewGetHistoryHandler(infra.Progress),
		GetBadges:      query.NewGetBadgesHandler(infra.Progress),
		GetLeaderboard: query.NewGetLeaderboardHandler(infra.Progress, infra.LeaderboardCache(), infra.Clock, log),
		JoinWindow:     query.NewJoinWindowHandler(infra.Clock, window),
		WeekCalendar:   query.NewWeekCalendarHandler(infra.Lessons, infra.Clock, window),
		HealthChecker:  health,
		Logger:         log,
	})

	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}
