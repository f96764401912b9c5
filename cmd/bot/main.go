// Package main is the entry point of the study-buddy Telegram bot: live
// countdowns, Pomodoro rounds and stopwatches, daily check-in streaks and a
// daily study board.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/study-buddy/config"
	"github.com/alem-hub/study-buddy/internal/application/command"
	"github.com/alem-hub/study-buddy/internal/application/eventhandler"
	"github.com/alem-hub/study-buddy/internal/application/query"
	"github.com/alem-hub/study-buddy/internal/application/timer"
	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/streak"
	"github.com/alem-hub/study-buddy/internal/infrastructure/messaging"
	"github.com/alem-hub/study-buddy/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/study-buddy/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/study-buddy/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/study-buddy/internal/infrastructure/scheduler"
	"github.com/alem-hub/study-buddy/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/alem-hub/study-buddy/internal/interface/http"
	"github.com/alem-hub/study-buddy/internal/interface/http/handlers"
	"github.com/alem-hub/study-buddy/internal/interface/telegram"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/handler"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "study-buddy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Format:  logger.Format(cfg.LogFormat()),
		Service: cfg.App.Name,
	})
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("version", version),
		slog.String("env", string(cfg.App.Environment)),
		slog.String("database", cfg.Database.Driver),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("webhook", cfg.UseWebhook()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if app.scheduler != nil {
		if err := app.scheduler.Start(gctx); err != nil {
			app.closeStores()
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	g.Go(func() error { return app.bot.Start(gctx) })
	g.Go(app.http.Start)

	// Shutdown runs once the signal arrives or any component fails.
	g.Go(func() error {
		<-gctx.Done()
		return app.shutdown(cfg.App.ShutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

type application struct {
	log *slog.Logger

	store     *store
	cache     *redis.Cache
	bus       *messaging.InMemoryEventBus
	manager   *timer.Manager
	bot       *telegram.Bot
	http      *httpserver.Server
	scheduler *scheduler.Scheduler
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	app := &application{log: log}
	loc := cfg.Location()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.store = st

	// An untyped nil keeps "board disabled" detectable downstream.
	var board session.StudyBoard
	if cfg.Redis.Enabled {
		rc := redis.DefaultConfig()
		rc.URL = cfg.Redis.URL
		rc.KeyPrefix = cfg.Redis.KeyPrefix
		cache, err := redis.NewCache(ctx, rc)
		if err != nil {
			st.close()
			return nil, err
		}
		app.cache = cache

		sb := redis.NewStudyBoard(cache, cfg.Redis.BoardTTL)
		// Sessions do not survive a restart, so neither does "studying now".
		if err := sb.ResetStudying(ctx); err != nil {
			log.Warn("reset studying set", logger.Err(err))
		}
		board = sb
	}

	app.bus = messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		Workers:   4,
		QueueSize: 256,
		Logger:    log,
	})

	journalCfg := eventhandler.DefaultJournalConfig()
	journalCfg.Location = loc
	journal := eventhandler.NewSessionJournal(st.history, board, journalCfg, log)
	if err := journal.Register(app.bus); err != nil {
		app.closeStores()
		return nil, err
	}

	managerCfg := timer.DefaultConfig()
	managerCfg.RenderTimeout = cfg.Sessions.RenderTimeout
	managerCfg.Logger = log
	managerCfg.Publisher = app.bus
	app.manager = timer.NewManager(managerCfg)

	getStreak := query.NewGetStreakHandler(st.streaks, loc)

	botCfg := telegram.DefaultBotConfig(cfg.Telegram.Token)
	botCfg.WebhookURL = cfg.Telegram.WebhookURL
	botCfg.SecretToken = cfg.Telegram.SecretToken
	botCfg.PollTimeout = cfg.Telegram.PollTimeout
	botCfg.AdminIDs = cfg.Telegram.AdminIDs
	botCfg.RateLimit = cfg.Telegram.RateLimit
	botCfg.RateBurst = cfg.Telegram.RateBurst
	botCfg.Debug = cfg.App.Debug
	botCfg.Logger = log

	bot, err := telegram.NewBot(botCfg, telegram.BotDependencies{
		Sessions: app.manager,
		SessionConfig: handler.SessionConfig{
			CountdownTick:   cfg.Sessions.CountdownTick,
			StopwatchTick:   cfg.Sessions.StopwatchTick,
			PomodoroWork:    cfg.Sessions.PomodoroWork,
			PomodoroBreak:   cfg.Sessions.PomodoroBreak,
			MaxCountdown:    cfg.Sessions.MaxCountdown,
			MaxStopwatchAge: cfg.Sessions.MaxStopwatchAge,
			Location:        loc,
		},
		CheckIn: command.NewCheckInHandler(st.streaks, loc, log),
		Streak:  getStreak,
		Stats:   query.NewGetStudyStatsHandler(st.history, board, getStreak, loc),
		Board:   query.NewGetStudyBoardHandler(board, loc),
	})
	if err != nil {
		app.closeStores()
		return nil, fmt.Errorf("create bot: %w", err)
	}
	app.bot = bot

	if cfg.Scheduler.Enabled {
		app.scheduler = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:   log,
			Timezone: loc,
		})

		expire := jobs.NewExpireStopwatchesJob(app.manager, cfg.Sessions.MaxStopwatchAge, log)
		expire.OnExpired = bot.OnExpired
		prune := jobs.NewPruneHistoryJob(st.history, cfg.Scheduler.HistoryRetention, log)

		if err := app.scheduler.Register(expire, scheduler.Every(cfg.Scheduler.ExpireInterval)); err != nil {
			app.closeStores()
			return nil, err
		}
		if err := app.scheduler.Register(prune, scheduler.Every(cfg.Scheduler.PruneInterval)); err != nil {
			app.closeStores()
			return nil, err
		}
	}

	healthCfg := handlers.HealthConfig{
		Version:        version,
		ActiveSessions: app.manager.Count,
		BotStats:       func() any { return bot.Metrics() },
	}
	if app.scheduler != nil {
		healthCfg.JobStats = func() any { return app.scheduler.ListJobs() }
	}
	health := handlers.NewHealthHandler(healthCfg)
	health.AddCheck("database", st.ping)
	if app.cache != nil {
		health.AddCheck("redis", app.cache.Ping)
	}

	deps := httpserver.Dependencies{Health: health, Logger: log}
	if cfg.UseWebhook() {
		deps.Webhook = bot.WebhookHandler()
	}
	app.http = httpserver.NewServer(httpserver.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: 1 << 20,
	}, deps)

	return app, nil
}

// shutdown stops components in reverse dependency order: inputs first, then
// the sessions they drive, then the journal, then the stores.
func (a *application) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.log.Info("shutting down", slog.Duration("timeout", timeout))

	var errs []error
	if err := a.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if a.scheduler != nil && a.scheduler.IsRunning() {
		if err := a.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if err := a.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if err := a.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("event bus: %w", err))
	}
	a.closeStores()

	return errors.Join(errs...)
}

func (a *application) closeStores() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn("close redis", logger.Err(err))
		}
	}
	a.store.close()
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// store is the journal backend selected by DATABASE_DRIVER.
type store struct {
	history session.HistoryRepository
	streaks streak.Repository
	ping    handlers.CheckFunc
	close   func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pc := postgres.DefaultConfig()
		pc.URL = cfg.Database.URL
		pc.MaxConns = cfg.Database.MaxConns
		pc.MinConns = cfg.Database.MinConns
		pc.MaxConnLifetime = cfg.Database.MaxConnLifetime
		pc.ConnectTimeout = cfg.Database.ConnectTimeout

		conn, err := postgres.NewConnection(ctx, pc)
		if err != nil {
			return nil, err
		}
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return &store{
			history: postgres.NewHistoryRepository(conn),
			streaks: postgres.NewStreakRepository(conn),
			ping:    conn.Ping,
			close:   conn.Close,
		}, nil

	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &store{
			history: sqlite.NewHistoryRepository(db),
			streaks: sqlite.NewStreakRepository(db),
			ping:    db.Ping,
			close:   func() { _ = db.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}
