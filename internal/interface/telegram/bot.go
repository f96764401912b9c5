// Package telegram wires the study commands into a telebot bot. Updates
// arrive by long polling, or through the HTTP webhook endpoint when a public
// URL is configured.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/internal/application/command"
	"github.com/alem-hub/study-buddy/internal/application/query"
	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/handler"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/middleware"
	"github.com/alem-hub/study-buddy/pkg/circuitbreaker"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

// SecretTokenHeader carries the webhook secret Telegram echoes back.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateSize bounds a webhook request body.
const maxUpdateSize = 1 << 20

var (
	ErrTokenRequired  = errors.New("telegram token is required")
	ErrAlreadyRunning = errors.New("bot is already running")
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Token is the Telegram Bot API token.
	Token string

	// WebhookURL switches the bot to webhook mode when set.
	WebhookURL string

	// SecretToken is checked on every webhook request when set.
	SecretToken string

	// PollTimeout is the long polling timeout.
	PollTimeout time.Duration

	// AdminIDs are exempt from rate limiting.
	AdminIDs []int64

	// RateLimit commands per second per user, with RateBurst burst.
	RateLimit float64
	RateBurst int

	// AllowedUpdates specifies which update types to receive.
	AllowedUpdates []string

	// Offline skips the getMe call, for tests.
	Offline bool

	Debug  bool
	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig(token string) BotConfig {
	return BotConfig{
		Token:          token,
		PollTimeout:    10 * time.Second,
		RateLimit:      1,
		RateBurst:      5,
		AllowedUpdates: []string{"message"},
		Logger:         slog.Default(),
	}
}

// BotDependencies contains all dependencies for the bot handlers.
type BotDependencies struct {
	Sessions      handler.SessionManager
	SessionConfig handler.SessionConfig

	CheckIn *command.CheckInHandler
	Streak  *query.GetStreakHandler
	Stats   *query.GetStudyStatsHandler
	Board   *query.GetStudyBoardHandler
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the Telegram bot controller.
type Bot struct {
	config BotConfig
	api    *tele.Bot
	logger *slog.Logger

	sessions *handler.SessionHandler
	study    *handler.StudyHandler

	metrics     *middleware.Metrics
	rateLimiter *middleware.RateLimiter

	running atomic.Bool
}

// NewBot creates the bot and registers every command.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if config.Token == "" {
		return nil, ErrTokenRequired
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if len(config.AllowedUpdates) == 0 {
		config.AllowedUpdates = []string{"message"}
	}
	log := config.Logger.With(logger.Component("telegram_bot"))

	api, err := tele.NewBot(tele.Settings{
		Token:   config.Token,
		Poller:  &tele.LongPoller{Timeout: config.PollTimeout, AllowedUpdates: config.AllowedUpdates},
		Verbose: config.Debug,
		Offline: config.Offline,
		OnError: func(err error, c tele.Context) {
			log.Error("telebot error", logger.Err(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telebot: %w", err)
	}

	metrics := middleware.NewMetrics()
	b := &Bot{
		config:   config,
		api:      api,
		logger:   log,
		sessions: handler.NewSessionHandler(deps.Sessions, api, deps.SessionConfig, config.Logger),
		study:    handler.NewStudyHandler(deps.CheckIn, deps.Streak, deps.Stats, deps.Board, config.Logger),
		metrics:  metrics,
		rateLimiter: middleware.NewRateLimiter(middleware.RateLimitConfig{
			PerSecond:   config.RateLimit,
			Burst:       config.RateBurst,
			Whitelisted: config.AdminIDs,
			Logger:      config.Logger,
		}).WithMetrics(metrics),
	}

	// Live renders back off while the Bot API is failing.
	b.sessions.Renderer().WithBreaker(circuitbreaker.New("telegram-edits",
		circuitbreaker.WithFailureThreshold(5),
		circuitbreaker.WithCoolDown(30*time.Second),
		circuitbreaker.WithIsFailure(handler.APIFailure),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
	))

	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerHandlers() {
	recovery := middleware.NewRecoveryMiddleware(middleware.RecoveryConfig{
		EnableStackTrace: true,
		Logger:           b.config.Logger,
	}).WithMetrics(b.metrics)

	b.api.Use(
		recovery.Middleware(),
		middleware.Logging(b.config.Logger),
		b.metrics.Middleware(),
		b.rateLimiter.Middleware(),
	)

	b.api.Handle("/start", handler.Start)
	b.api.Handle("/help", handler.Help)

	b.api.Handle("/countdown", b.sessions.Countdown)
	b.api.Handle("/pomodoro", b.sessions.Pomodoro)
	b.api.Handle("/stopwatch", b.sessions.Stopwatch)
	b.api.Handle("/pause", b.sessions.Pause)
	b.api.Handle("/resume", b.sessions.Resume)
	b.api.Handle("/stop", b.sessions.Stop)
	b.api.Handle("/status", b.sessions.Status)

	b.api.Handle("/checkin", b.study.CheckIn)
	b.api.Handle("/streak", b.study.Streak)
	b.api.Handle("/stats", b.study.Stats)
	b.api.Handle("/top", b.study.Top)

	b.api.Handle(tele.OnText, onText)
}

// onText answers free text in private chats only; groups stay quiet.
func onText(c tele.Context) error {
	if chat := c.Chat(); chat == nil || chat.Type != tele.ChatPrivate {
		return nil
	}
	return c.Send("I only understand commands. Send /help for the list.")
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Mode returns "webhook" or "polling".
func (b *Bot) Mode() string {
	if b.config.WebhookURL != "" {
		return "webhook"
	}
	return "polling"
}

// Start receives updates until ctx is cancelled. In webhook mode it
// registers the webhook and updates arrive through WebhookHandler.
func (b *Bot) Start(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	b.logger.Info("starting telegram bot", "mode", b.Mode(), "bot", b.api.Me.Username)

	if b.config.WebhookURL != "" {
		err := b.api.SetWebhook(&tele.Webhook{
			Endpoint:       &tele.WebhookEndpoint{PublicURL: b.config.WebhookURL},
			SecretToken:    b.config.SecretToken,
			AllowedUpdates: b.config.AllowedUpdates,
		})
		if err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		<-ctx.Done()
		b.logger.Info("telegram bot stopped", "mode", b.Mode())
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.api.Start()
	}()

	<-ctx.Done()
	b.api.Stop()
	<-done

	b.logger.Info("telegram bot stopped", "mode", b.Mode())
	return nil
}

// IsRunning reports whether Start is receiving updates.
func (b *Bot) IsRunning() bool {
	return b.running.Load()
}

// WebhookHandler accepts updates posted by Telegram. Updates are refused
// with 503 while the bot is not running, so Telegram retries them later.
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.config.WebhookURL == "" {
			http.NotFound(w, r)
			return
		}
		if !b.running.Load() {
			http.Error(w, "bot is not running", http.StatusServiceUnavailable)
			return
		}
		if b.config.SecretToken != "" {
			got := r.Header.Get(SecretTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(b.config.SecretToken)) != 1 {
				http.Error(w, "invalid secret token", http.StatusUnauthorized)
				return
			}
		}

		var update tele.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUpdateSize)).Decode(&update); err != nil {
			http.Error(w, "malformed update", http.StatusBadRequest)
			return
		}

		b.api.ProcessUpdate(update)
		w.WriteHeader(http.StatusOK)
	})
}

// OnExpired is the hook for the stopwatch expiry job.
func (b *Bot) OnExpired(ctx context.Context, snap session.Snapshot) {
	b.sessions.Expired(ctx, snap)
}

// Metrics returns the command counters.
func (b *Bot) Metrics() middleware.MetricsSnapshot {
	return b.metrics.Snapshot()
}
