package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in handlers, logs them with the stack and answers the user
// with a short apology. The bot keeps serving other updates.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace captures the stack of the panicking goroutine.
	EnableStackTrace bool

	// UserErrorMessage is sent to the user when a panic occurs.
	UserErrorMessage string

	// OnPanic is called after the panic is logged.
	OnPanic func(info *PanicInfo)

	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
		UserErrorMessage: "Something went wrong on my side. Please try again in a minute.",
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	PanicValue any
	StackTrace string
	TelegramID int64
	Command    string
	Timestamp  time.Time
}

// Error returns the panic value as an error string.
func (p *PanicInfo) Error() string {
	return fmt.Sprintf("panic in %s: %v", p.Command, p.PanicValue)
}

// RecoveryMiddleware turns handler panics into logged errors.
type RecoveryMiddleware struct {
	config RecoveryConfig
	logger *slog.Logger
	panics *Metrics
}

// NewRecoveryMiddleware creates the middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UserErrorMessage == "" {
		config.UserErrorMessage = DefaultRecoveryConfig().UserErrorMessage
	}
	return &RecoveryMiddleware{
		config: config,
		logger: config.Logger.With(logger.Component("recovery")),
	}
}

// WithMetrics counts recovered panics in m.
func (rm *RecoveryMiddleware) WithMetrics(m *Metrics) *RecoveryMiddleware {
	rm.panics = m
	return rm
}

// Middleware returns the telebot middleware.
func (rm *RecoveryMiddleware) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				info := &PanicInfo{
					PanicValue: r,
					Command:    commandOf(c),
					Timestamp:  time.Now(),
				}
				if sender := c.Sender(); sender != nil {
					info.TelegramID = sender.ID
				}
				if rm.config.EnableStackTrace {
					info.StackTrace = string(debug.Stack())
				}

				rm.logger.Error("handler panicked",
					logger.Command(info.Command),
					logger.TelegramID(info.TelegramID),
					"panic", fmt.Sprint(r),
					"stack", info.StackTrace,
				)
				if rm.panics != nil {
					rm.panics.recordPanic()
				}
				if rm.config.OnPanic != nil {
					rm.config.OnPanic(info)
				}

				err = c.Send(rm.config.UserErrorMessage)
			}()

			return next(c)
		}
	}
}
