package middleware

import (
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/pkg/logger"
)

// Logging logs every handled update with its command, sender and latency.
func Logging(log *slog.Logger) tele.MiddlewareFunc {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("telegram"))

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			start := time.Now()
			err := next(c)

			attrs := []any{
				logger.Command(commandOf(c)),
				logger.Latency(time.Since(start)),
			}
			if sender := c.Sender(); sender != nil {
				attrs = append(attrs, logger.TelegramID(sender.ID))
			}

			if err != nil {
				log.Warn("update failed", append(attrs, logger.Err(err))...)
			} else {
				log.Debug("update handled", attrs...)
			}
			return err
		}
	}
}
