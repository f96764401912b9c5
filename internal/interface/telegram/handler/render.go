// Package handler contains Telegram command handlers.
// Each handler parses the payload, calls the session manager or an
// application handler, and answers with a presenter text.
package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/interface/telegram/presenter"
	"github.com/alem-hub/study-buddy/pkg/circuitbreaker"
)

// ErrNoMessage is returned when a session has no Telegram message to edit.
var ErrNoMessage = errors.New("session has no message to render into")

// Messenger sends and edits messages. *tele.Bot implements it.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// RENDERER
// Keeps a session's message in step with its clock. Telegram rejects edits
// that do not change the text, so the last text per session is remembered.
// ══════════════════════════════════════════════════════════════════════════════

// Renderer edits the *tele.Message a session carries as its render ref.
type Renderer struct {
	messenger Messenger
	loc       *time.Location
	breaker   *circuitbreaker.CircuitBreaker

	mu   sync.Mutex
	last map[string]string
}

// NewRenderer creates a Renderer showing deadlines in loc.
func NewRenderer(messenger Messenger, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{
		messenger: messenger,
		loc:       loc,
		last:      make(map[string]string),
	}
}

// WithBreaker routes live edits through cb. While it is open, ticks are
// skipped; final renders are always attempted.
func (r *Renderer) WithBreaker(cb *circuitbreaker.CircuitBreaker) *Renderer {
	r.breaker = cb
	return r
}

// APIFailure reports whether an edit error says something about the Bot API
// as a whole. Per-message rejections (4xx other than 429) do not.
func APIFailure(err error) bool {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return true
}

// Render implements timer.RenderFunc.
func (r *Renderer) Render(ctx context.Context, snap session.Snapshot) error {
	msg, ok := snap.RenderRef.(*tele.Message)
	if !ok || msg == nil {
		return ErrNoMessage
	}
	return r.show(ctx, snap.ID, msg, presenter.Snapshot(snap, r.loc), snap.IsTerminal())
}

// show edits msg to text unless it already shows it. A final show forgets
// the session.
func (r *Renderer) show(ctx context.Context, key string, msg *tele.Message, text string, final bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	unchanged := r.last[key] == text
	if final {
		delete(r.last, key)
	}
	r.mu.Unlock()

	if unchanged {
		return nil
	}

	edit := func(context.Context) error {
		_, err := r.messenger.Edit(msg, text)
		if errors.Is(err, tele.ErrSameMessageContent) {
			return nil
		}
		return err
	}

	var err error
	if r.breaker != nil && !final {
		err = r.breaker.Execute(ctx, edit)
		if circuitbreaker.Rejected(err) {
			return nil
		}
	} else {
		err = edit(ctx)
	}
	if err != nil {
		return fmt.Errorf("edit message %d: %w", msg.ID, err)
	}

	if !final {
		r.mu.Lock()
		r.last[key] = text
		r.mu.Unlock()
	}
	return nil
}

// Tracked returns how many sessions have a remembered text.
func (r *Renderer) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.last)
}
