// Package timer runs timed study sessions: one background loop per owner that
// re-renders the session on a fixed cadence until it completes or is cancelled.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
)

var (
	// ErrManagerClosed is returned by Start after Shutdown.
	ErrManagerClosed = shared.NewDomainError("timer", "Start", shared.ErrServiceUnavailable, "session manager is shut down")

	// ErrOwnerBusy is returned by a Start with IfIdle while the owner has a session.
	ErrOwnerBusy = shared.NewDomainError("timer", "Start", shared.ErrInvalidState, "owner already has a running session")
)

// RenderFunc presents a snapshot to the user. Errors and panics are logged and
// never end the session. Render functions and completion hooks must not call
// Stop for their own owner.
type RenderFunc func(ctx context.Context, snap session.Snapshot) error

// CompletionHook runs once after the final render of a completed countdown.
type CompletionHook func(snap session.Snapshot)

// StartRequest describes a session to start. Parsing user input into it is
// the caller's job.
type StartRequest struct {
	Owner  session.Owner
	Kind   string
	Mode   session.Mode
	Target session.Target

	// Tick is the render cadence; zero uses the manager default.
	Tick time.Duration

	Render     RenderFunc
	RenderRef  any
	OnComplete CompletionHook

	// IfIdle refuses to replace a registered session and returns ErrOwnerBusy.
	IfIdle bool
}

// Config configures a Manager.
type Config struct {
	// DefaultTick is used when a StartRequest has no Tick.
	DefaultTick time.Duration

	// RenderTimeout bounds a single render call.
	RenderTimeout time.Duration

	Logger *slog.Logger

	// Publisher receives lifecycle events while the session is locked, so
	// it must not block.
	Publisher shared.EventPublisher

	// Now and NewTicker replace the wall clock in tests.
	Now       func() time.Time
	NewTicker TickerFactory

	// NewID generates session IDs.
	NewID func() string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTick:   time.Second,
		RenderTimeout: 10 * time.Second,
	}
}

// Manager owns the owner → session registry and every session loop.
// Lock order: run.mu before Manager.mu.
type Manager struct {
	mu     sync.Mutex
	runs   map[session.Owner]*run
	closed bool
	wg     sync.WaitGroup

	defaultTick   time.Duration
	renderTimeout time.Duration
	logger        *slog.Logger
	publisher     shared.EventPublisher
	now           func() time.Time
	newTicker     TickerFactory
	newID         func() string
}

// run is one session plus the loop driving it.
type run struct {
	mu sync.Mutex
	s  *session.Session

	tick       time.Duration
	render     RenderFunc
	onComplete CompletionHook

	// announced is set once EventStarted went out; guarded by mu.
	announced bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a Manager.
func NewManager(config Config) *Manager {
	if config.DefaultTick <= 0 {
		config.DefaultTick = time.Second
	}
	if config.RenderTimeout <= 0 {
		config.RenderTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Publisher == nil {
		config.Publisher = shared.NopPublisher{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewTicker == nil {
		config.NewTicker = NewRealTicker
	}
	if config.NewID == nil {
		config.NewID = func() string { return uuid.New().String() }
	}

	return &Manager{
		runs:          make(map[session.Owner]*run),
		defaultTick:   config.DefaultTick,
		renderTimeout: config.RenderTimeout,
		logger:        config.Logger.With("component", "timer"),
		publisher:     config.Publisher,
		now:           config.Now,
		newTicker:     config.NewTicker,
		newID:         config.NewID,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Start registers a new running session for the owner and launches its loop.
// An existing session of the same owner is cancelled, and its loop has exited
// before the new loop renders for the first time.
func (m *Manager) Start(req StartRequest) (session.Snapshot, error) {
	if req.Render == nil {
		return session.Snapshot{}, session.ErrNoRenderer
	}
	tick := req.Tick
	if tick <= 0 {
		tick = m.defaultTick
	}

	now := m.now()
	s, err := session.New(m.newID(), req.Owner, req.Kind, req.Mode, req.Target, now, req.RenderRef)
	if err != nil {
		return session.Snapshot{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		s:          s,
		tick:       tick,
		render:     req.Render,
		onComplete: req.OnComplete,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return session.Snapshot{}, ErrManagerClosed
	}
	prev := m.runs[req.Owner]
	if prev != nil && req.IfIdle {
		m.mu.Unlock()
		cancel()
		return session.Snapshot{}, ErrOwnerBusy
	}
	m.runs[req.Owner] = r
	m.wg.Add(1)
	m.mu.Unlock()

	if prev != nil {
		m.cancelRun(prev, session.ReasonSuperseded)
		<-prev.done
	}

	// A concurrent Start may already have superseded r. It then never
	// announces, so its cancellation is not published either.
	r.mu.Lock()
	snap := s.Snapshot(now)
	if !s.Status.IsTerminal() {
		r.announced = true
		m.publish(session.EventStarted, snap, "")
	}
	r.mu.Unlock()

	m.logger.Info("session started",
		"owner", req.Owner,
		"session_id", snap.ID,
		"kind", req.Kind,
		"mode", req.Mode,
		"tick", tick.String(),
		"superseded", prev != nil,
	)

	go m.loop(r)

	return snap, nil
}

// Pause freezes the owner's session.
func (m *Manager) Pause(owner session.Owner) (session.Snapshot, error) {
	return m.mutate(owner, session.EventPaused, (*session.Session).Pause)
}

// Resume continues the owner's paused session.
func (m *Manager) Resume(owner session.Owner) (session.Snapshot, error) {
	return m.mutate(owner, session.EventResumed, (*session.Session).Resume)
}

func (m *Manager) mutate(owner session.Owner, event shared.EventType, apply func(*session.Session, time.Time) error) (session.Snapshot, error) {
	r := m.lookup(owner)
	if r == nil {
		return session.Snapshot{}, session.ErrNotFound
	}

	now := m.now()
	r.mu.Lock()
	if r.s.Status.IsTerminal() {
		r.mu.Unlock()
		return session.Snapshot{}, session.ErrNotFound
	}
	err := apply(r.s, now)
	snap := r.s.Snapshot(now)
	if err == nil && r.announced {
		m.publish(event, snap, "")
	}
	r.mu.Unlock()

	if err != nil {
		return session.Snapshot{}, err
	}
	return snap, nil
}

// Stop cancels the owner's session and returns its final snapshot.
// No render happens after Stop returns.
func (m *Manager) Stop(owner session.Owner) (session.Snapshot, error) {
	return m.stop(owner, "", session.ReasonStopped)
}

// Expire stops the owner's session only if it is still the one with the
// given ID, reporting it as expired. A replaced session yields ErrNotFound.
func (m *Manager) Expire(owner session.Owner, id string) (session.Snapshot, error) {
	return m.stop(owner, id, session.ReasonExpired)
}

func (m *Manager) stop(owner session.Owner, id string, reason session.EndReason) (session.Snapshot, error) {
	m.mu.Lock()
	r, ok := m.runs[owner]
	if ok && id != "" && r.s.ID != id {
		ok = false
	}
	if ok {
		delete(m.runs, owner)
	}
	m.mu.Unlock()

	if !ok {
		return session.Snapshot{}, session.ErrNotFound
	}

	snap, cancelled := m.cancelRun(r, reason)
	<-r.done

	// It completed between the lookup and the cancel.
	if !cancelled {
		return session.Snapshot{}, session.ErrNotFound
	}

	m.logger.Info("session stopped",
		"owner", owner,
		"session_id", snap.ID,
		"reason", reason,
		"elapsed", snap.Elapsed.String(),
	)

	return snap, nil
}

// Status returns the owner's current snapshot without side effects.
func (m *Manager) Status(owner session.Owner) (session.Snapshot, error) {
	r := m.lookup(owner)
	if r == nil {
		return session.Snapshot{}, session.ErrNotFound
	}

	snap := r.snapshot(m.now())
	if snap.IsTerminal() {
		return session.Snapshot{}, session.ErrNotFound
	}
	return snap, nil
}

// Active returns snapshots of all live sessions, oldest first.
func (m *Manager) Active() []session.Snapshot {
	m.mu.Lock()
	runs := make([]*run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.Unlock()

	now := m.now()
	snaps := make([]session.Snapshot, 0, len(runs))
	for _, r := range runs {
		if snap := r.snapshot(now); !snap.IsTerminal() {
			snaps = append(snaps, snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.Before(snaps[j].StartedAt)
	})
	return snaps
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Shutdown cancels every session and waits for all loops to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	runs := m.runs
	m.runs = make(map[session.Owner]*run)
	m.mu.Unlock()

	for _, r := range runs {
		m.cancelRun(r, session.ReasonShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("session manager stopped", "cancelled", len(runs))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session loops: %w", ctx.Err())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LOOP
// ══════════════════════════════════════════════════════════════════════════════

func (m *Manager) loop(r *run) {
	defer m.wg.Done()
	defer close(r.done)
	defer m.release(r)

	ticker := m.newTicker(r.tick)
	defer ticker.Stop()

	if snap := r.snapshot(m.now()); !snap.IsTerminal() {
		m.render(r.ctx, r, snap)
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C():
		}

		snap, completed := m.advance(r, m.now())
		if completed {
			m.complete(r, snap)
			return
		}
		if snap.IsTerminal() {
			return
		}
		m.render(r.ctx, r, snap)
	}
}

// complete renders the final state and fires the hook. The run is already
// deregistered, and the final render outlives a late cancel.
func (m *Manager) complete(r *run, snap session.Snapshot) {
	m.render(context.WithoutCancel(r.ctx), r, snap)

	m.logger.Info("session completed",
		"owner", snap.Owner,
		"session_id", snap.ID,
		"kind", snap.Kind,
	)

	if r.onComplete == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("completion hook panicked",
				"owner", snap.Owner,
				"session_id", snap.ID,
				"panic", fmt.Sprint(rec),
			)
		}
	}()
	r.onComplete(snap)
}

func (m *Manager) render(parent context.Context, r *run, snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(parent, m.renderTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("render panicked",
				"owner", snap.Owner,
				"session_id", snap.ID,
				"panic", fmt.Sprint(rec),
			)
		}
	}()

	if err := r.render(ctx, snap); err != nil {
		m.logger.Warn("render failed",
			"owner", snap.Owner,
			"session_id", snap.ID,
			"error", err,
		)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (m *Manager) lookup(owner session.Owner) *run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[owner]
}

// release removes r from the registry only if it is still the owner's current run.
func (m *Manager) release(r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.runs[r.s.Owner]; ok && cur == r {
		delete(m.runs, r.s.Owner)
	}
}

// cancelRun moves r to CANCELLED and stops its loop. cancelled is false if
// the session had already ended.
func (m *Manager) cancelRun(r *run, reason session.EndReason) (snap session.Snapshot, cancelled bool) {
	now := m.now()

	r.mu.Lock()
	err := r.s.Cancel(now)
	snap = r.s.Snapshot(now)
	if err == nil && r.announced {
		m.publish(session.EventCancelled, snap, reason)
	}
	r.mu.Unlock()

	r.cancel()
	return snap, err == nil
}

func (m *Manager) publish(eventType shared.EventType, snap session.Snapshot, reason session.EndReason) {
	event := session.NewLifecycleEvent(eventType, snap, reason, m.now())
	if err := m.publisher.Publish(event); err != nil {
		m.logger.Debug("publish session event failed",
			"event_type", eventType,
			"session_id", snap.ID,
			"error", err,
		)
	}
}

func (r *run) snapshot(now time.Time) session.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s.Snapshot(now)
}

// advance completes a due countdown and reports whether it did. A completed
// run leaves the registry before the run lock is released, so Stop and
// supersession can no longer reach it.
func (m *Manager) advance(r *run, now time.Time) (session.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.s.IsDue(now) {
		return r.s.Snapshot(now), false
	}
	_ = r.s.Complete(now)
	m.release(r)

	snap := r.s.Snapshot(now)
	if r.announced {
		m.publish(session.EventCompleted, snap, session.ReasonCompleted)
	}
	return snap, true
}
