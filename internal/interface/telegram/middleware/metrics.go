package middleware

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v3"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// In-process counters per command, exposed through the HTTP health endpoint.
// ══════════════════════════════════════════════════════════════════════════════

// Metrics collects command counters.
type Metrics struct {
	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64
	rateLimited    atomic.Int64
	panics         atomic.Int64

	mu       sync.Mutex
	commands map[string]*commandMetrics
}

type commandMetrics struct {
	count    int64
	errors   int64
	total    time.Duration
	max      time.Duration
	lastSeen time.Time
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{commands: make(map[string]*commandMetrics)}
}

// Middleware returns the telebot middleware.
func (m *Metrics) Middleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			m.totalRequests.Add(1)
			m.activeRequests.Add(1)
			defer m.activeRequests.Add(-1)

			start := time.Now()
			err := next(c)
			m.record(commandOf(c), time.Since(start), err)
			return err
		}
	}
}

func (m *Metrics) record(command string, d time.Duration, err error) {
	if err != nil {
		m.totalErrors.Add(1)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cm, ok := m.commands[command]
	if !ok {
		cm = &commandMetrics{}
		m.commands[command] = cm
	}
	cm.count++
	if err != nil {
		cm.errors++
	}
	cm.total += d
	if d > cm.max {
		cm.max = d
	}
	cm.lastSeen = time.Now()
}

func (m *Metrics) recordLimited() { m.rateLimited.Add(1) }

func (m *Metrics) recordPanic() { m.panics.Add(1) }

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	TotalRequests  int64             `json:"total_requests"`
	TotalErrors    int64             `json:"total_errors"`
	ActiveRequests int64             `json:"active_requests"`
	RateLimited    int64             `json:"rate_limited"`
	Panics         int64             `json:"panics"`
	Commands       []CommandSnapshot `json:"commands"`
}

// CommandSnapshot holds the counters of one command.
type CommandSnapshot struct {
	Name        string        `json:"name"`
	Count       int64         `json:"count"`
	Errors      int64         `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
	MaxDuration time.Duration `json:"max_duration_ns"`
	LastSeen    time.Time     `json:"last_seen"`
}

// Snapshot returns the counters, commands sorted by name.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
		RateLimited:    m.rateLimited.Load(),
		Panics:         m.panics.Load(),
	}

	m.mu.Lock()
	snap.Commands = make([]CommandSnapshot, 0, len(m.commands))
	for name, cm := range m.commands {
		cs := CommandSnapshot{
			Name:        name,
			Count:       cm.count,
			Errors:      cm.errors,
			MaxDuration: cm.max,
			LastSeen:    cm.lastSeen,
		}
		if cm.count > 0 {
			cs.AvgDuration = cm.total / time.Duration(cm.count)
		}
		snap.Commands = append(snap.Commands, cs)
	}
	m.mu.Unlock()

	sort.Slice(snap.Commands, func(i, j int) bool { return snap.Commands[i].Name < snap.Commands[j].Name })
	return snap
}

// commandOf returns the leading "/command" of the message, without a
// "@botname" suffix, or "text" for plain messages.
func commandOf(c tele.Context) string {
	msg := c.Message()
	if msg == nil {
		return "update"
	}
	text := msg.Text
	if !strings.HasPrefix(text, "/") {
		return "text"
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}
