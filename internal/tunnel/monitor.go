package tunnel

import (
	"context"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/db"
)

// StatusEvent is published to subscribers whenever the tunnel changes state
type StatusEvent struct {
	Status       string    `json:"status"`
	RestartCount int       `json:"restartCount"`
	At           time.Time `json:"at"`
	Reason       string    `json:"reason,omitempty"`
}

// Snapshot is the externally visible monitor state
type Snapshot struct {
	Status       string     `json:"status"`
	RestartCount int        `json:"restartCount"`
	UptimeS      int64      `json:"uptimeS"`
	LastError    string     `json:"lastError,omitempty"`
	Since        time.Time  `json:"since"`
	NextRestart  *time.Time `json:"nextRestart,omitempty"`
}

// Monitor owns the cloudflared process. It is the only writer of tunnel
// state: external callers may request Reload or read Snapshot, never touch
// the process directly.
type Monitor struct {
	launch   func() (Process, error)
	ping     func() bool
	database *db.DB
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.Mutex
	proc         Process
	status       string
	failures     int
	restartCount int
	backoffIdx   int
	nextRestart  time.Time
	startedAt    time.Time
	lastError    string
	subscribers  []chan StatusEvent
}

// NewMonitor creates a tunnel health monitor. command is the cloudflared
// argv; pingURL is the local readiness endpoint checked on every tick.
func NewMonitor(command []string, pingURL string, database *db.DB, logger *slog.Logger) *Monitor {
	return &Monitor{
		launch: func() (Process, error) {
			p, err := NewExecProcess(command)
			if err != nil {
				return nil, err
			}
			return p, p.Start()
		},
		ping:     func() bool { return httpPing(pingURL) },
		database: database,
		logger:   logger,
		now:      time.Now,
		status:   constants.TunnelStatusDown,
	}
}

// Start launches the tunnel process and marks it up
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	proc, err := m.launch()
	if err != nil {
		m.lastError = err.Error()
		m.setStatusLocked(constants.TunnelStatusDown, err.Error())
		m.scheduleRestartLocked()
		return err
	}
	m.proc = proc
	m.startedAt = m.now()
	m.failures = 0
	m.backoffIdx = 0
	m.setStatusLocked(constants.TunnelStatusUp, "started")
	return nil
}

// Stop terminates the tunnel process gracefully
func (m *Monitor) Stop() {
	m.mu.Lock()
	proc := m.proc
	m.proc = nil
	m.setStatusLocked(constants.TunnelStatusDown, "stopped")
	m.mu.Unlock()

	stopGracefully(proc)
}

// Run ticks the health check until ctx is cancelled
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(constants.HealthTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick performs one liveness evaluation and advances the state machine
func (m *Monitor) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	healthy := m.proc != nil && m.proc.Alive() && m.ping()

	switch {
	case healthy:
		m.failures = 0
		m.lastError = ""
		if m.status == constants.TunnelStatusRestarting {
			// First healthy tick after a restart attempt
			m.restartCount++
			m.backoffIdx = 0
			m.setStatusLocked(constants.TunnelStatusUp, "recovered")
		} else if m.status != constants.TunnelStatusUp {
			m.setStatusLocked(constants.TunnelStatusUp, "healthy")
		}

	case m.status == constants.TunnelStatusUp:
		m.failures++
		m.logger.Warn("tunnel health check failed",
			"consecutive_failures", m.failures)
		if m.failures >= constants.HealthFailureThreshold {
			m.lastError = "liveness check failed"
			m.setStatusLocked(constants.TunnelStatusDown, "liveness check failed")
			m.scheduleRestartLocked()
		}

	default:
		// down or restarting and still unhealthy: attempt when due
		if !now.Before(m.nextRestart) {
			m.attemptRestartLocked()
		}
	}

	m.persistLocked(now)
}

// Reload asks the running process to pick up config changes. A dead process
// gets a restart attempt instead.
func (m *Monitor) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc != nil && m.proc.Alive() {
		if err := m.proc.Signal(syscall.SIGHUP); err == nil {
			m.logger.Info("tunnel reload signalled")
			return
		}
	}
	m.logger.Warn("tunnel not running, reload escalated to restart")
	m.attemptRestartLocked()
}

// Snapshot returns the current monitor state
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Status:       m.status,
		RestartCount: m.restartCount,
		LastError:    m.lastError,
		Since:        m.startedAt,
	}
	if m.status == constants.TunnelStatusUp && !m.startedAt.IsZero() {
		s.UptimeS = int64(m.now().Sub(m.startedAt).Seconds())
	}
	if m.status != constants.TunnelStatusUp && !m.nextRestart.IsZero() {
		next := m.nextRestart
		s.NextRestart = &next
	}
	return s
}

// Subscribe registers a status-change listener. The returned cancel func
// must be called when the listener goes away.
func (m *Monitor) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 8)

	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub == ch {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func (m *Monitor) attemptRestartLocked() {
	// The old process is stopped off the lock: WaitExit can block for the
	// whole grace period, and readers must not wait behind it.
	if old := m.proc; old != nil {
		m.proc = nil
		go stopGracefully(old)
	}

	m.setStatusLocked(constants.TunnelStatusRestarting, "restart attempt")

	proc, err := m.launch()
	if err != nil {
		m.lastError = err.Error()
		m.logger.Error("tunnel restart failed", "error", err)
		m.scheduleRestartLocked()
		return
	}
	m.proc = proc
	m.startedAt = m.now()
	m.failures = 0
	// Stay in restarting until a tick confirms health
	m.scheduleRestartLocked()
}

// scheduleRestartLocked arms the next restart attempt at the current backoff
// level and advances the level, saturating at the last one.
func (m *Monitor) scheduleRestartLocked() {
	backoff := constants.TunnelRestartBackoff
	level := m.backoffIdx
	if level >= len(backoff) {
		level = len(backoff) - 1
	}
	m.nextRestart = m.now().Add(backoff[level])
	if m.backoffIdx < len(backoff)-1 {
		m.backoffIdx++
	}
}

func (m *Monitor) setStatusLocked(status, reason string) {
	if m.status == status {
		return
	}
	m.status = status
	m.logger.Info("tunnel status change", "status", status, "reason", reason)

	event := StatusEvent{
		Status:       status,
		RestartCount: m.restartCount,
		At:           m.now(),
		Reason:       reason,
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber loses events rather than stalling the monitor
		}
	}
}

func (m *Monitor) persistLocked(now time.Time) {
	if m.database == nil {
		return
	}
	event := &db.TunnelHealthEvent{
		Timestamp:    now,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == constants.TunnelStatusUp && !m.startedAt.IsZero() {
		event.UptimeS = int64(now.Sub(m.startedAt).Seconds())
	}
	if m.lastError != "" {
		lastErr := m.lastError
		event.LastError = &lastErr
	}
	if err := m.database.AppendTunnelHealth(event); err != nil {
		m.logger.Warn("failed to persist tunnel health", "error", err)
	}
}
