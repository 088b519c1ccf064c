package tunnel

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/overseer/internal/constants"
)

type fakeProcess struct {
	alive      bool
	exitOnTerm bool
	signals    []os.Signal
}

func (p *fakeProcess) Start() error { p.alive = true; return nil }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.signals = append(p.signals, sig)
	if sig == syscall.SIGTERM && p.exitOnTerm {
		p.alive = false
	}
	if sig == syscall.SIGKILL {
		p.alive = false
	}
	return nil
}

func (p *fakeProcess) Alive() bool                   { return p.alive }
func (p *fakeProcess) WaitExit(_ time.Duration) bool { return !p.alive }
func (p *fakeProcess) Pid() int                      { return 4242 }

// hungProcess survives SIGTERM and burns the whole grace period in WaitExit
type hungProcess struct {
	fakeProcess
}

func (p *hungProcess) WaitExit(timeout time.Duration) bool {
	time.Sleep(timeout)
	return false
}

type harness struct {
	monitor *Monitor
	proc    *fakeProcess
	healthy bool
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		proc:    &fakeProcess{exitOnTerm: true},
		healthy: true,
		now:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	m := NewMonitor([]string{"cloudflared", "tunnel", "run"}, "http://localhost:20241/ready", nil, logger)
	m.launch = func() (Process, error) {
		h.proc = &fakeProcess{exitOnTerm: true}
		return h.proc, h.proc.Start()
	}
	m.ping = func() bool { return h.healthy }
	m.now = func() time.Time { return h.now }

	h.monitor = m
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func TestThreeFailuresMarkDown(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}
	if got := h.monitor.Snapshot().Status; got != constants.TunnelStatusUp {
		t.Fatalf("expected up after start, got %s", got)
	}

	h.healthy = false
	h.monitor.Tick()
	h.monitor.Tick()
	if got := h.monitor.Snapshot().Status; got != constants.TunnelStatusUp {
		t.Errorf("two failures must not mark down, got %s", got)
	}

	h.monitor.Tick()
	snap := h.monitor.Snapshot()
	if snap.Status != constants.TunnelStatusDown {
		t.Errorf("expected down after three failures, got %s", snap.Status)
	}
	if snap.NextRestart == nil {
		t.Fatal("expected a restart to be scheduled")
	}
	if want := h.now.Add(constants.TunnelRestartBackoff[0]); !snap.NextRestart.Equal(want) {
		t.Errorf("expected first backoff level, got %v want %v", snap.NextRestart, want)
	}
}

func TestRecoveryCycleAndRestartCount(t *testing.T) {
	h := newHarness(t)
	events, cancel := h.monitor.Subscribe()
	defer cancel()

	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}

	h.healthy = false
	for i := 0; i < constants.HealthFailureThreshold; i++ {
		h.monitor.Tick()
	}

	// Restart is due after the first backoff level
	h.advance(constants.TunnelRestartBackoff[0])
	h.monitor.Tick()
	if got := h.monitor.Snapshot().Status; got != constants.TunnelStatusRestarting {
		t.Fatalf("expected restarting, got %s", got)
	}

	// First healthy tick after the attempt closes the cycle
	h.healthy = true
	h.monitor.Tick()
	snap := h.monitor.Snapshot()
	if snap.Status != constants.TunnelStatusUp {
		t.Errorf("expected up after recovery, got %s", snap.Status)
	}
	if snap.RestartCount != 1 {
		t.Errorf("expected restart count 1, got %d", snap.RestartCount)
	}

	var statuses []string
	for len(events) > 0 {
		statuses = append(statuses, (<-events).Status)
	}
	want := []string{
		constants.TunnelStatusUp,
		constants.TunnelStatusDown,
		constants.TunnelStatusRestarting,
		constants.TunnelStatusUp,
	}
	if len(statuses) != len(want) {
		t.Fatalf("expected %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], statuses[i])
		}
	}
}

func TestBackoffEscalatesAndSaturates(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}

	// Every relaunch fails from now on
	h.monitor.launch = func() (Process, error) {
		return nil, errors.New("spawn failed")
	}

	h.healthy = false
	for i := 0; i < constants.HealthFailureThreshold; i++ {
		h.monitor.Tick()
	}

	backoff := constants.TunnelRestartBackoff
	// First attempt already scheduled at level 0; walk through the rest,
	// then two more at the saturated final level
	expected := append(append([]time.Duration{}, backoff[1:]...), backoff[len(backoff)-1], backoff[len(backoff)-1])
	for _, level := range expected {
		snap := h.monitor.Snapshot()
		if snap.NextRestart == nil {
			t.Fatal("expected a scheduled restart")
		}
		h.now = *snap.NextRestart
		h.monitor.Tick()

		next := h.monitor.Snapshot().NextRestart
		if next == nil {
			t.Fatal("expected restart rescheduled after failed attempt")
		}
		if got := next.Sub(h.now); got != level {
			t.Errorf("expected backoff %v, got %v", level, got)
		}
	}

	if got := h.monitor.Snapshot().RestartCount; got != 0 {
		t.Errorf("failed attempts must not bump restart count, got %d", got)
	}
}

func TestRestartOfHungProcessDoesNotBlockReads(t *testing.T) {
	h := newHarness(t)
	hung := &hungProcess{}
	h.monitor.launch = func() (Process, error) {
		hung.alive = true
		return hung, nil
	}
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}

	h.monitor.launch = func() (Process, error) {
		h.proc = &fakeProcess{exitOnTerm: true}
		return h.proc, h.proc.Start()
	}

	h.healthy = false
	for i := 0; i < constants.HealthFailureThreshold; i++ {
		h.monitor.Tick()
	}
	h.advance(constants.TunnelRestartBackoff[0])

	start := time.Now()
	h.monitor.Tick()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("restart tick waited on the hung process for %v", elapsed)
	}

	done := make(chan Snapshot, 1)
	go func() { done <- h.monitor.Snapshot() }()
	select {
	case snap := <-done:
		if snap.Status != constants.TunnelStatusRestarting {
			t.Errorf("expected restarting, got %s", snap.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot blocked behind the old process stop")
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}
	h.proc.exitOnTerm = false

	h.monitor.Stop()

	if len(h.proc.signals) != 2 || h.proc.signals[0] != syscall.SIGTERM || h.proc.signals[1] != syscall.SIGKILL {
		t.Errorf("expected SIGTERM then SIGKILL, got %v", h.proc.signals)
	}
	if got := h.monitor.Snapshot().Status; got != constants.TunnelStatusDown {
		t.Errorf("expected down after stop, got %s", got)
	}
}

func TestGracefulStopSkipsKill(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}

	h.monitor.Stop()

	if len(h.proc.signals) != 1 || h.proc.signals[0] != syscall.SIGTERM {
		t.Errorf("expected only SIGTERM, got %v", h.proc.signals)
	}
}

func TestReloadSignalsRunningProcess(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}

	h.monitor.Reload()

	found := false
	for _, sig := range h.proc.signals {
		if sig == syscall.SIGHUP {
			found = true
		}
	}
	if !found {
		t.Error("expected SIGHUP on reload")
	}
	if got := h.monitor.Snapshot().Status; got != constants.TunnelStatusUp {
		t.Errorf("reload must not change status, got %s", got)
	}
}

func TestReloadOfDeadProcessRestarts(t *testing.T) {
	h := newHarness(t)
	if err := h.monitor.Start(); err != nil {
		t.Fatal(err)
	}
	h.proc.alive = false

	h.monitor.Reload()

	if got := h.monitor.Snapshot().Status; got != constants.TunnelStatusRestarting {
		t.Errorf("expected restarting after reload of dead process, got %s", got)
	}

	h.healthy = true
	h.monitor.Tick()
	snap := h.monitor.Snapshot()
	if snap.Status != constants.TunnelStatusUp || snap.RestartCount != 1 {
		t.Errorf("expected recovered with restart count 1, got %+v", snap)
	}
}
