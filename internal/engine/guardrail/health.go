// Package guardrail implements the engine's operator-facing kill switch:
// a HealthMonitor distinct from the RiskManager's portfolio-loss circuit
// breaker, an OverrideController for manual pause/halt, and an append-only
// IncidentLog.
//
// Grounded on the teacher's libs/guardrails/guardrails.go (HealthMonitor,
// OverrideController, IncidentLog) generalized from the teacher's generic
// feed/broker health probes to a probe wired directly into this engine's
// bus.Dispatcher.OnConsumerFailure callback (§4.5/§9: "a health/kill-switch
// path distinct from RiskManager's circuit breaker").
package guardrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

// CheckStatus is the result of a single health probe.
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusFailed   CheckStatus = "failed"
)

// CheckResult holds the outcome of one health probe.
type CheckResult struct {
	Name      string
	Status    CheckStatus
	Message   string
	CheckedAt time.Time
}

// Probe is any component that can report its own health.
type Probe interface {
	ProbeName() string
	Check(ctx context.Context) CheckResult
}

// HaltCallback is invoked when the monitor decides the system must halt.
type HaltCallback func(reason string)

// MonitorConfig controls polling and escalation.
type MonitorConfig struct {
	Interval           time.Duration
	FailuresBeforeHalt int
	CriticalProbes     []string
}

// DefaultMonitorConfig returns sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: 30 * time.Second, FailuresBeforeHalt: 3}
}

// HealthMonitor runs periodic integrity checks and escalates to halt. It is
// a kill switch independent of the RiskManager's portfolio-loss circuit
// breaker: this one trips on consumer/feed integrity, not P&L.
type HealthMonitor struct {
	cfg         MonitorConfig
	probes      []Probe
	haltCb      HaltCallback
	mu          sync.RWMutex
	latest      map[string]CheckResult
	failStreak  int
	halted      bool
	haltReason  string
	criticalSet map[string]bool
}

// NewHealthMonitor creates a HealthMonitor. haltCb may be nil for
// monitoring-only use (tests, dry runs).
func NewHealthMonitor(cfg MonitorConfig, haltCb HaltCallback, probes ...Probe) *HealthMonitor {
	cs := make(map[string]bool, len(cfg.CriticalProbes))
	for _, name := range cfg.CriticalProbes {
		cs[name] = true
	}
	return &HealthMonitor{
		cfg:         cfg,
		probes:      probes,
		haltCb:      haltCb,
		latest:      make(map[string]CheckResult),
		criticalSet: cs,
	}
}

// RegisterProbe adds a probe to the monitor at runtime.
func (m *HealthMonitor) RegisterProbe(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, p)
}

// RunOnce performs one round of checks synchronously.
func (m *HealthMonitor) RunOnce(ctx context.Context) []CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []CheckResult
	criticalFailed := false

	for _, probe := range m.probes {
		r := probe.Check(ctx)
		m.latest[r.Name] = r
		results = append(results, r)

		if r.Status == StatusFailed {
			isCritical := len(m.criticalSet) == 0 || m.criticalSet[r.Name]
			if isCritical {
				criticalFailed = true
				observability.LogEvent(ctx, "error", "guardrail_probe_failed", map[string]any{
					"probe": r.Name, "message": r.Message, "critical": true,
				})
			} else {
				observability.LogEvent(ctx, "warn", "guardrail_probe_failed", map[string]any{
					"probe": r.Name, "message": r.Message, "critical": false,
				})
			}
		}
	}

	if criticalFailed {
		m.failStreak++
		if !m.halted && m.failStreak >= m.cfg.FailuresBeforeHalt {
			m.halted = true
			m.haltReason = fmt.Sprintf("health monitor: %d consecutive critical failures", m.failStreak)
			observability.LogEvent(ctx, "error", "guardrail_halt_triggered", map[string]any{"reason": m.haltReason})
			if m.haltCb != nil {
				m.haltCb(m.haltReason)
			}
		}
	} else {
		m.failStreak = 0
	}

	return results
}

// Latest returns the most recent check result for each probe.
func (m *HealthMonitor) Latest() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.latest))
	for k, v := range m.latest {
		out[k] = v
	}
	return out
}

// IsHalted reports whether the monitor has triggered a system halt.
func (m *HealthMonitor) IsHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// HaltReason returns why the monitor halted, if it has.
func (m *HealthMonitor) HaltReason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.haltReason
}

// ResetHalt clears the halt state after an operator override.
func (m *HealthMonitor) ResetHalt(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltReason = ""
	m.failStreak = 0
	observability.LogEvent(ctx, "info", "guardrail_halt_reset", nil)
}

// Run starts the periodic check loop; it blocks until ctx is cancelled.
// Nothing in this repository calls it: the single-threaded backtester (§5)
// only exposes the monitor through Backtester.Monitor.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// ConsumerFailureProbe adapts the bus.Dispatcher's OnConsumerFailure
// callback into a Probe: each reported failure counts against the probe
// until Clear is called. Wired as:
//
//	dispatcher.OnConsumerFailure = probe.Record
type ConsumerFailureProbe struct {
	mu       sync.Mutex
	failures int
	lastMsg  string
}

// NewConsumerFailureProbe constructs an empty probe.
func NewConsumerFailureProbe() *ConsumerFailureProbe { return &ConsumerFailureProbe{} }

// Record matches bus.Dispatcher.OnConsumerFailure's signature directly, so
// it can be assigned without a wrapper closure.
func (p *ConsumerFailureProbe) Record(consumerName string, ev types.Event, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	p.lastMsg = fmt.Sprintf("consumer %q on %s: %s", consumerName, ev.String(), err)
}

// Clear resets the recorded failure count, e.g. after an operator ack.
func (p *ConsumerFailureProbe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = 0
	p.lastMsg = ""
}

func (p *ConsumerFailureProbe) ProbeName() string { return "bus_consumers" }

func (p *ConsumerFailureProbe) Check(ctx context.Context) CheckResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := StatusOK
	msg := ""
	if p.failures > 0 {
		status = StatusFailed
		msg = p.lastMsg
	}
	return CheckResult{Name: p.ProbeName(), Status: status, Message: msg, CheckedAt: time.Now().UTC()}
}

// FuncProbe wraps a function as a Probe.
type FuncProbe struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewFuncProbe creates a Probe from a function.
func NewFuncProbe(name string, fn func(ctx context.Context) CheckResult) *FuncProbe {
	return &FuncProbe{name: name, fn: fn}
}

func (f *FuncProbe) ProbeName() string { return f.name }

func (f *FuncProbe) Check(ctx context.Context) CheckResult {
	r := f.fn(ctx)
	if r.Name == "" {
		r.Name = f.name
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	return r
}
