package guardrail

import (
	"context"
	"sync"
	"time"

	"hftbacktester/internal/observability"
)

// OverrideState is the current operator-controlled trading state.
type OverrideState string

const (
	OverrideNone  OverrideState = "none"
	OverridePause OverrideState = "pause"
	OverrideHalt  OverrideState = "halt"
)

// OverrideController lets operators manually pause or halt trading,
// independent of both the RiskManager's circuit breaker and the
// HealthMonitor's probe-driven halt. Safe for concurrent use.
type OverrideController struct {
	mu     sync.RWMutex
	state  OverrideState
	reason string
	since  time.Time
}

// NewOverrideController creates a controller in the OverrideNone state.
func NewOverrideController() *OverrideController {
	return &OverrideController{state: OverrideNone}
}

// Pause sets the override to OverridePause: no new order entry, existing
// positions remain.
func (c *OverrideController) Pause(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = OverridePause
	c.reason = reason
	c.since = time.Now().UTC()
	observability.LogEvent(ctx, "warn", "guardrail_override_pause", map[string]any{"reason": reason})
}

// Halt sets the override to OverrideHalt: all activity halted.
func (c *OverrideController) Halt(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = OverrideHalt
	c.reason = reason
	c.since = time.Now().UTC()
	observability.LogEvent(ctx, "error", "guardrail_override_halt", map[string]any{"reason": reason})
}

// Resume clears any active override.
func (c *OverrideController) Resume(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.state
	c.state = OverrideNone
	c.reason = ""
	c.since = time.Time{}
	observability.LogEvent(ctx, "info", "guardrail_override_resume", map[string]any{"previous_state": string(prev), "reason": reason})
}

// State returns the current override state and reason.
func (c *OverrideController) State() (OverrideState, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.reason
}

// AllowEntry reports whether new order entry is permitted.
func (c *OverrideController) AllowEntry() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == OverrideNone
}

// AllowAnyActivity reports whether any trading activity is permitted.
func (c *OverrideController) AllowAnyActivity() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state != OverrideHalt
}

// Since returns when the current override was set (zero if none active).
func (c *OverrideController) Since() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.since
}

// TradingAllowed reports true when both the HealthMonitor and the
// OverrideController permit new entry — the engine's single combined gate.
func TradingAllowed(m *HealthMonitor, c *OverrideController) bool {
	return !m.IsHalted() && c.AllowEntry()
}
