package guardrail

import (
	"context"
	"errors"
	"testing"

	"hftbacktester/internal/engine/types"
)

func TestHealthMonitor_HaltsAfterConsecutiveCriticalFailures(t *testing.T) {
	probe := NewConsumerFailureProbe()
	var haltedReason string
	cfg := MonitorConfig{FailuresBeforeHalt: 2}
	m := NewHealthMonitor(cfg, func(reason string) { haltedReason = reason }, probe)

	ctx := context.Background()
	m.RunOnce(ctx) // no failures yet: OK
	if m.IsHalted() {
		t.Fatal("should not halt with zero failures")
	}

	probe.Record("strategies", types.Event{}, errors.New("boom"))
	m.RunOnce(ctx) // 1st critical failure
	if m.IsHalted() {
		t.Fatal("should not halt after only one failure with FailuresBeforeHalt=2")
	}

	probe.Record("strategies", types.Event{}, errors.New("boom again"))
	m.RunOnce(ctx) // 2nd consecutive critical failure
	if !m.IsHalted() {
		t.Fatal("expected halt after 2 consecutive critical failures")
	}
	if haltedReason == "" {
		t.Error("expected haltCb to be invoked with a reason")
	}
}

func TestHealthMonitor_ResetHalt(t *testing.T) {
	probe := NewConsumerFailureProbe()
	m := NewHealthMonitor(MonitorConfig{FailuresBeforeHalt: 1}, nil, probe)
	probe.Record("portfolio", types.Event{}, errors.New("panic"))
	m.RunOnce(context.Background())
	if !m.IsHalted() {
		t.Fatal("expected halt")
	}
	m.ResetHalt(context.Background())
	if m.IsHalted() {
		t.Fatal("expected halt cleared after ResetHalt")
	}
}

func TestOverrideController_HaltBlocksAllActivity(t *testing.T) {
	c := NewOverrideController()
	ctx := context.Background()
	if !c.AllowEntry() || !c.AllowAnyActivity() {
		t.Fatal("expected full access in OverrideNone")
	}
	c.Pause(ctx, "operator review")
	if c.AllowEntry() {
		t.Error("expected entry blocked while paused")
	}
	if !c.AllowAnyActivity() {
		t.Error("expected existing activity still allowed while paused")
	}
	c.Halt(ctx, "emergency stop")
	if c.AllowAnyActivity() {
		t.Error("expected all activity blocked after halt")
	}
	c.Resume(ctx, "cleared")
	if !c.AllowEntry() {
		t.Error("expected entry allowed after resume")
	}
}

func TestIncidentLog_OpenAcknowledgeResolve(t *testing.T) {
	dir := t.TempDir()
	il, err := OpenIncidentLog(dir)
	if err != nil {
		t.Fatalf("OpenIncidentLog: %v", err)
	}
	inc, err := il.Open("circuit breaker tripped", SeverityCritical, "risk_manager")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if inc.Status != IncidentOpen {
		t.Errorf("status = %s, want open", inc.Status)
	}
	if err := il.Acknowledge(inc.ID, "looking into it"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if err := il.Resolve(inc.ID, "resumed trading"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, err := il.Get(inc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != IncidentResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
	if len(got.Notes) != 2 {
		t.Errorf("notes = %v, want 2 entries", got.Notes)
	}

	// Reopening the log from disk must recover the same incident.
	il2, err := OpenIncidentLog(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reloaded, err := il2.Get(inc.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if reloaded.Status != IncidentResolved {
		t.Errorf("reloaded status = %s, want resolved", reloaded.Status)
	}
}
