package performance

import (
	"math"
	"testing"

	"hftbacktester/internal/engine/portfolio"
	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/testsupport"
)

func curve(values ...float64) []portfolio.EquitySample {
	out := make([]portfolio.EquitySample, len(values))
	for i, v := range values {
		out[i] = portfolio.EquitySample{Timestamp: types.Timestamp(i), Equity: v}
	}
	return out
}

func TestTotalReturn(t *testing.T) {
	c := curve(100000, 105000, 110000)
	got := totalReturn(c, 100000)
	want := 0.10
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("totalReturn = %v, want %v", got, want)
	}
}

func TestMaxDrawdown_TracksPeakToTrough(t *testing.T) {
	c := curve(100, 120, 90, 130, 80)
	got := maxDrawdown(c)
	want := (130.0 - 80.0) / 130.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("maxDrawdown = %v, want %v", got, want)
	}
}

func TestSharpe_ZeroWhenStdevBelowFloor(t *testing.T) {
	c := curve(100, 100, 100, 100)
	returns := equityReturns(c)
	got := sharpe(returns, AnnualizationDaily)
	if got != 0 {
		t.Errorf("sharpe = %v, want 0 for a flat equity curve", got)
	}
}

func TestHistoricalVaR_SortsAscendingAndNegates(t *testing.T) {
	returns := []float64{0.01, -0.05, 0.02, -0.02, 0.03}
	got := historicalVaR(returns, 0.8)
	// 1-alpha = 0.2, idx = int(0.2*5) = 1; sorted ascending: [-0.05,-0.02,0.01,0.02,0.03]
	want := 0.02
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("historicalVaR = %v, want %v", got, want)
	}
}

func TestTradeStats_WinRateAndProfitFactor(t *testing.T) {
	trades := []portfolio.ClosedTrade{
		{PnL: 100}, {PnL: -50}, {PnL: 200}, {PnL: -50},
	}
	total, wins, losses, winRate, pf := tradeStats(trades)
	if total != 4 || wins != 2 || losses != 2 {
		t.Fatalf("total/wins/losses = %d/%d/%d, want 4/2/2", total, wins, losses)
	}
	if math.Abs(winRate-0.5) > 1e-9 {
		t.Errorf("winRate = %v, want 0.5", winRate)
	}
	wantPF := 300.0 / 100.0
	if math.Abs(pf-wantPF) > 1e-9 {
		t.Errorf("profitFactor = %v, want %v", pf, wantPF)
	}
}

func TestCompute_EmptyCurveIsZeroValue(t *testing.T) {
	r := Compute(nil, 100000, nil)
	if r.TotalReturn != 0 || r.MaxDrawdown != 0 || r.Sharpe != 0 || r.VaR95 != 0 {
		t.Errorf("expected zero-value Report for empty curve, got %+v", r)
	}
}

func TestCompute_IsDeterministic(t *testing.T) {
	c := curve(100000, 105000, 98000, 110000)
	trades := []portfolio.ClosedTrade{{PnL: 100}, {PnL: -50}, {PnL: 200}}
	testsupport.AssertDeterministic(t, func() any {
		return Compute(c, 100000, trades)
	})
}
