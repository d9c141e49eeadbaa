// Package performance computes backtest performance statistics as pure
// functions of (equity_curve, initial_capital, trade_log) — no Portfolio or
// bus dependency, so a report can be regenerated from a persisted run
// without replaying it (§4.7).
//
// Grounded on the teacher's libs/strategies/backtest.go calculateMetrics
// and calculateMeanStdDev, generalized from the teacher's per-trade
// R-multiple/PnLPct statistics to the equity-curve-return statistics named
// in §4.7 (total return, max drawdown, Sharpe, historical VaR, trade
// stats).
package performance

import (
	"math"
	"sort"

	"hftbacktester/internal/engine/portfolio"
)

// Annualization factors named in §4.7.
const (
	AnnualizationDaily  = 252.0
	AnnualizationHourly = 8760.0
)

// Report is the full set of performance statistics computed from one run.
type Report struct {
	TotalReturn  float64
	MaxDrawdown  float64
	Sharpe       float64
	VaR95        float64
	WinRate      float64
	ProfitFactor float64
	TotalTrades  int
	WinningTrades int
	LosingTrades int
}

// Compute derives a Report from an equity curve, the initial capital, and
// the closed-trade log. An equity curve of length < 2 has no return series,
// so Sharpe and VaR95 are zero; an empty curve also zeroes TotalReturn and
// MaxDrawdown. The trade statistics depend only on tradeLog.
func Compute(equityCurve []portfolio.EquitySample, initialCapital float64, tradeLog []portfolio.ClosedTrade) Report {
	var r Report
	r.TotalReturn = totalReturn(equityCurve, initialCapital)
	r.MaxDrawdown = maxDrawdown(equityCurve)

	returns := equityReturns(equityCurve)
	r.Sharpe = sharpe(returns, AnnualizationDaily)
	r.VaR95 = historicalVaR(returns, 0.95)

	r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate, r.ProfitFactor = tradeStats(tradeLog)
	return r
}

// ComputeAnnualized is Compute with an explicit annualization factor (use
// AnnualizationHourly for hourly-sampled equity curves).
func ComputeAnnualized(equityCurve []portfolio.EquitySample, initialCapital float64, tradeLog []portfolio.ClosedTrade, annualization float64) Report {
	r := Compute(equityCurve, initialCapital, tradeLog)
	returns := equityReturns(equityCurve)
	r.Sharpe = sharpe(returns, annualization)
	return r
}

func totalReturn(equityCurve []portfolio.EquitySample, initialCapital float64) float64 {
	if len(equityCurve) == 0 || initialCapital == 0 {
		return 0
	}
	last := equityCurve[len(equityCurve)-1].Equity
	return last/initialCapital - 1
}

// maxDrawdown is the largest peak-to-trough decline observed across the
// equity curve, as a positive fraction (§3).
func maxDrawdown(equityCurve []portfolio.EquitySample) float64 {
	if len(equityCurve) == 0 {
		return 0
	}
	peak := equityCurve[0].Equity
	maxDD := 0.0
	for _, s := range equityCurve {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - s.Equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// equityReturns computes the per-sample simple return series
// r_i = equity_i / equity_{i-1} - 1 (§4.7).
func equityReturns(equityCurve []portfolio.EquitySample) []float64 {
	if len(equityCurve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, equityCurve[i].Equity/prev-1)
	}
	return returns
}

// sharpe is mean(r)/stdev(r) * sqrt(annualization), 0 when stdev < 1e-9
// (§4.7).
func sharpe(returns []float64, annualization float64) float64 {
	mean, stdDev := meanStdDev(returns)
	if stdDev < 1e-9 {
		return 0
	}
	return (mean / stdDev) * math.Sqrt(annualization)
}

// historicalVaR is the historical Value-at-Risk at confidence alpha:
// -quantile(r, 1-alpha) (§4.7).
func historicalVaR(returns []float64, alpha float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	p := 1 - alpha
	// The epsilon keeps round-off in 1-alpha (1-0.8 is 0.19999999999999996)
	// from moving the index down one place.
	idx := int(p*float64(len(sorted)) + 1e-9)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return -sorted[idx]
}

func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// tradeStats derives win rate and profit factor from the closed-trade log
// (§4.7).
func tradeStats(trades []portfolio.ClosedTrade) (total, wins, losses int, winRate, profitFactor float64) {
	total = len(trades)
	if total == 0 {
		return
	}
	var grossWin, grossLoss float64
	for _, t := range trades {
		switch {
		case t.PnL > 0:
			wins++
			grossWin += t.PnL
		case t.PnL < 0:
			losses++
			grossLoss += -t.PnL
		}
	}
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses)
	}
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	}
	return
}
