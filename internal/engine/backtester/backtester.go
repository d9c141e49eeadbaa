// Package backtester wires the DataHandler, EventBus, Dispatcher,
// Portfolio, strategy Registry, RiskManager, ExecutionHandler, and
// guardrail kill switch into the single-threaded cooperative main loop
// (§2, §5 "reference scheduling model"): alternate DataHandler.Update()
// with EventBus.drain_to_completion(), and stop once the DataHandler
// reports exhaustion and the bus drains.
//
// Grounded on the teacher's libs/strategies/backtest.go Backtester (the
// run-a-strategy-over-candles driver loop) generalized from its
// single-pass candle iteration to this engine's bus-pump loop, and on
// libs/replay/replay.go's Simulator.Run for the "drain everything still
// queued once the producer stops" tail-flush shape.
package backtester

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"hftbacktester/internal/config"
	"hftbacktester/internal/engine/bus"
	"hftbacktester/internal/engine/data"
	"hftbacktester/internal/engine/execution"
	"hftbacktester/internal/engine/guardrail"
	"hftbacktester/internal/engine/performance"
	"hftbacktester/internal/engine/portfolio"
	"hftbacktester/internal/engine/regime"
	"hftbacktester/internal/engine/risk"
	"hftbacktester/internal/engine/strategy"
	"hftbacktester/internal/observability"
)

// Result is everything a caller needs after Run completes.
type Result struct {
	Portfolio *portfolio.Portfolio
	Report    performance.Report
}

// Backtester owns the wired component graph for one run.
type Backtester struct {
	bus        *bus.Bus
	dispatcher *bus.Dispatcher
	dataSource data.Handler
	portfolio  *portfolio.Portfolio
	strategies *strategy.Registry
	riskMgr    *risk.Manager
	execution  *execution.Handler
	monitor    *guardrail.HealthMonitor
	probe      *guardrail.ConsumerFailureProbe
}

// New assembles the full component graph. The regime detector is registered
// first so a symbol's MarketState reflects the current tick before any other
// consumer acts on it, then §2's registration order: Strategies, Portfolio,
// RiskManager, ExecutionHandler. traceDir enables the execution
// decision-trace audit log when non-empty. newDataSource constructs the
// DataHandler against the bus New creates internally — the caller supplies
// the data (parsed CSVs, a live socket config, ...) but never the bus, since
// every consumer in this graph must share the exact same one.
func New(cfg config.Config, traceDir string, newDataSource func(pub data.Publisher) (data.Handler, error)) (*Backtester, error) {
	b := bus.New(bus.DefaultCapacity)
	dataSource, err := newDataSource(b)
	if err != nil {
		return nil, fmt.Errorf("backtester.New: data source: %w", err)
	}
	pf := portfolio.New(dataSource, cfg.InitialCapital)
	regimeDetector := regime.New(regime.DefaultConfig(), b)

	strategies := strategy.NewRegistry()
	for _, sc := range cfg.Strategies {
		if !sc.Active {
			continue
		}
		s, err := buildStrategy(sc, b)
		if err != nil {
			return nil, fmt.Errorf("backtester.New: strategy %q: %w", sc.Name, err)
		}
		if err := strategies.Register(s); err != nil {
			return nil, fmt.Errorf("backtester.New: %w", err)
		}
	}

	riskMgr := risk.New(cfg.Risk, pf, dataSource, b)

	var trace *execution.TraceStore
	if traceDir != "" {
		var err error
		trace, err = execution.OpenTraceStore(filepath.Join(traceDir, "execution"))
		if err != nil {
			return nil, fmt.Errorf("backtester.New: open trace store: %w", err)
		}
	}
	slippage := execution.NewSlippageTracker()
	execHandler := execution.New(execution.Config{CommissionRate: cfg.Risk.CommissionRate}, dataSource, b, trace, slippage)

	probe := guardrail.NewConsumerFailureProbe()
	monitor := guardrail.NewHealthMonitor(guardrail.DefaultMonitorConfig(), nil, probe)

	dispatcher := bus.NewDispatcher(b, regimeDetector, strategies, pf, riskMgr, execHandler)
	dispatcher.OnConsumerFailure = probe.Record

	return &Backtester{
		bus:        b,
		dispatcher: dispatcher,
		dataSource: dataSource,
		portfolio:  pf,
		strategies: strategies,
		riskMgr:    riskMgr,
		execution:  execHandler,
		monitor:    monitor,
		probe:      probe,
	}, nil
}

// buildStrategy constructs one strategy.Strategy from its config entry.
// Only the parameter shapes named in §4.4 are recognized; an unknown
// strategy name is a configuration error.
func buildStrategy(sc config.StrategyConfig, pub strategy.Publisher) (strategy.Strategy, error) {
	switch sc.Name {
	case "order_book_imbalance":
		var p struct {
			Levels    int     `json:"levels"`
			Threshold float64 `json:"threshold"`
		}
		if err := unmarshalParams(sc.Params, &p); err != nil {
			return nil, err
		}
		return strategy.NewOrderBookImbalance(sc.Name+":"+sc.Symbol, sc.Symbol, p.Levels, p.Threshold, pub), nil
	case "sma_crossover":
		var p struct {
			Short int `json:"short"`
			Long  int `json:"long"`
		}
		if err := unmarshalParams(sc.Params, &p); err != nil {
			return nil, err
		}
		return strategy.NewSMACrossover(sc.Name+":"+sc.Symbol, sc.Symbol, p.Short, p.Long, pub), nil
	case "pairs_trading":
		var p struct {
			SymbolB    string  `json:"symbol_b"`
			Window     int     `json:"window"`
			ZThreshold float64 `json:"z_threshold"`
		}
		if err := unmarshalParams(sc.Params, &p); err != nil {
			return nil, err
		}
		return strategy.NewPairsTrading(sc.Name, sc.Symbol, p.SymbolB, p.Window, p.ZThreshold, pub), nil
	default:
		return nil, fmt.Errorf("unrecognized strategy name %q", sc.Name)
	}
}

func unmarshalParams(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// Run drives the single-threaded cooperative main loop (§5) to completion:
// pull one event from the DataHandler, dispatch every event it produced,
// repeat until the DataHandler reports exhaustion, then flush whatever
// remains queued.
func (b *Backtester) Run(ctx context.Context) (Result, error) {
	for {
		effect, err := b.dataSource.Update(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("backtester.Run: data source update: %w", err)
		}
		b.dispatcher.DrainAvailable(ctx)

		if effect == data.Exhausted && b.dataSource.IsFinished() {
			break
		}
	}
	b.bus.Close()
	b.dispatcher.Run(ctx)

	report := performance.Compute(b.portfolio.EquityCurve(), b.portfolio.InitialCapital(), b.portfolio.TradeLog())
	observability.LogEvent(ctx, "info", "backtest_complete", map[string]any{
		"total_return": report.TotalReturn,
		"max_drawdown": report.MaxDrawdown,
		"sharpe":       report.Sharpe,
		"total_trades": report.TotalTrades,
	})
	return Result{Portfolio: b.portfolio, Report: report}, nil
}

// Portfolio returns the run's Portfolio for callers that want live access
// mid-run (e.g. a shadow-trading supervisor).
func (b *Backtester) Portfolio() *portfolio.Portfolio { return b.portfolio }

// Monitor returns the guardrail health monitor wired to the dispatcher's
// consumer-failure callback.
func (b *Backtester) Monitor() *guardrail.HealthMonitor { return b.monitor }

// RiskManager returns the wired RiskManager, for operator tooling (manual
// reset after a circuit-breaker trip).
func (b *Backtester) RiskManager() *risk.Manager { return b.riskMgr }
