// Package regime implements the market-regime detector: a per-symbol
// volatility/trend classifier that recomputes on every N-th market event and
// publishes a RegimeChanged event when its classification flips (§3).
//
// Grounded on original_source/src/strategy/MarketRegimeDetector.cpp: the
// same recent-price deque plus population standard deviation for volatility,
// and the same "last vs first price in the lookback window" percentage test
// for trend, translated from its instance-per-symbol C++ shape into a single
// Go detector keyed by symbol.
package regime

import (
	"context"
	"math"

	"hftbacktester/internal/engine/types"
)

// Config tunes the detector. Zero-value fields fall back to the same
// defaults the original C++ constructor used.
type Config struct {
	LookbackPeriod       int     // price samples held per symbol; default 20
	EveryNthEvent        int     // recompute cadence; default 1 (every event)
	HighVolatilityThresh float64 // population stddev above this is HIGH; default 0.02
	LowVolatilityThresh  float64 // population stddev below this is LOW; default 0.005
	TrendThresholdPct    float64 // |last/first - 1| above this is a trend; default 0.005 (0.5%)
}

// DefaultConfig returns the original detector's constructor defaults.
func DefaultConfig() Config {
	return Config{
		LookbackPeriod:       20,
		EveryNthEvent:        1,
		HighVolatilityThresh: 0.02,
		LowVolatilityThresh:  0.005,
		TrendThresholdPct:    0.005,
	}
}

// Publisher is the minimal bus dependency the detector needs to emit
// RegimeChanged events.
type Publisher interface {
	Publish(types.Event) error
}

type symbolState struct {
	prices    []float64
	eventSeen int
	current   types.MarketState
}

// Detector is the bus.Consumer that classifies volatility and trend per
// symbol and publishes RegimeChanged on a classification change.
type Detector struct {
	cfg Config
	pub Publisher

	symbols map[string]*symbolState
}

// New constructs a Detector. A zero Config is replaced with DefaultConfig.
func New(cfg Config, pub Publisher) *Detector {
	if cfg.LookbackPeriod <= 0 {
		cfg.LookbackPeriod = DefaultConfig().LookbackPeriod
	}
	if cfg.EveryNthEvent <= 0 {
		cfg.EveryNthEvent = DefaultConfig().EveryNthEvent
	}
	if cfg.HighVolatilityThresh <= 0 {
		cfg.HighVolatilityThresh = DefaultConfig().HighVolatilityThresh
	}
	if cfg.LowVolatilityThresh <= 0 {
		cfg.LowVolatilityThresh = DefaultConfig().LowVolatilityThresh
	}
	if cfg.TrendThresholdPct <= 0 {
		cfg.TrendThresholdPct = DefaultConfig().TrendThresholdPct
	}
	return &Detector{cfg: cfg, pub: pub, symbols: make(map[string]*symbolState)}
}

// Name identifies this consumer in dispatcher logs.
func (d *Detector) Name() string { return "regime_detector" }

// HandleEvent implements bus.Consumer: every Market/Trade/Book event feeds
// the per-symbol price history; the regime is only recomputed every N-th
// such event for that symbol, per §3.
func (d *Detector) HandleEvent(ctx context.Context, ev types.Event) error {
	symbol, price, ts, ok := eventPrice(ev)
	if !ok {
		return nil
	}

	st, exists := d.symbols[symbol]
	if !exists {
		st = &symbolState{current: types.MarketState{Trend: types.TrendSideways}}
		d.symbols[symbol] = st
	}

	st.prices = append(st.prices, price)
	if len(st.prices) > d.cfg.LookbackPeriod {
		st.prices = st.prices[len(st.prices)-d.cfg.LookbackPeriod:]
	}
	st.eventSeen++
	if st.eventSeen%d.cfg.EveryNthEvent != 0 {
		return nil
	}
	if len(st.prices) < d.cfg.LookbackPeriod {
		return nil // not enough data yet; regime holds at its initial value
	}

	next := classify(st.prices, d.cfg)
	if next == st.current {
		return nil
	}
	st.current = next

	return d.pub.Publish(types.NewRegimeChangedEvent(types.RegimeChanged{
		Symbol:    symbol,
		Timestamp: ts,
		State:     next,
	}))
}

func classify(prices []float64, cfg Config) types.MarketState {
	vol := populationStdDev(prices)

	volRegime := types.VolatilityNormal
	switch {
	case vol > cfg.HighVolatilityThresh:
		volRegime = types.VolatilityHigh
	case vol < cfg.LowVolatilityThresh:
		volRegime = types.VolatilityLow
	}

	trend := types.TrendSideways
	first, last := prices[0], prices[len(prices)-1]
	switch {
	case first > 0 && last > first*(1+cfg.TrendThresholdPct):
		trend = types.TrendUp
	case first > 0 && last < first*(1-cfg.TrendThresholdPct):
		trend = types.TrendDown
	}

	return types.MarketState{Volatility: volRegime, Trend: trend, VolatilityValue: vol}
}

// populationStdDev matches calculateStandardDeviation: divides by N, not
// N-1, per the grounding source.
func populationStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqSum float64
	for _, v := range values {
		d := v - mean
		sqSum += d * d
	}
	return math.Sqrt(sqSum / float64(len(values)))
}

func eventPrice(ev types.Event) (symbol string, price float64, ts types.Timestamp, ok bool) {
	switch ev.Kind {
	case types.KindTrade:
		return ev.Trade.Symbol, ev.Trade.Price, ev.Timestamp, true
	case types.KindMarket:
		return ev.Market.Symbol, ev.Market.Close, ev.Timestamp, true
	case types.KindBook:
		if mid, ok := ev.Book.Mid(); ok {
			return ev.Book.Symbol, mid, ev.Timestamp, true
		}
	}
	return "", 0, 0, false
}
