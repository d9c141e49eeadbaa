package strategy

import (
	"context"

	"hftbacktester/internal/engine/types"
)

// OrderBookImbalanceCooldownMs is the minimum spacing between two signals
// for the same symbol, measured in event time (§4.4): replayed book
// timestamps in a backtest run far faster than wall-clock time, so the
// cooldown must be judged against the timestamp carried on each book event,
// never against time elapsed while the loop executes.
const OrderBookImbalanceCooldownMs = types.Timestamp(500)

// OrderBookImbalance emits BUY/SELL/FLAT from the top-L depth ratio of a
// symbol's order book. Coefficients are plain float64 slices — "packed
// floating-point buffers" per the distilled spec's SIMD note translates, in
// idiomatic Go, to a flat []float64 rather than any hand-rolled vector type;
// the Go compiler's own auto-vectorization (or none at all) is what runs
// under a plain range loop, and hand-rolling SIMD intrinsics is out of
// scope for a correctness-first backtester.
type OrderBookImbalance struct {
	name      string
	symbol    string
	levels    int
	threshold float64
	pub       Publisher

	state          PositionState
	lastSignalTs   types.Timestamp
	haveLastSignal bool
}

// NewOrderBookImbalance constructs the strategy for one symbol.
func NewOrderBookImbalance(name, symbol string, levels int, threshold float64, pub Publisher) *OrderBookImbalance {
	return &OrderBookImbalance{
		name:      name,
		symbol:    symbol,
		levels:    levels,
		threshold: threshold,
		pub:       pub,
	}
}

func (s *OrderBookImbalance) Name() string { return s.name }

func (s *OrderBookImbalance) HandleEvent(ctx context.Context, ev types.Event) error {
	if ev.Kind != types.KindBook || ev.Book.Symbol != s.symbol {
		return nil
	}
	return s.onBook(ctx, *ev.Book)
}

func (s *OrderBookImbalance) onBook(ctx context.Context, book types.OrderBook) error {
	bidVol := sumTopLevels(book.Bids, s.levels)
	askVol := sumTopLevels(book.Asks, s.levels)
	total := bidVol + askVol
	if total <= 0 {
		return nil
	}
	ratio := bidVol / total

	if s.haveLastSignal && book.Timestamp-s.lastSignalTs < OrderBookImbalanceCooldownMs {
		return nil
	}

	switch {
	case ratio > s.threshold && s.state != StateLong:
		s.state = StateLong
		s.lastSignalTs, s.haveLastSignal = book.Timestamp, true
		return emitSignal(ctx, s.pub, s.name, s.symbol, book.Timestamp, types.DirectionBuy, ratio)
	case ratio < 1-s.threshold && s.state != StateShort:
		s.state = StateShort
		s.lastSignalTs, s.haveLastSignal = book.Timestamp, true
		return emitSignal(ctx, s.pub, s.name, s.symbol, book.Timestamp, types.DirectionSell, 1-ratio)
	case ratio >= 1-s.threshold && ratio <= s.threshold && s.state != StateFlat:
		s.state = StateFlat
		s.lastSignalTs, s.haveLastSignal = book.Timestamp, true
		return emitSignal(ctx, s.pub, s.name, s.symbol, book.Timestamp, types.DirectionFlat, 0)
	}
	return nil
}

// State reports the strategy's current belief about its own position.
func (s *OrderBookImbalance) State() PositionState { return s.state }

func sumTopLevels(levels []types.OrderBookLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += levels[i].Quantity
	}
	return sum
}
