package strategy

import (
	"context"

	"hftbacktester/internal/engine/types"
)

// SMACrossover emits BUY/SELL on a short-SMA/long-SMA cross (§4.4). The
// first N_l-1 closes only feed the rolling window; the strategy never
// signals until both SMAs are fully populated and a prior comparison exists
// to detect a cross against.
type SMACrossover struct {
	name    string
	symbol  string
	short   int
	long    int
	pub     Publisher

	closes []float64
	state  PositionState

	havePrev  bool
	prevShort float64
	prevLong  float64
}

// NewSMACrossover constructs the strategy with short period < long period.
func NewSMACrossover(name, symbol string, short, long int, pub Publisher) *SMACrossover {
	return &SMACrossover{name: name, symbol: symbol, short: short, long: long, pub: pub}
}

func (s *SMACrossover) Name() string { return s.name }

func (s *SMACrossover) HandleEvent(ctx context.Context, ev types.Event) error {
	symbol, price, ts, ok := priceFromEvent(ev)
	if !ok || symbol != s.symbol {
		return nil
	}
	return s.onClose(ctx, price, ts)
}

func (s *SMACrossover) onClose(ctx context.Context, price float64, ts types.Timestamp) error {
	s.closes = append(s.closes, price)
	if len(s.closes) > s.long {
		s.closes = s.closes[len(s.closes)-s.long:]
	}
	if len(s.closes) < s.long {
		return nil // still filling the window; initial ticks only record (§4.4)
	}

	smaShort := sma(s.closes, s.short)
	smaLong := sma(s.closes, s.long)

	if !s.havePrev {
		s.havePrev = true
		s.prevShort, s.prevLong = smaShort, smaLong
		return nil
	}

	crossedUp := s.prevShort <= s.prevLong && smaShort > smaLong
	crossedDown := s.prevShort >= s.prevLong && smaShort < smaLong
	s.prevShort, s.prevLong = smaShort, smaLong

	switch {
	case crossedUp && s.state != StateLong:
		s.state = StateLong
		return emitSignal(ctx, s.pub, s.name, s.symbol, ts, types.DirectionBuy, 1)
	case crossedDown && s.state != StateShort:
		s.state = StateShort
		return emitSignal(ctx, s.pub, s.name, s.symbol, ts, types.DirectionSell, 1)
	}
	return nil
}

// State reports the strategy's current belief about its own position.
func (s *SMACrossover) State() PositionState { return s.state }

// sma computes the mean of the last n values in closes (closes is already
// capped at the long window's length by the caller).
func sma(closes []float64, n int) float64 {
	if n > len(closes) {
		n = len(closes)
	}
	start := len(closes) - n
	var sum float64
	for _, v := range closes[start:] {
		sum += v
	}
	return sum / float64(n)
}
