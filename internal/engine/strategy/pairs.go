package strategy

import (
	"context"
	"math"

	"hftbacktester/internal/engine/types"
)

// PairState tracks a PairsTrading strategy's belief about its own spread
// position, distinct from the single-symbol PositionState above because a
// pair trade spans two legs at once.
type PairState int

const (
	PairFlat PairState = iota
	PairLong
	PairShort
)

// PairsTrading emits opposing BUY/SELL signals on symbols A and B from the
// z-score of their price ratio (§4.4). Each ratio sample needs a fresh price
// for both legs since the previous sample; a price update for one leg alone
// never triggers a decision.
type PairsTrading struct {
	name       string
	symbolA    string
	symbolB    string
	window     int
	zThreshold float64
	pub        Publisher

	ratios    []float64
	priceA    float64
	priceB    float64
	haveA     bool
	haveB     bool
	staleA    bool // true once B updates without a fresh A on this tick
	state     PairState
}

// NewPairsTrading constructs the strategy over symbols A and B.
func NewPairsTrading(name, symbolA, symbolB string, window int, zThreshold float64, pub Publisher) *PairsTrading {
	return &PairsTrading{
		name:       name,
		symbolA:    symbolA,
		symbolB:    symbolB,
		window:     window,
		zThreshold: zThreshold,
		pub:        pub,
	}
}

func (s *PairsTrading) Name() string { return s.name }

func (s *PairsTrading) HandleEvent(ctx context.Context, ev types.Event) error {
	symbol, price, ts, ok := priceFromEvent(ev)
	if !ok || (symbol != s.symbolA && symbol != s.symbolB) {
		return nil
	}

	if symbol == s.symbolA {
		s.priceA = price
		s.haveA = true
		s.staleA = false
	} else {
		s.priceB = price
		s.haveB = true
		if !s.haveA {
			s.staleA = true
		}
	}

	if !s.haveA || !s.haveB || s.staleA {
		return nil
	}
	// This sample consumes both fresh prices; the next decision waits for
	// both legs to update again.
	s.haveA, s.haveB = false, false
	return s.onBothFresh(ctx, ts)
}

func (s *PairsTrading) onBothFresh(ctx context.Context, ts types.Timestamp) error {
	if s.priceB == 0 {
		return nil
	}
	ratio := s.priceA / s.priceB
	s.ratios = append(s.ratios, ratio)
	if len(s.ratios) > s.window {
		s.ratios = s.ratios[len(s.ratios)-s.window:]
	}
	if len(s.ratios) < 2 {
		return nil
	}

	mu, sigma := meanStdDev(s.ratios)
	if sigma < 1e-8 {
		return nil // disabled for this tick, per §4.4
	}
	z := (ratio - mu) / sigma

	switch {
	case z > s.zThreshold && s.state != PairShort:
		s.state = PairShort
		if err := emitSignal(ctx, s.pub, s.name, s.symbolA, ts, types.DirectionSell, clamp01(math.Abs(z)/s.zThreshold)); err != nil {
			return err
		}
		return emitSignal(ctx, s.pub, s.name, s.symbolB, ts, types.DirectionBuy, clamp01(math.Abs(z)/s.zThreshold))
	case z < -s.zThreshold && s.state != PairLong:
		s.state = PairLong
		if err := emitSignal(ctx, s.pub, s.name, s.symbolA, ts, types.DirectionBuy, clamp01(math.Abs(z)/s.zThreshold)); err != nil {
			return err
		}
		return emitSignal(ctx, s.pub, s.name, s.symbolB, ts, types.DirectionSell, clamp01(math.Abs(z)/s.zThreshold))
	case math.Abs(z) < 0.5 && s.state != PairFlat:
		prev := s.state
		s.state = PairFlat
		// Close with opposing signals relative to whichever side was open.
		aDir, bDir := types.DirectionFlat, types.DirectionFlat
		if prev == PairShort {
			aDir, bDir = types.DirectionBuy, types.DirectionSell
		} else if prev == PairLong {
			aDir, bDir = types.DirectionSell, types.DirectionBuy
		}
		if err := emitSignal(ctx, s.pub, s.name, s.symbolA, ts, aDir, 0); err != nil {
			return err
		}
		return emitSignal(ctx, s.pub, s.name, s.symbolB, ts, bDir, 0)
	}
	return nil
}

// State reports the strategy's current spread position.
func (s *PairsTrading) State() PairState { return s.state }

func priceFromEvent(ev types.Event) (symbol string, price float64, ts types.Timestamp, ok bool) {
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

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
