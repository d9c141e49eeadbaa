package strategy

import (
	"context"
	"testing"

	"hftbacktester/internal/engine/types"
)

func feedClose(t *testing.T, s *SMACrossover, symbol string, price float64, ts types.Timestamp) {
	t.Helper()
	err := s.HandleEvent(context.Background(), types.NewTradeEvent(types.Trade{Symbol: symbol, Price: price, Timestamp: ts}))
	if err != nil {
		t.Fatalf("HandleEvent(%v): %v", price, err)
	}
}

func TestSMACrossover_NoSignalUntilWindowFills(t *testing.T) {
	pub := &collectingPublisher{}
	s := NewSMACrossover("sma", "AAPL", 2, 3, pub)

	feedClose(t, s, "AAPL", 10, 1)
	feedClose(t, s, "AAPL", 10, 2)
	if len(pub.signals) != 0 {
		t.Fatalf("expected no signal before the long window has filled, got %+v", pub.signals)
	}
}

func TestSMACrossover_BuyThenSellOnCross(t *testing.T) {
	pub := &collectingPublisher{}
	s := NewSMACrossover("sma", "AAPL", 2, 3, pub)

	prices := []float64{10, 10, 10, 13, 5}
	for i, p := range prices {
		feedClose(t, s, "AAPL", p, types.Timestamp(i+1))
	}

	if len(pub.signals) != 2 {
		t.Fatalf("signals = %d, want 2 (one BUY then one SELL), got %+v", len(pub.signals), pub.signals)
	}
	if pub.signals[0].Direction != types.DirectionBuy {
		t.Errorf("first signal = %v, want BUY", pub.signals[0].Direction)
	}
	if pub.signals[1].Direction != types.DirectionSell {
		t.Errorf("second signal = %v, want SELL", pub.signals[1].Direction)
	}
	if s.State() != StateShort {
		t.Errorf("final state = %v, want SHORT", s.State())
	}
}

func TestSMACrossover_IgnoresOtherSymbols(t *testing.T) {
	pub := &collectingPublisher{}
	s := NewSMACrossover("sma", "AAPL", 2, 3, pub)

	for i, p := range []float64{10, 10, 10, 13} {
		feedClose(t, s, "MSFT", p, types.Timestamp(i+1))
	}
	if len(pub.signals) != 0 {
		t.Errorf("expected no signal for an unrelated symbol, got %+v", pub.signals)
	}
}
