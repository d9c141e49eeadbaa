package data

import (
	"context"
	"testing"

	"hftbacktester/internal/engine/types"
)

type recordingPublisher struct {
	events []types.Event
}

func (p *recordingPublisher) Publish(ev types.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func TestFileHandler_MergesChronologicallyTradeBeforeBookOnTie(t *testing.T) {
	pub := &recordingPublisher{}
	trades := map[string][]types.Trade{
		"AAPL": {{Symbol: "AAPL", Timestamp: 1, Price: 100, Quantity: 1}},
	}
	books := map[string][]types.OrderBook{
		"AAPL": {{
			Symbol:    "AAPL",
			Timestamp: 1,
			Bids:      []types.OrderBookLevel{{Price: 99, Quantity: 1}},
			Asks:      []types.OrderBookLevel{{Price: 101, Quantity: 1}},
		}},
	}
	h := NewFileHandler(pub, trades, books)

	for !h.IsFinished() {
		if _, err := h.Update(context.Background()); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if len(pub.events) != 2 {
		t.Fatalf("events = %d, want 2", len(pub.events))
	}
	if pub.events[0].Kind != types.KindTrade || pub.events[1].Kind != types.KindBook {
		t.Errorf("expected trade before book on a timestamp tie, got %v then %v", pub.events[0].Kind, pub.events[1].Kind)
	}
}

func TestFileHandler_DropsCrossedBook(t *testing.T) {
	pub := &recordingPublisher{}
	books := map[string][]types.OrderBook{
		"AAPL": {{
			Symbol:    "AAPL",
			Timestamp: 1,
			Bids:      []types.OrderBookLevel{{Price: 105, Quantity: 1}}, // crossed: bid > ask
			Asks:      []types.OrderBookLevel{{Price: 100, Quantity: 1}},
		}},
	}
	h := NewFileHandler(pub, nil, books)

	effect, err := h.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if effect != Exhausted {
		t.Errorf("effect = %v, want Exhausted once the only row is dropped as crossed", effect)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected the crossed book to be dropped, got %d events", len(pub.events))
	}
	if !h.IsFinished() {
		t.Error("expected IsFinished once the dropped row's cursor has advanced past it")
	}
}

func TestFileHandler_EmptySourceIsImmediatelyFinished(t *testing.T) {
	h := NewFileHandler(&recordingPublisher{}, nil, nil)
	if !h.IsFinished() {
		t.Error("an empty data source must be finished immediately")
	}
	effect, err := h.Update(context.Background())
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if effect != Exhausted {
		t.Errorf("effect = %v, want Exhausted", effect)
	}
}

func TestFileHandler_LatestBarAndBookTrackLastSeen(t *testing.T) {
	pub := &recordingPublisher{}
	trades := map[string][]types.Trade{
		"AAPL": {{Symbol: "AAPL", Timestamp: 1, Price: 100, Quantity: 2}},
	}
	h := NewFileHandler(pub, trades, nil)

	if _, err := h.Update(context.Background()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	bar, ok := h.LatestBar("AAPL")
	if !ok || bar.Close != 100 {
		t.Errorf("LatestBar = %+v, %v; want close=100", bar, ok)
	}
	if len(h.LatestBars("AAPL", 5)) != 1 {
		t.Errorf("expected one bar in history")
	}
	if _, ok := h.LatestBook("AAPL"); ok {
		t.Error("expected no book recorded for a trade-only source")
	}
}
