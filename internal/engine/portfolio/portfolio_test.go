package portfolio

import (
	"math"
	"testing"

	"hftbacktester/internal/engine/types"
)

type stubPriceSource struct {
	bars  map[string]types.Bar
	books map[string]types.OrderBook
}

func (s stubPriceSource) LatestBar(symbol string) (types.Bar, bool) {
	b, ok := s.bars[symbol]
	return b, ok
}

func (s stubPriceSource) LatestBook(symbol string) (types.OrderBook, bool) {
	b, ok := s.books[symbol]
	return b, ok
}

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOnFill_OpenLongThenAddWeightedAverageCost(t *testing.T) {
	p := New(stubPriceSource{}, 100000)

	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 10, FillPrice: 100})
	pos, ok := p.Position("AAPL")
	if !ok {
		t.Fatal("expected an open position after a BUY fill")
	}
	if !approxEqual(pos.AverageCost, 100) || pos.Quantity != 10 {
		t.Errorf("pos = %+v, want qty=10 avgCost=100", pos)
	}

	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 10, FillPrice: 120})
	pos, _ = p.Position("AAPL")
	wantAvg := (10*100.0 + 10*120.0) / 20.0
	if !approxEqual(pos.AverageCost, wantAvg) || pos.Quantity != 20 {
		t.Errorf("pos after second buy = %+v, want qty=20 avgCost=%v", pos, wantAvg)
	}
}

func TestOnFill_SellClosesLongAndRecordsRealizedPnL(t *testing.T) {
	p := New(stubPriceSource{}, 100000)
	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 10, FillPrice: 100, Timestamp: 1})
	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionSell, Quantity: 10, FillPrice: 110, Timestamp: 2})

	if _, ok := p.Position("AAPL"); ok {
		t.Fatal("expected the position to be removed once fully closed")
	}
	trades := p.TradeLog()
	if len(trades) != 1 {
		t.Fatalf("trade log len = %d, want 1", len(trades))
	}
	closed := trades[0]
	if closed.Direction != "LONG" || !approxEqual(closed.PnL, 100) {
		t.Errorf("closed trade = %+v, want direction=LONG pnl=100", closed)
	}
}

func TestOnFill_SellPastFlatOpensShort(t *testing.T) {
	p := New(stubPriceSource{}, 100000)
	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionSell, Quantity: 5, FillPrice: 50})

	pos, ok := p.Position("AAPL")
	if !ok {
		t.Fatal("expected an open short position")
	}
	if pos.Direction() != "SHORT" || pos.Quantity != -5 {
		t.Errorf("pos = %+v, want a -5 SHORT position", pos)
	}
}

func TestOnFill_ZeroQuantityIsNoOp(t *testing.T) {
	p := New(stubPriceSource{}, 100000)
	cashBefore := p.Cash()
	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 0, FillPrice: 100})
	if p.Cash() != cashBefore {
		t.Error("a zero-quantity fill must not move cash")
	}
	if _, ok := p.Position("AAPL"); ok {
		t.Error("a zero-quantity fill must not open a position")
	}
}

func TestLastPrice_FallbackChainTradeThenBookThenBar(t *testing.T) {
	p := New(stubPriceSource{}, 100000)
	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 1, FillPrice: 100})

	p.onMarketBar(types.Bar{Symbol: "AAPL", Close: 90})
	pos, _ := p.Position("AAPL")
	if !approxEqual(pos.MarketValue, 90) {
		t.Errorf("market value from bar fallback = %v, want 90", pos.MarketValue)
	}

	p.onMarketBook(types.OrderBook{
		Symbol: "AAPL",
		Bids:   []types.OrderBookLevel{{Price: 94, Quantity: 1}},
		Asks:   []types.OrderBookLevel{{Price: 96, Quantity: 1}},
	})
	pos, _ = p.Position("AAPL")
	if !approxEqual(pos.MarketValue, 95) {
		t.Errorf("market value from book mid = %v, want 95", pos.MarketValue)
	}

	p.onMarketTrade(types.Trade{Symbol: "AAPL", Price: 99})
	pos, _ = p.Position("AAPL")
	if !approxEqual(pos.MarketValue, 99) {
		t.Errorf("market value from trade = %v, want 99 (trade outranks book/bar)", pos.MarketValue)
	}
}

func TestUpdateTimeIndex_TracksPeakEquityAndMaxDrawdown(t *testing.T) {
	p := New(stubPriceSource{}, 1000)
	p.UpdateTimeIndex(1) // equity == initial capital, no drawdown yet

	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 10, FillPrice: 10})
	p.onMarketTrade(types.Trade{Symbol: "AAPL", Price: 20})
	p.UpdateTimeIndex(2) // equity rose to a new peak

	p.onMarketTrade(types.Trade{Symbol: "AAPL", Price: 5})
	p.UpdateTimeIndex(3) // equity fell well below peak

	curve := p.EquityCurve()
	if len(curve) != 3 {
		t.Fatalf("equity curve len = %d, want 3", len(curve))
	}
	if p.MaxDrawdown() <= 0 {
		t.Error("expected a positive max drawdown after the price drop")
	}
}

func TestRealTimePnL_MatchesEquityMinusInitialCapital(t *testing.T) {
	p := New(stubPriceSource{}, 1000)
	p.OnFill(types.Fill{Symbol: "AAPL", Direction: types.DirectionBuy, Quantity: 10, FillPrice: 10})
	p.onMarketTrade(types.Trade{Symbol: "AAPL", Price: 15})

	want := p.TotalEquity() - 1000
	if !approxEqual(p.RealTimePnL(), want) {
		t.Errorf("RealTimePnL = %v, want %v", p.RealTimePnL(), want)
	}
}
