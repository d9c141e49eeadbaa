// Package portfolio implements the cash/position/equity ledger: the stateful
// core that consumes Fill events, maintains average-cost positions, values
// them against the latest market, and emits an equity time series.
//
// Grounded on original_source/include/core/Portfolio.h (average-cost fill
// accounting math). The constructor is New(dataHandler, initialCapital); it
// takes no bus or event-queue argument.
package portfolio

import (
	"context"
	"math"

	"hftbacktester/internal/engine/types"
)

const zeroEpsilon = 1e-7

// LatestPriceSource is the read-only view into the DataHandler's current
// book/trade/bar state that the Portfolio needs for mark-to-market. The
// Portfolio borrows this read-only; it never mutates DataHandler state,
// resolving the source's Portfolio<->DataHandler cyclic ownership into a
// one-way reference (§9).
type LatestPriceSource interface {
	LatestBar(symbol string) (types.Bar, bool)
	LatestBook(symbol string) (types.OrderBook, bool)
}

// Position is one symbol's open holding. Quantity is signed: positive is
// long, negative is short. A Position with |Quantity| < zeroEpsilon is
// never stored — it is removed from the holdings map instead.
type Position struct {
	Symbol         string
	Quantity       float64
	AverageCost    float64
	MarketValue    float64
	EntryTimestamp types.Timestamp
}

// Direction reports LONG, SHORT, or FLAT based on the signed quantity.
func (p Position) Direction() string {
	switch {
	case p.Quantity > 0:
		return "LONG"
	case p.Quantity < 0:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// ClosedTrade is one row of the trade log (§6 Trade log CSV).
type ClosedTrade struct {
	Symbol           string
	Direction        string // the direction of the position that closed: LONG or SHORT
	Quantity         float64
	EntryPrice       float64
	ExitPrice        float64
	PnL              float64
	EntryTimestamp   types.Timestamp
	ExitTimestamp    types.Timestamp
	VolatilityRegime types.Volatility
	TrendRegime      types.Trend
}

// EquitySample is one point on the equity curve.
type EquitySample struct {
	Timestamp   types.Timestamp
	Equity      float64
	MarketState *types.MarketState
}

// Portfolio is the exclusive owner of cash, holdings, and the equity curve.
type Portfolio struct {
	data           LatestPriceSource
	initialCapital float64

	cash        float64
	holdings    map[string]*Position
	equityCurve []EquitySample
	tradeLog    []ClosedTrade

	peakEquity  float64
	maxDrawdown float64

	lastTradePrice map[string]float64
	lastBookMid    map[string]float64
	lastBarClose   map[string]float64
	lastKnown      map[string]float64

	marketState map[string]types.MarketState
}

// New creates a Portfolio. Constructor order is (data handler, initial
// capital): the bus itself is not a Portfolio dependency, since Fill/Market
// events reach the Portfolio by dispatch, not by the Portfolio pulling from
// the bus.
func New(data LatestPriceSource, initialCapital float64) *Portfolio {
	return &Portfolio{
		data:           data,
		initialCapital: initialCapital,
		cash:           initialCapital,
		holdings:       make(map[string]*Position),
		peakEquity:     initialCapital,
		lastTradePrice: make(map[string]float64),
		lastBookMid:    make(map[string]float64),
		lastBarClose:   make(map[string]float64),
		lastKnown:      make(map[string]float64),
		marketState:    make(map[string]types.MarketState),
	}
}

// Name identifies this consumer in dispatcher logs.
func (p *Portfolio) Name() string { return "portfolio" }

// HandleEvent implements bus.Consumer. Per §2 the Portfolio is registered
// after the strategies so it marks-to-market only after they have seen the
// same tick, and before the RiskManager so risk sizing sees fresh equity.
func (p *Portfolio) HandleEvent(ctx context.Context, ev types.Event) error {
	switch ev.Kind {
	case types.KindFill:
		p.OnFill(*ev.Fill)
	case types.KindMarket:
		p.onMarketBar(*ev.Market)
		p.UpdateTimeIndex(ev.Timestamp)
	case types.KindTrade:
		p.onMarketTrade(*ev.Trade)
		p.UpdateTimeIndex(ev.Timestamp)
	case types.KindBook:
		p.onMarketBook(*ev.Book)
		p.UpdateTimeIndex(ev.Timestamp)
	case types.KindRegimeChanged:
		p.marketState[ev.RegimeChanged.Symbol] = ev.RegimeChanged.State
	}
	return nil
}

// OnFill updates cash and holdings for one executed fill (§4.3).
func (p *Portfolio) OnFill(f types.Fill) {
	if f.Quantity == 0 {
		return // idempotence: a zero-quantity fill is a no-op
	}
	pos, existed := p.holdings[f.Symbol]
	if !existed {
		pos = &Position{Symbol: f.Symbol}
	}

	switch f.Direction {
	case types.DirectionBuy:
		p.cash -= f.Quantity*f.FillPrice + f.Commission
		p.applyBuy(pos, f)
	case types.DirectionSell:
		p.cash += f.Quantity*f.FillPrice - f.Commission
		p.applySell(pos, f)
	}

	if math.Abs(pos.Quantity) < zeroEpsilon {
		delete(p.holdings, f.Symbol)
	} else {
		p.holdings[f.Symbol] = pos
	}
}

func (p *Portfolio) applyBuy(pos *Position, f types.Fill) {
	if pos.Quantity >= 0 {
		// Adding to long (or opening from flat): weighted-average cost.
		if pos.Quantity == 0 {
			pos.EntryTimestamp = f.Timestamp
		}
		newQty := pos.Quantity + f.Quantity
		pos.AverageCost = (pos.Quantity*pos.AverageCost + f.Quantity*f.FillPrice) / newQty
		pos.Quantity = newQty
		return
	}
	// Closing a short first, then opening the long remainder.
	overlap := math.Min(f.Quantity, -pos.Quantity)
	pnl := (pos.AverageCost - f.FillPrice) * overlap
	p.recordClose(pos, "SHORT", overlap, f.FillPrice, pnl, f.Timestamp)

	newQty := pos.Quantity + f.Quantity
	if newQty <= 0 {
		pos.Quantity = newQty // still short (or exactly flat), average cost unchanged
		return
	}
	pos.Quantity = newQty // flipped long with the remainder
	pos.AverageCost = f.FillPrice
	pos.EntryTimestamp = f.Timestamp
}

func (p *Portfolio) applySell(pos *Position, f types.Fill) {
	if pos.Quantity <= 0 {
		// Adding to short (or opening from flat): weighted-average cost.
		if pos.Quantity == 0 {
			pos.EntryTimestamp = f.Timestamp
		}
		newQty := pos.Quantity - f.Quantity
		pos.AverageCost = (-pos.Quantity*pos.AverageCost + f.Quantity*f.FillPrice) / -newQty
		pos.Quantity = newQty
		return
	}
	// Closing a long first (shorts are permitted — §9 resolved open
	// question — so selling past flat opens a new short).
	overlap := math.Min(f.Quantity, pos.Quantity)
	pnl := (f.FillPrice - pos.AverageCost) * overlap
	p.recordClose(pos, "LONG", overlap, f.FillPrice, pnl, f.Timestamp)

	newQty := pos.Quantity - f.Quantity
	if newQty >= 0 {
		pos.Quantity = newQty
		return
	}
	pos.Quantity = newQty // flipped short with the remainder
	pos.AverageCost = f.FillPrice
	pos.EntryTimestamp = f.Timestamp
}

func (p *Portfolio) recordClose(pos *Position, closedDirection string, quantity, exitPrice, pnl float64, exitTS types.Timestamp) {
	state := p.marketState[pos.Symbol]
	p.tradeLog = append(p.tradeLog, ClosedTrade{
		Symbol:           pos.Symbol,
		Direction:        closedDirection,
		Quantity:         quantity,
		EntryPrice:       pos.AverageCost,
		ExitPrice:        exitPrice,
		PnL:              pnl,
		EntryTimestamp:   pos.EntryTimestamp,
		ExitTimestamp:    exitTS,
		VolatilityRegime: state.Volatility,
		TrendRegime:      state.Trend,
	})
}

func (p *Portfolio) onMarketTrade(t types.Trade) {
	p.lastTradePrice[t.Symbol] = t.Price
	p.lastKnown[t.Symbol] = t.Price
	p.markSymbol(t.Symbol)
}

func (p *Portfolio) onMarketBook(b types.OrderBook) {
	if mid, ok := b.Mid(); ok {
		p.lastBookMid[b.Symbol] = mid
		p.lastKnown[b.Symbol] = mid
	}
	p.markSymbol(b.Symbol)
}

func (p *Portfolio) onMarketBar(bar types.Bar) {
	p.lastBarClose[bar.Symbol] = bar.Close
	p.lastKnown[bar.Symbol] = bar.Close
	p.markSymbol(bar.Symbol)
}

// lastPrice resolves the valuation fallback chain (§4.3): trade > book mid
// > bar close > last known price.
func (p *Portfolio) lastPrice(symbol string) (float64, bool) {
	if v, ok := p.lastTradePrice[symbol]; ok {
		return v, true
	}
	if v, ok := p.lastBookMid[symbol]; ok {
		return v, true
	}
	if v, ok := p.lastBarClose[symbol]; ok {
		return v, true
	}
	if v, ok := p.lastKnown[symbol]; ok {
		return v, true
	}
	return 0, false
}

// markSymbol refreshes one position's market_value if a price is available;
// if none is, the prior market_value carries forward unchanged (§4.3).
func (p *Portfolio) markSymbol(symbol string) {
	pos, ok := p.holdings[symbol]
	if !ok {
		return
	}
	price, ok := p.lastPrice(symbol)
	if !ok {
		return
	}
	pos.MarketValue = pos.Quantity * price
}

// UpdateTimeIndex appends (timestamp, total_equity, market_state) to the
// equity curve and refreshes peak_equity/max_drawdown. Calling it twice with
// unchanged state appends a duplicate sample equal to the last, which is
// the documented idempotence property (§8), not an error.
func (p *Portfolio) UpdateTimeIndex(ts types.Timestamp) {
	equity := p.TotalEquity()
	if equity > p.peakEquity {
		p.peakEquity = equity
	}
	var drawdown float64
	if p.peakEquity > 0 {
		drawdown = (p.peakEquity - equity) / p.peakEquity
	}
	if drawdown > p.maxDrawdown {
		p.maxDrawdown = drawdown
	}

	var state *types.MarketState
	// Attach whatever regime was most recently seen for any symbol; a single
	// portfolio-level regime sample is attached per spec §3 ("MarketState ...
	// attached to the most recent equity-curve sample").
	for _, s := range p.marketState {
		cp := s
		state = &cp
	}

	p.equityCurve = append(p.equityCurve, EquitySample{Timestamp: ts, Equity: equity, MarketState: state})
}

// TotalEquity returns cash plus the market value of every open position.
func (p *Portfolio) TotalEquity() float64 {
	total := p.cash
	for _, pos := range p.holdings {
		total += pos.MarketValue
	}
	return total
}

// Cash returns current cash.
func (p *Portfolio) Cash() float64 { return p.cash }

// Position returns a copy of the current position for symbol, if any.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.holdings[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// CurrentPositions returns a copy of every open position.
func (p *Portfolio) CurrentPositions() []Position {
	out := make([]Position, 0, len(p.holdings))
	for _, pos := range p.holdings {
		out = append(out, *pos)
	}
	return out
}

// EquityCurve returns the recorded equity samples.
func (p *Portfolio) EquityCurve() []EquitySample { return p.equityCurve }

// TradeLog returns the recorded closed trades.
func (p *Portfolio) TradeLog() []ClosedTrade { return p.tradeLog }

// InitialCapital returns the constant starting capital.
func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }

// RealTimePnL is total_equity - initial_capital.
func (p *Portfolio) RealTimePnL() float64 { return p.TotalEquity() - p.initialCapital }

// MaxDrawdown returns the running maximum drawdown in [0,1].
func (p *Portfolio) MaxDrawdown() float64 { return p.maxDrawdown }
