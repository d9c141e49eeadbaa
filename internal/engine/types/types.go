// Package types defines the value types shared across the backtesting and
// shadow-trading engine: bars, trades, order books, and the tagged Event
// variant that flows through the bus. These are immutable, comparable value
// types; no component other than the Portfolio and the DataHandler mutate
// state derived from them.
package types

import "fmt"

// Timestamp is milliseconds since the Unix epoch. Using an integer instead
// of time.Time keeps ordering comparisons exact and avoids monotonic-clock
// surprises when bars are loaded from CSV.
type Timestamp int64

// Side is a trade aggressor or order book side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction is the intent of a Signal or Order. FLAT only appears on Signal,
// meaning "close any open position," never on an Order.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionFlat Direction = "FLAT"
)

// OrderType distinguishes simulated-matching rules in the ExecutionHandler.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Bar is an OHLCV aggregate for one symbol at one timestamp.
type Bar struct {
	Symbol    string
	Timestamp Timestamp
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Trade is a single executed trade print from the feed (not a Fill — this is
// market data, not our own order's execution).
type Trade struct {
	Symbol    string
	Timestamp Timestamp
	Price     float64
	Quantity  float64
	Aggressor Side
}

// OrderBookLevel is one price level. Quantity 0 means "delete this level" in
// the incremental representation; it never appears with that meaning in a
// published snapshot.
type OrderBookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a full snapshot: bids descending by price, asks ascending.
// The zero value is not a valid book (empty sides); callers must check
// BestBid/BestAsk before relying on depth.
type OrderBook struct {
	Symbol    string
	Timestamp Timestamp
	Bids      []OrderBookLevel // descending price
	Asks      []OrderBookLevel // ascending price
}

// BestBid returns the best bid level and whether one exists.
func (b OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the best ask level and whether one exists.
func (b OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

// Mid returns (best_bid+best_ask)/2 and whether both sides are present.
func (b OrderBook) Mid() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Valid reports whether the top-of-book invariant best_bid < best_ask holds.
// A book failing this check must be dropped by the caller, per §4.2.
func (b OrderBook) Valid() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return true // one-sided books are not rejected, only crossed ones
	}
	return bid.Price < ask.Price
}

// Signal is produced by a Strategy and consumed by the RiskManager.
type Signal struct {
	StrategyName string
	Symbol       string
	Timestamp    Timestamp
	Direction    Direction
	Strength     float64 // in [0,1]
	StopLoss     *float64
	// SimulatedFallback marks a signal accepted while the data source is in
	// FALLBACK_ACTIVE. Nothing in this engine sets it: the RiskManager logs
	// order_simulated_fallback for such orders instead, and Order has no
	// matching flag.
	SimulatedFallback bool
}

// Order is produced by the RiskManager and consumed by the ExecutionHandler.
type Order struct {
	OrderID      uint64
	StrategyName string
	Symbol       string
	Timestamp    Timestamp
	Direction    Direction // BUY or SELL only
	Quantity     float64
	Type         OrderType
	LimitPrice   float64 // meaningful only when Type == OrderTypeLimit
}

// Fill is produced exclusively by the ExecutionHandler.
type Fill struct {
	OrderID      uint64
	StrategyName string
	Symbol       string
	Timestamp    Timestamp
	Direction    Direction
	Quantity     float64
	FillPrice    float64
	Commission   float64
}

// FailureReason classifies an OrderFailure event.
type FailureReason string

const (
	FailureNoLiquidity  FailureReason = "NO_LIQUIDITY"
	FailurePartialFill  FailureReason = "PARTIAL_FILL"
	FailureNotFilled    FailureReason = "NOT_FILLED"
	FailureInvalidOrder FailureReason = "INVALID_ORDER"
)

// OrderFailure reports a problem executing an Order. For PartialFill, a Fill
// for the filled portion is also published; OrderFailure carries the
// unfilled remainder.
type OrderFailure struct {
	OrderID   uint64
	Symbol    string
	Timestamp Timestamp
	Reason    FailureReason
	Remaining float64
	Detail    string
}

// Volatility classifies recent realized volatility.
type Volatility string

const (
	VolatilityLow    Volatility = "LOW"
	VolatilityNormal Volatility = "NORMAL"
	VolatilityHigh   Volatility = "HIGH"
)

// Trend classifies recent price direction.
type Trend string

const (
	TrendUp       Trend = "UP"
	TrendDown     Trend = "DOWN"
	TrendSideways Trend = "SIDEWAYS"
)

// MarketState is attached to equity-curve samples by the regime detector.
type MarketState struct {
	Volatility      Volatility
	Trend           Trend
	VolatilityValue float64
}

// DataSourceStatusKind enumerates the live feed's connectivity states.
type DataSourceStatusKind string

const (
	DataSourceConnected    DataSourceStatusKind = "CONNECTED"
	DataSourceDisconnected DataSourceStatusKind = "DISCONNECTED"
	DataSourceReconnecting DataSourceStatusKind = "RECONNECTING"
	DataSourceFallback     DataSourceStatusKind = "FALLBACK_ACTIVE"
)

// DataSourceStatus reports a change in live-feed connectivity.
type DataSourceStatus struct {
	Symbol    string // empty means "applies to all symbols"
	Timestamp Timestamp
	Status    DataSourceStatusKind
	Detail    string
}

// RegimeChanged is published by the regime detector when MarketState changes.
type RegimeChanged struct {
	Symbol    string
	Timestamp Timestamp
	State     MarketState
}

// News is an out-of-band informational event; no strategy in this engine
// acts on it directly, but it is a first-class bus variant per §3 and is
// consumed by the optional event-gating enrichment.
type News struct {
	Symbol    string
	Timestamp Timestamp
	Headline  string
}

// Kind tags which variant of Event is populated.
type Kind string

const (
	KindMarket           Kind = "market"
	KindTrade            Kind = "trade"
	KindBook             Kind = "book"
	KindSignal           Kind = "signal"
	KindOrder            Kind = "order"
	KindFill             Kind = "fill"
	KindOrderFailure     Kind = "order_failure"
	KindRegimeChanged    Kind = "regime_changed"
	KindDataSourceStatus Kind = "data_source_status"
	KindNews             Kind = "news"
)

// Event is a tagged variant: exactly one of the pointer fields matching Kind
// is non-nil. This replaces the source's Event subtype hierarchy (§9) with a
// flat struct the dispatcher switches on, instead of downcasting an
// interface.
type Event struct {
	Kind      Kind
	Timestamp Timestamp

	Market           *Bar
	Trade            *Trade
	Book             *OrderBook
	Signal           *Signal
	Order            *Order
	Fill             *Fill
	OrderFailure     *OrderFailure
	RegimeChanged    *RegimeChanged
	DataSourceStatus *DataSourceStatus
	News             *News
}

// NewMarketEvent wraps a Bar.
func NewMarketEvent(b Bar) Event { return Event{Kind: KindMarket, Timestamp: b.Timestamp, Market: &b} }

// NewTradeEvent wraps a Trade.
func NewTradeEvent(t Trade) Event { return Event{Kind: KindTrade, Timestamp: t.Timestamp, Trade: &t} }

// NewBookEvent wraps an OrderBook.
func NewBookEvent(b OrderBook) Event { return Event{Kind: KindBook, Timestamp: b.Timestamp, Book: &b} }

// NewSignalEvent wraps a Signal.
func NewSignalEvent(s Signal) Event {
	return Event{Kind: KindSignal, Timestamp: s.Timestamp, Signal: &s}
}

// NewOrderEvent wraps an Order.
func NewOrderEvent(o Order) Event { return Event{Kind: KindOrder, Timestamp: o.Timestamp, Order: &o} }

// NewFillEvent wraps a Fill.
func NewFillEvent(f Fill) Event { return Event{Kind: KindFill, Timestamp: f.Timestamp, Fill: &f} }

// NewOrderFailureEvent wraps an OrderFailure.
func NewOrderFailureEvent(f OrderFailure) Event {
	return Event{Kind: KindOrderFailure, Timestamp: f.Timestamp, OrderFailure: &f}
}

// NewRegimeChangedEvent wraps a RegimeChanged.
func NewRegimeChangedEvent(r RegimeChanged) Event {
	return Event{Kind: KindRegimeChanged, Timestamp: r.Timestamp, RegimeChanged: &r}
}

// NewDataSourceStatusEvent wraps a DataSourceStatus.
func NewDataSourceStatusEvent(s DataSourceStatus) Event {
	return Event{Kind: KindDataSourceStatus, Timestamp: s.Timestamp, DataSourceStatus: &s}
}

// NewNewsEvent wraps a News.
func NewNewsEvent(n News) Event { return Event{Kind: KindNews, Timestamp: n.Timestamp, News: &n} }

// String gives a compact log-friendly description of the event.
func (e Event) String() string {
	switch e.Kind {
	case KindMarket:
		return fmt.Sprintf("market(%s@%d close=%.4f)", e.Market.Symbol, e.Timestamp, e.Market.Close)
	case KindTrade:
		return fmt.Sprintf("trade(%s@%d px=%.4f qty=%.4f)", e.Trade.Symbol, e.Timestamp, e.Trade.Price, e.Trade.Quantity)
	case KindBook:
		return fmt.Sprintf("book(%s@%d)", e.Book.Symbol, e.Timestamp)
	case KindSignal:
		return fmt.Sprintf("signal(%s %s %s@%d)", e.Signal.StrategyName, e.Signal.Direction, e.Signal.Symbol, e.Timestamp)
	case KindOrder:
		return fmt.Sprintf("order(#%d %s %s qty=%.4f)", e.Order.OrderID, e.Order.Direction, e.Order.Symbol, e.Order.Quantity)
	case KindFill:
		return fmt.Sprintf("fill(#%d %s qty=%.4f@%.4f)", e.Fill.OrderID, e.Fill.Symbol, e.Fill.Quantity, e.Fill.FillPrice)
	case KindOrderFailure:
		return fmt.Sprintf("order_failure(#%d %s %s)", e.OrderFailure.OrderID, e.OrderFailure.Symbol, e.OrderFailure.Reason)
	case KindRegimeChanged:
		return fmt.Sprintf("regime_changed(%s)", e.RegimeChanged.Symbol)
	case KindDataSourceStatus:
		return fmt.Sprintf("data_source_status(%s)", e.DataSourceStatus.Status)
	case KindNews:
		return fmt.Sprintf("news(%s)", e.News.Symbol)
	default:
		return "event(unknown)"
	}
}
