// Package execution implements the ExecutionHandler: simulated matching of
// Orders against the latest order-book snapshot, commission, a decision-
// trace audit log, and per-symbol slippage tracking (§4.6).
//
// Grounded on the teacher's libs/replay/replay.go SimBroker.tryFill (walk
// the book, weighted-average fill price, flat commission) generalized from
// the teacher's candle-bound fill model (fills at a candle's open/close) to
// matching directly against live order-book depth, since this engine's
// DataHandler publishes book snapshots rather than OHLC candles.
package execution

import (
	"context"
	"fmt"

	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

// Market is the read-only book view the ExecutionHandler needs.
type Market interface {
	LatestBook(symbol string) (types.OrderBook, bool)
}

// Publisher is the minimal bus dependency the ExecutionHandler needs to
// emit Fill and OrderFailure events.
type Publisher interface {
	Publish(types.Event) error
}

// Config controls matching cost parameters.
type Config struct {
	CommissionRate float64
}

// Handler is the bus.Consumer that turns Orders into Fills (§4.6). Trace and
// Slippage are optional enrichments: a nil TraceStore disables audit
// logging, a nil SlippageTracker disables slippage accounting.
type Handler struct {
	cfg      Config
	market   Market
	pub      Publisher
	trace    *TraceStore
	slippage *SlippageTracker
}

// New constructs a Handler. trace and slippage may both be nil.
func New(cfg Config, market Market, pub Publisher, trace *TraceStore, slippage *SlippageTracker) *Handler {
	return &Handler{cfg: cfg, market: market, pub: pub, trace: trace, slippage: slippage}
}

func (h *Handler) Name() string { return "execution_handler" }

func (h *Handler) HandleEvent(ctx context.Context, ev types.Event) error {
	switch ev.Kind {
	case types.KindOrder:
		return h.onOrder(ctx, *ev.Order)
	case types.KindRegimeChanged:
		if h.slippage != nil {
			h.slippage.OnRegimeChanged(*ev.RegimeChanged)
		}
	}
	return nil
}

func (h *Handler) onOrder(ctx context.Context, o types.Order) error {
	if o.Quantity <= 0 {
		return h.reject(ctx, o, types.FailureInvalidOrder, o.Quantity, "non-positive order quantity")
	}

	book, ok := h.market.LatestBook(o.Symbol)
	if !ok {
		return h.reject(ctx, o, types.FailureNoLiquidity, o.Quantity, "no book snapshot for symbol")
	}

	preOrderMid, _ := book.Mid()

	var levels []types.OrderBookLevel
	switch o.Direction {
	case types.DirectionBuy:
		levels = book.Asks
	case types.DirectionSell:
		levels = book.Bids
	default:
		return h.reject(ctx, o, types.FailureInvalidOrder, o.Quantity, fmt.Sprintf("order direction must be BUY or SELL, got %s", o.Direction))
	}

	filledQty, notional, consumed := walkLevels(levels, o.Type, o.Direction, o.LimitPrice, o.Quantity)
	remaining := o.Quantity - filledQty

	if filledQty <= 0 {
		reason := types.FailureNotFilled
		if o.Type == types.OrderTypeMarket {
			reason = types.FailureNoLiquidity
		}
		return h.reject(ctx, o, reason, o.Quantity, "no level satisfied the order")
	}

	fillPrice := notional / filledQty
	commission := fillPrice * filledQty * h.cfg.CommissionRate

	fill := types.Fill{
		OrderID:      o.OrderID,
		StrategyName: o.StrategyName,
		Symbol:       o.Symbol,
		Timestamp:    o.Timestamp,
		Direction:    o.Direction,
		Quantity:     filledQty,
		FillPrice:    fillPrice,
		Commission:   commission,
	}
	if err := h.pub.Publish(types.NewFillEvent(fill)); err != nil {
		return fmt.Errorf("execution.onOrder: publish fill: %w", err)
	}

	if h.slippage != nil && preOrderMid > 0 {
		h.slippage.Record(o.Symbol, o.Direction, preOrderMid, fillPrice)
	}

	outcome := "filled"
	if remaining > 1e-9 {
		outcome = "partial"
	}
	h.appendTrace(TraceEntry{
		OrderID: o.OrderID, Symbol: o.Symbol, Direction: o.Direction, Quantity: o.Quantity,
		Outcome: outcome, FillPrice: fillPrice, Commission: commission, Remaining: remaining,
	})
	observability.LogEvent(ctx, "info", "order_filled", map[string]any{
		"order_id": o.OrderID, "symbol": o.Symbol, "fill_price": fillPrice,
		"quantity": filledQty, "levels_consumed": consumed,
	})

	if remaining > 1e-9 {
		return h.publishFailure(ctx, o, types.FailurePartialFill, remaining, "book depth exhausted before full fill")
	}
	return nil
}

// walkLevels consumes levels (already sorted best-first by the caller's
// book representation) up to qty, honoring a limit price for LIMIT orders.
// It returns total quantity filled, total notional (price*qty summed per
// level), and how many levels were touched.
func walkLevels(levels []types.OrderBookLevel, orderType types.OrderType, dir types.Direction, limitPrice, qty float64) (filledQty, notional float64, consumed int) {
	remaining := qty
	for _, lvl := range levels {
		if remaining <= 1e-12 {
			break
		}
		if orderType == types.OrderTypeLimit && !limitSatisfied(dir, limitPrice, lvl.Price) {
			break
		}
		take := lvl.Quantity
		if take > remaining {
			take = remaining
		}
		filledQty += take
		notional += take * lvl.Price
		remaining -= take
		consumed++
	}
	return filledQty, notional, consumed
}

func limitSatisfied(dir types.Direction, limitPrice, levelPrice float64) bool {
	switch dir {
	case types.DirectionBuy:
		return levelPrice <= limitPrice
	case types.DirectionSell:
		return levelPrice >= limitPrice
	default:
		return false
	}
}

func (h *Handler) reject(ctx context.Context, o types.Order, reason types.FailureReason, remaining float64, detail string) error {
	h.appendTrace(TraceEntry{
		OrderID: o.OrderID, Symbol: o.Symbol, Direction: o.Direction, Quantity: o.Quantity,
		Outcome: string(reason), Remaining: remaining, Reason: detail,
	})
	observability.LogEvent(ctx, "warn", "order_rejected", map[string]any{
		"order_id": o.OrderID, "symbol": o.Symbol, "reason": reason, "detail": detail,
	})
	return h.publishFailure(ctx, o, reason, remaining, detail)
}

func (h *Handler) publishFailure(ctx context.Context, o types.Order, reason types.FailureReason, remaining float64, detail string) error {
	failure := types.OrderFailure{
		OrderID:   o.OrderID,
		Symbol:    o.Symbol,
		Timestamp: o.Timestamp,
		Reason:    reason,
		Remaining: remaining,
		Detail:    detail,
	}
	if err := h.pub.Publish(types.NewOrderFailureEvent(failure)); err != nil {
		return fmt.Errorf("execution.publishFailure: %w", err)
	}
	return nil
}

func (h *Handler) appendTrace(entry TraceEntry) {
	if h.trace == nil {
		return
	}
	if _, err := h.trace.Append(entry); err != nil {
		// A trace write failure must never block order flow; it only loses
		// one audit record.
		_ = err
	}
}
