package risk

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

// PortfolioView is the read-only Portfolio surface the RiskManager needs to
// size orders and evaluate the circuit breaker.
type PortfolioView interface {
	TotalEquity() float64
	Cash() float64
	InitialCapital() float64
	MaxDrawdown() float64
}

// Market is the read-only DataHandler view the RiskManager needs for
// last-price lookups and volatility sizing.
type Market interface {
	LatestBar(symbol string) (types.Bar, bool)
	LatestBook(symbol string) (types.OrderBook, bool)
	LatestBars(symbol string, n int) []types.Bar
}

// Publisher is the minimal bus dependency the RiskManager needs to emit
// sized orders.
type Publisher interface {
	Publish(types.Event) error
}

// Manager implements RiskManager (§4.5): signal -> sized order, circuit
// breaker, data-source gate, correlated-exposure sizing.
type Manager struct {
	cfg   Config
	book  PortfolioView
	data  Market
	pub   Publisher
	clock func() time.Time

	nextOrderID uint64

	tradingHalted  bool
	dataGateClosed bool
	fallbackActive bool

	haltReason string
	haltAt     time.Time
	resetBy    string
	resetAt    time.Time

	// returns holds a rolling per-symbol price history (last 256 prices),
	// turned into log returns for the correlated-exposure check (§4.5
	// enrichment).
	returns      map[string][]float64
	openNotional map[string]float64
}

// New constructs a Manager. Halt and reset times are taken from time.Now.
func New(cfg Config, book PortfolioView, data Market, pub Publisher) *Manager {
	return &Manager{
		cfg:          cfg,
		book:         book,
		data:         data,
		pub:          pub,
		clock:        time.Now,
		returns:      make(map[string][]float64),
		openNotional: make(map[string]float64),
	}
}

func (m *Manager) Name() string { return "risk_manager" }

// HandleEvent implements bus.Consumer: signals become sized orders,
// DataSourceStatus events toggle the connectivity gate, and fills update
// the per-symbol open-notional tracker used by the correlation check.
func (m *Manager) HandleEvent(ctx context.Context, ev types.Event) error {
	switch ev.Kind {
	case types.KindSignal:
		return m.onSignal(ctx, *ev.Signal)
	case types.KindDataSourceStatus:
		m.onDataSourceStatus(*ev.DataSourceStatus)
	case types.KindFill:
		m.onFill(*ev.Fill)
	case types.KindMarket, types.KindTrade, types.KindBook:
		m.recordReturn(ev)
	}
	return nil
}

func (m *Manager) onDataSourceStatus(s types.DataSourceStatus) {
	switch s.Status {
	case types.DataSourceDisconnected, types.DataSourceReconnecting:
		m.dataGateClosed = true
		m.fallbackActive = false
	case types.DataSourceFallback:
		m.dataGateClosed = false
		m.fallbackActive = true
	case types.DataSourceConnected:
		m.dataGateClosed = false
		m.fallbackActive = false
	}
}

func (m *Manager) onFill(f types.Fill) {
	notional := f.Quantity * f.FillPrice
	switch f.Direction {
	case types.DirectionBuy:
		m.openNotional[f.Symbol] += notional
	case types.DirectionSell:
		m.openNotional[f.Symbol] -= notional
	}
}

func (m *Manager) recordReturn(ev types.Event) {
	symbol, price, _, ok := priceFromEventRisk(ev)
	if !ok || price <= 0 {
		return
	}
	hist := m.returns[symbol]
	if len(hist) > 0 {
		prev := hist[len(hist)-1]
		_ = prev
	}
	m.returns[symbol] = append(m.returns[symbol], price)
	const maxHistory = 256
	if len(m.returns[symbol]) > maxHistory {
		m.returns[symbol] = m.returns[symbol][len(m.returns[symbol])-maxHistory:]
	}
}

func priceFromEventRisk(ev types.Event) (symbol string, price float64, ts types.Timestamp, ok bool) {
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

// onSignal transforms a Signal into a sized Order, applying every gate in
// §4.5 in order: circuit breaker, data-source gate, sizing, clamp,
// correlated-exposure adjustment.
func (m *Manager) onSignal(ctx context.Context, sig types.Signal) error {
	m.evaluateCircuitBreaker()

	if m.tradingHalted {
		observability.LogEvent(ctx, "warn", "signal_dropped_circuit_breaker", map[string]any{
			"strategy": sig.StrategyName, "symbol": sig.Symbol,
		})
		return nil
	}
	if m.dataGateClosed {
		observability.LogEvent(ctx, "warn", "signal_dropped_data_gate", map[string]any{
			"strategy": sig.StrategyName, "symbol": sig.Symbol,
		})
		return nil
	}
	if sig.Direction == types.DirectionFlat {
		return nil // a FLAT signal closes intent, not sized here; strategies track their own state
	}

	price, ok := m.lastPrice(sig.Symbol)
	if !ok || price <= 0 {
		observability.LogEvent(ctx, "warn", "signal_dropped_no_price", map[string]any{"symbol": sig.Symbol})
		return nil
	}

	qty := m.size(sig.Symbol, price)
	qty = m.applyCorrelationAdjustment(sig.Symbol, qty, price)
	if qty <= 0 {
		return nil
	}

	order := types.Order{
		OrderID:      atomic.AddUint64(&m.nextOrderID, 1),
		StrategyName: sig.StrategyName,
		Symbol:       sig.Symbol,
		Timestamp:    sig.Timestamp,
		Direction:    sig.Direction,
		Quantity:     qty,
		Type:         types.OrderTypeMarket,
	}
	_ = m.fallbackActive // surfaced via order metadata is out of Order's fields; simulated-fallback is logged instead
	if m.fallbackActive {
		observability.LogEvent(ctx, "info", "order_simulated_fallback", map[string]any{
			"order_id": order.OrderID, "symbol": order.Symbol,
		})
	}
	return m.pub.Publish(types.NewOrderEvent(order))
}

func (m *Manager) lastPrice(symbol string) (float64, bool) {
	if book, ok := m.data.LatestBook(symbol); ok {
		if mid, ok := book.Mid(); ok {
			return mid, true
		}
	}
	if bar, ok := m.data.LatestBar(symbol); ok {
		return bar.Close, true
	}
	return 0, false
}

// size implements the §4.5 sizing rules: volatility-based when configured
// and sufficient history exists, fixed-fractional otherwise, clamped to 99%
// of available cash.
func (m *Manager) size(symbol string, price float64) float64 {
	equity := m.book.TotalEquity()
	var qty float64

	if m.cfg.UseVolatilitySizing {
		sigma := m.logReturnStdDev(symbol, m.cfg.VolatilityLookback)
		if sigma >= 1e-6 {
			qty = (equity * m.cfg.RiskPerTradePct) / (sigma * price)
		}
	}
	if qty <= 0 {
		qty = (equity * m.cfg.RiskPerTradePct) / price
	}

	cash := m.book.Cash()
	if maxQty := (0.99 * cash) / price; qty > maxQty {
		qty = maxQty
	}
	if qty < 0 {
		qty = 0
	}
	return qty
}

func (m *Manager) logReturnStdDev(symbol string, lookback int) float64 {
	bars := m.data.LatestBars(symbol, lookback+1)
	if len(bars) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close <= 0 || bars[i].Close <= 0 {
			continue
		}
		returns = append(returns, math.Log(bars[i].Close/bars[i-1].Close))
	}
	if len(returns) < 2 {
		return 0
	}
	_, sigma := meanStdDevRisk(returns)
	return sigma
}

func meanStdDevRisk(values []float64) (mean, stdDev float64) {
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

// applyCorrelationAdjustment sizes down (never rejects) an order for a
// symbol highly correlated with an already-large open position (§4.5
// enrichment). Disabled when CorrelationThreshold is 0.
func (m *Manager) applyCorrelationAdjustment(symbol string, qty, price float64) float64 {
	if m.cfg.CorrelationThreshold <= 0 {
		return qty
	}
	for other, notional := range m.openNotional {
		if other == symbol || math.Abs(notional) < 1e-9 {
			continue
		}
		corr := m.correlation(symbol, other)
		if corr >= m.cfg.CorrelationThreshold {
			return qty * (1 - corr)
		}
	}
	return qty
}

func (m *Manager) correlation(a, b string) float64 {
	seriesA := logReturnsOf(m.returns[a])
	seriesB := logReturnsOf(m.returns[b])
	n := len(seriesA)
	if len(seriesB) < n {
		n = len(seriesB)
	}
	if n < 2 {
		return 0
	}
	seriesA = seriesA[len(seriesA)-n:]
	seriesB = seriesB[len(seriesB)-n:]

	meanA, _ := meanStdDevRisk(seriesA)
	meanB, _ := meanStdDevRisk(seriesB)
	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := seriesA[i]-meanA, seriesB[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA <= 0 || varB <= 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func logReturnsOf(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// evaluateCircuitBreaker implements §4.5: a portfolio loss beyond
// PortfolioLossThreshold trips a hard halt; a max-drawdown breach only
// raises an alert.
func (m *Manager) evaluateCircuitBreaker() {
	if m.tradingHalted {
		return
	}
	equity := m.book.TotalEquity()
	initial := m.book.InitialCapital()
	if initial <= 0 {
		return
	}
	loss := (initial - equity) / initial
	if loss > m.cfg.PortfolioLossThreshold {
		m.tradingHalted = true
		m.haltReason = fmt.Sprintf("portfolio loss %.4f exceeds threshold %.4f", loss, m.cfg.PortfolioLossThreshold)
		m.haltAt = m.clock()
	}
}

// MaxDrawdownAlert reports whether the Portfolio's running max drawdown has
// exceeded the configured limit, for callers that want to surface a
// RiskAlert without halting (§4.5).
func (m *Manager) MaxDrawdownAlert() bool {
	return m.book.MaxDrawdown() > m.cfg.MaxDrawdownPct
}

// TradingHalted reports whether the circuit breaker has tripped.
func (m *Manager) TradingHalted() bool { return m.tradingHalted }

// HaltReason returns the reason the circuit breaker tripped, if any.
func (m *Manager) HaltReason() string { return m.haltReason }

// ManualReset re-arms trading after an operator override, per §4.5: the
// reset is recorded with who and when so a post-mortem can see it.
func (m *Manager) ManualReset(operator, reason string) {
	m.tradingHalted = false
	m.haltReason = ""
	m.resetBy = operator
	m.resetAt = m.clock()
	_ = reason
}

// LastReset returns who last reset the breaker and when (zero value if
// never reset).
func (m *Manager) LastReset() (operator string, at time.Time) { return m.resetBy, m.resetAt }
