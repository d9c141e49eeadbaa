package data

import (
	"context"
	"sort"

	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

type streamKind int

const (
	streamTrade streamKind = iota // Trade sorts before Book on a timestamp tie (§4.2).
	streamBook
)

// FileHandler is the file-backed DataHandler variant: it holds each
// symbol's already-parsed trade and book-depth streams fully in memory and
// merges them chronologically, one event per Update call.
//
// Grounded on original_source/include/data/HistoricCSVDataHandler.h for the
// per-symbol cursor shape, and libs/dataset/registry.go for the
// content-hash-verified CSV loading that feeds it (see ParseTradeCSV /
// ParseBookCSV and the dataset package).
type FileHandler struct {
	pub     Publisher
	symbols []string // sorted ascending; the merge tie-break relies on this

	trades   map[string][]types.Trade
	books    map[string][]types.OrderBook
	tradeIdx map[string]int
	bookIdx  map[string]int

	latestBar     map[string]types.Bar
	barHistory    map[string][]types.Bar
	latestBook    map[string]types.OrderBook
	hasPublished  bool
	lastTimestamp types.Timestamp
}

// NewFileHandler constructs a FileHandler from already-parsed per-symbol
// trade and book streams (see ParseTradeCSV / ParseBookCSV).
func NewFileHandler(pub Publisher, trades map[string][]types.Trade, books map[string][]types.OrderBook) *FileHandler {
	symbolSet := make(map[string]struct{})
	for s := range trades {
		symbolSet[s] = struct{}{}
	}
	for s := range books {
		symbolSet[s] = struct{}{}
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	return &FileHandler{
		pub:        pub,
		symbols:    symbols,
		trades:     trades,
		books:      books,
		tradeIdx:   make(map[string]int),
		bookIdx:    make(map[string]int),
		latestBar:  make(map[string]types.Bar),
		barHistory: make(map[string][]types.Bar),
		latestBook: make(map[string]types.OrderBook),
	}
}

type candidate struct {
	symbol string
	kind   streamKind
	ts     types.Timestamp
}

// Update implements the merge algorithm of §4.2: scan all active cursors,
// pick the minimum timestamp with tie-break (symbol asc, Trade before
// Book), publish exactly that one event, advance its cursor.
func (h *FileHandler) Update(ctx context.Context) (Effect, error) {
	for {
		best, ok := h.selectCandidate()
		if !ok {
			return Exhausted, nil
		}

		if h.hasPublished && best.ts < h.lastTimestamp {
			// Clock skew within a stream: drop and keep scanning (§4.2).
			observability.LogEvent(ctx, "warn", "data_clock_skew_dropped", map[string]any{
				"symbol": best.symbol,
				"kind":   best.kind,
			})
			h.advance(best)
			continue
		}

		ev, ok := h.materialize(best)
		h.advance(best)
		if !ok {
			continue // row failed validation (e.g. crossed book); dropped, try next
		}

		if err := h.pub.Publish(ev); err != nil {
			return Exhausted, err
		}
		h.hasPublished = true
		h.lastTimestamp = best.ts
		return Produced, nil
	}
}

func (h *FileHandler) selectCandidate() (candidate, bool) {
	var best candidate
	found := false
	for _, symbol := range h.symbols {
		if idx := h.tradeIdx[symbol]; idx < len(h.trades[symbol]) {
			c := candidate{symbol: symbol, kind: streamTrade, ts: h.trades[symbol][idx].Timestamp}
			if !found || better(c, best) {
				best, found = c, true
			}
		}
		if idx := h.bookIdx[symbol]; idx < len(h.books[symbol]) {
			c := candidate{symbol: symbol, kind: streamBook, ts: h.books[symbol][idx].Timestamp}
			if !found || better(c, best) {
				best, found = c, true
			}
		}
	}
	return best, found
}

// better reports whether a sorts before b under (timestamp asc, symbol asc,
// kind asc: Trade before Book).
func better(a, b candidate) bool {
	if a.ts != b.ts {
		return a.ts < b.ts
	}
	if a.symbol != b.symbol {
		return a.symbol < b.symbol
	}
	return a.kind < b.kind
}

func (h *FileHandler) advance(c candidate) {
	switch c.kind {
	case streamTrade:
		h.tradeIdx[c.symbol]++
	case streamBook:
		h.bookIdx[c.symbol]++
	}
}

func (h *FileHandler) materialize(c candidate) (types.Event, bool) {
	switch c.kind {
	case streamTrade:
		t := h.trades[c.symbol][h.tradeIdx[c.symbol]]
		h.recordTrade(t)
		return types.NewTradeEvent(t), true
	case streamBook:
		b := h.books[c.symbol][h.bookIdx[c.symbol]]
		if !b.Valid() {
			return types.Event{}, false // crossed book: dropped, per §8 boundary behavior
		}
		h.latestBook[c.symbol] = b
		return types.NewBookEvent(b), true
	default:
		return types.Event{}, false
	}
}

// recordTrade synthesizes a bar from the trade print: there is no bar CSV
// input in this engine's external interfaces (§6), so SMACrossover and
// other close-price consumers read the latest-trade-as-close cache instead.
func (h *FileHandler) recordTrade(t types.Trade) {
	bar := types.Bar{
		Symbol:    t.Symbol,
		Timestamp: t.Timestamp,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Quantity,
	}
	h.latestBar[t.Symbol] = bar
	h.barHistory[t.Symbol] = append(h.barHistory[t.Symbol], bar)
}

// IsFinished reports true iff every cursor has reached the end of its
// stream. On an empty data source this is true immediately (§8 boundary).
func (h *FileHandler) IsFinished() bool {
	for _, symbol := range h.symbols {
		if h.tradeIdx[symbol] < len(h.trades[symbol]) {
			return false
		}
		if h.bookIdx[symbol] < len(h.books[symbol]) {
			return false
		}
	}
	return true
}

func (h *FileHandler) LatestBar(symbol string) (types.Bar, bool) {
	b, ok := h.latestBar[symbol]
	return b, ok
}

func (h *FileHandler) LatestBook(symbol string) (types.OrderBook, bool) {
	b, ok := h.latestBook[symbol]
	return b, ok
}

func (h *FileHandler) LatestBars(symbol string, n int) []types.Bar {
	hist := h.barHistory[symbol]
	if n <= 0 || n >= len(hist) {
		out := make([]types.Bar, len(hist))
		copy(out, hist)
		return out
	}
	out := make([]types.Bar, n)
	copy(out, hist[len(hist)-n:])
	return out
}

func (h *FileHandler) Symbols() []string {
	out := make([]string, len(h.symbols))
	copy(out, h.symbols)
	return out
}
