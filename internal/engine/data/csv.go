package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

// ParseTradeCSV reads a trade print file with header
// datetime,trade_id,price,qty,timestamp_ms,is_buyer_maker (§4.2) and returns
// trades sorted by timestamp ascending. datetime and trade_id are accepted
// for schema compatibility but not otherwise used; timestamp_ms is
// authoritative. A row with an unparseable field is skipped and logged
// once for the whole file rather than aborting the parse; a missing
// header column is still a hard failure.
func ParseTradeCSV(ctx context.Context, path, symbol string) ([]types.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("data.ParseTradeCSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("data.ParseTradeCSV: read header: %w", err)
	}
	col, err := indexColumns(header, "price", "qty", "timestamp_ms", "is_buyer_maker")
	if err != nil {
		return nil, fmt.Errorf("data.ParseTradeCSV: %w", err)
	}

	var out []types.Trade
	skipped := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("data.ParseTradeCSV: %w", err)
		}

		price, perr := strconv.ParseFloat(strings.TrimSpace(row[col["price"]]), 64)
		qty, qerr := strconv.ParseFloat(strings.TrimSpace(row[col["qty"]]), 64)
		ts, terr := strconv.ParseInt(strings.TrimSpace(row[col["timestamp_ms"]]), 10, 64)
		if perr != nil || qerr != nil || terr != nil {
			skipped++
			continue
		}
		isBuyerMaker := strings.TrimSpace(row[col["is_buyer_maker"]])
		aggressor := types.SideBuy
		if isBuyerMaker == "true" || isBuyerMaker == "1" {
			// A buyer-maker print means the aggressor crossed the spread selling.
			aggressor = types.SideSell
		}

		out = append(out, types.Trade{
			Symbol:    symbol,
			Timestamp: types.Timestamp(ts),
			Price:     price,
			Quantity:  qty,
			Aggressor: aggressor,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if skipped > 0 {
		observability.LogEvent(ctx, "warn", "csv_rows_skipped", map[string]any{
			"path": path, "skipped": skipped,
		})
	}
	return out, nil
}

// ParseBookCSV reads a depth file with header timestamp_s,side,price,quantity
// (§4.2): consecutive rows sharing a timestamp are grouped into one
// OrderBook snapshot, bids sorted descending and asks ascending. A row with
// an unparseable field is skipped and logged once for the whole file
// rather than aborting the parse; a missing header column is still a hard
// failure.
func ParseBookCSV(ctx context.Context, path, symbol string) ([]types.OrderBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("data.ParseBookCSV: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("data.ParseBookCSV: read header: %w", err)
	}
	col, err := indexColumns(header, "timestamp_s", "side", "price", "quantity")
	if err != nil {
		return nil, fmt.Errorf("data.ParseBookCSV: %w", err)
	}

	type row struct {
		ts    int64
		side  string
		price float64
		qty   float64
	}
	var rows []row
	skipped := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("data.ParseBookCSV: %w", err)
		}
		tsSeconds, tserr := strconv.ParseFloat(strings.TrimSpace(rec[col["timestamp_s"]]), 64)
		price, perr := strconv.ParseFloat(strings.TrimSpace(rec[col["price"]]), 64)
		qty, qerr := strconv.ParseFloat(strings.TrimSpace(rec[col["quantity"]]), 64)
		if tserr != nil || perr != nil || qerr != nil {
			skipped++
			continue
		}
		rows = append(rows, row{
			ts:    int64(tsSeconds * 1000),
			side:  strings.ToUpper(strings.TrimSpace(rec[col["side"]])),
			price: price,
			qty:   qty,
		})
	}
	if skipped > 0 {
		observability.LogEvent(ctx, "warn", "csv_rows_skipped", map[string]any{
			"path": path, "skipped": skipped,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ts < rows[j].ts })

	var books []types.OrderBook
	var cur *types.OrderBook
	for _, rw := range rows {
		if cur == nil || cur.Timestamp != types.Timestamp(rw.ts) {
			if cur != nil {
				books = append(books, finalizeBook(*cur))
			}
			cur = &types.OrderBook{Symbol: symbol, Timestamp: types.Timestamp(rw.ts)}
		}
		level := types.OrderBookLevel{Price: rw.price, Quantity: rw.qty}
		switch rw.side {
		case "BID", "BUY", "B":
			cur.Bids = append(cur.Bids, level)
		case "ASK", "SELL", "A":
			cur.Asks = append(cur.Asks, level)
		}
	}
	if cur != nil {
		books = append(books, finalizeBook(*cur))
	}
	return books, nil
}

func finalizeBook(b types.OrderBook) types.OrderBook {
	sort.SliceStable(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.SliceStable(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
	return b
}

func indexColumns(header []string, names ...string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	col := make(map[string]int, len(names))
	for _, name := range names {
		i, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		col[name] = i
	}
	return col, nil
}
