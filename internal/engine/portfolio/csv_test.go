package portfolio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hftbacktester/internal/engine/types"
)

func TestWriteEquityCurveCSV_HeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "equity.csv")
	curve := []EquitySample{{Timestamp: 1000, Equity: 100000}, {Timestamp: 2000, Equity: 100500.5}}

	if err := WriteEquityCurveCSV(path, curve); err != nil {
		t.Fatalf("WriteEquityCurveCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (header + 2 rows)", len(lines))
	}
	if lines[0] != "timestamp_ms,equity" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "1000,100000" {
		t.Errorf("row 1 = %q", lines[1])
	}
}

func TestWriteTradeLogCSV_HeaderAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	trades := []ClosedTrade{{
		Symbol: "AAPL", Direction: "LONG", Quantity: 10, EntryPrice: 100, ExitPrice: 110,
		PnL: 100, EntryTimestamp: 1, ExitTimestamp: 2,
		VolatilityRegime: types.VolatilityNormal, TrendRegime: types.TrendUp,
	}}
	if err := WriteTradeLogCSV(path, trades); err != nil {
		t.Fatalf("WriteTradeLogCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2 (header + 1 row)", len(lines))
	}
	want := "symbol,direction,quantity,entry_price,exit_price,pnl,entry_timestamp,exit_timestamp,volatility_regime,trend_regime"
	if lines[0] != want {
		t.Errorf("header = %q, want %q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], "AAPL,LONG,10,100,110,100,1,2,NORMAL,UP") {
		t.Errorf("row = %q", lines[1])
	}
}
