package portfolio

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// WriteEquityCurveCSV writes the header timestamp_ms,equity, one row per
// EquitySample, per §6's "Equity curve CSV (output)".
func WriteEquityCurveCSV(path string, curve []EquitySample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("portfolio.WriteEquityCurveCSV: create: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"timestamp_ms", "equity"}); err != nil {
		return fmt.Errorf("portfolio.WriteEquityCurveCSV: header: %w", err)
	}
	for _, s := range curve {
		row := []string{
			strconv.FormatInt(int64(s.Timestamp), 10),
			strconv.FormatFloat(s.Equity, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("portfolio.WriteEquityCurveCSV: row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteTradeLogCSV writes the header symbol,direction,quantity,entry_price,
// exit_price,pnl,entry_timestamp,exit_timestamp,volatility_regime,
// trend_regime, one row per ClosedTrade, per §6's "Trade log CSV (output)".
func WriteTradeLogCSV(path string, trades []ClosedTrade) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("portfolio.WriteTradeLogCSV: create: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"symbol", "direction", "quantity", "entry_price", "exit_price", "pnl",
		"entry_timestamp", "exit_timestamp", "volatility_regime", "trend_regime",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("portfolio.WriteTradeLogCSV: header: %w", err)
	}
	for _, t := range trades {
		row := []string{
			t.Symbol,
			t.Direction,
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.EntryPrice, 'f', -1, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', -1, 64),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
			strconv.FormatInt(int64(t.EntryTimestamp), 10),
			strconv.FormatInt(int64(t.ExitTimestamp), 10),
			string(t.VolatilityRegime),
			string(t.TrendRegime),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("portfolio.WriteTradeLogCSV: row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
