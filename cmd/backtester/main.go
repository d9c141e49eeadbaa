// Command backtester is the minimal CLI entrypoint: load a config file,
// parse its registered CSV sources, run the backtester driver to
// completion, and print the performance report.
//
// Kept thin per the engine's peripheral-surface boundary: flag parsing,
// report formatting, and dataset registration live here; none of the
// core's correctness lives in this file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"hftbacktester/internal/config"
	"hftbacktester/internal/engine/backtester"
	"hftbacktester/internal/engine/data"
	"hftbacktester/internal/engine/dataset"
	"hftbacktester/internal/engine/portfolio"
	"hftbacktester/internal/engine/types"
	"hftbacktester/internal/observability"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("backtester", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the JSON run configuration")
	traceDir := fs.String("trace-dir", "", "directory for the execution decision-trace log (disabled if empty)")
	datasetDir := fs.String("dataset-dir", "data/datasets", "directory for the CSV dataset catalog")
	equityCSVPath := fs.String("equity-csv", "", "path to write the equity curve CSV (disabled if empty)")
	tradeLogCSVPath := fs.String("trade-log-csv", "", "path to write the trade log CSV (disabled if empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "backtester: -config is required")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtester: config invalid: %v\n", err)
		return 1
	}

	ctx := observability.WithRunInfo(context.Background(), observability.RunInfo{RunID: uuid.New().String()})

	trades, books, err := loadSymbolHistory(ctx, cfg, *datasetDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtester: loading data: %v\n", err)
		return 2
	}

	bt, err := backtester.New(cfg, *traceDir, func(pub data.Publisher) (data.Handler, error) {
		return data.NewFileHandler(pub, trades, books), nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtester: wiring components: %v\n", err)
		return 2
	}

	result, err := bt.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtester: run failed: %v\n", err)
		return 2
	}

	if *equityCSVPath != "" {
		if err := portfolio.WriteEquityCurveCSV(*equityCSVPath, result.Portfolio.EquityCurve()); err != nil {
			fmt.Fprintf(os.Stderr, "backtester: writing equity curve CSV: %v\n", err)
			return 2
		}
	}
	if *tradeLogCSVPath != "" {
		if err := portfolio.WriteTradeLogCSV(*tradeLogCSVPath, result.Portfolio.TradeLog()); err != nil {
			fmt.Fprintf(os.Stderr, "backtester: writing trade log CSV: %v\n", err)
			return 2
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result.Report); err != nil {
		fmt.Fprintf(os.Stderr, "backtester: encoding report: %v\n", err)
		return 2
	}
	return 0
}

// loadSymbolHistory registers each configured symbol's trade/book CSV pair
// in the dataset catalog (so the exact bytes a run used can be reproduced
// later) and parses them into per-symbol history slices.
func loadSymbolHistory(ctx context.Context, cfg config.Config, datasetDir string) (map[string][]types.Trade, map[string][]types.OrderBook, error) {
	registry, err := dataset.Open(datasetDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset registry: %w", err)
	}

	trades := make(map[string][]types.Trade, len(cfg.Symbols))
	books := make(map[string][]types.OrderBook, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		tradePath := filepath.Join(cfg.Data.TradeDataDir, symbol+".csv")
		bookPath := filepath.Join(cfg.Data.BookDataDir, symbol+"_book.csv")

		if _, err := registry.Register(symbol, tradePath, bookPath); err != nil {
			return nil, nil, fmt.Errorf("register %s: %w", symbol, err)
		}

		t, err := data.ParseTradeCSV(ctx, tradePath, symbol)
		if err != nil {
			return nil, nil, fmt.Errorf("parse trades for %s: %w", symbol, err)
		}
		b, err := data.ParseBookCSV(ctx, bookPath, symbol)
		if err != nil {
			return nil, nil, fmt.Errorf("parse books for %s: %w", symbol, err)
		}
		trades[symbol] = t
		books[symbol] = b

		observability.LogEvent(ctx, "info", "dataset_loaded", map[string]any{
			"symbol": symbol, "trades": len(t), "books": len(b),
		})
	}
	return trades, books, nil
}
