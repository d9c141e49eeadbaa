package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writeConfig: %v", err)
	}
	return path
}

const validBacktestConfig = `{
  "run_mode": "BACKTEST",
  "symbols": ["AAPL", "MSFT"],
  "initial_capital": 100000,
  "data": {
    "start_date": "2024-01-01",
    "end_date": "2024-01-31",
    "trade_data_dir": "testdata/trades",
    "book_data_dir": "testdata/books"
  },
  "strategies": [
    {"name": "sma_aapl", "symbol": "AAPL", "active": true, "params": {"short": 5, "long": 20}}
  ],
  "risk": {
    "risk_per_trade_pct": 0.02,
    "max_drawdown_pct": 0.15,
    "portfolio_loss_threshold_pct": 0.25,
    "use_volatility_sizing": false,
    "volatility_lookback": 20
  }
}`

func TestLoad_ValidBacktestConfig(t *testing.T) {
	path := writeConfig(t, validBacktestConfig)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.RunMode != RunModeBacktest {
		t.Errorf("run_mode = %s, want BACKTEST", c.RunMode)
	}
	if len(c.Symbols) != 2 {
		t.Errorf("symbols = %v, want 2 entries", c.Symbols)
	}
	if c.Risk.RiskPerTradePct != 0.02 {
		t.Errorf("risk.risk_per_trade_pct = %v, want 0.02", c.Risk.RiskPerTradePct)
	}
}

func TestLoad_MissingDataDirsFailsForBacktest(t *testing.T) {
	path := writeConfig(t, `{"run_mode":"BACKTEST","symbols":["AAPL"],"initial_capital":1000}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigInvalid error for missing data dirs")
	}
}

func TestLoad_UnknownRunModeFails(t *testing.T) {
	path := writeConfig(t, `{"run_mode":"BOGUS","symbols":["AAPL"],"initial_capital":1000,"data":{"trade_data_dir":"a","book_data_dir":"b"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected ConfigInvalid error for unrecognized run_mode")
	}
}

func TestLoad_OptimizationBlockPreservedButUnconsumed(t *testing.T) {
	path := writeConfig(t, `{
		"run_mode":"BACKTEST","symbols":["AAPL"],"initial_capital":1000,
		"data":{"trade_data_dir":"a","book_data_dir":"b"},
		"optimization": {"max_trials": 50}
	}`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Optimization) == 0 {
		t.Error("expected optimization block to be preserved as raw JSON")
	}
}

func TestLoad_EnvOverridesDataDir(t *testing.T) {
	path := writeConfig(t, validBacktestConfig)
	t.Setenv("HFT_TRADE_DATA_DIR", "/override/trades")
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Data.TradeDataDir != "/override/trades" {
		t.Errorf("trade_data_dir = %q, want override applied", c.Data.TradeDataDir)
	}
}

func TestLoad_DefaultsRiskConfigWhenBlockOmitted(t *testing.T) {
	path := writeConfig(t, `{
		"run_mode":"BACKTEST","symbols":["AAPL"],"initial_capital":1000,
		"data":{"trade_data_dir":"a","book_data_dir":"b"}
	}`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Risk.RiskPerTradePct == 0 {
		t.Error("expected risk defaults to be applied when risk block omitted")
	}
}
