// Package config loads and validates the engine's declarative JSON
// configuration (§6), following the teacher's os.Getenv-with-fallback idiom
// for environment overrides (grounded in cmd/shadow-validator/main.go and
// cmd/jax-utcp-smoke/main.go) and its Violation/Violations pattern
// (grounded in libs/risk/policy.go) for load-time validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"hftbacktester/internal/engine/risk"
)

// RunMode selects which driver the backtester entrypoint runs (§6).
type RunMode string

const (
	RunModeBacktest     RunMode = "BACKTEST"
	RunModeShadow       RunMode = "SHADOW"
	RunModeOptimization RunMode = "OPTIMIZATION"
	RunModeWalkForward  RunMode = "WALK_FORWARD"
	RunModeMonteCarlo   RunMode = "MONTE_CARLO"
)

func (m RunMode) valid() bool {
	switch m {
	case RunModeBacktest, RunModeShadow, RunModeOptimization, RunModeWalkForward, RunModeMonteCarlo:
		return true
	}
	return false
}

// DataConfig locates historical and fallback data sources (§6 `data`).
type DataConfig struct {
	StartDate                 string `json:"start_date"`
	EndDate                   string `json:"end_date"`
	TradeDataDir              string `json:"trade_data_dir"`
	BookDataDir               string `json:"book_data_dir"`
	HistoricalDataFallbackDir string `json:"historical_data_fallback_dir"`
}

// StrategyConfig is one entry of the §6 `strategies` sequence. Params is
// left as raw JSON since each strategy kind has its own parameter shape.
type StrategyConfig struct {
	Name   string          `json:"name"`
	Symbol string          `json:"symbol"`
	Active bool            `json:"active"`
	Params json.RawMessage `json:"params"`
}

// WebsocketConfig configures the live DataHandler's exchange connection
// (§6 `websocket`).
type WebsocketConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Target string `json:"target"`
}

// Config is the top-level declarative configuration (§6). Optimization,
// WalkForward, and MonteCarlo are parsed and preserved only so config files
// shared with the (not implemented) optimizer still load without error;
// this engine never consumes them.
type Config struct {
	RunMode        RunMode          `json:"run_mode"`
	Symbols        []string         `json:"symbols"`
	InitialCapital float64          `json:"initial_capital"`
	Data           DataConfig       `json:"data"`
	Strategies     []StrategyConfig `json:"strategies"`
	Risk           risk.Config      `json:"risk"`
	Websocket      WebsocketConfig  `json:"websocket"`

	Optimization json.RawMessage `json:"optimization,omitempty"`
	WalkForward  json.RawMessage `json:"walk_forward,omitempty"`
	MonteCarlo   json.RawMessage `json:"monte_carlo,omitempty"`
}

// ViolationCode identifies a specific config validation failure (§7
// ConfigInvalid).
type ViolationCode string

const (
	ViolationRunModeInvalid       ViolationCode = "RUN_MODE_INVALID"
	ViolationSymbolsEmpty         ViolationCode = "SYMBOLS_EMPTY"
	ViolationInitialCapitalInvalid ViolationCode = "INITIAL_CAPITAL_INVALID"
	ViolationDataDirMissing       ViolationCode = "DATA_DIR_MISSING"
	ViolationRiskConfigInvalid    ViolationCode = "RISK_CONFIG_INVALID"
)

// Violation describes one breached config constraint.
type Violation struct {
	Code    ViolationCode
	Message string
}

func (v Violation) Error() string { return fmt.Sprintf("[%s] %s", v.Code, v.Message) }

// Violations is a non-empty slice of Violation that also satisfies error.
type Violations []Violation

func (vs Violations) Error() string {
	msg := ""
	for i, v := range vs {
		if i > 0 {
			msg += "; "
		}
		msg += v.Error()
	}
	return msg
}

// Load reads and parses a Config from path, applies environment-variable
// overrides for deployment knobs (§10), then validates the result. A
// non-nil error is always ConfigInvalid (§7): callers must exit 1.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var c Config
	c.Risk = risk.DefaultConfig()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	applyEnvOverrides(&c)

	if vs := c.Validate(); len(vs) > 0 {
		return Config{}, fmt.Errorf("config.Load: %q: %w", path, vs)
	}
	return c, nil
}

// Validate checks Config against the named constraints (§6/§7).
func (c Config) Validate() Violations {
	var vs Violations
	if !c.RunMode.valid() {
		vs = append(vs, Violation{ViolationRunModeInvalid, fmt.Sprintf("run_mode %q is not a recognized mode", c.RunMode)})
	}
	if len(c.Symbols) == 0 {
		vs = append(vs, Violation{ViolationSymbolsEmpty, "symbols must list at least one instrument"})
	}
	if c.InitialCapital <= 0 {
		vs = append(vs, Violation{ViolationInitialCapitalInvalid, fmt.Sprintf("initial_capital must be positive, got %v", c.InitialCapital)})
	}
	if c.RunMode == RunModeBacktest && (c.Data.TradeDataDir == "" || c.Data.BookDataDir == "") {
		vs = append(vs, Violation{ViolationDataDirMissing, "data.trade_data_dir and data.book_data_dir are required for BACKTEST runs"})
	}
	if rvs := c.Risk.Validate(); len(rvs) > 0 {
		vs = append(vs, Violation{ViolationRiskConfigInvalid, rvs.Error()})
	}
	return vs
}

// applyEnvOverrides follows the teacher's os.Getenv-with-fallback idiom
// (cmd/shadow-validator/main.go): an unset or empty variable leaves the
// config-file value untouched.
func applyEnvOverrides(c *Config) {
	if dir := os.Getenv("HFT_TRADE_DATA_DIR"); dir != "" {
		c.Data.TradeDataDir = dir
	}
	if dir := os.Getenv("HFT_BOOK_DATA_DIR"); dir != "" {
		c.Data.BookDataDir = dir
	}
	if dir := os.Getenv("HFT_HISTORICAL_FALLBACK_DIR"); dir != "" {
		c.Data.HistoricalDataFallbackDir = dir
	}
	if host := os.Getenv("HFT_WEBSOCKET_HOST"); host != "" {
		c.Websocket.Host = host
	}
	if port := os.Getenv("HFT_WEBSOCKET_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Websocket.Port = n
		}
	}
}
