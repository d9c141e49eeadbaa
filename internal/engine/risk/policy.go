// Package risk implements the RiskManager: signal-to-order sizing, the
// portfolio-loss circuit breaker, the data-source gate, and a correlated-
// exposure sizing adjustment.
//
// Grounded on the teacher's libs/risk/policy.go (versioned Policy load +
// validate + Violation/Violations) generalized from the teacher's
// stop-distance/position-cap policy to the sizing and circuit-breaker
// inputs named in §4.5, and on libs/trading/executor/executor.go +
// internal/modules/execution/engine.go (consolidated per DESIGN.md) for the
// sizing arithmetic itself.
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// Config is the RiskManager's load-once, read-only policy (§4.5, §6
// `risk` block).
type Config struct {
	RiskPerTradePct        float64 `json:"risk_per_trade_pct"`
	MaxDrawdownPct         float64 `json:"max_drawdown_pct"`
	DailyVaR95Pct          float64 `json:"daily_var_95_pct"`
	PortfolioLossThreshold float64 `json:"portfolio_loss_threshold_pct"`
	UseVolatilitySizing    bool    `json:"use_volatility_sizing"`
	VolatilityLookback     int     `json:"volatility_lookback"`
	// CorrelationThreshold gates the correlated-exposure sizing-down
	// enrichment (§4.5); 0 disables the check.
	CorrelationThreshold float64 `json:"correlation_threshold"`
	// CommissionRate resolves the spec's "commission default (0.001) is
	// scattered" open question (§9) into a single config-sourced value,
	// threaded into the ExecutionHandler.
	CommissionRate float64 `json:"commission_rate"`

	// Version is a content hash of the normalized JSON this Config was
	// loaded from, so two runs can be compared for "did the risk policy
	// change" without diffing file paths.
	Version string `json:"-"`
}

// DefaultConfig returns a conservative fixed-sizing policy used when no
// config file supplies a `risk` block.
func DefaultConfig() Config {
	c := Config{
		RiskPerTradePct:        0.01,
		MaxDrawdownPct:         0.20,
		DailyVaR95Pct:          0.05,
		PortfolioLossThreshold: 0.25,
		UseVolatilitySizing:    false,
		VolatilityLookback:     20,
		CorrelationThreshold:   0,
		CommissionRate:         0.001,
	}
	c.Version = versionOf(c)
	return c
}

// LoadConfig reads and validates a risk Config from a JSON file. An empty
// path returns DefaultConfig. Any validation failure is ConfigInvalid (§7):
// callers must treat a non-nil error here as fatal.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("risk.LoadConfig: read %q: %w", path, err)
	}
	c := DefaultConfig()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("risk.LoadConfig: parse %q: %w", path, err)
	}
	if vs := c.Validate(); len(vs) > 0 {
		return Config{}, fmt.Errorf("risk.LoadConfig: %q: %w", path, vs)
	}
	c.Version = versionOf(c)
	return c, nil
}

func versionOf(c Config) string {
	c.Version = ""
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return "v" + hex.EncodeToString(sum[:])[:16]
}

// ViolationCode identifies a specific config validation failure.
type ViolationCode string

const (
	ViolationRiskPerTradeOutOfRange ViolationCode = "RISK_PER_TRADE_OUT_OF_RANGE"
	ViolationDrawdownOutOfRange    ViolationCode = "MAX_DRAWDOWN_OUT_OF_RANGE"
	ViolationLossThresholdInvalid  ViolationCode = "PORTFOLIO_LOSS_THRESHOLD_INVALID"
	ViolationLookbackInvalid       ViolationCode = "VOLATILITY_LOOKBACK_INVALID"
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

// Validate checks Config against the named constraints (§4.5: "validated at
// load time against a set of named violation codes").
func (c Config) Validate() Violations {
	var vs Violations
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct > 1 {
		vs = append(vs, Violation{ViolationRiskPerTradeOutOfRange,
			fmt.Sprintf("risk_per_trade_pct must be in (0,1], got %.4f", c.RiskPerTradePct)})
	}
	if c.MaxDrawdownPct <= 0 || c.MaxDrawdownPct > 1 {
		vs = append(vs, Violation{ViolationDrawdownOutOfRange,
			fmt.Sprintf("max_drawdown_pct must be in (0,1], got %.4f", c.MaxDrawdownPct)})
	}
	if c.PortfolioLossThreshold <= 0 || c.PortfolioLossThreshold > 1 {
		vs = append(vs, Violation{ViolationLossThresholdInvalid,
			fmt.Sprintf("portfolio_loss_threshold_pct must be in (0,1], got %.4f", c.PortfolioLossThreshold)})
	}
	if c.UseVolatilitySizing && c.VolatilityLookback <= 1 {
		vs = append(vs, Violation{ViolationLookbackInvalid,
			fmt.Sprintf("volatility_lookback must be > 1 when use_volatility_sizing is set, got %d", c.VolatilityLookback)})
	}
	return vs
}
