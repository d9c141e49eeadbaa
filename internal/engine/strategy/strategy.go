// Package strategy implements signal generation: OrderBookImbalance,
// PairsTrading, and SMACrossover, plus the name-keyed registry that looks
// them up by name instead of a type switch.
//
// Grounded on the teacher's libs/strategies/{strategy.go,registry.go}
// interface-plus-registry shape, generalized from the teacher's
// indicator-bundle Strategy interface to this engine's bus-dispatched,
// read-only-DataHandler one (§4.4).
package strategy

import (
	"context"
	"fmt"
	"sync"

	"hftbacktester/internal/engine/types"
)

// Market is the read-only DataHandler view a Strategy needs: the latest
// book/bar snapshots and bar history, never a mutation path.
type Market interface {
	LatestBar(symbol string) (types.Bar, bool)
	LatestBook(symbol string) (types.OrderBook, bool)
	LatestBars(symbol string, n int) []types.Bar
}

// Publisher is the minimal bus dependency a Strategy needs to emit Signals.
type Publisher interface {
	Publish(types.Event) error
}

// Strategy is the capability interface every strategy implements. It
// subscribes to the same event kinds a live human trader would watch;
// fills and regime changes arrive through the same HandleEvent, and a
// strategy that does not act on them ignores those event kinds.
type Strategy interface {
	Name() string
	HandleEvent(ctx context.Context, ev types.Event) error
}

// Registry is a name-keyed, concurrency-safe store of active strategies.
// Construction-time, read-mostly — adapted from the teacher's
// strategies.Registry, keyed by strategy name rather than a generated ID.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds s under its own Name(). Registering two strategies with the
// same name is an error: names must be unique or config-driven lookup and
// per-symbol signal tracking ambiguates.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		return fmt.Errorf("strategy.Register: nil strategy")
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("strategy.Register: strategy name must not be empty")
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy.Register: %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get returns the strategy registered under name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("strategy.Get: %q not found", name)
	}
	return s, nil
}

// All returns every registered strategy in an unspecified order.
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	return out
}

// Name implements bus.Consumer by fanning HandleEvent out to every
// registered strategy in an unspecified order (map iteration, which can
// differ from one event to the next). The
// Registry itself is what gets wired into the dispatcher (§2: "Strategies
// first"), not each strategy individually, so signal emission order across
// strategies never needs to be contractual.
func (r *Registry) Name() string { return "strategies" }

// HandleEvent implements bus.Consumer, delivering ev to every strategy.
func (r *Registry) HandleEvent(ctx context.Context, ev types.Event) error {
	r.mu.RLock()
	all := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		all = append(all, s)
	}
	r.mu.RUnlock()

	for _, s := range all {
		if err := s.HandleEvent(ctx, ev); err != nil {
			return fmt.Errorf("strategy %s: %w", s.Name(), err)
		}
	}
	return nil
}

// PositionState tracks a strategy's belief about its own current exposure
// per symbol, resolved per the spec's merge-conflict note (§9): an explicit
// enum plus a cooldown timer, not inferred from the Portfolio (a strategy
// has no access to Portfolio state — it tracks its own intent).
type PositionState int

const (
	StateFlat PositionState = iota
	StateLong
	StateShort
)

func (s PositionState) String() string {
	switch s {
	case StateLong:
		return "LONG"
	case StateShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

func emitSignal(ctx context.Context, pub Publisher, strategyName, symbol string, ts types.Timestamp, dir types.Direction, strength float64) error {
	return pub.Publish(types.NewSignalEvent(types.Signal{
		StrategyName: strategyName,
		Symbol:       symbol,
		Timestamp:    ts,
		Direction:    dir,
		Strength:     strength,
	}))
}
