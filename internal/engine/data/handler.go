// Package data implements the DataHandler: a chronological merger of
// per-symbol trade and order-book streams, in both a file-backed (CSV)
// variant and a live-socket-backed variant.
package data

import (
	"context"

	"hftbacktester/internal/engine/types"
)

// Effect reports the outcome of one Update call.
type Effect int

const (
	// Produced means one event was published to the bus.
	Produced Effect = iota
	// Exhausted means every stream is drained; no event was published.
	Exhausted
	// Stalled means no event was ready this call but more may arrive later
	// (only possible for the live variant, waiting on the socket).
	Stalled
)

func (e Effect) String() string {
	switch e {
	case Produced:
		return "produced"
	case Exhausted:
		return "exhausted"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Publisher is the minimal bus dependency a DataHandler needs: it only ever
// publishes, it never drains.
type Publisher interface {
	Publish(types.Event) error
}

// Handler is the capability interface both variants implement, replacing
// the source's DataHandler abstract base (§9): no inheritance, just the
// operations callers need.
type Handler interface {
	// Update advances by one event and publishes it to the bus.
	Update(ctx context.Context) (Effect, error)
	// IsFinished reports true iff every stream is exhausted.
	IsFinished() bool
	// LatestBar returns the most recent bar-equivalent close for symbol.
	// For the file-backed variant this is synthesized from the latest
	// trade (there is no bar CSV input, per §6); for the live variant it
	// is synthesized the same way from the latest trade print.
	LatestBar(symbol string) (types.Bar, bool)
	// LatestBook returns the most recent order-book snapshot for symbol.
	LatestBook(symbol string) (types.OrderBook, bool)
	// LatestBars returns up to the last n synthesized bars for symbol,
	// oldest first.
	LatestBars(symbol string, n int) []types.Bar
	// Symbols returns the configured symbol list.
	Symbols() []string
}
