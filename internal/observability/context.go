package observability

import "context"

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	symbolKey contextKey = "symbol"
)

// RunInfo carries the identifiers LogEvent stamps on every log line.
type RunInfo struct {
	RunID  string
	Symbol string
}

// WithRunInfo attaches RunInfo to ctx; empty fields are left unset.
func WithRunInfo(ctx context.Context, info RunInfo) context.Context {
	if info.RunID != "" {
		ctx = context.WithValue(ctx, runIDKey, info.RunID)
	}
	if info.Symbol != "" {
		ctx = context.WithValue(ctx, symbolKey, info.Symbol)
	}
	return ctx
}

// RunInfoFromContext reads back whatever RunInfo was attached, defaulting
// to the zero value for anything not set.
func RunInfoFromContext(ctx context.Context) RunInfo {
	info := RunInfo{}
	if v := ctx.Value(runIDKey); v != nil {
		if s, ok := v.(string); ok {
			info.RunID = s
		}
	}
	if v := ctx.Value(symbolKey); v != nil {
		if s, ok := v.(string); ok {
			info.Symbol = s
		}
	}
	return info
}
