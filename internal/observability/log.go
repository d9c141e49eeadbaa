// Package observability provides structured JSON event logging for the
// engine. One global newline-delimited-JSON logger; no third-party logging
// framework is introduced, matching the teacher's own hand-rolled approach.
package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

// LogEvent writes one structured JSON log line: ts, level, event, plus
// whatever run identifiers are carried on ctx and the caller-supplied
// fields. Fields named "input" or "payload" are passed through RedactValue,
// which masks sensitive keys inside them.
func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.RunID != "" {
		payload["run_id"] = info.RunID
	}
	if info.Symbol != "" {
		payload["symbol"] = info.Symbol
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload":
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
