package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns a logger enriched with the tracing fields
// present on the context. Absent fields are omitted.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}

	builder := base.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		builder = builder.Str("trace_id", traceID)
	}
	if runID := GetRunID(ctx); runID != "" {
		builder = builder.Str("run_id", runID)
	}
	if sessionKey := GetSessionKey(ctx); sessionKey != "" {
		builder = builder.Str("session_key", sessionKey)
	}

	return builder.Logger()
}
