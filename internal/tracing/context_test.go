package tracing

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionKey(ctx, "chat-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "run-1", GetRunID(ctx))
	assert.Equal(t, "chat-1", GetSessionKey(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetSessionKey(ctx))
}

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext(context.Background())
	assert.NotEmpty(t, GetTraceID(ctx))

	other := NewRequestContext(nil)
	assert.NotEmpty(t, GetTraceID(other))
	assert.NotEqual(t, GetTraceID(ctx), GetTraceID(other))
}

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewRunID(), NewRunID())
}

func TestLoggerFromContext(t *testing.T) {
	base := zerolog.Nop()

	// Enrichment of a nil or empty context is a no-op, not a panic
	assert.NotPanics(t, func() {
		LoggerFromContext(nil, base)
		LoggerFromContext(context.Background(), base)
	})

	ctx := WithSessionKey(context.Background(), "chat")
	logger := LoggerFromContext(ctx, base)
	assert.NotNil(t, logger)
}
