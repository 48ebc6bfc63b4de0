package telegram

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/tessa/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello there", "hello there"},
		{"bang command untouched", "!status", "!status"},
		{"slash command", "/stop", "!stop"},
		{"slash with args", "/slash compact now", "!slash compact now"},
		{"bot mention stripped", "/status@tessa_bot", "!status"},
		{"mention with args", "/slash@tessa_bot compact", "!slash compact"},
		{"bare slash untouched", "/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeCommand(tt.in))
		})
	}
}

func TestAuthorName(t *testing.T) {
	assert.Equal(t, "alice_w", authorName(&tgbotapi.User{UserName: "alice_w", FirstName: "Alice"}))
	assert.Equal(t, "Alice", authorName(&tgbotapi.User{FirstName: "Alice"}))
	assert.Equal(t, "Alice Wong", authorName(&tgbotapi.User{FirstName: "Alice", LastName: "Wong"}))
}

func TestAllowed(t *testing.T) {
	open := &Bot{config: &config.TelegramConfig{}}
	assert.True(t, open.allowed(123))

	restricted := &Bot{config: &config.TelegramConfig{Allowlist: []int64{1, 2}}}
	assert.True(t, restricted.allowed(1))
	assert.True(t, restricted.allowed(2))
	assert.False(t, restricted.allowed(3))
}

func TestSplitMessageShort(t *testing.T) {
	assert.Nil(t, splitMessage("", 100))
	assert.Equal(t, []string{"short"}, splitMessage("short", 100))
}

func TestSplitMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 20)
	chunks := splitMessage(text, 100)

	assert.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		// Splits land on line boundaries
		assert.True(t, strings.HasPrefix(chunk, "line one"))
	}
}

func TestSplitMessageFallsBackToSpaces(t *testing.T) {
	text := strings.Repeat("word ", 50)
	chunks := splitMessage(text, 100)

	assert.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 100)
		assert.False(t, strings.HasPrefix(chunk, "ord"), "split mid-word: %q", chunk)
	}
}

func TestSplitMessageHardCut(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := splitMessage(text, 100)

	assert.Equal(t, []string{
		strings.Repeat("x", 100),
		strings.Repeat("x", 100),
		strings.Repeat("x", 50),
	}, chunks)
}

func TestSplitMessageRoundTripsContent(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph with more words\nthird line"
	chunks := splitMessage(text, 30)

	var total int
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 30)
		total += len(chunk)
	}
	joined := strings.Join(chunks, " ")
	assert.Contains(t, joined, "first paragraph")
	assert.Contains(t, joined, "third line")
}
