package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("", testLogger())
	assert.Error(t, err)
}

func TestPutAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, testLogger())
	require.NoError(t, err)

	now := time.Now()
	sess := Session{
		AgentSessionID: "abc-123",
		Mode:           ModeStandard,
		CreatedAt:      now,
		LastActiveAt:   now,
	}
	require.NoError(t, s.Put("42", sess))

	got, ok := s.Get("42")
	require.True(t, ok)
	assert.Equal(t, "abc-123", got.AgentSessionID)
	assert.Equal(t, ModeStandard, got.Mode)

	_, ok = s.Get("99")
	assert.False(t, ok)
}

func TestPutPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put("chat-1", Session{AgentSessionID: "sid-1", Mode: ModeAlternate, HumanOnly: true}))
	require.NoError(t, s.Put("chat-2", Session{Mode: ModeStandard}))

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	got, ok := reopened.Get("chat-1")
	require.True(t, ok)
	assert.Equal(t, "sid-1", got.AgentSessionID)
	assert.Equal(t, ModeAlternate, got.Mode)
	assert.True(t, got.HumanOnly)
}

func TestPutCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "sessions.json")

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put("1", Session{Mode: ModeStandard}))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestPutLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put("1", Session{Mode: ModeStandard}))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestOpenSkipsMalformedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	content := `{
		"good": {"mode": "standard", "agent_session_id": "sid"},
		"bad": {"mode": 17, "created_at": "not-a-time"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	got, ok := s.Get("good")
	require.True(t, ok)
	assert.Equal(t, "sid", got.AgentSessionID)
}

func TestOpenUnreadableFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0600))

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestKeysSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, testLogger())
	require.NoError(t, err)

	for _, key := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(key, Session{Mode: ModeStandard}))
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
}

func TestPersistedFileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.Put("7", Session{AgentSessionID: "sid", Mode: ModeStandard}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "7")
}

func TestUpdateCreatesDefaultSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Update("chat", func(sess *Session) {
		sess.AgentSessionID = "sid-1"
	}))

	got, ok := s.Get("chat")
	require.True(t, ok)
	assert.Equal(t, "sid-1", got.AgentSessionID)
	assert.Equal(t, ModeStandard, got.Mode)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestUpdatePreservesOtherFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.Put("chat", Session{Mode: ModeAlternate, HumanOnly: true}))

	// A field-scoped update must not clobber fields a stale copy would
	require.NoError(t, s.Update("chat", func(sess *Session) {
		sess.AgentSessionID = "sid-2"
	}))

	got, _ := s.Get("chat")
	assert.Equal(t, "sid-2", got.AgentSessionID)
	assert.Equal(t, ModeAlternate, got.Mode)
	assert.True(t, got.HumanOnly)
}

func TestModeToggled(t *testing.T) {
	assert.Equal(t, ModeAlternate, ModeStandard.Toggled())
	assert.Equal(t, ModeStandard, ModeAlternate.Toggled())
	assert.Equal(t, ModeAlternate, Mode("").Toggled())
}
