// Package store persists per-conversation session state in a single JSON
// file. The file is rewritten atomically (write to temp, then rename) on
// every mutation, so a crash never leaves a half-written file behind.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harun/tessa/internal/observability"
	"github.com/rs/zerolog"
)

// Mode selects which backend the agent subprocess uses.
type Mode string

const (
	ModeStandard  Mode = "standard"
	ModeAlternate Mode = "alternate"
)

// Toggled returns the other mode.
func (m Mode) Toggled() Mode {
	if m == ModeAlternate {
		return ModeStandard
	}
	return ModeAlternate
}

// Session is the persisted state for one conversation key.
type Session struct {
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	Mode           Mode      `json:"mode"`
	HumanOnly      bool      `json:"human_only,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// Store is a file-backed session map. All mutations persist the full map
// under a single write lock; concurrent Put calls from different session
// workers are safe.
type Store struct {
	path   string
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]Session
}

// Open loads the session file at path. A missing file yields an empty
// store. A malformed entry for one key is dropped with a warning so the
// remaining sessions still load; a file that cannot be parsed at all
// starts the store empty rather than failing startup.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, fmt.Errorf("store path cannot be empty")
	}

	s := &Store{
		path:     path,
		logger:   logger.With().Str("component", "store").Logger(),
		sessions: make(map[string]Session),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", path).Msg("No session file, starting empty")
			return s, nil
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Session file unreadable, starting empty")
		return s, nil
	}

	for key, entry := range raw {
		var sess Session
		if err := json.Unmarshal(entry, &sess); err != nil {
			s.logger.Warn().Err(err).Str("session_key", key).Msg("Dropping malformed session entry")
			continue
		}
		s.sessions[key] = sess
	}

	observability.SetSessionsTracked(len(s.sessions))
	s.logger.Info().Int("sessions", len(s.sessions)).Str("path", path).Msg("Session store loaded")

	return s, nil
}

// Get returns the session for key, if present.
func (s *Store) Get(key string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[key]
	return sess, ok
}

// Put stores the session for key and persists the full map atomically.
// On persist failure the in-memory state is kept authoritative and the
// error is returned for the caller to surface as a daemon-level warning;
// the next Put retries the write.
func (s *Store) Put(key string, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = sess
	observability.SetSessionsTracked(len(s.sessions))

	err := s.persistLocked()
	observability.RecordStorePersist(err)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_key", key).Msg("Failed to persist session store")
		return err
	}
	return nil
}

// Update applies mutate to the session for key under the store lock and
// persists the result. A missing session starts from defaults. This is
// the safe way to change one field when other writers may hold older
// copies of the session.
func (s *Store) Update(key string, mutate func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = Session{Mode: ModeStandard, CreatedAt: now, LastActiveAt: now}
	}
	mutate(&sess)
	s.sessions[key] = sess
	observability.SetSessionsTracked(len(s.sessions))

	err := s.persistLocked()
	observability.RecordStorePersist(err)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_key", key).Msg("Failed to persist session store")
		return err
	}
	return nil
}

// Keys returns all conversation keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for key := range s.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of tracked sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) persistLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sessions: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	return nil
}
