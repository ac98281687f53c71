// Package session persists voice-memory snapshots to disk, per
// spec.md §6's optional "Persisted state layout": a session directory
// holding context-<sessionId>.json and context-latest.json, written at
// most every 5 minutes and on graceful shutdown.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/meridianrt/spine/pkg/memory"
	"github.com/meridianrt/spine/pkg/voice"
)

// minWriteInterval bounds how often Save actually touches disk when
// called repeatedly; Flush always bypasses it.
const minWriteInterval = 5 * time.Minute

const latestFileName = "context-latest.json"

// Item mirrors a single voice-memory collaboration record, per
// spec.md §3's Voice Memory shapes.
type Item struct {
	Voices    []voice.ID `json:"voices"`
	TaskType  string     `json:"taskType"`
	Outcome   string     `json:"outcome"`
	Quality   float64    `json:"quality"`
	Timestamp time.Time  `json:"timestamp"`
}

// Context is the on-disk shape of one session's persisted state.
type Context struct {
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Items     []Item    `json:"items"`
	Summary   string    `json:"summary"`
}

// FromRecords converts collaboration records into persisted Items.
func FromRecords(records []memory.CollaborationRecord) []Item {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		items = append(items, Item{
			Voices:    r.Voices,
			TaskType:  r.TaskType,
			Outcome:   r.Outcome,
			Quality:   r.Quality,
			Timestamp: r.Timestamp,
		})
	}
	return items
}

// Store writes and reads session Context files under a fixed
// directory.
type Store struct {
	dir string

	mu        sync.Mutex
	lastWrite map[string]time.Time
}

// NewStore ensures dir exists and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: failed to create session directory: %w", err)
	}
	return &Store{dir: dir, lastWrite: make(map[string]time.Time)}, nil
}

func (s *Store) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("context-%s.json", sessionID))
}

func (s *Store) latestPath() string {
	return filepath.Join(s.dir, latestFileName)
}

// Save writes ctx.SessionID's file and context-latest.json, but skips
// the write if the last one for this session was under 5 minutes ago.
// Use Flush to bypass the throttle on graceful shutdown.
func (s *Store) Save(ctx Context) error {
	s.mu.Lock()
	last, seen := s.lastWrite[ctx.SessionID]
	if seen && time.Since(last) < minWriteInterval {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.Flush(ctx)
}

// Flush writes ctx unconditionally, ignoring the throttle interval.
func (s *Store) Flush(ctx Context) error {
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return fmt.Errorf("session: failed to serialize context: %w", err)
	}

	if err := writeFileAtomic(s.sessionPath(ctx.SessionID), data); err != nil {
		return err
	}
	if err := writeFileAtomic(s.latestPath(), data); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastWrite[ctx.SessionID] = time.Now()
	s.mu.Unlock()
	return nil
}

// Load reads a specific session's persisted context.
func (s *Store) Load(sessionID string) (Context, error) {
	return readContext(s.sessionPath(sessionID))
}

// LoadLatest reads the most recently flushed context, regardless of
// which session wrote it.
func (s *Store) LoadLatest() (Context, error) {
	return readContext(s.latestPath())
}

func readContext(path string) (Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Context{}, fmt.Errorf("session: failed to read %s: %w", path, err)
	}
	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return Context{}, fmt.Errorf("session: failed to parse %s: %w", path, err)
	}
	return ctx, nil
}

// writeFileAtomic writes data to a temp file in the same directory
// then renames it into place, so a crash mid-write never leaves a
// truncated context file behind.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("session: failed to finalize %s: %w", path, err)
	}
	return nil
}
