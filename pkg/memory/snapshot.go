package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/meridianrt/spine/pkg/voice"
)

// snapshotTTL bounds how long a persisted snapshot survives in the
// backing store if the process never reloads it.
const snapshotTTL = 24 * time.Hour

// Snapshot is the durable projection of a Memory's L3 history, keyed
// by voice, written on graceful shutdown and loaded back on startup.
type Snapshot struct {
	SavedAt time.Time
	History map[voice.ID][]CollaborationRecord
}

// Export captures the current L3 history of every voice into a
// Snapshot suitable for SnapshotStore.Save.
func (m *Memory) Export() Snapshot {
	m.l3mu.RLock()
	defer m.l3mu.RUnlock()

	history := make(map[voice.ID][]CollaborationRecord, len(m.l3))
	for id, records := range m.l3 {
		history[id] = append([]CollaborationRecord(nil), records...)
	}
	return Snapshot{SavedAt: time.Now(), History: history}
}

// Import restores L3 history from a Snapshot, marking every affected
// voice's L1 entry stale so it resynthesizes on next access.
func (m *Memory) Import(snap Snapshot) {
	m.l3mu.Lock()
	for id, records := range snap.History {
		if len(records) > maxL3History {
			records = records[len(records)-maxL3History:]
		}
		m.l3[id] = append([]CollaborationRecord(nil), records...)
	}
	m.l3mu.Unlock()

	for id := range snap.History {
		if entry, ok := m.l1[id]; ok {
			entry.mu.Lock()
			entry.synthesized = false
			entry.mu.Unlock()
		}
	}
}

// SnapshotStore persists and reloads a Memory's durable state across
// process restarts, keyed by an opaque session or run identifier.
type SnapshotStore interface {
	Save(ctx context.Context, key string, snap Snapshot) error
	Load(ctx context.Context, key string) (Snapshot, bool, error)
	Close() error
}

// RedisSnapshotStore stores snapshots as JSON blobs under a namespaced
// key, mirroring the teacher's RedisMemory: parse the URL, ping once
// at construction time, and fail fast if Redis is unreachable.
type RedisSnapshotStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisSnapshotStore connects to redisURL and verifies reachability
// before returning, so configuration mistakes surface at startup.
func NewRedisSnapshotStore(redisURL, namespace string) (*RedisSnapshotStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if namespace == "" {
		namespace = "voicememory"
	}

	return &RedisSnapshotStore{client: client, namespace: namespace}, nil
}

func (r *RedisSnapshotStore) buildKey(key string) string {
	return fmt.Sprintf("%s:snapshot:%s", r.namespace, key)
}

func (r *RedisSnapshotStore) Save(ctx context.Context, key string, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.buildKey(key), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshotStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	data, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to deserialize snapshot: %w", err)
	}
	return snap, true, nil
}

func (r *RedisSnapshotStore) Close() error {
	return r.client.Close()
}

// InMemorySnapshotStore is the zero-dependency fallback used in tests
// and single-process deployments without a Redis backend.
type InMemorySnapshotStore struct {
	mu   sync.RWMutex
	data map[string]Snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{data: make(map[string]Snapshot)}
}

func (s *InMemorySnapshotStore) Save(_ context.Context, key string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = snap
	return nil
}

func (s *InMemorySnapshotStore) Load(_ context.Context, key string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.data[key]
	return snap, ok, nil
}

func (s *InMemorySnapshotStore) Close() error {
	return nil
}
