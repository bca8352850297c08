package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/axleworks/worksync/model"
)

// IdempotencyStore deduplicates session creation. Offline devices retry
// POST /sessions until it succeeds; without deduplication every retry after a
// lost response would mint a fresh session. The key format is
// "worksync:create:{key}".
type IdempotencyStore interface {
	// Check looks up a previously created session by key. If the key exists
	// and the input hash matches, it returns the cached session. If the key
	// exists but the hash differs, it returns a CONFLICT error.
	Check(ctx context.Context, key string, inputHash string) (*model.WorkSession, bool, error)

	// Store saves a created session keyed by the idempotency key with a TTL.
	Store(ctx context.Context, key string, inputHash string, sess model.WorkSession, ttl time.Duration) error
}

// defaultIdempotencyTTL applies when Store is called with a zero TTL.
const defaultIdempotencyTTL = 24 * time.Hour

// FormatIdempotencyKey builds the standard idempotency key.
func FormatIdempotencyKey(key string) string {
	return fmt.Sprintf("worksync:create:%s", key)
}

// HashCreateInput produces a stable hash of a create request's input, used to
// detect a key being reused with a different payload.
func HashCreateInput(ownerID string, documentIDs []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", ownerID)
	for _, id := range documentIDs {
		fmt.Fprintf(h, "%s\x00", id)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// idempotencyEntry is the stored value for an idempotency key.
type idempotencyEntry struct {
	InputHash string            `json:"input_hash"`
	Session   model.WorkSession `json:"session"`
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memIdemEntry
}

type memIdemEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memIdemEntry),
	}
}

// Check looks up a cached session. Returns conflict error if input hash differs.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*model.WorkSession, bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	sess := entry.data.Session
	return &sess, true, nil
}

// Store saves a session with TTL. A zero TTL falls back to the default; a
// negative TTL produces an entry that is already expired.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, sess model.WorkSession, ttl time.Duration) error {
	if ttl == 0 {
		ttl = defaultIdempotencyTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memIdemEntry{
		data: idempotencyEntry{
			InputHash: inputHash,
			Session:   sess,
		},
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL. Use when
// more than one worksyncd instance serves the same clients.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached session in Redis. Returns conflict error if input
// hash differs.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*model.WorkSession, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, model.NewConflictError(
			fmt.Sprintf("idempotency key %q already used with different input", key),
		)
	}

	return &entry.Session, true, nil
}

// Store saves a session in Redis with TTL. A zero TTL falls back to the
// default; a negative TTL removes any existing entry, matching the memory
// store's already-expired semantics (Redis rejects negative expirations).
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, sess model.WorkSession, ttl time.Duration) error {
	if ttl == 0 {
		ttl = defaultIdempotencyTTL
	}
	if ttl < 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis del %q: %w", key, err)
		}
		return nil
	}

	entry := idempotencyEntry{
		InputHash: inputHash,
		Session:   sess,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
