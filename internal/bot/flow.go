package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlowKind names what a principal's pending conversation is awaiting.
type FlowKind string

// FlowAwaitingUpload marks a principal whose next photo or document should
// be run through metadata extraction.
const FlowAwaitingUpload FlowKind = "awaiting_upload"

// FlowStore tracks in-progress conversation state per principal. Entries
// expire after the configured TTL so a stale flow cannot linger forever.
type FlowStore interface {
	Begin(ctx context.Context, principal int64, kind FlowKind) error
	Pending(ctx context.Context, principal int64) (FlowKind, bool, error)
	Clear(ctx context.Context, principal int64) error
}

// RedisFlowStore keeps flow state in Redis with a native TTL.
type RedisFlowStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFlowStore constructs a RedisFlowStore.
func NewRedisFlowStore(client *redis.Client, ttl time.Duration) *RedisFlowStore {
	return &RedisFlowStore{client: client, ttl: ttl}
}

func flowKey(principal int64) string {
	return fmt.Sprintf("warden:flow:%d", principal)
}

// Begin records the pending flow for a principal.
func (s *RedisFlowStore) Begin(ctx context.Context, principal int64, kind FlowKind) error {
	return s.client.Set(ctx, flowKey(principal), string(kind), s.ttl).Err()
}

// Pending returns the principal's pending flow, if any.
func (s *RedisFlowStore) Pending(ctx context.Context, principal int64) (FlowKind, bool, error) {
	val, err := s.client.Get(ctx, flowKey(principal)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return FlowKind(val), true, nil
}

// Clear drops the principal's pending flow.
func (s *RedisFlowStore) Clear(ctx context.Context, principal int64) error {
	return s.client.Del(ctx, flowKey(principal)).Err()
}

type memoryFlowEntry struct {
	kind    FlowKind
	expires time.Time
}

// MemoryFlowStore is the redis-less FlowStore used when no Redis is
// configured and in tests. Expired entries are dropped lazily on read.
type MemoryFlowStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[int64]memoryFlowEntry
	now     func() time.Time
}

// NewMemoryFlowStore constructs a MemoryFlowStore.
func NewMemoryFlowStore(ttl time.Duration) *MemoryFlowStore {
	return &MemoryFlowStore{
		ttl:     ttl,
		entries: make(map[int64]memoryFlowEntry),
		now:     time.Now,
	}
}

// Begin records the pending flow for a principal.
func (s *MemoryFlowStore) Begin(_ context.Context, principal int64, kind FlowKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[principal] = memoryFlowEntry{kind: kind, expires: s.now().Add(s.ttl)}
	return nil
}

// Pending returns the principal's pending flow, if any.
func (s *MemoryFlowStore) Pending(_ context.Context, principal int64) (FlowKind, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[principal]
	if !ok {
		return "", false, nil
	}
	if s.now().After(entry.expires) {
		delete(s.entries, principal)
		return "", false, nil
	}
	return entry.kind, true, nil
}

// Clear drops the principal's pending flow.
func (s *MemoryFlowStore) Clear(_ context.Context, principal int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, principal)
	return nil
}
