package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/axleworks/worksync/model"
)

func TestHashCreateInput_orderSensitive(t *testing.T) {
	a := HashCreateInput("alice", []string{"doc-a", "doc-b"})
	b := HashCreateInput("alice", []string{"doc-b", "doc-a"})
	if a == b {
		t.Error("different document order should produce different hashes")
	}
	if a != HashCreateInput("alice", []string{"doc-a", "doc-b"}) {
		t.Error("hash is not deterministic")
	}
}

func TestMemoryIdempotencyStore_roundTrip(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")
	hash := HashCreateInput("alice", []string{"doc-a"})
	sess := testSession("ws-1", "alice", "doc-a")

	_, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Fatal("found = true before Store")
	}

	if err := store.Store(ctx, key, hash, sess, time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	cached, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false after Store")
	}
	if cached.ID != "ws-1" {
		t.Errorf("cached ID = %q", cached.ID)
	}
}

func TestMemoryIdempotencyStore_inputMismatchConflicts(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")

	_ = store.Store(ctx, key, HashCreateInput("alice", []string{"doc-a"}),
		testSession("ws-1", "alice", "doc-a"), time.Minute)

	_, _, err := store.Check(ctx, key, HashCreateInput("alice", []string{"doc-b"}))
	wantCode(t, err, model.ErrConflict)
}

func TestMemoryIdempotencyStore_expiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")
	hash := HashCreateInput("alice", []string{"doc-a"})

	_ = store.Store(ctx, key, hash, testSession("ws-1", "alice", "doc-a"), -time.Second)

	_, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("expired entry still found")
	}
}

func TestMemoryIdempotencyStore_zeroTTLUsesDefault(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")
	hash := HashCreateInput("alice", []string{"doc-a"})

	_ = store.Store(ctx, key, hash, testSession("ws-1", "alice", "doc-a"), 0)

	_, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Error("zero TTL should fall back to the default, not expire")
	}
}

func TestRedisIdempotencyStore_negativeTTLExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)

	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")
	hash := HashCreateInput("alice", []string{"doc-a"})

	if err := store.Store(ctx, key, hash, testSession("ws-1", "alice", "doc-a"), time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if err := store.Store(ctx, key, hash, testSession("ws-1", "alice", "doc-a"), -time.Second); err != nil {
		t.Fatalf("Store with negative TTL error: %v", err)
	}

	_, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("negative TTL entry still found")
	}
}

func TestRedisIdempotencyStore_roundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)

	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")
	hash := HashCreateInput("alice", []string{"doc-a", "doc-b"})
	sess := testSession("ws-1", "alice", "doc-a", "doc-b")

	if err := store.Store(ctx, key, hash, sess, time.Minute); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	cached, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false after Store")
	}
	if cached.ID != "ws-1" || len(cached.Items) != 2 {
		t.Errorf("cached session = %+v", cached)
	}
}

func TestRedisIdempotencyStore_ttlExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)

	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")
	hash := HashCreateInput("alice", []string{"doc-a"})

	_ = store.Store(ctx, key, hash, testSession("ws-1", "alice", "doc-a"), time.Minute)
	mr.FastForward(2 * time.Minute)

	_, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("entry survived TTL expiry")
	}
}

func TestRedisIdempotencyStore_inputMismatchConflicts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisIdempotencyStore(client)

	ctx := context.Background()
	key := FormatIdempotencyKey("req-1")

	_ = store.Store(ctx, key, HashCreateInput("alice", []string{"doc-a"}),
		testSession("ws-1", "alice", "doc-a"), time.Minute)

	_, _, err := store.Check(ctx, key, HashCreateInput("bob", []string{"doc-a"}))
	wantCode(t, err, model.ErrConflict)
}
