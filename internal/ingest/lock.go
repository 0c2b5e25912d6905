package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker provides per-paper-id mutual exclusion so two concurrent
// ingestion requests for the same id cannot both pass the store check
// and both download the PDF.
type Locker interface {
	// TryLock acquires the lock for a paper id without blocking. When
	// acquired it returns a release func and true.
	TryLock(ctx context.Context, paperID string) (func(), bool, error)
}

// MemoryLocker is the single-process Locker: one mutex per paper id,
// created on first use.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryLocker) TryLock(ctx context.Context, paperID string) (func(), bool, error) {
	l.mu.Lock()
	m, ok := l.locks[paperID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[paperID] = m
	}
	l.mu.Unlock()
	if !m.TryLock() {
		return nil, false, nil
	}
	return m.Unlock, true, nil
}

// RedisLocker coordinates ingestion across replicas with SetNX leases.
type RedisLocker struct {
	Rdb *redis.Client
	TTL time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{Rdb: rdb, TTL: 10 * time.Minute}
}

func (l *RedisLocker) TryLock(ctx context.Context, paperID string) (func(), bool, error) {
	key := "paperdesk:ingest:" + paperID
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	ok, err := l.Rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		_ = l.Rdb.Del(context.Background(), key).Err()
	}
	return release, true, nil
}
