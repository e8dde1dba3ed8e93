package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is the single-process fallback used when REDIS_URL is empty.
type Memory struct {
	mu    sync.Mutex
	locks map[string]time.Time
	usage map[string]usageCount
	now   func() time.Time
}

// usageCount expires like the Redis counter so old days do not pile up.
type usageCount struct {
	n       int64
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{
		locks: map[string]time.Time{},
		usage: map[string]usageCount{},
		now:   time.Now,
	}
}

func (m *Memory) AcquireLock(_ context.Context, name string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expires, ok := m.locks[name]; ok && m.now().Before(expires) {
		return nil, ErrLockHeld
	}
	expires := m.now().Add(ttl)
	m.locks[name] = expires
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.locks[name].Equal(expires) {
			delete(m.locks, name)
		}
	}, nil
}

func (m *Memory) IncrementUsage(_ context.Context, userID, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, count := range m.usage {
		if !now.Before(count.expires) {
			delete(m.usage, key)
		}
	}
	key := userID + ":" + day
	count := m.usage[key]
	count.n++
	count.expires = now.Add(usageTTL)
	m.usage[key] = count
	return count.n, nil
}

func (m *Memory) Usage(_ context.Context, userID, day string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count, ok := m.usage[userID+":"+day]
	if !ok || !m.now().Before(count.expires) {
		return 0, nil
	}
	return count.n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
