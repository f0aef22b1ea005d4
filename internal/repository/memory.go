package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterRepository is the in-process fallback for windowed counters.
// Counts are lost on restart; it exists so the engine keeps working when
// Redis is down.
type MemoryCounterRepository struct {
	counters sync.Map
}

type counterEntry struct {
	mu        sync.Mutex
	count     int64
	expiresAt time.Time
}

func NewMemoryCounterRepository() *MemoryCounterRepository {
	return &MemoryCounterRepository{}
}

func (r *MemoryCounterRepository) Bump(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	val, _ := r.counters.LoadOrStore(key, &counterEntry{})
	entry := val.(*counterEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.count == 0 || now.After(entry.expiresAt) {
		entry.count = 1
		entry.expiresAt = now.Add(window)
	} else {
		entry.count++
	}
	return entry.count, nil
}
