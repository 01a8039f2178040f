package rag

import (
	"context"
	"sync"
	"time"
)

// MemoryResponseCache is an in-process ResponseCache for single-node
// deployments and tests. Expired entries are evicted lazily on read and by a
// periodic sweep.
type MemoryResponseCache struct {
	mutex      sync.RWMutex
	entries    map[string]*CacheEntry
	maxEntries int
	stopSweep  chan struct{}
	stopOnce   sync.Once
}

// NewMemoryResponseCache creates a bounded in-memory cache. maxEntries <= 0
// means unbounded.
func NewMemoryResponseCache(maxEntries int) *MemoryResponseCache {
	mc := &MemoryResponseCache{
		entries:    make(map[string]*CacheEntry),
		maxEntries: maxEntries,
		stopSweep:  make(chan struct{}),
	}
	go mc.sweep()
	return mc
}

// Get implements ResponseCache.
func (mc *MemoryResponseCache) Get(_ context.Context, fingerprint string) (*CacheEntry, bool, error) {
	mc.mutex.RLock()
	entry, ok := mc.entries[fingerprint]
	mc.mutex.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		mc.mutex.Lock()
		delete(mc.entries, fingerprint)
		mc.mutex.Unlock()
		return nil, false, nil
	}
	return entry, true, nil
}

// Set implements ResponseCache. When the cache is full, the entry closest to
// expiry is evicted.
func (mc *MemoryResponseCache) Set(_ context.Context, entry *CacheEntry) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.maxEntries > 0 && len(mc.entries) >= mc.maxEntries {
		if _, exists := mc.entries[entry.Fingerprint]; !exists {
			mc.evictSoonestLocked()
		}
	}
	mc.entries[entry.Fingerprint] = entry
	return nil
}

// Delete implements ResponseCache.
func (mc *MemoryResponseCache) Delete(_ context.Context, fingerprint string) error {
	mc.mutex.Lock()
	delete(mc.entries, fingerprint)
	mc.mutex.Unlock()
	return nil
}

// Len reports the current entry count.
func (mc *MemoryResponseCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return len(mc.entries)
}

// Close stops the background sweep.
func (mc *MemoryResponseCache) Close() {
	mc.stopOnce.Do(func() { close(mc.stopSweep) })
}

func (mc *MemoryResponseCache) evictSoonestLocked() {
	var victim string
	var soonest time.Time
	for fingerprint, entry := range mc.entries {
		if victim == "" || entry.ExpiresAt.Before(soonest) {
			victim = fingerprint
			soonest = entry.ExpiresAt
		}
	}
	if victim != "" {
		delete(mc.entries, victim)
	}
}

func (mc *MemoryResponseCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stopSweep:
			return
		case now := <-ticker.C:
			mc.mutex.Lock()
			for fingerprint, entry := range mc.entries {
				if !entry.ExpiresAt.IsZero() && now.After(entry.ExpiresAt) {
					delete(mc.entries, fingerprint)
				}
			}
			mc.mutex.Unlock()
		}
	}
}
