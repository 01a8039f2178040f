package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheConfig holds response-cache behavior.
type CacheConfig struct {
	DefaultTTL time.Duration `json:"default_ttl"`
	Enabled    bool          `json:"enabled"`
}

func getDefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		DefaultTTL: 15 * time.Minute,
		Enabled:    true,
	}
}

// CacheServiceMetrics tracks hit/miss/bypass counts.
type CacheServiceMetrics struct {
	Hits     int64     `json:"hits"`
	Misses   int64     `json:"misses"`
	Stores   int64     `json:"stores"`
	Bypasses int64     `json:"bypasses"`
	LastHit  time.Time `json:"last_hit"`
	mutex    sync.RWMutex
}

// CacheService wraps a ResponseCache backend with fingerprinting and
// failure-bypass semantics: any backend error is logged and treated as a miss
// so the live pipeline always answers.
type CacheService struct {
	config  *CacheConfig
	backend ResponseCache
	logger  *slog.Logger
	metrics *CacheServiceMetrics
}

// NewCacheService creates the cache layer. backend may be nil to disable
// caching entirely.
func NewCacheService(config *CacheConfig, backend ResponseCache) *CacheService {
	if config == nil {
		config = getDefaultCacheConfig()
	}
	return &CacheService{
		config:  config,
		backend: backend,
		logger:  slog.Default().With("component", "cache-service"),
		metrics: &CacheServiceMetrics{},
	}
}

// Fingerprint derives the stable cache key for a query. Two requests collide
// only when their normalized query, language, tenant, corpus selection, and
// preference set all match.
func Fingerprint(analysis *QueryAnalysis, request *QueryRequest) string {
	prefs := request.Preferences

	parts := []string{
		"q=" + analysis.NormalizedQuery,
		"lang=" + analysis.Language,
		"org=" + request.OrganizationID,
		fmt.Sprintf("docs=%t", prefs.IncludeCompanyDocs),
		fmt.Sprintf("law=%t", prefs.IncludeLaborLaw),
		fmt.Sprintf("max=%d", prefs.MaxSources),
		fmt.Sprintf("threshold=%.3f", prefs.ConfidenceThreshold),
		"style=" + prefs.ResponseStyle,
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// Lookup returns a cached response for the fingerprint, or nil on miss,
// expiry, or backend failure.
func (cs *CacheService) Lookup(ctx context.Context, fingerprint string) *QueryResponse {
	if !cs.config.Enabled || cs.backend == nil {
		return nil
	}

	entry, found, err := cs.backend.Get(ctx, fingerprint)
	if err != nil {
		cs.logger.Warn("Cache lookup failed, bypassing", "error", err, "code", CodeCache)
		cs.bump(func(m *CacheServiceMetrics) { m.Bypasses++ })
		return nil
	}
	if !found || entry == nil || entry.Response == nil {
		cs.bump(func(m *CacheServiceMetrics) { m.Misses++ })
		return nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().After(entry.ExpiresAt) {
		cs.bump(func(m *CacheServiceMetrics) { m.Misses++ })
		if err := cs.backend.Delete(ctx, fingerprint); err != nil {
			cs.logger.Debug("Failed to evict expired entry", "error", err)
		}
		return nil
	}

	cs.bump(func(m *CacheServiceMetrics) {
		m.Hits++
		m.LastHit = time.Now()
	})

	response := *entry.Response
	response.Cached = true
	return &response
}

// Store writes a completed response under the fingerprint. Failures are
// logged and ignored.
func (cs *CacheService) Store(ctx context.Context, fingerprint string, response *QueryResponse) {
	if !cs.config.Enabled || cs.backend == nil || response == nil {
		return
	}

	now := time.Now()
	entry := &CacheEntry{
		Fingerprint: fingerprint,
		Response:    response,
		StoredAt:    now,
		ExpiresAt:   now.Add(cs.config.DefaultTTL),
	}
	if err := cs.backend.Set(ctx, entry); err != nil {
		cs.logger.Warn("Cache store failed", "error", err, "code", CodeCache)
		cs.bump(func(m *CacheServiceMetrics) { m.Bypasses++ })
		return
	}
	cs.bump(func(m *CacheServiceMetrics) { m.Stores++ })
}

// Invalidate removes a cached response, for example after a source document
// is reprocessed.
func (cs *CacheService) Invalidate(ctx context.Context, fingerprint string) {
	if cs.backend == nil {
		return
	}
	if err := cs.backend.Delete(ctx, fingerprint); err != nil {
		cs.logger.Warn("Cache invalidation failed", "error", err, "code", CodeCache)
	}
}

func (cs *CacheService) bump(fn func(*CacheServiceMetrics)) {
	cs.metrics.mutex.Lock()
	defer cs.metrics.mutex.Unlock()
	fn(cs.metrics)
}

// GetMetrics returns a copy of the cache metrics.
func (cs *CacheService) GetMetrics() CacheServiceMetrics {
	cs.metrics.mutex.RLock()
	defer cs.metrics.mutex.RUnlock()
	return CacheServiceMetrics{
		Hits:     cs.metrics.Hits,
		Misses:   cs.metrics.Misses,
		Stores:   cs.metrics.Stores,
		Bypasses: cs.metrics.Bypasses,
		LastHit:  cs.metrics.LastHit,
	}
}
