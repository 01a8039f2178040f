package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// EmbeddingConfig holds configuration for the embedding service.
type EmbeddingConfig struct {
	BatchSize       int           `json:"batch_size"`
	InterBatchDelay time.Duration `json:"inter_batch_delay"`
	RequestsPerMin  int           `json:"requests_per_min"`
	MaxTextLength   int           `json:"max_text_length"`

	EnableCache bool          `json:"enable_cache"`
	CacheTTL    time.Duration `json:"cache_ttl"`
}

func getDefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		BatchSize:       16,
		InterBatchDelay: 200 * time.Millisecond,
		RequestsPerMin:  120,
		MaxTextLength:   8000,
		EnableCache:     true,
		CacheTTL:        12 * time.Hour,
	}
}

// EmbeddingMetrics tracks embedding generation volume and cache efficiency.
type EmbeddingMetrics struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	TotalTexts         int64         `json:"total_texts"`
	CacheHits          int64         `json:"cache_hits"`
	CacheMisses        int64         `json:"cache_misses"`
	AverageLatency     time.Duration `json:"average_latency"`
	LastUpdated        time.Time     `json:"last_updated"`
	mutex              sync.RWMutex
}

// VectorCache caches vectors by text fingerprint. L1 is in-memory; a
// redis-backed L2 implementation lives alongside the response cache.
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool)
	SetVector(ctx context.Context, key string, vector []float32, ttl time.Duration)
}

// EmbeddingService generates vectors for chunks, articles, and queries via
// batched calls to an external EmbeddingProvider. Batches are size-bounded to
// respect provider rate limits and a small delay separates consecutive
// batches.
type EmbeddingService struct {
	config   *EmbeddingConfig
	provider EmbeddingProvider
	limiter  *rate.Limiter
	l1       VectorCache
	l2       VectorCache
	logger   *slog.Logger
	metrics  *EmbeddingMetrics
}

// NewEmbeddingService creates an embedding service over the given provider.
// l2 may be nil when no shared cache tier is configured.
func NewEmbeddingService(config *EmbeddingConfig, provider EmbeddingProvider, l2 VectorCache) *EmbeddingService {
	if config == nil {
		config = getDefaultEmbeddingConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	rpm := config.RequestsPerMin
	if rpm <= 0 {
		rpm = 120
	}

	return &EmbeddingService{
		config:   config,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		l1:       newMemoryVectorCache(),
		l2:       l2,
		logger:   slog.Default().With("component", "embedding-service"),
		metrics:  &EmbeddingMetrics{LastUpdated: time.Now()},
	}
}

// EmbedTexts returns one vector per input text, in input order, consulting
// the cache tiers first and batching the remainder through the provider.
func (es *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided for embedding")
	}

	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	var hits, misses int

	for i, text := range texts {
		if len(text) > es.config.MaxTextLength {
			cut := es.config.MaxTextLength
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
			texts[i] = text
		}
		if es.config.EnableCache {
			key := vectorCacheKey(text, es.provider.ModelName())
			if v, ok := es.l1.GetVector(ctx, key); ok {
				vectors[i] = v
				hits++
				continue
			}
			if es.l2 != nil {
				if v, ok := es.l2.GetVector(ctx, key); ok {
					es.l1.SetVector(ctx, key, v, es.config.CacheTTL)
					vectors[i] = v
					hits++
					continue
				}
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
		misses++
	}

	for batchStart := 0; batchStart < len(missing); batchStart += es.config.BatchSize {
		batchEnd := batchStart + es.config.BatchSize
		if batchEnd > len(missing) {
			batchEnd = len(missing)
		}
		batch := missing[batchStart:batchEnd]

		if err := es.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter interrupted: %w", err)
		}

		embedded, err := es.provider.Embed(ctx, batch)
		if err != nil {
			es.updateMetrics(func(m *EmbeddingMetrics) { m.FailedRequests++ })
			return nil, NewPipelineError(CodeEmbedding, "embedding",
				fmt.Sprintf("provider failed on batch of %d texts", len(batch)), err)
		}
		if len(embedded) != len(batch) {
			es.updateMetrics(func(m *EmbeddingMetrics) { m.FailedRequests++ })
			return nil, NewPipelineError(CodeEmbedding, "embedding",
				fmt.Sprintf("provider returned %d vectors for %d texts", len(embedded), len(batch)), nil)
		}

		for j, vector := range embedded {
			idx := missingIdx[batchStart+j]
			vectors[idx] = vector
			if es.config.EnableCache {
				key := vectorCacheKey(batch[j], es.provider.ModelName())
				es.l1.SetVector(ctx, key, vector, es.config.CacheTTL)
				if es.l2 != nil {
					es.l2.SetVector(ctx, key, vector, es.config.CacheTTL)
				}
			}
		}

		if batchEnd < len(missing) && es.config.InterBatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(es.config.InterBatchDelay):
			}
		}
	}

	took := time.Since(start)
	es.updateMetrics(func(m *EmbeddingMetrics) {
		m.TotalRequests++
		m.SuccessfulRequests++
		m.TotalTexts += int64(len(texts))
		m.CacheHits += int64(hits)
		m.CacheMisses += int64(misses)
		if m.SuccessfulRequests > 1 {
			m.AverageLatency = (m.AverageLatency*time.Duration(m.SuccessfulRequests-1) + took) / time.Duration(m.SuccessfulRequests)
		} else {
			m.AverageLatency = took
		}
		m.LastUpdated = time.Now()
	})

	es.logger.Debug("Embeddings generated",
		"texts", len(texts),
		"cache_hits", hits,
		"cache_misses", misses,
		"took", took,
	)

	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (es *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := es.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedChunks produces the content-variant embeddings required by the active
// policy for each chunk. The default policy is one "content" vector per chunk.
func (es *EmbeddingService) EmbedChunks(ctx context.Context, chunks []*Chunk) ([]*Embedding, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := es.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(chunks))
	for i, c := range chunks {
		embeddings[i] = &Embedding{
			ID:          uuid.New().String(),
			ChunkID:     c.ID,
			ContentType: ContentTypeContent,
			Vector:      vectors[i],
			Dimension:   es.provider.Dimension(),
			ModelName:   es.provider.ModelName(),
			CreatedAt:   time.Now(),
		}
	}
	return embeddings, nil
}

// EmbedArticle produces the bilingual content-variant vectors for one legal
// article: per-language title and content plus a combined variant.
func (es *EmbeddingService) EmbedArticle(ctx context.Context, article *Article) ([]*Embedding, error) {
	variants := []struct {
		contentType EmbeddingContentType
		text        string
	}{
		{ContentTypeTitleAr, article.TitleAr},
		{ContentTypeTitleEn, article.TitleEn},
		{ContentTypeContentAr, article.ContentAr},
		{ContentTypeContentEn, article.ContentEn},
		{ContentTypeCombined, article.TitleAr + "\n" + article.ContentAr + "\n" + article.TitleEn + "\n" + article.ContentEn},
	}

	var texts []string
	var kept []EmbeddingContentType
	for _, v := range variants {
		if v.text == "" || v.text == "\n\n\n" {
			continue
		}
		texts = append(texts, v.text)
		kept = append(kept, v.contentType)
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("article %s has no embeddable content", article.ID)
	}

	vectors, err := es.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(vectors))
	for i, vector := range vectors {
		embeddings[i] = &Embedding{
			ID:          uuid.New().String(),
			ArticleID:   article.ID,
			ContentType: kept[i],
			Vector:      vector,
			Dimension:   es.provider.Dimension(),
			ModelName:   es.provider.ModelName(),
			CreatedAt:   time.Now(),
		}
	}
	return embeddings, nil
}

// GetMetrics returns a copy of the current embedding metrics.
func (es *EmbeddingService) GetMetrics() EmbeddingMetrics {
	es.metrics.mutex.RLock()
	defer es.metrics.mutex.RUnlock()
	return EmbeddingMetrics{
		TotalRequests:      es.metrics.TotalRequests,
		SuccessfulRequests: es.metrics.SuccessfulRequests,
		FailedRequests:     es.metrics.FailedRequests,
		TotalTexts:         es.metrics.TotalTexts,
		CacheHits:          es.metrics.CacheHits,
		CacheMisses:        es.metrics.CacheMisses,
		AverageLatency:     es.metrics.AverageLatency,
		LastUpdated:        es.metrics.LastUpdated,
	}
}

func (es *EmbeddingService) updateMetrics(fn func(*EmbeddingMetrics)) {
	es.metrics.mutex.Lock()
	defer es.metrics.mutex.Unlock()
	fn(es.metrics)
}

func vectorCacheKey(text, model string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// memoryVectorCache is the in-process L1 embedding cache with TTL eviction on
// read.
type memoryVectorCache struct {
	mu      sync.RWMutex
	entries map[string]vectorCacheEntry
}

type vectorCacheEntry struct {
	vector    []float32
	expiresAt time.Time
}

func newMemoryVectorCache() *memoryVectorCache {
	return &memoryVectorCache{entries: make(map[string]vectorCacheEntry)}
}

func (c *memoryVectorCache) GetVector(_ context.Context, key string) ([]float32, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.vector, true
}

func (c *memoryVectorCache) SetVector(_ context.Context, key string, vector []float32, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.mu.Lock()
	c.entries[key] = vectorCacheEntry{vector: vector, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}
