package rag

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
)

// fakeProvider produces deterministic unit vectors from token hashes so
// identical texts embed identically and overlapping texts score similarly.
type fakeProvider struct {
	dimension int
	calls     atomic.Int64
	texts     atomic.Int64
	failWith  error
}

func newFakeProvider(dimension int) *fakeProvider {
	if dimension <= 0 {
		dimension = 64
	}
	return &fakeProvider{dimension: dimension}
}

func (fp *fakeProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	fp.calls.Add(1)
	fp.texts.Add(int64(len(texts)))
	if fp.failWith != nil {
		return nil, fp.failWith
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = fp.embedOne(text)
	}
	return vectors, nil
}

func (fp *fakeProvider) embedOne(text string) []float32 {
	vector := make([]float32, fp.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(fp.dimension)
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vector[idx] += sign
	}
	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vector[0] = 1
		return vector
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector
}

func (fp *fakeProvider) Dimension() int { return fp.dimension }

func (fp *fakeProvider) ModelName() string { return "fake-embed-v1" }

// fakeGenerator echoes a canned answer and records the grounding context it
// received.
type fakeGenerator struct {
	answer      string
	lastContext string
	lastQuery   string
	failWith    error
	calls       int
}

func (fg *fakeGenerator) Complete(_ context.Context, groundingContext, query string) (GenerationResult, error) {
	fg.calls++
	fg.lastContext = groundingContext
	fg.lastQuery = query
	if fg.failWith != nil {
		return GenerationResult{}, fg.failWith
	}
	answer := fg.answer
	if answer == "" {
		answer = "according to the provided sources: " + query
	}
	return GenerationResult{
		Text:       answer,
		TokensUsed: 120,
		Cost:       0.002,
		Model:      "fake-llm-v1",
	}, nil
}

// failingVectorStore wraps a VectorStore and fails search for one corpus.
type failingVectorStore struct {
	inner      VectorStore
	failCorpus Corpus
}

func (fs *failingVectorStore) Search(ctx context.Context, embedding []float32, corpus Corpus, vf VectorFilters, threshold float64, limit int) ([]*RetrievalHit, error) {
	if corpus == fs.failCorpus {
		return nil, fmt.Errorf("corpus %s unreachable", corpus)
	}
	return fs.inner.Search(ctx, embedding, corpus, vf, threshold, limit)
}

func (fs *failingVectorStore) Index(ctx context.Context, corpus Corpus, hit *RetrievalHit, embedding []float32) error {
	return fs.inner.Index(ctx, corpus, hit, embedding)
}

func (fs *failingVectorStore) DeleteDocument(ctx context.Context, corpus Corpus, documentID string) error {
	return fs.inner.DeleteDocument(ctx, corpus, documentID)
}

// fakeQuotaGate returns a fixed verdict for every organization.
type fakeQuotaGate struct {
	err error
}

func (fq *fakeQuotaGate) CheckQuota(context.Context, string) error { return fq.err }

// failingResponseCache always errors, exercising the bypass path.
type failingResponseCache struct{}

func (failingResponseCache) Get(context.Context, string) (*CacheEntry, bool, error) {
	return nil, false, fmt.Errorf("cache backend down")
}

func (failingResponseCache) Set(context.Context, *CacheEntry) error {
	return fmt.Errorf("cache backend down")
}

func (failingResponseCache) Delete(context.Context, string) error {
	return fmt.Errorf("cache backend down")
}

// testPipeline assembles a fully in-memory pipeline for integration-style
// tests.
func testPipeline(generator Generator) (*Pipeline, *MemoryStore, *fakeProvider) {
	normalizer := NewLanguageNormalizer(nil)
	store := NewMemoryStore(normalizer)
	provider := newFakeProvider(64)

	pipeline, err := NewPipeline(&PipelineConfig{
		Embedding: &EmbeddingConfig{
			BatchSize:      8,
			RequestsPerMin: 100000,
			MaxTextLength:  8000,
			EnableCache:    true,
		},
		Retriever: &RetrieverConfig{
			LexicalWeight:       0.3,
			SimilarityThreshold: 0.1,
			PerCorpusLimit:      30,
			SearchTimeout:       0,
			EnableLexical:       true,
		},
	}, PipelineDeps{
		Provider:      provider,
		Vectors:       store,
		Lexical:       store,
		Documents:     store,
		Articles:      store,
		ResponseCache: NewMemoryResponseCache(64),
		Generator:     generator,
	})
	if err != nil {
		panic(err)
	}
	return pipeline, store, provider
}
