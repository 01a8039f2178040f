package rag

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PipelineConfig aggregates the per-service configurations into one assembly
// surface. Nil sub-configs fall back to each service's defaults.
type PipelineConfig struct {
	Ingestion    *IngestionConfig    `json:"ingestion,omitempty"`
	Normalizer   *NormalizerConfig   `json:"normalizer,omitempty"`
	Validator    *SecurityConfig     `json:"validator,omitempty"`
	Chunking     *ChunkingConfig     `json:"chunking,omitempty"`
	Embedding    *EmbeddingConfig    `json:"embedding,omitempty"`
	Analyzer     *AnalyzerConfig     `json:"analyzer,omitempty"`
	Retriever    *RetrieverConfig    `json:"retriever,omitempty"`
	Ranker       *RankerConfig       `json:"ranker,omitempty"`
	Cache        *CacheConfig        `json:"cache,omitempty"`
	Orchestrator *OrchestratorConfig `json:"orchestrator,omitempty"`
}

// PipelineDeps are the external capabilities the pipeline is built on. Stores
// may share one implementation (MemoryStore does); Lexical, ResponseCache,
// EmbeddingL2, Generator, Quota, and Collectors are optional.
type PipelineDeps struct {
	Provider      EmbeddingProvider
	Vectors       VectorStore
	Lexical       LexicalStore
	Documents     DocumentStore
	Articles      ArticleStore
	ResponseCache ResponseCache
	EmbeddingL2   VectorCache
	Generator     Generator
	Quota         QuotaGate
	Collectors    *PipelineCollectors
}

// Pipeline is the assembled system: the ingestion side and the retrieval side
// sharing one normalizer, embedder, and store set.
type Pipeline struct {
	Normalizer *LanguageNormalizer
	Validator  *SecurityValidator
	Extractor  *TextExtractor
	Chunker    *ChunkingService
	Embedder   *EmbeddingService
	Ingestion  *IngestionOrchestrator
	Analyzer   *QueryAnalyzer
	Retriever  *HybridRetriever
	Ranker     *ResultRanker
	Cache      *CacheService
	Retrieval  *RetrievalOrchestrator
	Articles   *ArticleService

	logger  *slog.Logger
	started time.Time
	mutex   sync.RWMutex
}

// NewPipeline wires every service together. It fails only on nil required
// dependencies; individual services validate their own configuration.
func NewPipeline(config *PipelineConfig, deps PipelineDeps) (*Pipeline, error) {
	if config == nil {
		config = &PipelineConfig{}
	}
	if deps.Provider == nil {
		return nil, NewPipelineError(CodeValidation, "pipeline", "embedding provider is required", nil)
	}
	if deps.Vectors == nil {
		return nil, NewPipelineError(CodeValidation, "pipeline", "vector store is required", nil)
	}
	if deps.Documents == nil {
		return nil, NewPipelineError(CodeValidation, "pipeline", "document store is required", nil)
	}

	normalizer := NewLanguageNormalizer(config.Normalizer)
	validator := NewSecurityValidator(config.Validator)
	extractor := NewTextExtractor()
	chunker := NewChunkingService(config.Chunking)
	embedder := NewEmbeddingService(config.Embedding, deps.Provider, deps.EmbeddingL2)

	ingestion := NewIngestionOrchestrator(
		config.Ingestion,
		validator,
		extractor,
		normalizer,
		chunker,
		embedder,
		deps.Documents,
		deps.Vectors,
		deps.Collectors,
	)

	analyzer := NewQueryAnalyzer(config.Analyzer, normalizer)
	retriever := NewHybridRetriever(config.Retriever, deps.Vectors, deps.Lexical)
	ranker := NewResultRanker(config.Ranker)
	cache := NewCacheService(config.Cache, deps.ResponseCache)
	retrieval := NewRetrievalOrchestrator(
		config.Orchestrator,
		analyzer,
		embedder,
		retriever,
		ranker,
		cache,
		deps.Generator,
		deps.Quota,
		deps.Collectors,
	)

	var articles *ArticleService
	if deps.Articles != nil {
		articles = NewArticleService(deps.Articles, deps.Vectors, embedder)
	}

	return &Pipeline{
		Normalizer: normalizer,
		Validator:  validator,
		Extractor:  extractor,
		Chunker:    chunker,
		Embedder:   embedder,
		Ingestion:  ingestion,
		Analyzer:   analyzer,
		Retriever:  retriever,
		Ranker:     ranker,
		Cache:      cache,
		Retrieval:  retrieval,
		Articles:   articles,
		logger:     slog.Default().With("component", "pipeline"),
		started:    time.Now(),
	}, nil
}

// IngestDocument runs one document through the ingestion side.
func (p *Pipeline) IngestDocument(ctx context.Context, input *IngestionInput, opts IngestionOptions) (*Document, error) {
	return p.Ingestion.Ingest(ctx, input, opts)
}

// ProcessQuery answers one query through the retrieval side.
func (p *Pipeline) ProcessQuery(ctx context.Context, request *QueryRequest) (*QueryResponse, error) {
	return p.Retrieval.ProcessQuery(ctx, request)
}

// PipelineStatus is a point-in-time health and activity snapshot.
type PipelineStatus struct {
	Uptime            time.Duration       `json:"uptime"`
	Ingestion         IngestionMetrics    `json:"ingestion"`
	Retrieval         OrchestratorMetrics `json:"retrieval"`
	Cache             CacheServiceMetrics `json:"cache"`
	EmbeddingRequests int64               `json:"embedding_requests"`
}

// Status collects metrics from every service.
func (p *Pipeline) Status() PipelineStatus {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	embedding := p.Embedder.GetMetrics()
	return PipelineStatus{
		Uptime:            time.Since(p.started),
		Ingestion:         p.Ingestion.GetMetrics(),
		Retrieval:         p.Retrieval.GetMetrics(),
		Cache:             p.Cache.GetMetrics(),
		EmbeddingRequests: embedding.TotalRequests,
	}
}
