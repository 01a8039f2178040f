package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// OrchestratorConfig holds retrieval-side orchestration tunables.
type OrchestratorConfig struct {
	// ContextTokenBudget bounds the grounding context handed to the
	// generator, measured in approximate tokens (4 chars per token).
	ContextTokenBudget int `json:"context_token_budget"`

	// QueryTimeout bounds the whole ProcessQuery call.
	QueryTimeout time.Duration `json:"query_timeout"`
}

func getDefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		ContextTokenBudget: 3000,
		QueryTimeout:       30 * time.Second,
	}
}

// OrchestratorMetrics tracks end-to-end query handling.
type OrchestratorMetrics struct {
	TotalQueries      int64         `json:"total_queries"`
	CacheHits         int64         `json:"cache_hits"`
	FailedQueries     int64         `json:"failed_queries"`
	DegradedQueries   int64         `json:"degraded_queries"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	TotalCost         float64       `json:"total_cost"`
	LastQueryAt       time.Time     `json:"last_query_at"`
	mutex             sync.RWMutex
}

// RetrievalOrchestrator runs the full query path: analysis, cache lookup,
// hybrid retrieval, ranking, grounding-context assembly, and generation.
type RetrievalOrchestrator struct {
	config     *OrchestratorConfig
	analyzer   *QueryAnalyzer
	embedder   *EmbeddingService
	retriever  *HybridRetriever
	ranker     *ResultRanker
	cache      *CacheService
	generator  Generator
	quota      QuotaGate
	logger     *slog.Logger
	metrics    *OrchestratorMetrics
	collectors *PipelineCollectors
}

// NewRetrievalOrchestrator wires the retrieval path together. generator may
// be nil, in which case responses carry ranked sources without an answer;
// quota may be nil when no usage limits apply.
func NewRetrievalOrchestrator(
	config *OrchestratorConfig,
	analyzer *QueryAnalyzer,
	embedder *EmbeddingService,
	retriever *HybridRetriever,
	ranker *ResultRanker,
	cache *CacheService,
	generator Generator,
	quota QuotaGate,
	collectors *PipelineCollectors,
) *RetrievalOrchestrator {
	if config == nil {
		config = getDefaultOrchestratorConfig()
	}
	return &RetrievalOrchestrator{
		config:     config,
		analyzer:   analyzer,
		embedder:   embedder,
		retriever:  retriever,
		ranker:     ranker,
		cache:      cache,
		generator:  generator,
		quota:      quota,
		logger:     slog.Default().With("component", "retrieval-orchestrator"),
		metrics:    &OrchestratorMetrics{},
		collectors: collectors,
	}
}

// ProcessQuery answers one query end to end. Cancellation mid-flight aborts
// without caching a partial response.
func (ro *RetrievalOrchestrator) ProcessQuery(ctx context.Context, request *QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, ro.config.QueryTimeout)
	defer cancel()

	if strings.TrimSpace(request.Query) == "" {
		ro.recordOutcome(time.Since(start), 0, false, true, false)
		return nil, NewPipelineError(CodeValidation, "query", "query text is empty", nil)
	}
	request.Preferences.normalize()

	if ro.quota != nil {
		if err := ro.quota.CheckQuota(ctx, request.OrganizationID); err != nil {
			ro.recordOutcome(time.Since(start), 0, false, true, false)
			return nil, err
		}
	}

	analysis := ro.analyzer.Analyze(request)
	fingerprint := Fingerprint(analysis, request)

	// Lookups always run; only writes are gated on the preference.
	if cached := ro.cache.Lookup(ctx, fingerprint); cached != nil {
		ro.recordOutcome(time.Since(start), cached.Cost, true, false, false)
		ro.logger.Info("Query served from cache",
			"category", analysis.Category, "language", analysis.Language)
		return cached, nil
	}

	queryEmbedding, err := ro.embedder.EmbedQuery(ctx, analysis.NormalizedQuery)
	if err != nil {
		ro.recordOutcome(time.Since(start), 0, false, true, false)
		return nil, NewPipelineError(CodeEmbedding, "query", "failed to embed query", err)
	}

	retrieval, err := ro.retriever.Retrieve(ctx, analysis, queryEmbedding, request)
	if err != nil {
		ro.recordOutcome(time.Since(start), 0, false, true, false)
		return nil, err
	}

	ranking := ro.ranker.Rank(retrieval.Hits, request.Preferences.MaxSources, retrieval.Corpora)

	confidence := ranking.Confidence
	if len(retrieval.DegradedCorpora) > 0 {
		// An unreachable corpus means the answer may be missing sources.
		confidence *= 0.8
	}

	response := &QueryResponse{
		Sources:         ranking.Sources,
		Confidence:      confidence,
		DegradedCorpora: retrieval.DegradedCorpora,
	}

	if ro.generator != nil {
		groundingContext := ro.buildGroundingContext(analysis, ranking.Sources)
		generation, err := ro.generator.Complete(ctx, groundingContext, request.Query)
		if err != nil {
			ro.recordOutcome(time.Since(start), 0, false, true, false)
			return nil, NewPipelineError(CodeGeneration, "query", "answer generation failed", err)
		}
		response.Answer = generation.Text
		response.TokensUsed = generation.TokensUsed
		response.Cost = generation.Cost
		response.Model = generation.Model
	}

	response.ProcessingTime = time.Since(start)
	response.QualityScore = ro.qualityScore(response)

	if err := ctx.Err(); err != nil {
		// Cancelled mid-flight: surface the abort, never cache partials.
		ro.recordOutcome(time.Since(start), 0, false, true, false)
		return nil, err
	}

	if request.Preferences.CacheResults {
		ro.cache.Store(ctx, fingerprint, response)
	}

	degraded := len(response.DegradedCorpora) > 0
	ro.recordOutcome(response.ProcessingTime, response.Cost, false, false, degraded)
	ro.logger.Info("Query processed",
		"category", analysis.Category,
		"language", analysis.Language,
		"sources", len(response.Sources),
		"confidence", fmt.Sprintf("%.2f", response.Confidence),
		"degraded_corpora", len(response.DegradedCorpora),
		"took", response.ProcessingTime,
	)
	return response, nil
}

// buildGroundingContext assembles source excerpts under the token budget,
// best sources first, labeling each with its corpus and title.
func (ro *RetrievalOrchestrator) buildGroundingContext(analysis *QueryAnalysis, sources []*RankedSource) string {
	budget := ro.config.ContextTokenBudget * 4 // chars
	var b strings.Builder

	for i, source := range sources {
		header := fmt.Sprintf("[%d] (%s) %s\n", i+1, source.Corpus, source.Title)
		block := header + source.Excerpt + "\n\n"
		if b.Len()+len(block) > budget {
			if i == 0 {
				// Always ground on at least the best source, truncated on
				// a rune boundary.
				cut := minInt(len(block), budget)
				for cut > 0 && !utf8.RuneStart(block[cut]) {
					cut--
				}
				b.WriteString(block[:cut])
			}
			break
		}
		b.WriteString(block)
	}
	return strings.TrimSpace(b.String())
}

// qualityScore blends confidence with grounding coverage into one indicator
// for monitoring dashboards.
func (ro *RetrievalOrchestrator) qualityScore(response *QueryResponse) float64 {
	score := response.Confidence
	if len(response.Sources) == 0 {
		return 0
	}
	if len(response.DegradedCorpora) > 0 {
		score *= 0.8
	}
	if response.Answer == "" {
		score *= 0.5
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (ro *RetrievalOrchestrator) recordOutcome(took time.Duration, cost float64, cacheHit, failed, degraded bool) {
	ro.metrics.mutex.Lock()
	ro.metrics.TotalQueries++
	if cacheHit {
		ro.metrics.CacheHits++
	}
	if failed {
		ro.metrics.FailedQueries++
	}
	if degraded {
		ro.metrics.DegradedQueries++
	}
	if ro.metrics.AvgProcessingTime == 0 {
		ro.metrics.AvgProcessingTime = took
	} else {
		ro.metrics.AvgProcessingTime = (ro.metrics.AvgProcessingTime + took) / 2
	}
	ro.metrics.TotalCost += cost
	ro.metrics.LastQueryAt = time.Now()
	ro.metrics.mutex.Unlock()

	if ro.collectors != nil {
		ro.collectors.ObserveQuery(took, cacheHit, failed, degraded)
	}
}

// GetMetrics returns a copy of the orchestrator metrics.
func (ro *RetrievalOrchestrator) GetMetrics() OrchestratorMetrics {
	ro.metrics.mutex.RLock()
	defer ro.metrics.mutex.RUnlock()
	return OrchestratorMetrics{
		TotalQueries:      ro.metrics.TotalQueries,
		CacheHits:         ro.metrics.CacheHits,
		FailedQueries:     ro.metrics.FailedQueries,
		DegradedQueries:   ro.metrics.DegradedQueries,
		AvgProcessingTime: ro.metrics.AvgProcessingTime,
		TotalCost:         ro.metrics.TotalCost,
		LastQueryAt:       ro.metrics.LastQueryAt,
	}
}
