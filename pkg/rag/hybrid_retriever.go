package rag

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RetrieverConfig holds hybrid retrieval tunables.
type RetrieverConfig struct {
	// LexicalWeight w fuses per-hit scores as (1-w)*vector + w*lexical.
	LexicalWeight float64 `json:"lexical_weight"`

	// SimilarityThreshold filters vector hits before fusion.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// PerCorpusLimit caps hits fetched from each store per corpus before
	// fusion and ranking trim the combined set.
	PerCorpusLimit int `json:"per_corpus_limit"`

	// SearchTimeout bounds the whole fan-out for one request.
	SearchTimeout time.Duration `json:"search_timeout"`

	EnableLexical bool `json:"enable_lexical"`
}

func getDefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		LexicalWeight:       0.3,
		SimilarityThreshold: 0.7,
		PerCorpusLimit:      30,
		SearchTimeout:       10 * time.Second,
		EnableLexical:       true,
	}
}

// RetrievalResult is the combined fan-out output for one request. Corpora
// lists the searched corpora that stayed reachable; ranking measures its
// coverage against that list.
type RetrievalResult struct {
	Hits            []*RetrievalHit `json:"hits"`
	Corpora         []Corpus        `json:"corpora,omitempty"`
	DegradedCorpora []Corpus        `json:"degraded_corpora,omitempty"`
	SearchTime      time.Duration   `json:"search_time"`
}

// RetrieverMetrics tracks fan-out activity.
type RetrieverMetrics struct {
	TotalSearches   int64         `json:"total_searches"`
	DegradedCorpora int64         `json:"degraded_corpora"`
	TotalHits       int64         `json:"total_hits"`
	AvgSearchTime   time.Duration `json:"avg_search_time"`
	LastSearchAt    time.Time     `json:"last_search_at"`
	mutex           sync.RWMutex
}

// HybridRetriever fans a query out across the enabled corpora, running vector
// and lexical search in parallel, then fuses the per-hit scores. A failed
// corpus degrades the result instead of failing the request.
type HybridRetriever struct {
	config   *RetrieverConfig
	vectors  VectorStore
	lexical  LexicalStore
	expander *QueryExpander
	logger   *slog.Logger
	metrics  *RetrieverMetrics
}

// NewHybridRetriever creates a retriever over the given stores. lexical may be
// nil, in which case only vector search runs.
func NewHybridRetriever(config *RetrieverConfig, vectors VectorStore, lexical LexicalStore) *HybridRetriever {
	if config == nil {
		config = getDefaultRetrieverConfig()
	}
	if config.SearchTimeout <= 0 {
		config.SearchTimeout = 10 * time.Second
	}
	if config.PerCorpusLimit <= 0 {
		config.PerCorpusLimit = 30
	}
	return &HybridRetriever{
		config:   config,
		vectors:  vectors,
		lexical:  lexical,
		expander: NewQueryExpander(0),
		logger:   slog.Default().With("component", "hybrid-retriever"),
		metrics:  &RetrieverMetrics{},
	}
}

// corpusOutcome is one corpus's slice of the fan-out.
type corpusOutcome struct {
	corpus   Corpus
	hits     []*RetrievalHit
	degraded bool
}

// Retrieve runs the hybrid fan-out. The similarity threshold is taken from the
// caller preferences when set, otherwise the configured default applies.
func (hr *HybridRetriever) Retrieve(ctx context.Context, analysis *QueryAnalysis, queryEmbedding []float32, request *QueryRequest) (*RetrievalResult, error) {
	start := time.Now()

	corpora := hr.enabledCorpora(request.Preferences)
	if len(corpora) == 0 {
		return &RetrievalResult{SearchTime: time.Since(start)}, nil
	}

	threshold := hr.config.SimilarityThreshold
	if request.Preferences.ConfidenceThreshold > 0 {
		threshold = request.Preferences.ConfidenceThreshold
	}

	searchCtx, cancel := context.WithTimeout(ctx, hr.config.SearchTimeout)
	defer cancel()

	outcomes := make([]corpusOutcome, len(corpora))
	group, groupCtx := errgroup.WithContext(searchCtx)
	for i, corpus := range corpora {
		group.Go(func() error {
			outcomes[i] = hr.searchCorpus(groupCtx, corpus, analysis, queryEmbedding, request, threshold)
			return nil
		})
	}
	// Workers never return errors; failures are folded into their outcome.
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &RetrievalResult{SearchTime: time.Since(start)}
	for _, outcome := range outcomes {
		if outcome.degraded {
			result.DegradedCorpora = append(result.DegradedCorpora, outcome.corpus)
			continue
		}
		result.Corpora = append(result.Corpora, outcome.corpus)
		result.Hits = append(result.Hits, outcome.hits...)
	}
	hr.fuse(result.Hits)

	hr.metrics.mutex.Lock()
	hr.metrics.TotalSearches++
	hr.metrics.DegradedCorpora += int64(len(result.DegradedCorpora))
	hr.metrics.TotalHits += int64(len(result.Hits))
	if hr.metrics.AvgSearchTime == 0 {
		hr.metrics.AvgSearchTime = result.SearchTime
	} else {
		hr.metrics.AvgSearchTime = (hr.metrics.AvgSearchTime + result.SearchTime) / 2
	}
	hr.metrics.LastSearchAt = time.Now()
	hr.metrics.mutex.Unlock()

	return result, nil
}

func (hr *HybridRetriever) enabledCorpora(prefs QueryPreferences) []Corpus {
	var corpora []Corpus
	if prefs.IncludeCompanyDocs {
		corpora = append(corpora, CorpusCompanyDocs)
	}
	if prefs.IncludeLaborLaw {
		corpora = append(corpora, CorpusLaborLaw, CorpusScenarios)
	}
	return corpora
}

// searchCorpus runs vector and lexical search for one corpus in parallel and
// merges their hits by identity+chunk. Either leg failing degrades the corpus
// only when no hits survive from the other leg.
func (hr *HybridRetriever) searchCorpus(ctx context.Context, corpus Corpus, analysis *QueryAnalysis, queryEmbedding []float32, request *QueryRequest, threshold float64) corpusOutcome {
	var (
		vectorHits, lexicalHits []*RetrievalHit
		vectorErr, lexicalErr   error
		wg                      sync.WaitGroup
	)

	filters := VectorFilters{}
	if corpus == CorpusCompanyDocs {
		// Labor law and scenarios are shared reference corpora; only
		// company documents are tenant-scoped.
		filters.OrganizationID = request.OrganizationID
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = hr.vectors.Search(ctx, queryEmbedding, corpus, filters, threshold, hr.config.PerCorpusLimit)
	}()

	lexicalEnabled := hr.config.EnableLexical && hr.lexical != nil &&
		!request.Preferences.OptimizeForSpeed
	if lexicalEnabled {
		lexicalText := hr.expander.Expand(analysis)
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexicalHits, lexicalErr = hr.lexical.SearchLexical(ctx, lexicalText, corpus, LexicalConfig{
				Language:       analysis.Language,
				Stopwords:      true,
				OrganizationID: filters.OrganizationID,
			}, hr.config.PerCorpusLimit)
		}()
	}
	wg.Wait()

	if vectorErr != nil {
		hr.logger.Warn("Vector search failed for corpus",
			"corpus", corpus, "error", vectorErr, "code", CodeCorpusSearch)
	}
	if lexicalErr != nil {
		hr.logger.Warn("Lexical search failed for corpus",
			"corpus", corpus, "error", lexicalErr, "code", CodeCorpusSearch)
	}
	if vectorErr != nil && (lexicalErr != nil || !lexicalEnabled) {
		return corpusOutcome{corpus: corpus, degraded: true}
	}

	normalizeLexicalScores(lexicalHits)

	merged := map[string]*RetrievalHit{}
	for _, hit := range vectorHits {
		hit.HasVector = true
		merged[hit.Identity()+"/"+hit.ChunkID] = hit
	}
	for _, hit := range lexicalHits {
		key := hit.Identity() + "/" + hit.ChunkID
		if existing, ok := merged[key]; ok {
			existing.LexicalScore = hit.LexicalScore
			existing.HasLexical = true
			continue
		}
		hit.HasLexical = true
		merged[key] = hit
	}

	hits := make([]*RetrievalHit, 0, len(merged))
	for _, hit := range merged {
		hits = append(hits, hit)
	}
	return corpusOutcome{corpus: corpus, hits: hits}
}

// normalizeLexicalScores maps raw BM25 scores into [0,1] relative to the best
// hit in the batch so they are comparable with cosine similarities.
func normalizeLexicalScores(hits []*RetrievalHit) {
	var max float64
	for _, hit := range hits {
		if hit.LexicalScore > max {
			max = hit.LexicalScore
		}
	}
	if max <= 0 {
		return
	}
	for _, hit := range hits {
		hit.LexicalScore /= max
	}
}

// fuse computes the combined score for every hit. Hits seen by only one leg
// use that leg's score at full weight complement to avoid penalizing corpora
// where the other leg returned nothing.
func (hr *HybridRetriever) fuse(hits []*RetrievalHit) {
	w := hr.config.LexicalWeight
	for _, hit := range hits {
		switch {
		case hit.HasVector && hit.HasLexical:
			hit.FusedScore = (1-w)*hit.VectorScore + w*hit.LexicalScore
		case hit.HasVector:
			hit.FusedScore = hit.VectorScore
		default:
			hit.FusedScore = hit.LexicalScore
		}
	}
}

// GetMetrics returns a copy of the retriever metrics.
func (hr *HybridRetriever) GetMetrics() RetrieverMetrics {
	hr.metrics.mutex.RLock()
	defer hr.metrics.mutex.RUnlock()
	return RetrieverMetrics{
		TotalSearches:   hr.metrics.TotalSearches,
		DegradedCorpora: hr.metrics.DegradedCorpora,
		TotalHits:       hr.metrics.TotalHits,
		AvgSearchTime:   hr.metrics.AvgSearchTime,
		LastSearchAt:    hr.metrics.LastSearchAt,
	}
}
