package rag

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// RankerConfig holds ranking and confidence tunables.
type RankerConfig struct {
	// ExcerptLength caps the excerpt taken from the best-matching chunk,
	// in runes.
	ExcerptLength int `json:"excerpt_length"`

	// Confidence component weights. They sum to 1.
	TopScoreWeight float64 `json:"top_score_weight"`
	SpreadWeight   float64 `json:"spread_weight"`
	CoverageWeight float64 `json:"coverage_weight"`
}

func getDefaultRankerConfig() *RankerConfig {
	return &RankerConfig{
		ExcerptLength:  360,
		TopScoreWeight: 0.6,
		SpreadWeight:   0.2,
		CoverageWeight: 0.2,
	}
}

// RankingResult is the deduplicated, ordered source list plus the aggregate
// confidence for the whole retrieval.
type RankingResult struct {
	Sources    []*RankedSource `json:"sources"`
	Confidence float64         `json:"confidence"`
}

// RankerMetrics tracks ranking activity.
type RankerMetrics struct {
	TotalRankings int64     `json:"total_rankings"`
	EmptyRankings int64     `json:"empty_rankings"`
	LastRankedAt  time.Time `json:"last_ranked_at"`
	mutex         sync.RWMutex
}

// ResultRanker merges per-chunk hits into per-document sources, orders them,
// and computes the aggregate confidence score.
type ResultRanker struct {
	config  *RankerConfig
	logger  *slog.Logger
	metrics *RankerMetrics
}

// NewResultRanker creates a ranker with the given configuration.
func NewResultRanker(config *RankerConfig) *ResultRanker {
	if config == nil {
		config = getDefaultRankerConfig()
	}
	return &ResultRanker{
		config:  config,
		logger:  slog.Default().With("component", "result-ranker"),
		metrics: &RankerMetrics{},
	}
}

// Rank merges hits by document/article identity, sorts, and truncates to
// min(maxSources, ceiling). corpora lists the corpora that were searched;
// confidence measures how many of them are represented in the result. An
// empty hit set is a valid outcome with confidence zero, not an error.
func (rr *ResultRanker) Rank(hits []*RetrievalHit, maxSources int, corpora []Corpus) *RankingResult {
	rr.metrics.mutex.Lock()
	rr.metrics.TotalRankings++
	if len(hits) == 0 {
		rr.metrics.EmptyRankings++
	}
	rr.metrics.LastRankedAt = time.Now()
	rr.metrics.mutex.Unlock()

	if maxSources <= 0 || maxSources > MaxSourcesCeiling {
		maxSources = MaxSourcesCeiling
	}
	if len(hits) == 0 {
		return &RankingResult{Sources: []*RankedSource{}, Confidence: 0}
	}

	type bucket struct {
		source  *RankedSource
		bestHit *RetrievalHit
	}
	buckets := map[string]*bucket{}
	order := []string{}

	for _, hit := range hits {
		identity := hit.Identity()
		b, ok := buckets[identity]
		if !ok {
			b = &bucket{
				source: &RankedSource{
					Corpus:    hit.Corpus,
					ID:        identity,
					Title:     hit.Title,
					Language:  hit.Language,
					CreatedAt: hit.CreatedAt,
				},
				bestHit: hit,
			}
			buckets[identity] = b
			order = append(order, identity)
		}
		b.source.MatchingChunks++
		if hit.FusedScore > b.source.FusedScore {
			b.source.FusedScore = hit.FusedScore
			b.bestHit = hit
		}
		if hit.VectorScore > b.source.MaxSimilarity {
			b.source.MaxSimilarity = hit.VectorScore
		}
	}

	sources := make([]*RankedSource, 0, len(order))
	for _, identity := range order {
		b := buckets[identity]
		b.source.Excerpt = rr.excerpt(b.bestHit.Content)
		sources = append(sources, b.source)
	}

	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if a.MatchingChunks != b.MatchingChunks {
			return a.MatchingChunks > b.MatchingChunks
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	confidence := rr.confidence(sources, corpora)
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	return &RankingResult{Sources: sources, Confidence: confidence}
}

// confidence blends the top score, the score spread across sources, and
// corpus coverage into one [0,1] value.
func (rr *ResultRanker) confidence(sources []*RankedSource, corpora []Corpus) float64 {
	if len(sources) == 0 {
		return 0
	}

	top := sources[0].FusedScore
	spread := sources[0].FusedScore - sources[len(sources)-1].FusedScore
	coverage := corpusCoverage(sources, corpora)

	confidence := rr.config.TopScoreWeight*top +
		rr.config.SpreadWeight*(1-spread) +
		rr.config.CoverageWeight*coverage
	return math.Max(0, math.Min(1, confidence))
}

// corpusCoverage is the fraction of searched corpora represented in the
// ranked sources. Searching one corpus can reach full coverage on its own;
// a corpus that returned nothing lowers it.
func corpusCoverage(sources []*RankedSource, corpora []Corpus) float64 {
	if len(corpora) == 0 {
		return 0
	}
	seen := map[Corpus]bool{}
	for _, s := range sources {
		seen[s.Corpus] = true
	}
	represented := 0
	for _, corpus := range corpora {
		if seen[corpus] {
			represented++
		}
	}
	return float64(represented) / float64(len(corpora))
}

func (rr *ResultRanker) excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= rr.config.ExcerptLength {
		return content
	}
	cut := rr.config.ExcerptLength
	// Back up to the nearest word boundary when one is close.
	for i := cut; i > cut-40 && i > 0; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\n' {
			cut = i - 1
			break
		}
	}
	return string(runes[:cut]) + "…"
}

// GetMetrics returns a copy of the ranker metrics.
func (rr *ResultRanker) GetMetrics() RankerMetrics {
	rr.metrics.mutex.RLock()
	defer rr.metrics.mutex.RUnlock()
	return RankerMetrics{
		TotalRankings: rr.metrics.TotalRankings,
		EmptyRankings: rr.metrics.EmptyRankings,
		LastRankedAt:  rr.metrics.LastRankedAt,
	}
}
