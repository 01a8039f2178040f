package rag

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// HR topic categories recognized during query analysis.
const (
	CategoryTermination  = "termination"
	CategoryLeave        = "leave"
	CategoryCompensation = "compensation"
	CategoryContracts    = "contracts"
	CategoryBenefits     = "benefits"
	CategoryGeneral      = "general"
)

// QueryAnalysis is the per-query understanding used downstream for retrieval
// and cache fingerprinting.
type QueryAnalysis struct {
	OriginalQuery   string          `json:"original_query"`
	NormalizedQuery string          `json:"normalized_query"`
	Language        string          `json:"language"`
	Direction       TextDirection   `json:"direction"`
	Category        string          `json:"category"`
	Tokens          []string        `json:"tokens"`
	Stems           []string        `json:"stems"`
	Sentiment       SentimentResult `json:"sentiment"`
	IsFollowup      bool            `json:"is_followup"`
}

// AnalyzerConfig holds tunables for query analysis.
type AnalyzerConfig struct {
	// FollowupOverlapThreshold is the minimum share of the current query's
	// stems that must appear in the previous queries for the query to be
	// treated as a follow-up.
	FollowupOverlapThreshold float64 `json:"followup_overlap_threshold"`
}

func getDefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		FollowupOverlapThreshold: 0.3,
	}
}

// AnalyzerMetrics tracks analysis activity.
type AnalyzerMetrics struct {
	TotalQueries   int64            `json:"total_queries"`
	ByCategory     map[string]int64 `json:"by_category"`
	ByLanguage     map[string]int64 `json:"by_language"`
	LastAnalyzedAt time.Time        `json:"last_analyzed_at"`
	mutex          sync.RWMutex
}

// QueryAnalyzer classifies incoming queries by language, HR topic, and
// conversational role. Analysis never fails: an unclassifiable query falls
// back to the general category with the normalizer's best language guess.
type QueryAnalyzer struct {
	config     *AnalyzerConfig
	normalizer *LanguageNormalizer
	logger     *slog.Logger
	metrics    *AnalyzerMetrics
}

// NewQueryAnalyzer creates a query analyzer backed by the given normalizer.
func NewQueryAnalyzer(config *AnalyzerConfig, normalizer *LanguageNormalizer) *QueryAnalyzer {
	if config == nil {
		config = getDefaultAnalyzerConfig()
	}
	return &QueryAnalyzer{
		config:     config,
		normalizer: normalizer,
		logger:     slog.Default().With("component", "query-analyzer"),
		metrics: &AnalyzerMetrics{
			ByCategory: make(map[string]int64),
			ByLanguage: make(map[string]int64),
		},
	}
}

// Analyze produces the full analysis for a query. It is total: every input,
// including empty or gibberish text, yields a usable analysis.
func (qa *QueryAnalyzer) Analyze(request *QueryRequest) *QueryAnalysis {
	normalized := strings.ToLower(qa.normalizer.Normalize(request.Query))
	language := request.Language
	if language == "" {
		language = qa.normalizer.DetectLanguage(normalized)
	}

	tokens := qa.normalizer.Tokenize(normalized, true)
	stems := make([]string, 0, len(tokens))
	for _, token := range tokens {
		stems = append(stems, qa.normalizer.Stem(token))
	}

	analysis := &QueryAnalysis{
		OriginalQuery:   request.Query,
		NormalizedQuery: normalized,
		Language:        language,
		Direction:       qa.normalizer.DetectDirection(normalized),
		Category:        qa.classify(stems, tokens),
		Tokens:          tokens,
		Stems:           stems,
		Sentiment:       qa.normalizer.AnalyzeSentiment(normalized),
		IsFollowup:      qa.isFollowup(normalized, stems, request.Context.PreviousQueries),
	}

	qa.metrics.mutex.Lock()
	qa.metrics.TotalQueries++
	qa.metrics.ByCategory[analysis.Category]++
	qa.metrics.ByLanguage[analysis.Language]++
	qa.metrics.LastAnalyzedAt = time.Now()
	qa.metrics.mutex.Unlock()

	return analysis
}

// classify picks the HR category with the most keyword matches, falling back
// to general on a tie at zero.
func (qa *QueryAnalyzer) classify(stems, tokens []string) string {
	scores := map[string]int{}
	seen := map[string]bool{}
	for _, t := range append(append([]string{}, stems...), tokens...) {
		if seen[t] {
			continue
		}
		seen[t] = true
		if category, ok := hrCategoryKeywords[t]; ok {
			scores[category]++
		}
	}

	best, bestScore := CategoryGeneral, 0
	for _, category := range []string{
		CategoryTermination, CategoryLeave, CategoryCompensation,
		CategoryContracts, CategoryBenefits,
	} {
		if scores[category] > bestScore {
			best, bestScore = category, scores[category]
		}
	}
	return best
}

// isFollowup measures stem overlap against recent conversation history. Short
// queries referencing prior turns ("what about that", "وماذا عن ذلك") also
// count as follow-ups via deictic markers.
func (qa *QueryAnalyzer) isFollowup(normalized string, stems []string, previous []string) bool {
	if len(previous) == 0 {
		return false
	}

	// Deictic markers overlap the stopword set, so check unfiltered tokens.
	for _, token := range qa.normalizer.Tokenize(normalized, false) {
		if followupMarkers[token] {
			return true
		}
	}
	if len(stems) == 0 {
		return false
	}

	prior := map[string]bool{}
	for _, q := range previous {
		for _, token := range qa.normalizer.Tokenize(qa.normalizer.Normalize(q), true) {
			prior[qa.normalizer.Stem(token)] = true
		}
	}

	overlap := 0
	for _, stem := range stems {
		if prior[stem] {
			overlap++
		}
	}
	return float64(overlap)/float64(len(stems)) >= qa.config.FollowupOverlapThreshold
}

// GetMetrics returns a copy of the analyzer metrics.
func (qa *QueryAnalyzer) GetMetrics() AnalyzerMetrics {
	qa.metrics.mutex.RLock()
	defer qa.metrics.mutex.RUnlock()
	byCategory := make(map[string]int64, len(qa.metrics.ByCategory))
	for k, v := range qa.metrics.ByCategory {
		byCategory[k] = v
	}
	byLanguage := make(map[string]int64, len(qa.metrics.ByLanguage))
	for k, v := range qa.metrics.ByLanguage {
		byLanguage[k] = v
	}
	return AnalyzerMetrics{
		TotalQueries:   qa.metrics.TotalQueries,
		ByCategory:     byCategory,
		ByLanguage:     byLanguage,
		LastAnalyzedAt: qa.metrics.LastAnalyzedAt,
	}
}

// hrCategoryKeywords maps normalized (and stemmed) bilingual terms to HR
// categories. Arabic entries are post-normalization forms: hamza unified,
// taa marbuta folded to haa.
var hrCategoryKeywords = map[string]string{
	// Termination.
	"termination": CategoryTermination,
	"terminate":   CategoryTermination,
	"dismissal":   CategoryTermination,
	"dismissed":   CategoryTermination,
	"fired":       CategoryTermination,
	"resignation": CategoryTermination,
	"resign":      CategoryTermination,
	"layoff":      CategoryTermination,
	"فصل":         CategoryTermination,
	"انهاء":       CategoryTermination,
	"استقاله":     CategoryTermination,
	"استقال":      CategoryTermination,
	"تسريح":       CategoryTermination,
	"طرد":         CategoryTermination,

	// Leave.
	"leave":     CategoryLeave,
	"vacation":  CategoryLeave,
	"holiday":   CategoryLeave,
	"absence":   CategoryLeave,
	"sick":      CategoryLeave,
	"maternity": CategoryLeave,
	"paternity": CategoryLeave,
	"اجازه":     CategoryLeave,
	"اجاز":      CategoryLeave,
	"عطله":      CategoryLeave,
	"غياب":      CategoryLeave,
	"مرضيه":     CategoryLeave,
	"مرضي":      CategoryLeave,
	"امومه":     CategoryLeave,
	"سنويه":     CategoryLeave,
	"سنوي":      CategoryLeave,

	// Compensation.
	"salary":       CategoryCompensation,
	"wage":         CategoryCompensation,
	"wages":        CategoryCompensation,
	"pay":          CategoryCompensation,
	"payroll":      CategoryCompensation,
	"overtime":     CategoryCompensation,
	"bonus":        CategoryCompensation,
	"compensation": CategoryCompensation,
	"راتب":         CategoryCompensation,
	"اجر":          CategoryCompensation,
	"اجور":         CategoryCompensation,
	"مكافاه":       CategoryCompensation,
	"مكافا":        CategoryCompensation,
	"تعويض":        CategoryCompensation,
	"بدل":          CategoryCompensation,
	"علاوه":        CategoryCompensation,

	// Contracts.
	"contract":  CategoryContracts,
	"contracts": CategoryContracts,
	"probation": CategoryContracts,
	"notice":    CategoryContracts,
	"clause":    CategoryContracts,
	"renewal":   CategoryContracts,
	"عقد":       CategoryContracts,
	"عقود":      CategoryContracts,
	"تجربه":     CategoryContracts,
	"تجرب":      CategoryContracts,
	"اشعار":     CategoryContracts,
	"تجديد":     CategoryContracts,
	"بند":       CategoryContracts,

	// Benefits.
	"insurance":  CategoryBenefits,
	"medical":    CategoryBenefits,
	"pension":    CategoryBenefits,
	"gratuity":   CategoryBenefits,
	"allowance":  CategoryBenefits,
	"benefits":   CategoryBenefits,
	"housing":    CategoryBenefits,
	"تامين":      CategoryBenefits,
	"طبي":        CategoryBenefits,
	"تقاعد":      CategoryBenefits,
	"سكن":   CategoryBenefits,
	"مزايا": CategoryBenefits,
}

// followupMarkers are deictic terms that signal continuation of a prior turn.
var followupMarkers = map[string]bool{
	"that": true, "this": true, "it": true, "also": true, "more": true,
	"ذلك": true, "هذا": true, "هذه": true, "ايضا": true, "كذلك": true,
}
