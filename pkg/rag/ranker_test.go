package rag

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// companyOnly is the searched-corpus list most ranker tests rank against.
var companyOnly = []Corpus{CorpusCompanyDocs}

func hit(docID string, fused, vector float64) *RetrievalHit {
	return &RetrievalHit{
		Corpus:      CorpusCompanyDocs,
		DocumentID:  docID,
		ChunkID:     docID + "-chunk",
		Content:     "chunk content for " + docID,
		Title:       "title " + docID,
		FusedScore:  fused,
		VectorScore: vector,
		HasVector:   true,
	}
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	rr := NewResultRanker(nil)

	hits := []*RetrievalHit{
		hit("doc-low", 0.3, 0.3),
		hit("doc-high", 0.9, 0.9),
		hit("doc-mid", 0.6, 0.6),
	}

	result := rr.Rank(hits, 10, companyOnly)
	require.Len(t, result.Sources, 3)
	for i := 1; i < len(result.Sources); i++ {
		assert.GreaterOrEqual(t, result.Sources[i-1].FusedScore, result.Sources[i].FusedScore)
	}
	assert.Equal(t, "company_docs/doc-high", result.Sources[0].ID)
}

func TestRankMergesChunksOfSameDocument(t *testing.T) {
	rr := NewResultRanker(nil)

	a := hit("doc-a", 0.8, 0.8)
	b := hit("doc-a", 0.5, 0.9)
	b.ChunkID = "doc-a-chunk-2"
	c := hit("doc-b", 0.7, 0.7)

	result := rr.Rank([]*RetrievalHit{a, b, c}, 10, companyOnly)
	require.Len(t, result.Sources, 2)

	top := result.Sources[0]
	assert.Equal(t, "company_docs/doc-a", top.ID)
	assert.Equal(t, 2, top.MatchingChunks)
	assert.Equal(t, 0.8, top.FusedScore)
	// Max similarity tracks the best vector score across all chunks.
	assert.Equal(t, 0.9, top.MaxSimilarity)
}

func TestRankTieBreaks(t *testing.T) {
	rr := NewResultRanker(nil)

	older := hit("doc-old", 0.8, 0.8)
	older.CreatedAt = time.Now().Add(-48 * time.Hour)
	newer := hit("doc-new", 0.8, 0.8)
	newer.CreatedAt = time.Now()

	// Same score, same chunk count: recency wins.
	result := rr.Rank([]*RetrievalHit{older, newer}, 10, companyOnly)
	require.Len(t, result.Sources, 2)
	assert.Equal(t, "company_docs/doc-new", result.Sources[0].ID)

	// Same score, more matching chunks wins over recency.
	extra := hit("doc-old", 0.6, 0.6)
	extra.ChunkID = "doc-old-chunk-2"
	result = rr.Rank([]*RetrievalHit{older, extra, newer}, 10, companyOnly)
	assert.Equal(t, "company_docs/doc-old", result.Sources[0].ID)
}

func TestRankCapsSources(t *testing.T) {
	rr := NewResultRanker(nil)

	var hits []*RetrievalHit
	for i := 0; i < 40; i++ {
		hits = append(hits, hit(fmt.Sprintf("doc-%02d", i), float64(i)/40, float64(i)/40))
	}

	result := rr.Rank(hits, 5, companyOnly)
	assert.Len(t, result.Sources, 5)

	// Requests above the ceiling clamp to it.
	result = rr.Rank(hits, 100, companyOnly)
	assert.Len(t, result.Sources, MaxSourcesCeiling)
}

func TestRankEmptyHitsIsValid(t *testing.T) {
	rr := NewResultRanker(nil)

	result := rr.Rank(nil, 10, companyOnly)
	require.NotNil(t, result)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.Confidence)
}

func TestConfidenceComposition(t *testing.T) {
	rr := NewResultRanker(nil)

	// A strong, tight cluster of several sources scores high.
	strong := rr.Rank([]*RetrievalHit{
		hit("a", 0.92, 0.92), hit("b", 0.90, 0.90), hit("c", 0.89, 0.89),
	}, 10, companyOnly)

	// A single weak source scores low.
	weak := rr.Rank([]*RetrievalHit{hit("d", 0.35, 0.35)}, 10, companyOnly)

	assert.Greater(t, strong.Confidence, weak.Confidence)
	assert.LessOrEqual(t, strong.Confidence, 1.0)
	assert.GreaterOrEqual(t, weak.Confidence, 0.0)
}

func TestConfidenceCoverageCountsCorpora(t *testing.T) {
	rr := NewResultRanker(nil)
	searched := []Corpus{CorpusCompanyDocs, CorpusLaborLaw, CorpusScenarios}

	// Many sources from a single corpus still cover only a third of the
	// searched corpora.
	narrow := rr.Rank([]*RetrievalHit{
		hit("a", 0.9, 0.9), hit("b", 0.9, 0.9), hit("c", 0.9, 0.9),
		hit("d", 0.9, 0.9), hit("e", 0.9, 0.9),
	}, 10, searched)
	assert.InDelta(t, 0.6*0.9+0.2+0.2*(1.0/3.0), narrow.Confidence, 1e-9)

	law := hit("", 0.9, 0.9)
	law.Corpus = CorpusLaborLaw
	law.ArticleID = "art-84"
	broad := rr.Rank([]*RetrievalHit{hit("a", 0.9, 0.9), law}, 10, searched)
	assert.InDelta(t, 0.6*0.9+0.2+0.2*(2.0/3.0), broad.Confidence, 1e-9)

	assert.Greater(t, broad.Confidence, narrow.Confidence)
}

func TestRankExcerptTruncation(t *testing.T) {
	rr := NewResultRanker(&RankerConfig{
		ExcerptLength:  50,
		TopScoreWeight: 0.6,
		SpreadWeight:   0.2,
		CoverageWeight: 0.2,
	})

	long := hit("doc-long", 0.9, 0.9)
	long.Content = "This is a fairly long excerpt that definitely exceeds the configured excerpt length limit for ranked sources."

	result := rr.Rank([]*RetrievalHit{long}, 10, companyOnly)
	require.Len(t, result.Sources, 1)
	assert.LessOrEqual(t, len([]rune(result.Sources[0].Excerpt)), 51)
}
