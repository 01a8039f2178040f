package rag

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChunkingStrategy selects how chunk boundaries are chosen.
type ChunkingStrategy string

const (
	StrategySemantic  ChunkingStrategy = "semantic"
	StrategyParagraph ChunkingStrategy = "paragraph"
	StrategySentence  ChunkingStrategy = "sentence"
)

// ChunkingConfig holds configuration for the chunking service.
type ChunkingConfig struct {
	Strategy     ChunkingStrategy `json:"strategy"`
	ChunkSize    int              `json:"chunk_size"`    // target chunk size in characters
	Overlap      int              `json:"overlap"`       // trailing window duplicated into the next chunk
	MinChunkSize int              `json:"min_chunk_size"`
	MaxChunkSize int              `json:"max_chunk_size"`

	// Boundary weights for the semantic strategy.
	SentenceBoundaryWeight  float64 `json:"sentence_boundary_weight"`
	ParagraphBoundaryWeight float64 `json:"paragraph_boundary_weight"`

	// CharsPerPage approximates page numbers for structural metadata when the
	// source format has no pagination of its own.
	CharsPerPage int `json:"chars_per_page"`
}

// ChunkingSummary is the aggregate metadata returned with a chunk list.
type ChunkingSummary struct {
	TotalChunks  int     `json:"total_chunks"`
	AvgChunkSize float64 `json:"avg_chunk_size"`
	Strategy     string  `json:"strategy"`
}

// ChunkingMetrics tracks chunking volume across documents.
type ChunkingMetrics struct {
	TotalDocuments      int64         `json:"total_documents"`
	TotalChunks         int64         `json:"total_chunks"`
	AverageChunksPerDoc float64       `json:"average_chunks_per_doc"`
	AverageChunkSize    float64       `json:"average_chunk_size"`
	LastProcessedAt     time.Time     `json:"last_processed_at"`
	mutex               sync.RWMutex
}

// ChunkingService splits normalized text into overlapping, addressable
// segments. Spans are rune offsets [Start,End) into the input text; adjacent
// chunks share exactly the configured overlap window and indices are
// contiguous per document.
type ChunkingService struct {
	config  *ChunkingConfig
	logger  *slog.Logger
	metrics *ChunkingMetrics
}

// NewChunkingService creates a chunking service with the given configuration.
func NewChunkingService(config *ChunkingConfig) *ChunkingService {
	if config == nil {
		config = getDefaultChunkingConfig()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 800
	}
	if config.MaxChunkSize <= 0 {
		config.MaxChunkSize = config.ChunkSize * 2
	}
	if config.Overlap < 0 {
		config.Overlap = 0
	}
	if config.Overlap >= config.ChunkSize {
		config.Overlap = config.ChunkSize / 4
	}
	return &ChunkingService{
		config: config,
		logger: slog.Default().With("component", "chunking-service"),
		metrics: &ChunkingMetrics{
			LastProcessedAt: time.Now(),
		},
	}
}

func getDefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		Strategy:                StrategySemantic,
		ChunkSize:               800,
		Overlap:                 100,
		MinChunkSize:            40,
		MaxChunkSize:            1600,
		SentenceBoundaryWeight:  1.0,
		ParagraphBoundaryWeight: 2.0,
		CharsPerPage:            1800,
	}
}

// ChunkText splits text into ordered chunks. The text is expected to be the
// normalized extraction output; language tags each produced chunk. Empty or
// invalid text is an error, which is fatal for the document.
func (cs *ChunkingService) ChunkText(documentID, text, language string) ([]*Chunk, *ChunkingSummary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, NewPipelineError(CodeChunking, "chunking", "cannot chunk empty text", nil)
	}

	runes := []rune(text)
	boundaries := cs.selectBoundaries(runes)

	sections := indexSections(text)

	var chunks []*Chunk
	start := 0
	for _, end := range boundaries {
		if end <= start {
			continue
		}
		content := string(runes[start:end])
		chunk := &Chunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			Index:      len(chunks),
			Start:      start,
			End:        end,
			Content:    content,
			Language:   language,
			Page:       cs.pageOf(start),
			Section:    sections.sectionAt(start),
			WordCount:  len(strings.Fields(content)),
			CreatedAt:  time.Now(),
		}
		chunks = append(chunks, chunk)

		// The next chunk re-reads the trailing overlap window.
		next := end - cs.config.Overlap
		if next <= start {
			next = end
		}
		start = next
		if start >= len(runes) {
			break
		}
	}

	if len(chunks) == 0 {
		return nil, nil, NewPipelineError(CodeChunking, "chunking",
			fmt.Sprintf("no chunks produced from %d characters", len(runes)), nil)
	}

	// A trailing fragment below the minimum size merges into its predecessor,
	// as long as the merge stays within the maximum.
	if n := len(chunks); n > 1 {
		last, prev := chunks[n-1], chunks[n-2]
		if last.End-last.Start < cs.config.MinChunkSize && last.End-prev.Start <= cs.config.MaxChunkSize {
			prev.End = last.End
			prev.Content = string(runes[prev.Start:prev.End])
			prev.WordCount = len(strings.Fields(prev.Content))
			chunks = chunks[:n-1]
		}
	}

	summary := &ChunkingSummary{
		TotalChunks: len(chunks),
		Strategy:    string(cs.config.Strategy),
	}
	totalSize := 0
	for _, c := range chunks {
		totalSize += c.End - c.Start
	}
	summary.AvgChunkSize = float64(totalSize) / float64(len(chunks))

	cs.updateMetrics(func(m *ChunkingMetrics) {
		m.TotalDocuments++
		m.TotalChunks += int64(len(chunks))
		m.AverageChunksPerDoc = float64(m.TotalChunks) / float64(m.TotalDocuments)
		m.AverageChunkSize = (m.AverageChunkSize*float64(m.TotalDocuments-1) + summary.AvgChunkSize) / float64(m.TotalDocuments)
		m.LastProcessedAt = time.Now()
	})

	cs.logger.Info("Document chunked",
		"document_id", documentID,
		"strategy", cs.config.Strategy,
		"chunks", len(chunks),
		"avg_size", summary.AvgChunkSize,
	)

	return chunks, summary, nil
}

// selectBoundaries returns the ordered chunk end offsets covering the whole
// text. Every strategy guarantees the final boundary equals len(runes).
func (cs *ChunkingService) selectBoundaries(runes []rune) []int {
	switch cs.config.Strategy {
	case StrategyParagraph:
		return cs.breakAtCandidates(runes, paragraphBreaks(runes))
	case StrategySentence:
		return cs.breakAtCandidates(runes, sentenceBreaks(runes))
	default:
		return cs.semanticBoundaries(runes)
	}
}

// breakAtCandidates closes each chunk at the last candidate break inside the
// target window, falling back to the first candidate before the hard cap and
// force-splitting at MaxChunkSize when no candidate exists. Candidates at or
// before the previous boundary are never reused, so every chunk ends strictly
// past the one before it even when a gap between candidates exceeds the
// window.
func (cs *ChunkingService) breakAtCandidates(runes []rune, candidates []int) []int {
	var boundaries []int
	start := 0
	prevEnd := 0

	for start < len(runes) {
		limit := start + cs.config.ChunkSize
		if limit >= len(runes) {
			boundaries = append(boundaries, len(runes))
			break
		}

		end := 0
		for _, c := range candidates {
			if c <= prevEnd {
				continue
			}
			if c > limit {
				break
			}
			if c-start >= cs.config.MinChunkSize {
				end = c
			}
		}
		if end == 0 {
			hard := start + cs.config.MaxChunkSize
			for _, c := range candidates {
				if c <= prevEnd || c <= limit {
					continue
				}
				if c <= hard {
					end = c
				}
				break
			}
			if end == 0 {
				end = hard
				if end > len(runes) {
					end = len(runes)
				}
			}
		}

		boundaries = append(boundaries, end)
		if end >= len(runes) {
			break
		}
		prevEnd = end
		start = end - cs.config.Overlap
		if start < 0 {
			start = 0
		}
	}

	if len(boundaries) == 0 || boundaries[len(boundaries)-1] != len(runes) {
		boundaries = append(boundaries, len(runes))
	}
	return boundaries
}

// semanticBoundaries scores sentence and paragraph breaks near the target
// size and picks the strongest boundary inside the search window.
func (cs *ChunkingService) semanticBoundaries(runes []rune) []int {
	var boundaries []int
	start := 0

	for start < len(runes) {
		target := start + cs.config.ChunkSize
		if target >= len(runes) {
			boundaries = append(boundaries, len(runes))
			break
		}

		window := cs.config.ChunkSize / 4
		searchStart := target - window
		if searchStart <= start {
			searchStart = start + 1
		}
		searchEnd := target + window
		if searchEnd > len(runes) {
			searchEnd = len(runes)
		}

		best := target
		bestScore := 0.0
		for pos := searchStart; pos < searchEnd; pos++ {
			score := cs.boundaryScore(runes, pos)
			if score > bestScore {
				bestScore = score
				best = pos
			}
		}

		boundaries = append(boundaries, best)
		next := best - cs.config.Overlap
		if next <= start {
			next = best
		}
		start = next
	}

	if len(boundaries) == 0 || boundaries[len(boundaries)-1] != len(runes) {
		boundaries = append(boundaries, len(runes))
	}
	return boundaries
}

// boundaryScore rates a position as a chunk boundary. Paragraph breaks beat
// sentence breaks; anything else scores zero.
func (cs *ChunkingService) boundaryScore(runes []rune, pos int) float64 {
	if pos <= 0 || pos >= len(runes) {
		return 0
	}
	score := 0.0
	if isSentenceEnd(runes[pos-1]) && (runes[pos] == ' ' || runes[pos] == '\n') {
		score += cs.config.SentenceBoundaryWeight
	}
	if runes[pos-1] == '\n' && runes[pos] == '\n' {
		score += cs.config.ParagraphBoundaryWeight
	}
	return score
}

// paragraphBreaks returns positions immediately after blank-line separators.
func paragraphBreaks(runes []rune) []int {
	var breaks []int
	for i := 1; i < len(runes); i++ {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			breaks = append(breaks, i+1)
		}
	}
	return breaks
}

// sentenceBreaks returns positions immediately after sentence-ending
// punctuation, covering both Latin and Arabic forms.
func sentenceBreaks(runes []rune) []int {
	var breaks []int
	for i := 0; i < len(runes)-1; i++ {
		if isSentenceEnd(runes[i]) && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			breaks = append(breaks, i+1)
		}
	}
	return breaks
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '؟', '۔', '؛':
		return true
	}
	return false
}

func (cs *ChunkingService) pageOf(offset int) int {
	if cs.config.CharsPerPage <= 0 {
		return 1
	}
	return offset/cs.config.CharsPerPage + 1
}

// sectionIndex maps text offsets to the nearest preceding heading line.
type sectionIndex struct {
	offsets []int
	titles  []string
}

// indexSections records short standalone lines followed by a blank line or a
// numbered-heading shape as section titles.
func indexSections(text string) *sectionIndex {
	idx := &sectionIndex{}
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if looksLikeHeading(trimmed) {
			idx.offsets = append(idx.offsets, offset)
			idx.titles = append(idx.titles, trimmed)
		}
		offset += len([]rune(line)) + 1
	}
	return idx
}

func looksLikeHeading(line string) bool {
	if line == "" || len([]rune(line)) > 80 {
		return false
	}
	if isSentenceEnd([]rune(line)[len([]rune(line))-1]) {
		return false
	}
	// Numbered headings like "3.2 Probation" or "المادة 84".
	fields := strings.Fields(line)
	if len(fields) >= 2 && len(fields) <= 10 {
		first := fields[0]
		digits := 0
		for _, r := range first {
			if isDigitRune(r) || r == '.' {
				digits++
			}
		}
		if digits == len(first) && digits > 0 {
			return true
		}
		if first == "المادة" || strings.EqualFold(first, "article") || strings.EqualFold(first, "section") {
			return true
		}
	}
	return false
}

func (si *sectionIndex) sectionAt(offset int) string {
	title := ""
	for i, o := range si.offsets {
		if o > offset {
			break
		}
		title = si.titles[i]
	}
	return title
}

func (cs *ChunkingService) updateMetrics(fn func(*ChunkingMetrics)) {
	cs.metrics.mutex.Lock()
	defer cs.metrics.mutex.Unlock()
	fn(cs.metrics)
}

// GetMetrics returns a copy of the current chunking metrics.
func (cs *ChunkingService) GetMetrics() ChunkingMetrics {
	cs.metrics.mutex.RLock()
	defer cs.metrics.mutex.RUnlock()
	return ChunkingMetrics{
		TotalDocuments:      cs.metrics.TotalDocuments,
		TotalChunks:         cs.metrics.TotalChunks,
		AverageChunksPerDoc: cs.metrics.AverageChunksPerDoc,
		AverageChunkSize:    cs.metrics.AverageChunkSize,
		LastProcessedAt:     cs.metrics.LastProcessedAt,
	}
}
