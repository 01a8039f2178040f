package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

// ExtractionMetadata describes one extraction run.
type ExtractionMetadata struct {
	PageCount            int     `json:"page_count"`
	WordCount            int     `json:"word_count"`
	ExtractionConfidence float64 `json:"extraction_confidence"`
	ExtractionTimeMs     int64   `json:"extraction_time_ms"`
}

// ExtractionResult is the output of the text extraction stage.
type ExtractionResult struct {
	Text     string             `json:"text"`
	Metadata ExtractionMetadata `json:"metadata"`
}

// extractorStrategy is one format-specific extraction implementation.
type extractorStrategy interface {
	Extract(ctx context.Context, data []byte) (*ExtractionResult, error)
	MimeType() string
}

// TextExtractor dispatches validated bytes to the strategy registered for
// their mime type. Unknown mime types fail with ErrUnsupportedFileType;
// corrupt-structure failures are fatal for the document.
type TextExtractor struct {
	strategies map[string]extractorStrategy
	logger     *slog.Logger
}

// NewTextExtractor creates an extractor with the built-in PDF, DOCX, and
// plain-text strategies registered.
func NewTextExtractor() *TextExtractor {
	te := &TextExtractor{
		strategies: make(map[string]extractorStrategy),
		logger:     slog.Default().With("component", "text-extractor"),
	}
	te.register(&pdfExtractor{})
	te.register(&docxExtractor{})
	te.register(&plainTextExtractor{})
	return te
}

func (te *TextExtractor) register(s extractorStrategy) {
	te.strategies[s.MimeType()] = s
}

// Extract runs the strategy for the given mime type and fills in timing and
// word-count metadata.
func (te *TextExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*ExtractionResult, error) {
	strategy, ok := te.strategies[mimeType]
	if !ok {
		return nil, NewPipelineError(CodeUnsupportedType, "extracting",
			fmt.Sprintf("no extraction strategy for mime type %q", mimeType), nil)
	}

	start := time.Now()
	result, err := strategy.Extract(ctx, data)
	if err != nil {
		return nil, NewPipelineError(CodeExtraction, "extracting",
			fmt.Sprintf("extraction failed for %s", mimeType), err)
	}

	result.Text = sanitizeExtractedText(result.Text)
	result.Metadata.WordCount = len(strings.Fields(result.Text))
	result.Metadata.ExtractionTimeMs = time.Since(start).Milliseconds()
	if result.Metadata.ExtractionConfidence == 0 {
		result.Metadata.ExtractionConfidence = estimateExtractionConfidence(result.Text)
	}

	te.logger.Info("Text extracted",
		"mime_type", mimeType,
		"pages", result.Metadata.PageCount,
		"words", result.Metadata.WordCount,
		"took_ms", result.Metadata.ExtractionTimeMs,
	)

	return result, nil
}

// sanitizeExtractedText drops invalid UTF-8 and control characters that PDF
// extraction commonly leaks, keeping newlines and tabs.
func sanitizeExtractedText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == unicode.ReplacementChar {
			continue
		}
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// estimateExtractionConfidence scores how much of the output looks like real
// text rather than extraction noise.
func estimateExtractionConfidence(text string) float64 {
	if text == "" {
		return 0
	}
	meaningful := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			meaningful++
		}
	}
	if total == 0 {
		return 0
	}
	confidence := float64(meaningful) / float64(total)
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}
