package rag

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfExtractor extracts plain text from PDF bytes page by page.
type pdfExtractor struct{}

func (e *pdfExtractor) MimeType() string { return MimePDF }

func (e *pdfExtractor) Extract(ctx context.Context, data []byte) (*ExtractionResult, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF structure: %w", err)
	}

	pageCount := reader.NumPage()
	var textBuilder strings.Builder
	extractedPages := 0

	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is not fatal; the confidence score
			// reflects partial extraction.
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
		extractedPages++
	}

	text := textBuilder.String()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("PDF contains no extractable text across %d pages", pageCount)
	}

	confidence := 0.0
	if pageCount > 0 {
		confidence = float64(extractedPages) / float64(pageCount)
	}

	return &ExtractionResult{
		Text: text,
		Metadata: ExtractionMetadata{
			PageCount:            pageCount,
			ExtractionConfidence: confidence * estimateExtractionConfidence(text),
		},
	}, nil
}
