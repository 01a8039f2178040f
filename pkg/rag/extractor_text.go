package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// plainTextExtractor passes UTF-8 text through with a validity check.
type plainTextExtractor struct{}

func (e *plainTextExtractor) MimeType() string { return MimePlainText }

func (e *plainTextExtractor) Extract(ctx context.Context, data []byte) (*ExtractionResult, error) {
	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text file is empty after decoding")
	}

	// Approximate pages for parity with paginated formats.
	lines := strings.Count(text, "\n") + 1
	pageCount := lines/50 + 1

	return &ExtractionResult{
		Text: text,
		Metadata: ExtractionMetadata{
			PageCount: pageCount,
		},
	}, nil
}
