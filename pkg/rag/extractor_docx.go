package rag

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// docxExtractor extracts text from the OOXML word/document.xml part. DOCX is
// a zip container; paragraphs become newline-separated text.
type docxExtractor struct{}

func (e *docxExtractor) MimeType() string { return MimeDOCX }

func (e *docxExtractor) Extract(ctx context.Context, data []byte) (*ExtractionResult, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX container: %w", err)
	}

	var docPart *zip.File
	for _, f := range reader.File {
		if f.Name == "word/document.xml" {
			docPart = f
			break
		}
	}
	if docPart == nil {
		return nil, fmt.Errorf("DOCX container has no word/document.xml part")
	}

	rc, err := docPart.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open document part: %w", err)
	}
	defer rc.Close()

	text, paragraphs, err := decodeDocumentXML(ctx, rc)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("DOCX document part contains no text")
	}

	// DOCX has no fixed pagination before layout; approximate pages from
	// paragraph volume for downstream structural metadata.
	pageCount := paragraphs/25 + 1

	return &ExtractionResult{
		Text: text,
		Metadata: ExtractionMetadata{
			PageCount: pageCount,
		},
	}, nil
}

// decodeDocumentXML streams the WordprocessingML token stream, collecting
// run text (w:t) and emitting paragraph (w:p) and line (w:br) breaks.
func decodeDocumentXML(ctx context.Context, r io.Reader) (string, int, error) {
	decoder := xml.NewDecoder(r)
	var b strings.Builder
	var inText bool
	paragraphs := 0

	for {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}

		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("malformed document XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "br", "cr":
				b.WriteString("\n")
			case "tab":
				b.WriteString("\t")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
				paragraphs++
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), paragraphs, nil
}
