package rag

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return buf.Bytes()
}

// buildPDF assembles a minimal uncompressed PDF with one page per text,
// computing the cross-reference offsets as it writes.
func buildPDF(t *testing.T, pageTexts []string) []byte {
	t.Helper()

	fontObj := 3 + 2*len(pageTexts)
	kids := make([]string, len(pageTexts))
	for i := range pageTexts {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pageTexts)),
	}
	for i, text := range pageTexts {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractPDF(t *testing.T) {
	te := NewTextExtractor()

	data := buildPDF(t, []string{
		"Probation lasts ninety days.",
		"Annual leave is thirty days per year.",
	})

	result, err := te.Extract(context.Background(), data, MimePDF)
	require.NoError(t, err)

	assert.Contains(t, result.Text, "Probation lasts ninety days.")
	assert.Contains(t, result.Text, "Annual leave is thirty days per year.")
	// Page order survives extraction.
	assert.Less(t,
		strings.Index(result.Text, "Probation"),
		strings.Index(result.Text, "Annual leave"))
	assert.Equal(t, 2, result.Metadata.PageCount)
	assert.Greater(t, result.Metadata.WordCount, 0)
	assert.Greater(t, result.Metadata.ExtractionConfidence, 0.0)
}

func TestExtractPDFFixtureRoundTripsValidator(t *testing.T) {
	sv := NewSecurityValidator(nil)

	data := buildPDF(t, []string{"Company handbook"})
	report := sv.Validate(context.Background(), &IngestionInput{
		Bytes:          data,
		Filename:       "handbook.pdf",
		MimeType:       MimePDF,
		OrganizationID: "org-1",
	})

	assert.True(t, report.IsValid)
	assert.Equal(t, MimePDF, report.DetectedMimeType)
}

func TestExtractPlainText(t *testing.T) {
	te := NewTextExtractor()

	result, err := te.Extract(context.Background(), []byte("line one\nline two\n"), MimePlainText)
	require.NoError(t, err)

	assert.Contains(t, result.Text, "line one")
	assert.Contains(t, result.Text, "line two")
	assert.Equal(t, 4, result.Metadata.WordCount)
	assert.GreaterOrEqual(t, result.Metadata.PageCount, 1)
	assert.Greater(t, result.Metadata.ExtractionConfidence, 0.0)
}

func TestExtractPlainTextRepairsInvalidUTF8(t *testing.T) {
	te := NewTextExtractor()

	data := append([]byte("valid text "), 0xFF, 0xFE)
	result, err := te.Extract(context.Background(), data, MimePlainText)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "valid text")
}

func TestExtractDocx(t *testing.T) {
	te := NewTextExtractor()

	docXML := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Probation lasts ninety days.</w:t></w:r></w:p>
    <w:p><w:r><w:t>مدة التجربة تسعون يوما</w:t></w:r></w:p>
  </w:body>
</w:document>`

	result, err := te.Extract(context.Background(), buildDocx(t, docXML), MimeDOCX)
	require.NoError(t, err)

	assert.Contains(t, result.Text, "Probation lasts ninety days.")
	assert.Contains(t, result.Text, "مدة التجربة تسعون يوما")
}

func TestExtractDocxWithoutDocumentXML(t *testing.T) {
	te := NewTextExtractor()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/styles.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte("<styles/>"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = te.Extract(context.Background(), buf.Bytes(), MimeDOCX)
	require.Error(t, err)
	assert.Equal(t, CodeExtraction, CodeOf(err))
}

func TestExtractUnsupportedMime(t *testing.T) {
	te := NewTextExtractor()

	_, err := te.Extract(context.Background(), []byte("anything"), "image/png")
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedType, CodeOf(err))
}

func TestExtractCorruptPDF(t *testing.T) {
	te := NewTextExtractor()

	_, err := te.Extract(context.Background(), []byte("%PDF-1.7 but truncated"), MimePDF)
	require.Error(t, err)
	assert.Equal(t, CodeExtraction, CodeOf(err))
}
