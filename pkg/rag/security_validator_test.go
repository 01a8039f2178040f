package rag

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput(data []byte, mime string) *IngestionInput {
	return &IngestionInput{
		Bytes:          data,
		Filename:       "upload.bin",
		MimeType:       mime,
		OrganizationID: "org-1",
	}
}

func TestValidateAcceptsCleanUploads(t *testing.T) {
	sv := NewSecurityValidator(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"pdf", []byte("%PDF-1.7 fake body"), MimePDF},
		{"docx", []byte("PK\x03\x04 fake zip"), MimeDOCX},
		{"plain text", []byte("Employees receive 30 days of leave."), MimePlainText},
		{"arabic text", []byte("يستحق العامل إجازة سنوية"), MimePlainText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := sv.Validate(ctx, validInput(tt.data, tt.mime))
			require.NotNil(t, report)
			assert.True(t, report.IsValid, "issues: %v", report.Issues)
			assert.Equal(t, tt.mime, report.DetectedMimeType)
		})
	}
}

func TestValidateRejectsBadUploads(t *testing.T) {
	sv := NewSecurityValidator(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		mime string
	}{
		{"empty file", nil, MimePlainText},
		{"pe executable", append([]byte{'M', 'Z'}, make([]byte, 64)...), MimePlainText},
		{"elf executable", append([]byte{0x7F, 'E', 'L', 'F'}, make([]byte, 64)...), MimePlainText},
		{"disallowed mime", []byte("plain enough"), "application/x-msdownload"},
		{"mime mismatch", []byte("just text, not a pdf"), MimePDF},
		{"shell script in text", []byte("#!/bin/sh\nrm -rf /"), MimePlainText},
		{"script tag in text", []byte("hello <script>alert(1)</script>"), MimePlainText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := sv.Validate(ctx, validInput(tt.data, tt.mime))
			require.NotNil(t, report)
			assert.False(t, report.IsValid)
			assert.NotEmpty(t, report.Issues)
		})
	}
}

func TestValidateEnforcesSizeLimit(t *testing.T) {
	sv := NewSecurityValidator(&SecurityConfig{
		MaxFileSizeBytes:          100,
		AllowedMimeTypes:          []string{MimePlainText},
		RejectEmbeddedExecutables: true,
	})

	report := sv.Validate(context.Background(), validInput(bytes.Repeat([]byte("a"), 200), MimePlainText))
	assert.False(t, report.IsValid)
	assert.Equal(t, int64(200), report.SizeBytes)

	found := false
	for _, issue := range report.Issues {
		if strings.Contains(issue, "exceeds limit") {
			found = true
		}
	}
	assert.True(t, found, "expected a size issue, got %v", report.Issues)
}

func TestSniffMimeType(t *testing.T) {
	assert.Equal(t, MimePDF, sniffMimeType([]byte("%PDF-1.4")))
	assert.Equal(t, MimeDOCX, sniffMimeType([]byte("PK\x03\x04rest")))
	assert.Equal(t, MimePlainText, sniffMimeType([]byte("hello world")))
	assert.Equal(t, "", sniffMimeType([]byte{0x00, 0x01, 0x02, 0x03}))
}
