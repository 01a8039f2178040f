package rag

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SecurityValidator screens raw file bytes before any processing happens. It
// is a pure check: no side effects, no retries. A rejection is fatal for the
// document.
type SecurityValidator struct {
	config *SecurityConfig
	logger *slog.Logger
}

// SecurityConfig holds validation limits and policy.
type SecurityConfig struct {
	MaxFileSizeBytes int64    `json:"max_file_size_bytes"`
	AllowedMimeTypes []string `json:"allowed_mime_types"`

	// RejectEmbeddedExecutables scans text-like payloads for executable or
	// script signatures.
	RejectEmbeddedExecutables bool `json:"reject_embedded_executables"`
}

// NewSecurityValidator creates a validator with the given configuration.
func NewSecurityValidator(config *SecurityConfig) *SecurityValidator {
	if config == nil {
		config = getDefaultSecurityConfig()
	}
	return &SecurityValidator{
		config: config,
		logger: slog.Default().With("component", "security-validator"),
	}
}

func getDefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		MaxFileSizeBytes: 25 << 20, // 25 MiB
		AllowedMimeTypes: []string{
			MimePDF,
			MimeDOCX,
			MimePlainText,
		},
		RejectEmbeddedExecutables: true,
	}
}

// Supported mime types.
const (
	MimePDF       = "application/pdf"
	MimeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePlainText = "text/plain"
)

// ValidationReport is the outcome of screening one upload.
type ValidationReport struct {
	IsValid          bool     `json:"is_valid"`
	Issues           []string `json:"issues"`
	DetectedMimeType string   `json:"detected_mime_type"`
	SizeBytes        int64    `json:"size_bytes"`
}

// Validate screens the upload. The returned report is never nil; callers must
// not proceed to extraction when IsValid is false.
func (sv *SecurityValidator) Validate(ctx context.Context, input *IngestionInput) *ValidationReport {
	report := &ValidationReport{
		IsValid:   true,
		Issues:    []string{},
		SizeBytes: int64(len(input.Bytes)),
	}

	if len(input.Bytes) == 0 {
		report.fail("file is empty")
		return report
	}
	if report.SizeBytes > sv.config.MaxFileSizeBytes {
		report.fail(fmt.Sprintf("file size %d exceeds limit %d", report.SizeBytes, sv.config.MaxFileSizeBytes))
	}

	report.DetectedMimeType = sniffMimeType(input.Bytes)

	if !sv.mimeAllowed(input.MimeType) {
		report.fail(fmt.Sprintf("declared mime type %q is not allowed", input.MimeType))
	}

	// Declared type must match the byte signature.
	if report.DetectedMimeType != "" && input.MimeType != "" && report.DetectedMimeType != input.MimeType {
		report.fail(fmt.Sprintf("declared mime type %q does not match detected %q", input.MimeType, report.DetectedMimeType))
	}

	if sv.config.RejectEmbeddedExecutables {
		if issue := detectExecutableSignature(input.Bytes, report.DetectedMimeType); issue != "" {
			report.fail(issue)
		}
	}

	if !report.IsValid {
		sv.logger.Warn("Upload rejected",
			"filename", input.Filename,
			"organization_id", input.OrganizationID,
			"issues", strings.Join(report.Issues, "; "),
		)
	}

	return report
}

func (r *ValidationReport) fail(issue string) {
	r.IsValid = false
	r.Issues = append(r.Issues, issue)
}

func (sv *SecurityValidator) mimeAllowed(mime string) bool {
	for _, allowed := range sv.config.AllowedMimeTypes {
		if mime == allowed {
			return true
		}
	}
	return false
}

// sniffMimeType detects the mime type from byte signatures. Unknown binary
// payloads return an empty string; text payloads default to text/plain.
func sniffMimeType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return MimePDF
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		// OOXML containers are zip archives; DOCX is the only one accepted.
		return MimeDOCX
	}
	if looksLikeText(data) {
		return MimePlainText
	}
	return ""
}

// looksLikeText applies a simple control-byte heuristic over the first 8 KiB.
func looksLikeText(data []byte) bool {
	sample := data
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	control := 0
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0D && b < 0x20) {
			control++
		}
	}
	return control*20 < len(sample)
}

// executable and script signatures screened out of text-like content.
var executableSignatures = [][]byte{
	{'M', 'Z'},                   // PE
	{0x7F, 'E', 'L', 'F'},        // ELF
	{0xCA, 0xFE, 0xBA, 0xBE},     // Mach-O fat
	{0xFE, 0xED, 0xFA, 0xCE},     // Mach-O
}

var scriptMarkers = []string{
	"#!/bin/",
	"#!/usr/bin/",
	"<script",
	"javascript:",
	"powershell -",
	"cmd.exe /c",
}

func detectExecutableSignature(data []byte, detectedMime string) string {
	for _, sig := range executableSignatures {
		if bytes.HasPrefix(data, sig) {
			return "executable byte signature detected"
		}
	}
	// Script markers only matter inside otherwise-text content; binary
	// document formats legitimately contain arbitrary byte runs.
	if detectedMime == MimePlainText {
		lower := strings.ToLower(string(data[:minInt(len(data), 16384)]))
		for _, marker := range scriptMarkers {
			if strings.Contains(lower, marker) {
				return fmt.Sprintf("script signature %q embedded in text content", marker)
			}
		}
	}
	return ""
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
