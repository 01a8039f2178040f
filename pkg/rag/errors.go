package rag

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the machine-readable classification surfaced to callers.
// Internal stack/context is logged but never returned.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeSecurityRejection ErrorCode = "SECURITY_REJECTION"
	CodeUnsupportedType   ErrorCode = "UNSUPPORTED_FILE_TYPE"
	CodeExtraction        ErrorCode = "EXTRACTION_ERROR"
	CodeChunking          ErrorCode = "CHUNKING_ERROR"
	CodeEmbedding         ErrorCode = "EMBEDDING_ERROR"
	CodeCorpusSearch      ErrorCode = "CORPUS_SEARCH_ERROR"
	CodeCache             ErrorCode = "CACHE_ERROR"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeGeneration        ErrorCode = "GENERATION_ERROR"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// PipelineError carries a machine-readable code plus a human message.
type PipelineError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Stage   string    `json:"stage,omitempty"`
	Err     error     `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError builds a classified error wrapping an underlying cause.
func NewPipelineError(code ErrorCode, stage, message string, err error) *PipelineError {
	return &PipelineError{Code: code, Stage: stage, Message: message, Err: err}
}

// CodeOf extracts the error code from err, defaulting to CodeInternal.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// QuotaError is surfaced with the caller's current usage, limit, and reset
// date; it is never silently dropped.
type QuotaError struct {
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	ResetDate time.Time `json:"reset_date"`
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: %d/%d, resets %s", CodeQuotaExceeded, e.Current, e.Limit, e.ResetDate.Format(time.RFC3339))
}

// ErrUnsupportedFileType is returned by the extractor registry for mime types
// with no registered strategy.
var ErrUnsupportedFileType = &PipelineError{
	Code:    CodeUnsupportedType,
	Message: "no extraction strategy registered for mime type",
}

// StageOutcome classifies a stage result at the orchestrator boundary. Stages
// report outcomes; only the orchestrator decides the resulting transition.
type StageOutcome int

const (
	OutcomeOk StageOutcome = iota
	OutcomeFatal
	OutcomeRecoverable
)

func (o StageOutcome) String() string {
	switch o {
	case OutcomeOk:
		return "ok"
	case OutcomeFatal:
		return "fatal"
	case OutcomeRecoverable:
		return "recoverable"
	}
	return "unknown"
}

// StageResult is the explicit per-stage result type. It replaces error-based
// control flow across stage calls so the state machine can decide transitions
// without stack unwinding.
type StageResult struct {
	Outcome StageOutcome
	Err     error
}

// StageOk reports a successful stage.
func StageOk() StageResult { return StageResult{Outcome: OutcomeOk} }

// StageFatal reports a failure that must terminate the document's run.
func StageFatal(err error) StageResult { return StageResult{Outcome: OutcomeFatal, Err: err} }

// StageRecoverable reports a failure the orchestrator may absorb.
func StageRecoverable(err error) StageResult {
	return StageResult{Outcome: OutcomeRecoverable, Err: err}
}
