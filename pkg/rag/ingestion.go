package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IngestionConfig holds configuration for the ingestion orchestrator.
type IngestionConfig struct {
	// MaxConcurrentDocuments bounds the worker pool for independent
	// documents; within one document the stages run strictly sequentially.
	MaxConcurrentDocuments int `json:"max_concurrent_documents"`

	DefaultLanguage string `json:"default_language"`
}

func getDefaultIngestionConfig() *IngestionConfig {
	return &IngestionConfig{
		MaxConcurrentDocuments: 4,
		DefaultLanguage:        LanguageArabic,
	}
}

// IngestionOptions are per-call processing choices.
type IngestionOptions struct {
	// ContinueOnEmbeddingFailure turns an embedding failure into a
	// recoverable outcome: the document completes with warnings and no
	// embeddings, with the failure reason preserved in metadata.
	ContinueOnEmbeddingFailure bool `json:"continue_on_embedding_failure"`
}

// IngestionMetrics tracks document outcomes.
type IngestionMetrics struct {
	Started               int64     `json:"started"`
	Completed             int64     `json:"completed"`
	CompletedWithWarnings int64     `json:"completed_with_warnings"`
	Failed                int64     `json:"failed"`
	Reprocessed           int64     `json:"reprocessed"`
	LastProcessedAt       time.Time `json:"last_processed_at"`
	mutex                 sync.RWMutex
}

// IngestionOrchestrator sequences validation, extraction, normalization,
// chunking, and embedding for each document and owns the document state
// machine. Stages report StageResults; only the orchestrator decides
// fatal-versus-recoverable and the resulting transition.
type IngestionOrchestrator struct {
	config     *IngestionConfig
	validator  *SecurityValidator
	extractor  *TextExtractor
	normalizer *LanguageNormalizer
	chunker    *ChunkingService
	embedder   *EmbeddingService
	store      DocumentStore
	vectors    VectorStore
	logger     *slog.Logger
	metrics    *IngestionMetrics
	collectors *PipelineCollectors
	sem        chan struct{}
}

// NewIngestionOrchestrator wires the pipeline stages together. The
// orchestrator owns the lifecycle of the stage services it is given.
func NewIngestionOrchestrator(
	config *IngestionConfig,
	validator *SecurityValidator,
	extractor *TextExtractor,
	normalizer *LanguageNormalizer,
	chunker *ChunkingService,
	embedder *EmbeddingService,
	store DocumentStore,
	vectors VectorStore,
	collectors *PipelineCollectors,
) *IngestionOrchestrator {
	if config == nil {
		config = getDefaultIngestionConfig()
	}
	if config.MaxConcurrentDocuments <= 0 {
		config.MaxConcurrentDocuments = 4
	}
	return &IngestionOrchestrator{
		config:     config,
		validator:  validator,
		extractor:  extractor,
		normalizer: normalizer,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		vectors:    vectors,
		logger:     slog.Default().With("component", "ingestion-orchestrator"),
		metrics:    &IngestionMetrics{},
		collectors: collectors,
		sem:        make(chan struct{}, config.MaxConcurrentDocuments),
	}
}

// Ingest runs one document through the full pipeline and returns the
// persisted document in its terminal state. The returned error is non-nil
// only when the document could not be persisted at all; processing failures
// are reported through the document status and processing record.
func (io *IngestionOrchestrator) Ingest(ctx context.Context, input *IngestionInput, opts IngestionOptions) (*Document, error) {
	select {
	case io.sem <- struct{}{}:
		defer func() { <-io.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	doc := &Document{
		ID:               uuid.New().String(),
		OrganizationID:   input.OrganizationID,
		UploadedBy:       input.UploadedBy,
		Filename:         input.Filename,
		MimeType:         input.MimeType,
		SizeBytes:        int64(len(input.Bytes)),
		DeclaredLanguage: input.Language,
		Category:         input.Category,
		Tags:             input.Tags,
		Status:           StatusUploaded,
		Metadata:         input.Metadata,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]interface{}{}
	}

	record := &ProcessingRecord{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
	doc.ProcessingRecords = append(doc.ProcessingRecords, record)

	if err := io.store.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to persist uploaded document: %w", err)
	}

	io.updateMetrics(func(m *IngestionMetrics) { m.Started++ })
	io.run(ctx, doc, input.Bytes, record, opts, false)
	return doc, nil
}

// IngestBatch processes independent documents concurrently under the bounded
// worker pool. Order of completion between documents is not guaranteed.
func (io *IngestionOrchestrator) IngestBatch(ctx context.Context, inputs []*IngestionInput, opts IngestionOptions) []*Document {
	docs := make([]*Document, len(inputs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func(i int, input *IngestionInput) {
			defer wg.Done()
			doc, err := io.Ingest(ctx, input, opts)
			if err != nil {
				io.logger.Error("Batch ingestion item failed", "filename", input.Filename, "error", err)
				return
			}
			docs[i] = doc
		}(i, input)
	}
	wg.Wait()
	return docs
}

// Reprocess re-enters the pipeline at the chunking stage using previously
// extracted text, skipping validation and extraction. Terminal state history
// is immutable: a fresh processing record is appended rather than mutating the
// prior run.
func (io *IngestionOrchestrator) Reprocess(ctx context.Context, documentID string, opts IngestionOptions) (*Document, error) {
	select {
	case io.sem <- struct{}{}:
		defer func() { <-io.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	doc, err := io.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
	}
	if doc.ExtractedText == "" {
		return nil, NewPipelineError(CodeValidation, "reprocess",
			"document has no stored extracted text to reprocess", nil)
	}

	record := &ProcessingRecord{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
		Reprocess: true,
	}
	doc.ProcessingRecords = append(doc.ProcessingRecords, record)

	// Drop the prior run's index entries before re-chunking.
	if err := io.vectors.DeleteDocument(ctx, CorpusCompanyDocs, doc.ID); err != nil {
		io.logger.Warn("Failed to clear prior vectors before reprocess", "document_id", doc.ID, "error", err)
	}
	doc.Chunks = nil
	doc.Embeddings = nil

	io.updateMetrics(func(m *IngestionMetrics) { m.Reprocessed++ })
	io.run(ctx, doc, nil, record, opts, true)
	return doc, nil
}

// run drives the state machine. Transitions are strictly sequential; the only
// backward entry point is reprocessing, which starts at chunking.
func (io *IngestionOrchestrator) run(ctx context.Context, doc *Document, raw []byte, record *ProcessingRecord, opts IngestionOptions, reprocess bool) {
	if !reprocess {
		if result := io.runStage(ctx, doc, record, StatusValidating, func() StageResult {
			return io.stageValidate(ctx, doc, raw)
		}); result.Outcome != OutcomeOk {
			io.finish(ctx, doc, record, StatusFailed, result.Err)
			return
		}

		if result := io.runStage(ctx, doc, record, StatusExtracting, func() StageResult {
			return io.stageExtract(ctx, doc, raw)
		}); result.Outcome != OutcomeOk {
			io.finish(ctx, doc, record, StatusFailed, result.Err)
			return
		}
	}

	if result := io.runStage(ctx, doc, record, StatusChunking, func() StageResult {
		return io.stageChunk(doc)
	}); result.Outcome != OutcomeOk {
		io.finish(ctx, doc, record, StatusFailed, result.Err)
		return
	}

	embedResult := io.runStage(ctx, doc, record, StatusEmbedding, func() StageResult {
		return io.stageEmbed(ctx, doc, opts)
	})
	switch embedResult.Outcome {
	case OutcomeOk:
		io.finish(ctx, doc, record, StatusCompleted, nil)
	case OutcomeRecoverable:
		record.EmbeddingError = embedResult.Err.Error()
		doc.Metadata["embeddingError"] = embedResult.Err.Error()
		doc.Embeddings = nil
		io.finish(ctx, doc, record, StatusCompletedWithWarnings, nil)
	default:
		io.finish(ctx, doc, record, StatusFailed, embedResult.Err)
	}
}

// runStage transitions the document into the stage's status, executes it, and
// appends the stage record with duration and outcome.
func (io *IngestionOrchestrator) runStage(ctx context.Context, doc *Document, record *ProcessingRecord, status DocumentStatus, fn func() StageResult) StageResult {
	doc.Status = status
	doc.UpdatedAt = time.Now()
	if err := io.store.UpsertDocument(ctx, doc); err != nil {
		io.logger.Error("Failed to persist stage transition", "document_id", doc.ID, "status", status, "error", err)
	}

	start := time.Now()
	result := fn()
	took := time.Since(start)

	stage := StageRecord{
		Stage:      string(status),
		StartedAt:  start,
		Duration:   took,
		DurationMs: took.Milliseconds(),
		Outcome:    result.Outcome.String(),
	}
	if result.Err != nil {
		stage.Error = result.Err.Error()
	}
	record.Stages = append(record.Stages, stage)

	if io.collectors != nil {
		io.collectors.ObserveStage(string(status), result.Outcome.String(), took)
	}
	return result
}

func (io *IngestionOrchestrator) stageValidate(ctx context.Context, doc *Document, raw []byte) StageResult {
	report := io.validator.Validate(ctx, &IngestionInput{
		Bytes:          raw,
		Filename:       doc.Filename,
		MimeType:       doc.MimeType,
		OrganizationID: doc.OrganizationID,
	})
	doc.Metadata["validation"] = report
	if !report.IsValid {
		return StageFatal(NewPipelineError(CodeSecurityRejection, "validating",
			fmt.Sprintf("upload rejected: %v", report.Issues), nil))
	}
	if report.DetectedMimeType != "" {
		doc.MimeType = report.DetectedMimeType
	}
	return StageOk()
}

func (io *IngestionOrchestrator) stageExtract(ctx context.Context, doc *Document, raw []byte) StageResult {
	result, err := io.extractor.Extract(ctx, raw, doc.MimeType)
	if err != nil {
		return StageFatal(err)
	}

	normalized := io.normalizer.Normalize(result.Text)
	doc.ExtractedText = normalized
	doc.DetectedLanguage = io.normalizer.DetectLanguage(normalized)
	doc.Metadata["extraction"] = result.Metadata
	if doc.DeclaredLanguage == "" {
		doc.DeclaredLanguage = doc.DetectedLanguage
	}
	return StageOk()
}

func (io *IngestionOrchestrator) stageChunk(doc *Document) StageResult {
	language := doc.DetectedLanguage
	if language == "" {
		language = io.config.DefaultLanguage
	}

	chunks, summary, err := io.chunker.ChunkText(doc.ID, doc.ExtractedText, language)
	if err != nil {
		return StageFatal(err)
	}
	doc.Chunks = chunks
	doc.Metadata["chunking"] = summary
	return StageOk()
}

func (io *IngestionOrchestrator) stageEmbed(ctx context.Context, doc *Document, opts IngestionOptions) StageResult {
	embeddings, err := io.embedder.EmbedChunks(ctx, doc.Chunks)
	if err != nil {
		if opts.ContinueOnEmbeddingFailure {
			return StageRecoverable(err)
		}
		return StageFatal(err)
	}

	byChunk := make(map[string]*Embedding, len(embeddings))
	for _, e := range embeddings {
		byChunk[e.ChunkID] = e
	}
	for _, chunk := range doc.Chunks {
		embedding, ok := byChunk[chunk.ID]
		if !ok {
			continue
		}
		hit := &RetrievalHit{
			Corpus:         CorpusCompanyDocs,
			OrganizationID: doc.OrganizationID,
			DocumentID:     doc.ID,
			ChunkID:        chunk.ID,
			Content:        chunk.Content,
			Title:          doc.Filename,
			Language:       chunk.Language,
			CreatedAt:      doc.CreatedAt,
		}
		if err := io.vectors.Index(ctx, CorpusCompanyDocs, hit, embedding.Vector); err != nil {
			if opts.ContinueOnEmbeddingFailure {
				return StageRecoverable(fmt.Errorf("vector indexing failed: %w", err))
			}
			return StageFatal(NewPipelineError(CodeEmbedding, "embedding", "vector indexing failed", err))
		}
	}

	doc.Embeddings = embeddings
	return StageOk()
}

// finish records the terminal state, persists the document, and updates
// outcome metrics.
func (io *IngestionOrchestrator) finish(ctx context.Context, doc *Document, record *ProcessingRecord, status DocumentStatus, cause error) {
	doc.Status = status
	doc.UpdatedAt = time.Now()
	record.FinishedAt = time.Now()
	record.FinalStatus = status

	if err := io.store.UpsertDocument(ctx, doc); err != nil {
		io.logger.Error("Failed to persist terminal state", "document_id", doc.ID, "status", status, "error", err)
	}

	io.updateMetrics(func(m *IngestionMetrics) {
		switch status {
		case StatusCompleted:
			m.Completed++
		case StatusCompletedWithWarnings:
			m.CompletedWithWarnings++
		case StatusFailed:
			m.Failed++
		}
		m.LastProcessedAt = time.Now()
	})
	if io.collectors != nil {
		io.collectors.ObserveDocument(string(status))
	}

	if cause != nil {
		io.logger.Warn("Document processing ended in failure",
			"document_id", doc.ID,
			"status", status,
			"code", CodeOf(cause),
			"error", cause,
		)
		return
	}
	io.logger.Info("Document processing finished",
		"document_id", doc.ID,
		"status", status,
		"chunks", len(doc.Chunks),
		"embeddings", len(doc.Embeddings),
	)
}

// GetMetrics returns a copy of the current ingestion metrics.
func (io *IngestionOrchestrator) GetMetrics() IngestionMetrics {
	io.metrics.mutex.RLock()
	defer io.metrics.mutex.RUnlock()
	return IngestionMetrics{
		Started:               io.metrics.Started,
		Completed:             io.metrics.Completed,
		CompletedWithWarnings: io.metrics.CompletedWithWarnings,
		Failed:                io.metrics.Failed,
		Reprocessed:           io.metrics.Reprocessed,
		LastProcessedAt:       io.metrics.LastProcessedAt,
	}
}

func (io *IngestionOrchestrator) updateMetrics(fn func(*IngestionMetrics)) {
	io.metrics.mutex.Lock()
	defer io.metrics.mutex.Unlock()
	fn(io.metrics)
}
