package rag

import (
	"time"
)

// Language tags used across the pipeline.
const (
	LanguageArabic  = "ar"
	LanguageEnglish = "en"
	LanguageMixed   = "mixed"
)

// DocumentStatus is the lifecycle state of a document in the ingestion pipeline.
type DocumentStatus string

const (
	StatusUploaded              DocumentStatus = "uploaded"
	StatusValidating            DocumentStatus = "validating"
	StatusExtracting            DocumentStatus = "extracting"
	StatusChunking              DocumentStatus = "chunking"
	StatusEmbedding             DocumentStatus = "embedding"
	StatusCompleted             DocumentStatus = "completed"
	StatusCompletedWithWarnings DocumentStatus = "completed_with_warnings"
	StatusFailed                DocumentStatus = "failed"
)

// Terminal reports whether the status is a terminal state. Terminal states are
// immutable; reprocessing appends a fresh processing record instead of mutating
// history.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithWarnings, StatusFailed:
		return true
	}
	return false
}

// Corpus identifies one searchable collection with its own embedding and
// lexical indices.
type Corpus string

const (
	CorpusCompanyDocs Corpus = "company_docs"
	CorpusLaborLaw    Corpus = "labor_law"
	CorpusScenarios   Corpus = "scenarios"
)

// Document is an organization-owned uploaded document. It is mutated only by
// the ingestion orchestrator and reprocessing requests.
type Document struct {
	ID               string                 `json:"id"`
	OrganizationID   string                 `json:"organization_id"`
	UploadedBy       string                 `json:"uploaded_by"`
	Filename         string                 `json:"filename"`
	MimeType         string                 `json:"mime_type"`
	SizeBytes        int64                  `json:"size_bytes"`
	DeclaredLanguage string                 `json:"declared_language,omitempty"`
	DetectedLanguage string                 `json:"detected_language,omitempty"`
	Category         string                 `json:"category,omitempty"`
	Tags             []string               `json:"tags,omitempty"`
	Status           DocumentStatus         `json:"status"`
	StorageLocator   string                 `json:"storage_locator,omitempty"`
	ExtractedText    string                 `json:"-"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`

	// ProcessingRecords holds one entry per ingestion run, newest last.
	ProcessingRecords []*ProcessingRecord `json:"processing_records,omitempty"`

	Chunks     []*Chunk     `json:"chunks,omitempty"`
	Embeddings []*Embedding `json:"embeddings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentRecord returns the processing record of the active or most recent run.
func (d *Document) CurrentRecord() *ProcessingRecord {
	if len(d.ProcessingRecords) == 0 {
		return nil
	}
	return d.ProcessingRecords[len(d.ProcessingRecords)-1]
}

// ProcessingRecord captures one pass of a document through the pipeline.
type ProcessingRecord struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
	FinalStatus DocumentStatus `json:"final_status,omitempty"`
	Reprocess   bool           `json:"reprocess"`
	Stages      []StageRecord  `json:"stages"`

	// EmbeddingError is set when the run completed with warnings because the
	// caller opted into continue-on-embedding-failure.
	EmbeddingError string `json:"embedding_error,omitempty"`
}

// StageRecord captures duration and outcome of a single pipeline stage.
type StageRecord struct {
	Stage      string        `json:"stage"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	DurationMs int64         `json:"duration_ms"`
	Outcome    string        `json:"outcome"` // ok, fatal, recoverable
	Error      string        `json:"error,omitempty"`
}

// Chunk is a bounded, addressable slice of a document's extracted text. Spans
// are half-open [Start,End) into the extracted text; adjacent chunks overlap
// only by the declared overlap window, and indices are contiguous per document.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Content    string `json:"content"`
	Language   string `json:"language"`

	// Structural metadata.
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`

	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbeddingContentType tags which content variant a vector was generated from.
type EmbeddingContentType string

const (
	ContentTypeContent   EmbeddingContentType = "content"
	ContentTypeTitleAr   EmbeddingContentType = "title_ar"
	ContentTypeTitleEn   EmbeddingContentType = "title_en"
	ContentTypeContentAr EmbeddingContentType = "content_ar"
	ContentTypeContentEn EmbeddingContentType = "content_en"
	ContentTypeCombined  EmbeddingContentType = "combined"
)

// Embedding is a fixed-dimension vector for exactly one chunk (or one article
// in the legal corpus), tagged by content variant.
type Embedding struct {
	ID          string               `json:"id"`
	ChunkID     string               `json:"chunk_id,omitempty"`
	ArticleID   string               `json:"article_id,omitempty"`
	ContentType EmbeddingContentType `json:"content_type"`
	Vector      []float32            `json:"vector"`
	Dimension   int                  `json:"dimension"`
	ModelName   string               `json:"model_name,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// Article is immutable bilingual legal reference data. It mirrors the
// Document/Chunk/Embedding shape structurally but is not user-owned; changes
// are tracked through an update-history log rather than in-place mutation.
type Article struct {
	ID          string   `json:"id"`
	TitleAr     string   `json:"title_ar"`
	TitleEn     string   `json:"title_en"`
	ContentAr   string   `json:"content_ar"`
	ContentEn   string   `json:"content_en"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory,omitempty"`
	SourceLaw   string   `json:"source_law"`
	ArticleNo   string   `json:"article_no,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	Embeddings []*Embedding `json:"embeddings,omitempty"`

	UpdateHistory []ArticleRevision `json:"update_history,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ArticleRevision is one entry in an article's update-history log.
type ArticleRevision struct {
	Version   int       `json:"version"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

// RetrievalHit is an ephemeral per-query search result. It is never persisted.
type RetrievalHit struct {
	Corpus         Corpus `json:"corpus"`
	OrganizationID string `json:"organization_id,omitempty"`

	DocumentID   string    `json:"document_id,omitempty"`
	ArticleID    string    `json:"article_id,omitempty"`
	ChunkID      string    `json:"chunk_id,omitempty"`
	Content      string    `json:"content"`
	Title        string    `json:"title,omitempty"`
	Language     string    `json:"language,omitempty"`
	LexicalScore float64   `json:"lexical_score"`
	VectorScore  float64   `json:"vector_score"`
	FusedScore   float64   `json:"fused_score"`
	HasVector    bool      `json:"has_vector"`
	HasLexical   bool      `json:"has_lexical"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Identity returns the document/article identity used for merge deduplication.
func (h *RetrievalHit) Identity() string {
	if h.ArticleID != "" {
		return string(h.Corpus) + "/" + h.ArticleID
	}
	return string(h.Corpus) + "/" + h.DocumentID
}

// RankedSource is one merged, deduplicated entry in the final ranked list.
type RankedSource struct {
	Corpus         Corpus    `json:"corpus"`
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	Excerpt        string    `json:"excerpt"`
	Language       string    `json:"language,omitempty"`
	FusedScore     float64   `json:"fused_score"`
	MaxSimilarity  float64   `json:"max_similarity"`
	MatchingChunks int       `json:"matching_chunks"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// CacheEntry is an immutable cached retrieval+answer payload keyed by a query
// fingerprint. Entries expire by TTL and are never partially updated.
type CacheEntry struct {
	Fingerprint string         `json:"fingerprint"`
	Response    *QueryResponse `json:"response"`
	StoredAt    time.Time      `json:"stored_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// IngestionInput is the contract with the document-upload collaborator.
type IngestionInput struct {
	Bytes          []byte                 `json:"-"`
	Filename       string                 `json:"filename"`
	MimeType       string                 `json:"mime_type"`
	OrganizationID string                 `json:"organization_id"`
	UploadedBy     string                 `json:"uploaded_by"`
	Category       string                 `json:"category,omitempty"`
	Language       string                 `json:"language,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// QueryRequest is the contract with the chat/search collaborator.
type QueryRequest struct {
	Query          string           `json:"query"`
	OrganizationID string           `json:"organization_id"`
	UserID         string           `json:"user_id"`
	Language       string           `json:"language,omitempty"`
	Preferences    QueryPreferences `json:"preferences"`
	Context        QueryContext     `json:"context"`
}

// QueryPreferences enumerates every recognized retrieval option with explicit
// defaults and clamp behavior.
type QueryPreferences struct {
	ResponseStyle      string `json:"response_style,omitempty"`
	IncludeCompanyDocs bool   `json:"include_company_docs"`
	IncludeLaborLaw    bool   `json:"include_labor_law"`
	MaxSources         int    `json:"max_sources"`

	// ConfidenceThreshold overrides the retriever's configured similarity
	// threshold when set. Zero means unset.
	ConfidenceThreshold float64 `json:"confidence_threshold"`

	CacheResults bool `json:"cache_results"`

	// OptimizeForSpeed trades recall for latency by skipping the lexical
	// search leg.
	OptimizeForSpeed bool `json:"optimize_for_speed"`
}

// MaxSourcesCeiling is the hard cap on returned sources regardless of request.
const MaxSourcesCeiling = 20

// normalize applies defaults and clamps out-of-range values in place.
func (p *QueryPreferences) normalize() {
	if p.MaxSources <= 0 {
		p.MaxSources = 10
	}
	if p.MaxSources > MaxSourcesCeiling {
		p.MaxSources = MaxSourcesCeiling
	}
	if p.ConfidenceThreshold != 0 {
		if p.ConfidenceThreshold < 0.1 {
			p.ConfidenceThreshold = 0.1
		}
		if p.ConfidenceThreshold > 1.0 {
			p.ConfidenceThreshold = 1.0
		}
	}
	if p.ResponseStyle == "" {
		p.ResponseStyle = "balanced"
	}
}

// QueryContext carries caller identity and conversational context.
type QueryContext struct {
	UserRole        string   `json:"user_role,omitempty"`
	Department      string   `json:"department,omitempty"`
	AccessLevel     string   `json:"access_level,omitempty"`
	PreviousQueries []string `json:"previous_queries,omitempty"`
}

// QueryResponse is the full answer payload returned to the caller.
type QueryResponse struct {
	Answer         string          `json:"answer"`
	Confidence     float64         `json:"confidence"`
	Sources        []*RankedSource `json:"sources"`
	ProcessingTime time.Duration   `json:"processing_time"`
	TokensUsed     int             `json:"tokens_used"`
	Cost           float64         `json:"cost"`
	QualityScore   float64         `json:"quality_score"`
	Cached         bool            `json:"cached"`
	Model          string          `json:"model,omitempty"`

	// DegradedCorpora lists corpora excluded because their search failed.
	DegradedCorpora []Corpus `json:"degraded_corpora,omitempty"`
}
