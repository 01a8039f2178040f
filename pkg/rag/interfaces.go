package rag

import (
	"context"
)

// EmbeddingProvider is the external embedding capability. Implementations are
// expected to be safe for concurrent use.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the fixed dimension of produced vectors.
	Dimension() int
	// ModelName identifies the underlying model for cost/metadata reporting.
	ModelName() string
}

// VectorFilters scope a vector search to an organization and optional
// document/category restrictions.
type VectorFilters struct {
	OrganizationID string   `json:"organization_id,omitempty"`
	DocumentIDs    []string `json:"document_ids,omitempty"`
	Category       string   `json:"category,omitempty"`
	Language       string   `json:"language,omitempty"`
}

// VectorStore is the swappable similarity index.
//
// Contract: Search returns hits whose cosine similarity against the query
// embedding is >= threshold (threshold in [0,1]), scoped to the given corpus,
// at most limit hits, ordered by similarity descending. Embedding dimension
// must match the dimension the corpus was indexed with.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, corpus Corpus, filters VectorFilters, threshold float64, limit int) ([]*RetrievalHit, error)
	Index(ctx context.Context, corpus Corpus, hit *RetrievalHit, embedding []float32) error
	DeleteDocument(ctx context.Context, corpus Corpus, documentID string) error
}

// LexicalConfig selects the language-appropriate tokenization for full-text
// search.
type LexicalConfig struct {
	Language  string   `json:"language"`
	Stopwords bool     `json:"stopwords"`
	Fields    []string `json:"fields,omitempty"`

	// OrganizationID scopes the search to one tenant when set. Shared
	// reference corpora are searched unscoped.
	OrganizationID string `json:"organization_id,omitempty"`
}

// LexicalStore is the full-text search capability used for exact-term recall
// that vector search may miss.
type LexicalStore interface {
	SearchLexical(ctx context.Context, text string, corpus Corpus, config LexicalConfig, limit int) ([]*RetrievalHit, error)
}

// QuotaGate is the usage-quota collaborator consulted before any retrieval
// work starts. Exhausted organizations get a *QuotaError carrying current
// usage, the limit, and the reset date.
type QuotaGate interface {
	CheckQuota(ctx context.Context, organizationID string) error
}

// Generator is the external answer-generation capability.
type Generator interface {
	Complete(ctx context.Context, groundingContext, query string) (GenerationResult, error)
}

// GenerationResult carries the generated answer plus usage accounting.
type GenerationResult struct {
	Text       string  `json:"text"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
	Model      string  `json:"model"`
}

// DocumentStore persists Document records with their chunks and embeddings.
// Writes are upsert-style keyed by document ID; the store's own atomicity is
// the only locking the pipeline relies on.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, organizationID string) ([]*Document, error)
	RemoveDocument(ctx context.Context, id string) error
}

// ArticleStore holds the immutable bilingual legal-article corpus.
type ArticleStore interface {
	UpsertArticle(ctx context.Context, article *Article) error
	GetArticle(ctx context.Context, id string) (*Article, error)
	ListArticles(ctx context.Context, category string) ([]*Article, error)
}

// ResponseCache short-circuits repeat retrieval work. Implementations must
// treat writes as idempotent upserts; last write wins on races between
// identical concurrent queries.
type ResponseCache interface {
	Get(ctx context.Context, fingerprint string) (*CacheEntry, bool, error)
	Set(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, fingerprint string) error
}
