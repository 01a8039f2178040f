package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateConfig holds connection settings for the vector database.
type WeaviateConfig struct {
	Host    string            `json:"host"`
	Scheme  string            `json:"scheme"`
	APIKey  string            `json:"api_key"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout"`

	// AutoSchema creates missing corpus classes on startup.
	AutoSchema bool `json:"auto_schema"`
}

func getDefaultWeaviateConfig() *WeaviateConfig {
	return &WeaviateConfig{
		Host:       "localhost:8080",
		Scheme:     "http",
		Timeout:    30 * time.Second,
		AutoSchema: true,
	}
}

// corpusClasses maps each corpus to its Weaviate class.
var corpusClasses = map[Corpus]string{
	CorpusCompanyDocs: "CompanyDocument",
	CorpusLaborLaw:    "LaborLawArticle",
	CorpusScenarios:   "HRScenario",
}

// WeaviateStore implements VectorStore and LexicalStore on one Weaviate
// deployment: nearVector for similarity, BM25 for exact-term recall.
type WeaviateStore struct {
	client *weaviate.Client
	config *WeaviateConfig
	logger *slog.Logger
}

// NewWeaviateStore connects to Weaviate and, when AutoSchema is set, ensures
// the corpus classes exist.
func NewWeaviateStore(ctx context.Context, config *WeaviateConfig) (*WeaviateStore, error) {
	if config == nil {
		config = getDefaultWeaviateConfig()
	}

	clientConfig := weaviate.Config{
		Host:    config.Host,
		Scheme:  config.Scheme,
		Headers: config.Headers,
	}
	if config.APIKey != "" {
		clientConfig.AuthConfig = auth.ApiKey{Value: config.APIKey}
	}
	client, err := weaviate.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	ws := &WeaviateStore{
		client: client,
		config: config,
		logger: slog.Default().With("component", "weaviate-store"),
	}
	if config.AutoSchema {
		if err := ws.ensureSchema(ctx); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// ensureSchema creates any missing corpus class. All classes share one
// property layout; vectors are supplied at index time (vectorizer none).
func (ws *WeaviateStore) ensureSchema(ctx context.Context) error {
	for corpus, className := range corpusClasses {
		exists, err := ws.client.Schema().ClassExistenceChecker().
			WithClassName(className).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to check class %s: %w", className, err)
		}
		if exists {
			continue
		}

		class := &models.Class{
			Class:       className,
			Description: fmt.Sprintf("Corpus %s chunks with externally supplied vectors", corpus),
			Vectorizer:  "none",
			Properties: []*models.Property{
				{Name: "content", DataType: []string{"text"}},
				{Name: "title", DataType: []string{"text"}},
				{Name: "documentId", DataType: []string{"text"}},
				{Name: "articleId", DataType: []string{"text"}},
				{Name: "chunkId", DataType: []string{"text"}},
				{Name: "organizationId", DataType: []string{"text"}},
				{Name: "language", DataType: []string{"text"}},
				{Name: "category", DataType: []string{"text"}},
				{Name: "createdAt", DataType: []string{"date"}},
			},
		}
		if err := ws.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("failed to create class %s: %w", className, err)
		}
		ws.logger.Info("Created weaviate class", "class", className, "corpus", corpus)
	}
	return nil
}

func classFor(corpus Corpus) (string, error) {
	className, ok := corpusClasses[corpus]
	if !ok {
		return "", fmt.Errorf("unknown corpus %q", corpus)
	}
	return className, nil
}

// Search implements VectorStore using nearVector with a certainty bound.
// Weaviate certainty is (1+cos)/2, so the cosine threshold is converted.
func (ws *WeaviateStore) Search(ctx context.Context, embedding []float32, corpus Corpus, vf VectorFilters, threshold float64, limit int) ([]*RetrievalHit, error) {
	className, err := classFor(corpus)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	nearVector := ws.client.GraphQL().NearVectorArgBuilder().
		WithVector(embedding).
		WithCertainty(float32((threshold + 1) / 2))

	query := ws.client.GraphQL().Get().
		WithClassName(className).
		WithNearVector(nearVector).
		WithFields(hitFields()...).
		WithLimit(limit)
	if where := buildWhere(vf); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, NewPipelineError(CodeCorpusSearch, "retrieval",
			fmt.Sprintf("vector search against %s failed", corpus), err)
	}
	if len(result.Errors) > 0 {
		return nil, NewPipelineError(CodeCorpusSearch, "retrieval",
			fmt.Sprintf("vector search against %s returned errors: %s", corpus, graphqlErrors(result)), nil)
	}

	return ws.parseHits(result, className, corpus, true), nil
}

// SearchLexical implements LexicalStore using BM25 over content and title.
func (ws *WeaviateStore) SearchLexical(ctx context.Context, text string, corpus Corpus, config LexicalConfig, limit int) ([]*RetrievalHit, error) {
	className, err := classFor(corpus)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	bm25 := ws.client.GraphQL().Bm25ArgBuilder().
		WithQuery(text).
		WithProperties("content", "title")

	query := ws.client.GraphQL().Get().
		WithClassName(className).
		WithBM25(bm25).
		WithFields(hitFields()...).
		WithLimit(limit)
	if config.OrganizationID != "" {
		query = query.WithWhere(filters.Where().
			WithPath([]string{"organizationId"}).
			WithOperator(filters.Equal).
			WithValueText(config.OrganizationID))
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, NewPipelineError(CodeCorpusSearch, "retrieval",
			fmt.Sprintf("lexical search against %s failed", corpus), err)
	}
	if len(result.Errors) > 0 {
		return nil, NewPipelineError(CodeCorpusSearch, "retrieval",
			fmt.Sprintf("lexical search against %s returned errors: %s", corpus, graphqlErrors(result)), nil)
	}

	return ws.parseHits(result, className, corpus, false), nil
}

// Index implements VectorStore.
func (ws *WeaviateStore) Index(ctx context.Context, corpus Corpus, hit *RetrievalHit, embedding []float32) error {
	className, err := classFor(corpus)
	if err != nil {
		return err
	}

	properties := map[string]interface{}{
		"content":        hit.Content,
		"title":          hit.Title,
		"documentId":     hit.DocumentID,
		"articleId":      hit.ArticleID,
		"chunkId":        hit.ChunkID,
		"organizationId": hit.OrganizationID,
		"language":       hit.Language,
		"createdAt":      hit.CreatedAt.Format(time.RFC3339),
	}

	_, err = ws.client.Data().Creator().
		WithClassName(className).
		WithProperties(properties).
		WithVector(embedding).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to index object into %s: %w", className, err)
	}
	return nil
}

// DeleteDocument implements VectorStore, removing every chunk object of the
// document from the corpus class.
func (ws *WeaviateStore) DeleteDocument(ctx context.Context, corpus Corpus, documentID string) error {
	className, err := classFor(corpus)
	if err != nil {
		return err
	}

	// Articles index under articleId; documents under documentId.
	where := filters.Where().WithOperator(filters.Or).WithOperands([]*filters.WhereBuilder{
		filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueText(documentID),
		filters.Where().
			WithPath([]string{"articleId"}).
			WithOperator(filters.Equal).
			WithValueText(documentID),
	})

	_, err = ws.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete document %s from %s: %w", documentID, className, err)
	}
	return nil
}

func hitFields() []graphql.Field {
	return []graphql.Field{
		{Name: "content"},
		{Name: "title"},
		{Name: "documentId"},
		{Name: "articleId"},
		{Name: "chunkId"},
		{Name: "organizationId"},
		{Name: "language"},
		{Name: "createdAt"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "score"},
		}},
	}
}

func buildWhere(vf VectorFilters) *filters.WhereBuilder {
	var clauses []*filters.WhereBuilder
	if vf.OrganizationID != "" {
		clauses = append(clauses, filters.Where().
			WithPath([]string{"organizationId"}).
			WithOperator(filters.Equal).
			WithValueText(vf.OrganizationID))
	}
	if vf.Category != "" {
		clauses = append(clauses, filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueText(vf.Category))
	}
	if vf.Language != "" {
		clauses = append(clauses, filters.Where().
			WithPath([]string{"language"}).
			WithOperator(filters.Equal).
			WithValueText(vf.Language))
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(clauses)
	}
}

// parseHits flattens the GraphQL response into RetrievalHits. Certainty is
// mapped back to cosine similarity; BM25 scores pass through raw and are
// normalized by the caller's fusion step only relative to each other.
func (ws *WeaviateStore) parseHits(result *models.GraphQLResponse, className string, corpus Corpus, vector bool) []*RetrievalHit {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	hits := make([]*RetrievalHit, 0, len(objects))
	for _, raw := range objects {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		hit := &RetrievalHit{
			Corpus:         corpus,
			Content:        stringProp(obj, "content"),
			Title:          stringProp(obj, "title"),
			DocumentID:     stringProp(obj, "documentId"),
			ArticleID:      stringProp(obj, "articleId"),
			ChunkID:        stringProp(obj, "chunkId"),
			OrganizationID: stringProp(obj, "organizationId"),
			Language:       stringProp(obj, "language"),
		}
		if ts := stringProp(obj, "createdAt"); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				hit.CreatedAt = parsed
			}
		}

		if additional, ok := obj["_additional"].(map[string]interface{}); ok {
			if vector {
				if certainty, ok := additional["certainty"].(float64); ok {
					hit.VectorScore = 2*certainty - 1
					hit.HasVector = true
				}
			} else if score, ok := additional["score"].(string); ok {
				// BM25 scores arrive as strings in the GraphQL payload.
				var parsed float64
				if _, err := fmt.Sscanf(strings.TrimSpace(score), "%f", &parsed); err == nil {
					hit.LexicalScore = parsed
					hit.HasLexical = true
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

func stringProp(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func graphqlErrors(result *models.GraphQLResponse) string {
	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
