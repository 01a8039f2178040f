package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// ArticleService manages the bilingual legal reference corpus: loading
// article sets, generating per-variant embeddings, and keeping the
// update-history log when an article's text is revised.
type ArticleService struct {
	store    ArticleStore
	vectors  VectorStore
	embedder *EmbeddingService
	logger   *slog.Logger
}

// NewArticleService creates the article corpus manager.
func NewArticleService(store ArticleStore, vectors VectorStore, embedder *EmbeddingService) *ArticleService {
	return &ArticleService{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		logger:   slog.Default().With("component", "article-service"),
	}
}

// LoadFromFile ingests a JSON array of articles from disk and indexes each
// one. Used to seed the labor-law and scenario corpora.
func (as *ArticleService) LoadFromFile(ctx context.Context, path string, corpus Corpus) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read article file %s: %w", path, err)
	}

	var articles []*Article
	if err := json.Unmarshal(data, &articles); err != nil {
		return 0, fmt.Errorf("failed to parse article file %s: %w", path, err)
	}

	loaded := 0
	for _, article := range articles {
		if err := as.IndexArticle(ctx, article, corpus); err != nil {
			as.logger.Warn("Skipping article that failed to index",
				"article_id", article.ID, "error", err)
			continue
		}
		loaded++
	}
	as.logger.Info("Article corpus loaded", "path", path, "corpus", corpus, "count", loaded)
	return loaded, nil
}

// IndexArticle embeds every content variant of the article and indexes each
// vector separately, so a query can match on either language's title or body.
func (as *ArticleService) IndexArticle(ctx context.Context, article *Article, corpus Corpus) error {
	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now()
	}
	if len(article.UpdateHistory) == 0 {
		article.UpdateHistory = []ArticleRevision{{
			Version:   1,
			ChangedAt: article.CreatedAt,
			Summary:   "initial import",
		}}
	}

	embeddings, err := as.embedder.EmbedArticle(ctx, article)
	if err != nil {
		return fmt.Errorf("failed to embed article %s: %w", article.ID, err)
	}
	article.Embeddings = embeddings

	for _, embedding := range embeddings {
		hit := &RetrievalHit{
			Corpus:    corpus,
			ArticleID: article.ID,
			ChunkID:   string(embedding.ContentType),
			Content:   as.variantContent(article, embedding.ContentType),
			Title:     as.variantTitle(article, embedding.ContentType),
			Language:  variantLanguage(embedding.ContentType),
			CreatedAt: article.CreatedAt,
		}
		if err := as.vectors.Index(ctx, corpus, hit, embedding.Vector); err != nil {
			return fmt.Errorf("failed to index article %s variant %s: %w",
				article.ID, embedding.ContentType, err)
		}
	}

	if err := as.store.UpsertArticle(ctx, article); err != nil {
		return fmt.Errorf("failed to persist article %s: %w", article.ID, err)
	}
	return nil
}

// UpdateArticle replaces an article's content, appends a revision to the
// update-history log, and reindexes all variants. Article text is otherwise
// immutable; this is the only mutation path.
func (as *ArticleService) UpdateArticle(ctx context.Context, updated *Article, changedBy, summary string, corpus Corpus) error {
	existing, err := as.store.GetArticle(ctx, updated.ID)
	if err != nil {
		return err
	}

	updated.CreatedAt = existing.CreatedAt
	updated.UpdateHistory = append(existing.UpdateHistory, ArticleRevision{
		Version:   len(existing.UpdateHistory) + 1,
		ChangedAt: time.Now(),
		ChangedBy: changedBy,
		Summary:   summary,
	})

	if err := as.vectors.DeleteDocument(ctx, corpus, updated.ID); err != nil {
		as.logger.Warn("Failed to purge stale article vectors", "article_id", updated.ID, "error", err)
	}
	return as.IndexArticle(ctx, updated, corpus)
}

func (as *ArticleService) variantContent(article *Article, contentType EmbeddingContentType) string {
	switch contentType {
	case ContentTypeTitleAr:
		return article.TitleAr
	case ContentTypeTitleEn:
		return article.TitleEn
	case ContentTypeContentAr:
		return article.ContentAr
	case ContentTypeContentEn:
		return article.ContentEn
	default:
		if article.ContentAr != "" {
			return article.ContentAr
		}
		return article.ContentEn
	}
}

func (as *ArticleService) variantTitle(article *Article, contentType EmbeddingContentType) string {
	switch contentType {
	case ContentTypeTitleEn, ContentTypeContentEn:
		if article.TitleEn != "" {
			return article.TitleEn
		}
		return article.TitleAr
	default:
		if article.TitleAr != "" {
			return article.TitleAr
		}
		return article.TitleEn
	}
}

func variantLanguage(contentType EmbeddingContentType) string {
	switch contentType {
	case ContentTypeTitleAr, ContentTypeContentAr:
		return LanguageArabic
	case ContentTypeTitleEn, ContentTypeContentEn:
		return LanguageEnglish
	default:
		return LanguageMixed
	}
}
