package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// indexedObject is one vector-indexed chunk inside the in-memory store.
type indexedObject struct {
	hit    RetrievalHit
	vector []float32
}

// MemoryStore is an in-process implementation of VectorStore, LexicalStore,
// DocumentStore, and ArticleStore for single-node deployments, development,
// and tests. Vector search is brute-force cosine over the corpus; lexical
// search scores normalized token overlap.
type MemoryStore struct {
	mutex      sync.RWMutex
	objects    map[Corpus][]*indexedObject
	documents  map[string]*Document
	articles   map[string]*Article
	normalizer *LanguageNormalizer
}

// NewMemoryStore creates an empty store. The normalizer drives lexical
// tokenization; it must not be nil.
func NewMemoryStore(normalizer *LanguageNormalizer) *MemoryStore {
	return &MemoryStore{
		objects:    make(map[Corpus][]*indexedObject),
		documents:  make(map[string]*Document),
		articles:   make(map[string]*Article),
		normalizer: normalizer,
	}
}

// Search implements VectorStore.
func (ms *MemoryStore) Search(_ context.Context, embedding []float32, corpus Corpus, vf VectorFilters, threshold float64, limit int) ([]*RetrievalHit, error) {
	if limit <= 0 {
		limit = 10
	}

	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var hits []*RetrievalHit
	for _, obj := range ms.objects[corpus] {
		if !matchesFilters(&obj.hit, vf) {
			continue
		}
		similarity, err := cosineSimilarity(embedding, obj.vector)
		if err != nil {
			return nil, err
		}
		if similarity < threshold {
			continue
		}
		hit := obj.hit
		hit.VectorScore = similarity
		hit.HasVector = true
		hits = append(hits, &hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].VectorScore > hits[j].VectorScore
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchLexical implements LexicalStore. The score is the share of distinct
// query stems present in the chunk, so it is already in [0,1].
func (ms *MemoryStore) SearchLexical(_ context.Context, text string, corpus Corpus, config LexicalConfig, limit int) ([]*RetrievalHit, error) {
	if limit <= 0 {
		limit = 10
	}

	queryStems := ms.stemSet(text, config.Stopwords)
	if len(queryStems) == 0 {
		return nil, nil
	}

	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var hits []*RetrievalHit
	for _, obj := range ms.objects[corpus] {
		if config.OrganizationID != "" && obj.hit.OrganizationID != config.OrganizationID {
			continue
		}
		contentStems := ms.stemSet(obj.hit.Content+" "+obj.hit.Title, config.Stopwords)
		overlap := 0
		for stem := range queryStems {
			if contentStems[stem] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		hit := obj.hit
		hit.LexicalScore = float64(overlap) / float64(len(queryStems))
		hit.HasLexical = true
		hits = append(hits, &hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].LexicalScore > hits[j].LexicalScore
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Index implements VectorStore.
func (ms *MemoryStore) Index(_ context.Context, corpus Corpus, hit *RetrievalHit, embedding []float32) error {
	if hit == nil {
		return fmt.Errorf("cannot index nil hit")
	}
	vector := make([]float32, len(embedding))
	copy(vector, embedding)

	ms.mutex.Lock()
	defer ms.mutex.Unlock()
	ms.objects[corpus] = append(ms.objects[corpus], &indexedObject{
		hit:    *hit,
		vector: vector,
	})
	return nil
}

// DeleteDocument implements the VectorStore document purge.
func (ms *MemoryStore) DeleteDocument(_ context.Context, corpus Corpus, documentID string) error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	kept := ms.objects[corpus][:0]
	for _, obj := range ms.objects[corpus] {
		if obj.hit.DocumentID != documentID && obj.hit.ArticleID != documentID {
			kept = append(kept, obj)
		}
	}
	ms.objects[corpus] = kept
	return nil
}

// UpsertDocument implements DocumentStore.
func (ms *MemoryStore) UpsertDocument(_ context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document must have an ID")
	}
	ms.mutex.Lock()
	ms.documents[doc.ID] = doc
	ms.mutex.Unlock()
	return nil
}

// GetDocument implements DocumentStore.
func (ms *MemoryStore) GetDocument(_ context.Context, id string) (*Document, error) {
	ms.mutex.RLock()
	doc, ok := ms.documents[id]
	ms.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("document %s not found", id)
	}
	return doc, nil
}

// ListDocuments implements DocumentStore.
func (ms *MemoryStore) ListDocuments(_ context.Context, organizationID string) ([]*Document, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var docs []*Document
	for _, doc := range ms.documents {
		if organizationID == "" || doc.OrganizationID == organizationID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	return docs, nil
}

// RemoveDocument implements the DocumentStore deletion.
func (ms *MemoryStore) RemoveDocument(_ context.Context, id string) error {
	ms.mutex.Lock()
	delete(ms.documents, id)
	ms.mutex.Unlock()
	return nil
}

// UpsertArticle implements ArticleStore.
func (ms *MemoryStore) UpsertArticle(_ context.Context, article *Article) error {
	if article == nil || article.ID == "" {
		return fmt.Errorf("article must have an ID")
	}
	ms.mutex.Lock()
	ms.articles[article.ID] = article
	ms.mutex.Unlock()
	return nil
}

// GetArticle implements ArticleStore.
func (ms *MemoryStore) GetArticle(_ context.Context, id string) (*Article, error) {
	ms.mutex.RLock()
	article, ok := ms.articles[id]
	ms.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("article %s not found", id)
	}
	return article, nil
}

// ListArticles implements ArticleStore.
func (ms *MemoryStore) ListArticles(_ context.Context, category string) ([]*Article, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	var articles []*Article
	for _, article := range ms.articles {
		if category == "" || article.Category == category {
			articles = append(articles, article)
		}
	}
	sort.Slice(articles, func(i, j int) bool {
		return articles[i].ID < articles[j].ID
	})
	return articles, nil
}

// CorpusSize reports the number of indexed objects in a corpus.
func (ms *MemoryStore) CorpusSize(corpus Corpus) int {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()
	return len(ms.objects[corpus])
}

func (ms *MemoryStore) stemSet(text string, removeStopwords bool) map[string]bool {
	set := map[string]bool{}
	normalized := ms.normalizer.Normalize(text)
	for _, token := range ms.normalizer.Tokenize(normalized, removeStopwords) {
		set[ms.normalizer.Stem(token)] = true
	}
	return set
}

func matchesFilters(hit *RetrievalHit, vf VectorFilters) bool {
	if vf.OrganizationID != "" && hit.OrganizationID != vf.OrganizationID {
		return false
	}
	if vf.Language != "" && hit.Language != vf.Language {
		return false
	}
	if len(vf.DocumentIDs) > 0 {
		found := false
		for _, id := range vf.DocumentIDs {
			if hit.DocumentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("embedding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
