// Package main implements the rag-pipeline CLI. It ingests HR document
// directories, seeds the legal article corpora, and answers ad-hoc queries
// against the assembled pipeline.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Talalkassab/hrrag/pkg/rag"
)

func main() {
	var (
		weaviateHost = flag.String("weaviate", getEnvOrDefault("WEAVIATE_HOST", ""), "Weaviate host:port; empty uses the in-memory store")
		redisAddr    = flag.String("redis", getEnvOrDefault("REDIS_ADDR", ""), "Redis address for response caching; empty uses in-memory")
		orgID        = flag.String("org", "default-org", "Organization ID for ingested documents and queries")
		user         = flag.String("user", "cli", "User ID recorded on uploads and queries")
		language     = flag.String("lang", "", "Force query language (ar, en); empty auto-detects")
		maxSources   = flag.Int("max-sources", 10, "Maximum sources in query responses")
		dimension    = flag.Int("dimension", 256, "Embedding dimension for the built-in local provider")
		timeout      = flag.Duration("timeout", 2*time.Minute, "Overall command timeout")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pipeline, err := buildPipeline(ctx, *weaviateHost, *redisAddr, *dimension)
	if err != nil {
		logger.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}

	switch args[0] {
	case "ingest":
		err = runIngest(ctx, pipeline, args[1], *orgID, *user)
	case "query":
		err = runQuery(ctx, pipeline, strings.Join(args[1:], " "), *orgID, *user, *language, *maxSources)
	case "load-articles":
		err = runLoadArticles(ctx, pipeline, args[1])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		logger.Error("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Usage: rag-pipeline [flags] <command> <arg...>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  ingest <dir>            Ingest every PDF/DOCX/TXT under dir")
	fmt.Println("  query <text...>         Answer one query against the corpora")
	fmt.Println("  load-articles <file>    Seed the labor-law corpus from a JSON article file")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func buildPipeline(ctx context.Context, weaviateHost, redisAddr string, dimension int) (*rag.Pipeline, error) {
	normalizer := rag.NewLanguageNormalizer(nil)
	memory := rag.NewMemoryStore(normalizer)

	deps := rag.PipelineDeps{
		Provider:   newLocalProvider(dimension),
		Vectors:    memory,
		Lexical:    memory,
		Documents:  memory,
		Articles:   memory,
		Collectors: rag.NewPipelineCollectors(prometheus.NewRegistry()),
	}

	if weaviateHost != "" {
		store, err := rag.NewWeaviateStore(ctx, &rag.WeaviateConfig{
			Host:       weaviateHost,
			Scheme:     "http",
			AutoSchema: true,
		})
		if err != nil {
			return nil, err
		}
		deps.Vectors = store
		deps.Lexical = store
	}

	if redisAddr != "" {
		cache, err := rag.NewRedisCache(ctx, &rag.RedisCacheConfig{Address: redisAddr})
		if err != nil {
			return nil, err
		}
		deps.ResponseCache = cache
		deps.EmbeddingL2 = cache
	} else {
		deps.ResponseCache = rag.NewMemoryResponseCache(1024)
	}

	return rag.NewPipeline(nil, deps)
}

func runIngest(ctx context.Context, pipeline *rag.Pipeline, dir, orgID, user string) error {
	loader := rag.NewDocumentLoader(nil)
	inputs, err := loader.LoadDirectory(ctx, dir, orgID, user)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no ingestible files under %s", dir)
	}

	docs := pipeline.Ingestion.IngestBatch(ctx, inputs, rag.IngestionOptions{
		ContinueOnEmbeddingFailure: true,
	})
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		fmt.Printf("%-40s %s (%d chunks)\n", doc.Filename, doc.Status, len(doc.Chunks))
	}
	return nil
}

func runQuery(ctx context.Context, pipeline *rag.Pipeline, query, orgID, user, language string, maxSources int) error {
	response, err := pipeline.ProcessQuery(ctx, &rag.QueryRequest{
		Query:          query,
		OrganizationID: orgID,
		UserID:         user,
		Language:       language,
		Preferences: rag.QueryPreferences{
			IncludeCompanyDocs: true,
			IncludeLaborLaw:    true,
			MaxSources:         maxSources,
			CacheResults:       true,
		},
	})
	if err != nil {
		return err
	}

	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func runLoadArticles(ctx context.Context, pipeline *rag.Pipeline, path string) error {
	if pipeline.Articles == nil {
		return fmt.Errorf("article store not configured")
	}
	count, err := pipeline.Articles.LoadFromFile(ctx, path, rag.CorpusLaborLaw)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d articles into %s\n", count, rag.CorpusLaborLaw)
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// localProvider is a deterministic offline embedding provider: token hashes
// projected onto a unit hypersphere. It keeps the CLI usable without an
// external embedding API; similarity quality is limited to lexical overlap.
type localProvider struct {
	dimension int
}

func newLocalProvider(dimension int) *localProvider {
	if dimension <= 0 {
		dimension = 256
	}
	return &localProvider{dimension: dimension}
}

func (lp *localProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = lp.embedOne(text)
	}
	return vectors, nil
}

func (lp *localProvider) embedOne(text string) []float32 {
	vector := make([]float32, lp.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(lp.dimension)
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vector[idx] += sign
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vector[0] = 1
		return vector
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}
	return vector
}

func (lp *localProvider) Dimension() int { return lp.dimension }

func (lp *localProvider) ModelName() string { return "local-hash-v1" }
