package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"ragweb/config"
	"ragweb/internal/adapter/analyzer"
	"ragweb/internal/adapter/embedding"
	"ragweb/internal/adapter/store"
	"ragweb/internal/domain"
	"ragweb/internal/usecase"
)

func main() {
	dir := flag.String("dir", ".", "directory holding ragweb.yaml")
	query := flag.String("q", "", "query to test")
	topK := flag.Int("k", 10, "number of results")
	runs := flag.Int("n", 20, "number of timed runs")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -q \"query\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Index and metadata store sizes")
		fmt.Println("  2. Similarity of the top matches to the query")
		fmt.Println("  3. Retrieval latency over repeated runs")
		os.Exit(1)
	}

	if err := run(*dir, *query, *topK, *runs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, query string, topK, runs int) error {
	ctx := context.Background()

	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.ResolvePaths(dir)
	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("the memory database holds nothing between runs; use sqlite or postgres")
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer st.Close()

	index := store.NewBoltVectorIndex(cfg.Index.Path, cfg.Embedding.Dimension, cfg.Index.SearchTimeout)
	embedder, err := embedding.New(cfg.Embedding, analyzer.NewTokenizer())
	if err != nil {
		return fmt.Errorf("embedder init failed: %w", err)
	}

	idx, err := index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading index: %w", err)
	}
	meta, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading metadata: %w", err)
	}
	if idx.Total == 0 {
		return fmt.Errorf("index is empty - ingest some URLs first")
	}

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Vectors indexed: %d (%d with chunks)\n", idx.Total, meta.Chunks)
	fmt.Printf("Model: %s (%s)\n", embedder.ModelName(), cfg.Embedding.Provider)
	fmt.Printf("Dimension: %d\n\n", idx.Dimension)

	fmt.Printf("Query: \"%s\"\n", query)
	fmt.Println(strings.Repeat("-", 70))

	retriever := usecase.NewRetrieveUseCase(embedder, index, st, 0)

	latencies := make([]time.Duration, 0, runs)
	hits, results, err := timedRetrieve(ctx, retriever, query, topK, &latencies)
	if err != nil {
		return err
	}
	for i := 1; i < runs; i++ {
		if _, _, err := timedRetrieve(ctx, retriever, query, topK, &latencies); err != nil {
			return err
		}
	}

	if len(results) == 0 {
		fmt.Printf("No matches resolved (%d raw hits)\n", hits)
		return nil
	}
	fmt.Printf("Top %d matches (%d raw hits):\n\n", len(results), hits)

	totalScore := 0.0
	for i, r := range results {
		preview := strings.ReplaceAll(r.Chunk.Text, "\n", " ")
		if len(preview) > 150 {
			preview = preview[:150] + "..."
		}
		totalScore += r.Score

		fmt.Printf("%d. [%s %.3f] %s#%d\n", i+1, rating(r.Score), r.Score, r.Chunk.URL, r.Chunk.ChunkIndex)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)
	switch {
	case avgScore > 0.5:
		fmt.Println("  Status: GOOD - retrieval working well")
	case avgScore > 0.3:
		fmt.Println("  Status: OK - results are somewhat related")
	default:
		fmt.Println("  Status: POOR - may need a better embedding model")
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	fmt.Printf("\nLATENCY (%d runs):\n", len(latencies))
	fmt.Printf("  p50: %s\n", percentile(latencies, 0.50))
	fmt.Printf("  p95: %s\n", percentile(latencies, 0.95))
	fmt.Printf("  max: %s\n", latencies[len(latencies)-1])
	return nil
}

func timedRetrieve(ctx context.Context, r *usecase.RetrieveUseCase, query string, k int, latencies *[]time.Duration) (int, []domain.ScoredChunk, error) {
	started := time.Now()
	hits, results, err := r.Retrieve(ctx, query, k)
	if err != nil {
		return 0, nil, fmt.Errorf("retrieval failed: %w", err)
	}
	*latencies = append(*latencies, time.Since(started))
	return hits, results, nil
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	}
	return "LOW"
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	i := int(float64(len(sorted)-1) * p)
	return sorted[i].Round(time.Microsecond)
}
