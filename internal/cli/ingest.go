package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ragweb/internal/adapter/queue"
	"ragweb/internal/domain"
	"ragweb/internal/usecase"
)

var (
	ingestFile   string
	ingestInline bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [url...]",
	Short: "Submit URLs for ingestion",
	Long: `Submit one or more URLs for ingestion. By default each URL is recorded
as pending and queued for a worker. With --inline the pages are fetched,
chunked and indexed in this process before the command returns.

Examples:
  ragweb ingest https://example.com/a https://example.com/b
  ragweb ingest --file urls.txt
  ragweb ingest --inline https://example.com`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "read URLs from a file, one per line")
	ingestCmd.Flags().BoolVar(&ingestInline, "inline", false, "process the URLs in this process instead of queueing them")
}

func runIngest(cmd *cobra.Command, args []string) error {
	urls := append([]string(nil), args...)
	if ingestFile != "" {
		fromFile, err := readURLFile(ingestFile)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given")
	}

	cfg := GetConfig()
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if !ingestInline {
		if a.inProcessOnly() {
			return fmt.Errorf("jobs queued with the memory queue or database are lost on exit; use --inline")
		}
		return submitURLs(cmd, a.ingestUseCase(), urls)
	}
	return ingestInlineURLs(cmd, a, urls)
}

func submitURLs(cmd *cobra.Command, ingest *usecase.IngestUseCase, urls []string) error {
	var failed int
	for _, u := range urls {
		ing, err := ingest.Submit(cmd.Context(), u)
		if err != nil {
			failed++
			fmt.Printf("  %-40s  error: %v\n", u, err)
			continue
		}
		fmt.Printf("  %-40s  %s  %s\n", ing.URL, ing.ID, ing.Status)
	}

	fmt.Printf("\nQueued %d of %d URLs\n", len(urls)-failed, len(urls))
	if failed > 0 {
		return fmt.Errorf("%d URLs were not queued", failed)
	}
	return nil
}

// ingestInlineURLs runs each URL through a private in-memory queue and a
// consumer, so failures are dead-lettered and recorded exactly as a worker
// would record them.
func ingestInlineURLs(cmd *cobra.Command, a *app, urls []string) error {
	ctx := cmd.Context()
	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}

	local := queue.NewMemoryQueue()
	defer local.Close()
	ingest := usecase.NewIngestUseCase(a.store, local, a.logger)
	consumer := usecase.NewConsumer(local, pipeline, a.store, a.logger, a.metrics)

	const description = "Ingesting"
	bar := newProgressBar(len(urls), description)
	started := time.Now()

	var results []*domain.Ingestion
	var rejected []string
	for i, u := range urls {
		ing, err := ingest.Submit(ctx, u)
		if err != nil {
			rejected = append(rejected, fmt.Sprintf("%s: %v", u, err))
		} else {
			if err := consumer.HandleNext(ctx); err != nil {
				return fmt.Errorf("ingestion interrupted: %w", err)
			}
			if got, err := a.store.GetIngestion(ctx, ing.ID); err == nil {
				ing = got
			}
			results = append(results, ing)
		}
		_ = bar.Set(i + 1)
		describeETA(bar, description, started, i+1, len(urls))
	}

	var failed int
	fmt.Printf("\nIngestion results:\n")
	for _, ing := range results {
		chunks, _ := a.store.CountChunks(ctx, ing.ID)
		line := fmt.Sprintf("  %s  %-10s %4d chunks  %s", ing.ID, ing.Status, chunks, ing.URL)
		if ing.Status == domain.StatusFailed {
			failed++
			line += "\n      " + ing.ErrorMessage
		}
		fmt.Println(line)
	}
	if len(rejected) > 0 {
		fmt.Printf("\nRejected:\n")
		for _, r := range rejected {
			fmt.Printf("  - %s\n", r)
		}
	}

	fmt.Printf("\nCompleted %d of %d URLs in %s\n", len(results)-failed, len(urls), formatDuration(time.Since(started)))
	if failed+len(rejected) > 0 {
		return fmt.Errorf("%d URLs failed", failed+len(rejected))
	}
	return nil
}

// readURLFile returns the non-blank, non-comment lines of path.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read url file: %w", err)
	}
	return urls, nil
}
