package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ragweb/internal/adapter/queue"
	"ragweb/internal/domain"
)

var statsDeadLetters bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store, index and queue statistics",
	Long: `Show ingestion counts by status, chunk and vector totals and queue depth.
Vectors no chunk refers to are orphans left by ingestions that failed after
indexing; queries skip them.

Examples:
  ragweb stats
  ragweb stats --dead-letters`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsDeadLetters, "dead-letters", false, "list rejected jobs")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	meta, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read metadata stats: %w", err)
	}
	idx, err := a.index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read index stats: %w", err)
	}

	fmt.Printf("Ingestions:\n")
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		fmt.Printf("  %-12s %d\n", s, meta.Ingestions[s])
	}

	fmt.Printf("\nIndex (%s):\n", a.index.Path())
	fmt.Printf("  Dimension:   %d\n", idx.Dimension)
	fmt.Printf("  Vectors:     %d\n", idx.Total)
	fmt.Printf("  Chunks:      %d\n", meta.Chunks)
	if orphans := idx.Total - int64(meta.Chunks); orphans > 0 {
		fmt.Printf("  Orphans:     %d\n", orphans)
	}

	if bq, ok := a.queue.(*queue.BoltQueue); ok {
		qs, err := bq.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read queue stats: %w", err)
		}
		fmt.Printf("\nQueue (%s):\n", cfg.Queue.Path)
		fmt.Printf("  Ready:       %d\n", qs.Ready)
		fmt.Printf("  In flight:   %d\n", qs.InFlight)
		fmt.Printf("  Dead:        %d\n", qs.Dead)
	}

	if statsDeadLetters {
		dead, err := a.queue.DeadLetters(ctx)
		if err != nil {
			return fmt.Errorf("failed to read dead letters: %w", err)
		}
		fmt.Printf("\nDead letters:\n")
		if len(dead) == 0 {
			fmt.Println("  none")
		}
		for _, d := range dead {
			fmt.Printf("  %s  %s  %s\n      %s\n", d.RejectedAt.Local().Format(time.RFC3339), d.Job.IngestionID, d.Job.URL, d.Reason)
		}
	}
	return nil
}
