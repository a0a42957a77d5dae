package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingestion jobs",
	Long: `Consume ingestion jobs from the queue until interrupted. Several worker
processes may share the same queue, metadata store and vector index.

Examples:
  ragweb worker
  ragweb worker -c 4`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 1, "number of concurrent jobs")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if cfg.Queue.Driver == "memory" || cfg.Database.Driver == "memory" {
		return fmt.Errorf("a standalone worker needs the bolt queue and a sqlite or postgres database; use 'ragweb serve --with-worker' instead")
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	consumer, err := a.consumer()
	if err != nil {
		return err
	}

	logger.Info("worker started", "concurrency", workerConcurrency, "queue", cfg.Queue.Path)
	err = consumer.RunN(ctx, workerConcurrency)
	logger.Info("worker stopped")
	return err
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
