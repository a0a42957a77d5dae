package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ragweb/internal/server"
)

var (
	serveWithWorker bool
	serveWorkers    int
	serveAddr       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API for ingestion and querying.

Ingestion requests are queued; run "ragweb worker" alongside, or pass
--with-worker to process jobs in this process. The memory queue and the
memory database can only be consumed in-process, so they imply --with-worker.

Examples:
  ragweb serve
  ragweb serve --with-worker -c 2 --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also consume ingestion jobs in this process")
	serveCmd.Flags().IntVarP(&serveWorkers, "concurrency", "c", 1, "number of in-process workers")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.ListenAddr = serveAddr
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := server.New(cfg.Server, server.Dependencies{
		Ingest:  a.ingestUseCase(),
		Query:   a.queryService(),
		Store:   a.store,
		Index:   a.index,
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	withWorker := serveWithWorker || a.inProcessOnly()
	if withWorker && !serveWithWorker {
		logger.Info("in-process storage configured, starting worker", "queue", cfg.Queue.Driver, "database", cfg.Database.Driver)
	}

	g, gctx := errgroup.WithContext(ctx)
	if withWorker {
		consumer, err := a.consumer()
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.RunN(gctx, serveWorkers) })
	}
	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}
