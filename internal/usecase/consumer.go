package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"ragweb/internal/domain"
	"ragweb/internal/metrics"
	"ragweb/internal/port"
)

// JobProcessor runs one job. IngestPipeline is the production implementation.
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) (Outcome, error)
}

// Consumer pulls jobs off a queue one at a time and hands them to a
// JobProcessor. Handled jobs are acknowledged whatever their outcome. A job
// whose processing panics or returns an error is treated as poison: its
// ingestion is forced to failed and the message is dead-lettered.
type Consumer struct {
	queue      port.JobQueue
	processor  JobProcessor
	store      port.MetadataStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
	retryDelay time.Duration
}

// NewConsumer creates a consumer that feeds jobs from queue to processor.
func NewConsumer(queue port.JobQueue, processor JobProcessor, store port.MetadataStore, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		queue:      queue,
		processor:  processor,
		store:      store,
		logger:     logger,
		metrics:    m,
		retryDelay: time.Second,
	}
}

// Run consumes until ctx is done or the queue is closed. A job already in
// progress is finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		d, err := c.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrQueueClosed) {
				return nil
			}
			c.logger.Error("consuming job failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}
		c.handle(ctx, d)
	}
}

// RunN runs n consumers against the same queue, each with one job in flight.
func (c *Consumer) RunN(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error { return c.Run(gctx) })
	}
	return g.Wait()
}

// HandleNext consumes and handles a single job, blocking until one is
// available.
func (c *Consumer) HandleNext(ctx context.Context) error {
	d, err := c.queue.Consume(ctx)
	if err != nil {
		return err
	}
	c.handle(ctx, d)
	return nil
}

func (c *Consumer) handle(ctx context.Context, d port.Delivery) {
	job := d.Job()
	log := c.logger.With("ingestion_id", job.IngestionID, "attempt", d.Attempt())
	ackCtx := context.WithoutCancel(ctx)

	if d.Attempt() > 1 && c.failLostLease(ackCtx, job.IngestionID, log) {
		if err := d.Ack(ackCtx); err != nil {
			log.Warn("ack failed, job may be redelivered", "error", err)
		}
		return
	}

	outcome, err := c.process(ctx, job)
	if err == nil {
		log.Debug("job handled", "outcome", outcome.String())
		if err := d.Ack(ackCtx); err != nil {
			log.Warn("ack failed, job may be redelivered", "error", err)
		}
		return
	}

	reason := err.Error()
	log.Error("job abandoned", "error", reason)
	c.abandon(ackCtx, job.IngestionID, reason, log)

	if err := d.Reject(ackCtx, reason); err != nil {
		log.Error("reject failed", "error", err)
		return
	}
	c.metrics.JobDeadLettered()
}

func (c *Consumer) process(ctx context.Context, job domain.Job) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while processing job", "ingestion_id", job.IngestionID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.processor.Process(ctx, job)
}

// failLostLease handles a redelivered job whose ingestion is still in
// processing: the worker that claimed it stopped before finishing, so the
// ingestion is failed instead of being skipped as a duplicate. It reports
// whether the job was dealt with.
func (c *Consumer) failLostLease(ctx context.Context, id string, log *slog.Logger) bool {
	ing, err := c.store.GetIngestion(ctx, id)
	if err != nil || ing.Status != domain.StatusProcessing {
		return false
	}

	pe := domain.NewPipelineError(domain.KindAbandoned, "worker lost lease", nil)
	if err := c.store.Transition(ctx, id, domain.StatusFailed, pe.Error()); err != nil {
		log.Error("could not fail ingestion with lost lease", "error", err)
		return false
	}
	c.metrics.IngestionFinished(string(domain.StatusFailed), domain.KindAbandoned.String(), 0)
	log.Warn("redelivered job found its ingestion still processing, marked failed")
	return true
}

// abandon moves a non-terminal ingestion to failed so it does not sit in
// processing forever.
func (c *Consumer) abandon(ctx context.Context, id, reason string, log *slog.Logger) {
	ing, err := c.store.GetIngestion(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error("could not load abandoned ingestion", "error", err)
		}
		return
	}
	if ing.Status.Terminal() {
		return
	}

	pe := domain.NewPipelineError(domain.KindAbandoned, reason, nil)
	if err := c.store.Transition(ctx, id, domain.StatusFailed, pe.Error()); err != nil {
		log.Error("could not mark abandoned ingestion failed", "error", err)
		return
	}
	c.metrics.IngestionFinished(string(domain.StatusFailed), domain.KindAbandoned.String(), 0)
}
