package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// ErrEnqueueFailed is returned by Submit when the ingestion was recorded but
// its job could not be published. The ingestion is marked failed.
var ErrEnqueueFailed = errors.New("failed to enqueue ingestion")

// IngestUseCase accepts URLs for ingestion and reports their status.
type IngestUseCase struct {
	store  port.MetadataStore
	queue  port.JobQueue
	logger *slog.Logger
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(store port.MetadataStore, queue port.JobQueue, logger *slog.Logger) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// ValidateURL accepts only absolute http and https URLs with a host.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url must use http or https", domain.ErrInvalidInput)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url must be absolute", domain.ErrInvalidInput)
	}
	return u.String(), nil
}

// Submit records a pending ingestion and publishes its job.
func (u *IngestUseCase) Submit(ctx context.Context, rawURL string) (*domain.Ingestion, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	ing, err := u.store.CreateIngestion(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("creating ingestion: %w", err)
	}

	if err := u.queue.Publish(ctx, domain.Job{IngestionID: ing.ID, URL: ing.URL}); err != nil {
		pe := domain.NewPipelineError(domain.KindEnqueueFailed, "", err)
		u.logger.Error("could not enqueue ingestion", "ingestion_id", ing.ID, "url", ing.URL, "error", err)
		if terr := u.store.Transition(context.WithoutCancel(ctx), ing.ID, domain.StatusFailed, pe.Error()); terr != nil {
			u.logger.Error("could not mark ingestion failed", "ingestion_id", ing.ID, "error", terr)
		}
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	u.logger.Info("ingestion queued", "ingestion_id", ing.ID, "url", ing.URL)
	return ing, nil
}

func (u *IngestUseCase) Get(ctx context.Context, id string) (*domain.Ingestion, error) {
	return u.store.GetIngestion(ctx, id)
}

func (u *IngestUseCase) List(ctx context.Context, status domain.Status, limit int) ([]domain.Ingestion, error) {
	return u.store.ListIngestions(ctx, status, limit)
}
