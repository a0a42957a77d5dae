package port

import (
	"context"

	"ragweb/internal/domain"
)

// Fetcher downloads a URL and extracts its readable text and title.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (domain.Page, error)
}
