package port

import "ragweb/internal/domain"

type Chunker interface {
	Chunk(text string) ([]domain.Passage, error)
}
