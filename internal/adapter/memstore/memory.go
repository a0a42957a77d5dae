package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragweb/internal/domain"
	"ragweb/internal/port"
)

// MemoryStore is a MetadataStore kept in process memory. It enforces the
// same uniqueness, cascade and transition rules as the SQL store and backs
// the "memory" database driver and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	ingestions map[string]domain.Ingestion
	chunks     map[string]domain.Chunk
	ingChunks  map[string][]string
	byVector   map[int64]string
	now        func() time.Time
}

var _ port.MetadataStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ingestions: make(map[string]domain.Ingestion),
		chunks:     make(map[string]domain.Chunk),
		ingChunks:  make(map[string][]string),
		byVector:   make(map[int64]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateIngestion(ctx context.Context, url string) (*domain.Ingestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ing := domain.Ingestion{
		ID:        uuid.NewString(),
		URL:       url,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.ingestions[ing.ID] = ing
	return &ing, nil
}

func (s *MemoryStore) GetIngestion(ctx context.Context, id string) (*domain.Ingestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ing, ok := s.ingestions[id]
	if !ok {
		return nil, fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	return &ing, nil
}

func (s *MemoryStore) ListIngestions(ctx context.Context, status domain.Status, limit int) ([]domain.Ingestion, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	out := make([]domain.Ingestion, 0, len(s.ingestions))
	for _, ing := range s.ingestions {
		if status == "" || ing.Status == status {
			out = append(out, ing)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, to domain.Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, ok := s.ingestions[id]
	if !ok {
		return fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	if !domain.CanTransition(ing.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, ing.Status, to)
	}
	ing.Status = to
	ing.ErrorMessage = errorMessage
	ing.UpdatedAt = s.now()
	s.ingestions[id] = ing
	return nil
}

func (s *MemoryStore) SetTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, ok := s.ingestions[id]
	if !ok {
		return fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	ing.Title = title
	ing.UpdatedAt = s.now()
	s.ingestions[id] = ing
	return nil
}

func (s *MemoryStore) DeleteIngestion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ingestions[id]; !ok {
		return fmt.Errorf("ingestion %s: %w", id, domain.ErrNotFound)
	}
	for _, cid := range s.ingChunks[id] {
		delete(s.byVector, s.chunks[cid].VectorID)
		delete(s.chunks, cid)
	}
	delete(s.ingChunks, id)
	delete(s.ingestions, id)
	return nil
}

// InsertChunks validates the whole batch before writing any of it, so a
// violation leaves the store unchanged.
func (s *MemoryStore) InsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	vectors := make(map[int64]struct{}, len(chunks))
	positions := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if _, ok := s.ingestions[c.IngestionID]; !ok {
			return fmt.Errorf("inserting chunk %d: ingestion %s: %w", c.ChunkIndex, c.IngestionID, domain.ErrNotFound)
		}
		if c.ChunkIndex < 0 {
			return fmt.Errorf("inserting chunk %d: %w: negative chunk index", c.ChunkIndex, domain.ErrInvalidInput)
		}
		if _, dup := s.byVector[c.VectorID]; dup {
			return fmt.Errorf("inserting chunk %d: %w: vector id %d already used", c.ChunkIndex, domain.ErrInvalidInput, c.VectorID)
		}
		if _, dup := vectors[c.VectorID]; dup {
			return fmt.Errorf("inserting chunk %d: %w: vector id %d repeated", c.ChunkIndex, domain.ErrInvalidInput, c.VectorID)
		}
		vectors[c.VectorID] = struct{}{}

		pos := fmt.Sprintf("%s/%d", c.IngestionID, c.ChunkIndex)
		if _, dup := positions[pos]; dup || s.hasChunkIndex(c.IngestionID, c.ChunkIndex) {
			return fmt.Errorf("inserting chunk %d: %w: duplicate chunk index", c.ChunkIndex, domain.ErrInvalidInput)
		}
		positions[pos] = struct{}{}
	}

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		s.chunks[c.ID] = c
		s.ingChunks[c.IngestionID] = append(s.ingChunks[c.IngestionID], c.ID)
		s.byVector[c.VectorID] = c.ID
	}
	return nil
}

func (s *MemoryStore) hasChunkIndex(ingestionID string, index int) bool {
	for _, cid := range s.ingChunks[ingestionID] {
		if s.chunks[cid].ChunkIndex == index {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ChunksByVectorIDs(ctx context.Context, ids []int64) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if cid, ok := s.byVector[id]; ok {
			out = append(out, s.chunks[cid])
		}
	}
	return out, nil
}

func (s *MemoryStore) CountChunks(ctx context.Context, ingestionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ingChunks[ingestionID]), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.MetadataStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &domain.MetadataStats{Ingestions: make(map[domain.Status]int), MaxVector: -1}
	for _, ing := range s.ingestions {
		st.Ingestions[ing.Status]++
	}
	st.Chunks = len(s.chunks)
	for v := range s.byVector {
		if v > st.MaxVector {
			st.MaxVector = v
		}
	}
	return st, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
