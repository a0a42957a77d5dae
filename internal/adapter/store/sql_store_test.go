package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragweb/config"
	"ragweb/internal/domain"
)

// setupTestStore creates a SQLite store in a temporary directory.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()

	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func testChunks(ingestionID, url string, firstVector int64, n int) []domain.Chunk {
	chunks := make([]domain.Chunk, n)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			IngestionID: ingestionID,
			URL:         url,
			ChunkIndex:  i,
			TokenCount:  3,
			Text:        "passage text",
			VectorID:    firstVector + int64(i),
		}
	}
	return chunks
}

func TestSQLStore_CreateAndGetIngestion(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ing, err := s.CreateIngestion(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.NotEmpty(t, ing.ID)
	assert.Equal(t, domain.StatusPending, ing.Status)

	got, err := s.GetIngestion(ctx, ing.ID)
	require.NoError(t, err)
	assert.Equal(t, ing.ID, got.ID)
	assert.Equal(t, "https://example.com/a", got.URL)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Empty(t, got.Title)
	assert.Empty(t, got.ErrorMessage)
	assert.False(t, got.CreatedAt.IsZero())
	assert.WithinDuration(t, ing.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLStore_GetIngestionNotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetIngestion(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLStore_TransitionFollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ing, err := s.CreateIngestion(ctx, "https://example.com")
	require.NoError(t, err)

	// pending cannot complete without processing first
	err = s.Transition(ctx, ing.ID, domain.StatusCompleted, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, s.Transition(ctx, ing.ID, domain.StatusProcessing, ""))

	// a second claim fails, which is what guards duplicate deliveries
	err = s.Transition(ctx, ing.ID, domain.StatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, s.Transition(ctx, ing.ID, domain.StatusFailed, "FetchFailed: boom"))

	got, err := s.GetIngestion(ctx, ing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "FetchFailed: boom", got.ErrorMessage)

	for _, to := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		err := s.Transition(ctx, ing.ID, to, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition, "terminal state must not change to %s", to)
	}

	err = s.Transition(ctx, "missing", domain.StatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLStore_ConcurrentClaimsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ing, err := s.CreateIngestion(ctx, "https://example.com")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Transition(ctx, ing.ID, domain.StatusProcessing, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestSQLStore_SetTitle(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ing, err := s.CreateIngestion(ctx, "https://example.com")
	require.NoError(t, err)
	require.NoError(t, s.SetTitle(ctx, ing.ID, "Example Domain"))

	got, err := s.GetIngestion(ctx, ing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Example Domain", got.Title)

	assert.ErrorIs(t, s.SetTitle(ctx, "missing", "x"), domain.ErrNotFound)
}

func TestSQLStore_InsertAndLookupChunks(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ing, err := s.CreateIngestion(ctx, "https://example.com/doc")
	require.NoError(t, err)
	require.NoError(t, s.InsertChunks(ctx, testChunks(ing.ID, ing.URL, 10, 3)))

	n, err := s.CountChunks(ctx, ing.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	chunks, err := s.ChunksByVectorIDs(ctx, []int64{12, 10, 999})
	require.NoError(t, err)
	require.Len(t, chunks, 2, "unknown ids are ignored")

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].VectorID < chunks[j].VectorID })
	assert.Equal(t, int64(10), chunks[0].VectorID)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, int64(12), chunks[1].VectorID)
	assert.Equal(t, 2, chunks[1].ChunkIndex)
	assert.Equal(t, "https://example.com/doc", chunks[1].URL)
	assert.Equal(t, "passage text", chunks[1].Text)
	assert.NotEmpty(t, chunks[1].ID)

	none, err := s.ChunksByVectorIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLStore_ChunkConstraints(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	a, err := s.CreateIngestion(ctx, "https://example.com/a")
	require.NoError(t, err)
	b, err := s.CreateIngestion(ctx, "https://example.com/b")
	require.NoError(t, err)

	require.NoError(t, s.InsertChunks(ctx, testChunks(a.ID, a.URL, 0, 2)))

	t.Run("vector id is globally unique", func(t *testing.T) {
		err := s.InsertChunks(ctx, testChunks(b.ID, b.URL, 1, 2))
		assert.Error(t, err)

		n, err := s.CountChunks(ctx, b.ID)
		require.NoError(t, err)
		assert.Zero(t, n, "a failed batch must roll back entirely")
	})

	t.Run("chunk index is unique per ingestion", func(t *testing.T) {
		dup := testChunks(a.ID, a.URL, 100, 1)
		assert.Error(t, s.InsertChunks(ctx, dup))
	})

	t.Run("chunk must reference an ingestion", func(t *testing.T) {
		orphan := testChunks("missing", "https://example.com/x", 200, 1)
		assert.Error(t, s.InsertChunks(ctx, orphan))
	})
}

func TestSQLStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	ing, err := s.CreateIngestion(ctx, "https://example.com")
	require.NoError(t, err)
	require.NoError(t, s.InsertChunks(ctx, testChunks(ing.ID, ing.URL, 0, 4)))

	require.NoError(t, s.DeleteIngestion(ctx, ing.ID))

	_, err = s.GetIngestion(ctx, ing.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	chunks, err := s.ChunksByVectorIDs(ctx, []int64{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.ErrorIs(t, s.DeleteIngestion(ctx, ing.ID), domain.ErrNotFound)
}

func TestSQLStore_ListIngestions(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	var ids []string
	for _, u := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		ing, err := s.CreateIngestion(ctx, u)
		require.NoError(t, err)
		ids = append(ids, ing.ID)
	}
	require.NoError(t, s.Transition(ctx, ids[1], domain.StatusFailed, "EnqueueFailed: queue down"))

	all, err := s.ListIngestions(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := s.ListIngestions(ctx, domain.StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	failed, err := s.ListIngestions(ctx, domain.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ID)

	limited, err := s.ListIngestions(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Chunks)
	assert.Equal(t, int64(-1), st.MaxVector)

	ing, err := s.CreateIngestion(ctx, "https://example.com")
	require.NoError(t, err)
	require.NoError(t, s.InsertChunks(ctx, testChunks(ing.ID, ing.URL, 5, 2)))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Ingestions[domain.StatusPending])
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, int64(6), st.MaxVector)
}

func TestSQLStore_MigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metadata.db")

	s, err := Open(ctx, "sqlite", path)
	require.NoError(t, err)
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, version, 1)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite", path)
	require.NoError(t, err)
	defer s.Close()

	applied, err := s.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestSQLStore_CheckMigrationDetectsConfigChange(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	cfg := config.DefaultConfig()
	require.NoError(t, s.RecordConfig(ctx, cfg))

	result, err := s.CheckMigration(ctx, cfg)
	require.NoError(t, err)
	assert.False(t, result.NeedsMigration)
	assert.False(t, result.NeedsRebuild)

	changed := config.DefaultConfig()
	changed.Embedding.Model = "another-model"
	result, err = s.CheckMigration(ctx, changed)
	require.NoError(t, err)
	assert.True(t, result.NeedsRebuild)
	assert.Equal(t, "index configuration changed", result.Reason)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	lite := &SQLStore{dialect: dialectSQLite}

	q := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "x.db?"+sqlitePragmas, sqliteDSN("x.db"))
	assert.Equal(t, "file:x.db?mode=rwc&"+sqlitePragmas, sqliteDSN("file:x.db?mode=rwc"))
	assert.Equal(t, "x.db?_pragma=foreign_keys(1)", sqliteDSN("x.db?_pragma=foreign_keys(1)"))
}
