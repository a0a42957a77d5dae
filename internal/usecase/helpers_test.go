package usecase

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ragweb/internal/adapter/analyzer"
	"ragweb/internal/adapter/chunker"
	"ragweb/internal/adapter/embedding"
	"ragweb/internal/adapter/fetch"
	"ragweb/internal/adapter/llm"
	"ragweb/internal/adapter/memstore"
	"ragweb/internal/adapter/queue"
	"ragweb/internal/adapter/store"
	"ragweb/internal/domain"
	"ragweb/internal/logging"
	"ragweb/internal/port"
)

const testDim = 64

// site serves fixed bodies per path; unknown paths answer 500.
type site struct {
	mu    sync.Mutex
	pages map[string]page
	hits  map[string]int
}

type page struct {
	contentType string
	body        string
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	p, ok := s.pages[r.URL.Path]
	s.hits[r.URL.Path]++
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", p.contentType)
	fmt.Fprint(w, p.body)
}

func (s *site) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	srv       *httptest.Server
	site      *site
	store     *memstore.MemoryStore
	index     *store.BoltVectorIndex
	queue     *queue.MemoryQueue
	tokenizer *analyzer.Tokenizer
	embedder  port.Embedder
	pipeline  *IngestPipeline
	ingest    *IngestUseCase
	query     *QueryService
}

func newTestEnv(t *testing.T, maxTokens, overlap int) *testEnv {
	t.Helper()

	s := &site{pages: map[string]page{}, hits: map[string]int{}}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)

	tok := analyzer.NewTokenizer()
	ch, err := chunker.NewTokenChunker(maxTokens, overlap, tok)
	require.NoError(t, err)

	env := &testEnv{
		t:         t,
		ctx:       context.Background(),
		srv:       srv,
		site:      s,
		store:     memstore.NewMemoryStore(),
		index:     store.NewBoltVectorIndex(filepath.Join(t.TempDir(), "index.bolt"), testDim, time.Second),
		queue:     queue.NewMemoryQueue(),
		tokenizer: tok,
		embedder:  embedding.NewHashEmbedder(testDim, tok),
	}

	fetcher := fetch.NewHTTPFetcher(fetch.Options{
		Attempts:       3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
		Logger:         logging.Discard(),
	})

	env.pipeline = NewIngestPipeline(PipelineDeps{
		Store:    env.store,
		Index:    env.index,
		Fetcher:  fetcher,
		Chunker:  ch,
		Embedder: env.embedder,
		Logger:   logging.Discard(),
	})
	env.ingest = NewIngestUseCase(env.store, env.queue, logging.Discard())

	retriever := NewRetrieveUseCase(env.embedder, env.index, env.store, 0)
	env.query = NewQueryService(retriever, NewContextPacker(tok, 6000, 10), llm.NewGenerator(nil, logging.Discard()), logging.Discard(), nil)
	return env
}

func (e *testEnv) serve(path, contentType, body string) string {
	e.site.mu.Lock()
	e.site.pages[path] = page{contentType: contentType, body: body}
	e.site.mu.Unlock()
	return e.srv.URL + path
}

// ingestNow creates an ingestion for url and runs its job synchronously.
func (e *testEnv) ingestNow(url string) (*domain.Ingestion, Outcome) {
	e.t.Helper()
	ing, err := e.store.CreateIngestion(e.ctx, url)
	require.NoError(e.t, err)
	outcome, err := e.pipeline.Process(e.ctx, domain.Job{IngestionID: ing.ID, URL: url})
	require.NoError(e.t, err)
	got, err := e.store.GetIngestion(e.ctx, ing.ID)
	require.NoError(e.t, err)
	return got, outcome
}

func (e *testEnv) chunksOf(ingestionID string, maxVector int64) []domain.Chunk {
	e.t.Helper()
	ids := make([]int64, maxVector+1)
	for i := range ids {
		ids[i] = int64(i)
	}
	all, err := e.store.ChunksByVectorIDs(e.ctx, ids)
	require.NoError(e.t, err)
	var out []domain.Chunk
	for _, c := range all {
		if c.IngestionID == ingestionID {
			out = append(out, c)
		}
	}
	return out
}
