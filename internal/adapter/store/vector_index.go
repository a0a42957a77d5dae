package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"

	"ragweb/internal/domain"
)

var (
	bucketIndexMeta = []byte("meta")
	bucketVectors   = []byte("vectors")
	keyDimension    = []byte("dimension")
	keyFormat       = []byte("format")
)

// indexFormat is written into every index file so incompatible layouts are
// detected instead of misread.
const indexFormat = "ragweb-flatip-v1"

// writerWeight is the semaphore weight taken by Add. Searches take 1, so a
// writer excludes every reader and readers only exclude writers.
const writerWeight = 1 << 20

// BoltVectorIndex is an append-only flat inner-product index stored in a
// bbolt file. Vector i lives under key i; the bucket sequence is the total.
//
// The file is opened per call. bbolt takes an flock on open, exclusive for
// writers and shared for read-only opens, which serializes Add against
// Search across processes. Within a process a weighted semaphore does the
// same without burning file-lock retries.
type BoltVectorIndex struct {
	path          string
	dimension     int
	searchTimeout time.Duration
	sem           *semaphore.Weighted
}

// NewBoltVectorIndex creates an index handle for path. dimension is the
// embedder's output size; 0 lets the first Add fix it.
func NewBoltVectorIndex(path string, dimension int, searchTimeout time.Duration) *BoltVectorIndex {
	if searchTimeout <= 0 {
		searchTimeout = 10 * time.Second
	}
	return &BoltVectorIndex{
		path:          path,
		dimension:     dimension,
		searchTimeout: searchTimeout,
		sem:           semaphore.NewWeighted(writerWeight),
	}
}

// Path returns the index file path.
func (x *BoltVectorIndex) Path() string {
	return x.path
}

// Add appends vectors in order and returns their id range [start, end).
// The transaction is fsynced before Add returns. Add waits for the lock for
// as long as ctx allows.
func (x *BoltVectorIndex) Add(ctx context.Context, vectors [][]float32) (int64, int64, error) {
	if len(vectors) == 0 {
		return 0, 0, fmt.Errorf("%w: no vectors to add", domain.ErrInvalidInput)
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return 0, 0, fmt.Errorf("%w: vector %d has %d dimensions, vector 0 has %d",
				domain.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	if x.dimension > 0 && dim != x.dimension {
		return 0, 0, fmt.Errorf("%w: embedder produces %d, got %d", domain.ErrDimensionMismatch, x.dimension, dim)
	}

	if err := x.sem.Acquire(ctx, writerWeight); err != nil {
		return 0, 0, err
	}
	defer x.sem.Release(writerWeight)

	db, err := bbolt.Open(x.path, 0600, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open vector index: %w", err)
	}
	defer db.Close()

	var start, end int64
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketIndexMeta)
		if err != nil {
			return err
		}
		vecs, err := tx.CreateBucketIfNotExists(bucketVectors)
		if err != nil {
			return err
		}

		stored, err := readDimension(meta)
		if err != nil {
			return err
		}
		if stored == 0 {
			if err := meta.Put(keyFormat, []byte(indexFormat)); err != nil {
				return err
			}
			if err := meta.Put(keyDimension, encodeUint64(uint64(dim))); err != nil {
				return err
			}
		} else if stored != dim {
			return fmt.Errorf("%w: index has %d, got %d", domain.ErrDimensionMismatch, stored, dim)
		}

		start = int64(vecs.Sequence())
		for i, v := range vectors {
			if err := vecs.Put(encodeUint64(uint64(start)+uint64(i)), encodeVector(v)); err != nil {
				return err
			}
		}
		end = start + int64(len(vectors))
		return vecs.SetSequence(uint64(end))
	})
	if err != nil {
		return 0, 0, err
	}

	return start, end, nil
}

// Search scans every stored vector and returns the k best by inner product.
// The file is re-read on every call so results reflect all committed adds.
// It fails with domain.ErrLockTimeout when a writer holds the index longer
// than the search timeout.
func (x *BoltVectorIndex) Search(ctx context.Context, query []float32, k int) ([]domain.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}

	var hits []domain.VectorHit
	err := x.view(ctx, func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketIndexMeta)
		vecs := tx.Bucket(bucketVectors)
		if meta == nil || vecs == nil || vecs.Sequence() == 0 {
			return nil
		}

		dim, err := readDimension(meta)
		if err != nil {
			return err
		}
		if dim != len(query) {
			return fmt.Errorf("%w: index has %d, query has %d", domain.ErrDimensionMismatch, dim, len(query))
		}

		top := newTopK(k)
		err = vecs.ForEach(func(key, value []byte) error {
			top.offer(domain.VectorHit{
				ID:    int64(binary.BigEndian.Uint64(key)),
				Score: innerProduct(query, value),
			})
			return nil
		})
		if err != nil {
			return err
		}
		hits = top.sorted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// Stats reports the index dimension and vector count.
func (x *BoltVectorIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	var stats domain.IndexStats
	err := x.view(ctx, func(tx *bbolt.Tx) error {
		if meta := tx.Bucket(bucketIndexMeta); meta != nil {
			dim, err := readDimension(meta)
			if err != nil {
				return err
			}
			stats.Dimension = dim
		}
		if vecs := tx.Bucket(bucketVectors); vecs != nil {
			stats.Total = int64(vecs.Sequence())
		}
		return nil
	})
	return stats, err
}

// view runs fn in a read-only transaction under a shared lock, waiting at
// most searchTimeout. A missing file is an empty index.
func (x *BoltVectorIndex) view(ctx context.Context, fn func(tx *bbolt.Tx) error) error {
	deadline := time.Now().Add(x.searchTimeout)
	lockCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if err := x.sem.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return domain.ErrLockTimeout
	}
	defer x.sem.Release(1)

	if _, err := os.Stat(x.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return domain.ErrLockTimeout
	}
	db, err := bbolt.Open(x.path, 0600, &bbolt.Options{ReadOnly: true, Timeout: remaining})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return domain.ErrLockTimeout
		}
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	defer db.Close()

	return db.View(fn)
}

func readDimension(meta *bbolt.Bucket) (int, error) {
	if format := meta.Get(keyFormat); format != nil && string(format) != indexFormat {
		return 0, fmt.Errorf("unsupported vector index format %q", format)
	}
	raw := meta.Get(keyDimension)
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt dimension record")
	}
	return int(binary.BigEndian.Uint64(raw)), nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

// innerProduct computes the dot product of q with an encoded vector. The
// stored bytes are read in place; bbolt values are only valid inside the
// transaction.
func innerProduct(q []float32, encoded []byte) float64 {
	var sum float64
	for i := range q {
		f := math.Float32frombits(binary.LittleEndian.Uint32(encoded[4*i:]))
		sum += float64(q[i]) * float64(f)
	}
	return sum
}

// topK keeps the k best hits seen so far. Ties prefer the lower id.
type topK struct {
	k    int
	hits []domain.VectorHit
}

func newTopK(k int) *topK {
	return &topK{k: k, hits: make([]domain.VectorHit, 0, k)}
}

func better(a, b domain.VectorHit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

func (t *topK) offer(h domain.VectorHit) {
	if len(t.hits) < t.k {
		t.hits = append(t.hits, h)
		return
	}
	worst := 0
	for i := 1; i < len(t.hits); i++ {
		if better(t.hits[worst], t.hits[i]) {
			worst = i
		}
	}
	if better(h, t.hits[worst]) {
		t.hits[worst] = h
	}
}

func (t *topK) sorted() []domain.VectorHit {
	sort.Slice(t.hits, func(i, j int) bool {
		return better(t.hits[i], t.hits[j])
	})
	return t.hits
}
