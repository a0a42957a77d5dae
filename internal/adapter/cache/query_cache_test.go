package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls  int
	inputs []string
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.inputs = append(e.inputs, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int    { return 1 }
func (e *countingEmbedder) ModelName() string { return "counting" }

func TestQueryCache_LRU(t *testing.T) {
	c := NewQueryCache(2, time.Minute)

	c.Put("m", "a", []float32{1})
	c.Put("m", "b", []float32{2})
	_, ok := c.Get("m", "a") // a becomes most recent
	require.True(t, ok)

	c.Put("m", "c", []float32{3})
	assert.Equal(t, 2, c.Size())

	_, ok = c.Get("m", "b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get("m", "a")
	assert.True(t, ok)
	_, ok = c.Get("other", "a")
	assert.False(t, ok, "keys include the model")
}

func TestQueryCache_TTL(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put("m", "q", []float32{1})
	_, ok := c.Get("m", "q")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("m", "q")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestQueryCache_Invalidate(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("m", "q", []float32{1})
	c.Invalidate()
	assert.Zero(t, c.Size())
}

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	e := NewCachedEmbedder(inner, NewQueryCache(10, time.Minute))
	ctx := context.Background()

	v, err := e.Embed(ctx, []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5}}, v)

	v, err = e.Embed(ctx, []string{"hey", "hello"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3}, {5}}, v)

	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"hello", "hey"}, inner.inputs, "cached texts are not re-embedded")

	_, err = e.Embed(ctx, []string{"hey", "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	assert.Equal(t, 1, e.Dimension())
	assert.Equal(t, "counting", e.ModelName())
}
