package embedcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "fake:model"
}

type memStore struct {
	mu    sync.Mutex
	items map[string]model.EmbeddingCache
}

func (m *memStore) Get(ctx context.Context, modelName, taskType, contentHash string) (*model.EmbeddingCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[modelName+"|"+taskType+"|"+contentHash]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *memStore) Save(ctx context.Context, item *model.EmbeddingCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ModelName+"|"+item.TaskType+"|"+item.ContentHash] = *item
	return nil
}

func TestLruCache_CachesQueriesOnly(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 8, time.Minute)

	first, err := e.Embed(context.Background(), "no carga", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	first[0] = 99

	second, err := e.Embed(context.Background(), "no carga", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, float32(8), second[0])
	require.Equal(t, 1, next.calls)

	for i := 0; i < 2; i++ {
		_, err = e.Embed(context.Background(), "no carga", ai.TaskRetrievalDocument)
		require.NoError(t, err)
	}
	require.Equal(t, 3, next.calls)
	require.Equal(t, "fake:model", e.ModelName())
}

func TestLruCache_DisabledReturnsInner(t *testing.T) {
	next := &countingEmbedder{}
	require.Equal(t, ai.IEmbedder(next), WrapLruCacheToEmbedder(next, 0, time.Minute))
}

func TestDBCache_PersistsAndSkipsErrors(t *testing.T) {
	store := &memStore{items: map[string]model.EmbeddingCache{}}
	next := &countingEmbedder{}
	e := WrapDBCacheToEmbedder(next, store)

	_, err := e.Embed(context.Background(), "pantalla", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "pantalla", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
	require.Len(t, store.items, 1)

	failing := &countingEmbedder{err: errors.New("down")}
	_, err = WrapDBCacheToEmbedder(failing, store).Embed(context.Background(), "otro texto", ai.TaskRetrievalDocument)
	require.Error(t, err)
	require.Len(t, store.items, 1)
}

type sizedEmbedder struct {
	countingEmbedder
	dim int
}

func (s *sizedEmbedder) Dimension() int {
	return s.dim
}

func (s *sizedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	s.calls++
	return make([]float32, s.dim), nil
}

func TestDBCache_IgnoresEntriesOfAnotherWidth(t *testing.T) {
	store := &memStore{items: map[string]model.EmbeddingCache{}}
	text := "bateria hinchada"
	_, contentHash, modelName := buildCacheKey("fake:model", ai.TaskRetrievalDocument, text)
	require.NoError(t, store.Save(context.Background(), &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    ai.TaskRetrievalDocument,
		ContentHash: contentHash,
		Embedding:   make([]float32, 768),
	}))

	next := &sizedEmbedder{dim: 384}
	e := WrapDBCacheToEmbedder(next, store)
	out, err := e.Embed(context.Background(), text, ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, out, 384)
	require.Equal(t, 1, next.calls)

	out, err = e.Embed(context.Background(), text, ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, out, 384)
	require.Equal(t, 1, next.calls)
}
