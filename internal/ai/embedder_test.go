package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
)

type fakeEmbedModel struct {
	vec    []float32
	err    error
	closed atomic.Bool
}

func (m *fakeEmbedModel) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float32, len(m.vec))
	copy(out, m.vec)
	return out, nil
}

func (m *fakeEmbedModel) Close() error {
	m.closed.Store(true)
	return nil
}

func TestEmbedder_ConcurrentInitLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	model := &fakeEmbedModel{vec: []float32{3, 4}}
	e, err := newEmbedder(EmbedderConfig{Provider: "fake", Dimension: 2},
		func(ctx context.Context, name string, dim int, args interface{}) (IEmbedModel, error) {
			calls.Add(1)
			time.Sleep(30 * time.Millisecond)
			return model, nil
		})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Embed(context.Background(), "pantalla rota", TaskRetrievalQuery)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), calls.Load())

	require.NoError(t, e.Close())
	require.True(t, model.closed.Load())
}

func TestEmbedder_FailedLoadIsRetried(t *testing.T) {
	var calls atomic.Int32
	e, err := newEmbedder(EmbedderConfig{Provider: "fake", Dimension: 2},
		func(ctx context.Context, name string, dim int, args interface{}) (IEmbedModel, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("download failed")
			}
			return &fakeEmbedModel{vec: []float32{1, 0}}, nil
		})
	require.NoError(t, err)

	err = e.Init(context.Background())
	require.ErrorIs(t, err, ErrEmbeddingUnavailable)

	vec, err := e.Embed(context.Background(), "no enciende", TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, vec)
	require.Equal(t, int32(2), calls.Load())
}

func TestEmbedder_Validation(t *testing.T) {
	newWith := func(m IEmbedModel) *Embedder {
		e, err := newEmbedder(EmbedderConfig{Provider: "fake", Model: "m", Dimension: 2},
			func(ctx context.Context, name string, dim int, args interface{}) (IEmbedModel, error) {
				return m, nil
			})
		require.NoError(t, err)
		return e
	}

	t.Run("blank input", func(t *testing.T) {
		_, err := newWith(&fakeEmbedModel{vec: []float32{1, 0}}).Embed(context.Background(), "  \n\t", TaskRetrievalQuery)
		require.ErrorIs(t, err, ErrEmptyInput)
	})
	t.Run("normalized", func(t *testing.T) {
		vec, err := newWith(&fakeEmbedModel{vec: []float32{3, 4}}).Embed(context.Background(), "x", TaskRetrievalQuery)
		require.NoError(t, err)
		require.InDelta(t, 0.6, vec[0], 1e-6)
		require.InDelta(t, 0.8, vec[1], 1e-6)
	})
	t.Run("wrong dimension", func(t *testing.T) {
		_, err := newWith(&fakeEmbedModel{vec: []float32{1, 0, 0}}).Embed(context.Background(), "x", TaskRetrievalQuery)
		require.ErrorIs(t, err, appErr.ErrDimensionMismatch)
	})
	t.Run("zero vector", func(t *testing.T) {
		_, err := newWith(&fakeEmbedModel{vec: []float32{0, 0}}).Embed(context.Background(), "x", TaskRetrievalQuery)
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})
	t.Run("inference failure", func(t *testing.T) {
		_, err := newWith(&fakeEmbedModel{err: errors.New("onnx")}).Embed(context.Background(), "x", TaskRetrievalQuery)
		require.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})
	t.Run("model name", func(t *testing.T) {
		require.Equal(t, "fake:m@2", newWith(&fakeEmbedModel{}).ModelName())
		wide, err := newEmbedder(EmbedderConfig{Provider: "fake", Model: "m", Dimension: 768},
			func(ctx context.Context, name string, dim int, args interface{}) (IEmbedModel, error) {
				return &fakeEmbedModel{}, nil
			})
		require.NoError(t, err)
		require.NotEqual(t, wide.ModelName(), newWith(&fakeEmbedModel{}).ModelName())
	})
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(EmbedderConfig{Provider: "nope", Dimension: 8})
	require.Error(t, err)
}
