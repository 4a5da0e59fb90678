package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/pkg/vecutil"
)

type EmbedderConfig struct {
	Provider  string
	Model     string
	Dimension int
	Args      interface{}
}

// Embedder owns the single embedding model instance of the process. The model
// is loaded once, either explicitly through Init at startup or by the first
// Embed call; concurrent callers share the same in-flight load.
type Embedder struct {
	cfg     EmbedderConfig
	factory EmbedModelFactory

	group singleflight.Group
	mu    sync.RWMutex
	model IEmbedModel
}

func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	factory, err := lookupEmbedFactory(cfg.Provider)
	if err != nil {
		return nil, err
	}
	return newEmbedder(cfg, factory)
}

func newEmbedder(cfg EmbedderConfig, factory EmbedModelFactory) (*Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive")
	}
	return &Embedder{cfg: cfg, factory: factory}, nil
}

func (e *Embedder) Init(ctx context.Context) error {
	_, err := e.load(ctx)
	return err
}

func (e *Embedder) Dimension() int {
	return e.cfg.Dimension
}

// ModelName identifies the vectors this embedder produces. The width is part
// of it so cached vectors never outlive a dimension change.
func (e *Embedder) ModelName() string {
	name := e.cfg.Provider
	if e.cfg.Model != "" {
		name += ":" + e.cfg.Model
	}
	return fmt.Sprintf("%s@%d", name, e.cfg.Dimension)
}

func (e *Embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	model, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := model.Embed(ctx, text, taskType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(raw) != e.cfg.Dimension {
		return nil, fmt.Errorf("%w: model %s returned %d, configured %d",
			appErr.ErrDimensionMismatch, e.ModelName(), len(raw), e.cfg.Dimension)
	}
	vec, ok := vecutil.Normalize(raw)
	if !ok {
		return nil, fmt.Errorf("%w: model returned a zero vector", ErrEmbeddingUnavailable)
	}
	return vec, nil
}

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	return err
}

func (e *Embedder) loaded() IEmbedModel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}

func (e *Embedder) load(ctx context.Context) (IEmbedModel, error) {
	if m := e.loaded(); m != nil {
		return m, nil
	}
	// The load outlives any single caller: a cancelled request must not abort
	// the load the other waiters depend on.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := e.group.Do("load", func() (interface{}, error) {
		if m := e.loaded(); m != nil {
			return m, nil
		}
		logger := logutil.GetLogger(ctx).With(zap.String("embedder", e.ModelName()))
		logger.Info("loading embedding model", zap.Int("dimension", e.cfg.Dimension))
		m, err := e.factory(loadCtx, e.cfg.Model, e.cfg.Dimension, e.cfg.Args)
		if err != nil {
			logger.Error("load embedding model failed", zap.Error(err))
			return nil, fmt.Errorf("%w: load %s: %v", ErrEmbeddingUnavailable, e.ModelName(), err)
		}
		e.mu.Lock()
		e.model = m
		e.mu.Unlock()
		logger.Info("embedding model loaded")
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(IEmbedModel), nil
}
