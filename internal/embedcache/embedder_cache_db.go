package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
)

// Store is the persistent side of the embedding cache.
type Store interface {
	// Get returns nil without error on a miss.
	Get(ctx context.Context, modelName, taskType, contentHash string) (*model.EmbeddingCache, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

// WrapDBCacheToEmbedder persists embeddings so a restart or a rebuild does
// not recompute vectors for text that was already embedded by the same model.
func WrapDBCacheToEmbedder(e ai.IEmbedder, store Store) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store}
}

// dimensioner is implemented by embedders with a fixed output width.
type dimensioner interface {
	Dimension() int
}

type dbEmbedder struct {
	next  ai.IEmbedder
	store Store
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return d.next.Embed(ctx, text, taskType)
	}
	logger := logutil.GetLogger(ctx)
	_, contentHash, modelName := buildCacheKey(d.next.ModelName(), taskType, text)
	item, err := d.store.Get(ctx, modelName, taskType, contentHash)
	if err != nil {
		logger.Warn("read embedding cache failed", zap.Error(err))
		item = nil
	}
	if item != nil && !item.Fits(d.width()) {
		logger.Warn("cached embedding has wrong width, recomputing",
			zap.String("model", modelName), zap.Int("width", len(item.Embedding)))
		item = nil
	}
	if item != nil {
		logger.Debug("embedding cache hit (db)", zap.String("task_type", taskType))
		return item.Embedding, nil
	}
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if err := d.store.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    taskType,
		ContentHash: contentHash,
		Embedding:   res,
		Ctime:       time.Now().Unix(),
	}); err != nil {
		logger.Warn("failed to cache embedding", zap.Error(err))
	}
	return res, nil
}

func (d *dbEmbedder) width() int {
	if dim, ok := d.next.(dimensioner); ok {
		return dim.Dimension()
	}
	return 0
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

func buildCacheKey(modelName, taskType, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return "embed:" + modelName + ":" + taskType + ":" + contentHash, contentHash, modelName
}
