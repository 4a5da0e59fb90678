package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/model"
	"github.com/xxxsen/casememo/internal/pkg/errcode"
	"github.com/xxxsen/casememo/internal/pkg/response"
)

type ICaseSearcher interface {
	Search(ctx context.Context, query string, k int, minScore float32) ([]model.ScoredCase, error)
	FormatContext(items []model.ScoredCase) string
}

type RetrievalHandler struct {
	retrieval ICaseSearcher
}

func NewRetrievalHandler(retrieval ICaseSearcher) *RetrievalHandler {
	return &RetrievalHandler{retrieval: retrieval}
}

type retrievedCase struct {
	SourceKey string  `json:"source_key"`
	Label     string  `json:"label"`
	Kind      string  `json:"kind"`
	Device    string  `json:"device"`
	Score     float32 `json:"score"`
	Mtime     int64   `json:"mtime"`
}

func (h *RetrievalHandler) Retrieve(c *gin.Context) {
	query := c.Query("q")
	k := 0
	if raw := c.Query("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			response.Error(c, errcode.ErrInvalid, "invalid k")
			return
		}
		k = v
	}
	var minScore float32
	if raw := c.Query("min_score"); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil || v < 0 || v > 1 {
			response.Error(c, errcode.ErrInvalid, "invalid min_score")
			return
		}
		minScore = float32(v)
	}

	items, err := h.retrieval.Search(c.Request.Context(), query, k, minScore)
	if err != nil {
		// Retrieval only enriches a prompt; callers get an empty block instead.
		logutil.GetLogger(c.Request.Context()).Warn("retrieve failed, returning empty context",
			zap.String("query", query), zap.Error(err))
		response.Success(c, gin.H{
			"context": "",
			"items":   []retrievedCase{},
		})
		return
	}
	out := make([]retrievedCase, 0, len(items))
	for i := range items {
		item := &items[i]
		out = append(out, retrievedCase{
			SourceKey: item.SourceKey,
			Label:     item.DisplayLabel,
			Kind:      item.Kind(),
			Device:    item.Device(),
			Score:     item.Score,
			Mtime:     item.Mtime,
		})
	}
	response.Success(c, gin.H{
		"context": h.retrieval.FormatContext(items),
		"items":   out,
	})
}
