package handler

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/casememo/internal/model"
	"github.com/xxxsen/casememo/internal/pkg/errcode"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/pkg/response"
	"github.com/xxxsen/casememo/internal/schedule"
	"github.com/xxxsen/casememo/internal/service"
)

type IIndexQueue interface {
	EnqueueRepair(ctx context.Context, r *model.Repair) bool
	EnqueueArticle(ctx context.Context, a *model.Article) bool
	EnqueueDelete(ctx context.Context, sourceKey string) bool
	Pending() int64
}

type ICaseIndex interface {
	Delete(ctx context.Context, sourceKey string) error
	Count(ctx context.Context) (int64, error)
}

type IJobTrigger interface {
	Trigger(name string) error
}

type IndexHandler struct {
	queue      IIndexQueue
	index      ICaseIndex
	trigger    IJobTrigger
	rebuildJob string
}

func NewIndexHandler(queue IIndexQueue, index ICaseIndex, trigger IJobTrigger, rebuildJob string) *IndexHandler {
	return &IndexHandler{queue: queue, index: index, trigger: trigger, rebuildJob: rebuildJob}
}

func (h *IndexHandler) IndexRepair(c *gin.Context) {
	var req model.Repair
	if err := c.ShouldBindJSON(&req); err != nil || req.ID <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if !h.queue.EnqueueRepair(c.Request.Context(), &req) {
		handleError(c, appErr.ErrQueueFull)
		return
	}
	response.Success(c, gin.H{"source_key": service.RepairSourceKey(req.ID), "queued": true})
}

func (h *IndexHandler) IndexArticle(c *gin.Context) {
	var req model.Article
	if err := c.ShouldBindJSON(&req); err != nil || req.ID <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if !h.queue.EnqueueArticle(c.Request.Context(), &req) {
		handleError(c, appErr.ErrQueueFull)
		return
	}
	response.Success(c, gin.H{"source_key": service.ArticleSourceKey(req.ID), "queued": true})
}

// UnindexRepair and UnindexArticle are the removal hooks of the source
// system. They go through the queue so they apply after pending upserts.
func (h *IndexHandler) UnindexRepair(c *gin.Context) {
	h.unindex(c, service.RepairSourceKey)
}

func (h *IndexHandler) UnindexArticle(c *gin.Context) {
	h.unindex(c, service.ArticleSourceKey)
}

func (h *IndexHandler) unindex(c *gin.Context, keyOf func(int64) string) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, errcode.ErrInvalid, "invalid id")
		return
	}
	key := keyOf(id)
	if !h.queue.EnqueueDelete(c.Request.Context(), key) {
		handleError(c, appErr.ErrQueueFull)
		return
	}
	response.Success(c, gin.H{"source_key": key, "queued": true})
}

func (h *IndexHandler) DeleteCase(c *gin.Context) {
	key := c.Param("key")
	if err := h.index.Delete(c.Request.Context(), key); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"source_key": key, "deleted": true})
}

func (h *IndexHandler) Rebuild(c *gin.Context) {
	if err := h.trigger.Trigger(h.rebuildJob); err != nil {
		if errors.Is(err, schedule.ErrJobRunning) {
			response.Error(c, errcode.ErrConflict, "rebuild already running")
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"started": true})
}

func (h *IndexHandler) Status(c *gin.Context) {
	count, err := h.index.Count(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"cases": count, "pending": h.queue.Pending()})
}
