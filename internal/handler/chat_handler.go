package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/model"
	"github.com/xxxsen/casememo/internal/pkg/errcode"
	"github.com/xxxsen/casememo/internal/pkg/response"
	"github.com/xxxsen/casememo/internal/service"
)

const (
	headerModelBackend  = "X-Model-Backend"
	headerModelCostTier = "X-Model-Cost-Tier"
	headerChatMode      = "X-Chat-Mode"
)

type IChatStarter interface {
	Start(ctx context.Context, input service.ChatInput) (*service.ChatSession, error)
}

type ChatHandler struct {
	chat IChatStarter
}

func NewChatHandler(chat IChatStarter) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type chatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
	Mode     string              `json:"mode"`
}

// Chat selects a backend and streams the answer as server-sent events. Errors
// that happen before the first byte use the regular JSON envelope.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	mode := model.ChatMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	switch mode {
	case "", model.ChatModeText, model.ChatModeVision:
	default:
		response.Error(c, errcode.ErrInvalid, "invalid mode")
		return
	}

	ctx := c.Request.Context()
	session, err := h.chat.Start(ctx, service.ChatInput{Messages: req.Messages, Mode: mode})
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header(headerModelBackend, session.Backend)
	c.Header(headerModelCostTier, session.CostTier)
	c.Header(headerChatMode, string(session.Mode))
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	err = session.Stream(ctx, func(delta string) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.SSEvent("delta", gin.H{"text": delta})
		c.Writer.Flush()
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logutil.GetLogger(ctx).Info("chat client went away", zap.String("backend", session.Backend))
			return
		}
		c.SSEvent("error", gin.H{"code": "stream_interrupted", "message": "the answer was interrupted, please retry"})
		c.Writer.Flush()
		return
	}
	c.SSEvent("done", gin.H{"backend": session.Backend, "context_used": session.ContextUsed})
	c.Writer.Flush()
}
