package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/pkg/errcode"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, ai.ErrInvalidCredentials):
		response.Error(c, errcode.ErrAIInvalidCredentials, "chat backend credentials rejected")
	case errors.Is(err, ai.ErrAllBackendsExhausted), errors.Is(err, ai.ErrBackendUnavailable):
		response.Fail(c, http.StatusServiceUnavailable, errcode.ErrAIUnavailable, "all backends temporarily unavailable")
	case errors.Is(err, appErr.ErrDimensionMismatch):
		response.Error(c, errcode.ErrDimensionMismatch, "embedding dimension mismatch")
	case errors.Is(err, appErr.ErrQueueFull):
		response.Fail(c, http.StatusServiceUnavailable, errcode.ErrIndexQueueFull, "index queue full")
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid), errors.Is(err, ai.ErrEmptyInput):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
