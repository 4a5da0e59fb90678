package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/casememo/internal/middleware"
)

type RouterDeps struct {
	Chat          *ChatHandler
	Retrieval     *RetrievalHandler
	Index         *IndexHandler
	Files         *FileHandler
	ChatRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/chat", middleware.RateLimit(deps.ChatRateLimit), deps.Chat.Chat)
	api.GET("/retrieve", deps.Retrieval.Retrieve)

	api.POST("/index/repairs", deps.Index.IndexRepair)
	api.POST("/index/articles", deps.Index.IndexArticle)
	api.DELETE("/index/repairs/:id", deps.Index.UnindexRepair)
	api.DELETE("/index/articles/:id", deps.Index.UnindexArticle)
	api.POST("/index/rebuild", deps.Index.Rebuild)
	api.GET("/index/status", deps.Index.Status)
	api.DELETE("/cases/:key", deps.Index.DeleteCase)

	api.POST("/files/upload", deps.Files.Upload)
	api.GET("/files/:key", deps.Files.Get)
}
