package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/config"
	"github.com/xxxsen/casememo/internal/db"
	"github.com/xxxsen/casememo/internal/embedcache"
	"github.com/xxxsen/casememo/internal/filestore"
	"github.com/xxxsen/casememo/internal/handler"
	"github.com/xxxsen/casememo/internal/job"
	"github.com/xxxsen/casememo/internal/middleware"
	"github.com/xxxsen/casememo/internal/repo"
	"github.com/xxxsen/casememo/internal/schedule"
	"github.com/xxxsen/casememo/internal/service"
)

const (
	apiPrefix     = "/api/v1"
	shutdownGrace = 30 * time.Second
)

// app holds everything the subcommands share. Fields that depend on the
// postgres case store stay nil with the memory store.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	cases    repo.ICaseRepo
	caseRepo *repo.CaseRepo
	sources  service.ISourceRepo
	embedder *ai.Embedder
	cached   ai.IEmbedder
	index    *service.IndexService
}

func openStore(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, cfg.Embedding.Dimension); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logutil.GetLogger(ctx)
	a := &app{cfg: cfg}

	embedder, err := ai.NewEmbedder(ai.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		Args:      cfg.Embedding.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	a.embedder = embedder
	var cached ai.IEmbedder = embedder

	switch cfg.CaseStore.Type {
	case "postgres":
		conn, err := openStore(cfg)
		if err != nil {
			return nil, err
		}
		a.db = conn
		a.caseRepo = repo.NewCaseRepo(conn, cfg.Embedding.Dimension)
		a.cases = a.caseRepo
		a.sources = repo.NewSourceRepo(conn, cfg.Index.RepairTable, cfg.Index.ArticleTable)
		if cfg.Embedding.DBCache {
			cached = embedcache.WrapDBCacheToEmbedder(cached, repo.NewEmbeddingCacheRepo(conn))
		}
	default:
		logger.Warn("using in-memory case store, cases are lost on restart and bulk indexing is disabled")
		a.cases = repo.NewMemoryCaseRepo(cfg.Embedding.Dimension)
	}
	if cfg.Embedding.LRUSize > 0 {
		cached = embedcache.WrapLruCacheToEmbedder(cached, cfg.Embedding.LRUSize, time.Duration(cfg.Embedding.LRUTTLSeconds)*time.Second)
	}
	a.cached = cached

	a.index = service.NewIndexService(a.cached, a.cases, a.sources, service.IndexConfig{
		TerminalStatuses:  cfg.Index.TerminalStatuses,
		MinDiagnosisChars: cfg.Index.MinDiagnosisChars,
		MaxRetries:        cfg.Index.MaxRetries,
		PageSize:          cfg.Index.PageSize,
	})
	return a, nil
}

// checkDimension fails startup when the stored vectors were written with a
// different width than the configured model produces.
func (a *app) checkDimension(ctx context.Context) error {
	if a.caseRepo == nil {
		return nil
	}
	if err := a.caseRepo.EnsureDimension(ctx); err != nil {
		return fmt.Errorf("%w, run `casememo reindex --reset` after changing embedding.dimension", err)
	}
	return nil
}

func (a *app) Close() {
	if err := a.embedder.Close(); err != nil {
		logutil.GetLogger(context.Background()).Error("close embedder failed", zap.Error(err))
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildCandidates(cfg config.ChatConfig) ([]ai.Candidate, error) {
	out := make([]ai.Candidate, 0, len(cfg.Candidates))
	for _, item := range cfg.Candidates {
		provider, err := ai.NewChatProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init chat candidate %s: %w", item.Name, err)
		}
		out = append(out, ai.Candidate{
			Name:     item.Name,
			CostTier: item.CostTier,
			Vision:   item.Vision,
			Provider: provider,
			Model:    item.Model,
		})
	}
	return out, nil
}

func runMigrate(cfg *config.Config) error {
	if cfg.CaseStore.Type != "postgres" {
		return fmt.Errorf("migrate needs case_store.type postgres")
	}
	conn, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	logutil.GetLogger(context.Background()).Info("migrations applied", zap.Int("dimension", cfg.Embedding.Dimension))
	return nil
}

func runReindex(ctx context.Context, cfg *config.Config, reset bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logutil.GetLogger(ctx)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.caseRepo == nil {
		return fmt.Errorf("reindex needs case_store.type postgres")
	}
	if reset {
		logger.Warn("dropping case table before reindex")
		if err := a.caseRepo.Reset(ctx); err != nil {
			return err
		}
		if err := db.ApplyMigrations(a.db, cfg.Embedding.Dimension); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		removed, err := repo.NewEmbeddingCacheRepo(a.db).DeleteOtherModels(ctx, a.embedder.ModelName())
		if err != nil {
			return fmt.Errorf("purge embedding cache: %w", err)
		}
		logger.Info("purged embedding cache of other models", zap.Int64("removed", removed))
	}
	if err := a.checkDimension(ctx); err != nil {
		return err
	}
	if err := a.embedder.Init(ctx); err != nil {
		return err
	}
	result, err := a.index.RebuildAll(ctx)
	if err != nil {
		return err
	}
	logger.Info("reindex finished",
		zap.Int("repairs", result.Repairs),
		zap.Int("articles", result.Articles),
		zap.Int("indexed", result.Indexed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed))
	return nil
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", cfg.Port),
		zap.String("case_store", cfg.CaseStore.Type),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.String("file_store", cfg.FileStore.Type),
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.checkDimension(ctx); err != nil {
		return err
	}
	if err := a.embedder.Init(ctx); err != nil {
		return err
	}

	candidates, err := buildCandidates(cfg.Chat)
	if err != nil {
		return err
	}
	router := ai.NewRouter(candidates, ai.RouterConfig{
		ProbeTimeout: time.Duration(cfg.Chat.ProbeTimeoutSeconds) * time.Second,
	})
	for i, item := range router.Candidates() {
		logger.Info("chat cascade candidate", zap.Int("order", i), zap.String("name", item.Name),
			zap.String("cost_tier", item.CostTier), zap.Bool("vision", item.Vision))
	}

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	retrieval := service.NewRetrievalService(a.cached, a.cases, service.RetrievalConfig{
		TopK:            cfg.Retrieval.TopK,
		MinScore:        cfg.Retrieval.MinScore,
		MinQueryChars:   cfg.Retrieval.MinQueryChars,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		MaxEntryChars:   cfg.Retrieval.MaxEntryChars,
	})
	chat := service.NewChatService(retrieval, router, store, service.ChatConfig{
		MaxHistoryTurns: cfg.Chat.MaxHistoryTurns,
		MaxTurnChars:    cfg.Chat.MaxTurnChars,
		StreamTimeout:   time.Duration(cfg.Chat.StreamTimeoutSeconds) * time.Second,
	})
	queue := service.NewIndexQueue(a.index, service.IndexQueueConfig{
		Workers:   cfg.Index.Workers,
		QueueSize: cfg.Index.QueueSize,
		Timeout:   time.Duration(cfg.Index.TimeoutSeconds) * time.Second,
	})
	defer queue.Close()

	caseIndexJob := job.NewCaseIndexJob(a.index)
	scheduler := schedule.NewCronScheduler()
	if a.sources != nil {
		if err := scheduler.AddJob(caseIndexJob, cfg.Index.BulkCron); err != nil {
			return fmt.Errorf("schedule %s: %w", caseIndexJob.Name(), err)
		}
	}
	if a.db != nil && cfg.EmbeddingCacheCleanup.Cron != "" {
		cleanup := job.NewEmbeddingCacheCleanupJob(repo.NewEmbeddingCacheRepo(a.db), cfg.EmbeddingCacheCleanup.MaxAgeDays)
		if err := scheduler.AddJob(cleanup, cfg.EmbeddingCacheCleanup.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", cleanup.Name(), err)
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	deps := handler.RouterDeps{
		Chat:          handler.NewChatHandler(chat),
		Retrieval:     handler.NewRetrievalHandler(retrieval),
		Index:         handler.NewIndexHandler(queue, a.index, scheduler, caseIndexJob.Name()),
		Files:         handler.NewFileHandler(store, 0),
		ChatRateLimit: time.Duration(cfg.Chat.RateLimitSeconds) * time.Second,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		apiPrefix,
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{apiPrefix + "/chat"})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logger.Info("http server listening", zap.String("addr", addr))

	srv := &http.Server{Addr: addr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}
	logger.Info("server stopping, draining index queue", zap.Int64("pending", queue.Pending()))
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn("index queue drain timed out, pending jobs dropped", zap.Error(err))
	}
	return serveErr
}
