package service

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
)

const (
	defaultQueueWorkers = 2
	defaultQueueSize    = 256
)

type indexJobKind int

const (
	indexJobRepair indexJobKind = iota
	indexJobArticle
	indexJobDelete
)

type indexJob struct {
	kind    indexJobKind
	repair  *model.Repair
	article *model.Article
	key     string
}

func (j indexJob) sourceKey() string {
	switch j.kind {
	case indexJobRepair:
		return RepairSourceKey(j.repair.ID)
	case indexJobArticle:
		return ArticleSourceKey(j.article.ID)
	}
	return j.key
}

type IndexQueueConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// IndexQueue runs incremental index updates off the request path. Enqueue
// never blocks: a full queue drops the job and reports false. Jobs for the
// same source key always land on the same worker, so they apply in order.
type IndexQueue struct {
	svc     *IndexService
	cfg     IndexQueueConfig
	shards  []chan indexJob
	base    context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	pending atomic.Int64
}

func NewIndexQueue(svc *IndexService, cfg IndexQueueConfig) *IndexQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultQueueWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	shardSize := max(cfg.QueueSize/cfg.Workers, 1)
	q := &IndexQueue{
		svc:    svc,
		cfg:    cfg,
		shards: make([]chan indexJob, cfg.Workers),
	}
	q.base, q.abort = context.WithCancel(context.Background())
	q.wg.Add(cfg.Workers)
	for i := range q.shards {
		q.shards[i] = make(chan indexJob, shardSize)
		go q.worker(i, q.shards[i])
	}
	return q
}

func (q *IndexQueue) EnqueueRepair(ctx context.Context, r *model.Repair) bool {
	return q.enqueue(ctx, indexJob{kind: indexJobRepair, repair: r})
}

func (q *IndexQueue) EnqueueArticle(ctx context.Context, a *model.Article) bool {
	return q.enqueue(ctx, indexJob{kind: indexJobArticle, article: a})
}

func (q *IndexQueue) EnqueueDelete(ctx context.Context, sourceKey string) bool {
	return q.enqueue(ctx, indexJob{kind: indexJobDelete, key: sourceKey})
}

// Pending is the number of jobs queued or running.
func (q *IndexQueue) Pending() int64 {
	return q.pending.Load()
}

func (q *IndexQueue) enqueue(ctx context.Context, job indexJob) bool {
	logger := logutil.GetLogger(ctx).With(zap.String("source_key", job.sourceKey()))
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		logger.Error("index job dropped, queue closed")
		return false
	}
	q.pending.Add(1)
	select {
	case q.shardFor(job.sourceKey()) <- job:
		logger.Debug("index job queued")
		return true
	default:
		q.pending.Add(-1)
		logger.Error("index job dropped, queue full", zap.Int("queue_size", q.cfg.QueueSize))
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *IndexQueue) Close() {
	q.stop()
	q.wg.Wait()
}

// Shutdown is Close bounded by ctx. When ctx ends first, running jobs are
// cancelled, queued ones are dropped, and Shutdown still waits for the
// workers to exit so the caller can release what they use.
func (q *IndexQueue) Shutdown(ctx context.Context) error {
	q.stop()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	q.abort()
	<-done
	return ctx.Err()
}

func (q *IndexQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, shard := range q.shards {
		close(shard)
	}
}

func (q *IndexQueue) shardFor(key string) chan indexJob {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

func (q *IndexQueue) worker(id int, jobs <-chan indexJob) {
	defer q.wg.Done()
	for job := range jobs {
		if q.base.Err() == nil {
			q.process(id, job)
		}
		q.pending.Add(-1)
	}
}

func (q *IndexQueue) process(id int, job indexJob) {
	ctx := q.base
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}
	logger := logutil.GetLogger(ctx).With(zap.Int("worker_id", id), zap.String("source_key", job.sourceKey()))
	var (
		outcome IndexOutcome
		err     error
	)
	switch job.kind {
	case indexJobRepair:
		outcome, err = q.svc.IndexRepair(ctx, job.repair)
	case indexJobArticle:
		outcome, err = q.svc.IndexArticle(ctx, job.article)
	case indexJobDelete:
		err = q.svc.Delete(ctx, job.key)
		if appErr.IsNotFound(err) {
			err = nil
		}
		outcome = "deleted"
	}
	if err != nil {
		logger.Error("index job failed", zap.Error(err))
		return
	}
	logger.Info("index job finished", zap.String("outcome", string(outcome)))
}
