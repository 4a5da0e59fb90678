package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var ErrJobRunning = fmt.Errorf("job is already running")

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	// AddJob registers job. An empty spec registers it for Trigger only.
	AddJob(job Job, spec string) error
	// Trigger starts a registered job now in the background. It returns
	// ErrJobRunning when a run of the same job is in progress.
	Trigger(name string) error
	Start(ctx context.Context)
	Stop()
}

type scheduledJob struct {
	job     Job
	spec    string
	running atomic.Bool
}

type CronScheduler struct {
	cron *cron.Cron
	ctx  context.Context

	mu      sync.RWMutex
	jobs    map[string]*scheduledJob
	entries map[string]cron.EntryID
	wg      sync.WaitGroup
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		ctx:     context.Background(),
		jobs:    make(map[string]*scheduledJob),
		entries: make(map[string]cron.EntryID),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	item := &scheduledJob{job: job, spec: spec}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	if spec != "" {
		entryID, err := c.cron.AddFunc(spec, func() {
			if err := c.run(item); err != nil {
				logger.Info("job skipped: still running")
			}
		})
		if err != nil {
			logger.Error("schedule job failed", zap.Error(err))
			return err
		}
		c.entries[name] = entryID
		logger.Info("job scheduled")
	}
	c.jobs[name] = item
	return nil
}

func (c *CronScheduler) Trigger(name string) error {
	c.mu.RLock()
	item, ok := c.jobs[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not registered", name)
	}
	if !item.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer item.running.Store(false)
		c.execute(item)
	}()
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx = ctx
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.wg.Wait()
}

func (c *CronScheduler) run(item *scheduledJob) error {
	if !item.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer item.running.Store(false)
	c.execute(item)
	return nil
}

func (c *CronScheduler) execute(item *scheduledJob) {
	ctx := c.ctx
	logger := logutil.GetLogger(ctx).With(
		zap.String("job", item.job.Name()),
		zap.String("spec", item.spec),
	)
	start := time.Now()
	logger.Info("job started")
	err := item.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
}
