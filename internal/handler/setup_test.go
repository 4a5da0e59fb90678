package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/config"
	"github.com/xxxsen/casememo/internal/filestore"
	"github.com/xxxsen/casememo/internal/handler"
	"github.com/xxxsen/casememo/internal/middleware"
	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/schedule"
	"github.com/xxxsen/casememo/internal/service"
)

type streamingProvider struct {
	deltas []string
	err    error
}

func (p *streamingProvider) Name() string { return "fake" }

func (p *streamingProvider) Probe(ctx context.Context, model string) error { return nil }

func (p *streamingProvider) Stream(ctx context.Context, model string, req *ai.ChatRequest, onDelta func(string) error) error {
	for _, d := range p.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return p.err
}

type staticSelector struct {
	selection *ai.Selection
	err       error
	visions   []bool
}

func (s *staticSelector) Select(ctx context.Context, vision bool) (*ai.Selection, error) {
	s.visions = append(s.visions, vision)
	if s.err != nil {
		return nil, s.err
	}
	return s.selection, nil
}

type fakeSearcher struct {
	items    []model.ScoredCase
	err      error
	query    string
	k        int
	minScore float32
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int, minScore float32) ([]model.ScoredCase, error) {
	f.query, f.k, f.minScore = query, k, minScore
	return f.items, f.err
}

func (f *fakeSearcher) FormatContext(items []model.ScoredCase) string {
	return service.FormatContext(items, 2400, 600)
}

type fakeQueue struct {
	mu       sync.Mutex
	full     bool
	repairs  []int64
	articles []int64
	deletes  []string
}

func (q *fakeQueue) EnqueueRepair(ctx context.Context, r *model.Repair) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.repairs = append(q.repairs, r.ID)
	return true
}

func (q *fakeQueue) EnqueueArticle(ctx context.Context, a *model.Article) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.articles = append(q.articles, a.ID)
	return true
}

func (q *fakeQueue) EnqueueDelete(ctx context.Context, sourceKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.full {
		return false
	}
	q.deletes = append(q.deletes, sourceKey)
	return true
}

func (q *fakeQueue) Pending() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.repairs) + len(q.articles) + len(q.deletes))
}

type fakeIndex struct {
	keys map[string]bool
}

func (f *fakeIndex) Delete(ctx context.Context, sourceKey string) error {
	if _, _, err := service.ParseSourceKey(sourceKey); err != nil {
		return err
	}
	if !f.keys[sourceKey] {
		return appErr.ErrNotFound
	}
	delete(f.keys, sourceKey)
	return nil
}

func (f *fakeIndex) Count(ctx context.Context) (int64, error) {
	return int64(len(f.keys)), nil
}

type fakeTrigger struct {
	names []string
	err   error
}

func (f *fakeTrigger) Trigger(name string) error {
	if f.err != nil {
		return f.err
	}
	f.names = append(f.names, name)
	return nil
}

type testEnv struct {
	router   http.Handler
	selector *staticSelector
	provider *streamingProvider
	searcher *fakeSearcher
	queue    *fakeQueue
	index    *fakeIndex
	trigger  *fakeTrigger
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	provider := &streamingProvider{deltas: []string{"Revisar ", "el pin de carga"}}
	selector := &staticSelector{selection: &ai.Selection{Candidate: ai.Candidate{
		Name:     "groq/llama",
		CostTier: ai.CostTierFree,
		Vision:   true,
		Provider: provider,
		Model:    "llama",
	}}}
	store, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	chat := service.NewChatService(nil, selector, store, service.ChatConfig{})

	env := &testEnv{
		selector: selector,
		provider: provider,
		searcher: &fakeSearcher{},
		queue:    &fakeQueue{},
		index:    &fakeIndex{keys: map[string]bool{"repair:7": true, "article:7": true}},
		trigger:  &fakeTrigger{},
	}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	handler.RegisterRoutes(engine.Group("/api/v1"), handler.RouterDeps{
		Chat:      handler.NewChatHandler(chat),
		Retrieval: handler.NewRetrievalHandler(env.searcher),
		Index:     handler.NewIndexHandler(env.queue, env.index, env.trigger, "case_index"),
		Files:     handler.NewFileHandler(store, 0),
	})
	env.router = engine
	return env
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var _ handler.IJobTrigger = (*schedule.CronScheduler)(nil)
