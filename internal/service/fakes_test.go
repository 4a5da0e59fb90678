package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
	"github.com/xxxsen/casememo/internal/pkg/vecutil"
)

// conceptGroups maps each vector dimension to the words that light it up.
// The last dimension is a small constant so no text embeds to zero.
var conceptGroups = [][]string{
	{"pantalla", "display", "lcd", "manchas", "quemada"},
	{"prende", "enciende", "sobretensión", "sobretension", "voltaje"},
	{"bateria", "batería", "carga", "hinchada"},
	{"factur", "error", "cobro"},
	{"agua", "líquido", "liquido", "humedad", "sulfat"},
}

const testDim = 6

type conceptEmbedder struct {
	mu    sync.Mutex
	calls int
	// failOn makes Embed fail for any text containing it.
	failOn  string
	failErr error
	dim     int
}

func newConceptEmbedder() *conceptEmbedder {
	return &conceptEmbedder{dim: testDim}
}

func (e *conceptEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return nil, ai.ErrEmptyInput
	}
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, e.failErr
	}
	vec := make([]float32, e.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		for i, group := range conceptGroups {
			if i >= e.dim {
				break
			}
			for _, kw := range group {
				if strings.Contains(word, kw) {
					vec[i]++
					break
				}
			}
		}
	}
	vec[e.dim-1] = 0.1
	out, ok := vecutil.Normalize(vec)
	if !ok {
		return nil, ai.ErrEmbeddingUnavailable
	}
	return out, nil
}

func (e *conceptEmbedder) ModelName() string {
	return "concept"
}

func (e *conceptEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeSourceRepo struct {
	repairs  []model.Repair
	articles []model.Article
}

func (f *fakeSourceRepo) ListClosedRepairs(ctx context.Context, statuses []string, afterID int64, limit uint) ([]model.Repair, error) {
	allowed := map[string]bool{}
	for _, s := range statuses {
		allowed[s] = true
	}
	out := []model.Repair{}
	for _, r := range f.repairs {
		if r.ID > afterID && allowed[r.Status] && uint(len(out)) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSourceRepo) ListArticles(ctx context.Context, afterID int64, limit uint) ([]model.Article, error) {
	out := []model.Article{}
	for _, a := range f.articles {
		if a.ID > afterID && uint(len(out)) < limit {
			out = append(out, a)
		}
	}
	return out, nil
}

type recordingProvider struct {
	mu       sync.Mutex
	requests []*ai.ChatRequest
	deltas   []string
}

func (p *recordingProvider) Name() string {
	return "recording"
}

func (p *recordingProvider) Probe(ctx context.Context, model string) error {
	return nil
}

func (p *recordingProvider) Stream(ctx context.Context, model string, req *ai.ChatRequest, onDelta func(string) error) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	for _, d := range p.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

type fakeSelector struct {
	provider *recordingProvider
	err      error
	vision   []bool
}

func (f *fakeSelector) Select(ctx context.Context, vision bool) (*ai.Selection, error) {
	f.vision = append(f.vision, vision)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.Selection{Candidate: ai.Candidate{
		Name:     "groq/llama",
		CostTier: ai.CostTierFree,
		Vision:   vision,
		Provider: f.provider,
		Model:    "llama",
	}}, nil
}

type fakeRetriever struct {
	context string
	queries []string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, k int, minScore float32) string {
	f.queries = append(f.queries, query)
	return f.context
}

type fakeImageStore struct {
	files map[string][]byte
}

func (f *fakeImageStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
