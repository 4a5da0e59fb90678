package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/repo"
)

func testIndexConfig() IndexConfig {
	return IndexConfig{
		TerminalStatuses:  []string{"repaired", "delivered", "closed"},
		MinDiagnosisChars: 5,
		MaxRetries:        2,
		RetryInterval:     time.Millisecond,
		PageSize:          2,
	}
}

func sampleSources() *fakeSourceRepo {
	return &fakeSourceRepo{
		repairs: []model.Repair{
			{ID: 100, TicketNumber: "T-100", DeviceBrand: "Samsung", DeviceModel: "A52", Problem: "no enciende", Diagnosis: "pantalla quemada por sobretensión", Status: "delivered"},
			{ID: 101, TicketNumber: "T-101", Problem: "no carga", Diagnosis: "", Status: "delivered"},
			{ID: 102, TicketNumber: "T-102", Problem: "se moja", Diagnosis: "placa sulfatada por humedad", Status: "in_progress"},
			{ID: 103, TicketNumber: "T-103", Problem: "no carga", Diagnosis: "bateria hinchada", Status: "closed"},
		},
		articles: []model.Article{
			{ID: 100, Title: "Daño por líquido", Problem: "equipo mojado", Solution: "limpieza con ultrasonido"},
		},
	}
}

func snapshot(t *testing.T, cases repo.ICaseRepo, keys ...string) map[string]model.CaseRecord {
	out := map[string]model.CaseRecord{}
	for _, key := range keys {
		rec, err := cases.GetByKey(context.Background(), key)
		require.NoError(t, err)
		out[key] = *rec
	}
	return out
}

func TestIndexService_RebuildAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	embedder := newConceptEmbedder()
	cases := repo.NewMemoryCaseRepo(testDim)
	svc := NewIndexService(embedder, cases, sampleSources(), testIndexConfig())

	first, err := svc.RebuildAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, first.Repairs)
	require.Equal(t, 1, first.Articles)
	require.Equal(t, 3, first.Indexed)
	require.Equal(t, 1, first.Skipped)
	require.Equal(t, 0, first.Failed)

	keys := []string{"repair:100", "repair:103", "article:100"}
	before := snapshot(t, cases, keys...)
	calls := embedder.callCount()

	second, err := svc.RebuildAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, second.Indexed)
	require.Equal(t, 3, second.Unchanged)
	require.Equal(t, calls, embedder.callCount())

	count, err := cases.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	after := snapshot(t, cases, keys...)
	for _, key := range keys {
		require.Equal(t, before[key].ContentText, after[key].ContentText)
		require.Equal(t, before[key].Embedding, after[key].Embedding)
	}

	_, err = cases.GetByKey(ctx, "repair:102")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestIndexService_ReindexReplacesSingleRow(t *testing.T) {
	ctx := context.Background()
	cases := repo.NewMemoryCaseRepo(testDim)
	svc := NewIndexService(newConceptEmbedder(), cases, nil, testIndexConfig())

	r := &model.Repair{ID: 5, TicketNumber: "T-5", Diagnosis: "bateria hinchada", Status: "repaired"}
	outcome, err := svc.IndexRepair(ctx, r)
	require.NoError(t, err)
	require.Equal(t, IndexOutcomeIndexed, outcome)

	r.Diagnosis = "pantalla quemada, se cambió el display"
	outcome, err = svc.IndexRepair(ctx, r)
	require.NoError(t, err)
	require.Equal(t, IndexOutcomeIndexed, outcome)

	count, err := cases.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	rec, err := cases.GetByKey(ctx, "repair:5")
	require.NoError(t, err)
	require.Contains(t, rec.ContentText, "display")
}

func TestIndexService_RepairAndArticleWithSameID(t *testing.T) {
	ctx := context.Background()
	cases := repo.NewMemoryCaseRepo(testDim)
	svc := NewIndexService(newConceptEmbedder(), cases, nil, testIndexConfig())

	_, err := svc.IndexRepair(ctx, &model.Repair{ID: 42, Diagnosis: "pin de carga roto", Status: "closed"})
	require.NoError(t, err)
	_, err = svc.IndexArticle(ctx, &model.Article{ID: 42, Title: "Pin de carga", Body: "cambiar pin"})
	require.NoError(t, err)

	count, err := cases.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	art, err := cases.GetByKey(ctx, "article:42")
	require.NoError(t, err)
	require.Equal(t, model.CaseKindArticle, art.Kind())
	require.Equal(t, "ART: Pin de carga", art.DisplayLabel)
}

func TestIndexService_ReopenedRepairLeftUntouched(t *testing.T) {
	ctx := context.Background()
	cases := repo.NewMemoryCaseRepo(testDim)
	svc := NewIndexService(newConceptEmbedder(), cases, nil, testIndexConfig())

	r := &model.Repair{ID: 9, Diagnosis: "pantalla quemada", Status: "delivered"}
	_, err := svc.IndexRepair(ctx, r)
	require.NoError(t, err)

	r.Status = "in_progress"
	r.Diagnosis = "revisando de nuevo"
	outcome, err := svc.IndexRepair(ctx, r)
	require.NoError(t, err)
	require.Equal(t, IndexOutcomeSkipped, outcome)

	rec, err := cases.GetByKey(ctx, "repair:9")
	require.NoError(t, err)
	require.Contains(t, rec.ContentText, "pantalla quemada")
}

type flakyEmbedder struct {
	*conceptEmbedder
	failures int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, fmt.Errorf("%w: model busy", ai.ErrEmbeddingUnavailable)
	}
	return f.conceptEmbedder.Embed(ctx, text, taskType)
}

func TestIndexService_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	cases := repo.NewMemoryCaseRepo(testDim)

	svc := NewIndexService(&flakyEmbedder{conceptEmbedder: newConceptEmbedder(), failures: 2}, cases, nil, testIndexConfig())
	outcome, err := svc.IndexRepair(ctx, &model.Repair{ID: 1, Diagnosis: "bateria hinchada", Status: "closed"})
	require.NoError(t, err)
	require.Equal(t, IndexOutcomeIndexed, outcome)

	svc = NewIndexService(&flakyEmbedder{conceptEmbedder: newConceptEmbedder(), failures: 5}, cases, nil, testIndexConfig())
	_, err = svc.IndexRepair(ctx, &model.Repair{ID: 2, Diagnosis: "bateria hinchada", Status: "closed"})
	require.ErrorIs(t, err, ai.ErrEmbeddingUnavailable)
}

func TestIndexService_RebuildSkipsFailedRecords(t *testing.T) {
	embedder := newConceptEmbedder()
	embedder.failOn = "hinchada"
	embedder.failErr = fmt.Errorf("%w: onnx crashed", ai.ErrEmbeddingUnavailable)
	cfg := testIndexConfig()
	cfg.MaxRetries = 0
	svc := NewIndexService(embedder, repo.NewMemoryCaseRepo(testDim), sampleSources(), cfg)

	res, err := svc.RebuildAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 2, res.Indexed)
}

func TestIndexService_RebuildHaltsOnDimensionMismatch(t *testing.T) {
	embedder := newConceptEmbedder()
	svc := NewIndexService(embedder, repo.NewMemoryCaseRepo(testDim+2), sampleSources(), testIndexConfig())

	res, err := svc.RebuildAll(context.Background())
	require.True(t, errors.Is(err, appErr.ErrDimensionMismatch))
	require.Equal(t, 1, res.Repairs)
}

func TestIndexService_Eligibility(t *testing.T) {
	svc := NewIndexService(newConceptEmbedder(), repo.NewMemoryCaseRepo(testDim), nil, testIndexConfig())
	require.True(t, svc.IsEligible(&model.Repair{Status: " Delivered ", Diagnosis: "flex roto"}))
	require.False(t, svc.IsEligible(&model.Repair{Status: "delivered", Diagnosis: " ok "}))
	require.False(t, svc.IsEligible(&model.Repair{Status: "pending", Diagnosis: "flex roto"}))
	require.False(t, svc.IsEligible(nil))
}

func TestIndexService_NilInputIsSkipped(t *testing.T) {
	ctx := context.Background()
	svc := NewIndexService(newConceptEmbedder(), repo.NewMemoryCaseRepo(testDim), nil, testIndexConfig())

	outcome, err := svc.IndexRepair(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, IndexOutcomeSkipped, outcome)
	outcome, err = svc.IndexArticle(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, IndexOutcomeSkipped, outcome)
}

func TestIndexService_DeleteValidatesKey(t *testing.T) {
	ctx := context.Background()
	cases := repo.NewMemoryCaseRepo(testDim)
	svc := NewIndexService(newConceptEmbedder(), cases, nil, testIndexConfig())

	require.ErrorIs(t, svc.Delete(ctx, "ticket:1"), appErr.ErrInvalid)
	require.ErrorIs(t, svc.Delete(ctx, "repair:1"), appErr.ErrNotFound)

	_, err := svc.IndexRepair(ctx, &model.Repair{ID: 1, Diagnosis: "bateria hinchada", Status: "closed"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, "repair:1"))
}

func TestIndexService_RebuildWithoutSources(t *testing.T) {
	svc := NewIndexService(newConceptEmbedder(), repo.NewMemoryCaseRepo(testDim), nil, testIndexConfig())
	_, err := svc.RebuildAll(context.Background())
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
