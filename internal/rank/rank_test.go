package rank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
	"eures-rank/internal/store/memory"
)

func corpus() []domain.JobRecord {
	return []domain.JobRecord{
		{ID: "c", Embedding: []float32{0, 1}},
		{ID: "b", Embedding: []float32{0.7, 0.7}},
		{ID: "d"},
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "e", Embedding: []float32{0, 0}},
	}
}

func ids(p Page) []string {
	out := make([]string, len(p.Results))
	for i, r := range p.Results {
		out[i] = r.Record.ID
	}
	return out
}

func TestRankOrdersByScoreAndExcludesUnembedded(t *testing.T) {
	p := Rank([]float32{1, 0}, corpus(), 1, 10)
	assert.Equal(t, 4, p.Total)
	assert.Equal(t, []string{"a", "b", "c", "e"}, ids(p))
	assert.InDelta(t, 1.0, p.Results[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, p.Results[1].Score, 1e-3)
	assert.Zero(t, p.Results[2].Score)
	assert.Zero(t, p.Results[3].Score, "zero vector scores 0")
}

func TestRankTiesBreakByID(t *testing.T) {
	recs := []domain.JobRecord{
		{ID: "z", Embedding: []float32{1, 1}},
		{ID: "m", Embedding: []float32{2, 2}},
		{ID: "a", Embedding: []float32{3, 3}},
	}
	p := Rank([]float32{1, 1}, recs, 1, 10)
	assert.Equal(t, []string{"a", "m", "z"}, ids(p))
}

func TestRankPagination(t *testing.T) {
	p := Rank([]float32{1, 0}, corpus(), 2, 3)
	assert.Equal(t, []string{"e"}, ids(p))
	assert.Equal(t, 2, p.Pages())

	p = Rank([]float32{1, 0}, corpus(), 3, 3)
	assert.Empty(t, p.Results)
	assert.Equal(t, 4, p.Total)

	p = Rank([]float32{1, 0}, corpus(), 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
}

func TestRankIsDeterministic(t *testing.T) {
	first := Rank([]float32{0.3, 0.9}, corpus(), 1, 2)
	for range 10 {
		assert.Equal(t, first, Rank([]float32{0.3, 0.9}, corpus(), 1, 2))
	}
}

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) Name() string   { return "count" }
func (e *countingEmbedder) Dimension() int { return 2 }
func (e *countingEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls++
	return []float32{1, 0}, nil
}

func TestServiceQueryCachesVector(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	for _, rec := range corpus() {
		_, err := store.Upsert(ctx, domain.JobRecord{ID: rec.ID})
		require.NoError(t, err)
		if rec.HasEmbedding() {
			require.NoError(t, store.SetEmbedding(ctx, rec.ID, rec.Embedding))
		}
	}
	emb := &countingEmbedder{}
	svc := NewService(store, emb, time.Minute, nil)

	p1, err := svc.Query(ctx, "driver", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(p1))
	p2, err := svc.Query(ctx, " driver ", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, ids(p1), ids(p2))
	assert.Equal(t, 1, emb.calls)

	_, err = svc.Query(ctx, "  ", 1, 2)
	assert.Error(t, err)
}

func TestServiceRanksOnlyEmbeddedRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	recs := []domain.JobRecord{
		{ID: "up", Embedding: []float32{0, 1}},
		{ID: "pending-1"},
		{ID: "right", Embedding: []float32{1, 0}},
		{ID: "pending-2"},
		{ID: "diag", Embedding: []float32{0.7, 0.7}},
	}
	for _, rec := range recs {
		_, err := store.Upsert(ctx, domain.JobRecord{ID: rec.ID})
		require.NoError(t, err)
		if rec.HasEmbedding() {
			require.NoError(t, store.SetEmbedding(ctx, rec.ID, rec.Embedding))
		}
	}
	svc := NewService(store, &countingEmbedder{}, time.Minute, nil)

	p, err := svc.Query(ctx, "warehouse", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Equal(t, []string{"right", "diag", "up"}, ids(p))
	assert.InDelta(t, 1.0, p.Results[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, p.Results[1].Score, 1e-3)
	assert.InDelta(t, 0.0, p.Results[2].Score, 1e-6)
	assert.Greater(t, p.Results[0].Score, p.Results[1].Score)
	assert.Greater(t, p.Results[1].Score, p.Results[2].Score)
}
