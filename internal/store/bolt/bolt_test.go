package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	out, err := s.Upsert(ctx, domain.JobRecord{ID: "j1", Title: "Welder", Metadata: map[string]string{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, domain.Inserted, out)
	require.NoError(t, s.SetEmbedding(ctx, "j1", []float32{0.5, -1}))
	require.NoError(t, s.SetAnnotation(ctx, "j1", domain.Annotation{Score: 9, Justification: "fit"}))

	out, err = s.Upsert(ctx, domain.JobRecord{ID: "j1", Title: "Senior Welder"})
	require.NoError(t, err)
	assert.Equal(t, domain.Updated, out)

	rec, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "Senior Welder", rec.Title)
	assert.Equal(t, []float32{0.5, -1}, rec.Embedding)
	require.NotNil(t, rec.Annotation)
	assert.Equal(t, "fit", rec.Annotation.Justification)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Embedded)
}

func TestListAfterSkipsEmbedded(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	for _, id := range []string{"3", "1", "4", "2"} {
		_, err := s.Upsert(ctx, domain.JobRecord{ID: id})
		require.NoError(t, err)
	}
	require.NoError(t, s.SetEmbedding(ctx, "2", []float32{1}))

	recs, err := s.ListAfter(ctx, "1", true, 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "3", recs[0].ID)
	assert.Equal(t, "4", recs[1].ID)

	recs, err = s.ListAfter(ctx, "", false, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "1", recs[0].ID)

	emb, err := s.Embedded(ctx)
	require.NoError(t, err)
	require.Len(t, emb, 1)
	assert.Equal(t, "2", emb[0].ID)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Upsert(ctx, domain.JobRecord{ID: id})
		require.NoError(t, err)
	}
	recs, err := s.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].ID)
}

func TestMissingRecord(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.SetEmbedding(ctx, "x", []float32{1}), domain.ErrNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, domain.JobRecord{ID: "a", Title: "Cook"})
	require.NoError(t, err)
	require.NoError(t, s.SetEmbedding(ctx, "a", []float32{1, 2, 3}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Cook", rec.Title)
	assert.Equal(t, []float32{1, 2, 3}, rec.Embedding)
}
