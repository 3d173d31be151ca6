package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
	"eures-rank/internal/fetcher"
	"eures-rank/internal/state"
	"eures-rank/internal/store/memory"
)

// fakeSource serves fixed pages of 2 records each and can fail once on a
// given page.
type fakeSource struct {
	pages   [][]domain.JobRecord
	failOn  int
	starts  []int
	invalid map[int][]error
}

func (s *fakeSource) Start() fetcher.Cursor { return fetcher.Cursor{Page: 1, PageSize: 2} }

func (s *fakeSource) Pages(_ context.Context, _ fetcher.Criteria, start fetcher.Cursor) iter.Seq2[fetcher.Page, error] {
	s.starts = append(s.starts, start.Page)
	return func(yield func(fetcher.Page, error) bool) {
		for cur := start; cur.Page <= len(s.pages); cur = cur.Next() {
			if cur.Page == s.failOn {
				s.failOn = 0
				yield(fetcher.Page{}, &domain.PageError{Page: cur.Page, Err: domain.ErrTransientNetwork})
				return
			}
			p := fetcher.Page{
				Cursor:  cur,
				Records: s.pages[cur.Page-1],
				Invalid: s.invalid[cur.Page],
				Last:    cur.Page == len(s.pages),
			}
			if !yield(p, nil) || p.Last {
				return
			}
		}
	}
}

func records(ids ...string) []domain.JobRecord {
	out := make([]domain.JobRecord, len(ids))
	for i, id := range ids {
		out[i] = domain.JobRecord{ID: id, Title: "Title " + id, Description: "desc"}
	}
	return out
}

func seq(recs []domain.JobRecord, errs ...error) iter.Seq2[domain.JobRecord, error] {
	return func(yield func(domain.JobRecord, error) bool) {
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
		for _, e := range errs {
			if !yield(domain.JobRecord{}, e) {
				return
			}
		}
	}
}

func newPipeline(t *testing.T, src PageSource, opts Options) (*Pipeline, *memory.Storage, state.Store) {
	t.Helper()
	st, err := state.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := memory.NewStorage()
	return New(store, st, src, opts), store, st
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newPipeline(t, nil, Options{})
	recs := records("a", "b", "c")

	sum, err := p.Ingest(ctx, seq(recs))
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 3, Inserted: 3}, sum)
	require.NoError(t, store.SetEmbedding(ctx, "b", []float32{1, 0}))

	recs[1].Title = "changed"
	sum, err = p.Ingest(ctx, seq(recs))
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 3, Updated: 3}, sum)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Embedded)

	b, err := store.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "changed", b.Title)
	assert.Equal(t, []float32{1, 0}, b.Embedding)
}

func TestIngestCountsDuplicatesFilteredAndFailed(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newPipeline(t, nil, Options{ExcludeTerms: []string{"UNPAID"}})
	recs := records("a", "b", "a")
	recs = append(recs, domain.JobRecord{ID: "x", Title: "Unpaid internship"})

	sum, err := p.Ingest(ctx, seq(recs, &domain.RecordError{ID: "bad", Err: domain.ErrMalformedPage}))
	require.NoError(t, err)
	assert.Equal(t, Summary{Fetched: 4, Inserted: 2, Duplicates: 1, Filtered: 1, Failed: 1}, sum)

	_, err = store.Get(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngestStopsOnFatalError(t *testing.T) {
	p, _, _ := newPipeline(t, nil, Options{})
	boom := errors.New("boom")
	sum, err := p.Ingest(context.Background(), seq(records("a"), boom))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sum.Inserted)
}

func TestRunResumesFromCursor(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		pages:  [][]domain.JobRecord{records("a", "b"), records("c", "d"), records("e")},
		failOn: 2,
	}
	p, store, st := newPipeline(t, src, Options{})

	sum, err := p.Run(ctx, fetcher.Criteria{}, true)
	require.Error(t, err)
	assert.Equal(t, 1, sum.Pages)
	assert.Equal(t, 2, sum.Inserted)

	var cur fetcher.Cursor
	ok, err := st.Get(ctx, state.KeyCursor, &cur)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, cur.Page)

	sum, err = p.Run(ctx, fetcher.Criteria{}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Pages)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, []int{1, 2}, src.starts)

	ok, err = st.Get(ctx, state.KeyCursor, &cur)
	require.NoError(t, err)
	assert.False(t, ok, "cursor is cleared once the listing is exhausted")

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
}

func TestRunWithoutResumeStartsOver(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{pages: [][]domain.JobRecord{records("a", "b"), records("c")}}
	p, _, st := newPipeline(t, src, Options{})
	require.NoError(t, st.Put(ctx, state.KeyCursor, fetcher.Cursor{Page: 2, PageSize: 2}))

	sum, err := p.Run(ctx, fetcher.Criteria{}, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, src.starts)
	assert.Equal(t, 3, sum.Inserted)
}

func TestRunTwiceKeepsRowCount(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		pages:   [][]domain.JobRecord{records("a", "b"), records("c")},
		invalid: map[int][]error{2: {&domain.RecordError{ID: "z", Err: fmt.Errorf("%w", domain.ErrMalformedPage)}}},
	}
	p, store, _ := newPipeline(t, src, Options{})

	first, err := p.Run(ctx, fetcher.Criteria{}, false)
	require.NoError(t, err)
	second, err := p.Run(ctx, fetcher.Criteria{}, false)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Inserted)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.Updated)
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}
