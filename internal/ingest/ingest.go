// Package ingest writes fetched vacancies into the job store, idempotently
// and resumably.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"eures-rank/internal/domain"
	"eures-rank/internal/fetcher"
	"eures-rank/internal/metrics"
	"eures-rank/internal/state"
)

// Summary is printed at the end of a run.
type Summary struct {
	Pages      int
	Fetched    int
	Inserted   int
	Updated    int
	Duplicates int
	Filtered   int
	Failed     int
}

// PageSource is the part of the fetcher the pipeline drives.
type PageSource interface {
	Start() fetcher.Cursor
	Pages(ctx context.Context, c fetcher.Criteria, start fetcher.Cursor) iter.Seq2[fetcher.Page, error]
}

type Options struct {
	// ExcludeTerms drops vacancies whose title or description mention any of them.
	ExcludeTerms []string
	Logger       *zap.Logger
	Metrics      *metrics.Collector
}

type Pipeline struct {
	store   domain.JobStore
	state   state.Store
	source  PageSource
	exclude []string
	log     *zap.Logger
	metrics *metrics.Collector
}

func New(store domain.JobStore, st state.Store, source PageSource, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:   store,
		state:   st,
		source:  source,
		exclude: opts.ExcludeTerms,
		log:     log,
		metrics: opts.Metrics,
	}
}

// Ingest upserts every record of the sequence. Records repeated within the
// sequence are written once and counted as duplicates. A *domain.RecordError
// is counted as failed and skipped; any other error ends the run.
func (p *Pipeline) Ingest(ctx context.Context, records iter.Seq2[domain.JobRecord, error]) (Summary, error) {
	var sum Summary
	seen := make(map[string]struct{})
	for rec, err := range records {
		if err != nil {
			if p.recordFailed(err, &sum) {
				continue
			}
			return sum, err
		}
		if err := p.apply(ctx, rec, seen, &sum); err != nil {
			return sum, err
		}
	}
	p.logSummary(sum)
	return sum, nil
}

// Run walks the listing for c and ingests it page by page. After each
// committed page the cursor of the next page is persisted, so with resume an
// interrupted run continues where it stopped. The cursor is deleted once the
// listing is exhausted.
func (p *Pipeline) Run(ctx context.Context, c fetcher.Criteria, resume bool) (Summary, error) {
	var sum Summary
	start := p.source.Start()
	if resume {
		var saved fetcher.Cursor
		ok, err := p.state.Get(ctx, state.KeyCursor, &saved)
		if err != nil {
			return sum, fmt.Errorf("load cursor: %w", err)
		}
		if ok && saved.Page > 0 {
			start = saved
			p.log.Info("resuming ingestion", zap.Int("page", saved.Page))
		}
	}

	seen := make(map[string]struct{})
	completed := false
	for page, err := range p.source.Pages(ctx, c, start) {
		if err != nil {
			p.logSummary(sum)
			return sum, err
		}
		sum.Pages++
		for _, rec := range page.Records {
			if err := p.apply(ctx, rec, seen, &sum); err != nil {
				return sum, err
			}
		}
		for _, e := range page.Invalid {
			p.recordFailed(e, &sum)
		}
		if page.Last {
			completed = true
			break
		}
		if err := p.state.Put(ctx, state.KeyCursor, page.Cursor.Next()); err != nil {
			return sum, fmt.Errorf("save cursor: %w", err)
		}
	}

	// A walk cut short by MaxPages keeps its cursor for the next run.
	if completed {
		if err := p.state.Delete(ctx, state.KeyCursor); err != nil {
			return sum, fmt.Errorf("clear cursor: %w", err)
		}
	}
	p.logSummary(sum)
	return sum, nil
}

func (p *Pipeline) apply(ctx context.Context, rec domain.JobRecord, seen map[string]struct{}, sum *Summary) error {
	sum.Fetched++
	if containsExcluded(rec.Title, rec.Description, p.exclude) {
		sum.Filtered++
		p.metrics.RecordUpserted("filtered")
		return nil
	}
	if _, dup := seen[rec.ID]; dup {
		sum.Duplicates++
		p.metrics.RecordUpserted("duplicate")
		return nil
	}
	seen[rec.ID] = struct{}{}

	outcome, err := p.store.Upsert(ctx, rec)
	if err != nil {
		return &domain.RecordError{ID: rec.ID, Err: err}
	}
	switch outcome {
	case domain.Inserted:
		sum.Inserted++
		p.metrics.RecordUpserted("inserted")
	case domain.Updated:
		sum.Updated++
		p.metrics.RecordUpserted("updated")
	}
	return nil
}

func (p *Pipeline) recordFailed(err error, sum *Summary) bool {
	var re *domain.RecordError
	if !errors.As(err, &re) {
		return false
	}
	sum.Failed++
	p.log.Warn("skipping malformed vacancy", zap.String("id", re.ID), zap.Error(re.Err))
	return true
}

func (p *Pipeline) logSummary(sum Summary) {
	p.log.Info("ingestion finished",
		zap.Int("pages", sum.Pages),
		zap.Int("fetched", sum.Fetched),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("filtered", sum.Filtered),
		zap.Int("failed", sum.Failed),
	)
}
