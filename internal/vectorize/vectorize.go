// Package vectorize computes embeddings for stored job records in resumable
// batches.
//
// Records are visited in ascending ID order. The checkpoint names the last
// ID up to which every record is known to carry an embedding; it is written
// only after the embedding write returned and never moves past a record that
// was skipped.
package vectorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eures-rank/internal/domain"
	"eures-rank/internal/metrics"
	"eures-rank/internal/state"
	"eures-rank/internal/textclean"
)

const defaultBatchSize = 100

type Options struct {
	// Resume skips every record at or before the saved checkpoint.
	Resume bool
	// Force re-embeds records that already have an embedding.
	Force bool
	// Limit caps the number of records attempted in this run; 0 means all.
	Limit int
}

type Checkpoint struct {
	LastID    string    `json:"last_id"`
	Count     int       `json:"count"`
	Force     bool      `json:"force"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Summary struct {
	Embedded int
	Skipped  int
	Failed   int
	Resumed  bool
	LastID   string
}

type Config struct {
	// Workers is the number of concurrent embedding calls; 1 or less is sequential.
	Workers   int
	BatchSize int
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

type Vectorizer struct {
	store    domain.JobStore
	state    state.Store
	embedder domain.Embedder
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

func New(store domain.JobStore, st state.Store, emb domain.Embedder, cfg Config) *Vectorizer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Vectorizer{
		store:    store,
		state:    st,
		embedder: emb,
		cfg:      cfg,
		log:      log,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// outcome of one record within a window.
type result struct {
	id   string
	done bool
	err  error
}

// Vectorize runs one pass. It stops at the first fatal provider error
// (domain.ErrProviderUnavailable), a store failure or cancellation; records
// the provider rejects individually are skipped and left unembedded.
//
// The run holds the state store's vectorize lock throughout and returns
// domain.ErrLocked when another run sharing that state holds it.
func (v *Vectorizer) Vectorize(ctx context.Context, opts Options) (sum Summary, err error) {
	unlock, err := v.state.Lock(ctx, state.LockVectorize)
	if err != nil {
		return sum, err
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			v.log.Warn("release vectorize lock", zap.Error(uerr))
		}
	}()

	started := v.now()
	defer func() {
		v.metrics.ObserveVectorize(v.now().Sub(started))
		v.log.Info("vectorize finished",
			zap.Int("embedded", sum.Embedded),
			zap.Int("skipped", sum.Skipped),
			zap.Int("failed", sum.Failed),
			zap.Bool("resumed", sum.Resumed),
			zap.String("last_id", sum.LastID),
			zap.Duration("took", v.now().Sub(started)),
			zap.Error(err),
		)
	}()

	cp, err := v.startingCheckpoint(ctx, opts)
	if err != nil {
		return sum, err
	}
	sum.Resumed = opts.Resume && cp.LastID != ""
	sum.LastID = cp.LastID
	v.log.Info("vectorize starting",
		zap.String("embedder", v.embedder.Name()),
		zap.Bool("force", cp.Force),
		zap.String("after", cp.LastID),
		zap.Int("workers", v.cfg.Workers),
	)

	cursor := cp.LastID
	frozen := false
	attempted := 0
	for {
		batch := v.cfg.BatchSize
		if opts.Limit > 0 {
			if attempted >= opts.Limit {
				return sum, nil
			}
			batch = min(batch, opts.Limit-attempted)
		}
		recs, err := v.store.ListAfter(ctx, cursor, !cp.Force, batch)
		if err != nil {
			return sum, fmt.Errorf("list records after %q: %w", cursor, err)
		}
		if len(recs) == 0 {
			return sum, nil
		}
		cursor = recs[len(recs)-1].ID

		for start := 0; start < len(recs); start += v.cfg.Workers {
			window := recs[start:min(start+v.cfg.Workers, len(recs))]
			attempted += len(window)
			results := v.embedWindow(ctx, window)

			var fatal error
			advanced := false
			for _, r := range results {
				switch {
				case r.done:
					sum.Embedded++
					if !frozen {
						cp.LastID = r.id
						cp.Count++
						advanced = true
					}
				case r.err == nil:
					// not attempted because the window was cancelled
					frozen = true
				case isFatal(r.err):
					frozen = true
					if fatal == nil {
						fatal = r.err
						if ctx.Err() == nil {
							sum.Failed++
						}
					}
				default:
					frozen = true
					sum.Skipped++
					v.metrics.RecordSkipped()
					v.log.Warn("record skipped", zap.String("id", r.id), zap.Error(r.err))
				}
			}
			if advanced {
				if err := v.saveCheckpoint(ctx, &cp); err != nil {
					return sum, err
				}
				sum.LastID = cp.LastID
			}
			if fatal != nil {
				return sum, fatal
			}
			if err := ctx.Err(); err != nil {
				return sum, err
			}
		}
	}
}

func (v *Vectorizer) startingCheckpoint(ctx context.Context, opts Options) (Checkpoint, error) {
	var cp Checkpoint
	if opts.Resume {
		if _, err := v.state.Get(ctx, state.KeyCheckpoint, &cp); err != nil {
			return cp, fmt.Errorf("load checkpoint: %w", err)
		}
		// A resumed forced pass stays forced.
		cp.Force = cp.Force || opts.Force
		return cp, nil
	}
	if opts.Force {
		if err := v.state.Delete(ctx, state.KeyCheckpoint); err != nil {
			return cp, fmt.Errorf("clear checkpoint: %w", err)
		}
	}
	cp.Force = opts.Force
	return cp, nil
}

func (v *Vectorizer) saveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = v.now().UTC()
	// The vector is already committed; a cancelled ctx must not lose the
	// checkpoint that covers it.
	if err := v.state.Put(context.WithoutCancel(ctx), state.KeyCheckpoint, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	v.metrics.SetCheckpoint(cp.Count)
	return nil
}

// embedWindow embeds and persists recs concurrently. Results keep the order
// of recs. A fatal error cancels the records still in flight.
func (v *Vectorizer) embedWindow(ctx context.Context, recs []domain.JobRecord) []result {
	results := make([]result, len(recs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Workers)
	for i, rec := range recs {
		results[i].id = rec.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := v.embedOne(gctx, rec)
			if err == nil {
				results[i].done = true
				return nil
			}
			if gctx.Err() != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
				// cancelled by a sibling's fatal error
				return nil
			}
			results[i].err = err
			if isFatal(err) {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (v *Vectorizer) embedOne(ctx context.Context, rec domain.JobRecord) error {
	text := textclean.Text(rec.Description)
	if text == "" {
		return &domain.RecordError{ID: rec.ID, Err: fmt.Errorf("%w: empty description", domain.ErrRecordSkipped)}
	}
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return &domain.RecordError{ID: rec.ID, Err: err}
	}
	if len(vec) == 0 {
		return &domain.RecordError{ID: rec.ID, Err: fmt.Errorf("%w: empty vector", domain.ErrRecordSkipped)}
	}
	if d := v.embedder.Dimension(); d > 0 && len(vec) != d {
		return &domain.RecordError{ID: rec.ID, Err: fmt.Errorf("%w: got %d dimensions, want %d",
			domain.ErrProviderUnavailable, len(vec), d)}
	}
	// Written whole in one call so a cancellation never leaves a partial vector.
	if err := v.store.SetEmbedding(context.WithoutCancel(ctx), rec.ID, vec); err != nil {
		return &domain.RecordError{ID: rec.ID, Err: fmt.Errorf("%w: %w", errStore, err)}
	}
	v.metrics.EmbeddingWritten()
	return nil
}

var errStore = errors.New("store write failed")

// isFatal reports whether err ends the run rather than skipping one record.
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, errStore) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
