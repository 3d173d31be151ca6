// Package rank orders stored job records by cosine similarity to a query.
package rank

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"eures-rank/internal/domain"
	"eures-rank/internal/vecmath"
)

const DefaultPageSize = 10

// Page is one slice of the globally sorted result. Page numbers are 1-based.
type Page struct {
	Results  []domain.SearchResult
	Total    int
	Page     int
	PageSize int
}

// Pages returns the number of pages needed to show Total results.
func (p Page) Pages() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

// Rank scores every embedded record in corpus against query and returns the
// requested page. Records without an embedding are left out; ties are
// broken by ID so repeated calls return identical pages.
func Rank(query []float32, corpus []domain.JobRecord, page, pageSize int) Page {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	scored := make([]domain.SearchResult, 0, len(corpus))
	for _, rec := range corpus {
		if !rec.HasEmbedding() {
			continue
		}
		scored = append(scored, domain.SearchResult{Record: rec, Score: vecmath.Cosine(query, rec.Embedding)})
	}
	slices.SortFunc(scored, func(a, b domain.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Record.ID, b.Record.ID)
	})

	out := Page{Total: len(scored), Page: page, PageSize: pageSize}
	start := (page - 1) * pageSize
	if start >= len(scored) {
		return out
	}
	out.Results = scored[start:min(start+pageSize, len(scored))]
	return out
}

// Service embeds query text and ranks the stored corpus. Query vectors are
// cached per embedder and text.
type Service struct {
	store    domain.JobStore
	embedder domain.Embedder
	vectors  *cache.Cache
	log      *zap.Logger
}

func NewService(store domain.JobStore, emb domain.Embedder, ttl time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:    store,
		embedder: emb,
		vectors:  cache.New(ttl, 2*ttl),
		log:      log,
	}
}

func (s *Service) Query(ctx context.Context, text string, page, pageSize int) (Page, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Page{}, errors.New("empty query")
	}
	vec, err := s.queryVector(ctx, text)
	if err != nil {
		return Page{}, err
	}
	corpus, err := s.store.Embedded(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("load embedded records: %w", err)
	}
	res := Rank(vec, corpus, page, pageSize)
	s.log.Debug("ranked",
		zap.String("query", text),
		zap.Int("total", res.Total),
		zap.Int("page", res.Page),
	)
	return res, nil
}

func (s *Service) queryVector(ctx context.Context, text string) ([]float32, error) {
	key := s.embedder.Name() + "\x00" + text
	if v, ok := s.vectors.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	s.vectors.SetDefault(key, vec)
	return vec, nil
}
