package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"eures-rank/internal/domain"
)

// Storage is a simple in-memory job store. It is not durable and is meant
// for tests and dry runs.
type Storage struct {
	mu      sync.RWMutex
	records map[string]domain.JobRecord
	now     func() time.Time
}

func NewStorage() *Storage {
	return &Storage{records: make(map[string]domain.JobRecord), now: time.Now}
}

func (s *Storage) Upsert(_ context.Context, rec domain.JobRecord) (domain.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cur, ok := s.records[rec.ID]
	if !ok {
		rec.Embedding = cloneVec(rec.Embedding)
		rec.CreatedAt, rec.UpdatedAt = now, now
		s.records[rec.ID] = rec
		return domain.Inserted, nil
	}
	cur.Title = rec.Title
	cur.Location = rec.Location
	cur.Description = rec.Description
	cur.Metadata = rec.Metadata
	cur.Raw = rec.Raw
	cur.UpdatedAt = now
	s.records[rec.ID] = cur
	return domain.Updated, nil
}

func (s *Storage) Get(_ context.Context, id string) (domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.JobRecord{}, domain.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *Storage) ListAfter(_ context.Context, afterID string, missingOnly bool, limit int) ([]domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.JobRecord
	for _, id := range s.sortedIDs() {
		if id <= afterID {
			continue
		}
		rec := s.records[id]
		if missingOnly && rec.HasEmbedding() {
			continue
		}
		out = append(out, copyRecord(rec))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Storage) List(_ context.Context, offset, limit int) ([]domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedIDs()
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]domain.JobRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(s.records[id]))
	}
	return out, nil
}

func (s *Storage) Embedded(_ context.Context) ([]domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.JobRecord
	for _, id := range s.sortedIDs() {
		if rec := s.records[id]; rec.HasEmbedding() {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

func (s *Storage) SetEmbedding(_ context.Context, id string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Embedding = cloneVec(vec)
	rec.UpdatedAt = s.now()
	s.records[id] = rec
	return nil
}

func (s *Storage) SetAnnotation(_ context.Context, id string, a domain.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Annotation = &a
	rec.UpdatedAt = s.now()
	s.records[id] = rec
	return nil
}

func (s *Storage) Stats(_ context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st domain.Stats
	var scoreSum float64
	for _, rec := range s.records {
		st.Total++
		if rec.HasEmbedding() {
			st.Embedded++
		}
		if rec.Annotation != nil {
			st.Annotated++
			scoreSum += rec.Annotation.Score
		}
	}
	if st.Annotated > 0 {
		st.AverageScore = scoreSum / float64(st.Annotated)
	}
	return st, nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) sortedIDs() []string {
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyRecord(rec domain.JobRecord) domain.JobRecord {
	rec.Embedding = cloneVec(rec.Embedding)
	if rec.Annotation != nil {
		a := *rec.Annotation
		rec.Annotation = &a
	}
	return rec
}

func cloneVec(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
