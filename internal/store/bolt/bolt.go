// Package bolt stores job records in a single-file bbolt database.
//
// Records are JSON documents in the "jobs" bucket keyed by ID, so cursor
// order is ID ascending. Embeddings live in a separate "embeddings" bucket
// encoded with vecmath.Encode, which keeps an embedding write to one
// transaction without rewriting the record.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"eures-rank/internal/domain"
	"eures-rank/internal/vecmath"
)

var (
	jobsBucket       = []byte("jobs")
	embeddingsBucket = []byte("embeddings")
)

type Storage struct {
	db  *bolt.DB
	now func() time.Time
}

// Open creates or opens the database file at path.
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{jobsBucket, embeddingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &Storage{db: db, now: time.Now}, nil
}

func (s *Storage) Upsert(ctx context.Context, rec domain.JobRecord) (domain.UpsertOutcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var outcome domain.UpsertOutcome
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		key := []byte(rec.ID)
		now := s.now().UTC()
		next := rec
		next.Embedding = nil
		next.CreatedAt, next.UpdatedAt = now, now
		outcome = domain.Inserted

		if raw := b.Get(key); raw != nil {
			var cur domain.JobRecord
			if err := json.Unmarshal(raw, &cur); err != nil {
				return fmt.Errorf("decode %s: %w", rec.ID, err)
			}
			next.CreatedAt = cur.CreatedAt
			next.Annotation = cur.Annotation
			outcome = domain.Updated
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		return b.Put(key, data)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", rec.ID, err)
	}
	return outcome, nil
}

func (s *Storage) Get(_ context.Context, id string) (domain.JobRecord, error) {
	var rec domain.JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(jobsBucket).Get([]byte(id))
		if raw == nil {
			return domain.ErrNotFound
		}
		var err error
		rec, err = decodeRecord(tx, []byte(id), raw)
		return err
	})
	return rec, err
}

func (s *Storage) ListAfter(_ context.Context, afterID string, missingOnly bool, limit int) ([]domain.JobRecord, error) {
	var out []domain.JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(jobsBucket).Cursor()
		emb := tx.Bucket(embeddingsBucket)
		after := []byte(afterID)

		k, v := c.Seek(after)
		if k != nil && bytes.Equal(k, after) {
			k, v = c.Next()
		}
		for ; k != nil; k, v = c.Next() {
			if missingOnly && emb.Get(k) != nil {
				continue
			}
			rec, err := decodeRecord(tx, k, v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Storage) List(_ context.Context, offset, limit int) ([]domain.JobRecord, error) {
	var out []domain.JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(jobsBucket).Cursor()
		i := 0
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if i++; i <= offset {
				continue
			}
			rec, err := decodeRecord(tx, k, v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *Storage) Embedded(_ context.Context) ([]domain.JobRecord, error) {
	var out []domain.JobRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(jobsBucket)
		return tx.Bucket(embeddingsBucket).ForEach(func(k, _ []byte) error {
			raw := jobs.Get(k)
			if raw == nil {
				return nil
			}
			rec, err := decodeRecord(tx, k, raw)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *Storage) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		if tx.Bucket(jobsBucket).Get(key) == nil {
			return domain.ErrNotFound
		}
		return tx.Bucket(embeddingsBucket).Put(key, vecmath.Encode(vec))
	})
}

func (s *Storage) SetAnnotation(ctx context.Context, id string, a domain.Annotation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		key := []byte(id)
		raw := b.Get(key)
		if raw == nil {
			return domain.ErrNotFound
		}
		var rec domain.JobRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", id, err)
		}
		rec.Annotation = &a
		rec.UpdatedAt = s.now().UTC()
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Storage) Stats(_ context.Context) (domain.Stats, error) {
	var st domain.Stats
	var sum float64
	err := s.db.View(func(tx *bolt.Tx) error {
		st.Embedded = tx.Bucket(embeddingsBucket).Stats().KeyN
		return tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var rec domain.JobRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			st.Total++
			if rec.Annotation != nil {
				st.Annotated++
				sum += rec.Annotation.Score
			}
			return nil
		})
	})
	if st.Annotated > 0 {
		st.AverageScore = sum / float64(st.Annotated)
	}
	return st, err
}

func (s *Storage) Close() error { return s.db.Close() }

func decodeRecord(tx *bolt.Tx, key, raw []byte) (domain.JobRecord, error) {
	var rec domain.JobRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode %s: %w", key, err)
	}
	if enc := tx.Bucket(embeddingsBucket).Get(key); enc != nil {
		vec, err := vecmath.Decode(enc)
		if err != nil {
			return rec, fmt.Errorf("decode embedding %s: %w", key, err)
		}
		rec.Embedding = vec
	}
	return rec, nil
}
