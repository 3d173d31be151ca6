// Package postgres stores job records in PostgreSQL with a pgvector
// embedding column.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"eures-rank/internal/domain"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	location    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	metadata    JSONB NOT NULL DEFAULT '{}',
	raw         JSONB,
	embedding   vector,
	annotation  JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

// The xmax trick tells an insert from an update in a single statement.
const upsertSQL = `
INSERT INTO jobs (id, title, location, description, metadata, raw)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	location = EXCLUDED.location,
	description = EXCLUDED.description,
	metadata = EXCLUDED.metadata,
	raw = EXCLUDED.raw,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

const selectCols = `id, title, location, description, metadata, raw, embedding::text, annotation, created_at, updated_at`

type Storage struct {
	pool *pgxpool.Pool
}

// NewPool creates and verifies a pgxpool connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

// Open connects to databaseURL and makes sure the jobs table exists.
func Open(ctx context.Context, databaseURL string) (*Storage, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func New(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate jobs table: %w", err)
	}
	return nil
}

func (s *Storage) Upsert(ctx context.Context, rec domain.JobRecord) (domain.UpsertOutcome, error) {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("encode metadata %s: %w", rec.ID, err)
	}
	var raw []byte
	if len(rec.Raw) > 0 {
		raw = rec.Raw
	}
	var inserted bool
	err = s.pool.QueryRow(ctx, upsertSQL,
		rec.ID, rec.Title, rec.Location, rec.Description, meta, raw,
	).Scan(&inserted)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", rec.ID, err)
	}
	if inserted {
		return domain.Inserted, nil
	}
	return domain.Updated, nil
}

func (s *Storage) Get(ctx context.Context, id string) (domain.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM jobs WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.JobRecord{}, domain.ErrNotFound
	}
	return rec, err
}

func (s *Storage) ListAfter(ctx context.Context, afterID string, missingOnly bool, limit int) ([]domain.JobRecord, error) {
	q := `SELECT ` + selectCols + ` FROM jobs WHERE id > $1`
	if missingOnly {
		q += ` AND embedding IS NULL`
	}
	q += ` ORDER BY id`
	args := []any{afterID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *Storage) List(ctx context.Context, offset, limit int) ([]domain.JobRecord, error) {
	q := `SELECT ` + selectCols + ` FROM jobs ORDER BY id OFFSET $1`
	args := []any{offset}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.query(ctx, q, args...)
}

func (s *Storage) Embedded(ctx context.Context) ([]domain.JobRecord, error) {
	return s.query(ctx, `SELECT `+selectCols+` FROM jobs WHERE embedding IS NOT NULL ORDER BY id`)
}

func (s *Storage) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET embedding = $2, updated_at = now() WHERE id = $1`,
		id, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("set embedding %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Storage) SetAnnotation(ctx context.Context, id string, a domain.Annotation) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET annotation = $2, updated_at = now() WHERE id = $1`, id, data)
	if err != nil {
		return fmt.Errorf("set annotation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Storage) Stats(ctx context.Context) (domain.Stats, error) {
	var st domain.Stats
	var avg *float64
	err := s.pool.QueryRow(ctx, `
SELECT count(*),
       count(embedding),
       count(annotation),
       avg((annotation->>'score')::float8)
FROM jobs`).Scan(&st.Total, &st.Embedded, &st.Annotated, &avg)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if avg != nil {
		st.AverageScore = *avg
	}
	return st, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) query(ctx context.Context, q string, args ...any) ([]domain.JobRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()
	var out []domain.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (domain.JobRecord, error) {
	var (
		rec        domain.JobRecord
		meta, raw  []byte
		annotation []byte
		embedding  *string
	)
	err := row.Scan(&rec.ID, &rec.Title, &rec.Location, &rec.Description,
		&meta, &raw, &embedding, &annotation, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return rec, fmt.Errorf("decode metadata %s: %w", rec.ID, err)
		}
	}
	if len(raw) > 0 {
		rec.Raw = raw
	}
	if embedding != nil {
		var v pgvector.Vector
		if err := v.Scan(*embedding); err != nil {
			return rec, fmt.Errorf("decode embedding %s: %w", rec.ID, err)
		}
		rec.Embedding = v.Slice()
	}
	if len(annotation) > 0 {
		var a domain.Annotation
		if err := json.Unmarshal(annotation, &a); err != nil {
			return rec, fmt.Errorf("decode annotation %s: %w", rec.ID, err)
		}
		rec.Annotation = &a
	}
	return rec, nil
}
