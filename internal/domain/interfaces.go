package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobRecord is a single vacancy as stored locally. ID is the external
// identifier assigned by the listing API and is the natural key.
type JobRecord struct {
	ID          string
	Title       string
	Location    string
	Description string
	Metadata    map[string]string
	Raw         json.RawMessage
	Embedding   []float32
	Annotation  *Annotation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasEmbedding reports whether a vector has been persisted for the record.
func (r JobRecord) HasEmbedding() bool { return len(r.Embedding) > 0 }

// Annotation is written by a reranking collaborator; this module only stores it.
type Annotation struct {
	Score            float64 `json:"score"`
	Justification    string  `json:"justification"`
	ContactPerson    string  `json:"contact_person,omitempty"`
	ContactEmail     string  `json:"contact_email,omitempty"`
	Draft            string  `json:"draft,omitempty"`
	JobType          string  `json:"job_type,omitempty"`
	EmployerLocation string  `json:"employer_location,omitempty"`
}

// SearchResult represents a ranked record with its similarity score.
type SearchResult struct {
	Record JobRecord
	Score  float64
}

// UpsertOutcome tells the ingestion pipeline what an upsert did.
type UpsertOutcome int

const (
	Inserted UpsertOutcome = iota + 1
	Updated
)

// Stats summarises the store contents.
type Stats struct {
	Total        int
	Embedded     int
	Annotated    int
	AverageScore float64
}

// Embedder converts free text into a fixed-length numeric vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// JobStore persists job records keyed by their external identifier.
//
// Upsert never touches the embedding or the annotation of an existing row.
// ListAfter returns records with ID strictly greater than afterID in ascending
// ID order; with missingOnly it skips records that already have an embedding.
type JobStore interface {
	Upsert(ctx context.Context, rec JobRecord) (UpsertOutcome, error)
	Get(ctx context.Context, id string) (JobRecord, error)
	ListAfter(ctx context.Context, afterID string, missingOnly bool, limit int) ([]JobRecord, error)
	List(ctx context.Context, offset, limit int) ([]JobRecord, error)
	Embedded(ctx context.Context) ([]JobRecord, error)
	SetEmbedding(ctx context.Context, id string, vec []float32) error
	SetAnnotation(ctx context.Context, id string, a Annotation) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
