package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthExhausted means the listing API rejected the session twice in a row.
	ErrAuthExhausted = errors.New("authentication failed after session refresh")
	// ErrTransientNetwork is a network failure that survived the retry budget.
	ErrTransientNetwork = errors.New("transient network error")
	// ErrMalformedPage is a page body that could not be parsed.
	ErrMalformedPage = errors.New("malformed page")
	// ErrProviderUnavailable stops a vectorize run: the provider is unreachable or misconfigured.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrRecordSkipped marks a per-record embedding failure; the run continues.
	ErrRecordSkipped = errors.New("record skipped")
	ErrNotFound      = errors.New("record not found")
	// ErrLocked means another vectorize run holds the checkpoint lock.
	ErrLocked = errors.New("checkpoint is locked by another run")
)

// PageError attaches the page number to a fetch failure.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string { return fmt.Sprintf("page %d: %v", e.Page, e.Err) }

func (e *PageError) Unwrap() error { return e.Err }

// RecordError attaches the record identifier to a failure.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string { return fmt.Sprintf("record %s: %v", e.ID, e.Err) }

func (e *RecordError) Unwrap() error { return e.Err }
