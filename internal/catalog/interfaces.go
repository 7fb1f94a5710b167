package catalog

import (
	"context"
	"io"
	"net/url"
	"time"
)

// Document is a fetched listing page.
type Document struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// Fetcher retrieves one listing page.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, query url.Values) (Document, error)
}

// PageParser turns a fetched page body into per-item outcomes.
type PageParser interface {
	ParseHTML(body []byte) ([]Outcome, error)
}

// RecordStore persists cleaned records for a run.
type RecordStore interface {
	SaveRecords(ctx context.Context, runID string, records []CleanRecord) error
}

// BlobStore writes run artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes run notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
