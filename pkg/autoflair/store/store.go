package store

import (
	"context"
	"time"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
)

// Store persists the extracted dataset, the catalog snapshot it was filtered
// against, and the log of applied predictions.
type Store interface {
	Close() error

	// Catalog snapshot, index order preserved
	ReplaceCatalog(ctx context.Context, choices []catalog.Choice) error
	Catalog(ctx context.Context) ([]catalog.Choice, error)

	// Labeled records, extraction order preserved
	ReplaceRecords(ctx context.Context, records []ingest.Record) error
	Records(ctx context.Context) ([]ingest.Record, error)
	CountRecords(ctx context.Context) (int, error)

	// Applied predictions
	RecordPrediction(ctx context.Context, p Prediction) error
	RecentPredictions(ctx context.Context, limit int) ([]Prediction, error)
}

// Prediction is an applied flair.
type Prediction struct {
	PostID     string
	Title      string
	Flair      string
	Confidence float64
	ModelID    string
	TaggedAt   time.Time
}
