package memstore

import (
	"context"
	"sync"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu          sync.RWMutex
	catalog     []catalog.Choice
	records     []ingest.Record
	predictions []store.Prediction
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// ReplaceCatalog implements store.Store.
func (s *Store) ReplaceCatalog(ctx context.Context, choices []catalog.Choice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append([]catalog.Choice(nil), choices...)
	return nil
}

// Catalog implements store.Store.
func (s *Store) Catalog(ctx context.Context) ([]catalog.Choice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.Choice(nil), s.catalog...), nil
}

// ReplaceRecords implements store.Store.
func (s *Store) ReplaceRecords(ctx context.Context, records []ingest.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]ingest.Record(nil), records...)
	return nil
}

// Records implements store.Store.
func (s *Store) Records(ctx context.Context) ([]ingest.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ingest.Record(nil), s.records...), nil
}

// CountRecords implements store.Store.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// RecordPrediction implements store.Store.
func (s *Store) RecordPrediction(ctx context.Context, p store.Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, p)
	return nil
}

// RecentPredictions returns the newest predictions first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]store.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	out := make([]store.Prediction, 0, limit)
	for i := len(s.predictions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.predictions[i])
	}
	return out, nil
}
