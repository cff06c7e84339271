package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// Source yields historical posts newest first. Next returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) (Post, error)
}

// ExtractStats summarizes an extraction run.
type ExtractStats struct {
	Seen            int
	Accepted        int
	SkippedFlair    int
	SkippedEncoding int
	SkippedInvalid  int
}

// Extractor pulls labeled historical posts and turns them into records.
type Extractor struct {
	source  Source
	catalog *catalog.Catalog
	target  int
	logger  *zap.Logger
}

// NewExtractor creates an extractor stopping after target accepted records.
func NewExtractor(source Source, cat *catalog.Catalog, target int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{source: source, catalog: cat, target: target, logger: logger}
}

// Extract reads the source until target records are accepted or it is exhausted.
// Posts whose flair is not in the catalog, and posts that fail to clean, are skipped.
func (e *Extractor) Extract(ctx context.Context) ([]Record, ExtractStats, error) {
	var stats ExtractStats
	if e.target <= 0 {
		return nil, stats, fmt.Errorf("extract: target %d: %w", e.target, internalerr.ErrInvalidInput)
	}

	records := make([]Record, 0, e.target)
	for len(records) < e.target {
		post, err := e.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			e.logger.Info("source exhausted before target",
				zap.Int("accepted", len(records)), zap.Int("target", e.target))
			break
		}
		if err != nil {
			return records, stats, fmt.Errorf("extract: %w", err)
		}
		stats.Seen++

		rec, err := e.toRecord(post)
		switch {
		case errors.Is(err, internalerr.ErrCatalogMismatch):
			stats.SkippedFlair++
			e.logger.Warn("no or non-standard flair on post, ignoring",
				zap.String("post_id", post.ID), zap.String("flair", post.Flair))
			continue
		case errors.Is(err, internalerr.ErrEncoding):
			stats.SkippedEncoding++
			e.logger.Warn("unrepresentable text, ignoring post",
				zap.String("post_id", post.ID), zap.Error(err))
			continue
		case errors.Is(err, internalerr.ErrInvalidInput):
			stats.SkippedInvalid++
			e.logger.Warn("incomplete post, ignoring",
				zap.String("post_id", post.ID), zap.Error(err))
			continue
		case err != nil:
			return records, stats, err
		}

		records = append(records, rec)
		stats.Accepted++
		if stats.Accepted%500 == 0 {
			e.logger.Info("extraction progress", zap.Int("accepted", stats.Accepted), zap.Int("target", e.target))
		}
	}

	return records, stats, nil
}

func (e *Extractor) toRecord(p Post) (Record, error) {
	entry, ok := e.catalog.Lookup(p.Flair)
	if !ok {
		return Record{}, fmt.Errorf("post %s flair %q: %w", p.ID, p.Flair, internalerr.ErrCatalogMismatch)
	}

	fields, err := CleanFields(p)
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		Flair:  entry.Text,
		Title:  fields.Title,
		Body:   fields.Body,
		Domain: fields.Domain,
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("post %s: %v: %w", p.ID, err, internalerr.ErrInvalidInput)
	}
	return rec, nil
}
