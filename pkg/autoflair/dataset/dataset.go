package dataset

import (
	"fmt"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// Example is an encoded record with its class index.
type Example struct {
	Fields vocab.Encoded
	Label  int
}

// Fields returns the classifier inputs of records.
func Fields(records []ingest.Record) []ingest.Fields {
	out := make([]ingest.Fields, len(records))
	for i, r := range records {
		out[i] = r.Fields()
	}
	return out
}

// Build encodes records with enc and resolves their labels against cat.
// An unresolvable label is an error: extraction already filtered them out.
func Build(records []ingest.Record, enc *vocab.Encoder, cat *catalog.Catalog) ([]Example, error) {
	if enc.CatalogFingerprint() != cat.Fingerprint() {
		return nil, fmt.Errorf("dataset: encoder built for another catalog: %w", internalerr.ErrModelBinding)
	}

	out := make([]Example, 0, len(records))
	for i, r := range records {
		entry, ok := cat.Lookup(r.Flair)
		if !ok {
			return nil, fmt.Errorf("dataset: record %d flair %q: %w", i, r.Flair, internalerr.ErrCatalogMismatch)
		}
		out = append(out, Example{Fields: enc.Encode(r.Fields()), Label: entry.Index})
	}
	return out, nil
}
