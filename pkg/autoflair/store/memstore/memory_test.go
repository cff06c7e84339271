package memstore

import (
	"context"
	"testing"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/store"
)

var _ store.Store = (*Store)(nil)

func TestMemstoreCopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := New()

	records := []ingest.Record{{Flair: "News", Title: "a", Domain: "x"}}
	if err := s.ReplaceRecords(ctx, records); err != nil {
		t.Fatal(err)
	}
	records[0].Title = "mutated"

	got, _ := s.Records(ctx)
	if got[0].Title != "a" {
		t.Error("store should not alias caller slices")
	}
	got[0].Title = "mutated again"
	again, _ := s.Records(ctx)
	if again[0].Title != "a" {
		t.Error("store should not hand out its own slice")
	}

	choices := []catalog.Choice{{Text: "News", TemplateID: "n"}}
	s.ReplaceCatalog(ctx, choices)
	cat, _ := s.Catalog(ctx)
	if len(cat) != 1 || cat[0] != choices[0] {
		t.Errorf("catalog = %+v", cat)
	}
}

func TestMemstoreRecentPredictions(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"a", "b", "c"} {
		s.RecordPrediction(ctx, store.Prediction{PostID: id})
	}

	got, _ := s.RecentPredictions(ctx, 2)
	if len(got) != 2 || got[0].PostID != "c" || got[1].PostID != "b" {
		t.Errorf("RecentPredictions = %+v", got)
	}
	n, _ := s.CountRecords(ctx)
	if n != 0 {
		t.Errorf("CountRecords = %d, want 0", n)
	}
}
