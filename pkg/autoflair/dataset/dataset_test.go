package dataset

import (
	"errors"
	"testing"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

func setup(t *testing.T) ([]ingest.Record, *catalog.Catalog, *vocab.Encoder) {
	t.Helper()
	cat, err := catalog.New([]catalog.Choice{
		{Text: "Question", TemplateID: "q"},
		{Text: "News", TemplateID: "n"},
	})
	if err != nil {
		t.Fatal(err)
	}
	records := []ingest.Record{
		{Flair: "Question", Title: "how to test", Body: "help", Domain: ingest.SelfPostDomain},
		{Flair: "News", Title: "release notes", Domain: "go.dev"},
	}
	enc, err := vocab.FitEncoder(Fields(records), vocab.Lengths{Title: 4, Body: 8, Domain: 1}, cat.Fingerprint())
	if err != nil {
		t.Fatal(err)
	}
	return records, cat, enc
}

func TestBuild(t *testing.T) {
	records, cat, enc := setup(t)

	examples, err := Build(records, enc, cat)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(examples) != 2 {
		t.Fatalf("got %d examples", len(examples))
	}
	if examples[0].Label != 0 || examples[1].Label != 1 {
		t.Errorf("labels = %d,%d want 0,1", examples[0].Label, examples[1].Label)
	}
	if len(examples[0].Fields.Title) != 4 || len(examples[0].Fields.Domain) != 1 {
		t.Errorf("unexpected shapes %+v", examples[0].Fields)
	}
}

func TestBuildRejectsOrphanLabel(t *testing.T) {
	records, cat, enc := setup(t)
	records = append(records, ingest.Record{Flair: "Meme", Title: "x", Domain: "d"})

	if _, err := Build(records, enc, cat); !errors.Is(err, internalerr.ErrCatalogMismatch) {
		t.Errorf("Build error = %v, want ErrCatalogMismatch", err)
	}
}

func TestBuildRejectsForeignCatalog(t *testing.T) {
	records, _, enc := setup(t)
	other, _ := catalog.New([]catalog.Choice{{Text: "News", TemplateID: "n"}, {Text: "Question", TemplateID: "q"}})

	if _, err := Build(records, enc, other); !errors.Is(err, internalerr.ErrModelBinding) {
		t.Errorf("Build error = %v, want ErrModelBinding", err)
	}
}
