package training

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.Choice{
		{Text: "News", TemplateID: "n"},
		{Text: "Question", TemplateID: "q"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

// separable builds n records where the domain alone decides the flair.
func separable(n int) []ingest.Record {
	out := make([]ingest.Record, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = ingest.Record{Flair: "News", Title: fmt.Sprintf("breaking story %d", i), Domain: "news.com"}
		} else {
			out[i] = ingest.Record{Flair: "Question", Title: fmt.Sprintf("how do I %d", i), Body: "help", Domain: ingest.SelfPostDomain}
		}
	}
	return out
}

var settings = Settings{
	Lengths:   vocab.Lengths{Title: 8, Body: 16, Domain: 1},
	Smoothing: 1,
	Seed:      7,
}

func TestRunSplitsAndEvaluates(t *testing.T) {
	res, err := Run(context.Background(), separable(40), testCatalog(t), settings, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TrainSize != 36 || res.TestSize != 4 {
		t.Errorf("split %d/%d, want 36/4", res.TrainSize, res.TestSize)
	}
	if res.Bundle.HeldOut != 4 || res.Bundle.Accuracy != 1 {
		t.Errorf("accuracy %v on %d, want 1 on 4", res.Bundle.Accuracy, res.Bundle.HeldOut)
	}
	// The longest body is one token, below the configured cap.
	if got := res.Bundle.Encoder.Lengths().Body; got != 1 {
		t.Errorf("body length = %d, want 1", got)
	}
}

func TestRunIsReproducibleWithSeed(t *testing.T) {
	cat := testCatalog(t)
	a, err := Run(context.Background(), separable(30), cat, settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Run(context.Background(), separable(30), cat, settings, nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Bundle.Encoder.Fingerprint() != b.Bundle.Encoder.Fingerprint() {
		t.Error("same seed produced different training vocabularies")
	}
}

func TestRunSmallDatasetSkipsEvaluation(t *testing.T) {
	res, err := Run(context.Background(), separable(6), testCatalog(t), Settings{
		Lengths:     settings.Lengths,
		Smoothing:   1,
		Seed:        -1,
		MinAccuracy: 0.9,
	}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TestSize != 0 || res.TrainSize != 6 || res.Bundle.HeldOut != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRunRejectsLowAccuracy(t *testing.T) {
	records := separable(20)
	// Labels unrelated to the inputs.
	for i := range records {
		records[i].Flair = "News"
	}
	for _, i := range []int{1, 2, 5, 8, 13, 17} {
		records[i].Flair = "Question"
	}

	s := settings
	s.MinAccuracy = 1.01
	res, err := Run(context.Background(), records, testCatalog(t), s, nil)
	if !errors.Is(err, internalerr.ErrLowAccuracy) {
		t.Fatalf("Run error = %v, want ErrLowAccuracy", err)
	}
	if res == nil || res.Bundle == nil {
		t.Error("rejected run should still report its result")
	}
}

func TestRunRejectsUnknownFlair(t *testing.T) {
	records := separable(4)
	records[2].Flair = "Meta"
	_, err := Run(context.Background(), records, testCatalog(t), Settings{Lengths: settings.Lengths, Smoothing: 1, Seed: 1}, nil)
	if !errors.Is(err, internalerr.ErrCatalogMismatch) {
		t.Errorf("Run error = %v, want ErrCatalogMismatch", err)
	}
}

func TestRunEmpty(t *testing.T) {
	_, err := Run(context.Background(), nil, testCatalog(t), settings, nil)
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("Run error = %v, want ErrInvalidInput", err)
	}
}
