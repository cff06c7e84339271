// Package training turns an extracted record set into a servable model bundle.
package training

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/classifier"
	"github.com/cognicore/autoflair/pkg/autoflair/classifier/bayes"
	"github.com/cognicore/autoflair/pkg/autoflair/dataset"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/model"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// Settings control a training run.
type Settings struct {
	Lengths   vocab.Lengths
	Smoothing float64
	// Seed makes the train/test split reproducible. Negative means unseeded.
	Seed int64
	// MinAccuracy rejects models scoring below it on the held-out split.
	MinAccuracy float64
}

// Result describes a finished run.
type Result struct {
	Bundle    *model.Bundle
	TrainSize int
	TestSize  int
}

// Run splits records, fits the vocabularies on the training split, trains a
// naive Bayes model and evaluates it on the held-out split.
//
// When the model scores below MinAccuracy the result is still returned
// alongside an error wrapping ErrLowAccuracy.
func Run(ctx context.Context, records []ingest.Record, cat *catalog.Catalog, s Settings, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("training: no records: %w", internalerr.ErrInvalidInput)
	}

	var rng *rand.Rand
	if s.Seed >= 0 {
		rng = dataset.NewRand(uint64(s.Seed))
	}
	train, test := dataset.Split(records, rng)

	enc, err := vocab.FitEncoder(dataset.Fields(train), s.Lengths, cat.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("training: fit vocabulary: %w", err)
	}
	lengths := enc.Lengths()
	logger.Info("vocabulary fitted",
		zap.Int("title_tokens", enc.Title.Len()),
		zap.Int("body_tokens", enc.Body.Len()),
		zap.Int("domain_tokens", enc.Domain.Len()),
		zap.Int("body_length", lengths.Body))

	trainSet, err := dataset.Build(train, enc, cat)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}
	testSet, err := dataset.Build(test, enc, cat)
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	trainer := bayes.NewTrainer(s.Smoothing, bayes.SizesFor(enc))
	m, err := trainer.Train(ctx, trainSet, classifier.BindingFor(enc, cat))
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	bundle, err := model.NewBundle(cat, enc, m, time.Now())
	if err != nil {
		return nil, err
	}
	res := &Result{Bundle: bundle, TrainSize: len(trainSet), TestSize: len(testSet)}

	if len(testSet) == 0 {
		logger.Warn("too few records to hold out a test split; accuracy not measured",
			zap.Int("records", len(records)))
		return res, nil
	}

	acc, err := classifier.Evaluate(m, testSet)
	if err != nil {
		return nil, fmt.Errorf("training: evaluate: %w", err)
	}
	bundle.Accuracy = acc
	bundle.HeldOut = len(testSet)
	logger.Info("model trained",
		zap.String("model", bundle.ID),
		zap.Int("train", len(trainSet)),
		zap.Int("test", len(testSet)),
		zap.String("accuracy", fmt.Sprintf("%.1f%%", acc*100)))

	if acc < s.MinAccuracy {
		return res, fmt.Errorf("training: accuracy %.3f below %.3f: %w", acc, s.MinAccuracy, internalerr.ErrLowAccuracy)
	}
	return res, nil
}
