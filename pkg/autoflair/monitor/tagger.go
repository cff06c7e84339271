package monitor

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/classifier"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/store"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// errSetFlair marks failures reported by the FlairSetter.
var errSetFlair = errors.New("set flair")

// FlairSetter applies a flair template to a post.
type FlairSetter interface {
	SetFlair(ctx context.Context, postID, templateID string) error
}

// Tagged describes a flair applied to a post.
type Tagged struct {
	PostID     string
	Entry      catalog.Entry
	Confidence float64
}

// Tagger predicts a flair for a post and applies it.
type Tagger struct {
	encoder *vocab.Encoder
	model   classifier.Model
	catalog *catalog.Catalog
	flairs  FlairSetter
	store   store.Store
	modelID string
	clock   Clock
	logger  *zap.Logger
}

// TaggerOptions holds the optional collaborators of a Tagger.
type TaggerOptions struct {
	// Store receives a prediction log entry per applied flair.
	Store   store.Store
	ModelID string
	Clock   Clock
	Logger  *zap.Logger
}

// NewTagger verifies that model, encoder and catalog belong together.
func NewTagger(enc *vocab.Encoder, model classifier.Model, cat *catalog.Catalog, flairs FlairSetter, opts TaggerOptions) (*Tagger, error) {
	if err := classifier.Verify(model, enc, cat); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Tagger{
		encoder: enc,
		model:   model,
		catalog: cat,
		flairs:  flairs,
		store:   opts.Store,
		modelID: opts.ModelID,
		clock:   opts.Clock,
		logger:  opts.Logger,
	}, nil
}

// Predict cleans and encodes the post and returns the predicted catalog entry.
// Cleaning failures are returned wrapping ErrEncoding.
func (t *Tagger) Predict(post ingest.Post) (catalog.Entry, classifier.Prediction, error) {
	fields, err := ingest.CleanFields(post)
	if err != nil {
		return catalog.Entry{}, classifier.Prediction{}, fmt.Errorf("post %s: %w", post.ID, err)
	}
	pred, err := t.model.Predict(t.encoder.Encode(fields))
	if err != nil {
		return catalog.Entry{}, classifier.Prediction{}, fmt.Errorf("predict post %s: %w", post.ID, err)
	}
	entry, err := t.catalog.At(pred.Label)
	if err != nil {
		return catalog.Entry{}, classifier.Prediction{}, err
	}
	return entry, pred, nil
}

// PredictAndTag predicts a flair for post and sets it on the feed.
func (t *Tagger) PredictAndTag(ctx context.Context, post ingest.Post) (Tagged, error) {
	entry, pred, err := t.Predict(post)
	if err != nil {
		return Tagged{}, err
	}

	if err := t.flairs.SetFlair(ctx, post.ID, entry.TemplateID); err != nil {
		return Tagged{}, fmt.Errorf("%w on %s: %w", errSetFlair, post.ID, err)
	}

	conf := pred.Confidence()
	t.logger.Info("flair applied",
		zap.String("post", post.ID),
		zap.String("title", post.Title),
		zap.String("flair", entry.Text),
		zap.String("confidence", fmt.Sprintf("%.1f%%", conf*100)))

	if t.store != nil {
		err := t.store.RecordPrediction(ctx, store.Prediction{
			PostID:     post.ID,
			Title:      post.Title,
			Flair:      entry.Text,
			Confidence: conf,
			ModelID:    t.modelID,
			TaggedAt:   t.clock.Now(),
		})
		if err != nil {
			// The flair is already applied; a lost log line is not worth a retry.
			t.logger.Warn("record prediction", zap.String("post", post.ID), zap.Error(err))
		}
	}

	return Tagged{PostID: post.ID, Entry: entry, Confidence: conf}, nil
}
