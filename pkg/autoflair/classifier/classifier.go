// Package classifier is the boundary to the learning algorithm.
//
// A Model is bound to the exact vocabulary and catalog used to build its
// training set; pairing it with anything else is a ModelBindingError.
package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/dataset"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// Binding ties a model to the artifacts it was trained against.
type Binding struct {
	CatalogFingerprint    string `yaml:"catalog_fingerprint"`
	VocabularyFingerprint string `yaml:"vocabulary_fingerprint"`
	Classes               int    `yaml:"classes"`
}

// BindingFor describes the pairing of enc and cat.
func BindingFor(enc *vocab.Encoder, cat *catalog.Catalog) Binding {
	return Binding{
		CatalogFingerprint:    cat.Fingerprint(),
		VocabularyFingerprint: enc.Fingerprint(),
		Classes:               cat.Len(),
	}
}

// Prediction is a class index with one probability per catalog entry.
type Prediction struct {
	Label         int
	Probabilities []float64
}

// Confidence is the probability of the predicted label.
func (p Prediction) Confidence() float64 {
	if p.Label < 0 || p.Label >= len(p.Probabilities) {
		return 0
	}
	return p.Probabilities[p.Label]
}

// Model predicts a flair from encoded fields. Predict must be a pure function
// of the model and its input.
type Model interface {
	Kind() string
	Binding() Binding
	Predict(fields vocab.Encoded) (Prediction, error)
}

// Trainer produces a Model from encoded examples.
type Trainer interface {
	Train(ctx context.Context, examples []dataset.Example, b Binding) (Model, error)
}

// Persistable models expose their parameters for a model bundle.
type Persistable interface {
	Model
	MarshalParams() ([]byte, error)
}

// Decoder rebuilds a model from its persisted parameters.
type Decoder func(params []byte, b Binding) (Model, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]Decoder{}
)

// Register makes a model kind loadable by Decode.
func Register(kind string, dec Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[kind] = dec
}

// Kinds lists the registered model kinds.
func Kinds() []string {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode loads a model of the given kind.
func Decode(kind string, params []byte, b Binding) (Model, error) {
	decodersMu.RLock()
	dec, ok := decoders[kind]
	decodersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("classifier: unknown model kind %q: %w", kind, internalerr.ErrNotFound)
	}
	return dec(params, b)
}

// Verify checks that m was trained against enc and cat.
func Verify(m Model, enc *vocab.Encoder, cat *catalog.Catalog) error {
	want := BindingFor(enc, cat)
	got := m.Binding()
	if enc.CatalogFingerprint() != want.CatalogFingerprint {
		return fmt.Errorf("vocabulary built for catalog %.12s, serving catalog %.12s: %w",
			enc.CatalogFingerprint(), want.CatalogFingerprint, internalerr.ErrModelBinding)
	}
	if got != want {
		return fmt.Errorf("model bound to %+v, serving %+v: %w", got, want, internalerr.ErrModelBinding)
	}
	return nil
}

// Evaluate returns the share of examples whose label is predicted correctly.
func Evaluate(m Model, examples []dataset.Example) (float64, error) {
	if len(examples) == 0 {
		return 0, fmt.Errorf("evaluate: no examples: %w", internalerr.ErrInvalidInput)
	}
	correct := 0
	for _, ex := range examples {
		p, err := m.Predict(ex.Fields)
		if err != nil {
			return 0, err
		}
		if p.Label == ex.Label {
			correct++
		}
	}
	return float64(correct) / float64(len(examples)), nil
}

// Softmax turns scores into probabilities.
func Softmax(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	top := scores[Argmax(scores)]
	sum := 0.0
	for i, s := range scores {
		out[i] = math.Exp(s - top)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
