// Package bayes is a multinomial naive Bayes learner over encoded fields.
package bayes

import (
	"context"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/autoflair/pkg/autoflair/classifier"
	"github.com/cognicore/autoflair/pkg/autoflair/dataset"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// Kind identifies naive Bayes parameters in a model bundle.
const Kind = "naive-bayes"

func init() {
	classifier.Register(Kind, Decode)
}

// Sizes is the number of non-padding encoded ids per field (OOV included).
type Sizes struct {
	Title  int `yaml:"title"`
	Body   int `yaml:"body"`
	Domain int `yaml:"domain"`
}

// SizesFor derives the feature space from an encoder.
func SizesFor(enc *vocab.Encoder) Sizes {
	return Sizes{
		Title:  enc.Title.Size() - 1,
		Body:   enc.Body.Size() - 1,
		Domain: enc.Domain.Size() - 1,
	}
}

// Params are the sufficient statistics of a trained model.
type Params struct {
	Smoothing   float64     `yaml:"smoothing"`
	Sizes       Sizes       `yaml:"sizes"`
	ClassCounts []int       `yaml:"class_counts"`
	Title       FieldCounts `yaml:"title"`
	Body        FieldCounts `yaml:"body"`
	Domain      FieldCounts `yaml:"domain"`
}

// FieldCounts holds per-class token counts for one field.
type FieldCounts struct {
	Totals []int           `yaml:"totals"`
	Counts []map[int64]int `yaml:"counts"`
}

func newFieldCounts(classes int) FieldCounts {
	fc := FieldCounts{Totals: make([]int, classes), Counts: make([]map[int64]int, classes)}
	for i := range fc.Counts {
		fc.Counts[i] = make(map[int64]int)
	}
	return fc
}

func (fc *FieldCounts) add(class int, seq []int64) {
	for _, id := range seq {
		if id < 0 {
			continue
		}
		fc.Counts[class][id]++
		fc.Totals[class]++
	}
}

// Trainer fits naive Bayes models.
type Trainer struct {
	Smoothing float64
	Sizes     Sizes
}

// NewTrainer creates a trainer with Laplace smoothing alpha.
func NewTrainer(alpha float64, sizes Sizes) *Trainer {
	return &Trainer{Smoothing: alpha, Sizes: sizes}
}

// Train implements classifier.Trainer.
func (t *Trainer) Train(ctx context.Context, examples []dataset.Example, b classifier.Binding) (classifier.Model, error) {
	if b.Classes <= 0 {
		return nil, fmt.Errorf("bayes: %d classes: %w", b.Classes, internalerr.ErrInvalidInput)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("bayes: no training examples: %w", internalerr.ErrInvalidInput)
	}
	if t.Smoothing <= 0 {
		return nil, fmt.Errorf("bayes: smoothing %v must be positive: %w", t.Smoothing, internalerr.ErrInvalidInput)
	}

	p := Params{
		Smoothing:   t.Smoothing,
		Sizes:       t.Sizes,
		ClassCounts: make([]int, b.Classes),
		Title:       newFieldCounts(b.Classes),
		Body:        newFieldCounts(b.Classes),
		Domain:      newFieldCounts(b.Classes),
	}
	for i, ex := range examples {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if ex.Label < 0 || ex.Label >= b.Classes {
			return nil, fmt.Errorf("bayes: example %d label %d out of range: %w", i, ex.Label, internalerr.ErrInvalidInput)
		}
		p.ClassCounts[ex.Label]++
		p.Title.add(ex.Label, ex.Fields.Title)
		p.Body.add(ex.Label, ex.Fields.Body)
		p.Domain.add(ex.Label, ex.Fields.Domain)
	}

	return NewModel(p, b)
}

// table holds smoothed log likelihoods for one field.
type table struct {
	known  []map[int64]float64 // [class][id]
	unseen []float64           // [class], ids never counted for that class
}

func newTable(fc FieldCounts, size int, alpha float64) table {
	classes := len(fc.Totals)
	tb := table{known: make([]map[int64]float64, classes), unseen: make([]float64, classes)}
	for c := 0; c < classes; c++ {
		denom := float64(fc.Totals[c]) + alpha*float64(size)
		tb.unseen[c] = math.Log(alpha / denom)
		tb.known[c] = make(map[int64]float64, len(fc.Counts[c]))
		for id, n := range fc.Counts[c] {
			tb.known[c][id] = math.Log((float64(n) + alpha) / denom)
		}
	}
	return tb
}

func (tb table) score(class int, seq []int64) float64 {
	s := 0.0
	for _, id := range seq {
		if id < 0 {
			continue
		}
		if ll, ok := tb.known[class][id]; ok {
			s += ll
		} else {
			s += tb.unseen[class]
		}
	}
	return s
}

// Model is an immutable trained naive Bayes classifier.
type Model struct {
	binding   classifier.Binding
	params    Params
	logPriors []float64
	title     table
	body      table
	domain    table
}

// NewModel precomputes log probabilities from params.
func NewModel(p Params, b classifier.Binding) (*Model, error) {
	if err := p.validate(b.Classes); err != nil {
		return nil, err
	}

	total := 0
	for _, n := range p.ClassCounts {
		total += n
	}
	priors := make([]float64, b.Classes)
	for c, n := range p.ClassCounts {
		// smoothed so that classes absent from training stay predictable
		priors[c] = math.Log((float64(n) + p.Smoothing) / (float64(total) + p.Smoothing*float64(b.Classes)))
	}

	return &Model{
		binding:   b,
		params:    p,
		logPriors: priors,
		title:     newTable(p.Title, p.Sizes.Title, p.Smoothing),
		body:      newTable(p.Body, p.Sizes.Body, p.Smoothing),
		domain:    newTable(p.Domain, p.Sizes.Domain, p.Smoothing),
	}, nil
}

func (p Params) validate(classes int) error {
	if p.Smoothing <= 0 {
		return fmt.Errorf("bayes: smoothing %v: %w", p.Smoothing, internalerr.ErrInvalidInput)
	}
	if len(p.ClassCounts) != classes {
		return fmt.Errorf("bayes: %d class counts for %d classes: %w", len(p.ClassCounts), classes, internalerr.ErrModelBinding)
	}
	for name, fc := range map[string]FieldCounts{"title": p.Title, "body": p.Body, "domain": p.Domain} {
		if len(fc.Totals) != classes || len(fc.Counts) != classes {
			return fmt.Errorf("bayes: %s counts shaped for another class count: %w", name, internalerr.ErrModelBinding)
		}
	}
	if p.Sizes.Title <= 0 || p.Sizes.Body <= 0 || p.Sizes.Domain <= 0 {
		return fmt.Errorf("bayes: invalid feature sizes %+v: %w", p.Sizes, internalerr.ErrInvalidInput)
	}
	return nil
}

// Kind implements classifier.Model.
func (m *Model) Kind() string { return Kind }

// Binding implements classifier.Model.
func (m *Model) Binding() classifier.Binding { return m.binding }

// Predict implements classifier.Model.
func (m *Model) Predict(f vocab.Encoded) (classifier.Prediction, error) {
	scores := make([]float64, len(m.logPriors))
	for c := range scores {
		scores[c] = m.logPriors[c] +
			m.title.score(c, f.Title) +
			m.body.score(c, f.Body) +
			m.domain.score(c, f.Domain)
	}
	probs := classifier.Softmax(scores)
	return classifier.Prediction{Label: classifier.Argmax(probs), Probabilities: probs}, nil
}

// MarshalParams implements classifier.Persistable.
func (m *Model) MarshalParams() ([]byte, error) {
	return yaml.Marshal(m.params)
}

// Decode implements classifier.Decoder.
func Decode(data []byte, b classifier.Binding) (classifier.Model, error) {
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bayes: decode params: %w", err)
	}
	for _, fc := range []*FieldCounts{&p.Title, &p.Body, &p.Domain} {
		for i := range fc.Counts {
			if fc.Counts[i] == nil {
				fc.Counts[i] = make(map[int64]int)
			}
		}
	}
	return NewModel(p, b)
}
