// Package model persists a trained classifier together with the catalog and
// vocabulary it was trained against.
package model

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/classifier"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/vocab"
)

// File names inside a bundle directory.
const (
	ManifestFile = "manifest.yaml"
	ParamsFile   = "params.yaml"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Bundle is a servable model: classifier, vocabulary and catalog, bound together.
type Bundle struct {
	ID        string
	CreatedAt time.Time
	// Accuracy on HeldOut examples; meaningless when HeldOut is zero.
	Accuracy float64
	HeldOut  int

	Catalog *catalog.Catalog
	Encoder *vocab.Encoder
	Model   classifier.Model
}

// Manifest is the on-disk description of a bundle. Classifier parameters are
// stored next to it in ParamsFile.
type Manifest struct {
	ID         string             `yaml:"id"`
	CreatedAt  time.Time          `yaml:"created_at"`
	Kind       string             `yaml:"kind"`
	Accuracy   float64            `yaml:"accuracy"`
	HeldOut    int                `yaml:"held_out"`
	Binding    classifier.Binding `yaml:"binding"`
	Catalog    []catalog.Choice   `yaml:"catalog"`
	Vocabulary vocab.Snapshot     `yaml:"vocabulary"`
}

// NewBundle assigns a fresh id after checking that the parts belong together.
func NewBundle(cat *catalog.Catalog, enc *vocab.Encoder, m classifier.Model, created time.Time) (*Bundle, error) {
	if err := classifier.Verify(m, enc, cat); err != nil {
		return nil, err
	}
	return &Bundle{
		ID:        newID(created),
		CreatedAt: created.UTC(),
		Catalog:   cat,
		Encoder:   enc,
		Model:     m,
	}, nil
}

// Exists reports whether dir holds a bundle manifest.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}

// Save writes the bundle into dir, creating it if needed. The manifest is
// written last so a partial save is never loadable.
func (b *Bundle) Save(dir string) error {
	p, ok := b.Model.(classifier.Persistable)
	if !ok {
		return fmt.Errorf("model: %s models cannot be persisted: %w", b.Model.Kind(), internalerr.ErrInvalidInput)
	}
	params, err := p.MarshalParams()
	if err != nil {
		return fmt.Errorf("model: marshal params: %w", err)
	}

	man := Manifest{
		ID:         b.ID,
		CreatedAt:  b.CreatedAt,
		Kind:       b.Model.Kind(),
		Accuracy:   b.Accuracy,
		HeldOut:    b.HeldOut,
		Binding:    b.Model.Binding(),
		Catalog:    b.Catalog.Choices(),
		Vocabulary: b.Encoder.Snapshot(),
	}
	manifest, err := yaml.Marshal(man)
	if err != nil {
		return fmt.Errorf("model: marshal manifest: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("model: create %s: %w", dir, err)
	}
	// Drop the old manifest first so a crash between the two writes leaves no
	// manifest pointing at the wrong parameters.
	if err := os.Remove(filepath.Join(dir, ManifestFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("model: remove old manifest: %w", err)
	}
	if err := writeFile(dir, ParamsFile, params); err != nil {
		return err
	}
	return writeFile(dir, ManifestFile, manifest)
}

func writeFile(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("model: write %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("model: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("model: write %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

// Load reads a bundle from dir and verifies its bindings. Any disagreement
// between catalog, vocabulary and classifier is an ErrModelBinding.
func Load(dir string) (*Bundle, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("model: no bundle in %s: %w", dir, internalerr.ErrNotFound)
		}
		return nil, fmt.Errorf("model: read manifest: %w", err)
	}
	var man Manifest
	if err := yaml.Unmarshal(raw, &man); err != nil {
		return nil, fmt.Errorf("model: parse manifest: %w", err)
	}

	cat, err := catalog.New(man.Catalog)
	if err != nil {
		return nil, fmt.Errorf("model: catalog: %w", err)
	}
	enc, err := vocab.Restore(man.Vocabulary)
	if err != nil {
		return nil, fmt.Errorf("model: vocabulary: %w", err)
	}

	params, err := os.ReadFile(filepath.Join(dir, ParamsFile))
	if err != nil {
		return nil, fmt.Errorf("model: read params: %w", err)
	}
	m, err := classifier.Decode(man.Kind, params, man.Binding)
	if err != nil {
		return nil, fmt.Errorf("model: decode %s: %w", man.Kind, err)
	}
	if err := classifier.Verify(m, enc, cat); err != nil {
		return nil, fmt.Errorf("model %s: %w", man.ID, err)
	}

	return &Bundle{
		ID:        man.ID,
		CreatedAt: man.CreatedAt,
		Accuracy:  man.Accuracy,
		HeldOut:   man.HeldOut,
		Catalog:   cat,
		Encoder:   enc,
		Model:     m,
	}, nil
}
