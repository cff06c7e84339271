package vocab

import (
	"fmt"

	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// FormatVersion is the current snapshot layout.
const FormatVersion = 1

// Snapshot is the persisted form of an Encoder.
type Snapshot struct {
	Version            int           `yaml:"version"`
	Fingerprint        string        `yaml:"fingerprint"`
	CatalogFingerprint string        `yaml:"catalog_fingerprint"`
	Reserved           Reserved      `yaml:"reserved"`
	Title              FieldSnapshot `yaml:"title"`
	Body               FieldSnapshot `yaml:"body"`
	Domain             FieldSnapshot `yaml:"domain"`
}

// Reserved records the id conventions the snapshot was written with.
type Reserved struct {
	Pad    int `yaml:"pad"`
	OOV    int `yaml:"oov"`
	Offset int `yaml:"offset"`
}

// FieldSnapshot is one vocabulary: tokens listed in id order.
type FieldSnapshot struct {
	MaxLength int      `yaml:"max_length"`
	Tokens    []string `yaml:"tokens"`
}

// Snapshot captures the encoder for persistence.
func (e *Encoder) Snapshot() Snapshot {
	return Snapshot{
		Version:            FormatVersion,
		Fingerprint:        e.Fingerprint(),
		CatalogFingerprint: e.catalogFingerprint,
		Reserved:           Reserved{Pad: PadID, OOV: OOVID, Offset: Offset},
		Title:              FieldSnapshot{MaxLength: e.Title.maxLength, Tokens: e.Title.Tokens()},
		Body:               FieldSnapshot{MaxLength: e.Body.maxLength, Tokens: e.Body.Tokens()},
		Domain:             FieldSnapshot{MaxLength: e.Domain.maxLength, Tokens: e.Domain.Tokens()},
	}
}

// Restore rebuilds an encoder and checks it against the recorded fingerprint.
func Restore(s Snapshot) (*Encoder, error) {
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("vocab: snapshot version %d, want %d: %w", s.Version, FormatVersion, internalerr.ErrModelBinding)
	}
	if s.Reserved != (Reserved{Pad: PadID, OOV: OOVID, Offset: Offset}) {
		return nil, fmt.Errorf("vocab: reserved ids %+v differ: %w", s.Reserved, internalerr.ErrModelBinding)
	}

	title, err := fromTokens(s.Title.Tokens, s.Title.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}
	body, err := fromTokens(s.Body.Tokens, s.Body.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	domain, err := fromTokens(s.Domain.Tokens, s.Domain.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}

	e := &Encoder{Title: title, Body: body, Domain: domain, catalogFingerprint: s.CatalogFingerprint}
	if got := e.Fingerprint(); got != s.Fingerprint {
		return nil, fmt.Errorf("vocab: fingerprint %s, snapshot says %s: %w", got, s.Fingerprint, internalerr.ErrModelBinding)
	}
	return e, nil
}
