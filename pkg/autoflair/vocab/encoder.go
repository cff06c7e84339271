package vocab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
)

// Lengths configures the per-field sequence lengths.
// Body is an upper bound; the fitted length may be shorter.
type Lengths struct {
	Title  int
	Body   int
	Domain int
}

// Encoded holds one shifted sequence per field.
type Encoded struct {
	Title  []int64
	Body   []int64
	Domain []int64
}

// Encoder bundles the title, body and domain vocabularies with the
// fingerprint of the catalog they were built against.
type Encoder struct {
	Title  *Vocabulary
	Body   *Vocabulary
	Domain *Vocabulary

	catalogFingerprint string
}

// FitEncoder fits one vocabulary per field. The body length becomes the
// longest body seen, capped at lengths.Body.
func FitEncoder(fields []ingest.Fields, lengths Lengths, catalogFingerprint string) (*Encoder, error) {
	titles := make([]string, len(fields))
	bodies := make([]string, len(fields))
	domains := make([]string, len(fields))
	longest := 0
	for i, f := range fields {
		titles[i], bodies[i], domains[i] = f.Title, f.Body, f.Domain
		if n := len(Tokenize(f.Body)); n > longest {
			longest = n
		}
	}

	bodyLen := lengths.Body
	if longest < bodyLen {
		bodyLen = max(longest, 1)
	}

	title, err := Fit(titles, lengths.Title)
	if err != nil {
		return nil, fmt.Errorf("title: %w", err)
	}
	body, err := Fit(bodies, bodyLen)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	domain, err := Fit(domains, lengths.Domain)
	if err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}

	return &Encoder{Title: title, Body: body, Domain: domain, catalogFingerprint: catalogFingerprint}, nil
}

// Encode transforms cleaned fields. It is the single encoding path for both
// training and inference.
func (e *Encoder) Encode(f ingest.Fields) Encoded {
	return Encoded{
		Title:  e.Title.Encode(f.Title),
		Body:   e.Body.Encode(f.Body),
		Domain: e.Domain.Encode(f.Domain),
	}
}

// Lengths reports the fitted sequence lengths.
func (e *Encoder) Lengths() Lengths {
	return Lengths{Title: e.Title.MaxLength(), Body: e.Body.MaxLength(), Domain: e.Domain.MaxLength()}
}

// CatalogFingerprint is the catalog the encoder was fitted for.
func (e *Encoder) CatalogFingerprint() string { return e.catalogFingerprint }

// Fingerprint identifies the three vocabularies and their catalog.
func (e *Encoder) Fingerprint() string {
	h := sha256.New()
	for _, s := range []string{e.Title.Fingerprint(), e.Body.Fingerprint(), e.Domain.Fingerprint(), e.catalogFingerprint} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
