package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// Choice is a flair option as exposed by the feed.
type Choice struct {
	Text       string `json:"flair_text" yaml:"text"`
	TemplateID string `json:"flair_template_id" yaml:"template_id"`
}

// Entry is a catalog label with its apply token and stable index.
type Entry struct {
	Text       string
	TemplateID string
	Index      int
}

// Source enumerates the community's current flair choices.
type Source interface {
	FlairChoices(ctx context.Context) ([]Choice, error)
}

// Catalog is the ordered, immutable set of valid flairs.
// Index order is fixed at build time; a trained model depends on it.
type Catalog struct {
	entries    []Entry
	byText     map[string]int
	duplicates []Choice
}

// New builds a catalog, assigning indices in choice order. A choice whose
// text repeats an earlier one is left out and reported by Duplicates;
// the label resolves to its first template.
func New(choices []Choice) (*Catalog, error) {
	if len(choices) == 0 {
		return nil, fmt.Errorf("catalog: no flair choices: %w", internalerr.ErrInvalidInput)
	}

	c := &Catalog{
		entries: make([]Entry, 0, len(choices)),
		byText:  make(map[string]int, len(choices)),
	}
	for i, ch := range choices {
		if strings.TrimSpace(ch.Text) == "" {
			return nil, fmt.Errorf("catalog: choice %d has empty text: %w", i, internalerr.ErrInvalidInput)
		}
		if strings.TrimSpace(ch.TemplateID) == "" {
			return nil, fmt.Errorf("catalog: flair %q has no template id: %w", ch.Text, internalerr.ErrInvalidInput)
		}
		if _, dup := c.byText[ch.Text]; dup {
			c.duplicates = append(c.duplicates, ch)
			continue
		}
		idx := len(c.entries)
		c.byText[ch.Text] = idx
		c.entries = append(c.entries, Entry{Text: ch.Text, TemplateID: ch.TemplateID, Index: idx})
	}
	return c, nil
}

// Build samples the flair choices once from the feed.
// Choices are assumed to be community-wide; the catalog is never refreshed afterwards.
func Build(ctx context.Context, src Source) (*Catalog, error) {
	choices, err := src.FlairChoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch flair choices: %w", err)
	}
	return New(choices)
}

// Len returns the number of flairs (the classifier's class count).
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns a copy of the entries in index order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Choices returns the catalog in the form it was built from.
func (c *Catalog) Choices() []Choice {
	out := make([]Choice, len(c.entries))
	for i, e := range c.entries {
		out[i] = Choice{Text: e.Text, TemplateID: e.TemplateID}
	}
	return out
}

// Duplicates returns the choices dropped because their text was already taken.
func (c *Catalog) Duplicates() []Choice {
	return append([]Choice(nil), c.duplicates...)
}

// Lookup resolves a label text.
func (c *Catalog) Lookup(text string) (Entry, bool) {
	i, ok := c.byText[text]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// At returns the entry at a class index.
func (c *Catalog) At(index int) (Entry, error) {
	if index < 0 || index >= len(c.entries) {
		return Entry{}, fmt.Errorf("catalog: index %d out of range [0,%d): %w", index, len(c.entries), internalerr.ErrModelBinding)
	}
	return c.entries[index], nil
}

// Fingerprint identifies the catalog content and order.
func (c *Catalog) Fingerprint() string {
	h := sha256.New()
	for _, e := range c.entries {
		fmt.Fprintf(h, "%d\x00%s\x00%s\x00", e.Index, e.Text, e.TemplateID)
	}
	return hex.EncodeToString(h.Sum(nil))
}
