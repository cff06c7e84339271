package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

var cleanReplacer = strings.NewReplacer(
	"\n", " ",
	"\r", " ",
	`"`, "'",
	`\`, "",
)

// Clean normalizes raw feed text: newlines and carriage returns become spaces,
// double quotes become single quotes and backslashes are dropped.
// Clean(Clean(x)) == Clean(x).
func Clean(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("clean: %w", internalerr.ErrEncoding)
	}
	return cleanReplacer.Replace(text), nil
}

// CleanFields cleans the classifier inputs of a post.
func CleanFields(p Post) (Fields, error) {
	title, err := Clean(p.Title)
	if err != nil {
		return Fields{}, fmt.Errorf("title of %s: %w", p.ID, err)
	}
	body, err := Clean(p.Body)
	if err != nil {
		return Fields{}, fmt.Errorf("body of %s: %w", p.ID, err)
	}

	domain := SelfPostDomain
	if !p.IsSelf {
		if domain, err = Clean(p.Domain); err != nil {
			return Fields{}, fmt.Errorf("domain of %s: %w", p.ID, err)
		}
	}

	return Fields{Title: title, Body: body, Domain: domain}, nil
}

// CleanRecord cleans a record loaded from outside the extractor so its text
// matches what extraction stores and what inference sees.
func CleanRecord(r Record) (Record, error) {
	var err error
	out := Record{Flair: r.Flair}
	if out.Title, err = Clean(r.Title); err != nil {
		return Record{}, fmt.Errorf("record title: %w", err)
	}
	if out.Body, err = Clean(r.Body); err != nil {
		return Record{}, fmt.Errorf("record body: %w", err)
	}
	if out.Domain, err = Clean(r.Domain); err != nil {
		return Record{}, fmt.Errorf("record domain: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Record{}, fmt.Errorf("%v: %w", err, internalerr.ErrInvalidInput)
	}
	return out, nil
}
