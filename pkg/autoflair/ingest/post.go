package ingest

import (
	"errors"
	"strings"
	"time"
)

// SelfPostDomain replaces the domain of text-only posts.
const SelfPostDomain = "AFPSelfPost"

// Post is a read-only snapshot of a submission as observed on the feed.
type Post struct {
	ID              string
	Title           string
	Body            string
	Domain          string
	IsSelf          bool
	CreatedAt       time.Time
	Flair           string // existing flair text, empty when unlabeled
	FlairTemplateID string
}

// Labeled reports whether the post already carries a flair.
func (p Post) Labeled() bool {
	return p.Flair != "" || p.FlairTemplateID != ""
}

// Age returns how long ago the post was created.
func (p Post) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// Fields are the three cleaned text inputs of the classifier.
type Fields struct {
	Title  string
	Body   string
	Domain string
}

// Record is a cleaned, labeled training example.
// JSON names match the historical dataset export.
type Record struct {
	Flair  string `json:"flairText"`
	Title  string `json:"titleText"`
	Body   string `json:"postText"`
	Domain string `json:"domain"`
}

// Fields returns the record's classifier inputs.
func (r Record) Fields() Fields {
	return Fields{Title: r.Title, Body: r.Body, Domain: r.Domain}
}

// Validate checks if the record has required fields
func (r *Record) Validate() error {
	if strings.TrimSpace(r.Flair) == "" {
		return errors.New("record flair is required")
	}

	if strings.TrimSpace(r.Domain) == "" {
		return errors.New("record domain is required")
	}

	return nil
}
