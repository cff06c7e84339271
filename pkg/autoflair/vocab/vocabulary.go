// Package vocab maps cleaned text to fixed-length integer sequences.
//
// The same Vocabulary and the same Encode path serve training-set construction
// and per-post inference, so both sides always see bit-identical encodings.
package vocab

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// Reserved raw ids.
const (
	PadID = 0 // no token
	OOVID = 1 // token unseen at fit time

	firstTokenID = 2
)

// Offset is added to raw ids by Encode so that padding becomes -1.
const Offset = -1

// Tokenize splits text on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// Vocabulary is an immutable token<->id mapping with a fixed output length.
type Vocabulary struct {
	maxLength int
	tokens    []string // tokens[i] has id i+firstTokenID
	index     map[string]int
}

// Fit builds a vocabulary from corpus. Every distinct token gets the next id in
// order of first occurrence, so equal input order yields equal vocabularies.
func Fit(corpus []string, maxLength int) (*Vocabulary, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("vocab: max length %d: %w", maxLength, internalerr.ErrInvalidInput)
	}

	v := &Vocabulary{maxLength: maxLength, index: make(map[string]int)}
	for _, doc := range corpus {
		for _, tok := range Tokenize(doc) {
			v.add(tok)
		}
	}
	return v, nil
}

func fromTokens(tokens []string, maxLength int) (*Vocabulary, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("vocab: max length %d: %w", maxLength, internalerr.ErrInvalidInput)
	}
	v := &Vocabulary{maxLength: maxLength, index: make(map[string]int, len(tokens))}
	for _, tok := range tokens {
		if tok == "" || strings.ContainsAny(tok, " \t\n\r") {
			return nil, fmt.Errorf("vocab: invalid token %q: %w", tok, internalerr.ErrInvalidInput)
		}
		if _, dup := v.index[tok]; dup {
			return nil, fmt.Errorf("vocab: duplicate token %q: %w", tok, internalerr.ErrInvalidInput)
		}
		v.add(tok)
	}
	return v, nil
}

func (v *Vocabulary) add(tok string) {
	if _, ok := v.index[tok]; ok {
		return
	}
	v.index[tok] = len(v.tokens) + firstTokenID
	v.tokens = append(v.tokens, tok)
}

// MaxLength is the fixed length of every transformed sequence.
func (v *Vocabulary) MaxLength() int { return v.maxLength }

// Len returns the number of real tokens.
func (v *Vocabulary) Len() int { return len(v.tokens) }

// Size returns the number of raw ids, reserved ids included.
func (v *Vocabulary) Size() int { return len(v.tokens) + firstTokenID }

// ID returns the raw id of token, OOVID when unseen.
func (v *Vocabulary) ID(token string) int {
	if id, ok := v.index[token]; ok {
		return id
	}
	return OOVID
}

// Token returns the token for a raw id.
func (v *Vocabulary) Token(id int) (string, bool) {
	i := id - firstTokenID
	if i < 0 || i >= len(v.tokens) {
		return "", false
	}
	return v.tokens[i], true
}

// Transform maps text to exactly MaxLength raw ids. Sequences are truncated
// keeping their start and padded with PadID.
func (v *Vocabulary) Transform(text string) []int {
	out := make([]int, v.maxLength)
	for i, tok := range Tokenize(text) {
		if i >= v.maxLength {
			break
		}
		out[i] = v.ID(tok)
	}
	return out
}

// Encode is Transform shifted by Offset: padding -1, OOV 0, tokens from 1.
func (v *Vocabulary) Encode(text string) []int64 {
	raw := v.Transform(text)
	out := make([]int64, len(raw))
	for i, id := range raw {
		out[i] = int64(id + Offset)
	}
	return out
}

// Fingerprint identifies the mapping and output length.
func (v *Vocabulary) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "len=%d\x00pad=%d\x00oov=%d\x00off=%d\x00", v.maxLength, PadID, OOVID, Offset)
	for _, tok := range v.tokens {
		h.Write([]byte(tok))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Tokens returns the real tokens in id order.
func (v *Vocabulary) Tokens() []string {
	out := make([]string, len(v.tokens))
	copy(out, v.tokens)
	return out
}
