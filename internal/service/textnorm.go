package service

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/lumenfeed/lumenfeed/internal/domain"
)

// minTokenLength filters out short stopword-like tokens before similarity.
const minTokenLength = 3

// groupIDPrefix marks a freshly minted duplicate-group id.
const groupIDPrefix = "dup_"

// abbreviations maps common shorthand in user reports to the words they stand
// for, so "payment btn" and "payment button" normalize to the same tokens.
var abbreviations = map[string]string{
	"btn":  "button",
	"msg":  "message",
	"img":  "image",
	"err":  "error",
	"pwd":  "password",
	"acct": "account",
	"nav":  "navigation",
	"cfg":  "config",
}

// BuildContext concatenates the searchable parts of an interaction into one
// normalized text blob. Pure: the same interaction state always yields the
// same blob.
func BuildContext(i *domain.Interaction) string {
	parts := make([]string, 0, 6)
	if i.Title != "" {
		parts = append(parts, i.Title)
	}
	if i.Description != "" {
		parts = append(parts, i.Description)
	}
	if i.Content.FreeText != "" {
		parts = append(parts, i.Content.FreeText)
	}
	parts = append(parts, i.Content.Errors...)
	if i.Content.URL != "" {
		parts = append(parts, i.Content.URL)
	}
	if i.Content.UserAgent != "" {
		parts = append(parts, i.Content.UserAgent)
	}
	return NormalizeText(strings.Join(parts, " "))
}

// NormalizeText lowercases, strips punctuation, expands known abbreviations
// and collapses whitespace.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	for i, f := range fields {
		if full, ok := abbreviations[f]; ok {
			fields[i] = full
		}
	}
	return strings.Join(fields, " ")
}

// Tokenize splits normalized text into the token set used for similarity,
// dropping tokens shorter than minTokenLength.
func Tokenize(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(normalized) {
		if len(f) >= minTokenLength {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

// Jaccard computes token-set Jaccard similarity between two token sets.
// Two empty sets have similarity 0, not 1.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// GroupDigest mints a duplicate-group id as a deterministic digest of the
// normalized text. Identical normalized text always yields the same id, which
// makes independent clustering runs converge on one group.
func GroupDigest(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return groupIDPrefix + hex.EncodeToString(sum[:8])
}
