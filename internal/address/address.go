// Package address normalizes listing addresses into stable cache keys and
// cleans provider-reported area names.
package address

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldMarks strips combining marks so "Café" and "Cafe" hash the same.
var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalizes each part (case, accents, punctuation, whitespace)
// and joins them with "|".
func Normalize(parts ...string) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = normalizePart(p)
	}
	return strings.Join(out, "|")
}

func normalizePart(s string) string {
	folded, _, err := transform.String(foldMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '#' || r == '-' || r == '/':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// Whitespace and other punctuation both collapse into a single separator.
			space = true
		}
	}
	return b.String()
}

// CacheKey returns the SHA-256 hex of the normalized address, city and county.
// Equivalent inputs that differ only in case, accents or spacing share a key.
func CacheKey(street, city, county string) string {
	h := sha256.Sum256([]byte(Normalize(street, city, county)))
	return fmt.Sprintf("%x", h)
}

// FullAddress formats the non-empty parts as a single line for geocoders.
func FullAddress(street, city, county, zip string) string {
	parts := []string{street, city, county, zip}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// nullLike holds provider placeholders that mean "no value".
var nullLike = map[string]bool{
	"":               true,
	"n/a":            true,
	"na":             true,
	"none":           true,
	"null":           true,
	"nil":            true,
	"unknown":        true,
	"not available":  true,
	"not applicable": true,
	"-":              true,
	"--":             true,
}

// trailingQualifier matches subdivision qualifiers such as "Section 2",
// "Phase III", "Unit 4B", "Sec. 3", "Blk 7" or "Replat" at the end of a name.
var trailingQualifier = regexp.MustCompile(
	`(?i)[\s,\-]+(?:(?:section|sec|phase|ph|unit|blk|block|lot|tract|filing|addition|add|no|#)\.?\s*(?:no\.?\s*)?[0-9ivxlc]+[a-z]?|replat|amended|resubdivision|resub)\.?$`,
)

// CleanAreaName normalizes a neighborhood or community name. Null-like
// placeholders become "" and trailing section/phase/unit qualifiers are
// removed.
func CleanAreaName(s string) string {
	s = strings.TrimSpace(s)
	if nullLike[strings.ToLower(s)] {
		return ""
	}

	// Qualifiers can stack ("Oak Park Phase 2 Section 1").
	for {
		stripped := trailingQualifier.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}

	s = strings.Trim(s, " \t,;-")
	if nullLike[strings.ToLower(s)] {
		return ""
	}
	return s
}
