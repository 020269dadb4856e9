// Package matcher normalizes lender names and resolves loose name
// references against a set of known names.
//
// Policy: an exact match on the normalized name wins. Otherwise the first
// candidate whose normalized name contains the first token of the query is
// returned. Multiple fuzzy candidates are never ranked or disambiguated;
// candidates are scanned in the order the caller supplies (Find sorts keys
// lexically so the result is deterministic).
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases a name, folds diacritics, replaces punctuation with
// spaces and collapses whitespace.
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

// FirstToken returns the first word of the normalized name, or "".
func FirstToken(name string) string {
	fields := strings.Fields(Normalize(name))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Match reports whether candidate refers to the same lender as name under
// the exact-then-first-token policy.
func Match(candidate, name string) bool {
	nc, nn := Normalize(candidate), Normalize(name)
	if nn == "" || nc == "" {
		return false
	}
	if nc == nn {
		return true
	}
	return strings.Contains(nc, FirstToken(nn))
}

// Find resolves name against normalized keys. Keys are scanned in lexical
// order for the fuzzy pass.
func Find(keys []string, name string) (string, bool) {
	nn := Normalize(name)
	if nn == "" {
		return "", false
	}
	for _, k := range keys {
		if k == nn {
			return k, true
		}
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	token := FirstToken(nn)
	for _, k := range sorted {
		if strings.Contains(k, token) {
			return k, true
		}
	}
	return "", false
}

// Lookup resolves name against items using key to extract each item's name.
// Items are scanned in the given order; the first exact match wins, then the
// first fuzzy match.
func Lookup[T any](items []T, key func(T) string, name string) (T, bool) {
	var zero T
	nn := Normalize(name)
	if nn == "" {
		return zero, false
	}
	for _, it := range items {
		if Normalize(key(it)) == nn {
			return it, true
		}
	}
	token := FirstToken(nn)
	for _, it := range items {
		if strings.Contains(Normalize(key(it)), token) {
			return it, true
		}
	}
	return zero, false
}
