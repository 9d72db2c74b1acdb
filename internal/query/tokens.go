package query

import (
	"regexp"
	"strings"
)

// stopWords are filtered out during tokenization. Negation and comparator
// tokens are deliberately absent: they carry clinical meaning.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	"from": {}, "by": {}, "about": {}, "as": {}, "into": {}, "with": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"do": {}, "does": {}, "did": {}, "what": {}, "which": {}, "who": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "it": {}, "its": {},
	"can": {}, "could": {}, "should": {}, "would": {}, "may": {}, "might": {},
	"will": {}, "than": {}, "there": {}, "between": {}, "among": {},
	"during": {}, "after": {}, "before": {},
}

// preservedTokens are never dropped by the stop-word filter.
var preservedTokens = map[string]struct{}{
	"not": {}, "without": {}, "no": {}, "vs": {},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9-]*`)

// tokenize splits a normalized query into deduped, stop-word-filtered terms,
// capped at maxTerms.
func tokenize(normalized string, maxTerms int) []string {
	raw := tokenPattern.FindAllString(normalized, -1)

	terms := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, tok := range raw {
		if _, preserved := preservedTokens[tok]; !preserved {
			if _, stop := stopWords[tok]; stop {
				continue
			}
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}

// containsToken reports whether tok appears as a whole token in terms.
func containsToken(terms []string, tok string) bool {
	for _, t := range terms {
		if t == tok {
			return true
		}
	}
	return false
}

// ambiguityTokens are comparative superlatives that leave the comparison
// referent implicit.
var ambiguityTokens = []string{"best", "worst", "safest", "greatest", "strongest"}

// countAmbiguity counts ambiguity tokens in the normalized query, unless the
// query names an explicit referent via a comparator or neutral comparison.
func countAmbiguity(normalized string, terms []string) int {
	if containsToken(terms, "vs") || strings.Contains(normalized, "compared with") {
		return 0
	}
	n := 0
	for _, tok := range ambiguityTokens {
		if containsToken(terms, tok) {
			n++
		}
	}
	return n
}
