package query

import (
	"fmt"
	"strings"

	"github.com/scholium/corpus-service/internal/domain"
)

// Mode controls retrieval breadth: how many expanded terms each compiled
// query includes.
type Mode string

const (
	ModeBalanced Mode = "balanced"
	ModeBroad    Mode = "broad"
)

// expandedBudget returns how many expanded terms a compiled query may use.
func expandedBudget(mode Mode) int {
	if mode == ModeBroad {
		return 6
	}
	return 2
}

// compilePerSource builds one query string per configured provider. Broad
// recall sources get a phrase-OR query, the structured-metadata source gets
// an AND of title/abstract fields, and the rest get a flat bag of terms.
// A compilation that yields nothing falls back to the normalized query, so
// the result always has exactly one non-empty entry per provider.
func compilePerSource(normalized string, terms, expanded []string, mode Mode) map[domain.SourceType]string {
	budget := expandedBudget(mode)
	if budget > len(expanded) {
		budget = len(expanded)
	}
	exp := expanded[:budget]

	out := map[domain.SourceType]string{
		domain.SourceSemanticScholar: compileFlat(terms, exp),
		domain.SourceOpenAlex:        compilePhraseOR(terms, exp),
		domain.SourcePubMed:          compileFielded(terms, exp),
		domain.SourceScopus:          compileScopus(terms, exp),
	}

	for _, src := range domain.AllSources {
		if strings.TrimSpace(out[src]) == "" {
			out[src] = normalized
		}
	}
	return out
}

// compileFlat joins all terms into a plain relevance query.
func compileFlat(terms, expanded []string) string {
	return strings.Join(append(append([]string{}, terms...), expanded...), " ")
}

// compilePhraseOR builds a quoted phrase-OR query for broad recall sources.
func compilePhraseOR(terms, expanded []string) string {
	all := append(append([]string{}, terms...), expanded...)
	quoted := make([]string, 0, len(all))
	for _, t := range all {
		quoted = append(quoted, fmt.Sprintf("%q", t))
	}
	return strings.Join(quoted, " OR ")
}

// compileFielded builds an AND-of-title/abstract-fields query for PubMed.
// Expanded terms join as a single OR group so they widen rather than narrow.
func compileFielded(terms, expanded []string) string {
	clauses := make([]string, 0, len(terms)+1)
	for _, t := range terms {
		clauses = append(clauses, t+"[tiab]")
	}
	if len(expanded) > 0 {
		group := make([]string, 0, len(expanded))
		for _, t := range expanded {
			group = append(group, t+"[tiab]")
		}
		clauses = append(clauses, "("+strings.Join(group, " OR ")+")")
	}
	return strings.Join(clauses, " AND ")
}

// compileScopus wraps a phrase-OR query in the Scopus field operator.
func compileScopus(terms, expanded []string) string {
	inner := compilePhraseOR(terms, expanded)
	if inner == "" {
		return ""
	}
	return "TITLE-ABS-KEY(" + inner + ")"
}
