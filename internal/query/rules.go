// Package query turns a raw research question into a normalized query, one
// compiled query per provider, and a confidence score, escalating to an
// LLM-assisted rewrite only when confidence is low.
package query

import (
	"regexp"
	"strings"

	"github.com/scholium/corpus-service/internal/domain"
)

// rule is one step of the normalization pipeline: a matcher, a replacement,
// and the reason code appended when the rule fires. Rules are applied in
// order, which keeps the set extensible without branching logic.
type rule struct {
	matcher *regexp.Regexp
	replace string
	reason  string
}

// characterFolds maps typographic characters to their ASCII equivalents.
var characterFolds = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	"–", "-", "—", "-",
	" ", " ",
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// doseRules insert a space between a number and a dose unit.
var doseRules = []rule{
	{
		matcher: regexp.MustCompile(`\b(\d+(?:\.\d+)?)(mg|mcg|g|kg|ml|l|iu)\b`),
		replace: "$1 $2",
		reason:  domain.ReasonDoseUnitNormalized,
	},
}

// boilerplateRules strip interrogative prefixes that carry no search signal.
var boilerplateRules = []rule{
	{
		matcher: regexp.MustCompile(`^(?:what (?:is|are) the (?:effects?|impacts?|benefits?|risks?) of|how (?:effective|safe) is|does|do|is there evidence that|can)\s+`),
		replace: "",
		reason:  domain.ReasonBoilerplateRemoved,
	},
}

// comparatorRules canonicalize comparator tokens to "vs".
var comparatorRules = []rule{
	{
		matcher: regexp.MustCompile(`\b(?:versus|vs\.?)(\s|$)`),
		replace: "vs$1",
		reason:  "",
	},
}

// neutralizeRules replace subjective comparatives with a neutral phrasing.
// Each rule appends its own reason code. Replacements never re-match, so the
// pipeline is idempotent.
var neutralizeRules = []rule{
	{
		matcher: regexp.MustCompile(`\bbetter than\b`),
		replace: "compared with",
		reason:  domain.ReasonComparativeNeutralizedPrefix + "better_than",
	},
	{
		matcher: regexp.MustCompile(`\bworse than\b`),
		replace: "compared with",
		reason:  domain.ReasonComparativeNeutralizedPrefix + "worse_than",
	},
	{
		matcher: regexp.MustCompile(`\bsuperior to\b`),
		replace: "compared with",
		reason:  domain.ReasonComparativeNeutralizedPrefix + "superior_to",
	},
	{
		matcher: regexp.MustCompile(`\binferior to\b`),
		replace: "compared with",
		reason:  domain.ReasonComparativeNeutralizedPrefix + "inferior_to",
	},
	{
		matcher: regexp.MustCompile(`\bmore effective than\b`),
		replace: "compared with",
		reason:  domain.ReasonComparativeNeutralizedPrefix + "more_effective_than",
	},
}

// normalize runs the deterministic rule pipeline and returns the normalized
// query plus the reason codes of every rule that fired. It never fails.
func normalize(raw string) (string, []string) {
	var reasons []string

	q := characterFolds.Replace(raw)
	q = strings.ToLower(strings.TrimSpace(q))
	q = whitespaceRun.ReplaceAllString(q, " ")

	apply := func(rules []rule) {
		for _, r := range rules {
			if !r.matcher.MatchString(q) {
				continue
			}
			q = r.matcher.ReplaceAllString(q, r.replace)
			if r.reason != "" {
				reasons = append(reasons, r.reason)
			}
		}
	}

	apply(doseRules)
	apply(boilerplateRules)
	apply(comparatorRules)
	apply(neutralizeRules)

	q = strings.TrimSpace(whitespaceRun.ReplaceAllString(q, " "))
	return q, dedupeStrings(reasons)
}

// dedupeStrings removes duplicates while preserving first-seen order.
func dedupeStrings(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
