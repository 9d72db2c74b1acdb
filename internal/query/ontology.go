package query

import "strings"

// concept is one entry of the static expansion ontology. A concept matches
// when its trigger or any of its synonyms appears in the normalized query;
// matching contributes up to the configured cap of synonyms, excluding
// forbidden terms and terms already present.
type concept struct {
	trigger   string
	synonyms  []string
	forbidden map[string]struct{}
}

// ontology is a seed set of biomedical concepts. The table is intentionally
// static: expansion breadth is bounded per concept and per query, and
// forbidden terms keep overly generic synonyms out of compiled queries.
var ontology = []concept{
	{
		trigger:   "omega-3",
		synonyms:  []string{"fish oil", "n-3 fatty acids", "docosahexaenoic acid", "eicosapentaenoic acid"},
		forbidden: map[string]struct{}{"oil": {}},
	},
	{
		trigger:  "pain",
		synonyms: []string{"chronic pain", "analgesia", "nociception"},
	},
	{
		trigger:  "depression",
		synonyms: []string{"major depressive disorder", "depressive symptoms", "mdd"},
	},
	{
		trigger:  "hypertension",
		synonyms: []string{"high blood pressure", "elevated blood pressure"},
	},
	{
		trigger:   "diabetes",
		synonyms:  []string{"type 2 diabetes", "t2dm", "hyperglycemia"},
		forbidden: map[string]struct{}{"sugar": {}},
	},
	{
		trigger:  "exercise",
		synonyms: []string{"physical activity", "aerobic training", "resistance training"},
	},
	{
		trigger:  "sleep",
		synonyms: []string{"insomnia", "sleep quality", "sleep duration"},
	},
	{
		trigger:  "inflammation",
		synonyms: []string{"inflammatory markers", "c-reactive protein"},
	},
	{
		trigger:  "anxiety",
		synonyms: []string{"anxiety disorder", "generalized anxiety"},
	},
	{
		trigger:  "vitamin d",
		synonyms: []string{"cholecalciferol", "25-hydroxyvitamin d"},
	},
}

// expand returns ontology-derived synonym terms for the normalized query,
// the number of matched concepts, and whether the per-query cap truncated
// the expansion.
func expand(normalized string, maxPerConcept, maxTotal int) (terms []string, matched int, truncated bool) {
	present := func(term string) bool {
		if strings.Contains(normalized, term) {
			return true
		}
		return containsToken(terms, term)
	}

	for _, c := range ontology {
		if !conceptMatches(c, normalized) {
			continue
		}
		matched++

		added := 0
		for _, syn := range c.synonyms {
			if added == maxPerConcept {
				break
			}
			if _, bad := c.forbidden[syn]; bad {
				continue
			}
			if present(syn) {
				continue
			}
			if len(terms) == maxTotal {
				truncated = true
				return terms, matched, truncated
			}
			terms = append(terms, syn)
			added++
		}
	}
	return terms, matched, truncated
}

func conceptMatches(c concept, normalized string) bool {
	if strings.Contains(normalized, c.trigger) {
		return true
	}
	// A hyphen/space variant of the trigger also matches (omega-3 vs omega 3).
	if variant := strings.ReplaceAll(c.trigger, "-", " "); variant != c.trigger && strings.Contains(normalized, variant) {
		return true
	}
	for _, syn := range c.synonyms {
		if strings.Contains(normalized, syn) {
			return true
		}
	}
	return false
}
