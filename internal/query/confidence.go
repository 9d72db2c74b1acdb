package query

import "github.com/scholium/corpus-service/internal/domain"

// Confidence scoring constants.
const (
	confidenceBase       = 0.5
	confidenceMin        = 0.05
	confidenceMax        = 0.95
	shortQueryTermCount  = 3
	shortQueryPenalty    = 0.15
	ambiguityPenalty     = 0.1
	maxAmbiguityPenalty  = 2
	negationBonus        = 0.05
	comparatorBonus      = 0.05
	conceptBonus         = 0.08
	maxConceptBonus      = 2
	expansionCapPenalty  = 0.05
)

// scoreConfidence computes the clamped confidence for a prepared query and
// returns the reason codes that contributed to it.
func scoreConfidence(normalized string, terms []string, conceptMatches int, expansionTruncated bool) (float64, []string) {
	var reasons []string
	score := confidenceBase

	if len(terms) < shortQueryTermCount {
		score -= shortQueryPenalty
		reasons = append(reasons, domain.ReasonShortQueryPenalty)
	}

	if n := countAmbiguity(normalized, terms); n > 0 {
		if n > maxAmbiguityPenalty {
			n = maxAmbiguityPenalty
		}
		score -= float64(n) * ambiguityPenalty
		reasons = append(reasons, domain.ReasonAmbiguityPenalty)
	}

	for _, neg := range []string{"not", "without", "no"} {
		if containsToken(terms, neg) {
			score += negationBonus
			reasons = append(reasons, domain.ReasonNegationPreserved)
			break
		}
	}

	if containsToken(terms, "vs") {
		score += comparatorBonus
		reasons = append(reasons, domain.ReasonComparatorPreserved)
	}

	if conceptMatches > 0 {
		n := conceptMatches
		if n > maxConceptBonus {
			n = maxConceptBonus
		}
		score += float64(n) * conceptBonus
		reasons = append(reasons, domain.ReasonConceptMatchBonus)
	}

	if expansionTruncated {
		score -= expansionCapPenalty
		reasons = append(reasons, domain.ReasonExpansionBreadthPenalty)
	}

	if score < confidenceMin {
		score = confidenceMin
	}
	if score > confidenceMax {
		score = confidenceMax
	}
	return score, reasons
}
