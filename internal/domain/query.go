package domain

import "time"

// Reason codes appended by the query processor. Downstream consumers branch on
// these values, so the vocabulary is fixed.
const (
	ReasonBoilerplateRemoved       = "boilerplate_removed"
	ReasonDoseUnitNormalized       = "dose_unit_normalized"
	ReasonOntologyExpansionApplied = "ontology_expansion_applied"
	ReasonLLMFallbackApplied       = "llm_fallback_applied"
	ReasonLLMFallbackFailed        = "llm_fallback_failed"
	ReasonFallbackCircuitOpen      = "fallback_circuit_open"
	ReasonCacheHit                 = "cache_hit"
	ReasonShortQueryPenalty        = "short_query_penalty"
	ReasonAmbiguityPenalty         = "ambiguity_penalty"
	ReasonNegationPreserved        = "negation_preserved"
	ReasonComparatorPreserved      = "comparator_preserved"
	ReasonConceptMatchBonus        = "concept_match_bonus"
	ReasonExpansionBreadthPenalty  = "expansion_breadth_penalty"

	// ReasonComparativeNeutralizedPrefix prefixes the per-rule neutralization
	// codes, e.g. "comparative_neutralized_better_than".
	ReasonComparativeNeutralizedPrefix = "comparative_neutralized_"
)

// PreparedQuery is the output of the query processor: one normalized query,
// one compiled query per configured provider, and diagnostics.
type PreparedQuery struct {
	OriginalQuery   string `json:"original_query"`
	NormalizedQuery string `json:"normalized_query"`

	// QueryTerms are the deduped, stop-word-filtered tokens of the normalized
	// query, capped at the configured term limit.
	QueryTerms []string `json:"query_terms"`

	// ExpandedTerms are ontology-derived synonyms, bounded per concept.
	ExpandedTerms []string `json:"expanded_terms,omitempty"`

	// PerSourceQuery has exactly one non-empty entry per configured provider;
	// compilation that yields nothing falls back to NormalizedQuery.
	PerSourceQuery map[SourceType]string `json:"per_source_query"`

	// Confidence is clamped to [0.05, 0.95].
	Confidence   float64  `json:"confidence"`
	UsedFallback bool     `json:"used_fallback"`
	ReasonCodes  []string `json:"reason_codes"`

	ProcessingTime time.Duration `json:"processing_time_ms"`
}

// HasReason reports whether code is present in ReasonCodes.
func (p *PreparedQuery) HasReason(code string) bool {
	for _, c := range p.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}
