// Package domain contains the core types shared by the retrieval pipeline,
// the deduplication subsystems, and the canonicalization engine.
package domain

// SourceType identifies an external literature provider.
type SourceType string

// The four providers this service aggregates.
const (
	SourceSemanticScholar SourceType = "semantic_scholar"
	SourceOpenAlex        SourceType = "openalex"
	SourcePubMed          SourceType = "pubmed"
	SourceScopus          SourceType = "scopus"
)

// AllSources lists every configured provider in static priority order.
var AllSources = []SourceType{
	SourcePubMed,
	SourceSemanticScholar,
	SourceOpenAlex,
	SourceScopus,
}

// sourceTrust is the static per-source priority used by canonical election.
// Curated metadata sources outrank aggregators.
var sourceTrust = map[SourceType]float64{
	SourcePubMed:          1.0,
	SourceSemanticScholar: 0.85,
	SourceOpenAlex:        0.7,
	SourceScopus:          0.6,
}

// Trust returns the static trust weight for the source, in [0, 1].
// Unknown sources get the lowest configured weight.
func (s SourceType) Trust() float64 {
	if t, ok := sourceTrust[s]; ok {
		return t
	}
	return 0.5
}

// Valid reports whether s is one of the configured providers.
func (s SourceType) Valid() bool {
	_, ok := sourceTrust[s]
	return ok
}

func (s SourceType) String() string {
	return string(s)
}
