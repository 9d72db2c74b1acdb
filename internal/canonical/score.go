package canonical

import (
	"math"
	"time"

	"github.com/scholium/corpus-service/internal/domain"
)

// Score component weights. Completeness dominates so a richly described
// record beats a bare stub even from a higher-trust source.
const (
	weightCompleteness = 0.40
	weightTrust        = 0.30
	weightRecency      = 0.15
	weightCitations    = 0.15

	recencyRampYears = 10
)

// recordQualityScore ranks cluster members for canonical election. All
// components are in [0, 1], so the score is too.
func recordQualityScore(rec *domain.RawIngestRecord, now time.Time) float64 {
	return weightCompleteness*completeness(rec) +
		weightTrust*rec.Source.Trust() +
		weightRecency*recency(rec.PubYear, now) +
		weightCitations*citationSignal(rec)
}

// completeness counts the filled core fields: title, abstract (proxied by
// metadata), authors, year, DOI.
func completeness(rec *domain.RawIngestRecord) float64 {
	filled := 0
	if rec.Title != "" {
		filled++
	}
	if hasAbstract(rec.Metadata) {
		filled++
	}
	if len(rec.Authors) > 0 {
		filled++
	}
	if rec.PubYear > 0 {
		filled++
	}
	if domain.NormalizeDOI(rec.RawDOI) != "" {
		filled++
	}
	return float64(filled) / 5
}

func hasAbstract(metadata map[string]interface{}) bool {
	if metadata == nil {
		return false
	}
	s, ok := metadata["abstract"].(string)
	return ok && s != ""
}

// recency ramps linearly from 1 for the current year down to 0 at ten years
// old. Records without a year score 0.
func recency(pubYear int, now time.Time) float64 {
	if pubYear <= 0 {
		return 0
	}
	age := now.Year() - pubYear
	if age < 0 {
		age = 0
	}
	if age >= recencyRampYears {
		return 0
	}
	return 1 - float64(age)/recencyRampYears
}

// citationSignal compresses citation counts logarithmically (1000 citations
// saturate) and blends in the source-supplied auxiliary signal when present.
func citationSignal(rec *domain.RawIngestRecord) float64 {
	c := math.Log10(1+float64(rec.CitationCount)) / 3
	if c > 1 {
		c = 1
	}
	if rec.AuxSignal > 0 {
		aux := rec.AuxSignal
		if aux > 1 {
			aux = 1
		}
		return 0.5*c + 0.5*aux
	}
	return c
}
