// Package dedup collapses records describing the same publication across
// providers. Matching is synchronous and in-memory: DOI identity first, then
// exact canonical-title identity, then bounded Levenshtein distance between
// normalized titles.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/observability"
)

// Merge strategies reported to metrics.
const (
	strategyDOI        = "doi"
	strategyTitleExact = "title_exact"
	strategyTitleFuzzy = "title_fuzzy"
)

// Merger deduplicates unified records. It is stateless between Merge calls
// and safe for concurrent use.
type Merger struct {
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewMerger creates a Merger.
func NewMerger(metrics *observability.Metrics, logger zerolog.Logger) *Merger {
	return &Merger{metrics: metrics, logger: logger}
}

type indexed struct {
	record          *domain.UnifiedRecord
	normalizedTitle string
}

// Merge collapses the given result lists into one deduplicated pool. Input
// records are never mutated; merged output records are copies.
func (m *Merger) Merge(lists ...[]*domain.UnifiedRecord) []*domain.UnifiedRecord {
	byDOI := make(map[string]*indexed)
	byTitleKey := make(map[string]*indexed)
	var pool []*indexed

	total := 0
	for _, list := range lists {
		for _, rec := range list {
			total++
			m.absorb(rec, byDOI, byTitleKey, &pool)
		}
	}

	out := make([]*domain.UnifiedRecord, len(pool))
	for i, e := range pool {
		out[i] = e.record
	}
	if m.logger.GetLevel() <= zerolog.DebugLevel {
		m.logger.Debug().
			Int("input", total).
			Int("output", len(out)).
			Msg("dedup merge completed")
	}
	return out
}

func (m *Merger) absorb(rec *domain.UnifiedRecord, byDOI, byTitleKey map[string]*indexed, pool *[]*indexed) {
	normalized := normalizeTitle(rec.Title)

	if rec.DOI != "" {
		if e, ok := byDOI[rec.DOI]; ok {
			m.mergeInto(e, rec, strategyDOI, byDOI, byTitleKey)
			return
		}
	}

	key := titleKey(normalized)
	if key != "" {
		if e, ok := byTitleKey[key]; ok {
			m.mergeInto(e, rec, strategyTitleExact, byDOI, byTitleKey)
			return
		}
	}

	if e := m.closestMatch(normalized, *pool); e != nil {
		m.mergeInto(e, rec, strategyTitleFuzzy, byDOI, byTitleKey)
		return
	}

	clone := *rec
	e := &indexed{record: &clone, normalizedTitle: normalized}
	*pool = append(*pool, e)
	if clone.DOI != "" {
		byDOI[clone.DOI] = e
	}
	if key != "" {
		byTitleKey[key] = e
	}
}

// closestMatch scans the pool for the nearest normalized title within the
// length-dependent distance threshold.
func (m *Merger) closestMatch(normalized string, pool []*indexed) *indexed {
	if normalized == "" {
		return nil
	}
	limit := distanceThreshold(normalized)

	var best *indexed
	bestDist := limit + 1
	for _, e := range pool {
		if e.normalizedTitle == "" {
			continue
		}
		d := levenshtein.ComputeDistance(normalized, e.normalizedTitle)
		if d == 0 {
			return e
		}
		if d < bestDist {
			best, bestDist = e, d
		}
	}
	return best
}

// distanceThreshold scales the tolerated edit distance with title length so
// short titles do not collapse onto near neighbors.
func distanceThreshold(normalized string) int {
	switch n := len([]rune(normalized)); {
	case n < 20:
		return 1
	case n < 40:
		return 2
	default:
		return 3
	}
}

// mergeInto folds src into the already-registered record. Identifier fields
// fill empty slots without overwriting; the longer abstract and the higher
// citation count win.
func (m *Merger) mergeInto(e *indexed, src *domain.UnifiedRecord, strategy string, byDOI, byTitleKey map[string]*indexed) {
	dst := e.record

	if len([]rune(src.Abstract)) > len([]rune(dst.Abstract)) {
		dst.Abstract = src.Abstract
	}
	if src.CitationCount > dst.CitationCount {
		dst.CitationCount = src.CitationCount
	}
	if src.RankSignal > dst.RankSignal {
		dst.RankSignal = src.RankSignal
	}
	if dst.DOI == "" && src.DOI != "" {
		dst.DOI = src.DOI
		byDOI[dst.DOI] = e
	}
	if dst.PubMedID == "" {
		dst.PubMedID = src.PubMedID
	}
	if dst.PDFURL == "" {
		dst.PDFURL = src.PDFURL
	}
	if dst.Venue == "" {
		dst.Venue = src.Venue
	}
	if dst.Year == 0 {
		dst.Year = src.Year
	}
	if len(src.Authors) > len(dst.Authors) {
		dst.Authors = src.Authors
	}
	if len(dst.ReferencedIDs) == 0 {
		dst.ReferencedIDs = src.ReferencedIDs
	}
	dst.IsRetracted = dst.IsRetracted || src.IsRetracted

	if e.normalizedTitle == "" && src.Title != "" {
		dst.Title = src.Title
		e.normalizedTitle = normalizeTitle(src.Title)
		if key := titleKey(e.normalizedTitle); key != "" {
			byTitleKey[key] = e
		}
	}

	m.metrics.DedupMerges.WithLabelValues(strategy).Inc()
}

// normalizeTitle lowercases, replaces punctuation with spaces, and collapses
// whitespace. Word order is preserved for the fuzzy comparator.
func normalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CanonicalTitleKey returns the order-independent normalized form of a title:
// lowercase, punctuation stripped, tokens sorted. Identical keys mean the
// titles contain the same words.
func CanonicalTitleKey(title string) string {
	return titleKey(normalizeTitle(title))
}

// titleKey is the order-independent form of a normalized title used for the
// exact-match index.
func titleKey(normalized string) string {
	if normalized == "" {
		return ""
	}
	tokens := strings.Fields(normalized)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
