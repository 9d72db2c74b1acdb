package domain

import "time"

// Author represents a record author.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// UnifiedRecord is the in-flight candidate shape every provider adapter maps
// its response items into. Records live only for the duration of one retrieval
// request: they are created by an adapter, possibly merged by the fuzzy
// deduplicator, and handed to extraction read-only.
type UnifiedRecord struct {
	// ID is the source-local identifier of the record.
	ID string `json:"id"`

	Title    string   `json:"title"`
	Year     int      `json:"year,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	Authors  []Author `json:"authors,omitempty"`
	Venue    string   `json:"venue,omitempty"`

	// DOI is kept as received; normalization happens lazily at comparison time.
	DOI      string `json:"doi,omitempty"`
	PubMedID string `json:"pubmed_id,omitempty"`

	// SourceRecordID is the provider's own record identifier, which may differ
	// from ID for providers that expose multiple identifier schemes.
	SourceRecordID string     `json:"source_record_id,omitempty"`
	Source         SourceType `json:"source"`

	CitationCount int `json:"citation_count"`

	// ReferencedIDs holds source-local identifiers of cited records, used by
	// the pipeline's citation-graph expansion.
	ReferencedIDs []string `json:"referenced_ids,omitempty"`

	PDFURL      string `json:"pdf_url,omitempty"`
	IsRetracted bool   `json:"is_retracted,omitempty"`

	// RankSignal is derived from the record's rank within its source response
	// (1/(rank+1)), so position survives merging across providers.
	RankSignal float64 `json:"rank_signal"`
}

// Usable reports whether the record carries enough metadata to be worth
// keeping: a title and an abstract of at least minAbstractLen runes.
func (r *UnifiedRecord) Usable(minAbstractLen int) bool {
	if r == nil || r.Title == "" {
		return false
	}
	return len([]rune(r.Abstract)) >= minAbstractLen
}

// ProviderCallOutcome is the immutable result of one adapter invocation.
// It is produced once per provider per pipeline run and never mutated after
// creation; a degraded outcome carries zero records and a non-nil Err.
type ProviderCallOutcome struct {
	Provider SourceType       `json:"provider"`
	Records  []*UnifiedRecord `json:"records"`
	Latency  time.Duration    `json:"latency_ms"`
	Degraded bool             `json:"degraded"`
	Err      error            `json:"-"`
	// ErrMessage mirrors Err for JSON consumers.
	ErrMessage string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	// StatusCode is the last HTTP status observed, 0 when the call never got
	// a response.
	StatusCode int `json:"status_code,omitempty"`
	// RetryAfterSeconds is set when the provider asked us to back off.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}
