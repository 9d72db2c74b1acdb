package domain

import (
	"time"

	"github.com/google/uuid"
)

// DedupKeyType distinguishes how a canonical cluster was keyed.
type DedupKeyType string

const (
	// DedupKeyDOI means the cluster key is a normalized DOI.
	DedupKeyDOI DedupKeyType = "DOI"
	// DedupKeyFallback means the cluster key is the near-duplicate fallback
	// key (title tokens + publication year + author fingerprint).
	DedupKeyFallback DedupKeyType = "FALLBACK"
)

// Audit decision reasons written by the canonicalization engine.
const (
	AuditElected        = "ELECTED"
	AuditReElected      = "RE_ELECTED"
	AuditRejected       = "REJECTED"
	AuditClusterEmptied = "CLUSTER_EMPTIED"
	AuditRunFailed      = "RUN_FAILED"
)

// RawIngestRecord is a persisted raw record as received from a provider.
// Rows are append-mostly: identity fields are never updated in place, a newer
// ingest-run row with a later SourceUpdatedAt supersedes older ones, and
// retractions are expressed with the IsDeleted tombstone.
type RawIngestRecord struct {
	// RecordID is the source-local identifier, unique per source.
	RecordID string
	Source   SourceType

	SourceUpdatedAt time.Time

	// RawDOI is stored exactly as received; normalization happens per run.
	RawDOI string

	Title         string
	Authors       []Author
	PubYear       int
	CitationCount int

	// AuxSignal is a secondary quality float supplied by the source
	// (e.g. a relevance or influence score).
	AuxSignal float64

	Metadata map[string]interface{}

	IsDeleted   bool
	IngestRunID uuid.UUID
	IngestedAt  time.Time
}

// CanonicalRecord is the elected representative of a duplicate cluster.
// For a given live dedup key there is at most one row with Active=true;
// superseded rows are deactivated, never deleted.
type CanonicalRecord struct {
	CanonicalID  uuid.UUID
	RecordID     string
	Source       SourceType
	DedupKeyType DedupKeyType
	DedupKey     string
	Active       bool
	ElectedAt    time.Time
}

// DuplicateLink attaches a non-canonical cluster member to its canonical
// record. A record is linked to at most one active canonical record at a time.
type DuplicateLink struct {
	CanonicalID uuid.UUID
	RecordID    string
	Source      SourceType
	Active      bool
}

// AuditDecision is one append-only row of the election audit log, the source
// of truth for "why is X canonical".
type AuditDecision struct {
	ID          int64
	RunID       uuid.UUID
	CanonicalID uuid.UUID
	RecordID    string
	Source      SourceType
	DedupKey    string
	Reason      string
	Detail      string
	DecidedAt   time.Time
}

// ValidationLabel is a labeled pair used by the run-level quality gate.
type ValidationLabel struct {
	RecordIDA     string
	SourceA       SourceType
	RecordIDB     string
	SourceB       SourceType
	SameUnderlier bool
}
