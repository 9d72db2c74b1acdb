package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
)

// PgCanonicalRepository persists canonical records and duplicate links.
type PgCanonicalRepository struct {
	db database.DBTX
}

// NewPgCanonicalRepository creates a canonical record repository.
func NewPgCanonicalRepository(db database.DBTX) *PgCanonicalRepository {
	return &PgCanonicalRepository{db: db}
}

const activeCanonicalsSQL = `
	SELECT canonical_id, record_id, source, dedup_key_type, dedup_key, active, elected_at
	FROM canonical_records
	WHERE active`

// ActiveCanonicals returns every active canonical row.
func (r *PgCanonicalRepository) ActiveCanonicals(ctx context.Context) ([]domain.CanonicalRecord, error) {
	rows, err := r.db.Query(ctx, activeCanonicalsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying active canonicals: %w", err)
	}
	defer rows.Close()

	var out []domain.CanonicalRecord
	for rows.Next() {
		var c domain.CanonicalRecord
		if err := rows.Scan(&c.CanonicalID, &c.RecordID, &c.Source, &c.DedupKeyType, &c.DedupKey, &c.Active, &c.ElectedAt); err != nil {
			return nil, fmt.Errorf("scanning canonical record: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating canonical records: %w", err)
	}
	return out, nil
}

// Deactivate marks the given canonical rows and their links inactive.
func (r *PgCanonicalRepository) Deactivate(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE canonical_records SET active = false WHERE canonical_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deactivating canonical records: %w", err)
	}
	if _, err := r.db.Exec(ctx,
		`UPDATE duplicate_links SET active = false WHERE canonical_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deactivating duplicate links: %w", err)
	}
	return nil
}

const insertCanonicalSQL = `
	INSERT INTO canonical_records (
		canonical_id, record_id, source, dedup_key_type, dedup_key, active, elected_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Insert adds a new canonical row.
func (r *PgCanonicalRepository) Insert(ctx context.Context, rec domain.CanonicalRecord) error {
	_, err := r.db.Exec(ctx, insertCanonicalSQL,
		rec.CanonicalID, rec.RecordID, rec.Source, rec.DedupKeyType,
		rec.DedupKey, rec.Active, rec.ElectedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting canonical record %s: %w", rec.CanonicalID, err)
	}
	return nil
}

const upsertLinkSQL = `
	INSERT INTO duplicate_links (canonical_id, record_id, source, active)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (source, record_id)
	DO UPDATE SET canonical_id = EXCLUDED.canonical_id, active = EXCLUDED.active`

// UpsertLink attaches a cluster member to its canonical record, moving the
// link if the member previously pointed elsewhere.
func (r *PgCanonicalRepository) UpsertLink(ctx context.Context, link domain.DuplicateLink) error {
	_, err := r.db.Exec(ctx, upsertLinkSQL,
		link.CanonicalID, link.RecordID, link.Source, link.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting duplicate link %s/%s: %w", link.Source, link.RecordID, err)
	}
	return nil
}

// CanonicalSummary is the served view of a canonical record joined to the
// latest raw metadata of its elected record.
type CanonicalSummary struct {
	CanonicalID  uuid.UUID           `json:"canonical_id"`
	RecordID     string              `json:"record_id"`
	Source       domain.SourceType   `json:"source"`
	DedupKeyType domain.DedupKeyType `json:"dedup_key_type"`
	DedupKey     string              `json:"dedup_key"`
	Title        string              `json:"title"`
	PubYear      int                 `json:"pub_year,omitempty"`
	DOI          string              `json:"doi,omitempty"`
	ElectedAt    string              `json:"elected_at"`
}

const listActiveSQL = `
	SELECT c.canonical_id, c.record_id, c.source, c.dedup_key_type, c.dedup_key,
	       COALESCE(r.title, ''), COALESCE(r.pub_year, 0), COALESCE(r.raw_doi, ''),
	       to_char(c.elected_at, 'YYYY-MM-DD"T"HH24:MI:SS"Z"')
	FROM canonical_records c
	LEFT JOIN LATERAL (
		SELECT title, pub_year, raw_doi
		FROM raw_records
		WHERE source = c.source AND record_id = c.record_id
		ORDER BY ingested_at DESC
		LIMIT 1
	) r ON true
	WHERE c.active
	ORDER BY c.elected_at DESC, c.canonical_id
	LIMIT $1 OFFSET $2`

// ListActive returns active canonical records with their raw metadata, newest
// elections first.
func (r *PgCanonicalRepository) ListActive(ctx context.Context, limit, offset int) ([]CanonicalSummary, error) {
	rows, err := r.db.Query(ctx, listActiveSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying canonical summaries: %w", err)
	}
	defer rows.Close()

	var out []CanonicalSummary
	for rows.Next() {
		var s CanonicalSummary
		err := rows.Scan(&s.CanonicalID, &s.RecordID, &s.Source, &s.DedupKeyType,
			&s.DedupKey, &s.Title, &s.PubYear, &s.DOI, &s.ElectedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning canonical summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating canonical summaries: %w", err)
	}
	return out, nil
}

const duplicatesSQL = `
	SELECT canonical_id, record_id, source, active
	FROM duplicate_links
	WHERE canonical_id = $1 AND active`

// Duplicates returns the active duplicate links of one canonical record.
func (r *PgCanonicalRepository) Duplicates(ctx context.Context, canonicalID uuid.UUID) ([]domain.DuplicateLink, error) {
	rows, err := r.db.Query(ctx, duplicatesSQL, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("querying duplicate links: %w", err)
	}
	defer rows.Close()

	var out []domain.DuplicateLink
	for rows.Next() {
		var l domain.DuplicateLink
		if err := rows.Scan(&l.CanonicalID, &l.RecordID, &l.Source, &l.Active); err != nil {
			return nil, fmt.Errorf("scanning duplicate link: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating duplicate links: %w", err)
	}
	return out, nil
}

// Exists reports whether an active canonical row with the given ID exists.
func (r *PgCanonicalRepository) Exists(ctx context.Context, canonicalID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM canonical_records WHERE canonical_id = $1 AND active)`,
		canonicalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking canonical existence: %w", err)
	}
	return exists, nil
}
