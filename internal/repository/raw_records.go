// Package repository contains the PostgreSQL persistence layer. Each
// repository works against database.DBTX so it runs identically on the pool
// and inside a transaction.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
)

// PgRawRecordRepository persists raw ingest records. Rows are append-only:
// every ingest run inserts new versions and tombstones, and readers resolve
// the latest version per (source, record_id).
type PgRawRecordRepository struct {
	db database.DBTX
}

// NewPgRawRecordRepository creates a raw record repository.
func NewPgRawRecordRepository(db database.DBTX) *PgRawRecordRepository {
	return &PgRawRecordRepository{db: db}
}

const insertRawRecordSQL = `
	INSERT INTO raw_records (
		source, record_id, source_updated_at, raw_doi, title, authors,
		pub_year, citation_count, aux_signal, metadata, is_deleted,
		ingest_run_id, ingested_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (source, record_id, ingest_run_id) DO NOTHING`

// InsertBatch appends a batch of raw record versions.
func (r *PgRawRecordRepository) InsertBatch(ctx context.Context, records []*domain.RawIngestRecord) error {
	for _, rec := range records {
		authors, err := json.Marshal(rec.Authors)
		if err != nil {
			return fmt.Errorf("encoding authors for %s/%s: %w", rec.Source, rec.RecordID, err)
		}
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s/%s: %w", rec.Source, rec.RecordID, err)
		}
		_, err = r.db.Exec(ctx, insertRawRecordSQL,
			rec.Source, rec.RecordID, rec.SourceUpdatedAt, rec.RawDOI, rec.Title,
			authors, rec.PubYear, rec.CitationCount, rec.AuxSignal, metadata,
			rec.IsDeleted, rec.IngestRunID, rec.IngestedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting raw record %s/%s: %w", rec.Source, rec.RecordID, err)
		}
	}
	return nil
}

const rawRecordColumns = `
	source, record_id, source_updated_at, raw_doi, title, authors,
	pub_year, citation_count, aux_signal, metadata, is_deleted,
	ingest_run_id, ingested_at`

const latestLiveSQL = `
	SELECT ` + rawRecordColumns + `
	FROM (
		SELECT DISTINCT ON (source, record_id) ` + rawRecordColumns + `
		FROM raw_records
		ORDER BY source, record_id, ingested_at DESC
	) latest
	WHERE NOT is_deleted`

// LatestLive returns the newest non-tombstoned version of every record.
func (r *PgRawRecordRepository) LatestLive(ctx context.Context) ([]*domain.RawIngestRecord, error) {
	rows, err := r.db.Query(ctx, latestLiveSQL)
	if err != nil {
		return nil, fmt.Errorf("querying latest live raw records: %w", err)
	}
	defer rows.Close()
	return scanRawRecords(rows)
}

const touchedSinceSQL = `
	SELECT ` + rawRecordColumns + `
	FROM raw_records
	WHERE ingested_at >= $1`

// TouchedSince returns every row ingested at or after the given time,
// including tombstones.
func (r *PgRawRecordRepository) TouchedSince(ctx context.Context, since time.Time) ([]*domain.RawIngestRecord, error) {
	rows, err := r.db.Query(ctx, touchedSinceSQL, since)
	if err != nil {
		return nil, fmt.Errorf("querying touched raw records: %w", err)
	}
	defer rows.Close()
	return scanRawRecords(rows)
}

func scanRawRecords(rows pgx.Rows) ([]*domain.RawIngestRecord, error) {
	var out []*domain.RawIngestRecord
	for rows.Next() {
		var (
			rec      domain.RawIngestRecord
			authors  []byte
			metadata []byte
		)
		err := rows.Scan(
			&rec.Source, &rec.RecordID, &rec.SourceUpdatedAt, &rec.RawDOI,
			&rec.Title, &authors, &rec.PubYear, &rec.CitationCount,
			&rec.AuxSignal, &metadata, &rec.IsDeleted, &rec.IngestRunID,
			&rec.IngestedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning raw record: %w", err)
		}
		if len(authors) > 0 {
			if err := json.Unmarshal(authors, &rec.Authors); err != nil {
				return nil, fmt.Errorf("decoding authors: %w", err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating raw records: %w", err)
	}
	return out, nil
}
