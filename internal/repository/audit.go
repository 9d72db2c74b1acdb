package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
)

// PgAuditRepository persists the append-only election audit log.
type PgAuditRepository struct {
	db database.DBTX
}

// NewPgAuditRepository creates an audit repository.
func NewPgAuditRepository(db database.DBTX) *PgAuditRepository {
	return &PgAuditRepository{db: db}
}

const insertAuditSQL = `
	INSERT INTO audit_decisions (
		run_id, canonical_id, record_id, source, dedup_key, reason, detail, decided_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Append writes audit rows in order.
func (r *PgAuditRepository) Append(ctx context.Context, rows []domain.AuditDecision) error {
	for _, row := range rows {
		var canonicalID interface{}
		if row.CanonicalID != uuid.Nil {
			canonicalID = row.CanonicalID
		}
		_, err := r.db.Exec(ctx, insertAuditSQL,
			row.RunID, canonicalID, row.RecordID, row.Source,
			row.DedupKey, row.Reason, row.Detail, row.DecidedAt,
		)
		if err != nil {
			return fmt.Errorf("appending audit decision: %w", err)
		}
	}
	return nil
}

const listAuditByRunSQL = `
	SELECT id, run_id, COALESCE(canonical_id, '00000000-0000-0000-0000-000000000000'),
	       record_id, source, dedup_key, reason, detail, decided_at
	FROM audit_decisions
	WHERE run_id = $1
	ORDER BY id`

// ListByRun returns the audit rows of one run in append order.
func (r *PgAuditRepository) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.AuditDecision, error) {
	rows, err := r.db.Query(ctx, listAuditByRunSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying audit decisions: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditDecision
	for rows.Next() {
		var d domain.AuditDecision
		err := rows.Scan(&d.ID, &d.RunID, &d.CanonicalID, &d.RecordID,
			&d.Source, &d.DedupKey, &d.Reason, &d.Detail, &d.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning audit decision: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit decisions: %w", err)
	}
	return out, nil
}
