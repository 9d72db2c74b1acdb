package repository

import (
	"context"
	"fmt"

	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
)

// PgValidationLabelRepository reads the labeled record pairs backing the
// canonicalization quality gate.
type PgValidationLabelRepository struct {
	db database.DBTX
}

// NewPgValidationLabelRepository creates a validation label repository.
func NewPgValidationLabelRepository(db database.DBTX) *PgValidationLabelRepository {
	return &PgValidationLabelRepository{db: db}
}

const listLabelsSQL = `
	SELECT record_id_a, source_a, record_id_b, source_b, same_underlier
	FROM validation_labels`

// List returns every validation label.
func (r *PgValidationLabelRepository) List(ctx context.Context) ([]domain.ValidationLabel, error) {
	rows, err := r.db.Query(ctx, listLabelsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying validation labels: %w", err)
	}
	defer rows.Close()

	var out []domain.ValidationLabel
	for rows.Next() {
		var l domain.ValidationLabel
		if err := rows.Scan(&l.RecordIDA, &l.SourceA, &l.RecordIDB, &l.SourceB, &l.SameUnderlier); err != nil {
			return nil, fmt.Errorf("scanning validation label: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating validation labels: %w", err)
	}
	return out, nil
}
