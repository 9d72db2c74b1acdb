package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/scholium/corpus-service/internal/canonical"
	"github.com/scholium/corpus-service/internal/database"
	"github.com/scholium/corpus-service/internal/domain"
)

// Store binds the repositories into the persistence surface the
// canonicalization engine runs against. Promotion applies the whole snapshot
// in one transaction, so readers see either the previous state or the new
// one.
type Store struct {
	db *database.DB
}

var _ canonical.Store = (*Store)(nil)

// NewStore creates a Store over the given database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// AcquireRunLock takes the canonicalization advisory lock.
func (s *Store) AcquireRunLock(ctx context.Context) (func(), error) {
	return s.db.AcquireRunLock(ctx)
}

// LatestLiveRaw returns the newest non-tombstoned version of every record.
func (s *Store) LatestLiveRaw(ctx context.Context) ([]*domain.RawIngestRecord, error) {
	return NewPgRawRecordRepository(s.db).LatestLive(ctx)
}

// TouchedRawSince returns every row ingested at or after the given time.
func (s *Store) TouchedRawSince(ctx context.Context, since time.Time) ([]*domain.RawIngestRecord, error) {
	return NewPgRawRecordRepository(s.db).TouchedSince(ctx, since)
}

// ActiveCanonicals returns the active canonical rows.
func (s *Store) ActiveCanonicals(ctx context.Context) ([]domain.CanonicalRecord, error) {
	return NewPgCanonicalRepository(s.db).ActiveCanonicals(ctx)
}

// ValidationLabels returns the labeled pairs for the quality gate.
func (s *Store) ValidationLabels(ctx context.Context) ([]domain.ValidationLabel, error) {
	return NewPgValidationLabelRepository(s.db).List(ctx)
}

// Promote applies a run snapshot atomically: deactivations first, then new
// canonical rows, link upserts, and audit rows.
func (s *Store) Promote(ctx context.Context, snap canonical.Snapshot) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		canonicals := NewPgCanonicalRepository(tx)
		audit := NewPgAuditRepository(tx)

		if err := canonicals.Deactivate(ctx, snap.DeactivateCanonicals); err != nil {
			return err
		}
		for _, rec := range snap.NewCanonicals {
			if err := canonicals.Insert(ctx, rec); err != nil {
				return err
			}
		}
		for _, link := range snap.Links {
			if err := canonicals.UpsertLink(ctx, link); err != nil {
				return err
			}
		}
		return audit.Append(ctx, snap.Audit)
	})
}

// AppendAudit writes audit rows outside a promotion.
func (s *Store) AppendAudit(ctx context.Context, rows []domain.AuditDecision) error {
	return NewPgAuditRepository(s.db).Append(ctx, rows)
}

// RawRecords returns a raw record repository bound to the pool.
func (s *Store) RawRecords() *PgRawRecordRepository {
	return NewPgRawRecordRepository(s.db)
}

// Canonicals returns a canonical repository bound to the pool.
func (s *Store) Canonicals() *PgCanonicalRepository {
	return NewPgCanonicalRepository(s.db)
}

// Audit returns an audit repository bound to the pool.
func (s *Store) Audit() *PgAuditRepository {
	return NewPgAuditRepository(s.db)
}
