package canonical

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/observability"
)

type fakeStore struct {
	live    []*domain.RawIngestRecord
	touched []*domain.RawIngestRecord
	active  []domain.CanonicalRecord
	labels  []domain.ValidationLabel

	lockHeld  bool
	promoted  []Snapshot
	auditOnly [][]domain.AuditDecision
}

func (f *fakeStore) AcquireRunLock(context.Context) (func(), error) {
	if f.lockHeld {
		return nil, domain.ErrRunInProgress
	}
	f.lockHeld = true
	return func() { f.lockHeld = false }, nil
}

func (f *fakeStore) LatestLiveRaw(context.Context) ([]*domain.RawIngestRecord, error) {
	return f.live, nil
}

func (f *fakeStore) TouchedRawSince(context.Context, time.Time) ([]*domain.RawIngestRecord, error) {
	return f.touched, nil
}

func (f *fakeStore) ActiveCanonicals(context.Context) ([]domain.CanonicalRecord, error) {
	return f.active, nil
}

func (f *fakeStore) ValidationLabels(context.Context) ([]domain.ValidationLabel, error) {
	return f.labels, nil
}

func (f *fakeStore) Promote(_ context.Context, snap Snapshot) error {
	f.promoted = append(f.promoted, snap)
	return nil
}

func (f *fakeStore) AppendAudit(_ context.Context, rows []domain.AuditDecision) error {
	f.auditOnly = append(f.auditOnly, rows)
	return nil
}

func newEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	return NewEngine(store, metrics, zerolog.Nop(), Config{})
}

var runAt = time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)

func raw(source domain.SourceType, id, doi, title string, year int) *domain.RawIngestRecord {
	return &domain.RawIngestRecord{
		RecordID:        id,
		Source:          source,
		RawDOI:          doi,
		Title:           title,
		PubYear:         year,
		Authors:         []domain.Author{{Name: "Jane Smith"}},
		SourceUpdatedAt: runAt.Add(-time.Hour),
	}
}

func TestFullRunElectsPerCluster(t *testing.T) {
	// Two renderings of the same DOI plus one standalone record.
	pm := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	pm.Metadata = map[string]interface{}{"abstract": "text"}
	oa := raw(domain.SourceOpenAlex, "oa1", "https://doi.org/10.1/A", "Omega-3 and pain", 2024)
	solo := raw(domain.SourceScopus, "sc1", "", "An unrelated work", 2023)

	store := &fakeStore{live: []*domain.RawIngestRecord{pm, oa, solo}}
	e := newEngine(t, store)

	summary, err := e.RunFull(t.Context(), runAt)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.ClustersEvaluated)
	assert.Equal(t, 2, summary.Elections)
	assert.Equal(t, 1, summary.Rejections)
	assert.True(t, summary.Gate.Passed)

	require.Len(t, store.promoted, 1)
	snap := store.promoted[0]
	require.Len(t, snap.NewCanonicals, 2)

	byKey := map[string]domain.CanonicalRecord{}
	for _, c := range snap.NewCanonicals {
		byKey[c.DedupKey] = c
	}
	// PubMed wins the DOI cluster on trust and completeness.
	winner := byKey["10.1/a"]
	assert.Equal(t, "pm1", winner.RecordID)
	assert.Equal(t, domain.SourcePubMed, winner.Source)
	assert.Equal(t, domain.DedupKeyDOI, winner.DedupKeyType)

	// The loser is linked to the canonical.
	require.Len(t, snap.Links, 1)
	assert.Equal(t, "oa1", snap.Links[0].RecordID)
	assert.Equal(t, winner.CanonicalID, snap.Links[0].CanonicalID)

	// Audit: two elections plus one rejection.
	reasons := map[string]int{}
	for _, a := range snap.Audit {
		reasons[a.Reason]++
	}
	assert.Equal(t, map[string]int{domain.AuditElected: 2, domain.AuditRejected: 1}, reasons)
}

func TestRunIsIdempotentOverUnchangedData(t *testing.T) {
	pm := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	oa := raw(domain.SourceOpenAlex, "oa1", "10.1/a", "Omega-3 and pain", 2024)

	store := &fakeStore{live: []*domain.RawIngestRecord{pm, oa}}
	e := newEngine(t, store)

	first, err := e.RunFull(t.Context(), runAt)
	require.NoError(t, err)
	require.Equal(t, 1, first.Elections)

	// Feed the first run's result back as the active state.
	store.active = store.promoted[0].NewCanonicals

	second, err := e.RunFull(t.Context(), runAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, second.Elections)
	assert.Zero(t, second.Rejections)

	// Second snapshot refreshes links only: no canonical rows, no audit.
	require.Len(t, store.promoted, 2)
	snap := store.promoted[1]
	assert.Empty(t, snap.NewCanonicals)
	assert.Empty(t, snap.DeactivateCanonicals)
	assert.Empty(t, snap.Audit)
	assert.Len(t, snap.Links, 1)
}

func TestIncrementalReElectsAfterTombstone(t *testing.T) {
	// pm1 was canonical but has been tombstoned; oa1 remains live.
	oa := raw(domain.SourceOpenAlex, "oa1", "10.1/a", "Omega-3 and pain", 2024)
	tombstoned := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	tombstoned.IsDeleted = true

	prevID := uuid.New()
	store := &fakeStore{
		live:    []*domain.RawIngestRecord{oa},
		touched: []*domain.RawIngestRecord{tombstoned},
		active: []domain.CanonicalRecord{{
			CanonicalID:  prevID,
			RecordID:     "pm1",
			Source:       domain.SourcePubMed,
			DedupKeyType: domain.DedupKeyDOI,
			DedupKey:     "10.1/a",
			Active:       true,
		}},
	}
	e := newEngine(t, store)

	summary, err := e.RunIncremental(t.Context(), runAt, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ReElections)
	assert.Zero(t, summary.Elections)

	require.Len(t, store.promoted, 1)
	snap := store.promoted[0]
	assert.Equal(t, []uuid.UUID{prevID}, snap.DeactivateCanonicals)
	require.Len(t, snap.NewCanonicals, 1)
	assert.Equal(t, "oa1", snap.NewCanonicals[0].RecordID)
	require.NotEmpty(t, snap.Audit)
	assert.Equal(t, domain.AuditReElected, snap.Audit[0].Reason)
}

func TestIncrementalDeactivatesEmptiedCluster(t *testing.T) {
	tombstoned := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	tombstoned.IsDeleted = true

	prevID := uuid.New()
	store := &fakeStore{
		touched: []*domain.RawIngestRecord{tombstoned},
		active: []domain.CanonicalRecord{{
			CanonicalID:  prevID,
			RecordID:     "pm1",
			Source:       domain.SourcePubMed,
			DedupKeyType: domain.DedupKeyDOI,
			DedupKey:     "10.1/a",
			Active:       true,
		}},
	}
	e := newEngine(t, store)

	summary, err := e.RunIncremental(t.Context(), runAt, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Emptied)

	require.Len(t, store.promoted, 1)
	snap := store.promoted[0]
	assert.Equal(t, []uuid.UUID{prevID}, snap.DeactivateCanonicals)
	assert.Empty(t, snap.NewCanonicals)
	require.Len(t, snap.Audit, 1)
	assert.Equal(t, domain.AuditClusterEmptied, snap.Audit[0].Reason)
}

func TestIncrementalSkipsUntouchedClusters(t *testing.T) {
	touched := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	untouched := raw(domain.SourceScopus, "sc1", "10.1/b", "An unrelated work", 2023)

	store := &fakeStore{
		live:    []*domain.RawIngestRecord{touched, untouched},
		touched: []*domain.RawIngestRecord{touched},
	}
	e := newEngine(t, store)

	summary, err := e.RunIncremental(t.Context(), runAt, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ClustersEvaluated)
	require.Len(t, store.promoted, 1)
	require.Len(t, store.promoted[0].NewCanonicals, 1)
	assert.Equal(t, "pm1", store.promoted[0].NewCanonicals[0].RecordID)
}

func TestGateFailureDiscardsRun(t *testing.T) {
	// Two records labeled same but keyed apart: recall 0.
	a := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	b := raw(domain.SourceOpenAlex, "oa1", "10.1/b", "Omega-3 and pain", 2024)

	store := &fakeStore{
		live: []*domain.RawIngestRecord{a, b},
		labels: []domain.ValidationLabel{{
			RecordIDA: "pm1", SourceA: domain.SourcePubMed,
			RecordIDB: "oa1", SourceB: domain.SourceOpenAlex,
			SameUnderlier: true,
		}},
	}
	e := newEngine(t, store)

	summary, err := e.RunFull(t.Context(), runAt)
	require.ErrorIs(t, err, domain.ErrQualityGateFailed)
	assert.False(t, summary.Gate.Passed)

	// Nothing promoted; only the failure audit row was written.
	assert.Empty(t, store.promoted)
	require.Len(t, store.auditOnly, 1)
	require.Len(t, store.auditOnly[0], 1)
	assert.Equal(t, domain.AuditRunFailed, store.auditOnly[0][0].Reason)
}

func TestRunLockConflict(t *testing.T) {
	store := &fakeStore{lockHeld: true}
	e := newEngine(t, store)

	_, err := e.RunFull(t.Context(), runAt)
	require.ErrorIs(t, err, domain.ErrRunInProgress)
}

func TestElectionTieBreaksOnEarliestUpdate(t *testing.T) {
	older := raw(domain.SourcePubMed, "pm1", "10.1/a", "Omega-3 and pain", 2024)
	older.SourceUpdatedAt = runAt.Add(-48 * time.Hour)
	newer := raw(domain.SourcePubMed, "pm2", "10.1/a", "Omega-3 and pain", 2024)
	newer.SourceUpdatedAt = runAt.Add(-time.Hour)

	winner := elect([]*domain.RawIngestRecord{newer, older}, runAt)
	assert.Equal(t, "pm1", winner.RecordID)
}
