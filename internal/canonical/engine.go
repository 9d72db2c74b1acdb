// Package canonical elects one representative record per duplicate cluster
// across everything the service has ingested, with a full audit trail and a
// labeled-pair quality gate in front of every promotion.
//
// Runs are serialized by a database advisory lock and idempotent: re-running
// over unchanged data stages no new canonical rows and appends no audit rows.
package canonical

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/observability"
)

// Run modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Store is the persistence surface the engine runs against. Promote must
// apply the whole snapshot in a single transaction.
type Store interface {
	// AcquireRunLock takes the cross-instance run lock, returning
	// domain.ErrRunInProgress when another run holds it.
	AcquireRunLock(ctx context.Context) (release func(), err error)

	// LatestLiveRaw returns the newest non-tombstoned version of every raw
	// record.
	LatestLiveRaw(ctx context.Context) ([]*domain.RawIngestRecord, error)

	// TouchedRawSince returns every raw record row ingested or tombstoned at
	// or after the given time, including deleted ones.
	TouchedRawSince(ctx context.Context, since time.Time) ([]*domain.RawIngestRecord, error)

	// ActiveCanonicals returns the currently active canonical rows.
	ActiveCanonicals(ctx context.Context) ([]domain.CanonicalRecord, error)

	// ValidationLabels returns the labeled record pairs for the quality gate.
	ValidationLabels(ctx context.Context) ([]domain.ValidationLabel, error)

	// Promote applies the snapshot atomically.
	Promote(ctx context.Context, snap Snapshot) error

	// AppendAudit appends audit rows outside a promotion, used for run
	// failures.
	AppendAudit(ctx context.Context, rows []domain.AuditDecision) error
}

// Snapshot is the staged result of one run, applied in one transaction.
type Snapshot struct {
	RunID                uuid.UUID
	DeactivateCanonicals []uuid.UUID
	NewCanonicals        []domain.CanonicalRecord
	Links                []domain.DuplicateLink
	Audit                []domain.AuditDecision
}

func (s Snapshot) empty() bool {
	return len(s.DeactivateCanonicals) == 0 && len(s.NewCanonicals) == 0 &&
		len(s.Links) == 0 && len(s.Audit) == 0
}

// Config tunes the engine.
type Config struct {
	PrecisionFloor    float64
	RecallFloor       float64
	IncrementalWindow time.Duration
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		PrecisionFloor:    0.95,
		RecallFloor:       0.90,
		IncrementalWindow: 24 * time.Hour,
	}
}

// RunSummary reports what one run did.
type RunSummary struct {
	RunID             uuid.UUID     `json:"run_id"`
	Mode              string        `json:"mode"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	ClustersEvaluated int           `json:"clusters_evaluated"`
	Elections         int           `json:"elections"`
	ReElections       int           `json:"re_elections"`
	Rejections        int           `json:"rejections"`
	Emptied           int           `json:"emptied"`
	Gate              GateReport    `json:"gate"`
}

// Engine runs canonicalization.
type Engine struct {
	store   Store
	metrics *observability.Metrics
	logger  zerolog.Logger
	cfg     Config
}

// NewEngine creates an engine. Zero-valued config fields fall back to
// defaults.
func NewEngine(store Store, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.PrecisionFloor <= 0 {
		cfg.PrecisionFloor = def.PrecisionFloor
	}
	if cfg.RecallFloor <= 0 {
		cfg.RecallFloor = def.RecallFloor
	}
	if cfg.IncrementalWindow <= 0 {
		cfg.IncrementalWindow = def.IncrementalWindow
	}
	return &Engine{store: store, metrics: metrics, logger: logger, cfg: cfg}
}

// RunFull re-evaluates every cluster from the latest live raw records.
func (e *Engine) RunFull(ctx context.Context, runAt time.Time) (*RunSummary, error) {
	return e.run(ctx, ModeFull, runAt, 0)
}

// RunIncremental re-evaluates only the clusters touched within the window.
// A zero window uses the configured default.
func (e *Engine) RunIncremental(ctx context.Context, runAt time.Time, window time.Duration) (*RunSummary, error) {
	if window <= 0 {
		window = e.cfg.IncrementalWindow
	}
	return e.run(ctx, ModeIncremental, runAt, window)
}

type cluster struct {
	key     clusterKey
	members []*domain.RawIngestRecord
}

func (e *Engine) run(ctx context.Context, mode string, runAt time.Time, window time.Duration) (*RunSummary, error) {
	release, err := e.store.AcquireRunLock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	summary := &RunSummary{RunID: uuid.New(), Mode: mode, StartedAt: runAt}
	logger := observability.WithRunContext(e.logger, summary.RunID.String(), mode)

	live, err := e.store.LatestLiveRaw(ctx)
	if err != nil {
		return nil, e.fail(mode, fmt.Errorf("loading live raw records: %w", err))
	}
	clusters := buildClusters(live)

	var affected map[string]bool
	if mode == ModeIncremental {
		touched, err := e.store.TouchedRawSince(ctx, runAt.Add(-window))
		if err != nil {
			return nil, e.fail(mode, fmt.Errorf("loading touched records: %w", err))
		}
		affected = make(map[string]bool, len(touched))
		for _, rec := range touched {
			affected[keyFor(rec).mapKey()] = true
		}
	}

	activeByKey, err := e.activeByKey(ctx)
	if err != nil {
		return nil, e.fail(mode, err)
	}

	labels, err := e.store.ValidationLabels(ctx)
	if err != nil {
		return nil, e.fail(mode, fmt.Errorf("loading validation labels: %w", err))
	}
	summary.Gate = evaluateGate(labels, assignment(clusters), e.cfg.PrecisionFloor, e.cfg.RecallFloor)

	if !summary.Gate.Passed {
		e.metrics.QualityGateFailures.Inc()
		e.metrics.CanonicalRuns.WithLabelValues(mode, "gate_failed").Inc()
		auditErr := e.store.AppendAudit(ctx, []domain.AuditDecision{{
			RunID:     summary.RunID,
			Reason:    domain.AuditRunFailed,
			Detail:    summary.Gate.String(),
			DecidedAt: runAt,
		}})
		if auditErr != nil {
			logger.Error().Err(auditErr).Msg("writing run failure audit row")
		}
		logger.Warn().Stringer("gate", summary.Gate).Msg("quality gate failed, run discarded")
		return summary, domain.ErrQualityGateFailed
	}

	snap := Snapshot{RunID: summary.RunID}
	for _, c := range sortedClusters(clusters) {
		if affected != nil && !affected[c.key.mapKey()] {
			continue
		}
		summary.ClustersEvaluated++
		e.stageCluster(&snap, summary, c, activeByKey, runAt)
	}
	e.stageEmptied(&snap, summary, clusters, activeByKey, affected, runAt)

	if !snap.empty() {
		if err := e.store.Promote(ctx, snap); err != nil {
			return nil, e.fail(mode, fmt.Errorf("promoting snapshot: %w", err))
		}
	}

	summary.Duration = time.Since(start)
	e.metrics.CanonicalRuns.WithLabelValues(mode, "completed").Inc()
	e.metrics.CanonicalRunDuration.WithLabelValues(mode).Observe(summary.Duration.Seconds())
	logger.Info().
		Int("clusters", summary.ClustersEvaluated).
		Int("elections", summary.Elections).
		Int("re_elections", summary.ReElections).
		Int("emptied", summary.Emptied).
		Dur("duration", summary.Duration).
		Msg("canonicalization run completed")
	return summary, nil
}

func (e *Engine) fail(mode string, err error) error {
	e.metrics.CanonicalRuns.WithLabelValues(mode, "error").Inc()
	return err
}

// stageCluster elects the cluster winner and stages the resulting rows.
// An unchanged winner refreshes links only, appending no audit rows.
func (e *Engine) stageCluster(snap *Snapshot, summary *RunSummary, c *cluster, activeByKey map[string]domain.CanonicalRecord, runAt time.Time) {
	winner := elect(c.members, runAt)

	prev, hasPrev := activeByKey[c.key.mapKey()]
	if hasPrev && prev.RecordID == winner.RecordID && prev.Source == winner.Source {
		e.stageLinks(snap, c, prev.CanonicalID, winner)
		return
	}

	reason := domain.AuditElected
	if hasPrev {
		snap.DeactivateCanonicals = append(snap.DeactivateCanonicals, prev.CanonicalID)
		if !memberLive(c.members, prev.Source, prev.RecordID) {
			reason = domain.AuditReElected
		}
	}

	canonicalID := uuid.New()
	snap.NewCanonicals = append(snap.NewCanonicals, domain.CanonicalRecord{
		CanonicalID:  canonicalID,
		RecordID:     winner.RecordID,
		Source:       winner.Source,
		DedupKeyType: c.key.Type,
		DedupKey:     c.key.Key,
		Active:       true,
		ElectedAt:    runAt,
	})
	snap.Audit = append(snap.Audit, domain.AuditDecision{
		RunID:       snap.RunID,
		CanonicalID: canonicalID,
		RecordID:    winner.RecordID,
		Source:      winner.Source,
		DedupKey:    c.key.Key,
		Reason:      reason,
		Detail:      fmt.Sprintf("score=%.4f members=%d", recordQualityScore(winner, runAt), len(c.members)),
		DecidedAt:   runAt,
	})
	e.metrics.CanonicalElections.WithLabelValues(reason).Inc()
	if reason == domain.AuditReElected {
		summary.ReElections++
	} else {
		summary.Elections++
	}

	winnerScore := recordQualityScore(winner, runAt)
	for _, m := range c.members {
		if m == winner {
			continue
		}
		snap.Audit = append(snap.Audit, domain.AuditDecision{
			RunID:       snap.RunID,
			CanonicalID: canonicalID,
			RecordID:    m.RecordID,
			Source:      m.Source,
			DedupKey:    c.key.Key,
			Reason:      domain.AuditRejected,
			Detail:      fmt.Sprintf("score=%.4f below winner=%.4f", recordQualityScore(m, runAt), winnerScore),
			DecidedAt:   runAt,
		})
		summary.Rejections++
	}

	e.stageLinks(snap, c, canonicalID, winner)
}

// stageLinks upserts the member-to-canonical links for a cluster. Links are
// rewritten idempotently every run so late-joining members attach without a
// winner change.
func (e *Engine) stageLinks(snap *Snapshot, c *cluster, canonicalID uuid.UUID, winner *domain.RawIngestRecord) {
	for _, m := range c.members {
		if m == winner {
			continue
		}
		snap.Links = append(snap.Links, domain.DuplicateLink{
			CanonicalID: canonicalID,
			RecordID:    m.RecordID,
			Source:      m.Source,
			Active:      true,
		})
	}
}

// stageEmptied deactivates canonical rows whose cluster no longer has live
// members.
func (e *Engine) stageEmptied(snap *Snapshot, summary *RunSummary, clusters map[string]*cluster, activeByKey map[string]domain.CanonicalRecord, affected map[string]bool, runAt time.Time) {
	keys := make([]string, 0, len(activeByKey))
	for k := range activeByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, stillLive := clusters[k]; stillLive {
			continue
		}
		if affected != nil && !affected[k] {
			continue
		}
		prev := activeByKey[k]
		snap.DeactivateCanonicals = append(snap.DeactivateCanonicals, prev.CanonicalID)
		snap.Audit = append(snap.Audit, domain.AuditDecision{
			RunID:       snap.RunID,
			CanonicalID: prev.CanonicalID,
			RecordID:    prev.RecordID,
			Source:      prev.Source,
			DedupKey:    prev.DedupKey,
			Reason:      domain.AuditClusterEmptied,
			Detail:      "no live members remain",
			DecidedAt:   runAt,
		})
		e.metrics.CanonicalElections.WithLabelValues(domain.AuditClusterEmptied).Inc()
		summary.Emptied++
	}
}

func (e *Engine) activeByKey(ctx context.Context) (map[string]domain.CanonicalRecord, error) {
	active, err := e.store.ActiveCanonicals(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active canonicals: %w", err)
	}
	out := make(map[string]domain.CanonicalRecord, len(active))
	for _, c := range active {
		out[clusterKey{Type: c.DedupKeyType, Key: c.DedupKey}.mapKey()] = c
	}
	return out, nil
}

func buildClusters(records []*domain.RawIngestRecord) map[string]*cluster {
	out := make(map[string]*cluster)
	for _, rec := range records {
		k := keyFor(rec)
		mk := k.mapKey()
		c, ok := out[mk]
		if !ok {
			c = &cluster{key: k}
			out[mk] = c
		}
		c.members = append(c.members, rec)
	}
	return out
}

// sortedClusters yields deterministic iteration order for stable audit logs.
func sortedClusters(clusters map[string]*cluster) []*cluster {
	keys := make([]string, 0, len(clusters))
	for k := range clusters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*cluster, 0, len(keys))
	for _, k := range keys {
		out = append(out, clusters[k])
	}
	return out
}

// assignment maps every live record to its cluster for the quality gate.
func assignment(clusters map[string]*cluster) map[string]string {
	out := make(map[string]string)
	for mk, c := range clusters {
		for _, m := range c.members {
			out[recordRef(m.Source, m.RecordID)] = mk
		}
	}
	return out
}

// elect picks the highest-scoring member; ties go to the earliest
// sourceUpdatedAt, then to the lexicographically smallest (source, recordID)
// so repeated runs elect the same record.
func elect(members []*domain.RawIngestRecord, runAt time.Time) *domain.RawIngestRecord {
	best := members[0]
	bestScore := recordQualityScore(best, runAt)
	for _, m := range members[1:] {
		s := recordQualityScore(m, runAt)
		switch {
		case s > bestScore:
			best, bestScore = m, s
		case s == bestScore:
			if m.SourceUpdatedAt.Before(best.SourceUpdatedAt) {
				best = m
			} else if m.SourceUpdatedAt.Equal(best.SourceUpdatedAt) && lessMember(m, best) {
				best = m
			}
		}
	}
	return best
}

func lessMember(a, b *domain.RawIngestRecord) bool {
	if a.Source != b.Source {
		return a.Source < b.Source
	}
	return a.RecordID < b.RecordID
}

func memberLive(members []*domain.RawIngestRecord, source domain.SourceType, recordID string) bool {
	for _, m := range members {
		if m.Source == source && m.RecordID == recordID {
			return true
		}
	}
	return false
}
