package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scholium/corpus-service/internal/domain"
)

func label(a, b string, same bool) domain.ValidationLabel {
	return domain.ValidationLabel{
		RecordIDA: a, SourceA: domain.SourcePubMed,
		RecordIDB: b, SourceB: domain.SourceOpenAlex,
		SameUnderlier: same,
	}
}

func ref(id string, source domain.SourceType) string {
	return recordRef(source, id)
}

func TestGatePassesVacuouslyWithoutLabels(t *testing.T) {
	g := evaluateGate(nil, map[string]string{}, 0.95, 0.90)
	assert.True(t, g.Passed)
	assert.Zero(t, g.Evaluated)
	assert.Equal(t, 1.0, g.Precision)
	assert.Equal(t, 1.0, g.Recall)
}

func TestGateSkipsPairsOutsideRun(t *testing.T) {
	labels := []domain.ValidationLabel{label("a", "missing", true)}
	assignment := map[string]string{ref("a", domain.SourcePubMed): "k1"}

	g := evaluateGate(labels, assignment, 0.95, 0.90)
	assert.True(t, g.Passed)
	assert.Zero(t, g.Evaluated)
}

func TestGateComputesPrecisionAndRecall(t *testing.T) {
	assignment := map[string]string{
		ref("a1", domain.SourcePubMed):  "k1",
		ref("a2", domain.SourceOpenAlex): "k1",
		ref("b1", domain.SourcePubMed):  "k2",
		ref("b2", domain.SourceOpenAlex): "k3",
		ref("c1", domain.SourcePubMed):  "k4",
		ref("c2", domain.SourceOpenAlex): "k4",
	}
	labels := []domain.ValidationLabel{
		label("a1", "a2", true),  // TP
		label("b1", "b2", true),  // FN: split across clusters
		label("c1", "c2", false), // FP: merged but labeled different
	}

	g := evaluateGate(labels, assignment, 0.95, 0.90)
	assert.Equal(t, 3, g.Evaluated)
	assert.InDelta(t, 0.5, g.Precision, 1e-9) // 1 TP / (1 TP + 1 FP)
	assert.InDelta(t, 0.5, g.Recall, 1e-9)    // 1 TP / (1 TP + 1 FN)
	assert.False(t, g.Passed)
}

func TestGateFloorsAreInclusive(t *testing.T) {
	assignment := map[string]string{
		ref("a1", domain.SourcePubMed):  "k1",
		ref("a2", domain.SourceOpenAlex): "k1",
	}
	labels := []domain.ValidationLabel{label("a1", "a2", true)}

	g := evaluateGate(labels, assignment, 1.0, 1.0)
	assert.True(t, g.Passed)
}
