package canonical

import (
	"fmt"

	"github.com/scholium/corpus-service/internal/domain"
)

// GateReport is the quality-gate evaluation of one run's clustering against
// the labeled validation pairs.
type GateReport struct {
	Evaluated int     `json:"evaluated"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	Passed    bool    `json:"passed"`
}

func (g GateReport) String() string {
	return fmt.Sprintf("evaluated=%d precision=%.3f recall=%.3f passed=%t",
		g.Evaluated, g.Precision, g.Recall, g.Passed)
}

// evaluateGate scores the run's cluster assignment against labeled pairs.
// A pair is predicted "same" when both records landed in the same cluster.
// Pairs referencing records absent from the run are skipped. With no usable
// labels the gate passes vacuously.
func evaluateGate(labels []domain.ValidationLabel, assignment map[string]string, precisionFloor, recallFloor float64) GateReport {
	var tp, fp, fn int
	evaluated := 0

	for _, l := range labels {
		keyA, okA := assignment[recordRef(l.SourceA, l.RecordIDA)]
		keyB, okB := assignment[recordRef(l.SourceB, l.RecordIDB)]
		if !okA || !okB {
			continue
		}
		evaluated++
		predictedSame := keyA == keyB
		switch {
		case predictedSame && l.SameUnderlier:
			tp++
		case predictedSame && !l.SameUnderlier:
			fp++
		case !predictedSame && l.SameUnderlier:
			fn++
		}
	}

	precision := 1.0
	if tp+fp > 0 {
		precision = float64(tp) / float64(tp+fp)
	}
	recall := 1.0
	if tp+fn > 0 {
		recall = float64(tp) / float64(tp+fn)
	}

	return GateReport{
		Evaluated: evaluated,
		Precision: precision,
		Recall:    recall,
		Passed:    precision >= precisionFloor && recall >= recallFloor,
	}
}

// recordRef is the map key identifying one raw record across sources.
func recordRef(source domain.SourceType, recordID string) string {
	return string(source) + "/" + recordID
}
