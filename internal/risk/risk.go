// Package risk fans verification signals out to independent scoring sources
// and combines them into a single weighted verdict.
package risk

import (
	"context"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// neutralScore stands in for a source that failed to respond. It sits in the
// middle of the risk scale so a degraded aggregation drifts toward manual
// review rather than toward either terminal decision.
const neutralScore = 0.5

// SubjectContext carries everything a scoring source may need about the
// session under review. Sources read only the parts relevant to their
// dimension.
type SubjectContext struct {
	SessionID     string
	DocumentType  model.DocumentType
	Fields        model.CanonicalDocumentRecord
	Verdicts      map[string]model.FieldVerdict
	DocumentImage []byte
	FaceImage     []byte
}

// Source scores one risk dimension. Score returns a signal with Normalized
// monotonic in risk: 0 is clean, 1 is certain fraud.
type Source interface {
	Name() string
	Weight() float64
	Score(ctx context.Context, subject SubjectContext) (model.RiskSignal, error)
}
