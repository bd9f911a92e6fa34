package model

// MatchResult classifies how a claimed value compares to the canonical one.
type MatchResult string

const (
	MatchResultMatch     MatchResult = "match"
	MatchResultMismatch  MatchResult = "mismatch"
	MatchResultAmbiguous MatchResult = "ambiguous"
)

// FieldVerdict is the per-field cross-validation result.
type FieldVerdict struct {
	Result     MatchResult `json:"result"`
	Similarity float64     `json:"similarity"`
}

// RiskDecision is the outcome of risk aggregation.
type RiskDecision string

const (
	RiskDecisionApprove      RiskDecision = "approve"
	RiskDecisionReject       RiskDecision = "reject"
	RiskDecisionManualReview RiskDecision = "manual_review"
)

// RiskSignal is one scoring source's contribution. Normalized is monotonic in
// risk (higher = riskier) regardless of the source's native scale. A source
// that failed to respond is recorded with Responded=false and a neutral
// normalized score; it is excluded from the weighted combination.
type RiskSignal struct {
	Source     string  `json:"source"`
	RawScore   float64 `json:"raw_score"`
	Normalized float64 `json:"normalized"`
	Weight     float64 `json:"weight"`
	Responded  bool    `json:"responded"`
}

// AggregateRiskVerdict is the weighted combination of risk signals plus the
// policy parameters used. Immutable once computed for a session.
type AggregateRiskVerdict struct {
	Score     float64      `json:"score"`
	Threshold float64      `json:"threshold"`
	Band      float64      `json:"band"`
	Decision  RiskDecision `json:"decision"`
	Signals   []RiskSignal `json:"signals"`
}
