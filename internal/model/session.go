package model

import (
	"time"
)

// Stage represents the current position of a verification session in the
// pipeline. Terminal stages carry the final outcome.
type Stage string

const (
	StageCreated      Stage = "created"
	StagePersonalInfo Stage = "personal_info"
	StageDocument     Stage = "document"
	StageContact      Stage = "contact"
	StageFace         Stage = "face"
	StageApproved     Stage = "approved"
	StageRejected     Stage = "rejected"
	StageManualReview Stage = "manual_review"
)

// Terminal reports whether the stage is a final state.
func (s Stage) Terminal() bool {
	switch s {
	case StageApproved, StageRejected, StageManualReview:
		return true
	}
	return false
}

// StageStatus is the per-stage verdict recorded after a stage handler runs.
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusPassed    StageStatus = "passed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusAmbiguous StageStatus = "ambiguous"
)

// Outcome is the terminal decision of a session.
type Outcome string

const (
	OutcomeUnset    Outcome = ""
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// StageResult records what happened when a stage handler completed.
type StageResult struct {
	Stage       Stage                   `json:"stage"`
	Status      StageStatus             `json:"status"`
	Detail      string                  `json:"detail,omitempty"`
	Verdicts    map[string]FieldVerdict `json:"verdicts,omitempty"`
	DurationMS  int64                   `json:"duration_ms"`
	CompletedAt time.Time               `json:"completed_at"`
}

// VerificationSession is the canonical record of one customer's KYC attempt.
// It is owned exclusively by the session state machine; everything else
// references it by ID.
type VerificationSession struct {
	ID            string                  `json:"id"`
	CurrentStage  Stage                   `json:"current_stage"`
	StageResults  map[Stage]StageResult   `json:"stage_results"`
	Claimed       map[string]string       `json:"claimed,omitempty"`
	Fields        CanonicalDocumentRecord `json:"fields,omitempty"`
	Signals       []RiskSignal            `json:"signals,omitempty"`
	RiskVerdict   *AggregateRiskVerdict   `json:"risk_verdict,omitempty"`
	Outcome       Outcome                 `json:"outcome,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Done reports whether the session has reached a terminal outcome.
func (s *VerificationSession) Done() bool {
	return s.CurrentStage.Terminal()
}

// RecordStage stores a stage result, replacing any prior result for the
// same stage.
func (s *VerificationSession) RecordStage(res StageResult) {
	if s.StageResults == nil {
		s.StageResults = make(map[Stage]StageResult)
	}
	s.StageResults[res.Stage] = res
}
