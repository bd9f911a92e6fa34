package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearpath-id/kyc-engine/internal/extraction"
	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/otp"
	"github.com/clearpath-id/kyc-engine/internal/risk"
	"github.com/clearpath-id/kyc-engine/internal/validate"
)

// ErrWrongStage is returned when an operation is submitted for a session
// that is not at the stage the operation serves.
var ErrWrongStage = eris.New("pipeline: operation does not match session stage")

// PersonalInfo is the customer's claimed identity.
type PersonalInfo struct {
	FullName     string             `json:"full_name"`
	DateOfBirth  string             `json:"date_of_birth"`
	IDNumber     string             `json:"id_number"`
	DocumentType model.DocumentType `json:"document_type"`
	Phone        string             `json:"phone"`
}

// comparableFields are the claimed fields cross-checked against the
// extracted document record. Phone and document type have no document
// counterpart.
var comparableFields = []string{"full_name", "date_of_birth", "id_number"}

func (pi PersonalInfo) claims() map[string]string {
	return map[string]string{
		"full_name":     pi.FullName,
		"date_of_birth": pi.DateOfBirth,
		"id_number":     pi.IDNumber,
		"document_type": string(pi.DocumentType),
		"phone":         pi.Phone,
	}
}

// checkFormats enforces the per-field format rules. The returned detail
// names the offending field, never the submitted value.
func checkFormats(pi PersonalInfo, now time.Time) (string, error) {
	if !model.KnownDocumentType(pi.DocumentType) {
		return "document_type", eris.Errorf("pipeline: unknown document type %q", pi.DocumentType)
	}
	if err := validate.ValidateFullName(pi.FullName); err != nil {
		return "full_name", err
	}
	if err := validate.ValidateDateOfBirth(pi.DateOfBirth, now); err != nil {
		return "date_of_birth", err
	}
	if err := validate.ValidatePhone(pi.Phone); err != nil {
		return "phone", err
	}
	switch pi.DocumentType {
	case model.DocTypeNationalID:
		if err := validate.ValidateNationalID(pi.IDNumber); err != nil {
			return "id_number", err
		}
	case model.DocTypeTaxID:
		if err := validate.ValidateTaxID(pi.IDNumber); err != nil {
			return "id_number", err
		}
	}
	return "", nil
}

// SubmitPersonalInfo records the customer's claims. Format violations reject
// the session; the claims are cross-checked against the document later.
func (p *Pipeline) SubmitPersonalInfo(ctx context.Context, id string, pi PersonalInfo) (*model.VerificationSession, error) {
	res, _ := p.trackStage(ctx, id, model.StagePersonalInfo, func() (model.StageResult, error) {
		if field, err := checkFormats(pi, time.Now()); err != nil {
			return model.StageResult{
				Status: model.StageStatusFailed,
				Detail: fmt.Sprintf("invalid %s", field),
			}, nil
		}
		return model.StageResult{Status: model.StageStatusPassed}, nil
	})

	s, err := p.machine.Advance(ctx, id, model.StageCreated, func(s *model.VerificationSession) error {
		s.Claimed = pi.claims()
		s.RecordStage(res)
		if res.Status == model.StageStatusFailed {
			s.CurrentStage = model.StageRejected
			s.Outcome = model.OutcomeRejected
			s.FailureReason = res.Detail
			return nil
		}
		s.CurrentStage = model.StagePersonalInfo
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.mirror(ctx, s)
	return s, nil
}

// SubmitDocument extracts the document, cross-checks the claims, and moves
// the session forward. Extraction failure across every engine aborts the
// operation without judging the session.
func (p *Pipeline) SubmitDocument(ctx context.Context, id string, doc extraction.Document) (*model.VerificationSession, error) {
	s, err := p.machine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.CurrentStage != model.StagePersonalInfo {
		return nil, eris.Wrapf(ErrWrongStage, "document submitted at stage %s", s.CurrentStage)
	}

	var fields model.CanonicalDocumentRecord
	var verdicts map[string]model.FieldVerdict
	res, err := p.trackStage(ctx, id, model.StageDocument, func() (model.StageResult, error) {
		extracted, extractErr := p.chain.Extract(ctx, doc)
		if extractErr != nil {
			return model.StageResult{
				Status: model.StageStatusFailed,
				Detail: "document extraction unavailable",
			}, extractErr
		}
		fields = extracted

		claimed := make(map[string]string, len(comparableFields))
		for _, f := range comparableFields {
			if v, ok := s.Claimed[f]; ok {
				claimed[f] = v
			}
		}
		verdicts = p.validator.Validate(claimed, fields)

		return model.StageResult{
			Status:   p.validator.StageVerdict(verdicts),
			Verdicts: verdicts,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s, err = p.machine.Advance(ctx, id, model.StagePersonalInfo, func(s *model.VerificationSession) error {
		s.Fields = fields
		s.RecordStage(res)
		switch res.Status {
		case model.StageStatusFailed:
			s.CurrentStage = model.StageRejected
			s.Outcome = model.OutcomeRejected
			s.FailureReason = "document field mismatch"
		case model.StageStatusAmbiguous:
			s.CurrentStage = model.StageManualReview
		default:
			s.CurrentStage = model.StageDocument
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.mirror(ctx, s)
	return s, nil
}

// RequestOTP issues a passcode for the contact verification stage.
func (p *Pipeline) RequestOTP(ctx context.Context, id string) (otp.Handle, error) {
	s, err := p.machine.Get(ctx, id)
	if err != nil {
		return otp.Handle{}, err
	}
	if s.CurrentStage != model.StageDocument {
		return otp.Handle{}, eris.Wrapf(ErrWrongStage, "otp requested at stage %s", s.CurrentStage)
	}
	return p.otp.Issue(ctx, id)
}

// SubmitOTP verifies a passcode. Acceptance completes the contact stage;
// mismatch, expiry, and exhaustion leave the session in place so the
// customer can retry or request a fresh code.
func (p *Pipeline) SubmitOTP(ctx context.Context, id, code string) (model.OtpVerifyResult, *model.VerificationSession, error) {
	s, err := p.machine.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if s.CurrentStage != model.StageDocument {
		return "", nil, eris.Wrapf(ErrWrongStage, "otp submitted at stage %s", s.CurrentStage)
	}

	result, err := p.otp.Verify(ctx, id, code)
	if err != nil {
		return "", nil, err
	}

	res, _ := p.trackStage(ctx, id, model.StageContact, func() (model.StageResult, error) {
		status := model.StageStatusFailed
		if result == model.OtpAccepted {
			status = model.StageStatusPassed
		}
		return model.StageResult{Status: status, Detail: string(result)}, nil
	})

	if result != model.OtpAccepted {
		return result, s, nil
	}

	s, err = p.machine.Advance(ctx, id, model.StageDocument, func(s *model.VerificationSession) error {
		s.RecordStage(res)
		s.CurrentStage = model.StageContact
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	p.mirror(ctx, s)
	return result, s, nil
}

// SubmitFace runs the liveness capture through risk aggregation and settles
// the session: the face stage records the signals, then the decision moves
// the session to its terminal stage. Approved sessions are committed as
// attestations.
func (p *Pipeline) SubmitFace(ctx context.Context, id string, faceImage []byte) (*model.VerificationSession, *model.Attestation, error) {
	s, err := p.machine.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if s.CurrentStage != model.StageContact {
		return nil, nil, eris.Wrapf(ErrWrongStage, "face submitted at stage %s", s.CurrentStage)
	}

	var verdict model.AggregateRiskVerdict
	res, _ := p.trackStage(ctx, id, model.StageFace, func() (model.StageResult, error) {
		var docVerdicts map[string]model.FieldVerdict
		if docRes, ok := s.StageResults[model.StageDocument]; ok {
			docVerdicts = docRes.Verdicts
		}

		verdict = p.risk.Aggregate(ctx, risk.SubjectContext{
			SessionID:    id,
			DocumentType: model.DocumentType(s.Claimed["document_type"]),
			Fields:       s.Fields,
			Verdicts:     docVerdicts,
			FaceImage:    faceImage,
		})

		status := model.StageStatusAmbiguous
		switch verdict.Decision {
		case model.RiskDecisionApprove:
			status = model.StageStatusPassed
		case model.RiskDecisionReject:
			status = model.StageStatusFailed
		}
		return model.StageResult{
			Status: status,
			Detail: fmt.Sprintf("risk score %.2f", verdict.Score),
		}, nil
	})

	s, err = p.machine.Advance(ctx, id, model.StageContact, func(s *model.VerificationSession) error {
		s.RecordStage(res)
		s.Signals = verdict.Signals
		s.RiskVerdict = &verdict
		s.CurrentStage = model.StageFace
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s, err = p.machine.Advance(ctx, id, model.StageFace, func(s *model.VerificationSession) error {
		switch verdict.Decision {
		case model.RiskDecisionApprove:
			s.CurrentStage = model.StageApproved
			s.Outcome = model.OutcomeApproved
		case model.RiskDecisionReject:
			s.CurrentStage = model.StageRejected
			s.Outcome = model.OutcomeRejected
			s.FailureReason = "risk threshold exceeded"
		default:
			s.CurrentStage = model.StageManualReview
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	p.mirror(ctx, s)

	if s.Outcome != model.OutcomeApproved {
		return s, nil, nil
	}

	attestation, err := p.committer.Commit(ctx, s)
	if err != nil {
		// The session is approved; commit retries resolve idempotently.
		return s, nil, eris.Wrap(err, "pipeline: commit attestation")
	}
	return s, attestation, nil
}
