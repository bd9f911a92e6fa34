package attest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/pkg/ledger"
	"github.com/clearpath-id/kyc-engine/pkg/proofsvc"
)

// ErrNotApproved is returned when commit is requested for a session that
// did not end approved.
var ErrNotApproved = eris.New("attest: session not approved")

// Archive is the durable storage the committer checks and writes. Lookup
// before issue makes Commit idempotent across retries.
// GetAttestationBySession returns (nil, nil) when the session has none.
type Archive interface {
	SaveAttestation(ctx context.Context, a *model.Attestation) error
	GetAttestationBySession(ctx context.Context, sessionID string) (*model.Attestation, error)
}

// Committer turns an approved session into an attestation: digest, proof,
// ledger append, archive write, in that order.
type Committer struct {
	archive Archive
	proofs  proofsvc.Client
	ledger  ledger.Client
	log     *zap.Logger
	now     func() time.Time
}

// NewCommitter builds a Committer.
func NewCommitter(archive Archive, proofs proofsvc.Client, ledg ledger.Client) *Committer {
	return &Committer{
		archive: archive,
		proofs:  proofs,
		ledger:  ledg,
		log:     zap.L().Named("attest"),
		now:     time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (c *Committer) WithNow(now func() time.Time) *Committer {
	c.now = now
	return c
}

// Commit issues an attestation for an approved session. Committing the same
// session twice returns the original attestation with its original ledger
// reference; the ledger sees exactly one entry.
func (c *Committer) Commit(ctx context.Context, s *model.VerificationSession) (*model.Attestation, error) {
	if s.Outcome != model.OutcomeApproved {
		return nil, eris.Wrapf(ErrNotApproved, "session %s outcome %q", s.ID, s.Outcome)
	}

	existing, err := c.archive.GetAttestationBySession(ctx, s.ID)
	if err != nil {
		return nil, eris.Wrap(err, "attest: check existing")
	}
	if existing != nil {
		c.log.Info("attestation already committed",
			zap.String("session_id", s.ID),
			zap.String("attestation_id", existing.ID))
		return existing, nil
	}

	return c.issue(ctx, s, "")
}

// Supersede issues a correcting attestation that references the one it
// replaces. The superseded attestation stays in the archive and the ledger.
func (c *Committer) Supersede(ctx context.Context, old *model.Attestation, s *model.VerificationSession) (*model.Attestation, error) {
	if old == nil || old.SessionID != s.ID {
		return nil, eris.New("attest: superseded attestation does not belong to session")
	}
	return c.issue(ctx, s, old.ID)
}

func (c *Committer) issue(ctx context.Context, s *model.VerificationSession, supersedes string) (*model.Attestation, error) {
	fieldDigest, err := FieldDigest(sessionVerdicts(s))
	if err != nil {
		return nil, err
	}
	riskDigest, err := RiskDigest(s.RiskVerdict)
	if err != nil {
		return nil, err
	}

	proof, err := c.proofs.IssueProof(ctx, proofsvc.ProofRequest{
		SessionID:   s.ID,
		FieldDigest: fieldDigest,
		RiskDigest:  riskDigest,
		Decision:    string(s.Outcome),
	})
	if err != nil {
		return nil, eris.Wrap(err, "attest: issue proof")
	}

	a := &model.Attestation{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		Decision:    s.Outcome,
		FieldDigest: fieldDigest,
		RiskDigest:  riskDigest,
		Proof:       proof.Token,
		ProofScheme: proof.Scheme,
		CommittedAt: c.now(),
		Supersedes:  supersedes,
	}

	ref, err := c.ledger.Append(ctx, ledger.Entry{
		AttestationID: a.ID,
		SessionID:     a.SessionID,
		Decision:      string(a.Decision),
		FieldDigest:   a.FieldDigest,
		RiskDigest:    a.RiskDigest,
		Proof:         a.Proof,
		Supersedes:    a.Supersedes,
	})
	if err != nil {
		return nil, eris.Wrap(err, "attest: ledger append")
	}
	a.LedgerRef = ref

	if err := c.archive.SaveAttestation(ctx, a); err != nil {
		return nil, eris.Wrap(err, "attest: save")
	}

	c.log.Info("attestation committed",
		zap.String("session_id", s.ID),
		zap.String("attestation_id", a.ID),
		zap.String("ledger_ref", ref),
		zap.String("supersedes", supersedes))
	return a, nil
}

// Audit re-derives the digests from the archived session, compares them with
// the attestation, and checks the proof with the proof service. A nil return
// means the attestation still matches what the session records say happened.
func (c *Committer) Audit(ctx context.Context, s *model.VerificationSession, a *model.Attestation) error {
	if a.SessionID != s.ID {
		return eris.New("attest: attestation does not belong to session")
	}

	fieldDigest, err := FieldDigest(sessionVerdicts(s))
	if err != nil {
		return err
	}
	if fieldDigest != a.FieldDigest {
		return eris.Errorf("attest: field digest mismatch for session %s", s.ID)
	}

	riskDigest, err := RiskDigest(s.RiskVerdict)
	if err != nil {
		return err
	}
	if riskDigest != a.RiskDigest {
		return eris.Errorf("attest: risk digest mismatch for session %s", s.ID)
	}

	valid, err := c.proofs.VerifyProof(ctx, proofsvc.Proof{Token: a.Proof, Scheme: a.ProofScheme})
	if err != nil {
		return eris.Wrap(err, "attest: verify proof")
	}
	if !valid {
		return eris.Errorf("attest: proof rejected for session %s", s.ID)
	}
	return nil
}

// sessionVerdicts merges the per-stage field verdicts into one map. Later
// stages win on field name collisions.
func sessionVerdicts(s *model.VerificationSession) map[string]model.FieldVerdict {
	merged := make(map[string]model.FieldVerdict)
	for _, stage := range []model.Stage{model.StagePersonalInfo, model.StageDocument, model.StageContact, model.StageFace} {
		res, ok := s.StageResults[stage]
		if !ok {
			continue
		}
		for field, v := range res.Verdicts {
			merged[field] = v
		}
	}
	return merged
}
