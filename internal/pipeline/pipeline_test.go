package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearpath-id/kyc-engine/internal/attest"
	"github.com/clearpath-id/kyc-engine/internal/config"
	"github.com/clearpath-id/kyc-engine/internal/extraction"
	"github.com/clearpath-id/kyc-engine/internal/kv"
	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/otp"
	"github.com/clearpath-id/kyc-engine/internal/risk"
	"github.com/clearpath-id/kyc-engine/internal/session"
	"github.com/clearpath-id/kyc-engine/internal/store"
	"github.com/clearpath-id/kyc-engine/internal/validate"
	"github.com/clearpath-id/kyc-engine/pkg/ledger"
	"github.com/clearpath-id/kyc-engine/pkg/proofsvc"
)

// validNationalID passes the Verhoeff checksum.
const validNationalID = "234567890124"

var testClaims = PersonalInfo{
	FullName:     "Priya Sharma",
	DateOfBirth:  "1990-04-02",
	IDNumber:     validNationalID,
	DocumentType: model.DocTypeNationalID,
	Phone:        "9876543210",
}

func matchingFields() model.CanonicalDocumentRecord {
	return model.CanonicalDocumentRecord{
		"full_name":     {Value: "Priya Sharma", Source: "stub", Confidence: 0.95},
		"date_of_birth": {Value: "1990-04-02", Source: "stub", Confidence: 0.95},
		"id_number":     {Value: validNationalID, Source: "stub", Confidence: 0.95},
	}
}

type stubEngine struct {
	fields model.CanonicalDocumentRecord
	err    error
}

func (e *stubEngine) Name() string                     { return "stub" }
func (e *stubEngine) Supports(model.DocumentType) bool { return true }
func (e *stubEngine) Extract(_ context.Context, _ extraction.Document) (*extraction.Result, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &extraction.Result{Fields: e.fields, Confidence: 0.95}, nil
}

type stubRiskSource struct {
	score float64
	err   error
}

func (s *stubRiskSource) Name() string    { return "stub_risk" }
func (s *stubRiskSource) Weight() float64 { return 1 }
func (s *stubRiskSource) Score(context.Context, risk.SubjectContext) (model.RiskSignal, error) {
	if s.err != nil {
		return model.RiskSignal{}, s.err
	}
	return model.RiskSignal{RawScore: s.score, Normalized: s.score}, nil
}

type fakeProofs struct {
	calls int
}

func (f *fakeProofs) IssueProof(_ context.Context, req proofsvc.ProofRequest) (*proofsvc.Proof, error) {
	f.calls++
	return &proofsvc.Proof{Token: "tok-" + req.SessionID, Scheme: "test"}, nil
}

func (f *fakeProofs) VerifyProof(_ context.Context, proof proofsvc.Proof) (bool, error) {
	return proof.Scheme == "test", nil
}

type testPipeline struct {
	*Pipeline
	store   store.Store
	engine  *stubEngine
	riskSrc *stubRiskSource
	ledger  *ledger.Memory
	proofs  *fakeProofs
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	mem := kv.NewMemory()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "kyc.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	machine := session.NewMachine(mem, st, session.DefaultConfig())
	engine := &stubEngine{fields: matchingFields()}
	chain := extraction.NewChain(extraction.ChainConfig{AcceptThreshold: 0.75}, engine)
	riskSrc := &stubRiskSource{score: 0.1}
	agg := risk.NewAggregator(risk.Policy{
		Threshold: 0.6,
		Band:      0.1,
		Weights:   map[string]float64{"stub_risk": 1},
	}, time.Second, riskSrc)
	otpMgr := otp.NewManager(mem, otp.Config{
		MaxAttempts:   3,
		TTL:           5 * time.Minute,
		IssueInterval: time.Millisecond,
		IssueBurst:    10,
		HMACSecret:    "test-secret",
	})
	led := ledger.NewMemory()
	proofs := &fakeProofs{}
	committer := attest.NewCommitter(st, proofs, led)

	return &testPipeline{
		Pipeline: New(&config.Config{}, machine, chain, validate.New(validate.DefaultConfig()), agg, otpMgr, committer, st),
		store:    st,
		engine:   engine,
		riskSrc:  riskSrc,
		ledger:   led,
		proofs:   proofs,
	}
}

func testDocument() extraction.Document {
	return extraction.Document{
		Type:   model.DocTypeNationalID,
		Format: "png",
		Image:  []byte("front-of-card"),
	}
}

// advanceToDocument walks a fresh session through personal info and document
// submission so OTP and face tests start at the stage they exercise.
func advanceToDocument(t *testing.T, p *testPipeline) *model.VerificationSession {
	t.Helper()
	ctx := context.Background()

	s, err := p.CreateSession(ctx)
	require.NoError(t, err)

	s, err = p.SubmitPersonalInfo(ctx, s.ID, testClaims)
	require.NoError(t, err)
	require.Equal(t, model.StagePersonalInfo, s.CurrentStage)

	s, err = p.SubmitDocument(ctx, s.ID, testDocument())
	require.NoError(t, err)
	require.Equal(t, model.StageDocument, s.CurrentStage)
	return s
}

func TestFullFlowApproved(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	s := advanceToDocument(t, p)

	handle, err := p.RequestOTP(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, handle.Code, 6)

	result, s, err := p.SubmitOTP(ctx, s.ID, handle.Code)
	require.NoError(t, err)
	require.Equal(t, model.OtpAccepted, result)
	require.Equal(t, model.StageContact, s.CurrentStage)

	s, att, err := p.SubmitFace(ctx, s.ID, []byte("selfie"))
	require.NoError(t, err)
	assert.Equal(t, model.StageApproved, s.CurrentStage)
	assert.Equal(t, model.OutcomeApproved, s.Outcome)
	require.NotNil(t, att)
	assert.Equal(t, s.ID, att.SessionID)
	assert.Equal(t, model.OutcomeApproved, att.Decision)
	assert.NotEmpty(t, att.Proof)
	assert.NotEmpty(t, att.LedgerRef)

	assert.Equal(t, 1, p.proofs.calls)
	assert.Len(t, p.ledger.Entries(), 1)

	// Stage results survive in the archive.
	archived, err := p.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, archived)
	assert.Equal(t, model.OutcomeApproved, archived.Outcome)

	got, err := p.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageApproved, got.CurrentStage)
}

func TestPersonalInfoFormatRejects(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	s, err := p.CreateSession(ctx)
	require.NoError(t, err)

	bad := testClaims
	bad.Phone = "12345"
	s, err = p.SubmitPersonalInfo(ctx, s.ID, bad)
	require.NoError(t, err)
	assert.Equal(t, model.StageRejected, s.CurrentStage)
	assert.Equal(t, model.OutcomeRejected, s.Outcome)
	assert.Equal(t, "invalid phone", s.FailureReason)

	_, err = p.SubmitDocument(ctx, s.ID, testDocument())
	require.ErrorIs(t, err, ErrWrongStage)
}

func TestDocumentMismatchRejects(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	fields := matchingFields()
	fields["full_name"] = model.FieldValue{Value: "Rahul Verma", Source: "stub", Confidence: 0.95}
	p.engine.fields = fields

	s, err := p.CreateSession(ctx)
	require.NoError(t, err)
	s, err = p.SubmitPersonalInfo(ctx, s.ID, testClaims)
	require.NoError(t, err)

	s, err = p.SubmitDocument(ctx, s.ID, testDocument())
	require.NoError(t, err)
	assert.Equal(t, model.StageRejected, s.CurrentStage)
	assert.Equal(t, model.OutcomeRejected, s.Outcome)
	assert.Equal(t, "document field mismatch", s.FailureReason)

	res, ok := s.StageResults[model.StageDocument]
	require.True(t, ok)
	assert.Equal(t, model.MatchResultMismatch, res.Verdicts["full_name"].Result)
}

func TestDocumentAmbiguousGoesToManualReview(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	// A near-miss name plus a missing date of birth: two ambiguous fields,
	// which is over the tolerance, but no hard mismatch.
	p.engine.fields = model.CanonicalDocumentRecord{
		"full_name": {Value: "Prija Sharme", Source: "stub", Confidence: 0.95},
		"id_number": {Value: validNationalID, Source: "stub", Confidence: 0.95},
	}

	s, err := p.CreateSession(ctx)
	require.NoError(t, err)
	s, err = p.SubmitPersonalInfo(ctx, s.ID, testClaims)
	require.NoError(t, err)

	s, err = p.SubmitDocument(ctx, s.ID, testDocument())
	require.NoError(t, err)
	assert.Equal(t, model.StageManualReview, s.CurrentStage)
	assert.Equal(t, model.OutcomeUnset, s.Outcome)
}

func TestExtractionUnavailableLeavesSessionInPlace(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	s, err := p.CreateSession(ctx)
	require.NoError(t, err)
	s, err = p.SubmitPersonalInfo(ctx, s.ID, testClaims)
	require.NoError(t, err)

	p.engine.err = eris.New("provider down")
	_, err = p.SubmitDocument(ctx, s.ID, testDocument())
	require.Error(t, err)

	// The session was not judged; the customer can resubmit.
	got, err := p.Status(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StagePersonalInfo, got.CurrentStage)

	p.engine.err = nil
	got, err = p.SubmitDocument(ctx, s.ID, testDocument())
	require.NoError(t, err)
	assert.Equal(t, model.StageDocument, got.CurrentStage)
}

func TestOperationsRejectWrongStage(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	s, err := p.CreateSession(ctx)
	require.NoError(t, err)

	_, err = p.SubmitDocument(ctx, s.ID, testDocument())
	assert.ErrorIs(t, err, ErrWrongStage)

	_, err = p.RequestOTP(ctx, s.ID)
	assert.ErrorIs(t, err, ErrWrongStage)

	_, _, err = p.SubmitOTP(ctx, s.ID, "123456")
	assert.ErrorIs(t, err, ErrWrongStage)

	_, _, err = p.SubmitFace(ctx, s.ID, []byte("selfie"))
	assert.ErrorIs(t, err, ErrWrongStage)
}

func TestOtpMismatchKeepsSessionAtDocument(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	s := advanceToDocument(t, p)

	handle, err := p.RequestOTP(ctx, s.ID)
	require.NoError(t, err)

	wrong := "000000"
	if handle.Code == wrong {
		wrong = "000001"
	}
	result, s, err := p.SubmitOTP(ctx, s.ID, wrong)
	require.NoError(t, err)
	assert.Equal(t, model.OtpMismatch, result)
	assert.Equal(t, model.StageDocument, s.CurrentStage)

	result, s, err = p.SubmitOTP(ctx, s.ID, handle.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpAccepted, result)
	assert.Equal(t, model.StageContact, s.CurrentStage)
}

func TestRiskRejectSettlesWithoutAttestation(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.riskSrc.score = 0.9
	s := advanceToDocument(t, p)
	handle, err := p.RequestOTP(ctx, s.ID)
	require.NoError(t, err)
	_, s, err = p.SubmitOTP(ctx, s.ID, handle.Code)
	require.NoError(t, err)

	s, att, err := p.SubmitFace(ctx, s.ID, []byte("selfie"))
	require.NoError(t, err)
	assert.Nil(t, att)
	assert.Equal(t, model.StageRejected, s.CurrentStage)
	assert.Equal(t, model.OutcomeRejected, s.Outcome)
	assert.Equal(t, "risk threshold exceeded", s.FailureReason)
	assert.Empty(t, p.ledger.Entries())
	assert.Zero(t, p.proofs.calls)
	require.NotNil(t, s.RiskVerdict)
	assert.Equal(t, model.RiskDecisionReject, s.RiskVerdict.Decision)
}

func TestRiskBandGoesToManualReview(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.riskSrc.score = 0.6
	s := advanceToDocument(t, p)
	handle, err := p.RequestOTP(ctx, s.ID)
	require.NoError(t, err)
	_, s, err = p.SubmitOTP(ctx, s.ID, handle.Code)
	require.NoError(t, err)

	s, att, err := p.SubmitFace(ctx, s.ID, []byte("selfie"))
	require.NoError(t, err)
	assert.Nil(t, att)
	assert.Equal(t, model.StageManualReview, s.CurrentStage)
	assert.Empty(t, p.ledger.Entries())
}

func TestUnresponsiveRiskSourceLandsInManualReview(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	p.riskSrc.err = eris.New("scorer down")
	s := advanceToDocument(t, p)
	handle, err := p.RequestOTP(ctx, s.ID)
	require.NoError(t, err)
	_, s, err = p.SubmitOTP(ctx, s.ID, handle.Code)
	require.NoError(t, err)

	s, _, err = p.SubmitFace(ctx, s.ID, []byte("selfie"))
	require.NoError(t, err)
	assert.Equal(t, model.StageManualReview, s.CurrentStage)
	require.NotNil(t, s.RiskVerdict)
	assert.InDelta(t, 0.5, s.RiskVerdict.Score, 1e-9)
}

func TestStatusUnknownSession(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.Status(context.Background(), "no-such-session")
	require.ErrorIs(t, err, session.ErrNotFound)
}
