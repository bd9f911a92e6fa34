// Package pipeline orchestrates the verification stages: personal info,
// document, contact, face. Each submission runs its stage handler, records a
// durable stage result, and advances the session state machine.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/config"
	"github.com/clearpath-id/kyc-engine/internal/extraction"
	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/otp"
	"github.com/clearpath-id/kyc-engine/internal/risk"
	"github.com/clearpath-id/kyc-engine/internal/session"
	"github.com/clearpath-id/kyc-engine/internal/store"
	"github.com/clearpath-id/kyc-engine/internal/validate"
)

// Pipeline wires the verification components together.
type Pipeline struct {
	cfg       *config.Config
	machine   *session.Machine
	chain     *extraction.Chain
	validator *validate.Validator
	risk      *risk.Aggregator
	otp       *otp.Manager
	committer Committer
	store     store.Store
	log       *zap.Logger
}

// Committer is the attestation boundary the pipeline calls for approved
// sessions.
type Committer interface {
	Commit(ctx context.Context, s *model.VerificationSession) (*model.Attestation, error)
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	machine *session.Machine,
	chain *extraction.Chain,
	validator *validate.Validator,
	aggregator *risk.Aggregator,
	otpMgr *otp.Manager,
	committer Committer,
	st store.Store,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		machine:   machine,
		chain:     chain,
		validator: validator,
		risk:      aggregator,
		otp:       otpMgr,
		committer: committer,
		store:     st,
		log:       zap.L().Named("pipeline"),
	}
}

// trackStage runs a stage handler, stamps the result with latency, and
// persists it. Storage failure is logged, never fatal: the session record in
// kv remains authoritative while the session is live.
func (p *Pipeline) trackStage(ctx context.Context, sessionID string, stage model.Stage, fn func() (model.StageResult, error)) (model.StageResult, error) {
	start := time.Now()
	res, err := fn()
	duration := time.Since(start).Milliseconds()

	res.Stage = stage
	res.DurationMS = duration
	res.CompletedAt = time.Now().UTC()
	if err != nil && res.Status == "" {
		res.Status = model.StageStatusFailed
	}

	if saveErr := p.store.SaveStageResult(ctx, sessionID, res); saveErr != nil {
		p.log.Warn("stage result not persisted",
			zap.String("session_id", sessionID),
			zap.String("stage", string(stage)),
			zap.Error(saveErr))
	}

	p.log.Info("stage completed",
		zap.String("session_id", sessionID),
		zap.String("stage", string(stage)),
		zap.String("status", string(res.Status)),
		zap.Int64("duration_ms", duration))
	return res, err
}

// mirror writes the current session to the durable archive so the sweeper
// and reporting queries see live sessions too.
func (p *Pipeline) mirror(ctx context.Context, s *model.VerificationSession) {
	if err := p.store.SaveSession(ctx, s); err != nil {
		p.log.Warn("session mirror failed",
			zap.String("session_id", s.ID),
			zap.Error(err))
	}
}

// CreateSession starts a new verification session.
func (p *Pipeline) CreateSession(ctx context.Context) (*model.VerificationSession, error) {
	s, err := p.machine.Create(ctx)
	if err != nil {
		return nil, err
	}
	p.mirror(ctx, s)
	return s, nil
}

// Status returns the session. Live sessions come from kv; sessions whose kv
// record lapsed after the terminal grace window come from the archive.
func (p *Pipeline) Status(ctx context.Context, id string) (*model.VerificationSession, error) {
	s, err := p.machine.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !eris.Is(err, session.ErrNotFound) {
		return nil, err
	}

	archived, archiveErr := p.store.GetSession(ctx, id)
	if archiveErr != nil {
		return nil, archiveErr
	}
	if archived == nil {
		return nil, err
	}
	return archived, nil
}
