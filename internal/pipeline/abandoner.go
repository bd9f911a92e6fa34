package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/session"
	"github.com/clearpath-id/kyc-engine/internal/store"
)

// Abandoner sweeps sessions that have sat idle past the abandonment timeout
// and terminal-marks them rejected. It never commits attestations.
type Abandoner struct {
	machine *session.Machine
	store   store.Store
	cfg     session.Config
	log     *zap.Logger
	now     func() time.Time
}

// NewAbandoner builds a sweeper.
func NewAbandoner(machine *session.Machine, st store.Store, cfg session.Config) *Abandoner {
	if cfg.AbandonAfter <= 0 {
		cfg = session.DefaultConfig()
	}
	return &Abandoner{
		machine: machine,
		store:   st,
		cfg:     cfg,
		log:     zap.L().Named("abandoner"),
		now:     time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (a *Abandoner) WithNow(now func() time.Time) *Abandoner {
	a.now = now
	return a
}

// Run sweeps on the configured interval until the context is canceled.
func (a *Abandoner) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil {
				a.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep abandons every active session idle past the timeout and returns how
// many it closed. A session that races a customer submission loses the
// conditional write and is skipped; the next sweep sees its fresh timestamp.
func (a *Abandoner) Sweep(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.cfg.AbandonAfter)
	idle, err := a.store.ListSessions(ctx, store.SessionFilter{
		ActiveOnly: true,
		IdleBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, s := range idle {
		err := a.machine.Abandon(ctx, s.ID)
		if eris.Is(err, session.ErrNotFound) {
			// The kv record lapsed; close out the archived copy directly.
			s.CurrentStage = model.StageRejected
			s.Outcome = model.OutcomeRejected
			s.FailureReason = "abandoned"
			s.UpdatedAt = a.now()
			err = a.store.SaveSession(ctx, &s)
		}
		if err != nil {
			a.log.Warn("abandon skipped",
				zap.String("session_id", s.ID),
				zap.Error(err))
			continue
		}
		closed++
	}

	if closed > 0 {
		a.log.Info("idle sessions abandoned",
			zap.Int("count", closed),
			zap.Time("cutoff", cutoff))
	}
	return closed, nil
}
