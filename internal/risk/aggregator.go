package risk

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// Aggregator fans a subject out to every configured source and folds the
// responses into one verdict. Source failure is degradation, not error: a
// source that times out or errors contributes a neutral non-responding
// signal and the remaining sources carry the decision.
type Aggregator struct {
	sources []Source
	policy  Policy
	timeout time.Duration
	log     *zap.Logger
}

// NewAggregator builds an aggregator over the given sources. Sources whose
// name carries no weight in the policy still run but cannot influence the
// score.
func NewAggregator(policy Policy, sourceTimeout time.Duration, sources ...Source) *Aggregator {
	if sourceTimeout <= 0 {
		sourceTimeout = 8 * time.Second
	}
	return &Aggregator{
		sources: sources,
		policy:  policy,
		timeout: sourceTimeout,
		log:     zap.L().Named("risk"),
	}
}

// Aggregate scores the subject across all sources concurrently. It never
// fails: with zero responding sources the verdict carries the neutral score,
// which lands in the manual-review band.
func (a *Aggregator) Aggregate(ctx context.Context, subject SubjectContext) model.AggregateRiskVerdict {
	signals := make([]model.RiskSignal, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			start := time.Now()
			sctx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			sig, err := src.Score(sctx, subject)
			if err != nil {
				a.log.Warn("risk source unavailable, substituting neutral",
					zap.String("source", src.Name()),
					zap.String("session_id", subject.SessionID),
					zap.Error(err))
				signals[i] = model.RiskSignal{
					Source:     src.Name(),
					Normalized: neutralScore,
					Weight:     a.policy.WeightFor(src.Name()),
					Responded:  false,
				}
				return nil
			}

			sig.Source = src.Name()
			sig.Weight = a.policy.WeightFor(src.Name())
			sig.Responded = true
			signals[i] = sig

			a.log.Debug("risk source scored",
				zap.String("source", src.Name()),
				zap.String("session_id", subject.SessionID),
				zap.Float64("normalized", sig.Normalized),
				zap.Duration("latency", time.Since(start)))
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines never return errors

	score := combine(signals)
	verdict := model.AggregateRiskVerdict{
		Score:     score,
		Threshold: a.policy.Threshold,
		Band:      a.policy.Band,
		Decision:  a.policy.Decide(score),
		Signals:   signals,
	}

	a.log.Info("risk aggregated",
		zap.String("session_id", subject.SessionID),
		zap.Float64("score", score),
		zap.String("decision", string(verdict.Decision)),
		zap.Int("responding", countResponding(signals)))
	return verdict
}

// combine takes the weighted mean over responding sources only. Zero
// responders yields the neutral score.
func combine(signals []model.RiskSignal) float64 {
	var sum, weight float64
	for _, sig := range signals {
		if !sig.Responded || sig.Weight <= 0 {
			continue
		}
		sum += sig.Normalized * sig.Weight
		weight += sig.Weight
	}
	if weight == 0 {
		return neutralScore
	}
	return sum / weight
}

// Decide maps a combined score to a decision using the policy bands. The
// approve edge is strict so the neutral score sits inside the manual-review
// band under the default policy: degraded aggregation never approves.
func (p Policy) Decide(score float64) model.RiskDecision {
	switch {
	case score >= p.Threshold+p.Band:
		return model.RiskDecisionReject
	case score < p.Threshold-p.Band:
		return model.RiskDecisionApprove
	default:
		return model.RiskDecisionManualReview
	}
}

func countResponding(signals []model.RiskSignal) int {
	n := 0
	for _, sig := range signals {
		if sig.Responded {
			n++
		}
	}
	return n
}
