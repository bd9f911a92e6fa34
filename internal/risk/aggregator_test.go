package risk

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

type stubSource struct {
	name   string
	weight float64
	score  float64
	err    error
	delay  time.Duration
}

func (s *stubSource) Name() string    { return s.name }
func (s *stubSource) Weight() float64 { return s.weight }

func (s *stubSource) Score(ctx context.Context, _ SubjectContext) (model.RiskSignal, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return model.RiskSignal{}, ctx.Err()
		}
	}
	if s.err != nil {
		return model.RiskSignal{}, s.err
	}
	return model.RiskSignal{RawScore: s.score, Normalized: s.score}, nil
}

func testPolicy() Policy {
	return Policy{
		Threshold: 0.6,
		Band:      0.1,
		Weights: map[string]float64{
			"a": 0.5,
			"b": 0.3,
			"c": 0.2,
		},
	}
}

func TestAggregateAllSourcesRespond(t *testing.T) {
	agg := NewAggregator(testPolicy(), time.Second,
		&stubSource{name: "a", score: 0.2},
		&stubSource{name: "b", score: 0.4},
		&stubSource{name: "c", score: 0.6},
	)

	verdict := agg.Aggregate(context.Background(), SubjectContext{SessionID: "s1"})

	// 0.2*0.5 + 0.4*0.3 + 0.6*0.2 = 0.34
	assert.InDelta(t, 0.34, verdict.Score, 1e-9)
	assert.Equal(t, model.RiskDecisionApprove, verdict.Decision)
	require.Len(t, verdict.Signals, 3)
	for _, sig := range verdict.Signals {
		assert.True(t, sig.Responded)
	}
}

func TestAggregateUnavailableSourceSubstitutesNeutral(t *testing.T) {
	agg := NewAggregator(testPolicy(), time.Second,
		&stubSource{name: "a", score: 0.9},
		&stubSource{name: "b", err: eris.New("connection refused")},
		&stubSource{name: "c", score: 0.9},
	)

	verdict := agg.Aggregate(context.Background(), SubjectContext{SessionID: "s1"})

	// b is excluded from the combination: (0.9*0.5 + 0.9*0.2) / 0.7 = 0.9
	assert.InDelta(t, 0.9, verdict.Score, 1e-9)
	assert.Equal(t, model.RiskDecisionReject, verdict.Decision)

	var failed *model.RiskSignal
	for i := range verdict.Signals {
		if verdict.Signals[i].Source == "b" {
			failed = &verdict.Signals[i]
		}
	}
	require.NotNil(t, failed)
	assert.False(t, failed.Responded)
	assert.InDelta(t, 0.5, failed.Normalized, 1e-9)
}

func TestAggregateTimedOutSourceSubstitutesNeutral(t *testing.T) {
	agg := NewAggregator(testPolicy(), 20*time.Millisecond,
		&stubSource{name: "a", score: 0.1},
		&stubSource{name: "b", score: 0.1, delay: 500 * time.Millisecond},
	)

	verdict := agg.Aggregate(context.Background(), SubjectContext{SessionID: "s1"})

	assert.InDelta(t, 0.1, verdict.Score, 1e-9)
	for _, sig := range verdict.Signals {
		if sig.Source == "b" {
			assert.False(t, sig.Responded)
		}
	}
}

func TestAggregateZeroRespondersIsManualReview(t *testing.T) {
	agg := NewAggregator(testPolicy(), time.Second,
		&stubSource{name: "a", err: eris.New("down")},
		&stubSource{name: "b", err: eris.New("down")},
	)

	verdict := agg.Aggregate(context.Background(), SubjectContext{SessionID: "s1"})

	assert.InDelta(t, 0.5, verdict.Score, 1e-9)
	assert.Equal(t, model.RiskDecisionManualReview, verdict.Decision)
}

func TestPolicyDecide(t *testing.T) {
	p := testPolicy()

	tests := []struct {
		score float64
		want  model.RiskDecision
	}{
		{0.0, model.RiskDecisionApprove},
		{0.49, model.RiskDecisionApprove},
		{0.5, model.RiskDecisionManualReview},
		{0.51, model.RiskDecisionManualReview},
		{0.6, model.RiskDecisionManualReview},
		{0.69, model.RiskDecisionManualReview},
		{0.7, model.RiskDecisionReject},
		{1.0, model.RiskDecisionReject},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Decide(tt.score), "score %.2f", tt.score)
	}
}
