package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen lets a probe call through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a provider call is rejected because its
// circuit is open. It counts as a transient provider failure.
var ErrCircuitOpen = eris.New("circuit open")

// BreakerConfig controls breaker behavior for one provider.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a
	// probe. Default: 30s.
	ResetTimeout time.Duration
}

// Breaker is a per-provider circuit breaker. A tripped breaker turns a slow
// failing provider into a fast one so the chain or aggregator can move on.
type Breaker struct {
	provider string
	cfg      BreakerConfig

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	now         func() time.Time
}

// NewBreaker creates a closed breaker for the named provider.
func NewBreaker(provider string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{provider: provider, cfg: cfg, now: time.Now}
}

// WithNow sets a fixed clock for testing.
func (b *Breaker) WithNow(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// State returns the current state, accounting for reset-timeout elapse.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() CircuitState {
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.state = CircuitHalfOpen
	}
	return b.state
}

// Call runs fn through the breaker. When open, it returns ErrCircuitOpen
// without invoking fn.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.stateLocked()
	if state == CircuitOpen {
		b.mu.Unlock()
		return eris.Wrap(ErrCircuitOpen, b.provider)
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		if b.state != CircuitClosed {
			zap.L().Info("circuit closed", zap.String("provider", b.provider))
		}
		b.state = CircuitClosed
		b.failures = 0
		return nil
	}

	// Only transient failures count toward tripping; a rejected document is
	// not a provider outage.
	if !IsTransient(err) {
		return err
	}

	b.failures++
	b.lastFailure = b.now()
	if state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		if b.state != CircuitOpen {
			zap.L().Warn("circuit opened",
				zap.String("provider", b.provider),
				zap.Int("consecutive_failures", b.failures),
			)
		}
		b.state = CircuitOpen
	}
	return err
}
