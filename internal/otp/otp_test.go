package otp

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearpath-id/kyc-engine/internal/kv"
	"github.com/clearpath-id/kyc-engine/internal/model"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HMACSecret = "test-secret"
	cfg.IssueInterval = time.Nanosecond // no rate limiting unless a test opts in
	cfg.IssueBurst = 100
	return cfg
}

func newTestManager(t *testing.T, cfg Config) (*Manager, kv.Store) {
	t.Helper()
	store := kv.NewMemory()
	t.Cleanup(func() { store.Close() }) //nolint:errcheck
	return NewManager(store, cfg), store
}

func TestIssueAndVerifyAccepted(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	h, err := m.Issue(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, h.Code, 6)

	res, err := m.Verify(ctx, "s1", h.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpAccepted, res)

	// Accepted records are gone; a second verify sees nothing.
	res, err = m.Verify(ctx, "s1", h.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpExpired, res)
}

func TestVerifyMismatchConsumesAttempt(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	h, err := m.Issue(ctx, "s1")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == h.Code {
		wrong = "000001"
	}

	res, err := m.Verify(ctx, "s1", wrong)
	require.NoError(t, err)
	assert.Equal(t, model.OtpMismatch, res)

	// Remaining attempts still admit the correct code.
	res, err = m.Verify(ctx, "s1", h.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpAccepted, res)
}

func TestExhaustionRejectsCorrectCode(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	h, err := m.Issue(ctx, "s1")
	require.NoError(t, err)

	wrong := "000000"
	if wrong == h.Code {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		res, err := m.Verify(ctx, "s1", wrong)
		require.NoError(t, err)
		assert.Equal(t, model.OtpMismatch, res)
	}

	// Three failures spent the allowance; the correct code is now refused.
	res, err := m.Verify(ctx, "s1", h.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpExhausted, res)
}

func TestVerifyExpiredRecord(t *testing.T) {
	cfg := testConfig()
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	now := time.Now()
	m.WithNow(func() time.Time { return now })

	h, err := m.Issue(ctx, "s1")
	require.NoError(t, err)

	m.WithNow(func() time.Time { return now.Add(cfg.TTL + time.Second) })

	res, err := m.Verify(ctx, "s1", h.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpExpired, res)
}

func TestVerifyWithoutIssue(t *testing.T) {
	m, _ := newTestManager(t, testConfig())

	res, err := m.Verify(context.Background(), "s1", "123456")
	require.NoError(t, err)
	assert.Equal(t, model.OtpExpired, res)
}

func TestReissueInvalidatesPriorCode(t *testing.T) {
	m, _ := newTestManager(t, testConfig())
	ctx := context.Background()

	first, err := m.Issue(ctx, "s1")
	require.NoError(t, err)
	second, err := m.Issue(ctx, "s1")
	require.NoError(t, err)

	if first.Code != second.Code {
		res, err := m.Verify(ctx, "s1", first.Code)
		require.NoError(t, err)
		assert.Equal(t, model.OtpMismatch, res)
	}

	res, err := m.Verify(ctx, "s1", second.Code)
	require.NoError(t, err)
	assert.Equal(t, model.OtpAccepted, res)
}

func TestIssueRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.IssueInterval = time.Hour
	cfg.IssueBurst = 2
	m, _ := newTestManager(t, cfg)
	ctx := context.Background()

	_, err := m.Issue(ctx, "s1")
	require.NoError(t, err)
	_, err = m.Issue(ctx, "s1")
	require.NoError(t, err)

	_, err = m.Issue(ctx, "s1")
	assert.ErrorIs(t, err, ErrIssueRateLimited)

	// Other sessions are unaffected.
	_, err = m.Issue(ctx, "s2")
	assert.NoError(t, err)
}

func TestIdleLimitersEvicted(t *testing.T) {
	cfg := testConfig()
	cfg.IssueInterval = time.Minute
	cfg.IssueBurst = 2
	m, _ := newTestManager(t, cfg)

	base := time.Now()
	m.WithNow(func() time.Time { return base })
	for i := 0; i < limiterHighWater; i++ {
		m.limiter(fmt.Sprintf("s-%d", i))
	}
	require.Len(t, m.limiters, limiterHighWater)

	// Past the full refill every idle limiter is reclaimable.
	m.WithNow(func() time.Time { return base.Add(3 * time.Minute) })
	m.limiter("s-new")

	m.mu.Lock()
	remaining := len(m.limiters)
	m.mu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestCodesAreSixDigits(t *testing.T) {
	m, _ := newTestManager(t, testConfig())

	for i := 0; i < 20; i++ {
		h, err := m.Issue(context.Background(), "s1")
		require.NoError(t, err)
		require.Len(t, h.Code, 6)
		for _, r := range h.Code {
			assert.True(t, r >= '0' && r <= '9')
		}
	}
}
