// Package otp issues and verifies one-time passcodes for the contact
// verification stage. Codes are short-lived, attempt-limited, and stored
// only as HMAC digests.
package otp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clearpath-id/kyc-engine/internal/kv"
	"github.com/clearpath-id/kyc-engine/internal/model"
)

// ErrIssueRateLimited is returned when a session requests codes faster than
// the issuance limiter allows.
var ErrIssueRateLimited = eris.New("otp: issuance rate limited")

const codeDigits = 6

// Config controls passcode lifetime and attempt limits.
type Config struct {
	MaxAttempts   int
	TTL           time.Duration
	IssueInterval time.Duration
	IssueBurst    int
	HMACSecret    string
}

// DefaultConfig returns the standard OTP parameters.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		TTL:           5 * time.Minute,
		IssueInterval: 30 * time.Second,
		IssueBurst:    2,
	}
}

// Handle is returned from Issue. Code is exposed once, for delivery to the
// customer; it is never stored or logged.
type Handle struct {
	SessionID string
	Code      string
	ExpiresAt time.Time
}

// limiterHighWater bounds the issuance limiter map: once reached, limiters
// idle long enough to have fully refilled are evicted on the next lookup.
const limiterHighWater = 1024

type sessionLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Manager issues and verifies passcodes against the shared kv store. The
// issuance limiter is in-process: each worker enforces the interval
// independently, while the record itself lives in the shared store.
type Manager struct {
	store kv.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*sessionLimiter
}

// NewManager builds a Manager over the given store.
func NewManager(store kv.Store, cfg Config) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		log:      zap.L().Named("otp"),
		now:      time.Now,
		limiters: make(map[string]*sessionLimiter),
	}
}

// WithNow overrides the clock, for tests.
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

func otpKey(sessionID string) string {
	return "otp:" + sessionID
}

func (m *Manager) limiter(sessionID string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.limiters) >= limiterHighWater {
		m.evictIdleLimiters(now)
	}

	sl, ok := m.limiters[sessionID]
	if !ok {
		sl = &sessionLimiter{lim: rate.NewLimiter(rate.Every(m.cfg.IssueInterval), m.cfg.IssueBurst)}
		m.limiters[sessionID] = sl
	}
	sl.lastSeen = now
	return sl.lim
}

// evictIdleLimiters drops limiters idle long enough to have refilled their
// full burst; a fresh limiter is indistinguishable from one at full burst.
// Caller holds mu.
func (m *Manager) evictIdleLimiters(now time.Time) {
	refill := time.Duration(m.cfg.IssueBurst) * m.cfg.IssueInterval
	for id, sl := range m.limiters {
		if now.Sub(sl.lastSeen) >= refill {
			delete(m.limiters, id)
		}
	}
}

// Issue generates a fresh 6-digit code for the session, replacing any prior
// record. At most one OTP is live per session.
func (m *Manager) Issue(ctx context.Context, sessionID string) (Handle, error) {
	if !m.limiter(sessionID).Allow() {
		return Handle{}, ErrIssueRateLimited
	}

	code, err := generateCode()
	if err != nil {
		return Handle{}, eris.Wrap(err, "otp: generate code")
	}

	now := m.now()
	rec := model.OtpRecord{
		SessionID:         sessionID,
		CodeHash:          m.hash(sessionID, code),
		IssuedAt:          now,
		ExpiresAt:         now.Add(m.cfg.TTL),
		AttemptsRemaining: m.cfg.MaxAttempts,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Handle{}, eris.Wrap(err, "otp: marshal record")
	}
	if _, err := m.store.Put(ctx, otpKey(sessionID), data, m.cfg.TTL); err != nil {
		return Handle{}, eris.Wrap(err, "otp: store record")
	}

	m.log.Info("otp issued",
		zap.String("session_id", sessionID),
		zap.Time("expires_at", rec.ExpiresAt))
	return Handle{SessionID: sessionID, Code: code, ExpiresAt: rec.ExpiresAt}, nil
}

// Verify checks a submitted code. Every call against a live record consumes
// an attempt, correct or not; a record with no attempts left is exhausted
// even when the code matches. Acceptance deletes the record.
func (m *Manager) Verify(ctx context.Context, sessionID, code string) (model.OtpVerifyResult, error) {
	key := otpKey(sessionID)

	entry, err := m.store.Get(ctx, key)
	if eris.Is(err, kv.ErrNotFound) {
		return model.OtpExpired, nil
	}
	if err != nil {
		return "", eris.Wrap(err, "otp: load record")
	}

	var rec model.OtpRecord
	if err := json.Unmarshal(entry.Data, &rec); err != nil {
		return "", eris.Wrap(err, "otp: unmarshal record")
	}

	now := m.now()
	if rec.Expired(now) {
		m.store.Delete(ctx, key) //nolint:errcheck
		return model.OtpExpired, nil
	}
	if rec.AttemptsRemaining <= 0 {
		return model.OtpExhausted, nil
	}

	rec.AttemptsRemaining--
	data, err := json.Marshal(rec)
	if err != nil {
		return "", eris.Wrap(err, "otp: marshal record")
	}
	ttl := rec.ExpiresAt.Sub(now)
	if _, err := m.store.PutIfMatch(ctx, key, data, entry.Version, ttl); err != nil {
		if eris.Is(err, kv.ErrVersionMismatch) || eris.Is(err, kv.ErrNotFound) {
			// A concurrent verify or re-issue won; treat as spent.
			return model.OtpMismatch, nil
		}
		return "", eris.Wrap(err, "otp: persist attempt")
	}

	if subtle.ConstantTimeCompare([]byte(rec.CodeHash), []byte(m.hash(sessionID, code))) != 1 {
		m.log.Info("otp mismatch",
			zap.String("session_id", sessionID),
			zap.Int("attempts_remaining", rec.AttemptsRemaining))
		return model.OtpMismatch, nil
	}

	if err := m.store.Delete(ctx, key); err != nil {
		return "", eris.Wrap(err, "otp: delete accepted record")
	}
	m.log.Info("otp accepted", zap.String("session_id", sessionID))
	return model.OtpAccepted, nil
}

func (m *Manager) hash(sessionID, code string) string {
	mac := hmac.New(sha256.New, []byte(m.cfg.HMACSecret))
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
