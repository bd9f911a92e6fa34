// Package session owns the verification session lifecycle. All stage
// progress flows through Machine.Advance, which serializes concurrent
// writers with a conditional write on the session's version token.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/kv"
	"github.com/clearpath-id/kyc-engine/internal/model"
)

var (
	// ErrNotFound is returned for unknown or expired session IDs.
	ErrNotFound = eris.New("session: not found")

	// ErrStaleTransition is returned when the session moved under the
	// caller: the expected stage no longer matches or another writer won
	// the conditional write. The caller must re-read, never retry blindly.
	ErrStaleTransition = eris.New("session: stale transition")

	// ErrInvalidTransition is returned when the requested stage change is
	// not an edge in the lifecycle graph.
	ErrInvalidTransition = eris.New("session: invalid transition")
)

// transitions is the lifecycle graph. Keys are source stages, values the
// stages reachable from them. Terminal stages have no outgoing edges.
var transitions = map[model.Stage][]model.Stage{
	model.StageCreated:      {model.StagePersonalInfo, model.StageRejected},
	model.StagePersonalInfo: {model.StageDocument, model.StageRejected, model.StageManualReview},
	model.StageDocument:     {model.StageContact, model.StageRejected, model.StageManualReview},
	model.StageContact:      {model.StageFace, model.StageRejected, model.StageManualReview},
	model.StageFace:         {model.StageApproved, model.StageRejected, model.StageManualReview},
}

// CanTransition reports whether from → to is a valid lifecycle edge. Staying
// in place is allowed so a handler can record progress without advancing.
func CanTransition(from, to model.Stage) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Archiver receives terminal sessions for durable storage. The kv record is
// the working copy; the archive is the system of record once a session ends.
type Archiver interface {
	SaveSession(ctx context.Context, s *model.VerificationSession) error
}

// Config controls session retention.
type Config struct {
	AbandonAfter  time.Duration
	SweepInterval time.Duration
	TerminalGrace time.Duration
}

// DefaultConfig returns the standard retention parameters.
func DefaultConfig() Config {
	return Config{
		AbandonAfter:  24 * time.Hour,
		SweepInterval: 10 * time.Minute,
		TerminalGrace: time.Hour,
	}
}

// Machine is the session state machine.
type Machine struct {
	store   kv.Store
	archive Archiver
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
}

// NewMachine builds a Machine. archive may be nil, in which case terminal
// sessions live only until their kv grace TTL lapses.
func NewMachine(store kv.Store, archive Archiver, cfg Config) *Machine {
	if cfg.TerminalGrace <= 0 {
		cfg = DefaultConfig()
	}
	return &Machine{
		store:   store,
		archive: archive,
		cfg:     cfg,
		log:     zap.L().Named("session"),
		now:     time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (m *Machine) WithNow(now func() time.Time) *Machine {
	m.now = now
	return m
}

func sessionKey(id string) string {
	return "session:" + id
}

// Create stores a fresh session at the created stage.
func (m *Machine) Create(ctx context.Context) (*model.VerificationSession, error) {
	now := m.now()
	s := &model.VerificationSession{
		ID:           uuid.NewString(),
		CurrentStage: model.StageCreated,
		StageResults: make(map[model.Stage]model.StageResult),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "session: marshal")
	}
	if _, err := m.store.PutIfMatch(ctx, sessionKey(s.ID), data, 0, 0); err != nil {
		return nil, eris.Wrap(err, "session: store new session")
	}

	m.log.Info("session created", zap.String("session_id", s.ID))
	return s, nil
}

// Get loads a session by ID.
func (m *Machine) Get(ctx context.Context, id string) (*model.VerificationSession, error) {
	s, _, err := m.load(ctx, id)
	return s, err
}

func (m *Machine) load(ctx context.Context, id string) (*model.VerificationSession, int64, error) {
	entry, err := m.store.Get(ctx, sessionKey(id))
	if eris.Is(err, kv.ErrNotFound) {
		return nil, 0, eris.Wrapf(ErrNotFound, "id %s", id)
	}
	if err != nil {
		return nil, 0, eris.Wrap(err, "session: load")
	}

	var s model.VerificationSession
	if err := json.Unmarshal(entry.Data, &s); err != nil {
		return nil, 0, eris.Wrap(err, "session: unmarshal")
	}
	return &s, entry.Version, nil
}

// Advance applies mutate to the session and writes it back conditionally.
// The caller states the stage it believes the session is at; a mismatch, or
// losing the conditional write to a concurrent writer, yields
// ErrStaleTransition. mutate may move CurrentStage along a lifecycle edge or
// leave it in place.
func (m *Machine) Advance(ctx context.Context, id string, from model.Stage, mutate func(*model.VerificationSession) error) (*model.VerificationSession, error) {
	s, version, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.CurrentStage != from {
		return nil, eris.Wrapf(ErrStaleTransition, "expected stage %s, found %s", from, s.CurrentStage)
	}

	if err := mutate(s); err != nil {
		return nil, err
	}
	if !CanTransition(from, s.CurrentStage) {
		return nil, eris.Wrapf(ErrInvalidTransition, "%s to %s", from, s.CurrentStage)
	}
	s.UpdatedAt = m.now()

	var ttl time.Duration
	if s.Done() {
		ttl = m.cfg.TerminalGrace
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "session: marshal")
	}
	if _, err := m.store.PutIfMatch(ctx, sessionKey(id), data, version, ttl); err != nil {
		if eris.Is(err, kv.ErrVersionMismatch) || eris.Is(err, kv.ErrNotFound) {
			return nil, eris.Wrap(ErrStaleTransition, "lost conditional write")
		}
		return nil, eris.Wrap(err, "session: store")
	}

	if s.Done() {
		m.archiveTerminal(ctx, s)
	}

	m.log.Info("session advanced",
		zap.String("session_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(s.CurrentStage)))
	return s, nil
}

// Abandon terminal-marks an idle session as rejected. Terminal sessions are
// left untouched.
func (m *Machine) Abandon(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.Done() {
		return nil
	}

	_, err = m.Advance(ctx, id, s.CurrentStage, func(s *model.VerificationSession) error {
		s.CurrentStage = model.StageRejected
		s.Outcome = model.OutcomeRejected
		s.FailureReason = "abandoned"
		return nil
	})
	return err
}

func (m *Machine) archiveTerminal(ctx context.Context, s *model.VerificationSession) {
	if m.archive == nil {
		return
	}
	if err := m.archive.SaveSession(ctx, s); err != nil {
		// The kv record still holds the session for the grace window.
		m.log.Error("terminal session archive failed",
			zap.String("session_id", s.ID),
			zap.Error(err))
	}
}
