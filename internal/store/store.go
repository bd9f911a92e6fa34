// Package store is the durable archive for completed sessions, stage
// results, and attestations. The kv store holds live working state; this
// package holds the system of record.
package store

import (
	"context"
	"time"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// SessionFilter specifies criteria for listing archived sessions.
type SessionFilter struct {
	Stage      model.Stage   `json:"stage,omitempty"`
	Outcome    model.Outcome `json:"outcome,omitempty"`
	ActiveOnly bool          `json:"active_only,omitempty"`
	IdleBefore time.Time     `json:"idle_before,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// Store defines the persistence interface for the verification pipeline.
// Get methods return (nil, nil) when no row matches.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, s *model.VerificationSession) error
	GetSession(ctx context.Context, id string) (*model.VerificationSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.VerificationSession, error)

	// Stage results
	SaveStageResult(ctx context.Context, sessionID string, res model.StageResult) error

	// Attestations
	SaveAttestation(ctx context.Context, a *model.Attestation) error
	GetAttestationBySession(ctx context.Context, sessionID string) (*model.Attestation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
