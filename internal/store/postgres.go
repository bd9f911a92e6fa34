package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/clearpath-id/kyc-engine/internal/db"
	"github.com/clearpath-id/kyc-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	current_stage  TEXT NOT NULL,
	outcome        TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	data           JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_results (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	verdicts     JSONB,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	completed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attestations (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	decision     TEXT NOT NULL,
	field_digest TEXT NOT NULL,
	risk_digest  TEXT NOT NULL,
	proof        TEXT NOT NULL,
	proof_scheme TEXT NOT NULL DEFAULT '',
	ledger_ref   TEXT NOT NULL,
	supersedes   TEXT NOT NULL DEFAULT '',
	committed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_stage ON sessions(current_stage);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_stage_results_session_id ON stage_results(session_id);
CREATE INDEX IF NOT EXISTS idx_attestations_session_id ON attestations(session_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, sess *model.VerificationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, current_stage, outcome, failure_reason, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   current_stage = EXCLUDED.current_stage,
		   outcome = EXCLUDED.outcome,
		   failure_reason = EXCLUDED.failure_reason,
		   data = EXCLUDED.data,
		   updated_at = EXCLUDED.updated_at`,
		sess.ID, string(sess.CurrentStage), string(sess.Outcome), sess.FailureReason,
		data, sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save session %s", sess.ID)
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.VerificationSession, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM sessions WHERE id = $1`, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}

	var sess model.VerificationSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal session")
	}
	return &sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.VerificationSession, error) {
	query := `SELECT data FROM sessions WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		query += fmt.Sprintf(` AND current_stage = $%d`, len(args))
	}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		query += fmt.Sprintf(` AND outcome = $%d`, len(args))
	}
	if filter.ActiveOnly {
		args = append(args, terminalStages)
		query += fmt.Sprintf(` AND current_stage != ALL($%d)`, len(args))
	}
	if !filter.IdleBefore.IsZero() {
		args = append(args, filter.IdleBefore.UTC())
		query += fmt.Sprintf(` AND updated_at < $%d`, len(args))
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var sessions []model.VerificationSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		var sess model.VerificationSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) SaveStageResult(ctx context.Context, sessionID string, res model.StageResult) error {
	verdictsJSON, err := json.Marshal(res.Verdicts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal verdicts")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO stage_results (id, session_id, stage, status, detail, verdicts, duration_ms, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), sessionID, string(res.Stage), string(res.Status),
		res.Detail, verdictsJSON, res.DurationMS, res.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save stage result for %s", sessionID)
}

func (s *PostgresStore) SaveAttestation(ctx context.Context, a *model.Attestation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attestations (id, session_id, decision, field_digest, risk_digest, proof, proof_scheme, ledger_ref, supersedes, committed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.SessionID, string(a.Decision), a.FieldDigest, a.RiskDigest,
		a.Proof, a.ProofScheme, a.LedgerRef, a.Supersedes, a.CommittedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save attestation %s", a.ID)
}

func (s *PostgresStore) GetAttestationBySession(ctx context.Context, sessionID string) (*model.Attestation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, session_id, decision, field_digest, risk_digest, proof, proof_scheme, ledger_ref, supersedes, committed_at
		 FROM attestations WHERE session_id = $1
		 ORDER BY committed_at DESC LIMIT 1`,
		sessionID,
	)

	var a model.Attestation
	var decision string
	err := row.Scan(&a.ID, &a.SessionID, &decision, &a.FieldDigest, &a.RiskDigest,
		&a.Proof, &a.ProofScheme, &a.LedgerRef, &a.Supersedes, &a.CommittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get attestation for %s", sessionID)
	}
	a.Decision = model.Outcome(decision)
	return &a, nil
}
