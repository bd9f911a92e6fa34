package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	current_stage  TEXT NOT NULL,
	outcome        TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	data           TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_results (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	stage        TEXT NOT NULL,
	status       TEXT NOT NULL,
	detail       TEXT NOT NULL DEFAULT '',
	verdicts     TEXT,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	completed_at DATETIME NOT NULL
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
	committed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_stage ON sessions(current_stage);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
CREATE INDEX IF NOT EXISTS idx_stage_results_session_id ON stage_results(session_id);
CREATE INDEX IF NOT EXISTS idx_attestations_session_id ON attestations(session_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var terminalStages = []string{
	string(model.StageApproved),
	string(model.StageRejected),
	string(model.StageManualReview),
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.VerificationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, current_stage, outcome, failure_reason, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   current_stage = excluded.current_stage,
		   outcome = excluded.outcome,
		   failure_reason = excluded.failure_reason,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		sess.ID, string(sess.CurrentStage), string(sess.Outcome), sess.FailureReason,
		string(data), sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save session %s", sess.ID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.VerificationSession, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ?`, id,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}

	var sess model.VerificationSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal session")
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.VerificationSession, error) {
	query := `SELECT data FROM sessions WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND current_stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	if filter.ActiveOnly {
		query += ` AND current_stage NOT IN (?, ?, ?)`
		for _, t := range terminalStages {
			args = append(args, t)
		}
	}
	if !filter.IdleBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, filter.IdleBefore.UTC())
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var sessions []model.VerificationSession
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		var sess model.VerificationSession
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal session")
		}
		sessions = append(sessions, sess)
	}
	return sessions, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) SaveStageResult(ctx context.Context, sessionID string, res model.StageResult) error {
	verdictsJSON, err := json.Marshal(res.Verdicts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal verdicts")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stage_results (id, session_id, stage, status, detail, verdicts, duration_ms, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), sessionID, string(res.Stage), string(res.Status),
		res.Detail, string(verdictsJSON), res.DurationMS, res.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save stage result for %s", sessionID)
}

func (s *SQLiteStore) SaveAttestation(ctx context.Context, a *model.Attestation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attestations (id, session_id, decision, field_digest, risk_digest, proof, proof_scheme, ledger_ref, supersedes, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, string(a.Decision), a.FieldDigest, a.RiskDigest,
		a.Proof, a.ProofScheme, a.LedgerRef, a.Supersedes, a.CommittedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save attestation %s", a.ID)
}

func (s *SQLiteStore) GetAttestationBySession(ctx context.Context, sessionID string) (*model.Attestation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, decision, field_digest, risk_digest, proof, proof_scheme, ledger_ref, supersedes, committed_at
		 FROM attestations WHERE session_id = ?
		 ORDER BY committed_at DESC LIMIT 1`,
		sessionID,
	)

	var a model.Attestation
	var decision string
	var committedAt time.Time
	err := row.Scan(&a.ID, &a.SessionID, &decision, &a.FieldDigest, &a.RiskDigest,
		&a.Proof, &a.ProofScheme, &a.LedgerRef, &a.Supersedes, &committedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get attestation for %s", sessionID)
	}
	a.Decision = model.Outcome(decision)
	a.CommittedAt = committedAt
	return &a, nil
}
