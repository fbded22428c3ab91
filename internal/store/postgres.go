package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// pgPool abstracts pgxpool.Pool so the archive is testable against a mock.
type pgPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresArchive implements the shared-history Archive on Postgres.
// Sessions are stored whole as JSONB; replay runs and their failed steps get
// relational rows so history is queryable without unpacking payloads.
type PostgresArchive struct {
	pool   pgPool
	logger *zap.Logger
}

var _ schemas.Archive = (*PostgresArchive)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id     TEXT PRIMARY KEY,
    task           TEXT NOT NULL DEFAULT '',
    initial_url    TEXT NOT NULL DEFAULT '',
    recorded_at    TIMESTAMPTZ NOT NULL,
    engine_version TEXT NOT NULL DEFAULT '',
    action_count   INTEGER NOT NULL DEFAULT 0,
    payload        JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS replay_runs (
    run_id            UUID PRIMARY KEY,
    session_id        TEXT NOT NULL REFERENCES sessions(session_id),
    replayed_at       TIMESTAMPTZ NOT NULL,
    success           BOOLEAN NOT NULL,
    state             TEXT NOT NULL,
    actions_total     INTEGER NOT NULL,
    actions_succeeded INTEGER NOT NULL,
    actions_failed    INTEGER NOT NULL,
    duration_seconds  DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS replay_steps (
    run_id      UUID NOT NULL REFERENCES replay_runs(run_id),
    step_number INTEGER NOT NULL,
    error       TEXT NOT NULL DEFAULT ''
);
`

// Connect opens a pool against the DSN, verifies connectivity and ensures the
// schema exists.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresArchive, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	archive, err := NewPostgresArchive(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return archive, nil
}

// NewPostgresArchive wraps an existing pool, pings it and applies the schema.
func NewPostgresArchive(ctx context.Context, pool pgPool, logger *zap.Logger) (*PostgresArchive, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresArchive{
		pool:   pool,
		logger: logger.Named("pg_archive"),
	}, nil
}

// SaveSession upserts the session row, payload included.
func (a *PostgresArchive) SaveSession(ctx context.Context, session *schemas.RecordedSession) error {
	if session.SessionID == "" {
		return fmt.Errorf("cannot save a session without an id")
	}

	payload, err := json.Marshal(redacted(session))
	if err != nil {
		return fmt.Errorf("failed to encode session payload: %w", err)
	}

	const sql = `
        INSERT INTO sessions (session_id, task, initial_url, recorded_at, engine_version, action_count, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (session_id) DO UPDATE SET
            task           = EXCLUDED.task,
            initial_url    = EXCLUDED.initial_url,
            recorded_at    = EXCLUDED.recorded_at,
            engine_version = EXCLUDED.engine_version,
            action_count   = EXCLUDED.action_count,
            payload        = EXCLUDED.payload;
    `
	_, err = a.pool.Exec(ctx, sql,
		session.SessionID, session.Task, session.InitialURL,
		session.RecordedAt.UTC(), session.EngineVersion,
		len(session.Actions), payload)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", session.SessionID, err)
	}

	a.logger.Info("Session archived.",
		zap.String("session_id", session.SessionID),
		zap.Int("actions", len(session.Actions)))
	return nil
}

// LoadSession retrieves a session payload by id.
func (a *PostgresArchive) LoadSession(ctx context.Context, sessionID string) (*schemas.RecordedSession, error) {
	const sql = `SELECT payload FROM sessions WHERE session_id = $1;`

	var payload []byte
	err := a.pool.QueryRow(ctx, sql, sessionID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}

	var session schemas.RecordedSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session payload: %w", err)
	}
	return &session, nil
}

// ListSessions reads summaries straight from the relational columns.
func (a *PostgresArchive) ListSessions(ctx context.Context) ([]schemas.SessionSummary, error) {
	const sql = `
        SELECT session_id, task, initial_url, recorded_at, engine_version, action_count
        FROM sessions
        ORDER BY recorded_at DESC;
    `
	rows, err := a.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []schemas.SessionSummary
	for rows.Next() {
		var summary schemas.SessionSummary
		var recordedAt time.Time
		if err := rows.Scan(&summary.SessionID, &summary.Task, &summary.InitialURL,
			&recordedAt, &summary.EngineVersion, &summary.ActionCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		summary.RecordedAt = recordedAt.UTC().Format("2006-01-02T15:04:05Z")
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return summaries, nil
}

// SaveRun records one replay outcome and its failed steps in a transaction.
func (a *PostgresArchive) SaveRun(ctx context.Context, sessionID string, result *schemas.ReplayResult) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			a.logger.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	runID := uuid.New()
	const sql = `
        INSERT INTO replay_runs (run_id, session_id, replayed_at, success, state,
                                 actions_total, actions_succeeded, actions_failed, duration_seconds)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	_, err = tx.Exec(ctx, sql,
		runID, sessionID, time.Now().UTC(), result.Success, string(result.State),
		result.ActionsTotal, result.ActionsSucceeded, result.ActionsFailed,
		result.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(result.FailedSteps) > 0 {
		rows := make([][]interface{}, len(result.FailedSteps))
		for i, step := range result.FailedSteps {
			message := ""
			if i < len(result.Errors) {
				message = result.Errors[i]
			}
			rows[i] = []interface{}{runID, step, message}
		}

		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"replay_steps"},
			[]string{"run_id", "step_number", "error"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy failed steps: %w", err)
		}
		if int(copied) != len(result.FailedSteps) {
			return fmt.Errorf("mismatch in copied step count: expected %d, got %d",
				len(result.FailedSteps), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the pool.
func (a *PostgresArchive) Close() {
	a.pool.Close()
}
