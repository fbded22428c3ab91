package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// flexibleSQL turns a statement into a whitespace-insensitive regex so the
// mock matches the real queries regardless of indentation.
func flexibleSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

type argMatcherFunc func(interface{}) bool

func (f argMatcherFunc) Match(v interface{}) bool { return f(v) }

var anyArg = argMatcherFunc(func(interface{}) bool { return true })

func newMockArchive(t *testing.T) (*PostgresArchive, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQL("CREATE TABLE IF NOT EXISTS sessions")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	archive, err := NewPostgresArchive(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return archive, mockPool
}

func TestNewPostgresArchive_PingFails(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = NewPostgresArchive(context.Background(), mockPool, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_SaveSession(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	session := &schemas.RecordedSession{
		SessionID:     "sess-pg",
		Task:          "archive me",
		InitialURL:    "https://example.com",
		RecordedAt:    time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		EngineVersion: "HeadlessChrome/127.0",
		Actions: []schemas.RecordedAction{
			{Type: schemas.ActionNavigate, StepNumber: 1, URL: "https://example.com"},
			{Type: schemas.ActionTypeText, StepNumber: 2, IsSensitive: true, Text: "hunter2",
				Element: &schemas.ElementFingerprint{ID: "pw"}},
		},
	}

	payloadIsRedacted := argMatcherFunc(func(v interface{}) bool {
		raw, ok := v.([]byte)
		if !ok {
			return false
		}
		return !strings.Contains(string(raw), "hunter2") &&
			strings.Contains(string(raw), schemas.RedactedText)
	})

	mockPool.ExpectExec(flexibleSQL("INSERT INTO sessions")).
		WithArgs("sess-pg", "archive me", "https://example.com",
			session.RecordedAt.UTC(), "HeadlessChrome/127.0", 2, payloadIsRedacted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, archive.SaveSession(context.Background(), session))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_SaveSessionRequiresID(t *testing.T) {
	archive, _ := newMockArchive(t)
	err := archive.SaveSession(context.Background(), &schemas.RecordedSession{})
	assert.Error(t, err)
}

func TestPostgresArchive_LoadSession(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	payload := []byte(`{"session_id":"sess-pg","task":"archive me","actions":[]}`)
	mockPool.ExpectQuery(flexibleSQL("SELECT payload FROM sessions WHERE session_id = $1")).
		WithArgs("sess-pg").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	session, err := archive.LoadSession(context.Background(), "sess-pg")
	require.NoError(t, err)
	assert.Equal(t, "sess-pg", session.SessionID)
	assert.Equal(t, "archive me", session.Task)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_LoadSessionNotFound(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	mockPool.ExpectQuery(flexibleSQL("SELECT payload FROM sessions WHERE session_id = $1")).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := archive.LoadSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_ListSessions(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	columns := []string{"session_id", "task", "initial_url", "recorded_at", "engine_version", "action_count"}
	mockPool.ExpectQuery(flexibleSQL("SELECT session_id, task, initial_url, recorded_at, engine_version, action_count")).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("sess-b", "newer", "https://b.example.com",
				time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC), "engine/2", 4).
			AddRow("sess-a", "older", "https://a.example.com",
				time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), "engine/1", 2))

	summaries, err := archive.ListSessions(context.Background())
	require.NoError(t, err)

	require.Len(t, summaries, 2)
	assert.Equal(t, "sess-b", summaries[0].SessionID)
	assert.Equal(t, "2026-08-02T09:00:00Z", summaries[0].RecordedAt)
	assert.Equal(t, 4, summaries[0].ActionCount)
	assert.Equal(t, "sess-a", summaries[1].SessionID)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_SaveRunWithFailedSteps(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	result := &schemas.ReplayResult{
		Success:          false,
		State:            schemas.RunCompleted,
		ActionsTotal:     5,
		ActionsSucceeded: 3,
		ActionsFailed:    2,
		FailedSteps:      []int{2, 4},
		Errors: []string{
			"Step 2 (click): no element matched the recorded fingerprint",
			"Step 4 (type): no element matched the recorded fingerprint",
		},
		DurationSeconds: 12.5,
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQL("INSERT INTO replay_runs")).
		WithArgs(anyArg, "sess-runs", anyArg, false, string(schemas.RunCompleted),
			5, 3, 2, 12.5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"replay_steps"},
		[]string{"run_id", "step_number", "error"}).
		WillReturnResult(2)
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, archive.SaveRun(context.Background(), "sess-runs", result))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_SaveRunWithoutFailures(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	result := &schemas.ReplayResult{
		Success: true, State: schemas.RunCompleted,
		ActionsTotal: 3, ActionsSucceeded: 3,
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQL("INSERT INTO replay_runs")).
		WithArgs(anyArg, "sess-ok", anyArg, true, string(schemas.RunCompleted),
			3, 3, 0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()
	mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

	require.NoError(t, archive.SaveRun(context.Background(), "sess-ok", result))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresArchive_SaveRunRollsBackOnCopyFailure(t *testing.T) {
	archive, mockPool := newMockArchive(t)

	copyErr := errors.New("copy from failed")
	result := &schemas.ReplayResult{
		FailedSteps: []int{1},
		Errors:      []string{"Step 1 (click): boom"},
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQL("INSERT INTO replay_runs")).
		WithArgs(anyArg, "sess-bad", anyArg, false, "", 0, 0, 0, 0.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCopyFrom(pgx.Identifier{"replay_steps"},
		[]string{"run_id", "step_number", "error"}).
		WillReturnError(copyErr)
	mockPool.ExpectRollback()

	err := archive.SaveRun(context.Background(), "sess-bad", result)
	require.Error(t, err)
	assert.ErrorIs(t, err, copyErr)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
