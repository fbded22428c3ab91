package record_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/record"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestTailSource_FollowsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "actions.jsonl")
	appendLine(t, logPath, `{"kind":"navigate","url":"https://old.example.com"}`)

	logger := zaptest.NewLogger(t)
	source, err := record.NewTailSource(logPath, false, logger)
	require.NoError(t, err)
	defer source.Stop()

	recorder := record.New("tailed", "https://example.com", logger)
	require.NoError(t, recorder.Attach(source))

	// Appended after attach: must be seen even with from-start disabled.
	appendLine(t, logPath, `{"kind":"navigate","url":"https://example.com"}`)
	appendLine(t, logPath, `this line is not json`)
	appendLine(t, logPath, `{"kind":"unknown_kind"}`)
	appendLine(t, logPath, `{"kind":"send_keys","keys":"Enter"}`)

	require.Eventually(t, func() bool {
		return recorder.ActionCount() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	session, _, err := recorder.Detach()
	require.NoError(t, err)

	require.Len(t, session.Actions, 2, "junk lines and unknown kinds are skipped")
	assert.Equal(t, schemas.ActionNavigate, session.Actions[0].Type)
	assert.Equal(t, "https://example.com", session.Actions[0].URL)
	assert.Equal(t, schemas.ActionSendKeys, session.Actions[1].Type)
	assert.Equal(t, "Enter", session.Actions[1].Keys)
	assert.Equal(t, "external-log", session.EngineVersion)
}

func TestTailSource_FromStartReplaysExistingLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "actions.jsonl")
	appendLine(t, logPath, `{"kind":"navigate","url":"https://example.com"}`)
	appendLine(t, logPath, `{"kind":"go_back"}`)

	logger := zaptest.NewLogger(t)
	source, err := record.NewTailSource(logPath, true, logger)
	require.NoError(t, err)
	defer source.Stop()

	recorder := record.New("", "", logger)
	require.NoError(t, recorder.Attach(source))

	require.Eventually(t, func() bool {
		return recorder.ActionCount() >= 2
	}, 5*time.Second, 50*time.Millisecond)

	session, _, err := recorder.Detach()
	require.NoError(t, err)

	require.Len(t, session.Actions, 2)
	assert.Equal(t, schemas.ActionNavigate, session.Actions[0].Type)
	assert.Equal(t, schemas.ActionGoBack, session.Actions[1].Type)
}

func TestTailSource_StopClosesSubscribers(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "actions.jsonl")

	source, err := record.NewTailSource(logPath, false, zaptest.NewLogger(t))
	require.NoError(t, err)

	ch, unsub := source.Subscribe(schemas.ActionNavigate)
	defer unsub()

	require.NoError(t, source.Stop())

	_, open := <-ch
	assert.False(t, open, "subscriber channels close on Stop")
}
