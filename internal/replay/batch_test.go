package replay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/config"
	"github.com/xkilldash9x/reprise/internal/replay"
)

func batchSession(id string) *schemas.RecordedSession {
	return &schemas.RecordedSession{
		SessionID: id,
		Actions: []schemas.RecordedAction{
			{Type: schemas.ActionNavigate, StepNumber: 1, URL: "https://example.com/" + id},
		},
	}
}

func fastBatchConfig() config.BatchConfig {
	return config.BatchConfig{Concurrency: 4, LaunchesPerSecond: 1000}
}

func TestBatchRun_AllSessionsSucceed(t *testing.T) {
	logger := zaptest.NewLogger(t)
	replayer := replay.NewReplayer(config.ReplayConfig{}, logger)

	var mu sync.Mutex
	launched := 0
	launch := func(ctx context.Context) (schemas.LiveSession, error) {
		mu.Lock()
		launched++
		mu.Unlock()
		return &fakeSession{}, nil
	}

	batch := replay.NewBatch(fastBatchConfig(), replayer, launch, logger)
	sessions := []*schemas.RecordedSession{
		batchSession("s1"), batchSession("s2"), batchSession("s3"),
	}

	results, err := batch.Run(context.Background(), sessions, replay.Options{})
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, result := range results {
		assert.Equal(t, sessions[i].SessionID, result.SessionID, "results keep input order")
		require.NoError(t, result.Err)
		require.NotNil(t, result.Result)
		assert.True(t, result.Result.Success)
	}
	assert.Equal(t, 3, launched, "every session gets its own browser")
}

func TestBatchRun_LaunchFailureDoesNotAbortBatch(t *testing.T) {
	logger := zaptest.NewLogger(t)
	replayer := replay.NewReplayer(config.ReplayConfig{}, logger)

	launchErr := errors.New("no chrome binary")
	var mu sync.Mutex
	calls := 0
	launch := func(ctx context.Context) (schemas.LiveSession, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, launchErr
		}
		return &fakeSession{}, nil
	}

	batch := replay.NewBatch(config.BatchConfig{Concurrency: 1, LaunchesPerSecond: 1000},
		replayer, launch, logger)
	sessions := []*schemas.RecordedSession{batchSession("s1"), batchSession("s2")}

	results, err := batch.Run(context.Background(), sessions, replay.Options{})
	require.NoError(t, err, "per-session failures never fail the batch")

	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, launchErr)
	assert.Nil(t, results[0].Result)
	require.NoError(t, results[1].Err)
	assert.True(t, results[1].Result.Success)
}

func TestBatchRun_DeadSessionReportedPerEntry(t *testing.T) {
	logger := zaptest.NewLogger(t)
	replayer := replay.NewReplayer(config.ReplayConfig{}, logger)

	launch := func(ctx context.Context) (schemas.LiveSession, error) {
		s := &fakeSession{}
		s.clickFn = func(node *schemas.NodeHandle) error {
			return &schemas.SessionError{Op: "click", Err: fmt.Errorf("target crashed")}
		}
		s.nodeByIDFn = func(id string) *schemas.NodeHandle {
			return &schemas.NodeHandle{BackendID: 1, Tag: "button"}
		}
		return s, nil
	}

	session := &schemas.RecordedSession{
		SessionID: "s-dead",
		Actions: []schemas.RecordedAction{
			{Type: schemas.ActionClick, StepNumber: 1,
				Element: &schemas.ElementFingerprint{ID: "go", TagName: "button"}},
		},
	}

	batch := replay.NewBatch(fastBatchConfig(), replayer, launch, logger)
	results, err := batch.Run(context.Background(), []*schemas.RecordedSession{session}, replay.Options{})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
	require.NotNil(t, results[0].Result, "partial accounting survives the abort")
	assert.Equal(t, schemas.RunStoppedEarly, results[0].Result.State)
}

func TestBatchRun_CanceledContextAborts(t *testing.T) {
	logger := zaptest.NewLogger(t)
	replayer := replay.NewReplayer(config.ReplayConfig{}, logger)

	launch := func(ctx context.Context) (schemas.LiveSession, error) {
		return &fakeSession{}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := replay.NewBatch(fastBatchConfig(), replayer, launch, logger)
	_, err := batch.Run(ctx, []*schemas.RecordedSession{batchSession("s1")}, replay.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}
