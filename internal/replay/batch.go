package replay

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/config"
)

// Launcher opens a fresh live session for one replay. Batch runs never share
// a browser between sessions.
type Launcher func(ctx context.Context) (schemas.LiveSession, error)

// BatchResult pairs one recorded session with its replay outcome. Err is set
// when the session could not be launched or its engine died mid-run.
type BatchResult struct {
	SessionID string
	Result    *schemas.ReplayResult
	Err       error
}

// Batch replays several recorded sessions concurrently, each against its own
// freshly launched browser, pacing launches so a large batch does not stampede
// the host.
type Batch struct {
	cfg      config.BatchConfig
	replayer *Replayer
	launch   Launcher
	logger   *zap.Logger
}

func NewBatch(cfg config.BatchConfig, replayer *Replayer, launch Launcher, logger *zap.Logger) *Batch {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.LaunchesPerSecond <= 0 {
		cfg.LaunchesPerSecond = 1.0
	}
	return &Batch{
		cfg:      cfg,
		replayer: replayer,
		launch:   launch,
		logger:   logger.Named("batch"),
	}
}

// Run replays every session and returns results in input order. A failed
// session produces a BatchResult with Err set; remaining sessions still run.
// Only context cancellation aborts the whole batch.
func (b *Batch) Run(ctx context.Context, sessions []*schemas.RecordedSession, opts Options) ([]BatchResult, error) {
	results := make([]BatchResult, len(sessions))
	limiter := rate.NewLimiter(rate.Limit(b.cfg.LaunchesPerSecond), 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	b.logger.Info("Batch replay starting.",
		zap.Int("sessions", len(sessions)),
		zap.Int("concurrency", b.cfg.Concurrency))

	for i, session := range sessions {
		g.Go(func() error {
			results[i] = b.runOne(gctx, limiter, session, opts)
			// Per-session failures are reported, not propagated; only a dead
			// context stops the batch.
			return gctx.Err()
		})
	}

	err := g.Wait()
	b.logger.Info("Batch replay finished.", zap.Int("sessions", len(sessions)))
	return results, err
}

func (b *Batch) runOne(ctx context.Context, limiter *rate.Limiter, session *schemas.RecordedSession, opts Options) BatchResult {
	out := BatchResult{SessionID: session.SessionID}

	if err := limiter.Wait(ctx); err != nil {
		out.Err = err
		return out
	}

	live, err := b.launch(ctx)
	if err != nil {
		out.Err = fmt.Errorf("failed to launch session: %w", err)
		return out
	}
	defer func() {
		if err := live.Close(ctx); err != nil {
			b.logger.Warn("Session cleanup failed.",
				zap.String("session_id", session.SessionID), zap.Error(err))
		}
	}()

	out.Result, out.Err = b.replayer.Replay(ctx, live, session, opts)
	return out
}
