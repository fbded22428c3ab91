// internal/browser/cdp/session.go
package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/browser/bus"
	"github.com/xkilldash9x/reprise/internal/config"
)

// Session drives one Chrome target over CDP and implements the full
// schemas.LiveSession contract: snapshotting, remote queries, action
// dispatch and the action-event stream a recorder attaches to.
type Session struct {
	id     string
	logger *zap.Logger
	cfg    config.BrowserConfig
	bus    *bus.Bus

	// ctx carries the CDP target; allocCancel and cancel tear it down.
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	version string

	// mu guards the addressable-node snapshot.
	mu    sync.RWMutex
	nodes map[int]*schemas.NodeHandle

	closeOnce sync.Once
}

var _ schemas.LiveSession = (*Session)(nil)

// New launches a browser and connects a fresh session to it.
func New(parentCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	log := logger.Named("cdp").With(zap.String("session_id", sessionID))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          sessionID,
		logger:      log,
		cfg:         cfg,
		bus:         bus.New(log, 16),
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		nodes:       make(map[int]*schemas.NodeHandle),
	}

	// First Run starts the browser process and attaches the target.
	startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
	defer startCancel()
	if err := chromedp.Run(startCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, product, _, _, _, err := browser.GetVersion().Do(ctx)
			if err != nil {
				return err
			}
			s.version = product
			return nil
		}),
	); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	log.Info("Browser session started.", zap.String("engine_version", s.version))
	return s, nil
}

// run executes chromedp actions under the combined session + operation
// context, bounded by the configured action timeout.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, opCancel := CombineContext(s.ctx, ctx)
	defer opCancel()

	timeout := s.cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, runCancel := context.WithTimeout(opCtx, timeout)
	defer runCancel()

	return chromedp.Run(runCtx, actions...)
}

// wrapErr classifies an engine error: a dead session context means the whole
// run must abort, anything else is scoped to the failing call.
func (s *Session) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil {
		return &schemas.SessionError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Version reports the browser product string captured at startup.
func (s *Session) Version() string { return s.version }

// Subscribe delivers one event per executed action.
func (s *Session) Subscribe(kinds ...schemas.ActionKind) (<-chan schemas.ActionEvent, func()) {
	return s.bus.Subscribe(kinds...)
}

// Close tears the browser down. Cleanup failures are logged, never escalated.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		s.bus.Shutdown()

		// Teardown must survive a canceled operation context.
		closeCtx, closeCancel := context.WithTimeout(Detach(s.ctx), 10*time.Second)
		defer closeCancel()
		if err := chromedp.Cancel(closeCtx); err != nil {
			s.logger.Warn("Browser teardown reported an error (ignored).", zap.Error(err))
		}

		s.cancel()
		s.allocCancel()
	})
	return nil
}

// post publishes an action event; delivery problems never fail the action
// that already executed.
func (s *Session) post(ev schemas.ActionEvent) {
	postCtx, postCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer postCancel()
	if err := s.bus.Post(postCtx, ev); err != nil {
		s.logger.Debug("Failed to post action event.",
			zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}
