package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/config"
)

// Options carries per-run replay inputs.
type Options struct {
	// Sensitive maps field identifiers to the real values substituted for
	// redacted inputs. Lookup order per action: element name, element id,
	// then the "password" and "secret" fallbacks.
	Sensitive map[string]string

	// StopOnFailure aborts the run at the first failed action instead of
	// continuing to collect failures.
	StopOnFailure bool

	// OnStepStart, when set, is invoked before each action is dispatched.
	OnStepStart func(step int, action *schemas.RecordedAction)

	// OnStepComplete, when set, is invoked after each action with its
	// outcome. err is nil on success.
	OnStepComplete func(step int, success bool, err error)
}

// Replayer executes recorded sessions against a live session, retrying
// element resolution with exponential backoff before declaring a step lost.
type Replayer struct {
	cfg    config.ReplayConfig
	logger *zap.Logger

	// sleep is swappable so retry timing is testable.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewReplayer builds a replayer. Zero-valued retry settings fall back to the
// documented defaults.
func NewReplayer(cfg config.ReplayConfig, logger *zap.Logger) *Replayer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Second
	}
	if cfg.BackoffMultiplier < 1.0 {
		cfg.BackoffMultiplier = 1.5
	}
	return &Replayer{
		cfg:    cfg,
		logger: logger.Named("replayer"),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Replay runs every action of the recorded session against live. The result
// always accounts for every recorded action, even when the run stops early.
// A non-nil error means the session itself failed and the run is unfinished;
// per-action failures live in the result, not the error.
func (r *Replayer) Replay(ctx context.Context, live schemas.LiveSession, session *schemas.RecordedSession, opts Options) (*schemas.ReplayResult, error) {
	start := time.Now()
	result := &schemas.ReplayResult{
		State:        schemas.RunRunning,
		ActionsTotal: len(session.Actions),
	}
	finish := func(state schemas.RunState) *schemas.ReplayResult {
		result.State = state
		result.Success = state == schemas.RunCompleted && result.ActionsFailed == 0
		result.DurationSeconds = time.Since(start).Seconds()
		return result
	}

	log := r.logger.With(zap.String("session_id", session.SessionID))
	log.Info("Replay started.",
		zap.Int("actions", len(session.Actions)),
		zap.String("task", session.Task))

	// Sessions recorded mid-page (log followers, detached recorders) start
	// with the page the recording started on.
	if session.InitialURL != "" && !startsWithNavigate(session) {
		if err := live.Navigate(ctx, session.InitialURL, false); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("initial navigation to %s: %v", session.InitialURL, err))
			return finish(schemas.RunStoppedEarly), fmt.Errorf("initial navigation failed: %w", err)
		}
	}

	matcher := NewMatcher(live, log)
	stopOnFailure := opts.StopOnFailure || r.cfg.StopOnFailure

	for i, action := range session.Actions {
		if err := ctx.Err(); err != nil {
			return finish(schemas.RunStoppedEarly), err
		}

		step := action.StepNumber
		if step <= 0 {
			step = i + 1
		}

		if opts.OnStepStart != nil {
			opts.OnStepStart(step, &action)
		}

		err := r.execute(ctx, live, matcher, &action, opts)
		if opts.OnStepComplete != nil {
			opts.OnStepComplete(step, err == nil, err)
		}
		if err == nil {
			result.ActionsSucceeded++
			continue
		}

		result.ActionsFailed++
		result.FailedSteps = append(result.FailedSteps, step)
		result.Errors = append(result.Errors,
			fmt.Sprintf("Step %d (%s): %v", step, action.Type, err))
		log.Warn("Replay step failed.",
			zap.Int("step", step),
			zap.String("type", string(action.Type)),
			zap.Error(err))

		if schemas.IsSessionError(err) {
			return finish(schemas.RunStoppedEarly), fmt.Errorf("session failed at step %d: %w", step, err)
		}
		if stopOnFailure {
			log.Info("Stopping on first failure.")
			return finish(schemas.RunStoppedEarly), nil
		}
	}

	final := finish(schemas.RunCompleted)
	log.Info("Replay finished.",
		zap.Bool("success", final.Success),
		zap.Int("succeeded", final.ActionsSucceeded),
		zap.Int("failed", final.ActionsFailed))
	return final, nil
}

// execute dispatches one recorded action, resolving its target first when the
// kind needs one.
func (r *Replayer) execute(ctx context.Context, live schemas.LiveSession, matcher *Matcher, action *schemas.RecordedAction, opts Options) error {
	switch action.Type {
	case schemas.ActionNavigate:
		return live.Navigate(ctx, action.URL, action.NewTab)

	case schemas.ActionClick:
		node, err := r.resolve(ctx, live, matcher, action)
		if err != nil {
			return err
		}
		return live.Click(ctx, node)

	case schemas.ActionTypeText:
		node, err := r.resolve(ctx, live, matcher, action)
		if err != nil {
			return err
		}
		text := action.Text
		if action.IsSensitive {
			text, err = substituteSensitive(action, opts.Sensitive)
			if err != nil {
				return err
			}
		}
		return live.TypeText(ctx, node, text, action.ClearBeforeType)

	case schemas.ActionScroll:
		direction := action.Direction
		if direction == "" {
			direction = "down"
		}
		amount := action.ScrollAmount
		if amount <= 0 {
			amount = 300
		}
		var node *schemas.NodeHandle
		if !action.Element.IsEmpty() {
			var err error
			node, err = r.resolve(ctx, live, matcher, action)
			if err != nil {
				if schemas.IsSessionError(err) {
					return err
				}
				// The anchor is gone; a viewport scroll is the right degraded
				// behavior, not a failure.
				r.logger.Debug("Scroll target not re-identified, scrolling viewport.",
					zap.Error(err))
				node = nil
			}
		}
		return live.Scroll(ctx, node, direction, amount)

	case schemas.ActionSendKeys:
		return live.SendKeys(ctx, action.Keys)

	case schemas.ActionGoBack:
		return live.GoBack(ctx)

	case schemas.ActionGoForward:
		return live.GoForward(ctx)

	case schemas.ActionRefresh:
		return live.Reload(ctx)

	case schemas.ActionWait:
		seconds := action.WaitSeconds
		if seconds <= 0 {
			seconds = 1.0
		}
		return live.Wait(ctx, seconds)

	case schemas.ActionUploadFile:
		node, err := r.resolve(ctx, live, matcher, action)
		if err != nil {
			return err
		}
		return live.UploadFile(ctx, node, action.FilePath)

	case schemas.ActionSelectDropdown:
		node, err := r.resolve(ctx, live, matcher, action)
		if err != nil {
			return err
		}
		return live.SelectOption(ctx, node, action.DropdownOption)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// resolve re-identifies the action's target, refreshing the DOM before every
// attempt and backing off between them.
func (r *Replayer) resolve(ctx context.Context, live schemas.LiveSession, matcher *Matcher, action *schemas.RecordedAction) (*schemas.NodeHandle, error) {
	if action.Element.IsEmpty() {
		return nil, ErrNoFingerprint
	}

	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff = time.Duration(float64(backoff) * r.cfg.BackoffMultiplier)
			if backoff > r.cfg.BackoffCap {
				backoff = r.cfg.BackoffCap
			}
		}

		if err := live.RefreshDOM(ctx); err != nil {
			if schemas.IsSessionError(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		node, strategy, err := matcher.Locate(ctx, action.Element)
		if err == nil {
			r.logger.Debug("Target resolved.",
				zap.Int("attempt", attempt),
				zap.String("strategy", strategy))
			return node, nil
		}
		if schemas.IsSessionError(err) || errors.Is(err, ErrNoFingerprint) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("after %d attempts: %w", r.cfg.MaxAttempts, lastErr)
}

// substituteSensitive recovers the real value for a redacted input, checking
// the element's own identifiers before the generic fallbacks.
func substituteSensitive(action *schemas.RecordedAction, sensitive map[string]string) (string, error) {
	var keys []string
	if action.Element != nil {
		if action.Element.Name != "" {
			keys = append(keys, action.Element.Name)
		}
		if action.Element.ID != "" {
			keys = append(keys, action.Element.ID)
		}
	}
	keys = append(keys, "password", "secret")

	for _, key := range keys {
		if value, ok := sensitive[key]; ok {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w (tried keys: %v)", ErrNoSubstitute, keys)
}

func startsWithNavigate(session *schemas.RecordedSession) bool {
	return len(session.Actions) > 0 && session.Actions[0].Type == schemas.ActionNavigate
}
