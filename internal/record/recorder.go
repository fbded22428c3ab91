// Package record turns a live session's action-event stream into a frozen,
// replayable action log.
package record

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/fingerprint"
)

var (
	ErrAlreadyRecording = errors.New("recorder is already attached to a source")
	ErrNotRecording     = errors.New("recorder is not attached to a source")
)

// Source is anything a recorder can attach to: a live browser session or a
// followed external action log.
type Source interface {
	schemas.EventSource
	// Version identifies the engine the events came from.
	Version() string
}

// Recorder subscribes to every action kind on a source and accumulates the
// events, in arrival order, into a RecordedSession. One recorder owns one
// source at a time.
type Recorder struct {
	logger *zap.Logger

	task       string
	initialURL string

	mu         sync.Mutex
	source     Source
	actions    []schemas.RecordedAction
	steps      int
	unsub      func()
	recording  bool
	recordedAt time.Time

	wg sync.WaitGroup
}

// New creates a detached recorder. Task and initialURL become session
// metadata; initialURL also seeds replays whose first action is not a
// navigation.
func New(task, initialURL string, logger *zap.Logger) *Recorder {
	return &Recorder{
		logger:     logger.Named("recorder"),
		task:       task,
		initialURL: initialURL,
	}
}

// Attach subscribes the recorder to every action kind on the source and
// starts consuming. Events observed before Attach are not recorded.
func (r *Recorder) Attach(source Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}

	r.source = source
	r.actions = nil
	r.steps = 0
	// The session's timestamp marks when recording started, not when it was
	// frozen.
	r.recordedAt = time.Now().UTC()

	// One subscription covering every kind: a single channel preserves the
	// order actions were executed in, which per-kind channels would not.
	ch, unsub := source.Subscribe(schemas.AllActionKinds...)
	r.unsub = unsub

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ev := range ch {
			r.consume(ev)
		}
	}()

	r.recording = true
	r.logger.Info("Recording started.", zap.String("task", r.task))
	return nil
}

// consume converts one event and appends it under the step counter lock.
func (r *Recorder) consume(ev schemas.ActionEvent) {
	action, ok := convert(ev)
	if !ok {
		r.logger.Debug("Dropping malformed action event.",
			zap.String("kind", string(ev.Kind)), zap.String("event_id", ev.ID))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
	action.StepNumber = r.steps
	r.actions = append(r.actions, action)
}

// ActionCount reports how many actions have been recorded so far.
func (r *Recorder) ActionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// Detach stops consuming, waits for in-flight events to drain, and freezes
// the accumulated log into a RecordedSession. The source is returned to the
// caller, still open.
func (r *Recorder) Detach() (*schemas.RecordedSession, Source, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, nil, ErrNotRecording
	}
	r.recording = false
	unsub := r.unsub
	r.unsub = nil
	source := r.source
	r.source = nil
	r.mu.Unlock()

	unsub()
	r.wg.Wait()

	r.mu.Lock()
	actions := r.actions
	r.actions = nil
	recordedAt := r.recordedAt
	r.mu.Unlock()

	session := &schemas.RecordedSession{
		SessionID:     uuid.New().String(),
		Task:          r.task,
		InitialURL:    r.initialURL,
		RecordedAt:    recordedAt,
		EngineVersion: source.Version(),
		Actions:       actions,
	}

	r.logger.Info("Recording stopped.",
		zap.String("session_id", session.SessionID),
		zap.Int("actions", len(actions)))
	return session, source, nil
}

// convert maps one action event onto its persisted form. Events for
// element-requiring kinds that arrive without a node are malformed.
func convert(ev schemas.ActionEvent) (schemas.RecordedAction, bool) {
	if !ev.Kind.Valid() {
		return schemas.RecordedAction{}, false
	}
	if ev.Kind.RequiresElement() && ev.Node == nil {
		return schemas.RecordedAction{}, false
	}

	action := schemas.RecordedAction{
		Type:      ev.Kind,
		Timestamp: ev.Timestamp,
		Element:   fingerprint.Capture(ev.Node),
	}

	switch ev.Kind {
	case schemas.ActionNavigate:
		if ev.URL == "" {
			return schemas.RecordedAction{}, false
		}
		action.URL = ev.URL
		action.NewTab = ev.NewTab
	case schemas.ActionTypeText:
		action.IsSensitive = ev.IsSensitive
		action.ClearBeforeType = ev.Clear
		if ev.IsSensitive {
			// The real value never reaches the persisted log.
			action.Text = schemas.RedactedText
		} else {
			action.Text = ev.Text
		}
	case schemas.ActionScroll:
		action.Direction = ev.Direction
		action.ScrollAmount = ev.Amount
	case schemas.ActionSendKeys:
		if ev.Keys == "" {
			return schemas.RecordedAction{}, false
		}
		action.Keys = ev.Keys
	case schemas.ActionWait:
		action.WaitSeconds = ev.WaitSeconds()
		if action.WaitSeconds <= 0 {
			action.WaitSeconds = 1.0
		}
	case schemas.ActionUploadFile:
		if ev.FilePath == "" {
			return schemas.RecordedAction{}, false
		}
		action.FilePath = ev.FilePath
	case schemas.ActionSelectDropdown:
		if ev.Option == "" {
			return schemas.RecordedAction{}, false
		}
		action.DropdownOption = ev.Option
	}

	return action, true
}
