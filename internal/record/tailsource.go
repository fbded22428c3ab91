package record

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
	"github.com/xkilldash9x/reprise/internal/browser/bus"
)

var tailJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// TailSource follows an external JSONL action log and republishes each line
// as an ActionEvent, so an agent writing its actions to a file can be
// recorded without driving a browser through us.
type TailSource struct {
	logger *zap.Logger
	tailer *tail.Tail
	bus    *bus.Bus
	done   chan struct{}
}

var _ Source = (*TailSource)(nil)

// NewTailSource starts following path. With fromStart false the follower
// seeks to the end first, so only lines appended after attach are seen.
func NewTailSource(path string, fromStart bool, logger *zap.Logger) (*TailSource, error) {
	log := logger.Named("tailsource").With(zap.String("path", path))

	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	}
	if !fromStart {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	tailer, err := tail.TailFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to follow action log %s: %w", path, err)
	}

	s := &TailSource{
		logger: log,
		tailer: tailer,
		bus:    bus.New(log, 16),
		done:   make(chan struct{}),
	}
	go s.pump()

	log.Info("Following external action log.", zap.Bool("from_start", fromStart))
	return s, nil
}

// pump decodes lines into events and republishes them. Unparseable lines are
// skipped; a log follower has no way to push back on its writer.
func (s *TailSource) pump() {
	defer close(s.done)

	for line := range s.tailer.Lines {
		if line.Err != nil {
			s.logger.Warn("Tail reported a read error.", zap.Error(line.Err))
			continue
		}
		if line.Text == "" {
			continue
		}

		var ev schemas.ActionEvent
		if err := tailJSON.UnmarshalFromString(line.Text, &ev); err != nil {
			s.logger.Debug("Skipping unparseable log line.", zap.Error(err))
			continue
		}
		if !ev.Kind.Valid() {
			s.logger.Debug("Skipping log line with unknown action kind.",
				zap.String("kind", string(ev.Kind)))
			continue
		}

		postCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.bus.Post(postCtx, ev)
		cancel()
		if err != nil {
			s.logger.Debug("Failed to republish log line.", zap.Error(err))
		}
	}
}

// Subscribe delivers one event per decoded log line.
func (s *TailSource) Subscribe(kinds ...schemas.ActionKind) (<-chan schemas.ActionEvent, func()) {
	return s.bus.Subscribe(kinds...)
}

// Version identifies external-log sources in persisted sessions.
func (s *TailSource) Version() string { return "external-log" }

// Stop halts the follower and closes every subscriber channel.
func (s *TailSource) Stop() error {
	err := s.tailer.Stop()
	<-s.done
	s.tailer.Cleanup()
	s.bus.Shutdown()
	return err
}
