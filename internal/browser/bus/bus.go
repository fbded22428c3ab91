// internal/browser/bus/bus.go
package bus

import (
	"fmt"
	"sync"
	"time"

	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/reprise/api/schemas"
)

// Bus is the typed action-event pub/sub channel between an automation engine
// and its observers. Engines Post one event per executed action; recorders
// and log followers Subscribe per action kind.
//
// Delivery holds the subscriber read-lock for its whole duration, which lets
// Unsubscribe close channels without racing a send. Consumers must keep
// draining their channel until it is closed.
type Bus struct {
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[schemas.ActionKind][]chan schemas.ActionEvent
	bufferSize  int
	isShutdown  bool

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// New initializes a Bus. bufferSize is the per-subscription channel depth.
func New(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bus{
		logger:       logger.Named("action_bus"),
		subscribers:  make(map[schemas.ActionKind][]chan schemas.ActionEvent),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post delivers an event to every subscription of its kind. Blocks while a
// subscriber buffer is full, until the context is canceled or the bus shuts
// down. Missing event ids and timestamps are filled in.
func (b *Bus) Post(ctx context.Context, ev schemas.ActionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isShutdown {
		return fmt.Errorf("cannot post %s event: bus is shut down", ev.Kind)
	}

	subs := b.subscribers[ev.Kind]
	if len(subs) == 0 {
		b.logger.Debug("No subscribers for event, dropping.",
			zap.String("kind", string(ev.Kind)), zap.String("id", ev.ID))
		return nil
	}

	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.shutdownChan:
			return fmt.Errorf("failed to post %s event: bus is shutting down", ev.Kind)
		}
	}
	return nil
}

// Subscribe returns a channel limited to the given kinds and an unsubscribe
// closure. Unsubscribing closes the channel after any in-flight delivery.
func (b *Bus) Subscribe(kinds ...schemas.ActionKind) (<-chan schemas.ActionEvent, func()) {
	if len(kinds) == 0 {
		panic("must subscribe to at least one action kind")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		closedCh := make(chan schemas.ActionEvent)
		close(closedCh)
		return closedCh, func() {}
	}

	ch := make(chan schemas.ActionEvent, b.bufferSize)
	subscribed := make([]schemas.ActionKind, len(kinds))
	copy(subscribed, kinds)

	for _, kind := range subscribed {
		b.subscribers[kind] = append(b.subscribers[kind], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			for _, kind := range subscribed {
				subs, exists := b.subscribers[kind]
				if !exists {
					continue
				}
				for i, subscriberCh := range subs {
					if subscriberCh == ch {
						copy(subs[i:], subs[i+1:])
						b.subscribers[kind] = subs[:len(subs)-1]
						if len(b.subscribers[kind]) == 0 {
							delete(b.subscribers, kind)
						}
						break
					}
				}
			}

			// Safe under the write lock: no Post holds the read lock now, so
			// nothing can send on ch after this point.
			if !b.isShutdown {
				close(ch)
			}
		})
	}

	return ch, unsubscribe
}

// Shutdown closes every subscriber channel and rejects further posts.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		// Wake any Post blocked on a full buffer before taking the write lock.
		close(b.shutdownChan)

		b.mu.Lock()
		defer b.mu.Unlock()
		b.isShutdown = true

		unique := make(map[chan schemas.ActionEvent]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for ch := range unique {
			close(ch)
		}
		b.subscribers = make(map[schemas.ActionKind][]chan schemas.ActionEvent)

		b.logger.Debug("Action bus shut down.", zap.Int("subscriptions_closed", len(unique)))
	})
}
