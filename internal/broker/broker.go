// Package broker fans committed gamification events out to in-process subscribers.
package broker

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
	"go.uber.org/zap"
)

const defaultBufferSize = 64

// Broker implements gamification.Publisher. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Broker struct {
	mutex       sync.RWMutex
	subscribers map[uint64]chan gamification.Event
	nextID      uint64
	bufferSize  int
	logger      *zap.Logger
	closed      bool
}

// New returns a Broker whose subscribers buffer bufferSize events each.
func New(bufferSize int, logger *zap.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		subscribers: make(map[uint64]chan gamification.Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Publish delivers event to every subscriber with room in its buffer.
func (broker *Broker) Publish(_ context.Context, event gamification.Event) error {
	broker.mutex.RLock()
	defer broker.mutex.RUnlock()
	for subscriberID, events := range broker.subscribers {
		select {
		case events <- event:
		default:
			broker.logger.Warn("subscriber buffer full, event dropped",
				zap.Uint64("subscriber", subscriberID),
				zap.String("kind", string(event.Kind)),
				zap.String("key", event.Key))
		}
	}
	return nil
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; calling it more than once is safe.
func (broker *Broker) Subscribe() (<-chan gamification.Event, func()) {
	broker.mutex.Lock()
	defer broker.mutex.Unlock()
	events := make(chan gamification.Event, broker.bufferSize)
	if broker.closed {
		close(events)
		return events, func() {}
	}
	subscriberID := broker.nextID
	broker.nextID++
	broker.subscribers[subscriberID] = events

	var once sync.Once
	return events, func() {
		once.Do(func() {
			broker.mutex.Lock()
			defer broker.mutex.Unlock()
			if current, ok := broker.subscribers[subscriberID]; ok {
				delete(broker.subscribers, subscriberID)
				close(current)
			}
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (broker *Broker) Subscribers() int {
	broker.mutex.RLock()
	defer broker.mutex.RUnlock()
	return len(broker.subscribers)
}

// Close ends every subscription.
func (broker *Broker) Close() {
	broker.mutex.Lock()
	defer broker.mutex.Unlock()
	broker.closed = true
	for subscriberID, events := range broker.subscribers {
		delete(broker.subscribers, subscriberID)
		close(events)
	}
}

// Consume runs handler for each event until events closes or ctx ends.
// Handler errors are logged and do not stop consumption.
func Consume(ctx context.Context, events <-chan gamification.Event, handler Handler, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := handler(ctx, event); err != nil {
				logger.Warn("event handler failed", zap.String("key", event.Key), zap.Error(err))
			}
		}
	}
}
