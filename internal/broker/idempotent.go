package broker

import (
	"context"
	"sync"

	"github.com/MarkoPoloResearchLab/gamification/pkg/gamification"
)

const defaultSeenCapacity = 4096

// Handler consumes one event.
type Handler func(ctx context.Context, event gamification.Event) error

// Idempotent wraps handler so a redelivered event key is handled once. The
// oldest keys are forgotten once capacity keys have been seen. A key is only
// remembered after handler succeeds.
func Idempotent(handler Handler, capacity int) Handler {
	if capacity <= 0 {
		capacity = defaultSeenCapacity
	}
	seen := &seenKeys{keys: make(map[string]struct{}, capacity), order: make([]string, 0, capacity), capacity: capacity}
	return func(ctx context.Context, event gamification.Event) error {
		if !seen.reserve(event.Key) {
			return nil
		}
		if err := handler(ctx, event); err != nil {
			seen.release(event.Key)
			return err
		}
		return nil
	}
}

type seenKeys struct {
	mutex    sync.Mutex
	keys     map[string]struct{}
	order    []string
	capacity int
}

func (seen *seenKeys) reserve(key string) bool {
	seen.mutex.Lock()
	defer seen.mutex.Unlock()
	if _, ok := seen.keys[key]; ok {
		return false
	}
	if len(seen.order) == seen.capacity {
		oldest := seen.order[0]
		seen.order = seen.order[1:]
		delete(seen.keys, oldest)
	}
	seen.keys[key] = struct{}{}
	seen.order = append(seen.order, key)
	return true
}

func (seen *seenKeys) release(key string) {
	seen.mutex.Lock()
	defer seen.mutex.Unlock()
	if _, ok := seen.keys[key]; !ok {
		return
	}
	delete(seen.keys, key)
	for index, candidate := range seen.order {
		if candidate == key {
			seen.order = append(seen.order[:index], seen.order[index+1:]...)
			break
		}
	}
}
