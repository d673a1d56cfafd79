package gamification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// userLocks serializes commands per user. Users never contend with each other
// beyond the short map lookup.
type userLocks struct {
	mutex   sync.Mutex
	entries map[string]*userLock
}

type userLock struct {
	token   chan struct{}
	holders int
}

func newUserLocks() *userLocks {
	return &userLocks{entries: make(map[string]*userLock)}
}

// acquire blocks until the user's lock is held, ctx ends, or timeout elapses.
// A timeout is reported as ErrBusy; a cancelled ctx as its own error.
func (locks *userLocks) acquire(ctx context.Context, userID string, timeout time.Duration) (func(), error) {
	locks.mutex.Lock()
	entry, exists := locks.entries[userID]
	if !exists {
		entry = &userLock{token: make(chan struct{}, 1)}
		locks.entries[userID] = entry
	}
	entry.holders++
	locks.mutex.Unlock()

	waitContext := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitContext, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case entry.token <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.token
				locks.forget(userID, entry)
			})
		}, nil
	case <-waitContext.Done():
		locks.forget(userID, entry)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(waitContext.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: waited %s for %s", ErrBusy, timeout, userID)
		}
		return nil, waitContext.Err()
	}
}

func (locks *userLocks) forget(userID string, entry *userLock) {
	locks.mutex.Lock()
	defer locks.mutex.Unlock()
	entry.holders--
	if entry.holders == 0 {
		delete(locks.entries, userID)
	}
}

func (locks *userLocks) size() int {
	locks.mutex.Lock()
	defer locks.mutex.Unlock()
	return len(locks.entries)
}
