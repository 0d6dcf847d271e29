package usecase

import (
	"context"
	"fmt"
	"sync"
)

// SessionLocker serializes turns that share a session id so history writes
// and reads of one turn are not interleaved with another's. Entries are
// reference counted and removed once no turn holds or waits for them.
type SessionLocker struct {
	mu    sync.Mutex
	slots map[string]*sessionSlot
}

type sessionSlot struct {
	sem  chan struct{}
	refs int
}

// NewSessionLocker creates an empty locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{slots: make(map[string]*sessionSlot)}
}

// Lock blocks until sessionID is free or ctx is done. The returned unlock
// function must be called exactly once.
func (sl *SessionLocker) Lock(ctx context.Context, sessionID string) (unlock func(), err error) {
	sl.mu.Lock()
	slot, ok := sl.slots[sessionID]
	if !ok {
		slot = &sessionSlot{sem: make(chan struct{}, 1)}
		sl.slots[sessionID] = slot
	}
	slot.refs++
	sl.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.sem
				sl.release(sessionID, slot)
			})
		}, nil
	case <-ctx.Done():
		sl.release(sessionID, slot)
		return nil, fmt.Errorf("session lock: %w", ctx.Err())
	}
}

func (sl *SessionLocker) release(sessionID string, slot *sessionSlot) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(sl.slots, sessionID)
	}
}

// ActiveCount returns the number of sessions held or waited on.
func (sl *SessionLocker) ActiveCount() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.slots)
}
