package agent

import (
	"context"
	"sync"
)

// threadLocks serializes turns per thread. A turn holds its thread from
// Invoke until its run loop has made its last checkpoint write, so a
// cancelled turn cannot overwrite the checkpoint of the turn after it.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

// acquire blocks until the thread is free or ctx is done. The returned
// function releases the thread.
func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*threadLock)
	}
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{sem: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	unref := func() {
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, threadID)
		}
		l.mu.Unlock()
	}

	select {
	case tl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-tl.sem
				unref()
			})
		}, nil
	case <-ctx.Done():
		unref()
		return nil, ctx.Err()
	}
}

