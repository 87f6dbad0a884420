package session

import (
	"context"
	"sync"
)

// keyedLocker is a set of FIFO mutexes keyed by session id. Entries are
// reference counted and dropped once nobody holds or waits for them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

func (l *keyedLocker) acquireRef(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (l *keyedLocker) releaseRef(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Lock blocks until key is free or ctx is done.
func (l *keyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	kl := l.acquireRef(key)
	select {
	case kl.ch <- struct{}{}:
		return l.unlocker(key, kl), nil
	case <-ctx.Done():
		l.releaseRef(key, kl)
		return nil, ctx.Err()
	}
}

// TryLock acquires key only if nobody holds it.
func (l *keyedLocker) TryLock(key string) (func(), bool) {
	kl := l.acquireRef(key)
	select {
	case kl.ch <- struct{}{}:
		return l.unlocker(key, kl), true
	default:
		l.releaseRef(key, kl)
		return nil, false
	}
}

func (l *keyedLocker) unlocker(key string, kl *keyLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.releaseRef(key, kl)
		})
	}
}
