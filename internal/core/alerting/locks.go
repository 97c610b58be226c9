package alerting

import "sync"

// ruleLocks serializes work on a single rule and its instance while
// letting different rules proceed in parallel
type ruleLocks struct {
	mu    sync.Mutex
	locks map[int64]*ruleLock
}

type ruleLock struct {
	mu   sync.Mutex
	refs int
}

func newRuleLocks() *ruleLocks {
	return &ruleLocks{locks: make(map[int64]*ruleLock)}
}

// Lock blocks until the caller owns ruleID and returns the release func
func (l *ruleLocks) Lock(ruleID int64) func() {
	l.mu.Lock()
	lock, ok := l.locks[ruleID]
	if !ok {
		lock = &ruleLock{}
		l.locks[ruleID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, ruleID)
		}
		l.mu.Unlock()
	}
}
