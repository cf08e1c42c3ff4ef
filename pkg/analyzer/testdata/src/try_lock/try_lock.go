package try_lock

import "sync"

type Queue struct {
	mu    sync.Mutex
	items []int
}

// --- Success branch of TryLock holds the lock ---

func (q *Queue) LockAfterSuccessfulTry() {
	if q.mu.TryLock() {
		q.mu.Lock() // want `possible self deadlock: q\.mu is already held`
	}
}

func (q *Queue) StoredResult() {
	ok := q.mu.TryLock()
	q.items = nil
	if ok {
		q.mu.Lock() // want `possible self deadlock: q\.mu is already held`
	}
}

func (q *Queue) LockAfterTryGuard() {
	if !q.mu.TryLock() {
		return
	}
	q.mu.Lock() // want `possible self deadlock: q\.mu is already held`
}

// --- Failure branch does not ---

func (q *Queue) LockAfterFailedTry() {
	if !q.mu.TryLock() {
		q.mu.Lock()
	}
	q.items = nil
	q.mu.Unlock()
}

// LockAfterIgnoredTry is not reported: the result is not tested, so mu may
// or may not be held.
func (q *Queue) LockAfterIgnoredTry() {
	q.mu.TryLock()
	q.mu.Lock()
}

// --- Try-then-block helper ---

func lpLock(mu *sync.Mutex) {
	if mu.TryLock() {
		return
	}
	mu.Lock()
}

func lpLockTwice(q *Queue) {
	lpLock(&q.mu)
	lpLock(&q.mu) // want `possible self deadlock: q\.mu is already held when calling lpLock\(\) which locks q\.mu`
}

func lpLockOnce(q *Queue) {
	lpLock(&q.mu)
	q.items = nil
	q.mu.Unlock()
}

// --- Conditional helper: held on one path only ---

func tryOnly(mu *sync.Mutex) bool {
	return mu.TryLock()
}

func lockAfterTryOnly(q *Queue) {
	tryOnly(&q.mu)
	q.mu.Lock()
}
