package custom_table

import "sync/atomic"

// SpinLock is declared as a lock type in custom_table.yaml.
type SpinLock struct {
	state int32
}

func (l *SpinLock) Acquire() {
	for !atomic.CompareAndSwapInt32(&l.state, 0, 1) {
	}
}

func (l *SpinLock) Release() {
	atomic.StoreInt32(&l.state, 0)
}

type Ring struct {
	lock SpinLock
	head int
}

func (r *Ring) Push() {
	r.lock.Acquire()
	r.head++
	r.lock.Acquire() // want `possible self deadlock: r\.lock is already held`
}

func (r *Ring) advance() {
	r.lock.Acquire()
	defer r.lock.Release()
	r.head++
}

func (r *Ring) PushTwice() {
	r.advance()
	r.advance()
}

func (r *Ring) AdvanceLocked() {
	r.lock.Acquire()
	defer r.lock.Release()
	r.advance() // want `possible self deadlock: r\.lock is already held when calling advance\(\) which locks r\.lock`
}
