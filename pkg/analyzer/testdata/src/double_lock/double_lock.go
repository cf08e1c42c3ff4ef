package double_lock

import "sync"

// --- Direct double-lock ---

type Tracker struct {
	mu    sync.Mutex
	value int
}

func (t *Tracker) DirectDoubleLock() {
	t.mu.Lock()
	t.mu.Lock() // want `possible self deadlock: t\.mu is already held`
	t.value = 1
	t.mu.Unlock()
	t.mu.Unlock()
}

// ThreeLocks is reported once: the third lock happens in the same
// acquisition context as the second.
func (t *Tracker) ThreeLocks() {
	t.mu.Lock()
	t.mu.Lock() // want `possible self deadlock: t\.mu is already held`
	t.mu.Lock()
}

// LockUnlockLock releases in between: no report.
func (t *Tracker) LockUnlockLock() {
	t.mu.Lock()
	t.value++
	t.mu.Unlock()
	t.mu.Lock()
	t.value++
	t.mu.Unlock()
}

// UnlockFirst releases a lock that is not held. Not this checker's business.
func (t *Tracker) UnlockFirst() {
	t.mu.Unlock()
	t.mu.Lock()
	t.mu.Unlock()
}

// --- Distinct instances are independent ---

func twoTrackers(a, b *Tracker) {
	a.mu.Lock()
	b.mu.Lock()
	b.value = a.value
	b.mu.Unlock()
	a.mu.Unlock()
}

// --- Locals and globals ---

func localMutex() {
	var mu sync.Mutex
	mu.Lock()
	mu.Lock() // want `possible self deadlock: mu is already held`
}

var registryMu sync.Mutex

func globalMutex() {
	registryMu.Lock()
	registryMu.Lock() // want `possible self deadlock: double_lock\.registryMu is already held`
}

// --- Nested fields ---

type Outer struct {
	inner struct {
		mu sync.Mutex
	}
	ptr *Tracker
}

func (o *Outer) NestedField() {
	o.inner.mu.Lock()
	o.inner.mu.Lock() // want `possible self deadlock: o\.inner\.mu is already held`
}

func (o *Outer) ThroughPointer() {
	o.ptr.mu.Lock()
	o.ptr.mu.Lock() // want `possible self deadlock: o\.ptr\.mu is already held`
}

// --- RWMutex ---

type Cache struct {
	mu    sync.RWMutex
	items map[string]int
}

func (c *Cache) RecursiveRead() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.mu.RLock() // want `double lock: c\.mu is already read-locked`
	defer c.mu.RUnlock()
	return c.items["a"]
}

func (c *Cache) UpgradeAttempt() {
	c.mu.RLock()
	c.mu.Lock() // want `possible self deadlock: c\.mu is already held`
	c.mu.Unlock()
	c.mu.RUnlock()
}

func (c *Cache) ReadUnderWrite() {
	c.mu.Lock()
	c.mu.RLock() // want `possible self deadlock: c\.mu is already held`
	c.mu.RUnlock()
	c.mu.Unlock()
}

// --- Embedded mutex and sync.Locker ---

type Counter struct {
	sync.Mutex
	n int
}

func (c *Counter) EmbeddedDoubleLock() {
	c.Lock()
	c.n++
	c.Lock() // want `possible self deadlock: c\.Mutex is already held`
}

func lockerTwice(l sync.Locker) {
	l.Lock()
	l.Lock() // want `possible self deadlock: l is already held`
}
