package escape

import "sync"

type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// --- Passing the lock to code that is not analyzed ---

func (p *Pool) Init() {
	p.mu.Lock()
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
}

func withLock(mu *sync.Mutex, f func(*sync.Mutex)) {
	mu.Lock()
	f(mu)
	mu.Lock()
}

// --- Handing the lock to a goroutine ---

func unlockLater(mu *sync.Mutex) {
	mu.Unlock()
}

func (p *Pool) Handoff() {
	p.mu.Lock()
	go unlockLater(&p.mu)
	p.mu.Lock()
}

// --- Escape only affects the escaped lock ---

type Two struct {
	a, b sync.Mutex
}

func (t *Two) OneEscapes(f func(*sync.Mutex)) {
	t.a.Lock()
	t.b.Lock()
	f(&t.a)
	t.a.Lock()
	t.b.Lock() // want `possible self deadlock: t\.b is already held`
}

// --- Unknown method on a lock degrades to unknown ---

func rlocker(mu *sync.RWMutex) {
	mu.Lock()
	mu.RLocker()
	mu.Lock()
}
