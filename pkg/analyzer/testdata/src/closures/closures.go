package closures

import "sync"

type Registry struct {
	mu    sync.Mutex
	names []string
}

// --- Deferred closure releases the captured receiver's lock ---

func (r *Registry) DeferredClosureUnlock() {
	r.mu.Lock()
	defer func() {
		r.mu.Unlock()
	}()
	r.names = nil
}

func (r *Registry) CallsAfterDeferredClosure() {
	r.DeferredClosureUnlock()
	r.mu.Lock()
	r.mu.Unlock()
}

// --- Closure locking a lock its caller holds ---

func (r *Registry) ClosureLocksAgain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	add := func(n string) {
		r.mu.Lock()
		r.names = append(r.names, n)
		r.mu.Unlock()
	}
	add("x") // want `possible self deadlock: r\.mu is already held when calling ClosureLocksAgain\$1\(\) which locks r\.mu`
}

func (r *Registry) ClosureWithoutLock() {
	add := func(n string) {
		r.mu.Lock()
		r.names = append(r.names, n)
		r.mu.Unlock()
	}
	add("x")
	add("y")
}

// --- Captured local mutex ---

func capturedLocal() {
	var mu sync.Mutex
	lock := func() {
		mu.Lock()
	}
	lock()
	lock() // want `possible self deadlock: mu is already held when calling capturedLocal\$1\(\) which locks mu`
}
