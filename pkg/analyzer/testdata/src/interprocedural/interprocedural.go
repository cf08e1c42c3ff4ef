package interprocedural

import "sync"

// --- Caller holds, callee locks ---

type Worker struct {
	mu   sync.Mutex
	busy bool
}

func (w *Worker) lockAndSet() {
	w.mu.Lock()
	w.busy = true
	w.mu.Unlock()
}

func (w *Worker) DoubleLockViaCall() {
	w.mu.Lock()
	w.lockAndSet() // want `possible self deadlock: w\.mu is already held when calling lockAndSet\(\) which locks w\.mu`
	w.mu.Unlock()
}

// Handoff locks another worker while holding its own lock: different handles.
func (w *Worker) Handoff(other *Worker) {
	w.mu.Lock()
	other.lockAndSet()
	w.mu.Unlock()
}

// --- Deep transitive acquisition ---

type Manager struct {
	mu   sync.Mutex
	data string
}

func (m *Manager) innerLock() {
	m.mu.Lock()
	m.data = "inner"
	m.mu.Unlock()
}

func (m *Manager) middleWrapper() {
	m.innerLock()
}

func (m *Manager) DeepDoubleLock() {
	m.mu.Lock()
	m.middleWrapper() // want `possible self deadlock: m\.mu is already held when calling middleWrapper\(\) which locks m\.mu`
	m.mu.Unlock()
}

// --- Recursion ---

type Recurser struct {
	mu  sync.Mutex
	val int
}

func (r *Recurser) RecursiveDoubleLock(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.RecursiveDoubleLock(n - 1) // want `possible self deadlock: r\.mu is already held when calling RecursiveDoubleLock\(\) which locks r\.mu`
	r.mu.Unlock()
}

// --- Acquire and release helpers ---

func (w *Worker) acquire() {
	w.mu.Lock()
}

func (w *Worker) release() {
	w.mu.Unlock()
}

func (w *Worker) AcquireTwice() {
	w.acquire()
	w.acquire() // want `possible self deadlock: w\.mu is already held when calling acquire\(\) which locks w\.mu`
}

func (w *Worker) AcquireThenLock() {
	w.acquire()
	w.mu.Lock() // want `possible self deadlock: w\.mu is already held`
}

func (w *Worker) AcquireRelease() {
	w.acquire()
	w.busy = true
	w.release()
	w.mu.Lock()
	w.mu.Unlock()
}

// --- Plain functions taking the lock ---

func lockIt(mu *sync.Mutex) {
	mu.Lock()
}

func passesPointer(w *Worker) {
	w.mu.Lock()
	lockIt(&w.mu) // want `possible self deadlock: w\.mu is already held when calling lockIt\(\) which locks w\.mu`
}

// --- Globals map through calls ---

var cacheMu sync.Mutex

func refresh() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
}

func refreshLocked() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	refresh() // want `possible self deadlock: interprocedural\.cacheMu is already held when calling refresh\(\) which locks interprocedural\.cacheMu`
}

// --- Callee drops the caller's lock around slow work ---

type Store struct {
	mu    sync.Mutex
	items int
}

func (s *Store) flushLocked() {
	s.mu.Unlock()
	s.items++
	s.mu.Lock()
}

func (s *Store) Flush() {
	s.mu.Lock()
	s.flushLocked()
	s.mu.Unlock()
}

func (s *Store) waitLocked() {
	s.mu.Unlock()
	s.refill()
	s.mu.Lock()
}

func (s *Store) refill() {
	s.mu.Lock()
	s.items = 0
	s.mu.Unlock()
}

func (s *Store) Wait() {
	s.mu.Lock()
	s.waitLocked()
	s.mu.Unlock()
}

// Dropping the lock on one branch only does not excuse the other.
func (s *Store) maybeFlushLocked(slow bool) {
	if slow {
		s.mu.Unlock()
		s.mu.Lock()
		return
	}
	s.refill()
}

func (s *Store) MaybeFlush(slow bool) {
	s.mu.Lock()
	s.maybeFlushLocked(slow) // want `possible self deadlock: s\.mu is already held when calling maybeFlushLocked\(\) which locks s\.mu`
	s.mu.Unlock()
}
