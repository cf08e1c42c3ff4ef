package defer_patterns

import "sync"

type Store struct {
	mu   sync.Mutex
	data map[string]string
}

func (s *Store) get(k string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[k]
}

// --- Lock + defer Unlock, then a call that locks again ---

func (s *Store) Lookup(k string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(k) // want `possible self deadlock: s\.mu is already held when calling get\(\) which locks s\.mu`
}

// --- The deferred Unlock releases the lock on return ---

func (s *Store) TwoGets() string {
	return s.get("a") + s.get("b")
}

func (s *Store) LockAfterGet() {
	_ = s.get("a")
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
}

// --- Multiple defers run in reverse order ---

type Pair struct {
	a, b sync.Mutex
}

func (p *Pair) Both() {
	p.a.Lock()
	defer p.a.Unlock()
	p.b.Lock()
	defer p.b.Unlock()
}

func (p *Pair) BothTwice() {
	p.Both()
	p.Both()
}

// --- Deferred Lock instead of Unlock ---

func (s *Store) DeferredLockTypo() {
	s.mu.Lock()
	defer s.mu.Lock() // want `possible self deadlock: s\.mu is already held`
	s.data = nil
}

// --- Early returns all run the deferred Unlock ---

func (s *Store) EarlyReturn(k string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k == "" {
		return ""
	}
	v, ok := s.data[k]
	if !ok {
		return "missing"
	}
	return v
}

func (s *Store) AfterEarlyReturn() {
	s.EarlyReturn("a")
	s.mu.Lock()
	s.mu.Unlock()
}
