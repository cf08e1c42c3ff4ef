package annotations

import "sync"

type Service struct {
	mu    sync.Mutex
	calls int
}

func (s *Service) locked() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

// --- //lockcheck:ignore: suppresses all diagnostics in a function ---

//lockcheck:ignore
func (s *Service) Ignored() {
	s.mu.Lock()
	s.mu.Lock() // no diagnostic: function is ignored
}

//lockcheck:ignore reentrancy is handled by the caller
func (s *Service) IgnoredWithReason() {
	s.mu.Lock()
	s.locked() // no diagnostic: function is ignored
}

// Closures inherit the directive of the function they are declared in.
//
//lockcheck:ignore
func (s *Service) IgnoredClosure() {
	f := func() {
		s.mu.Lock()
		s.mu.Lock() // no diagnostic: enclosing function is ignored
	}
	f()
}

// --- //lockcheck:nolint: suppresses diagnostic on the next line only ---

func (s *Service) NoLint() {
	s.mu.Lock()
	//lockcheck:nolint
	s.mu.Lock() // no diagnostic: suppressed by nolint
}

func (s *Service) NoLintCall() {
	s.mu.Lock()
	//lockcheck:nolint
	s.locked() // no diagnostic: suppressed by nolint
}

func (s *Service) NoLintTrailing() {
	s.mu.Lock()
	s.mu.Lock() //lockcheck:nolint reentrant in tests only
}

// --- //lockcheck:nolint does NOT suppress lines beyond the next one ---

func (s *Service) NoLintTooFar() {
	s.mu.Lock()
	//lockcheck:nolint
	s.calls++
	s.mu.Lock() // want `possible self deadlock: s\.mu is already held`
}

// --- Unannotated functions are reported ---

func (s *Service) NotSuppressed() {
	s.mu.Lock()
	s.locked() // want `possible self deadlock: s\.mu is already held when calling locked\(\) which locks s\.mu`
}
