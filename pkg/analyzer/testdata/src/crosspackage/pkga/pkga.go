package pkga

import "sync"

type Stats struct {
	mu    sync.Mutex
	count int
}

func (s *Stats) Inc() { // want Inc:`SummaryFact\{acquires=\[s\.mu\] exits=\[\]\}`
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
}

// Acquire returns with mu held.
func (s *Stats) Acquire() { // want Acquire:`SummaryFact\{acquires=\[s\.mu\] exits=\[s\.mu:locked\]\}`
	s.mu.Lock()
}

// Release releases a lock taken by Acquire.
func (s *Stats) Release() { // want Release:`SummaryFact\{acquires=\[\] exits=\[s\.mu:unlocked\]\}`
	s.mu.Unlock()
}

// Count does not touch the lock: no fact.
func (s *Stats) Count() int {
	return s.count
}
