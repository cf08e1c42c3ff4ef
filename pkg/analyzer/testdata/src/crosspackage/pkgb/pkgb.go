package pkgb

import "crosspackage/pkga"

// incTwice calls an imported function that handles locking internally. No
// violation expected.
func incTwice(s *pkga.Stats) {
	s.Inc()
	s.Inc()
}

// incWhileHeld calls an imported locking function while holding the lock
// through an imported acquire helper.
func incWhileHeld(s *pkga.Stats) {
	s.Acquire()
	s.Inc() // want `possible self deadlock: s\.mu is already held when calling Inc\(\) which locks s\.mu`
	s.Release()
}

func acquireRelease(s *pkga.Stats) {
	s.Acquire()
	s.Release()
	s.Inc()
}

func acquireTwice(s *pkga.Stats) {
	s.Acquire()
	s.Acquire() // want `possible self deadlock: s\.mu is already held when calling Acquire\(\) which locks s\.mu`
}
