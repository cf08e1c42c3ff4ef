package branch_patterns

import "sync"

type Account struct {
	mu      sync.Mutex
	balance int
}

// --- Held on one branch only: no report ---

func (a *Account) ConditionalLock(cond bool) {
	if cond {
		a.mu.Lock()
	}
	a.mu.Lock()
	a.mu.Unlock()
}

// --- Held on every branch ---

func (a *Account) LockedOnBothBranches(cond bool) {
	if cond {
		a.mu.Lock()
		a.balance++
	} else {
		a.mu.Lock()
		a.balance--
	}
	a.mu.Lock() // want `possible self deadlock: a\.mu is already held`
}

func (a *Account) Switch(k int) {
	switch k {
	case 0:
		a.mu.Lock()
	case 1:
		a.balance++
		a.mu.Lock()
	default:
		a.mu.Lock()
	}
	a.mu.Lock() // want `possible self deadlock: a\.mu is already held`
}

// --- Early return releases on its own path ---

func (a *Account) EarlyReturn(cond bool) {
	a.mu.Lock()
	if cond {
		a.mu.Unlock()
		return
	}
	a.balance++
	a.mu.Unlock()
	a.mu.Lock()
	a.mu.Unlock()
}

// --- Loops ---

func (a *Account) LockInLoop(n int) {
	for i := 0; i < n; i++ {
		a.mu.Lock()
		a.balance++
		a.mu.Unlock()
	}
}

func (a *Account) LockHeldAcrossLoop(n int) {
	a.mu.Lock()
	for i := 0; i < n; i++ {
		a.mu.Lock() // want `possible self deadlock: a\.mu is already held`
	}
}

// ForgetsUnlockInLoop is not reported: mu is only held from the second
// iteration on, so the loop head joins Unlocked and Locked.
func (a *Account) ForgetsUnlockInLoop(n int) {
	for i := 0; i < n; i++ {
		a.mu.Lock()
	}
}

func (a *Account) LockAfterLoop(n int) {
	a.mu.Lock()
	for i := 0; i < n; i++ {
		a.balance++
	}
	a.mu.Lock() // want `possible self deadlock: a\.mu is already held`
}

// --- Panicking paths do not reach the join ---

func (a *Account) PanicPath(cond bool) {
	if cond {
		panic("unreachable")
	}
	a.mu.Lock()
	a.mu.Lock() // want `possible self deadlock: a\.mu is already held`
}
