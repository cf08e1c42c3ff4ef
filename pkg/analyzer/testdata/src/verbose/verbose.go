package verbose

import "sync"

type Counter struct {
	mu    sync.Mutex
	count int
}

func (c *Counter) inc() {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func (c *Counter) Twice() {
	c.mu.Lock()
	c.mu.Lock() // want `possible self deadlock: c\.mu is already held \(acquired at line 17\)`
}

func (c *Counter) ViaCall() {
	c.mu.Lock()
	c.inc() // want `possible self deadlock: c\.mu is already held when calling inc\(\) which locks c\.mu \(acquired at line 22\)`
}
