package lockstate

import (
	"fmt"
	"go/token"
)

// Kind classifies a finding.
type Kind int

const (
	// SelfDeadlock is a blocking acquisition of a lock already held by the
	// same thread of control.
	SelfDeadlock Kind = iota
	// DoubleLock is a shared acquisition of a lock already held in shared
	// mode. It only deadlocks when a writer is queued in between.
	DoubleLock
)

func (k Kind) String() string {
	switch k {
	case SelfDeadlock:
		return "self deadlock"
	case DoubleLock:
		return "double lock"
	}
	return "invalid"
}

// Finding is an unsafe acquisition sequence on one handle.
type Finding struct {
	Kind   Kind
	Proc   string
	Handle Handle
	First  token.Pos // earlier acquisition still in effect
	Second token.Pos // offending acquisition; inside the callee for calls
	Call   token.Pos // call site when the second acquisition happens in a callee
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s on %s (first=%d second=%d call=%d)",
		f.Proc, f.Kind, f.Handle, f.First, f.Second, f.Call)
}

// findingKey identifies the acquisition context that a finding is reported for.
type findingKey struct {
	handle Handle
	first  token.Pos
}
