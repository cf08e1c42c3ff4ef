package lockstate

import (
	"go/token"
	"sort"
)

// State is the abstract state of a single lock handle.
type State int

const (
	Unlocked State = iota
	Locked
	MaybeLocked // Unlocked on some path, Locked on another
	Unknown     // provenance lost, e.g. passed through unmodeled code
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	case MaybeLocked:
		return "maybe-locked"
	case Unknown:
		return "unknown"
	}
	return "invalid"
}

// Join returns the least upper bound of s and o in the lattice
// Unlocked, Locked ⊑ MaybeLocked ⊑ Unknown.
func (s State) Join(o State) State {
	switch {
	case s == o:
		return s
	case s == Unknown || o == Unknown:
		return Unknown
	default:
		return MaybeLocked
	}
}

// fact is what the tracker knows about one handle at a program point.
type fact struct {
	state  State
	site   token.Pos // acquisition point, valid only when state is Locked
	shared bool      // acquired in shared (read) mode
	// probed is set when every path reaching this point attempted to
	// acquire the handle, possibly with a try operation that failed.
	probed bool
	// dropped is set when some path released the handle without having
	// acquired it, i.e. released a lock held by the caller.
	dropped bool
}

// attempted reports whether f guarantees an acquisition attempt.
func (f fact) attempted() bool {
	return f.state == Locked || f.probed
}

// lockState maps handles to facts. Handles not present are Unlocked.
type lockState struct {
	facts map[Handle]fact
}

func newLockState() *lockState {
	return &lockState{facts: make(map[Handle]fact)}
}

func (ls *lockState) get(h Handle) fact {
	if f, ok := ls.facts[h]; ok {
		return f
	}
	return fact{state: Unlocked}
}

func (ls *lockState) set(h Handle, f fact) {
	if f.state != Locked {
		f.site = token.NoPos
		f.shared = false
	} else {
		f.probed = false
		f.dropped = false
	}
	if f.state == Unknown {
		f.probed = false
		f.dropped = false
	}
	if f.state == Unlocked && !f.probed && !f.dropped {
		delete(ls.facts, h)
		return
	}
	ls.facts[h] = f
}

// lock marks h as acquired at pos.
func (ls *lockState) lock(h Handle, pos token.Pos, shared bool) {
	ls.set(h, fact{state: Locked, site: pos, shared: shared})
}

// unlock marks h as released.
func (ls *lockState) unlock(h Handle) {
	delete(ls.facts, h)
}

// clone returns a copy of the state.
func (ls *lockState) clone() *lockState {
	cp := &lockState{facts: make(map[Handle]fact, len(ls.facts))}
	for k, v := range ls.facts {
		cp.facts[k] = v
	}
	return cp
}

// join merges other into a new state. Locked on both sides keeps the earlier
// acquisition site so results do not depend on visiting order.
func (ls *lockState) join(other *lockState) *lockState {
	out := newLockState()
	for h := range ls.facts {
		out.set(h, joinFacts(ls.get(h), other.get(h)))
	}
	for h := range other.facts {
		if _, done := ls.facts[h]; done {
			continue
		}
		out.set(h, joinFacts(ls.get(h), other.get(h)))
	}
	return out
}

func joinFacts(a, b fact) fact {
	out := fact{state: a.state.Join(b.state)}
	if out.state != Locked {
		out.probed = a.attempted() && b.attempted()
		out.dropped = a.dropped || b.dropped
		return out
	}
	out.site = a.site
	if b.site.IsValid() && (!a.site.IsValid() || b.site < a.site) {
		out.site = b.site
	}
	out.shared = a.shared && b.shared
	return out
}

// equal reports whether both states hold the same facts.
func (ls *lockState) equal(other *lockState) bool {
	if len(ls.facts) != len(other.facts) {
		return false
	}
	for h, f := range ls.facts {
		if g, ok := other.facts[h]; !ok || g != f {
			return false
		}
	}
	return true
}

// handles returns the tracked handles in a stable order.
func (ls *lockState) handles() []Handle {
	out := make([]Handle, 0, len(ls.facts))
	for h := range ls.facts {
		out = append(out, h)
	}
	sortHandles(out)
	return out
}

func sortHandles(hs []Handle) {
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].Scope != hs[j].Scope {
			return hs[i].Scope < hs[j].Scope
		}
		if hs[i].Root != hs[j].Root {
			return hs[i].Root < hs[j].Root
		}
		return hs[i].Path < hs[j].Path
	})
}
