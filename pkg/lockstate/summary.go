package lockstate

import (
	"go/token"
	"reflect"
)

// Acquisition is a blocking acquire performed by a procedure, directly or
// through its callees.
type Acquisition struct {
	Handle Handle
	Pos    token.Pos
	Shared bool
}

// Exit is the state of a caller-visible handle when a procedure returns.
type Exit struct {
	Handle Handle
	State  State
	Shared bool
	// Probed is set on a MaybeLocked exit when every path attempted the
	// acquisition.
	Probed bool
	// Released is set when the procedure releases the handle without having
	// acquired it, i.e. it releases a lock held by its caller.
	Released bool
}

// Summary is the net effect of a procedure on handles rooted at its
// parameters or at globals.
type Summary struct {
	Params   []string
	Acquires []Acquisition
	Exits    []Exit
}

// Empty reports whether the summary has no effect on callers.
func (s *Summary) Empty() bool {
	return s == nil || (len(s.Acquires) == 0 && len(s.Exits) == 0)
}

// SetSummary registers the summary for the procedure named name. It is used
// for procedures whose body is not available, e.g. imported functions.
func (t *Tracker) SetSummary(name string, s *Summary) {
	t.summaries[name] = s
}

// Summary returns the summary known for name, or nil.
func (t *Tracker) Summary(name string) *Summary {
	return t.summaries[name]
}

// Summarize computes summaries for procs, iterating until no summary
// changes so that recursive and mutually recursive procedures converge.
func (t *Tracker) Summarize(procs []*Procedure) {
	for i := 0; i < maxIterations; i++ {
		changed := false
		for _, p := range procs {
			s := t.summarize(p)
			if prev, ok := t.summaries[p.Name]; ok && reflect.DeepEqual(prev, s) {
				continue
			}
			t.summaries[p.Name] = s
			changed = true
		}
		if !changed {
			return
		}
	}
}

func (t *Tracker) summarize(p *Procedure) *Summary {
	sol := t.solve(p)
	s := &Summary{Params: p.Params}

	seen := make(map[Handle]bool)
	acquired := make(map[Handle]bool)
	released := make(map[Handle]bool)
	obs := &observer{
		acquire: func(h Handle, before fact, pos token.Pos, shared bool) {
			if !h.Exported() {
				return
			}
			seen[h] = true
			// After releasing the caller's lock the acquisition cannot
			// conflict with it.
			if acquired[h] || before.dropped {
				return
			}
			acquired[h] = true
			s.Acquires = append(s.Acquires, Acquisition{Handle: h, Pos: pos, Shared: shared})
		},
		release: func(h Handle, before fact) {
			if h.Exported() && before.state != Locked {
				released[h] = true
			}
		},
	}
	t.walk(sol, obs)

	var final *lockState
	for _, n := range p.exits() {
		out, ok := sol.exit[n.Index]
		if !ok {
			continue
		}
		if final == nil {
			final = out.clone()
		} else {
			final = final.join(out)
		}
	}
	if final == nil {
		// No normal return: only the acquisitions matter to callers.
		return s
	}

	for _, h := range final.handles() {
		if !h.Exported() {
			continue
		}
		f := final.get(h)
		if f.state == Unlocked && !released[h] {
			continue
		}
		if f.state == MaybeLocked && f.probed && seen[h] {
			// Try-then-block: every path either got the lock from the probe
			// or went on to a blocking acquire, so the net effect is Locked.
			f = fact{state: Locked, shared: f.shared}
		}
		s.Exits = append(s.Exits, Exit{
			Handle:   h,
			State:    f.state,
			Shared:   f.shared,
			Probed:   f.probed,
			Released: released[h],
		})
		delete(released, h)
	}
	var rest []Handle
	for h := range released {
		rest = append(rest, h)
	}
	sortHandles(rest)
	for _, h := range rest {
		s.Exits = append(s.Exits, Exit{Handle: h, State: Unlocked, Released: true})
	}
	return s
}

// applyCall applies the summary of op.Callee at a call site.
func (t *Tracker) applyCall(op Op, ls *lockState, obs *observer) {
	s := t.summaries[op.Callee]
	if s == nil {
		return // unresolved callee: no effect
	}

	for _, acq := range s.Acquires {
		h, ok := rebase(acq.Handle, s.Params, op.Args)
		if !ok {
			continue
		}
		cur := ls.get(h)
		t.check(h, cur, acq.Pos, op.Pos, acq.Shared, obs)
		obs.onAcquire(h, cur, acq.Pos, acq.Shared)
	}

	for _, ex := range s.Exits {
		h, ok := rebase(ex.Handle, s.Params, op.Args)
		if !ok {
			continue
		}
		cur := ls.get(h)
		switch ex.State {
		case Locked:
			if cur.state != Locked {
				ls.lock(h, op.Pos, ex.Shared)
			}
		case Unlocked:
			if ex.Released {
				t.release(h, ls, obs)
			}
		default:
			ls.set(h, fact{state: cur.state.Join(ex.State), probed: ex.Probed})
		}
	}
}
