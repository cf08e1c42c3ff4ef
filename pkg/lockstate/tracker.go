// Package lockstate implements an intraprocedural lock-state tracker that
// detects self deadlocks and double acquisitions on control-flow graphs.
//
// Each lock handle is mapped to one State per program point. States from
// divergent predecessors are joined, so a lock held on only one branch becomes
// MaybeLocked and never drives a finding. Calls are resolved through
// procedure summaries that record the net effect of the callee.
package lockstate

import "go/token"

// maxIterations bounds every fixed-point loop. The lattice is finite, so the
// limit only matters for malformed graphs.
const maxIterations = 1000

// Tracker runs the lock-state analysis. It holds the operation table and the
// summaries of the procedures it has seen or been given.
type Tracker struct {
	table     Table
	summaries map[string]*Summary
}

// New returns a tracker resolving method operations through table.
func New(table Table) *Tracker {
	return &Tracker{
		table:     table,
		summaries: make(map[string]*Summary),
	}
}

// solution holds the stabilized per-node states of one procedure.
type solution struct {
	proc  *Procedure
	entry map[int]*lockState // state before the node's first op
	exit  map[int]*lockState // state after the node's last op
}

// observer receives events from the final walk over a stabilized solution.
type observer struct {
	finding func(Finding)
	acquire func(h Handle, before fact, pos token.Pos, shared bool)
	release func(h Handle, before fact)
}

func (o *observer) onFinding(f Finding) {
	if o != nil && o.finding != nil {
		o.finding(f)
	}
}

func (o *observer) onAcquire(h Handle, before fact, pos token.Pos, shared bool) {
	if o != nil && o.acquire != nil {
		o.acquire(h, before, pos, shared)
	}
}

func (o *observer) onRelease(h Handle, before fact) {
	if o != nil && o.release != nil {
		o.release(h, before)
	}
}

// Check returns the findings of p, using the summaries currently known to
// the tracker for calls.
func (t *Tracker) Check(p *Procedure) []Finding {
	var findings []Finding
	reported := make(map[findingKey]bool)
	obs := &observer{
		finding: func(f Finding) {
			key := findingKey{handle: f.Handle, first: f.First}
			if reported[key] {
				return
			}
			reported[key] = true
			f.Proc = p.Name
			findings = append(findings, f)
		},
	}
	t.walk(t.solve(p), obs)
	return findings
}

// CheckAll summarizes procs to a fixed point and returns their findings in
// procedure order.
func (t *Tracker) CheckAll(procs []*Procedure) []Finding {
	t.Summarize(procs)
	var findings []Finding
	for _, p := range procs {
		findings = append(findings, t.Check(p)...)
	}
	return findings
}

// solve runs the worklist algorithm until every node's entry state is stable.
func (t *Tracker) solve(p *Procedure) *solution {
	sol := &solution{
		proc:  p,
		entry: make(map[int]*lockState),
		exit:  make(map[int]*lockState),
	}
	if len(p.Nodes) == 0 {
		return sol
	}

	sol.entry[p.Entry().Index] = newLockState()
	wl := newWorklist(p.Entry())
	limit := maxIterations * len(p.Nodes)
	for i := 0; !wl.empty() && i < limit; i++ {
		n := wl.pop()
		out := sol.entry[n.Index].clone()
		for _, op := range n.Ops {
			t.transfer(op, out, nil)
		}
		if prev, ok := sol.exit[n.Index]; ok && prev.equal(out) {
			continue
		}
		sol.exit[n.Index] = out

		for _, succ := range n.Succs {
			prev, visited := sol.entry[succ.Index]
			if !visited {
				sol.entry[succ.Index] = out.clone()
				wl.push(succ)
				continue
			}
			merged := prev.join(out)
			if merged.equal(prev) {
				continue
			}
			sol.entry[succ.Index] = merged
			wl.push(succ)
		}
	}
	return sol
}

// walk replays every reachable node once from its stabilized entry state,
// reporting events to obs in node order then op order.
func (t *Tracker) walk(sol *solution, obs *observer) {
	for _, n := range sol.proc.Nodes {
		in, ok := sol.entry[n.Index]
		if !ok {
			continue // unreachable
		}
		ls := in.clone()
		for _, op := range n.Ops {
			t.transfer(op, ls, obs)
		}
	}
}

// transfer applies a single operation to ls.
func (t *Tracker) transfer(op Op, ls *lockState, obs *observer) {
	if op.Kind == OpCall {
		t.applyCall(op, ls, obs)
		return
	}
	if op.Handle.IsZero() {
		return
	}

	switch op.Kind {
	case OpMethod:
		effect, ok := t.table.Effect(op.Name)
		if !ok {
			ls.set(op.Handle, fact{state: Unknown})
			return
		}
		t.applyEffect(effect, op, ls, obs)
	case OpGuardEnter:
		t.acquire(op.Handle, op.Pos, false, ls, obs)
	case OpGuardExit:
		t.release(op.Handle, ls, obs)
	case OpEscape:
		ls.set(op.Handle, fact{state: Unknown})
	case OpAssumeHeld, OpAssumeFree:
		// Only plain try operations are refined. Timed variants stay
		// MaybeLocked on both edges.
		if effect, ok := t.table.Effect(op.Name); !ok || effect != EffectTryAcquire {
			return
		}
		if ls.get(op.Handle).state != MaybeLocked {
			return
		}
		if op.Kind == OpAssumeHeld {
			ls.lock(op.Handle, op.Pos, false)
		} else {
			ls.set(op.Handle, fact{state: Unlocked, probed: true})
		}
	}
}

func (t *Tracker) applyEffect(effect Effect, op Op, ls *lockState, obs *observer) {
	switch effect {
	case EffectAcquire:
		t.acquire(op.Handle, op.Pos, false, ls, obs)
	case EffectSharedAcquire:
		t.acquire(op.Handle, op.Pos, true, ls, obs)
	case EffectTryAcquire, EffectTimedTryAcquire:
		cur := ls.get(op.Handle)
		if cur.state == Locked {
			return
		}
		ls.set(op.Handle, fact{state: cur.state.Join(MaybeLocked), probed: true})
	case EffectRelease:
		t.release(op.Handle, ls, obs)
	case EffectEscape:
		ls.set(op.Handle, fact{state: Unknown})
	}
}

// acquire performs a blocking acquisition of h at pos.
func (t *Tracker) acquire(h Handle, pos token.Pos, shared bool, ls *lockState, obs *observer) {
	cur := ls.get(h)
	t.check(h, cur, pos, token.NoPos, shared, obs)
	obs.onAcquire(h, cur, pos, shared)
	if cur.state != Locked {
		ls.lock(h, pos, shared)
	}
}

// check reports a finding when h is definitely held before a blocking
// acquisition. MaybeLocked and Unknown never report.
func (t *Tracker) check(h Handle, cur fact, second, call token.Pos, shared bool, obs *observer) {
	if cur.state != Locked {
		return
	}
	kind := SelfDeadlock
	if shared && cur.shared {
		kind = DoubleLock
	}
	obs.onFinding(Finding{
		Kind:   kind,
		Handle: h,
		First:  cur.site,
		Second: second,
		Call:   call,
	})
}

func (t *Tracker) release(h Handle, ls *lockState, obs *observer) {
	before := ls.get(h)
	obs.onRelease(h, before)
	if before.state == Locked {
		ls.unlock(h)
		return
	}
	ls.set(h, fact{state: Unlocked, dropped: true})
}
