package analyzer

import (
	"go/token"
	"go/types"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"golang.org/x/tools/go/ssa"
)

// procName returns the procedure name of fn. Instantiations of a generic
// function share the name of their origin.
func procName(fn *ssa.Function) string {
	if origin := fn.Origin(); origin != nil {
		fn = origin
	}
	return fn.String()
}

// callOps lowers a call. Calls to methods of lock types become Method ops,
// static calls to summarized functions become Call ops, and locks handed to
// anything else escape. result is the call's value, nil for deferred calls.
func (l *lowering) callOps(common *ssa.CallCommon, pos token.Pos, result ssa.Value) []lockstate.Op {
	if common.IsInvoke() {
		if !l.ctx.isLockType(common.Value.Type()) {
			return l.escapeOps(common.Args, pos)
		}
		return []lockstate.Op{l.methodOp(common.Method.Name(), resolveHandle(l.fn, common.Value), pos, result)}
	}
	if _, ok := common.Value.(*ssa.Builtin); ok {
		return nil
	}

	callee := common.StaticCallee()
	if callee == nil {
		return l.escapeOps(common.Args, pos)
	}
	if h, ok := l.ctx.lockMethodReceiver(l.fn, callee, common.Args); ok {
		return []lockstate.Op{l.methodOp(callee.Name(), h, pos, result)}
	}
	if !l.ctx.hasSummary(callee) {
		return l.escapeOps(common.Args, pos)
	}

	actuals := common.Args
	if mc, ok := common.Value.(*ssa.MakeClosure); ok {
		actuals = append(append([]ssa.Value(nil), actuals...), mc.Bindings...)
	}
	args := make([]lockstate.Handle, len(actuals))
	for i, a := range actuals {
		args[i] = resolveHandle(l.fn, a)
	}
	l.ctx.callSites[pos] = callee
	return []lockstate.Op{{
		Kind:   lockstate.OpCall,
		Callee: procName(callee),
		Args:   args,
		Pos:    pos,
	}}
}

func (l *lowering) methodOp(name string, h lockstate.Handle, pos token.Pos, result ssa.Value) lockstate.Op {
	op := lockstate.Op{Kind: lockstate.OpMethod, Name: name, Handle: h, Pos: pos}
	if result != nil {
		l.lockCalls[result] = op
	}
	return op
}

// escapeOps returns an Escape op for every lock passed by reference in args.
func (l *lowering) escapeOps(args []ssa.Value, pos token.Pos) []lockstate.Op {
	var ops []lockstate.Op
	for _, a := range args {
		t := a.Type()
		if _, isPtr := t.Underlying().(*types.Pointer); !isPtr && !types.IsInterface(t) {
			continue
		}
		if !l.ctx.isLockType(t) {
			continue
		}
		h := resolveHandle(l.fn, a)
		if h.IsZero() {
			continue
		}
		ops = append(ops, lockstate.Op{Kind: lockstate.OpEscape, Handle: h, Pos: pos})
	}
	return ops
}

// hasSummary reports whether calls to callee can be resolved: either it is
// lowered in this package or an upstream package exported its summary.
func (ctx *passContext) hasSummary(callee *ssa.Function) bool {
	if origin := callee.Origin(); origin != nil {
		callee = origin
	}
	if ctx.local[callee] {
		return true
	}
	return ctx.importSummary(callee)
}
