package analyzer

import (
	"go/token"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"golang.org/x/tools/go/ssa"
)

// lowering holds per-function state while an SSA function is turned into a
// lock-state procedure. Each basic block becomes one node.
type lowering struct {
	ctx   *passContext
	fn    *ssa.Function
	proc  *lockstate.Procedure
	nodes map[*ssa.BasicBlock]*lockstate.Node

	// Deferred calls in dominator-tree preorder, i.e. registration order
	// along any path.
	defers []*ssa.Defer

	// Lock method calls keyed by their result, for try operations tested by
	// an If.
	lockCalls map[ssa.Value]lockstate.Op
}

// lowerFunctions lowers all source functions with a body.
func (ctx *passContext) lowerFunctions() {
	for _, fn := range ctx.srcFuncs {
		if len(fn.Blocks) > 0 {
			ctx.local[fn] = true
		}
	}
	for _, fn := range ctx.srcFuncs {
		if !ctx.local[fn] {
			continue
		}
		p := ctx.lowerFunction(fn)
		ctx.procs = append(ctx.procs, p)
		ctx.procFuncs[p] = fn
	}
}

// lowerFunction builds the procedure of fn. Nodes follow fn.Blocks, so the
// entry block is the entry node.
func (ctx *passContext) lowerFunction(fn *ssa.Function) *lockstate.Procedure {
	// Free variables of closures follow the declared parameters.
	params := make([]string, 0, len(fn.Params)+len(fn.FreeVars))
	for i := range fn.Params {
		params = append(params, paramName(fn, i))
	}
	for _, fv := range fn.FreeVars {
		params = append(params, fv.Name())
	}
	l := &lowering{
		ctx:       ctx,
		fn:        fn,
		proc:      &lockstate.Procedure{Name: procName(fn), Params: params, Pos: fn.Pos()},
		nodes:     make(map[*ssa.BasicBlock]*lockstate.Node, len(fn.Blocks)),
		lockCalls: make(map[ssa.Value]lockstate.Op),
	}
	for _, b := range fn.Blocks {
		l.nodes[b] = l.proc.NewNode()
	}
	for _, b := range fn.DomPreorder() {
		for _, instr := range b.Instrs {
			if d, ok := instr.(*ssa.Defer); ok {
				l.defers = append(l.defers, d)
			}
		}
	}

	for _, b := range fn.Blocks {
		n := l.nodes[b]
		for _, instr := range b.Instrs {
			l.lowerInstruction(n, b, instr)
		}
	}
	// Edges last: a try operation may be tested in a later block than the
	// one that calls it.
	for _, b := range fn.Blocks {
		l.connect(b)
	}
	return l.proc
}

// lowerInstruction appends the ops of instr to n.
func (l *lowering) lowerInstruction(n *lockstate.Node, b *ssa.BasicBlock, instr ssa.Instruction) {
	switch inst := instr.(type) {
	case *ssa.Call:
		n.Add(l.callOps(inst.Common(), inst.Pos(), inst)...)
	case *ssa.Go:
		// The goroutine may release or keep whatever lock it is handed.
		n.Add(l.escapeOps(inst.Common().Args, inst.Pos())...)
	case *ssa.Defer:
		// Deferred calls execute at RunDefers, not here.
	case *ssa.RunDefers:
		n.Add(l.deferredOps(b)...)
	case *ssa.Panic:
		n.NoReturn = true
	}
}

// deferredOps returns the ops of the deferred calls that are registered on
// every path to b, in execution (LIFO) order. Defers in blocks that do not
// dominate b are conditional and ignored.
func (l *lowering) deferredOps(b *ssa.BasicBlock) []lockstate.Op {
	var ops []lockstate.Op
	for i := len(l.defers) - 1; i >= 0; i-- {
		d := l.defers[i]
		if !d.Block().Dominates(b) {
			continue
		}
		ops = append(ops, l.callOps(d.Common(), d.Pos(), nil)...)
	}
	return ops
}

// connect adds the outgoing edges of b. When b branches on the result of a
// try operation, each edge goes through a node carrying the matching Assume
// op, so the refinement only applies to that edge.
func (l *lowering) connect(b *ssa.BasicBlock) {
	n := l.nodes[b]
	if len(b.Instrs) > 0 && len(b.Succs) == 2 {
		if ifInstr, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If); ok {
			if op, negated, ok := l.tryCondition(ifInstr.Cond); ok {
				held, free := b.Succs[0], b.Succs[1]
				if negated {
					held, free = free, held
				}
				l.connectVia(n, l.nodes[held], lockstate.Op{Kind: lockstate.OpAssumeHeld, Name: op.Name, Handle: op.Handle, Pos: op.Pos})
				l.connectVia(n, l.nodes[free], lockstate.Op{Kind: lockstate.OpAssumeFree, Name: op.Name, Handle: op.Handle, Pos: op.Pos})
				return
			}
		}
	}
	for _, succ := range b.Succs {
		l.proc.Connect(n, l.nodes[succ])
	}
}

func (l *lowering) connectVia(from, to *lockstate.Node, op lockstate.Op) {
	edge := l.proc.NewNode().Add(op)
	l.proc.Connect(from, edge)
	l.proc.Connect(edge, to)
}

// tryCondition reports whether cond is the result of a lock method call,
// possibly negated.
func (l *lowering) tryCondition(cond ssa.Value) (lockstate.Op, bool, bool) {
	negated := false
	for {
		u, ok := cond.(*ssa.UnOp)
		if !ok || u.Op != token.NOT {
			break
		}
		negated = !negated
		cond = u.X
	}
	op, ok := l.lockCalls[cond]
	if !ok || op.Handle.IsZero() {
		return lockstate.Op{}, false, false
	}
	return op, negated, true
}
