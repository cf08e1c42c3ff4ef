package analyzer

import (
	"fmt"
	"go/token"
	"go/types"
	"strings"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"golang.org/x/tools/go/ssa"
)

// SummaryFact is exported as an analysis.Fact attached to *types.Func. It
// carries the lock summary of an exported function so that callers in other
// packages can be checked.
type SummaryFact struct {
	Params   []string
	Acquires []HandleRef
	Exits    []ExitRef
}

// HandleRef is a gob-encodable lock handle.
type HandleRef struct {
	Scope  int
	Root   string
	Path   string
	Shared bool
}

// ExitRef is the state of a handle when the function returns.
type ExitRef struct {
	HandleRef
	State    int
	Probed   bool
	Released bool
}

func (*SummaryFact) AFact() {}

func (f *SummaryFact) String() string {
	acquires := make([]string, len(f.Acquires))
	for i, a := range f.Acquires {
		acquires[i] = a.handle().String()
	}
	exits := make([]string, len(f.Exits))
	for i, e := range f.Exits {
		exits[i] = e.handle().String() + ":" + lockstate.State(e.State).String()
	}
	return fmt.Sprintf("SummaryFact{acquires=[%s] exits=[%s]}",
		strings.Join(acquires, " "), strings.Join(exits, " "))
}

func (r HandleRef) handle() lockstate.Handle {
	return lockstate.Handle{Scope: lockstate.Scope(r.Scope), Root: r.Root, Path: r.Path}
}

func handleRef(h lockstate.Handle, shared bool) HandleRef {
	return HandleRef{Scope: int(h.Scope), Root: h.Root, Path: h.Path, Shared: shared}
}

// newSummaryFact converts a summary. Positions are dropped: they are only
// meaningful within the file set of the package that produced them.
func newSummaryFact(s *lockstate.Summary) *SummaryFact {
	f := &SummaryFact{Params: s.Params}
	for _, a := range s.Acquires {
		f.Acquires = append(f.Acquires, handleRef(a.Handle, a.Shared))
	}
	for _, e := range s.Exits {
		f.Exits = append(f.Exits, ExitRef{
			HandleRef: handleRef(e.Handle, e.Shared),
			State:     int(e.State),
			Probed:    e.Probed,
			Released:  e.Released,
		})
	}
	return f
}

func (f *SummaryFact) summary() *lockstate.Summary {
	s := &lockstate.Summary{Params: f.Params}
	for _, a := range f.Acquires {
		s.Acquires = append(s.Acquires, lockstate.Acquisition{Handle: a.handle(), Pos: token.NoPos, Shared: a.Shared})
	}
	for _, e := range f.Exits {
		s.Exits = append(s.Exits, lockstate.Exit{
			Handle:   e.handle(),
			State:    lockstate.State(e.State),
			Shared:   e.Shared,
			Probed:   e.Probed,
			Released: e.Released,
		})
	}
	return s
}

// importSummary imports the SummaryFact of an imported callee and registers
// it with the tracker. Skipped when the analyzer has no registered FactTypes
// (e.g. single-package tests).
func (ctx *passContext) importSummary(callee *ssa.Function) bool {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return false
	}
	if found, ok := ctx.imported[callee]; ok {
		return found
	}
	obj, ok := callee.Object().(*types.Func)
	if !ok || obj.Pkg() == nil || obj.Pkg() == ctx.pass.Pkg {
		ctx.imported[callee] = false
		return false
	}

	var fact SummaryFact
	found := ctx.pass.ImportObjectFact(obj, &fact)
	if found {
		ctx.tracker.SetSummary(procName(callee), fact.summary())
	}
	ctx.imported[callee] = found
	return found
}

// exportFacts exports a SummaryFact for every exported function of this
// package with a non-empty summary.
// Skipped when the analyzer has no registered FactTypes (e.g. single-package tests).
func (ctx *passContext) exportFacts() {
	if len(ctx.pass.Analyzer.FactTypes) == 0 {
		return
	}
	for _, p := range ctx.procs {
		fn := ctx.procFuncs[p]
		obj, ok := fn.Object().(*types.Func)
		if !ok || obj.Pkg() != ctx.pass.Pkg || !obj.Exported() {
			continue
		}
		s := ctx.tracker.Summary(p.Name)
		if s.Empty() {
			continue
		}
		ctx.pass.ExportObjectFact(obj, newSummaryFact(s))
	}
}
