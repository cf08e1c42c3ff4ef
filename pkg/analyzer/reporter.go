package analyzer

import (
	"fmt"
	"go/token"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"github.com/akerouanton/lockcheck/pkg/report"
)

// checkProcedures reports the findings of every lowered procedure, using the
// summaries computed beforehand for calls.
func (ctx *passContext) checkProcedures() {
	for _, p := range ctx.procs {
		fn := ctx.procFuncs[p]
		for _, f := range ctx.tracker.Check(p) {
			pos := reportPos(f)
			if ctx.isSuppressed(fn, pos) {
				continue
			}
			ctx.pass.Reportf(pos, "%s", ctx.message(f))
		}
	}
}

// reportPos returns where a finding is reported: the call site when the
// second acquisition happens in a callee, the acquisition otherwise.
func reportPos(f lockstate.Finding) token.Pos {
	if f.Call.IsValid() {
		return f.Call
	}
	return f.Second
}

// message formats the diagnostic of a finding.
func (ctx *passContext) message(f lockstate.Finding) string {
	var callee string
	if f.Call.IsValid() {
		callee = ctx.calleeName(f.Call)
	}
	msg := report.Message(f.Kind, f.Handle.String(), callee)
	if ctx.verbose && f.First.IsValid() {
		first := ctx.pass.Fset.Position(f.First)
		msg += fmt.Sprintf(" (acquired at line %d)", first.Line)
	}
	return msg
}

func (ctx *passContext) calleeName(pos token.Pos) string {
	if callee, ok := ctx.callSites[pos]; ok {
		return callee.Name()
	}
	return "?"
}
