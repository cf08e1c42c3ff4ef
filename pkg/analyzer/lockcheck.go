package analyzer

import (
	"go/token"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"github.com/akerouanton/lockcheck/pkg/optable"
	"github.com/sirupsen/logrus"
	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"
)

var log = logrus.WithField("prefix", "analyzer")

var (
	verbose   bool
	tablePath string
)

func init() {
	Analyzer.Flags.BoolVar(&verbose, "verbose", false, "report where the held lock was first acquired")
	Analyzer.Flags.StringVar(&tablePath, "table", "", "YAML file with additional lock operations and lock types")
}

var Analyzer = &analysis.Analyzer{
	Name:      "lockcheck",
	Doc:       "detects self deadlocks: acquiring a lock that is already held, directly or through a call",
	Run:       run,
	Requires:  []*analysis.Analyzer{buildssa.Analyzer},
	FactTypes: []analysis.Fact{(*SummaryFact)(nil)},
}

// passContext holds state for a single analyzer pass.
type passContext struct {
	pass     *analysis.Pass
	ssaPkg   *ssa.Package
	srcFuncs []*ssa.Function
	verbose  bool

	table   *optable.Table
	tracker *lockstate.Tracker

	// Lowered procedures, in srcFuncs order.
	procs     []*lockstate.Procedure
	procFuncs map[*lockstate.Procedure]*ssa.Function
	local     map[*ssa.Function]bool // functions with a body in this package

	// Imported callees, true when a SummaryFact was found.
	imported map[*ssa.Function]bool

	// Static call sites by position, used to name callees in diagnostics.
	callSites map[token.Pos]*ssa.Function

	// Annotation directives parsed from comments.
	annotations *annotations
}

func run(pass *analysis.Pass) (any, error) {
	ssaResult, ok := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)
	if !ok {
		return nil, nil
	}

	table := optable.Default()
	if tablePath != "" {
		var err error
		if table, err = optable.Load(tablePath); err != nil {
			return nil, err
		}
	}

	ctx := &passContext{
		pass:      pass,
		ssaPkg:    ssaResult.Pkg,
		srcFuncs:  ssaResult.SrcFuncs,
		verbose:   verbose,
		table:     table,
		tracker:   lockstate.New(table),
		procFuncs: make(map[*lockstate.Procedure]*ssa.Function),
		local:     make(map[*ssa.Function]bool),
		imported:  make(map[*ssa.Function]bool),
		callSites: make(map[token.Pos]*ssa.Function),
	}

	// Phase 0: Parse annotation directives from comments.
	ctx.parseAnnotations()

	// Phase 1: Lower every source function to a lock-state procedure. Imported
	// callees pick up their summaries from facts along the way.
	ctx.lowerFunctions()

	// Phase 2: Compute procedure summaries to a fixed point.
	ctx.tracker.Summarize(ctx.procs)
	log.WithFields(logrus.Fields{
		"package":    pass.Pkg.Path(),
		"procedures": len(ctx.procs),
		"imported":   len(ctx.imported),
	}).Debug("Summarized package")

	// Phase 3: Check each procedure and report.
	ctx.checkProcedures()

	// Phase 4: Export summaries for downstream packages.
	ctx.exportFacts()

	return nil, nil
}
