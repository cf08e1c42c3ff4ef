// Package cxx checks C and C++ sources for self deadlocks. Files are parsed
// with tree-sitter and each function definition is lowered to a lockstate
// procedure: statements become nodes, lock method calls, scope guards and
// calls to other functions become operations.
package cxx

import (
	"context"
	"go/token"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"github.com/akerouanton/lockcheck/pkg/optable"
	"github.com/akerouanton/lockcheck/pkg/report"
)

var log = logrus.WithField("prefix", "cxx")

// Finding is a lockstate finding with resolved positions.
type Finding struct {
	Kind     lockstate.Kind
	Lock     string
	Function string
	// Callee is set when the second acquisition happens inside a call.
	Callee string

	Pos       token.Position // call site, or the second acquisition
	FirstPos  token.Position
	SecondPos token.Position
}

func (f Finding) Message() string {
	return report.Message(f.Kind, f.Lock, f.Callee)
}

// Entry converts f for the report writers.
func (f Finding) Entry() report.Entry {
	e := report.Entry{
		File:      f.Pos.Filename,
		Line:      f.Pos.Line,
		Column:    f.Pos.Column,
		Kind:      f.Kind.String(),
		Lock:      f.Lock,
		Function:  f.Function,
		Callee:    f.Callee,
		Message:   f.Message(),
		FirstLine: f.FirstPos.Line,
	}
	if f.Callee != "" {
		e.CallLine = f.SecondPos.Line
	}
	return e
}

// CheckFiles parses paths with at most jobs files in flight and checks them
// as one program.
func CheckFiles(ctx context.Context, paths []string, table *optable.Table, jobs int) ([]Finding, error) {
	fset := token.NewFileSet()
	files := make([]*File, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			f, err := ParseFile(gctx, fset, path)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prog := NewProgram(fset, table, files...)
	prog.Jobs = jobs
	return prog.Check(ctx)
}
