package cxx

import (
	"context"
	"fmt"
	"go/token"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/errgroup"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"github.com/akerouanton/lockcheck/pkg/optable"
)

// Program is a set of parsed files analyzed together, so that calls across
// files resolve to each other's summaries.
type Program struct {
	// Jobs bounds the number of files lowered concurrently. Zero means no
	// bound.
	Jobs int

	fset    *token.FileSet
	table   *optable.Table
	files   []*File
	classes map[string]*classDecl
	funcs   map[string][]*funcDecl
}

// NewProgram indexes the classes and functions of files.
func NewProgram(fset *token.FileSet, table *optable.Table, files ...*File) *Program {
	p := &Program{
		fset:    fset,
		table:   table,
		files:   files,
		classes: make(map[string]*classDecl),
		funcs:   make(map[string][]*funcDecl),
	}
	for _, f := range files {
		for _, cls := range f.classes {
			if prev, ok := p.classes[cls.name]; ok {
				for name, typ := range cls.fields {
					prev.fields[name] = typ
				}
				for name := range cls.methods {
					prev.methods[name] = true
				}
				continue
			}
			p.classes[cls.name] = cls
		}
	}
	for _, f := range files {
		for _, fd := range f.funcs {
			overloads := p.funcs[fd.name]
			fd.proc = fd.name
			if len(overloads) > 0 {
				fd.proc = fmt.Sprintf("%s#%d", fd.name, len(overloads))
			}
			p.funcs[fd.name] = append(overloads, fd)

			if cls := p.classes[fd.class]; cls != nil && fd.isDestructor() {
				cls.dtor = fd
				cls.released = p.releasedFields(fd)
			}
		}
	}
	return p
}

// releasedFields returns the fields a destructor calls a release operation
// on, e.g. mu_->unlock() or this->mu_.unlock().
func (p *Program) releasedFields(dtor *funcDecl) []string {
	f := dtor.file
	var out []string
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if n.Type() == "call_expression" {
			if fn := n.ChildByFieldName("function"); fn != nil && fn.Type() == "field_expression" {
				method := f.text(fn.ChildByFieldName("field"))
				field := memberName(f, fn.ChildByFieldName("argument"))
				if e, ok := p.table.Effect(method); ok && e == lockstate.EffectRelease && field != "" {
					out = append(out, field)
				}
			}
		}
		for _, child := range namedChildren(n) {
			visit(child)
		}
	}
	if body := dtor.node.ChildByFieldName("body"); body != nil {
		visit(body)
	}
	return out
}

// lookupFunc resolves a call to name with nargs arguments made from
// namespace ns, searching enclosing namespaces outwards.
func (p *Program) lookupFunc(name, ns string, nargs int) *funcDecl {
	name = stripTemplate(name)
	for {
		if fd := p.overload(qualify(ns, name), nargs); fd != nil {
			return fd
		}
		if ns == "" {
			return nil
		}
		if i := strings.LastIndex(ns, "::"); i >= 0 {
			ns = ns[:i]
		} else {
			ns = ""
		}
	}
}

// overload picks the definition of name accepting nargs arguments, or the
// first one.
func (p *Program) overload(name string, nargs int) *funcDecl {
	overloads := p.funcs[name]
	for _, fd := range overloads {
		if nargs >= fd.minArgs && nargs <= len(fd.params) {
			return fd
		}
	}
	if len(overloads) > 0 {
		return overloads[0]
	}
	return nil
}

// lookupClass resolves a type name used from namespace ns.
func (p *Program) lookupClass(typ, ns string) *classDecl {
	name := strings.TrimRight(stripTemplate(typ), "*& ")
	name = strings.TrimPrefix(name, "const ")
	if name == "" {
		return nil
	}
	for {
		if cls, ok := p.classes[qualify(ns, name)]; ok {
			return cls
		}
		if ns == "" {
			return nil
		}
		if i := strings.LastIndex(ns, "::"); i >= 0 {
			ns = ns[:i]
		} else {
			ns = ""
		}
	}
}

// lowered is the output of lowering one file.
type lowered struct {
	procs []*lockstate.Procedure
	// callees maps call sites to the called function.
	callees map[token.Pos]string
}

// Check lowers every function, summarizes them to a fixed point and
// returns the findings sorted by position.
func (p *Program) Check(ctx context.Context) ([]Finding, error) {
	results := make([]*lowered, len(p.files))
	g, gctx := errgroup.WithContext(ctx)
	if p.Jobs > 0 {
		g.SetLimit(p.Jobs)
	}
	for i, f := range p.files {
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.lowerFile(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var procs []*lockstate.Procedure
	callees := make(map[token.Pos]string)
	for _, r := range results {
		procs = append(procs, r.procs...)
		for pos, name := range r.callees {
			callees[pos] = name
		}
	}

	tracker := lockstate.New(p.table)
	var findings []Finding
	for _, f := range tracker.CheckAll(procs) {
		findings = append(findings, p.finding(f, callees))
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i].Pos, findings[j].Pos
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	log.WithField("procedures", len(procs)).WithField("findings", len(findings)).Debug("Checked program")
	return findings, nil
}

func (p *Program) lowerFile(f *File) *lowered {
	out := &lowered{callees: make(map[token.Pos]string)}
	for _, fd := range f.funcs {
		b := newBuilder(p, fd, out.callees)
		if proc := b.lower(); proc != nil {
			out.procs = append(out.procs, proc)
		}
	}
	return out
}

func (p *Program) finding(f lockstate.Finding, callees map[token.Pos]string) Finding {
	out := Finding{
		Kind:      f.Kind,
		Lock:      f.Handle.String(),
		Function:  procFunc(f.Proc),
		FirstPos:  p.fset.Position(f.First),
		SecondPos: p.fset.Position(f.Second),
	}
	out.Pos = out.SecondPos
	if f.Call.IsValid() {
		out.Pos = p.fset.Position(f.Call)
		out.Callee = callees[f.Call]
	}
	return out
}

// procFunc strips the overload suffix of a procedure name.
func procFunc(proc string) string {
	if i := strings.LastIndex(proc, "#"); i >= 0 {
		return proc[:i]
	}
	return proc
}
