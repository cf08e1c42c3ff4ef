package analyzer

import (
	"go/ast"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/ssa"
)

// Comment directives. Both accept a trailing explanation.
//
//	//lockcheck:ignore  in a function's doc comment or body: silences the
//	                    function and the closures declared in it.
//	//lockcheck:nolint  silences the line it trails, or the next line when it
//	                    stands alone.
const (
	ignoreDirective = "lockcheck:ignore"
	nolintDirective = "lockcheck:nolint"
)

type lineKey struct {
	file string
	line int
}

type annotations struct {
	ignored map[*ssa.Function]bool
	nolint  map[lineKey]bool
}

func (ctx *passContext) parseAnnotations() {
	ann := &annotations{
		ignored: make(map[*ssa.Function]bool),
		nolint:  make(map[lineKey]bool),
	}
	fset := ctx.pass.Fset

	for _, file := range ctx.pass.Files {
		var code map[int]int
		for _, cg := range file.Comments {
			for _, c := range cg.List {
				text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
				switch {
				case isDirective(text, ignoreDirective):
					if fn := ctx.enclosingFunc(file, c.Pos()); fn != nil {
						ann.ignored[fn] = true
					}

				case isDirective(text, nolintDirective):
					if code == nil {
						code = codeColumns(fset, file)
					}
					pos := fset.Position(c.Pos())
					line := pos.Line + 1
					if col, ok := code[pos.Line]; ok && col < pos.Column {
						line = pos.Line
					}
					ann.nolint[lineKey{pos.Filename, line}] = true
				}
			}
		}
	}

	ctx.annotations = ann
}

func isDirective(text, directive string) bool {
	return text == directive || strings.HasPrefix(text, directive+" ")
}

// codeColumns maps each line of file to the column where its first syntax
// node starts.
func codeColumns(fset *token.FileSet, file *ast.File) map[int]int {
	cols := make(map[int]int)
	ast.Inspect(file, func(n ast.Node) bool {
		switch n.(type) {
		case nil, *ast.CommentGroup, *ast.Comment:
			return false
		case *ast.File:
			return true
		}
		p := fset.Position(n.Pos())
		if c, ok := cols[p.Line]; !ok || p.Column < c {
			cols[p.Line] = p.Column
		}
		return true
	})
	return cols
}

// enclosingFunc returns the function whose doc comment or body holds pos.
func (ctx *passContext) enclosingFunc(file *ast.File, pos token.Pos) *ssa.Function {
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		inDoc := fd.Doc != nil && fd.Doc.Pos() <= pos && pos < fd.Doc.End()
		if !inDoc && (pos < fd.Pos() || pos >= fd.End()) {
			continue
		}
		obj, ok := ctx.pass.TypesInfo.Defs[fd.Name].(*types.Func)
		if !ok {
			return nil
		}
		return ctx.ssaPkg.Prog.FuncValue(obj)
	}
	return nil
}

// isSuppressed reports whether a diagnostic in fn at pos is silenced by a
// directive. Closures inherit the ignore directive of their parent.
func (ctx *passContext) isSuppressed(fn *ssa.Function, pos token.Pos) bool {
	if ctx.annotations == nil {
		return false
	}
	for f := fn; f != nil; f = f.Parent() {
		if ctx.annotations.ignored[f] {
			return true
		}
	}
	if !pos.IsValid() {
		return false
	}
	p := ctx.pass.Fset.Position(pos)
	return ctx.annotations.nolint[lineKey{p.Filename, p.Line}]
}
