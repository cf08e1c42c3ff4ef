package cxx

import (
	"context"
	"go/token"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
)

// File is a parsed C or C++ source file with its declarations.
type File struct {
	Name string

	src  []byte
	tree *sitter.Tree
	tf   *token.File

	funcs   []*funcDecl
	classes []*classDecl
}

// Parsers are not safe for concurrent use; each goroutine takes its own.
var parsers = sync.Pool{
	New: func() interface{} {
		parser := sitter.NewParser()
		parser.SetLanguage(cpp.GetLanguage())
		return parser
	},
}

// ParseFile reads and parses the file at path.
func ParseFile(ctx context.Context, fset *token.FileSet, path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	return Parse(ctx, fset, path, src)
}

// Parse parses src, registering it in fset under name. Syntax errors are not
// fatal: tree-sitter recovers and the functions it could parse are kept.
func Parse(ctx context.Context, fset *token.FileSet, name string, src []byte) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", name)
	}

	// A cancellable context leaves a goroutine behind that may set the
	// parser's cancellation flag after it went back to the pool.
	parser := parsers.Get().(*sitter.Parser)
	tree, err := parser.ParseCtx(context.WithoutCancel(ctx), nil, src)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", name)
	}
	parser.Reset()
	parsers.Put(parser)

	f := &File{
		Name: name,
		src:  src,
		tree: tree,
		tf:   fset.AddFile(name, -1, len(src)),
	}
	f.tf.SetLinesForContent(src)

	root := tree.RootNode()
	if root.HasError() {
		log.WithField("file", name).Warn("Syntax errors, some functions may be skipped")
	}
	c := &collector{file: f}
	c.walk(root, "", nil)

	log.WithFields(logrus.Fields{
		"file":      name,
		"functions": len(f.funcs),
		"classes":   len(f.classes),
	}).Debug("Parsed file")
	return f, nil
}

func (f *File) pos(n *sitter.Node) token.Pos {
	return f.tf.Pos(int(n.StartByte()))
}

func (f *File) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(f.src)
}

// namedChildren returns the named children of n, skipping comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// fieldChildren returns the children of n stored under field.
func fieldChildren(n *sitter.Node, field string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) == field {
			out = append(out, n.Child(i))
		}
	}
	return out
}
