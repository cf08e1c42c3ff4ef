package cxx

import (
	"fmt"
	"go/token"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
)

// guard is an object whose destruction releases locks: a standard scope
// guard, or a user class whose destructor unlocks a field bound to a
// constructor argument.
type guard struct {
	handles []lockstate.Handle
	shared  bool
	pos     token.Pos

	// dtor is called on obj instead when the destructor releases nothing
	// the constructor was given.
	dtor string
	obj  lockstate.Handle
}

// scope is a lexical block.
type scope struct {
	vars   map[string]string // local name → declared type
	guards []guard
	// Scope guards constructed as named variables, for lk.unlock().
	guardVars map[string]lockstate.Handle
}

// target is where break or continue jumps.
type target struct {
	node  *lockstate.Node
	depth int // scopes left open at the target
}

// builder lowers one function definition into a procedure.
type builder struct {
	p       *Program
	fd      *funcDecl
	f       *File
	class   *classDecl
	callees map[token.Pos]string

	proc   *lockstate.Procedure
	cur    *lockstate.Node // nil when unreachable
	scopes []*scope

	breaks    []target
	continues []target
}

func newBuilder(p *Program, fd *funcDecl, callees map[token.Pos]string) *builder {
	return &builder{
		p:       p,
		fd:      fd,
		f:       fd.file,
		class:   p.classes[fd.class],
		callees: callees,
	}
}

// lower returns the procedure of the function, or nil for defaulted and
// deleted functions.
func (b *builder) lower() *lockstate.Procedure {
	body := b.fd.node.ChildByFieldName("body")
	if body == nil {
		return nil
	}

	var params []string
	if b.fd.isMember() {
		params = append(params, "this")
	}
	for i, prm := range b.fd.params {
		name := prm.name
		if name == "" {
			name = fmt.Sprintf("$%d", i)
		}
		params = append(params, name)
	}
	b.proc = lockstate.NewProcedure(b.fd.proc, params...)
	b.proc.Pos = b.f.pos(b.fd.node)
	b.cur = b.proc.Entry()

	b.pushScope()
	b.initializers()
	b.stmt(body)
	b.popScope()
	return b.proc
}

// initializers lowers the calls made by constructor member initializers.
func (b *builder) initializers() {
	for _, child := range namedChildren(b.fd.node) {
		if child.Type() == "field_initializer_list" {
			b.expr(child)
		}
	}
}

func (b *builder) emit(ops ...lockstate.Op) {
	if b.cur != nil {
		b.cur.Add(ops...)
	}
}

// edge starts a new node reached from `from`, or returns nil when `from`
// is unreachable.
func (b *builder) edge(from *lockstate.Node, ops ...lockstate.Op) *lockstate.Node {
	if from == nil {
		return nil
	}
	n := b.proc.NewNode().Add(ops...)
	b.proc.Connect(from, n)
	return n
}

// join merges the reachable nodes into one.
func (b *builder) join(nodes ...*lockstate.Node) *lockstate.Node {
	var live []*lockstate.Node
	for _, n := range nodes {
		if n != nil {
			live = append(live, n)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	n := b.proc.NewNode()
	for _, from := range live {
		b.proc.Connect(from, n)
	}
	return n
}

func (b *builder) connect(from, to *lockstate.Node) {
	if from != nil {
		b.proc.Connect(from, to)
	}
}

func (b *builder) pushScope() {
	b.scopes = append(b.scopes, &scope{
		vars:      make(map[string]string),
		guardVars: make(map[string]lockstate.Handle),
	})
}

func (b *builder) popScope() {
	b.releaseScopes(len(b.scopes) - 1)
	b.scopes = b.scopes[:len(b.scopes)-1]
}

// releaseScopes destroys the guards of the scopes at depth and above,
// innermost first, without closing the scopes.
func (b *builder) releaseScopes(depth int) {
	for i := len(b.scopes) - 1; i >= depth; i-- {
		guards := b.scopes[i].guards
		for j := len(guards) - 1; j >= 0; j-- {
			b.destroy(guards[j])
		}
	}
}

func (b *builder) destroy(g guard) {
	if g.dtor != "" {
		b.emit(lockstate.Op{Kind: lockstate.OpCall, Callee: g.dtor, Args: []lockstate.Handle{g.obj}, Pos: g.pos})
		return
	}
	for i := len(g.handles) - 1; i >= 0; i-- {
		if g.shared {
			b.emit(lockstate.Op{Kind: lockstate.OpMethod, Name: "unlock_shared", Handle: g.handles[i], Pos: g.pos})
			continue
		}
		b.emit(lockstate.Op{Kind: lockstate.OpGuardExit, Handle: g.handles[i], Pos: g.pos})
	}
}

func (b *builder) jump(targets []target) {
	if len(targets) == 0 {
		b.cur = nil
		return
	}
	t := targets[len(targets)-1]
	b.releaseScopes(t.depth)
	b.connect(b.cur, t.node)
	b.cur = nil
}

// noReturn ends the current path without reaching the caller.
func (b *builder) noReturn() {
	if b.cur != nil {
		b.cur.NoReturn = true
	}
	b.cur = nil
}

func (b *builder) stmt(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "compound_statement":
		b.pushScope()
		for _, child := range namedChildren(n) {
			b.stmt(child)
		}
		b.popScope()

	case "declaration":
		b.declaration(n)

	case "if_statement":
		b.ifStmt(n)

	case "while_statement":
		b.whileStmt(n)

	case "do_statement":
		b.doStmt(n)

	case "for_statement":
		b.forStmt(n)

	case "for_range_loop":
		b.rangeStmt(n)

	case "switch_statement":
		b.switchStmt(n)

	case "try_statement":
		b.tryStmt(n)

	case "return_statement":
		for _, child := range namedChildren(n) {
			b.expr(child)
		}
		b.releaseScopes(0)
		b.cur = nil

	case "break_statement":
		b.jump(b.breaks)

	case "continue_statement":
		b.jump(b.continues)

	case "goto_statement":
		// Jumps are not followed; the path ends here.
		b.cur = nil

	case "throw_statement":
		for _, child := range namedChildren(n) {
			b.expr(child)
		}
		b.noReturn()

	case "labeled_statement":
		b.stmt(lastNamed(n))

	case "expression_statement":
		for _, child := range namedChildren(n) {
			b.expr(child)
		}

	case "type_definition", "alias_declaration", "using_declaration", "static_assert_declaration", "namespace_alias_definition":

	default:
		b.expr(n)
	}
}

func (b *builder) ifStmt(n *sitter.Node) {
	b.pushScope()
	try, negated := b.condition(n.ChildByFieldName("condition"))
	pre := b.cur

	b.cur = b.edge(pre, b.assume(try, !negated)...)
	b.stmt(n.ChildByFieldName("consequence"))
	thenEnd := b.cur

	b.cur = b.edge(pre, b.assume(try, negated)...)
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		if alt.Type() == "else_clause" {
			alt = lastNamed(alt)
		}
		b.stmt(alt)
	}
	b.cur = b.join(thenEnd, b.cur)
	b.popScope()
}

// assume returns the refinement of the try operation on the branch where it
// succeeded (held) or failed.
func (b *builder) assume(try *lockstate.Op, held bool) []lockstate.Op {
	if try == nil {
		return nil
	}
	kind := lockstate.OpAssumeFree
	if held {
		kind = lockstate.OpAssumeHeld
	}
	return []lockstate.Op{{Kind: kind, Name: try.Name, Handle: try.Handle, Pos: try.Pos}}
}

func (b *builder) loop(brk, cont *lockstate.Node, body func()) {
	depth := len(b.scopes)
	b.breaks = append(b.breaks, target{node: brk, depth: depth})
	b.continues = append(b.continues, target{node: cont, depth: depth})
	body()
	b.breaks = b.breaks[:len(b.breaks)-1]
	b.continues = b.continues[:len(b.continues)-1]
}

func (b *builder) whileStmt(n *sitter.Node) {
	b.pushScope()
	head := b.proc.NewNode()
	b.connect(b.cur, head)
	b.cur = head
	try, negated := b.condition(n.ChildByFieldName("condition"))
	after := b.proc.NewNode()

	bodyStart := b.edge(b.cur, b.assume(try, !negated)...)
	b.connect(b.edge(b.cur, b.assume(try, negated)...), after)

	b.loop(after, head, func() {
		b.cur = bodyStart
		b.stmt(n.ChildByFieldName("body"))
		b.connect(b.cur, head)
	})
	b.cur = after
	b.popScope()
}

func (b *builder) doStmt(n *sitter.Node) {
	bodyStart := b.proc.NewNode()
	b.connect(b.cur, bodyStart)
	cond := b.proc.NewNode()
	after := b.proc.NewNode()

	b.loop(after, cond, func() {
		b.cur = bodyStart
		b.stmt(n.ChildByFieldName("body"))
		b.connect(b.cur, cond)
	})

	b.cur = cond
	try, negated := b.condition(n.ChildByFieldName("condition"))
	b.connect(b.edge(b.cur, b.assume(try, !negated)...), bodyStart)
	b.connect(b.edge(b.cur, b.assume(try, negated)...), after)
	b.cur = after
}

func (b *builder) forStmt(n *sitter.Node) {
	b.pushScope()
	for _, init := range fieldChildren(n, "initializer") {
		b.stmt(init)
	}

	head := b.proc.NewNode()
	b.connect(b.cur, head)
	b.cur = head
	var try *lockstate.Op
	var negated bool
	cond := n.ChildByFieldName("condition")
	if cond != nil {
		try, negated = b.condition(cond)
	}
	after := b.proc.NewNode()
	bodyStart := b.edge(b.cur, b.assume(try, !negated)...)
	if cond != nil {
		b.connect(b.edge(b.cur, b.assume(try, negated)...), after)
	}

	update := b.proc.NewNode()
	b.loop(after, update, func() {
		b.cur = bodyStart
		b.stmt(n.ChildByFieldName("body"))
		b.connect(b.cur, update)
	})

	b.cur = update
	for _, u := range fieldChildren(n, "update") {
		b.expr(u)
	}
	b.connect(b.cur, head)
	b.cur = after
	b.popScope()
}

func (b *builder) rangeStmt(n *sitter.Node) {
	b.pushScope()
	if init := n.ChildByFieldName("initializer"); init != nil {
		b.stmt(init)
	}
	b.expr(n.ChildByFieldName("right"))
	if name := declName(b.f, n.ChildByFieldName("declarator")); name != "" {
		b.declare(name, b.f.text(n.ChildByFieldName("type")))
	}

	head := b.proc.NewNode()
	b.connect(b.cur, head)
	after := b.proc.NewNode()
	b.proc.Connect(head, after)
	bodyStart := b.edge(head)

	b.loop(after, head, func() {
		b.cur = bodyStart
		b.stmt(n.ChildByFieldName("body"))
		b.connect(b.cur, head)
	})
	b.cur = after
	b.popScope()
}

func (b *builder) switchStmt(n *sitter.Node) {
	b.pushScope()
	b.condition(n.ChildByFieldName("condition"))
	dispatch := b.cur
	after := b.proc.NewNode()

	// continue inside a switch still targets the enclosing loop.
	b.breaks = append(b.breaks, target{node: after, depth: len(b.scopes)})
	hasDefault := false
	b.cur = nil
	for _, c := range namedChildren(n.ChildByFieldName("body")) {
		if c.Type() != "case_statement" {
			b.stmt(c)
			continue
		}
		value := c.ChildByFieldName("value")
		if value == nil {
			hasDefault = true
		}
		// Falls through from the previous case.
		b.cur = b.join(b.edge(dispatch), b.cur)
		for i, s := range namedChildren(c) {
			if i == 0 && value != nil {
				continue
			}
			b.stmt(s)
		}
	}
	b.connect(b.cur, after)
	b.breaks = b.breaks[:len(b.breaks)-1]
	if !hasDefault {
		b.connect(dispatch, after)
	}
	b.cur = after
	b.popScope()
}

// tryStmt approximates exceptions: a handler starts from the state before
// the try block.
func (b *builder) tryStmt(n *sitter.Node) {
	pre := b.cur
	b.stmt(n.ChildByFieldName("body"))
	ends := []*lockstate.Node{b.cur}
	for _, c := range namedChildren(n) {
		if c.Type() != "catch_clause" {
			continue
		}
		b.cur = b.edge(pre)
		b.pushScope()
		for _, prm := range namedChildren(c.ChildByFieldName("parameters")) {
			if name := declName(b.f, prm.ChildByFieldName("declarator")); name != "" {
				b.declare(name, b.f.text(prm.ChildByFieldName("type")))
			}
		}
		b.stmt(c.ChildByFieldName("body"))
		b.popScope()
		ends = append(ends, b.cur)
	}
	b.cur = b.join(ends...)
}

// condition lowers a branch condition. When it is a lock operation, maybe
// negated, the operation is returned so that the branches can be refined.
func (b *builder) condition(n *sitter.Node) (*lockstate.Op, bool) {
	if n == nil {
		return nil, false
	}
	switch n.Type() {
	case "condition_clause":
		if init := n.ChildByFieldName("initializer"); init != nil {
			b.stmt(init)
		}
		value := n.ChildByFieldName("value")
		if value == nil {
			value = lastNamed(n)
		}
		return b.condition(value)
	case "parenthesized_expression":
		return b.condition(lastNamed(n))
	case "unary_expression":
		if op := n.ChildByFieldName("operator"); op != nil && (b.f.text(op) == "!" || b.f.text(op) == "not") {
			try, negated := b.condition(n.ChildByFieldName("argument"))
			return try, !negated
		}
	case "call_expression":
		return b.call(n), false
	case "condition_declaration", "declaration":
		b.declaration(n)
		return nil, false
	}
	b.expr(n)
	return nil, false
}
