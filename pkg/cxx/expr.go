package cxx

import (
	"go/token"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
)

var mutexTypes = map[string]bool{
	"mutex":              true,
	"timed_mutex":        true,
	"shared_mutex":       true,
	"shared_timed_mutex": true,
	"pthread_mutex_t":    true,
}

// Reentrant locks cannot self-deadlock; operations on them are dropped.
var recursiveTypes = map[string]bool{
	"recursive_mutex":       true,
	"recursive_timed_mutex": true,
}

var noReturnFuncs = map[string]bool{
	"abort":                  true,
	"exit":                   true,
	"_Exit":                  true,
	"quick_exit":             true,
	"std::abort":             true,
	"std::exit":              true,
	"std::terminate":         true,
	"std::quick_exit":        true,
	"__builtin_unreachable":  true,
	"std::rethrow_exception": true,
}

// expr lowers the calls made while evaluating n, in evaluation order.
func (b *builder) expr(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "call_expression":
		b.call(n)
	case "conditional_expression":
		try, negated := b.condition(n.ChildByFieldName("condition"))
		pre := b.cur
		b.cur = b.edge(pre, b.assume(try, !negated)...)
		b.expr(n.ChildByFieldName("consequence"))
		thenEnd := b.cur
		b.cur = b.edge(pre, b.assume(try, negated)...)
		b.expr(n.ChildByFieldName("alternative"))
		b.cur = b.join(thenEnd, b.cur)
	case "lambda_expression", "identifier", "field_identifier", "number_literal", "string_literal", "this",
		"true", "false", "null", "nullptr", "type_descriptor", "template_argument_list":
	default:
		for _, child := range namedChildren(n) {
			b.expr(child)
		}
	}
}

// call lowers a call expression. It returns the lock operation emitted when
// the call is one, nil otherwise.
func (b *builder) call(n *sitter.Node) *lockstate.Op {
	fn := n.ChildByFieldName("function")
	args := namedChildren(n.ChildByFieldName("arguments"))
	for _, a := range args {
		b.expr(a)
	}
	pos := b.f.pos(n)

	switch fn.Type() {
	case "field_expression":
		obj := fn.ChildByFieldName("argument")
		b.expr(obj)
		return b.memberCall(obj, b.f.text(fn.ChildByFieldName("field")), args, pos)
	case "identifier", "qualified_identifier", "template_function":
		return b.freeCall(strings.Join(strings.Fields(b.f.text(fn)), ""), args, pos)
	}
	b.expr(fn)
	b.escape(args, pos)
	return nil
}

// memberCall lowers obj.method(args) and obj->method(args).
func (b *builder) memberCall(obj *sitter.Node, method string, args []*sitter.Node, pos token.Pos) *lockstate.Op {
	typ := b.typeOf(obj)
	if recursiveTypes[baseType(typ)] {
		return nil
	}
	if cls := b.p.lookupClass(typ, b.fd.ns); cls != nil && cls.methods[method] {
		if callee := b.p.overload(qualify(cls.name, method), len(args)); callee != nil {
			b.callProc(callee, append([]lockstate.Handle{b.handle(obj)}, b.handles(args)...), pos)
			return nil
		}
	}

	h := b.handle(obj)
	if g, ok := b.guardVar(obj); ok {
		h = g
	}
	if _, ok := b.p.table.Effect(method); ok || mutexTypes[baseType(typ)] {
		if h.IsZero() {
			return nil
		}
		op := lockstate.Op{Kind: lockstate.OpMethod, Name: method, Handle: h, Pos: pos}
		b.emit(op)
		return &op
	}
	b.escape(args, pos)
	return nil
}

// freeCall lowers f(args) where f is a function name, possibly qualified.
func (b *builder) freeCall(name string, args []*sitter.Node, pos token.Pos) *lockstate.Op {
	if b.class != nil && !strings.Contains(name, "::") && b.class.methods[stripTemplate(name)] {
		if callee := b.p.overload(qualify(b.class.name, stripTemplate(name)), len(args)); callee != nil {
			this := lockstate.Handle{Scope: lockstate.Param, Root: "this"}
			b.callProc(callee, append([]lockstate.Handle{this}, b.handles(args)...), pos)
			return nil
		}
	}
	if callee := b.p.lookupFunc(name, b.fd.ns, len(args)); callee != nil {
		var actual []lockstate.Handle
		if callee.isMember() {
			// Static member or unresolved receiver.
			actual = append(actual, lockstate.Handle{})
		}
		b.callProc(callee, append(actual, b.handles(args)...), pos)
		return nil
	}
	if cls := b.p.lookupClass(name, b.fd.ns); cls != nil {
		// Temporary object, destroyed at the end of the full expression.
		b.construct("", cls, args, pos)
		return nil
	}

	switch stripTemplate(name) {
	case "std::lock":
		for _, h := range b.handles(args) {
			if !h.IsZero() {
				b.emit(lockstate.Op{Kind: lockstate.OpMethod, Name: "lock", Handle: h, Pos: pos})
			}
		}
		return nil
	}
	if _, ok := b.p.table.Effect(name); ok && len(args) > 0 {
		h := b.handle(args[0])
		if h.IsZero() || recursiveTypes[baseType(b.typeOf(args[0]))] {
			return nil
		}
		op := lockstate.Op{Kind: lockstate.OpMethod, Name: name, Handle: h, Pos: pos}
		b.emit(op)
		return &op
	}
	if noReturnFuncs[name] {
		b.noReturn()
		return nil
	}
	b.escape(args, pos)
	return nil
}

func (b *builder) callProc(callee *funcDecl, args []lockstate.Handle, pos token.Pos) {
	b.callees[pos] = callee.name
	b.emit(lockstate.Op{Kind: lockstate.OpCall, Callee: callee.proc, Args: args, Pos: pos})
}

// escape marks the locks passed to code without a body as unknown.
func (b *builder) escape(args []*sitter.Node, pos token.Pos) {
	for _, a := range args {
		if !mutexTypes[baseType(b.typeOf(a))] {
			continue
		}
		if h := b.handle(a); !h.IsZero() {
			b.emit(lockstate.Op{Kind: lockstate.OpEscape, Handle: h, Pos: pos})
		}
	}
}

func (b *builder) declaration(n *sitter.Node) {
	typ := b.f.text(n.ChildByFieldName("type"))
	for _, d := range fieldChildren(n, "declarator") {
		b.declarator(typ, d)
	}
	if value := n.ChildByFieldName("value"); value != nil {
		// condition_declaration: if (auto x = f())
		b.expr(value)
		b.declare(declName(b.f, n.ChildByFieldName("declarator")), typ)
	}
}

func (b *builder) declarator(typ string, d *sitter.Node) {
	name := declName(b.f, d)
	var args []*sitter.Node
	switch d.Type() {
	case "init_declarator":
		value := d.ChildByFieldName("value")
		switch {
		case value == nil:
		case value.Type() == "argument_list" || value.Type() == "initializer_list":
			args = namedChildren(value)
			for _, a := range args {
				b.expr(a)
			}
		default:
			b.expr(value)
		}
	case "function_declarator":
		// Guard g(m) parses as a function declaration whose parameter
		// types are the constructor arguments.
		if !b.p.table.IsGuard(typ) && b.p.lookupClass(typ, b.fd.ns) == nil {
			return
		}
		var ok bool
		if args, ok = vexingArgs(d); !ok {
			return
		}
	}
	if name == "" {
		return
	}
	b.declare(name, typ)
	pos := b.f.pos(d)

	if b.p.table.IsGuard(typ) {
		b.scopeGuard(name, typ, args, pos)
		return
	}
	if cls := b.p.lookupClass(typ, b.fd.ns); cls != nil && !indirect(d) {
		b.construct(name, cls, args, pos)
	}
}

// vexingArgs returns the constructor arguments of a declaration parsed as a
// function declarator. It fails when the declarator is a real prototype:
// no parameters, or parameters with names.
func vexingArgs(d *sitter.Node) ([]*sitter.Node, bool) {
	params := namedChildren(d.ChildByFieldName("parameters"))
	if len(params) == 0 {
		return nil, false
	}
	args := make([]*sitter.Node, 0, len(params))
	for _, prm := range params {
		if prm.Type() != "parameter_declaration" || prm.ChildByFieldName("declarator") != nil {
			return nil, false
		}
		typ := prm.ChildByFieldName("type")
		if typ == nil {
			return nil, false
		}
		switch typ.Type() {
		case "type_identifier", "qualified_identifier":
			args = append(args, typ)
		default:
			return nil, false
		}
	}
	return args, true
}

// indirect reports whether d declares a pointer or a reference.
func indirect(d *sitter.Node) bool {
	if d.Type() == "init_declarator" {
		d = d.ChildByFieldName("declarator")
	}
	return d != nil && (d.Type() == "pointer_declarator" || d.Type() == "reference_declarator")
}

func (b *builder) declare(name, typ string) {
	if name == "" {
		return
	}
	b.scopes[len(b.scopes)-1].vars[name] = typ
}

// scopeGuard lowers a standard guard such as std::lock_guard<std::mutex>
// g(m). unique_lock tags select the constructor behaviour.
func (b *builder) scopeGuard(name, typ string, args []*sitter.Node, pos token.Pos) {
	tag := ""
	if len(args) >= 2 {
		switch lastSegment(b.f.text(args[len(args)-1])) {
		case "defer_lock", "adopt_lock", "try_to_lock":
			tag = lastSegment(b.f.text(args[len(args)-1]))
			args = args[:len(args)-1]
		}
	}

	g := guard{shared: baseType(typ) == "shared_lock", pos: pos}
	for _, a := range args {
		if recursiveTypes[baseType(b.typeOf(a))] {
			continue
		}
		if h := b.handle(a); !h.IsZero() {
			g.handles = append(g.handles, h)
		}
	}
	if len(g.handles) == 0 {
		return
	}

	for _, h := range g.handles {
		switch {
		case tag == "defer_lock" || tag == "adopt_lock":
		case tag == "try_to_lock":
			b.emit(lockstate.Op{Kind: lockstate.OpMethod, Name: "try_lock", Handle: h, Pos: pos})
		case g.shared:
			b.emit(lockstate.Op{Kind: lockstate.OpMethod, Name: "lock_shared", Handle: h, Pos: pos})
		default:
			b.emit(lockstate.Op{Kind: lockstate.OpGuardEnter, Handle: h, Pos: pos})
		}
	}

	s := b.scopes[len(b.scopes)-1]
	s.guards = append(s.guards, g)
	if len(g.handles) == 1 {
		s.guardVars[name] = g.handles[0]
	}
}

// construct lowers the construction of an object of a user class. When the
// destructor unlocks a field the constructor bound to one of its arguments,
// the object acts as a scope guard over that argument.
func (b *builder) construct(name string, cls *classDecl, args []*sitter.Node, pos token.Pos) {
	obj := lockstate.Handle{Scope: lockstate.Local, Root: name}
	if name == "" {
		obj = lockstate.Handle{}
	}
	actual := b.handles(args)

	ctor := b.p.overload(qualify(cls.name, cls.short()), len(args))
	if ctor != nil {
		b.callProc(ctor, append([]lockstate.Handle{obj}, actual...), pos)
	}
	if cls.dtor == nil {
		return
	}

	g := guard{pos: pos}
	if ctor != nil {
		for _, field := range cls.released {
			if idx, ok := ctor.aliases[field]; ok && idx < len(actual) && !actual[idx].IsZero() {
				g.handles = append(g.handles, actual[idx])
			}
		}
	}
	if len(g.handles) == 0 {
		g.dtor = cls.dtor.proc
		g.obj = obj
	}
	if name == "" {
		b.destroy(g)
		return
	}
	s := b.scopes[len(b.scopes)-1]
	s.guards = append(s.guards, g)
}

func (b *builder) handles(args []*sitter.Node) []lockstate.Handle {
	out := make([]lockstate.Handle, len(args))
	for i, a := range args {
		out[i] = b.handle(a)
	}
	return out
}

// handle resolves an lvalue expression to the access path of the object it
// denotes. Address-of and dereference are transparent.
func (b *builder) handle(n *sitter.Node) lockstate.Handle {
	n = unwrapPointer(n)
	if n == nil {
		return lockstate.Handle{}
	}
	switch n.Type() {
	case "identifier", "type_identifier":
		return b.lookup(b.f.text(n))
	case "this":
		return lockstate.Handle{Scope: lockstate.Param, Root: "this"}
	case "qualified_identifier":
		return lockstate.Handle{Scope: lockstate.Global, Root: strings.Join(strings.Fields(b.f.text(n)), "")}
	case "field_expression":
		field := b.f.text(n.ChildByFieldName("field"))
		arg := unwrapPointer(n.ChildByFieldName("argument"))
		if arg != nil && arg.Type() == "this" {
			if h, ok := b.alias(field); ok {
				return h
			}
		}
		base := b.handle(arg)
		if base.IsZero() {
			return base
		}
		return base.Field(field)
	}
	return lockstate.Handle{}
}

// lookup resolves an unqualified name: locals, then parameters, then
// members of the enclosing class, then globals.
func (b *builder) lookup(name string) lockstate.Handle {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if _, ok := b.scopes[i].vars[name]; ok {
			return lockstate.Handle{Scope: lockstate.Local, Root: name}
		}
	}
	for _, prm := range b.fd.params {
		if prm.name == name {
			return lockstate.Handle{Scope: lockstate.Param, Root: name}
		}
	}
	if b.class != nil {
		if h, ok := b.alias(name); ok {
			return h
		}
		if _, ok := b.class.fields[name]; ok {
			return lockstate.Handle{Scope: lockstate.Param, Root: "this"}.Field(name)
		}
	}
	return lockstate.Handle{Scope: lockstate.Global, Root: name}
}

// alias resolves a field bound to a parameter by a member initializer.
func (b *builder) alias(field string) (lockstate.Handle, bool) {
	idx, ok := b.fd.aliases[field]
	if !ok || idx >= len(b.fd.params) || b.fd.params[idx].name == "" {
		return lockstate.Handle{}, false
	}
	return lockstate.Handle{Scope: lockstate.Param, Root: b.fd.params[idx].name}, true
}

// guardVar returns the lock managed by a guard variable, as in lk.unlock()
// on a std::unique_lock.
func (b *builder) guardVar(n *sitter.Node) (lockstate.Handle, bool) {
	n = unwrapPointer(n)
	if n == nil || n.Type() != "identifier" {
		return lockstate.Handle{}, false
	}
	name := b.f.text(n)
	for i := len(b.scopes) - 1; i >= 0; i-- {
		if h, ok := b.scopes[i].guardVars[name]; ok {
			return h, true
		}
		if _, ok := b.scopes[i].vars[name]; ok {
			return lockstate.Handle{}, false
		}
	}
	return lockstate.Handle{}, false
}

// typeOf returns the declared type of an lvalue expression, or "".
func (b *builder) typeOf(n *sitter.Node) string {
	n = unwrapPointer(n)
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier", "type_identifier":
		name := b.f.text(n)
		for i := len(b.scopes) - 1; i >= 0; i-- {
			if typ, ok := b.scopes[i].vars[name]; ok {
				return typ
			}
		}
		for _, prm := range b.fd.params {
			if prm.name == name {
				return prm.typ
			}
		}
		if b.class != nil {
			return b.class.fields[name]
		}
	case "this":
		if b.class != nil {
			return b.class.name
		}
	case "field_expression":
		if cls := b.p.lookupClass(b.typeOf(n.ChildByFieldName("argument")), b.fd.ns); cls != nil {
			return cls.fields[b.f.text(n.ChildByFieldName("field"))]
		}
	}
	return ""
}
