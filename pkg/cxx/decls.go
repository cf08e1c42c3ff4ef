package cxx

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// classDecl is a class or struct definition.
type classDecl struct {
	name    string            // qualified, e.g. "ns::Cache"
	fields  map[string]string // field name → declared type
	methods map[string]bool   // declared or defined member functions

	// Fields whose lock the destructor releases, set when the program is
	// assembled.
	released []string
	dtor     *funcDecl
}

func (c *classDecl) short() string {
	return lastSegment(c.name)
}

// param is a formal parameter.
type param struct {
	name string
	typ  string
}

// funcDecl is a function definition with a body.
type funcDecl struct {
	name   string // qualified, e.g. "detail::lock_impl" or "Cache::get"
	proc   string // procedure name: name, plus "#n" for overloads
	ns     string // enclosing namespace
	class  string // qualified class name for members, "" otherwise
	params []param
	// minArgs is the number of parameters without default value.
	minArgs int

	node *sitter.Node
	file *File

	// Constructor member initializers binding a reference or pointer field
	// to a parameter: field → parameter index.
	aliases map[string]int
}

func (fd *funcDecl) isMember() bool {
	return fd.class != ""
}

func (fd *funcDecl) isDestructor() bool {
	return strings.HasPrefix(lastSegment(fd.name), "~")
}

// collector gathers the classes and functions of a file.
type collector struct {
	file *File
}

// walk visits declarations, tracking the enclosing namespace and class. It
// does not descend into function bodies.
func (c *collector) walk(n *sitter.Node, ns string, class *classDecl) {
	switch n.Type() {
	case "namespace_definition":
		inner := ns
		if name := n.ChildByFieldName("name"); name != nil {
			inner = qualify(ns, c.file.text(name))
		}
		for _, child := range namedChildren(n.ChildByFieldName("body")) {
			c.walk(child, inner, nil)
		}
		return

	case "class_specifier", "struct_specifier":
		name := n.ChildByFieldName("name")
		body := n.ChildByFieldName("body")
		if name == nil || body == nil {
			return
		}
		outer := ns
		if class != nil {
			outer = class.name
		}
		cls := &classDecl{
			name:    qualify(outer, stripTemplate(c.file.text(name))),
			fields:  make(map[string]string),
			methods: make(map[string]bool),
		}
		c.file.classes = append(c.file.classes, cls)
		for _, child := range namedChildren(body) {
			c.walk(child, ns, cls)
		}
		return

	case "field_declaration":
		if class != nil {
			c.field(n, class)
		}
		return

	case "function_definition":
		c.function(n, ns, class)
		return

	case "compound_statement":
		return
	}

	for _, child := range namedChildren(n) {
		c.walk(child, ns, class)
	}
}

// field records a data member or a member function declaration.
func (c *collector) field(n *sitter.Node, class *classDecl) {
	typ := c.file.text(n.ChildByFieldName("type"))
	for _, d := range fieldChildren(n, "declarator") {
		if fn := findFunctionDeclarator(d); fn != nil {
			class.methods[declName(c.file, fn.ChildByFieldName("declarator"))] = true
			continue
		}
		if name := declName(c.file, d); name != "" {
			class.fields[name] = typ
		}
	}
}

// function records a function definition.
func (c *collector) function(n *sitter.Node, ns string, class *classDecl) {
	if n.ChildByFieldName("body") == nil {
		return
	}
	fnDecl := findFunctionDeclarator(n.ChildByFieldName("declarator"))
	if fnDecl == nil {
		return
	}
	name := strings.Join(strings.Fields(c.file.text(fnDecl.ChildByFieldName("declarator"))), "")
	if name == "" {
		return
	}

	fd := &funcDecl{ns: ns, node: n, file: c.file}
	switch {
	case class != nil:
		fd.class = class.name
		fd.name = qualify(class.name, name)
		class.methods[name] = true
	case strings.Contains(name, "::"):
		// Out-of-line member definition, e.g. void Cache::get() {...}.
		fd.name = qualify(ns, stripTemplate(name))
		fd.class = fd.name[:strings.LastIndex(fd.name, "::")]
	default:
		fd.name = qualify(ns, name)
	}

	for _, p := range namedChildren(fnDecl.ChildByFieldName("parameters")) {
		switch p.Type() {
		case "parameter_declaration":
			fd.minArgs++
		case "optional_parameter_declaration":
		default:
			continue
		}
		fd.params = append(fd.params, param{
			name: declName(c.file, p.ChildByFieldName("declarator")),
			typ:  c.file.text(p.ChildByFieldName("type")),
		})
	}

	fd.aliases = c.initializerAliases(n, fd)
	c.file.funcs = append(c.file.funcs, fd)
}

// initializerAliases maps fields initialized from a parameter, as in
// Guard(M& mu) : mu_(mu) {}.
func (c *collector) initializerAliases(n *sitter.Node, fd *funcDecl) map[string]int {
	aliases := make(map[string]int)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		list := n.NamedChild(i)
		if list.Type() != "field_initializer_list" {
			continue
		}
		for _, init := range namedChildren(list) {
			if init.Type() != "field_initializer" {
				continue
			}
			parts := namedChildren(init)
			if len(parts) != 2 {
				continue
			}
			args := namedChildren(parts[1])
			if len(args) != 1 {
				continue
			}
			arg := unwrapPointer(args[0])
			if arg.Type() != "identifier" {
				continue
			}
			for idx, p := range fd.params {
				if p.name == c.file.text(arg) {
					aliases[c.file.text(parts[0])] = idx
				}
			}
		}
	}
	return aliases
}

// memberName returns the field named by n when n is `f` or `this->f`.
func memberName(f *File, n *sitter.Node) string {
	if n == nil {
		return ""
	}
	n = unwrapPointer(n)
	switch n.Type() {
	case "identifier", "field_identifier":
		return f.text(n)
	case "field_expression":
		if arg := n.ChildByFieldName("argument"); arg != nil && arg.Type() == "this" {
			return f.text(n.ChildByFieldName("field"))
		}
	}
	return ""
}

// findFunctionDeclarator unwraps pointer and reference declarators around a
// function declarator.
func findFunctionDeclarator(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "function_declarator":
			return n
		case "pointer_declarator", "reference_declarator", "parenthesized_declarator":
			n = lastNamed(n)
		default:
			return nil
		}
	}
	return nil
}

// declName returns the identifier introduced by a declarator.
func declName(f *File, n *sitter.Node) string {
	for n != nil {
		switch n.Type() {
		case "identifier", "field_identifier", "destructor_name", "operator_name", "qualified_identifier":
			return f.text(n)
		case "init_declarator", "pointer_declarator", "array_declarator", "function_declarator":
			n = n.ChildByFieldName("declarator")
		case "reference_declarator", "parenthesized_declarator":
			n = lastNamed(n)
		default:
			return ""
		}
	}
	return ""
}

func lastNamed(n *sitter.Node) *sitter.Node {
	children := namedChildren(n)
	if len(children) == 0 {
		return nil
	}
	return children[len(children)-1]
}

// unwrapPointer strips &x, *x and parentheses.
func unwrapPointer(n *sitter.Node) *sitter.Node {
	for n != nil {
		switch n.Type() {
		case "pointer_expression":
			n = n.ChildByFieldName("argument")
		case "parenthesized_expression":
			n = lastNamed(n)
		default:
			return n
		}
	}
	return n
}

func qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "::" + name
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return name[i+2:]
	}
	return name
}

// stripTemplate removes template arguments: "Guard<std::mutex>" → "Guard".
func stripTemplate(name string) string {
	var b strings.Builder
	depth := 0
	for _, r := range name {
		switch {
		case r == '<':
			depth++
		case r == '>':
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// baseType reduces a declared type to its unqualified name without
// template arguments or cv-qualifiers.
func baseType(typ string) string {
	t := stripTemplate(typ)
	t = strings.TrimPrefix(t, "const ")
	t = strings.TrimPrefix(t, "volatile ")
	t = strings.TrimRight(t, "*& ")
	return lastSegment(t)
}
