package lockstate

import "go/token"

// Effect is what a recognized lock operation does to its handle.
type Effect int

const (
	EffectNone            Effect = iota // recognized, no effect on the lock state
	EffectAcquire                       // blocking exclusive acquire: lock(), Lock()
	EffectSharedAcquire                 // blocking shared acquire: lock_shared(), RLock()
	EffectTryAcquire                    // non-blocking probe: try_lock(), TryLock()
	EffectTimedTryAcquire               // probe with timeout: try_lock_for(), try_lock_until()
	EffectRelease                       // unlock(), Unlock(), RUnlock()
	EffectEscape                        // lock handed to code the checker does not model
)

var effectNames = map[Effect]string{
	EffectNone:            "none",
	EffectAcquire:         "acquire",
	EffectSharedAcquire:   "shared-acquire",
	EffectTryAcquire:      "try-acquire",
	EffectTimedTryAcquire: "timed-try-acquire",
	EffectRelease:         "release",
	EffectEscape:          "escape",
}

func (e Effect) String() string {
	if s, ok := effectNames[e]; ok {
		return s
	}
	return "invalid"
}

// ParseEffect is the inverse of Effect.String.
func ParseEffect(s string) (Effect, bool) {
	for e, name := range effectNames {
		if name == s {
			return e, true
		}
	}
	return EffectNone, false
}

// Table maps operation names to their effect.
type Table interface {
	Effect(method string) (Effect, bool)
}

// Methods is the simplest Table: a map from method name to effect.
type Methods map[string]Effect

func (m Methods) Effect(method string) (Effect, bool) {
	e, ok := m[method]
	return e, ok
}

// OpKind is the shape of a lock-relevant operation attached to a node.
type OpKind int

const (
	OpMethod     OpKind = iota // method call on a lock, resolved through the Table
	OpGuardEnter               // scope guard constructed around Handle
	OpGuardExit                // scope guard destroyed
	OpCall                     // call to another procedure, resolved through summaries
	OpEscape                   // Handle leaves the analysis
	OpAssumeHeld               // success edge of a try operation named Name
	OpAssumeFree               // failure edge of a try operation named Name
)

func (k OpKind) String() string {
	switch k {
	case OpMethod:
		return "method"
	case OpGuardEnter:
		return "guard-enter"
	case OpGuardExit:
		return "guard-exit"
	case OpCall:
		return "call"
	case OpEscape:
		return "escape"
	case OpAssumeHeld:
		return "assume-held"
	case OpAssumeFree:
		return "assume-free"
	}
	return "invalid"
}

// Op is a single lock-relevant sub-operation of a CFG node.
type Op struct {
	Kind   OpKind
	Name   string // method name for OpMethod, try operation for OpAssume*
	Handle Handle
	Pos    token.Pos

	// For OpCall.
	Callee string
	Args   []Handle // actual arguments, zero Handle when unresolved
}

// Node is a program point of a procedure's CFG.
type Node struct {
	Index int
	Ops   []Op
	Succs []*Node
	Preds []*Node

	// NoReturn marks nodes that end in a panic or abort. They do not
	// contribute to the state observed by callers.
	NoReturn bool
}

// Add appends ops to the node and returns it.
func (n *Node) Add(ops ...Op) *Node {
	n.Ops = append(n.Ops, ops...)
	return n
}

// Procedure is the control-flow graph of one function or method.
type Procedure struct {
	Name   string
	Params []string // formal names; the receiver comes first for methods
	Pos    token.Pos
	Nodes  []*Node // Nodes[0] is the entry
}

// NewProcedure returns a procedure with a single empty entry node.
func NewProcedure(name string, params ...string) *Procedure {
	p := &Procedure{Name: name, Params: params}
	p.NewNode()
	return p
}

// Entry returns the entry node.
func (p *Procedure) Entry() *Node {
	return p.Nodes[0]
}

// NewNode appends a fresh node to the graph.
func (p *Procedure) NewNode() *Node {
	n := &Node{Index: len(p.Nodes)}
	p.Nodes = append(p.Nodes, n)
	return n
}

// Connect adds the edge from → to.
func (p *Procedure) Connect(from, to *Node) {
	for _, s := range from.Succs {
		if s == to {
			return
		}
	}
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// exits returns the nodes without successors.
func (p *Procedure) exits() []*Node {
	var out []*Node
	for _, n := range p.Nodes {
		if len(n.Succs) == 0 && !n.NoReturn {
			out = append(out, n)
		}
	}
	return out
}
