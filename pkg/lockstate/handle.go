package lockstate

import "strings"

// Scope tells where the root of a handle's access path lives.
type Scope int

const (
	Local  Scope = iota // variable declared inside the procedure
	Param               // formal parameter, including the receiver / this
	Global              // package-level or namespace-level variable
)

func (s Scope) String() string {
	switch s {
	case Local:
		return "local"
	case Param:
		return "param"
	case Global:
		return "global"
	}
	return "unknown"
}

// Handle identifies a lock-valued entity by its access path. Two handles denote
// the same lock iff they are equal; no aliasing is considered.
type Handle struct {
	Scope Scope
	Root  string // variable name
	Path  string // field selectors from the root, e.g. ".inner.mu"
}

// Field returns the handle reached by selecting field name from h.
func (h Handle) Field(name string) Handle {
	h.Path += "." + name
	return h
}

// IsZero reports whether h is the zero handle, used for unresolved values.
func (h Handle) IsZero() bool {
	return h.Root == ""
}

// Exported reports whether h can be observed by callers of the procedure.
func (h Handle) Exported() bool {
	return !h.IsZero() && h.Scope != Local
}

func (h Handle) String() string {
	return h.Root + h.Path
}

// Fields splits the path into its field names.
func (h Handle) Fields() []string {
	if h.Path == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(h.Path, "."), ".")
}

// rebase maps a handle expressed in terms of a callee's parameters onto the
// actual arguments of a call. Globals map to themselves.
func rebase(h Handle, params []string, args []Handle) (Handle, bool) {
	switch h.Scope {
	case Global:
		return h, true
	case Param:
		for i, name := range params {
			if name != h.Root {
				continue
			}
			if i >= len(args) || args[i].IsZero() {
				return Handle{}, false
			}
			actual := args[i]
			actual.Path += h.Path
			return actual, true
		}
	}
	return Handle{}, false
}
