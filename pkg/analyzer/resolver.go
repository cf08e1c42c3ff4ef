package analyzer

import (
	"fmt"
	"go/token"
	"go/types"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"golang.org/x/tools/go/ssa"
)

// resolveHandle traces an SSA value back to an access path rooted at a
// parameter, a global or a local variable of fn. It returns the zero handle
// when the value cannot be resolved, e.g. a Phi whose edges disagree or an
// element of a slice.
func resolveHandle(fn *ssa.Function, v ssa.Value) lockstate.Handle {
	seen := make(map[ssa.Value]bool)
	return resolveHandleVisited(fn, v, seen)
}

func resolveHandleVisited(fn *ssa.Function, v ssa.Value, seen map[ssa.Value]bool) lockstate.Handle {
	v = unwrapSSAValue(v)
	if seen[v] {
		return lockstate.Handle{}
	}
	seen[v] = true

	switch val := v.(type) {
	case *ssa.FieldAddr:
		base := resolveHandleVisited(fn, val.X, seen)
		name, ok := fieldName(val.X.Type(), val.Field)
		if base.IsZero() || !ok {
			return lockstate.Handle{}
		}
		return base.Field(name)
	case *ssa.Field:
		base := resolveHandleVisited(fn, val.X, seen)
		name, ok := fieldName(val.X.Type(), val.Field)
		if base.IsZero() || !ok {
			return lockstate.Handle{}
		}
		return base.Field(name)
	case *ssa.UnOp:
		// A load through a pointer, e.g. of a captured cell or a pointer
		// field, denotes the pointee.
		if val.Op != token.MUL {
			return lockstate.Handle{}
		}
		return resolveHandleVisited(fn, val.X, seen)
	case *ssa.ChangeType:
		return resolveHandleVisited(fn, val.X, seen)
	case *ssa.MakeInterface:
		return resolveHandleVisited(fn, val.X, seen)
	case *ssa.Parameter:
		for i, p := range fn.Params {
			if p == val {
				return lockstate.Handle{Scope: lockstate.Param, Root: paramName(fn, i)}
			}
		}
	case *ssa.Global:
		return lockstate.Handle{Scope: lockstate.Global, Root: globalName(val)}
	case *ssa.Alloc:
		if i, ok := spilledParam(fn, val); ok {
			return lockstate.Handle{Scope: lockstate.Param, Root: paramName(fn, i)}
		}
		if val.Comment == "" {
			return lockstate.Handle{}
		}
		return lockstate.Handle{Scope: lockstate.Local, Root: val.Comment}
	case *ssa.FreeVar:
		// Free variables are bound by the caller of the closure, like
		// parameters.
		return lockstate.Handle{Scope: lockstate.Param, Root: val.Name()}
	}
	return lockstate.Handle{}
}

// spilledParam reports whether a is the cell a pointer parameter is spilled
// to at function entry, which SSA does for parameters captured by closures.
// Later assignments to the parameter are not tracked.
func spilledParam(fn *ssa.Function, a *ssa.Alloc) (int, bool) {
	refs := a.Referrers()
	if refs == nil {
		return 0, false
	}
	for _, r := range *refs {
		st, ok := r.(*ssa.Store)
		if !ok || st.Addr != a {
			continue
		}
		p, ok := st.Val.(*ssa.Parameter)
		if !ok {
			continue
		}
		if _, isPtr := p.Type().Underlying().(*types.Pointer); !isPtr {
			continue
		}
		for i, q := range fn.Params {
			if q == p {
				return i, true
			}
		}
	}
	return 0, false
}

// unwrapSSAValue strips Phi nodes (if all edges agree) to find the underlying value.
func unwrapSSAValue(v ssa.Value) ssa.Value {
	visited := make(map[*ssa.Phi]bool)
	return unwrapSSAValueVisited(v, visited)
}

func unwrapSSAValueVisited(v ssa.Value, visited map[*ssa.Phi]bool) ssa.Value {
	for {
		phi, ok := v.(*ssa.Phi)
		if !ok {
			return v
		}
		resolved := resolvePhiIfUniform(phi, visited)
		if resolved == nil {
			return v
		}
		v = resolved
	}
}

// resolvePhiIfUniform returns the single unique value if all phi edges agree,
// or nil if they diverge. The visited set prevents infinite recursion on phi
// cycles (common in loops).
func resolvePhiIfUniform(phi *ssa.Phi, visited map[*ssa.Phi]bool) ssa.Value {
	if visited[phi] {
		return nil
	}
	visited[phi] = true

	var unique ssa.Value
	for _, edge := range phi.Edges {
		if edge == phi {
			continue
		}
		edge = unwrapSSAValueVisited(edge, visited)
		if unique == nil {
			unique = edge
		} else if unique != edge {
			return nil
		}
	}
	return unique
}

// fieldName returns the name of field index of the struct t, or of the struct
// t points to.
func fieldName(t types.Type, index int) (string, bool) {
	if ptr, ok := t.Underlying().(*types.Pointer); ok {
		t = ptr.Elem()
	}
	st, ok := t.Underlying().(*types.Struct)
	if !ok || index >= st.NumFields() {
		return "", false
	}
	return st.Field(index).Name(), true
}

// paramName returns the name used for parameter i of fn in handles and
// summaries. Blank and unnamed parameters get a positional name.
func paramName(fn *ssa.Function, i int) string {
	name := fn.Params[i].Name()
	if name == "" || name == "_" {
		return fmt.Sprintf("$%d", i)
	}
	return name
}

// globalName qualifies a package-level variable so that it keeps its
// identity across packages.
func globalName(g *ssa.Global) string {
	if g.Pkg == nil || g.Pkg.Pkg == nil {
		return g.Name()
	}
	return g.Pkg.Pkg.Path() + "." + g.Name()
}

// namedType returns the named type of t, looking through one pointer.
func namedType(t types.Type) *types.Named {
	t = types.Unalias(t)
	if ptr, ok := t.(*types.Pointer); ok {
		t = types.Unalias(ptr.Elem())
	}
	named, _ := t.(*types.Named)
	return named
}

// isLockType reports whether t, or the type t points to, is listed as a lock
// type in the operation table.
func (ctx *passContext) isLockType(t types.Type) bool {
	named := namedType(t)
	if named == nil {
		return false
	}
	obj := named.Origin().Obj()
	if obj == nil || obj.Pkg() == nil {
		return false
	}
	return ctx.table.IsLockType(obj.Pkg().Path(), obj.Name())
}

// lockMethodReceiver returns the receiver of a static call to a method of a
// lock type, or nil. Promoted methods of embedded locks are resolved to the
// embedded field, since SSA may call (*S).Lock wrappers with a *S receiver.
func (ctx *passContext) lockMethodReceiver(fn *ssa.Function, callee *ssa.Function, args []ssa.Value) (lockstate.Handle, bool) {
	recv := callee.Signature.Recv()
	if recv == nil || len(args) == 0 {
		return lockstate.Handle{}, false
	}
	if ctx.isLockType(recv.Type()) {
		return resolveHandle(fn, args[0]), true
	}
	if callee.Synthetic == "" {
		return lockstate.Handle{}, false
	}
	return ctx.resolveEmbeddedLock(fn, args[0], callee.Name())
}

// resolveEmbeddedLock handles the wrapper-call case where the receiver is a
// pointer to a struct that embeds a lock providing the method.
func (ctx *passContext) resolveEmbeddedLock(fn *ssa.Function, recv ssa.Value, method string) (lockstate.Handle, bool) {
	recv = unwrapSSAValue(recv)
	ptrType, ok := recv.Type().Underlying().(*types.Pointer)
	if !ok {
		return lockstate.Handle{}, false
	}
	structType, ok := ptrType.Elem().Underlying().(*types.Struct)
	if !ok {
		return lockstate.Handle{}, false
	}
	for i := 0; i < structType.NumFields(); i++ {
		field := structType.Field(i)
		if !field.Anonymous() || !ctx.isLockType(field.Type()) {
			continue
		}
		// RLock and friends only exist on some lock types.
		ft := field.Type()
		if _, isPtr := ft.Underlying().(*types.Pointer); !isPtr {
			ft = types.NewPointer(ft)
		}
		if obj, _, _ := types.LookupFieldOrMethod(ft, true, field.Pkg(), method); obj == nil {
			continue
		}
		base := resolveHandle(fn, recv)
		if base.IsZero() {
			return lockstate.Handle{}, true
		}
		return base.Field(field.Name()), true
	}
	return lockstate.Handle{}, false
}
