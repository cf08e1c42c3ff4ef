// Package optable defines which operations the lock checker recognizes and
// what they do to the lock they are applied to.
//
// A table is a map from operation name to effect, plus the names of scope
// guard types (C++) and lock types (Go). The default table covers the C++
// standard library and package sync; Load reads additional entries from YAML.
package optable

import (
	"os"
	"sort"
	"strings"

	"github.com/akerouanton/lockcheck/pkg/lockstate"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var log = logrus.WithField("prefix", "optable")

// Table is the operation table. It implements lockstate.Table.
type Table struct {
	Methods   lockstate.Methods
	Guards    map[string]bool // scope guard type names, without template arguments
	LockTypes map[string]bool // qualified Go type names, e.g. "sync.Mutex"
}

var _ lockstate.Table = (*Table)(nil)

// Effect returns the effect of the operation named method.
func (t *Table) Effect(method string) (lockstate.Effect, bool) {
	return t.Methods.Effect(method)
}

// IsGuard reports whether typeName names a scope guard. Namespace
// qualification and template arguments are ignored, so "lock_guard",
// "std::lock_guard" and "std::lock_guard<std::mutex>" all match.
func (t *Table) IsGuard(typeName string) bool {
	name := typeName
	if i := strings.Index(name, "<"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if t.Guards[name] {
		return true
	}
	if i := strings.LastIndex(name, "::"); i >= 0 {
		return t.Guards[name[i+2:]]
	}
	return false
}

// IsLockType reports whether the Go type pkgPath.name is a lock.
func (t *Table) IsLockType(pkgPath, name string) bool {
	return t.LockTypes[pkgPath+"."+name]
}

// Default returns the built-in table.
func Default() *Table {
	return &Table{
		Methods: lockstate.Methods{
			// C++ standard library.
			"lock":                  lockstate.EffectAcquire,
			"unlock":                lockstate.EffectRelease,
			"try_lock":              lockstate.EffectTryAcquire,
			"try_lock_for":          lockstate.EffectTimedTryAcquire,
			"try_lock_until":        lockstate.EffectTimedTryAcquire,
			"lock_shared":           lockstate.EffectSharedAcquire,
			"unlock_shared":         lockstate.EffectRelease,
			"try_lock_shared":       lockstate.EffectTryAcquire,
			"try_lock_shared_for":   lockstate.EffectTimedTryAcquire,
			"try_lock_shared_until": lockstate.EffectTimedTryAcquire,
			// pthreads, called as free functions on the lock.
			"pthread_mutex_lock":    lockstate.EffectAcquire,
			"pthread_mutex_unlock":  lockstate.EffectRelease,
			"pthread_mutex_trylock": lockstate.EffectTryAcquire,
			// Go package sync.
			"Lock":     lockstate.EffectAcquire,
			"Unlock":   lockstate.EffectRelease,
			"RLock":    lockstate.EffectSharedAcquire,
			"RUnlock":  lockstate.EffectRelease,
			"TryLock":  lockstate.EffectTryAcquire,
			"TryRLock": lockstate.EffectTryAcquire,
		},
		Guards: map[string]bool{
			"lock_guard":  true,
			"unique_lock": true,
			"scoped_lock": true,
			"shared_lock": true,
		},
		LockTypes: map[string]bool{
			"sync.Mutex":   true,
			"sync.RWMutex": true,
			"sync.Locker":  true,
		},
	}
}

// Merge returns a copy of t with the entries of o added. Entries in o win.
func (t *Table) Merge(o *Table) *Table {
	out := &Table{
		Methods:   make(lockstate.Methods, len(t.Methods)+len(o.Methods)),
		Guards:    make(map[string]bool, len(t.Guards)+len(o.Guards)),
		LockTypes: make(map[string]bool, len(t.LockTypes)+len(o.LockTypes)),
	}
	for _, src := range []*Table{t, o} {
		for k, v := range src.Methods {
			out.Methods[k] = v
		}
		for k, v := range src.Guards {
			out.Guards[k] = v
		}
		for k, v := range src.LockTypes {
			out.LockTypes[k] = v
		}
	}
	return out
}

// fileTable is the YAML representation of a table.
type fileTable struct {
	Methods   map[string]string `yaml:"methods"`
	Guards    []string          `yaml:"guards"`
	LockTypes []string          `yaml:"lockTypes"`
}

// Parse decodes a YAML table. Unknown keys and unknown effect names are errors.
func Parse(data []byte) (*Table, error) {
	var ft fileTable
	if err := yaml.UnmarshalStrict(data, &ft); err != nil {
		return nil, errors.Wrap(err, "could not decode operation table")
	}
	t := &Table{
		Methods:   make(lockstate.Methods, len(ft.Methods)),
		Guards:    make(map[string]bool, len(ft.Guards)),
		LockTypes: make(map[string]bool, len(ft.LockTypes)),
	}

	names := make([]string, 0, len(ft.Methods))
	for name := range ft.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		effect, ok := lockstate.ParseEffect(ft.Methods[name])
		if !ok {
			return nil, errors.Errorf("method %s: unknown effect %q", name, ft.Methods[name])
		}
		t.Methods[name] = effect
	}
	for _, g := range ft.Guards {
		t.Guards[g] = true
	}
	for _, lt := range ft.LockTypes {
		if !strings.Contains(lt, ".") {
			return nil, errors.Errorf("lock type %q is not package qualified", lt)
		}
		t.LockTypes[lt] = true
	}
	return t, nil
}

// Load reads a YAML table from path and merges it onto the default table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "could not read operation table %s", path)
	}
	extra, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", path)
	}
	log.WithFields(logrus.Fields{
		"path":      path,
		"methods":   len(extra.Methods),
		"guards":    len(extra.Guards),
		"lockTypes": len(extra.LockTypes),
	}).Debug("Loaded operation table")
	return Default().Merge(extra), nil
}
