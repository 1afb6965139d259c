// Package names provides a scoped, collision-free name allocator.
//
// It is used everywhere this backend must hand out a unique textual name:
// mangled function and type names at module scope, method names inside a
// vtable/itable scope, and local variable names inside a function scope.
package names

// Scope represents a naming scope: a module, a class, or a function body.
type Scope interface {
	// HasName returns true if this scope or any of its parent scopes
	// already contains name.
	HasName(name string) bool

	// DeclareName modifies name if necessary to avoid collision with
	// this scope and any of its parent scopes, and declares it. It returns the
	// unique name that was actually declared.
	DeclareName(name string) string
}

type scope struct {
	parent Scope
	names  map[string]bool
}

// NewScope returns a [Scope] nested inside parent. If parent is nil, the
// scope has no reserved names.
func NewScope(parent Scope) Scope {
	if parent == nil {
		parent = empty{}
	}
	return &scope{parent: parent, names: make(map[string]bool)}
}

func (s *scope) HasName(name string) bool {
	return s.names[name] || s.parent.HasName(name)
}

func (s *scope) DeclareName(name string) string {
	name = Unique(name, s.HasName)
	s.names[name] = true
	return name
}

type empty struct{}

func (empty) HasName(string) bool            { return false }
func (empty) DeclareName(name string) string { return name }

// Unique appends "_" to name until none of filters report a collision.
func Unique(name string, filters ...func(string) bool) string {
	collides := func(name string) bool {
		for _, f := range filters {
			if f(name) {
				return true
			}
		}
		return false
	}
	for collides(name) {
		name += "_"
	}
	return name
}

// HasKey returns a predicate reporting whether m contains k.
func HasKey[M ~map[K]V, K comparable, V any](m M) func(k K) bool {
	return func(k K) bool {
		_, ok := m[k]
		return ok
	}
}
