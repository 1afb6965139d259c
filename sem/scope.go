package sem

// VarKind distinguishes where an identifier's storage lives, which in turn
// selects the Access Descriptor variant the Expression Lowerer produces
// for it (see package access).
type VarKind int

const (
	VarLocal VarKind = iota
	VarGlobal
	VarCaptured // lives in a ClosureContext field
)

// Decl is one declared identifier (parameter or local variable) within a
// [Scope].
type Decl struct {
	Name     string
	Type     Type
	Kind     VarKind
	ReadOnly bool

	// Captured is true if some nested scope reads or writes this
	// declaration across a function boundary. The Closure Context
	// Builder allocates a context field for every Captured declaration.
	Captured bool

	// ClosureIndex is the field index within the owning scope's
	// closure-context struct. Valid only if Captured.
	ClosureIndex int
}

// Scope is one lexical scope in the semantic tree: a function body, a
// block, or a loop body. Scopes nest via Parent; identifier resolution
// walks Parent until a matching Decl is found.
type Scope struct {
	Parent *Scope
	Func   *Function // the enclosing function (nil at module scope)
	Decls  []*Decl

	// HasCaptures is true if any Decl in this scope is Captured, or if
	// the scope is a function body and some Decl in the semantic tree
	// reachable through this scope is Captured. The Closure Context
	// Builder only materializes a struct for scopes where this holds;
	// scopes without captures simply alias their parent's context.
	HasCaptures bool
}

// Lookup finds decl by name, searching from s outward through Parent.
// The returned Scope is the one that owns decl.
func (s *Scope) Lookup(name string) (decl *Decl, owner *Scope, ok bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		for _, d := range cur.Decls {
			if d.Name == name {
				return d, cur, true
			}
		}
	}
	return nil, nil, false
}

// Depth returns the number of closure-context hops between s and the scope
// that owns decl, counting only scopes with HasCaptures (since those are
// the only ones with a materialized parent-context field). A depth of 0
// means decl's owning scope is s itself or is aliased to the same context
// as s (no captures in between).
func (s *Scope) Depth(owner *Scope) int {
	depth := 0
	for cur := s; cur != nil && cur != owner; cur = cur.Parent {
		if cur.HasCaptures {
			depth++
		}
	}
	return depth
}
