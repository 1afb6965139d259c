// Package closctx implements the Closure Context Builder:
// for every scope that captures free variables, it materializes a context
// struct type (via typelower) and the instructions to allocate and thread
// it through nested scopes.
//
// A naive closure chain is raw parent-pointer traversal entangled with
// the scope tree, which produces cyclic references between context
// and scope. Here a context is an arena entry (Builder.ctxs) addressed by
// its owning *sem.Scope identity plus its own parent link, so identifier
// resolution becomes a walk over a flat arena rather than pointer-chasing
// a cyclic structure.
package closctx

import (
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/typelower"
)

// Context describes one scope's materialized closure context: either a
// fresh struct (Fresh true) or an alias of the nearest ancestor context
// that does carry one.
type Context struct {
	Scope       *sem.Scope
	Fresh       bool // true if this scope allocates its own struct
	StructType  uint32
	Parent      *Context // nearest ancestor Context this one's field 0 points at; nil at the root
	Fields      []*sem.Decl
}

// Builder tracks every scope's Context for one function's lowering
// pass, created fresh per function since a context's lifetime is tied
// to the enclosing function's activation record.
type Builder struct {
	lower *typelower.Lowerer
	ctxs  map[*sem.Scope]*Context
}

// New returns a Builder whose contexts are typed through lower.
func New(lower *typelower.Lowerer) *Builder {
	return &Builder{lower: lower, ctxs: make(map[*sem.Scope]*Context)}
}

// Enter materializes (or aliases) scope's context, given parent's already
// materialized Context (nil at a function's outermost scope, where the
// function's own context parameter plays that role).
func (b *Builder) Enter(scope *sem.Scope, parent *Context) *Context {
	if ctx, ok := b.ctxs[scope]; ok {
		return ctx
	}

	var captured []*sem.Decl
	for _, d := range scope.Decls {
		if d.Captured {
			captured = append(captured, d)
		}
	}

	if len(captured) == 0 {
		// No captures here: this scope's context is whatever its
		// parent's is (field-0 aliasing happens at read time, not
		// here; there is no new struct to allocate).
		ctx := &Context{Scope: scope, Fresh: false, Parent: parent}
		b.ctxs[scope] = ctx
		return ctx
	}

	capturedTypes := make([]sem.Type, len(captured))
	for i, d := range captured {
		d.ClosureIndex = i + 1 // field 0 is always the parent context
		capturedTypes[i] = d.Type
	}
	structType := b.lower.ClosureContextStructType(scope, capturedTypes)
	ctx := &Context{
		Scope:      scope,
		Fresh:      true,
		StructType: structType,
		Parent:     parent,
		Fields:     captured,
	}
	b.ctxs[scope] = ctx
	return ctx
}

// Lookup returns the Context that owns decl, walking from scope's Context
// toward the root. ok is false if no materialized Context in the chain
// declares decl as one of its Fields; the caller (exprlower) treats
// this as the fatal "cannot resolve closure variable" condition, a
// front-end bug.
func (b *Builder) Lookup(scope *sem.Scope, decl *sem.Decl) (owner *Context, ok bool) {
	ctx, have := b.ctxs[scope]
	if !have {
		return nil, false
	}
	for cur := ctx; cur != nil; cur = cur.Parent {
		for _, f := range cur.Fields {
			if f == decl {
				return cur, true
			}
		}
	}
	return nil, false
}

// Alloc builds the allocation instruction for ctx's own struct (StructNew
// with field 0 set to parentRef as given, followed by a copy of each
// captured declaration's current value, read via localRead). Returns
// parentRef itself if ctx is not Fresh (nothing to allocate).
func (b *Builder) Alloc(ctx *Context, parentRef wasmir.Instr, localRead func(*sem.Decl) wasmir.Instr) wasmir.Instr {
	if !ctx.Fresh {
		return parentRef
	}
	fields := make([]wasmir.Instr, 0, len(ctx.Fields)+1)
	fields = append(fields, parentRef)
	for _, d := range ctx.Fields {
		fields = append(fields, localRead(d))
	}
	return &wasmir.StructNew{TypeIndex: ctx.StructType, Fields: fields}
}

// FieldRead builds `struct.get` instructions walking from fromCtx up to
// (and including) the struct-get on owner's field for decl, for a read of
// decl when fromCtx is a descendant (or the same) context. ctxRef is the
// instruction producing fromCtx's own context value (a local.get in
// practice).
//
// An alias (non-Fresh) context shares its parent's runtime value, so the
// walk only emits a parent hop when leaving a Fresh context's own struct;
// aliases are skipped without a hop. The context value travels as an
// abstract ref between hops (field 0 is declared anyref), so each access
// casts down to the concrete struct it is about to read.
func FieldRead(fromCtx, owner *Context, ctxRef wasmir.Instr, decl *sem.Decl) wasmir.Instr {
	ref := walkToOwner(fromCtx, owner, ctxRef)
	return &wasmir.StructGet{TypeIndex: owner.StructType, FieldIndex: uint32(decl.ClosureIndex), Ref: ref}
}

// FieldWrite is FieldRead's store counterpart.
func FieldWrite(fromCtx, owner *Context, ctxRef wasmir.Instr, decl *sem.Decl, value wasmir.Instr) wasmir.Instr {
	ref := walkToOwner(fromCtx, owner, ctxRef)
	return &wasmir.StructSet{TypeIndex: owner.StructType, FieldIndex: uint32(decl.ClosureIndex), Ref: ref, Value: value}
}

// walkToOwner produces the instruction sequence whose value is owner's
// context struct, cast to owner's concrete type, starting from fromCtx's
// own context value.
func walkToOwner(fromCtx, owner *Context, ctxRef wasmir.Instr) wasmir.Instr {
	ref := ctxRef
	for cur := fromCtx; cur != owner; cur = cur.Parent {
		if !cur.Fresh {
			continue
		}
		cast := &wasmir.RefCast{Operand: ref, Target: wasmir.RefType{Heap: wasmir.ConcreteHeap(cur.StructType), Nullable: true}}
		ref = &wasmir.StructGet{TypeIndex: cur.StructType, FieldIndex: 0, Ref: cast}
	}
	return &wasmir.RefCast{Operand: ref, Target: wasmir.RefType{Heap: wasmir.ConcreteHeap(owner.StructType), Nullable: true}}
}
