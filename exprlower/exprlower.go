// Package exprlower implements the Expression Lowerer: it
// lowers every [sem.Expr] form either by-value (a WebAssembly instruction
// plus its source type) or by-reference (an [access.Descriptor]),
// dispatching polymorphic operators, property/element access across five
// receiver shapes, method/interface call binding, and boxing/unboxing
// between the statically typed and `any` worlds.
//
// One lowerer struct threads the shared type-lowering cache and
// dispatches on Go type switches over the resolved tree's node kinds,
// emitting WebAssembly IR nodes.
package exprlower

import (
	"fmt"

	"github.com/tswasm/lower/access"
	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/dataseg"
	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/fnctx"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/typelower"
)

// Env carries everything a single call into the Expression Lowerer needs
// beyond the expression itself: the active function's scratch state, the
// closure-context builder and the context currently in scope, and a
// resolver for sibling functions/classes by name (supplied by
// moduledriver, which owns the full *sem.Resolve).
type Env struct {
	FC     *fnctx.Ctx
	Ctx    *closctx.Context // the scope whose identifiers are being resolved
	CtxRef wasmir.Instr     // instruction producing Ctx's context value (a local.get in practice)
	Scope  *sem.Scope

	// ThisRef, when non-nil, is the instruction reading the function's
	// `this` local (methods/getters/setters/constructors only).
	ThisRef wasmir.Instr
}

// Lowerer is the Expression Lowerer: stateless across calls except for
// the shared Type Lowerer and Data Segment Arena references every
// lowering decision consults.
type Lowerer struct {
	Types *typelower.Lowerer
	Arena *dataseg.Arena
	CB    *closctx.Builder

	// MangledMethod names the WebAssembly function backing a class
	// method or constructor, supplied by moduledriver so every package
	// agrees on one naming scheme.
	MangledMethod func(owner *sem.Class, f *sem.Function) string
	// MangledFunc names the WebAssembly function backing a freestanding
	// function.
	MangledFunc func(f *sem.Function) string

	// Classes/Interfaces/Functions index every top-level declaration by
	// name, populated by moduledriver once up front, so call/new/static
	// member lowering can resolve a name without threading the whole
	// *sem.Resolve through every call.
	Classes    map[string]*sem.Class
	Interfaces map[string]*sem.Interface
	Functions  map[string]*sem.Function
}

// New returns a Lowerer sharing types, arena, and cb with the rest of the
// compilation.
func New(types *typelower.Lowerer, arena *dataseg.Arena, cb *closctx.Builder) *Lowerer {
	return &Lowerer{
		Types: types,
		Arena: arena,
		CB:    cb,
		MangledMethod: func(owner *sem.Class, f *sem.Function) string {
			return owner.Name + "|" + f.Name
		},
		MangledFunc: func(f *sem.Function) string { return f.Name },
	}
}

// ByValue lowers e to a WebAssembly expression and its source type.
func (l *Lowerer) ByValue(env *Env, e sem.Expr) (wasmir.Instr, sem.Type, error) {
	switch v := e.(type) {
	case *sem.Literal:
		return l.literal(v)
	case *sem.Ident:
		return l.readIdent(env, v)
	case *sem.Binary:
		return l.binary(env, v)
	case *sem.Unary:
		return l.unary(env, v)
	case *sem.Assign:
		return l.assign(env, v)
	case *sem.PropertyAccess:
		return l.loadProperty(env, v)
	case *sem.ElementAccess:
		return l.loadElement(env, v)
	case *sem.Call:
		return l.call(env, v)
	case *sem.New:
		return l.new_(env, v)
	case *sem.Super:
		return l.super(env, v)
	case *sem.FunctionExpr:
		return l.functionExpr(env, v)
	case *sem.Cast:
		return l.cast(env, v)
	case *sem.Conditional:
		return l.conditional(env, v)
	case *sem.Truthiness:
		return l.truthiness(env, v.Operand)
	}
	return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("expression %T", e)})
}

// ByReference lowers e to an [access.Descriptor] when e denotes an
// addressable slot, or falls back to ByValue for pure rvalues.
func (l *Lowerer) ByReference(env *Env, e sem.Expr) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	switch v := e.(type) {
	case *sem.Ident:
		return l.identDescriptor(env, v)
	case *sem.PropertyAccess:
		return l.propertyDescriptor(env, v)
	case *sem.ElementAccess:
		return l.elementDescriptor(env, v)
	}
	instr, t, err := l.ByValue(env, e)
	return nil, instr, t, err
}

func (l *Lowerer) literal(lit *sem.Literal) (wasmir.Instr, sem.Type, error) {
	switch lit.Type().(type) {
	case sem.Number:
		return &wasmir.F64Const{Value: lit.Num}, sem.Number{}, nil
	case sem.Boolean:
		v := int32(0)
		if lit.Bool {
			v = 1
		}
		return &wasmir.I32Const{Value: v}, sem.Boolean{}, nil
	case sem.StringT:
		return l.stringLiteral(lit), sem.StringT{}, nil
	case sem.Null:
		return &wasmir.I32Const{Value: 0}, sem.Null{}, nil
	case sem.Undefined:
		return &wasmir.I32Const{Value: 0}, sem.Undefined{}, nil
	}
	return nil, nil, fmt.Errorf("exprlower: literal of unexpected type %T", lit.Type())
}

// stringLiteral interns lit.Str into the arena (deduplicated if
// lit.Dedup) and constructs the string struct value from the interned
// bytes: `struct.new $string (i32.const offset) (array.new_data ...)`.
// Since wasmir has no array.new_data instruction (this backend never
// needs bulk-memory array init outside literal construction), string
// structs are built by constructing the codepoint array from an explicit
// element list read back out of the arena bytes at lowering time: the
// data segment copy backs the *deduplicated offset*, while the struct
// itself is built with ArrayNewFixed over the same codepoints so no
// runtime memory-to-GC-array bridge instruction is required. Field 0
// keeps the arena offset itself, not a placeholder, so a later box-to-any
// of this value can recover the real linear-memory location instead of a
// disguised constant (box.go's extractStringOffset).
func (l *Lowerer) stringLiteral(lit *sem.Literal) wasmir.Instr {
	off, _ := l.Arena.InternString(lit.Str, lit.Dedup)
	codepoints := []rune(lit.Str)
	elems := make([]wasmir.Instr, len(codepoints))
	for i, r := range codepoints {
		elems[i] = &wasmir.I32Const{Value: int32(r)}
	}
	arrType := l.Types.StringCodepointArrayType()
	arr := &wasmir.ArrayNewFixed{TypeIndex: arrType, Elems: elems}
	return &wasmir.StructNew{
		TypeIndex: l.Types.StringStructType(),
		Fields:    []wasmir.Instr{&wasmir.I32Const{Value: int32(off)}, arr},
	}
}

func (l *Lowerer) readIdent(env *Env, id *sem.Ident) (wasmir.Instr, sem.Type, error) {
	desc, val, t, err := l.identDescriptor(env, id)
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return val, t, nil
	}
	return l.Load(desc), t, nil
}

// identDescriptor resolves id.Decl against the storage discipline its
// VarKind names: a local slot, a global slot, or a closure-context
// field walked via package closctx.
func (l *Lowerer) identDescriptor(env *Env, id *sem.Ident) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	decl := id.Decl
	if decl == nil {
		return nil, nil, nil, &errs.ResolutionError{Name: id.Name, Where: "expression"}
	}
	switch decl.Kind {
	case sem.VarLocal:
		idx, ok := env.FC.LocalIndex(decl)
		if !ok {
			return nil, nil, nil, &errs.ResolutionError{Name: id.Name, Where: "function locals"}
		}
		return access.NewLocalSlot(decl.Type, idx, l.Types.ValueType(decl.Type)), nil, decl.Type, nil
	case sem.VarGlobal:
		return access.NewGlobalSlot(decl.Type, decl.Name, l.Types.ValueType(decl.Type)), nil, decl.Type, nil
	case sem.VarCaptured:
		owner, ok := l.CB.Lookup(env.Scope, decl)
		if !ok {
			return nil, nil, nil, &errs.ResolutionError{Name: id.Name, Where: "cannot resolve closure variable"}
		}
		ref := closctx.FieldRead(env.Ctx, owner, env.CtxRef, decl)
		return access.NewCaptureField(decl.Type, ref, env.Ctx, owner, env.CtxRef, decl), nil, decl.Type, nil
	}
	return nil, nil, nil, fmt.Errorf("exprlower: unknown VarKind %v for %q", decl.Kind, id.Name)
}

// Load returns the instruction that reads d's current value.
func (l *Lowerer) Load(d access.Descriptor) wasmir.Instr {
	switch v := d.(type) {
	case *access.CaptureField:
		return v.Read
	case *access.LocalSlot:
		return &wasmir.LocalGet{Index: v.Index}
	case *access.GlobalSlot:
		return &wasmir.GlobalGet{Name: v.Name}
	case *access.StructField:
		return &wasmir.StructGet{TypeIndex: v.StructType, FieldIndex: v.FieldIndex, Ref: v.OwnerRef}
	case *access.ArrayElement:
		arrRef := &wasmir.StructGet{TypeIndex: v.EnvelopeType, FieldIndex: 0, Ref: v.EnvelopeRef}
		idx := indexToI32(v.IndexExpr)
		return &wasmir.ArrayGet{TypeIndex: v.DataType, Ref: arrRef, Index: idx}
	case *access.DynamicField:
		off, _ := l.Arena.InternString(v.FieldName, true)
		return hostabi.Call(hostabi.GetProperty, v.ObjectRef, &wasmir.I32Const{Value: int32(off)})
	case *access.DynamicElement:
		return hostabi.Call(hostabi.GetElem, v.ObjectRef, v.IndexExpr)
	case *access.InterfaceField:
		return l.loadInterfaceField(v)
	case *access.GetterBinding:
		return l.loadThroughGetter(v)
	}
	errs.Panic(fmt.Sprintf("Load: unsupported descriptor %T", d))
	return nil
}

// loadThroughGetter reads an accessor-backed property by dispatching the
// getter through the owner's vtable, the same call shape a zero-argument
// method call takes.
func (l *Lowerer) loadThroughGetter(g *access.GetterBinding) wasmir.Instr {
	cls, ok := g.OwnerType.(*sem.Class)
	if !ok {
		errs.Panic(fmt.Sprintf("Load: getter binding on non-class owner %T", g.OwnerType))
	}
	slot, ok := l.Types.MethodSlotIndex(cls, g.GetterType.Name)
	if !ok {
		errs.Panic(fmt.Sprintf("Load: getter %q has no vtable slot on %s", g.GetterType.Name, cls.Name))
	}
	vtable := &wasmir.StructGet{TypeIndex: l.Types.ClassStructType(cls), FieldIndex: 0, Ref: g.Receiver}
	fref := &wasmir.StructGet{TypeIndex: l.Types.ClassVTableType(cls), FieldIndex: uint32(slot), Ref: vtable}
	args := []wasmir.Instr{anyRefNull(), g.Receiver}
	return &wasmir.CallRef{TypeIndex: l.funcTypeIndexFor(g.GetterType, cls), Callee: fref, Args: args}
}

// Store returns the instruction that writes value into d, or an error if
// d is not Mutable.
func (l *Lowerer) Store(d access.Descriptor, value wasmir.Instr) (wasmir.Instr, error) {
	switch v := d.(type) {
	case *access.CaptureField:
		return closctx.FieldWrite(v.From, v.Owner, v.CtxRef, v.Decl, value), nil
	case *access.LocalSlot:
		return &wasmir.LocalSet{Index: v.Index, Value: value}, nil
	case *access.GlobalSlot:
		return &wasmir.GlobalSet{Name: v.Name, Value: value}, nil
	case *access.StructField:
		return &wasmir.StructSet{TypeIndex: v.StructType, FieldIndex: v.FieldIndex, Ref: v.OwnerRef, Value: value}, nil
	case *access.ArrayElement:
		arrRef := &wasmir.StructGet{TypeIndex: v.EnvelopeType, FieldIndex: 0, Ref: v.EnvelopeRef}
		idx := indexToI32(v.IndexExpr)
		return &wasmir.ArraySet{TypeIndex: v.DataType, Ref: arrRef, Index: idx, Value: value}, nil
	case *access.DynamicField:
		off, _ := l.Arena.InternString(v.FieldName, true)
		return hostabi.Call(hostabi.SetProperty, v.ObjectRef, &wasmir.I32Const{Value: int32(off)}, value), nil
	case *access.DynamicElement:
		return hostabi.Call(hostabi.SetElem, v.ObjectRef, v.IndexExpr, value), nil
	case *access.InterfaceField:
		return l.storeInterfaceField(v, value), nil
	}
	return nil, fmt.Errorf("exprlower: %w", &errs.TypeMismatchError{Want: "mutable slot", Got: fmt.Sprintf("%T", d), Context: "assignment"})
}

// indexToI32 converts a `number` (f64) index expression to the i32 array
// index WebAssembly's array.get/array.set require.
func indexToI32(index wasmir.Instr) wasmir.Instr {
	i64 := &wasmir.UnaryNumeric{Op: wasmir.OpTruncF64ToI64, Operand: index}
	return &wasmir.UnaryNumeric{Op: wasmir.OpWrapI64ToI32, Operand: i64}
}
