// Package access defines the Access Descriptor: the internal sum-typed
// value the Expression Lowerer returns when an expression must be
// resolved by-reference (an addressable slot) rather than by-value.
//
// The natural representation of a closed set of
// mutually exclusive payload shapes is a sum type, not a single struct
// with every field widened to its superset: one
// interface marker plus one concrete struct per case, switched on by a
// Go type switch rather than by a manually maintained tag field.
package access

import (
	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// Descriptor is implemented by every Access Descriptor variant.
type Descriptor interface {
	isDescriptor()
	// SourceType reports the source-level type of the value this slot
	// holds, used by callers deciding whether a coercion is needed.
	SourceType() sem.Type
}

type base struct{ T sem.Type }

func (base) isDescriptor()      {}
func (b base) SourceType() sem.Type { return b.T }

// LocalSlot addresses a function-local or parameter variable.
type LocalSlot struct {
	base
	Index    uint32
	WasmType wasmir.ValType
}

// GlobalSlot addresses a module-level global variable.
type GlobalSlot struct {
	base
	Name     string
	WasmType wasmir.ValType
}

// StructField addresses a field within a class instance, by 1-based
// slot index (field 0 is always the vtable; see sem.Class.AllFields).
type StructField struct {
	base
	OwnerRef    wasmir.Instr
	StructType  uint32 // the owning struct's defined-type index, for struct.get/struct.set
	FieldIndex  uint32
	WasmType    wasmir.ValType
}

// InterfaceField addresses a field reached through an interface view,
// carrying everything the dispatch protocol needs to
// choose between the fast (vtable-indexed) and slow (itable-resolved)
// paths at lowering time.
type InterfaceField struct {
	base
	InterfaceTypeID wasmir.Instr
	ObjectTypeID    wasmir.Instr
	ObjectRef       wasmir.Instr
	CastTarget      wasmir.RefType
	StaticIndex     uint32
	DynamicIndex    wasmir.Instr
}

// ArrayElement addresses one element of an Array<T> envelope.
type ArrayElement struct {
	base
	EnvelopeRef       wasmir.Instr
	EnvelopeType      uint32 // the `{data, length}` envelope struct's defined-type index
	DataType          uint32 // the underlying `array<T>` defined-type index
	IndexExpr         wasmir.Instr
	ElementWasmType   wasmir.ValType
	ElementSourceType sem.Type
}

// DynamicField addresses a named property on an `any` host object.
type DynamicField struct {
	base
	ObjectRef wasmir.Instr
	FieldName string
}

// DynamicElement addresses an indexed element of an `any` host array.
type DynamicElement struct {
	base
	ObjectRef wasmir.Instr
	IndexExpr wasmir.Instr
}

// FunctionBinding addresses a reference to a declared function by its
// enclosing function scope (used to build a closure value or make a
// direct call).
type FunctionBinding struct {
	base
	Func *sem.Function
}

// MethodBinding addresses a class method lookup: Receiver is nil for an
// unbound reference (e.g. inside the defining method itself resolving a
// sibling call), BuiltinFlag marks a primitive receiver's synthesized
// method table entry.
type MethodBinding struct {
	base
	OwnerType   sem.Type
	MethodType  *sem.Function
	MethodIndex int
	Receiver    wasmir.Instr // nil if none
	BuiltinFlag bool
	MethodName  string
	TypeArg     sem.Type // non-nil only for a monomorphized builtin generic method
}

// InfcMethodBinding is MethodBinding's interface-dispatch counterpart.
type InfcMethodBinding struct {
	base
	Iface        *sem.Interface
	MethodType   *sem.Function
	Receiver     wasmir.Instr
	StaticIndex  uint32
	DynamicIndex wasmir.Instr
}

// GetterBinding addresses a class property accessor.
type GetterBinding struct {
	base
	OwnerType  sem.Type
	GetterType *sem.Function
	Receiver   wasmir.Instr
}

// InfcGetterBinding is GetterBinding's interface-dispatch counterpart.
type InfcGetterBinding struct {
	base
	Iface        *sem.Interface
	GetterType   *sem.Function
	Receiver     wasmir.Instr
	StaticIndex  uint32
	DynamicIndex wasmir.Instr
}

// TypeBinding addresses a reference to a type itself (used for static
// member access, e.g. `ClassName.staticField`).
type TypeBinding struct {
	base
	Target sem.Type
}

// ScopeBinding addresses a reference to a lexical scope/namespace used as
// a property-access receiver.
type ScopeBinding struct {
	base
	Scope *sem.Scope
}

// CaptureField addresses a closure-captured variable, read/written by
// walking the context chain from the referencing scope's own context up
// to the context that owns the captured declaration.
type CaptureField struct {
	base
	Read   wasmir.Instr
	From   *closctx.Context
	Owner  *closctx.Context
	CtxRef wasmir.Instr
	Decl   *sem.Decl
}

// Mutable reports whether d supports Store: true for LocalSlot,
// GlobalSlot, StructField, InterfaceField, ArrayElement, DynamicField,
// DynamicElement and CaptureField; false for every binding variant
// (function, method, type, scope, getter/accessor, interface method or
// getter), whether or not an accessor has a paired setter.
func Mutable(d Descriptor) bool {
	switch d.(type) {
	case *LocalSlot, *GlobalSlot, *StructField, *InterfaceField,
		*ArrayElement, *DynamicField, *DynamicElement, *CaptureField:
		return true
	default:
		return false
	}
}
