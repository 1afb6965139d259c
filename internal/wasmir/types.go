// Package wasmir is a minimal in-memory intermediate representation for
// WebAssembly modules targeting the GC, function-references, and
// typed-tables proposals.
//
// No third-party WebAssembly encoder in this module's dependency
// ecosystem models the GC proposal's struct/array defined types or the
// function-references proposal's typed call-ref instructions (wazero, the
// only Wasm-adjacent library available, is a *runtime*: it decodes and
// executes modules, it does not build them). This package stands in for
// the external "WebAssembly builder library" the lowering engine is
// written against; its shape (a ModuleBuilder assembling sections by
// name, constant expressions pairing an opcode with encoded immediate
// data) follows the general builder shape such libraries expose.
package wasmir

// NumType is a WebAssembly numeric value type.
type NumType uint8

const (
	I32 NumType = iota
	I64
	F32
	F64
)

// AbstractHeap names one of the GC proposal's abstract heap types, used
// either directly as a RefType's Heap or as a RefType's upper bound.
type AbstractHeap uint8

const (
	HeapFunc AbstractHeap = iota
	HeapExtern
	HeapAny
	HeapEq
	HeapStruct
	HeapArray
	HeapNone
	HeapNoFunc
	HeapNoExtern
	HeapConcrete // a defined type; Index names it in Module.Types
)

// HeapType is either one of the abstract heap types or a reference to a
// defined composite type by index into Module.Types.
type HeapType struct {
	Abstract AbstractHeap
	Index    uint32 // valid only if Abstract == HeapConcrete
}

func ConcreteHeap(typeIndex uint32) HeapType {
	return HeapType{Abstract: HeapConcrete, Index: typeIndex}
}

// RefType is a reference value type: `(ref null? heaptype)`.
type RefType struct {
	Heap     HeapType
	Nullable bool
}

// ValType is any WebAssembly value type: one of the four numeric types,
// or a reference type.
type ValType struct {
	Num NumType
	Ref *RefType // non-nil selects a reference type over Num
}

func Num(t NumType) ValType   { return ValType{Num: t} }
func Ref(r RefType) ValType   { return ValType{Ref: &r} }
func IsRef(v ValType) bool    { return v.Ref != nil }

// FieldType is one field of a struct or array defined type; packed
// storage (i8/i16) is not modeled since this backend never needs it.
type FieldType struct {
	Type    ValType
	Mutable bool
}

// CompositeType is implemented by every GC defined type kind a Module
// can declare: FuncType, StructType, ArrayType.
type CompositeType interface {
	isComposite()
}

type baseComposite struct{}

func (baseComposite) isComposite() {}

// FuncType is a function signature, used both for imported/defined
// functions and as the heap type of a funcref-family value.
type FuncType struct {
	baseComposite
	Params  []ValType
	Results []ValType
}

// StructType is a GC struct defined type. By this backend's convention
// field 0 is the vtable reference for class instances and the
// parent-context reference for closure contexts; other struct types
// (strings, array envelopes, interface views, vtables, closure wrappers)
// have their own layouts.
type StructType struct {
	baseComposite
	Fields []FieldType
}

// ArrayType is a GC array defined type with a single homogeneous element
// field.
type ArrayType struct {
	baseComposite
	Elem FieldType
}
