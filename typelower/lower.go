// Package typelower maps every source type in a *sem.Resolve to its
// WebAssembly representation, memoizing the mapping and synthesizing the
// auxiliary structures (vtables, itables, closure-context shapes,
// interface views, array envelopes) that representation requires.
//
// The shape is a single pass over a resolved tree assigning each type a
// target representation exactly once, cached by type identity, with
// auxiliary wrapper types synthesized alongside.
package typelower

import (
	"fmt"

	"github.com/tswasm/lower/dataseg"
	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// Lowerer is the Type Lowerer: one instance per compilation, created and
// discarded with its Driver.
type Lowerer struct {
	mod   *wasmir.Module
	arena *dataseg.Arena

	valueTypes map[sem.Type]wasmir.ValType

	classStruct map[*sem.Class]uint32
	classVTable map[*sem.Class]uint32
	vtableSlots map[*sem.Class][]*sem.Function

	ifaceView      *uint32
	closureWrapper *uint32
	stringStruct   *uint32

	itableOffset map[*sem.Class]uint32

	closureCtx map[any]uint32 // keyed by the scope builder's own identity key

	arrayEnvelope map[sem.Type]uint32
	arrayData     map[sem.Type]uint32
	codepointArr  *uint32

	funcTypes map[string]uint32
}

// New returns a Lowerer writing synthesized types into mod and strings/
// itables into arena.
func New(mod *wasmir.Module, arena *dataseg.Arena) *Lowerer {
	return &Lowerer{
		mod:           mod,
		arena:         arena,
		valueTypes:    make(map[sem.Type]wasmir.ValType),
		classStruct:   make(map[*sem.Class]uint32),
		classVTable:   make(map[*sem.Class]uint32),
		vtableSlots:  make(map[*sem.Class][]*sem.Function),
		itableOffset: make(map[*sem.Class]uint32),
		closureCtx:    make(map[any]uint32),
		arrayEnvelope: make(map[sem.Type]uint32),
		arrayData:     make(map[sem.Type]uint32),
		funcTypes:     make(map[string]uint32),
	}
}

// RegisterFuncType interns a FuncType defined type for the given
// signature, memoized by its encoded shape so repeated call sites sharing
// a signature reuse one defined-type index.
func (l *Lowerer) RegisterFuncType(params, results []wasmir.ValType) uint32 {
	key := funcTypeKey(params, results)
	if idx, ok := l.funcTypes[key]; ok {
		return idx
	}
	idx := l.mod.AddType(wasmir.FuncType{Params: params, Results: results})
	l.funcTypes[key] = idx
	return idx
}

func funcTypeKey(params, results []wasmir.ValType) string {
	var b []byte
	for _, p := range params {
		b = append(b, valTypeKey(p)...)
		b = append(b, ',')
	}
	b = append(b, '|')
	for _, r := range results {
		b = append(b, valTypeKey(r)...)
		b = append(b, ',')
	}
	return string(b)
}

func valTypeKey(v wasmir.ValType) string {
	if v.Ref == nil {
		return fmt.Sprintf("n%d", v.Num)
	}
	return fmt.Sprintf("r%d:%d:%v", v.Ref.Heap.Abstract, v.Ref.Heap.Index, v.Ref.Nullable)
}

// ValueType returns t's WebAssembly value type, computing it once and
// caching by t's identity.
func (l *Lowerer) ValueType(t sem.Type) wasmir.ValType {
	if vt, ok := l.valueTypes[t]; ok {
		return vt
	}
	vt := l.computeValueType(t)
	l.valueTypes[t] = vt
	return vt
}

func (l *Lowerer) computeValueType(t sem.Type) wasmir.ValType {
	switch v := t.(type) {
	case sem.Number:
		return wasmir.Num(wasmir.F64)
	case sem.Boolean:
		return wasmir.Num(wasmir.I32)
	case sem.StringT:
		return wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.stringStructType()), Nullable: true})
	case sem.Null, sem.Undefined, sem.Void:
		return wasmir.Num(wasmir.I32)
	case sem.Any:
		return wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapExtern}, Nullable: true})
	case *sem.ArrayType:
		return wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.arrayEnvelopeType(v.Elem)), Nullable: true})
	case *sem.Function:
		return wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.FunctionClosureStruct()), Nullable: true})
	case *sem.Class:
		return wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.ClassStructType(v)), Nullable: true})
	case *sem.Interface:
		return wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(l.InterfaceViewType()), Nullable: true})
	}
	errs.Panic(fmt.Sprintf("unlowerable type %T", t))
	panic("unreachable")
}

// stringStructType memoizes the `{ i32 flag, array<i32> codepoints }`
// struct type shared by every string value.
func (l *Lowerer) stringStructType() uint32 {
	if l.stringStruct != nil {
		return *l.stringStruct
	}
	codepointArray := l.mod.AddType(wasmir.ArrayType{
		Elem: wasmir.FieldType{Type: wasmir.Num(wasmir.I32), Mutable: false},
	})
	l.codepointArr = &codepointArray
	idx := l.mod.AddType(wasmir.StructType{
		Fields: []wasmir.FieldType{
			{Type: wasmir.Num(wasmir.I32), Mutable: false},
			{Type: wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(codepointArray), Nullable: true}), Mutable: false},
		},
	})
	l.stringStruct = &idx
	return idx
}

// StringStructType is the public form of stringStructType, for callers
// (exprlower) that need the defined-type index to construct string
// literal values directly.
func (l *Lowerer) StringStructType() uint32 { return l.stringStructType() }

// StringCodepointArrayType returns the `array<i32>` defined-type index
// backing every string's codepoints field, synthesizing the string
// struct first if it has not been referenced yet.
func (l *Lowerer) StringCodepointArrayType() uint32 {
	l.stringStructType()
	return *l.codepointArr
}

// arrayEnvelopeType returns the `{ array<T> data, i32 length }` envelope
// struct type for Array<elem>, one per distinct element type.
func (l *Lowerer) arrayEnvelopeType(elem sem.Type) uint32 {
	if idx, ok := l.arrayEnvelope[elem]; ok {
		return idx
	}
	elemVT := l.ValueType(elem)
	arrType := l.mod.AddType(wasmir.ArrayType{
		Elem: wasmir.FieldType{Type: elemVT, Mutable: true},
	})
	l.arrayData[elem] = arrType
	idx := l.mod.AddType(wasmir.StructType{
		Fields: []wasmir.FieldType{
			{Type: wasmir.Ref(wasmir.RefType{Heap: wasmir.ConcreteHeap(arrType), Nullable: true}), Mutable: false},
			{Type: wasmir.Num(wasmir.I32), Mutable: false},
		},
	})
	l.arrayEnvelope[elem] = idx
	return idx
}

// ArrayEnvelopeType is the public form of arrayEnvelopeType.
func (l *Lowerer) ArrayEnvelopeType(elem sem.Type) uint32 { return l.arrayEnvelopeType(elem) }

// ArrayDataType returns the underlying `array<T>` defined-type index for
// Array<elem>, synthesizing the envelope first if needed.
func (l *Lowerer) ArrayDataType(elem sem.Type) uint32 {
	l.arrayEnvelopeType(elem)
	return l.arrayData[elem]
}

// FunctionClosureStruct returns the shared `{ ref context, ref funcref }`
// wrapper type used for every first-class function value. All closures
// share one shape; the typed funcref stored in field 1 is ref-cast to its
// specific signature at each call site rather than carried in the type,
// since first-class function values are structurally uniform regardless
// of arity (an Open Question resolution: see DESIGN.md).
func (l *Lowerer) FunctionClosureStruct() uint32 {
	if l.closureWrapper != nil {
		return *l.closureWrapper
	}
	idx := l.mod.AddType(wasmir.StructType{
		Fields: []wasmir.FieldType{
			{Type: wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true}), Mutable: false},
			{Type: wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapFunc}, Nullable: false}), Mutable: false},
		},
	})
	l.closureWrapper = &idx
	return idx
}

// InterfaceViewType returns the fixed 3-field `{ i32 itable-ptr, i32
// type-id, ref any-object }` struct shared by every interface-typed
// value.
func (l *Lowerer) InterfaceViewType() uint32 {
	if l.ifaceView != nil {
		return *l.ifaceView
	}
	idx := l.mod.AddType(wasmir.StructType{
		Fields: []wasmir.FieldType{
			{Type: wasmir.Num(wasmir.I32), Mutable: false},
			{Type: wasmir.Num(wasmir.I32), Mutable: false},
			{Type: wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true}), Mutable: false},
		},
	})
	l.ifaceView = &idx
	return idx
}

// FunctionParamTypes returns f's full parameter-type list: the
// context-parameter type is always prepended, and for methods the
// `this` parameter follows it.
func (l *Lowerer) FunctionParamTypes(f *sem.Function) []wasmir.ValType {
	params := make([]wasmir.ValType, 0, len(f.Params)+2)
	params = append(params, wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true}))
	if f.Kind == sem.FuncMethod || f.Kind == sem.FuncGetter || f.Kind == sem.FuncSetter || f.Kind == sem.FuncConstructor {
		if c, ok := f.Owner.(*sem.Class); ok {
			params = append(params, l.ValueType(c))
		}
	}
	for _, p := range f.Params {
		params = append(params, l.ValueType(p.Type))
	}
	return params
}

// ClosureContextStructType registers a fresh struct type for a scope's
// captured-variable context: field 0 is always the parent context (a
// nullable anyref, cast down by the reader), followed by one field per
// captured declaration in declaration order. key distinguishes this
// scope's context from every other scope's; callers (package closctx)
// pass the scope's own identity.
func (l *Lowerer) ClosureContextStructType(key any, captured []sem.Type) uint32 {
	if idx, ok := l.closureCtx[key]; ok {
		return idx
	}
	fields := make([]wasmir.FieldType, 0, len(captured)+1)
	fields = append(fields, wasmir.FieldType{
		Type:    wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true}),
		Mutable: false,
	})
	for _, t := range captured {
		fields = append(fields, wasmir.FieldType{Type: l.ValueType(t), Mutable: true})
	}
	idx := l.mod.AddType(wasmir.StructType{Fields: fields})
	l.closureCtx[key] = idx
	return idx
}
