// Package hostabi describes the fixed host runtime ABI: the
// dynamic-value operations imported from the "dyntype" namespace that
// back every `any`-typed operation, plus the reflection-style
// struct_get_dyn_*/struct_set_dyn_*/find_index helpers the interface
// slow path calls into.
//
// The surface is a fixed set of functions imported by name,
// one entry per import, with the module name carried alongside;
// here the "module" is the dynamic-host runtime instead of a Preview 2
// world, and the surface is hand-described rather than generated, since
// this package is itself the generator's output for one fixed interface.
package hostabi

import (
	"fmt"
	"strings"

	semver "github.com/coreos/go-semver/semver"

	"github.com/tswasm/lower/internal/wasmir"
)

// DefaultModule is the import-module name used for every host ABI
// function unless an [Option] overrides it (see package moduledriver).
const DefaultModule = "dyntype"

// MinVersion is the minimum host ABI version this backend was built
// against; hostabi.Check rejects anything with a lower major version,
// the same way a major-version bump elsewhere in this module's own
// go-semver usage signals a breaking surface change.
var MinVersion = semver.New("1.0.0")

// Check parses version and reports a *ValidationFailure-shaped error if
// its major version is older than MinVersion's, meaning this backend's
// assumptions about the dyntype_* surface no longer hold.
func Check(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("hostabi: invalid host ABI version %q: %w", version, err)
	}
	if v.Major < MinVersion.Major {
		return fmt.Errorf("hostabi: host ABI major version %d is older than the minimum supported %d", v.Major, MinVersion.Major)
	}
	return nil
}

func anyref() wasmir.ValType {
	return wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapExtern}, Nullable: true})
}

func ctxref() wasmir.ValType {
	return wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true})
}

// Func names every host ABI function this backend calls, by its
// dyntype_* import name.
type Func string

const (
	ContextInit Func = "dyntype_context_init"

	NewNumber    Func = "dyntype_new_number"
	NewBoolean   Func = "dyntype_new_boolean"
	NewString    Func = "dyntype_new_string"
	NewNull      Func = "dyntype_new_null"
	NewUndefined Func = "dyntype_new_undefined"
	NewArray     Func = "dyntype_new_array"
	NewObject    Func = "dyntype_new_object"
	NewExtref    Func = "dyntype_new_extref"

	IsNumber    Func = "dyntype_is_number"
	IsBoolean   Func = "dyntype_is_boolean"
	IsString    Func = "dyntype_is_string"
	IsNull      Func = "dyntype_is_null"
	IsUndefined Func = "dyntype_is_undefined"
	IsObject    Func = "dyntype_is_object"
	IsExtref    Func = "dyntype_is_extref"

	ToNumber Func = "dyntype_to_number"
	ToBool   Func = "dyntype_to_bool"
	ToString Func = "dyntype_to_string"
	ToExtref Func = "dyntype_to_extref"

	TypeEq Func = "dyntype_type_eq"
	Cmp    Func = "dyntype_cmp"

	GetProperty Func = "dyntype_get_property"
	SetProperty Func = "dyntype_set_property"
	HasProperty Func = "dyntype_has_property"

	GetElem Func = "dyntype_get_elem"
	SetElem Func = "dyntype_set_elem"

	GetPrototype Func = "dyntype_get_prototype"
	SetPrototype Func = "dyntype_set_prototype"

	Invoke              Func = "dyntype_invoke"
	NewObjectWithClass  Func = "dyntype_new_object_with_class"

	StructGetDynI32     Func = "struct_get_dyn_i32"
	StructGetDynI64     Func = "struct_get_dyn_i64"
	StructGetDynF32     Func = "struct_get_dyn_f32"
	StructGetDynF64     Func = "struct_get_dyn_f64"
	StructGetDynAnyref  Func = "struct_get_dyn_anyref"
	StructGetDynFuncref Func = "struct_get_dyn_funcref"
	StructSetDynI32     Func = "struct_set_dyn_i32"
	StructSetDynI64     Func = "struct_set_dyn_i64"
	StructSetDynF32     Func = "struct_set_dyn_f32"
	StructSetDynF64     Func = "struct_set_dyn_f64"
	StructSetDynAnyref  Func = "struct_set_dyn_anyref"
	StructSetDynFuncref Func = "struct_set_dyn_funcref"

	FindIndex Func = "find_index"
)

// ExtKind tags the kind of host object boxed by [NewExtref].
type ExtKind int32

const (
	ExtObj ExtKind = iota
	ExtArray
	ExtInfc
	ExtFunc
)

// sig describes one import's WebAssembly signature.
type sig struct {
	name    Func
	params  []wasmir.ValType
	results []wasmir.ValType
}

// signatures lists every host ABI function's shape. Every dyntype_*
// function except dyntype_context_init takes the context handle (an
// anyref) as its first argument; the reflection helpers take none.
func signatures() []sig {
	i32 := wasmir.Num(wasmir.I32)
	f64 := wasmir.Num(wasmir.F64)
	any := anyref()
	ctx := ctxref()
	return []sig{
		{ContextInit, nil, []wasmir.ValType{ctx}},

		{NewNumber, []wasmir.ValType{ctx, f64}, []wasmir.ValType{any}},
		{NewBoolean, []wasmir.ValType{ctx, i32}, []wasmir.ValType{any}},
		{NewString, []wasmir.ValType{ctx, i32, i32}, []wasmir.ValType{any}}, // (offset, length)
		{NewNull, []wasmir.ValType{ctx}, []wasmir.ValType{any}},
		{NewUndefined, []wasmir.ValType{ctx}, []wasmir.ValType{any}},
		{NewArray, []wasmir.ValType{ctx}, []wasmir.ValType{any}},
		{NewObject, []wasmir.ValType{ctx}, []wasmir.ValType{any}},
		{NewExtref, []wasmir.ValType{ctx, i32, i32}, []wasmir.ValType{any}}, // (kind, table-index)

		{IsNumber, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{IsBoolean, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{IsString, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{IsNull, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{IsUndefined, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{IsObject, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{IsExtref, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},

		{ToNumber, []wasmir.ValType{ctx, any}, []wasmir.ValType{f64}},
		{ToBool, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},
		{ToString, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}}, // returns a string-struct table index
		{ToExtref, []wasmir.ValType{ctx, any}, []wasmir.ValType{i32}},

		{TypeEq, []wasmir.ValType{ctx, any, any}, []wasmir.ValType{i32}},
		{Cmp, []wasmir.ValType{ctx, any, any, i32}, []wasmir.ValType{i32}}, // last i32 names the comparator

		{GetProperty, []wasmir.ValType{ctx, any, i32}, []wasmir.ValType{any}},
		{SetProperty, []wasmir.ValType{ctx, any, i32, any}, nil},
		{HasProperty, []wasmir.ValType{ctx, any, i32}, []wasmir.ValType{i32}},

		{GetElem, []wasmir.ValType{ctx, any, f64}, []wasmir.ValType{any}},
		{SetElem, []wasmir.ValType{ctx, any, f64, any}, nil},

		{GetPrototype, []wasmir.ValType{ctx, any}, []wasmir.ValType{any}},
		{SetPrototype, []wasmir.ValType{ctx, any, any}, nil},

		{Invoke, []wasmir.ValType{ctx, i32, any, any}, []wasmir.ValType{any}},
		{NewObjectWithClass, []wasmir.ValType{ctx, i32, any}, []wasmir.ValType{any}},

		{StructGetDynI32, []wasmir.ValType{i32, i32}, []wasmir.ValType{i32}},
		{StructGetDynI64, []wasmir.ValType{i32, i32}, []wasmir.ValType{wasmir.Num(wasmir.I64)}},
		{StructGetDynF32, []wasmir.ValType{i32, i32}, []wasmir.ValType{wasmir.Num(wasmir.F32)}},
		{StructGetDynF64, []wasmir.ValType{i32, i32}, []wasmir.ValType{f64}},
		{StructGetDynAnyref, []wasmir.ValType{i32, i32}, []wasmir.ValType{any}},
		{StructGetDynFuncref, []wasmir.ValType{i32, i32}, []wasmir.ValType{wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapFunc}, Nullable: true})}},
		{StructSetDynI32, []wasmir.ValType{i32, i32, i32}, nil},
		{StructSetDynI64, []wasmir.ValType{i32, i32, wasmir.Num(wasmir.I64)}, nil},
		{StructSetDynF32, []wasmir.ValType{i32, i32, wasmir.Num(wasmir.F32)}, nil},
		{StructSetDynF64, []wasmir.ValType{i32, i32, f64}, nil},
		{StructSetDynAnyref, []wasmir.ValType{i32, i32, any}, nil},
		{StructSetDynFuncref, []wasmir.ValType{i32, i32, wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapFunc}, Nullable: true})}, nil},

		{FindIndex, []wasmir.ValType{i32, i32, i32}, []wasmir.ValType{i32}},
	}
}

// RegisterImports adds every host ABI function to mod as an import
// under moduleName. Name pointers passed to the host are offsets into
// the compiled module's linear-memory data segment.
func RegisterImports(mod *wasmir.Module, moduleName string) {
	for _, s := range signatures() {
		mod.AddImport(moduleName, string(s.name), wasmir.FuncType{Params: s.params, Results: s.results})
	}
}

// ContextGlobalName names the module global holding the handle
// dyntype_context_init returns. Package moduledriver declares the
// global and populates it at the head of global_init, before any other
// host call can run.
const ContextGlobalName = "dyntype$ctx"

// ContextRef reads the shared dynamic-value context handle.
func ContextRef() wasmir.Instr {
	return &wasmir.GlobalGet{Name: ContextGlobalName}
}

// ContextGlobal declares the context-handle global: null until
// global_init runs dyntype_context_init.
func ContextGlobal() *wasmir.Global {
	return &wasmir.Global{
		Name:    ContextGlobalName,
		Type:    ctxref(),
		Mutable: true,
		Init:    &wasmir.RefNull{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}},
	}
}

// Call builds a direct call instruction to fn with args. Every dyntype_*
// function's first parameter is the shared context handle; Call supplies
// it from the context global, so call sites pass only the operands that
// follow it. dyntype_context_init itself and the reflection helpers
// (struct_get_dyn_*, struct_set_dyn_*, find_index) take no context and
// get args unchanged.
func Call(fn Func, args ...wasmir.Instr) wasmir.Instr {
	if takesContext(fn) {
		args = append([]wasmir.Instr{ContextRef()}, args...)
	}
	return &wasmir.Call{Name: string(fn), Args: args}
}

func takesContext(fn Func) bool {
	switch fn {
	case ContextInit, FindIndex:
		return false
	}
	name := string(fn)
	return !strings.HasPrefix(name, "struct_get_dyn_") && !strings.HasPrefix(name, "struct_set_dyn_")
}
