package access

import (
	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// Each constructor fills in the variant's payload and its SourceType,
// since base.T is unexported: callers outside this package (exprlower)
// always go through these rather than building a literal directly.

func NewLocalSlot(t sem.Type, index uint32, wasmType wasmir.ValType) *LocalSlot {
	return &LocalSlot{base: base{T: t}, Index: index, WasmType: wasmType}
}

func NewGlobalSlot(t sem.Type, name string, wasmType wasmir.ValType) *GlobalSlot {
	return &GlobalSlot{base: base{T: t}, Name: name, WasmType: wasmType}
}

func NewStructField(t sem.Type, owner wasmir.Instr, structType, fieldIndex uint32, wasmType wasmir.ValType) *StructField {
	return &StructField{base: base{T: t}, OwnerRef: owner, StructType: structType, FieldIndex: fieldIndex, WasmType: wasmType}
}

func NewInterfaceField(t sem.Type, ifaceTypeID, objTypeID, objRef wasmir.Instr, castTarget wasmir.RefType, staticIndex uint32, dynamicIndex wasmir.Instr) *InterfaceField {
	return &InterfaceField{
		base:            base{T: t},
		InterfaceTypeID: ifaceTypeID,
		ObjectTypeID:    objTypeID,
		ObjectRef:       objRef,
		CastTarget:      castTarget,
		StaticIndex:     staticIndex,
		DynamicIndex:    dynamicIndex,
	}
}

func NewArrayElement(elemType sem.Type, envelope wasmir.Instr, envelopeType, dataType uint32, index wasmir.Instr, elemWasmType wasmir.ValType) *ArrayElement {
	return &ArrayElement{
		base:              base{T: elemType},
		EnvelopeRef:       envelope,
		EnvelopeType:      envelopeType,
		DataType:          dataType,
		IndexExpr:         index,
		ElementWasmType:   elemWasmType,
		ElementSourceType: elemType,
	}
}

func NewDynamicField(objRef wasmir.Instr, fieldName string) *DynamicField {
	return &DynamicField{base: base{T: sem.Any{}}, ObjectRef: objRef, FieldName: fieldName}
}

func NewDynamicElement(objRef, index wasmir.Instr) *DynamicElement {
	return &DynamicElement{base: base{T: sem.Any{}}, ObjectRef: objRef, IndexExpr: index}
}

func NewFunctionBinding(f *sem.Function) *FunctionBinding {
	return &FunctionBinding{base: base{T: f}, Func: f}
}

func NewMethodBinding(ownerType sem.Type, method *sem.Function, index int, receiver wasmir.Instr, builtin bool) *MethodBinding {
	return &MethodBinding{
		base:        base{T: method},
		OwnerType:   ownerType,
		MethodType:  method,
		MethodIndex: index,
		Receiver:    receiver,
		BuiltinFlag: builtin,
		MethodName:  method.Name,
	}
}

func NewInfcMethodBinding(iface *sem.Interface, method *sem.Function, receiver wasmir.Instr, staticIndex uint32, dynamicIndex wasmir.Instr) *InfcMethodBinding {
	return &InfcMethodBinding{
		base:         base{T: method},
		Iface:        iface,
		MethodType:   method,
		Receiver:     receiver,
		StaticIndex:  staticIndex,
		DynamicIndex: dynamicIndex,
	}
}

func NewGetterBinding(ownerType sem.Type, getter *sem.Function, receiver wasmir.Instr) *GetterBinding {
	return &GetterBinding{base: base{T: getter.Result}, OwnerType: ownerType, GetterType: getter, Receiver: receiver}
}

func NewInfcGetterBinding(iface *sem.Interface, getter *sem.Function, receiver wasmir.Instr, staticIndex uint32, dynamicIndex wasmir.Instr) *InfcGetterBinding {
	return &InfcGetterBinding{
		base:         base{T: getter.Result},
		Iface:        iface,
		GetterType:   getter,
		Receiver:     receiver,
		StaticIndex:  staticIndex,
		DynamicIndex: dynamicIndex,
	}
}

func NewTypeBinding(t sem.Type) *TypeBinding {
	return &TypeBinding{base: base{T: t}, Target: t}
}

func NewScopeBinding(s *sem.Scope) *ScopeBinding {
	return &ScopeBinding{base: base{T: sem.Void{}}, Scope: s}
}

func NewCaptureField(t sem.Type, read wasmir.Instr, from, owner *closctx.Context, ctxRef wasmir.Instr, decl *sem.Decl) *CaptureField {
	return &CaptureField{base: base{T: t}, Read: read, From: from, Owner: owner, CtxRef: ctxRef, Decl: decl}
}
