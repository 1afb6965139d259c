package exprlower

import (
	"fmt"

	"github.com/tswasm/lower/access"
	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// loadProperty lowers `receiver.name` by-value, inlining the one case
// (array/string `.length`) that never goes through a descriptor.
func (l *Lowerer) loadProperty(env *Env, p *sem.PropertyAccess) (wasmir.Instr, sem.Type, error) {
	if p.Name == "length" {
		if instr, t, ok, err := l.inlineLength(env, p); ok || err != nil {
			return instr, t, err
		}
	}
	desc, val, t, err := l.propertyDescriptor(env, p)
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return val, t, nil
	}
	return l.Load(desc), t, nil
}

// inlineLength lowers Array<T>.length / string.length directly to the
// envelope/string-struct length field, bypassing the builtin-method
// table.
func (l *Lowerer) inlineLength(env *Env, p *sem.PropertyAccess) (wasmir.Instr, sem.Type, bool, error) {
	receiver, rt, err := l.ByValue(env, p.Receiver)
	if err != nil {
		return nil, nil, false, err
	}
	switch v := rt.(type) {
	case *sem.ArrayType:
		envType := l.Types.ArrayEnvelopeType(v.Elem)
		lengthI32 := &wasmir.StructGet{TypeIndex: envType, FieldIndex: 1, Ref: receiver}
		asF64 := &wasmir.UnaryNumeric{Op: wasmir.OpConvertI64ToF64, Operand: &wasmir.UnaryNumeric{Op: wasmir.OpExtendI32SToI64, Operand: lengthI32}}
		return asF64, sem.Number{}, true, nil
	case sem.StringT:
		strType := l.Types.StringStructType()
		codepoints := &wasmir.StructGet{TypeIndex: strType, FieldIndex: 1, Ref: receiver}
		length := &wasmir.ArrayLen{Ref: codepoints}
		asF64 := &wasmir.UnaryNumeric{Op: wasmir.OpConvertI64ToF64, Operand: &wasmir.UnaryNumeric{Op: wasmir.OpExtendI32SToI64, Operand: length}}
		return asF64, sem.Number{}, true, nil
	}
	return nil, nil, false, nil
}

// propertyDescriptor dispatches a property-access receiver over five
// receiver shapes (a bare class name for static members,
// primitive/array/function builtins, class, interface, any), returning
// either an addressable Descriptor or, for read-only bindings, a plain
// value. A namespace or other non-class scope receiver is not resolved
// and yields an UnsupportedError.
func (l *Lowerer) propertyDescriptor(env *Env, p *sem.PropertyAccess) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	// Scope/type receiver: a bare identifier naming a class/interface
	// rather than a variable (static member access).
	if id, ok := p.Receiver.(*sem.Ident); ok && id.Decl == nil {
		if cls, ok := l.Classes[id.Name]; ok {
			return l.staticMember(cls, p.Name)
		}
	}

	receiver, rt, err := l.ByValue(env, p.Receiver)
	if err != nil {
		return nil, nil, nil, err
	}

	switch v := rt.(type) {
	case sem.Number, sem.Boolean, sem.StringT, *sem.ArrayType, *sem.Function:
		return l.builtinMember(v, receiver, p.Name)
	case *sem.Class:
		return l.classMember(v, receiver, p.Name)
	case *sem.Interface:
		return l.interfaceMember(v, receiver, p.Name)
	case sem.Any:
		return access.NewDynamicField(receiver, p.Name), nil, sem.Any{}, nil
	}
	return nil, nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("property access on %s", rt)})
}

func builtinKindName(t sem.Type) string {
	switch t.(type) {
	case sem.Number:
		return "number"
	case sem.Boolean:
		return "boolean"
	case sem.StringT:
		return "string"
	case *sem.ArrayType:
		return "array"
	case *sem.Function:
		return "function"
	}
	return ""
}

func (l *Lowerer) builtinMember(t sem.Type, receiver wasmir.Instr, name string) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	var b *sem.Builtin
	if arr, ok := t.(*sem.ArrayType); ok {
		b = sem.ArrayBuiltin(arr.Elem)
	} else {
		b = sem.LookupBuiltin(builtinKindName(t))
	}
	if b == nil {
		return nil, nil, nil, &errs.ResolutionError{Name: name, Where: fmt.Sprintf("builtin %s methods", builtinKindName(t))}
	}
	m, ok := b.Methods[name]
	if !ok {
		return nil, nil, nil, &errs.ResolutionError{Name: name, Where: fmt.Sprintf("builtin %s methods", builtinKindName(t))}
	}
	return access.NewMethodBinding(t, m, 0, receiver, true), nil, m, nil
}

// classMember looks up name as a field first, then a direct method,
// then a getter/setter accessor.
func (l *Lowerer) classMember(c *sem.Class, receiver wasmir.Instr, name string) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	if idx, ok := l.Types.FieldSlotIndex(c, name); ok {
		f := fieldByName(c, name)
		structType := l.Types.ClassStructType(c)
		return access.NewStructField(f.Type, receiver, structType, uint32(idx), l.Types.ValueType(f.Type)), nil, f.Type, nil
	}
	for _, m := range c.Methods {
		if m.Name == name && m.Kind == sem.FuncMethod {
			idx, _ := l.Types.MethodSlotIndex(c, name)
			return access.NewMethodBinding(c, m, idx, receiver, false), nil, m, nil
		}
	}
	for _, m := range c.Methods {
		if m.Name == name && (m.Kind == sem.FuncGetter || m.Kind == sem.FuncSetter) {
			return access.NewGetterBinding(c, m, receiver), nil, m.Result, nil
		}
	}
	if c.Base != nil {
		return l.classMember(c.Base, receiver, name)
	}
	return nil, nil, nil, &errs.ResolutionError{Name: name, Where: "class " + c.Name}
}

func fieldByName(c *sem.Class, name string) sem.Field {
	for _, f := range c.AllFields() {
		if f.Name == name {
			return f
		}
	}
	return sem.Field{}
}

// staticMember resolves `ClassName.name` for a static field or method.
func (l *Lowerer) staticMember(c *sem.Class, name string) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	for _, f := range c.StaticField {
		if f.Name == name {
			return access.NewGlobalSlot(f.Type, staticFieldGlobalName(c, f.Name), l.Types.ValueType(f.Type)), nil, f.Type, nil
		}
	}
	for _, m := range c.StaticMeths {
		if m.Name == name {
			return access.NewFunctionBinding(m), nil, m, nil
		}
	}
	return nil, nil, nil, &errs.ResolutionError{Name: name, Where: "static members of " + c.Name}
}

func staticFieldGlobalName(c *sem.Class, field string) string {
	return c.Name + "$static$" + field
}

// interfaceMember dispatches a field/method access through an interface
// view, producing the payload both the fast (cast + struct.get) and
// slow (itable reflection) dispatch paths need at lowering time. The
// fast path's statically chosen object type is the one class
// staticImplementer finds declaring iface among its own Interfaces;
// the same choice callInterfaceMethod makes for method dispatch.
func (l *Lowerer) interfaceMember(iface *sem.Interface, view wasmir.Instr, name string) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	itablePtr := &wasmir.StructGet{TypeIndex: l.Types.InterfaceViewType(), FieldIndex: 0, Ref: view}
	objTypeID := &wasmir.StructGet{TypeIndex: l.Types.InterfaceViewType(), FieldIndex: 1, Ref: view}
	objRef := l.unwrapInterfaceObject(view)

	if field, ok := iface.Fields.GetOK(name); ok {
		cls := l.staticImplementer(iface, nil)
		if cls == nil {
			return nil, nil, nil, &errs.ResolutionError{Name: name, Where: "no known static implementer of interface " + iface.Name}
		}
		slotIdx, ok := l.Types.FieldSlotIndex(cls, name)
		if !ok {
			return nil, nil, nil, &errs.ResolutionError{Name: name, Where: "field slot on class " + cls.Name}
		}
		dynIdx := l.interfaceSlotLookup(itablePtr, name, 0)
		expectTypeID := &wasmir.I32Const{Value: int32(cls.ID)}
		castTarget := wasmir.RefType{Heap: wasmir.ConcreteHeap(l.Types.ClassStructType(cls)), Nullable: true}
		return access.NewInterfaceField(field.Type, expectTypeID, objTypeID, objRef, castTarget, uint32(slotIdx), dynIdx), nil, field.Type, nil
	}
	if m, ok := iface.Methods.GetOK(name); ok {
		dynIdx := l.interfaceSlotLookup(itablePtr, name, 1)
		return &access.InfcMethodBinding{}, nil, nil, l.finishInfcMethod(iface, m, view, dynIdx)
	}
	return nil, nil, nil, &errs.ResolutionError{Name: name, Where: "interface " + iface.Name}
}

// finishInfcMethod is a placeholder error path: method-binding
// descriptors for interfaces are produced directly by
// callInterfaceMethod (reached from callProperty), since they need the call site's static-index
// context (the interface's own declared method order) that a bare
// propertyDescriptor lookup does not have on hand without a second
// index pass. Direct non-call interface method references (taking a
// method as a value) are therefore an UnsupportedError here.
func (l *Lowerer) finishInfcMethod(iface *sem.Interface, m *sem.Function, view wasmir.Instr, dynIdx wasmir.Instr) error {
	return fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: "first-class reference to an interface method (call it directly instead)"})
}

// interfaceSlotLookup computes the dynamic itable-resolved slot index for
// name/kind via the host find_index helper; the fast path's own static
// slot index comes instead from the chosen implementer's own vtable/field
// layout (typelower.MethodSlotIndex / FieldSlotIndex), since it indexes a
// different structure than the itable the slow path resolves against.
func (l *Lowerer) interfaceSlotLookup(itablePtr wasmir.Instr, name string, kind int32) (dynamicIndex wasmir.Instr) {
	off, _ := l.Arena.InternString(name, true)
	return hostabi.Call(hostabi.FindIndex, itablePtr, &wasmir.I32Const{Value: int32(off)}, &wasmir.I32Const{Value: kind})
}

// elementDescriptor lowers `receiver[index]`.
func (l *Lowerer) elementDescriptor(env *Env, e *sem.ElementAccess) (access.Descriptor, wasmir.Instr, sem.Type, error) {
	receiver, rt, err := l.ByValue(env, e.Receiver)
	if err != nil {
		return nil, nil, nil, err
	}
	index, _, err := l.ByValue(env, e.Index)
	if err != nil {
		return nil, nil, nil, err
	}
	switch v := rt.(type) {
	case *sem.ArrayType:
		envType := l.Types.ArrayEnvelopeType(v.Elem)
		dataType := l.Types.ArrayDataType(v.Elem)
		return access.NewArrayElement(v.Elem, receiver, envType, dataType, index, l.Types.ValueType(v.Elem)), nil, v.Elem, nil
	case sem.Any:
		return access.NewDynamicElement(receiver, index), nil, sem.Any{}, nil
	case sem.StringT:
		// String indexing lowers to the host charAt helper returning a
		// single-char string, never an addressable slot: boxed receiver,
		// boxed index in a one-element envelope.
		boxedRecv, err := l.boxAny(receiver, sem.StringT{})
		if err != nil {
			return nil, nil, nil, err
		}
		boxedIdx, err := l.boxAny(index, sem.Number{})
		if err != nil {
			return nil, nil, nil, err
		}
		off, _ := l.Arena.InternString("charAt", true)
		result := hostabi.Call(hostabi.Invoke,
			&wasmir.I32Const{Value: int32(off)}, boxedRecv, l.boxedEnvelope([]wasmir.Instr{boxedIdx}))
		unboxed, err := l.unboxAny(result, sem.StringT{})
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, unboxed, sem.StringT{}, nil
	}
	return nil, nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("element access on %s", rt)})
}

func (l *Lowerer) loadElement(env *Env, e *sem.ElementAccess) (wasmir.Instr, sem.Type, error) {
	desc, val, t, err := l.elementDescriptor(env, e)
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return val, t, nil
	}
	return l.Load(desc), t, nil
}

// loadInterfaceField implements the fast/slow dispatch protocol
// for a field read through an interface view: fast path
// casts to the statically chosen implementer and struct.gets the real
// field slot; slow path reflects through the host's struct-get-dyn-<kind>
// helper against the object's externrefs-table handle and the itable's
// own dynamic slot index.
func (l *Lowerer) loadInterfaceField(f *access.InterfaceField) wasmir.Instr {
	match := &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpEq, Lhs: f.ObjectTypeID, Rhs: f.InterfaceTypeID}
	vt := l.Types.ValueType(f.SourceType())
	castObj := &wasmir.RefCast{Operand: f.ObjectRef, Target: f.CastTarget}
	fastGet := &wasmir.StructGet{TypeIndex: f.CastTarget.Heap.Index, FieldIndex: f.StaticIndex, Ref: castObj}
	slowFn := structGetDynFuncFor(vt)
	slow := hostabi.Call(slowFn, l.internToTable(f.ObjectRef), f.DynamicIndex)
	return &wasmir.If{
		Cond:   match,
		Result: &vt,
		Then:   []wasmir.Instr{fastGet},
		Else:   []wasmir.Instr{slow},
	}
}

// storeInterfaceField is loadInterfaceField's write counterpart.
func (l *Lowerer) storeInterfaceField(f *access.InterfaceField, value wasmir.Instr) wasmir.Instr {
	match := &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpEq, Lhs: f.ObjectTypeID, Rhs: f.InterfaceTypeID}
	vt := l.Types.ValueType(f.SourceType())
	castObj := &wasmir.RefCast{Operand: f.ObjectRef, Target: f.CastTarget}
	fastSet := &wasmir.StructSet{TypeIndex: f.CastTarget.Heap.Index, FieldIndex: f.StaticIndex, Ref: castObj, Value: value}
	slowFn := structSetDynFuncFor(vt)
	slow := hostabi.Call(slowFn, l.internToTable(f.ObjectRef), f.DynamicIndex, value)
	return &wasmir.If{
		Cond: match,
		Then: []wasmir.Instr{fastSet},
		Else: []wasmir.Instr{slow},
	}
}

func structGetDynFuncFor(vt wasmir.ValType) hostabi.Func {
	if vt.Ref != nil {
		if vt.Ref.Heap.Abstract == wasmir.HeapFunc {
			return hostabi.StructGetDynFuncref
		}
		return hostabi.StructGetDynAnyref
	}
	switch vt.Num {
	case wasmir.I64:
		return hostabi.StructGetDynI64
	case wasmir.F32:
		return hostabi.StructGetDynF32
	case wasmir.F64:
		return hostabi.StructGetDynF64
	default:
		return hostabi.StructGetDynI32
	}
}

func structSetDynFuncFor(vt wasmir.ValType) hostabi.Func {
	if vt.Ref != nil {
		if vt.Ref.Heap.Abstract == wasmir.HeapFunc {
			return hostabi.StructSetDynFuncref
		}
		return hostabi.StructSetDynAnyref
	}
	switch vt.Num {
	case wasmir.I64:
		return hostabi.StructSetDynI64
	case wasmir.F32:
		return hostabi.StructSetDynF32
	case wasmir.F64:
		return hostabi.StructSetDynF64
	default:
		return hostabi.StructSetDynI32
	}
}
