package exprlower

import (
	"fmt"

	"github.com/tswasm/lower/access"
	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/typelower"
)

func anyRefNull() wasmir.Instr {
	return &wasmir.RefNull{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}}
}

// call lowers a call expression by first resolving its callee
// by-reference, then shaping arguments.
func (l *Lowerer) call(env *Env, c *sem.Call) (wasmir.Instr, sem.Type, error) {
	if pa, ok := c.Callee.(*sem.PropertyAccess); ok {
		return l.callProperty(env, pa, c.Args)
	}
	// A bare identifier naming a freestanding function, rather than a
	// captured/local variable holding a closure value, carries no Decl
	// (the same convention propertyDescriptor's scope/type receiver
	// check uses for a class name).
	if id, ok := c.Callee.(*sem.Ident); ok && id.Decl == nil {
		if f, ok := l.Functions[id.Name]; ok {
			return l.callFunction(env, f, c.Args)
		}
		return nil, nil, &errs.ResolutionError{Name: id.Name, Where: "function call"}
	}
	callee, ct, err := l.ByValue(env, c.Callee)
	if err != nil {
		return nil, nil, err
	}
	return l.callClosureValue(env, callee, ct, c.Args)
}

// callProperty resolves `receiver.name(args)`, evaluating receiver
// exactly once and branching on its type to pick direct, vtable, builtin,
// or interface dispatch.
func (l *Lowerer) callProperty(env *Env, pa *sem.PropertyAccess, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	receiver, rt, err := l.ByValue(env, pa.Receiver)
	if err != nil {
		return nil, nil, err
	}
	switch v := rt.(type) {
	case *sem.Interface:
		m, ok := v.Methods.GetOK(pa.Name)
		if !ok {
			return nil, nil, &errs.ResolutionError{Name: pa.Name, Where: "interface " + v.Name}
		}
		return l.callInterfaceMethod(env, v, receiver, m, argExprs)
	case *sem.Class:
		desc, _, _, err := l.classMember(v, receiver, pa.Name)
		if err != nil {
			return nil, nil, err
		}
		return l.callBinding(env, desc, argExprs)
	case sem.Number, sem.Boolean, sem.StringT, *sem.ArrayType, *sem.Function:
		desc, _, _, err := l.builtinMember(v, receiver, pa.Name)
		if err != nil {
			return nil, nil, err
		}
		return l.callBinding(env, desc, argExprs)
	case sem.Any:
		return l.callDynamic(env, receiver, pa.Name, argExprs)
	}
	return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("method call on %s", rt)})
}

func (l *Lowerer) callBinding(env *Env, desc access.Descriptor, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	switch d := desc.(type) {
	case *access.MethodBinding:
		return l.callMethod(env, d, argExprs)
	case *access.GetterBinding:
		// Calling through a getter binding is only reached for builtin
		// property-style accessors exposed as zero-arg calls; treat it
		// as a direct call with no extra args.
		return l.callMethod(env, access.NewMethodBinding(d.OwnerType, d.GetterType, 0, d.Receiver, false), argExprs)
	}
	return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("calling %T", desc)})
}

// callMethod lowers a class/builtin method call: a builtin receiver
// always routes through the host invoke helper (the same path string
// concatenation and charAt already use), a class receiver direct-calls
// its constructor or dispatches through the vtable otherwise.
func (l *Lowerer) callMethod(env *Env, m *access.MethodBinding, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	if m.BuiltinFlag {
		return l.callBuiltinMethod(env, m, argExprs)
	}
	args, err := l.shapeArgs(env, m.MethodType, argExprs)
	if err != nil {
		return nil, nil, err
	}
	args = append([]wasmir.Instr{anyRefNull(), m.Receiver}, args...)

	cls, ok := m.OwnerType.(*sem.Class)
	if !ok {
		return nil, nil, fmt.Errorf("exprlower: method binding owner is not a class")
	}
	if m.MethodType.Kind == sem.FuncConstructor {
		return &wasmir.Call{Name: l.MangledMethod(cls, m.MethodType), Args: args}, m.MethodType.Result, nil
	}
	// A method is only virtual if it is ever overridden: approximate
	// this by always dispatching through the vtable for Kind ==
	// FuncMethod, the conservative choice every
	// method call site can take (the same call-ref path serves both an
	// overridden and a leaf method correctly; only the funcref pulled
	// out of the slot differs).
	vtable := &wasmir.StructGet{TypeIndex: l.Types.ClassStructType(cls), FieldIndex: 0, Ref: m.Receiver}
	slot := &wasmir.StructGet{TypeIndex: l.Types.ClassVTableType(cls), FieldIndex: uint32(m.MethodIndex), Ref: vtable}
	funcType := l.funcTypeIndexFor(m.MethodType, cls)
	return &wasmir.CallRef{TypeIndex: funcType, Callee: slot, Args: args}, m.MethodType.Result, nil
}

// callInterfaceMethod implements the fast/slow interface call
// dispatch: a fast vtable dispatch when the runtime object-type-id
// matches the statically known interface implementer, else an
// itable-resolved call-ref.
func (l *Lowerer) callInterfaceMethod(env *Env, iface *sem.Interface, view wasmir.Instr, m *sem.Function, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	args, err := l.shapeArgs(env, m, argExprs)
	if err != nil {
		return nil, nil, err
	}

	objTypeID := &wasmir.StructGet{TypeIndex: l.Types.InterfaceViewType(), FieldIndex: 1, Ref: view}
	itablePtr := &wasmir.StructGet{TypeIndex: l.Types.InterfaceViewType(), FieldIndex: 0, Ref: view}
	objRef := l.unwrapInterfaceObject(view)

	cls := l.staticImplementer(iface, m)
	if cls == nil {
		return nil, nil, &errs.ResolutionError{Name: m.Name, Where: "no known static implementer of interface " + iface.Name}
	}
	fastIdx, _ := l.Types.MethodSlotIndex(cls, m.Name)
	match := &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpEq, Lhs: objTypeID, Rhs: &wasmir.I32Const{Value: int32(cls.ID)}}
	castObj := &wasmir.RefCast{Operand: objRef, Target: wasmir.RefType{Heap: wasmir.ConcreteHeap(l.Types.ClassStructType(cls)), Nullable: true}}
	vtable := &wasmir.StructGet{TypeIndex: l.Types.ClassStructType(cls), FieldIndex: 0, Ref: castObj}
	fastSlot := &wasmir.StructGet{TypeIndex: l.Types.ClassVTableType(cls), FieldIndex: uint32(fastIdx), Ref: vtable}
	fastArgs := append([]wasmir.Instr{anyRefNull(), castObj}, args...)
	funcType := l.funcTypeIndexFor(m, cls)
	fastCall := &wasmir.CallRef{TypeIndex: funcType, Callee: fastSlot, Args: fastArgs}

	dynIdx := l.interfaceSlotLookup(itablePtr, m.Name, 1)
	slowSlot := callStructGetDynFuncref(dynIdx)
	slowArgs := append([]wasmir.Instr{anyRefNull(), objRef}, args...)
	slowCall := &wasmir.CallRef{TypeIndex: funcType, Callee: slowSlot, Args: slowArgs}

	vt := l.Types.ValueType(m.Result)
	return &wasmir.If{
		Cond:   match,
		Result: &vt,
		Then:   []wasmir.Instr{fastCall},
		Else:   []wasmir.Instr{slowCall},
	}, m.Result, nil
}

func callStructGetDynFuncref(dynIdx wasmir.Instr) wasmir.Instr {
	return &wasmir.Call{Name: "struct_get_dyn_funcref", Args: []wasmir.Instr{&wasmir.I32Const{Value: 0}, dynIdx}}
}

// staticImplementer returns a class (from l.Classes) that declares
// iface among c.Interfaces, used as the fast-path cast target; m is not
// consulted. When more than one class implements iface, which one is
// returned is not defined (l.Classes is a map); when the *other*
// implementer is the one
// actually encountered at
// runtime, the slow path handles it correctly regardless of which
// implementer this function names.
func (l *Lowerer) staticImplementer(iface *sem.Interface, m *sem.Function) *sem.Class {
	for _, c := range l.Classes {
		for _, i := range c.Interfaces {
			if i == iface {
				return c
			}
		}
	}
	return nil
}

func (l *Lowerer) funcTypeIndexFor(m *sem.Function, owner *sem.Class) uint32 {
	params := l.Types.FunctionParamTypes(m)
	result := l.Types.ValueType(m.Result)
	results := []wasmir.ValType{}
	if _, isVoid := m.Result.(sem.Void); !isVoid {
		results = append(results, result)
	}
	return l.Types.RegisterFuncType(params, results)
}

func (l *Lowerer) callDynamic(env *Env, receiver wasmir.Instr, name string, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	off, _ := l.Arena.InternString(name, true)
	argsArr, err := l.argsEnvelope(env, argExprs)
	if err != nil {
		return nil, nil, err
	}
	return hostabi.Call(hostabi.Invoke, &wasmir.I32Const{Value: int32(off)}, receiver, argsArr), sem.Any{}, nil
}

// callBuiltinMethod lowers a call to a primitive or Array<T> builtin
// method by boxing the receiver and
// argument list and routing through the host invoke helper, the same
// mechanism string concatenation and charAt already rely on; the result
// is unboxed back to the method's declared result type.
func (l *Lowerer) callBuiltinMethod(env *Env, m *access.MethodBinding, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	boxedReceiver, err := l.boxAny(m.Receiver, m.OwnerType)
	if err != nil {
		return nil, nil, err
	}
	off, _ := l.Arena.InternString(m.MethodName, true)
	argsArr, err := l.argsEnvelope(env, argExprs)
	if err != nil {
		return nil, nil, err
	}
	result := hostabi.Call(hostabi.Invoke, &wasmir.I32Const{Value: int32(off)}, boxedReceiver, argsArr)
	if isAny(m.MethodType.Result) {
		return result, sem.Any{}, nil
	}
	unboxed, err := l.unboxAny(result, m.MethodType.Result)
	if err != nil {
		return nil, nil, err
	}
	return unboxed, m.MethodType.Result, nil
}

// callFunction lowers a direct call to a known top-level function.
func (l *Lowerer) callFunction(env *Env, f *sem.Function, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	args, err := l.shapeArgs(env, f, argExprs)
	if err != nil {
		return nil, nil, err
	}
	args = append([]wasmir.Instr{anyRefNull()}, args...)
	return &wasmir.Call{Name: l.MangledFunc(f), Args: args}, f.Result, nil
}

// callClosureValue lowers a call through a first-class function value:
// unwrap {context, funcref} and call-ref through field 1.
func (l *Lowerer) callClosureValue(env *Env, callee wasmir.Instr, calleeType sem.Type, argExprs []sem.Expr) (wasmir.Instr, sem.Type, error) {
	fn, ok := calleeType.(*sem.Function)
	if !ok {
		return nil, nil, fmt.Errorf("exprlower: %w", &errs.TypeMismatchError{Want: "function value", Got: fmt.Sprintf("%s", calleeType), Context: "call"})
	}
	wrapperType := l.Types.FunctionClosureStruct()
	ctx := &wasmir.StructGet{TypeIndex: wrapperType, FieldIndex: 0, Ref: callee}
	fref := &wasmir.StructGet{TypeIndex: wrapperType, FieldIndex: 1, Ref: callee}
	args, err := l.shapeArgs(env, fn, argExprs)
	if err != nil {
		return nil, nil, err
	}
	args = append([]wasmir.Instr{ctx}, args...)
	funcType := l.funcTypeIndexFor(fn, nil)
	return &wasmir.CallRef{TypeIndex: funcType, Callee: fref, Args: args}, fn.Result, nil
}

// shapeArgs lowers each positional argument, boxing/unboxing across the
// any/static boundary, filling defaults for unpassed optional
// parameters, and materializing a rest-parameter array from the tail.
func (l *Lowerer) shapeArgs(env *Env, f *sem.Function, argExprs []sem.Expr) ([]wasmir.Instr, error) {
	var out []wasmir.Instr
	for i, p := range f.Params {
		if f.RestParam >= 0 && i == f.RestParam {
			rest, err := l.argsEnvelope(env, argExprs[min(i, len(argExprs)):])
			if err != nil {
				return nil, err
			}
			out = append(out, rest)
			return out, nil
		}
		if i < len(argExprs) && !(p.Optional && p.Default != nil && isExplicitUndefined(argExprs[i])) {
			v, t, err := l.ByValue(env, argExprs[i])
			if err != nil {
				return nil, err
			}
			out = append(out, l.coerceArg(v, t, p.Type))
			continue
		}
		if p.Optional {
			if p.Default != nil {
				v, t, err := l.ByValue(env, p.Default)
				if err != nil {
					return nil, err
				}
				out = append(out, l.coerceArg(v, t, p.Type))
				continue
			}
			boxed, err := l.boxAny(nil, sem.Undefined{})
			if err != nil {
				return nil, err
			}
			out = append(out, boxed)
			continue
		}
		return nil, fmt.Errorf("exprlower: %w", &errs.TypeMismatchError{Want: fmt.Sprintf("argument %d", i), Got: "missing", Context: "call to " + f.Name})
	}
	return out, nil
}

// isExplicitUndefined reports whether e is the literal `undefined`. An
// optional parameter's default must apply to an explicitly passed
// `undefined` the same as to an omitted argument; the front end does
// not fold this case away.
func isExplicitUndefined(e sem.Expr) bool {
	lit, ok := e.(*sem.Literal)
	if !ok {
		return false
	}
	_, ok = lit.Type().(sem.Undefined)
	return ok
}

// coerceArg boxes or unboxes v (of type from) to match to, applying
// the any<->static parameter rules; no-op when the types already
// match.
func (l *Lowerer) coerceArg(v wasmir.Instr, from, to sem.Type) wasmir.Instr {
	if isAny(to) && !isAny(from) {
		boxed, err := l.boxAny(v, from)
		if err == nil {
			return boxed
		}
	}
	if isAny(from) && !isAny(to) {
		unboxed, err := l.unboxAny(v, to)
		if err == nil {
			return unboxed
		}
	}
	return v
}

// argsEnvelope materializes a fresh Array<any> envelope from argExprs,
// boxing any non-any operand, for rest parameters and dynamic-invoke
// argument lists.
func (l *Lowerer) argsEnvelope(env *Env, argExprs []sem.Expr) (wasmir.Instr, error) {
	elems := make([]wasmir.Instr, len(argExprs))
	for i, a := range argExprs {
		v, t, err := l.ByValue(env, a)
		if err != nil {
			return nil, err
		}
		if !isAny(t) {
			boxed, err := l.boxAny(v, t)
			if err != nil {
				return nil, err
			}
			v = boxed
		}
		elems[i] = v
	}
	return l.boxedEnvelope(elems), nil
}

// boxedEnvelope wraps already-boxed values in a fresh Array<any>
// envelope carrying an explicit length.
func (l *Lowerer) boxedEnvelope(elems []wasmir.Instr) wasmir.Instr {
	dataType := l.Types.ArrayDataType(sem.Any{})
	envType := l.Types.ArrayEnvelopeType(sem.Any{})
	arr := &wasmir.ArrayNewFixed{TypeIndex: dataType, Elems: elems}
	return &wasmir.StructNew{TypeIndex: envType, Fields: []wasmir.Instr{arr, &wasmir.I32Const{Value: int32(len(elems))}}}
}

// new_ lowers `new T[n]`, `new Array(...)`, and `new C(args...)`.
func (l *Lowerer) new_(env *Env, n *sem.New) (wasmir.Instr, sem.Type, error) {
	if n.Class != nil {
		return l.newInstance(env, n)
	}
	if n.ArrayLen != nil {
		return l.newArrayDefault(env, n)
	}
	return l.newArrayLit(env, n)
}

func (l *Lowerer) newArrayDefault(env *Env, n *sem.New) (wasmir.Instr, sem.Type, error) {
	length, _, err := l.ByValue(env, n.ArrayLen)
	if err != nil {
		return nil, nil, err
	}
	elem := n.Type().(*sem.ArrayType).Elem
	lenI32 := indexToI32(length)
	dataType := l.Types.ArrayDataType(elem)
	envType := l.Types.ArrayEnvelopeType(elem)
	arr := &wasmir.ArrayNewDefault{TypeIndex: dataType, Length: lenI32}
	return &wasmir.StructNew{TypeIndex: envType, Fields: []wasmir.Instr{arr, lenI32}}, n.Type(), nil
}

func (l *Lowerer) newArrayLit(env *Env, n *sem.New) (wasmir.Instr, sem.Type, error) {
	elem := n.Type().(*sem.ArrayType).Elem
	elems := make([]wasmir.Instr, len(n.ArrayLit))
	for i, e := range n.ArrayLit {
		v, _, err := l.ByValue(env, e)
		if err != nil {
			return nil, nil, err
		}
		elems[i] = v
	}
	dataType := l.Types.ArrayDataType(elem)
	envType := l.Types.ArrayEnvelopeType(elem)
	arr := &wasmir.ArrayNewFixed{TypeIndex: dataType, Elems: elems}
	return &wasmir.StructNew{TypeIndex: envType, Fields: []wasmir.Instr{arr, &wasmir.I32Const{Value: int32(len(elems))}}}, n.Type(), nil
}

// newInstance builds a class instance with struct.new rather than
// struct.new_default: the vtable field (field 0) is a non-nullable
// reference, so it must be supplied at construction time rather than
// zero-initialized then patched in.
func (l *Lowerer) newInstance(env *Env, n *sem.New) (wasmir.Instr, sem.Type, error) {
	structType := l.Types.ClassStructType(n.Class)
	fields := make([]wasmir.Instr, 0, len(n.Class.AllFields())+1)
	fields = append(fields, &wasmir.GlobalGet{Name: typelower.ClassVTableGlobalName(n.Class)})
	for _, f := range n.Class.AllFields() {
		fields = append(fields, l.zeroValue(l.Types.ValueType(f.Type)))
	}
	instance := &wasmir.StructNew{TypeIndex: structType, Fields: fields}
	local := env.FC.AllocLocal(l.Types.ValueType(n.Class))
	env.FC.Emit(&wasmir.LocalSet{Index: local, Value: instance})

	if n.Class.Constructor != nil {
		args, err := l.shapeArgs(env, n.Class.Constructor, n.Args)
		if err != nil {
			return nil, nil, err
		}
		args = append([]wasmir.Instr{anyRefNull(), &wasmir.LocalGet{Index: local}}, args...)
		env.FC.Emit(&wasmir.Call{Name: l.MangledMethod(n.Class, n.Class.Constructor), Args: args})
	}
	return &wasmir.LocalGet{Index: local}, n.Class, nil
}

// zeroValue returns vt's default value: null for a reference field,
// zero for a numeric one.
func (l *Lowerer) zeroValue(vt wasmir.ValType) wasmir.Instr {
	if vt.Ref != nil {
		return &wasmir.RefNull{Heap: vt.Ref.Heap}
	}
	switch vt.Num {
	case wasmir.I64:
		return &wasmir.I64Const{Value: 0}
	case wasmir.F64:
		return &wasmir.F64Const{Value: 0}
	default:
		return &wasmir.I32Const{Value: 0}
	}
}

// super lowers `super(args...)`: cast `this` to the base class and call
// its constructor as a bare statement (constructors return no value).
func (l *Lowerer) super(env *Env, s *sem.Super) (wasmir.Instr, sem.Type, error) {
	cls, ok := env.Scope.Func.Owner.(*sem.Class)
	if !ok || cls.Base == nil {
		return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: "super() outside a derived class constructor"})
	}
	baseType := wasmir.RefType{Heap: wasmir.ConcreteHeap(l.Types.ClassStructType(cls.Base)), Nullable: true}
	castThis := &wasmir.RefCast{Operand: env.ThisRef, Target: baseType}
	args, err := l.shapeArgs(env, cls.Base.Constructor, s.Args)
	if err != nil {
		return nil, nil, err
	}
	args = append([]wasmir.Instr{anyRefNull(), castThis}, args...)
	return &wasmir.Call{Name: l.MangledMethod(cls.Base, cls.Base.Constructor), Args: args}, sem.Void{}, nil
}

// functionExpr lowers a function literal to a freshly constructed closure
// struct, stored in a synthesized local.
func (l *Lowerer) functionExpr(env *Env, fe *sem.FunctionExpr) (wasmir.Instr, sem.Type, error) {
	closureType := l.Types.FunctionClosureStruct()
	ref := &wasmir.RefFunc{Name: l.MangledFunc(fe.Func)}
	closure := &wasmir.StructNew{TypeIndex: closureType, Fields: []wasmir.Instr{env.CtxRef, ref}}
	local := env.FC.AllocLocal(l.Types.ValueType(fe.Func))
	env.FC.Emit(&wasmir.LocalSet{Index: local, Value: closure})
	return &wasmir.LocalGet{Index: local}, fe.Func, nil
}

// assign lowers `target = value`, resolving target by-reference and
// dispatching Store on its descriptor variant, boxing/unboxing/
// converting across the static/any/interface boundary as needed.
func (l *Lowerer) assign(env *Env, a *sem.Assign) (wasmir.Instr, sem.Type, error) {
	desc, _, targetType, err := l.ByReference(env, a.Target)
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return nil, nil, fmt.Errorf("exprlower: %w", &errs.TypeMismatchError{Want: "an lvalue", Got: "rvalue", Context: "assignment"})
	}
	if !access.Mutable(desc) {
		return nil, nil, fmt.Errorf("exprlower: %w", &errs.TypeMismatchError{Want: "a mutable slot", Got: fmt.Sprintf("%T", desc), Context: "assignment"})
	}
	value, valueType, err := l.ByValue(env, a.Value)
	if err != nil {
		return nil, nil, err
	}
	value = l.coerceArg(value, valueType, targetType)
	if iface, ok := targetType.(*sem.Interface); ok {
		if cls, ok := valueType.(*sem.Class); ok {
			value = l.boxInterface(cls, iface, value)
		}
	}
	store, err := l.Store(desc, value)
	if err != nil {
		return nil, nil, err
	}
	return store, targetType, nil
}
