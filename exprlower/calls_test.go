package exprlower

import (
	"errors"
	"testing"

	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

func freestanding(name string, params []sem.Param, result sem.Type) *sem.Function {
	return &sem.Function{Name: name, Params: params, RestParam: -1, Result: result}
}

func callExpr(callee sem.Expr, result sem.Type, args ...sem.Expr) *sem.Call {
	c := &sem.Call{Callee: callee, Args: args}
	c.T = result
	return c
}

func bareIdent(name string) *sem.Ident {
	return &sem.Ident{Name: name} // Decl nil: a top-level function name
}

func TestDirectCallPrependsNullContext(t *testing.T) {
	l, env := newTestEnv()
	f := freestanding("fact", []sem.Param{{Name: "n", Type: sem.Number{}}}, sem.Number{})
	l.Functions["fact"] = f

	instr, typ, err := l.call(env, callExpr(bareIdent("fact"), sem.Number{}, numLit(5)))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	call, ok := instr.(*wasmir.Call)
	if !ok || call.Name != "fact" {
		t.Fatalf("call = %#v, expected a direct call to fact", instr)
	}
	if len(call.Args) != 2 {
		t.Fatalf("call has %d args, expected 2 (context + n)", len(call.Args))
	}
	if _, ok := call.Args[0].(*wasmir.RefNull); !ok {
		t.Errorf("args[0] = %T, expected the null context", call.Args[0])
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("call type = %v, expected number", typ)
	}
}

func TestUnknownFunctionNameFailsResolution(t *testing.T) {
	l, env := newTestEnv()
	_, _, err := l.call(env, callExpr(bareIdent("nope"), sem.Number{}))
	var re *errs.ResolutionError
	if !errors.As(err, &re) {
		t.Errorf("call to unknown name: err = %v, expected *errs.ResolutionError", err)
	}
}

func TestDefaultFillsForOmittedOptional(t *testing.T) {
	l, env := newTestEnv()
	f := freestanding("f", []sem.Param{{Name: "x", Type: sem.Number{}, Optional: true, Default: numLit(10)}}, sem.Number{})

	args, err := l.shapeArgs(env, f, nil)
	if err != nil {
		t.Fatalf("shapeArgs: %v", err)
	}
	if len(args) != 1 {
		t.Fatalf("shaped %d args, expected 1", len(args))
	}
	if c, ok := args[0].(*wasmir.F64Const); !ok || c.Value != 10 {
		t.Errorf("omitted optional arg = %#v, expected the default 10", args[0])
	}
}

func TestExplicitUndefinedTakesDefault(t *testing.T) {
	l, env := newTestEnv()
	f := freestanding("f", []sem.Param{
		{Name: "x", Type: sem.Number{}, Optional: true, Default: numLit(10)},
		{Name: "y", Type: sem.Number{}},
	}, sem.Number{})

	args, err := l.shapeArgs(env, f, []sem.Expr{undefLit(), numLit(2)})
	if err != nil {
		t.Fatalf("shapeArgs: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("shaped %d args, expected 2", len(args))
	}
	if c, ok := args[0].(*wasmir.F64Const); !ok || c.Value != 10 {
		t.Errorf("explicit undefined against a defaulted param = %#v, expected the default 10", args[0])
	}
	if c, ok := args[1].(*wasmir.F64Const); !ok || c.Value != 2 {
		t.Errorf("second arg = %#v, expected 2 to pass through", args[1])
	}
}

func TestOptionalWithoutDefaultPassesBoxedUndefined(t *testing.T) {
	l, env := newTestEnv()
	f := freestanding("f", []sem.Param{{Name: "x", Type: sem.Any{}, Optional: true}}, sem.Void{})

	args, err := l.shapeArgs(env, f, nil)
	if err != nil {
		t.Fatalf("shapeArgs: %v", err)
	}
	if c, ok := args[0].(*wasmir.Call); !ok || c.Name != "dyntype_new_undefined" {
		t.Errorf("omitted optional without default = %#v, expected boxed undefined", args[0])
	}
}

func TestRestParamMaterializesEnvelope(t *testing.T) {
	l, env := newTestEnv()
	f := &sem.Function{
		Name: "f",
		Params: []sem.Param{
			{Name: "x", Type: sem.Number{}},
			{Name: "r", Type: &sem.ArrayType{Elem: sem.Number{}}},
		},
		RestParam: 1,
		Result:    sem.Number{},
	}

	args, err := l.shapeArgs(env, f, []sem.Expr{numLit(1), numLit(2), numLit(3)})
	if err != nil {
		t.Fatalf("shapeArgs: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("shaped %d args, expected 2 (x + the rest envelope)", len(args))
	}
	envl, ok := args[1].(*wasmir.StructNew)
	if !ok {
		t.Fatalf("rest arg = %T, expected an envelope struct", args[1])
	}
	arr, ok := envl.Fields[0].(*wasmir.ArrayNewFixed)
	if !ok || len(arr.Elems) != 2 {
		t.Fatalf("rest envelope data = %#v, expected a 2-element array", envl.Fields[0])
	}
	if length, ok := envl.Fields[1].(*wasmir.I32Const); !ok || length.Value != 2 {
		t.Errorf("rest envelope length = %#v, expected 2", envl.Fields[1])
	}
}

func TestRestParamEmptyTail(t *testing.T) {
	l, env := newTestEnv()
	f := &sem.Function{
		Name:      "f",
		Params:    []sem.Param{{Name: "r", Type: &sem.ArrayType{Elem: sem.Number{}}}},
		RestParam: 0,
		Result:    sem.Number{},
	}
	args, err := l.shapeArgs(env, f, nil)
	if err != nil {
		t.Fatalf("shapeArgs: %v", err)
	}
	envl := args[0].(*wasmir.StructNew)
	if length, ok := envl.Fields[1].(*wasmir.I32Const); !ok || length.Value != 0 {
		t.Errorf("empty rest envelope length = %#v, expected 0", envl.Fields[1])
	}
}

func TestMissingRequiredArgumentFails(t *testing.T) {
	l, env := newTestEnv()
	f := freestanding("f", []sem.Param{{Name: "x", Type: sem.Number{}}}, sem.Void{})
	_, err := l.shapeArgs(env, f, nil)
	var tm *errs.TypeMismatchError
	if !errors.As(err, &tm) {
		t.Errorf("missing required arg: err = %v, expected *errs.TypeMismatchError", err)
	}
}

func TestArgumentBoxedWhenParamIsAny(t *testing.T) {
	l, env := newTestEnv()
	f := freestanding("f", []sem.Param{{Name: "x", Type: sem.Any{}}}, sem.Void{})
	args, err := l.shapeArgs(env, f, []sem.Expr{numLit(3)})
	if err != nil {
		t.Fatalf("shapeArgs: %v", err)
	}
	if c, ok := args[0].(*wasmir.Call); !ok || c.Name != "dyntype_new_number" {
		t.Errorf("static arg against any param = %#v, expected a boxing call", args[0])
	}
}

func TestCallThroughClosureValueUnwrapsWrapper(t *testing.T) {
	l, env := newTestEnv()
	fnType := freestanding("g", nil, sem.Number{})
	callee := localIdent(l, env, "g", fnType)

	instr, typ, err := l.call(env, callExpr(callee, sem.Number{}))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	cr, ok := instr.(*wasmir.CallRef)
	if !ok {
		t.Fatalf("closure call = %T, expected *wasmir.CallRef", instr)
	}
	fref, ok := cr.Callee.(*wasmir.StructGet)
	if !ok || fref.FieldIndex != 1 {
		t.Errorf("call-ref callee = %#v, expected the wrapper's funcref field 1", cr.Callee)
	}
	if len(cr.Args) != 1 {
		t.Fatalf("closure call has %d args, expected 1 (the context)", len(cr.Args))
	}
	if ctx, ok := cr.Args[0].(*wasmir.StructGet); !ok || ctx.FieldIndex != 0 {
		t.Errorf("call-ref context = %#v, expected the wrapper's context field 0", cr.Args[0])
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("closure call type = %v, expected number", typ)
	}
}

func TestMethodCallDispatchesThroughVTable(t *testing.T) {
	l, env := newTestEnv()
	m := &sem.Function{Name: "m", RestParam: -1, Result: sem.Number{}, Kind: sem.FuncMethod}
	cls := &sem.Class{Name: "C", ID: 1, Methods: []*sem.Function{m}}
	m.Owner = cls
	l.Classes["C"] = cls
	recv := localIdent(l, env, "c", cls)

	pa := &sem.PropertyAccess{Receiver: recv, Name: "m"}
	pa.T = m
	instr, typ, err := l.call(env, callExpr(pa, sem.Number{}))
	if err != nil {
		t.Fatalf("method call: %v", err)
	}
	cr, ok := instr.(*wasmir.CallRef)
	if !ok {
		t.Fatalf("method call = %T, expected a vtable call-ref", instr)
	}
	slot, ok := cr.Callee.(*wasmir.StructGet)
	if !ok || slot.FieldIndex != 0 {
		t.Errorf("vtable slot = %#v, expected slot 0 of the vtable struct", cr.Callee)
	}
	if len(cr.Args) != 2 {
		t.Fatalf("method call has %d args, expected 2 (context + this)", len(cr.Args))
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("method call type = %v, expected number", typ)
	}
}

func TestInterfaceCallBranchesFastSlow(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	m := &sem.Function{Name: "m", RestParam: -1, Result: sem.Number{}, Kind: sem.FuncMethod}
	iface.Methods.Set("m", m)
	cls := &sem.Class{Name: "A", ID: 7, Methods: []*sem.Function{m}, Interfaces: []*sem.Interface{iface}}
	m.Owner = cls
	l.Classes["A"] = cls
	l.Interfaces["I"] = iface
	recv := localIdent(l, env, "i", iface)

	pa := &sem.PropertyAccess{Receiver: recv, Name: "m"}
	pa.T = m
	instr, _, err := l.call(env, callExpr(pa, sem.Number{}))
	if err != nil {
		t.Fatalf("interface call: %v", err)
	}
	ifInstr, ok := instr.(*wasmir.If)
	if !ok {
		t.Fatalf("interface call = %T, expected the fast/slow If", instr)
	}
	if _, ok := ifInstr.Then[0].(*wasmir.CallRef); !ok {
		t.Errorf("fast path = %T, expected a vtable call-ref", ifInstr.Then[0])
	}
	if _, ok := ifInstr.Else[0].(*wasmir.CallRef); !ok {
		t.Errorf("slow path = %T, expected an itable-resolved call-ref", ifInstr.Else[0])
	}
}

func TestBuiltinMethodRoutesThroughHostInvoke(t *testing.T) {
	l, env := newTestEnv()
	recv := localIdent(l, env, "s", sem.StringT{})
	pa := &sem.PropertyAccess{Receiver: recv, Name: "indexOf"}
	instr, typ, err := l.call(env, callExpr(pa, sem.Number{}, strLit("x")))
	if err != nil {
		t.Fatalf("builtin call: %v", err)
	}
	// indexOf returns number, so the host invoke result unboxes.
	call, ok := instr.(*wasmir.Call)
	if !ok || call.Name != "dyntype_to_number" {
		t.Errorf("builtin call = %#v, expected the invoke result unboxed to number", instr)
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("builtin call type = %v, expected number", typ)
	}
}

func TestNewInstanceConstructsVTableFirst(t *testing.T) {
	l, env := newTestEnv()
	cls := &sem.Class{Name: "C", ID: 1, Fields: []sem.Field{{Name: "x", Type: sem.Number{}}}}
	l.Classes["C"] = cls

	n := &sem.New{Class: cls}
	n.T = cls
	instr, typ, err := l.new_(env, n)
	if err != nil {
		t.Fatalf("new C: %v", err)
	}
	if _, ok := instr.(*wasmir.LocalGet); !ok {
		t.Fatalf("new C = %T, expected a read of the instance local", instr)
	}
	if typ != sem.Type(cls) {
		t.Errorf("new C type = %v, expected the class", typ)
	}

	emitted := env.FC.PopScope()
	if len(emitted) != 1 {
		t.Fatalf("new C emitted %d instrs, expected 1 (the instance LocalSet)", len(emitted))
	}
	set := emitted[0].(*wasmir.LocalSet)
	sn, ok := set.Value.(*wasmir.StructNew)
	if !ok || len(sn.Fields) != 2 {
		t.Fatalf("instance = %#v, expected struct.new with vtable + x", set.Value)
	}
	if g, ok := sn.Fields[0].(*wasmir.GlobalGet); !ok || g.Name != "C$vtable" {
		t.Errorf("instance field 0 = %#v, expected the shared C$vtable global", sn.Fields[0])
	}
	if z, ok := sn.Fields[1].(*wasmir.F64Const); !ok || z.Value != 0 {
		t.Errorf("instance field 1 = %#v, expected the zero default for x", sn.Fields[1])
	}
}

func TestNewInstanceCallsConstructor(t *testing.T) {
	l, env := newTestEnv()
	ctor := &sem.Function{Name: "constructor", RestParam: -1, Result: sem.Void{}, Kind: sem.FuncConstructor}
	cls := &sem.Class{Name: "C", ID: 1, Constructor: ctor}
	ctor.Owner = cls
	l.Classes["C"] = cls

	n := &sem.New{Class: cls}
	n.T = cls
	if _, _, err := l.new_(env, n); err != nil {
		t.Fatalf("new C: %v", err)
	}
	emitted := env.FC.PopScope()
	if len(emitted) != 2 {
		t.Fatalf("new C emitted %d instrs, expected 2 (LocalSet + constructor call)", len(emitted))
	}
	call, ok := emitted[1].(*wasmir.Call)
	if !ok || call.Name != "C|constructor" {
		t.Errorf("constructor call = %#v, expected C|constructor", emitted[1])
	}
	if len(call.Args) != 2 {
		t.Errorf("constructor got %d args, expected 2 (context + instance)", len(call.Args))
	}
}

func TestNewSizedArrayTruncatesLength(t *testing.T) {
	l, env := newTestEnv()
	arrType := &sem.ArrayType{Elem: sem.Number{}}
	n := &sem.New{ArrayLen: numLit(2.9)}
	n.T = arrType

	instr, typ, err := l.new_(env, n)
	if err != nil {
		t.Fatalf("new Array(n): %v", err)
	}
	envl, ok := instr.(*wasmir.StructNew)
	if !ok {
		t.Fatalf("new Array(n) = %T, expected the envelope struct", instr)
	}
	arr, ok := envl.Fields[0].(*wasmir.ArrayNewDefault)
	if !ok {
		t.Fatalf("envelope data = %T, expected array.new_default", envl.Fields[0])
	}
	// Fractional lengths truncate through the f64-to-i32 chain.
	if _, ok := arr.Length.(*wasmir.UnaryNumeric); !ok {
		t.Errorf("array length = %T, expected the truncation conversion", arr.Length)
	}
	if typ != sem.Type(arrType) {
		t.Errorf("new Array type = %v, expected Array<number>", typ)
	}
}

func TestNewArrayFromListCarriesLength(t *testing.T) {
	l, env := newTestEnv()
	arrType := &sem.ArrayType{Elem: sem.Number{}}
	n := &sem.New{ArrayLit: []sem.Expr{numLit(1), numLit(2), numLit(3)}}
	n.T = arrType

	instr, _, err := l.new_(env, n)
	if err != nil {
		t.Fatalf("new Array(a,b,c): %v", err)
	}
	envl := instr.(*wasmir.StructNew)
	if length, ok := envl.Fields[1].(*wasmir.I32Const); !ok || length.Value != 3 {
		t.Errorf("envelope length = %#v, expected 3", envl.Fields[1])
	}
}

func TestFunctionExprBuildsClosureStruct(t *testing.T) {
	l, env := newTestEnv()
	g := freestanding("g", nil, sem.Number{})
	fe := &sem.FunctionExpr{Func: g}
	fe.T = g

	instr, typ, err := l.functionExpr(env, fe)
	if err != nil {
		t.Fatalf("functionExpr: %v", err)
	}
	if _, ok := instr.(*wasmir.LocalGet); !ok {
		t.Fatalf("function expr = %T, expected a read of the synthesized local", instr)
	}
	if typ != sem.Type(g) {
		t.Errorf("function expr type = %v, expected the function type", typ)
	}
	emitted := env.FC.PopScope()
	set := emitted[len(emitted)-1].(*wasmir.LocalSet)
	sn, ok := set.Value.(*wasmir.StructNew)
	if !ok || len(sn.Fields) != 2 {
		t.Fatalf("closure = %#v, expected the {context, funcref} wrapper", set.Value)
	}
	if rf, ok := sn.Fields[1].(*wasmir.RefFunc); !ok || rf.Name != "g" {
		t.Errorf("closure funcref = %#v, expected ref.func g", sn.Fields[1])
	}
}
