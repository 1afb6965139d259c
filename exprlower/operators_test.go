package exprlower

import (
	"testing"

	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

func lowerBinary(t *testing.T, l *Lowerer, env *Env, op sem.BinOp, left, right sem.Expr) (wasmir.Instr, sem.Type) {
	t.Helper()
	instr, typ, err := l.binary(env, &sem.Binary{Op: op, Left: left, Right: right})
	if err != nil {
		t.Fatalf("binary(%v): %v", op, err)
	}
	return instr, typ
}

func TestNumberArithmetic(t *testing.T) {
	l, env := newTestEnv()
	instr, typ := lowerBinary(t, l, env, sem.OpAdd, numLit(1), numLit(2))
	n, ok := instr.(*wasmir.Numeric)
	if !ok || n.Type != wasmir.F64 || n.Op != wasmir.OpAdd {
		t.Errorf("number + number = %#v, expected f64 add", instr)
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("number + number has type %v, expected number", typ)
	}
}

func TestNumberComparisonYieldsBoolean(t *testing.T) {
	l, env := newTestEnv()
	instr, typ := lowerBinary(t, l, env, sem.OpLessEq, numLit(1), numLit(2))
	if n, ok := instr.(*wasmir.Numeric); !ok || n.Type != wasmir.F64 {
		t.Errorf("number <= number = %#v, expected an f64 comparison", instr)
	}
	if _, ok := typ.(sem.Boolean); !ok {
		t.Errorf("comparison has type %v, expected boolean", typ)
	}
}

func TestBitwiseRoundTripsThroughI64(t *testing.T) {
	l, env := newTestEnv()
	instr, typ := lowerBinary(t, l, env, sem.OpBitAnd, numLit(6), numLit(3))
	// The result converts back to f64 after the integer op.
	conv, ok := instr.(*wasmir.UnaryNumeric)
	if !ok || conv.Op != wasmir.OpConvertI64ToF64 {
		t.Fatalf("number & number = %#v, expected a convert-back-to-f64 wrapper", instr)
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("bitwise result type = %v, expected number", typ)
	}
}

func TestBooleanShortCircuitUsesSelect(t *testing.T) {
	l, env := newTestEnv()
	instr, _ := lowerBinary(t, l, env, sem.OpLogicalAnd, boolLit(true), boolLit(false))
	sel, ok := instr.(*wasmir.Select)
	if !ok {
		t.Fatalf("boolean && = %T, expected *wasmir.Select", instr)
	}
	// a && b keeps operand values: select(b, a, a-as-condition).
	if sel.Cond == nil || sel.Then == nil || sel.Else == nil {
		t.Error("select is missing operands")
	}
}

func TestStringEqualityComparesOrderingToZero(t *testing.T) {
	l, env := newTestEnv()
	instr, typ := lowerBinary(t, l, env, sem.OpEq, strLit("a"), strLit("b"))
	// dyntype_cmp returns an ordering; equality is ordering == 0.
	eqz, ok := instr.(*wasmir.UnaryNumeric)
	if !ok || eqz.Op != wasmir.OpEqz {
		t.Fatalf("string == string = %#v, expected eqz over the cmp ordering", instr)
	}
	cmp, ok := eqz.Operand.(*wasmir.Call)
	if !ok || cmp.Name != "dyntype_cmp" {
		t.Fatalf("ordering = %#v, expected a dyntype_cmp call", eqz.Operand)
	}
	// Operands travel boxed: (ctx, any, any, comparator).
	if len(cmp.Args) != 4 {
		t.Fatalf("dyntype_cmp got %d args, expected 4", len(cmp.Args))
	}
	if boxed, ok := cmp.Args[1].(*wasmir.Call); !ok || boxed.Name != "dyntype_new_string" {
		t.Errorf("cmp lhs = %#v, expected the boxed string", cmp.Args[1])
	}
	if _, ok := typ.(sem.Boolean); !ok {
		t.Errorf("string equality type = %v, expected boolean", typ)
	}
}

func TestStringInequalityNegatesOrderingTest(t *testing.T) {
	l, env := newTestEnv()
	instr, _ := lowerBinary(t, l, env, sem.OpNotEq, strLit("a"), strLit("b"))
	ne, ok := instr.(*wasmir.Numeric)
	if !ok || ne.Type != wasmir.I32 || ne.Op != wasmir.OpNe {
		t.Fatalf("string != string = %#v, expected ordering != 0", instr)
	}
	if cmp, ok := ne.Lhs.(*wasmir.Call); !ok || cmp.Name != "dyntype_cmp" {
		t.Errorf("ordering = %#v, expected a dyntype_cmp call", ne.Lhs)
	}
}

// str + str routes through the host invoke helper: boxed receiver, the
// right operand in a one-element envelope, and a name pointer naming the
// concat operation; the any result unboxes back to a string.
func TestStringConcatBuildsEnvelopeInvoke(t *testing.T) {
	l, env := newTestEnv()
	instr, typ := lowerBinary(t, l, env, sem.OpAdd, strLit("a"), strLit("b"))
	unbox, ok := instr.(*wasmir.Call)
	if !ok || unbox.Name != "dyntype_to_string" {
		t.Fatalf("string + string = %#v, expected the invoke result unboxed to string", instr)
	}
	invoke, ok := unbox.Args[1].(*wasmir.Call)
	if !ok || invoke.Name != "dyntype_invoke" {
		t.Fatalf("concat = %#v, expected a dyntype_invoke call", unbox.Args[1])
	}
	// (ctx, name-ptr, receiver, args-envelope)
	if len(invoke.Args) != 4 {
		t.Fatalf("dyntype_invoke got %d args, expected 4", len(invoke.Args))
	}
	if _, ok := invoke.Args[1].(*wasmir.I32Const); !ok {
		t.Errorf("invoke name-ptr = %T, expected the interned offset constant", invoke.Args[1])
	}
	if recv, ok := invoke.Args[2].(*wasmir.Call); !ok || recv.Name != "dyntype_new_string" {
		t.Errorf("invoke receiver = %#v, expected the boxed left operand", invoke.Args[2])
	}
	envl, ok := invoke.Args[3].(*wasmir.StructNew)
	if !ok {
		t.Fatalf("invoke args = %T, expected the envelope struct", invoke.Args[3])
	}
	if length, ok := envl.Fields[1].(*wasmir.I32Const); !ok || length.Value != 1 {
		t.Errorf("concat envelope length = %#v, expected the one-element list", envl.Fields[1])
	}
	if _, ok := typ.(sem.StringT); !ok {
		t.Errorf("string + string type = %v, expected string", typ)
	}
}

func TestStringOrderingIsUnsupported(t *testing.T) {
	l, env := newTestEnv()
	_, _, err := l.binary(env, &sem.Binary{Op: sem.OpSub, Left: strLit("a"), Right: strLit("b")})
	if err == nil {
		t.Error("string - string lowered without error, expected unsupported")
	}
}

func TestAnyAnyEqualityProbesTypes(t *testing.T) {
	l, env := newTestEnv()
	a := localIdent(l, env, "a", sem.Any{})
	b := localIdent(l, env, "b", sem.Any{})
	instr, _ := lowerBinary(t, l, env, sem.OpEq, a, b)
	call, ok := instr.(*wasmir.Call)
	if !ok || call.Name != "dyntype_type_eq" {
		t.Errorf("any == any = %#v, expected a dyntype_type_eq call", instr)
	}
}

func TestAnyStaticComparatorUnboxes(t *testing.T) {
	l, env := newTestEnv()
	a := localIdent(l, env, "a", sem.Any{})
	instr, typ := lowerBinary(t, l, env, sem.OpLess, a, numLit(5))
	// The any side unboxes to f64 and the numeric rule applies.
	n, ok := instr.(*wasmir.Numeric)
	if !ok || n.Type != wasmir.F64 {
		t.Fatalf("any < number = %#v, expected an f64 comparison after unboxing", instr)
	}
	if lhs, ok := n.Lhs.(*wasmir.Call); !ok || lhs.Name != "dyntype_to_number" {
		t.Errorf("any operand = %#v, expected a dyntype_to_number unbox", n.Lhs)
	}
	if _, ok := typ.(sem.Boolean); !ok {
		t.Errorf("comparison type = %v, expected boolean", typ)
	}
}

func TestAnyAgainstNullUsesHostProbe(t *testing.T) {
	l, env := newTestEnv()
	a := localIdent(l, env, "a", sem.Any{})
	instr, _ := lowerBinary(t, l, env, sem.OpEq, a, nullLit())
	call, ok := instr.(*wasmir.Call)
	if !ok || call.Name != "dyntype_is_null" {
		t.Errorf("any == null = %#v, expected a dyntype_is_null probe", instr)
	}

	neq, _ := lowerBinary(t, l, env, sem.OpNotEq, a, undefLit())
	inv, ok := neq.(*wasmir.UnaryNumeric)
	if !ok || inv.Op != wasmir.OpEqz {
		t.Fatalf("any != undefined = %#v, expected a negated probe", neq)
	}
	if probe, ok := inv.Operand.(*wasmir.Call); !ok || probe.Name != "dyntype_is_undefined" {
		t.Errorf("any != undefined probes %#v, expected dyntype_is_undefined", inv.Operand)
	}
}

func TestMatchingNullishKindsCompareEqual(t *testing.T) {
	l, env := newTestEnv()
	instr, _ := lowerBinary(t, l, env, sem.OpEq, nullLit(), nullLit())
	if c, ok := instr.(*wasmir.I32Const); !ok || c.Value != 1 {
		t.Errorf("null == null = %#v, expected constant true", instr)
	}
	instr, _ = lowerBinary(t, l, env, sem.OpNotEq, nullLit(), nullLit())
	if inv, ok := instr.(*wasmir.UnaryNumeric); !ok || inv.Op != wasmir.OpEqz {
		t.Errorf("null != null = %#v, expected the negation of constant true", instr)
	}
}

func TestRefEqualityOnClasses(t *testing.T) {
	l, env := newTestEnv()
	cls := &sem.Class{Name: "C", ID: 1}
	l.Classes["C"] = cls
	a := localIdent(l, env, "a", cls)
	b := localIdent(l, env, "b", cls)
	instr, typ := lowerBinary(t, l, env, sem.OpEq, a, b)
	if _, ok := instr.(*wasmir.RefEq); !ok {
		t.Errorf("class == class = %T, expected *wasmir.RefEq", instr)
	}
	if _, ok := typ.(sem.Boolean); !ok {
		t.Errorf("ref equality type = %v, expected boolean", typ)
	}
}

func TestRefEqualityUnwrapsInterfaceViews(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	l.Interfaces["I"] = iface
	cls := &sem.Class{Name: "C", ID: 1, Interfaces: []*sem.Interface{iface}}
	l.Classes["C"] = cls

	a := localIdent(l, env, "a", iface)
	b := localIdent(l, env, "b", cls)
	instr, _ := lowerBinary(t, l, env, sem.OpEq, a, b)
	eq, ok := instr.(*wasmir.RefEq)
	if !ok {
		t.Fatalf("interface == class = %T, expected *wasmir.RefEq", instr)
	}
	// The interface side compares its inner object (view field 2), not
	// the view struct itself.
	lhs, ok := eq.Lhs.(*wasmir.StructGet)
	if !ok || lhs.FieldIndex != 2 {
		t.Errorf("interface operand = %#v, expected the unwrapped view field 2", eq.Lhs)
	}
}

func TestRefOrderingIsUnsupported(t *testing.T) {
	l, env := newTestEnv()
	cls := &sem.Class{Name: "C", ID: 1}
	a := localIdent(l, env, "a", cls)
	b := localIdent(l, env, "b", cls)
	if _, _, err := l.binary(env, &sem.Binary{Op: sem.OpLess, Left: a, Right: b}); err == nil {
		t.Error("class < class lowered without error, expected unsupported")
	}
}

func TestTruthinessPerType(t *testing.T) {
	l, env := newTestEnv()
	cls := &sem.Class{Name: "C", ID: 1}
	tests := []struct {
		name    string
		operand sem.Expr
		check   func(wasmir.Instr) bool
	}{
		{"boolean passes through", boolLit(true), func(in wasmir.Instr) bool {
			_, ok := in.(*wasmir.I32Const)
			return ok
		}},
		{"number is nonzero test", numLit(2), func(in wasmir.Instr) bool {
			n, ok := in.(*wasmir.Numeric)
			return ok && n.Type == wasmir.F64 && n.Op == wasmir.OpNe
		}},
		{"string is nonempty test", strLit("x"), func(in wasmir.Instr) bool {
			n, ok := in.(*wasmir.Numeric)
			return ok && n.Type == wasmir.I32
		}},
		{"any asks the host", localIdent(l, env, "a", sem.Any{}), func(in wasmir.Instr) bool {
			c, ok := in.(*wasmir.Call)
			return ok && c.Name == "dyntype_to_bool"
		}},
		{"reference is non-null test", localIdent(l, env, "c", cls), func(in wasmir.Instr) bool {
			u, ok := in.(*wasmir.UnaryNumeric)
			if !ok || u.Op != wasmir.OpEqz {
				return false
			}
			_, ok = u.Operand.(*wasmir.RefIsNull)
			return ok
		}},
	}
	l.Classes["C"] = cls
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instr, typ, err := l.truthiness(env, tt.operand)
			if err != nil {
				t.Fatalf("truthiness: %v", err)
			}
			if _, ok := typ.(sem.Boolean); !ok {
				t.Errorf("truthiness type = %v, expected boolean", typ)
			}
			if !tt.check(instr) {
				t.Errorf("truthiness lowered to %#v", instr)
			}
		})
	}
}

// The conditional must lower to a value-producing if, not a select: a
// select evaluates both arms eagerly, which never terminates when an arm
// recurses (n <= 1 ? 1 : n*fact(n-1)).
func TestConditionalLowersToIfNotSelect(t *testing.T) {
	l, env := newTestEnv()
	cond := &sem.Conditional{Cond: boolLit(true), Then: numLit(1), Else: numLit(2)}
	cond.T = sem.Number{}
	instr, typ, err := l.conditional(env, cond)
	if err != nil {
		t.Fatalf("conditional: %v", err)
	}
	ifInstr, ok := instr.(*wasmir.If)
	if !ok {
		t.Fatalf("conditional = %T, expected *wasmir.If", instr)
	}
	if ifInstr.Result == nil || ifInstr.Result.Num != wasmir.F64 {
		t.Errorf("conditional result type = %#v, expected f64", ifInstr.Result)
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("conditional type = %v, expected number", typ)
	}
}

func TestUnaryNotAppliesTruthiness(t *testing.T) {
	l, env := newTestEnv()
	instr, typ, err := l.unary(env, &sem.Unary{Op: sem.OpNot, Operand: numLit(0)})
	if err != nil {
		t.Fatalf("unary !: %v", err)
	}
	inv, ok := instr.(*wasmir.UnaryNumeric)
	if !ok || inv.Op != wasmir.OpEqz {
		t.Errorf("!number = %#v, expected eqz over the truthiness test", instr)
	}
	if _, ok := typ.(sem.Boolean); !ok {
		t.Errorf("! type = %v, expected boolean", typ)
	}
}

func TestUnaryNegation(t *testing.T) {
	l, env := newTestEnv()
	instr, _, err := l.unary(env, &sem.Unary{Op: sem.OpNeg, Operand: numLit(3)})
	if err != nil {
		t.Fatalf("unary -: %v", err)
	}
	if n, ok := instr.(*wasmir.UnaryNumeric); !ok || n.Op != wasmir.OpNeg {
		t.Errorf("-number = %#v, expected f64 negation", instr)
	}
}
