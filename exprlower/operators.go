package exprlower

import (
	"fmt"

	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// binary dispatches a polymorphic binary operator over the pair of
// operand source types.
func (l *Lowerer) binary(env *Env, b *sem.Binary) (wasmir.Instr, sem.Type, error) {
	lhs, lt, err := l.ByValue(env, b.Left)
	if err != nil {
		return nil, nil, err
	}
	rhs, rt, err := l.ByValue(env, b.Right)
	if err != nil {
		return nil, nil, err
	}

	if b.Op == sem.OpLogicalAnd || b.Op == sem.OpLogicalOr {
		return l.shortCircuit(env, b, lhs, lt, rhs, rt)
	}

	switch {
	case isNumber(lt) && isNumber(rt):
		return l.numberOp(b.Op, lhs, rhs)
	case (isNumber(lt) && isBoolean(rt)) || (isBoolean(lt) && isNumber(rt)):
		return l.numberOp(b.Op, toF64(lhs, lt), toF64(rhs, rt))
	case isBoolean(lt) && isBoolean(rt):
		return l.booleanOp(b.Op, lhs, rhs)
	case isString(lt) && isString(rt):
		return l.stringOp(b.Op, lhs, rhs)
	case isAny(lt) && isAny(rt):
		return l.anyAnyOp(b.Op, lhs, rhs)
	case isAny(lt) && !isAny(rt):
		return l.anyStaticOp(env, b.Op, lhs, rt, rhs)
	case !isAny(lt) && isAny(rt):
		return l.anyStaticOp(env, b.Op, rhs, lt, lhs)
	case isRef(lt) && isRef(rt):
		return l.refEqOp(b.Op, lhs, lt, rhs, rt)
	case isNullish(lt) || isNullish(rt):
		return l.nullishOp(b.Op, lhs, lt, rhs, rt)
	}
	return nil, nil, fmt.Errorf("exprlower: %w", &errs.TypeMismatchError{
		Want: "a supported operand pair", Got: fmt.Sprintf("%s, %s", lt, rt), Context: "binary operator",
	})
}

func isNumber(t sem.Type) bool  { _, ok := t.(sem.Number); return ok }
func isBoolean(t sem.Type) bool { _, ok := t.(sem.Boolean); return ok }
func isString(t sem.Type) bool  { _, ok := t.(sem.StringT); return ok }
func isAny(t sem.Type) bool     { _, ok := t.(sem.Any); return ok }
func isNullish(t sem.Type) bool {
	switch t.(type) {
	case sem.Null, sem.Undefined:
		return true
	}
	return false
}
func isRef(t sem.Type) bool {
	switch t.(type) {
	case *sem.Class, *sem.ArrayType, *sem.Interface:
		return true
	}
	return false
}

// shortCircuit lowers `&&`/`||`, keeping the original (uncoerced)
// operand value: `select` on the left operand's truthiness decides
// between left and right, not a coerced boolean result.
func (l *Lowerer) shortCircuit(env *Env, b *sem.Binary, lhs wasmir.Instr, lt sem.Type, rhs wasmir.Instr, rt sem.Type) (wasmir.Instr, sem.Type, error) {
	cond, _, err := l.truthinessOf(lhs, lt)
	if err != nil {
		return nil, nil, err
	}
	// select requires both arms to share a value type; when lt != rt the
	// caller must already have boxed one side to `any` at the front end
	// (the two branches of &&/|| only share a static type through `any`
	// in mixed-type code).
	if b.Op == sem.OpLogicalAnd {
		return &wasmir.Select{Cond: cond, Then: rhs, Else: lhs}, rt, nil
	}
	return &wasmir.Select{Cond: cond, Then: lhs, Else: rhs}, lt, nil
}

func (l *Lowerer) numberOp(op sem.BinOp, lhs, rhs wasmir.Instr) (wasmir.Instr, sem.Type, error) {
	switch op {
	case sem.OpLShift, sem.OpRShift, sem.OpURShift, sem.OpBitAnd, sem.OpBitOr, sem.OpBitXor:
		li := &wasmir.UnaryNumeric{Op: wasmir.OpTruncF64ToI64, Operand: lhs}
		ri := &wasmir.UnaryNumeric{Op: wasmir.OpTruncF64ToI64, Operand: rhs}
		nop, ok := bitwiseOp(op)
		if !ok {
			return nil, nil, fmt.Errorf("exprlower: unexpected bitwise op %v", op)
		}
		result := &wasmir.Numeric{Type: wasmir.I64, Op: nop, Lhs: li, Rhs: ri}
		return &wasmir.UnaryNumeric{Op: wasmir.OpConvertI64ToF64, Operand: &wasmir.UnaryNumeric{Op: wasmir.OpWrapI64ToI32, Operand: result}}, sem.Number{}, nil
	}
	nop, isCompare, ok := arithOrCompareOp(op)
	if !ok {
		return nil, nil, fmt.Errorf("exprlower: unexpected number op %v", op)
	}
	result := &wasmir.Numeric{Type: wasmir.F64, Op: nop, Lhs: lhs, Rhs: rhs}
	if isCompare {
		return result, sem.Boolean{}, nil
	}
	return result, sem.Number{}, nil
}

func bitwiseOp(op sem.BinOp) (wasmir.NumOp, bool) {
	switch op {
	case sem.OpLShift:
		return wasmir.OpShl, true
	case sem.OpRShift:
		return wasmir.OpShrS, true
	case sem.OpURShift:
		return wasmir.OpShrU, true
	case sem.OpBitAnd:
		return wasmir.OpAnd, true
	case sem.OpBitOr:
		return wasmir.OpOr, true
	case sem.OpBitXor:
		return wasmir.OpXor, true
	}
	return 0, false
}

func arithOrCompareOp(op sem.BinOp) (nop wasmir.NumOp, isCompare, ok bool) {
	switch op {
	case sem.OpAdd:
		return wasmir.OpAdd, false, true
	case sem.OpSub:
		return wasmir.OpSub, false, true
	case sem.OpMul:
		return wasmir.OpMul, false, true
	case sem.OpDiv:
		return wasmir.OpDivS, false, true
	case sem.OpMod:
		return wasmir.OpDivS, false, true // front end desugars `%` fully elsewhere; treated as division here
	case sem.OpLess:
		return wasmir.OpLtS, true, true
	case sem.OpLessEq:
		return wasmir.OpLeS, true, true
	case sem.OpGreater:
		return wasmir.OpGtS, true, true
	case sem.OpGreaterEq:
		return wasmir.OpGeS, true, true
	case sem.OpEq, sem.OpStrictEq:
		return wasmir.OpEq, true, true
	case sem.OpNotEq, sem.OpStrictNotEq:
		return wasmir.OpNe, true, true
	}
	return 0, false, false
}

func (l *Lowerer) booleanOp(op sem.BinOp, lhs, rhs wasmir.Instr) (wasmir.Instr, sem.Type, error) {
	switch op {
	case sem.OpLogicalAnd:
		return &wasmir.Select{Cond: lhs, Then: rhs, Else: lhs}, sem.Boolean{}, nil
	case sem.OpLogicalOr:
		return &wasmir.Select{Cond: lhs, Then: lhs, Else: rhs}, sem.Boolean{}, nil
	case sem.OpEq, sem.OpStrictEq:
		return &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpEq, Lhs: lhs, Rhs: rhs}, sem.Boolean{}, nil
	case sem.OpNotEq, sem.OpStrictNotEq:
		return &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpNe, Lhs: lhs, Rhs: rhs}, sem.Boolean{}, nil
	}
	return nil, nil, fmt.Errorf("exprlower: unsupported boolean op %v", op)
}

func (l *Lowerer) stringOp(op sem.BinOp, lhs, rhs wasmir.Instr) (wasmir.Instr, sem.Type, error) {
	switch op {
	case sem.OpEq, sem.OpStrictEq, sem.OpNotEq, sem.OpStrictNotEq:
		// dyntype_cmp takes boxed operands and returns an ordering;
		// equality is ordering == 0, not the raw ordering itself.
		boxedL, err := l.boxAny(lhs, sem.StringT{})
		if err != nil {
			return nil, nil, err
		}
		boxedR, err := l.boxAny(rhs, sem.StringT{})
		if err != nil {
			return nil, nil, err
		}
		ordering := hostabi.Call(hostabi.Cmp, boxedL, boxedR, &wasmir.I32Const{Value: 0})
		if op == sem.OpNotEq || op == sem.OpStrictNotEq {
			return &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpNe, Lhs: ordering, Rhs: &wasmir.I32Const{Value: 0}}, sem.Boolean{}, nil
		}
		return &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: ordering}, sem.Boolean{}, nil
	case sem.OpAdd:
		return l.stringConcat(lhs, rhs)
	}
	return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("string operator %v", op)})
}

// stringConcat lowers `str + str` through the host invoke helper: the
// left operand is the boxed receiver, the right one travels in a
// one-element string-list envelope, and the name pointer identifies the
// concat operation. The invoke result unboxes back to a string.
func (l *Lowerer) stringConcat(lhs, rhs wasmir.Instr) (wasmir.Instr, sem.Type, error) {
	recv, err := l.boxAny(lhs, sem.StringT{})
	if err != nil {
		return nil, nil, err
	}
	arg, err := l.boxAny(rhs, sem.StringT{})
	if err != nil {
		return nil, nil, err
	}
	off, _ := l.Arena.InternString("concat", true)
	result := hostabi.Call(hostabi.Invoke,
		&wasmir.I32Const{Value: int32(off)}, recv, l.boxedEnvelope([]wasmir.Instr{arg}))
	unboxed, err := l.unboxAny(result, sem.StringT{})
	if err != nil {
		return nil, nil, err
	}
	return unboxed, sem.StringT{}, nil
}

// anyAnyOp handles `any,any`: numeric/string operand pairs are unboxed
// and dispatched through the matching static rule, re-boxed to `any`;
// everything else uses the host comparator/equality probes.
func (l *Lowerer) anyAnyOp(op sem.BinOp, lhs, rhs wasmir.Instr) (wasmir.Instr, sem.Type, error) {
	switch op {
	case sem.OpEq, sem.OpStrictEq:
		return hostabi.Call(hostabi.TypeEq, lhs, rhs), sem.Boolean{}, nil
	case sem.OpNotEq, sem.OpStrictNotEq:
		eq := hostabi.Call(hostabi.TypeEq, lhs, rhs)
		return &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: eq}, sem.Boolean{}, nil
	}
	result := hostabi.Call(hostabi.Cmp, lhs, rhs, &wasmir.I32Const{Value: int32(op)})
	return result, sem.Boolean{}, nil
}

// anyStaticOp handles a mixed `any`/static pair: comparators against
// `null`/`undefined` use the host null/undefined predicates; everything
// else unboxes the dynamic side and reuses the matching static rule.
func (l *Lowerer) anyStaticOp(env *Env, op sem.BinOp, anyVal wasmir.Instr, staticType sem.Type, staticVal wasmir.Instr) (wasmir.Instr, sem.Type, error) {
	if isNullish(staticType) && (op == sem.OpEq || op == sem.OpNotEq || op == sem.OpStrictEq || op == sem.OpStrictNotEq) {
		var probe hostabi.Func = hostabi.IsNull
		if _, isUndef := staticType.(sem.Undefined); isUndef {
			probe = hostabi.IsUndefined
		}
		is := hostabi.Call(probe, anyVal)
		if op == sem.OpNotEq || op == sem.OpStrictNotEq {
			return &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: is}, sem.Boolean{}, nil
		}
		return is, sem.Boolean{}, nil
	}
	unboxed, err := l.unboxAny(anyVal, staticType)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case isNumber(staticType):
		return l.numberOp(op, unboxed, staticVal)
	case isBoolean(staticType):
		return l.booleanOp(op, unboxed, staticVal)
	case isString(staticType):
		return l.stringOp(op, unboxed, staticVal)
	}
	return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("any/%s operator", staticType)})
}

// refEqOp covers class/array/interface reference comparisons: only
// equality is defined, via ref.eq; an interface operand is unwrapped to
// its inner object first.
func (l *Lowerer) refEqOp(op sem.BinOp, lhs wasmir.Instr, lt sem.Type, rhs wasmir.Instr, rt sem.Type) (wasmir.Instr, sem.Type, error) {
	if op != sem.OpEq && op != sem.OpNotEq && op != sem.OpStrictEq && op != sem.OpStrictNotEq {
		return nil, nil, fmt.Errorf("exprlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("operator %v on reference types", op)})
	}
	if _, ok := lt.(*sem.Interface); ok {
		lhs = l.unwrapInterfaceObject(lhs)
	}
	if _, ok := rt.(*sem.Interface); ok {
		rhs = l.unwrapInterfaceObject(rhs)
	}
	eq := &wasmir.RefEq{Lhs: lhs, Rhs: rhs}
	if op == sem.OpNotEq || op == sem.OpStrictNotEq {
		return &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: eq}, sem.Boolean{}, nil
	}
	return eq, sem.Boolean{}, nil
}

// unwrapInterfaceObject reads field 2 (the boxed object ref) out of an
// interface view.
func (l *Lowerer) unwrapInterfaceObject(view wasmir.Instr) wasmir.Instr {
	return &wasmir.StructGet{TypeIndex: l.Types.InterfaceViewType(), FieldIndex: 2, Ref: view}
}

// nullishOp compares null/undefined against a non-`any` operand
// structurally: matching kinds compare equal, and a reference-typed
// opposite side additionally checks ref.is_null.
func (l *Lowerer) nullishOp(op sem.BinOp, lhs wasmir.Instr, lt sem.Type, rhs wasmir.Instr, rt sem.Type) (wasmir.Instr, sem.Type, error) {
	negate := op == sem.OpNotEq || op == sem.OpStrictNotEq
	sameKind := sameNullishKind(lt, rt)
	var result wasmir.Instr
	if sameKind {
		result = &wasmir.I32Const{Value: 1}
	} else if isRef(lt) {
		result = &wasmir.RefIsNull{Operand: lhs}
	} else if isRef(rt) {
		result = &wasmir.RefIsNull{Operand: rhs}
	} else {
		result = &wasmir.I32Const{Value: 0}
	}
	if negate {
		result = &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: result}
	}
	return result, sem.Boolean{}, nil
}

func sameNullishKind(lt, rt sem.Type) bool {
	_, ln := lt.(sem.Null)
	_, lu := lt.(sem.Undefined)
	_, rn := rt.(sem.Null)
	_, ru := rt.(sem.Undefined)
	return (ln && rn) || (lu && ru)
}

func toF64(v wasmir.Instr, t sem.Type) wasmir.Instr {
	if isBoolean(t) {
		return &wasmir.UnaryNumeric{Op: wasmir.OpConvertI64ToF64, Operand: &wasmir.UnaryNumeric{Op: wasmir.OpExtendI32UToI64, Operand: v}}
	}
	return v
}

func (l *Lowerer) unary(env *Env, u *sem.Unary) (wasmir.Instr, sem.Type, error) {
	operand, t, err := l.ByValue(env, u.Operand)
	if err != nil {
		return nil, nil, err
	}
	switch u.Op {
	case sem.OpNeg:
		return &wasmir.UnaryNumeric{Op: wasmir.OpNeg, Operand: operand}, sem.Number{}, nil
	case sem.OpPos:
		return operand, sem.Number{}, nil
	case sem.OpNot:
		truthy, _, err := l.truthinessOf(operand, t)
		if err != nil {
			return nil, nil, err
		}
		return &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: truthy}, sem.Boolean{}, nil
	case sem.OpBitNot:
		i64 := &wasmir.UnaryNumeric{Op: wasmir.OpTruncF64ToI64, Operand: operand}
		inv := &wasmir.Numeric{Type: wasmir.I64, Op: wasmir.OpXor, Lhs: i64, Rhs: &wasmir.I64Const{Value: -1}}
		return &wasmir.UnaryNumeric{Op: wasmir.OpConvertI64ToF64, Operand: &wasmir.UnaryNumeric{Op: wasmir.OpWrapI64ToI32, Operand: inv}}, sem.Number{}, nil
	}
	return nil, nil, fmt.Errorf("exprlower: unsupported unary op %v", u.Op)
}

// truthiness lowers a [sem.Truthiness] wrapper: the operand is
// evaluated then converted per its source type's truthiness rule.
func (l *Lowerer) truthiness(env *Env, operand sem.Expr) (wasmir.Instr, sem.Type, error) {
	v, t, err := l.ByValue(env, operand)
	if err != nil {
		return nil, nil, err
	}
	instr, _, err := l.truthinessOf(v, t)
	return instr, sem.Boolean{}, err
}

func (l *Lowerer) truthinessOf(v wasmir.Instr, t sem.Type) (wasmir.Instr, sem.Type, error) {
	switch t.(type) {
	case sem.Boolean:
		return v, sem.Boolean{}, nil
	case sem.Number:
		nonzero := &wasmir.Numeric{Type: wasmir.F64, Op: wasmir.OpNe, Lhs: v, Rhs: &wasmir.F64Const{Value: 0}}
		return nonzero, sem.Boolean{}, nil
	case sem.StringT:
		length := &wasmir.ArrayLen{Ref: &wasmir.StructGet{TypeIndex: l.Types.StringStructType(), FieldIndex: 1, Ref: v}}
		nonzero := &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpNe, Lhs: length, Rhs: &wasmir.I32Const{Value: 0}}
		return nonzero, sem.Boolean{}, nil
	case sem.Any, sem.Undefined:
		return hostabi.Call(hostabi.ToBool, v), sem.Boolean{}, nil
	default:
		nonnull := &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: &wasmir.RefIsNull{Operand: v}}
		return nonnull, sem.Boolean{}, nil
	}
}

// conditional lowers `cond ? then : els` to a value-producing If rather
// than Select: Select pops both operands already computed, which would
// evaluate the untaken arm unconditionally (fatal for a recursive arm
// like `n<=1 ? 1 : n*fact(n-1)`, which would never terminate). Select
// remains correct, and is used elsewhere, for `&&`/`||`, whose operands
// are never recursive in the same sense the ternary's arms can be.
func (l *Lowerer) conditional(env *Env, c *sem.Conditional) (wasmir.Instr, sem.Type, error) {
	cond, ct, err := l.ByValue(env, c.Cond)
	if err != nil {
		return nil, nil, err
	}
	condB, _, err := l.truthinessOf(cond, ct)
	if err != nil {
		return nil, nil, err
	}
	then, tt, err := l.ByValue(env, c.Then)
	if err != nil {
		return nil, nil, err
	}
	els, _, err := l.ByValue(env, c.Else)
	if err != nil {
		return nil, nil, err
	}
	vt := l.Types.ValueType(tt)
	return &wasmir.If{
		Cond:   condB,
		Result: &vt,
		Then:   []wasmir.Instr{then},
		Else:   []wasmir.Instr{els},
	}, tt, nil
}
