// Package stmtlower implements the Statement Lowerer: it
// walks every [sem.Stmt] form and emits wasmir instructions into the
// active function's opcode-scope stack (package fnctx), flattening all
// three source loop forms into one block/loop/br skeleton and switch
// statements into nested blocks with an equality-test dispatch prologue.
//
// The statement vocabulary is small and fixed; each case is emitted one
// at a time into the active opcode scope, delegating all value
// computation to the Expression Lowerer.
package stmtlower

import (
	"fmt"

	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/exprlower"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// Lowerer is the Statement Lowerer: stateless across calls, holding only
// the Expression Lowerer every statement ultimately bottoms out in.
type Lowerer struct {
	Expr *exprlower.Lowerer
}

// New returns a Lowerer that lowers expressions through expr.
func New(expr *exprlower.Lowerer) *Lowerer {
	return &Lowerer{Expr: expr}
}

// ImportedInitFuncName is the mangled name of moduleName's global-init
// function: the name a module exports its own initializer under, and the
// name every importing module calls ahead of its own global initializers
// so cross-module init ordering holds.
func ImportedInitFuncName(moduleName string) string {
	return moduleName + "$global_init"
}

// LowerFunctionBody lowers stmts as a function's complete body: a single
// labeled "statements" block, so every Return can branch out of arbitrary
// nesting depth uniformly.
func (l *Lowerer) LowerFunctionBody(env *exprlower.Env, stmts []sem.Stmt) ([]wasmir.Instr, error) {
	label := env.FC.StatementsLabel
	env.FC.PushScope(label)
	for _, s := range stmts {
		if err := l.LowerStmt(env, s); err != nil {
			env.FC.PopScope()
			return nil, err
		}
	}
	body := env.FC.PopScope()
	return []wasmir.Instr{&wasmir.Block{Label: label, Body: body}}, nil
}

// lowerStmts lowers stmts as a nested, unlabeled instruction sequence:
// used wherever an enclosing construct (if/loop/switch-case) already
// supplies whatever branch target its body needs.
func (l *Lowerer) lowerStmts(env *exprlower.Env, stmts []sem.Stmt) ([]wasmir.Instr, error) {
	env.FC.PushScope("")
	for _, s := range stmts {
		if err := l.LowerStmt(env, s); err != nil {
			env.FC.PopScope()
			return nil, err
		}
	}
	return env.FC.PopScope(), nil
}

// LowerStmt lowers one statement, emitting into the innermost open scope
// on env.FC.
func (l *Lowerer) LowerStmt(env *exprlower.Env, s sem.Stmt) error {
	switch v := s.(type) {
	case *sem.ExprStmt:
		return l.emitExprAsStmt(env, v.X)
	case *sem.Block:
		return l.block(env, v)
	case *sem.If:
		return l.ifStmt(env, v)
	case *sem.Loop:
		return l.loop(env, v)
	case *sem.Switch:
		return l.switchStmt(env, v)
	case *sem.Break:
		env.FC.Emit(&wasmir.Br{Label: v.Label})
		return nil
	case *sem.Continue:
		env.FC.Emit(&wasmir.Br{Label: v.Label})
		return nil
	case *sem.Return:
		return l.returnStmt(env, v)
	case *sem.VarDecl:
		return l.varDecl(env, v)
	case *sem.ImportDecl:
		env.FC.Emit(&wasmir.Call{Name: ImportedInitFuncName(v.ModuleName)})
		return nil
	}
	return fmt.Errorf("stmtlower: %w", &errs.UnsupportedError{Feature: fmt.Sprintf("statement %T", s)})
}

// emitExprAsStmt lowers e for its side effects, dropping its value unless
// e is void-typed or is an assignment (whose lowered form is a Store
// instruction with no value on the stack to drop).
func (l *Lowerer) emitExprAsStmt(env *exprlower.Env, e sem.Expr) error {
	if _, ok := e.(*sem.Assign); ok {
		instr, _, err := l.Expr.ByValue(env, e)
		if err != nil {
			return err
		}
		env.FC.Emit(instr)
		return nil
	}
	instr, t, err := l.Expr.ByValue(env, e)
	if err != nil {
		return err
	}
	if _, isVoid := t.(sem.Void); isVoid {
		env.FC.Emit(instr)
		return nil
	}
	env.FC.Emit(&wasmir.Drop{Operand: instr})
	return nil
}

// block lowers a plain `{ ... }` grouping: no label of its own, since
// nothing in the source can branch to it by name.
func (l *Lowerer) block(env *exprlower.Env, b *sem.Block) error {
	for _, s := range b.Stmts {
		if err := l.LowerStmt(env, s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lowerer) ifStmt(env *exprlower.Env, s *sem.If) error {
	cond, _, err := l.Expr.ByValue(env, &sem.Truthiness{Operand: s.Cond})
	if err != nil {
		return err
	}
	thenBody, err := l.lowerStmts(env, s.Then)
	if err != nil {
		return err
	}
	var elseBody []wasmir.Instr
	if s.Else != nil {
		elseBody, err = l.lowerStmts(env, s.Else)
		if err != nil {
			return err
		}
	}
	env.FC.Emit(&wasmir.If{Cond: cond, Then: thenBody, Else: elseBody})
	return nil
}

// loop flattens While/DoWhile/For into `block $break { loop $cont { if
// !cond br $break; body; post; br $cont } }`:
// do-while duplicates its body once, unconditionally, ahead of that
// shared skeleton instead of adding a fourth shape.
func (l *Lowerer) loop(env *exprlower.Env, s *sem.Loop) error {
	if s.Init != nil {
		if err := l.LowerStmt(env, s.Init); err != nil {
			return err
		}
	}

	var preBody []wasmir.Instr
	if s.Kind == sem.LoopDoWhile {
		var err error
		preBody, err = l.lowerStmts(env, s.Body)
		if err != nil {
			return err
		}
	}

	env.FC.PushScope("")
	if s.Cond != nil {
		cond, _, err := l.Expr.ByValue(env, &sem.Truthiness{Operand: s.Cond})
		if err != nil {
			env.FC.PopScope()
			return err
		}
		notCond := &wasmir.UnaryNumeric{Op: wasmir.OpEqz, Operand: cond}
		env.FC.Emit(&wasmir.BrIf{Label: s.BreakLabel, Cond: notCond})
	}
	bodyInstrs, err := l.lowerStmts(env, s.Body)
	if err != nil {
		env.FC.PopScope()
		return err
	}
	for _, in := range bodyInstrs {
		env.FC.Emit(in)
	}
	if s.Post != nil {
		if err := l.emitExprAsStmt(env, s.Post); err != nil {
			env.FC.PopScope()
			return err
		}
	}
	env.FC.Emit(&wasmir.Br{Label: s.ContLabel})
	loopBody := env.FC.PopScope()

	loopInstr := &wasmir.Loop{Label: s.ContLabel, Body: loopBody}
	blockBody := append(append([]wasmir.Instr{}, preBody...), loopInstr)
	env.FC.Emit(&wasmir.Block{Label: s.BreakLabel, Body: blockBody})
	return nil
}

// switchStmt lowers switch via the standard nested-blocks technique: one
// block per case (innermost first), a dispatch prologue of equality
// BrIfs choosing which block to exit into, and case bodies laid out so
// branching into block i falls through every subsequent case in source
// order until an explicit break; leaving the switch is explicit, via Break.
func (l *Lowerer) switchStmt(env *exprlower.Env, s *sem.Switch) error {
	subject, subjType, err := l.Expr.ByValue(env, s.Subject)
	if err != nil {
		return err
	}
	subjLocal := env.FC.AllocLocal(l.Expr.Types.ValueType(subjType))

	n := len(s.Cases)
	labels := make([]string, n)
	for i := range labels {
		labels[i] = env.FC.NewLabel("case")
	}
	defaultIdx := -1
	for i, c := range s.Cases {
		if c.Value == nil {
			defaultIdx = i
		}
	}

	env.FC.PushScope("")
	env.FC.Emit(&wasmir.LocalSet{Index: subjLocal, Value: subject})
	for i, c := range s.Cases {
		if c.Value == nil {
			continue
		}
		val, valType, err := l.Expr.ByValue(env, c.Value)
		if err != nil {
			env.FC.PopScope()
			return err
		}
		eq, err := l.equalityTest(subjLocal, subjType, val, valType)
		if err != nil {
			env.FC.PopScope()
			return err
		}
		env.FC.Emit(&wasmir.BrIf{Label: labels[i], Cond: eq})
	}
	if defaultIdx >= 0 {
		env.FC.Emit(&wasmir.Br{Label: labels[defaultIdx]})
	} else {
		env.FC.Emit(&wasmir.Br{Label: s.BreakLabel})
	}
	inner := env.FC.PopScope()

	for i := 0; i < n; i++ {
		body, err := l.lowerStmts(env, s.Cases[i].Body)
		if err != nil {
			return err
		}
		block := &wasmir.Block{Label: labels[i], Body: inner}
		inner = append([]wasmir.Instr{block}, body...)
	}

	env.FC.Emit(&wasmir.Block{Label: s.BreakLabel, Body: inner})
	return nil
}

// equalityTest compares the stashed subject local against one case
// value: a direct numeric/boolean comparison when the subject's static
// type allows it, else a boxed round-trip through the host's
// dyntype_type_eq, since a switch subject may be any-typed or
// object-typed.
func (l *Lowerer) equalityTest(subjLocal uint32, subjType sem.Type, val wasmir.Instr, valType sem.Type) (wasmir.Instr, error) {
	subj := wasmir.Instr(&wasmir.LocalGet{Index: subjLocal})
	switch subjType.(type) {
	case sem.Number:
		return &wasmir.Numeric{Type: wasmir.F64, Op: wasmir.OpEq, Lhs: subj, Rhs: val}, nil
	case sem.Boolean:
		return &wasmir.Numeric{Type: wasmir.I32, Op: wasmir.OpEq, Lhs: subj, Rhs: val}, nil
	}
	boxedSubj, err := l.Expr.BoxAny(subj, subjType)
	if err != nil {
		return nil, err
	}
	boxedVal, err := l.Expr.BoxAny(val, valType)
	if err != nil {
		return nil, err
	}
	return hostabi.Call(hostabi.TypeEq, boxedSubj, boxedVal), nil
}

// returnStmt lowers `return [X];`: evaluate X (if any) into the
// function's return slot, then branch to the function's labeled
// statements block. Constructors have no return slot (ReturnSlot is
// -1), so nothing is stored for them.
func (l *Lowerer) returnStmt(env *exprlower.Env, s *sem.Return) error {
	if s.X != nil {
		v, t, err := l.Expr.ByValue(env, s.X)
		if err != nil {
			return err
		}
		if env.FC.ReturnSlot >= 0 && env.FC.Func.Kind != sem.FuncConstructor {
			v = l.Expr.CoerceTo(v, t, env.FC.Func.Result)
			env.FC.Emit(&wasmir.LocalSet{Index: uint32(env.FC.ReturnSlot), Value: v})
		} else if _, isVoid := t.(sem.Void); isVoid {
			env.FC.Emit(v)
		} else {
			env.FC.Emit(&wasmir.Drop{Operand: v})
		}
	}
	env.FC.Emit(&wasmir.Br{Label: env.FC.StatementsLabel})
	return nil
}

// varDecl lowers a local/captured/global variable declaration, leaving
// the zero value when Init is nil.
func (l *Lowerer) varDecl(env *exprlower.Env, s *sem.VarDecl) error {
	var init wasmir.Instr
	if s.Init != nil {
		v, t, err := l.Expr.ByValue(env, s.Init)
		if err != nil {
			return err
		}
		init = l.Expr.CoerceTo(v, t, s.Decl.Type)
	} else {
		init = l.Expr.ZeroValue(l.Expr.Types.ValueType(s.Decl.Type))
	}

	if s.Decl.Kind == sem.VarGlobal {
		env.FC.Emit(&wasmir.GlobalSet{Name: s.Decl.Name, Value: init})
		return nil
	}
	env.FC.Emit(l.Expr.DeclareLocal(env, s.Decl, init))
	return nil
}
