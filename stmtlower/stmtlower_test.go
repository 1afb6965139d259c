package stmtlower

import (
	"testing"

	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/dataseg"
	"github.com/tswasm/lower/exprlower"
	"github.com/tswasm/lower/fnctx"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/typelower"
)

// newEnv builds a minimal lowering environment for fn, with no closure
// captures in play (env.Ctx/CtxRef stay nil, which is safe since none of
// these tests touch a sem.VarCaptured declaration).
func newEnv(fn *sem.Function) (*Lowerer, *exprlower.Env) {
	arena := dataseg.New()
	types := typelower.New(wasmir.NewModule("test"), arena)
	cb := closctx.New(types)
	expr := exprlower.New(types, arena, cb)
	fc := fnctx.New(fn, 0)
	fc.ReturnSlot = -1
	return New(expr), &exprlower.Env{FC: fc}
}

func numberLit(v float64) *sem.Literal {
	lit := &sem.Literal{Num: v}
	lit.T = sem.Number{}
	return lit
}

func TestIfStmtEmitsBothBranches(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	l, env := newEnv(fn)
	env.FC.PushScope("top")

	thenDecl := &sem.Decl{Name: "x", Type: sem.Number{}, Kind: sem.VarLocal}
	if err := l.LowerStmt(env, &sem.If{
		Cond: boolLit(true),
		Then: []sem.Stmt{&sem.VarDecl{Decl: thenDecl, Init: numberLit(1)}},
		Else: []sem.Stmt{&sem.Break{Label: "loop$break"}},
	}); err != nil {
		t.Fatalf("LowerStmt(if): %v", err)
	}

	body := env.FC.PopScope()
	if len(body) != 1 {
		t.Fatalf("if: got %d top-level instrs, expected 1", len(body))
	}
	ifInstr, ok := body[0].(*wasmir.If)
	if !ok {
		t.Fatalf("if: got %T, expected *wasmir.If", body[0])
	}
	if len(ifInstr.Then) != 1 {
		t.Errorf("if: Then has %d instrs, expected 1 (the LocalSet)", len(ifInstr.Then))
	}
	if len(ifInstr.Else) != 1 {
		t.Errorf("if: Else has %d instrs, expected 1 (the Br)", len(ifInstr.Else))
	}
}

func boolLit(v bool) *sem.Literal {
	lit := &sem.Literal{Bool: v}
	lit.T = sem.Boolean{}
	return lit
}

func TestVarDeclLocalAllocatesAndSets(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	l, env := newEnv(fn)
	env.FC.PushScope("top")

	decl := &sem.Decl{Name: "n", Type: sem.Number{}, Kind: sem.VarLocal}
	if err := l.LowerStmt(env, &sem.VarDecl{Decl: decl, Init: numberLit(42)}); err != nil {
		t.Fatalf("LowerStmt(var decl): %v", err)
	}

	body := env.FC.PopScope()
	if len(body) != 1 {
		t.Fatalf("var decl: got %d instrs, expected 1 (the LocalSet)", len(body))
	}
	set, ok := body[0].(*wasmir.LocalSet)
	if !ok {
		t.Fatalf("var decl: got %T, expected *wasmir.LocalSet", body[0])
	}
	idx, ok := env.FC.LocalIndex(decl)
	if !ok || set.Index != idx {
		t.Errorf("var decl: LocalSet.Index = %d, expected the allocated local %d", set.Index, idx)
	}
	if c, ok := set.Value.(*wasmir.F64Const); !ok || c.Value != 42 {
		t.Errorf("var decl: LocalSet.Value = %#v, expected F64Const{42}", set.Value)
	}
}

func TestVarDeclGlobalEmitsGlobalSet(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	l, env := newEnv(fn)
	env.FC.PushScope("top")

	decl := &sem.Decl{Name: "g", Type: sem.Number{}, Kind: sem.VarGlobal}
	if err := l.LowerStmt(env, &sem.VarDecl{Decl: decl, Init: numberLit(7)}); err != nil {
		t.Fatalf("LowerStmt(global var decl): %v", err)
	}
	body := env.FC.PopScope()
	if len(body) != 1 {
		t.Fatalf("global var decl: got %d instrs, expected 1", len(body))
	}
	set, ok := body[0].(*wasmir.GlobalSet)
	if !ok || set.Name != "g" {
		t.Fatalf("global var decl: got %#v, expected GlobalSet{Name: \"g\"}", body[0])
	}
}

func TestReturnStoresIntoReturnSlotAndBranches(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Number{}}
	l, env := newEnv(fn)
	env.FC.ReturnSlot = int32(env.FC.AllocLocal(wasmir.Num(wasmir.F64)))
	env.FC.StatementsLabel = "statements"
	env.FC.PushScope("top")

	if err := l.LowerStmt(env, &sem.Return{X: numberLit(9)}); err != nil {
		t.Fatalf("LowerStmt(return): %v", err)
	}
	body := env.FC.PopScope()
	if len(body) != 2 {
		t.Fatalf("return: got %d instrs, expected 2 (LocalSet, Br)", len(body))
	}
	if _, ok := body[0].(*wasmir.LocalSet); !ok {
		t.Errorf("return[0] = %T, expected *wasmir.LocalSet", body[0])
	}
	br, ok := body[1].(*wasmir.Br)
	if !ok || br.Label != "statements" {
		t.Errorf("return[1] = %#v, expected Br{Label: \"statements\"}", body[1])
	}
}

func TestLoopFlattensToBlockLoopSkeleton(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	l, env := newEnv(fn)
	env.FC.PushScope("top")

	s := &sem.Loop{
		Kind:       sem.LoopWhile,
		Cond:       boolLit(true),
		Body:       []sem.Stmt{&sem.Break{Label: "loop$break"}},
		BreakLabel: "loop$break",
		ContLabel:  "loop$cont",
	}
	if err := l.LowerStmt(env, s); err != nil {
		t.Fatalf("LowerStmt(while): %v", err)
	}
	body := env.FC.PopScope()
	if len(body) != 1 {
		t.Fatalf("while: got %d top-level instrs, expected 1 (the outer block)", len(body))
	}
	block, ok := body[0].(*wasmir.Block)
	if !ok || block.Label != "loop$break" {
		t.Fatalf("while: got %#v, expected Block{Label: \"loop$break\"}", body[0])
	}
	if len(block.Body) != 1 {
		t.Fatalf("while: block body has %d instrs, expected 1 (the loop)", len(block.Body))
	}
	loop, ok := block.Body[0].(*wasmir.Loop)
	if !ok || loop.Label != "loop$cont" {
		t.Fatalf("while: block body[0] = %#v, expected Loop{Label: \"loop$cont\"}", block.Body[0])
	}
}

func TestSwitchWithFallthroughLowersToOneBreakBlock(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	l, env := newEnv(fn)
	env.FC.PushScope("top")

	yDecl := &sem.Decl{Name: "y", Type: sem.Number{}, Kind: sem.VarGlobal}
	s := &sem.Switch{
		Subject: numberLit(3),
		Cases: []sem.SwitchCase{
			{Value: numberLit(1), Body: []sem.Stmt{
				&sem.ExprStmt{X: &sem.Assign{Target: &sem.Ident{Name: "y", Decl: yDecl}, Value: numberLit(1)}},
				&sem.Break{Label: "switch$break"},
			}},
			{Value: numberLit(2), Body: nil}, // falls through to case 3's body
			{Value: numberLit(3), Body: []sem.Stmt{
				&sem.ExprStmt{X: &sem.Assign{Target: &sem.Ident{Name: "y", Decl: yDecl}, Value: numberLit(23)}},
				&sem.Break{Label: "switch$break"},
			}},
			{Value: nil, Body: []sem.Stmt{
				&sem.ExprStmt{X: &sem.Assign{Target: &sem.Ident{Name: "y", Decl: yDecl}, Value: numberLit(0)}},
			}},
		},
		BreakLabel: "switch$break",
	}
	if err := l.LowerStmt(env, s); err != nil {
		t.Fatalf("LowerStmt(switch): %v", err)
	}
	body := env.FC.PopScope()
	if len(body) != 1 {
		t.Fatalf("switch: got %d top-level instrs, expected 1 (the outer break block)", len(body))
	}
	if _, ok := body[0].(*wasmir.Block); !ok {
		t.Fatalf("switch: got %T, expected *wasmir.Block", body[0])
	}
}
