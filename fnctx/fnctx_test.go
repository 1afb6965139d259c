package fnctx

import (
	"testing"

	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

func TestAllocLocalContinuesAfterParams(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	c := New(fn, 3) // context + this + one declared param

	idx := c.AllocLocal(wasmir.Num(wasmir.F64))
	if idx != 3 {
		t.Errorf("first AllocLocal after 3 params: index %d, expected 3", idx)
	}
	if idx2 := c.AllocLocal(wasmir.Num(wasmir.I32)); idx2 != 4 {
		t.Errorf("second AllocLocal: index %d, expected 4", idx2)
	}
	if got := len(c.Locals()); got != 2 {
		t.Errorf("Locals(): %d entries, expected 2 (params are not locals)", got)
	}
}

func TestDeclareLocalResolvesToSameIndex(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	c := New(fn, 1)

	decl := &sem.Decl{Name: "x", Type: sem.Number{}, Kind: sem.VarLocal}
	idx := c.DeclareLocal(decl, wasmir.Num(wasmir.F64))
	got, ok := c.LocalIndex(decl)
	if !ok || got != idx {
		t.Errorf("LocalIndex after DeclareLocal: (%d, %v), expected (%d, true)", got, ok, idx)
	}
}

func TestBindParamDoesNotAllocate(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	c := New(fn, 2)

	decl := &sem.Decl{Name: "p", Type: sem.Number{}, Kind: sem.VarLocal}
	c.BindParam(decl, 1)
	if got, ok := c.LocalIndex(decl); !ok || got != 1 {
		t.Errorf("LocalIndex after BindParam: (%d, %v), expected (1, true)", got, ok)
	}
	if len(c.Locals()) != 0 {
		t.Errorf("BindParam allocated %d locals, expected 0", len(c.Locals()))
	}
	if idx := c.AllocLocal(wasmir.Num(wasmir.I32)); idx != 2 {
		t.Errorf("AllocLocal after BindParam: index %d, expected 2", idx)
	}
}

func TestScopesNestAndPopInOrder(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	c := New(fn, 0)

	c.PushScope("outer")
	c.Emit(&wasmir.I32Const{Value: 1})
	c.PushScope("inner")
	c.Emit(&wasmir.I32Const{Value: 2})
	if got := c.CurrentLabel(); got != "inner" {
		t.Errorf("CurrentLabel: %q, expected \"inner\"", got)
	}

	inner := c.PopScope()
	if len(inner) != 1 {
		t.Fatalf("inner scope: %d instrs, expected 1", len(inner))
	}
	if v, ok := inner[0].(*wasmir.I32Const); !ok || v.Value != 2 {
		t.Errorf("inner[0] = %#v, expected I32Const{2}", inner[0])
	}

	c.Emit(&wasmir.I32Const{Value: 3})
	outer := c.PopScope()
	if len(outer) != 2 {
		t.Fatalf("outer scope: %d instrs, expected 2", len(outer))
	}
}

func TestEmitWithNoScopePanics(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	c := New(fn, 0)
	defer func() {
		if recover() == nil {
			t.Error("Emit with no open scope: expected a panic")
		}
	}()
	c.Emit(&wasmir.I32Const{Value: 1})
}

func TestNewLabelIsFreshEachCall(t *testing.T) {
	fn := &sem.Function{Name: "f", Result: sem.Void{}}
	c := New(fn, 0)
	a := c.NewLabel("case")
	b := c.NewLabel("case")
	if a == b {
		t.Errorf("NewLabel returned %q twice", a)
	}
}
