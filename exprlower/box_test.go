package exprlower

import (
	"testing"

	"github.com/tswasm/lower/access"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

func TestBoxAnyPrimitives(t *testing.T) {
	l, _ := newTestEnv()
	numVal := &wasmir.F64Const{Value: 3}
	boolVal := &wasmir.I32Const{Value: 1}
	strVal := l.stringLiteral(strLit("s"))
	tests := []struct {
		name     string
		value    wasmir.Instr
		typ      sem.Type
		hostFunc string
	}{
		{"number", numVal, sem.Number{}, "dyntype_new_number"},
		{"boolean", boolVal, sem.Boolean{}, "dyntype_new_boolean"},
		{"string", strVal, sem.StringT{}, "dyntype_new_string"},
		{"null", nil, sem.Null{}, "dyntype_new_null"},
		{"undefined", nil, sem.Undefined{}, "dyntype_new_undefined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxed, err := l.boxAny(tt.value, tt.typ)
			if err != nil {
				t.Fatalf("boxAny(%s): %v", tt.name, err)
			}
			call, ok := boxed.(*wasmir.Call)
			if !ok || call.Name != tt.hostFunc {
				t.Errorf("boxAny(%s) = %#v, expected a %s call", tt.name, boxed, tt.hostFunc)
			}
		})
	}
}

func TestBoxAnyStringPassesRealOffset(t *testing.T) {
	l, _ := newTestEnv()
	strVal := l.stringLiteral(strLit("abc"))
	boxed, err := l.boxAny(strVal, sem.StringT{})
	if err != nil {
		t.Fatalf("boxAny(string): %v", err)
	}
	call := boxed.(*wasmir.Call)
	if len(call.Args) != 3 {
		t.Fatalf("dyntype_new_string got %d args, expected (ctx, offset, length)", len(call.Args))
	}
	// The offset comes off the string struct's own field 0, not a
	// fabricated constant, so distinct strings box to distinct offsets.
	off, ok := call.Args[1].(*wasmir.StructGet)
	if !ok || off.FieldIndex != 0 {
		t.Errorf("boxed string offset = %#v, expected the struct's stored field 0", call.Args[1])
	}
	if _, ok := call.Args[2].(*wasmir.ArrayLen); !ok {
		t.Errorf("boxed string length = %#v, expected the codepoint array length", call.Args[2])
	}
}

func TestBoxAnyReferencesTagObjectKind(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	cls := &sem.Class{Name: "C", ID: 1}
	fn := freestanding("g", nil, sem.Number{})
	l.Classes["C"] = cls
	tests := []struct {
		name string
		typ  sem.Type
		kind int32
	}{
		{"class", cls, 0},     // ExtObj
		{"array", &sem.ArrayType{Elem: sem.Number{}}, 1}, // ExtArray
		{"interface", iface, 2},                          // ExtInfc
		{"function", fn, 3},                              // ExtFunc
	}
	ref := l.Load(mustDescriptor(t, l, env, localIdent(l, env, "v", cls)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boxed, err := l.boxAny(ref, tt.typ)
			if err != nil {
				t.Fatalf("boxAny(%s): %v", tt.name, err)
			}
			call, ok := boxed.(*wasmir.Call)
			if !ok || call.Name != "dyntype_new_extref" {
				t.Fatalf("boxAny(%s) = %#v, expected a dyntype_new_extref call", tt.name, boxed)
			}
			if len(call.Args) != 3 {
				t.Fatalf("boxAny(%s) got %d args, expected (ctx, kind, index)", tt.name, len(call.Args))
			}
			kind, ok := call.Args[1].(*wasmir.I32Const)
			if !ok || kind.Value != tt.kind {
				t.Errorf("boxAny(%s) kind tag = %#v, expected %d", tt.name, call.Args[1], tt.kind)
			}
			// The table registration doubles as the index operand.
			if _, ok := call.Args[2].(*wasmir.TableGrow); !ok {
				t.Errorf("boxAny(%s) index = %T, expected the externrefs table.grow", tt.name, call.Args[2])
			}
		})
	}
}

func mustDescriptor(t *testing.T, l *Lowerer, env *Env, id *sem.Ident) access.Descriptor {
	t.Helper()
	desc, _, _, err := l.identDescriptor(env, id)
	if err != nil {
		t.Fatalf("identDescriptor: %v", err)
	}
	return desc
}

func TestUnboxAnyPerTarget(t *testing.T) {
	l, env := newTestEnv()
	anyVal := l.Load(mustDescriptor(t, l, env, localIdent(l, env, "a", sem.Any{})))
	tests := []struct {
		name     string
		target   sem.Type
		hostFunc string
	}{
		{"number", sem.Number{}, "dyntype_to_number"},
		{"boolean", sem.Boolean{}, "dyntype_to_bool"},
		{"string", sem.StringT{}, "dyntype_to_string"},
		{"class", &sem.Class{Name: "C", ID: 1}, "dyntype_to_extref"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unboxed, err := l.unboxAny(anyVal, tt.target)
			if err != nil {
				t.Fatalf("unboxAny(%s): %v", tt.name, err)
			}
			call, ok := unboxed.(*wasmir.Call)
			if !ok || call.Name != tt.hostFunc {
				t.Errorf("unboxAny(%s) = %#v, expected a %s call", tt.name, unboxed, tt.hostFunc)
			}
		})
	}
}

// An explicit `a as number` wraps the conversion in a probe: the taken
// branch converts, the other traps.
func TestCastAnyToNumberGuardsWithProbe(t *testing.T) {
	l, env := newTestEnv()
	a := localIdent(l, env, "a", sem.Any{})
	cast := &sem.Cast{Operand: a, Target: sem.Number{}}
	cast.T = sem.Number{}

	instr, typ, err := l.cast(env, cast)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	ifInstr, ok := instr.(*wasmir.If)
	if !ok {
		t.Fatalf("cast = %T, expected the guarded If", instr)
	}
	probe, ok := ifInstr.Cond.(*wasmir.Call)
	if !ok || probe.Name != "dyntype_is_number" {
		t.Errorf("cast probe = %#v, expected dyntype_is_number", ifInstr.Cond)
	}
	if conv, ok := ifInstr.Then[0].(*wasmir.Call); !ok || conv.Name != "dyntype_to_number" {
		t.Errorf("cast conversion = %#v, expected dyntype_to_number", ifInstr.Then[0])
	}
	if _, ok := ifInstr.Else[0].(*wasmir.Unreachable); !ok {
		t.Errorf("cast failure arm = %T, expected unreachable", ifInstr.Else[0])
	}
	if _, ok := typ.(sem.Number); !ok {
		t.Errorf("cast type = %v, expected number", typ)
	}
}

func TestCastNumberToAnyBoxes(t *testing.T) {
	l, env := newTestEnv()
	cast := &sem.Cast{Operand: numLit(3), Target: sem.Any{}}
	cast.T = sem.Any{}
	instr, _, err := l.cast(env, cast)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if call, ok := instr.(*wasmir.Call); !ok || call.Name != "dyntype_new_number" {
		t.Errorf("number as any = %#v, expected a boxing call", instr)
	}
}

func TestBoxInterfaceSynthesizesView(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	cls := &sem.Class{Name: "A", ID: 7, Fields: []sem.Field{{Name: "x", Type: sem.Number{}}}, Interfaces: []*sem.Interface{iface}}
	l.Classes["A"] = cls
	obj := l.Load(mustDescriptor(t, l, env, localIdent(l, env, "a", cls)))

	view := l.boxInterface(cls, iface, obj)
	sn, ok := view.(*wasmir.StructNew)
	if !ok || len(sn.Fields) != 3 {
		t.Fatalf("interface view = %#v, expected the 3-field struct", view)
	}
	if sn.TypeIndex != l.Types.InterfaceViewType() {
		t.Errorf("view type = %d, expected the shared interface-view type %d", sn.TypeIndex, l.Types.InterfaceViewType())
	}
	if _, ok := sn.Fields[0].(*wasmir.I32Const); !ok {
		t.Errorf("view field 0 = %T, expected the itable offset constant", sn.Fields[0])
	}
	id, ok := sn.Fields[1].(*wasmir.I32Const)
	if !ok || id.Value != 7 {
		t.Errorf("view field 1 = %#v, expected A's type id 7", sn.Fields[1])
	}
	if sn.Fields[2] != obj {
		t.Error("view field 2 is not the boxed object itself")
	}
}

func TestBoxInterfaceItableOffsetIsStable(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	cls := &sem.Class{Name: "A", ID: 7, Interfaces: []*sem.Interface{iface}}
	l.Classes["A"] = cls
	obj := l.Load(mustDescriptor(t, l, env, localIdent(l, env, "a", cls)))

	v1 := l.boxInterface(cls, iface, obj).(*wasmir.StructNew).Fields[0].(*wasmir.I32Const)
	v2 := l.boxInterface(cls, iface, obj).(*wasmir.StructNew).Fields[0].(*wasmir.I32Const)
	if v1.Value != v2.Value {
		t.Errorf("two boxes of the same class wrote itables at %d and %d, expected one shared offset", v1.Value, v2.Value)
	}
}

func TestUnboxInterfaceAssertsTypeID(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	cls := &sem.Class{Name: "A", ID: 7, Interfaces: []*sem.Interface{iface}}
	l.Classes["A"] = cls
	view := l.Load(mustDescriptor(t, l, env, localIdent(l, env, "i", iface)))

	instr := l.unboxInterface(iface, cls, view)
	ifInstr, ok := instr.(*wasmir.If)
	if !ok {
		t.Fatalf("unboxInterface = %T, expected the type-id guard", instr)
	}
	match, ok := ifInstr.Cond.(*wasmir.Numeric)
	if !ok || match.Op != wasmir.OpEq {
		t.Fatalf("guard condition = %#v, expected a type-id equality test", ifInstr.Cond)
	}
	if want, ok := match.Rhs.(*wasmir.I32Const); !ok || want.Value != 7 {
		t.Errorf("expected type id = %#v, expected A's id 7", match.Rhs)
	}
	if cast, ok := ifInstr.Then[0].(*wasmir.RefCast); !ok || cast.Target.Heap.Index != l.Types.ClassStructType(cls) {
		t.Errorf("match arm = %#v, expected a cast to A's instance struct", ifInstr.Then[0])
	}
	if _, ok := ifInstr.Else[0].(*wasmir.Unreachable); !ok {
		t.Errorf("mismatch arm = %T, expected unreachable", ifInstr.Else[0])
	}
}

func TestCastClassToInterfaceBoxesView(t *testing.T) {
	l, env := newTestEnv()
	iface := newInterface("I", 3)
	cls := &sem.Class{Name: "A", ID: 7, Interfaces: []*sem.Interface{iface}}
	l.Classes["A"] = cls
	l.Interfaces["I"] = iface
	a := localIdent(l, env, "a", cls)

	cast := &sem.Cast{Operand: a, Target: iface}
	cast.T = iface
	instr, typ, err := l.cast(env, cast)
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if _, ok := instr.(*wasmir.StructNew); !ok {
		t.Errorf("class as interface = %T, expected a fresh view struct", instr)
	}
	if typ != sem.Type(iface) {
		t.Errorf("cast type = %v, expected the interface", typ)
	}
}
