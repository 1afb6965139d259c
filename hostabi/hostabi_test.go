package hostabi

import (
	"testing"

	"github.com/tswasm/lower/internal/wasmir"
)

func TestCheckVersionGate(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"1.0.0", false},
		{"1.4.2", false},
		{"2.0.0", false}, // newer major still satisfies the floor
		{"0.9.0", true},
		{"not-a-version", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := Check(tt.version)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check(%q) = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
}

func TestRegisterImportsCoversEverySignature(t *testing.T) {
	mod := wasmir.NewModule("test")
	RegisterImports(mod, DefaultModule)

	sigs := signatures()
	if len(mod.Imports) != len(sigs) {
		t.Fatalf("RegisterImports added %d imports, expected %d", len(mod.Imports), len(sigs))
	}
	byName := make(map[string]wasmir.Import, len(mod.Imports))
	for _, imp := range mod.Imports {
		if imp.Module != DefaultModule {
			t.Errorf("import %q registered under module %q, expected %q", imp.Name, imp.Module, DefaultModule)
		}
		byName[imp.Name] = imp
	}

	for _, name := range []Func{ContextInit, NewNumber, IsExtref, ToNumber, TypeEq, GetProperty, Invoke, StructGetDynFuncref, FindIndex} {
		if _, ok := byName[string(name)]; !ok {
			t.Errorf("import %q missing from the registered set", name)
		}
	}

	fi := byName[string(FindIndex)]
	if len(fi.Type.Params) != 3 || len(fi.Type.Results) != 1 {
		t.Errorf("find_index signature: %d params, %d results; expected 3 and 1", len(fi.Type.Params), len(fi.Type.Results))
	}
}

func TestRegisterImportsHonorsModuleOverride(t *testing.T) {
	mod := wasmir.NewModule("test")
	RegisterImports(mod, "custom_host")
	if len(mod.Imports) == 0 || mod.Imports[0].Module != "custom_host" {
		t.Errorf("import module = %q, expected \"custom_host\"", mod.Imports[0].Module)
	}
}

func TestCallSuppliesContextHandle(t *testing.T) {
	arg := &wasmir.F64Const{Value: 3}
	instr := Call(NewNumber, arg)
	call, ok := instr.(*wasmir.Call)
	if !ok {
		t.Fatalf("Call returned %T, expected *wasmir.Call", instr)
	}
	if call.Name != string(NewNumber) {
		t.Errorf("call name %q, expected %q", call.Name, NewNumber)
	}
	if len(call.Args) != 2 {
		t.Fatalf("call has %d args, expected 2 (context + operand)", len(call.Args))
	}
	ctx, ok := call.Args[0].(*wasmir.GlobalGet)
	if !ok || ctx.Name != ContextGlobalName {
		t.Errorf("args[0] = %#v, expected a read of the context global", call.Args[0])
	}
	if call.Args[1] != wasmir.Instr(arg) {
		t.Errorf("args[1] = %#v, expected the operand", call.Args[1])
	}
}

// dyntype_context_init and the reflection helpers take no context.
func TestCallSkipsContextForContextFreeFuncs(t *testing.T) {
	tests := []struct {
		fn   Func
		args []wasmir.Instr
	}{
		{ContextInit, nil},
		{FindIndex, []wasmir.Instr{&wasmir.I32Const{Value: 1}, &wasmir.I32Const{Value: 2}, &wasmir.I32Const{Value: 0}}},
		{StructGetDynF64, []wasmir.Instr{&wasmir.I32Const{Value: 1}, &wasmir.I32Const{Value: 2}}},
		{StructSetDynI32, []wasmir.Instr{&wasmir.I32Const{Value: 1}, &wasmir.I32Const{Value: 2}, &wasmir.I32Const{Value: 3}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.fn), func(t *testing.T) {
			call := Call(tt.fn, tt.args...).(*wasmir.Call)
			if len(call.Args) != len(tt.args) {
				t.Fatalf("%s got %d args, expected %d (no context prepended)", tt.fn, len(call.Args), len(tt.args))
			}
			for _, a := range call.Args {
				if g, ok := a.(*wasmir.GlobalGet); ok && g.Name == ContextGlobalName {
					t.Errorf("%s received the context global, expected it omitted", tt.fn)
				}
			}
		})
	}
}

func TestContextGlobalShape(t *testing.T) {
	g := ContextGlobal()
	if g.Name != ContextGlobalName {
		t.Errorf("context global named %q, expected %q", g.Name, ContextGlobalName)
	}
	if !g.Mutable {
		t.Error("context global is immutable; global_init must be able to store into it")
	}
	if _, ok := g.Init.(*wasmir.RefNull); !ok {
		t.Errorf("context global init = %T, expected null until context_init runs", g.Init)
	}
}
