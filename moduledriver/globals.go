package moduledriver

import (
	"github.com/tswasm/lower/exprlower"
	"github.com/tswasm/lower/fnctx"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/stmtlower"
)

// emitStaticFields declares one zero-initialized global per class static
// field, named via exprlower.StaticFieldGlobalName so staticMember's
// reads and writes resolve to the exact same global. Unlike a
// module-level [sem.Global], a static [sem.Field] carries no initializer
// expression in the semantic tree, so no global_init wiring is needed for
// these; a class with a static initializer expression would express it as
// an assignment statement in the module's top level instead, which
// lowers through the ordinary global_init path below.
func (d *Driver) emitStaticFields() error {
	for _, c := range d.resolve.Classes.All() {
		for _, f := range c.StaticField {
			vt := d.types.ValueType(f.Type)
			d.mod.AddGlobal(&wasmir.Global{
				Name:    exprlower.StaticFieldGlobalName(c, f.Name),
				Type:    vt,
				Mutable: !f.ReadOnly,
				Init:    d.expr.ZeroValue(vt),
			})
		}
	}
	return nil
}

// emitGlobalDecls declares every module-level global. A global with an
// initializer (constant or not) is still declared zero/null at this point and
// mutable regardless of its source-level Mutable flag, since its real value is
// assigned once, in global_init, by emitGlobalInit below, the same
// two-phase "declare, then initialize in a function" shape every GC
// module needs whenever an initializer is not itself a constant
// expression.
func (d *Driver) emitGlobalDecls() error {
	for _, g := range d.resolve.Globals.All() {
		vt := d.types.ValueType(g.Type)
		d.mod.AddGlobal(&wasmir.Global{
			Name:    g.Name,
			Type:    vt,
			Mutable: g.Mutable || g.Init != nil,
			Init:    d.expr.ZeroValue(vt),
		})
	}
	return nil
}

// contextInitGuard creates the shared dynamic-value context on first
// entry: later global_init invocations (export wrappers, importing
// modules re-running the chain) see a non-null handle and skip the host
// call, so dyntype_context_init runs once per instantiation.
func contextInitGuard() wasmir.Instr {
	return &wasmir.If{
		Cond: &wasmir.RefIsNull{Operand: hostabi.ContextRef()},
		Then: []wasmir.Instr{
			&wasmir.GlobalSet{Name: hostabi.ContextGlobalName, Value: hostabi.Call(hostabi.ContextInit)},
		},
	}
}

// emitGlobalInit synthesizes "<module>$global_init": it creates the
// shared dynamic-value context if this is the first init to run, then
// calls every imported module's own global_init in import order, then
// evaluates and stores each of this module's own global initializers in
// declaration order.
func (d *Driver) emitGlobalInit() error {
	name := stmtlower.ImportedInitFuncName(d.resolve.ModuleName)
	typeIdx := d.types.RegisterFuncType(nil, nil)

	placeholder := &sem.Function{Name: name, RestParam: -1, Result: sem.Void{}}
	fc := fnctx.New(placeholder, 0)
	env := &exprlower.Env{FC: fc, Ctx: d.rootCtx, CtxRef: anyCtxNull(), Scope: nil}

	body := []wasmir.Instr{contextInitGuard()}
	for _, imported := range d.resolve.Imports {
		body = append(body, &wasmir.Call{Name: stmtlower.ImportedInitFuncName(imported)})
	}
	for _, g := range d.resolve.Globals.All() {
		if g.Init == nil {
			continue
		}
		v, t, err := d.expr.ByValue(env, g.Init)
		if err != nil {
			return err
		}
		v = d.expr.CoerceTo(v, t, g.Type)
		body = append(body, &wasmir.GlobalSet{Name: g.Name, Value: v})
	}

	d.mod.AddFunc(&wasmir.Func{
		Name:      name,
		TypeIndex: typeIdx,
		Locals:    fc.Locals(),
		Body:      body,
	})
	return nil
}

func globalDestroyFuncName(moduleName string) string {
	return moduleName + "$global_destroy"
}

// emitGlobalDestroy installs an empty, exported teardown stub other
// modules' own destroy sequencing can call into, symmetric with
// global_init's cross-module call ordering. This backend has no
// finalizable resources of its own (no open host handles survive past a
// call), so the stub's body is empty; it exists purely so a linked
// module graph has a stable per-module teardown hook to call regardless
// of what any individual module needs it for.
func (d *Driver) emitGlobalDestroy() {
	name := globalDestroyFuncName(d.resolve.ModuleName)
	typeIdx := d.types.RegisterFuncType(nil, nil)
	d.mod.AddFunc(&wasmir.Func{Name: name, TypeIndex: typeIdx})
	d.mod.AddExport(name, name)
}

func startFuncName(moduleName string) string {
	return moduleName + "$start"
}

// emitStart synthesizes the entry module's start function: global_init,
// then global_destroy unless suppressed. Non-entry modules have no start
// of their own; their global_init runs when the entry module's init
// chain reaches them.
func (d *Driver) emitStart() string {
	name := startFuncName(d.resolve.ModuleName)
	typeIdx := d.types.RegisterFuncType(nil, nil)
	body := []wasmir.Instr{
		&wasmir.Call{Name: stmtlower.ImportedInitFuncName(d.resolve.ModuleName)},
	}
	if !d.opts.suppressGlobalDestroy {
		body = append(body, &wasmir.Call{Name: globalDestroyFuncName(d.resolve.ModuleName)})
	}
	d.mod.AddFunc(&wasmir.Func{Name: name, TypeIndex: typeIdx, Body: body})
	return name
}
