package moduledriver

import (
	"fmt"

	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/exprlower"
	"github.com/tswasm/lower/fnctx"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// funcSite pairs a function with its owning class (nil for freestanding
// functions and for closures, whose "owner" for mangling purposes is
// irrelevant; a closure is never called by mangled method name).
type funcSite struct {
	fn    *sem.Function
	owner *sem.Class
}

// emitFunctions lowers every top-level function, class method,
// constructor, and static method, plus every closure transitively nested
// inside one, in outer-before-inner order: a nested closure's enclosing
// Context must already be materialized (via cb.Enter, memoized per scope)
// before the closure itself can be entered.
func (d *Driver) emitFunctions() error {
	var top []funcSite
	for _, f := range d.resolve.Functions.All() {
		if f.Declare || !f.IsFreestanding() {
			continue
		}
		top = append(top, funcSite{fn: f})
	}
	for _, c := range d.resolve.Classes.All() {
		if c.Constructor != nil {
			top = append(top, funcSite{fn: c.Constructor, owner: c})
		}
		for _, m := range c.Methods {
			top = append(top, funcSite{fn: m, owner: c})
		}
		for _, m := range c.StaticMeths {
			top = append(top, funcSite{fn: m, owner: c})
		}
	}

	for _, site := range top {
		if err := d.emitFunctionTree(site.fn, site.owner); err != nil {
			return fmt.Errorf("moduledriver: lowering %s: %w", site.fn.Name, err)
		}
	}
	return nil
}

// emitFunctionTree lowers fn, then every FunctionExpr literal reachable
// from its body (each of which gets its own *sem.Function with no class
// owner), recursively.
func (d *Driver) emitFunctionTree(fn *sem.Function, owner *sem.Class) error {
	if err := d.emitOneFunction(fn, owner); err != nil {
		logUnsupported(d.opts.logger, fn.Name, err)
		return err
	}
	var nested []*sem.Function
	collectNested(fn, &nested)
	for _, n := range nested {
		if err := d.emitFunctionTree(n, nil); err != nil {
			return err
		}
	}
	return nil
}

// mangledName names fn's WebAssembly function per the same scheme the
// Expression Lowerer uses to build call targets, so every call site
// agrees with every definition site.
func (d *Driver) mangledName(fn *sem.Function, owner *sem.Class) string {
	if owner != nil {
		return d.expr.MangledMethod(owner, fn)
	}
	return d.expr.MangledFunc(fn)
}

func isMethodLike(kind sem.FunctionKind) bool {
	switch kind {
	case sem.FuncMethod, sem.FuncGetter, sem.FuncSetter, sem.FuncConstructor:
		return true
	}
	return false
}

// enclosingContext finds the Context of the nearest function enclosing
// fn, walking fn.Scope's ancestor chain for the first scope belonging to
// a different function. d.fnCtx holds every already-processed function's
// Context, populated in the outer-before-inner order emitFunctions walks
// in.
func (d *Driver) enclosingContext(fn *sem.Function) *closctx.Context {
	for s := fn.Scope.Parent; s != nil; s = s.Parent {
		if s.Func != nil && s.Func != fn {
			if ctx, ok := d.fnCtx[s.Func]; ok {
				return ctx
			}
			return d.rootCtx
		}
	}
	return d.rootCtx
}

// startsWithSuperCall reports whether body's first statement is a bare
// `super(...)` call, the form an explicit super call always takes.
func startsWithSuperCall(body []sem.Stmt) bool {
	if len(body) == 0 {
		return false
	}
	es, ok := body[0].(*sem.ExprStmt)
	if !ok {
		return false
	}
	_, ok = es.X.(*sem.Super)
	return ok
}

// emitOneFunction lowers fn's own body (not its nested closures) to a
// *wasmir.Func and registers it on the module.
func (d *Driver) emitOneFunction(fn *sem.Function, owner *sem.Class) error {
	params := d.types.FunctionParamTypes(fn)
	results := resultTypes(d.types, fn.Result)
	typeIdx := d.types.RegisterFuncType(params, results)

	fc := fnctx.New(fn, uint32(len(params)))
	fc.ReturnType = d.types.ValueType(fn.Result)

	idx := uint32(0) // index 0 is always the context parameter
	idx++
	var thisRef wasmir.Instr
	if isMethodLike(fn.Kind) {
		fc.ThisLocal = int32(idx)
		thisRef = &wasmir.LocalGet{Index: idx}
		idx++
	}

	// Parameter Decls occupy the front of fn.Scope.Decls, in the same
	// order as fn.Params: the front end declares them before any body
	// local, so the first len(fn.Params) entries line up positionally.
	paramDecls := fn.Scope.Decls
	if len(paramDecls) > len(fn.Params) {
		paramDecls = paramDecls[:len(fn.Params)]
	}
	for _, decl := range paramDecls {
		fc.BindParam(decl, idx)
		idx++
	}

	if _, isVoid := fn.Result.(sem.Void); !isVoid && fn.Kind != sem.FuncConstructor {
		fc.ReturnSlot = int32(fc.AllocLocal(fc.ReturnType))
	}

	parentCtx := d.enclosingContext(fn)
	ctx := d.cb.Enter(fn.Scope, parentCtx)
	d.fnCtx[fn] = ctx

	contextParam := wasmir.Instr(&wasmir.LocalGet{Index: 0})
	ctxRef := contextParam
	var prologue []wasmir.Instr
	if ctx.Fresh {
		localRead := func(decl *sem.Decl) wasmir.Instr {
			if lidx, ok := fc.LocalIndex(decl); ok {
				return &wasmir.LocalGet{Index: lidx}
			}
			// A captured decl not yet bound to a local is a body-local
			// declared later in fn; its context field starts at its
			// type's zero value and is overwritten in place once its
			// own VarDecl is lowered (DeclareLocal routes VarCaptured
			// writes straight to the context field).
			return d.expr.ZeroValue(d.types.ValueType(decl.Type))
		}
		allocInstr := d.cb.Alloc(ctx, contextParam, localRead)
		ctxLocal := fc.AllocLocal(wasmir.Ref(wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true}))
		prologue = append(prologue, &wasmir.LocalSet{Index: ctxLocal, Value: allocInstr})
		ctxRef = &wasmir.LocalGet{Index: ctxLocal}
	}

	env := &exprlower.Env{FC: fc, Ctx: ctx, CtxRef: ctxRef, Scope: fn.Scope, ThisRef: thisRef}

	if fn.Kind == sem.FuncConstructor && owner != nil && owner.Base != nil &&
		owner.Base.Constructor != nil && !startsWithSuperCall(fn.Body) {
		call, _, err := d.expr.ByValue(env, &sem.Super{})
		if err != nil {
			return err
		}
		prologue = append(prologue, call)
	}

	blockBody, err := d.stmt.LowerFunctionBody(env, fn.Body)
	if err != nil {
		return err
	}
	body := append(prologue, &wasmir.Block{Label: fc.StatementsLabel, Body: blockBody})
	if fc.ReturnSlot >= 0 {
		body = append(body, &wasmir.LocalGet{Index: uint32(fc.ReturnSlot)})
	}

	d.mod.AddFunc(&wasmir.Func{
		Name:      d.mangledName(fn, owner),
		TypeIndex: typeIdx,
		Locals:    fc.Locals(),
		Body:      body,
	})
	d.opts.logger.Debug("function lowered", "name", d.mangledName(fn, owner))
	return nil
}
