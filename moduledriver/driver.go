// Package moduledriver implements the Module Driver: the
// outermost pass that turns one resolved compilation unit into a complete
// WebAssembly binary module, sequencing every other package's pass in the
// order its outputs depend on: types before vtables, vtables before
// instance construction, every function body lowered before the data
// segment (which function bodies still intern strings and itables into)
// is finalized.
//
// One long-lived Driver value owns every sub-pass's state, with a single
// public entry point that assembles a result from many internally
// sequenced steps: one file per concern, driven from one method.
package moduledriver

import (
	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/dataseg"
	"github.com/tswasm/lower/errs"
	"github.com/tswasm/lower/exprlower"
	"github.com/tswasm/lower/hostabi"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/stmtlower"
	"github.com/tswasm/lower/typelower"
)

// externrefTableName names the module's single typed-tables-proposal
// table, reserved for host-object extrefs boxed via dyntype_new_extref.
// The table is declared up front so the module exercises the
// typed-tables proposal surface the host ABI's NewExtref signature
// assumes, and so a later wiring of internToTable has a table to target.
const externrefTableName = "externrefs"

// Driver is one compilation: constructed fresh per *sem.Resolve, discarded
// once Compile returns.
type Driver struct {
	opts options

	resolve *sem.Resolve
	mod     *wasmir.Module
	arena   *dataseg.Arena
	types   *typelower.Lowerer
	cb      *closctx.Builder
	expr    *exprlower.Lowerer
	stmt    *stmtlower.Lowerer

	rootCtx *closctx.Context

	// fnCtx maps every function this driver lowers to the Context its own
	// body lowers against, so a nested closure discovered inside it can
	// find its enclosing Context once that function is done.
	fnCtx map[*sem.Function]*closctx.Context
}

// New returns a Driver for resolve, configured by opts.
func New(resolve *sem.Resolve, opts ...Option) *Driver {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Driver{
		opts:    o,
		resolve: resolve,
		fnCtx:   make(map[*sem.Function]*closctx.Context),
	}
}

// Compile lowers d's resolved tree into a complete WebAssembly binary
// module. Any *errs.InvariantViolation raised deep in a sub-pass is
// recovered here and returned as err, the single Panic/Recover boundary
// package errs documents.
func (d *Driver) Compile() (wasm []byte, err error) {
	defer errs.Recover(&err)

	if d.opts.hostABIVersion != "" {
		if err := hostabi.Check(d.opts.hostABIVersion); err != nil {
			return nil, &errs.ValidationFailure{Detail: err.Error()}
		}
	}

	d.mod = wasmir.NewModule(d.resolve.ModuleName)
	d.arena = dataseg.New()
	d.types = typelower.New(d.mod, d.arena)
	d.cb = closctx.New(d.types)
	d.expr = exprlower.New(d.types, d.arena, d.cb)
	d.expr.MangledFunc = func(f *sem.Function) string {
		if f.Declare {
			return f.ImportName
		}
		return f.Name
	}
	d.stmt = stmtlower.New(d.expr)
	d.rootCtx = &closctx.Context{}

	d.indexDeclarations()

	hostabi.RegisterImports(d.mod, d.opts.hostModule)
	d.mod.AddGlobal(hostabi.ContextGlobal())
	d.mod.Tables = append(d.mod.Tables, wasmir.Table{
		Name: externrefTableName,
		Elem: wasmir.RefType{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}, Nullable: true},
	})

	if err := d.emitDeclaredFunctions(); err != nil {
		return nil, err
	}
	for _, c := range d.resolve.Classes.All() {
		d.emitClassVTable(c)
	}
	if err := d.emitStaticFields(); err != nil {
		return nil, err
	}
	if err := d.emitGlobalDecls(); err != nil {
		return nil, err
	}
	if err := d.emitFunctions(); err != nil {
		return nil, err
	}
	if err := d.emitGlobalInit(); err != nil {
		return nil, err
	}
	if !d.opts.suppressGlobalDestroy {
		d.emitGlobalDestroy()
	}
	d.emitExports()
	if d.resolve.EntryModule {
		d.mod.Start = d.emitStart()
	} else {
		d.mod.Start = stmtlower.ImportedInitFuncName(d.resolve.ModuleName)
	}

	d.mod.SetData(d.arena.Bytes())

	if d.opts.proposalSet != "" {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}

	return d.mod.Encode(), nil
}

// indexDeclarations populates the Expression Lowerer's name indices from
// d.resolve, so call/new/static-member lowering can resolve a sibling
// declaration by name without threading *sem.Resolve through every call.
func (d *Driver) indexDeclarations() {
	d.expr.Classes = make(map[string]*sem.Class)
	for name, c := range d.resolve.Classes.All() {
		d.expr.Classes[name] = c
	}
	d.expr.Interfaces = make(map[string]*sem.Interface)
	for name, i := range d.resolve.Interfaces.All() {
		d.expr.Interfaces[name] = i
	}
	d.expr.Functions = make(map[string]*sem.Function)
	for name, f := range d.resolve.Functions.All() {
		d.expr.Functions[name] = f
	}
}

// emitClassVTable writes c's shared vtable-instance global.
func (d *Driver) emitClassVTable(c *sem.Class) {
	g := d.types.ClassVTableValue(c, func(m *sem.Function) string {
		return d.expr.MangledMethod(c, m)
	})
	d.mod.AddGlobal(g)
	d.opts.logger.Debug("vtable synthesized", "class", c.Name)
}

// emitDeclaredFunctions registers every ambient `declare function` as a
// host import, under opts.declaredImportModule rather than the dyntype
// host ABI's own module, so an embedder can wire the two namespaces
// separately. Their WebAssembly import name doubles as the name call
// sites use (the same convention package hostabi's own imports follow),
// which is why d.expr.MangledFunc above routes Declare functions through
// f.ImportName instead of f.Name.
func (d *Driver) emitDeclaredFunctions() error {
	for _, f := range d.resolve.Functions.All() {
		if !f.Declare {
			continue
		}
		params := d.types.FunctionParamTypes(f)
		d.mod.AddImport(d.opts.declaredImportModule, f.ImportName, wasmir.FuncType{
			Params:  params,
			Results: resultTypes(d.types, f.Result),
		})
	}
	return nil
}

// resultTypes returns t's WebAssembly result list: empty for void, a
// single value otherwise (this backend has no multi-value returns).
func resultTypes(types *typelower.Lowerer, t sem.Type) []wasmir.ValType {
	if _, isVoid := t.(sem.Void); isVoid {
		return nil
	}
	return []wasmir.ValType{types.ValueType(t)}
}

func anyCtxNull() wasmir.Instr {
	return &wasmir.RefNull{Heap: wasmir.HeapType{Abstract: wasmir.HeapAny}}
}

func logUnsupported(logger interface {
	Warn(string, ...any)
}, where string, err error) {
	var u *errs.UnsupportedError
	if asUnsupported(err, &u) {
		logger.Warn("lowering hit an unsupported feature", "where", where, "feature", u.Feature)
	}
}

func asUnsupported(err error, target **errs.UnsupportedError) bool {
	for err != nil {
		if u, ok := err.(*errs.UnsupportedError); ok {
			*target = u
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
