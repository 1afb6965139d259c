package moduledriver

import (
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
	"github.com/tswasm/lower/stmtlower"
)

// emitExports installs one thin forwarding wrapper per exported
// freestanding function. The real function's own signature always leads
// with an internal context parameter (see typelower.FunctionParamTypes);
// an external embedder has no such value to supply, so the wrapper hides
// it, passing a null context in on the callee's behalf and forwarding
// every declared parameter unchanged. The wrapper calls this module's
// global_init first, so an embedder invoking an export directly (without
// instantiating through start) still observes initialized globals;
// global_init running twice is harmless since it only re-stores the same
// initializer values. Default/rest-argument shaping at
// this host boundary is not performed: a caller
// from outside the module is expected to supply every declared parameter
// explicitly.
func (d *Driver) emitExports() {
	for _, f := range d.resolve.Functions.All() {
		if !f.Exported || !f.IsFreestanding() || f.Declare {
			continue
		}
		d.emitExportWrapper(f)
	}
}

func (d *Driver) emitExportWrapper(f *sem.Function) {
	wrapperName := f.Name + "$export"

	params := make([]wasmir.ValType, len(f.Params))
	for i, p := range f.Params {
		params[i] = d.types.ValueType(p.Type)
	}
	results := resultTypes(d.types, f.Result)
	typeIdx := d.types.RegisterFuncType(params, results)

	args := make([]wasmir.Instr, 0, len(f.Params)+1)
	args = append(args, anyCtxNull())
	for i := range f.Params {
		args = append(args, &wasmir.LocalGet{Index: uint32(i)})
	}
	initCall := wasmir.Instr(&wasmir.Call{Name: stmtlower.ImportedInitFuncName(d.resolve.ModuleName)})
	call := wasmir.Instr(&wasmir.Call{Name: d.mangledName(f, nil), Args: args})

	d.mod.AddFunc(&wasmir.Func{
		Name:      wrapperName,
		TypeIndex: typeIdx,
		Body:      []wasmir.Instr{initCall, call},
	})
	d.mod.AddExport(f.Name, wrapperName)
}
