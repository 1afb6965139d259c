package exprlower

import (
	"github.com/tswasm/lower/closctx"
	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// CoerceTo is the exported form of coerceArg, for callers outside this
// package (package stmtlower, package moduledriver) applying the same
// any<->static boxing rules to a variable initializer or return value
// rather than a call argument.
func (l *Lowerer) CoerceTo(v wasmir.Instr, from, to sem.Type) wasmir.Instr {
	return l.coerceArg(v, from, to)
}

// BoxAny is the exported form of boxAny.
func (l *Lowerer) BoxAny(v wasmir.Instr, t sem.Type) (wasmir.Instr, error) {
	return l.boxAny(v, t)
}

// UnboxAny is the exported form of unboxAny.
func (l *Lowerer) UnboxAny(v wasmir.Instr, t sem.Type) (wasmir.Instr, error) {
	return l.unboxAny(v, t)
}

// ZeroValue is the exported form of zeroValue, for moduledriver's default
// global and static-field initializers.
func (l *Lowerer) ZeroValue(vt wasmir.ValType) wasmir.Instr {
	return l.zeroValue(vt)
}

// StaticFieldGlobalName is the exported form of staticFieldGlobalName, for
// moduledriver: it must declare the backing global under exactly this name
// since staticMember's reads and writes key off it.
func StaticFieldGlobalName(c *sem.Class, field string) string {
	return staticFieldGlobalName(c, field)
}

// DeclareLocal lowers a VarDecl's storage discipline for decl, given its
// already-lowered init value: a fresh local for VarLocal, a write into
// the enclosing closure context for VarCaptured, the same storage
// discipline identDescriptor dispatches on for reads of the same
// declaration.
func (l *Lowerer) DeclareLocal(env *Env, decl *sem.Decl, init wasmir.Instr) wasmir.Instr {
	if decl.Kind == sem.VarCaptured {
		return closctx.FieldWrite(env.Ctx, env.Ctx, env.CtxRef, decl, init)
	}
	idx := env.FC.DeclareLocal(decl, l.Types.ValueType(decl.Type))
	return &wasmir.LocalSet{Index: idx, Value: init}
}
