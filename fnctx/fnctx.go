// Package fnctx implements the Function Context: per-function lowering
// scratch state shared by the Statement and Expression Lowerers while one
// function body is being lowered: the local-index allocator, the return
// slot, and the nested opcode-scope stack used to assemble blocks.
//
// One Ctx accumulates one output unit as the lowering pass walks a
// body; here the accumulated unit is one WebAssembly
// function body instead of one Go source file.
package fnctx

import (
	"fmt"

	"github.com/tswasm/lower/internal/wasmir"
	"github.com/tswasm/lower/sem"
)

// Ctx is one function's lowering scratch: created at function-lowering
// entry, discarded once the *wasmir.Func is assembled.
type Ctx struct {
	Func *sem.Function

	locals     []wasmir.ValType
	localIndex map[*sem.Decl]uint32
	nextLocal  uint32

	// ReturnSlot is the local index holding the function's eventual
	// result; -1 if the function is void or is a constructor.
	// Constructors return no value: the `new` expression keeps the
	// instance it allocated.
	ReturnSlot int32
	ReturnType wasmir.ValType

	// ThisLocal is the local index of the `this` parameter for methods,
	// getters, setters, and constructors; -1 otherwise.
	ThisLocal int32

	// StatementsLabel is the label every `return` branches to once its
	// value (if any) has been stored into ReturnSlot.
	StatementsLabel string

	scopes []*opScope

	nextLabel uint32
}

type opScope struct {
	label string
	body  []wasmir.Instr
}

// New returns a Ctx for lowering fn's body. nParams is the count of
// WebAssembly parameters already consumed by the function signature
// (context + optional this + declared params), from which local indices
// continue.
func New(fn *sem.Function, nParams uint32) *Ctx {
	return &Ctx{
		Func:            fn,
		localIndex:      make(map[*sem.Decl]uint32),
		nextLocal:       nParams,
		ReturnSlot:      -1,
		ThisLocal:       -1,
		StatementsLabel: "statements",
	}
}

// AllocLocal reserves a fresh local of type t and returns its index.
func (c *Ctx) AllocLocal(t wasmir.ValType) uint32 {
	idx := c.nextLocal
	c.nextLocal++
	c.locals = append(c.locals, t)
	return idx
}

// DeclareLocal associates decl with a freshly allocated local of type t,
// so later reads/writes of decl resolve to the same index.
func (c *Ctx) DeclareLocal(decl *sem.Decl, t wasmir.ValType) uint32 {
	idx := c.AllocLocal(t)
	c.localIndex[decl] = idx
	return idx
}

// BindParam associates decl with index, an already-existing wasm
// parameter local rather than one freshly reserved by AllocLocal, used
// while lowering a function's signature prologue, where the context/this/
// declared-parameter locals already occupy indices 0..nParams-1.
func (c *Ctx) BindParam(decl *sem.Decl, index uint32) {
	c.localIndex[decl] = index
}

// LocalIndex returns the local index previously allocated for decl.
func (c *Ctx) LocalIndex(decl *sem.Decl) (uint32, bool) {
	idx, ok := c.localIndex[decl]
	return idx, ok
}

// Locals returns the accumulated locals list (beyond the declared
// parameters), in allocation order, for the final *wasmir.Func.
func (c *Ctx) Locals() []wasmir.ValType {
	return c.locals
}

// PushScope opens a new nested opcode-emission scope labeled label (used
// for block/loop/if bodies, and for the function's top-level "statements"
// block that Return branches to).
func (c *Ctx) PushScope(label string) {
	c.scopes = append(c.scopes, &opScope{label: label})
}

// Emit appends instr to the innermost open scope.
func (c *Ctx) Emit(instr wasmir.Instr) {
	if len(c.scopes) == 0 {
		panic("fnctx: Emit with no open scope")
	}
	top := c.scopes[len(c.scopes)-1]
	top.body = append(top.body, instr)
}

// PopScope closes the innermost scope and returns its accumulated body.
func (c *Ctx) PopScope() []wasmir.Instr {
	n := len(c.scopes)
	top := c.scopes[n-1]
	c.scopes = c.scopes[:n-1]
	return top.body
}

// NewLabel returns a fresh block label prefixed by prefix, for statement
// forms (plain blocks, switch cases) that need a synthesized branch
// target beyond the labels the front end already attaches to loops and
// switches.
func (c *Ctx) NewLabel(prefix string) string {
	c.nextLabel++
	return fmt.Sprintf("%s$%d", prefix, c.nextLabel)
}

// CurrentLabel reports the innermost open scope's label, used by Break/
// Continue lowering to find the nearest loop's labels when no explicit
// label is given (the Statement Lowerer still carries explicit labels
// from the front end per sem.Loop/sem.Switch, so this is mostly a
// consistency check).
func (c *Ctx) CurrentLabel() string {
	if len(c.scopes) == 0 {
		return ""
	}
	return c.scopes[len(c.scopes)-1].label
}
