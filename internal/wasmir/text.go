package wasmir

import (
	"fmt"
	"strings"

	"github.com/tswasm/lower/internal/stringio"
)

// Text renders a structural summary of m: its defined types, imports,
// function signatures, globals, tables, exports, and start function, one
// per line. It is not a full WAT disassembly of every function body (this
// package's Instr set has no per-opcode text syntax defined), but it is
// exactly what moduledriver attaches to an *errs.ValidationFailure for
// diagnosis: which functions, globals, and exports the
// driver actually assembled, so a mismatch against an expected shape is
// visible without decoding the binary.
func (m *Module) Text() string {
	var b strings.Builder
	stringio.Write(&b, "(module $", m.Name, "\n")
	for i, t := range m.Types {
		stringio.Write(&b, "  (type (;", fmt.Sprint(i), ";) ", typeText(t), ")\n")
	}
	for _, imp := range m.Imports {
		stringio.Write(&b, "  (import \"", imp.Module, "\" \"", imp.Name, "\" ", funcSigText(imp.Type), ")\n")
	}
	for _, f := range m.Funcs {
		stringio.Write(&b, "  (func $", f.Name, " (type ", fmt.Sprint(f.TypeIndex), ") (locals ", fmt.Sprint(len(f.Locals)), ") (instrs ", fmt.Sprint(countInstrs(f.Body)), "))\n")
	}
	for _, g := range m.Globals {
		mutability := "const"
		if g.Mutable {
			mutability = "mut"
		}
		stringio.Write(&b, "  (global $", g.Name, " ", mutability, " ", valTypeText(g.Type), ")\n")
	}
	for _, t := range m.Tables {
		stringio.Write(&b, "  (table $", t.Name, " ", fmt.Sprint(t.Min), ")\n")
	}
	if m.Data != nil {
		stringio.Write(&b, "  (data (;0;) (i32.const ", fmt.Sprint(m.Data.Offset), ") \"<", fmt.Sprint(len(m.Data.Bytes)), " bytes>\")\n")
	}
	for _, e := range m.Exports {
		stringio.Write(&b, "  (export \"", e.Name, "\" (func $", e.Func, "))\n")
	}
	if m.Start != "" {
		stringio.Write(&b, "  (start $", m.Start, ")\n")
	}
	b.WriteString(")\n")
	return b.String()
}

func typeText(t CompositeType) string {
	switch v := t.(type) {
	case FuncType:
		return funcSigText(v)
	case StructType:
		return fmt.Sprintf("(struct %d fields)", len(v.Fields))
	case ArrayType:
		return fmt.Sprintf("(array %s)", valTypeText(v.Elem.Type))
	default:
		return "(unknown)"
	}
}

func funcSigText(f FuncType) string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = valTypeText(p)
	}
	results := make([]string, len(f.Results))
	for i, r := range f.Results {
		results[i] = valTypeText(r)
	}
	return fmt.Sprintf("(func (param %s) (result %s))", strings.Join(params, " "), strings.Join(results, " "))
}

func valTypeText(v ValType) string {
	if v.Ref == nil {
		switch v.Num {
		case I32:
			return "i32"
		case I64:
			return "i64"
		case F32:
			return "f32"
		case F64:
			return "f64"
		}
		return "?"
	}
	if v.Ref.Nullable {
		return "(ref null " + heapText(v.Ref.Heap) + ")"
	}
	return "(ref " + heapText(v.Ref.Heap) + ")"
}

func heapText(h HeapType) string {
	switch h.Abstract {
	case HeapFunc:
		return "func"
	case HeapExtern:
		return "extern"
	case HeapAny:
		return "any"
	case HeapEq:
		return "eq"
	case HeapStruct:
		return "struct"
	case HeapArray:
		return "array"
	case HeapNone:
		return "none"
	case HeapNoFunc:
		return "nofunc"
	case HeapNoExtern:
		return "noextern"
	case HeapConcrete:
		return fmt.Sprint(h.Index)
	}
	return "?"
}

// countInstrs counts instr nodes in body, descending into nested blocks,
// for the (instrs N) summary Text emits per function.
func countInstrs(body []Instr) int {
	n := 0
	for _, in := range body {
		n++
		switch v := in.(type) {
		case *Block:
			n += countInstrs(v.Body)
		case *Loop:
			n += countInstrs(v.Body)
		case *If:
			n += countInstrs(v.Then)
			n += countInstrs(v.Else)
		}
	}
	return n
}
