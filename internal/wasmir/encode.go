package wasmir

import (
	"encoding/binary"
	"math"
)

// Encode serializes m to the WebAssembly binary format. Section layout
// follows the core spec (type, import, function, table, memory, global,
// export, start, code, data); GC/function-references/typed-tables
// proposal opcodes are encoded per their respective proposal texts.
//
// This encoder only emits what the lowering engine's IR can produce;
// it is not a general-purpose assembler. Anything outside that surface
// (multi-memory, exception handling, SIMD, ...) is out of scope.
func (m *Module) Encode() []byte {
	var buf []byte
	buf = append(buf, 0x00, 0x61, 0x73, 0x6d) // magic "\0asm"
	buf = append(buf, 0x01, 0x00, 0x00, 0x00) // version 1

	buf = appendSection(buf, 1, m.encodeTypeSection())
	buf = appendSection(buf, 2, m.encodeImportSection())
	buf = appendSection(buf, 3, m.encodeFunctionSection())
	buf = appendSection(buf, 4, m.encodeTableSection())
	buf = appendSection(buf, 5, m.encodeMemorySection())
	buf = appendSection(buf, 6, m.encodeGlobalSection())
	buf = appendSection(buf, 7, m.encodeExportSection())
	if m.Start != "" {
		buf = appendSection(buf, 8, m.encodeStartSection())
	}
	buf = appendSection(buf, 10, m.encodeCodeSection())
	if m.Data != nil {
		buf = appendSection(buf, 11, m.encodeDataSection())
	}
	return buf
}

func appendSection(buf []byte, id byte, body []byte) []byte {
	if len(body) == 0 {
		return buf
	}
	buf = append(buf, id)
	buf = appendULEB128(buf, uint64(len(body)))
	return append(buf, body...)
}

func (m *Module) encodeTypeSection() []byte {
	var body []byte
	body = appendULEB128(body, uint64(len(m.Types)))
	for _, t := range m.Types {
		body = encodeCompositeType(body, t)
	}
	return body
}

func encodeCompositeType(body []byte, t CompositeType) []byte {
	switch v := t.(type) {
	case FuncType:
		body = append(body, 0x60)
		body = appendULEB128(body, uint64(len(v.Params)))
		for _, p := range v.Params {
			body = encodeValType(body, p)
		}
		body = appendULEB128(body, uint64(len(v.Results)))
		for _, r := range v.Results {
			body = encodeValType(body, r)
		}
	case StructType:
		body = append(body, 0x5f)
		body = appendULEB128(body, uint64(len(v.Fields)))
		for _, f := range v.Fields {
			body = encodeValType(body, f.Type)
			if f.Mutable {
				body = append(body, 1)
			} else {
				body = append(body, 0)
			}
		}
	case ArrayType:
		body = append(body, 0x5e)
		body = encodeValType(body, v.Elem.Type)
		if v.Elem.Mutable {
			body = append(body, 1)
		} else {
			body = append(body, 0)
		}
	}
	return body
}

func encodeValType(body []byte, v ValType) []byte {
	if v.Ref == nil {
		switch v.Num {
		case I32:
			return append(body, 0x7f)
		case I64:
			return append(body, 0x7e)
		case F32:
			return append(body, 0x7d)
		case F64:
			return append(body, 0x7c)
		}
	}
	return encodeRefType(body, *v.Ref)
}

func encodeRefType(body []byte, r RefType) []byte {
	if r.Nullable {
		body = append(body, 0x63)
	} else {
		body = append(body, 0x64)
	}
	return encodeHeapType(body, r.Heap)
}

func encodeHeapType(body []byte, h HeapType) []byte {
	switch h.Abstract {
	case HeapFunc:
		return append(body, 0x70)
	case HeapExtern:
		return append(body, 0x6f)
	case HeapAny:
		return append(body, 0x6e)
	case HeapEq:
		return append(body, 0x6d)
	case HeapStruct:
		return append(body, 0x67)
	case HeapArray:
		return append(body, 0x66)
	case HeapNone:
		return append(body, 0x65)
	case HeapNoFunc:
		return append(body, 0x68)
	case HeapNoExtern:
		return append(body, 0x69)
	default:
		return appendSLEB128(body, int64(h.Index))
	}
}

func (m *Module) encodeImportSection() []byte {
	if len(m.Imports) == 0 {
		return nil
	}
	var body []byte
	body = appendULEB128(body, uint64(len(m.Imports)))
	for _, imp := range m.Imports {
		body = appendName(body, imp.Module)
		body = appendName(body, imp.Name)
		body = append(body, 0x00) // func import kind
		body = appendULEB128(body, uint64(m.typeIndexOf(imp.Type)))
	}
	return body
}

// typeIndexOf finds ft's index among the defined types, appending it if
// absent. AddImport calls it when an import is added, so at encode time
// every import's FuncType is already registered and is only looked up.
func (m *Module) typeIndexOf(ft FuncType) uint32 {
	for i, t := range m.Types {
		if other, ok := t.(FuncType); ok && funcTypeEqual(other, ft) {
			return uint32(i)
		}
	}
	return m.AddType(ft)
}

func funcTypeEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

func (m *Module) encodeFunctionSection() []byte {
	if len(m.Funcs) == 0 {
		return nil
	}
	var body []byte
	body = appendULEB128(body, uint64(len(m.Funcs)))
	for _, f := range m.Funcs {
		body = appendULEB128(body, uint64(f.TypeIndex))
	}
	return body
}

func (m *Module) encodeTableSection() []byte {
	if len(m.Tables) == 0 {
		return nil
	}
	var body []byte
	body = appendULEB128(body, uint64(len(m.Tables)))
	for _, t := range m.Tables {
		body = encodeRefType(body, t.Elem)
		if t.HasMax {
			body = append(body, 0x01)
			body = appendULEB128(body, uint64(t.Min))
			body = appendULEB128(body, uint64(t.Max))
		} else {
			body = append(body, 0x00)
			body = appendULEB128(body, uint64(t.Min))
		}
	}
	return body
}

func (m *Module) encodeMemorySection() []byte {
	var body []byte
	body = appendULEB128(body, 1)
	body = append(body, 0x00)
	body = appendULEB128(body, uint64(m.MemoryMinPages))
	return body
}

func (m *Module) encodeGlobalSection() []byte {
	if len(m.Globals) == 0 {
		return nil
	}
	var body []byte
	body = appendULEB128(body, uint64(len(m.Globals)))
	for _, g := range m.Globals {
		body = encodeValType(body, g.Type)
		if g.Mutable {
			body = append(body, 1)
		} else {
			body = append(body, 0)
		}
		body = m.encodeConstExpr(body, g.Init)
		body = append(body, 0x0b) // end
	}
	return body
}

// encodeConstExpr encodes a global initializer's constant expression.
// Beyond the core four (const/ref.null), the GC proposal admits
// struct.new/ref.func/global.get(of an earlier, already-encoded global)
// as constant operators too; this module's vtable globals need
// struct.new over ref.func fields, so those three are supported here by
// recursing the same way encodeInstr does for a general expression.
func (m *Module) encodeConstExpr(body []byte, init Instr) []byte {
	switch v := init.(type) {
	case *I32Const:
		body = append(body, 0x41)
		return appendSLEB128(body, int64(v.Value))
	case *I64Const:
		body = append(body, 0x42)
		return appendSLEB128(body, v.Value)
	case *F64Const:
		body = append(body, 0x44)
		return appendF64(body, v.Value)
	case *RefNull:
		body = append(body, 0xd0)
		return encodeHeapType(body, v.Heap)
	case *RefFunc:
		body = append(body, 0xd2)
		return appendULEB128(body, uint64(m.funcIndex(v.Name)))
	case *GlobalGet:
		body = append(body, 0x23)
		return appendULEB128(body, uint64(m.globalIndex(v.Name)))
	case *StructNew:
		for _, f := range v.Fields {
			body = m.encodeConstExpr(body, f)
		}
		body = append(body, 0xfb, 0x00)
		return appendULEB128(body, uint64(v.TypeIndex))
	}
	return body
}

func (m *Module) encodeExportSection() []byte {
	if len(m.Exports) == 0 {
		return nil
	}
	var body []byte
	body = appendULEB128(body, uint64(len(m.Exports)))
	for _, e := range m.Exports {
		body = appendName(body, e.Name)
		body = append(body, 0x00) // func export kind
		body = appendULEB128(body, uint64(m.funcIndex(e.Func)))
	}
	return body
}

func (m *Module) encodeStartSection() []byte {
	var body []byte
	return appendULEB128(body, uint64(m.funcIndex(m.Start)))
}

func (m *Module) funcIndex(name string) uint32 {
	for i, imp := range m.Imports {
		if imp.Name == name {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Imports))
	for _, f := range m.Funcs {
		if f.Name == name {
			return idx
		}
		idx++
	}
	return 0
}

func (m *Module) tableIndex(name string) uint32 {
	for i, t := range m.Tables {
		if t.Name == name {
			return uint32(i)
		}
	}
	return 0
}

func (m *Module) encodeCodeSection() []byte {
	if len(m.Funcs) == 0 {
		return nil
	}
	var body []byte
	body = appendULEB128(body, uint64(len(m.Funcs)))
	for _, f := range m.Funcs {
		var fb []byte
		fb = appendULEB128(fb, uint64(len(f.Locals)))
		for _, l := range f.Locals {
			fb = appendULEB128(fb, 1)
			fb = encodeValType(fb, l)
		}
		for _, instr := range f.Body {
			fb = encodeInstr(fb, m, nil, instr)
		}
		fb = append(fb, 0x0b) // end
		body = appendULEB128(body, uint64(len(fb)))
		body = append(body, fb...)
	}
	return body
}

func (m *Module) encodeDataSection() []byte {
	var body []byte
	body = appendULEB128(body, 1)
	body = append(body, 0x00) // active, memory 0
	body = append(body, 0x41) // i32.const
	body = appendSLEB128(body, int64(m.Data.Offset))
	body = append(body, 0x0b) // end
	body = appendULEB128(body, uint64(len(m.Data.Bytes)))
	return append(body, m.Data.Bytes...)
}

func appendULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

func appendSLEB128(buf []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		buf = append(buf, b)
	}
	return buf
}

func appendF64(buf []byte, f float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(f))
	return append(buf, tmp[:]...)
}

func appendName(buf []byte, s string) []byte {
	buf = appendULEB128(buf, uint64(len(s)))
	return append(buf, s...)
}
