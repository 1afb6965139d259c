package wasmir

// encodeInstr appends the binary encoding of instr to buf. Control
// instructions recurse into their nested bodies; m is threaded through
// for name-to-index resolution (globals and calls are named in this IR
// and resolved to their binary index only at encode time). labels is the
// stack of enclosing block/loop labels, innermost last, used to turn
// Br/BrIf/BrTable's symbolic labels into relative branch depths.
func encodeInstr(buf []byte, m *Module, labels []string, instr Instr) []byte {
	switch v := instr.(type) {
	case *Numeric:
		buf = encodeInstr(buf, m, labels, v.Lhs)
		buf = encodeInstr(buf, m, labels, v.Rhs)
		return append(buf, numOpcode(v.Type, v.Op))
	case *UnaryNumeric:
		buf = encodeInstr(buf, m, labels, v.Operand)
		return append(buf, unaryOpcode(v.Op)...)
	case *I32Const:
		buf = append(buf, 0x41)
		return appendSLEB128(buf, int64(v.Value))
	case *I64Const:
		buf = append(buf, 0x42)
		return appendSLEB128(buf, v.Value)
	case *F64Const:
		buf = append(buf, 0x44)
		return appendF64(buf, v.Value)
	case *LocalGet:
		buf = append(buf, 0x20)
		return appendULEB128(buf, uint64(v.Index))
	case *LocalSet:
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = append(buf, 0x21)
		return appendULEB128(buf, uint64(v.Index))
	case *LocalTee:
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = append(buf, 0x22)
		return appendULEB128(buf, uint64(v.Index))
	case *GlobalGet:
		buf = append(buf, 0x23)
		return appendULEB128(buf, uint64(m.globalIndex(v.Name)))
	case *GlobalSet:
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = append(buf, 0x24)
		return appendULEB128(buf, uint64(m.globalIndex(v.Name)))
	case *RefNull:
		buf = append(buf, 0xd0)
		return encodeHeapType(buf, v.Heap)
	case *RefFunc:
		buf = append(buf, 0xd2)
		return appendULEB128(buf, uint64(m.funcIndex(v.Name)))
	case *RefEq:
		buf = encodeInstr(buf, m, labels, v.Lhs)
		buf = encodeInstr(buf, m, labels, v.Rhs)
		return append(buf, 0xd3)
	case *RefIsNull:
		buf = encodeInstr(buf, m, labels, v.Operand)
		return append(buf, 0xd1)
	case *RefCast:
		buf = encodeInstr(buf, m, labels, v.Operand)
		buf = append(buf, 0xfb, 0x17)
		return encodeRefType(buf, v.Target)
	case *RefTest:
		buf = encodeInstr(buf, m, labels, v.Operand)
		buf = append(buf, 0xfb, 0x14)
		return encodeRefType(buf, v.Target)
	case *StructNew:
		for _, f := range v.Fields {
			buf = encodeInstr(buf, m, labels, f)
		}
		buf = append(buf, 0xfb, 0x00)
		return appendULEB128(buf, uint64(v.TypeIndex))
	case *StructNewDefault:
		buf = append(buf, 0xfb, 0x01)
		return appendULEB128(buf, uint64(v.TypeIndex))
	case *StructGet:
		buf = encodeInstr(buf, m, labels, v.Ref)
		buf = append(buf, 0xfb, 0x02)
		buf = appendULEB128(buf, uint64(v.TypeIndex))
		return appendULEB128(buf, uint64(v.FieldIndex))
	case *StructSet:
		buf = encodeInstr(buf, m, labels, v.Ref)
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = append(buf, 0xfb, 0x05)
		buf = appendULEB128(buf, uint64(v.TypeIndex))
		return appendULEB128(buf, uint64(v.FieldIndex))
	case *ArrayNewFixed:
		for _, e := range v.Elems {
			buf = encodeInstr(buf, m, labels, e)
		}
		buf = append(buf, 0xfb, 0x08)
		buf = appendULEB128(buf, uint64(v.TypeIndex))
		return appendULEB128(buf, uint64(len(v.Elems)))
	case *ArrayNewDefault:
		buf = encodeInstr(buf, m, labels, v.Length)
		buf = append(buf, 0xfb, 0x07)
		return appendULEB128(buf, uint64(v.TypeIndex))
	case *ArrayGet:
		buf = encodeInstr(buf, m, labels, v.Ref)
		buf = encodeInstr(buf, m, labels, v.Index)
		buf = append(buf, 0xfb, 0x0b)
		return appendULEB128(buf, uint64(v.TypeIndex))
	case *ArraySet:
		buf = encodeInstr(buf, m, labels, v.Ref)
		buf = encodeInstr(buf, m, labels, v.Index)
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = append(buf, 0xfb, 0x0e)
		return appendULEB128(buf, uint64(v.TypeIndex))
	case *ArrayLen:
		buf = encodeInstr(buf, m, labels, v.Ref)
		return append(buf, 0xfb, 0x0f)
	case *TableGrow:
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = encodeInstr(buf, m, labels, v.Delta)
		buf = append(buf, 0xfc, 0x0f)
		return appendULEB128(buf, uint64(m.tableIndex(v.Table)))
	case *TableSet:
		buf = encodeInstr(buf, m, labels, v.Index)
		buf = encodeInstr(buf, m, labels, v.Value)
		buf = append(buf, 0x26)
		return appendULEB128(buf, uint64(m.tableIndex(v.Table)))
	case *Call:
		for _, a := range v.Args {
			buf = encodeInstr(buf, m, labels, a)
		}
		buf = append(buf, 0x10)
		return appendULEB128(buf, uint64(m.funcIndex(v.Name)))
	case *CallRef:
		for _, a := range v.Args {
			buf = encodeInstr(buf, m, labels, a)
		}
		buf = encodeInstr(buf, m, labels, v.Callee)
		buf = append(buf, 0x14)
		return appendULEB128(buf, uint64(v.TypeIndex))
	case *Select:
		buf = encodeInstr(buf, m, labels, v.Then)
		buf = encodeInstr(buf, m, labels, v.Else)
		buf = encodeInstr(buf, m, labels, v.Cond)
		return append(buf, 0x1b)
	case *Drop:
		buf = encodeInstr(buf, m, labels, v.Operand)
		return append(buf, 0x1a)
	case *Unreachable:
		return append(buf, 0x00)
	case *Return:
		if v.Value != nil {
			buf = encodeInstr(buf, m, labels, v.Value)
		}
		return append(buf, 0x0f)
	case *Block:
		buf = append(buf, 0x02)
		buf = encodeBlockType(buf, v.Result)
		inner := append(append([]string{}, labels...), v.Label)
		for _, s := range v.Body {
			buf = encodeInstr(buf, m, inner, s)
		}
		return append(buf, 0x0b)
	case *Loop:
		buf = append(buf, 0x03)
		buf = encodeBlockType(buf, v.Result)
		inner := append(append([]string{}, labels...), v.Label)
		for _, s := range v.Body {
			buf = encodeInstr(buf, m, inner, s)
		}
		return append(buf, 0x0b)
	case *If:
		buf = encodeInstr(buf, m, labels, v.Cond)
		buf = append(buf, 0x04)
		buf = encodeBlockType(buf, v.Result)
		for _, s := range v.Then {
			buf = encodeInstr(buf, m, labels, s)
		}
		if len(v.Else) > 0 {
			buf = append(buf, 0x05)
			for _, s := range v.Else {
				buf = encodeInstr(buf, m, labels, s)
			}
		}
		return append(buf, 0x0b)
	case *Br:
		buf = append(buf, 0x0c)
		return appendULEB128(buf, uint64(labelDepth(labels, v.Label)))
	case *BrIf:
		buf = encodeInstr(buf, m, labels, v.Cond)
		buf = append(buf, 0x0d)
		return appendULEB128(buf, uint64(labelDepth(labels, v.Label)))
	case *BrTable:
		buf = encodeInstr(buf, m, labels, v.Index)
		buf = append(buf, 0x0e)
		buf = appendULEB128(buf, uint64(len(v.Labels)))
		for _, l := range v.Labels {
			buf = appendULEB128(buf, uint64(labelDepth(labels, l)))
		}
		return appendULEB128(buf, uint64(labelDepth(labels, v.Default)))
	}
	return buf
}

func encodeBlockType(buf []byte, result *ValType) []byte {
	if result == nil {
		return append(buf, 0x40)
	}
	return encodeValType(buf, *result)
}

// labelDepth resolves a symbolic label to a relative branch depth by
// searching the enclosing label stack from innermost to outermost.
func labelDepth(labels []string, label string) uint32 {
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == label {
			return uint32(len(labels) - 1 - i)
		}
	}
	return 0
}

func (m *Module) globalIndex(name string) uint32 {
	for i, g := range m.Globals {
		if g.Name == name {
			return uint32(i)
		}
	}
	return 0
}

func numOpcode(t NumType, op NumOp) byte {
	table, ok := numOpcodes[t]
	if !ok {
		return 0x00
	}
	b, ok := table[op]
	if !ok {
		return 0x00
	}
	return b
}

var numOpcodes = map[NumType]map[NumOp]byte{
	I32: {
		OpAdd: 0x6a, OpSub: 0x6b, OpMul: 0x6c, OpDivU: 0x6e, OpDivS: 0x6d,
		OpAnd: 0x71, OpOr: 0x72, OpXor: 0x73, OpShl: 0x74, OpShrU: 0x76, OpShrS: 0x75,
		OpEq: 0x46, OpNe: 0x47, OpLtU: 0x49, OpLtS: 0x48, OpGtU: 0x4b, OpGtS: 0x4a,
		OpLeU: 0x4d, OpLeS: 0x4c, OpGeU: 0x4f, OpGeS: 0x4e,
	},
	I64: {
		OpAdd: 0x7c, OpSub: 0x7d, OpMul: 0x7e, OpDivU: 0x80, OpDivS: 0x7f,
		OpAnd: 0x83, OpOr: 0x84, OpXor: 0x85, OpShl: 0x86, OpShrU: 0x88, OpShrS: 0x87,
		OpEq: 0x51, OpNe: 0x52, OpLtU: 0x54, OpLtS: 0x53, OpGtU: 0x56, OpGtS: 0x55,
		OpLeU: 0x58, OpLeS: 0x57, OpGeU: 0x5a, OpGeS: 0x59,
	},
	F64: {
		OpAdd: 0xa0, OpSub: 0xa1, OpMul: 0xa2, OpDivS: 0xa3,
		OpEq: 0x61, OpNe: 0x62, OpLtS: 0x63, OpGtS: 0x64, OpLeS: 0x65, OpGeS: 0x66,
	},
	F32: {
		OpAdd: 0x92, OpSub: 0x93, OpMul: 0x94, OpDivS: 0x95,
		OpEq: 0x5b, OpNe: 0x5c, OpLtS: 0x5d, OpGtS: 0x5e, OpLeS: 0x5f, OpGeS: 0x60,
	},
}

func unaryOpcode(op UnaryNumOp) []byte {
	switch op {
	case OpNeg:
		return []byte{0x9a} // f64.neg
	case OpEqz:
		return []byte{0x45} // i32.eqz
	case OpWrapI64ToI32:
		return []byte{0xa7}
	case OpExtendI32UToI64:
		return []byte{0xad}
	case OpExtendI32SToI64:
		return []byte{0xac}
	case OpTruncF64ToI64:
		return []byte{0xb0}
	case OpConvertI64ToF64:
		return []byte{0xb9}
	}
	return nil
}
