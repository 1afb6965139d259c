package wasmir

// Instr is implemented by every instruction node a function body can hold.
type Instr interface {
	isInstr()
}

type baseInstr struct{}

func (baseInstr) isInstr() {}

// NumOp is the shared opcode for every numeric (i32/i64/f32/f64) binary
// comparison/arithmetic/bitwise operator. Parameterizing by Type rather
// than declaring 4×N concrete instruction kinds keeps the polymorphic
// operator dispatch matrix a data
// mapping instead of a thousand-case switch.
type NumOp uint8

const (
	OpAdd NumOp = iota
	OpSub
	OpMul
	OpDivU
	OpDivS // f32/f64 use OpDivS as the only division op
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrU
	OpShrS
	OpEq
	OpNe
	OpLtU
	OpLtS
	OpGtU
	OpGtS
	OpLeU
	OpLeS
	OpGeU
	OpGeS
)

type Numeric struct {
	baseInstr
	Type NumType
	Op   NumOp
	Lhs  Instr
	Rhs  Instr
}

// UnaryNumOp covers the single-operand numeric ops this backend needs:
// negation, bitwise not (via xor -1), and conversions between types.
type UnaryNumOp uint8

const (
	OpNeg UnaryNumOp = iota
	OpEqz
	OpWrapI64ToI32
	OpExtendI32UToI64
	OpExtendI32SToI64
	OpTruncF64ToI64
	OpConvertI64ToF64
)

type UnaryNumeric struct {
	baseInstr
	Op      UnaryNumOp
	Operand Instr
}

type I32Const struct {
	baseInstr
	Value int32
}

type I64Const struct {
	baseInstr
	Value int64
}

type F64Const struct {
	baseInstr
	Value float64
}

type LocalGet struct {
	baseInstr
	Index uint32
}

type LocalSet struct {
	baseInstr
	Index uint32
	Value Instr
}

type LocalTee struct {
	baseInstr
	Index uint32
	Value Instr
}

type GlobalGet struct {
	baseInstr
	Name string
}

type GlobalSet struct {
	baseInstr
	Name  string
	Value Instr
}

// RefNull produces a null reference of the given heap type.
type RefNull struct {
	baseInstr
	Heap HeapType
}

// RefFunc produces a non-null funcref to a named function.
type RefFunc struct {
	baseInstr
	Name string
}

type RefEq struct {
	baseInstr
	Lhs, Rhs Instr
}

type RefIsNull struct {
	baseInstr
	Operand Instr
}

// RefCast asserts Operand is an instance of Target, trapping otherwise.
type RefCast struct {
	baseInstr
	Operand Instr
	Target  RefType
}

// RefTest reports (as i32) whether Operand is an instance of Target.
type RefTest struct {
	baseInstr
	Operand Instr
	Target  RefType
}

// StructNew allocates a new struct of the given defined type with each
// field initialized from Fields, in field order.
type StructNew struct {
	baseInstr
	TypeIndex uint32
	Fields    []Instr
}

// StructNewDefault allocates a struct with every field zero/null-initialized.
type StructNewDefault struct {
	baseInstr
	TypeIndex uint32
}

type StructGet struct {
	baseInstr
	TypeIndex  uint32
	FieldIndex uint32
	Ref        Instr
}

type StructSet struct {
	baseInstr
	TypeIndex  uint32
	FieldIndex uint32
	Ref        Instr
	Value      Instr
}

// ArrayNewFixed builds an array of the given defined type from an
// explicit, fully materialized element list (array literal form).
type ArrayNewFixed struct {
	baseInstr
	TypeIndex uint32
	Elems     []Instr
}

// ArrayNewDefault builds a zero/null-filled array of the given length.
type ArrayNewDefault struct {
	baseInstr
	TypeIndex uint32
	Length    Instr
}

type ArrayGet struct {
	baseInstr
	TypeIndex uint32
	Ref       Instr
	Index     Instr
}

type ArraySet struct {
	baseInstr
	TypeIndex uint32
	Ref       Instr
	Index     Instr
	Value     Instr
}

type ArrayLen struct {
	baseInstr
	Ref Instr
}

// TableGrow grows Table by Delta entries, each initialized to Value, and
// returns (as i32) the table's size before growing -- the index of the
// first newly allocated entry, or -1 if the table could not grow.
type TableGrow struct {
	baseInstr
	Table string
	Value Instr
	Delta Instr
}

// TableSet writes Value into Table at Index.
type TableSet struct {
	baseInstr
	Table string
	Index Instr
	Value Instr
}

// Call is a direct call to a named function.
type Call struct {
	baseInstr
	Name string
	Args []Instr
}

// CallRef is an indirect call through a typed funcref value (vtable
// dispatch, interface slow-path dispatch, first-class function calls).
type CallRef struct {
	baseInstr
	TypeIndex uint32 // index of the FuncType defined type
	Callee    Instr
	Args      []Instr
}

type Select struct {
	baseInstr
	Cond        Instr
	Then, Else  Instr
}

type Drop struct {
	baseInstr
	Operand Instr
}

type Unreachable struct{ baseInstr }

// Return branches to the function's return, optionally with a value.
type Return struct {
	baseInstr
	Value Instr // nil for bare return
}

// Block is a labeled sequence that Br/BrIf can exit by label.
type Block struct {
	baseInstr
	Label  string
	Result *ValType
	Body   []Instr
}

// Loop is a labeled sequence whose label re-enters the top when branched to.
type Loop struct {
	baseInstr
	Label  string
	Result *ValType
	Body   []Instr
}

// If lowers `if cond { then } else { else }`. Else may be nil.
type If struct {
	baseInstr
	Cond       Instr
	Result     *ValType
	Then, Else []Instr
}

type Br struct {
	baseInstr
	Label string
}

type BrIf struct {
	baseInstr
	Label string
	Cond  Instr
}

// BrTable dispatches to one of Labels by Index, or Default if out of range.
type BrTable struct {
	baseInstr
	Index   Instr
	Labels  []string
	Default string
}
