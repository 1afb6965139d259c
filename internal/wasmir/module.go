package wasmir

// Import is one entry in the module's import section. This backend only
// ever imports functions (the host runtime ABI, see package hostabi).
type Import struct {
	Module string
	Name   string
	Type   FuncType
}

// Func is one function definition: its signature (by defined-type
// index), its locals beyond the parameters, and its instruction body.
type Func struct {
	Name      string
	TypeIndex uint32
	Locals    []ValType
	Body      []Instr
}

// Global is one module-level global variable with a constant
// initializer expression.
type Global struct {
	Name    string
	Type    ValType
	Mutable bool
	Init    Instr // a constant expression: *Const, RefNull, RefFunc, GlobalGet, or a StructNew over those
}

// Export makes a function visible under an external name.
type Export struct {
	Name string
	Func string // the internal Func.Name it forwards to
}

// Table declares a typed table (the typed-tables proposal), used for the
// external-ref table that boxed `any` values referencing host objects are
// stored in.
type Table struct {
	Name     string
	Elem     RefType
	Min, Max uint32
	HasMax   bool
}

// Data is the module's single linear-memory data segment, populated from
// the Data Segment Arena.
type Data struct {
	Offset uint32
	Bytes  []byte
}

// Module is the top-level assembled unit: defined types, imports,
// functions, globals, tables, the data segment, exports, and an optional
// start function.
type Module struct {
	Name string

	Types   []CompositeType
	Imports []Import
	Funcs   []*Func
	Globals []*Global
	Tables  []Table
	Data    *Data
	Exports []Export

	MemoryMinPages uint32

	// Start is the function name run automatically on instantiation, or
	// "" if the module has no start function.
	Start string
}

// NewModule returns an empty Module ready for the driver to populate.
func NewModule(name string) *Module {
	return &Module{Name: name, MemoryMinPages: 1}
}

// AddType appends a defined type and returns its index, for use as a
// HeapType's Index or a Func/Global's TypeIndex.
func (m *Module) AddType(t CompositeType) uint32 {
	m.Types = append(m.Types, t)
	return uint32(len(m.Types) - 1)
}

// AddImport appends a function import and registers sig as a defined
// type unless an equal FuncType is already registered. Imports are
// always called by name in this IR, so no index is returned.
func (m *Module) AddImport(moduleName, name string, sig FuncType) {
	m.typeIndexOf(sig)
	m.Imports = append(m.Imports, Import{Module: moduleName, Name: name, Type: sig})
}

// AddFunc appends a function definition.
func (m *Module) AddFunc(f *Func) {
	m.Funcs = append(m.Funcs, f)
}

// AddGlobal appends a global variable definition.
func (m *Module) AddGlobal(g *Global) {
	m.Globals = append(m.Globals, g)
}

// AddExport makes funcName visible under exportName.
func (m *Module) AddExport(exportName, funcName string) {
	m.Exports = append(m.Exports, Export{Name: exportName, Func: funcName})
}

// SetData installs the module's linear-memory data segment, sourced from
// a dataseg.Arena's accumulated bytes.
func (m *Module) SetData(bytes []byte) {
	m.Data = &Data{Offset: 0, Bytes: bytes}
}
