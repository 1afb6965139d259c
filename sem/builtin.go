package sem

// Builtin holds the method/property tables for a primitive receiver kind
// (number, boolean, string, Array<T>, or function), looked up by the
// Expression Lowerer when a property access receiver is not a class,
// interface, `any`, or scope.
type Builtin struct {
	Kind    Type
	Methods map[string]*Function
}

// builtinRegistry maps a primitive type's name ("string", "number",
// "boolean") to its Builtin table. Array<T> is looked up
// per element type separately by the caller, since its method set
// (push/pop/etc.) is generic over T.
var builtinRegistry = map[string]*Builtin{}

func registerBuiltin(name string, methods ...*Function) {
	m := make(map[string]*Function, len(methods))
	for _, f := range methods {
		m[f.Name] = f
	}
	builtinRegistry[name] = &Builtin{Methods: m}
}

func init() {
	registerBuiltin("string",
		method("charAt", []Param{{Name: "index", Type: Number{}}}, StringT{}),
		method("slice", []Param{{Name: "start", Type: Number{}}, {Name: "end", Type: Number{}, Optional: true}}, StringT{}),
		method("indexOf", []Param{{Name: "search", Type: StringT{}}}, Number{}),
		method("concat", []Param{{Name: "other", Type: StringT{}}}, StringT{}),
	)
	registerBuiltin("number",
		method("toString", nil, StringT{}),
	)
	registerBuiltin("boolean",
		method("toString", nil, StringT{}),
	)
}

func method(name string, params []Param, result Type) *Function {
	return &Function{Name: name, Params: params, RestParam: -1, Result: result, Kind: FuncMethod}
}

// LookupBuiltin returns the builtin method table for a primitive type
// name ("string", "number" or "boolean"), or nil for any other name.
func LookupBuiltin(kind string) *Builtin {
	return builtinRegistry[kind]
}

// ArrayBuiltin returns the synthesized method table for Array<elem>.
// length is not a method; it is lowered inline to an envelope-length
// read.
func ArrayBuiltin(elem Type) *Builtin {
	return &Builtin{
		Kind: &ArrayType{Elem: elem},
		Methods: map[string]*Function{
			"push": method("push", []Param{{Name: "v", Type: elem}}, Number{}),
			"pop":  method("pop", nil, elem),
		},
	}
}
