package sem

import (
	"encoding/json"
	"fmt"

	"github.com/tswasm/lower/internal/ordered"
)

// DecodeResolve reads a *Resolve from its JSON wire form. This exists
// purely as test/CLI tooling: production
// callers of this backend construct *Resolve values in-process; a real
// front end never round-trips its resolved tree through JSON.
// The wire form is a plain,
// hand-rolled discriminated union (a "kind" string field per node), not a
// general reflection-based codec.
func DecodeResolve(data []byte) (*Resolve, error) {
	var w wireResolve
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("sem: decode resolve: %w", err)
	}
	return w.build()
}

type wireResolve struct {
	ModuleName  string       `json:"moduleName"`
	EntryModule bool         `json:"entryModule"`
	Imports     []string     `json:"imports"`
	Classes     []wireClass  `json:"classes"`
	Interfaces  []wireIface  `json:"interfaces"`
	Functions   []wireFunc   `json:"functions"`
	Globals     []wireGlobal `json:"globals"`
}

type wireType struct {
	Kind string    `json:"kind"` // number, boolean, string, null, undefined, void, any, array, class, interface
	Elem *wireType `json:"elem,omitempty"`
	Name string    `json:"name,omitempty"`
}

type wireField struct {
	Name     string   `json:"name"`
	Type     wireType `json:"type"`
	ReadOnly bool     `json:"readOnly"`
}

type wireParam struct {
	Name     string   `json:"name"`
	Type     wireType `json:"type"`
	Optional bool     `json:"optional"`
}

type wireFunc struct {
	Name      string      `json:"name"`
	Params    []wireParam `json:"params"`
	HasRest   bool        `json:"hasRest"`
	RestParam int         `json:"restParam"`
	Result    wireType    `json:"result"`
	Declare   bool        `json:"declare"`
	Kind      string      `json:"kind"` // default, method, static, getter, setter, constructor
	Owner     string      `json:"owner,omitempty"`
	Exported  bool        `json:"exported"`
	Import    string      `json:"importName,omitempty"`
}

type wireClass struct {
	Name        string      `json:"name"`
	ID          uint32      `json:"id"`
	Fields      []wireField `json:"fields"`
	StaticField []wireField `json:"staticFields"`
	Methods     []string    `json:"methods"`
	StaticMeths []string    `json:"staticMethods"`
	Base        string      `json:"base,omitempty"`
	Constructor string      `json:"constructor,omitempty"`
	Interfaces  []string    `json:"interfaces"`
}

type wireIface struct {
	Name    string      `json:"name"`
	ID      uint32      `json:"id"`
	Fields  []wireField `json:"fields"`
	Methods []string    `json:"methods"`
}

type wireGlobal struct {
	Name    string   `json:"name"`
	Type    wireType `json:"type"`
	Mutable bool     `json:"mutable"`
}

func (t wireType) build(classes map[string]*Class, ifaces map[string]*Interface) (Type, error) {
	switch t.Kind {
	case "number":
		return Number{}, nil
	case "boolean":
		return Boolean{}, nil
	case "string":
		return StringT{}, nil
	case "null":
		return Null{}, nil
	case "undefined":
		return Undefined{}, nil
	case "void":
		return Void{}, nil
	case "any", "":
		return Any{}, nil
	case "array":
		if t.Elem == nil {
			return nil, fmt.Errorf("sem: array type missing elem")
		}
		elem, err := t.Elem.build(classes, ifaces)
		if err != nil {
			return nil, err
		}
		return &ArrayType{Elem: elem}, nil
	case "class":
		c, ok := classes[t.Name]
		if !ok {
			return nil, fmt.Errorf("sem: unknown class %q", t.Name)
		}
		return c, nil
	case "interface":
		i, ok := ifaces[t.Name]
		if !ok {
			return nil, fmt.Errorf("sem: unknown interface %q", t.Name)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("sem: unknown type kind %q", t.Kind)
	}
}

func funcKind(s string) FunctionKind {
	switch s {
	case "method":
		return FuncMethod
	case "static":
		return FuncStatic
	case "getter":
		return FuncGetter
	case "setter":
		return FuncSetter
	case "constructor":
		return FuncConstructor
	default:
		return FuncDefault
	}
}

// build resolves the wire form into a *Resolve. Function bodies (statements
// and expressions) are intentionally out of scope for the wire format: the
// JSON fixture format exists to exercise type and signature lowering
// end-to-end from the CLI; bodies are supplied by constructing *sem.Function
// values directly in Go (as the package tests do).
func (w *wireResolve) build() (*Resolve, error) {
	r := NewResolve(w.ModuleName)
	r.EntryModule = w.EntryModule
	r.Imports = w.Imports

	classes := make(map[string]*Class, len(w.Classes))
	for _, wc := range w.Classes {
		classes[wc.Name] = &Class{Name: wc.Name, ID: wc.ID}
	}
	ifaces := make(map[string]*Interface, len(w.Interfaces))
	for _, wi := range w.Interfaces {
		ifaces[wi.Name] = &Interface{
			Name:    wi.Name,
			ID:      wi.ID,
			Fields:  ordered.New[string, Field](),
			Methods: ordered.New[string, *Function](),
		}
	}
	funcs := make(map[string]*Function, len(w.Functions))
	for _, wf := range w.Functions {
		f := &Function{
			Name:       wf.Name,
			RestParam:  -1,
			Declare:    wf.Declare,
			Kind:       funcKind(wf.Kind),
			Exported:   wf.Exported,
			ImportName: wf.Import,
		}
		if wf.HasRest {
			f.RestParam = wf.RestParam
		}
		for _, p := range wf.Params {
			pt, err := p.Type.build(classes, ifaces)
			if err != nil {
				return nil, err
			}
			f.Params = append(f.Params, Param{Name: p.Name, Type: pt, Optional: p.Optional})
		}
		rt, err := wf.Result.build(classes, ifaces)
		if err != nil {
			return nil, err
		}
		f.Result = rt
		funcs[wf.Name] = f
		if wf.Owner != "" {
			if c, ok := classes[wf.Owner]; ok {
				f.Owner = c
			}
		}
	}

	for _, wc := range w.Classes {
		c := classes[wc.Name]
		for _, wfld := range wc.Fields {
			ft, err := wfld.Type.build(classes, ifaces)
			if err != nil {
				return nil, err
			}
			c.Fields = append(c.Fields, Field{Name: wfld.Name, Type: ft, ReadOnly: wfld.ReadOnly})
		}
		for _, wfld := range wc.StaticField {
			ft, err := wfld.Type.build(classes, ifaces)
			if err != nil {
				return nil, err
			}
			c.StaticField = append(c.StaticField, Field{Name: wfld.Name, Type: ft, ReadOnly: wfld.ReadOnly})
		}
		for _, name := range wc.Methods {
			if f, ok := funcs[name]; ok {
				c.Methods = append(c.Methods, f)
			}
		}
		for _, name := range wc.StaticMeths {
			if f, ok := funcs[name]; ok {
				c.StaticMeths = append(c.StaticMeths, f)
			}
		}
		if wc.Base != "" {
			base, ok := classes[wc.Base]
			if !ok {
				return nil, fmt.Errorf("sem: unknown base class %q", wc.Base)
			}
			c.Base = base
		}
		if wc.Constructor != "" {
			if f, ok := funcs[wc.Constructor]; ok {
				c.Constructor = f
			}
		}
		for _, iname := range wc.Interfaces {
			if iface, ok := ifaces[iname]; ok {
				c.Interfaces = append(c.Interfaces, iface)
			}
		}
		r.Classes.Set(c.Name, c)
	}

	for _, wi := range w.Interfaces {
		i := ifaces[wi.Name]
		for _, wfld := range wi.Fields {
			ft, err := wfld.Type.build(classes, ifaces)
			if err != nil {
				return nil, err
			}
			i.Fields.Set(wfld.Name, Field{Name: wfld.Name, Type: ft, ReadOnly: wfld.ReadOnly})
		}
		for _, name := range wi.Methods {
			if f, ok := funcs[name]; ok {
				i.Methods.Set(name, f)
			}
		}
		r.Interfaces.Set(i.Name, i)
	}

	for _, wf := range w.Functions {
		if f, ok := funcs[wf.Name]; ok && f.Owner == nil {
			r.Functions.Set(f.Name, f)
		}
	}

	for _, wg := range w.Globals {
		gt, err := wg.Type.build(classes, ifaces)
		if err != nil {
			return nil, err
		}
		r.Globals.Set(wg.Name, &Global{Name: wg.Name, Type: gt, Mutable: wg.Mutable})
	}

	return r, nil
}
