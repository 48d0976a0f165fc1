package ssa

import (
	"fmt"
	"strings"
	"sync"
)

// FuncRef is a unique identifier for a function declared in a Module.
type FuncRef uint32

// String implements fmt.Stringer.
func (r FuncRef) String() string {
	return fmt.Sprintf("f%d", r)
}

// SymbolRef is a unique identifier for an imported constant declared in a Module.
type SymbolRef uint32

// String implements fmt.Stringer.
func (r SymbolRef) String() string {
	return fmt.Sprintf("s%d", r)
}

// Linkage tells where the body of a declared function comes from.
type Linkage byte

const (
	// LinkageDefined functions get their body from a Builder.
	LinkageDefined Linkage = iota
	// LinkageImported functions are provided by another module or the host at load time.
	LinkageImported
	// LinkageIntrinsic functions are implemented by the runtime.
	LinkageIntrinsic
)

// String implements fmt.Stringer.
func (l Linkage) String() string {
	switch l {
	case LinkageDefined:
		return "defined"
	case LinkageImported:
		return "imported"
	case LinkageIntrinsic:
		return "intrinsic"
	}
	return fmt.Sprintf("linkage(%d)", byte(l))
}

// FunctionDecl is a function declared in a Module.
type FunctionDecl struct {
	Ref       FuncRef
	Name      string
	Signature *Signature
	Linkage   Linkage
	// Personality is the exception personality symbol of defined functions, if any.
	Personality string

	body *Function
}

// Body returns the lowered body of a defined function, or nil.
func (d *FunctionDecl) Body() *Function {
	return d.body
}

// Symbol is an imported constant: a named 64-bit value the loader supplies when the code is loaded.
type Symbol struct {
	Ref  SymbolRef
	Name string
}

// Module is the unit of compilation: declared functions, imported constants and signatures, plus
// the bodies produced by Builders.
//
// Declarations must all happen before Freeze. After that, bodies of distinct functions may be
// set concurrently.
type Module struct {
	Name string

	mux           sync.Mutex
	frozen        bool
	functions     []*FunctionDecl
	functionNames map[string]FuncRef
	symbols       []*Symbol
	symbolNames   map[string]SymbolRef
	signatures    []*Signature
}

// NewModule returns an empty Module.
func NewModule(name string) *Module {
	return &Module{
		Name:          name,
		functionNames: map[string]FuncRef{},
		symbolNames:   map[string]SymbolRef{},
	}
}

func (m *Module) mustNotBeFrozen(what string) {
	if m.frozen {
		panic(fmt.Sprintf("BUG: %s declared after the module was frozen", what))
	}
}

// Freeze forbids further declarations.
func (m *Module) Freeze() {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.frozen = true
}

// DeclareSignature returns the signature equal to the given one, declaring it if it is new.
func (m *Module) DeclareSignature(params, results []Type, cc CallConv) *Signature {
	m.mux.Lock()
	defer m.mux.Unlock()
	s := &Signature{Params: params, Results: results, CallConv: cc}
	for _, existing := range m.signatures {
		if existing.equals(s) {
			return existing
		}
	}
	m.mustNotBeFrozen("signature " + s.String())
	if len(results) > 1 {
		panic(fmt.Sprintf("BUG: signature with %d results", len(results)))
	}
	s.ID = SignatureID(len(m.signatures))
	m.signatures = append(m.signatures, s)
	return s
}

// DeclareFunction declares a function. Declaring the same name twice returns the first declaration
// if the signature and linkage agree.
func (m *Module) DeclareFunction(name string, sig *Signature, linkage Linkage) FuncRef {
	m.mux.Lock()
	defer m.mux.Unlock()
	if ref, ok := m.functionNames[name]; ok {
		d := m.functions[ref]
		if d.Signature != sig || d.Linkage != linkage {
			panic(fmt.Sprintf("BUG: function %s redeclared with a different prototype", name))
		}
		return ref
	}
	m.mustNotBeFrozen("function " + name)
	ref := FuncRef(len(m.functions))
	m.functions = append(m.functions, &FunctionDecl{Ref: ref, Name: name, Signature: sig, Linkage: linkage})
	m.functionNames[name] = ref
	return ref
}

// DeclareImportedConstant declares a named constant supplied at load time, or returns the existing
// one with the same name.
func (m *Module) DeclareImportedConstant(name string) SymbolRef {
	m.mux.Lock()
	defer m.mux.Unlock()
	if ref, ok := m.symbolNames[name]; ok {
		return ref
	}
	m.mustNotBeFrozen("symbol " + name)
	ref := SymbolRef(len(m.symbols))
	m.symbols = append(m.symbols, &Symbol{Ref: ref, Name: name})
	m.symbolNames[name] = ref
	return ref
}

// Function returns the declaration of ref.
func (m *Module) Function(ref FuncRef) *FunctionDecl {
	return m.functions[ref]
}

// LookupFunction returns the function declared with the name.
func (m *Module) LookupFunction(name string) (*FunctionDecl, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	ref, ok := m.functionNames[name]
	if !ok {
		return nil, false
	}
	return m.functions[ref], true
}

// Functions returns every declared function in declaration order.
func (m *Module) Functions() []*FunctionDecl {
	return m.functions
}

// Symbol returns the imported constant ref.
func (m *Module) Symbol(ref SymbolRef) *Symbol {
	return m.symbols[ref]
}

// LookupSymbol returns the imported constant declared with the name.
func (m *Module) LookupSymbol(name string) (*Symbol, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	ref, ok := m.symbolNames[name]
	if !ok {
		return nil, false
	}
	return m.symbols[ref], true
}

// Symbols returns every imported constant in declaration order.
func (m *Module) Symbols() []*Symbol {
	return m.symbols
}

// Signatures returns every declared signature.
func (m *Module) Signatures() []*Signature {
	return m.signatures
}

// SetBody attaches the function built by b to the defined function ref.
func (m *Module) SetBody(ref FuncRef, fn *Function) {
	d := m.functions[ref]
	if d.Linkage != LinkageDefined {
		panic(fmt.Sprintf("BUG: body set on %s function %s", d.Linkage, d.Name))
	}
	if d.body != nil {
		panic(fmt.Sprintf("BUG: body of %s set twice", d.Name))
	}
	fn.decl = d
	d.body = fn
}

// Format returns the text form of the whole module.
func (m *Module) Format() string {
	var str strings.Builder
	fmt.Fprintf(&str, "module %s\n", m.Name)
	for _, s := range m.signatures {
		fmt.Fprintf(&str, "signature %s\n", s)
	}
	for _, s := range m.symbols {
		fmt.Fprintf(&str, "symbol %s = %s\n", s.Ref, s.Name)
	}
	for _, f := range m.functions {
		fmt.Fprintf(&str, "%s %s %s %s", f.Linkage, f.Ref, f.Name, f.Signature.ID)
		if f.Personality != "" {
			fmt.Fprintf(&str, " personality %s", f.Personality)
		}
		str.WriteByte('\n')
	}
	for _, f := range m.functions {
		if f.body != nil {
			str.WriteByte('\n')
			str.WriteString(f.body.Format())
		}
	}
	return str.String()
}
