package nrt

import (
	"sort"

	"github.com/nianjia-runtime/nrt/api"
	"github.com/nianjia-runtime/nrt/internal/backend"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// CompiledModule is a validated, lowered and code-generated module ready to be instantiated any number
// of times with Runtime.InstantiateModule.
type CompiledModule struct {
	name   string
	module *wasm.Module
	code   *backend.CodeObject
}

// Name returns the module name of the name section, or the empty string.
func (c *CompiledModule) Name() string {
	return c.name
}

// Backend returns the code generator that produced the module.
func (c *CompiledModule) Backend() backend.Arch {
	return c.code.Arch
}

// Fallbacks returns the functions the backend could not translate to machine code.
func (c *CompiledModule) Fallbacks() []string {
	return c.code.Fallbacks
}

// Imports returns the names the generated code expects the loader to resolve: imported constants,
// imported functions and intrinsics.
func (c *CompiledModule) Imports() []string {
	return c.code.Imports
}

// TextSize returns the size of the generated machine code, which is zero for the portable backend.
func (c *CompiledModule) TextSize() int {
	return len(c.code.Text)
}

// FormatSSA returns the text form of the lowered module.
func (c *CompiledModule) FormatSSA() string {
	return c.code.Module.Format()
}

// String implements fmt.Stringer.
func (c *CompiledModule) String() string {
	return c.code.String()
}

// FunctionDefinition is the signature of an exported function.
type FunctionDefinition struct {
	Name        string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// ExportedFunctions returns the exported functions sorted by name.
func (c *CompiledModule) ExportedFunctions() []FunctionDefinition {
	var ret []FunctionDefinition
	for _, e := range c.module.ExportSection {
		if e.Type != wasm.ExternTypeFunc {
			continue
		}
		ft := c.module.TypeOfFunction(e.Index)
		ret = append(ret, FunctionDefinition{Name: e.Name, ParamTypes: ft.Params, ResultTypes: ft.Results})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}
