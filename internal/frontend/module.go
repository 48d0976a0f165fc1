package frontend

import (
	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// ModuleContext is the SSA module shell of one WebAssembly module. Every imported constant,
// signature and function is declared when it is created and the SSA module is frozen, so function
// bodies may then be lowered concurrently.
type ModuleContext struct {
	Wasm  *wasm.Module
	SSA   *ssa.Module
	Types *TypeCatalog

	// signatures are indexed by wasm type index.
	signatures    []*ssa.Signature
	typeIDs       []ssa.SymbolRef
	globals       []ssa.SymbolRef
	memoryOffsets []ssa.SymbolRef
	tableOffsets  []ssa.SymbolRef
	// functions and functionSymbols are indexed by the combined function index.
	functions       []ssa.FuncRef
	functionSymbols []ssa.SymbolRef

	trap, memoryGrow, memorySize ssa.FuncRef
	trapSig, memoryGrowSig       *ssa.Signature
	memorySizeSig                *ssa.Signature
}

// NewModuleContext declares the shell of m into a new SSA module.
func NewModuleContext(m *wasm.Module, name string, types *TypeCatalog) *ModuleContext {
	if types == nil {
		types = DefaultTypeCatalog()
	}
	mc := &ModuleContext{Wasm: m, SSA: ssa.NewModule(name), Types: types}
	sm := mc.SSA

	for i, ft := range m.TypeSection {
		mc.signatures = append(mc.signatures, types.Signature(sm, ft))
		mc.typeIDs = append(mc.typeIDs, sm.DeclareImportedConstant(abi.SymbolName(abi.SymbolKindTypeID, uint32(i))))
	}
	for i := wasm.Index(0); i < m.GlobalCount(); i++ {
		mc.globals = append(mc.globals, sm.DeclareImportedConstant(abi.SymbolName(abi.SymbolKindGlobal, i)))
	}
	for i := wasm.Index(0); i < m.MemoryCount(); i++ {
		mc.memoryOffsets = append(mc.memoryOffsets, sm.DeclareImportedConstant(abi.SymbolName(abi.SymbolKindMemoryOffset, i)))
	}
	for i := wasm.Index(0); i < m.TableCount(); i++ {
		mc.tableOffsets = append(mc.tableOffsets, sm.DeclareImportedConstant(abi.SymbolName(abi.SymbolKindTableOffset, i)))
	}

	imported := m.ImportCount(wasm.ExternTypeFunc)
	for i := wasm.Index(0); i < m.FunctionCount(); i++ {
		sig := mc.signatures[mustTypeIndex(m, i)]
		var name string
		var linkage ssa.Linkage
		if i < imported {
			name, linkage = abi.SymbolName(abi.SymbolKindFunctionImport, i), ssa.LinkageImported
		} else {
			name, linkage = abi.SymbolName(abi.SymbolKindFunctionDef, i-imported), ssa.LinkageDefined
		}
		ref := sm.DeclareFunction(name, sig, linkage)
		if linkage == ssa.LinkageDefined {
			sm.Function(ref).Personality = abi.PersonalitySymbol
		}
		mc.functions = append(mc.functions, ref)
		mc.functionSymbols = append(mc.functionSymbols, sm.DeclareImportedConstant(name))
	}

	mc.trapSig = sm.DeclareSignature([]ssa.Type{ssa.TypePtr, ssa.TypeI32}, nil, ssa.CallConvC)
	mc.memoryGrowSig = sm.DeclareSignature([]ssa.Type{ssa.TypePtr, ssa.TypeI32, ssa.TypeI32}, []ssa.Type{ssa.TypeI32}, ssa.CallConvC)
	mc.memorySizeSig = sm.DeclareSignature([]ssa.Type{ssa.TypePtr, ssa.TypeI32}, []ssa.Type{ssa.TypeI32}, ssa.CallConvC)
	mc.trap = sm.DeclareFunction(abi.IntrinsicTrap, mc.trapSig, ssa.LinkageIntrinsic)
	mc.memoryGrow = sm.DeclareFunction(abi.IntrinsicMemoryGrow, mc.memoryGrowSig, ssa.LinkageIntrinsic)
	mc.memorySize = sm.DeclareFunction(abi.IntrinsicMemorySize, mc.memorySizeSig, ssa.LinkageIntrinsic)

	sm.Freeze()
	return mc
}

func mustTypeIndex(m *wasm.Module, funcIdx wasm.Index) wasm.Index {
	typeIdx, ok := m.TypeIndexOfFunction(funcIdx)
	if !ok || typeIdx >= wasm.Index(len(m.TypeSection)) {
		panic("BUG: function type out of range; the module must be validated first")
	}
	return typeIdx
}

// FunctionRef returns the SSA function of the combined function index.
func (mc *ModuleContext) FunctionRef(funcIdx wasm.Index) ssa.FuncRef {
	return mc.functions[funcIdx]
}

// DefinedFunctionRef returns the SSA function of the module-defined function at defIdx.
func (mc *ModuleContext) DefinedFunctionRef(defIdx wasm.Index) ssa.FuncRef {
	return mc.functions[mc.Wasm.ImportCount(wasm.ExternTypeFunc)+defIdx]
}

// SignatureOf returns the SSA signature of the function at funcIdx.
func (mc *ModuleContext) SignatureOf(funcIdx wasm.Index) *ssa.Signature {
	return mc.signatures[mustTypeIndex(mc.Wasm, funcIdx)]
}

// hasMemory is true if the module defines or imports a memory.
func (mc *ModuleContext) hasMemory() bool {
	return len(mc.memoryOffsets) > 0
}

// globalInline reports whether the global is addressed relative to the context.
func (mc *ModuleContext) globalInline(index wasm.Index) bool {
	gt := mc.Wasm.TypeOfGlobal(index)
	return abi.GlobalInline(mc.Wasm.IsImport(wasm.ExternTypeGlobal, index), gt.Mutable)
}
