package frontend

import (
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

func (c *FunctionCompiler) lowerVariable(op wasm.Opcode) {
	builder := c.builder
	state := &c.state
	index := c.readU32()
	if state.unreachable {
		return
	}

	switch op {
	case wasm.OpcodeLocalGet:
		l := c.local(index)
		state.push(builder.AllocateInstruction().AsStackLoad(l.slot, l.typ).Insert(builder).Return())
	case wasm.OpcodeLocalSet:
		l := c.local(index)
		builder.AllocateInstruction().AsStackStore(c.canonicalize(state.pop()), l.slot).Insert(builder)
	case wasm.OpcodeLocalTee:
		l := c.local(index)
		builder.AllocateInstruction().AsStackStore(c.canonicalize(state.peek()), l.slot).Insert(builder)
	case wasm.OpcodeGlobalGet:
		typ := c.globalType(index)
		addr := c.globalAddress(index)
		size := typ.Size()
		v := builder.AllocateInstruction().AsLoad(addr, typ, access(size, log2(size))).Insert(builder).Return()
		state.push(v)
	case wasm.OpcodeGlobalSet:
		typ := c.globalType(index)
		if !c.mc.Wasm.TypeOfGlobal(index).Mutable {
			malformed("global.set of immutable global %d", index)
		}
		v := c.canonicalize(state.pop())
		if v.Type() != typ {
			malformed("global.set %d of %s to %s", index, typ, v.Type())
		}
		size := typ.Size()
		builder.AllocateInstruction().AsStore(v, c.globalAddress(index), access(size, log2(size))).Insert(builder)
	}
}

func (c *FunctionCompiler) local(index wasm.Index) local {
	if index >= wasm.Index(len(c.locals)) {
		malformed("local %d out of range (%d locals)", index, len(c.locals))
	}
	return c.locals[index]
}

func (c *FunctionCompiler) globalType(index wasm.Index) ssa.Type {
	gt := c.mc.Wasm.TypeOfGlobal(index)
	if gt == nil {
		malformed("global %d out of range", index)
	}
	return c.mc.Types.SSAType(gt.ValType)
}

// globalAddress computes the address of a global. Inline globals live in the context at the offset
// given by their symbol, the others at the absolute address given by their symbol.
func (c *FunctionCompiler) globalAddress(index wasm.Index) ssa.Value {
	builder := c.builder
	addr := builder.AllocateInstruction().AsSymbol(c.mc.globals[index]).Insert(builder).Return()
	if c.mc.globalInline(index) {
		ctx := builder.AllocateInstruction().AsPtrToInt(c.contextPointer()).Insert(builder).Return()
		addr = builder.AllocateInstruction().AsIadd(ctx, addr).Insert(builder).Return()
	}
	return builder.AllocateInstruction().AsIntToPtr(addr).Insert(builder).Return()
}

func log2(size byte) byte {
	var ret byte
	for size > 1 {
		size >>= 1
		ret++
	}
	return ret
}
