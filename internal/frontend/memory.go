package frontend

import (
	"encoding/binary"

	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

type memoryOp struct {
	typ    ssa.Type
	size   byte
	signed bool
	store  bool
}

var memoryOps = map[wasm.Opcode]memoryOp{
	wasm.OpcodeI32Load:    {typ: ssa.TypeI32, size: 4},
	wasm.OpcodeI64Load:    {typ: ssa.TypeI64, size: 8},
	wasm.OpcodeF32Load:    {typ: ssa.TypeF32, size: 4},
	wasm.OpcodeF64Load:    {typ: ssa.TypeF64, size: 8},
	wasm.OpcodeI32Load8S:  {typ: ssa.TypeI32, size: 1, signed: true},
	wasm.OpcodeI32Load8U:  {typ: ssa.TypeI32, size: 1},
	wasm.OpcodeI32Load16S: {typ: ssa.TypeI32, size: 2, signed: true},
	wasm.OpcodeI32Load16U: {typ: ssa.TypeI32, size: 2},
	wasm.OpcodeI64Load8S:  {typ: ssa.TypeI64, size: 1, signed: true},
	wasm.OpcodeI64Load8U:  {typ: ssa.TypeI64, size: 1},
	wasm.OpcodeI64Load16S: {typ: ssa.TypeI64, size: 2, signed: true},
	wasm.OpcodeI64Load16U: {typ: ssa.TypeI64, size: 2},
	wasm.OpcodeI64Load32S: {typ: ssa.TypeI64, size: 4, signed: true},
	wasm.OpcodeI64Load32U: {typ: ssa.TypeI64, size: 4},
	wasm.OpcodeI32Store:   {typ: ssa.TypeI32, size: 4, store: true},
	wasm.OpcodeI64Store:   {typ: ssa.TypeI64, size: 8, store: true},
	wasm.OpcodeF32Store:   {typ: ssa.TypeF32, size: 4, store: true},
	wasm.OpcodeF64Store:   {typ: ssa.TypeF64, size: 8, store: true},
	wasm.OpcodeI32Store8:  {typ: ssa.TypeI32, size: 1, store: true},
	wasm.OpcodeI32Store16: {typ: ssa.TypeI32, size: 2, store: true},
	wasm.OpcodeI64Store8:  {typ: ssa.TypeI64, size: 1, store: true},
	wasm.OpcodeI64Store16: {typ: ssa.TypeI64, size: 2, store: true},
	wasm.OpcodeI64Store32: {typ: ssa.TypeI64, size: 4, store: true},
}

func (c *FunctionCompiler) lowerMemory(op wasm.Opcode) {
	switch op {
	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		c.lowerMemorySizeGrow(op)
		return
	}
	mop, ok := memoryOps[op]
	if !ok {
		panic("BUG: not a memory instruction: " + wasm.InstructionName(op))
	}
	c.lowerAccess(wasm.InstructionName(op), mop)
}

func (c *FunctionCompiler) lowerVecMemory(op wasm.OpcodeVec) {
	switch op {
	case wasm.OpcodeVecV128Load:
		c.lowerAccess("v128.load", memoryOp{typ: ssa.TypeV128, size: 16})
	case wasm.OpcodeVecV128Store:
		c.lowerAccess("v128.store", memoryOp{typ: ssa.TypeV128, size: 16, store: true})
	}
}

func (c *FunctionCompiler) lowerVecConst() {
	data := c.readFixed(16)
	if c.state.unreachable {
		return
	}
	builder := c.builder
	lo, hi := binary.LittleEndian.Uint64(data), binary.LittleEndian.Uint64(data[8:])
	c.state.push(builder.AllocateInstruction().AsVconst(lo, hi).Insert(builder).Return())
}

func (c *FunctionCompiler) lowerAccess(name string, mop memoryOp) {
	align, offset := c.readMemArg()
	if c.state.unreachable {
		return
	}
	if !c.mc.hasMemory() {
		malformed("%s without memory", name)
	}
	if align > uint32(log2(mop.size)) {
		malformed("%s alignment 2^%d exceeds natural alignment", name, align)
	}

	builder := c.builder
	state := &c.state
	a := ssa.MemoryAccess{Size: mop.size, Signed: mop.signed, AlignLog2: byte(align), Volatile: true}
	var v ssa.Value
	if mop.store {
		v = c.canonicalize(state.pop())
		if v.Type() != mop.typ {
			malformed("%s of %s", name, v.Type())
		}
	}
	addr := state.pop()
	if addr.Type() != ssa.TypeI32 {
		malformed("%s address must be i32, but was %s", name, addr.Type())
	}
	ptr := c.effectiveAddress(addr, offset, mop.size)
	if mop.store {
		builder.AllocateInstruction().AsStore(v, ptr, a).Insert(builder)
	} else {
		state.push(builder.AllocateInstruction().AsLoad(ptr, mop.typ, a).Insert(builder).Return())
	}
}

// effectiveAddress returns the host address of addr+offset in memory 0. With bounds checks enabled,
// the access traps unless all of its size bytes are below the current memory length.
func (c *FunctionCompiler) effectiveAddress(addr ssa.Value, offset uint32, size byte) ssa.Value {
	builder := c.builder
	ea := builder.AllocateInstruction().AsUextend(addr, ssa.TypeI64).Insert(builder).Return()
	if offset != 0 {
		off := builder.AllocateInstruction().AsIconst64(uint64(offset)).Insert(builder).Return()
		ea = builder.AllocateInstruction().AsIadd(ea, off).Insert(builder).Return()
	}

	if c.cfg.BoundsChecks {
		sizeV := builder.AllocateInstruction().AsIconst64(uint64(size)).Insert(builder).Return()
		end := builder.AllocateInstruction().AsIadd(ea, sizeV).Insert(builder).Return()
		record := c.memoryRecordAddress(0, abi.MemoryRecordLengthOffset)
		length := builder.AllocateInstruction().AsLoad(record, ssa.TypeI64, access(8, 3)).Insert(builder).Return()
		oob := builder.AllocateInstruction().AsIcmp(end, length, ssa.IntegerCmpCondUnsignedGreaterThan).Insert(builder).Return()

		trapBlk, cont := builder.AllocateBasicBlock(), builder.AllocateBasicBlock()
		builder.AllocateInstruction().AsBrif(oob, trapBlk, cont).Insert(builder)
		builder.SetCurrentBlock(trapBlk)
		c.trap(abi.TrapCodeOutOfBoundsMemoryAccess)
		builder.MoveBlockAfter(cont, trapBlk)
		builder.SetCurrentBlock(cont)
	}

	base := builder.AllocateInstruction().AsStackLoad(c.memBaseSlot, ssa.TypePtr).Insert(builder).Return()
	return builder.AllocateInstruction().AsGep(base, ea).Insert(builder).Return()
}

func (c *FunctionCompiler) lowerMemorySizeGrow(op wasm.Opcode) {
	if reserved := c.readByte(); reserved != 0 {
		malformed("%s: reserved byte must be zero, but was %#x", wasm.InstructionName(op), reserved)
	}
	if c.state.unreachable {
		return
	}
	if !c.mc.hasMemory() {
		malformed("%s without memory", wasm.InstructionName(op))
	}
	builder := c.builder
	state := &c.state
	index := builder.AllocateInstruction().AsIconst32(0).Insert(builder).Return()
	var call *ssa.Instruction
	if op == wasm.OpcodeMemorySize {
		args := []ssa.Value{c.contextPointer(), index}
		call = builder.AllocateInstruction().AsCall(c.mc.memorySize, c.mc.memorySizeSig, args)
	} else {
		delta := state.pop()
		if delta.Type() != ssa.TypeI32 {
			malformed("memory.grow delta must be i32, but was %s", delta.Type())
		}
		args := []ssa.Value{c.contextPointer(), index, delta}
		call = builder.AllocateInstruction().AsCall(c.mc.memoryGrow, c.mc.memoryGrowSig, args)
	}
	// Memories never move when they grow, so the cached base stays valid.
	state.push(call.Insert(builder).Return())
}
