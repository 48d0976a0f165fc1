package frontend

import (
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

var (
	intCmpConds = map[wasm.Opcode]ssa.IntegerCmpCond{
		wasm.OpcodeI32Eq: ssa.IntegerCmpCondEqual, wasm.OpcodeI64Eq: ssa.IntegerCmpCondEqual,
		wasm.OpcodeI32Ne: ssa.IntegerCmpCondNotEqual, wasm.OpcodeI64Ne: ssa.IntegerCmpCondNotEqual,
		wasm.OpcodeI32LtS: ssa.IntegerCmpCondSignedLessThan, wasm.OpcodeI64LtS: ssa.IntegerCmpCondSignedLessThan,
		wasm.OpcodeI32LtU: ssa.IntegerCmpCondUnsignedLessThan, wasm.OpcodeI64LtU: ssa.IntegerCmpCondUnsignedLessThan,
		wasm.OpcodeI32GtS: ssa.IntegerCmpCondSignedGreaterThan, wasm.OpcodeI64GtS: ssa.IntegerCmpCondSignedGreaterThan,
		wasm.OpcodeI32GtU: ssa.IntegerCmpCondUnsignedGreaterThan, wasm.OpcodeI64GtU: ssa.IntegerCmpCondUnsignedGreaterThan,
		wasm.OpcodeI32LeS: ssa.IntegerCmpCondSignedLessThanOrEqual, wasm.OpcodeI64LeS: ssa.IntegerCmpCondSignedLessThanOrEqual,
		wasm.OpcodeI32LeU: ssa.IntegerCmpCondUnsignedLessThanOrEqual, wasm.OpcodeI64LeU: ssa.IntegerCmpCondUnsignedLessThanOrEqual,
		wasm.OpcodeI32GeS: ssa.IntegerCmpCondSignedGreaterThanOrEqual, wasm.OpcodeI64GeS: ssa.IntegerCmpCondSignedGreaterThanOrEqual,
		wasm.OpcodeI32GeU: ssa.IntegerCmpCondUnsignedGreaterThanOrEqual, wasm.OpcodeI64GeU: ssa.IntegerCmpCondUnsignedGreaterThanOrEqual,
	}

	floatCmpConds = map[wasm.Opcode]ssa.FloatCmpCond{
		wasm.OpcodeF32Eq: ssa.FloatCmpCondEqual, wasm.OpcodeF64Eq: ssa.FloatCmpCondEqual,
		wasm.OpcodeF32Ne: ssa.FloatCmpCondNotEqual, wasm.OpcodeF64Ne: ssa.FloatCmpCondNotEqual,
		wasm.OpcodeF32Lt: ssa.FloatCmpCondLessThan, wasm.OpcodeF64Lt: ssa.FloatCmpCondLessThan,
		wasm.OpcodeF32Gt: ssa.FloatCmpCondGreaterThan, wasm.OpcodeF64Gt: ssa.FloatCmpCondGreaterThan,
		wasm.OpcodeF32Le: ssa.FloatCmpCondLessThanOrEqual, wasm.OpcodeF64Le: ssa.FloatCmpCondLessThanOrEqual,
		wasm.OpcodeF32Ge: ssa.FloatCmpCondGreaterThanOrEqual, wasm.OpcodeF64Ge: ssa.FloatCmpCondGreaterThanOrEqual,
	}
)

// lowerNumeric lowers constants and arithmetic. It returns false if op is none of them.
func (c *FunctionCompiler) lowerNumeric(op wasm.Opcode) bool {
	builder := c.builder
	state := &c.state

	// Constants decode their immediates even in unreachable code.
	switch op {
	case wasm.OpcodeI32Const:
		v := c.readI32s()
		if !state.unreachable {
			state.push(builder.AllocateInstruction().AsIconst32(uint32(v)).Insert(builder).Return())
		}
		return true
	case wasm.OpcodeI64Const:
		v := c.readI64s()
		if !state.unreachable {
			state.push(builder.AllocateInstruction().AsIconst64(uint64(v)).Insert(builder).Return())
		}
		return true
	case wasm.OpcodeF32Const:
		v := c.readF32()
		if !state.unreachable {
			state.push(builder.AllocateInstruction().AsF32const(v).Insert(builder).Return())
		}
		return true
	case wasm.OpcodeF64Const:
		v := c.readF64()
		if !state.unreachable {
			state.push(builder.AllocateInstruction().AsF64const(v).Insert(builder).Return())
		}
		return true
	}

	if cond, ok := intCmpConds[op]; ok {
		if !state.unreachable {
			y, x := state.pop(), state.pop()
			c.pushBool(builder.AllocateInstruction().AsIcmp(x, y, cond).Insert(builder).Return())
		}
		return true
	}
	if cond, ok := floatCmpConds[op]; ok {
		if !state.unreachable {
			y, x := state.pop(), state.pop()
			c.pushBool(builder.AllocateInstruction().AsFcmp(x, y, cond).Insert(builder).Return())
		}
		return true
	}

	var binary func(i *ssa.Instruction, x, y ssa.Value) *ssa.Instruction
	var unary func(x ssa.Value) ssa.Value
	switch op {
	case wasm.OpcodeI32Add, wasm.OpcodeI64Add:
		binary = (*ssa.Instruction).AsIadd
	case wasm.OpcodeI32Sub, wasm.OpcodeI64Sub:
		binary = (*ssa.Instruction).AsIsub
	case wasm.OpcodeI32Mul, wasm.OpcodeI64Mul:
		binary = (*ssa.Instruction).AsImul
	case wasm.OpcodeI32And, wasm.OpcodeI64And:
		binary = (*ssa.Instruction).AsBand
	case wasm.OpcodeI32Or, wasm.OpcodeI64Or:
		binary = (*ssa.Instruction).AsBor
	case wasm.OpcodeI32Xor, wasm.OpcodeI64Xor:
		binary = (*ssa.Instruction).AsBxor
	case wasm.OpcodeI32Shl, wasm.OpcodeI64Shl:
		binary = (*ssa.Instruction).AsIshl
	case wasm.OpcodeI32ShrS, wasm.OpcodeI64ShrS:
		binary = (*ssa.Instruction).AsSshr
	case wasm.OpcodeI32ShrU, wasm.OpcodeI64ShrU:
		binary = (*ssa.Instruction).AsUshr
	case wasm.OpcodeF32Add, wasm.OpcodeF64Add:
		binary = (*ssa.Instruction).AsFadd
	case wasm.OpcodeF32Sub, wasm.OpcodeF64Sub:
		binary = (*ssa.Instruction).AsFsub
	case wasm.OpcodeF32Mul, wasm.OpcodeF64Mul:
		binary = (*ssa.Instruction).AsFmul
	case wasm.OpcodeF32Div, wasm.OpcodeF64Div:
		binary = (*ssa.Instruction).AsFdiv
	case wasm.OpcodeI32Eqz, wasm.OpcodeI64Eqz:
		unary = func(x ssa.Value) ssa.Value {
			zero := c.mc.Types.Zero(builder, x.Type())
			cmp := builder.AllocateInstruction().AsIcmp(x, zero, ssa.IntegerCmpCondEqual).Insert(builder).Return()
			return builder.AllocateInstruction().AsUextend(cmp, ssa.TypeI32).Insert(builder).Return()
		}
	case wasm.OpcodeI32WrapI64:
		unary = c.convert((*ssa.Instruction).AsIreduce, ssa.TypeI32)
	case wasm.OpcodeI64ExtendI32S:
		unary = c.convert((*ssa.Instruction).AsSextend, ssa.TypeI64)
	case wasm.OpcodeI64ExtendI32U:
		unary = c.convert((*ssa.Instruction).AsUextend, ssa.TypeI64)
	case wasm.OpcodeI32ReinterpretF32:
		unary = c.convert((*ssa.Instruction).AsBitcast, ssa.TypeI32)
	case wasm.OpcodeI64ReinterpretF64:
		unary = c.convert((*ssa.Instruction).AsBitcast, ssa.TypeI64)
	case wasm.OpcodeF32ReinterpretI32:
		unary = c.convert((*ssa.Instruction).AsBitcast, ssa.TypeF32)
	case wasm.OpcodeF64ReinterpretI64:
		unary = c.convert((*ssa.Instruction).AsBitcast, ssa.TypeF64)
	default:
		return false
	}

	if state.unreachable {
		return true
	}
	if binary != nil {
		y, x := state.pop(), state.pop()
		if x.Type() != y.Type() {
			malformed("%s on %s and %s", wasm.InstructionName(op), x.Type(), y.Type())
		}
		state.push(binary(builder.AllocateInstruction(), x, y).Insert(builder).Return())
	} else {
		state.push(unary(state.pop()))
	}
	return true
}

// pushBool widens an i1 to the i32 Wasm uses for booleans.
func (c *FunctionCompiler) pushBool(v ssa.Value) {
	builder := c.builder
	c.state.push(builder.AllocateInstruction().AsUextend(v, ssa.TypeI32).Insert(builder).Return())
}

func (c *FunctionCompiler) convert(as func(i *ssa.Instruction, x ssa.Value, typ ssa.Type) *ssa.Instruction, to ssa.Type) func(ssa.Value) ssa.Value {
	return func(x ssa.Value) ssa.Value {
		return as(c.builder.AllocateInstruction(), x, to).Insert(c.builder).Return()
	}
}
