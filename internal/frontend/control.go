package frontend

import (
	"github.com/nianjia-runtime/nrt/internal/abi"
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

func (c *FunctionCompiler) lowerControl(op wasm.Opcode) {
	builder := c.builder
	state := &c.state
	switch op {
	case wasm.OpcodeNop:
	case wasm.OpcodeUnreachable:
		if state.unreachable {
			break
		}
		c.trap(abi.TrapCodeUnreachable)
		state.enterUnreachable()

	case wasm.OpcodeBlock:
		bt := c.readBlockType()
		if state.unreachable {
			state.unreachableDepth++
			break
		}
		frame := controlFrame{kind: controlFrameKindBlock, resultType: bt, end: builder.AllocateBasicBlock()}
		if frame.hasResult() {
			frame.merge = builder.AllocatePhi(frame.end, bt)
		}
		state.ctrlPush(frame, branchTarget{blk: frame.end, typ: bt, merge: frame.merge})

	case wasm.OpcodeLoop:
		bt := c.readBlockType()
		if state.unreachable {
			state.unreachableDepth++
			break
		}
		body, end := builder.AllocateBasicBlock(), builder.AllocateBasicBlock()
		frame := controlFrame{kind: controlFrameKindLoop, resultType: bt, end: end}
		if frame.hasResult() {
			frame.merge = builder.AllocatePhi(end, bt)
		}
		builder.AllocateInstruction().AsJump(body).Insert(builder)
		builder.MoveBlockAfter(body, builder.CurrentBlock())
		builder.SetCurrentBlock(body)
		// Branches to a loop restart its body and carry no value.
		state.ctrlPush(frame, branchTarget{blk: body, typ: ssa.TypeInvalid})

	case wasm.OpcodeIf:
		bt := c.readBlockType()
		if state.unreachable {
			state.unreachableDepth++
			break
		}
		cond := c.truthy(state.pop())
		then, els, end := builder.AllocateBasicBlock(), builder.AllocateBasicBlock(), builder.AllocateBasicBlock()
		frame := controlFrame{kind: controlFrameKindIfThen, resultType: bt, end: end, els: els}
		if frame.hasResult() {
			frame.merge = builder.AllocatePhi(end, bt)
		}
		builder.AllocateInstruction().AsBrif(cond, then, els).Insert(builder)
		builder.MoveBlockAfter(then, builder.CurrentBlock())
		builder.SetCurrentBlock(then)
		state.ctrlPush(frame, branchTarget{blk: end, typ: bt, merge: frame.merge})

	case wasm.OpcodeElse:
		if state.unreachableDepth > 0 {
			break
		}
		frame := state.ctrlPeek()
		if frame.kind != controlFrameKindIfThen {
			malformed("else without matching if")
		}
		c.leaveFrame(frame)
		state.values = state.values[:frame.stackLen]
		builder.MoveBlockAfter(frame.els, builder.CurrentBlock())
		builder.SetCurrentBlock(frame.els)
		frame.kind = controlFrameKindIfElse

	case wasm.OpcodeEnd:
		if state.unreachableDepth > 0 {
			state.unreachableDepth--
			break
		}
		c.leaveFrame(state.ctrlPeek())
		frame := state.ctrlPop()
		if frame.kind == controlFrameKindIfThen {
			if frame.hasResult() {
				malformed("if with result %s requires else", frame.resultType)
			}
			// The missing else falls through to the end.
			builder.SetCurrentBlock(frame.els)
			builder.AllocateInstruction().AsJump(frame.end).Insert(builder)
		}
		state.values = state.values[:frame.stackLen]

		builder.MoveBlockAfter(frame.end, builder.CurrentBlock())
		builder.SetCurrentBlock(frame.end)

		result := ssa.ValueInvalid
		if frame.merge != nil {
			if frame.merge.IncomingCount() == 0 {
				// Nothing reaches the end, so the block is dead and any value will do.
				builder.RemoveInstruction(frame.merge)
				result = c.mc.Types.Zero(builder, frame.resultType)
			} else {
				result = frame.merge.Return()
			}
		}
		if frame.kind == controlFrameKindFunction {
			builder.AllocateInstruction().AsReturn(result).Insert(builder)
			break
		}
		if result.Valid() {
			state.push(result)
		}

	case wasm.OpcodeBr:
		depth := c.readU32()
		if state.unreachable {
			break
		}
		c.branch(state.target(depth))
		state.enterUnreachable()

	case wasm.OpcodeBrIf:
		depth := c.readU32()
		if state.unreachable {
			break
		}
		cond := c.truthy(state.pop())
		target := state.target(depth)
		if target.merge != nil {
			// The value stays on the stack for the fall-through path.
			c.addIncoming(target.merge, c.canonicalize(state.peek()), builder.CurrentBlock())
		}
		cont := builder.AllocateBasicBlock()
		builder.AllocateInstruction().AsBrif(cond, target.blk, cont).Insert(builder)
		builder.MoveBlockAfter(cont, builder.CurrentBlock())
		builder.SetCurrentBlock(cont)

	case wasm.OpcodeBrTable:
		n := c.readU32()
		// Each depth takes at least one byte.
		if remaining := len(c.body) - c.state.pc; uint64(n) > uint64(remaining) {
			malformed("br_table with %d targets exceeds the remaining %d bytes", n, remaining)
		}
		depths := make([]uint32, n)
		for i := range depths {
			depths[i] = c.readU32()
		}
		defaultDepth := c.readU32()
		if state.unreachable {
			break
		}
		selector := state.pop()
		if selector.Type() != ssa.TypeI32 {
			malformed("br_table selector must be i32, but was %s", selector.Type())
		}
		defaultTarget := state.target(defaultDepth)
		value := ssa.ValueInvalid
		if defaultTarget.merge != nil {
			value = c.canonicalize(state.pop())
		}
		current := builder.CurrentBlock()
		targets := make([]ssa.BasicBlock, n)
		for i, d := range depths {
			t := state.target(d)
			if (t.merge != nil) != value.Valid() {
				malformed("br_table targets have inconsistent arity")
			}
			if t.merge != nil {
				c.addIncoming(t.merge, value, current)
			}
			targets[i] = t.blk
		}
		if defaultTarget.merge != nil {
			c.addIncoming(defaultTarget.merge, value, current)
		}
		builder.AllocateInstruction().AsSwitch(selector, defaultTarget.blk, targets).Insert(builder)
		state.enterUnreachable()

	case wasm.OpcodeReturn:
		if state.unreachable {
			break
		}
		c.branch(&state.targets[0])
		state.enterUnreachable()

	case wasm.OpcodeCall:
		funcIdx := c.readU32()
		if state.unreachable {
			break
		}
		if funcIdx >= c.mc.Wasm.FunctionCount() {
			malformed("call to function %d out of range", funcIdx)
		}
		c.call(funcIdx)

	case wasm.OpcodeDrop:
		if state.unreachable {
			break
		}
		state.pop()

	case wasm.OpcodeSelect:
		if state.unreachable {
			break
		}
		cond := c.truthy(state.pop())
		y := c.canonicalize(state.pop())
		x := c.canonicalize(state.pop())
		if x.Type() != y.Type() {
			malformed("select operands have types %s and %s", x.Type(), y.Type())
		}
		ret := builder.AllocateInstruction().AsSelect(cond, x, y).Insert(builder).Return()
		state.push(ret)

	default:
		panic("BUG: not a control instruction: " + wasm.InstructionName(op))
	}
}

// leaveFrame closes the current arm of the frame: if control reaches it, the result flows into the
// merge and control jumps to the end block. Afterwards the code is reachable again.
func (c *FunctionCompiler) leaveFrame(frame *controlFrame) {
	state := &c.state
	if state.unreachable {
		state.unreachable = false
		return
	}
	builder := c.builder
	if frame.merge != nil {
		c.addIncoming(frame.merge, c.canonicalize(state.pop()), builder.CurrentBlock())
	}
	builder.AllocateInstruction().AsJump(frame.end).Insert(builder)
}

// branch jumps to the target, passing the top of the stack if the target has a result.
func (c *FunctionCompiler) branch(target *branchTarget) {
	builder := c.builder
	if target.merge != nil {
		c.addIncoming(target.merge, c.canonicalize(c.state.pop()), builder.CurrentBlock())
	}
	builder.AllocateInstruction().AsJump(target.blk).Insert(builder)
}

func (c *FunctionCompiler) call(funcIdx wasm.Index) {
	builder := c.builder
	state := &c.state
	ft := c.mc.Wasm.TypeOfFunction(funcIdx)
	sig := c.mc.SignatureOf(funcIdx)
	args := make([]ssa.Value, len(sig.Params))
	for i := len(sig.Params) - 1; i > 0; i-- {
		args[i] = c.canonicalize(state.pop())
		if args[i].Type() != sig.Params[i] {
			malformed("call to function %d: argument %d is %s, but %s is expected", funcIdx, i-1, args[i].Type(), sig.Params[i])
		}
	}
	args[0] = c.contextPointer()
	call := builder.AllocateInstruction().AsCall(c.mc.FunctionRef(funcIdx), sig, args).Insert(builder)
	if len(ft.Results) > 0 {
		state.push(call.Return())
	}
}

// truthy converts a Wasm i32 condition into an i1.
func (c *FunctionCompiler) truthy(v ssa.Value) ssa.Value {
	builder := c.builder
	if v.Type() != ssa.TypeI32 {
		malformed("condition must be i32, but was %s", v.Type())
	}
	zero := builder.AllocateInstruction().AsIconst32(0).Insert(builder).Return()
	return builder.AllocateInstruction().AsIcmp(v, zero, ssa.IntegerCmpCondNotEqual).Insert(builder).Return()
}

// trap calls the trap intrinsic and terminates the current block.
func (c *FunctionCompiler) trap(code abi.TrapCode) {
	builder := c.builder
	codeV := builder.AllocateInstruction().AsIconst32(uint32(code)).Insert(builder).Return()
	args := []ssa.Value{c.contextPointer(), codeV}
	builder.AllocateInstruction().AsCall(c.mc.trap, c.mc.trapSig, args).Insert(builder)
	builder.AllocateInstruction().AsUnreachable().Insert(builder)
}

// addIncoming records that the current arm carries v into the merge.
func (c *FunctionCompiler) addIncoming(merge *ssa.Instruction, v ssa.Value, pred ssa.BasicBlock) {
	if v.Type() != merge.Return().Type() {
		malformed("branch carries %s to a result of %s", v.Type(), merge.Return().Type())
	}
	merge.AddIncoming(v, pred)
}
