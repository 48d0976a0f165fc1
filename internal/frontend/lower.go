package frontend

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/ssa"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

type (
	// loweringState is used to keep the state of lowering.
	loweringState struct {
		// values holds the values on the Wasm stack.
		values        []ssa.Value
		controlFrames []controlFrame
		// targets is the branch target stack, indexed from the innermost by branch depth.
		targets          []branchTarget
		unreachable      bool
		unreachableDepth int
		pc               int
	}

	controlFrame struct {
		kind controlFrameKind
		// resultType is ssa.TypeInvalid if the construct has no result.
		resultType ssa.Type
		// end is the block we enter if we reach "end" of the construct.
		end ssa.BasicBlock
		// merge is the Phi at the head of end that receives the result, if any.
		merge *ssa.Instruction
		// els is the else block of an if frame.
		els ssa.BasicBlock
		// stackLen and targetsLen are the lengths of the operand and branch target stacks on entry.
		stackLen, targetsLen int
	}

	controlFrameKind byte

	// branchTarget is what a branch of some depth resolves to.
	branchTarget struct {
		blk   ssa.BasicBlock
		typ   ssa.Type
		merge *ssa.Instruction
	}
)

const (
	controlFrameKindFunction controlFrameKind = iota + 1
	controlFrameKindBlock
	controlFrameKindLoop
	controlFrameKindIfThen
	controlFrameKindIfElse
)

// String implements fmt.Stringer for debugging.
func (k controlFrameKind) String() string {
	switch k {
	case controlFrameKindFunction:
		return "function"
	case controlFrameKindBlock:
		return "block"
	case controlFrameKindLoop:
		return "loop"
	case controlFrameKindIfThen:
		return "if_then"
	case controlFrameKindIfElse:
		return "if_else"
	default:
		panic(k)
	}
}

func (ctrl *controlFrame) hasResult() bool {
	return ctrl.resultType != ssa.TypeInvalid
}

// String implements fmt.Stringer for debugging.
func (l *loweringState) String() string {
	var str []string
	for _, v := range l.values {
		str = append(str, fmt.Sprintf("v%v", v.ID()))
	}
	var frames []string
	for i := range l.controlFrames {
		frames = append(frames, l.controlFrames[i].kind.String())
	}
	return fmt.Sprintf("\n\tunreachable=%v(depth=%d)\n\tstack: %s\n\tcontrol frames: %s",
		l.unreachable, l.unreachableDepth,
		strings.Join(str, ", "),
		strings.Join(frames, ", "),
	)
}

// reset resets the state of loweringState for reuse.
func (l *loweringState) reset() {
	l.values = l.values[:0]
	l.controlFrames = l.controlFrames[:0]
	l.targets = l.targets[:0]
	l.pc = 0
	l.unreachable = false
	l.unreachableDepth = 0
}

// floor is the operand stack length below which the innermost construct may not pop.
func (l *loweringState) floor() int {
	if len(l.controlFrames) == 0 {
		return 0
	}
	return l.controlFrames[len(l.controlFrames)-1].stackLen
}

func (l *loweringState) peek() (ret ssa.Value) {
	tail := len(l.values) - 1
	if tail < l.floor() {
		panic("BUG: operand stack underflow" + l.String())
	}
	return l.values[tail]
}

func (l *loweringState) pop() (ret ssa.Value) {
	ret = l.peek()
	l.values = l.values[:len(l.values)-1]
	return
}

func (l *loweringState) push(ret ssa.Value) {
	l.values = append(l.values, ret)
}

func (l *loweringState) ctrlPop() (ret controlFrame) {
	tail := len(l.controlFrames) - 1
	if tail < 0 {
		panic("BUG: control stack underflow")
	}
	ret = l.controlFrames[tail]
	l.controlFrames = l.controlFrames[:tail]
	l.targets = l.targets[:ret.targetsLen]
	return
}

// ctrlPush pushes the frame together with the branch target of the construct.
func (l *loweringState) ctrlPush(ctrl controlFrame, target branchTarget) {
	ctrl.stackLen = len(l.values)
	ctrl.targetsLen = len(l.targets)
	l.controlFrames = append(l.controlFrames, ctrl)
	l.targets = append(l.targets, target)
}

func (l *loweringState) ctrlPeek() *controlFrame {
	tail := len(l.controlFrames) - 1
	if tail < 0 {
		panic("BUG: control stack underflow")
	}
	return &l.controlFrames[tail]
}

// target resolves a branch depth, zero being the innermost breakable construct.
func (l *loweringState) target(depth uint32) *branchTarget {
	if int(depth) >= len(l.targets) {
		panic(fmt.Sprintf("BUG: branch depth %d out of range (%d targets)", depth, len(l.targets)))
	}
	return &l.targets[len(l.targets)-1-int(depth)]
}

// enterUnreachable drops the operands of the innermost construct: code up to its end is dead.
func (l *loweringState) enterUnreachable() {
	l.values = l.values[:l.floor()]
	l.unreachable = true
}

// lowerBody lowers the body of the Wasm function to the SSA form.
func (c *FunctionCompiler) lowerBody() {
	for len(c.state.controlFrames) > 0 {
		if c.state.pc >= len(c.body) {
			malformed("unexpected end of body")
		}
		c.lowerCurrentOpcode()
	}
	if c.state.pc != len(c.body) {
		malformed("%d bytes after the end of the body", len(c.body)-c.state.pc)
	}
}

func (c *FunctionCompiler) lowerCurrentOpcode() {
	op := c.readByte()
	switch op {
	case wasm.OpcodeUnreachable, wasm.OpcodeNop, wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf,
		wasm.OpcodeElse, wasm.OpcodeEnd, wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeBrTable,
		wasm.OpcodeReturn, wasm.OpcodeCall, wasm.OpcodeDrop, wasm.OpcodeSelect:
		c.lowerControl(op)
	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee, wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		c.lowerVariable(op)
	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32,
		wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		c.lowerMemory(op)
	case wasm.OpcodeVecPrefix:
		vecOp := c.readU32()
		switch vecOp {
		case uint32(wasm.OpcodeVecV128Const):
			c.lowerVecConst()
		case uint32(wasm.OpcodeVecV128Load), uint32(wasm.OpcodeVecV128Store):
			c.lowerVecMemory(wasm.OpcodeVec(vecOp))
		default:
			unsupported(fmt.Sprintf("vector instruction %#x", vecOp))
		}
	default:
		if !c.lowerNumeric(op) {
			unsupported(wasm.InstructionName(op))
		}
	}
}

func (c *FunctionCompiler) readByte() byte {
	if c.state.pc >= len(c.body) {
		malformed("unexpected end of body")
	}
	b := c.body[c.state.pc]
	c.state.pc++
	return b
}

func (c *FunctionCompiler) readU32() uint32 {
	v, n, err := leb128.LoadUint32(c.body[c.state.pc:])
	if err != nil {
		malformed("read u32 at %d: %v", c.state.pc, err)
	}
	c.state.pc += int(n)
	return v
}

func (c *FunctionCompiler) readI32s() int32 {
	v, n, err := leb128.LoadInt32(c.body[c.state.pc:])
	if err != nil {
		malformed("read i32 at %d: %v", c.state.pc, err)
	}
	c.state.pc += int(n)
	return v
}

func (c *FunctionCompiler) readI64s() int64 {
	v, n, err := leb128.LoadInt64(c.body[c.state.pc:])
	if err != nil {
		malformed("read i64 at %d: %v", c.state.pc, err)
	}
	c.state.pc += int(n)
	return v
}

func (c *FunctionCompiler) readFixed(n int) []byte {
	if len(c.body)-c.state.pc < n {
		malformed("read %d byte immediate at %d: unexpected end of body", n, c.state.pc)
	}
	ret := c.body[c.state.pc : c.state.pc+n]
	c.state.pc += n
	return ret
}

func (c *FunctionCompiler) readF32() float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(c.readFixed(4)))
}

func (c *FunctionCompiler) readF64() float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(c.readFixed(8)))
}

// readBlockType reads the block type. Only the empty type and single results are supported.
func (c *FunctionCompiler) readBlockType() ssa.Type {
	bt := c.readByte()
	switch {
	case bt == wasm.ValueTypeNone:
		return ssa.TypeInvalid
	case wasm.IsValueType(bt):
		return c.mc.Types.SSAType(bt)
	default:
		unsupported(fmt.Sprintf("block type %#x", bt))
		return ssa.TypeInvalid
	}
}

// readMemArg reads the alignment exponent and the static offset of a memory instruction.
func (c *FunctionCompiler) readMemArg() (align, offset uint32) {
	align = c.readU32()
	offset = c.readU32()
	return
}
