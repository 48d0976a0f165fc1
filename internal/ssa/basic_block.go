package ssa

import (
	"fmt"
	"strings"
)

// BasicBlock represents the Basic Block of an SSA function. Each block ends with exactly one
// terminator, and its Phi instructions come before any other instruction.
type BasicBlock interface {
	// ID returns the unique ID of this block within its function.
	ID() BasicBlockID

	// Name returns the unique string ID of this block. e.g. blk0, blk1, ...
	Name() string

	// Root returns the root instruction of this block.
	Root() *Instruction

	// Tail returns the tail instruction of this block.
	Tail() *Instruction

	// Terminated returns true if the block already ends with a terminator.
	Terminated() bool

	// EntryBlock returns true if this block represents the function entry.
	EntryBlock() bool

	// Preds returns the number of predecessors of this block.
	Preds() int

	// Pred returns the i-th predecessor of this block.
	Pred(i int) BasicBlock

	// Succs returns the number of successors of this block.
	Succs() int

	// Succ returns the i-th successor of this block.
	Succ(i int) BasicBlock

	// Phis returns the Phi instructions at the head of this block.
	Phis() []*Instruction

	// Valid is true if this block is still in the function layout.
	Valid() bool
}

// BasicBlockID is the unique ID of a basicBlock.
type BasicBlockID uint32

// String implements fmt.Stringer for debugging.
func (bid BasicBlockID) String() string {
	return fmt.Sprintf("blk%d", bid)
}

type basicBlock struct {
	id         BasicBlockID
	root, tail *Instruction
	preds      []*basicBlock
	succs      []*basicBlock
	// invalid is true if this block was removed by a pass.
	invalid bool
}

// ID implements BasicBlock.ID.
func (bb *basicBlock) ID() BasicBlockID {
	return bb.id
}

// Name implements BasicBlock.Name.
func (bb *basicBlock) Name() string {
	return bb.id.String()
}

// String implements fmt.Stringer for debugging purpose only.
func (bb *basicBlock) String() string {
	return bb.Name()
}

// Root implements BasicBlock.Root.
func (bb *basicBlock) Root() *Instruction {
	return bb.root
}

// Tail implements BasicBlock.Tail.
func (bb *basicBlock) Tail() *Instruction {
	return bb.tail
}

// Terminated implements BasicBlock.Terminated.
func (bb *basicBlock) Terminated() bool {
	return bb.tail != nil && bb.tail.IsTerminator()
}

// EntryBlock implements BasicBlock.EntryBlock.
func (bb *basicBlock) EntryBlock() bool {
	return bb.id == 0
}

// Preds implements BasicBlock.Preds.
func (bb *basicBlock) Preds() int {
	return len(bb.preds)
}

// Pred implements BasicBlock.Pred.
func (bb *basicBlock) Pred(i int) BasicBlock {
	return bb.preds[i]
}

// Succs implements BasicBlock.Succs.
func (bb *basicBlock) Succs() int {
	return len(bb.succs)
}

// Succ implements BasicBlock.Succ.
func (bb *basicBlock) Succ(i int) BasicBlock {
	return bb.succs[i]
}

// Phis implements BasicBlock.Phis.
func (bb *basicBlock) Phis() (ret []*Instruction) {
	for cur := bb.root; cur != nil && cur.opcode == OpcodePhi; cur = cur.next {
		ret = append(ret, cur)
	}
	return
}

// Valid implements BasicBlock.Valid.
func (bb *basicBlock) Valid() bool {
	return !bb.invalid
}

// insertInstruction appends instr at the tail.
func (bb *basicBlock) insertInstruction(instr *Instruction) {
	instr.blk = bb
	if bb.tail == nil {
		bb.root, bb.tail = instr, instr
		return
	}
	bb.tail.next = instr
	instr.prev = bb.tail
	bb.tail = instr
}

// insertPhi puts instr after the existing Phi instructions.
func (bb *basicBlock) insertPhi(instr *Instruction) {
	instr.blk = bb
	var last *Instruction
	for cur := bb.root; cur != nil && cur.opcode == OpcodePhi; cur = cur.next {
		last = cur
	}
	if last == nil {
		instr.next = bb.root
		if bb.root != nil {
			bb.root.prev = instr
		} else {
			bb.tail = instr
		}
		bb.root = instr
		return
	}
	instr.prev, instr.next = last, last.next
	if last.next != nil {
		last.next.prev = instr
	} else {
		bb.tail = instr
	}
	last.next = instr
}

func (bb *basicBlock) removeInstruction(instr *Instruction) {
	if instr.prev != nil {
		instr.prev.next = instr.next
	} else {
		bb.root = instr.next
	}
	if instr.next != nil {
		instr.next.prev = instr.prev
	} else {
		bb.tail = instr.prev
	}
	instr.prev, instr.next, instr.blk = nil, nil, nil
}

func (bb *basicBlock) addSucc(succ *basicBlock) {
	for _, s := range bb.succs {
		if s == succ {
			return
		}
	}
	bb.succs = append(bb.succs, succ)
	succ.preds = append(succ.preds, bb)
}

func (bb *basicBlock) hasPred(pred *basicBlock) bool {
	for _, p := range bb.preds {
		if p == pred {
			return true
		}
	}
	return false
}

func (bb *basicBlock) formatHeader() string {
	if len(bb.preds) == 0 {
		return bb.Name() + ":"
	}
	preds := make([]string, len(bb.preds))
	for i, p := range bb.preds {
		preds[i] = p.Name()
	}
	return fmt.Sprintf("%s: <-- (%s)", bb.Name(), strings.Join(preds, ","))
}
