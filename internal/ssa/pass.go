package ssa

import (
	"errors"
	"fmt"
)

// passDeadBlockElimination removes the blocks unreachable from the entry from the layout, and drops
// their edges from the predecessor lists and Phi instructions of the reachable blocks.
func passDeadBlockElimination(f *Function) {
	entry := f.entry()
	visited := make(map[*basicBlock]struct{}, len(f.layout))
	stack := []*basicBlock{entry}
	for len(stack) > 0 {
		blk := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[blk]; ok {
			continue
		}
		visited[blk] = struct{}{}
		stack = append(stack, blk.succs...)
	}

	layout := f.layout[:0]
	for _, blk := range f.layout {
		if _, ok := visited[blk]; ok {
			layout = append(layout, blk)
		} else {
			blk.invalid = true
		}
	}
	f.layout = layout

	for _, blk := range f.layout {
		preds := blk.preds[:0]
		for _, pred := range blk.preds {
			if !pred.invalid {
				preds = append(preds, pred)
				continue
			}
			for cur := blk.root; cur != nil && cur.opcode == OpcodePhi; cur = cur.next {
				cur.removeIncoming(pred)
			}
		}
		blk.preds = preds
	}
}

// Verify checks the structural invariants of the function: every block ends with a terminator,
// Phi edges match the predecessors, operands are defined and 128-bit values that leave an
// instruction sequence use the canonical vector type.
func (f *Function) Verify() error {
	if len(f.layout) == 0 || f.layout[0] != f.entry() {
		return errors.New("entry block is not first in the layout")
	}
	for _, blk := range f.layout {
		if err := f.verifyBlock(blk); err != nil {
			return fmt.Errorf("%s: %w", blk, err)
		}
	}
	return nil
}

func (f *Function) verifyBlock(blk *basicBlock) error {
	if !blk.Terminated() {
		return errors.New("missing terminator")
	}
	if blk.EntryBlock() && len(blk.preds) > 0 {
		return errors.New("entry block has predecessors")
	}
	for _, succ := range blk.succs {
		if succ.invalid {
			return fmt.Errorf("successor %s was removed", succ)
		}
		if !succ.hasPred(blk) {
			return fmt.Errorf("successor %s does not list it as predecessor", succ)
		}
	}

	inPhis := true
	for cur := blk.root; cur != nil; cur = cur.next {
		if cur.blk != blk {
			return fmt.Errorf("%s belongs to %s", cur.opcode, cur.blk)
		}
		if cur.IsTerminator() && cur.next != nil {
			return fmt.Errorf("%s is not the last instruction", cur.opcode)
		}
		if cur.opcode != OpcodePhi {
			inPhis = false
		} else if !inPhis {
			return errors.New("Phi after a non-Phi instruction")
		}
		if err := f.verifyInstruction(blk, cur); err != nil {
			return fmt.Errorf("%s: %w", cur.opcode, err)
		}
	}
	return nil
}

func (f *Function) verifyInstruction(blk *basicBlock, instr *Instruction) error {
	for _, v := range []Value{instr.v, instr.v2, instr.v3} {
		if v.Valid() && int(v.ID()) >= f.ValueCount() {
			return fmt.Errorf("undefined operand %s", v)
		}
	}
	for _, v := range instr.vs {
		if !v.Valid() || int(v.ID()) >= f.ValueCount() {
			return fmt.Errorf("undefined operand %s", v)
		}
	}

	switch instr.opcode {
	case OpcodePhi:
		if instr.typ == TypeI64x2 {
			return errors.New("non-canonical vector type")
		}
		if len(instr.blks) != len(blk.preds) {
			return fmt.Errorf("%d incoming edges for %d predecessors", len(instr.blks), len(blk.preds))
		}
		for _, in := range instr.blks {
			if !blk.hasPred(in) {
				return fmt.Errorf("incoming edge from %s which is not a predecessor", in)
			}
		}
	case OpcodeCall:
		for _, a := range instr.vs {
			if a.Type() == TypeI64x2 {
				return errors.New("non-canonical vector argument")
			}
		}
	case OpcodeReturn:
		want := f.sig.Result()
		if got := instr.v; (got.Valid() && got.Type() != want) || (!got.Valid() && !want.invalid()) {
			return fmt.Errorf("returns %s for %s", got.Type(), f.sig)
		}
	case OpcodeJump, OpcodeBrif, OpcodeSwitch:
		for _, t := range instr.blks {
			if t.EntryBlock() {
				return errors.New("branch to the entry block")
			}
		}
	}
	return nil
}
