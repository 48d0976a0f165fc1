package wasm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nianjia-runtime/nrt/internal/leb128"
)

// ConstantExpression is the initializer of a global or the offset of a data segment.
// Data holds the immediate of Opcode, without the trailing OpcodeEnd.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#constant-expressions%E2%91%A0
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte
}

// GlobalLookup returns the type and raw bits of an already initialized global.
type GlobalLookup func(globalIdx Index) (ValueType, uint64, bool)

// ResultType returns the type of the value the expression produces, consulting the module for global.get.
func (e *ConstantExpression) ResultType(m *Module) (ValueType, error) {
	switch e.Opcode {
	case OpcodeI32Const:
		return ValueTypeI32, nil
	case OpcodeI64Const:
		return ValueTypeI64, nil
	case OpcodeF32Const:
		return ValueTypeF32, nil
	case OpcodeF64Const:
		return ValueTypeF64, nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.LoadUint32(e.Data)
		if err != nil {
			return 0, fmt.Errorf("read global index: %w", err)
		}
		gt := m.TypeOfGlobal(idx)
		if gt == nil {
			return 0, fmt.Errorf("global index %d out of range", idx)
		}
		if !m.IsImport(ExternTypeGlobal, idx) || gt.Mutable {
			return 0, fmt.Errorf("global.get %d must refer to an imported immutable global", idx)
		}
		return gt.ValType, nil
	}
	return 0, fmt.Errorf("unsupported opcode in constant expression: %s", InstructionName(e.Opcode))
}

// Evaluate computes the value of the expression. Floats are returned as their raw bits.
func (e *ConstantExpression) Evaluate(globals GlobalLookup) (ValueType, uint64, error) {
	switch e.Opcode {
	case OpcodeI32Const:
		v, _, err := leb128.LoadInt32(e.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("read i32: %w", err)
		}
		return ValueTypeI32, uint64(uint32(v)), nil
	case OpcodeI64Const:
		v, _, err := leb128.LoadInt64(e.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("read i64: %w", err)
		}
		return ValueTypeI64, uint64(v), nil
	case OpcodeF32Const:
		if len(e.Data) < 4 {
			return 0, 0, fmt.Errorf("read f32: %w", errShortData)
		}
		return ValueTypeF32, uint64(binary.LittleEndian.Uint32(e.Data)), nil
	case OpcodeF64Const:
		if len(e.Data) < 8 {
			return 0, 0, fmt.Errorf("read f64: %w", errShortData)
		}
		return ValueTypeF64, binary.LittleEndian.Uint64(e.Data), nil
	case OpcodeGlobalGet:
		idx, _, err := leb128.DecodeUint32(bytes.NewReader(e.Data))
		if err != nil {
			return 0, 0, fmt.Errorf("read global index: %w", err)
		}
		if globals == nil {
			return 0, 0, fmt.Errorf("global.get %d: no globals available", idx)
		}
		t, v, ok := globals(idx)
		if !ok {
			return 0, 0, fmt.Errorf("global.get %d: not initialized", idx)
		}
		return t, v, nil
	}
	return 0, 0, fmt.Errorf("unsupported opcode in constant expression: %s", InstructionName(e.Opcode))
}

var errShortData = errors.New("immediate too short")
