package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/nianjia-runtime/nrt/internal/leb128"
	"github.com/nianjia-runtime/nrt/internal/wasm"
)

// DecodeModule parses a module in the WebAssembly 1.0 (20191205) Binary Format.
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
//
// Only the structure is decoded here. Indices, limits and function bodies are checked later by
// wasm.Module.Validate and the compiler.
func DecodeModule(binary []byte) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, Magic) {
		return nil, ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, ErrInvalidVersion
	}

	m := &wasm.Module{}
	var lastSectionID wasm.SectionID
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}
		if uint64(sectionSize) > uint64(r.Len()) {
			return nil, fmt.Errorf("section %s: size %d exceeds the remaining %d bytes", wasm.SectionIDName(sectionID), sectionSize, r.Len())
		}

		// Except custom sections, all others are required to be in order.
		// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#modules%E2%91%A0%E2%93%AA
		if sectionID != wasm.SectionIDCustom {
			if sectionID <= lastSectionID {
				return nil, fmt.Errorf("section %s: out of order or duplicate", wasm.SectionIDName(sectionID))
			}
			lastSectionID = sectionID
		}

		sectionContentStart := r.Len()
		switch sectionID {
		case wasm.SectionIDCustom:
			// First, validate the section and determine if the section for this name has already been set
			name, nameSize, decodeErr := decodeUTF8(r, "custom section name")
			if decodeErr != nil {
				err = decodeErr
				break
			} else if sectionSize < nameSize {
				err = fmt.Errorf("malformed custom section %s", name)
				break
			} else if name == "name" && m.NameSection != nil {
				err = fmt.Errorf("redundant custom section %s", name)
				break
			}

			limit := sectionSize - nameSize
			if name == "name" {
				m.NameSection, err = decodeNameSection(r, uint64(limit))
			} else {
				// Other custom sections are skipped.
				_, err = io.CopyN(io.Discard, r, int64(limit))
			}
		case wasm.SectionIDType:
			m.TypeSection, err = decodeTypeSection(r)
		case wasm.SectionIDImport:
			m.ImportSection, err = decodeImportSection(r)
		case wasm.SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(r)
		case wasm.SectionIDTable:
			m.TableSection, err = decodeTableSection(r)
		case wasm.SectionIDMemory:
			m.MemorySection, err = decodeMemorySection(r)
		case wasm.SectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(r)
		case wasm.SectionIDExport:
			m.ExportSection, err = decodeExportSection(r)
		case wasm.SectionIDStart:
			m.StartSection, err = decodeStartSection(r)
		case wasm.SectionIDElement:
			err = decodeElementSection(r)
		case wasm.SectionIDCode:
			m.CodeSection, err = decodeCodeSection(r)
		case wasm.SectionIDData:
			m.DataSection, err = decodeDataSection(r)
		default:
			err = ErrInvalidSectionID
		}

		readBytes := sectionContentStart - r.Len()
		if err == nil && int(sectionSize) != readBytes {
			err = fmt.Errorf("invalid section length: expected to be %d but got %d", sectionSize, readBytes)
		}

		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
	}

	if functionCount, codeCount := len(m.FunctionSection), len(m.CodeSection); functionCount != codeCount {
		return nil, fmt.Errorf("function and code section have inconsistent lengths: %d != %d", functionCount, codeCount)
	}
	return m, nil
}
