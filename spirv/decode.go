package spirv

import (
	"errors"
	"fmt"
)

// Decoding and validation errors.
var (
	// ErrShortModule is returned when the input cannot hold a header.
	ErrShortModule = errors.New("spirv: module shorter than header")

	// ErrBadMagic is returned when the first word is not MagicNumber.
	ErrBadMagic = errors.New("spirv: bad magic number")

	// ErrTruncated is returned when an instruction runs past the end of input.
	ErrTruncated = errors.New("spirv: truncated instruction")

	// ErrInvalidModule wraps every structural validation failure.
	ErrInvalidModule = errors.New("spirv: invalid module")
)

// Header is the decoded five-word module header.
type Header struct {
	Version   Version
	Generator uint32
	Bound     uint32
	Schema    uint32
}

// Module is a decoded instruction stream.
type Module struct {
	Header       Header
	Instructions []Instruction
}

// Decode splits words into a header and instructions. It checks framing only;
// call Validate for identifier rules.
func Decode(words []uint32) (*Module, error) {
	if len(words) < HeaderWords {
		return nil, ErrShortModule
	}
	if words[0] != MagicNumber {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, words[0])
	}
	m := &Module{
		Header: Header{
			Version:   VersionFromWord(words[1]),
			Generator: words[2],
			Bound:     words[3],
			Schema:    words[4],
		},
	}

	for pos := HeaderWords; pos < len(words); {
		first := words[pos]
		count := int(first >> 16)
		op := OpCode(first & 0xFFFF) //nolint:gosec // masked to 16 bits
		if count == 0 {
			return nil, fmt.Errorf("%w: zero word count at word %d", ErrTruncated, pos)
		}
		if pos+count > len(words) {
			return nil, fmt.Errorf("%w: %v at word %d needs %d words, %d left",
				ErrTruncated, op, pos, count, len(words)-pos)
		}
		m.Instructions = append(m.Instructions, Instruction{
			Opcode:   op,
			Operands: words[pos+1 : pos+count],
		})
		pos += count
	}
	return m, nil
}

// refs describes the identifiers an instruction defines and consumes.
type refs struct {
	result  uint32   // 0 when the instruction defines nothing
	uses    []uint32 // must be defined earlier in the stream
	forward []uint32 // may be defined anywhere in the module
}

// literalWords returns the number of words occupied by the nul-terminated
// string starting at ops[0].
func literalWords(ops []uint32) int {
	for i, w := range ops {
		if w&0xFF000000 == 0 || w&0x00FF0000 == 0 || w&0x0000FF00 == 0 || w&0x000000FF == 0 {
			return i + 1
		}
	}
	return len(ops)
}

func tail(ops []uint32, from int) []uint32 {
	if from >= len(ops) {
		return nil
	}
	return ops[from:]
}

// instructionRefs classifies the operands of inst. Unknown opcodes report
// no references.
//
//nolint:gocyclo,cyclop // one case per opcode family
func instructionRefs(inst Instruction) (refs, error) {
	ops := inst.Operands
	need := func(n int) error {
		if len(ops) < n {
			return fmt.Errorf("%w: %v has %d operands, needs %d", ErrInvalidModule, inst.Opcode, len(ops), n)
		}
		return nil
	}

	switch inst.Opcode {
	case OpEntryPoint:
		if err := need(3); err != nil {
			return refs{}, err
		}
		n := literalWords(ops[2:])
		return refs{forward: append([]uint32{ops[1]}, tail(ops, 2+n)...)}, nil
	case OpExecutionMode, OpName, OpMemberName, OpDecorate, OpMemberDecorate, OpSelectionMerge:
		if err := need(1); err != nil {
			return refs{}, err
		}
		return refs{forward: ops[:1]}, nil
	case OpLoopMerge:
		if err := need(2); err != nil {
			return refs{}, err
		}
		return refs{forward: ops[:2]}, nil
	case OpBranch:
		if err := need(1); err != nil {
			return refs{}, err
		}
		return refs{forward: ops[:1]}, nil
	case OpBranchConditional:
		if err := need(3); err != nil {
			return refs{}, err
		}
		return refs{uses: ops[:1], forward: ops[1:3]}, nil

	case OpTypeVoid, OpTypeBool, OpTypeInt, OpTypeFloat, OpLabel, OpExtInstImport, OpString:
		if err := need(1); err != nil {
			return refs{}, err
		}
		return refs{result: ops[0]}, nil
	case OpTypeVector, OpTypeRuntimeArray:
		if err := need(2); err != nil {
			return refs{}, err
		}
		return refs{result: ops[0], uses: ops[1:2]}, nil
	case OpTypeArray:
		if err := need(3); err != nil {
			return refs{}, err
		}
		return refs{result: ops[0], uses: ops[1:3]}, nil
	case OpTypeStruct, OpTypeFunction:
		if err := need(1); err != nil {
			return refs{}, err
		}
		return refs{result: ops[0], uses: ops[1:]}, nil
	case OpTypePointer:
		if err := need(3); err != nil {
			return refs{}, err
		}
		return refs{result: ops[0], uses: ops[2:3]}, nil

	case OpConstant, OpSpecConstant, OpConstantTrue, OpConstantFalse, OpConstantNull,
		OpSpecConstantTrue, OpSpecConstantFalse, OpFunctionParameter:
		if err := need(2); err != nil {
			return refs{}, err
		}
		return refs{result: ops[1], uses: ops[:1]}, nil
	case OpConstantComposite, OpSpecConstantComposite, OpAccessChain, OpInBoundsAccessChain,
		OpCompositeConstruct, OpIAdd, OpIMul, OpULessThan, OpSLessThan, OpBitcast:
		if err := need(2); err != nil {
			return refs{}, err
		}
		return refs{result: ops[1], uses: append([]uint32{ops[0]}, ops[2:]...)}, nil
	case OpVariable:
		if err := need(3); err != nil {
			return refs{}, err
		}
		return refs{result: ops[1], uses: append([]uint32{ops[0]}, tail(ops, 3)...)}, nil
	case OpFunction:
		if err := need(4); err != nil {
			return refs{}, err
		}
		return refs{result: ops[1], uses: []uint32{ops[0], ops[3]}}, nil
	case OpLoad, OpCompositeExtract:
		if err := need(3); err != nil {
			return refs{}, err
		}
		return refs{result: ops[1], uses: []uint32{ops[0], ops[2]}}, nil
	case OpStore:
		if err := need(2); err != nil {
			return refs{}, err
		}
		return refs{uses: ops[:2]}, nil
	}
	if typedResult[inst.Opcode] && len(ops) >= 2 {
		return refs{result: ops[1], uses: ops[:1]}, nil
	}
	return refs{}, nil
}

// typedResult lists opcodes outside the copy kernel's vocabulary whose first
// two operands are a result type and a result id. Their remaining operands
// are not checked.
var typedResult = map[OpCode]bool{
	OpExtInst:           true,
	OpFunctionCall:      true,
	OpArrayLength:       true,
	OpVectorShuffle:     true,
	OpCompositeInsert:   true,
	OpCopyObject:        true,
	OpISub:              true,
	OpUDiv:              true,
	OpSDiv:              true,
	OpUMod:              true,
	OpLogicalOr:         true,
	OpLogicalAnd:        true,
	OpLogicalNot:        true,
	OpSelect:            true,
	OpIEqual:            true,
	OpINotEqual:         true,
	OpUGreaterThan:      true,
	OpSGreaterThan:      true,
	OpUGreaterThanEqual: true,
	OpSGreaterThanEqual: true,
	OpULessThanEqual:    true,
	OpSLessThanEqual:    true,
	OpBitwiseAnd:        true,
	OpPhi:               true,
}

// Validate checks the identifier rules of m: the header bound exceeds every
// id, every result id is defined once, every consumed id is defined before
// use, and the module has exactly one entry point with exactly one LocalSize
// execution mode naming it.
func (m *Module) Validate() error {
	defined := make(map[uint32]int, m.Header.Bound)
	var forward []uint32
	var entryPoints, localSizes []uint32

	for i, inst := range m.Instructions {
		r, err := instructionRefs(inst)
		if err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		for _, id := range r.uses {
			if _, ok := defined[id]; !ok {
				return fmt.Errorf("%w: instruction %d (%v) uses %%%d before its definition",
					ErrInvalidModule, i, inst.Opcode, id)
			}
		}
		forward = append(forward, r.forward...)
		if r.result != 0 {
			if r.result >= m.Header.Bound {
				return fmt.Errorf("%w: id %%%d not below bound %d", ErrInvalidModule, r.result, m.Header.Bound)
			}
			if prev, dup := defined[r.result]; dup {
				return fmt.Errorf("%w: id %%%d defined by instructions %d and %d",
					ErrInvalidModule, r.result, prev, i)
			}
			defined[r.result] = i
		}

		switch inst.Opcode {
		case OpEntryPoint:
			entryPoints = append(entryPoints, inst.Operands[1])
		case OpExecutionMode:
			if len(inst.Operands) >= 2 && ExecutionMode(inst.Operands[1]) == ExecutionModeLocalSize {
				localSizes = append(localSizes, inst.Operands[0])
			}
		}
	}

	for _, id := range forward {
		if id >= m.Header.Bound {
			return fmt.Errorf("%w: id %%%d not below bound %d", ErrInvalidModule, id, m.Header.Bound)
		}
		if _, ok := defined[id]; !ok {
			return fmt.Errorf("%w: id %%%d is referenced but never defined", ErrInvalidModule, id)
		}
	}

	if len(entryPoints) != 1 {
		return fmt.Errorf("%w: %d entry points, want 1", ErrInvalidModule, len(entryPoints))
	}
	if len(localSizes) != 1 || localSizes[0] != entryPoints[0] {
		return fmt.Errorf("%w: want one LocalSize execution mode for entry point %%%d",
			ErrInvalidModule, entryPoints[0])
	}
	return nil
}

// MaxID returns the largest identifier referenced anywhere in the module.
func (m *Module) MaxID() uint32 {
	var highest uint32
	note := func(ids ...uint32) {
		for _, id := range ids {
			highest = max(highest, id)
		}
	}
	for _, inst := range m.Instructions {
		r, err := instructionRefs(inst)
		if err != nil {
			continue
		}
		note(r.result)
		note(r.uses...)
		note(r.forward...)
	}
	return highest
}

// EntryPoint returns the function id and name of the first entry point.
func (m *Module) EntryPoint() (fn uint32, name string, ok bool) {
	for _, inst := range m.Instructions {
		if inst.Opcode != OpEntryPoint || len(inst.Operands) < 3 {
			continue
		}
		return inst.Operands[1], LiteralString(inst.Operands[2:]), true
	}
	return 0, "", false
}

// LiteralString reads a nul-terminated literal string operand, such as the
// name of an OpEntryPoint or OpExtInstImport.
func LiteralString(ops []uint32) string {
	var b []byte
	for _, w := range ops {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift) //nolint:gosec // byte extraction
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}

// LocalSizeX returns the workgroup size in X the module runs with when no
// specialization is supplied. A constant decorated as the WorkgroupSize
// builtin takes precedence over the LocalSize execution mode. specialized
// reports whether that X component is spec constant LocalSizeSpecID.
func (m *Module) LocalSizeX() (size uint32, specialized, ok bool) {
	var workgroupSize uint32
	specIDs := map[uint32]uint32{}
	for _, inst := range m.Instructions {
		ops := inst.Operands
		if inst.Opcode != OpDecorate || len(ops) < 3 {
			continue
		}
		switch Decoration(ops[1]) {
		case DecorationBuiltIn:
			if BuiltIn(ops[2]) == BuiltInWorkgroupSize {
				workgroupSize = ops[0]
			}
		case DecorationSpecID:
			specIDs[ops[0]] = ops[2]
		}
	}

	scalars := map[uint32]uint32{}
	for _, inst := range m.Instructions {
		ops := inst.Operands
		switch inst.Opcode {
		case OpConstant, OpSpecConstant:
			if len(ops) >= 3 {
				scalars[ops[1]] = ops[2]
			}
		case OpConstantComposite, OpSpecConstantComposite:
			if workgroupSize == 0 || len(ops) < 3 || ops[1] != workgroupSize {
				continue
			}
			x, found := scalars[ops[2]]
			if !found {
				return 0, false, false
			}
			id, isSpec := specIDs[ops[2]]
			return x, isSpec && id == LocalSizeSpecID, true
		case OpExecutionMode:
			if workgroupSize == 0 && len(ops) >= 3 && ExecutionMode(ops[1]) == ExecutionModeLocalSize {
				size, ok = ops[2], true
			}
		}
	}
	return size, false, ok
}
