package spirv

import "encoding/binary"

// Instruction is one encoded SPIR-V instruction without its leading
// word-count/opcode word.
type Instruction struct {
	Opcode   OpCode
	Operands []uint32
}

// WordCount returns the number of words the instruction occupies, including
// the opcode word.
func (i Instruction) WordCount() int {
	return len(i.Operands) + 1
}

// Encode appends the binary form of the instruction to dst.
func (i Instruction) Encode(dst []uint32) []uint32 {
	wordCount := uint32(i.WordCount()) //nolint:gosec // instructions are far below 65536 words
	dst = append(dst, wordCount<<16|uint32(i.Opcode))
	return append(dst, i.Operands...)
}

// operands accumulates the operand words of one instruction.
type operands []uint32

func (o *operands) word(w ...uint32) *operands {
	*o = append(*o, w...)
	return o
}

// str appends a nul-terminated UTF-8 literal padded to a word boundary.
func (o *operands) str(s string) *operands {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	for i := 0; i < len(b); i += 4 {
		*o = append(*o, binary.LittleEndian.Uint32(b[i:]))
	}
	return o
}

// section is one ordered group of instructions in the logical layout of a
// module.
type section int

const (
	sectionCapabilities section = iota
	sectionMemoryModel
	sectionEntryPoints
	sectionExecutionModes
	sectionAnnotations
	sectionTypes
	sectionConstants
	sectionVariables
	sectionFunctions
	sectionCount
)

// Builder accumulates instructions per section and emits them in the fixed
// layout order required by SPIR-V, regardless of the order they were added.
type Builder struct {
	version   Version
	generator uint32
	bound     uint32
	sections  [sectionCount][]Instruction
}

// NewBuilder returns a builder for a module whose identifiers are all below
// bound.
func NewBuilder(version Version, bound uint32) *Builder {
	return &Builder{version: version, bound: bound}
}

func (b *Builder) emit(s section, op OpCode, ops *operands) {
	var words []uint32
	if ops != nil {
		words = *ops
	}
	b.sections[s] = append(b.sections[s], Instruction{Opcode: op, Operands: words})
}

// Capability adds an OpCapability.
func (b *Builder) Capability(c Capability) {
	b.emit(sectionCapabilities, OpCapability, new(operands).word(uint32(c)))
}

// MemoryModel adds the single OpMemoryModel.
func (b *Builder) MemoryModel(a AddressingModel, m MemoryModel) {
	b.emit(sectionMemoryModel, OpMemoryModel, new(operands).word(uint32(a), uint32(m)))
}

// EntryPoint adds an OpEntryPoint listing its interface variables.
func (b *Builder) EntryPoint(model ExecutionModel, fn uint32, name string, interfaces ...uint32) {
	b.emit(sectionEntryPoints, OpEntryPoint,
		new(operands).word(uint32(model), fn).str(name).word(interfaces...))
}

// ExecutionMode adds an OpExecutionMode for fn.
func (b *Builder) ExecutionMode(fn uint32, mode ExecutionMode, literals ...uint32) {
	b.emit(sectionExecutionModes, OpExecutionMode,
		new(operands).word(fn, uint32(mode)).word(literals...))
}

// Decorate adds an OpDecorate.
func (b *Builder) Decorate(target uint32, d Decoration, literals ...uint32) {
	b.emit(sectionAnnotations, OpDecorate, new(operands).word(target, uint32(d)).word(literals...))
}

// MemberDecorate adds an OpMemberDecorate.
func (b *Builder) MemberDecorate(structType, member uint32, d Decoration, literals ...uint32) {
	b.emit(sectionAnnotations, OpMemberDecorate,
		new(operands).word(structType, member, uint32(d)).word(literals...))
}

// Type adds a type declaration whose first operand is the result id.
func (b *Builder) Type(op OpCode, result uint32, params ...uint32) {
	b.emit(sectionTypes, op, new(operands).word(result).word(params...))
}

// TypedConstant adds a constant that is required by a later type declaration,
// such as an array length. It is emitted in the type section so it precedes
// its use.
func (b *Builder) TypedConstant(op OpCode, resultType, result uint32, values ...uint32) {
	b.emit(sectionTypes, op, new(operands).word(resultType, result).word(values...))
}

// Constant adds a constant or specialization constant.
func (b *Builder) Constant(op OpCode, resultType, result uint32, values ...uint32) {
	b.emit(sectionConstants, op, new(operands).word(resultType, result).word(values...))
}

// Variable adds a module-scope OpVariable.
func (b *Builder) Variable(pointerType, result uint32, sc StorageClass) {
	b.emit(sectionVariables, OpVariable, new(operands).word(pointerType, result, uint32(sc)))
}

// Code adds an instruction to the function section.
func (b *Builder) Code(op OpCode, words ...uint32) {
	b.emit(sectionFunctions, op, new(operands).word(words...))
}

// Build returns the header followed by every section in layout order.
func (b *Builder) Build() []uint32 {
	n := HeaderWords
	for _, s := range b.sections {
		for _, inst := range s {
			n += inst.WordCount()
		}
	}

	out := make([]uint32, 0, n)
	out = append(out, MagicNumber, b.version.Word(), b.generator, b.bound, 0)
	for _, s := range b.sections {
		for _, inst := range s {
			out = inst.Encode(out)
		}
	}
	return out
}
