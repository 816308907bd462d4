// Package spirv emits and inspects the small SPIR-V compute modules used by
// gpucopy.
//
// The package does not depend on a shader compiler. Modules are encoded word
// by word from an explicit identifier table, which keeps the output
// deterministic and easy to compare against golden data.
package spirv

import "fmt"

// MagicNumber is the first word of every SPIR-V module.
const MagicNumber = 0x07230203

// HeaderWords is the number of words in the module header.
const HeaderWords = 5

// Version represents a SPIR-V version.
type Version struct {
	Major uint8
	Minor uint8
}

// Version1_0 is the only version gpucopy emits.
var Version1_0 = Version{1, 0}

// Word returns the header encoding of v.
func (v Version) Word() uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// VersionFromWord decodes the header version word.
func VersionFromWord(w uint32) Version {
	return Version{Major: uint8(w >> 16), Minor: uint8(w >> 8)} //nolint:gosec // masked by shift
}

// OpCode is a SPIR-V instruction opcode.
type OpCode uint16

// Opcodes used by the copy kernel and understood by the decoder.
const (
	OpNop                   OpCode = 0
	OpSource                OpCode = 3
	OpName                  OpCode = 5
	OpMemberName            OpCode = 6
	OpString                OpCode = 7
	OpLine                  OpCode = 8
	OpExtension             OpCode = 10
	OpExtInstImport         OpCode = 11
	OpExtInst               OpCode = 12
	OpMemoryModel           OpCode = 14
	OpEntryPoint            OpCode = 15
	OpExecutionMode         OpCode = 16
	OpCapability            OpCode = 17
	OpTypeVoid              OpCode = 19
	OpTypeBool              OpCode = 20
	OpTypeInt               OpCode = 21
	OpTypeFloat             OpCode = 22
	OpTypeVector            OpCode = 23
	OpTypeArray             OpCode = 28
	OpTypeRuntimeArray      OpCode = 29
	OpTypeStruct            OpCode = 30
	OpTypePointer           OpCode = 32
	OpTypeFunction          OpCode = 33
	OpConstantTrue          OpCode = 41
	OpConstantFalse         OpCode = 42
	OpConstant              OpCode = 43
	OpConstantComposite     OpCode = 44
	OpConstantNull          OpCode = 46
	OpSpecConstantTrue      OpCode = 48
	OpSpecConstantFalse     OpCode = 49
	OpSpecConstant          OpCode = 50
	OpSpecConstantComposite OpCode = 51
	OpSpecConstantOp        OpCode = 52
	OpFunction              OpCode = 54
	OpFunctionParameter     OpCode = 55
	OpFunctionEnd           OpCode = 56
	OpFunctionCall          OpCode = 57
	OpVariable              OpCode = 59
	OpLoad                  OpCode = 61
	OpStore                 OpCode = 62
	OpAccessChain           OpCode = 65
	OpInBoundsAccessChain   OpCode = 66
	OpPtrAccessChain        OpCode = 67
	OpArrayLength           OpCode = 68
	OpDecorate              OpCode = 71
	OpMemberDecorate        OpCode = 72
	OpDecorationGroup       OpCode = 73
	OpVectorShuffle         OpCode = 79
	OpCompositeConstruct    OpCode = 80
	OpCompositeExtract      OpCode = 81
	OpCompositeInsert       OpCode = 82
	OpCopyObject            OpCode = 83
	OpBitcast               OpCode = 124
	OpIAdd                  OpCode = 128
	OpISub                  OpCode = 130
	OpIMul                  OpCode = 132
	OpUDiv                  OpCode = 134
	OpSDiv                  OpCode = 135
	OpUMod                  OpCode = 137
	OpLogicalOr             OpCode = 166
	OpLogicalAnd            OpCode = 167
	OpLogicalNot            OpCode = 168
	OpSelect                OpCode = 169
	OpIEqual                OpCode = 170
	OpINotEqual             OpCode = 171
	OpUGreaterThan          OpCode = 172
	OpSGreaterThan          OpCode = 173
	OpUGreaterThanEqual     OpCode = 174
	OpSGreaterThanEqual     OpCode = 175
	OpULessThan             OpCode = 176
	OpSLessThan             OpCode = 177
	OpULessThanEqual        OpCode = 178
	OpSLessThanEqual        OpCode = 179
	OpBitwiseAnd            OpCode = 199
	OpPhi                   OpCode = 245
	OpLoopMerge             OpCode = 246
	OpSelectionMerge        OpCode = 247
	OpLabel                 OpCode = 248
	OpBranch                OpCode = 249
	OpBranchConditional     OpCode = 250
	OpReturn                OpCode = 253
	OpUnreachable           OpCode = 255
	OpNoLine                OpCode = 317
	OpModuleProcessed       OpCode = 330
	OpExecutionModeID       OpCode = 331
)

// Capability is a SPIR-V capability operand.
type Capability uint32

// CapabilityShader enables the Shader capability.
const CapabilityShader Capability = 1

// AddressingModel is a SPIR-V addressing model operand.
type AddressingModel uint32

// AddressingLogical is the only addressing model Vulkan accepts.
const AddressingLogical AddressingModel = 0

// MemoryModel is a SPIR-V memory model operand.
type MemoryModel uint32

const (
	MemoryModelSimple  MemoryModel = 0
	MemoryModelGLSL450 MemoryModel = 1
)

// ExecutionModel is a SPIR-V execution model operand.
type ExecutionModel uint32

// ExecutionModelGLCompute marks a compute entry point.
const ExecutionModelGLCompute ExecutionModel = 5

// ExecutionMode is a SPIR-V execution mode operand.
type ExecutionMode uint32

// ExecutionModeLocalSize fixes the workgroup size of an entry point.
const ExecutionModeLocalSize ExecutionMode = 17

// StorageClass is a SPIR-V storage class operand.
type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassFunction        StorageClass = 7
	StorageClassStorageBuffer   StorageClass = 12
)

// Decoration is a SPIR-V decoration operand.
type Decoration uint32

const (
	DecorationSpecID        Decoration = 1
	DecorationBlock         Decoration = 2
	DecorationBufferBlock   Decoration = 3
	DecorationArrayStride   Decoration = 6
	DecorationBuiltIn       Decoration = 11
	DecorationNonWritable   Decoration = 24
	DecorationBinding       Decoration = 33
	DecorationDescriptorSet Decoration = 34
	DecorationOffset        Decoration = 35
)

// BuiltIn is a SPIR-V builtin operand.
type BuiltIn uint32

const (
	BuiltInNumWorkgroups        BuiltIn = 24
	BuiltInWorkgroupSize        BuiltIn = 25
	BuiltInWorkgroupID          BuiltIn = 26
	BuiltInLocalInvocationID    BuiltIn = 27
	BuiltInGlobalInvocationID   BuiltIn = 28
	BuiltInLocalInvocationIndex BuiltIn = 29
)

// FunctionControl is a SPIR-V function control mask.
type FunctionControl uint32

// FunctionControlNone requests no function control hints.
const FunctionControlNone FunctionControl = 0

var opNames = map[OpCode]string{
	OpNop:                   "OpNop",
	OpSource:                "OpSource",
	OpName:                  "OpName",
	OpMemberName:            "OpMemberName",
	OpString:                "OpString",
	OpLine:                  "OpLine",
	OpExtension:             "OpExtension",
	OpExtInstImport:         "OpExtInstImport",
	OpExtInst:               "OpExtInst",
	OpMemoryModel:           "OpMemoryModel",
	OpEntryPoint:            "OpEntryPoint",
	OpExecutionMode:         "OpExecutionMode",
	OpCapability:            "OpCapability",
	OpTypeVoid:              "OpTypeVoid",
	OpTypeBool:              "OpTypeBool",
	OpTypeInt:               "OpTypeInt",
	OpTypeFloat:             "OpTypeFloat",
	OpTypeVector:            "OpTypeVector",
	OpTypeArray:             "OpTypeArray",
	OpTypeRuntimeArray:      "OpTypeRuntimeArray",
	OpTypeStruct:            "OpTypeStruct",
	OpTypePointer:           "OpTypePointer",
	OpTypeFunction:          "OpTypeFunction",
	OpConstantTrue:          "OpConstantTrue",
	OpConstantFalse:         "OpConstantFalse",
	OpConstant:              "OpConstant",
	OpConstantComposite:     "OpConstantComposite",
	OpConstantNull:          "OpConstantNull",
	OpSpecConstantTrue:      "OpSpecConstantTrue",
	OpSpecConstantFalse:     "OpSpecConstantFalse",
	OpSpecConstant:          "OpSpecConstant",
	OpSpecConstantComposite: "OpSpecConstantComposite",
	OpSpecConstantOp:        "OpSpecConstantOp",
	OpFunction:              "OpFunction",
	OpFunctionParameter:     "OpFunctionParameter",
	OpFunctionEnd:           "OpFunctionEnd",
	OpFunctionCall:          "OpFunctionCall",
	OpVariable:              "OpVariable",
	OpLoad:                  "OpLoad",
	OpStore:                 "OpStore",
	OpAccessChain:           "OpAccessChain",
	OpInBoundsAccessChain:   "OpInBoundsAccessChain",
	OpPtrAccessChain:        "OpPtrAccessChain",
	OpArrayLength:           "OpArrayLength",
	OpDecorate:              "OpDecorate",
	OpMemberDecorate:        "OpMemberDecorate",
	OpDecorationGroup:       "OpDecorationGroup",
	OpVectorShuffle:         "OpVectorShuffle",
	OpCompositeConstruct:    "OpCompositeConstruct",
	OpCompositeExtract:      "OpCompositeExtract",
	OpCompositeInsert:       "OpCompositeInsert",
	OpCopyObject:            "OpCopyObject",
	OpBitcast:               "OpBitcast",
	OpIAdd:                  "OpIAdd",
	OpISub:                  "OpISub",
	OpIMul:                  "OpIMul",
	OpUDiv:                  "OpUDiv",
	OpSDiv:                  "OpSDiv",
	OpUMod:                  "OpUMod",
	OpLogicalOr:             "OpLogicalOr",
	OpLogicalAnd:            "OpLogicalAnd",
	OpLogicalNot:            "OpLogicalNot",
	OpSelect:                "OpSelect",
	OpIEqual:                "OpIEqual",
	OpINotEqual:             "OpINotEqual",
	OpUGreaterThan:          "OpUGreaterThan",
	OpSGreaterThan:          "OpSGreaterThan",
	OpUGreaterThanEqual:     "OpUGreaterThanEqual",
	OpSGreaterThanEqual:     "OpSGreaterThanEqual",
	OpULessThan:             "OpULessThan",
	OpSLessThan:             "OpSLessThan",
	OpULessThanEqual:        "OpULessThanEqual",
	OpSLessThanEqual:        "OpSLessThanEqual",
	OpBitwiseAnd:            "OpBitwiseAnd",
	OpPhi:                   "OpPhi",
	OpLoopMerge:             "OpLoopMerge",
	OpSelectionMerge:        "OpSelectionMerge",
	OpLabel:                 "OpLabel",
	OpBranch:                "OpBranch",
	OpBranchConditional:     "OpBranchConditional",
	OpReturn:                "OpReturn",
	OpUnreachable:           "OpUnreachable",
	OpNoLine:                "OpNoLine",
	OpModuleProcessed:       "OpModuleProcessed",
	OpExecutionModeID:       "OpExecutionModeID",
}

func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", uint16(op))
}
