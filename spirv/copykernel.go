package spirv

import (
	"errors"
	"fmt"
)

// Descriptor layout of the copy kernel.
const (
	CopyDescriptorSet = 0
	CopyBindingInput  = 0
	CopyBindingOutput = 1
)

// LocalSizeSpecID is the specialization constant id that carries the local
// size in X, matching layout(local_size_x_id = 0).
const LocalSizeSpecID = 0

// DefaultEntryPoint is the entry point name used when none is configured.
const DefaultEntryPoint = "main"

// ErrZeroLength is returned when a kernel is requested for zero elements.
var ErrZeroLength = errors.New("spirv: copy kernel needs at least one element")

// Identifier table of the copy kernel. Every id the module references is
// listed here once, so the header bound is known before emission.
const (
	idReserved uint32 = iota
	idFunc
	idIn
	idOut
	idGlobalInvocation
	idVoidType
	idFuncType
	idIntType
	idIntArrayType
	idStruct
	idPointerType
	idElementPointerType
	idIntVectorType
	idIntVectorPointerType
	idIntPointerType
	idConstantZero
	idConstantArrayLength
	idLabel
	idInElement
	idOutElement
	idGlobalInvocationX
	idGlobalInvocationXPtr
	idTempLoaded

	// boundFixed is the bound of a module with a literal local size.
	boundFixed
)

// Identifiers appended when the local size is specializable.
const (
	idLocalSizeX = boundFixed + iota
	idConstantOne
	idWorkgroupSize

	boundSpecialized
)

// KernelOptions tunes BuildCopyKernelWith.
type KernelOptions struct {
	// EntryPoint names the kernel function. Empty means DefaultEntryPoint.
	EntryPoint string

	// SpecializeLocalSize declares the local size in X as specialization
	// constant LocalSizeSpecID and decorates a WorkgroupSize builtin with it.
	// The OpExecutionMode LocalSize 1 1 1 instruction is still emitted.
	SpecializeLocalSize bool

	// LocalSizeX is the default value of the specialization constant, used
	// when the pipeline supplies no override. Zero means 1.
	LocalSizeX uint32
}

// BuildCopyKernel returns a compute module implementing
//
//	output[gl_GlobalInvocationID.x] = input[gl_GlobalInvocationID.x]
//
// over two storage buffers of elementCount signed 32-bit integers bound at
// set 0, bindings 0 and 1. The local size is fixed at 1x1x1.
//
// The result is a pure function of elementCount.
func BuildCopyKernel(elementCount uint32) ([]uint32, error) {
	return BuildCopyKernelWith(elementCount, KernelOptions{})
}

// BuildCopyKernelWith is BuildCopyKernel with explicit options.
func BuildCopyKernelWith(elementCount uint32, opts KernelOptions) ([]uint32, error) {
	if elementCount == 0 {
		return nil, ErrZeroLength
	}
	entry := opts.EntryPoint
	if entry == "" {
		entry = DefaultEntryPoint
	}
	localX := opts.LocalSizeX
	if localX == 0 {
		localX = 1
	}

	bound := boundFixed
	if opts.SpecializeLocalSize {
		bound = boundSpecialized
	}
	b := NewBuilder(Version1_0, bound)

	b.Capability(CapabilityShader)
	b.MemoryModel(AddressingLogical, MemoryModelGLSL450)
	b.EntryPoint(ExecutionModelGLCompute, idFunc, entry, idIn, idOut, idGlobalInvocation)
	b.ExecutionMode(idFunc, ExecutionModeLocalSize, 1, 1, 1)

	emitDecorations(b, opts.SpecializeLocalSize)
	emitTypes(b, elementCount)
	emitConstants(b, opts.SpecializeLocalSize, localX)

	b.Variable(idPointerType, idIn, StorageClassUniform)
	b.Variable(idPointerType, idOut, StorageClassUniform)
	b.Variable(idIntVectorPointerType, idGlobalInvocation, StorageClassInput)

	emitBody(b)

	return b.Build(), nil
}

// MustBuildCopyKernel is like BuildCopyKernel but panics on error.
func MustBuildCopyKernel(elementCount uint32) []uint32 {
	words, err := BuildCopyKernel(elementCount)
	if err != nil {
		panic(fmt.Sprintf("spirv: %v", err))
	}
	return words
}

func emitDecorations(b *Builder, specialize bool) {
	b.Decorate(idStruct, DecorationBufferBlock)
	b.Decorate(idGlobalInvocation, DecorationBuiltIn, uint32(BuiltInGlobalInvocationID))
	b.Decorate(idIn, DecorationDescriptorSet, CopyDescriptorSet)
	b.Decorate(idIn, DecorationBinding, CopyBindingInput)
	b.Decorate(idOut, DecorationDescriptorSet, CopyDescriptorSet)
	b.Decorate(idOut, DecorationBinding, CopyBindingOutput)
	b.Decorate(idIntArrayType, DecorationArrayStride, 4)
	b.MemberDecorate(idStruct, 0, DecorationOffset, 0)
	if specialize {
		b.Decorate(idLocalSizeX, DecorationSpecID, LocalSizeSpecID)
		b.Decorate(idWorkgroupSize, DecorationBuiltIn, uint32(BuiltInWorkgroupSize))
	}
}

func emitTypes(b *Builder, elementCount uint32) {
	b.Type(OpTypeVoid, idVoidType)
	b.Type(OpTypeFunction, idFuncType, idVoidType)
	b.Type(OpTypeInt, idIntType, 32, 1)
	b.TypedConstant(OpConstant, idIntType, idConstantArrayLength, elementCount)
	b.Type(OpTypeArray, idIntArrayType, idIntType, idConstantArrayLength)
	b.Type(OpTypeStruct, idStruct, idIntArrayType)
	b.Type(OpTypePointer, idPointerType, uint32(StorageClassUniform), idStruct)
	b.Type(OpTypePointer, idElementPointerType, uint32(StorageClassUniform), idIntType)
	b.Type(OpTypeVector, idIntVectorType, idIntType, 3)
	b.Type(OpTypePointer, idIntVectorPointerType, uint32(StorageClassInput), idIntVectorType)
	b.Type(OpTypePointer, idIntPointerType, uint32(StorageClassInput), idIntType)
}

func emitConstants(b *Builder, specialize bool, localX uint32) {
	b.Constant(OpConstant, idIntType, idConstantZero, 0)
	if !specialize {
		return
	}
	b.Constant(OpConstant, idIntType, idConstantOne, 1)
	b.Constant(OpSpecConstant, idIntType, idLocalSizeX, localX)
	b.Constant(OpSpecConstantComposite, idIntVectorType, idWorkgroupSize,
		idLocalSizeX, idConstantOne, idConstantOne)
}

func emitBody(b *Builder) {
	b.Code(OpFunction, idVoidType, idFunc, uint32(FunctionControlNone), idFuncType)
	b.Code(OpLabel, idLabel)

	b.Code(OpAccessChain, idIntPointerType, idGlobalInvocationXPtr, idGlobalInvocation, idConstantZero)
	b.Code(OpLoad, idIntType, idGlobalInvocationX, idGlobalInvocationXPtr)

	b.Code(OpAccessChain, idElementPointerType, idInElement, idIn, idConstantZero, idGlobalInvocationX)
	b.Code(OpLoad, idIntType, idTempLoaded, idInElement)

	b.Code(OpAccessChain, idElementPointerType, idOutElement, idOut, idConstantZero, idGlobalInvocationX)
	b.Code(OpStore, idOutElement, idTempLoaded)

	b.Code(OpReturn)
	b.Code(OpFunctionEnd)
}
