package spirv

import (
	"bytes"
	"errors"
	"slices"
	"testing"
)

// copyKernel16384 is the expected encoding of BuildCopyKernel(16384).
var copyKernel16384 = []uint32{
	MagicNumber, 0x00010000, 0, 23, 0,

	2<<16 | 17, 1, // OpCapability Shader
	3<<16 | 14, 0, 1, // OpMemoryModel Logical GLSL450
	8<<16 | 15, 5, 1, 0x6e69616d, 0, 2, 3, 4, // OpEntryPoint GLCompute %1 "main" %2 %3 %4
	6<<16 | 16, 1, 17, 1, 1, 1, // OpExecutionMode %1 LocalSize 1 1 1

	3<<16 | 71, 9, 3, // OpDecorate %9 BufferBlock
	4<<16 | 71, 4, 11, 28, // OpDecorate %4 BuiltIn GlobalInvocationId
	4<<16 | 71, 2, 34, 0, // OpDecorate %2 DescriptorSet 0
	4<<16 | 71, 2, 33, 0, // OpDecorate %2 Binding 0
	4<<16 | 71, 3, 34, 0,
	4<<16 | 71, 3, 33, 1,
	4<<16 | 71, 8, 6, 4, // OpDecorate %8 ArrayStride 4
	5<<16 | 72, 9, 0, 35, 0, // OpMemberDecorate %9 0 Offset 0

	2<<16 | 19, 5, // %5 = OpTypeVoid
	3<<16 | 33, 6, 5, // %6 = OpTypeFunction %5
	4<<16 | 21, 7, 32, 1, // %7 = OpTypeInt 32 1
	4<<16 | 43, 7, 16, 16384, // %16 = OpConstant %7 16384
	4<<16 | 28, 8, 7, 16, // %8 = OpTypeArray %7 %16
	3<<16 | 30, 9, 8, // %9 = OpTypeStruct %8
	4<<16 | 32, 10, 2, 9, // %10 = OpTypePointer Uniform %9
	4<<16 | 32, 11, 2, 7, // %11 = OpTypePointer Uniform %7
	4<<16 | 23, 12, 7, 3, // %12 = OpTypeVector %7 3
	4<<16 | 32, 13, 1, 12, // %13 = OpTypePointer Input %12
	4<<16 | 32, 14, 1, 7, // %14 = OpTypePointer Input %7

	4<<16 | 43, 7, 15, 0, // %15 = OpConstant %7 0

	4<<16 | 59, 10, 2, 2, // %2 = OpVariable %10 Uniform
	4<<16 | 59, 10, 3, 2, // %3 = OpVariable %10 Uniform
	4<<16 | 59, 13, 4, 1, // %4 = OpVariable %13 Input

	5<<16 | 54, 5, 1, 0, 6, // %1 = OpFunction %5 None %6
	2<<16 | 248, 17, // %17 = OpLabel
	5<<16 | 65, 14, 21, 4, 15, // %21 = OpAccessChain %14 %4 %15
	4<<16 | 61, 7, 20, 21, // %20 = OpLoad %7 %21
	6<<16 | 65, 11, 18, 2, 15, 20, // %18 = OpAccessChain %11 %2 %15 %20
	4<<16 | 61, 7, 22, 18, // %22 = OpLoad %7 %18
	6<<16 | 65, 11, 19, 3, 15, 20, // %19 = OpAccessChain %11 %3 %15 %20
	3<<16 | 62, 19, 22, // OpStore %19 %22
	1<<16 | 253, // OpReturn
	1<<16 | 56,  // OpFunctionEnd
}

func TestBuildCopyKernelGolden(t *testing.T) {
	got, err := BuildCopyKernel(16384)
	if err != nil {
		t.Fatalf("BuildCopyKernel(16384) error: %v", err)
	}
	if !slices.Equal(got, copyKernel16384) {
		for i := range min(len(got), len(copyKernel16384)) {
			if got[i] != copyKernel16384[i] {
				t.Fatalf("word %d = 0x%08x, want 0x%08x", i, got[i], copyKernel16384[i])
			}
		}
		t.Fatalf("len = %d, want %d", len(got), len(copyKernel16384))
	}
}

func TestBuildCopyKernelDeterministic(t *testing.T) {
	for _, n := range []uint32{1, 3, 64, 16384, 1 << 20, 0xFFFFFFFF} {
		a := Bytes(MustBuildCopyKernel(n))
		b := Bytes(MustBuildCopyKernel(n))
		if !bytes.Equal(a, b) {
			t.Errorf("BuildCopyKernel(%d) not deterministic", n)
		}
	}
}

func TestBuildCopyKernelBound(t *testing.T) {
	tests := []struct {
		name string
		n    uint32
		opts KernelOptions
	}{
		{"fixed small", 1, KernelOptions{}},
		{"fixed large", 1 << 24, KernelOptions{}},
		{"specialized default", 16384, KernelOptions{SpecializeLocalSize: true}},
		{"specialized baked", 16384, KernelOptions{SpecializeLocalSize: true, LocalSizeX: 64}},
		{"named entry", 7, KernelOptions{EntryPoint: "copy_halves"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := BuildCopyKernelWith(tt.n, tt.opts)
			if err != nil {
				t.Fatalf("BuildCopyKernelWith error: %v", err)
			}
			m, err := Decode(words)
			if err != nil {
				t.Fatalf("Decode error: %v", err)
			}
			if err := m.Validate(); err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if got, want := m.Header.Bound, m.MaxID()+1; got != want {
				t.Errorf("bound = %d, want max id + 1 = %d", got, want)
			}
		})
	}
}

func TestBuildCopyKernelZero(t *testing.T) {
	if _, err := BuildCopyKernel(0); !errors.Is(err, ErrZeroLength) {
		t.Errorf("BuildCopyKernel(0) error = %v, want ErrZeroLength", err)
	}
}

func TestSpecializedKernel(t *testing.T) {
	words, err := BuildCopyKernelWith(1024, KernelOptions{SpecializeLocalSize: true, LocalSizeX: 32})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Decode(words)
	if err != nil {
		t.Fatal(err)
	}

	var specID, builtin, specDefault, localSizeModes int
	for _, inst := range m.Instructions {
		switch inst.Opcode {
		case OpDecorate:
			switch Decoration(inst.Operands[1]) {
			case DecorationSpecID:
				specID++
				if inst.Operands[2] != LocalSizeSpecID {
					t.Errorf("SpecId = %d, want %d", inst.Operands[2], LocalSizeSpecID)
				}
			case DecorationBuiltIn:
				if BuiltIn(inst.Operands[2]) == BuiltInWorkgroupSize {
					builtin++
				}
			}
		case OpSpecConstant:
			specDefault = int(inst.Operands[2])
		case OpExecutionMode:
			localSizeModes++
			if got := inst.Operands[2:]; !slices.Equal(got, []uint32{1, 1, 1}) {
				t.Errorf("LocalSize = %v, want [1 1 1]", got)
			}
		}
	}
	if specID != 1 || builtin != 1 || localSizeModes != 1 {
		t.Errorf("SpecId=%d WorkgroupSize=%d LocalSize=%d, want one each", specID, builtin, localSizeModes)
	}
	if specDefault != 32 {
		t.Errorf("spec constant default = %d, want 32", specDefault)
	}
}

func TestEntryPointName(t *testing.T) {
	m, err := Decode(MustBuildCopyKernel(4))
	if err != nil {
		t.Fatal(err)
	}
	fn, name, ok := m.EntryPoint()
	if !ok || fn != idFunc || name != DefaultEntryPoint {
		t.Errorf("EntryPoint() = (%d, %q, %v), want (%d, %q, true)", fn, name, ok, idFunc, DefaultEntryPoint)
	}
}
