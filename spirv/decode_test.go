package spirv

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestDecodeErrors(t *testing.T) {
	valid := MustBuildCopyKernel(8)

	tests := []struct {
		name  string
		words []uint32
		want  error
	}{
		{"empty", nil, ErrShortModule},
		{"header only short", valid[:4], ErrShortModule},
		{"bad magic", append([]uint32{0x03022307}, valid[1:]...), ErrBadMagic},
		{"truncated", valid[:len(valid)-3], ErrTruncated},
		{"zero word count", append(slices.Clone(valid[:HeaderWords]), 0), ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.words)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Module)
	}{
		{"bound too small", func(m *Module) { m.Header.Bound = idTempLoaded }},
		{"use before definition", func(m *Module) {
			// Move the array length constant after the array type.
			for i, inst := range m.Instructions {
				if inst.Opcode == OpConstant && inst.Operands[1] == idConstantArrayLength {
					m.Instructions[i], m.Instructions[i+1] = m.Instructions[i+1], m.Instructions[i]
					return
				}
			}
		}},
		{"duplicate definition", func(m *Module) {
			for i, inst := range m.Instructions {
				if inst.Opcode == OpConstant && inst.Operands[1] == idConstantZero {
					dup := Instruction{Opcode: OpConstant, Operands: []uint32{idIntType, idConstantZero, 0}}
					m.Instructions = slices.Insert(m.Instructions, i+1, dup)
					return
				}
			}
		}},
		{"no execution mode", func(m *Module) {
			m.Instructions = slices.DeleteFunc(m.Instructions, func(inst Instruction) bool {
				return inst.Opcode == OpExecutionMode
			})
		}},
		{"second entry point", func(m *Module) {
			for i, inst := range m.Instructions {
				if inst.Opcode == OpEntryPoint {
					m.Instructions = slices.Insert(m.Instructions, i+1, inst)
					return
				}
			}
		}},
		{"undefined forward reference", func(m *Module) {
			m.Instructions = slices.Insert(m.Instructions, 0, Instruction{
				Opcode: OpDecorate, Operands: []uint32{idTempLoaded + 50, uint32(DecorationBinding), 0},
			})
			m.Header.Bound = idTempLoaded + 60
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode(MustBuildCopyKernel(16))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(m)
			if err := m.Validate(); !errors.Is(err, ErrInvalidModule) {
				t.Errorf("Validate() error = %v, want ErrInvalidModule", err)
			}
		})
	}
}

func TestWordsFromBytes(t *testing.T) {
	tests := []struct {
		in   []byte
		want []uint32
	}{
		{nil, []uint32{}},
		{[]byte{0x03, 0x02, 0x23, 0x07}, []uint32{MagicNumber}},
		{[]byte{0x03, 0x02, 0x23, 0x07, 0xAA}, []uint32{MagicNumber, 0xAA}},
		{[]byte{0x01, 0x02, 0x03}, []uint32{0x030201}},
		{[]byte{1, 0, 0, 0, 2, 0, 0}, []uint32{1, 2}},
	}
	for _, tt := range tests {
		got := WordsFromBytes(tt.in)
		if !slices.Equal(got, tt.want) {
			t.Errorf("WordsFromBytes(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	words := MustBuildCopyKernel(100)
	if got := WordsFromBytes(Bytes(words)); !slices.Equal(got, words) {
		t.Error("WordsFromBytes(Bytes(w)) != w")
	}
}

func TestDisassemble(t *testing.T) {
	m, err := Decode(MustBuildCopyKernel(16384))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Disassemble(&buf, m); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"; Bound: 23",
		`OpEntryPoint 5 %1 "main" %2 %3 %4`,
		"%16 = OpConstant %7 16384",
		"OpStore %19 %22",
		"OpFunctionEnd",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestLocalSizeX(t *testing.T) {
	tests := []struct {
		name            string
		opts            KernelOptions
		wantSize        uint32
		wantSpecialized bool
	}{
		{"fixed", KernelOptions{}, 1, false},
		{"specialized default", KernelOptions{SpecializeLocalSize: true}, 1, true},
		{"specialized baked", KernelOptions{SpecializeLocalSize: true, LocalSizeX: 64}, 64, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words, err := BuildCopyKernelWith(256, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			m, err := Decode(words)
			if err != nil {
				t.Fatal(err)
			}
			size, specialized, ok := m.LocalSizeX()
			if !ok || size != tt.wantSize || specialized != tt.wantSpecialized {
				t.Errorf("LocalSizeX() = %d, %v, %v, want %d, %v, true",
					size, specialized, ok, tt.wantSize, tt.wantSpecialized)
			}
		})
	}
}
