package spirv

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble writes a line-per-instruction listing of m to w. Result ids are
// printed on the left in the style of spirv-dis; other operands are printed
// as raw decimal words, except for literal strings.
func Disassemble(w io.Writer, m *Module) error {
	if _, err := fmt.Fprintf(w, "; SPIR-V\n; Version: %v\n; Generator: %d\n; Bound: %d\n; Schema: %d\n",
		m.Header.Version, m.Header.Generator, m.Header.Bound, m.Header.Schema); err != nil {
		return err
	}
	for _, inst := range m.Instructions {
		if _, err := io.WriteString(w, formatInstruction(inst)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func formatInstruction(inst Instruction) string {
	r, _ := instructionRefs(inst)
	ops := inst.Operands

	var sb strings.Builder
	if r.result != 0 {
		fmt.Fprintf(&sb, "%6s = ", fmt.Sprintf("%%%d", r.result))
	} else {
		sb.WriteString("         ")
	}
	sb.WriteString(inst.Opcode.String())

	for i := 0; i < len(ops); i++ {
		if inst.Opcode == OpEntryPoint && i == 2 {
			n := literalWords(ops[2:])
			fmt.Fprintf(&sb, " %q", LiteralString(ops[2:]))
			i += n - 1
			continue
		}
		if r.result != 0 && ops[i] == r.result && isResultSlot(inst.Opcode, i) {
			continue
		}
		if isIDSlot(inst.Opcode, i) {
			fmt.Fprintf(&sb, " %%%d", ops[i])
		} else {
			fmt.Fprintf(&sb, " %d", ops[i])
		}
	}
	return sb.String()
}

// isResultSlot reports whether operand i is the result id of op.
func isResultSlot(op OpCode, i int) bool {
	switch op {
	case OpTypeVoid, OpTypeBool, OpTypeInt, OpTypeFloat, OpTypeVector, OpTypeArray,
		OpTypeRuntimeArray, OpTypeStruct, OpTypePointer, OpTypeFunction, OpLabel,
		OpExtInstImport, OpString:
		return i == 0
	case OpEntryPoint, OpExecutionMode, OpName, OpMemberName, OpDecorate, OpMemberDecorate,
		OpStore, OpCapability, OpMemoryModel, OpReturn, OpFunctionEnd:
		return false
	}
	return i == 1
}

// isIDSlot reports whether operand i of op is an identifier, for printing.
func isIDSlot(op OpCode, i int) bool {
	switch op {
	case OpCapability, OpMemoryModel, OpTypeInt, OpTypeFloat:
		return false
	case OpEntryPoint:
		return i >= 1
	case OpExecutionMode, OpDecorate, OpMemberDecorate, OpName, OpMemberName:
		return i == 0
	case OpTypeVector:
		return i == 1
	case OpTypePointer:
		return i == 2
	case OpConstant, OpSpecConstant:
		return i == 0
	case OpVariable:
		return i == 0 || i == 3
	case OpFunction:
		return i == 0 || i == 3
	case OpCompositeExtract:
		return i <= 2
	}
	return true
}
