package soft

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/spirv"
)

var (
	errUnsupported = errors.New("soft: unsupported shader construct")
	errOutOfBounds = errors.New("soft: out of bounds access")
)

// maxSteps bounds the instructions a single invocation may execute.
const maxSteps = 1 << 16

type typeKind uint8

const (
	kindVoid typeKind = iota
	kindBool
	kindScalar // 32-bit integer or float, moved as bits
	kindVector
	kindArray
	kindRuntimeArray
	kindStruct
	kindPointer
	kindFunction
)

type shaderType struct {
	kind    typeKind
	elem    uint32 // component, element or pointee type
	count   uint32 // vector components or array length
	stride  uint64 // array stride in bytes
	members []uint32
	offsets []uint64
}

type space uint8

const (
	spaceInput space = iota + 1
	spaceBuffer
	spaceFunction
)

type pointer struct {
	space   space
	builtin spirv.BuiltIn
	binding uint32
	offset  uint64 // bytes for buffers, component index for inputs
	local   uint32
	typ     uint32 // pointee type
}

// value is the runtime value of one id. Scalars and booleans use v[0].
type value struct {
	v   [4]uint32
	n   uint8
	ptr pointer
}

func scalar(x uint32) value { return value{v: [4]uint32{x}, n: 1} }

// program is a compute entry point ready to execute.
type program struct {
	localSize [3]uint32
	types     map[uint32]*shaderType
	init      []value // constants and module-scope variables, indexed by id
	body      []spirv.Instruction
	labels    map[uint32]int
	bindings  []uint32
	glsl      uint32 // id of the GLSL.std.450 import, 0 if absent
}

// GLSL.std.450 integer instructions the interpreter executes.
const (
	glslUMin   = 38
	glslSMin   = 39
	glslUMax   = 41
	glslSMax   = 42
	glslUClamp = 44
	glslSClamp = 45
)

// minOperands is the operand count below which an instruction the
// interpreter reads is malformed.
var minOperands = map[spirv.OpCode]int{
	spirv.OpFunction:              2,
	spirv.OpTypeVoid:              1,
	spirv.OpTypeBool:              1,
	spirv.OpTypeInt:               2,
	spirv.OpTypeFloat:             2,
	spirv.OpTypeVector:            3,
	spirv.OpTypeArray:             3,
	spirv.OpTypeRuntimeArray:      2,
	spirv.OpTypeStruct:            1,
	spirv.OpTypePointer:           3,
	spirv.OpTypeFunction:          1,
	spirv.OpConstant:              3,
	spirv.OpConstantTrue:          2,
	spirv.OpConstantFalse:         2,
	spirv.OpConstantNull:          2,
	spirv.OpSpecConstant:          3,
	spirv.OpSpecConstantTrue:      2,
	spirv.OpSpecConstantFalse:     2,
	spirv.OpConstantComposite:     2,
	spirv.OpSpecConstantComposite: 2,
	spirv.OpVariable:              3,
	spirv.OpLabel:                 1,
	spirv.OpAccessChain:           3,
	spirv.OpInBoundsAccessChain:   3,
	spirv.OpLoad:                  3,
	spirv.OpStore:                 2,
	spirv.OpCompositeExtract:      4,
	spirv.OpCompositeConstruct:    2,
	spirv.OpIAdd:                  4,
	spirv.OpISub:                  4,
	spirv.OpIMul:                  4,
	spirv.OpIEqual:                4,
	spirv.OpINotEqual:             4,
	spirv.OpULessThan:             4,
	spirv.OpSLessThan:             4,
	spirv.OpULessThanEqual:        4,
	spirv.OpSLessThanEqual:        4,
	spirv.OpUGreaterThan:          4,
	spirv.OpSGreaterThan:          4,
	spirv.OpUGreaterThanEqual:     4,
	spirv.OpSGreaterThanEqual:     4,
	spirv.OpLogicalAnd:            4,
	spirv.OpLogicalOr:             4,
	spirv.OpLogicalNot:            3,
	spirv.OpSelect:                5,
	spirv.OpExtInstImport:         2,
	spirv.OpExtInst:               5,
	spirv.OpBitcast:               3,
	spirv.OpBranch:                1,
	spirv.OpBranchConditional:     3,
	spirv.OpSelectionMerge:        1,
	spirv.OpLoopMerge:             2,
}

// binaryOps are the two-operand integer and logical instructions, applied
// per component.
var binaryOps = map[spirv.OpCode]bool{
	spirv.OpIAdd: true, spirv.OpISub: true, spirv.OpIMul: true,
	spirv.OpIEqual: true, spirv.OpINotEqual: true,
	spirv.OpULessThan: true, spirv.OpSLessThan: true,
	spirv.OpULessThanEqual: true, spirv.OpSLessThanEqual: true,
	spirv.OpUGreaterThan: true, spirv.OpSGreaterThan: true,
	spirv.OpUGreaterThanEqual: true, spirv.OpSGreaterThanEqual: true,
	spirv.OpLogicalAnd: true, spirv.OpLogicalOr: true,
}

func bit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// evalBinary evaluates one component of a binaryOps instruction.
func evalBinary(op spirv.OpCode, a, b uint32) uint32 {
	sa, sb := int32(a), int32(b) //nolint:gosec // reinterpret
	switch op {
	case spirv.OpIAdd:
		return a + b
	case spirv.OpISub:
		return a - b
	case spirv.OpIMul:
		return a * b
	case spirv.OpIEqual:
		return bit(a == b)
	case spirv.OpINotEqual:
		return bit(a != b)
	case spirv.OpULessThan:
		return bit(a < b)
	case spirv.OpSLessThan:
		return bit(sa < sb)
	case spirv.OpULessThanEqual:
		return bit(a <= b)
	case spirv.OpSLessThanEqual:
		return bit(sa <= sb)
	case spirv.OpUGreaterThan:
		return bit(a > b)
	case spirv.OpSGreaterThan:
		return bit(sa > sb)
	case spirv.OpUGreaterThanEqual:
		return bit(a >= b)
	case spirv.OpSGreaterThanEqual:
		return bit(sa >= sb)
	case spirv.OpLogicalAnd:
		return bit(a != 0 && b != 0)
	case spirv.OpLogicalOr:
		return bit(a != 0 || b != 0)
	}
	panic(fmt.Sprintf("soft: %v is not a binary operation", op))
}

// evalExtInst evaluates a GLSL.std.450 integer instruction on scalars.
func evalExtInst(inst uint32, args []uint32) uint32 {
	s := func(i int) int32 { return int32(args[i]) } //nolint:gosec // reinterpret
	switch inst {
	case glslUMin:
		return min(args[0], args[1])
	case glslUMax:
		return max(args[0], args[1])
	case glslSMin:
		return uint32(min(s(0), s(1))) //nolint:gosec // reinterpret
	case glslSMax:
		return uint32(max(s(0), s(1))) //nolint:gosec // reinterpret
	case glslUClamp:
		return min(max(args[0], args[1]), args[2])
	case glslSClamp:
		return uint32(min(max(s(0), s(1)), s(2))) //nolint:gosec // reinterpret
	}
	panic(fmt.Sprintf("soft: GLSL.std.450 instruction %d", inst))
}

// extArgs is the operand count of each supported GLSL.std.450 instruction.
var extArgs = map[uint32]int{
	glslUMin: 2, glslSMin: 2, glslUMax: 2, glslSMax: 2, glslUClamp: 3, glslSClamp: 3,
}

func checkOperands(inst spirv.Instruction) error {
	if n := minOperands[inst.Opcode]; len(inst.Operands) < n {
		return fmt.Errorf("%w: %v with %d operands", errUnsupported, inst.Opcode, len(inst.Operands))
	}
	return nil
}

type compiler struct {
	mod         *spirv.Module
	p           *program
	fn          uint32
	decorations map[uint32]map[spirv.Decoration]uint32
	offsets     map[uint32]map[uint32]uint64
	overrides   map[uint32]uint32
}

// compile prepares the entry point named entry of m. Specialization entries
// replace the defaults of the specialization constants they name.
func compile(m *spirv.Module, entry string, spec []driver.SpecializationEntry) (*program, error) {
	c := &compiler{
		mod: m,
		p: &program{
			types:  make(map[uint32]*shaderType),
			init:   make([]value, m.Header.Bound),
			labels: make(map[uint32]int),
		},
		decorations: make(map[uint32]map[spirv.Decoration]uint32),
		offsets:     make(map[uint32]map[uint32]uint64),
		overrides:   make(map[uint32]uint32),
	}
	for _, e := range spec {
		c.overrides[e.ConstantID] = e.Value
	}

	fn, name, ok := m.EntryPoint()
	if !ok {
		return nil, fmt.Errorf("%w: no entry point", errUnsupported)
	}
	if entry != "" && entry != name {
		return nil, fmt.Errorf("%w: entry point %q not found (module has %q)", errUnsupported, entry, name)
	}
	c.fn = fn

	c.collectDecorations()
	if err := c.declarations(); err != nil {
		return nil, err
	}
	if err := c.checkBody(); err != nil {
		return nil, err
	}

	for id, decs := range c.decorations {
		if b, ok := decs[spirv.DecorationBuiltIn]; ok && spirv.BuiltIn(b) == spirv.BuiltInWorkgroupSize {
			if id < uint32(len(c.p.init)) && c.p.init[id].n == 3 { //nolint:gosec // bound fits uint32
				copy(c.p.localSize[:], c.p.init[id].v[:3])
			}
		}
	}
	for _, n := range c.p.localSize {
		if n == 0 {
			return nil, fmt.Errorf("%w: local size %v", errUnsupported, c.p.localSize)
		}
	}
	return c.p, nil
}

func (c *compiler) collectDecorations() {
	for _, inst := range c.mod.Instructions {
		ops := inst.Operands
		switch inst.Opcode {
		case spirv.OpDecorate:
			if len(ops) < 2 {
				continue
			}
			decs := c.decorations[ops[0]]
			if decs == nil {
				decs = make(map[spirv.Decoration]uint32)
				c.decorations[ops[0]] = decs
			}
			var v uint32
			if len(ops) > 2 {
				v = ops[2]
			}
			decs[spirv.Decoration(ops[1])] = v
		case spirv.OpMemberDecorate:
			if len(ops) < 4 || spirv.Decoration(ops[2]) != spirv.DecorationOffset {
				continue
			}
			if c.offsets[ops[0]] == nil {
				c.offsets[ops[0]] = make(map[uint32]uint64)
			}
			c.offsets[ops[0]][ops[1]] = uint64(ops[3])
		case spirv.OpExecutionMode:
			if len(ops) >= 5 && ops[0] == c.fn && spirv.ExecutionMode(ops[1]) == spirv.ExecutionModeLocalSize {
				copy(c.p.localSize[:], ops[2:5])
			}
		}
	}
}

func (c *compiler) decoration(id uint32, d spirv.Decoration) (uint32, bool) {
	v, ok := c.decorations[id][d]
	return v, ok
}

// declarations walks the module once, building types, constants and
// variables, and collects the body of the entry point.
//
//nolint:gocyclo,cyclop // one case per declaration opcode
func (c *compiler) declarations() error {
	p := c.p
	inFunc, inEntry := false, false
	for _, inst := range c.mod.Instructions {
		if err := checkOperands(inst); err != nil {
			return err
		}
		ops := inst.Operands
		if inFunc {
			if inst.Opcode == spirv.OpFunctionEnd {
				inFunc, inEntry = false, false
				continue
			}
			if inEntry {
				if inst.Opcode == spirv.OpLabel {
					p.labels[ops[0]] = len(p.body)
				}
				p.body = append(p.body, inst)
			}
			continue
		}

		switch inst.Opcode {
		case spirv.OpFunction:
			inFunc, inEntry = true, ops[1] == c.fn

		case spirv.OpTypeVoid:
			p.types[ops[0]] = &shaderType{kind: kindVoid}
		case spirv.OpTypeBool:
			p.types[ops[0]] = &shaderType{kind: kindBool}
		case spirv.OpTypeInt, spirv.OpTypeFloat:
			if ops[1] != 32 {
				return fmt.Errorf("%w: %d-bit %v", errUnsupported, ops[1], inst.Opcode)
			}
			p.types[ops[0]] = &shaderType{kind: kindScalar}
		case spirv.OpTypeVector:
			if ops[2] > 4 {
				return fmt.Errorf("%w: %d component vector", errUnsupported, ops[2])
			}
			p.types[ops[0]] = &shaderType{kind: kindVector, elem: ops[1], count: ops[2]}
		case spirv.OpTypeArray:
			p.types[ops[0]] = &shaderType{kind: kindArray, elem: ops[1], count: p.init[ops[2]].v[0], stride: c.stride(ops[0])}
		case spirv.OpTypeRuntimeArray:
			p.types[ops[0]] = &shaderType{kind: kindRuntimeArray, elem: ops[1], stride: c.stride(ops[0])}
		case spirv.OpTypeStruct:
			t := &shaderType{kind: kindStruct, members: ops[1:]}
			for i := range t.members {
				t.offsets = append(t.offsets, c.offsets[ops[0]][uint32(i)]) //nolint:gosec // member index
			}
			p.types[ops[0]] = t
		case spirv.OpTypePointer:
			p.types[ops[0]] = &shaderType{kind: kindPointer, elem: ops[2]}
		case spirv.OpTypeFunction:
			p.types[ops[0]] = &shaderType{kind: kindFunction}

		case spirv.OpConstant:
			p.init[ops[1]] = scalar(ops[2])
		case spirv.OpConstantTrue:
			p.init[ops[1]] = scalar(1)
		case spirv.OpConstantFalse, spirv.OpConstantNull:
			v := value{n: 1}
			if t := p.types[ops[0]]; t != nil && t.kind == kindVector {
				v.n = uint8(t.count) //nolint:gosec // at most 4
			}
			p.init[ops[1]] = v
		case spirv.OpSpecConstant:
			v := ops[2]
			if o, ok := c.specOverride(ops[1]); ok {
				v = o
			}
			p.init[ops[1]] = scalar(v)
		case spirv.OpSpecConstantTrue, spirv.OpSpecConstantFalse:
			v := uint32(0)
			if inst.Opcode == spirv.OpSpecConstantTrue {
				v = 1
			}
			if o, ok := c.specOverride(ops[1]); ok {
				v = min(o, 1)
			}
			p.init[ops[1]] = scalar(v)
		case spirv.OpConstantComposite, spirv.OpSpecConstantComposite:
			parts := ops[2:]
			if len(parts) > 4 {
				return fmt.Errorf("%w: %d component constant", errUnsupported, len(parts))
			}
			v := value{n: uint8(len(parts))} //nolint:gosec // at most 4
			for i, id := range parts {
				v.v[i] = p.init[id].v[0]
			}
			p.init[ops[1]] = v

		case spirv.OpVariable:
			if err := c.variable(ops); err != nil {
				return err
			}

		case spirv.OpExtInstImport:
			if spirv.LiteralString(ops[1:]) == "GLSL.std.450" {
				p.glsl = ops[0]
			}

		case spirv.OpSpecConstantOp:
			return fmt.Errorf("%w: %v", errUnsupported, inst.Opcode)
		}
	}
	if len(p.body) == 0 {
		return fmt.Errorf("%w: entry point %%%d has no body", errUnsupported, c.fn)
	}
	return nil
}

func (c *compiler) specOverride(id uint32) (uint32, bool) {
	specID, ok := c.decoration(id, spirv.DecorationSpecID)
	if !ok {
		return 0, false
	}
	v, ok := c.overrides[specID]
	return v, ok
}

// stride returns the ArrayStride decoration of an array type, defaulting to
// the size of a 32-bit element.
func (c *compiler) stride(id uint32) uint64 {
	if s, ok := c.decoration(id, spirv.DecorationArrayStride); ok {
		return uint64(s)
	}
	return 4
}

func (c *compiler) variable(ops []uint32) error {
	ptrType, id, class := ops[0], ops[1], spirv.StorageClass(ops[2])
	t, ok := c.p.types[ptrType]
	if !ok || t.kind != kindPointer {
		return fmt.Errorf("%w: variable %%%d has no pointer type", errUnsupported, id)
	}

	switch class {
	case spirv.StorageClassInput:
		b, ok := c.decoration(id, spirv.DecorationBuiltIn)
		if !ok {
			return fmt.Errorf("%w: input variable %%%d without a builtin", errUnsupported, id)
		}
		switch spirv.BuiltIn(b) {
		case spirv.BuiltInGlobalInvocationID, spirv.BuiltInLocalInvocationID, spirv.BuiltInWorkgroupID,
			spirv.BuiltInLocalInvocationIndex, spirv.BuiltInNumWorkgroups, spirv.BuiltInWorkgroupSize:
		default:
			return fmt.Errorf("%w: builtin %d", errUnsupported, b)
		}
		c.p.init[id] = value{ptr: pointer{space: spaceInput, builtin: spirv.BuiltIn(b), typ: t.elem}}

	case spirv.StorageClassUniform, spirv.StorageClassStorageBuffer:
		if set, _ := c.decoration(id, spirv.DecorationDescriptorSet); set != 0 {
			return fmt.Errorf("%w: descriptor set %d", errUnsupported, set)
		}
		binding, _ := c.decoration(id, spirv.DecorationBinding)
		c.p.init[id] = value{ptr: pointer{space: spaceBuffer, binding: binding, typ: t.elem}}
		c.p.bindings = append(c.p.bindings, binding)

	default:
		return fmt.Errorf("%w: storage class %d", errUnsupported, class)
	}
	return nil
}

// checkLabels rejects branch targets outside the entry point.
func (c *compiler) checkLabels(targets []uint32) error {
	for _, l := range targets {
		if _, ok := c.p.labels[l]; !ok {
			return fmt.Errorf("%w: branch to unknown label %%%d", errUnsupported, l)
		}
	}
	return nil
}

// checkBody rejects instructions the interpreter cannot execute.
func (c *compiler) checkBody() error {
	for _, inst := range c.p.body {
		ops := inst.Operands
		if binaryOps[inst.Opcode] {
			continue
		}
		switch inst.Opcode {
		case spirv.OpLabel, spirv.OpLine, spirv.OpNoLine, spirv.OpNop,
			spirv.OpAccessChain, spirv.OpInBoundsAccessChain, spirv.OpLoad, spirv.OpStore,
			spirv.OpLogicalNot, spirv.OpSelect, spirv.OpBitcast, spirv.OpReturn, spirv.OpUnreachable:
		case spirv.OpBranch, spirv.OpSelectionMerge:
			if err := c.checkLabels(ops[:1]); err != nil {
				return err
			}
		case spirv.OpLoopMerge:
			if err := c.checkLabels(ops[:2]); err != nil {
				return err
			}
		case spirv.OpBranchConditional:
			if err := c.checkLabels(ops[1:3]); err != nil {
				return err
			}
		case spirv.OpExtInst:
			if c.p.glsl == 0 || ops[2] != c.p.glsl {
				return fmt.Errorf("%w: extended instruction set %%%d", errUnsupported, ops[2])
			}
			n, ok := extArgs[ops[3]]
			if !ok {
				return fmt.Errorf("%w: GLSL.std.450 instruction %d", errUnsupported, ops[3])
			}
			if len(ops) != 4+n {
				return fmt.Errorf("%w: GLSL.std.450 instruction %d with %d arguments", errUnsupported, ops[3], len(ops)-4)
			}
		case spirv.OpVariable:
			if spirv.StorageClass(ops[2]) != spirv.StorageClassFunction {
				return fmt.Errorf("%w: storage class %d inside a function", errUnsupported, ops[2])
			}
			if t := c.p.types[ops[0]]; t == nil || t.kind != kindPointer {
				return fmt.Errorf("%w: variable %%%d has no pointer type", errUnsupported, ops[1])
			}
		case spirv.OpCompositeExtract:
			if len(ops) != 4 {
				return fmt.Errorf("%w: nested composite extract", errUnsupported)
			}
		case spirv.OpCompositeConstruct:
			if len(ops) > 6 {
				return fmt.Errorf("%w: %d component composite", errUnsupported, len(ops)-2)
			}
		default:
			return fmt.Errorf("%w: %v", errUnsupported, inst.Opcode)
		}
	}
	return nil
}

// execute runs every dispatch of w in order.
func (d *Device) execute(w *work) error {
	if d.cfg.SkipExecution {
		return nil
	}
	for i := range w.dispatches {
		disp := &w.dispatches[i]
		if err := disp.run(); err != nil {
			d.logger.Error("soft: dispatch failed", "device", d.name, "err", err)
			return fmt.Errorf("%w: %w", driver.ErrDeviceLost, err)
		}
		if d.cfg.AfterDispatch != nil {
			d.cfg.AfterDispatch(disp.regions)
		}
	}
	return nil
}

// run executes the dispatch. Workgroups are split into chunks that run in
// parallel; invocations within a workgroup run in order.
func (b *boundDispatch) run() error {
	gx, gy, gz := uint64(b.groups[0]), uint64(b.groups[1]), uint64(b.groups[2])
	total := gx * gy * gz
	if total == 0 {
		return nil
	}
	workers := uint64(runtime.GOMAXPROCS(0)) //nolint:gosec // positive
	chunk := max(1, (total+workers*4-1)/(workers*4))

	var g errgroup.Group
	g.SetLimit(int(workers)) //nolint:gosec // GOMAXPROCS
	for start := uint64(0); start < total; start += chunk {
		end := min(start+chunk, total)
		g.Go(func() error {
			inv := b.program.newInvocation(b.regions, b.groups)
			for gi := start; gi < end; gi++ {
				group := [3]uint32{uint32(gi % gx), uint32(gi / gx % gy), uint32(gi / (gx * gy))} //nolint:gosec // below group counts
				if err := inv.runGroup(group); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

type invocation struct {
	p       *program
	vals    []value
	locals  []value
	regions map[uint32][]byte
	groups  [3]uint32

	global, local, group [3]uint32
}

func (p *program) newInvocation(regions map[uint32][]byte, groups [3]uint32) *invocation {
	return &invocation{
		p:       p,
		vals:    make([]value, len(p.init)),
		locals:  make([]value, len(p.init)),
		regions: regions,
		groups:  groups,
	}
}

func (inv *invocation) runGroup(group [3]uint32) error {
	size := inv.p.localSize
	inv.group = group
	for z := range size[2] {
		for y := range size[1] {
			for x := range size[0] {
				inv.local = [3]uint32{x, y, z}
				for i := range 3 {
					inv.global[i] = group[i]*size[i] + inv.local[i]
				}
				if err := inv.run(); err != nil {
					return fmt.Errorf("invocation %v: %w", inv.global, err)
				}
			}
		}
	}
	return nil
}

//nolint:gocyclo,cyclop // interpreter dispatch loop
func (inv *invocation) run() error {
	p := inv.p
	copy(inv.vals, p.init)
	clear(inv.locals)

	for pc, steps := 0, 0; pc < len(p.body); steps++ {
		if steps == maxSteps {
			return fmt.Errorf("%w: more than %d steps", errUnsupported, maxSteps)
		}
		inst := p.body[pc]
		ops := inst.Operands
		pc++

		if binaryOps[inst.Opcode] {
			a, b := inv.vals[ops[2]], inv.vals[ops[3]]
			r := value{n: max(a.n, 1)}
			for i := range r.n {
				r.v[i] = evalBinary(inst.Opcode, a.v[i], b.v[i])
			}
			inv.vals[ops[1]] = r
			continue
		}

		switch inst.Opcode {
		case spirv.OpVariable:
			inv.vals[ops[1]] = value{ptr: pointer{space: spaceFunction, local: ops[1], typ: p.types[ops[0]].elem}}
			if len(ops) > 3 {
				inv.locals[ops[1]] = inv.vals[ops[3]]
			}
		case spirv.OpAccessChain, spirv.OpInBoundsAccessChain:
			ptr, err := inv.accessChain(inv.vals[ops[2]].ptr, ops[3:])
			if err != nil {
				return err
			}
			inv.vals[ops[1]] = value{ptr: ptr}
		case spirv.OpLoad:
			v, err := inv.load(inv.vals[ops[2]].ptr)
			if err != nil {
				return err
			}
			inv.vals[ops[1]] = v
		case spirv.OpStore:
			if err := inv.store(inv.vals[ops[0]].ptr, inv.vals[ops[1]]); err != nil {
				return err
			}
		case spirv.OpCompositeExtract:
			src := inv.vals[ops[2]]
			if ops[3] >= uint32(src.n) {
				return fmt.Errorf("%w: component %d of %d", errOutOfBounds, ops[3], src.n)
			}
			inv.vals[ops[1]] = scalar(src.v[ops[3]])
		case spirv.OpCompositeConstruct:
			v := value{n: uint8(len(ops) - 2)} //nolint:gosec // checked at compile
			for i, id := range ops[2:] {
				v.v[i] = inv.vals[id].v[0]
			}
			inv.vals[ops[1]] = v
		case spirv.OpLogicalNot:
			inv.vals[ops[1]] = boolean(inv.vals[ops[2]].v[0] == 0)
		case spirv.OpSelect:
			if inv.vals[ops[2]].v[0] != 0 {
				inv.vals[ops[1]] = inv.vals[ops[3]]
			} else {
				inv.vals[ops[1]] = inv.vals[ops[4]]
			}
		case spirv.OpExtInst:
			args := make([]uint32, len(ops)-4)
			for i, id := range ops[4:] {
				args[i] = inv.vals[id].v[0]
			}
			inv.vals[ops[1]] = scalar(evalExtInst(ops[3], args))
		case spirv.OpBitcast:
			inv.vals[ops[1]] = inv.vals[ops[2]]
		case spirv.OpBranch:
			pc = p.labels[ops[0]]
		case spirv.OpBranchConditional:
			if inv.vals[ops[0]].v[0] != 0 {
				pc = p.labels[ops[1]]
			} else {
				pc = p.labels[ops[2]]
			}
		case spirv.OpReturn:
			return nil
		case spirv.OpUnreachable:
			return fmt.Errorf("%w: reached OpUnreachable", errUnsupported)
		}
	}
	return nil
}

func boolean(b bool) value {
	if b {
		return scalar(1)
	}
	return scalar(0)
}

func (inv *invocation) accessChain(base pointer, indices []uint32) (pointer, error) {
	if base.space == spaceFunction {
		return pointer{}, fmt.Errorf("%w: access chain into a function variable", errUnsupported)
	}
	ptr := base
	for _, id := range indices {
		idx := inv.vals[id].v[0]
		t := inv.p.types[ptr.typ]
		if t == nil {
			return pointer{}, fmt.Errorf("%w: access chain through unknown type %%%d", errUnsupported, ptr.typ)
		}
		switch t.kind {
		case kindStruct:
			if int(idx) >= len(t.members) {
				return pointer{}, fmt.Errorf("%w: member %d of %d", errOutOfBounds, idx, len(t.members))
			}
			ptr.offset += t.offsets[idx]
			ptr.typ = t.members[idx]
		case kindArray, kindRuntimeArray:
			if t.kind == kindArray && idx >= t.count {
				return pointer{}, fmt.Errorf("%w: element %d of %d", errOutOfBounds, idx, t.count)
			}
			ptr.offset += uint64(idx) * t.stride
			ptr.typ = t.elem
		case kindVector:
			if idx >= t.count {
				return pointer{}, fmt.Errorf("%w: component %d of %d", errOutOfBounds, idx, t.count)
			}
			if ptr.space == spaceBuffer {
				ptr.offset += uint64(idx) * 4
			} else {
				ptr.offset += uint64(idx)
			}
			ptr.typ = t.elem
		default:
			return pointer{}, fmt.Errorf("%w: access chain through type kind %d", errUnsupported, t.kind)
		}
	}
	return ptr, nil
}

// components returns the number of 32-bit words a loadable type occupies.
func (inv *invocation) components(typ uint32) (int, error) {
	t := inv.p.types[typ]
	switch {
	case t == nil:
		return 0, fmt.Errorf("%w: unknown type %%%d", errUnsupported, typ)
	case t.kind == kindScalar || t.kind == kindBool:
		return 1, nil
	case t.kind == kindVector:
		return int(t.count), nil
	}
	return 0, fmt.Errorf("%w: load or store of type kind %d", errUnsupported, t.kind)
}

func (inv *invocation) builtin(b spirv.BuiltIn) [3]uint32 {
	switch b {
	case spirv.BuiltInGlobalInvocationID:
		return inv.global
	case spirv.BuiltInLocalInvocationID:
		return inv.local
	case spirv.BuiltInWorkgroupID:
		return inv.group
	case spirv.BuiltInNumWorkgroups:
		return inv.groups
	case spirv.BuiltInWorkgroupSize:
		return inv.p.localSize
	case spirv.BuiltInLocalInvocationIndex:
		s := inv.p.localSize
		return [3]uint32{inv.local[0] + inv.local[1]*s[0] + inv.local[2]*s[0]*s[1]}
	}
	return [3]uint32{}
}

func (inv *invocation) load(ptr pointer) (value, error) {
	n, err := inv.components(ptr.typ)
	if err != nil {
		return value{}, err
	}
	v := value{n: uint8(n)} //nolint:gosec // at most 4

	switch ptr.space {
	case spaceInput:
		b := inv.builtin(ptr.builtin)
		if n == 1 {
			return scalar(b[ptr.offset]), nil
		}
		copy(v.v[:], b[:])
		return v, nil
	case spaceFunction:
		return inv.locals[ptr.local], nil
	case spaceBuffer:
		region := inv.regions[ptr.binding]
		if end := ptr.offset + uint64(n)*4; end > uint64(len(region)) {
			return value{}, fmt.Errorf("%w: load of bytes [%d, %d) from binding %d of %d bytes",
				errOutOfBounds, ptr.offset, end, ptr.binding, len(region))
		}
		for i := range n {
			v.v[i] = binary.LittleEndian.Uint32(region[ptr.offset+uint64(i)*4:])
		}
		return v, nil
	}
	return value{}, fmt.Errorf("%w: load through an invalid pointer", errUnsupported)
}

func (inv *invocation) store(ptr pointer, v value) error {
	switch ptr.space {
	case spaceFunction:
		inv.locals[ptr.local] = v
		return nil
	case spaceBuffer:
		n, err := inv.components(ptr.typ)
		if err != nil {
			return err
		}
		region := inv.regions[ptr.binding]
		if end := ptr.offset + uint64(n)*4; end > uint64(len(region)) {
			return fmt.Errorf("%w: store to bytes [%d, %d) of binding %d of %d bytes",
				errOutOfBounds, ptr.offset, end, ptr.binding, len(region))
		}
		for i := range n {
			binary.LittleEndian.PutUint32(region[ptr.offset+uint64(i)*4:], v.v[i])
		}
		return nil
	}
	return fmt.Errorf("%w: store through a read-only pointer", errUnsupported)
}
