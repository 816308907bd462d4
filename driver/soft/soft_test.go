package soft

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/spirv"
)

// rig holds a device with the copy kernel bound to two halves of one
// host-visible allocation.
type rig struct {
	inst   *Instance
	dev    driver.Device
	mem    driver.MemoryID
	layout driver.PipelineLayoutID
	pipe   driver.PipelineID
	set    driver.DescriptorSetID
	pool   driver.CommandPoolID
	queue  driver.Queue
	n      uint32
}

func newRig(t *testing.T, cfg Config, n uint32, kernel []uint32, spec []driver.SpecializationEntry) *rig {
	t.Helper()
	r := &rig{inst: New(cfg), n: n}

	pds, err := r.inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	require.Len(t, pds, 1)

	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 1, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	r.dev = dev
	t.Cleanup(dev.Destroy)

	half := uint64(n) * 4
	r.mem, err = dev.AllocateMemory(1, 2*half)
	require.NoError(t, err)
	t.Cleanup(func() { dev.FreeMemory(r.mem) })

	var bufs [2]driver.BufferID
	for i := range bufs {
		bufs[i], err = dev.CreateBuffer(half, driver.BufferUsageStorage)
		require.NoError(t, err)
		require.NoError(t, dev.BindBufferMemory(bufs[i], r.mem, uint64(i)*half))
		b := bufs[i]
		t.Cleanup(func() { dev.DestroyBuffer(b) })
	}

	module, err := dev.CreateShaderModule(kernel)
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyShaderModule(module) })

	setLayout, err := dev.CreateDescriptorSetLayout([]driver.DescriptorBinding{
		{Binding: 0, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageCompute},
		{Binding: 1, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageCompute},
	})
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyDescriptorSetLayout(setLayout) })

	r.layout, err = dev.CreatePipelineLayout([]driver.DescriptorSetLayoutID{setLayout})
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyPipelineLayout(r.layout) })

	r.pipe, err = dev.CreateComputePipeline(&driver.ComputePipelineDesc{
		Layout: r.layout, Module: module, EntryPoint: spirv.DefaultEntryPoint, Specialization: spec,
	})
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyPipeline(r.pipe) })

	dp, err := dev.CreateDescriptorPool(&driver.DescriptorPoolDesc{
		Flags: driver.DescriptorPoolFreeDescriptorSet, MaxSets: 1,
		Sizes: []driver.DescriptorPoolSize{{Type: driver.DescriptorTypeStorageBuffer, Count: 2}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyDescriptorPool(dp) })

	r.set, err = dev.AllocateDescriptorSet(dp, setLayout)
	require.NoError(t, err)
	require.NoError(t, dev.UpdateDescriptorSet(r.set, []driver.DescriptorWrite{
		{Binding: 0, Type: driver.DescriptorTypeStorageBuffer, Buffer: bufs[0], Range: driver.WholeSize},
		{Binding: 1, Type: driver.DescriptorTypeStorageBuffer, Buffer: bufs[1], Range: driver.WholeSize},
	}))

	r.pool, err = dev.CreateCommandPool(1)
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyCommandPool(r.pool) })

	r.queue, err = dev.Queue(1, 0)
	require.NoError(t, err)
	return r
}

// fill writes i*3+1 to every input element and zeroes the output.
func (r *rig) fill(t *testing.T) {
	t.Helper()
	data, err := r.dev.MapMemory(r.mem, 0, driver.WholeSize)
	require.NoError(t, err)
	for i := range 2 * r.n {
		v := uint32(0)
		if i < r.n {
			v = i*3 + 1
		}
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	require.NoError(t, r.dev.UnmapMemory(r.mem))
}

// mismatches returns the output indices that differ from the input.
func (r *rig) mismatches(t *testing.T) []uint32 {
	t.Helper()
	data, err := r.dev.MapMemory(r.mem, 0, driver.WholeSize)
	require.NoError(t, err)
	defer func() { require.NoError(t, r.dev.UnmapMemory(r.mem)) }()
	var bad []uint32
	for i := range r.n {
		in := binary.LittleEndian.Uint32(data[i*4:])
		out := binary.LittleEndian.Uint32(data[(r.n+i)*4:])
		if in != out {
			bad = append(bad, i)
		}
	}
	return bad
}

func (r *rig) run(t *testing.T, groups uint32) error {
	t.Helper()
	cb, err := r.dev.AllocateCommandBuffer(r.pool)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	cb.BindPipeline(r.pipe)
	cb.BindDescriptorSet(r.layout, r.set)
	cb.Dispatch(groups, 1, 1)
	require.NoError(t, cb.End())
	require.NoError(t, r.queue.Submit(cb))
	return r.queue.WaitIdle()
}

func TestCopyKernelFixedLocalSize(t *testing.T) {
	const n = 1024
	r := newRig(t, DefaultConfig(), n, spirv.MustBuildCopyKernel(n), nil)
	r.fill(t)
	require.NoError(t, r.run(t, n))
	assert.Empty(t, r.mismatches(t))
}

func TestCopyKernelSpecializedLocalSize(t *testing.T) {
	const n = 16384
	kernel, err := spirv.BuildCopyKernelWith(n, spirv.KernelOptions{SpecializeLocalSize: true})
	require.NoError(t, err)

	r := newRig(t, DefaultConfig(), n, kernel, []driver.SpecializationEntry{{ConstantID: spirv.LocalSizeSpecID, Value: 32}})
	r.fill(t)
	require.NoError(t, r.run(t, n/32))
	assert.Empty(t, r.mismatches(t))
}

func TestCopyKernelSpecializationUnsupported(t *testing.T) {
	const n = 4096
	cfg := DefaultConfig()
	cfg.Capabilities.SupportsSpecialization = false

	// The override is ignored, so the baked default decides the local size.
	kernel, err := spirv.BuildCopyKernelWith(n, spirv.KernelOptions{SpecializeLocalSize: true, LocalSizeX: 64})
	require.NoError(t, err)
	r := newRig(t, cfg, n, kernel, []driver.SpecializationEntry{{ConstantID: spirv.LocalSizeSpecID, Value: 1}})
	r.fill(t)
	require.NoError(t, r.run(t, n/64))
	assert.Empty(t, r.mismatches(t))
}

func TestPartialDispatchLeavesTail(t *testing.T) {
	const n = 256
	r := newRig(t, DefaultConfig(), n, spirv.MustBuildCopyKernel(n), nil)
	r.fill(t)
	require.NoError(t, r.run(t, n-6))
	bad := r.mismatches(t)
	require.Len(t, bad, 6)
	assert.Equal(t, uint32(n-6), bad[0])
}

func TestOverDispatchIsDeviceLost(t *testing.T) {
	const n = 64
	r := newRig(t, DefaultConfig(), n, spirv.MustBuildCopyKernel(n), nil)
	r.fill(t)
	err := r.run(t, n+1)
	require.ErrorIs(t, err, driver.ErrDeviceLost)
	assert.ErrorIs(t, err, errOutOfBounds)

	// The error is reported once.
	assert.NoError(t, r.queue.WaitIdle())
}

// guardedCopyKernel builds a copy kernel that returns early when
// gid.x >= n, like compiled WGSL does, so it tolerates over-dispatch.
// branchTo replaces the early-return label when non-zero.
func guardedCopyKernel(n, branchTo uint32) []uint32 {
	const (
		idFunc = iota + 1
		idIn
		idOut
		idGID
		idVoid
		idFuncType
		idUint
		idLen
		idArray
		idStruct
		idStructPtr
		idElemPtr
		idUvec3
		idUvec3Ptr
		idBool
		idZero
		idEntry
		idGIDValue
		idX
		idOutside
		idEarly
		idCopy
		idInPtr
		idValue
		idOutPtr
		bound
	)
	if branchTo == 0 {
		branchTo = idEarly
	}
	b := spirv.NewBuilder(spirv.Version1_0, bound)
	b.Capability(spirv.CapabilityShader)
	b.MemoryModel(spirv.AddressingLogical, spirv.MemoryModelGLSL450)
	b.EntryPoint(spirv.ExecutionModelGLCompute, idFunc, spirv.DefaultEntryPoint, idIn, idOut, idGID)
	b.ExecutionMode(idFunc, spirv.ExecutionModeLocalSize, 1, 1, 1)

	b.Decorate(idStruct, spirv.DecorationBufferBlock)
	b.Decorate(idGID, spirv.DecorationBuiltIn, uint32(spirv.BuiltInGlobalInvocationID))
	b.Decorate(idIn, spirv.DecorationDescriptorSet, 0)
	b.Decorate(idIn, spirv.DecorationBinding, 0)
	b.Decorate(idOut, spirv.DecorationDescriptorSet, 0)
	b.Decorate(idOut, spirv.DecorationBinding, 1)
	b.Decorate(idArray, spirv.DecorationArrayStride, 4)
	b.MemberDecorate(idStruct, 0, spirv.DecorationOffset, 0)

	b.Type(spirv.OpTypeVoid, idVoid)
	b.Type(spirv.OpTypeFunction, idFuncType, idVoid)
	b.Type(spirv.OpTypeInt, idUint, 32, 0)
	b.TypedConstant(spirv.OpConstant, idUint, idLen, n)
	b.Type(spirv.OpTypeArray, idArray, idUint, idLen)
	b.Type(spirv.OpTypeStruct, idStruct, idArray)
	b.Type(spirv.OpTypePointer, idStructPtr, uint32(spirv.StorageClassUniform), idStruct)
	b.Type(spirv.OpTypePointer, idElemPtr, uint32(spirv.StorageClassUniform), idUint)
	b.Type(spirv.OpTypeVector, idUvec3, idUint, 3)
	b.Type(spirv.OpTypePointer, idUvec3Ptr, uint32(spirv.StorageClassInput), idUvec3)
	b.Type(spirv.OpTypeBool, idBool)
	b.Constant(spirv.OpConstant, idUint, idZero, 0)

	b.Variable(idStructPtr, idIn, spirv.StorageClassUniform)
	b.Variable(idStructPtr, idOut, spirv.StorageClassUniform)
	b.Variable(idUvec3Ptr, idGID, spirv.StorageClassInput)

	b.Code(spirv.OpFunction, idVoid, idFunc, uint32(spirv.FunctionControlNone), idFuncType)
	b.Code(spirv.OpLabel, idEntry)
	b.Code(spirv.OpLoad, idUvec3, idGIDValue, idGID)
	b.Code(spirv.OpCompositeExtract, idUint, idX, idGIDValue, 0)
	b.Code(spirv.OpUGreaterThanEqual, idBool, idOutside, idX, idLen)
	b.Code(spirv.OpSelectionMerge, idCopy, 0)
	b.Code(spirv.OpBranchConditional, idOutside, branchTo, idCopy)
	b.Code(spirv.OpLabel, idEarly)
	b.Code(spirv.OpReturn)
	b.Code(spirv.OpLabel, idCopy)
	b.Code(spirv.OpAccessChain, idElemPtr, idInPtr, idIn, idZero, idX)
	b.Code(spirv.OpLoad, idUint, idValue, idInPtr)
	b.Code(spirv.OpAccessChain, idElemPtr, idOutPtr, idOut, idZero, idX)
	b.Code(spirv.OpStore, idOutPtr, idValue)
	b.Code(spirv.OpReturn)
	b.Code(spirv.OpFunctionEnd)
	return b.Build()
}

func TestGuardedKernelToleratesOverDispatch(t *testing.T) {
	const n = 100
	r := newRig(t, DefaultConfig(), n, guardedCopyKernel(n, 0), nil)
	r.fill(t)
	require.NoError(t, r.run(t, n+28))
	assert.Empty(t, r.mismatches(t))
}

func TestBranchToUnknownLabelRejected(t *testing.T) {
	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 1, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)

	// The function id is defined, but it is not a label of the entry point.
	words := guardedCopyKernel(16, 1)
	module, err := dev.CreateShaderModule(words)
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyShaderModule(module) })
	layout, err := dev.CreatePipelineLayout(nil)
	require.NoError(t, err)
	t.Cleanup(func() { dev.DestroyPipelineLayout(layout) })

	_, err = dev.CreateComputePipeline(&driver.ComputePipelineDesc{
		Layout: layout, Module: module, EntryPoint: spirv.DefaultEntryPoint,
	})
	require.ErrorIs(t, err, driver.ErrInitializationFailed)
	assert.ErrorIs(t, err, errUnsupported)
}

func TestIntegerOperations(t *testing.T) {
	neg := uint32(0xffffffff) // -1
	tests := []struct {
		op   spirv.OpCode
		a, b uint32
		want uint32
	}{
		{spirv.OpIAdd, 2, 3, 5},
		{spirv.OpISub, 2, 3, neg},
		{spirv.OpIMul, 4, 3, 12},
		{spirv.OpIEqual, 7, 7, 1},
		{spirv.OpINotEqual, 7, 7, 0},
		{spirv.OpULessThan, 1, neg, 1},
		{spirv.OpSLessThan, 1, neg, 0},
		{spirv.OpULessThanEqual, 3, 3, 1},
		{spirv.OpSLessThanEqual, neg, 0, 1},
		{spirv.OpUGreaterThan, neg, 1, 1},
		{spirv.OpSGreaterThan, neg, 1, 0},
		{spirv.OpUGreaterThanEqual, 16384, 16384, 1},
		{spirv.OpUGreaterThanEqual, 16383, 16384, 0},
		{spirv.OpSGreaterThanEqual, 0, neg, 1},
		{spirv.OpLogicalAnd, 1, 0, 0},
		{spirv.OpLogicalOr, 1, 0, 1},
	}
	for _, tt := range tests {
		if got := evalBinary(tt.op, tt.a, tt.b); got != tt.want {
			t.Errorf("%v(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
		}
	}

	ext := []struct {
		inst uint32
		args []uint32
		want uint32
	}{
		{glslUMin, []uint32{5, 9}, 5},
		{glslUMax, []uint32{5, 9}, 9},
		{glslSMin, []uint32{neg, 1}, neg},
		{glslSMax, []uint32{neg, 1}, 1},
		{glslUClamp, []uint32{20, 0, 15}, 15},
		{glslSClamp, []uint32{neg, 0, 15}, 0},
	}
	for _, tt := range ext {
		if got := evalExtInst(tt.inst, tt.args); got != tt.want {
			t.Errorf("GLSL.std.450 %d%v = %d, want %d", tt.inst, tt.args, got, tt.want)
		}
	}
}

func TestAfterDispatchHook(t *testing.T) {
	const n = 128
	cfg := DefaultConfig()
	calls := 0
	cfg.AfterDispatch = func(bindings map[uint32][]byte) {
		calls++
		out := bindings[spirv.CopyBindingOutput]
		binary.LittleEndian.PutUint32(out[64*4:], 0xdeadbeef)
	}
	r := newRig(t, cfg, n, spirv.MustBuildCopyKernel(n), nil)
	r.fill(t)
	require.NoError(t, r.run(t, n))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []uint32{64}, r.mismatches(t))
}

func TestSkipExecution(t *testing.T) {
	const n = 32
	cfg := DefaultConfig()
	cfg.SkipExecution = true
	r := newRig(t, cfg, n, spirv.MustBuildCopyKernel(n), nil)
	r.fill(t)
	require.NoError(t, r.run(t, n))
	assert.Len(t, r.mismatches(t), n)
}

func TestSubmissionsRunInOrder(t *testing.T) {
	const n = 512
	r := newRig(t, DefaultConfig(), n, spirv.MustBuildCopyKernel(n), nil)
	r.fill(t)

	cb, err := r.dev.AllocateCommandBuffer(r.pool)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	cb.BindPipeline(r.pipe)
	cb.BindDescriptorSet(r.layout, r.set)
	cb.Dispatch(n, 1, 1)
	require.NoError(t, cb.End())
	for range 10 {
		require.NoError(t, r.queue.Submit(cb))
	}
	require.NoError(t, r.dev.WaitIdle())
	assert.Empty(t, r.mismatches(t))
}

func TestCommandBufferErrorsReportedAtEnd(t *testing.T) {
	const n = 32
	r := newRig(t, DefaultConfig(), n, spirv.MustBuildCopyKernel(n), nil)

	cb, err := r.dev.AllocateCommandBuffer(r.pool)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	cb.Dispatch(1, 1, 1)
	require.ErrorIs(t, cb.End(), driver.ErrInitializationFailed)
	require.Error(t, r.queue.Submit(cb))

	require.NoError(t, cb.Begin())
	cb.BindPipeline(r.pipe)
	cb.Dispatch(70000, 1, 1)
	assert.ErrorIs(t, cb.End(), driver.ErrInitializationFailed)
}

func TestFaultInjection(t *testing.T) {
	boom := errors.New("boom")
	cfg := DefaultConfig()
	cfg.Faults = map[string]error{"CreateComputePipeline": boom}

	inst := New(cfg)
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 0, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	defer dev.Destroy()

	_, err = dev.CreateComputePipeline(&driver.ComputePipelineDesc{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "CreateComputePipeline")
}

func TestMemory(t *testing.T) {
	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 0, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	defer dev.Destroy()

	t.Run("heap exhausted", func(t *testing.T) {
		_, err := dev.AllocateMemory(1, 512<<20+1)
		assert.ErrorIs(t, err, driver.ErrOutOfDeviceMemory)
	})

	t.Run("not host visible", func(t *testing.T) {
		mem, err := dev.AllocateMemory(0, 64)
		require.NoError(t, err)
		defer dev.FreeMemory(mem)
		_, err = dev.MapMemory(mem, 0, driver.WholeSize)
		assert.ErrorIs(t, err, driver.ErrMemoryMapFailed)
	})

	t.Run("double map", func(t *testing.T) {
		mem, err := dev.AllocateMemory(1, 64)
		require.NoError(t, err)
		defer dev.FreeMemory(mem)
		data, err := dev.MapMemory(mem, 16, 32)
		require.NoError(t, err)
		assert.Len(t, data, 32)
		_, err = dev.MapMemory(mem, 0, driver.WholeSize)
		assert.ErrorIs(t, err, driver.ErrMemoryMapFailed)
		require.NoError(t, dev.UnmapMemory(mem))
	})

	t.Run("misaligned bind", func(t *testing.T) {
		mem, err := dev.AllocateMemory(1, 64)
		require.NoError(t, err)
		defer dev.FreeMemory(mem)
		buf, err := dev.CreateBuffer(16, driver.BufferUsageStorage)
		require.NoError(t, err)
		defer dev.DestroyBuffer(buf)
		assert.ErrorIs(t, dev.BindBufferMemory(buf, mem, 4), driver.ErrInitializationFailed)
		assert.ErrorIs(t, dev.BindBufferMemory(buf, mem, 64), driver.ErrInitializationFailed)
		assert.NoError(t, dev.BindBufferMemory(buf, mem, 48))
	})

}

func TestDescriptorPoolLimits(t *testing.T) {
	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 0, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	defer dev.Destroy()

	layout, err := dev.CreateDescriptorSetLayout([]driver.DescriptorBinding{
		{Binding: 0, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageCompute},
	})
	require.NoError(t, err)
	defer dev.DestroyDescriptorSetLayout(layout)

	pool, err := dev.CreateDescriptorPool(&driver.DescriptorPoolDesc{
		MaxSets: 1,
		Sizes:   []driver.DescriptorPoolSize{{Type: driver.DescriptorTypeStorageBuffer, Count: 1}},
	})
	require.NoError(t, err)
	defer dev.DestroyDescriptorPool(pool)

	set, err := dev.AllocateDescriptorSet(pool, layout)
	require.NoError(t, err)
	_, err = dev.AllocateDescriptorSet(pool, layout)
	require.ErrorIs(t, err, driver.ErrOutOfDeviceMemory)
	assert.ErrorIs(t, dev.FreeDescriptorSet(pool, set), driver.ErrInitializationFailed)
}

func TestCreateDeviceChecksQueues(t *testing.T) {
	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)

	_, err = pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 7, QueuePriorities: []float32{1}})
	require.ErrorIs(t, err, driver.ErrInitializationFailed)
	_, err = pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 0, QueuePriorities: []float32{1, 1}})
	require.ErrorIs(t, err, driver.ErrInitializationFailed)
}

func TestLiveObjects(t *testing.T) {
	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 1, QueuePriorities: []float32{1}})
	require.NoError(t, err)

	mem, err := dev.AllocateMemory(1, 64)
	require.NoError(t, err)
	buf, err := dev.CreateBuffer(64, driver.BufferUsageStorage)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"device": 1, "memory": 1, "buffer": 1}, inst.LiveObjects())

	dev.DestroyBuffer(buf)
	dev.FreeMemory(mem)
	dev.Destroy()
	assert.Empty(t, inst.LiveObjects())
}

func TestPipelineRejectsOversizedLocalSize(t *testing.T) {
	const n = 4096
	kernel, err := spirv.BuildCopyKernelWith(n, spirv.KernelOptions{SpecializeLocalSize: true})
	require.NoError(t, err)

	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 1, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	defer dev.Destroy()

	module, err := dev.CreateShaderModule(kernel)
	require.NoError(t, err)
	defer dev.DestroyShaderModule(module)
	pl, err := dev.CreatePipelineLayout(nil)
	require.NoError(t, err)
	defer dev.DestroyPipelineLayout(pl)

	_, err = dev.CreateComputePipeline(&driver.ComputePipelineDesc{
		Layout: pl, Module: module, EntryPoint: "main",
		Specialization: []driver.SpecializationEntry{{ConstantID: 0, Value: 2048}},
	})
	assert.ErrorIs(t, err, driver.ErrInitializationFailed)

	_, err = dev.CreateComputePipeline(&driver.ComputePipelineDesc{Layout: pl, Module: module, EntryPoint: "other"})
	assert.ErrorIs(t, err, driver.ErrInitializationFailed)
}

func TestCreateShaderModuleValidates(t *testing.T) {
	inst := New(DefaultConfig())
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	dev, err := pds[0].CreateDevice(&driver.DeviceDesc{QueueFamily: 0, QueuePriorities: []float32{1}})
	require.NoError(t, err)
	defer dev.Destroy()

	kernel := spirv.MustBuildCopyKernel(16)
	kernel[3] = 5 // bound below the ids in use
	_, err = dev.CreateShaderModule(kernel)
	require.ErrorIs(t, err, driver.ErrInitializationFailed)
	assert.ErrorIs(t, err, spirv.ErrInvalidModule)
}

func TestParseProfiles(t *testing.T) {
	data := []byte(`
- name: integrated
  queue_families: ["graphics|compute|transfer"]
  memory_types: ["device-local|host-visible|host-coherent"]
  memory_heaps: [268435456]
  subgroup_size: 16
  max_workgroup_count: [1024, 1, 1]
  no_specialization: true
- name: transfer-only
  queue_families: ["transfer", "sparse | transfer"]
  queue_counts: [2, 1]
`)
	cfgs, err := ParseProfiles(data)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	integrated := cfgs[0].Capabilities
	assert.Equal(t, "integrated", cfgs[0].Name)
	assert.Equal(t, []driver.QueueFamily{{Flags: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer, Count: 1}},
		integrated.QueueFamilies)
	assert.Equal(t, []driver.MemoryType{{Flags: driver.MemoryDeviceLocal | driver.MemoryHostVisible | driver.MemoryHostCoherent}},
		integrated.MemoryTypes)
	assert.Equal(t, []driver.MemoryHeap{{Size: 256 << 20}}, integrated.MemoryHeaps)
	assert.Equal(t, uint32(16), integrated.SubgroupSize)
	assert.Equal(t, [3]uint32{1024, 1, 1}, integrated.MaxWorkgroupCount)
	assert.False(t, integrated.SupportsSpecialization)

	xfer := cfgs[1].Capabilities
	assert.Equal(t, []driver.QueueFamily{
		{Flags: driver.QueueTransfer, Count: 2},
		{Flags: driver.QueueSparseBinding | driver.QueueTransfer, Count: 1},
	}, xfer.QueueFamilies)
	assert.Equal(t, DefaultConfig().Capabilities.MemoryTypes, xfer.MemoryTypes)

	_, err = ParseProfiles([]byte(`[{queue_families: ["compute|warp"]}]`))
	assert.ErrorContains(t, err, `unknown flag "warp"`)
}

func TestBackendRegistered(t *testing.T) {
	assert.Contains(t, driver.Backends(), BackendName)
	inst, err := driver.OpenInstance(BackendName)
	require.NoError(t, err)
	defer inst.Destroy()
	pds, err := inst.EnumeratePhysicalDevices()
	require.NoError(t, err)
	assert.Len(t, pds, 1)
}
