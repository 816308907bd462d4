//go:build !nogpu

package halvk

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucopy/driver"
)

// fenceTimeout bounds every wait for the GPU.
const fenceTimeout = 5 * time.Second

type memory struct {
	size   uint64
	buf    hal.Buffer
	shadow []byte
	mapped bool
	stale  bool // the GPU may have written since the shadow was read
}

type buffer struct {
	size   uint64
	usage  driver.BufferUsage
	mem    driver.MemoryID
	offset uint64
}

type setLayout struct {
	bindings []driver.DescriptorBinding
	layout   hal.BindGroupLayout
}

type pipelineLayout struct {
	sets   []driver.DescriptorSetLayoutID
	layout hal.PipelineLayout
}

type descriptorPool struct {
	desc driver.DescriptorPoolDesc
	sets map[driver.DescriptorSetID]struct{}
}

type descriptorSet struct {
	pool   driver.DescriptorPoolID
	layout driver.DescriptorSetLayoutID
	writes map[uint32]driver.DescriptorWrite
	group  hal.BindGroup // built on first submit after a write
}

type commandPool struct {
	buffers []*commandBuffer
}

// Device is an opened HAL device.
type Device struct {
	phys     *PhysicalDevice
	dev      hal.Device
	q        hal.Queue
	external bool
	logger   *slog.Logger

	nextID atomic.Uint64

	mu              sync.Mutex
	destroyed       bool
	memories        map[driver.MemoryID]*memory
	buffers         map[driver.BufferID]*buffer
	modules         map[driver.ShaderModuleID]hal.ShaderModule
	setLayouts      map[driver.DescriptorSetLayoutID]*setLayout
	pipelineLayouts map[driver.PipelineLayoutID]*pipelineLayout
	pipelines       map[driver.PipelineID]hal.ComputePipeline
	descriptorPools map[driver.DescriptorPoolID]*descriptorPool
	descriptorSets  map[driver.DescriptorSetID]*descriptorSet
	commandPools    map[driver.CommandPoolID]*commandPool

	queue *queue
}

func newDevice(p *PhysicalDevice, dev hal.Device, q hal.Queue, external bool, log *slog.Logger) *Device {
	d := &Device{
		phys:            p,
		dev:             dev,
		q:               q,
		external:        external,
		logger:          log,
		memories:        map[driver.MemoryID]*memory{},
		buffers:         map[driver.BufferID]*buffer{},
		modules:         map[driver.ShaderModuleID]hal.ShaderModule{},
		setLayouts:      map[driver.DescriptorSetLayoutID]*setLayout{},
		pipelineLayouts: map[driver.PipelineLayoutID]*pipelineLayout{},
		pipelines:       map[driver.PipelineID]hal.ComputePipeline{},
		descriptorPools: map[driver.DescriptorPoolID]*descriptorPool{},
		descriptorSets:  map[driver.DescriptorSetID]*descriptorSet{},
		commandPools:    map[driver.CommandPoolID]*commandPool{},
	}
	d.nextID.Store(1)
	d.queue = &queue{dev: d}
	return d
}

func (d *Device) newID() uint64 { return d.nextID.Add(1) - 1 }

// === Memory ===

// AllocateMemory implements driver.Device with one HAL storage buffer.
func (d *Device) AllocateMemory(typeIndex uint32, size uint64) (driver.MemoryID, error) {
	if typeIndex != 0 {
		return driver.InvalidID, fmt.Errorf("halvk: memory type %d: %w", typeIndex, driver.ErrInvalidHandle)
	}
	if limit := uint64(d.phys.limits.MaxBufferSize); size > limit {
		return driver.InvalidID, fmt.Errorf("halvk: %d bytes exceed max buffer size %d: %w", size, limit, driver.ErrOutOfDeviceMemory)
	}
	buf, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucopy_memory",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("halvk: create buffer: %w: %w", driver.ErrOutOfDeviceMemory, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.MemoryID(d.newID())
	d.memories[id] = &memory{size: size, buf: buf, shadow: make([]byte, size)}
	return id, nil
}

// FreeMemory implements driver.Device.
func (d *Device) FreeMemory(id driver.MemoryID) {
	d.mu.Lock()
	m, ok := d.memories[id]
	delete(d.memories, id)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyBuffer(m.buf)
	}
}

// MapMemory implements driver.Device. Pending submissions are waited for
// and the allocation is read back if the GPU may have written it.
func (d *Device) MapMemory(id driver.MemoryID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	m, ok := d.memories[id]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("halvk: map memory %d: %w", id, driver.ErrInvalidHandle)
	}
	if m.mapped {
		return nil, fmt.Errorf("halvk: memory %d already mapped: %w", id, driver.ErrMemoryMapFailed)
	}
	if size == driver.WholeSize {
		size = m.size - offset
	}
	if offset > m.size || size > m.size-offset {
		return nil, fmt.Errorf("halvk: map [%d, +%d) of %d bytes: %w", offset, size, m.size, driver.ErrMemoryMapFailed)
	}
	if err := d.queue.WaitIdle(); err != nil {
		return nil, err
	}
	if m.stale {
		if err := d.readBack(m); err != nil {
			return nil, fmt.Errorf("halvk: map memory %d: %w: %w", id, driver.ErrMemoryMapFailed, err)
		}
		m.stale = false
	}
	m.mapped = true
	return m.shadow[offset : offset+size : offset+size], nil
}

// UnmapMemory implements driver.Device. The host shadow is uploaded.
func (d *Device) UnmapMemory(id driver.MemoryID) error {
	d.mu.Lock()
	m, ok := d.memories[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("halvk: unmap memory %d: %w", id, driver.ErrInvalidHandle)
	}
	if !m.mapped {
		return fmt.Errorf("halvk: memory %d is not mapped: %w", id, driver.ErrMemoryMapFailed)
	}
	d.q.WriteBuffer(m.buf, 0, m.shadow)
	m.mapped = false
	return nil
}

// readBack copies the allocation into its shadow through a staging buffer.
func (d *Device) readBack(m *memory) error {
	staging, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpucopy_staging",
		Size:  m.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer d.dev.DestroyBuffer(staging)

	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpucopy_readback"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpucopy_readback"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(m.buf, staging, []hal.BufferCopy{{SrcOffset: 0, DstOffset: 0, Size: m.size}})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer d.dev.FreeCommandBuffer(cmdBuf)

	if err := d.submitAndWait(cmdBuf); err != nil {
		return err
	}
	if err := d.q.ReadBuffer(staging, 0, m.shadow); err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	return nil
}

// submitAndWait submits one HAL command buffer and waits for its fence.
func (d *Device) submitAndWait(cmdBuf hal.CommandBuffer) error {
	fence, err := d.dev.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer d.dev.DestroyFence(fence)
	if err := d.q.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := d.dev.Wait(fence, 1, fenceTimeout)
	if err != nil || !ok {
		return fmt.Errorf("wait for GPU: ok=%v err=%w", ok, err)
	}
	return nil
}

// === Buffers ===

// CreateBuffer implements driver.Device. HAL buffers are only created for
// allocations; a buffer object is a range of one.
func (d *Device) CreateBuffer(size uint64, usage driver.BufferUsage) (driver.BufferID, error) {
	if size == 0 {
		return driver.InvalidID, fmt.Errorf("halvk: zero sized buffer: %w", driver.ErrInitializationFailed)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.BufferID(d.newID())
	d.buffers[id] = &buffer{size: size, usage: usage}
	return id, nil
}

// BindBufferMemory implements driver.Device.
func (d *Device) BindBufferMemory(buf driver.BufferID, mem driver.MemoryID, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buf]
	if !ok {
		return fmt.Errorf("halvk: bind buffer %d: %w", buf, driver.ErrInvalidHandle)
	}
	m, ok := d.memories[mem]
	if !ok {
		return fmt.Errorf("halvk: bind memory %d: %w", mem, driver.ErrInvalidHandle)
	}
	if align := uint64(d.phys.limits.MinStorageBufferOffsetAlignment); align > 1 && offset%align != 0 {
		return fmt.Errorf("halvk: offset %d not aligned to %d: %w", offset, align, driver.ErrInitializationFailed)
	}
	if offset > m.size || b.size > m.size-offset {
		return fmt.Errorf("halvk: buffer of %d bytes at %d outside %d byte allocation: %w",
			b.size, offset, m.size, driver.ErrInitializationFailed)
	}
	b.mem, b.offset = mem, offset
	return nil
}

// DestroyBuffer implements driver.Device.
func (d *Device) DestroyBuffer(id driver.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
}

// === Shaders and pipelines ===

// CreateShaderModule implements driver.Device.
func (d *Device) CreateShaderModule(code []uint32) (driver.ShaderModuleID, error) {
	if len(code) == 0 {
		return driver.InvalidID, fmt.Errorf("halvk: empty SPIR-V: %w", driver.ErrInitializationFailed)
	}
	module, err := d.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpucopy_kernel",
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("halvk: shader module: %w: %w", driver.ErrInitializationFailed, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.ShaderModuleID(d.newID())
	d.modules[id] = module
	return id, nil
}

// DestroyShaderModule implements driver.Device.
func (d *Device) DestroyShaderModule(id driver.ShaderModuleID) {
	d.mu.Lock()
	m, ok := d.modules[id]
	delete(d.modules, id)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyShaderModule(m)
	}
}

// CreateDescriptorSetLayout implements driver.Device.
func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayoutID, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings))
	for _, b := range bindings {
		if b.Type != driver.DescriptorTypeStorageBuffer {
			return driver.InvalidID, fmt.Errorf("halvk: descriptor type %d: %w", b.Type, driver.ErrInitializationFailed)
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		})
	}
	layout, err := d.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "gpucopy_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("halvk: bind group layout: %w: %w", driver.ErrInitializationFailed, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.DescriptorSetLayoutID(d.newID())
	d.setLayouts[id] = &setLayout{bindings: append([]driver.DescriptorBinding(nil), bindings...), layout: layout}
	return id, nil
}

// DestroyDescriptorSetLayout implements driver.Device.
func (d *Device) DestroyDescriptorSetLayout(id driver.DescriptorSetLayoutID) {
	d.mu.Lock()
	l, ok := d.setLayouts[id]
	delete(d.setLayouts, id)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyBindGroupLayout(l.layout)
	}
}

// CreatePipelineLayout implements driver.Device.
func (d *Device) CreatePipelineLayout(sets []driver.DescriptorSetLayoutID) (driver.PipelineLayoutID, error) {
	d.mu.Lock()
	layouts := make([]hal.BindGroupLayout, 0, len(sets))
	for _, s := range sets {
		l, ok := d.setLayouts[s]
		if !ok {
			d.mu.Unlock()
			return driver.InvalidID, fmt.Errorf("halvk: set layout %d: %w", s, driver.ErrInvalidHandle)
		}
		layouts = append(layouts, l.layout)
	}
	d.mu.Unlock()

	layout, err := d.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpucopy_pipeline_layout",
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("halvk: pipeline layout: %w: %w", driver.ErrInitializationFailed, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.PipelineLayoutID(d.newID())
	d.pipelineLayouts[id] = &pipelineLayout{sets: append([]driver.DescriptorSetLayoutID(nil), sets...), layout: layout}
	return id, nil
}

// DestroyPipelineLayout implements driver.Device.
func (d *Device) DestroyPipelineLayout(id driver.PipelineLayoutID) {
	d.mu.Lock()
	l, ok := d.pipelineLayouts[id]
	delete(d.pipelineLayouts, id)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyPipelineLayout(l.layout)
	}
}

// CreateComputePipeline implements driver.Device. Specialization entries
// are ignored; the device reports no specialization support.
func (d *Device) CreateComputePipeline(desc *driver.ComputePipelineDesc) (driver.PipelineID, error) {
	d.mu.Lock()
	layout, okLayout := d.pipelineLayouts[desc.Layout]
	module, okModule := d.modules[desc.Module]
	d.mu.Unlock()
	switch {
	case !okLayout:
		return driver.InvalidID, fmt.Errorf("halvk: pipeline layout %d: %w", desc.Layout, driver.ErrInvalidHandle)
	case !okModule:
		return driver.InvalidID, fmt.Errorf("halvk: shader module %d: %w", desc.Module, driver.ErrInvalidHandle)
	}
	if len(desc.Specialization) > 0 {
		d.logger.Debug("halvk: specialization constants ignored", "count", len(desc.Specialization))
	}
	p, err := d.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   "gpucopy_pipeline",
		Layout:  layout.layout,
		Compute: hal.ComputeState{Module: module, EntryPoint: desc.EntryPoint},
	})
	if err != nil {
		return driver.InvalidID, fmt.Errorf("halvk: compute pipeline: %w: %w", driver.ErrInitializationFailed, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.PipelineID(d.newID())
	d.pipelines[id] = p
	return id, nil
}

// DestroyPipeline implements driver.Device.
func (d *Device) DestroyPipeline(id driver.PipelineID) {
	d.mu.Lock()
	p, ok := d.pipelines[id]
	delete(d.pipelines, id)
	d.mu.Unlock()
	if ok {
		d.dev.DestroyComputePipeline(p)
	}
}

// === Descriptors ===

// CreateDescriptorPool implements driver.Device. Pools are bookkeeping
// only; bind groups are allocated by the HAL.
func (d *Device) CreateDescriptorPool(desc *driver.DescriptorPoolDesc) (driver.DescriptorPoolID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.DescriptorPoolID(d.newID())
	d.descriptorPools[id] = &descriptorPool{desc: *desc, sets: map[driver.DescriptorSetID]struct{}{}}
	return id, nil
}

// DestroyDescriptorPool implements driver.Device.
func (d *Device) DestroyDescriptorPool(id driver.DescriptorPoolID) {
	d.mu.Lock()
	p, ok := d.descriptorPools[id]
	delete(d.descriptorPools, id)
	var groups []hal.BindGroup
	if ok {
		for s := range p.sets {
			if set := d.descriptorSets[s]; set != nil && set.group != nil {
				groups = append(groups, set.group)
			}
			delete(d.descriptorSets, s)
		}
	}
	d.mu.Unlock()
	for _, g := range groups {
		d.dev.DestroyBindGroup(g)
	}
}

// AllocateDescriptorSet implements driver.Device.
func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPoolID, layout driver.DescriptorSetLayoutID) (driver.DescriptorSetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.descriptorPools[pool]
	if !ok {
		return driver.InvalidID, fmt.Errorf("halvk: descriptor pool %d: %w", pool, driver.ErrInvalidHandle)
	}
	if _, ok := d.setLayouts[layout]; !ok {
		return driver.InvalidID, fmt.Errorf("halvk: set layout %d: %w", layout, driver.ErrInvalidHandle)
	}
	if uint32(len(p.sets)) >= p.desc.MaxSets { //nolint:gosec // small
		return driver.InvalidID, fmt.Errorf("halvk: descriptor pool %d exhausted: %w", pool, driver.ErrOutOfDeviceMemory)
	}
	id := driver.DescriptorSetID(d.newID())
	p.sets[id] = struct{}{}
	d.descriptorSets[id] = &descriptorSet{pool: pool, layout: layout, writes: map[uint32]driver.DescriptorWrite{}}
	return id, nil
}

// FreeDescriptorSet implements driver.Device.
func (d *Device) FreeDescriptorSet(pool driver.DescriptorPoolID, set driver.DescriptorSetID) error {
	d.mu.Lock()
	p, ok := d.descriptorPools[pool]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("halvk: descriptor pool %d: %w", pool, driver.ErrInvalidHandle)
	}
	if p.desc.Flags&driver.DescriptorPoolFreeDescriptorSet == 0 {
		d.mu.Unlock()
		return fmt.Errorf("halvk: pool %d does not allow freeing sets: %w", pool, driver.ErrInitializationFailed)
	}
	s, ok := d.descriptorSets[set]
	if !ok || s.pool != pool {
		d.mu.Unlock()
		return fmt.Errorf("halvk: descriptor set %d: %w", set, driver.ErrInvalidHandle)
	}
	delete(p.sets, set)
	delete(d.descriptorSets, set)
	d.mu.Unlock()
	if s.group != nil {
		d.dev.DestroyBindGroup(s.group)
	}
	return nil
}

// UpdateDescriptorSet implements driver.Device. The bind group is rebuilt
// on the next submit.
func (d *Device) UpdateDescriptorSet(set driver.DescriptorSetID, writes []driver.DescriptorWrite) error {
	d.mu.Lock()
	s, ok := d.descriptorSets[set]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("halvk: descriptor set %d: %w", set, driver.ErrInvalidHandle)
	}
	for _, wr := range writes {
		b, ok := d.buffers[wr.Buffer]
		if !ok {
			d.mu.Unlock()
			return fmt.Errorf("halvk: descriptor write buffer %d: %w", wr.Buffer, driver.ErrInvalidHandle)
		}
		if b.usage&driver.BufferUsageStorage == 0 {
			d.mu.Unlock()
			return fmt.Errorf("halvk: buffer %d lacks storage usage: %w", wr.Buffer, driver.ErrInitializationFailed)
		}
		s.writes[wr.Binding] = wr
	}
	old := s.group
	s.group = nil
	d.mu.Unlock()
	if old != nil {
		d.dev.DestroyBindGroup(old)
	}
	return nil
}

// bindGroup returns the bind group of s, creating it from the recorded
// writes if needed. The device lock is held by the caller.
func (d *Device) bindGroup(s *descriptorSet) (hal.BindGroup, error) {
	if s.group != nil {
		return s.group, nil
	}
	layout, ok := d.setLayouts[s.layout]
	if !ok {
		return nil, fmt.Errorf("halvk: set layout %d destroyed: %w", s.layout, driver.ErrInvalidHandle)
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(s.writes))
	for _, lb := range layout.bindings {
		wr, ok := s.writes[lb.Binding]
		if !ok {
			return nil, fmt.Errorf("halvk: binding %d not written: %w", lb.Binding, driver.ErrInitializationFailed)
		}
		b, ok := d.buffers[wr.Buffer]
		if !ok {
			return nil, fmt.Errorf("halvk: buffer %d destroyed: %w", wr.Buffer, driver.ErrInvalidHandle)
		}
		m, ok := d.memories[b.mem]
		if !ok {
			return nil, fmt.Errorf("halvk: buffer %d has no memory bound: %w", wr.Buffer, driver.ErrInvalidHandle)
		}
		size := wr.Range
		if size == driver.WholeSize {
			size = b.size - wr.Offset
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  lb.Binding,
			Resource: gputypes.BufferBinding{Buffer: m.buf.NativeHandle(), Offset: b.offset + wr.Offset, Size: size},
		})
	}
	group, err := d.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "gpucopy_bind",
		Layout:  layout.layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("halvk: bind group: %w: %w", driver.ErrInitializationFailed, err)
	}
	s.group = group
	return group, nil
}

// === Commands ===

// CreateCommandPool implements driver.Device.
func (d *Device) CreateCommandPool(family uint32) (driver.CommandPoolID, error) {
	if family != 0 {
		return driver.InvalidID, fmt.Errorf("halvk: queue family %d: %w", family, driver.ErrInitializationFailed)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.CommandPoolID(d.newID())
	d.commandPools[id] = &commandPool{}
	return id, nil
}

// DestroyCommandPool implements driver.Device.
func (d *Device) DestroyCommandPool(id driver.CommandPoolID) {
	d.mu.Lock()
	p, ok := d.commandPools[id]
	delete(d.commandPools, id)
	d.mu.Unlock()
	if !ok {
		return
	}
	for _, cb := range p.buffers {
		cb.release()
	}
}

// AllocateCommandBuffer implements driver.Device.
func (d *Device) AllocateCommandBuffer(pool driver.CommandPoolID) (driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.commandPools[pool]
	if !ok {
		return nil, fmt.Errorf("halvk: command pool %d: %w", pool, driver.ErrInvalidHandle)
	}
	cb := &commandBuffer{dev: d}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Queue implements driver.Device.
func (d *Device) Queue(family, index uint32) (driver.Queue, error) {
	if family != 0 || index != 0 {
		return nil, fmt.Errorf("halvk: queue %d of family %d: %w", index, family, driver.ErrInvalidHandle)
	}
	return d.queue, nil
}

// WaitIdle implements driver.Device.
func (d *Device) WaitIdle() error {
	return d.queue.WaitIdle()
}

// Destroy implements driver.Device. A provider's device is left open.
func (d *Device) Destroy() {
	_ = d.WaitIdle()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	if n := len(d.memories) + len(d.buffers) + len(d.pipelines) + len(d.modules); n > 0 {
		d.logger.Warn("halvk: device destroyed with live resources", "device", d.phys.name, "count", n)
	}
	if !d.external {
		d.dev.Destroy()
	}
}
