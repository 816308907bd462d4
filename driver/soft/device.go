package soft

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/spirv"
)

type memory struct {
	typeIndex uint32
	data      []byte
	mapped    bool
}

type buffer struct {
	size   uint64
	usage  driver.BufferUsage
	mem    driver.MemoryID
	offset uint64
}

type descriptorPool struct {
	desc      driver.DescriptorPoolDesc
	sets      map[driver.DescriptorSetID]struct{}
	remaining map[driver.DescriptorType]uint32
}

type descriptorSet struct {
	pool   driver.DescriptorPoolID
	layout driver.DescriptorSetLayoutID
	writes map[uint32]driver.DescriptorWrite
}

type pipelineLayout struct {
	sets []driver.DescriptorSetLayoutID
}

type pipeline struct {
	layout  driver.PipelineLayoutID
	program *program
}

type commandPool struct {
	family  uint32
	buffers []*commandBuffer
}

// Device is a logical software device.
type Device struct {
	phys   *PhysicalDevice
	name   string
	cfg    *Config
	family uint32
	logger *slog.Logger

	nextID atomic.Uint64

	mu              sync.Mutex
	destroyed       bool
	heapUsed        []uint64
	memories        map[driver.MemoryID]*memory
	buffers         map[driver.BufferID]*buffer
	modules         map[driver.ShaderModuleID]*spirv.Module
	setLayouts      map[driver.DescriptorSetLayoutID][]driver.DescriptorBinding
	pipelineLayouts map[driver.PipelineLayoutID]*pipelineLayout
	pipelines       map[driver.PipelineID]*pipeline
	descriptorPools map[driver.DescriptorPoolID]*descriptorPool
	descriptorSets  map[driver.DescriptorSetID]*descriptorSet
	commandPools    map[driver.CommandPoolID]*commandPool
	queues          []*queue
}

func newDevice(p *PhysicalDevice, desc *driver.DeviceDesc) *Device {
	d := &Device{
		phys:            p,
		name:            p.cfg.Name,
		cfg:             &p.cfg,
		family:          desc.QueueFamily,
		logger:          p.inst.log(),
		heapUsed:        make([]uint64, len(p.cfg.Capabilities.MemoryHeaps)),
		memories:        make(map[driver.MemoryID]*memory),
		buffers:         make(map[driver.BufferID]*buffer),
		modules:         make(map[driver.ShaderModuleID]*spirv.Module),
		setLayouts:      make(map[driver.DescriptorSetLayoutID][]driver.DescriptorBinding),
		pipelineLayouts: make(map[driver.PipelineLayoutID]*pipelineLayout),
		pipelines:       make(map[driver.PipelineID]*pipeline),
		descriptorPools: make(map[driver.DescriptorPoolID]*descriptorPool),
		descriptorSets:  make(map[driver.DescriptorSetID]*descriptorSet),
		commandPools:    make(map[driver.CommandPoolID]*commandPool),
	}
	for i := range desc.QueuePriorities {
		d.queues = append(d.queues, &queue{dev: d, index: uint32(i)}) //nolint:gosec // small
	}
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

func (d *Device) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Device) liveObjects() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := map[string]int{}
	add := func(kind string, n int) {
		if n > 0 {
			live[kind] += n
		}
	}
	if !d.destroyed {
		add("device", 1)
	}
	add("memory", len(d.memories))
	add("buffer", len(d.buffers))
	add("shader module", len(d.modules))
	add("descriptor set layout", len(d.setLayouts))
	add("pipeline layout", len(d.pipelineLayouts))
	add("pipeline", len(d.pipelines))
	add("descriptor pool", len(d.descriptorPools))
	add("command pool", len(d.commandPools))
	return live
}

// === Memory ===

// AllocateMemory implements driver.Device.
func (d *Device) AllocateMemory(typeIndex uint32, size uint64) (driver.MemoryID, error) {
	if err := d.cfg.fault("AllocateMemory"); err != nil {
		return driver.InvalidID, err
	}
	caps := d.cfg.Capabilities
	if int(typeIndex) >= len(caps.MemoryTypes) {
		return driver.InvalidID, fmt.Errorf("soft: memory type %d: %w", typeIndex, driver.ErrInitializationFailed)
	}
	if size == 0 {
		return driver.InvalidID, fmt.Errorf("soft: zero-size allocation: %w", driver.ErrInitializationFailed)
	}
	heap := caps.MemoryTypes[typeIndex].HeapIndex

	d.mu.Lock()
	defer d.mu.Unlock()
	if int(heap) >= len(caps.MemoryHeaps) || d.heapUsed[heap]+size > caps.MemoryHeaps[heap].Size {
		return driver.InvalidID, fmt.Errorf("soft: %d bytes from heap %d: %w", size, heap, driver.ErrOutOfDeviceMemory)
	}
	d.heapUsed[heap] += size
	id := driver.MemoryID(d.newID())
	d.memories[id] = &memory{typeIndex: typeIndex, data: make([]byte, size)}
	d.logger.Debug("soft: memory allocated", "id", id, "type", typeIndex, "bytes", size)
	return id, nil
}

// FreeMemory implements driver.Device.
func (d *Device) FreeMemory(id driver.MemoryID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[id]
	if !ok {
		return
	}
	heap := d.cfg.Capabilities.MemoryTypes[m.typeIndex].HeapIndex
	d.heapUsed[heap] -= uint64(len(m.data))
	delete(d.memories, id)
}

// MapMemory implements driver.Device.
func (d *Device) MapMemory(id driver.MemoryID, offset, size uint64) ([]byte, error) {
	if err := d.cfg.fault("MapMemory"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[id]
	if !ok {
		return nil, fmt.Errorf("soft: map memory %d: %w", id, driver.ErrInvalidHandle)
	}
	if !d.cfg.Capabilities.MemoryTypes[m.typeIndex].Flags.Has(driver.MemoryHostVisible) {
		return nil, fmt.Errorf("soft: memory %d is not host visible: %w", id, driver.ErrMemoryMapFailed)
	}
	if m.mapped {
		return nil, fmt.Errorf("soft: memory %d already mapped: %w", id, driver.ErrMemoryMapFailed)
	}
	if size == driver.WholeSize {
		size = uint64(len(m.data)) - offset
	}
	if offset > uint64(len(m.data)) || size > uint64(len(m.data))-offset {
		return nil, fmt.Errorf("soft: map [%d, +%d) of %d bytes: %w", offset, size, len(m.data), driver.ErrMemoryMapFailed)
	}
	m.mapped = true
	return m.data[offset : offset+size : offset+size], nil
}

// UnmapMemory implements driver.Device.
func (d *Device) UnmapMemory(id driver.MemoryID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.memories[id]
	if !ok {
		return fmt.Errorf("soft: unmap memory %d: %w", id, driver.ErrInvalidHandle)
	}
	m.mapped = false
	return nil
}

// === Buffers ===

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(size uint64, usage driver.BufferUsage) (driver.BufferID, error) {
	if err := d.cfg.fault("CreateBuffer"); err != nil {
		return driver.InvalidID, err
	}
	if size == 0 {
		return driver.InvalidID, fmt.Errorf("soft: zero-size buffer: %w", driver.ErrInitializationFailed)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.BufferID(d.newID())
	d.buffers[id] = &buffer{size: size, usage: usage}
	return id, nil
}

// BindBufferMemory implements driver.Device.
func (d *Device) BindBufferMemory(buf driver.BufferID, mem driver.MemoryID, offset uint64) error {
	if err := d.cfg.fault("BindBufferMemory"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[buf]
	if !ok {
		return fmt.Errorf("soft: bind buffer %d: %w", buf, driver.ErrInvalidHandle)
	}
	m, ok := d.memories[mem]
	if !ok {
		return fmt.Errorf("soft: bind memory %d: %w", mem, driver.ErrInvalidHandle)
	}
	if b.mem != driver.InvalidID {
		return fmt.Errorf("soft: buffer %d already bound: %w", buf, driver.ErrInitializationFailed)
	}
	if align := d.cfg.Capabilities.MinStorageBufferOffsetAlignment; align > 1 && offset%align != 0 {
		return fmt.Errorf("soft: offset %d not aligned to %d: %w", offset, align, driver.ErrInitializationFailed)
	}
	if offset > uint64(len(m.data)) || b.size > uint64(len(m.data))-offset {
		return fmt.Errorf("soft: buffer of %d bytes at %d exceeds %d-byte allocation: %w",
			b.size, offset, len(m.data), driver.ErrInitializationFailed)
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
	if err := d.cfg.fault("CreateShaderModule"); err != nil {
		return driver.InvalidID, err
	}
	m, err := spirv.Decode(code)
	if err != nil {
		return driver.InvalidID, fmt.Errorf("soft: shader module: %w: %w", driver.ErrInitializationFailed, err)
	}
	if err := m.Validate(); err != nil {
		return driver.InvalidID, fmt.Errorf("soft: shader module: %w: %w", driver.ErrInitializationFailed, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.ShaderModuleID(d.newID())
	d.modules[id] = m
	return id, nil
}

// DestroyShaderModule implements driver.Device.
func (d *Device) DestroyShaderModule(id driver.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.modules, id)
}

// CreateDescriptorSetLayout implements driver.Device.
func (d *Device) CreateDescriptorSetLayout(bindings []driver.DescriptorBinding) (driver.DescriptorSetLayoutID, error) {
	if err := d.cfg.fault("CreateDescriptorSetLayout"); err != nil {
		return driver.InvalidID, err
	}
	seen := map[uint32]bool{}
	for _, b := range bindings {
		if seen[b.Binding] {
			return driver.InvalidID, fmt.Errorf("soft: duplicate binding %d: %w", b.Binding, driver.ErrInitializationFailed)
		}
		seen[b.Binding] = true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.DescriptorSetLayoutID(d.newID())
	d.setLayouts[id] = append([]driver.DescriptorBinding(nil), bindings...)
	return id, nil
}

// DestroyDescriptorSetLayout implements driver.Device.
func (d *Device) DestroyDescriptorSetLayout(id driver.DescriptorSetLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.setLayouts, id)
}

// CreatePipelineLayout implements driver.Device.
func (d *Device) CreatePipelineLayout(sets []driver.DescriptorSetLayoutID) (driver.PipelineLayoutID, error) {
	if err := d.cfg.fault("CreatePipelineLayout"); err != nil {
		return driver.InvalidID, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range sets {
		if _, ok := d.setLayouts[s]; !ok {
			return driver.InvalidID, fmt.Errorf("soft: set layout %d: %w", s, driver.ErrInvalidHandle)
		}
	}
	id := driver.PipelineLayoutID(d.newID())
	d.pipelineLayouts[id] = &pipelineLayout{sets: append([]driver.DescriptorSetLayoutID(nil), sets...)}
	return id, nil
}

// DestroyPipelineLayout implements driver.Device.
func (d *Device) DestroyPipelineLayout(id driver.PipelineLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelineLayouts, id)
}

// CreateComputePipeline implements driver.Device.
func (d *Device) CreateComputePipeline(desc *driver.ComputePipelineDesc) (driver.PipelineID, error) {
	if err := d.cfg.fault("CreateComputePipeline"); err != nil {
		return driver.InvalidID, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pipelineLayouts[desc.Layout]; !ok {
		return driver.InvalidID, fmt.Errorf("soft: pipeline layout %d: %w", desc.Layout, driver.ErrInvalidHandle)
	}
	m, ok := d.modules[desc.Module]
	if !ok {
		return driver.InvalidID, fmt.Errorf("soft: shader module %d: %w", desc.Module, driver.ErrInvalidHandle)
	}

	spec := desc.Specialization
	if !d.cfg.Capabilities.SupportsSpecialization {
		spec = nil
	}
	prog, err := compile(m, desc.EntryPoint, spec)
	if err != nil {
		return driver.InvalidID, fmt.Errorf("soft: compute pipeline: %w: %w", driver.ErrInitializationFailed, err)
	}
	caps := d.cfg.Capabilities
	for i, n := range prog.localSize {
		if caps.MaxWorkgroupSize[i] != 0 && n > caps.MaxWorkgroupSize[i] {
			return driver.InvalidID, fmt.Errorf("soft: local size %v exceeds %v: %w",
				prog.localSize, caps.MaxWorkgroupSize, driver.ErrInitializationFailed)
		}
	}
	if inv := prog.localSize[0] * prog.localSize[1] * prog.localSize[2]; caps.MaxWorkgroupInvocations != 0 && inv > caps.MaxWorkgroupInvocations {
		return driver.InvalidID, fmt.Errorf("soft: %d invocations per workgroup exceed %d: %w",
			inv, caps.MaxWorkgroupInvocations, driver.ErrInitializationFailed)
	}

	id := driver.PipelineID(d.newID())
	d.pipelines[id] = &pipeline{layout: desc.Layout, program: prog}
	d.logger.Debug("soft: compute pipeline created", "id", id, "entry", desc.EntryPoint, "local_size", prog.localSize)
	return id, nil
}

// DestroyPipeline implements driver.Device.
func (d *Device) DestroyPipeline(id driver.PipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// === Descriptors ===

// CreateDescriptorPool implements driver.Device.
func (d *Device) CreateDescriptorPool(desc *driver.DescriptorPoolDesc) (driver.DescriptorPoolID, error) {
	if err := d.cfg.fault("CreateDescriptorPool"); err != nil {
		return driver.InvalidID, err
	}
	p := &descriptorPool{
		desc:      *desc,
		sets:      map[driver.DescriptorSetID]struct{}{},
		remaining: map[driver.DescriptorType]uint32{},
	}
	for _, s := range desc.Sizes {
		p.remaining[s.Type] += s.Count
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.DescriptorPoolID(d.newID())
	d.descriptorPools[id] = p
	return id, nil
}

// DestroyDescriptorPool implements driver.Device.
func (d *Device) DestroyDescriptorPool(id driver.DescriptorPoolID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.descriptorPools[id]
	if !ok {
		return
	}
	for s := range p.sets {
		delete(d.descriptorSets, s)
	}
	delete(d.descriptorPools, id)
}

// AllocateDescriptorSet implements driver.Device.
func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPoolID, layout driver.DescriptorSetLayoutID) (driver.DescriptorSetID, error) {
	if err := d.cfg.fault("AllocateDescriptorSet"); err != nil {
		return driver.InvalidID, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.descriptorPools[pool]
	if !ok {
		return driver.InvalidID, fmt.Errorf("soft: descriptor pool %d: %w", pool, driver.ErrInvalidHandle)
	}
	bindings, ok := d.setLayouts[layout]
	if !ok {
		return driver.InvalidID, fmt.Errorf("soft: set layout %d: %w", layout, driver.ErrInvalidHandle)
	}
	if uint32(len(p.sets)) >= p.desc.MaxSets { //nolint:gosec // small
		return driver.InvalidID, fmt.Errorf("soft: descriptor pool %d exhausted: %w", pool, driver.ErrOutOfDeviceMemory)
	}
	need := map[driver.DescriptorType]uint32{}
	for _, b := range bindings {
		need[b.Type] += max(b.Count, 1)
	}
	for t, n := range need {
		if p.remaining[t] < n {
			return driver.InvalidID, fmt.Errorf("soft: descriptor pool %d has %d of type %d, need %d: %w",
				pool, p.remaining[t], t, n, driver.ErrOutOfDeviceMemory)
		}
	}
	for t, n := range need {
		p.remaining[t] -= n
	}

	id := driver.DescriptorSetID(d.newID())
	p.sets[id] = struct{}{}
	d.descriptorSets[id] = &descriptorSet{pool: pool, layout: layout, writes: map[uint32]driver.DescriptorWrite{}}
	return id, nil
}

// FreeDescriptorSet implements driver.Device.
func (d *Device) FreeDescriptorSet(pool driver.DescriptorPoolID, set driver.DescriptorSetID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.descriptorPools[pool]
	if !ok {
		return fmt.Errorf("soft: descriptor pool %d: %w", pool, driver.ErrInvalidHandle)
	}
	if p.desc.Flags&driver.DescriptorPoolFreeDescriptorSet == 0 {
		return fmt.Errorf("soft: descriptor pool %d does not allow freeing sets: %w", pool, driver.ErrInitializationFailed)
	}
	s, ok := d.descriptorSets[set]
	if !ok || s.pool != pool {
		return fmt.Errorf("soft: descriptor set %d: %w", set, driver.ErrInvalidHandle)
	}
	for _, b := range d.setLayouts[s.layout] {
		p.remaining[b.Type] += max(b.Count, 1)
	}
	delete(p.sets, set)
	delete(d.descriptorSets, set)
	return nil
}

// UpdateDescriptorSet implements driver.Device.
func (d *Device) UpdateDescriptorSet(set driver.DescriptorSetID, writes []driver.DescriptorWrite) error {
	if err := d.cfg.fault("UpdateDescriptorSet"); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.descriptorSets[set]
	if !ok {
		return fmt.Errorf("soft: descriptor set %d: %w", set, driver.ErrInvalidHandle)
	}
	layout := d.setLayouts[s.layout]
	for _, w := range writes {
		idx := -1
		for i, b := range layout {
			if b.Binding == w.Binding {
				idx = i
			}
		}
		if idx < 0 || layout[idx].Type != w.Type {
			return fmt.Errorf("soft: binding %d does not accept type %d: %w", w.Binding, w.Type, driver.ErrInitializationFailed)
		}
		b, ok := d.buffers[w.Buffer]
		if !ok {
			return fmt.Errorf("soft: buffer %d: %w", w.Buffer, driver.ErrInvalidHandle)
		}
		if b.usage&driver.BufferUsageStorage == 0 {
			return fmt.Errorf("soft: buffer %d lacks storage usage: %w", w.Buffer, driver.ErrInitializationFailed)
		}
		s.writes[w.Binding] = w
	}
	return nil
}

// === Commands ===

// CreateCommandPool implements driver.Device.
func (d *Device) CreateCommandPool(family uint32) (driver.CommandPoolID, error) {
	if err := d.cfg.fault("CreateCommandPool"); err != nil {
		return driver.InvalidID, err
	}
	if family != d.family {
		return driver.InvalidID, fmt.Errorf("soft: device has no queues of family %d: %w", family, driver.ErrInitializationFailed)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := driver.CommandPoolID(d.newID())
	d.commandPools[id] = &commandPool{family: family}
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
	if err := d.cfg.fault("AllocateCommandBuffer"); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.commandPools[pool]
	if !ok {
		return nil, fmt.Errorf("soft: command pool %d: %w", pool, driver.ErrInvalidHandle)
	}
	cb := &commandBuffer{dev: d, pool: pool}
	p.buffers = append(p.buffers, cb)
	return cb, nil
}

// Queue implements driver.Device.
func (d *Device) Queue(family, index uint32) (driver.Queue, error) {
	if family != d.family || int(index) >= len(d.queues) {
		return nil, fmt.Errorf("soft: queue %d of family %d: %w", index, family, driver.ErrInvalidHandle)
	}
	return d.queues[index], nil
}

// WaitIdle implements driver.Device.
func (d *Device) WaitIdle() error {
	var first error
	for _, q := range d.queues {
		if err := q.WaitIdle(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Destroy implements driver.Device.
func (d *Device) Destroy() {
	_ = d.WaitIdle()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	if n := len(d.memories) + len(d.buffers) + len(d.pipelines) + len(d.modules); n > 0 {
		d.logger.Warn("soft: device destroyed with live resources", "device", d.name, "count", n)
	}
}
