// Package driver defines the compute device abstraction used by gpucopy.
//
// The interfaces mirror the shape of Vulkan: physical devices expose queue
// families and memory types, and a logical device hands out typed handles for
// memory, buffers, descriptor sets, pipelines and command buffers. Backends
// register themselves by name, usually from an init function, and are opened
// with OpenInstance:
//
//	import _ "github.com/gogpu/gpucopy/driver/soft"
//
//	inst, err := driver.OpenInstance("soft")
//
// Resource lifecycle:
//   - Resources are created via Create*/Allocate* methods
//   - Resources must be released via the matching Destroy*/Free* method
//   - Releasing a resource while a submission using it is pending is
//     undefined behavior
//   - Releasing InvalidID is a no-op
package driver

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Errors shared by backends.
var (
	// ErrUnknownBackend is returned by OpenInstance for an unregistered name.
	ErrUnknownBackend = errors.New("driver: unknown backend")

	// ErrInvalidHandle is returned when a handle does not name a live resource.
	ErrInvalidHandle = errors.New("driver: invalid handle")

	// ErrOutOfDeviceMemory is returned when an allocation cannot be satisfied.
	ErrOutOfDeviceMemory = errors.New("driver: out of device memory")

	// ErrMemoryMapFailed is returned when memory cannot be mapped, for example
	// because it is not host visible or is already mapped.
	ErrMemoryMapFailed = errors.New("driver: memory map failed")

	// ErrInitializationFailed is returned when an object cannot be created
	// from a valid description.
	ErrInitializationFailed = errors.New("driver: initialization failed")

	// ErrDeviceLost is returned when execution on the device fails.
	ErrDeviceLost = errors.New("driver: device lost")
)

// Instance is the entry point of a backend.
type Instance interface {
	// EnumeratePhysicalDevices lists the devices of the backend in a stable
	// order.
	EnumeratePhysicalDevices() ([]PhysicalDevice, error)

	// Destroy releases the instance. Devices created from it must be
	// destroyed first.
	Destroy()
}

// PhysicalDevice is a device that has not been opened yet.
type PhysicalDevice interface {
	// Name returns a human readable device name.
	Name() string

	// Capabilities returns the device capability record.
	Capabilities() (Capabilities, error)

	// CreateDevice opens a logical device with queues from one family.
	CreateDevice(desc *DeviceDesc) (Device, error)
}

// Device is an opened logical device.
type Device interface {
	// === Memory ===

	// AllocateMemory allocates size bytes from the memory type at typeIndex.
	AllocateMemory(typeIndex uint32, size uint64) (MemoryID, error)

	// FreeMemory releases an allocation. Buffers bound to it must be
	// destroyed first.
	FreeMemory(id MemoryID)

	// MapMemory makes a range of a host-visible allocation accessible to the
	// host. The returned slice is valid until UnmapMemory. Only one mapping
	// per allocation may exist at a time.
	MapMemory(id MemoryID, offset, size uint64) ([]byte, error)

	// UnmapMemory ends the current mapping. Host writes become visible to
	// the device no later than the next submission.
	UnmapMemory(id MemoryID) error

	// === Buffers ===

	// CreateBuffer creates a buffer object without backing memory.
	CreateBuffer(size uint64, usage BufferUsage) (BufferID, error)

	// BindBufferMemory backs a buffer with the range of an allocation that
	// starts at offset.
	BindBufferMemory(buf BufferID, mem MemoryID, offset uint64) error

	// DestroyBuffer releases a buffer object.
	DestroyBuffer(id BufferID)

	// === Shaders and pipelines ===

	// CreateShaderModule creates a module from SPIR-V words.
	CreateShaderModule(code []uint32) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateDescriptorSetLayout creates a layout from bindings.
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayoutID, error)

	// DestroyDescriptorSetLayout releases a descriptor set layout.
	DestroyDescriptorSetLayout(id DescriptorSetLayoutID)

	// CreatePipelineLayout creates a pipeline layout from set layouts.
	CreatePipelineLayout(sets []DescriptorSetLayoutID) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (PipelineID, error)

	// DestroyPipeline releases a pipeline.
	DestroyPipeline(id PipelineID)

	// === Descriptors ===

	// CreateDescriptorPool creates a descriptor pool.
	CreateDescriptorPool(desc *DescriptorPoolDesc) (DescriptorPoolID, error)

	// DestroyDescriptorPool releases a pool and every set allocated from it.
	DestroyDescriptorPool(id DescriptorPoolID)

	// AllocateDescriptorSet allocates one set with the given layout.
	AllocateDescriptorSet(pool DescriptorPoolID, layout DescriptorSetLayoutID) (DescriptorSetID, error)

	// FreeDescriptorSet returns a set to its pool. The pool must have been
	// created with DescriptorPoolFreeDescriptorSet.
	FreeDescriptorSet(pool DescriptorPoolID, set DescriptorSetID) error

	// UpdateDescriptorSet points bindings of set at buffer ranges.
	UpdateDescriptorSet(set DescriptorSetID, writes []DescriptorWrite) error

	// === Commands ===

	// CreateCommandPool creates a pool for command buffers that will be
	// submitted to queues of family.
	CreateCommandPool(family uint32) (CommandPoolID, error)

	// DestroyCommandPool releases a pool and its command buffers.
	DestroyCommandPool(id CommandPoolID)

	// AllocateCommandBuffer allocates a primary command buffer.
	AllocateCommandBuffer(pool CommandPoolID) (CommandBuffer, error)

	// Queue returns queue index of family.
	Queue(family, index uint32) (Queue, error)

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error

	// Destroy releases the device. All resources must be released first.
	Destroy()
}

// CommandBuffer records compute commands.
//
// Usage:
//  1. Begin
//  2. BindPipeline, BindDescriptorSet
//  3. Dispatch
//  4. End, then submit through a Queue any number of times
type CommandBuffer interface {
	// Begin starts recording, discarding previous contents.
	Begin() error

	// BindPipeline sets the active compute pipeline.
	BindPipeline(p PipelineID)

	// BindDescriptorSet binds set at index 0 of layout.
	BindDescriptorSet(layout PipelineLayoutID, set DescriptorSetID)

	// Dispatch records a dispatch of x*y*z workgroups.
	Dispatch(x, y, z uint32)

	// End finishes recording. Errors recorded by earlier calls are reported
	// here.
	End() error
}

// Queue executes command buffers.
type Queue interface {
	// Submit schedules cb for execution. It does not wait.
	Submit(cb CommandBuffer) error

	// WaitIdle blocks until every submission to the queue has completed.
	WaitIdle() error
}

// OpenFunc creates an instance of a backend.
type OpenFunc func() (Instance, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]OpenFunc{}
)

// RegisterBackend makes a backend available under name. It panics when name
// is registered twice.
func RegisterBackend(name string, open OpenFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[name]; dup {
		panic("driver: backend registered twice: " + name)
	}
	backends[name] = open
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// OpenInstance opens the backend registered under name.
func OpenInstance(name string) (Instance, error) {
	backendsMu.RLock()
	open, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}
	return open()
}
