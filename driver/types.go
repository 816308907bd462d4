package driver

import "fmt"

// ResourceID is the common type of every driver handle. Zero is never a valid
// handle.
type ResourceID = uint64

// InvalidID is the zero handle. It is untyped so that it compares against
// every typed handle.
const InvalidID = 0

// Typed handles. They are distinct types so that a buffer id cannot be passed
// where a memory id is expected.
type (
	MemoryID              ResourceID
	BufferID              ResourceID
	ShaderModuleID        ResourceID
	DescriptorSetLayoutID ResourceID
	PipelineLayoutID      ResourceID
	PipelineID            ResourceID
	DescriptorPoolID      ResourceID
	DescriptorSetID       ResourceID
	CommandPoolID         ResourceID
)

// QueueFlags describes the operations a queue family supports. Values match
// VkQueueFlagBits.
type QueueFlags uint32

const (
	QueueGraphics      QueueFlags = 1 << 0
	QueueCompute       QueueFlags = 1 << 1
	QueueTransfer      QueueFlags = 1 << 2
	QueueSparseBinding QueueFlags = 1 << 3
)

// Has reports whether all bits of other are set in f.
func (f QueueFlags) Has(other QueueFlags) bool { return f&other == other }

func (f QueueFlags) String() string {
	return flagString(uint32(f), []string{"graphics", "compute", "transfer", "sparse"})
}

// MemoryPropertyFlags describes a memory type. Values match
// VkMemoryPropertyFlagBits.
type MemoryPropertyFlags uint32

const (
	MemoryDeviceLocal  MemoryPropertyFlags = 1 << 0
	MemoryHostVisible  MemoryPropertyFlags = 1 << 1
	MemoryHostCoherent MemoryPropertyFlags = 1 << 2
	MemoryHostCached   MemoryPropertyFlags = 1 << 3
)

// Has reports whether all bits of other are set in f.
func (f MemoryPropertyFlags) Has(other MemoryPropertyFlags) bool { return f&other == other }

func (f MemoryPropertyFlags) String() string {
	return flagString(uint32(f), []string{"device-local", "host-visible", "host-coherent", "host-cached"})
}

func flagString(v uint32, names []string) string {
	if v == 0 {
		return "none"
	}
	s := ""
	for i, name := range names {
		if v&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += name
		v &^= 1 << i
	}
	if v != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", v)
	}
	return s
}

// BufferUsage is a bitmask of buffer usages. Values match
// VkBufferUsageFlagBits.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << 0
	BufferUsageTransferDst BufferUsage = 1 << 1
	BufferUsageStorage     BufferUsage = 1 << 5
)

// DescriptorType identifies the kind of resource bound to a descriptor.
type DescriptorType uint32

// DescriptorTypeStorageBuffer is VK_DESCRIPTOR_TYPE_STORAGE_BUFFER.
const DescriptorTypeStorageBuffer DescriptorType = 7

// ShaderStage is a bitmask of pipeline stages.
type ShaderStage uint32

// ShaderStageCompute is VK_SHADER_STAGE_COMPUTE_BIT.
const ShaderStageCompute ShaderStage = 0x20

// DescriptorPoolFlags configures a descriptor pool.
type DescriptorPoolFlags uint32

// DescriptorPoolFreeDescriptorSet allows individual sets to be freed.
const DescriptorPoolFreeDescriptorSet DescriptorPoolFlags = 1

// WholeSize binds a buffer from the given offset to its end.
const WholeSize = ^uint64(0)

// QueueFamily is one entry of the device's queue family list.
type QueueFamily struct {
	Flags QueueFlags
	Count uint32
}

// MemoryType is one entry of the device's memory type list.
type MemoryType struct {
	Flags     MemoryPropertyFlags
	HeapIndex uint32
}

// MemoryHeap is one entry of the device's memory heap list.
type MemoryHeap struct {
	Size uint64
}

// Capabilities is the read-only description of a physical device, queried
// once before a logical device is created.
type Capabilities struct {
	QueueFamilies []QueueFamily
	MemoryTypes   []MemoryType
	MemoryHeaps   []MemoryHeap

	// SubgroupSize is the native parallel execution width.
	SubgroupSize uint32

	// MaxWorkgroupCount is the per-dimension dispatch limit.
	MaxWorkgroupCount [3]uint32

	// MaxWorkgroupSize is the per-dimension local size limit.
	MaxWorkgroupSize [3]uint32

	// MaxWorkgroupInvocations is the limit on the product of local sizes.
	MaxWorkgroupInvocations uint32

	// MinStorageBufferOffsetAlignment constrains buffer offsets within a
	// memory allocation. Zero means no constraint.
	MinStorageBufferOffsetAlignment uint64

	// SupportsSpecialization reports whether pipelines honor
	// specialization constants.
	SupportsSpecialization bool
}

// DeviceDesc configures logical device creation.
type DeviceDesc struct {
	QueueFamily     uint32
	QueuePriorities []float32
}

// DescriptorBinding is one binding of a descriptor set layout.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

// SpecializationEntry overrides one specialization constant.
type SpecializationEntry struct {
	ConstantID uint32
	Value      uint32
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Layout         PipelineLayoutID
	Module         ShaderModuleID
	EntryPoint     string
	Specialization []SpecializationEntry
}

// DescriptorPoolSize reserves descriptors of one type in a pool.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorPoolDesc describes a descriptor pool.
type DescriptorPoolDesc struct {
	Flags   DescriptorPoolFlags
	MaxSets uint32
	Sizes   []DescriptorPoolSize
}

// DescriptorWrite points one binding of a descriptor set at a buffer range.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Buffer  BufferID
	Offset  uint64
	Range   uint64
}
