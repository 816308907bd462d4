// Package device picks queue families and memory types from a device
// capability record.
package device

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucopy/driver"
)

var (
	// ErrNoComputeQueue is returned when no queue family supports compute.
	ErrNoComputeQueue = errors.New("device: no compute-capable queue family")

	// ErrNoSuitableMemoryType is returned when no memory type satisfies the
	// property and size constraints.
	ErrNoSuitableMemoryType = errors.New("device: no suitable memory type")
)

// ignoredQueueFlags do not influence queue family selection.
const ignoredQueueFlags = driver.QueueTransfer | driver.QueueSparseBinding

// SelectComputeQueue returns the index of the queue family to use for
// compute work. A compute-only family is preferred; otherwise the first
// family that supports compute at all is used. Both passes scan in ascending
// index order.
func SelectComputeQueue(families []driver.QueueFamily) (uint32, error) {
	for i, f := range families {
		masked := f.Flags &^ ignoredQueueFlags
		if masked.Has(driver.QueueCompute) && !masked.Has(driver.QueueGraphics) {
			return uint32(i), nil //nolint:gosec // family lists are tiny
		}
	}
	for i, f := range families {
		masked := f.Flags &^ ignoredQueueFlags
		if masked.Has(driver.QueueCompute) {
			return uint32(i), nil //nolint:gosec // family lists are tiny
		}
	}
	return 0, ErrNoComputeQueue
}

// MemoryRequirements constrains SelectMemoryType.
type MemoryRequirements struct {
	// Size is the allocation size in bytes. The owning heap must be strictly
	// larger.
	Size uint64

	// Flags must all be present on the memory type.
	Flags driver.MemoryPropertyFlags
}

// HostCopyFlags are the properties required to fill and read back buffers
// without explicit flushes.
const HostCopyFlags = driver.MemoryHostVisible | driver.MemoryHostCoherent

// SelectMemoryType returns the index of the first memory type that has every
// requested property flag and whose heap is larger than req.Size.
func SelectMemoryType(types []driver.MemoryType, heaps []driver.MemoryHeap, req MemoryRequirements) (uint32, error) {
	for i, mt := range types {
		if !mt.Flags.Has(req.Flags) {
			continue
		}
		if int(mt.HeapIndex) >= len(heaps) {
			continue
		}
		if req.Size < heaps[mt.HeapIndex].Size {
			return uint32(i), nil //nolint:gosec // type lists are tiny
		}
	}
	return 0, fmt.Errorf("%w: need %v and %d bytes", ErrNoSuitableMemoryType, req.Flags, req.Size)
}
