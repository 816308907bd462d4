package gpucopy

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/internal/dispatch"
	"github.com/gogpu/gpucopy/internal/verify"
)

// Report describes one copy run on one device.
type Report struct {
	// Device is the physical device name.
	Device string

	// QueueFamily is the index of the family the dispatch ran on.
	QueueFamily uint32

	// MemoryType is the index of the memory type both buffers live in, and
	// MemoryFlags its properties.
	MemoryType  uint32
	MemoryFlags driver.MemoryPropertyFlags

	// Plan is the dispatch that was recorded.
	Plan dispatch.Plan

	// Kernel names the kernel source, and Specialized reports whether the
	// local size was supplied as a specialization constant.
	Kernel      string
	Specialized bool

	// Seed is the seed the input was generated from.
	Seed uint64

	// InputAlreadyEqual reports that the halves compared equal before the
	// dispatch.
	InputAlreadyEqual bool

	Submissions  int
	FillTime     time.Duration
	DispatchTime time.Duration

	// Verify is the outcome of comparing the halves after the last
	// submission.
	Verify verify.Result
}

// Bytes returns the size of one half of the buffer.
func (r *Report) Bytes() uint64 { return uint64(r.Plan.Elements) * elementSize }

func (r *Report) String() string {
	return fmt.Sprintf("%s: %v, queue family %d, memory type %d (%v), %s kernel: %v",
		r.Device, r.Plan, r.QueueFamily, r.MemoryType, r.MemoryFlags, r.Kernel, r.Verify)
}
