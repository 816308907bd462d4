package device

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucopy/driver"
)

const (
	gfx     = driver.QueueGraphics
	compute = driver.QueueCompute
	xfer    = driver.QueueTransfer
	sparse  = driver.QueueSparseBinding
)

func families(flags ...driver.QueueFlags) []driver.QueueFamily {
	out := make([]driver.QueueFamily, len(flags))
	for i, f := range flags {
		out[i] = driver.QueueFamily{Flags: f, Count: 1}
	}
	return out
}

func TestSelectComputeQueue(t *testing.T) {
	tests := []struct {
		name     string
		families []driver.QueueFamily
		want     uint32
	}{
		{"compute-only preferred over combined", families(gfx|compute|xfer, compute|xfer), 1},
		{"compute-only first", families(compute, gfx|compute), 0},
		{"combined fallback", families(gfx | compute | xfer | sparse), 0},
		{"transfer bits ignored", families(xfer, gfx|compute, compute|xfer|sparse), 2},
		{"first compute-only wins", families(gfx, compute, compute), 1},
		{"first combined wins", families(xfer, gfx|compute, gfx|compute), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectComputeQueue(tt.families)
			if err != nil {
				t.Fatalf("SelectComputeQueue() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectComputeQueue() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSelectComputeQueueNotFound(t *testing.T) {
	for _, fams := range [][]driver.QueueFamily{
		nil,
		families(gfx),
		families(xfer, sparse, gfx|xfer),
	} {
		if _, err := SelectComputeQueue(fams); !errors.Is(err, ErrNoComputeQueue) {
			t.Errorf("SelectComputeQueue(%v) error = %v, want ErrNoComputeQueue", fams, err)
		}
	}
}

func TestSelectMemoryType(t *testing.T) {
	heaps := []driver.MemoryHeap{{Size: 8 << 30}, {Size: 256 << 20}, {Size: 1 << 20}}
	types := []driver.MemoryType{
		{Flags: driver.MemoryDeviceLocal, HeapIndex: 0},
		{Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapIndex: 2},
		{Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent | driver.MemoryDeviceLocal, HeapIndex: 1},
		{Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent | driver.MemoryHostCached, HeapIndex: 0},
	}

	tests := []struct {
		name string
		req  MemoryRequirements
		want uint32
	}{
		{"small host copy", MemoryRequirements{Size: 4096, Flags: HostCopyFlags}, 1},
		{"heap must be strictly larger", MemoryRequirements{Size: 1 << 20, Flags: HostCopyFlags}, 2},
		{"device local", MemoryRequirements{Size: 4096, Flags: HostCopyFlags | driver.MemoryDeviceLocal}, 2},
		{"large falls to big heap", MemoryRequirements{Size: 1 << 30, Flags: HostCopyFlags}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectMemoryType(types, heaps, tt.req)
			if err != nil {
				t.Fatalf("SelectMemoryType() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("SelectMemoryType() = %d, want %d", got, tt.want)
			}
		})
	}

	_, err := SelectMemoryType(types, heaps, MemoryRequirements{Size: 1 << 30, Flags: HostCopyFlags | driver.MemoryDeviceLocal})
	if !errors.Is(err, ErrNoSuitableMemoryType) {
		t.Errorf("oversized device-local request error = %v, want ErrNoSuitableMemoryType", err)
	}

	_, err = SelectMemoryType([]driver.MemoryType{{Flags: HostCopyFlags, HeapIndex: 9}}, heaps, MemoryRequirements{Size: 1, Flags: HostCopyFlags})
	if !errors.Is(err, ErrNoSuitableMemoryType) {
		t.Errorf("dangling heap index error = %v, want ErrNoSuitableMemoryType", err)
	}
}
