//go:build !nogpu

// Package halvk implements driver interfaces on top of gogpu/wgpu/hal with
// the Vulkan backend.
//
// The HAL does not expose queue families, memory types or the subgroup
// width, so every adapter is reported with:
//   - one queue family supporting graphics, compute and transfer
//   - one host-visible, host-coherent memory type whose heap is the
//     adapter's maximum buffer size
//   - a configurable subgroup width (32 by default)
//   - no specialization constant support
//
// A memory allocation is a single HAL storage buffer. Buffer objects bound
// into it become offset/size ranges in bind group entries. Mapped memory is
// a host shadow: mapping reads the allocation back through a staging
// buffer, unmapping uploads the shadow with Queue.WriteBuffer.
//
// Build with -tags nogpu to leave the package out.
package halvk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/gpucopy/driver"
)

// BackendName is the name halvk registers under.
const BackendName = "vulkan"

// DefaultSubgroupSize is the subgroup width reported when Options leaves it
// unset.
const DefaultSubgroupSize = 32

var (
	// ErrNoVulkan is returned when the HAL has no Vulkan backend.
	ErrNoVulkan = errors.New("halvk: vulkan backend not available")

	// ErrNotHALProvider is returned by NewFromProvider when the provider
	// does not expose HAL device and queue.
	ErrNotHALProvider = errors.New("halvk: provider does not expose HAL types")
)

func init() {
	driver.RegisterBackend(BackendName, func() (driver.Instance, error) {
		return New(Options{})
	})
}

// Options configures an Instance.
type Options struct {
	// SubgroupSize is reported as the subgroup width of every adapter.
	// Zero means DefaultSubgroupSize.
	SubgroupSize uint32
}

// Instance enumerates Vulkan adapters through the HAL.
type Instance struct {
	mu       sync.Mutex
	instance hal.Instance // nil for provider instances
	devices  []*PhysicalDevice
	logger   *slog.Logger
}

// New creates a HAL instance with the Vulkan backend.
func New(opts Options) (*Instance, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoVulkan
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("halvk: create instance: %w", err)
	}
	inst := &Instance{instance: instance, logger: slogger()}
	adapters := instance.EnumerateAdapters(nil)
	for i := range adapters {
		inst.devices = append(inst.devices, &PhysicalDevice{
			inst:     inst,
			name:     adapters[i].Info.Name,
			adapter:  adapters[i].Adapter,
			subgroup: subgroupOrDefault(opts.SubgroupSize),
			limits:   gputypes.DefaultLimits(),
		})
	}
	inst.logger.Debug("halvk: adapters enumerated", "count", len(adapters))
	return inst, nil
}

// NewFromProvider wraps the device of an existing gpucontext provider,
// such as a gogpu application window. The provider must expose HalDevice()
// and HalQueue() returning hal.Device and hal.Queue. The shared device is
// never destroyed by this package.
func NewFromProvider(provider gpucontext.DeviceProvider, opts Options) (*Instance, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHALProvider)
	}
	inst := &Instance{logger: slogger()}
	inst.devices = []*PhysicalDevice{{
		inst:     inst,
		name:     "shared device",
		device:   device,
		queue:    queue,
		subgroup: subgroupOrDefault(opts.SubgroupSize),
		limits:   gputypes.DefaultLimits(),
	}}
	return inst, nil
}

func subgroupOrDefault(n uint32) uint32 {
	if n == 0 {
		return DefaultSubgroupSize
	}
	return n
}

// SetLogger sets the logger used by the instance and its devices.
func (i *Instance) SetLogger(l *slog.Logger) {
	setLogger(l)
	i.mu.Lock()
	i.logger = slogger()
	i.mu.Unlock()
}

func (i *Instance) log() *slog.Logger {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.logger
}

// EnumeratePhysicalDevices implements driver.Instance.
func (i *Instance) EnumeratePhysicalDevices() ([]driver.PhysicalDevice, error) {
	out := make([]driver.PhysicalDevice, len(i.devices))
	for k, pd := range i.devices {
		out[k] = pd
	}
	return out, nil
}

// Destroy implements driver.Instance.
func (i *Instance) Destroy() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.instance != nil {
		i.instance.Destroy()
		i.instance = nil
	}
}

// PhysicalDevice is a HAL adapter, or the device of a provider.
type PhysicalDevice struct {
	inst    *Instance
	name    string
	adapter hal.Adapter

	// device and queue are set for a provider's shared device.
	device hal.Device
	queue  hal.Queue

	subgroup uint32
	limits   gputypes.Limits
}

// Name implements driver.PhysicalDevice.
func (p *PhysicalDevice) Name() string { return p.name }

// Capabilities implements driver.PhysicalDevice.
func (p *PhysicalDevice) Capabilities() (driver.Capabilities, error) {
	return capabilities(p.limits, p.subgroup), nil
}

// capabilities describes a HAL device with the given limits.
func capabilities(lim gputypes.Limits, subgroup uint32) driver.Capabilities {
	count := uint32(lim.MaxComputeWorkgroupsPerDimension)
	return driver.Capabilities{
		QueueFamilies: []driver.QueueFamily{
			{Flags: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer, Count: 1},
		},
		MemoryTypes: []driver.MemoryType{
			{Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapIndex: 0},
		},
		MemoryHeaps:       []driver.MemoryHeap{{Size: uint64(lim.MaxBufferSize)}},
		SubgroupSize:      subgroup,
		MaxWorkgroupCount: [3]uint32{count, count, count},
		MaxWorkgroupSize: [3]uint32{
			uint32(lim.MaxComputeWorkgroupSizeX),
			uint32(lim.MaxComputeWorkgroupSizeY),
			uint32(lim.MaxComputeWorkgroupSizeZ),
		},
		MaxWorkgroupInvocations:         uint32(lim.MaxComputeInvocationsPerWorkgroup),
		MinStorageBufferOffsetAlignment: uint64(lim.MinStorageBufferOffsetAlignment),
	}
}

// CreateDevice implements driver.PhysicalDevice. The HAL opens one queue,
// so exactly one queue from family 0 may be requested.
func (p *PhysicalDevice) CreateDevice(desc *driver.DeviceDesc) (driver.Device, error) {
	if desc.QueueFamily != 0 || len(desc.QueuePriorities) != 1 {
		return nil, fmt.Errorf("%w: halvk has one queue in family 0, asked for %d in family %d",
			driver.ErrInitializationFailed, len(desc.QueuePriorities), desc.QueueFamily)
	}
	log := p.inst.log()
	if p.device != nil {
		return newDevice(p, p.device, p.queue, true, log), nil
	}
	open, err := p.adapter.Open(gputypes.Features(0), p.limits)
	if err != nil {
		return nil, fmt.Errorf("halvk: open device: %w: %w", driver.ErrInitializationFailed, err)
	}
	log.Info("halvk: device opened", "device", p.name)
	return newDevice(p, open.Device, open.Queue, false, log), nil
}
