// Package soft implements driver interfaces on the host CPU.
//
// Device memory is ordinary Go memory. Compute pipelines are built from the
// SPIR-V module they are created with and executed by a small interpreter
// that covers straight-line kernels over storage buffers, such as the copy
// kernel produced by package spirv. Workgroups of a dispatch run in parallel.
//
// Every device is described by a Config, so tests can model hardware with
// unusual queue families, memory types or limits, and can inject failures
// into any driver call.
package soft

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/gpucopy/driver"
)

// BackendName is the name soft registers under.
const BackendName = "soft"

func init() {
	driver.RegisterBackend(BackendName, func() (driver.Instance, error) {
		return New(DefaultConfig()), nil
	})
}

// Config describes one software device.
type Config struct {
	// Name is reported by PhysicalDevice.Name.
	Name string

	// Capabilities is returned by PhysicalDevice.Capabilities.
	Capabilities driver.Capabilities

	// Faults maps a driver method name, such as "AllocateMemory" or
	// "Submit", to the error that method returns.
	Faults map[string]error

	// SkipExecution makes submissions complete without running the kernel.
	SkipExecution bool

	// AfterDispatch, if set, is called after each dispatch with the storage
	// ranges bound to the dispatch, keyed by binding number.
	AfterDispatch func(bindings map[uint32][]byte)
}

// DefaultConfig returns a discrete-GPU-like device with a combined queue
// family, a compute-only family and a transfer family.
func DefaultConfig() Config {
	return Config{
		Name: "gpucopy software device",
		Capabilities: driver.Capabilities{
			QueueFamilies: []driver.QueueFamily{
				{Flags: driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer, Count: 1},
				{Flags: driver.QueueCompute | driver.QueueTransfer, Count: 2},
				{Flags: driver.QueueTransfer, Count: 1},
			},
			MemoryTypes: []driver.MemoryType{
				{Flags: driver.MemoryDeviceLocal, HeapIndex: 0},
				{Flags: driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapIndex: 1},
				{Flags: driver.MemoryDeviceLocal | driver.MemoryHostVisible | driver.MemoryHostCoherent, HeapIndex: 0},
			},
			MemoryHeaps: []driver.MemoryHeap{
				{Size: 1 << 30},
				{Size: 512 << 20},
			},
			SubgroupSize:                    32,
			MaxWorkgroupCount:               [3]uint32{65535, 65535, 65535},
			MaxWorkgroupSize:                [3]uint32{1024, 1024, 64},
			MaxWorkgroupInvocations:         1024,
			MinStorageBufferOffsetAlignment: 16,
			SupportsSpecialization:          true,
		},
	}
}

// Instance is a set of software physical devices.
type Instance struct {
	mu      sync.Mutex
	devices []*PhysicalDevice
	open    []*Device
	logger  *slog.Logger
}

// New returns an instance with one physical device per config.
func New(configs ...Config) *Instance {
	inst := &Instance{logger: slogger()}
	for i := range configs {
		inst.devices = append(inst.devices, &PhysicalDevice{inst: inst, cfg: configs[i]})
	}
	return inst
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
	for _, d := range i.open {
		if !d.isDestroyed() {
			i.logger.Warn("soft: instance destroyed with live device", "device", d.name)
		}
	}
}

// LiveObjects returns the number of live objects of each kind across all
// devices of the instance, including the devices themselves. Kinds with no
// live objects are omitted.
func (i *Instance) LiveObjects() map[string]int {
	i.mu.Lock()
	devices := append([]*Device(nil), i.open...)
	i.mu.Unlock()

	live := map[string]int{}
	for _, d := range devices {
		for kind, n := range d.liveObjects() {
			live[kind] += n
		}
	}
	return live
}

func (i *Instance) track(d *Device) {
	i.mu.Lock()
	i.open = append(i.open, d)
	i.mu.Unlock()
}

// PhysicalDevice is a software device described by a Config.
type PhysicalDevice struct {
	inst *Instance
	cfg  Config
}

// Name implements driver.PhysicalDevice.
func (p *PhysicalDevice) Name() string { return p.cfg.Name }

// Capabilities implements driver.PhysicalDevice.
func (p *PhysicalDevice) Capabilities() (driver.Capabilities, error) {
	if err := p.cfg.fault("Capabilities"); err != nil {
		return driver.Capabilities{}, err
	}
	return p.cfg.Capabilities, nil
}

// CreateDevice implements driver.PhysicalDevice.
func (p *PhysicalDevice) CreateDevice(desc *driver.DeviceDesc) (driver.Device, error) {
	if err := p.cfg.fault("CreateDevice"); err != nil {
		return nil, err
	}
	families := p.cfg.Capabilities.QueueFamilies
	if int(desc.QueueFamily) >= len(families) {
		return nil, fmt.Errorf("%w: queue family %d of %d", driver.ErrInitializationFailed, desc.QueueFamily, len(families))
	}
	if n := len(desc.QueuePriorities); n == 0 || uint32(n) > families[desc.QueueFamily].Count { //nolint:gosec // small
		return nil, fmt.Errorf("%w: %d queues requested from family %d with %d",
			driver.ErrInitializationFailed, n, desc.QueueFamily, families[desc.QueueFamily].Count)
	}
	d := newDevice(p, desc)
	p.inst.track(d)
	p.inst.log().Debug("soft: device created", "device", p.cfg.Name, "family", desc.QueueFamily,
		"queues", len(desc.QueuePriorities))
	return d, nil
}

func (c *Config) fault(op string) error {
	if err, ok := c.Faults[op]; ok {
		return fmt.Errorf("soft: %s: %w", op, err)
	}
	return nil
}

// Profile is the YAML form of a device configuration.
type Profile struct {
	Name                   string   `yaml:"name"`
	QueueFamilies          []string `yaml:"queue_families"`
	MemoryTypes            []string `yaml:"memory_types"`
	MemoryTypeHeaps        []uint32 `yaml:"memory_type_heaps"`
	MemoryHeaps            []uint64 `yaml:"memory_heaps"`
	SubgroupSize           uint32   `yaml:"subgroup_size"`
	MaxWorkgroupCount      []uint32 `yaml:"max_workgroup_count"`
	MaxWorkgroupSize       []uint32 `yaml:"max_workgroup_size"`
	MaxInvocations         uint32   `yaml:"max_invocations"`
	OffsetAlignment        uint64   `yaml:"offset_alignment"`
	NoSpecialization       bool     `yaml:"no_specialization"`
	SkipExecution          bool     `yaml:"skip_execution"`
	QueueFamilyQueueCounts []uint32 `yaml:"queue_counts"`
}

var queueFlagNames = map[string]driver.QueueFlags{
	"graphics": driver.QueueGraphics,
	"compute":  driver.QueueCompute,
	"transfer": driver.QueueTransfer,
	"sparse":   driver.QueueSparseBinding,
}

var memoryFlagNames = map[string]driver.MemoryPropertyFlags{
	"device-local":  driver.MemoryDeviceLocal,
	"host-visible":  driver.MemoryHostVisible,
	"host-coherent": driver.MemoryHostCoherent,
	"host-cached":   driver.MemoryHostCached,
}

// LoadProfiles reads a YAML list of device profiles from path. Fields left
// out of a profile keep the values of DefaultConfig.
func LoadProfiles(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("soft: read profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes a YAML list of device profiles.
func ParseProfiles(data []byte) ([]Config, error) {
	var profiles []Profile
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("soft: parse profiles: %w", err)
	}
	configs := make([]Config, 0, len(profiles))
	for i, p := range profiles {
		cfg, err := p.Config()
		if err != nil {
			return nil, fmt.Errorf("soft: profile %d (%s): %w", i, p.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// Config converts p into a device configuration.
//
//nolint:gocyclo,cyclop // flat field-by-field conversion
func (p Profile) Config() (Config, error) {
	cfg := DefaultConfig()
	caps := &cfg.Capabilities
	if p.Name != "" {
		cfg.Name = p.Name
	}

	if len(p.QueueFamilies) > 0 {
		caps.QueueFamilies = caps.QueueFamilies[:0:0]
		for i, spec := range p.QueueFamilies {
			flags, err := parseFlags(spec, queueFlagNames)
			if err != nil {
				return Config{}, err
			}
			count := uint32(1)
			if i < len(p.QueueFamilyQueueCounts) {
				count = p.QueueFamilyQueueCounts[i]
			}
			caps.QueueFamilies = append(caps.QueueFamilies, driver.QueueFamily{Flags: driver.QueueFlags(flags), Count: count})
		}
	}

	if len(p.MemoryHeaps) > 0 {
		caps.MemoryHeaps = caps.MemoryHeaps[:0:0]
		for _, size := range p.MemoryHeaps {
			caps.MemoryHeaps = append(caps.MemoryHeaps, driver.MemoryHeap{Size: size})
		}
	}
	if len(p.MemoryTypes) > 0 {
		caps.MemoryTypes = caps.MemoryTypes[:0:0]
		for i, spec := range p.MemoryTypes {
			flags, err := parseFlags(spec, memoryFlagNames)
			if err != nil {
				return Config{}, err
			}
			var heap uint32
			if i < len(p.MemoryTypeHeaps) {
				heap = p.MemoryTypeHeaps[i]
			}
			caps.MemoryTypes = append(caps.MemoryTypes, driver.MemoryType{Flags: driver.MemoryPropertyFlags(flags), HeapIndex: heap})
		}
	}

	if p.SubgroupSize != 0 {
		caps.SubgroupSize = p.SubgroupSize
	}
	copy(caps.MaxWorkgroupCount[:], p.MaxWorkgroupCount)
	copy(caps.MaxWorkgroupSize[:], p.MaxWorkgroupSize)
	if p.MaxInvocations != 0 {
		caps.MaxWorkgroupInvocations = p.MaxInvocations
	}
	if p.OffsetAlignment != 0 {
		caps.MinStorageBufferOffsetAlignment = p.OffsetAlignment
	}
	caps.SupportsSpecialization = !p.NoSpecialization
	cfg.SkipExecution = p.SkipExecution
	return cfg, nil
}

// parseFlags parses a "|" separated list of flag names.
func parseFlags[F ~uint32](spec string, names map[string]F) (uint32, error) {
	var flags uint32
	for _, name := range strings.Split(spec, "|") {
		name = strings.TrimSpace(name)
		if name == "" || name == "none" {
			continue
		}
		f, ok := names[name]
		if !ok {
			return 0, fmt.Errorf("unknown flag %q", name)
		}
		flags |= uint32(f)
	}
	return flags, nil
}
