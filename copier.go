package gpucopy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/internal/blob"
	"github.com/gogpu/gpucopy/internal/device"
	"github.com/gogpu/gpucopy/internal/dispatch"
	"github.com/gogpu/gpucopy/internal/verify"
	"github.com/gogpu/gpucopy/kernel"
	"github.com/gogpu/gpucopy/spirv"
)

// elementSize is the size of one int32 element in bytes.
const elementSize = 4

// Copier runs the copy on the devices of a driver instance.
type Copier struct {
	inst driver.Instance
	opts options
}

// New returns a Copier for inst. The instance stays owned by the caller.
func New(inst driver.Instance, opts ...Option) *Copier {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	propagateLogger(inst)
	return &Copier{inst: inst, opts: o}
}

// Run copies on every physical device in enumeration order. It stops at the
// first failing device and returns the reports of the devices before it.
func (c *Copier) Run(ctx context.Context) ([]*Report, error) {
	devices, err := c.inst.EnumeratePhysicalDevices()
	if err != nil {
		return nil, driverErr("enumerate physical devices", err)
	}
	if len(devices) == 0 {
		return nil, located("enumerate physical devices", ErrNoDevices)
	}
	reports := make([]*Report, 0, len(devices))
	for _, pd := range devices {
		r, err := c.CopyUsingDevice(ctx, pd)
		if err != nil {
			return reports, fmt.Errorf("%s: %w", pd.Name(), err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// CopyUsingDevice runs the copy once on pd.
//
// Steps, in order:
//  1. query capabilities
//  2. select a compute queue family
//  3. size the dispatch
//  4. create a logical device with one queue
//  5. select a host-visible, host-coherent memory type for both halves
//  6. allocate, fill the input half and snapshot it
//  7. load the kernel
//  8. create the descriptor set layout, pipeline layout, pipeline,
//     descriptor pool and descriptor set
//  9. create the input and output buffers as views of the allocation
//  10. point bindings 0 and 1 at the views
//  11. record the dispatch
//  12. submit and wait for idle, repeatedly
//  13. read both halves back and verify them
//
// Every handle created on the way is released before it returns.
//
//nolint:gocyclo,cyclop,funlen // linear sequence of setup steps
func (c *Copier) CopyUsingDevice(ctx context.Context, pd driver.PhysicalDevice) (*Report, error) {
	o := &c.opts
	log := Logger().With("device", pd.Name())
	r := &Report{Device: pd.Name(), Kernel: o.source.String()}

	// 1
	caps, err := pd.Capabilities()
	if err != nil {
		return nil, driverErr("query capabilities", err)
	}

	// 2
	family, err := device.SelectComputeQueue(caps.QueueFamilies)
	if err != nil {
		return nil, located("select compute queue", err)
	}
	r.QueueFamily = family
	log.Info("gpucopy: compute queue selected", "family", family, "flags", caps.QueueFamilies[family].Flags)

	// 3
	plan, err := dispatch.NewPlan(dispatch.Limits{
		SubgroupSize:            caps.SubgroupSize,
		MaxWorkgroupCountX:      caps.MaxWorkgroupCount[0],
		MaxWorkgroupSizeX:       caps.MaxWorkgroupSize[0],
		MaxWorkgroupInvocations: caps.MaxWorkgroupInvocations,
	}, o.elements, o.pad)
	if err != nil {
		return nil, located("size dispatch", err)
	}
	r.Plan = plan
	if plan.Padded() {
		log.Info("gpucopy: element count padded", "requested", plan.Requested, "elements", plan.Elements)
	}
	log.Debug("gpucopy: dispatch planned", "plan", plan.String(), "subgroup", caps.SubgroupSize)

	bufferSize := uint64(plan.Elements) * elementSize
	memorySize := 2 * bufferSize
	if align := caps.MinStorageBufferOffsetAlignment; align > 1 && bufferSize%align != 0 {
		return nil, located("place output view",
			fmt.Errorf("%w: offset %d, alignment %d", ErrMisalignedView, bufferSize, align))
	}

	// 4
	dev, err := pd.CreateDevice(&driver.DeviceDesc{QueueFamily: family, QueuePriorities: []float32{1.0}})
	if err != nil {
		return nil, driverErr("create device", err)
	}
	defer dev.Destroy()

	// 5
	req := device.MemoryRequirements{Size: memorySize, Flags: device.HostCopyFlags}
	if o.deviceLocal {
		req.Flags |= driver.MemoryDeviceLocal
	}
	memType, err := device.SelectMemoryType(caps.MemoryTypes, caps.MemoryHeaps, req)
	if err != nil {
		return nil, located("select memory type", err)
	}
	r.MemoryType, r.MemoryFlags = memType, caps.MemoryTypes[memType].Flags
	log.Debug("gpucopy: memory type selected", "index", memType, "flags", r.MemoryFlags, "bytes", memorySize)

	// 6
	mem, err := dev.AllocateMemory(memType, memorySize)
	if err != nil {
		return nil, driverErr("allocate memory", err)
	}
	defer dev.FreeMemory(mem)

	seed := o.seedValue()
	r.Seed = seed
	start := time.Now()
	snapshot, alreadyEqual, err := fillInput(dev, mem, plan.Elements, seed)
	if err != nil {
		return nil, err
	}
	r.FillTime = time.Since(start)
	r.InputAlreadyEqual = alreadyEqual
	if alreadyEqual {
		log.Warn("gpucopy: memory already had equal values")
	}
	log.Debug("gpucopy: input generated", "elapsed", r.FillTime, "seed", seed)

	// 7
	k, err := o.source.Load(ctx, kernel.Request{
		Elements:   plan.Elements,
		LocalSize:  plan.LocalSize,
		EntryPoint: o.entryPoint,
	})
	if err != nil {
		return nil, located("load kernel", err)
	}
	var spec []driver.SpecializationEntry
	switch {
	case k.Specializable && caps.SupportsSpecialization:
		spec = []driver.SpecializationEntry{{ConstantID: spirv.LocalSizeSpecID, Value: plan.LocalSize}}
		r.Specialized = true
	case k.LocalSize != plan.LocalSize:
		return nil, located("load kernel",
			fmt.Errorf("%w: %s has %d, plan needs %d", ErrLocalSizeMismatch, k.Origin, k.LocalSize, plan.LocalSize))
	}
	if o.dump != "" {
		if err := blob.Write(ctx, o.dump, spirv.Bytes(k.Words), log); err != nil {
			log.Warn("gpucopy: kernel dump failed", "location", o.dump, "err", err)
		}
	}

	// 8
	shader, err := dev.CreateShaderModule(k.Words)
	if err != nil {
		return nil, driverErr("create shader module", err)
	}
	defer dev.DestroyShaderModule(shader)

	setLayout, err := dev.CreateDescriptorSetLayout([]driver.DescriptorBinding{
		{Binding: spirv.CopyBindingInput, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageCompute},
		{Binding: spirv.CopyBindingOutput, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageCompute},
	})
	if err != nil {
		return nil, driverErr("create descriptor set layout", err)
	}
	defer dev.DestroyDescriptorSetLayout(setLayout)

	pipelineLayout, err := dev.CreatePipelineLayout([]driver.DescriptorSetLayoutID{setLayout})
	if err != nil {
		return nil, driverErr("create pipeline layout", err)
	}
	defer dev.DestroyPipelineLayout(pipelineLayout)

	pipeline, err := dev.CreateComputePipeline(&driver.ComputePipelineDesc{
		Layout:         pipelineLayout,
		Module:         shader,
		EntryPoint:     k.EntryPoint,
		Specialization: spec,
	})
	if err != nil {
		return nil, driverErr("create compute pipeline", err)
	}
	defer dev.DestroyPipeline(pipeline)

	pool, err := dev.CreateDescriptorPool(&driver.DescriptorPoolDesc{
		Flags:   driver.DescriptorPoolFreeDescriptorSet,
		MaxSets: 1,
		Sizes:   []driver.DescriptorPoolSize{{Type: driver.DescriptorTypeStorageBuffer, Count: 2}},
	})
	if err != nil {
		return nil, driverErr("create descriptor pool", err)
	}
	defer dev.DestroyDescriptorPool(pool)

	set, err := dev.AllocateDescriptorSet(pool, setLayout)
	if err != nil {
		return nil, driverErr("allocate descriptor set", err)
	}
	defer func() {
		if err := dev.FreeDescriptorSet(pool, set); err != nil {
			log.Warn("gpucopy: free descriptor set", "err", err)
		}
	}()

	// 9
	var views [2]driver.BufferID
	for i := range views {
		buf, err := dev.CreateBuffer(bufferSize, driver.BufferUsageStorage)
		if err != nil {
			return nil, driverErr("create buffer", err)
		}
		defer dev.DestroyBuffer(buf)
		if err := dev.BindBufferMemory(buf, mem, uint64(i)*bufferSize); err != nil {
			return nil, driverErr("bind buffer memory", err)
		}
		views[i] = buf
	}

	// 10
	if err := dev.UpdateDescriptorSet(set, []driver.DescriptorWrite{
		{Binding: spirv.CopyBindingInput, Type: driver.DescriptorTypeStorageBuffer, Buffer: views[0], Range: driver.WholeSize},
		{Binding: spirv.CopyBindingOutput, Type: driver.DescriptorTypeStorageBuffer, Buffer: views[1], Range: driver.WholeSize},
	}); err != nil {
		return nil, driverErr("update descriptor set", err)
	}

	// 11
	cmdPool, err := dev.CreateCommandPool(family)
	if err != nil {
		return nil, driverErr("create command pool", err)
	}
	defer dev.DestroyCommandPool(cmdPool)

	cb, err := dev.AllocateCommandBuffer(cmdPool)
	if err != nil {
		return nil, driverErr("allocate command buffer", err)
	}
	if err := cb.Begin(); err != nil {
		return nil, driverErr("begin command buffer", err)
	}
	cb.BindPipeline(pipeline)
	cb.BindDescriptorSet(pipelineLayout, set)
	cb.Dispatch(plan.Groups, 1, 1)
	if err := cb.End(); err != nil {
		return nil, driverErr("end command buffer", err)
	}

	// 12
	queue, err := dev.Queue(family, 0)
	if err != nil {
		return nil, driverErr("get queue", err)
	}
	// Nothing may be released while a submission is pending.
	defer func() {
		if err := dev.WaitIdle(); err != nil {
			log.Warn("gpucopy: wait for device idle", "err", err)
		}
	}()

	start = time.Now()
	for i := range o.submissions {
		if err := ctx.Err(); err != nil {
			return nil, located("submit", err)
		}
		if err := queue.Submit(cb); err != nil {
			return nil, driverErr("submit", err)
		}
		if err := queue.WaitIdle(); err != nil {
			return nil, driverErr("wait for queue idle", err)
		}
		r.Submissions = i + 1
	}
	r.DispatchTime = time.Since(start)
	log.Debug("gpucopy: dispatch finished", "submissions", r.Submissions, "elapsed", r.DispatchTime)

	// 13
	input, output, err := readHalves(dev, mem, plan.Elements)
	if err != nil {
		return nil, err
	}
	result, err := verify.Compare(input, output, snapshot, verify.Options{QuickCheck: o.quickCheck})
	if err != nil {
		return nil, located("verify", err)
	}
	r.Verify = result
	logResult(log, result)
	return r, nil
}

func logResult(log *slog.Logger, r verify.Result) {
	if r.Equal {
		log.Info("gpucopy: copy verified", "full_scan", r.FullScan)
		return
	}
	log.Info("gpucopy: copy mismatch",
		"front", r.FirstFront,
		"back", r.FirstBack,
		"output_vs_snapshot", r.OutputVsSnapshot,
		"input_vs_snapshot", r.InputVsSnapshot,
		"cause", r.Cause)
}
