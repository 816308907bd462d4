//go:build !nogpu

package halvk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpucopy/driver"
)

var errNotRecording = errors.New("halvk: command buffer is not recording")

type dispatchCmd struct {
	pipeline driver.PipelineID
	set      driver.DescriptorSetID
	groups   [3]uint32
}

// commandBuffer records dispatches. HAL command buffers are encoded at
// submit time, since a recorded buffer may be submitted many times.
type commandBuffer struct {
	dev *Device

	mu        sync.Mutex
	recording bool
	ended     bool
	freed     bool
	err       error
	pipeline  driver.PipelineID
	set       driver.DescriptorSetID
	cmds      []dispatchCmd
}

func (c *commandBuffer) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return fmt.Errorf("halvk: begin on freed command buffer: %w", driver.ErrInvalidHandle)
	}
	c.recording, c.ended, c.err = true, false, nil
	c.pipeline, c.set = driver.InvalidID, driver.InvalidID
	c.cmds = c.cmds[:0]
	return nil
}

func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) BindPipeline(p driver.PipelineID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		c.fail(errNotRecording)
		return
	}
	c.pipeline = p
}

func (c *commandBuffer) BindDescriptorSet(_ driver.PipelineLayoutID, set driver.DescriptorSetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		c.fail(errNotRecording)
		return
	}
	c.set = set
}

func (c *commandBuffer) Dispatch(x, y, z uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		c.fail(errNotRecording)
		return
	}
	if c.pipeline == driver.InvalidID {
		c.fail(fmt.Errorf("halvk: dispatch without a pipeline: %w", driver.ErrInitializationFailed))
		return
	}
	c.cmds = append(c.cmds, dispatchCmd{pipeline: c.pipeline, set: c.set, groups: [3]uint32{x, y, z}})
}

func (c *commandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return errNotRecording
	}
	c.recording = false
	if c.err != nil {
		return c.err
	}
	c.ended = true
	return nil
}

func (c *commandBuffer) release() {
	c.mu.Lock()
	c.freed, c.ended = true, false
	c.cmds = nil
	c.mu.Unlock()
}

// encode turns the recorded dispatches into a HAL command buffer.
func (c *commandBuffer) encode() (hal.CommandBuffer, error) {
	c.mu.Lock()
	ended := c.ended
	cmds := append([]dispatchCmd(nil), c.cmds...)
	c.mu.Unlock()
	if !ended {
		return nil, fmt.Errorf("halvk: submit of command buffer that is not executable: %w", driver.ErrInitializationFailed)
	}

	d := c.dev
	type bound struct {
		pipeline hal.ComputePipeline
		group    hal.BindGroup
		groups   [3]uint32
	}
	passes := make([]bound, 0, len(cmds))
	d.mu.Lock()
	for _, cmd := range cmds {
		p, ok := d.pipelines[cmd.pipeline]
		if !ok {
			d.mu.Unlock()
			return nil, fmt.Errorf("halvk: pipeline %d: %w", cmd.pipeline, driver.ErrInvalidHandle)
		}
		var group hal.BindGroup
		if cmd.set != driver.InvalidID {
			s, ok := d.descriptorSets[cmd.set]
			if !ok {
				d.mu.Unlock()
				return nil, fmt.Errorf("halvk: descriptor set %d: %w", cmd.set, driver.ErrInvalidHandle)
			}
			g, err := d.bindGroup(s)
			if err != nil {
				d.mu.Unlock()
				return nil, err
			}
			group = g
		}
		passes = append(passes, bound{pipeline: p, group: group, groups: cmd.groups})
	}
	d.mu.Unlock()

	encoder, err := d.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gpucopy_encoder"})
	if err != nil {
		return nil, fmt.Errorf("halvk: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gpucopy"); err != nil {
		return nil, fmt.Errorf("halvk: begin encoding: %w", err)
	}
	for _, b := range passes {
		pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "gpucopy_pass"})
		pass.SetPipeline(b.pipeline)
		if b.group != nil {
			pass.SetBindGroup(0, b.group, nil)
		}
		pass.Dispatch(b.groups[0], b.groups[1], b.groups[2])
		pass.End()
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("halvk: end encoding: %w", err)
	}
	return cmdBuf, nil
}

type submission struct {
	cmdBuf hal.CommandBuffer
	fence  hal.Fence
}

// queue is the single HAL queue of a device.
type queue struct {
	dev *Device

	mu      sync.Mutex
	pending []submission
}

// Submit encodes cb and submits it with its own fence.
func (q *queue) Submit(cb driver.CommandBuffer) error {
	c, ok := cb.(*commandBuffer)
	if !ok || c.dev != q.dev {
		return fmt.Errorf("halvk: command buffer from another device: %w", driver.ErrInvalidHandle)
	}
	d := q.dev
	cmdBuf, err := c.encode()
	if err != nil {
		return err
	}
	fence, err := d.dev.CreateFence()
	if err != nil {
		d.dev.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("halvk: create fence: %w", err)
	}
	if err := d.q.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		d.dev.DestroyFence(fence)
		d.dev.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("halvk: submit: %w: %w", driver.ErrDeviceLost, err)
	}

	d.mu.Lock()
	for _, m := range d.memories {
		m.stale = true
	}
	d.mu.Unlock()

	q.mu.Lock()
	q.pending = append(q.pending, submission{cmdBuf: cmdBuf, fence: fence})
	q.mu.Unlock()
	return nil
}

// WaitIdle waits for every pending fence and releases the submissions.
func (q *queue) WaitIdle() error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	d := q.dev
	var errs []error
	for _, s := range pending {
		ok, err := d.dev.Wait(s.fence, 1, fenceTimeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("halvk: wait for GPU: %w: %w", driver.ErrDeviceLost, err))
		case !ok:
			errs = append(errs, fmt.Errorf("halvk: wait for GPU: %w: timeout after %v", driver.ErrDeviceLost, fenceTimeout))
		}
		d.dev.DestroyFence(s.fence)
		d.dev.FreeCommandBuffer(s.cmdBuf)
	}
	return errors.Join(errs...)
}
