package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucopy/driver"
)

// errNotRecording is recorded when a command is issued outside Begin/End.
var errNotRecording = errors.New("soft: command buffer is not recording")

type recordState uint8

const (
	stateInitial recordState = iota
	stateRecording
	stateExecutable
	stateInvalid
	stateFreed
)

type dispatchCmd struct {
	pipeline driver.PipelineID
	set      driver.DescriptorSetID
	groups   [3]uint32
}

type commandBuffer struct {
	dev  *Device
	pool driver.CommandPoolID

	mu       sync.Mutex
	state    recordState
	err      error
	pipeline driver.PipelineID
	set      driver.DescriptorSetID
	cmds     []dispatchCmd
}

func (c *commandBuffer) Begin() error {
	if err := c.dev.cfg.fault("Begin"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateFreed {
		return fmt.Errorf("soft: begin on freed command buffer: %w", driver.ErrInvalidHandle)
	}
	c.state = stateRecording
	c.err = nil
	c.pipeline, c.set = driver.InvalidID, driver.InvalidID
	c.cmds = c.cmds[:0]
	return nil
}

// fail keeps the first recording error for End.
func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) BindPipeline(p driver.PipelineID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRecording {
		c.fail(errNotRecording)
		return
	}
	c.dev.mu.Lock()
	_, ok := c.dev.pipelines[p]
	c.dev.mu.Unlock()
	if !ok {
		c.fail(fmt.Errorf("soft: bind pipeline %d: %w", p, driver.ErrInvalidHandle))
		return
	}
	c.pipeline = p
}

func (c *commandBuffer) BindDescriptorSet(layout driver.PipelineLayoutID, set driver.DescriptorSetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRecording {
		c.fail(errNotRecording)
		return
	}
	c.dev.mu.Lock()
	pl, okLayout := c.dev.pipelineLayouts[layout]
	ds, okSet := c.dev.descriptorSets[set]
	c.dev.mu.Unlock()
	switch {
	case !okLayout:
		c.fail(fmt.Errorf("soft: bind descriptor set: layout %d: %w", layout, driver.ErrInvalidHandle))
	case !okSet:
		c.fail(fmt.Errorf("soft: bind descriptor set %d: %w", set, driver.ErrInvalidHandle))
	case len(pl.sets) == 0 || pl.sets[0] != ds.layout:
		c.fail(fmt.Errorf("soft: descriptor set %d is incompatible with pipeline layout %d: %w",
			set, layout, driver.ErrInitializationFailed))
	default:
		c.set = set
	}
}

func (c *commandBuffer) Dispatch(x, y, z uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRecording {
		c.fail(errNotRecording)
		return
	}
	if c.pipeline == driver.InvalidID {
		c.fail(fmt.Errorf("soft: dispatch without a pipeline: %w", driver.ErrInitializationFailed))
		return
	}
	groups := [3]uint32{x, y, z}
	limit := c.dev.cfg.Capabilities.MaxWorkgroupCount
	for i, n := range groups {
		if limit[i] != 0 && n > limit[i] {
			c.fail(fmt.Errorf("soft: dispatch %v exceeds workgroup count limit %v: %w",
				groups, limit, driver.ErrInitializationFailed))
			return
		}
	}
	c.cmds = append(c.cmds, dispatchCmd{pipeline: c.pipeline, set: c.set, groups: groups})
}

func (c *commandBuffer) End() error {
	if err := c.dev.cfg.fault("End"); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateRecording {
		return errNotRecording
	}
	if c.err != nil {
		c.state = stateInvalid
		return c.err
	}
	c.state = stateExecutable
	return nil
}

func (c *commandBuffer) release() {
	c.mu.Lock()
	c.state = stateFreed
	c.cmds = nil
	c.mu.Unlock()
}

// work is a submission with every handle resolved.
type work struct {
	dispatches []boundDispatch
}

type boundDispatch struct {
	program *program
	groups  [3]uint32
	regions map[uint32][]byte // keyed by binding of set 0
}

// resolve binds the recorded commands to device memory.
func (c *commandBuffer) resolve() (*work, error) {
	c.mu.Lock()
	state := c.state
	cmds := append([]dispatchCmd(nil), c.cmds...)
	c.mu.Unlock()
	if state != stateExecutable {
		return nil, fmt.Errorf("soft: submit of command buffer that is not executable: %w", driver.ErrInitializationFailed)
	}

	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	w := &work{}
	for _, cmd := range cmds {
		p, ok := d.pipelines[cmd.pipeline]
		if !ok {
			return nil, fmt.Errorf("soft: pipeline %d destroyed before submit: %w", cmd.pipeline, driver.ErrInvalidHandle)
		}
		regions := map[uint32][]byte{}
		if cmd.set != driver.InvalidID {
			set, ok := d.descriptorSets[cmd.set]
			if !ok {
				return nil, fmt.Errorf("soft: descriptor set %d freed before submit: %w", cmd.set, driver.ErrInvalidHandle)
			}
			for binding, wr := range set.writes {
				region, err := d.region(wr)
				if err != nil {
					return nil, err
				}
				regions[binding] = region
			}
		}
		for _, b := range p.program.bindings {
			if _, ok := regions[b]; !ok {
				return nil, fmt.Errorf("soft: binding %d used by the kernel is not written: %w", b, driver.ErrInitializationFailed)
			}
		}
		w.dispatches = append(w.dispatches, boundDispatch{program: p.program, groups: cmd.groups, regions: regions})
	}
	return w, nil
}

// region returns the bytes a descriptor write points at. The device lock is
// held by the caller.
func (d *Device) region(wr driver.DescriptorWrite) ([]byte, error) {
	b, ok := d.buffers[wr.Buffer]
	if !ok {
		return nil, fmt.Errorf("soft: buffer %d destroyed before submit: %w", wr.Buffer, driver.ErrInvalidHandle)
	}
	m, ok := d.memories[b.mem]
	if !ok {
		return nil, fmt.Errorf("soft: buffer %d has no memory bound: %w", wr.Buffer, driver.ErrInvalidHandle)
	}
	size := wr.Range
	if size == driver.WholeSize {
		size = b.size - wr.Offset
	}
	if wr.Offset > b.size || size > b.size-wr.Offset {
		return nil, fmt.Errorf("soft: range [%d, +%d) outside buffer of %d bytes: %w",
			wr.Offset, size, b.size, driver.ErrInitializationFailed)
	}
	start := b.offset + wr.Offset
	return m.data[start : start+size : start+size], nil
}

type queue struct {
	dev   *Device
	index uint32

	mu   sync.Mutex
	last chan struct{}
	err  error
}

// Submit resolves cb and runs it after every earlier submission to q.
func (q *queue) Submit(cb driver.CommandBuffer) error {
	if err := q.dev.cfg.fault("Submit"); err != nil {
		return err
	}
	c, ok := cb.(*commandBuffer)
	if !ok || c.dev != q.dev {
		return fmt.Errorf("soft: command buffer from another device: %w", driver.ErrInvalidHandle)
	}
	w, err := c.resolve()
	if err != nil {
		return err
	}

	q.mu.Lock()
	prev := q.last
	done := make(chan struct{})
	q.last = done
	q.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := q.dev.execute(w); err != nil {
			q.mu.Lock()
			if q.err == nil {
				q.err = err
			}
			q.mu.Unlock()
		}
	}()
	return nil
}

// WaitIdle waits for the last submission and reports the first execution
// error since the previous WaitIdle.
func (q *queue) WaitIdle() error {
	q.mu.Lock()
	last := q.last
	q.mu.Unlock()
	if last != nil {
		<-last
	}
	if err := q.dev.cfg.fault("WaitIdle"); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.err
	q.err = nil
	return err
}
