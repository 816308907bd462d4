package gpucopy

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/gogpu/gpucopy/driver"
)

// processStart anchors monotonic clock readings.
var processStart = time.Now()

// seedValue returns the configured seed or one drawn from the clock.
func (o *options) seedValue() uint64 {
	if o.seed != nil {
		return *o.seed
	}
	return uint64(time.Now().UnixNano()) ^ uint64(time.Since(processStart)) //nolint:gosec // seed bits
}

// fillInput maps the whole allocation, writes pseudo-random values into the
// first half and returns them. It also reports whether the second half
// already held the same values.
func fillInput(dev driver.Device, mem driver.MemoryID, elements uint32, seed uint64) ([]int32, bool, error) {
	data, err := dev.MapMemory(mem, 0, driver.WholeSize)
	if err != nil {
		return nil, false, driverErr("map memory", err)
	}
	half := uint64(elements) * elementSize
	if uint64(len(data)) < 2*half {
		_ = dev.UnmapMemory(mem)
		return nil, false, located("map memory",
			fmt.Errorf("%w: mapped %d bytes, need %d", driver.ErrMemoryMapFailed, len(data), 2*half))
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	snapshot := make([]int32, elements)
	for i := range snapshot {
		v := rng.Uint32()
		snapshot[i] = int32(v) //nolint:gosec // reinterpret bits
		binary.LittleEndian.PutUint32(data[i*elementSize:], v)
	}
	equal := slices.Equal(data[:half], data[half:2*half])

	if err := dev.UnmapMemory(mem); err != nil {
		return nil, false, driverErr("unmap memory", err)
	}
	return snapshot, equal, nil
}

// readHalves maps the allocation after the device is idle and decodes both
// halves.
func readHalves(dev driver.Device, mem driver.MemoryID, elements uint32) (input, output []int32, err error) {
	data, err := dev.MapMemory(mem, 0, driver.WholeSize)
	if err != nil {
		return nil, nil, driverErr("map memory", err)
	}
	half := int(elements) * elementSize
	if len(data) < 2*half {
		_ = dev.UnmapMemory(mem)
		return nil, nil, located("map memory",
			fmt.Errorf("%w: mapped %d bytes, need %d", driver.ErrMemoryMapFailed, len(data), 2*half))
	}
	input = decodeInt32s(data[:half])
	output = decodeInt32s(data[half : 2*half])
	if err := dev.UnmapMemory(mem); err != nil {
		return nil, nil, driverErr("unmap memory", err)
	}
	return input, output, nil
}

func decodeInt32s(b []byte) []int32 {
	out := make([]int32, len(b)/elementSize)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(b[i*elementSize:])) //nolint:gosec // reinterpret bits
	}
	return out
}
