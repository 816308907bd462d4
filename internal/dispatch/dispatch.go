// Package dispatch derives compute workgroup sizes from device limits.
package dispatch

import (
	"errors"
	"fmt"
	"math/bits"
)

// Sizing errors.
var (
	// ErrZeroSubgroup is returned when the device reports a zero subgroup width.
	ErrZeroSubgroup = errors.New("dispatch: subgroup width is zero")

	// ErrZeroWorkgroupCount is returned when the device reports a zero
	// per-dimension workgroup count limit.
	ErrZeroWorkgroupCount = errors.New("dispatch: max workgroup count is zero")

	// ErrNoElements is returned for an empty dispatch.
	ErrNoElements = errors.New("dispatch: element count is zero")

	// ErrUnevenDispatch is returned when the element count is not a multiple
	// of the local group size and padding was not requested.
	ErrUnevenDispatch = errors.New("dispatch: element count not divisible by local group size")

	// ErrWorkgroupTooLarge is returned when the derived local size exceeds the
	// device's workgroup size or invocation limits.
	ErrWorkgroupTooLarge = errors.New("dispatch: local group size exceeds device limit")

	// ErrTooManyGroups is returned when the group count exceeds the
	// per-dimension limit.
	ErrTooManyGroups = errors.New("dispatch: workgroup count exceeds device limit")
)

// LocalGroupSize returns the number of invocations per workgroup for a
// dispatch of totalElements on a device with the given subgroup width and
// per-dimension workgroup count limit.
//
// The result is subgroupWidth when the device can cover totalElements with
// groups of that width. Otherwise it is subgroupWidth times the smallest
// power of two not below totalElements/(maxWorkgroupCountX*subgroupWidth)+1.
func LocalGroupSize(subgroupWidth, maxWorkgroupCountX, totalElements uint32) (uint32, error) {
	switch {
	case subgroupWidth == 0:
		return 0, ErrZeroSubgroup
	case maxWorkgroupCountX == 0:
		return 0, ErrZeroWorkgroupCount
	}

	sg, limit, total := uint64(subgroupWidth), uint64(maxWorkgroupCountX), uint64(totalElements)
	if sg*limit > total {
		return subgroupWidth, nil
	}

	m := nextPowerOfTwo(total/(limit*sg) + 1)
	size := sg * m
	if size > uint64(^uint32(0)) {
		return 0, fmt.Errorf("%w: %d invocations", ErrWorkgroupTooLarge, size)
	}
	return uint32(size), nil
}

// nextPowerOfTwo returns the smallest power of two >= v, for v >= 1.
func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}

// Limits are the device limits a Plan must respect.
type Limits struct {
	SubgroupSize            uint32
	MaxWorkgroupCountX      uint32
	MaxWorkgroupSizeX       uint32 // 0 means unchecked
	MaxWorkgroupInvocations uint32 // 0 means unchecked
}

// Plan is a validated dispatch: LocalSize * Groups == Elements.
type Plan struct {
	// Requested is the element count asked for.
	Requested uint32
	// Elements is the element count that will be dispatched. It differs from
	// Requested only when padding was allowed.
	Elements  uint32
	LocalSize uint32
	Groups    uint32
}

// Padded reports whether the plan rounded the element count up.
func (p Plan) Padded() bool { return p.Elements != p.Requested }

func (p Plan) String() string {
	return fmt.Sprintf("%d elements = %d groups x %d invocations", p.Elements, p.Groups, p.LocalSize)
}

// NewPlan sizes a dispatch of elements under lim. When elements is not a
// multiple of the derived local size, NewPlan fails with ErrUnevenDispatch
// unless pad is set, in which case the element count is rounded up.
func NewPlan(lim Limits, elements uint32, pad bool) (Plan, error) {
	if elements == 0 {
		return Plan{}, ErrNoElements
	}
	local, err := LocalGroupSize(lim.SubgroupSize, lim.MaxWorkgroupCountX, elements)
	if err != nil {
		return Plan{}, err
	}
	if lim.MaxWorkgroupSizeX != 0 && local > lim.MaxWorkgroupSizeX {
		return Plan{}, fmt.Errorf("%w: %d > max size x %d", ErrWorkgroupTooLarge, local, lim.MaxWorkgroupSizeX)
	}
	if lim.MaxWorkgroupInvocations != 0 && local > lim.MaxWorkgroupInvocations {
		return Plan{}, fmt.Errorf("%w: %d > max invocations %d", ErrWorkgroupTooLarge, local, lim.MaxWorkgroupInvocations)
	}

	total := uint64(elements)
	if rem := total % uint64(local); rem != 0 {
		if !pad {
			return Plan{}, fmt.Errorf("%w: %d %% %d = %d", ErrUnevenDispatch, elements, local, rem)
		}
		total += uint64(local) - rem
		if total > uint64(^uint32(0)) {
			return Plan{}, fmt.Errorf("%w: padded count %d overflows", ErrUnevenDispatch, total)
		}
	}

	groups := total / uint64(local)
	if groups > uint64(lim.MaxWorkgroupCountX) {
		return Plan{}, fmt.Errorf("%w: %d > %d", ErrTooManyGroups, groups, lim.MaxWorkgroupCountX)
	}
	return Plan{
		Requested: elements,
		Elements:  uint32(total),
		LocalSize: local,
		Groups:    uint32(groups),
	}, nil
}
