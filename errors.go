package gpucopy

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/gogpu/gpucopy/internal/device"
	"github.com/gogpu/gpucopy/internal/dispatch"
	"github.com/gogpu/gpucopy/kernel"
)

// Errors reported by a copy run.
var (
	// ErrNoComputeQueue is returned when no queue family supports compute.
	ErrNoComputeQueue = device.ErrNoComputeQueue

	// ErrNoSuitableMemoryType is returned when no memory type is host
	// visible, host coherent and backed by a heap large enough for both
	// buffers.
	ErrNoSuitableMemoryType = device.ErrNoSuitableMemoryType

	// ErrShaderFileUnreadable is returned when a precompiled kernel cannot
	// be loaded.
	ErrShaderFileUnreadable = kernel.ErrShaderFileUnreadable

	// ErrUnevenDispatch is returned when the element count is not a
	// multiple of the local group size and padding was not requested.
	ErrUnevenDispatch = dispatch.ErrUnevenDispatch

	// ErrDriverCallFailed is matched by every error a driver call returned.
	ErrDriverCallFailed = errors.New("gpucopy: driver call failed")

	// ErrLocalSizeMismatch is returned when a kernel bakes in a local size
	// other than the one the dispatch plan needs and cannot be specialized.
	ErrLocalSizeMismatch = errors.New("gpucopy: kernel local size does not match dispatch")

	// ErrMisalignedView is returned when the output buffer would start at an
	// offset the device cannot bind as a storage buffer.
	ErrMisalignedView = errors.New("gpucopy: output view offset violates storage buffer alignment")

	// ErrNoDevices is returned by Run when the instance has no devices.
	ErrNoDevices = errors.New("gpucopy: no physical devices")
)

// OpError records the step of a copy run that failed and the source
// position it failed at.
type OpError struct {
	Op   string
	File string
	Line int
	Err  error

	driver bool
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Op, e.Err)
}

// Unwrap returns the underlying error, and ErrDriverCallFailed when the
// failing step was a driver call.
func (e *OpError) Unwrap() []error {
	if e.driver {
		return []error{ErrDriverCallFailed, e.Err}
	}
	return []error{e.Err}
}

// Position returns the source position as file:line.
func (e *OpError) Position() string { return fmt.Sprintf("%s:%d", e.File, e.Line) }

// driverErr wraps an error returned by a driver call. The position is the
// caller's.
func driverErr(op string, err error) error {
	return newOpError(op, err, true)
}

// located wraps an error that did not come from the driver.
func located(op string, err error) error {
	return newOpError(op, err, false)
}

func newOpError(op string, err error, drv bool) error {
	if err == nil {
		return nil
	}
	e := &OpError{Op: op, Err: err, driver: drv}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.File, e.Line = filepath.Base(file), line
	}
	return e
}
