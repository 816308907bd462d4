// Package gpucopy runs a compute kernel that copies one half of a buffer to
// the other and checks the result.
//
// # Overview
//
// For every physical device of a driver instance, a Copier picks a compute
// queue family, sizes the dispatch from the device's subgroup width and
// limits, allocates one host-visible allocation holding two int32 arrays,
// fills the first with pseudo-random data and runs a SPIR-V kernel that
// copies it into the second. The kernel is built in Go by package spirv
// unless another kernel.Source is configured.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/gpucopy"
//		"github.com/gogpu/gpucopy/driver"
//		_ "github.com/gogpu/gpucopy/driver/soft"
//	)
//
//	inst, err := driver.OpenInstance("soft")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Destroy()
//
//	reports, err := gpucopy.New(inst).Run(ctx)
//
// # Errors
//
// Every failed step is reported as an *OpError carrying the step name and
// the source position of the failing call. Errors returned by the driver
// also match ErrDriverCallFailed. A verification mismatch is not an error:
// it is reported in Report.Verify.
//
// # Resources
//
// Each handle created during a run is released before CopyUsingDevice
// returns, whether the run succeeds or fails.
package gpucopy
