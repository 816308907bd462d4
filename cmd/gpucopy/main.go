// Command gpucopy copies a buffer half on every device of a compute backend
// and verifies the copy.
//
// Usage:
//
//	gpucopy [-backend vulkan|soft] [-n elements] [-submissions n] [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpucopy"
	"github.com/gogpu/gpucopy/driver"
	"github.com/gogpu/gpucopy/driver/soft"
	"github.com/gogpu/gpucopy/internal/verify"
	"github.com/gogpu/gpucopy/kernel"
)

func main() {
	var (
		backend     = flag.String("backend", "vulkan", "compute backend: vulkan or soft")
		profiles    = flag.String("profiles", "", "YAML device profiles for the soft backend")
		elements    = flag.Uint("n", gpucopy.DefaultElementCount, "int32 elements per buffer half")
		submissions = flag.Int("submissions", gpucopy.DefaultSubmissions, "number of queue submissions")
		deviceLocal = flag.Bool("device-local", false, "require device-local memory")
		pad         = flag.Bool("pad", false, "round the element count up to the local group size")
		quickCheck  = flag.Int("quick-check", 0, "compare only the first and last n elements before a full scan")
		shader      = flag.String("shader", "", "precompiled SPIR-V kernel (path or gs://bucket/object)")
		wgsl        = flag.Bool("wgsl", false, "compile the kernel from WGSL with naga")
		dump        = flag.String("dump", "", "write the kernel binary to a path or gs:// URL")
		subgroup    = flag.Uint("subgroup", 0, "subgroup width reported by the vulkan backend (0 = default)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	gpucopy.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	n, err := uint32Flag("n", *elements)
	if err != nil {
		fail(err)
	}
	width, err := uint32Flag("subgroup", *subgroup)
	if err != nil {
		fail(err)
	}

	inst, err := openBackend(*backend, *profiles, width)
	if err != nil {
		fail(err)
	}
	defer inst.Destroy()

	opts := []gpucopy.Option{
		gpucopy.WithElementCount(n),
		gpucopy.WithSubmissions(*submissions),
		gpucopy.WithDeviceLocal(*deviceLocal),
		gpucopy.WithPadding(*pad),
		gpucopy.WithQuickCheck(*quickCheck),
		gpucopy.WithDump(*dump),
	}
	switch {
	case *shader != "":
		opts = append(opts, gpucopy.WithKernelSource(kernel.File(*shader)))
	case *wgsl:
		opts = append(opts, gpucopy.WithKernelSource(kernel.WGSL()))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reports, err := gpucopy.New(inst, opts...).Run(ctx)
	p := message.NewPrinter(language.English)
	for _, r := range reports {
		printReport(p, r)
	}
	if err != nil {
		inst.Destroy()
		fail(err)
	}
}

func openBackend(name, profiles string, subgroup uint32) (driver.Instance, error) {
	switch name {
	case soft.BackendName:
		if profiles == "" {
			return driver.OpenInstance(name)
		}
		configs, err := soft.LoadProfiles(profiles)
		if err != nil {
			return nil, err
		}
		return soft.New(configs...), nil
	case "vulkan":
		return openVulkan(subgroup)
	}
	return driver.OpenInstance(name)
}

func printReport(p *message.Printer, r *gpucopy.Report) {
	p.Printf("%s\n", r.Device)
	p.Printf("  queue family %d, memory type %d (%v)\n", r.QueueFamily, r.MemoryType, r.MemoryFlags)
	p.Printf("  %d elements (%d bytes per half), local size %d, %d groups, %s kernel\n",
		r.Plan.Elements, r.Bytes(), r.Plan.LocalSize, r.Plan.Groups, r.Kernel)
	if r.InputAlreadyEqual {
		p.Printf("  the memory already had equal values\n")
	}
	p.Printf("  random data generation: %v\n", r.FillTime)
	p.Printf("  copying data %d times: %v\n", r.Submissions, r.DispatchTime)

	v := r.Verify
	if v.Equal {
		p.Printf("  copy verified\n")
		return
	}
	if v.FirstFront != verify.NoMismatch {
		p.Printf("  bad at %d\n", v.FirstFront)
	}
	if v.FirstBack != verify.NoMismatch && v.FirstBack != v.FirstFront {
		p.Printf("  bad at %d\n", v.FirstBack)
	}
	p.Printf("  %v\n", v)
}

// uint32Flag narrows a uint flag value, rejecting anything a uint32 cannot hold.
func uint32Flag(name string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("-%s %d exceeds %d", name, v, uint32(math.MaxUint32))
	}
	return uint32(v), nil
}

func fail(err error) {
	var opErr *gpucopy.OpError
	if errors.As(err, &opErr) {
		fmt.Fprintf(os.Stderr, "gpucopy: %s failed at %s: %v\n", opErr.Op, opErr.Position(), opErr.Err)
	} else {
		fmt.Fprintf(os.Stderr, "gpucopy: %v\n", err)
	}
	os.Exit(1)
}
