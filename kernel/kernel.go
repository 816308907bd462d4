// Package kernel supplies the SPIR-V module of the copy kernel.
//
// Three sources are available:
//   - Generated builds the module in Go with package spirv
//   - File loads a precompiled module from a local path or gs:// URL
//   - WGSL compiles an equivalent WGSL kernel with naga
//
// Every source returns a Kernel describing the local size the module runs
// with when the pipeline supplies no specialization, so the caller can tell
// whether its dispatch plan matches the binary.
package kernel

import (
	"context"
	"fmt"

	"github.com/gogpu/gpucopy/internal/cache"
	"github.com/gogpu/gpucopy/spirv"
)

// Request describes the kernel a run needs.
type Request struct {
	// Elements is the array length of each half.
	Elements uint32

	// LocalSize is the workgroup size in X chosen for the dispatch.
	LocalSize uint32

	// EntryPoint names the kernel function. Empty means "main".
	EntryPoint string
}

// Kernel is a loaded shader module.
type Kernel struct {
	Words      []uint32
	EntryPoint string

	// LocalSize is the workgroup size in X without specialization.
	LocalSize uint32

	// Specializable reports whether the X size is specialization constant
	// spirv.LocalSizeSpecID.
	Specializable bool

	// Origin names where the module came from, for logs and reports.
	Origin string
}

// Source produces the kernel for a request.
type Source interface {
	Load(ctx context.Context, req Request) (*Kernel, error)
	String() string
}

// Generated returns the source that builds the kernel with package spirv.
// The local size is a specialization constant whose default is the
// requested size, so the module is correct with or without specialization.
// Each shape is built once per process.
func Generated() Source { return generated{} }

type generated struct{}

type shape struct {
	elements, localSize uint32
	entry               string
}

// generatedCache holds built kernels by shape. Kernels are never mutated
// after describe returns them.
var generatedCache = cache.New[shape, *Kernel](32)

func (generated) String() string { return "generated" }

func (generated) Load(_ context.Context, req Request) (*Kernel, error) {
	key := shape{elements: req.Elements, localSize: req.LocalSize, entry: req.EntryPoint}
	k, err := generatedCache.GetOrCreate(key, func() (*Kernel, error) {
		words, err := spirv.BuildCopyKernelWith(req.Elements, spirv.KernelOptions{
			EntryPoint:          req.EntryPoint,
			SpecializeLocalSize: true,
			LocalSizeX:          req.LocalSize,
		})
		if err != nil {
			return nil, fmt.Errorf("kernel: %w", err)
		}
		slogger().Debug("kernel: generated", "elements", req.Elements, "local_size", req.LocalSize, "words", len(words))
		return describe(words, "generated")
	})
	if err != nil {
		return nil, err
	}
	out := *k
	return &out, nil
}

// describe decodes words and reads the entry point and local size.
func describe(words []uint32, origin string) (*Kernel, error) {
	m, err := spirv.Decode(words)
	if err != nil {
		return nil, fmt.Errorf("kernel: %s: %w", origin, err)
	}
	_, entry, ok := m.EntryPoint()
	if !ok {
		return nil, fmt.Errorf("kernel: %s: %w: no entry point", origin, spirv.ErrInvalidModule)
	}
	size, specialized, ok := m.LocalSizeX()
	if !ok {
		return nil, fmt.Errorf("kernel: %s: %w: no local size", origin, spirv.ErrInvalidModule)
	}
	return &Kernel{
		Words:         words,
		EntryPoint:    entry,
		LocalSize:     size,
		Specializable: specialized,
		Origin:        origin,
	}, nil
}
