package gpucopy

import "github.com/gogpu/gpucopy/kernel"

// Option configures a Copier.
//
// Example:
//
//	c := gpucopy.New(inst,
//		gpucopy.WithElementCount(1<<20),
//		gpucopy.WithQuickCheck(100),
//	)
type Option func(*options)

// Defaults used by New.
const (
	DefaultElementCount = 16384
	DefaultSubmissions  = 10
)

type options struct {
	elements    uint32
	submissions int
	deviceLocal bool
	pad         bool
	quickCheck  int
	source      kernel.Source
	entryPoint  string
	dump        string
	seed        *uint64
}

func defaultOptions() options {
	return options{
		elements:    DefaultElementCount,
		submissions: DefaultSubmissions,
		source:      kernel.Generated(),
	}
}

// WithElementCount sets the number of int32 elements in each half of the
// buffer.
func WithElementCount(n uint32) Option {
	return func(o *options) {
		o.elements = n
	}
}

// WithSubmissions sets how many times the recorded command buffer is
// submitted. Each submission is followed by a wait for idle. Values below
// one are treated as one.
func WithSubmissions(n int) Option {
	return func(o *options) {
		o.submissions = max(n, 1)
	}
}

// WithDeviceLocal additionally requires the memory type to be device local.
func WithDeviceLocal(on bool) Option {
	return func(o *options) {
		o.deviceLocal = on
	}
}

// WithPadding rounds an element count that is not a multiple of the local
// group size up to the next multiple instead of failing with
// ErrUnevenDispatch. The padded tail is filled and verified like the rest.
func WithPadding(on bool) Option {
	return func(o *options) {
		o.pad = on
	}
}

// WithQuickCheck enables the edge pre-check of verification: the first and
// last n elements of the halves are compared and the full scan only runs
// when they differ. Zero, the default, always scans.
func WithQuickCheck(n int) Option {
	return func(o *options) {
		o.quickCheck = n
	}
}

// WithKernelSource sets where the kernel binary comes from. The default is
// kernel.Generated().
func WithKernelSource(s kernel.Source) Option {
	return func(o *options) {
		if s != nil {
			o.source = s
		}
	}
}

// WithEntryPoint sets the kernel entry point name. The default is "main".
func WithEntryPoint(name string) Option {
	return func(o *options) {
		o.entryPoint = name
	}
}

// WithDump writes the kernel words of every run to location, a local path
// or a gs://bucket/object URL. The file is never read back.
func WithDump(location string) Option {
	return func(o *options) {
		o.dump = location
	}
}

// WithSeed fixes the seed of the input generator. By default the seed is
// taken from the monotonic clock, so repeated runs differ.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = &seed
	}
}
