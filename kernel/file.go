package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucopy/internal/blob"
	"github.com/gogpu/gpucopy/spirv"
)

// ErrShaderFileUnreadable is returned when a precompiled module cannot be
// read.
var ErrShaderFileUnreadable = errors.New("kernel: shader file unreadable")

// fileEntry is the process-wide cache slot of one location. A read that
// failed because its context ended leaves the slot empty for the next caller.
type fileEntry struct {
	mu    sync.Mutex
	done  bool
	words []uint32
	err   error
}

var fileCache sync.Map // location -> *fileEntry

// File returns a source that loads a precompiled module from a local path or
// a gs://bucket/object URL. The bytes are zero padded to a whole number of
// words and read as little-endian. Each location is read once per process;
// a read cut short by its context is retried by the next Load.
//
// The module must declare the local size in X as specialization constant 0
// (layout(local_size_x_id = 0) in GLSL) or bake in the size the dispatch
// uses. Its array length is not checked against the request.
func File(location string) Source { return fileSource{location: location} }

type fileSource struct {
	location string
}

func (s fileSource) String() string { return s.location }

func (s fileSource) Load(ctx context.Context, _ Request) (*Kernel, error) {
	v, _ := fileCache.LoadOrStore(s.location, &fileEntry{})
	e := v.(*fileEntry) //nolint:errcheck,forcetypeassert // only *fileEntry is stored
	words, err := e.load(ctx, s.location)
	if err != nil {
		return nil, err
	}
	return describe(words, s.location)
}

func (e *fileEntry) load(ctx context.Context, location string) ([]uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return e.words, e.err
	}
	data, err := blob.Read(ctx, location, slogger())
	switch {
	case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil, fmt.Errorf("%w: %s: %w", ErrShaderFileUnreadable, location, err)
	case err != nil:
		e.err = fmt.Errorf("%w: %s: %w", ErrShaderFileUnreadable, location, err)
	case len(data) == 0:
		e.err = fmt.Errorf("%w: %s is empty", ErrShaderFileUnreadable, location)
	default:
		e.words = spirv.WordsFromBytes(data)
		slogger().Debug("kernel: loaded shader file", "location", location, "bytes", len(data))
	}
	e.done = true
	return e.words, e.err
}
