package kernel

import (
	"context"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpucopy/spirv"
)

// wgslTemplate is the copy kernel in WGSL. WGSL has no specializable
// workgroup size in naga's SPIR-V output, so the size is substituted in
// together with the array length.
const wgslTemplate = `struct Data {
    values: array<i32, %[1]d>,
}

@group(0) @binding(0) var<storage, read> src: Data;
@group(0) @binding(1) var<storage, read_write> dst: Data;

@compute @workgroup_size(%[2]d)
fn %[3]s(@builtin(global_invocation_id) gid: vec3<u32>) {
    let index = gid.x;
    if index >= %[1]du {
        return;
    }
    dst.values[index] = src.values[index];
}
`

// WGSL returns the source that compiles the copy kernel from WGSL.
func WGSL() Source { return wgslSource{} }

type wgslSource struct{}

func (wgslSource) String() string { return "wgsl" }

func (wgslSource) Load(_ context.Context, req Request) (*Kernel, error) {
	words, err := CompileWGSL(WGSLText(req))
	if err != nil {
		return nil, err
	}
	return describe(words, "wgsl")
}

// WGSLText returns the WGSL source WGSL compiles for req.
func WGSLText(req Request) string {
	entry := req.EntryPoint
	if entry == "" {
		entry = spirv.DefaultEntryPoint
	}
	return fmt.Sprintf(wgslTemplate, req.Elements, max(req.LocalSize, 1), entry)
}

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("kernel: failed to compile shader: %w", err)
	}
	return spirv.WordsFromBytes(spirvBytes), nil
}
