// Command spvdis prints the disassembly of a SPIR-V module: a generated
// copy kernel, or a .spv file (path or gs://bucket/object) given as the
// argument.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"os"

	"github.com/gogpu/gpucopy/internal/blob"
	"github.com/gogpu/gpucopy/spirv"
)

func main() {
	var (
		elements   = flag.Uint("n", 16384, "array length of the generated kernel")
		specialize = flag.Bool("specialize", false, "declare the local size as specialization constant 0")
		localSize  = flag.Uint("local-size", 1, "default local size in X")
		entry      = flag.String("entry", spirv.DefaultEntryPoint, "entry point name")
		validate   = flag.Bool("validate", true, "validate ids before printing")
	)
	flag.Parse()

	n, err := uint32Flag("n", *elements)
	if err != nil {
		log.Fatal(err)
	}
	local, err := uint32Flag("local-size", *localSize)
	if err != nil {
		log.Fatal(err)
	}

	words, err := load(flag.Arg(0), spirv.KernelOptions{
		EntryPoint:          *entry,
		SpecializeLocalSize: *specialize,
		LocalSizeX:          local,
	}, n)
	if err != nil {
		log.Fatal(err)
	}

	m, err := spirv.Decode(words)
	if err != nil {
		log.Fatal(err)
	}
	if *validate {
		if err := m.Validate(); err != nil {
			log.Fatal(err)
		}
	}
	if err := spirv.Disassemble(os.Stdout, m); err != nil {
		log.Fatal(err)
	}
}

// uint32Flag narrows a uint flag value, rejecting anything a uint32 cannot hold.
func uint32Flag(name string, v uint) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("-%s %d exceeds %d", name, v, uint32(math.MaxUint32))
	}
	return uint32(v), nil
}

func load(location string, opts spirv.KernelOptions, elements uint32) ([]uint32, error) {
	if location == "" {
		return spirv.BuildCopyKernelWith(elements, opts)
	}
	data, err := blob.Read(context.Background(), location, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, fmt.Errorf("spvdis: %w", err)
	}
	return spirv.WordsFromBytes(data), nil
}
