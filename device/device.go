// Package device defines the narrow capability surface the transform
// engine needs from a GPU backend: a library of precompiled compute
// pipelines, device buffers, and ordered command sequences of dispatch
// descriptors.
//
// Two backends implement it: device/wgpu drives real hardware through the
// gogpu WebGPU HAL, and device/sim executes reference kernels on the host
// so the engine's dispatch plans can run under go test.
package device

import (
	"context"
	"errors"
)

// Backend construction errors. Backends wrap these so callers can match
// with errors.Is regardless of which backend produced the failure.
var (
	// ErrUnknownKernel reports a pipeline request for a kernel name the
	// compiled library does not contain.
	ErrUnknownKernel = errors.New("device: unknown kernel")

	// ErrInvalidConstants reports specialization constants the kernel
	// cannot be compiled with.
	ErrInvalidConstants = errors.New("device: invalid specialization constants")
)

// Constants are the compile-time specialization values baked into a
// pipeline. They double as the pipeline-cache key, so the struct must stay
// comparable.
//
// N is the transform size. Param is the kernel-specific small scalar
// (butterfly stride for the FFT kernels, zero otherwise). Words carries
// an immediate field element for kernels that bake one in, little-endian
// 32-bit limbs, zero padded.
type Constants struct {
	N     uint32
	Param uint32
	Words [4]uint32
}

// GridSize is a dispatch geometry in logical threads (not workgroups).
type GridSize struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

// Grid1D returns a one-dimensional grid of n logical threads.
func Grid1D(n int) GridSize {
	return GridSize{Width: uint32(n), Height: 1, Depth: 1}
}

// Pipeline is one compiled compute kernel specialized with constants.
// Pipelines are created once at stage construction and reused for every
// encode.
type Pipeline interface {
	// Kernel returns the kernel name the pipeline was compiled from.
	Kernel() string

	// Constants returns the specialization values baked into the pipeline.
	Constants() Constants
}

// Library resolves kernel names to compiled pipelines. Lookup failures are
// construction-time fatal for the requesting stage; a Library never fails
// after it has handed a Pipeline out.
type Library interface {
	// NewPipeline compiles (or fetches from cache) the named kernel
	// specialized with c.
	NewPipeline(kernel string, c Constants) (Pipeline, error)

	// Kernels lists every kernel name the library can compile.
	Kernels() []string
}

// Buffer is a device-resident buffer of element data.
type Buffer interface {
	// Size returns the buffer length in bytes.
	Size() int
}

// Dispatch is one immutable unit of GPU work: a pipeline, its buffer
// bindings in binding order, optional small inline parameters, and the
// dispatch geometry. Stages build exactly one Dispatch per encode.
type Dispatch struct {
	Pipeline Pipeline

	// Buffers bind in slot order starting at binding 0.
	Buffers []Buffer

	// Params are small per-dispatch scalars passed by value, already in
	// the kernel's expected byte layout. Nil when the kernel takes none.
	Params []byte

	// Grid is the logical thread count; Threadgroup the lanes per group.
	// Backends derive their native workgroup counts from the pair.
	Grid        GridSize
	Threadgroup GridSize

	// SharedMemoryLen is the byte length of the threadgroup-shared
	// scratch the kernel requires, zero if none.
	SharedMemoryLen int

	// Barriers lists buffers whose writes must be visible to later
	// dispatches in the same sequence before the next dispatch runs.
	Barriers []Buffer
}

// CommandSequence accumulates dispatches in execution order and submits
// them as one unit. Encode cannot fail; all fallible work happened when
// the pipelines and buffers were created.
type CommandSequence interface {
	// Encode appends one dispatch. Encoding order is execution order.
	Encode(d Dispatch)

	// Submit hands the sequence to the device without waiting.
	Submit() error

	// SubmitAndWait submits and blocks until the device has executed
	// every encoded dispatch or ctx is done.
	SubmitAndWait(ctx context.Context) error
}

// Device is a compute device the engine can plan against.
type Device interface {
	// Library returns the device's compiled kernel library.
	Library() Library

	// NewBuffer allocates a zeroed device buffer of size bytes.
	NewBuffer(size int) (Buffer, error)

	// NewBufferFrom allocates a device buffer and stages data into it.
	NewBufferFrom(data []byte) (Buffer, error)

	// ReadBuffer copies the buffer contents back into dst, blocking until
	// the copy completes. len(dst) must not exceed b.Size().
	ReadBuffer(b Buffer, dst []byte) error

	// NewCommandSequence opens an empty labeled command sequence.
	NewCommandSequence(label string) CommandSequence
}
