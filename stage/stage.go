// Package stage implements the GPU compute stages of the transform: the
// bit-reversal permutation, the butterfly ladder (fused and single-stride
// variants), elementwise scale-and-normalize, multiply-by-powers, and
// elementwise accumulation.
//
// Every stage follows the same contract: construction resolves exactly one
// compiled pipeline and validates all parameters, returning an error on any
// misuse; Encode appends exactly one dispatch descriptor to an open command
// sequence and cannot fail. Stages are cheap to hold and safe to encode
// from any number of sequences.
package stage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/ntt/device"
	"github.com/gogpu/ntt/field"
)

const (
	// ThreadgroupSize is the logical lane count of every dispatch.
	ThreadgroupSize = 1024

	// TileSize is the element count of the threadgroup-shared tile used
	// by the fused FFT variant: two elements per lane.
	TileSize = 2 * ThreadgroupSize

	// MinSize and MaxSize bound the supported transform sizes.
	MinSize = 1 << 11
	MaxSize = 1 << 30
)

var (
	// ErrInvalidSize reports a transform size outside the supported
	// power-of-two range.
	ErrInvalidSize = errors.New("stage: size must be a power of two in [2^11, 2^30]")

	// ErrInvalidBoxCount reports a butterfly box count that is not a
	// power of two below the transform size.
	ErrInvalidBoxCount = errors.New("stage: box count must be a power of two less than the size")

	// ErrElementTooWide reports a field element that does not fit the
	// kernel's immediate constant slot.
	ErrElementTooWide = errors.New("stage: field element too wide for kernel constants")
)

func validSize(n int) bool {
	return n >= MinSize && n <= MaxSize && n&(n-1) == 0
}

func threadgroup1D() device.GridSize {
	return device.GridSize{Width: ThreadgroupSize, Height: 1, Depth: 1}
}

// elementWords packs a field element into the four little-endian 32-bit
// limbs of device.Constants.Words.
func elementWords[F any](f field.GpuField[F], v F) ([4]uint32, error) {
	var words [4]uint32
	size := f.ElemSize()
	if size > len(words)*4 {
		return words, fmt.Errorf("%w: %d bytes", ErrElementTooWide, size)
	}
	var raw [16]byte
	f.Put(raw[:], v)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return words, nil
}

// Variant selects between the two butterfly kernels.
type Variant int

const (
	// VariantMultiple fuses every stage from the starting box count up to
	// the tile ceiling inside threadgroup-shared memory.
	VariantMultiple Variant = iota

	// VariantSingle performs one stage at the baked box count directly on
	// device memory. Used once the stride outgrows the shared tile.
	VariantSingle
)

func (v Variant) String() string {
	switch v {
	case VariantMultiple:
		return "multiple"
	case VariantSingle:
		return "single"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// FFT encodes butterfly-ladder dispatches over an n-element buffer.
// One FFT stage covers a fixed portion of the ladder, determined at
// construction by numBoxes and the variant.
type FFT[F any] struct {
	pipeline    device.Pipeline
	grid        device.GridSize
	threadgroup device.GridSize
	sharedLen   int
}

// NewFFT resolves the butterfly pipeline for the given geometry.
// numBoxes is the butterfly stride this stage starts at; it must be a
// power of two below n. The Multiple variant additionally reserves the
// shared-memory tile (TileSize elements of f).
func NewFFT[F any](f field.GpuField[F], lib device.Library, n, numBoxes int, v Variant) (*FFT[F], error) {
	if !validSize(n) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	if numBoxes < 1 || numBoxes >= n || numBoxes&(numBoxes-1) != 0 {
		return nil, fmt.Errorf("%w: %d (size %d)", ErrInvalidBoxCount, numBoxes, n)
	}
	op := field.OpFFTSingle
	if v == VariantMultiple {
		op = field.OpFFTMultiple
	}
	p, err := lib.NewPipeline(field.KernelName(op, f.Name()), device.Constants{
		N:     uint32(n),
		Param: uint32(numBoxes),
	})
	if err != nil {
		return nil, fmt.Errorf("stage: fft %s pipeline: %w", v, err)
	}
	shared := 0
	if v == VariantMultiple {
		shared = TileSize * f.ElemSize()
	}
	return &FFT[F]{
		pipeline:    p,
		grid:        device.Grid1D(n / 2),
		threadgroup: threadgroup1D(),
		sharedLen:   shared,
	}, nil
}

// Encode appends this stage's dispatch. One thread handles one butterfly,
// so the grid is n/2. The barrier on input publishes the stage's writes to
// whatever the sequence runs next.
func (s *FFT[F]) Encode(seq device.CommandSequence, input, twiddles device.Buffer) {
	seq.Encode(device.Dispatch{
		Pipeline:        s.pipeline,
		Buffers:         []device.Buffer{input, twiddles},
		Grid:            s.grid,
		Threadgroup:     s.threadgroup,
		SharedMemoryLen: s.sharedLen,
		Barriers:        []device.Buffer{input},
	})
}

// BitReverse encodes the in-place bit-reversal permutation of an n-element
// buffer.
type BitReverse[F any] struct {
	pipeline    device.Pipeline
	grid        device.GridSize
	threadgroup device.GridSize
}

// NewBitReverse resolves the bit-reversal pipeline for size n.
func NewBitReverse[F any](f field.GpuField[F], lib device.Library, n int) (*BitReverse[F], error) {
	if !validSize(n) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	p, err := lib.NewPipeline(field.KernelName(field.OpBitReverse, f.Name()), device.Constants{
		N: uint32(n),
	})
	if err != nil {
		return nil, fmt.Errorf("stage: bit reverse pipeline: %w", err)
	}
	return &BitReverse[F]{
		pipeline:    p,
		grid:        device.Grid1D(n),
		threadgroup: threadgroup1D(),
	}, nil
}

// Encode appends the permutation dispatch, one thread per element.
func (s *BitReverse[F]) Encode(seq device.CommandSequence, input device.Buffer) {
	seq.Encode(device.Dispatch{
		Pipeline:    s.pipeline,
		Buffers:     []device.Buffer{input},
		Grid:        s.grid,
		Threadgroup: s.threadgroup,
		Barriers:    []device.Buffer{input},
	})
}

// ScaleAndNormalize multiplies an n-element buffer elementwise by the
// precomputed sequence norm * scale^i. The factor buffer is built once at
// construction and owned by the stage.
type ScaleAndNormalize[F any] struct {
	pipeline     device.Pipeline
	grid         device.GridSize
	threadgroup  device.GridSize
	scaleFactors device.Buffer
}

// NewScaleAndNormalize precomputes the factor sequence on the host, stages
// it into a device buffer, and resolves the elementwise-multiply pipeline.
// With scale = 1 the sequence is the constant norm.
func NewScaleAndNormalize[F any](f field.GpuField[F], dev device.Device, n int, scale, norm F) (*ScaleAndNormalize[F], error) {
	if !validSize(n) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	lib := dev.Library()
	p, err := lib.NewPipeline(field.KernelName(field.OpMulAssign, f.Name()), device.Constants{
		N: uint32(n),
	})
	if err != nil {
		return nil, fmt.Errorf("stage: scale pipeline: %w", err)
	}
	size := f.ElemSize()
	factors := make([]byte, n*size)
	if f.IsOne(scale) {
		for i := 0; i < n; i++ {
			f.Put(factors[i*size:], norm)
		}
	} else {
		acc := norm
		for i := 0; i < n; i++ {
			f.Put(factors[i*size:], acc)
			acc = f.Mul(acc, scale)
		}
	}
	buf, err := dev.NewBufferFrom(factors)
	if err != nil {
		return nil, fmt.Errorf("stage: scale factors buffer: %w", err)
	}
	return &ScaleAndNormalize[F]{
		pipeline:     p,
		grid:         device.Grid1D(n),
		threadgroup:  threadgroup1D(),
		scaleFactors: buf,
	}, nil
}

// Encode appends the elementwise multiply dispatch, one thread per element.
func (s *ScaleAndNormalize[F]) Encode(seq device.CommandSequence, input device.Buffer) {
	seq.Encode(device.Dispatch{
		Pipeline:    s.pipeline,
		Buffers:     []device.Buffer{input, s.scaleFactors},
		Grid:        s.grid,
		Threadgroup: s.threadgroup,
		Barriers:    []device.Buffer{input},
	})
}

// MulPow writes dst[i] = src[i] * base^((shift*i + power) mod n). The base
// and the stride shift are fixed at construction; power varies per encode.
// base must have multiplicative order dividing n, which makes the mod-n
// exponent reduction exact.
type MulPow[F any] struct {
	pipeline    device.Pipeline
	grid        device.GridSize
	threadgroup device.GridSize
	shift       uint32
}

// NewMulPow bakes base into the pipeline constants and fixes the exponent
// stride.
func NewMulPow[F any](f field.GpuField[F], lib device.Library, n int, shift uint32, base F) (*MulPow[F], error) {
	if !validSize(n) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	words, err := elementWords(f, base)
	if err != nil {
		return nil, err
	}
	p, err := lib.NewPipeline(field.KernelName(field.OpMulPow, f.Name()), device.Constants{
		N:     uint32(n),
		Words: words,
	})
	if err != nil {
		return nil, fmt.Errorf("stage: mul pow pipeline: %w", err)
	}
	return &MulPow[F]{
		pipeline:    p,
		grid:        device.Grid1D(n),
		threadgroup: threadgroup1D(),
		shift:       shift,
	}, nil
}

// Encode appends the dispatch with power and the baked shift as inline
// params. dst and src may be the same buffer.
func (s *MulPow[F]) Encode(seq device.CommandSequence, dst, src device.Buffer, power uint32) {
	params := make([]byte, 8)
	binary.LittleEndian.PutUint32(params[0:4], power)
	binary.LittleEndian.PutUint32(params[4:8], s.shift)
	seq.Encode(device.Dispatch{
		Pipeline:    s.pipeline,
		Buffers:     []device.Buffer{dst, src},
		Params:      params,
		Grid:        s.grid,
		Threadgroup: s.threadgroup,
		Barriers:    []device.Buffer{dst},
	})
}

// AddAssign accumulates src into dst elementwise: dst[i] += src[i].
type AddAssign[F any] struct {
	pipeline    device.Pipeline
	grid        device.GridSize
	threadgroup device.GridSize
}

// NewAddAssign resolves the accumulation pipeline for size n.
func NewAddAssign[F any](f field.GpuField[F], lib device.Library, n int) (*AddAssign[F], error) {
	if !validSize(n) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	p, err := lib.NewPipeline(field.KernelName(field.OpAddAssign, f.Name()), device.Constants{
		N: uint32(n),
	})
	if err != nil {
		return nil, fmt.Errorf("stage: add assign pipeline: %w", err)
	}
	return &AddAssign[F]{
		pipeline:    p,
		grid:        device.Grid1D(n),
		threadgroup: threadgroup1D(),
	}, nil
}

// Encode appends the accumulation dispatch, one thread per element.
func (s *AddAssign[F]) Encode(seq device.CommandSequence, dst, src device.Buffer) {
	seq.Encode(device.Dispatch{
		Pipeline:    s.pipeline,
		Buffers:     []device.Buffer{dst, src},
		Grid:        s.grid,
		Threadgroup: s.threadgroup,
		Barriers:    []device.Buffer{dst},
	})
}
