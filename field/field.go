// Package field defines the capability contract the transform engine
// requires from a finite field, together with the registry that maps
// transform operations to the names of their compiled GPU kernel variants.
//
// The engine never inspects field elements: it moves them between host
// slices and device buffers through the Put/Get byte codec and performs
// the small amount of host-side arithmetic (twiddle factors, scale
// sequences, roots of unity) through the interface methods. All bulk
// arithmetic happens inside the GPU kernels named by this package.
package field

import (
	"errors"
	"fmt"
)

// GpuField describes a finite field whose elements can live in GPU buffers.
//
// Implementations must use a fixed-width byte layout: every element
// occupies exactly ElemSize bytes, and the layout must match what the
// field's compiled GPU kernels expect. Name is the kernel-name suffix
// identifying the field (for example "goldilocks" selects
// "fft_single_goldilocks" and friends).
//
// A GpuField value is stateless and safe for concurrent use.
type GpuField[F any] interface {
	// Name returns the field identity used as the kernel-name suffix.
	Name() string

	// ElemSize returns the byte width of one element in a GPU buffer.
	ElemSize() int

	// Put writes v into dst[:ElemSize()] in the GPU buffer layout.
	Put(dst []byte, v F)

	// Get reads an element from src[:ElemSize()].
	Get(src []byte) F

	Zero() F
	One() F
	FromUint64(v uint64) F

	Add(a, b F) F
	Sub(a, b F) F
	Mul(a, b F) F

	// Inv returns the multiplicative inverse of a. Inv of zero is zero.
	Inv(a F) F

	// Exp returns a raised to the k-th power.
	Exp(a F, k uint64) F

	Equal(a, b F) bool
	IsOne(a F) bool
	IsZero(a F) bool

	// RootOfUnity returns a primitive n-th root of unity, or an error if
	// the field has none (n must be a power of two within the field's
	// two-adicity).
	RootOfUnity(n uint64) (F, error)

	// Rand returns a uniformly random element. Used by tests.
	Rand() F
}

// Op identifies one of the transform engine's GPU kernel operations.
type Op int

const (
	// OpFFTMultiple is the fused butterfly kernel: several consecutive
	// butterfly stages performed inside one shared-memory tile.
	OpFFTMultiple Op = iota

	// OpFFTSingle is the single butterfly-stage kernel operating on
	// device memory directly.
	OpFFTSingle

	// OpBitReverse permutes a buffer into bit-reversed index order.
	OpBitReverse

	// OpMulAssign multiplies a buffer elementwise by a factor buffer.
	OpMulAssign

	// OpMulPow multiplies by successive powers of a baked-in base.
	OpMulPow

	// OpAddAssign accumulates one buffer into another elementwise.
	OpAddAssign

	opCount
)

// String returns the kernel-name stem of the operation.
func (op Op) String() string {
	switch op {
	case OpFFTMultiple:
		return "fft_multiple"
	case OpFFTSingle:
		return "fft_single"
	case OpBitReverse:
		return "bit_reverse"
	case OpMulAssign:
		return "mul_assign"
	case OpMulPow:
		return "mul_pow"
	case OpAddAssign:
		return "add_assign"
	default:
		return fmt.Sprintf("Unknown(%d)", int(op))
	}
}

// Ops returns all kernel operations in registry order.
func Ops() []Op {
	ops := make([]Op, opCount)
	for i := range ops {
		ops[i] = Op(i)
	}
	return ops
}

// KernelName returns the compiled kernel name for an operation on the
// named field, following the fixed <operation>_<field> convention.
func KernelName(op Op, fieldName string) string {
	return op.String() + "_" + fieldName
}

// ErrKernelMissing is returned by ValidateKernels when a compiled module
// does not provide every kernel variant the named field requires.
var ErrKernelMissing = errors.New("field: compiled module is missing a kernel variant")

// ValidateKernels checks that available (the kernel names exposed by a
// compiled module) covers every operation for the named field. This turns
// kernel-name lookup failures into one enumerable startup check instead of
// a construction failure deep inside a stage.
func ValidateKernels(available []string, fieldName string) error {
	have := make(map[string]struct{}, len(available))
	for _, name := range available {
		have[name] = struct{}{}
	}
	for _, op := range Ops() {
		name := KernelName(op, fieldName)
		if _, ok := have[name]; !ok {
			return fmt.Errorf("%w: %s", ErrKernelMissing, name)
		}
	}
	return nil
}

// Marshal encodes elements into a freshly allocated byte slice in the
// field's GPU buffer layout.
func Marshal[F any](f GpuField[F], vs []F) []byte {
	size := f.ElemSize()
	out := make([]byte, len(vs)*size)
	for i, v := range vs {
		f.Put(out[i*size:], v)
	}
	return out
}

// Unmarshal decodes len(dst) elements from data into dst.
// data must hold at least len(dst)*ElemSize bytes.
func Unmarshal[F any](f GpuField[F], data []byte, dst []F) {
	size := f.ElemSize()
	for i := range dst {
		dst[i] = f.Get(data[i*size:])
	}
}
