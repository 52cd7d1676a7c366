// Package ntt is a GPU-accelerated number-theoretic transform engine for
// polynomial evaluation and interpolation over multiplicative subgroups of
// a prime field.
//
// The engine plans a transform once per (device, domain) pair: a
// Transformer resolves every compute pipeline, uploads the twiddle
// factors, and fixes the dispatch ladder at construction, so encoding a
// transform into a command sequence is infallible and allocation-light.
// Backends live under device/: device/wgpu drives real hardware through
// the gogpu WebGPU stack, device/sim executes the same dispatch plans on
// the host for tests.
package ntt

import (
	"errors"
	"fmt"

	"github.com/gogpu/ntt/field"
)

var (
	// ErrInvalidDomainSize reports a domain size outside the supported
	// power-of-two range.
	ErrInvalidDomainSize = errors.New("ntt: domain size must be a power of two in [2^11, 2^30]")

	// ErrInvalidOffset reports a zero coset offset.
	ErrInvalidOffset = errors.New("ntt: coset offset must be invertible")

	// ErrSizeMismatch reports a host slice whose length differs from the
	// domain size.
	ErrSizeMismatch = errors.New("ntt: value count does not match domain size")
)

// Domain size bounds, matching the geometry of the compute stages.
const (
	MinDomainSize = 1 << 11
	MaxDomainSize = 1 << 30
)

// EvaluationDomain is a multiplicative subgroup of order n generated by a
// primitive n-th root of unity, optionally shifted by a coset offset.
// Polynomials of degree below n are evaluated over (and interpolated from)
// the points offset * g^i.
type EvaluationDomain[F any] struct {
	field        field.GpuField[F]
	n            int
	logN         int
	generator    F
	generatorInv F
	offset       F
	offsetInv    F
}

// NewEvaluationDomain constructs the plain (offset = 1) domain of size n.
func NewEvaluationDomain[F any](f field.GpuField[F], n int) (*EvaluationDomain[F], error) {
	return NewCosetEvaluationDomain(f, n, f.One())
}

// NewCosetEvaluationDomain constructs a domain over the coset offset * ⟨g⟩.
// n must be a power of two in [2^11, 2^30] within the field's two-adicity,
// and offset must be nonzero.
func NewCosetEvaluationDomain[F any](f field.GpuField[F], n int, offset F) (*EvaluationDomain[F], error) {
	if n < MinDomainSize || n > MaxDomainSize || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDomainSize, n)
	}
	if f.IsZero(offset) {
		return nil, ErrInvalidOffset
	}
	g, err := f.RootOfUnity(uint64(n))
	if err != nil {
		return nil, fmt.Errorf("ntt: domain generator: %w", err)
	}
	logN := 0
	for 1<<logN < n {
		logN++
	}
	return &EvaluationDomain[F]{
		field:        f,
		n:            n,
		logN:         logN,
		generator:    g,
		generatorInv: f.Inv(g),
		offset:       offset,
		offsetInv:    f.Inv(offset),
	}, nil
}

// Size returns the domain order n.
func (d *EvaluationDomain[F]) Size() int { return d.n }

// LogSize returns log2(n).
func (d *EvaluationDomain[F]) LogSize() int { return d.logN }

// Field returns the domain's field.
func (d *EvaluationDomain[F]) Field() field.GpuField[F] { return d.field }

// Generator returns the primitive n-th root of unity generating the
// subgroup.
func (d *EvaluationDomain[F]) Generator() F { return d.generator }

// Offset returns the coset offset, one for plain domains.
func (d *EvaluationDomain[F]) Offset() F { return d.offset }

// IsCoset reports whether the domain is shifted off the subgroup.
func (d *EvaluationDomain[F]) IsCoset() bool { return !d.field.IsOne(d.offset) }

// Elements returns the domain points offset * g^i in index order.
func (d *EvaluationDomain[F]) Elements() []F {
	out := make([]F, d.n)
	acc := d.offset
	for i := range out {
		out[i] = acc
		acc = d.field.Mul(acc, d.generator)
	}
	return out
}

// Twiddles returns the first half of the root powers, w^0 .. w^(n/2 - 1),
// with w the generator (inverse = false) or its inverse. This is exactly
// the twiddle table the butterfly kernels index.
func (d *EvaluationDomain[F]) Twiddles(inverse bool) []F {
	w := d.generator
	if inverse {
		w = d.generatorInv
	}
	out := make([]F, d.n/2)
	acc := d.field.One()
	for i := range out {
		out[i] = acc
		acc = d.field.Mul(acc, w)
	}
	return out
}
