package sim

import (
	"encoding/binary"
	"math/bits"

	"github.com/gogpu/ntt/field"
)

// fusedMaxStride is the largest butterfly stride the fused FFT kernel
// covers, half the lane count of one threadgroup. Mirrors the shared-memory
// tile geometry of the WGSL kernel.
const fusedMaxStride = 1024

// RegisterFieldKernels registers the reference implementation of every
// transform kernel for field f on dev, under the same names the compiled
// shader library exposes. The loops below follow the WGSL kernels
// thread-for-thread so the two backends stay byte-comparable.
func RegisterFieldKernels[F any](dev *Device, f field.GpuField[F]) {
	name := func(op field.Op) string { return field.KernelName(op, f.Name()) }
	dev.Register(name(field.OpFFTMultiple), fftMultipleKernel(f))
	dev.Register(name(field.OpFFTSingle), fftSingleKernel(f))
	dev.Register(name(field.OpBitReverse), bitReverseKernel(f))
	dev.Register(name(field.OpMulAssign), mulAssignKernel(f))
	dev.Register(name(field.OpMulPow), mulPowKernel(f))
	dev.Register(name(field.OpAddAssign), addAssignKernel(f))
}

func load[F any](f field.GpuField[F], buf []byte, i int) F {
	return f.Get(buf[i*f.ElemSize():])
}

func store[F any](f field.GpuField[F], buf []byte, i int, v F) {
	f.Put(buf[i*f.ElemSize():], v)
}

// butterflyPass applies one stride-b butterfly stage in place.
// Thread gid < n/2 pairs indices i = 2b*(gid/b) + gid%b and i+b, using
// twiddle (gid%b) * n/(2b).
func butterflyPass[F any](f field.GpuField[F], input, twiddles []byte, n, b int) {
	for gid := 0; gid < n/2; gid++ {
		i := 2*b*(gid/b) + gid%b
		j := i + b
		ti := (gid % b) * (n / (2 * b))
		w := load(f, twiddles, ti)
		x := load(f, input, i)
		y := load(f, input, j)
		t := f.Mul(w, y)
		store(f, input, i, f.Add(x, t))
		store(f, input, j, f.Sub(x, t))
	}
}

// fftSingleKernel performs exactly one butterfly stage at the baked stride.
func fftSingleKernel[F any](f field.GpuField[F]) Kernel {
	return func(inv Invocation) {
		n := int(inv.Constants.N)
		b := int(inv.Constants.Param)
		butterflyPass(f, inv.Buffers[0], inv.Buffers[1], n, b)
	}
}

// fftMultipleKernel fuses every stage from the baked stride up to the tile
// ceiling. On hardware the fused stages run inside one shared-memory tile;
// sequential host execution makes the per-stage barrier implicit.
func fftMultipleKernel[F any](f field.GpuField[F]) Kernel {
	return func(inv Invocation) {
		n := int(inv.Constants.N)
		top := n / 2
		if top > fusedMaxStride {
			top = fusedMaxStride
		}
		for b := int(inv.Constants.Param); b <= top; b *= 2 {
			butterflyPass(f, inv.Buffers[0], inv.Buffers[1], n, b)
		}
	}
}

// bitReverseKernel swaps each element with its bit-reversed index once.
func bitReverseKernel[F any](f field.GpuField[F]) Kernel {
	return func(inv Invocation) {
		n := int(inv.Constants.N)
		logN := bits.TrailingZeros32(inv.Constants.N)
		input := inv.Buffers[0]
		for i := 0; i < n; i++ {
			j := int(bits.Reverse32(uint32(i)) >> (32 - logN))
			if i < j {
				x := load(f, input, i)
				y := load(f, input, j)
				store(f, input, i, y)
				store(f, input, j, x)
			}
		}
	}
}

// mulAssignKernel multiplies the data buffer elementwise by the factor
// buffer.
func mulAssignKernel[F any](f field.GpuField[F]) Kernel {
	return func(inv Invocation) {
		n := int(inv.Constants.N)
		input, factors := inv.Buffers[0], inv.Buffers[1]
		for i := 0; i < n; i++ {
			store(f, input, i, f.Mul(load(f, input, i), load(f, factors, i)))
		}
	}
}

// mulPowKernel computes dst[i] = src[i] * base^((shift*i + power) mod n).
// The base is baked into the constants as little-endian 32-bit limbs; its
// multiplicative order divides n, so reducing the exponent mod n is exact.
func mulPowKernel[F any](f field.GpuField[F]) Kernel {
	return func(inv Invocation) {
		n := uint64(inv.Constants.N)
		var raw [16]byte
		for i, w := range inv.Constants.Words {
			binary.LittleEndian.PutUint32(raw[4*i:], w)
		}
		base := f.Get(raw[:])
		power := uint64(binary.LittleEndian.Uint32(inv.Params[0:4]))
		shift := uint64(binary.LittleEndian.Uint32(inv.Params[4:8]))
		dst, src := inv.Buffers[0], inv.Buffers[1]
		for i := uint64(0); i < n; i++ {
			e := (shift*i + power) & (n - 1)
			store(f, dst, int(i), f.Mul(load(f, src, int(i)), f.Exp(base, e)))
		}
	}
}

// addAssignKernel accumulates src into dst elementwise.
func addAssignKernel[F any](f field.GpuField[F]) Kernel {
	return func(inv Invocation) {
		n := int(inv.Constants.N)
		dst, src := inv.Buffers[0], inv.Buffers[1]
		for i := 0; i < n; i++ {
			store(f, dst, i, f.Add(load(f, dst, i), load(f, src, i)))
		}
	}
}
