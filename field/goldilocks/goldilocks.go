// Package goldilocks adapts the gnark-crypto goldilocks field
// (p = 2^64 - 2^32 + 1) to the transform engine's field contract.
//
// The GPU buffer layout is the canonical (non-Montgomery) residue as a
// little-endian uint64, which the WGSL kernels read as two 32-bit limbs.
// gnark-crypto keeps elements in Montgomery form internally, so Put/Get
// convert through the canonical representation on every crossing.
package goldilocks

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/field/goldilocks"

	"github.com/gogpu/ntt/field"
)

// Element is the goldilocks field element, re-exported so callers do not
// need a direct gnark-crypto import next to every use of this package.
type Element = goldilocks.Element

// TwoAdicity is the largest k with 2^k dividing p-1. Transform sizes are
// limited well below 2^32 by the engine itself.
const TwoAdicity = 32

// multiplicativeGenerator is the smallest generator of the full
// multiplicative group, 7.
const multiplicativeGenerator = 7

// Field implements field.GpuField[Element]. The zero value is ready to use.
type Field struct{}

var _ field.GpuField[Element] = Field{}

// New returns the goldilocks field adapter.
func New() Field { return Field{} }

func (Field) Name() string { return "goldilocks" }

func (Field) ElemSize() int { return goldilocks.Bytes }

// Put writes the canonical residue of v as a little-endian uint64.
func (Field) Put(dst []byte, v Element) {
	b := v.Bytes()
	binary.LittleEndian.PutUint64(dst, binary.BigEndian.Uint64(b[:]))
}

// Get reads a little-endian uint64 residue. Values at or above the modulus
// are reduced; GPU kernels may leave such residues behind.
func (Field) Get(src []byte) Element {
	var v Element
	v.SetUint64(binary.LittleEndian.Uint64(src))
	return v
}

func (Field) Zero() Element {
	var z Element
	return z
}

func (Field) One() Element { return goldilocks.One() }

func (Field) FromUint64(v uint64) Element {
	var z Element
	z.SetUint64(v)
	return z
}

func (Field) Add(a, b Element) Element {
	var z Element
	z.Add(&a, &b)
	return z
}

func (Field) Sub(a, b Element) Element {
	var z Element
	z.Sub(&a, &b)
	return z
}

func (Field) Mul(a, b Element) Element {
	var z Element
	z.Mul(&a, &b)
	return z
}

func (Field) Inv(a Element) Element {
	var z Element
	z.Inverse(&a)
	return z
}

func (Field) Exp(a Element, k uint64) Element {
	var z Element
	z.Exp(a, new(big.Int).SetUint64(k))
	return z
}

func (Field) Equal(a, b Element) bool { return a.Equal(&b) }

func (Field) IsOne(a Element) bool { return a.IsOne() }

func (Field) IsZero(a Element) bool { return a.IsZero() }

// RootOfUnity returns a primitive n-th root of unity as g^((p-1)/n) for the
// multiplicative generator g = 7. n must be a power of two no larger than
// 2^TwoAdicity.
func (Field) RootOfUnity(n uint64) (Element, error) {
	if n == 0 || n&(n-1) != 0 {
		return Element{}, fmt.Errorf("goldilocks: root of unity order %d is not a power of two", n)
	}
	if n > 1<<TwoAdicity {
		return Element{}, fmt.Errorf("goldilocks: root of unity order %d exceeds two-adicity 2^%d", n, TwoAdicity)
	}
	order := new(big.Int).Sub(goldilocks.Modulus(), big.NewInt(1))
	exp := order.Div(order, new(big.Int).SetUint64(n))
	var g Element
	g.SetUint64(multiplicativeGenerator)
	var w Element
	w.Exp(g, exp)
	return w, nil
}

func (Field) Rand() Element {
	var z Element
	if _, err := z.SetRandom(); err != nil {
		// crypto/rand failure means the platform entropy source is broken.
		panic(fmt.Sprintf("goldilocks: random element: %v", err))
	}
	return z
}
