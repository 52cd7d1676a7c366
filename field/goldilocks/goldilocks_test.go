package goldilocks

import (
	"testing"

	"github.com/gogpu/ntt/field"
)

func TestCodecRoundTrip(t *testing.T) {
	f := New()
	values := []Element{
		f.Zero(),
		f.One(),
		f.FromUint64(2),
		f.FromUint64(0xFFFFFFFF00000000), // p - 1
		f.Rand(),
		f.Rand(),
	}
	buf := make([]byte, f.ElemSize())
	for i, v := range values {
		f.Put(buf, v)
		got := f.Get(buf)
		if !f.Equal(got, v) {
			t.Errorf("value %d: round-trip mismatch: got %v, want %v", i, got, v)
		}
	}
}

func TestGetReducesNonCanonical(t *testing.T) {
	f := New()
	// p + 5 as a raw little-endian uint64 must decode to 5.
	const p = uint64(0xFFFFFFFF00000001)
	buf := make([]byte, f.ElemSize())
	f.Put(buf, f.FromUint64(0))
	raw := p + 5
	for i := 0; i < 8; i++ {
		buf[i] = byte(raw >> (8 * i))
	}
	if got, want := f.Get(buf), f.FromUint64(5); !f.Equal(got, want) {
		t.Errorf("non-canonical decode: got %v, want %v", got, want)
	}
}

func TestArithmetic(t *testing.T) {
	f := New()
	a, b := f.Rand(), f.Rand()

	if got := f.Sub(f.Add(a, b), b); !f.Equal(got, a) {
		t.Errorf("(a+b)-b = %v, want %v", got, a)
	}
	if got := f.Mul(a, f.Inv(a)); !f.IsOne(got) {
		t.Errorf("a * a^-1 = %v, want one", got)
	}
	if got := f.Exp(a, 5); !f.Equal(got, f.Mul(a, f.Mul(a, f.Mul(a, f.Mul(a, a))))) {
		t.Errorf("a^5 mismatch: got %v", got)
	}
	if got := f.Exp(a, 0); !f.IsOne(got) {
		t.Errorf("a^0 = %v, want one", got)
	}
}

func TestRootOfUnity(t *testing.T) {
	f := New()
	for _, n := range []uint64{2, 2048, 1 << 20, 1 << TwoAdicity} {
		w, err := f.RootOfUnity(n)
		if err != nil {
			t.Fatalf("RootOfUnity(%d): %v", n, err)
		}
		if got := f.Exp(w, n); !f.IsOne(got) {
			t.Errorf("w^%d = %v, want one", n, got)
		}
		// Primitive: the half-order power must not be one.
		if n > 1 {
			if got := f.Exp(w, n/2); f.IsOne(got) {
				t.Errorf("w^%d is one, root of order %d is not primitive", n/2, n)
			}
		}
	}
}

func TestRootOfUnityErrors(t *testing.T) {
	f := New()
	cases := []struct {
		name string
		n    uint64
	}{
		{"zero", 0},
		{"not a power of two", 3000},
		{"beyond two-adicity", 1 << 33},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.RootOfUnity(tc.n); err == nil {
				t.Errorf("RootOfUnity(%d): expected error, got nil", tc.n)
			}
		})
	}
}

func TestKernelNames(t *testing.T) {
	f := New()
	names := make([]string, 0, len(field.Ops()))
	for _, op := range field.Ops() {
		names = append(names, field.KernelName(op, f.Name()))
	}
	if err := field.ValidateKernels(names, f.Name()); err != nil {
		t.Fatalf("ValidateKernels: %v", err)
	}
	if err := field.ValidateKernels(names[1:], f.Name()); err == nil {
		t.Error("ValidateKernels with missing kernel: expected error, got nil")
	}
}
