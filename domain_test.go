package ntt

import (
	"errors"
	"testing"

	"github.com/gogpu/ntt/field/goldilocks"
)

func TestDomainSizeValidation(t *testing.T) {
	f := goldilocks.New()
	cases := []struct {
		name string
		n    int
	}{
		{"below minimum", 1 << 10},
		{"above maximum", 1 << 31},
		{"not a power of two", 3 * 1024},
		{"zero", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewEvaluationDomain[goldilocks.Element](f, tc.n); !errors.Is(err, ErrInvalidDomainSize) {
				t.Errorf("NewEvaluationDomain(%d): got %v, want ErrInvalidDomainSize", tc.n, err)
			}
		})
	}
	if _, err := NewCosetEvaluationDomain[goldilocks.Element](f, 2048, f.Zero()); !errors.Is(err, ErrInvalidOffset) {
		t.Errorf("zero offset: got %v, want ErrInvalidOffset", err)
	}
}

func TestDomainGenerator(t *testing.T) {
	f := goldilocks.New()
	const n = 2048
	d, err := NewEvaluationDomain[goldilocks.Element](f, n)
	if err != nil {
		t.Fatalf("NewEvaluationDomain: %v", err)
	}
	if got, want := d.Size(), n; got != want {
		t.Errorf("Size: got %d, want %d", got, want)
	}
	if got, want := d.LogSize(), 11; got != want {
		t.Errorf("LogSize: got %d, want %d", got, want)
	}
	g := d.Generator()
	if got := f.Exp(g, n); !f.IsOne(got) {
		t.Errorf("g^n = %v, want one", got)
	}
	if got := f.Exp(g, n/2); f.IsOne(got) {
		t.Error("g^(n/2) is one, generator is not primitive")
	}
	if d.IsCoset() {
		t.Error("plain domain reports IsCoset")
	}
}

func TestDomainElements(t *testing.T) {
	f := goldilocks.New()
	const n = 2048
	offset := f.FromUint64(7)
	d, err := NewCosetEvaluationDomain[goldilocks.Element](f, n, offset)
	if err != nil {
		t.Fatalf("NewCosetEvaluationDomain: %v", err)
	}
	if !d.IsCoset() {
		t.Fatal("coset domain reports plain")
	}
	pts := d.Elements()
	if len(pts) != n {
		t.Fatalf("Elements length: got %d, want %d", len(pts), n)
	}
	if !f.Equal(pts[0], offset) {
		t.Errorf("first point: got %v, want offset %v", pts[0], offset)
	}
	g := d.Generator()
	if want := f.Mul(offset, g); !f.Equal(pts[1], want) {
		t.Errorf("second point: got %v, want %v", pts[1], want)
	}
	// The points must wrap: last point times g is the first.
	if want := pts[0]; !f.Equal(f.Mul(pts[n-1], g), want) {
		t.Error("domain points do not close the cycle")
	}
}

func TestDomainTwiddles(t *testing.T) {
	f := goldilocks.New()
	const n = 2048
	d, err := NewEvaluationDomain[goldilocks.Element](f, n)
	if err != nil {
		t.Fatalf("NewEvaluationDomain: %v", err)
	}
	fw := d.Twiddles(false)
	inv := d.Twiddles(true)
	if len(fw) != n/2 || len(inv) != n/2 {
		t.Fatalf("twiddle lengths: got %d/%d, want %d", len(fw), len(inv), n/2)
	}
	if !f.IsOne(fw[0]) || !f.IsOne(inv[0]) {
		t.Error("twiddle tables must start at one")
	}
	for _, i := range []int{1, 5, n/2 - 1} {
		if got := f.Mul(fw[i], inv[i]); !f.IsOne(got) {
			t.Errorf("fw[%d]*inv[%d] = %v, want one", i, i, got)
		}
	}
}
