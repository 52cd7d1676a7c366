package ntt

import (
	"context"
	"errors"
	"testing"

	"github.com/gogpu/ntt/device/sim"
	"github.com/gogpu/ntt/field/goldilocks"
)

func newSimDevice() (*sim.Device, goldilocks.Field) {
	dev := sim.NewDevice()
	f := goldilocks.New()
	sim.RegisterFieldKernels(dev, f)
	return dev, f
}

func randomElements(f goldilocks.Field, n int) []goldilocks.Element {
	vs := make([]goldilocks.Element, n)
	for i := range vs {
		vs[i] = f.Rand()
	}
	return vs
}

func newTransformer(t *testing.T, dev *sim.Device, f goldilocks.Field, n int, offset goldilocks.Element) *Transformer[goldilocks.Element] {
	t.Helper()
	d, err := NewCosetEvaluationDomain[goldilocks.Element](f, n, offset)
	if err != nil {
		t.Fatalf("NewCosetEvaluationDomain(%d): %v", n, err)
	}
	tr, err := NewTransformer(dev, d)
	if err != nil {
		t.Fatalf("NewTransformer(%d): %v", n, err)
	}
	return tr
}

func TestForwardInverseRoundTrip(t *testing.T) {
	dev, f := newSimDevice()
	cases := []struct {
		name   string
		n      int
		offset goldilocks.Element
	}{
		{"n=2048", 2048, f.One()},
		{"n=4096", 4096, f.One()},
		{"n=8192", 8192, f.One()},
		{"n=65536", 65536, f.One()},
		{"n=2048 coset", 2048, f.FromUint64(7)},
		{"n=4096 coset", 4096, f.FromUint64(7)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTransformer(t, dev, f, tc.n, tc.offset)
			want := randomElements(f, tc.n)
			got := make([]goldilocks.Element, tc.n)
			copy(got, want)

			ctx := context.Background()
			if err := tr.Forward(ctx, got); err != nil {
				t.Fatalf("Forward: %v", err)
			}
			if err := tr.Inverse(ctx, got); err != nil {
				t.Fatalf("Inverse: %v", err)
			}
			for i := range want {
				if !f.Equal(got[i], want[i]) {
					t.Fatalf("element %d: got %v, want %v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestForwardImpulse(t *testing.T) {
	dev, f := newSimDevice()
	const n = 2048
	tr := newTransformer(t, dev, f, n, f.One())

	values := make([]goldilocks.Element, n)
	values[0] = f.One()
	if err := tr.Forward(context.Background(), values); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range values {
		if !f.IsOne(values[i]) {
			t.Fatalf("element %d: got %v, want one", i, values[i])
		}
	}
}

// naiveEvaluate computes the length-n DFT directly from the definition:
// out[j] = sum_i coeffs[i] * point_j^i with point_j = offset * g^j.
func naiveEvaluate(f goldilocks.Field, d *EvaluationDomain[goldilocks.Element], coeffs []goldilocks.Element) []goldilocks.Element {
	points := d.Elements()
	out := make([]goldilocks.Element, len(coeffs))
	for j, x := range points {
		acc := f.Zero()
		pow := f.One()
		for _, c := range coeffs {
			acc = f.Add(acc, f.Mul(c, pow))
			pow = f.Mul(pow, x)
		}
		out[j] = acc
	}
	return out
}

func TestForwardMatchesNaiveEvaluation(t *testing.T) {
	if testing.Short() {
		t.Skip("quadratic reference evaluation")
	}
	dev, f := newSimDevice()
	const n = 4096
	for _, offset := range []goldilocks.Element{f.One(), f.FromUint64(7)} {
		tr := newTransformer(t, dev, f, n, offset)
		coeffs := randomElements(f, n)
		want := naiveEvaluate(f, tr.Domain(), coeffs)

		got := make([]goldilocks.Element, n)
		copy(got, coeffs)
		if err := tr.Forward(context.Background(), got); err != nil {
			t.Fatalf("Forward: %v", err)
		}
		for i := range want {
			if !f.Equal(got[i], want[i]) {
				t.Fatalf("offset %v, element %d: got %v, want %v", offset, i, got[i], want[i])
			}
		}
	}
}

func TestDispatchLadder(t *testing.T) {
	dev, f := newSimDevice()
	const n = 8192 // 2^13
	tr := newTransformer(t, dev, f, n, f.One())

	values := randomElements(f, n)
	if err := tr.Forward(context.Background(), values); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	trace := dev.Trace()
	wantKernels := []string{
		"bit_reverse_goldilocks",
		"fft_multiple_goldilocks",
		"fft_single_goldilocks",
		"fft_single_goldilocks",
	}
	if len(trace) != len(wantKernels) {
		t.Fatalf("forward dispatch count: got %d, want %d", len(trace), len(wantKernels))
	}
	for i, want := range wantKernels {
		if trace[i].Kernel != want {
			t.Errorf("dispatch %d: got %s, want %s", i, trace[i].Kernel, want)
		}
	}
	// The fused stage starts at stride 1; the singles double from 2048.
	if got := trace[1].Constants.Param; got != 1 {
		t.Errorf("fused stage box count: got %d, want 1", got)
	}
	if got := trace[2].Constants.Param; got != 2048 {
		t.Errorf("first single stage box count: got %d, want 2048", got)
	}
	if got := trace[3].Constants.Param; got != 4096 {
		t.Errorf("second single stage box count: got %d, want 4096", got)
	}

	dev.ResetTrace()
	if err := tr.Inverse(context.Background(), values); err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	trace = dev.Trace()
	if len(trace) != len(wantKernels)+1 {
		t.Fatalf("inverse dispatch count: got %d, want %d", len(trace), len(wantKernels)+1)
	}
	if got := trace[len(trace)-1].Kernel; got != "mul_assign_goldilocks" {
		t.Errorf("inverse final dispatch: got %s, want mul_assign_goldilocks", got)
	}
}

func TestCosetForwardPrependsScale(t *testing.T) {
	dev, f := newSimDevice()
	const n = 2048
	tr := newTransformer(t, dev, f, n, f.FromUint64(7))

	values := randomElements(f, n)
	if err := tr.Forward(context.Background(), values); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	trace := dev.Trace()
	if len(trace) == 0 || trace[0].Kernel != "mul_assign_goldilocks" {
		t.Fatalf("coset forward must start with the offset scale pass, trace %+v", trace)
	}
}

func TestSizeMismatch(t *testing.T) {
	dev, f := newSimDevice()
	tr := newTransformer(t, dev, f, 2048, f.One())
	err := tr.Forward(context.Background(), make([]goldilocks.Element, 100))
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("Forward with short slice: got %v, want ErrSizeMismatch", err)
	}
}
