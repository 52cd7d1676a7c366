package ntt

import (
	"context"
	"fmt"

	"github.com/gogpu/ntt/device"
	"github.com/gogpu/ntt/field"
	"github.com/gogpu/ntt/stage"
)

// Transformer is a planned transform over one evaluation domain on one
// device. Construction resolves every pipeline, uploads both twiddle
// tables, and fixes the dispatch ladder; after that, encoding forward or
// inverse transforms cannot fail and performs no device allocation.
//
// A Transformer is safe for concurrent encoding into distinct command
// sequences.
type Transformer[F any] struct {
	dev    device.Device
	domain *EvaluationDomain[F]
	field  field.GpuField[F]

	bitReverse  *stage.BitReverse[F]
	fftMultiple *stage.FFT[F]
	fftSingles  []*stage.FFT[F]
	normalize   *stage.ScaleAndNormalize[F]
	cosetScale  *stage.ScaleAndNormalize[F]

	twiddles    device.Buffer
	twiddlesInv device.Buffer
}

// NewTransformer plans the transform for domain d on dev. It validates the
// kernel registry, builds the butterfly ladder (the fused stage covering
// strides up to the shared tile, then one single-stride stage per
// remaining doubling), and precomputes the coset and normalization factor
// sequences.
func NewTransformer[F any](dev device.Device, d *EvaluationDomain[F]) (*Transformer[F], error) {
	f := d.Field()
	lib := dev.Library()
	if err := field.ValidateKernels(lib.Kernels(), f.Name()); err != nil {
		return nil, fmt.Errorf("ntt: %w", err)
	}
	n := d.Size()

	t := &Transformer[F]{dev: dev, domain: d, field: f}

	var err error
	t.bitReverse, err = stage.NewBitReverse[F](f, lib, n)
	if err != nil {
		return nil, err
	}
	t.fftMultiple, err = stage.NewFFT[F](f, lib, n, 1, stage.VariantMultiple)
	if err != nil {
		return nil, err
	}
	for boxes := stage.TileSize; boxes < n; boxes *= 2 {
		s, err := stage.NewFFT[F](f, lib, n, boxes, stage.VariantSingle)
		if err != nil {
			return nil, err
		}
		t.fftSingles = append(t.fftSingles, s)
	}

	// Inverse side: 1/n fused with the inverse coset offset powers.
	norm := f.Inv(f.FromUint64(uint64(n)))
	t.normalize, err = stage.NewScaleAndNormalize[F](f, dev, n, f.Inv(d.Offset()), norm)
	if err != nil {
		return nil, err
	}
	if d.IsCoset() {
		t.cosetScale, err = stage.NewScaleAndNormalize[F](f, dev, n, d.Offset(), f.One())
		if err != nil {
			return nil, err
		}
	}

	t.twiddles, err = NewFieldBuffer[F](dev, f, d.Twiddles(false))
	if err != nil {
		return nil, fmt.Errorf("ntt: twiddle buffer: %w", err)
	}
	t.twiddlesInv, err = NewFieldBuffer[F](dev, f, d.Twiddles(true))
	if err != nil {
		return nil, fmt.Errorf("ntt: inverse twiddle buffer: %w", err)
	}

	slogger().Debug("transformer planned",
		"field", f.Name(),
		"size", n,
		"coset", d.IsCoset(),
		"singleStages", len(t.fftSingles))
	return t, nil
}

// Domain returns the evaluation domain the transform was planned for.
func (t *Transformer[F]) Domain() *EvaluationDomain[F] { return t.domain }

// EncodeForward appends the forward transform of buf (coefficients in,
// evaluations out, both in index order) to seq. buf must hold exactly
// Domain().Size() elements.
func (t *Transformer[F]) EncodeForward(seq device.CommandSequence, buf device.Buffer) {
	if t.cosetScale != nil {
		t.cosetScale.Encode(seq, buf)
	}
	t.encodeLadder(seq, buf, t.twiddles)
}

// EncodeInverse appends the inverse transform of buf (evaluations in,
// coefficients out) to seq: the same butterfly ladder over inverse
// twiddles, then one pass multiplying by 1/n and the inverse coset offset
// powers.
func (t *Transformer[F]) EncodeInverse(seq device.CommandSequence, buf device.Buffer) {
	t.encodeLadder(seq, buf, t.twiddlesInv)
	t.normalize.Encode(seq, buf)
}

func (t *Transformer[F]) encodeLadder(seq device.CommandSequence, buf, twiddles device.Buffer) {
	t.bitReverse.Encode(seq, buf)
	t.fftMultiple.Encode(seq, buf, twiddles)
	for _, s := range t.fftSingles {
		s.Encode(seq, buf, twiddles)
	}
}

// Forward transforms values in place: stage to the device, encode, submit,
// wait, read back.
func (t *Transformer[F]) Forward(ctx context.Context, values []F) error {
	return t.execute(ctx, values, "ntt_forward", t.EncodeForward)
}

// Inverse transforms values in place, interpolating evaluations back into
// coefficients.
func (t *Transformer[F]) Inverse(ctx context.Context, values []F) error {
	return t.execute(ctx, values, "ntt_inverse", t.EncodeInverse)
}

func (t *Transformer[F]) execute(ctx context.Context, values []F, label string, encode func(device.CommandSequence, device.Buffer)) error {
	if len(values) != t.domain.Size() {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(values), t.domain.Size())
	}
	buf, err := NewFieldBuffer[F](t.dev, t.field, values)
	if err != nil {
		return fmt.Errorf("ntt: stage values: %w", err)
	}
	seq := t.dev.NewCommandSequence(label)
	encode(seq, buf)
	if err := seq.SubmitAndWait(ctx); err != nil {
		return fmt.Errorf("ntt: %s: %w", label, err)
	}
	if err := ReadFieldBuffer[F](t.dev, t.field, buf, values); err != nil {
		return fmt.Errorf("ntt: read back: %w", err)
	}
	return nil
}

// NewFieldBuffer stages a slice of field elements into a new device buffer
// in the field's GPU layout.
func NewFieldBuffer[F any](dev device.Device, f field.GpuField[F], values []F) (device.Buffer, error) {
	return dev.NewBufferFrom(field.Marshal(f, values))
}

// ReadFieldBuffer reads len(dst) elements back from a device buffer.
func ReadFieldBuffer[F any](dev device.Device, f field.GpuField[F], buf device.Buffer, dst []F) error {
	raw := make([]byte, len(dst)*f.ElemSize())
	if err := dev.ReadBuffer(buf, raw); err != nil {
		return err
	}
	field.Unmarshal(f, raw, dst)
	return nil
}
