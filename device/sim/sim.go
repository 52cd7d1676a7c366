// Package sim is a host-side compute device that executes registered Go
// reference kernels sequentially. It exists so the engine's dispatch plans
// run under go test exactly as they are encoded for real hardware, and it
// mirrors the WGSL kernels closely enough that any divergence between the
// two backends is a bug in one of them.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/ntt/device"
)

// Invocation carries everything one kernel execution can see: the baked
// specialization constants, the inline dispatch params, the bound buffers
// in binding order, and the dispatch geometry.
type Invocation struct {
	Constants device.Constants
	Params    []byte
	Buffers   [][]byte
	Grid      device.GridSize
}

// Kernel executes one dispatch over the invocation's buffers. Kernels run
// on the calling goroutine; a sequential loop over thread indices stands in
// for the GPU grid.
type Kernel func(inv Invocation)

// Trace records one executed dispatch for orchestration tests.
type Trace struct {
	Kernel    string
	Constants device.Constants
	Grid      device.GridSize
}

// Device is the simulator. Construct with NewDevice, register kernels on
// its Library, then use it wherever a device.Device is expected.
type Device struct {
	lib *Library

	mu    sync.Mutex
	trace []Trace
}

var _ device.Device = (*Device)(nil)

// NewDevice returns a simulator with an empty kernel library.
func NewDevice() *Device {
	return &Device{lib: &Library{kernels: make(map[string]Kernel)}}
}

// Library returns the device's kernel library for registration and lookup.
func (d *Device) Library() device.Library { return d.lib }

// Register adds a kernel implementation under name, replacing any previous
// registration.
func (d *Device) Register(name string, k Kernel) { d.lib.register(name, k) }

// Trace returns a copy of every dispatch executed since the last reset, in
// execution order.
func (d *Device) Trace() []Trace {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Trace, len(d.trace))
	copy(out, d.trace)
	return out
}

// ResetTrace clears the recorded dispatch history.
func (d *Device) ResetTrace() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace = d.trace[:0]
}

func (d *Device) record(t Trace) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace = append(d.trace, t)
}

// NewBuffer allocates a zeroed host buffer.
func (d *Device) NewBuffer(size int) (device.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("sim: negative buffer size %d", size)
	}
	return &Buffer{data: make([]byte, size)}, nil
}

// NewBufferFrom allocates a buffer holding a copy of data.
func (d *Device) NewBufferFrom(data []byte) (device.Buffer, error) {
	b := &Buffer{data: make([]byte, len(data))}
	copy(b.data, data)
	return b, nil
}

// ReadBuffer copies buffer contents into dst.
func (d *Device) ReadBuffer(b device.Buffer, dst []byte) error {
	sb, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("sim: foreign buffer type %T", b)
	}
	if len(dst) > len(sb.data) {
		return fmt.Errorf("sim: read of %d bytes exceeds buffer size %d", len(dst), len(sb.data))
	}
	copy(dst, sb.data)
	return nil
}

// NewCommandSequence opens an empty command sequence.
func (d *Device) NewCommandSequence(label string) device.CommandSequence {
	return &CommandSequence{dev: d, label: label}
}

// Buffer is a host-memory buffer.
type Buffer struct {
	data []byte
}

func (b *Buffer) Size() int { return len(b.data) }

// Library holds the registered reference kernels.
type Library struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

var _ device.Library = (*Library)(nil)

func (l *Library) register(name string, k Kernel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kernels[name] = k
}

// Kernels lists the registered kernel names, sorted.
func (l *Library) Kernels() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.kernels))
	for name := range l.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPipeline resolves a registered kernel. The simulator accepts any
// constants; validation of constant values belongs to the stages.
func (l *Library) NewPipeline(kernel string, c device.Constants) (device.Pipeline, error) {
	l.mu.RLock()
	fn, ok := l.kernels[kernel]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", device.ErrUnknownKernel, kernel)
	}
	return &Pipeline{kernel: kernel, consts: c, fn: fn}, nil
}

// Pipeline is a registered kernel bound to specialization constants.
type Pipeline struct {
	kernel string
	consts device.Constants
	fn     Kernel
}

func (p *Pipeline) Kernel() string              { return p.kernel }
func (p *Pipeline) Constants() device.Constants { return p.consts }

// CommandSequence buffers dispatches and executes them on Submit. The
// host runs dispatches one after another, so the barrier ordering real
// hardware needs holds trivially.
type CommandSequence struct {
	dev        *Device
	label      string
	dispatches []device.Dispatch
	submitted  bool
}

var _ device.CommandSequence = (*CommandSequence)(nil)

// Encode appends one dispatch.
func (s *CommandSequence) Encode(d device.Dispatch) {
	s.dispatches = append(s.dispatches, d)
}

// Submit executes every encoded dispatch in order.
func (s *CommandSequence) Submit() error {
	if s.submitted {
		return fmt.Errorf("sim: command sequence %q already submitted", s.label)
	}
	s.submitted = true
	for i, d := range s.dispatches {
		p, ok := d.Pipeline.(*Pipeline)
		if !ok {
			return fmt.Errorf("sim: dispatch %d of %q: foreign pipeline type %T", i, s.label, d.Pipeline)
		}
		bufs := make([][]byte, len(d.Buffers))
		for j, b := range d.Buffers {
			sb, ok := b.(*Buffer)
			if !ok {
				return fmt.Errorf("sim: dispatch %d of %q: foreign buffer type %T", i, s.label, b)
			}
			bufs[j] = sb.data
		}
		p.fn(Invocation{
			Constants: p.consts,
			Params:    d.Params,
			Buffers:   bufs,
			Grid:      d.Grid,
		})
		s.dev.record(Trace{Kernel: p.kernel, Constants: p.consts, Grid: d.Grid})
	}
	return nil
}

// SubmitAndWait executes the sequence; host execution completes before
// returning, so only ctx cancellation ahead of time can interrupt it.
func (s *CommandSequence) SubmitAndWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Submit()
}
