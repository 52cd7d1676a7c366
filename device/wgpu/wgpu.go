// Package wgpu implements the transform device on the gogpu WebGPU HAL.
//
// Pipelines compile lazily through naga and are cached by kernel name and
// specialization constants, so a Transformer's construction pays the
// compile cost once and every later encode reuses the compiled pipeline.
// Each dispatch runs in its own compute pass; WebGPU pass boundaries give
// the storage-buffer write visibility the dispatch barriers require.
package wgpu

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/ntt/device"
)

// fenceTimeout bounds every GPU wait. A transform that has not completed
// within it indicates a hung device, not a slow one.
const fenceTimeout = 5 * time.Second

// Device drives transforms on a HAL device/queue pair.
type Device struct {
	device hal.Device
	queue  hal.Queue
	lib    *Library
}

var _ device.Device = (*Device)(nil)

// New wraps a HAL device and queue with the goldilocks kernel registry.
func New(dev hal.Device, queue hal.Queue) *Device {
	return &Device{
		device: dev,
		queue:  queue,
		lib: &Library{
			device:  dev,
			sources: goldilocksKernels(),
			cache:   make(map[cacheKey]*Pipeline),
		},
	}
}

// Library returns the device's kernel library.
func (d *Device) Library() device.Library { return d.lib }

// NewBuffer allocates a zeroed storage buffer.
func (d *Device) NewBuffer(size int) (device.Buffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "ntt_storage",
		Size:  uint64(size),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	d.queue.WriteBuffer(buf, 0, make([]byte, size))
	return &Buffer{buf: buf, size: size}, nil
}

// NewBufferFrom allocates a storage buffer and stages data into it.
func (d *Device) NewBufferFrom(data []byte) (device.Buffer, error) {
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "ntt_storage",
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	d.queue.WriteBuffer(buf, 0, data)
	return &Buffer{buf: buf, size: len(data)}, nil
}

// DestroyBuffer releases a buffer created by this device.
func (d *Device) DestroyBuffer(b device.Buffer) {
	if wb, ok := b.(*Buffer); ok {
		d.device.DestroyBuffer(wb.buf)
	}
}

// ReadBuffer copies the buffer through a staging buffer and blocks until
// the data is on the host.
func (d *Device) ReadBuffer(b device.Buffer, dst []byte) error {
	wb, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("wgpu: foreign buffer type %T", b)
	}
	if len(dst) > wb.size {
		return fmt.Errorf("wgpu: read of %d bytes exceeds buffer size %d", len(dst), wb.size)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "ntt_staging",
		Size:  uint64(len(dst)),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "ntt_readback"})
	if err != nil {
		return fmt.Errorf("wgpu: create readback encoder: %w", err)
	}
	if err := encoder.BeginEncoding("ntt_readback"); err != nil {
		return fmt.Errorf("wgpu: begin readback encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(wb.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: uint64(len(dst))},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end readback encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmdBuf)

	fence, err := d.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create readback fence: %w", err)
	}
	defer d.device.DestroyFence(fence)

	if err := d.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit readback: %w", err)
	}
	ok, err = d.device.Wait(fence, 1, fenceTimeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait for readback: %w", err)
	}
	if !ok {
		return fmt.Errorf("wgpu: readback timed out after %v", fenceTimeout)
	}
	if err := d.queue.ReadBuffer(staging, 0, dst); err != nil {
		return fmt.Errorf("wgpu: read staging buffer: %w", err)
	}
	return nil
}

// NewCommandSequence opens an empty labeled command sequence.
func (d *Device) NewCommandSequence(label string) device.CommandSequence {
	return &CommandSequence{dev: d, label: label}
}

// Close releases every cached pipeline. Buffers are owned by their
// creators and must be destroyed separately.
func (d *Device) Close() {
	d.lib.destroyAll()
}

// Buffer is a device storage buffer.
type Buffer struct {
	buf  hal.Buffer
	size int
}

func (b *Buffer) Size() int { return b.size }

type cacheKey struct {
	kernel string
	consts device.Constants
}

// Library compiles and caches specialized compute pipelines.
type Library struct {
	device  hal.Device
	sources map[string]kernelSource

	mu    sync.Mutex
	cache map[cacheKey]*Pipeline
}

var _ device.Library = (*Library)(nil)

// Kernels lists the registered kernel names, sorted.
func (l *Library) Kernels() []string {
	names := make([]string, 0, len(l.sources))
	for name := range l.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPipeline compiles the named kernel specialized with c, or returns the
// cached pipeline for the same key.
func (l *Library) NewPipeline(kernel string, c device.Constants) (device.Pipeline, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := cacheKey{kernel: kernel, consts: c}
	if p, ok := l.cache[key]; ok {
		return p, nil
	}
	src, ok := l.sources[kernel]
	if !ok {
		return nil, fmt.Errorf("%w: %q", device.ErrUnknownKernel, kernel)
	}

	spirv, err := compileToSPIRV(composeSource(src, c))
	if err != nil {
		return nil, fmt.Errorf("wgpu: %s: %w", kernel, err)
	}
	module, err := l.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  kernel,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %s: %w", kernel, err)
	}

	entries := make([]gputypes.BindGroupLayoutEntry, len(src.bindings))
	for i, kind := range src.bindings {
		entry := gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: gputypes.ShaderStageCompute,
		}
		switch kind {
		case bindingStorage:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
		case bindingReadOnly:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}
		case bindingUniform:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		}
		entries[i] = entry
	}
	bgLayout, err := l.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   kernel + "_bgl",
		Entries: entries,
	})
	if err != nil {
		l.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("wgpu: create bind group layout %s: %w", kernel, err)
	}
	pipelineLayout, err := l.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            kernel + "_pl",
		BindGroupLayouts: []hal.BindGroupLayout{bgLayout},
	})
	if err != nil {
		l.device.DestroyBindGroupLayout(bgLayout)
		l.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("wgpu: create pipeline layout %s: %w", kernel, err)
	}
	pipeline, err := l.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  kernel,
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		l.device.DestroyPipelineLayout(pipelineLayout)
		l.device.DestroyBindGroupLayout(bgLayout)
		l.device.DestroyShaderModule(module)
		return nil, fmt.Errorf("wgpu: create compute pipeline %s: %w", kernel, err)
	}

	p := &Pipeline{
		kernel:     kernel,
		consts:     c,
		paramsSize: src.paramsSize,
		module:     module,
		bgLayout:   bgLayout,
		layout:     pipelineLayout,
		pipeline:   pipeline,
	}
	l.cache[key] = p
	return p, nil
}

func (l *Library) destroyAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, p := range l.cache {
		l.device.DestroyComputePipeline(p.pipeline)
		l.device.DestroyPipelineLayout(p.layout)
		l.device.DestroyBindGroupLayout(p.bgLayout)
		l.device.DestroyShaderModule(p.module)
		delete(l.cache, key)
	}
}

// Pipeline is one compiled, specialized compute kernel.
type Pipeline struct {
	kernel     string
	consts     device.Constants
	paramsSize int

	module   hal.ShaderModule
	bgLayout hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (p *Pipeline) Kernel() string              { return p.kernel }
func (p *Pipeline) Constants() device.Constants { return p.consts }
