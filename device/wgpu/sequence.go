package wgpu

import (
	"context"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/ntt/device"
)

// CommandSequence buffers dispatch descriptors and turns them into one
// command buffer at submit time: one compute pass per dispatch, encoded in
// order into a single encoder, submitted with a fence.
//
// The HAL surfaces completion only through fence waits, so Submit and
// SubmitAndWait both block until the GPU finishes; transient bind groups
// and uniform buffers are released before either returns.
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

// Submit encodes and runs the sequence, waiting up to the fence timeout.
func (s *CommandSequence) Submit() error {
	return s.run(fenceTimeout)
}

// SubmitAndWait encodes and runs the sequence, bounding the wait by the
// context deadline when one is set.
func (s *CommandSequence) SubmitAndWait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := fenceTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	return s.run(timeout)
}

// transientResources tracks per-submit GPU objects for cleanup.
type transientResources struct {
	device     hal.Device
	bindGroups []hal.BindGroup
	paramsBufs []hal.Buffer
	cmdBuf     hal.CommandBuffer
	fence      hal.Fence
}

func (r *transientResources) cleanup() {
	if r.fence != nil {
		r.device.DestroyFence(r.fence)
	}
	if r.cmdBuf != nil {
		r.device.FreeCommandBuffer(r.cmdBuf)
	}
	for _, g := range r.bindGroups {
		r.device.DestroyBindGroup(g)
	}
	for _, b := range r.paramsBufs {
		r.device.DestroyBuffer(b)
	}
}

func (s *CommandSequence) run(timeout time.Duration) error {
	if s.submitted {
		return fmt.Errorf("wgpu: command sequence %q already submitted", s.label)
	}
	s.submitted = true

	res := &transientResources{device: s.dev.device}
	defer res.cleanup()

	encoder, err := s.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: s.label})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(s.label); err != nil {
		return fmt.Errorf("wgpu: begin encoding %q: %w", s.label, err)
	}

	for i, d := range s.dispatches {
		if err := s.encodeDispatch(encoder, res, i, d); err != nil {
			encoder.DiscardEncoding()
			return err
		}
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding %q: %w", s.label, err)
	}
	res.cmdBuf = cmdBuf

	fence, err := s.dev.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	res.fence = fence

	if err := s.dev.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit %q: %w", s.label, err)
	}
	ok, err := s.dev.device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("wgpu: wait for %q: %w", s.label, err)
	}
	if !ok {
		return fmt.Errorf("wgpu: %q timed out after %v", s.label, timeout)
	}
	return nil
}

// encodeDispatch encodes one dispatch as its own compute pass. The pass
// boundary makes the dispatch's storage writes visible to the next pass,
// which is the barrier the dispatch descriptor asks for.
func (s *CommandSequence) encodeDispatch(encoder hal.CommandEncoder, res *transientResources, index int, d device.Dispatch) error {
	p, ok := d.Pipeline.(*Pipeline)
	if !ok {
		return fmt.Errorf("wgpu: dispatch %d of %q: foreign pipeline type %T", index, s.label, d.Pipeline)
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(d.Buffers)+1)
	for slot, b := range d.Buffers {
		wb, ok := b.(*Buffer)
		if !ok {
			return fmt.Errorf("wgpu: dispatch %d of %q: foreign buffer type %T", index, s.label, b)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: uint32(slot),
			Resource: gputypes.BufferBinding{
				Buffer: wb.buf.NativeHandle(),
				Offset: 0,
				Size:   uint64(wb.size),
			},
		})
	}

	if p.paramsSize > 0 {
		params := make([]byte, p.paramsSize)
		copy(params, d.Params)
		ub, err := s.dev.device.CreateBuffer(&hal.BufferDescriptor{
			Label: p.kernel + "_params",
			Size:  uint64(len(params)),
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("wgpu: dispatch %d of %q: create params buffer: %w", index, s.label, err)
		}
		res.paramsBufs = append(res.paramsBufs, ub)
		s.dev.queue.WriteBuffer(ub, 0, params)
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: uint32(len(d.Buffers)),
			Resource: gputypes.BufferBinding{
				Buffer: ub.NativeHandle(),
				Offset: 0,
				Size:   uint64(len(params)),
			},
		})
	}

	bg, err := s.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s_bg_%d", s.label, index),
		Layout:  p.bgLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: dispatch %d of %q: create bind group: %w", index, s.label, err)
	}
	res.bindGroups = append(res.bindGroups, bg)

	lanes := d.Threadgroup.Width
	if lanes == 0 {
		lanes = 1
	}
	workgroups := (d.Grid.Width + lanes - 1) / lanes
	wgX, wgY := splitWorkgroups(workgroups)

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{
		Label: fmt.Sprintf("%s_%s", s.label, p.kernel),
	})
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(wgX, wgY, 1)
	pass.End()
	return nil
}

// maxWorkgroupsPerDimension is WebGPU's guaranteed per-dimension dispatch
// limit. The largest supported transform (n = 2^30) needs 2^20 workgroups,
// which no single dimension can hold.
const maxWorkgroupsPerDimension = 65535

// splitWorkgroups factors a linear workgroup count into X and Y dispatch
// dimensions within the per-dimension limit. The kernels rebuild the
// linear group index from workgroup_id and num_workgroups and bounds-check
// against the grid, so x*y may overshoot count.
func splitWorkgroups(count uint32) (x, y uint32) {
	if count == 0 {
		return 1, 1
	}
	if count <= maxWorkgroupsPerDimension {
		return count, 1
	}
	y = (count + maxWorkgroupsPerDimension - 1) / maxWorkgroupsPerDimension
	x = (count + y - 1) / y
	return x, y
}
