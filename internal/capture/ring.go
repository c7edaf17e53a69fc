// Package capture implements the producer side: the device buffer ring
// and the frame capture loop.
package capture

import (
	"errors"
	"fmt"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/device"
	"firestige.xyz/iris/internal/log"
)

// BufferState tracks where a ring buffer currently lives.
type BufferState int

const (
	// StateQueued: the buffer is in the device fill queue.
	StateQueued BufferState = iota
	// StateHeld: the buffer is withdrawn and owned by the capture loop
	// (filled, or in flight to the transmitter).
	StateHeld
)

// Buffer is one device-mapped buffer. Data references driver memory and
// is never copied; Used is the device-reported fill length from the most
// recent acquire.
type Buffer struct {
	Index uint32
	Data  []byte
	Used  uint32
}

// Ring owns a fixed set of device-mapped buffers and their states. Every
// buffer is either queued to the device or held by the capture loop; the
// total count never changes over the ring's lifetime. The ring is owned
// by a single goroutine and is not safe for concurrent use.
type Ring struct {
	dev    device.Device
	bufs   []*Buffer
	states []BufferState
	closed bool
	logger log.Logger
}

// NewRing negotiates count buffers with the device, maps each one and
// queues it for filling. Any allocation or mapping failure is fatal to
// the producer; the caller aborts.
func NewRing(dev device.Device, count uint32) (*Ring, error) {
	descs, err := dev.RequestBuffers(count)
	if err != nil {
		return nil, fmt.Errorf("request buffers: %w", err)
	}

	r := &Ring{
		dev:    dev,
		bufs:   make([]*Buffer, 0, len(descs)),
		states: make([]BufferState, len(descs)),
		logger: log.GetLogger().WithField("component", "ring"),
	}
	for _, desc := range descs {
		region, err := dev.MapBuffer(desc)
		if err != nil {
			r.unmapAll()
			return nil, fmt.Errorf("map buffer %d: %w", desc.Index, err)
		}
		r.bufs = append(r.bufs, &Buffer{Index: desc.Index, Data: region})
	}
	for _, b := range r.bufs {
		if err := dev.EnqueueEmpty(b.Index); err != nil {
			r.unmapAll()
			return nil, fmt.Errorf("initial enqueue of buffer %d: %w", b.Index, err)
		}
	}

	r.logger.WithField("count", len(r.bufs)).Info("buffer ring initialized")
	return r, nil
}

// Acquire withdraws the next filled buffer. core.ErrNotReady means no
// buffer is filled yet and is not a failure; any other device error is
// fatal to the producer.
func (r *Ring) Acquire() (*Buffer, error) {
	if r.closed {
		return nil, core.ErrRingClosed
	}
	index, used, err := r.dev.DequeueFilled()
	if err != nil {
		if errors.Is(err, core.ErrNotReady) {
			return nil, core.ErrNotReady
		}
		return nil, fmt.Errorf("dequeue filled buffer: %w", err)
	}
	if int(index) >= len(r.bufs) {
		return nil, fmt.Errorf("%w: device returned unknown index %d", core.ErrBufferState, index)
	}
	if r.states[index] != StateQueued {
		return nil, fmt.Errorf("%w: buffer %d dequeued twice", core.ErrBufferState, index)
	}
	r.states[index] = StateHeld
	buf := r.bufs[index]
	buf.Used = used
	return buf, nil
}

// Release returns a held buffer to the device fill queue. The buffer's
// content has already been consumed, so a requeue failure is logged and
// the buffer stays out of rotation instead of aborting the run.
func (r *Ring) Release(b *Buffer) {
	if r.closed || int(b.Index) >= len(r.states) {
		return
	}
	if r.states[b.Index] != StateHeld {
		r.logger.WithField("index", b.Index).Warn("release of a buffer that was not held")
		return
	}
	if err := r.dev.EnqueueEmpty(b.Index); err != nil {
		r.logger.WithError(err).WithField("index", b.Index).Error("buffer requeue failed, ring capacity reduced")
		return
	}
	r.states[b.Index] = StateQueued
}

// Len returns the buffer count granted by the device.
func (r *Ring) Len() int {
	return len(r.bufs)
}

// States returns a snapshot of all buffer states.
func (r *Ring) States() []BufferState {
	out := make([]BufferState, len(r.states))
	copy(out, r.states)
	return out
}

// Close unmaps all buffers. The ring is unusable afterwards.
func (r *Ring) Close() error {
	if r.closed {
		return core.ErrRingClosed
	}
	r.closed = true
	r.unmapAll()
	return nil
}

func (r *Ring) unmapAll() {
	for _, b := range r.bufs {
		if b.Data == nil {
			continue
		}
		if err := r.dev.UnmapBuffer(b.Data); err != nil {
			r.logger.WithError(err).WithField("index", b.Index).Warn("unmap failed")
		}
		b.Data = nil
	}
}
