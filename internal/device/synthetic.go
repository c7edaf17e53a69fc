package device

import (
	"fmt"
	"time"

	"firestige.xyz/iris/internal/core"
)

func init() {
	Register(SourceSynthetic, func(opts Options) (Device, error) {
		return newSynthetic(opts)
	})
}

// syntheticOptions tunes the generated stream.
type syntheticOptions struct {
	FrameBytes int           `mapstructure:"frame_bytes"`
	Interval   time.Duration `mapstructure:"interval"`
}

// synthetic produces deterministic frames on a fixed cadence. It exists
// for tests and for machines without capture hardware, and exercises the
// same buffer lifecycle as the real device: buffers must be enqueued
// before they fill, and each fill must be dequeued before the next.
type synthetic struct {
	opts      syntheticOptions
	bufs      [][]byte
	queue     []uint32 // FIFO of empty buffer indexes
	streaming bool
	closed    bool
	nextAt    time.Time
	seq       uint32
}

func newSynthetic(opts Options) (*synthetic, error) {
	so := syntheticOptions{
		FrameBytes: 64 << 10,
		Interval:   33 * time.Millisecond,
	}
	if err := decodeExtra(opts.Extra, &so); err != nil {
		return nil, err
	}
	if so.FrameBytes <= 0 {
		return nil, fmt.Errorf("synthetic frame_bytes must be positive")
	}
	return &synthetic{opts: so}, nil
}

func (s *synthetic) NegotiateFormat(width, height uint32, format PixelFormat) error {
	if s.closed {
		return core.ErrDeviceClosed
	}
	return nil
}

func (s *synthetic) RequestBuffers(count uint32) ([]BufferDescriptor, error) {
	if s.closed {
		return nil, core.ErrDeviceClosed
	}
	if count == 0 {
		return nil, fmt.Errorf("buffer count must be positive")
	}
	s.bufs = make([][]byte, count)
	descs := make([]BufferDescriptor, count)
	for i := uint32(0); i < count; i++ {
		s.bufs[i] = make([]byte, s.opts.FrameBytes)
		descs[i] = BufferDescriptor{Index: i, Length: uint32(s.opts.FrameBytes)}
	}
	return descs, nil
}

func (s *synthetic) MapBuffer(desc BufferDescriptor) ([]byte, error) {
	if int(desc.Index) >= len(s.bufs) {
		return nil, fmt.Errorf("buffer index %d out of range", desc.Index)
	}
	return s.bufs[desc.Index], nil
}

func (s *synthetic) UnmapBuffer(region []byte) error {
	return nil
}

func (s *synthetic) EnqueueEmpty(index uint32) error {
	if s.closed {
		return core.ErrDeviceClosed
	}
	if int(index) >= len(s.bufs) {
		return fmt.Errorf("buffer index %d out of range", index)
	}
	s.queue = append(s.queue, index)
	return nil
}

func (s *synthetic) DequeueFilled() (uint32, uint32, error) {
	if s.closed {
		return 0, 0, core.ErrDeviceClosed
	}
	if !s.streaming || len(s.queue) == 0 || time.Now().Before(s.nextAt) {
		return 0, 0, core.ErrNotReady
	}

	index := s.queue[0]
	s.queue = s.queue[1:]
	s.fill(index)
	used := s.usedLength()
	s.seq++
	s.nextAt = time.Now().Add(s.opts.Interval)
	return index, used, nil
}

func (s *synthetic) WaitReadiness(timeout time.Duration) (bool, error) {
	if s.closed {
		return false, core.ErrDeviceClosed
	}
	if !s.streaming || len(s.queue) == 0 {
		time.Sleep(timeout)
		return false, nil
	}
	wait := time.Until(s.nextAt)
	if wait <= 0 {
		return true, nil
	}
	if wait > timeout {
		time.Sleep(timeout)
		return false, nil
	}
	time.Sleep(wait)
	return true, nil
}

func (s *synthetic) StartStreaming() error {
	if s.closed {
		return core.ErrDeviceClosed
	}
	s.streaming = true
	s.nextAt = time.Now()
	return nil
}

func (s *synthetic) StopStreaming() error {
	s.streaming = false
	return nil
}

func (s *synthetic) Close() error {
	if s.closed {
		return core.ErrDeviceClosed
	}
	s.closed = true
	s.streaming = false
	return nil
}

// fill writes a deterministic per-frame pattern so tests can verify the
// exact bytes end to end.
func (s *synthetic) fill(index uint32) {
	data := s.bufs[index]
	for i := range data {
		data[i] = byte(uint32(i) + s.seq)
	}
}

// usedLength varies per frame so the used-length propagation (as opposed
// to full buffer length) is observable downstream.
func (s *synthetic) usedLength() uint32 {
	max := uint32(s.opts.FrameBytes)
	used := max - (s.seq%7)*(max/16)
	if used == 0 || used > max {
		used = max
	}
	return used
}

// FrameBytesAt reproduces the pattern DequeueFilled wrote for frame seq.
// Test helper.
func FrameBytesAt(seq uint32, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(uint32(i) + seq)
	}
	return data
}
