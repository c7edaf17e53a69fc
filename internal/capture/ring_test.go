package capture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/device"
)

// fakeDevice is a scripted device collaborator. Buffers fill in FIFO
// order of their enqueue; each fill writes a per-sequence pattern and
// reports a distinct used length.
type fakeDevice struct {
	bufs      [][]byte
	queue     []uint32
	seq       uint32
	streaming bool

	readyScript   []bool // consumed per WaitReadiness call, then always ready
	notReadyOnce  bool
	dequeueErr    error
	enqueueErr    error // applied after initialization
	initComplete  bool
	enqueueCalls  int
	unmappedCount int
}

func newFakeDevice(count, size int) *fakeDevice {
	d := &fakeDevice{bufs: make([][]byte, 0, count)}
	for i := 0; i < count; i++ {
		d.bufs = append(d.bufs, make([]byte, size))
	}
	return d
}

func (d *fakeDevice) NegotiateFormat(w, h uint32, f device.PixelFormat) error { return nil }

func (d *fakeDevice) RequestBuffers(count uint32) ([]device.BufferDescriptor, error) {
	descs := make([]device.BufferDescriptor, len(d.bufs))
	for i := range d.bufs {
		descs[i] = device.BufferDescriptor{Index: uint32(i), Length: uint32(len(d.bufs[i]))}
	}
	return descs, nil
}

func (d *fakeDevice) MapBuffer(desc device.BufferDescriptor) ([]byte, error) {
	return d.bufs[desc.Index], nil
}

func (d *fakeDevice) UnmapBuffer(region []byte) error {
	d.unmappedCount++
	return nil
}

func (d *fakeDevice) EnqueueEmpty(index uint32) error {
	if d.initComplete && d.enqueueErr != nil {
		return d.enqueueErr
	}
	d.enqueueCalls++
	d.queue = append(d.queue, index)
	return nil
}

func (d *fakeDevice) DequeueFilled() (uint32, uint32, error) {
	if d.dequeueErr != nil {
		return 0, 0, d.dequeueErr
	}
	if d.notReadyOnce {
		d.notReadyOnce = false
		return 0, 0, core.ErrNotReady
	}
	if len(d.queue) == 0 {
		return 0, 0, core.ErrNotReady
	}
	index := d.queue[0]
	d.queue = d.queue[1:]

	data := d.bufs[index]
	for i := range data {
		data[i] = byte(d.seq)
	}
	used := d.fillLength(d.seq, uint32(len(data)))
	d.seq++
	return index, used, nil
}

func (d *fakeDevice) fillLength(seq, max uint32) uint32 {
	used := max - (seq%4)*8
	if used == 0 || used > max {
		used = max
	}
	return used
}

func (d *fakeDevice) WaitReadiness(timeout time.Duration) (bool, error) {
	if len(d.readyScript) > 0 {
		ready := d.readyScript[0]
		d.readyScript = d.readyScript[1:]
		return ready, nil
	}
	return true, nil
}

func (d *fakeDevice) StartStreaming() error { d.streaming = true; return nil }
func (d *fakeDevice) StopStreaming() error  { d.streaming = false; return nil }
func (d *fakeDevice) Close() error          { return nil }

func newTestRing(t *testing.T, dev *fakeDevice, count uint32) *Ring {
	t.Helper()
	ring, err := NewRing(dev, count)
	require.NoError(t, err)
	dev.initComplete = true
	return ring
}

func allQueued(ring *Ring) bool {
	for _, s := range ring.States() {
		if s != StateQueued {
			return false
		}
	}
	return true
}

func TestNewRingQueuesEveryBuffer(t *testing.T) {
	dev := newFakeDevice(4, 128)
	ring := newTestRing(t, dev, 4)
	defer ring.Close()

	assert.Equal(t, 4, ring.Len())
	assert.True(t, allQueued(ring))
	assert.Equal(t, 4, dev.enqueueCalls)
}

func TestAcquireReleaseConservesState(t *testing.T) {
	dev := newFakeDevice(4, 128)
	dev.streaming = true
	ring := newTestRing(t, dev, 4)
	defer ring.Close()

	// Any number of successful acquire/release pairs returns the ring
	// to its initial all-queued state.
	for i := 0; i < 10; i++ {
		buf, err := ring.Acquire()
		require.NoError(t, err)
		assert.Equal(t, dev.fillLength(uint32(i), 128), buf.Used)
		assert.Equal(t, byte(i), buf.Data[0])
		ring.Release(buf)
	}
	assert.True(t, allQueued(ring))
}

func TestAcquireNotReadyPassesThrough(t *testing.T) {
	dev := newFakeDevice(2, 64)
	dev.notReadyOnce = true
	ring := newTestRing(t, dev, 2)
	defer ring.Close()

	_, err := ring.Acquire()
	assert.ErrorIs(t, err, core.ErrNotReady)
	assert.True(t, allQueued(ring))
}

func TestAcquireDeviceErrorIsFatal(t *testing.T) {
	dev := newFakeDevice(2, 64)
	ring := newTestRing(t, dev, 2)
	defer ring.Close()

	dev.dequeueErr = errors.New("EIO")
	_, err := ring.Acquire()
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrNotReady)
}

func TestDoubleDequeueDetected(t *testing.T) {
	dev := newFakeDevice(2, 64)
	ring := newTestRing(t, dev, 2)
	defer ring.Close()

	// Device misbehaves and reports index 0 filled twice.
	dev.queue = []uint32{0, 0}
	_, err := ring.Acquire()
	require.NoError(t, err)
	_, err = ring.Acquire()
	assert.ErrorIs(t, err, core.ErrBufferState)
}

func TestReleaseFailureKeepsBufferOut(t *testing.T) {
	dev := newFakeDevice(2, 64)
	ring := newTestRing(t, dev, 2)
	defer ring.Close()

	buf, err := ring.Acquire()
	require.NoError(t, err)

	// Requeue failure is logged, not fatal; the buffer stays held so
	// the state table never lies about what the device owns.
	dev.enqueueErr = errors.New("EIO")
	ring.Release(buf)
	states := ring.States()
	assert.Equal(t, StateHeld, states[buf.Index])
}

func TestClosedRingRefusesAcquire(t *testing.T) {
	dev := newFakeDevice(2, 64)
	ring := newTestRing(t, dev, 2)

	require.NoError(t, ring.Close())
	assert.Equal(t, 2, dev.unmappedCount)

	_, err := ring.Acquire()
	assert.ErrorIs(t, err, core.ErrRingClosed)
	assert.ErrorIs(t, ring.Close(), core.ErrRingClosed)
}

func TestRingStatesSnapshotIsCopy(t *testing.T) {
	dev := newFakeDevice(2, 64)
	ring := newTestRing(t, dev, 2)
	defer ring.Close()

	snapshot := ring.States()
	snapshot[0] = StateHeld
	assert.True(t, allQueued(ring), "mutating the snapshot must not touch the ring")
}

var _ device.Device = (*fakeDevice)(nil)

func ExampleRing() {
	dev := newFakeDevice(1, 16)
	ring, err := NewRing(dev, 1)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer ring.Close()
	buf, _ := ring.Acquire()
	fmt.Println(len(buf.Data))
	ring.Release(buf)
	// Output: 16
}
