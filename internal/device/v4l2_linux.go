//go:build linux

package device

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"firestige.xyz/iris/internal/core"
	"firestige.xyz/iris/internal/log"
)

func init() {
	Register(SourceV4L2, func(opts Options) (Device, error) {
		return openV4L2(opts)
	})
}

// V4L2 ABI constants (64-bit linux).
const (
	bufTypeVideoCapture = 1 // V4L2_BUF_TYPE_VIDEO_CAPTURE
	memoryMmap          = 1 // V4L2_MEMORY_MMAP

	// Retries for a syscall interrupted by a signal. Interruption is
	// retried a bounded number of times, never looped on forever.
	maxEINTRRetries = 8
)

// ioctl direction bits.
const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

func iow(typ, nr, size uintptr) uintptr  { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

// Request codes are computed from the struct sizes rather than hardcoded
// so a layout mistake fails loudly (ENOTTY) instead of corrupting memory.
var (
	vidiocSFmt      = iowr('V', 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqBufs   = iowr('V', 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQueryBuf  = iowr('V', 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQBuf      = iowr('V', 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDQBuf     = iowr('V', 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn  = iow('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iow('V', 19, unsafe.Sizeof(int32(0)))
)

// struct v4l2_pix_format, 48 bytes.
type v4l2PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
	Priv         uint32
	Flags        uint32
	YcbcrEnc     uint32
	Quantization uint32
	XferFunc     uint32
}

// struct v4l2_format: type, 4 bytes padding (the fmt union is 8-byte
// aligned on 64-bit), then a 200 byte union of which pix occupies the
// first 48 bytes.
type v4l2Format struct {
	Type uint32
	_    uint32
	Pix  v4l2PixFormat
	_    [200 - unsafe.Sizeof(v4l2PixFormat{})]byte
}

// struct v4l2_requestbuffers, 20 bytes.
type v4l2RequestBuffers struct {
	Count    uint32
	Type     uint32
	Memory   uint32
	Reserved [2]uint32
}

// struct v4l2_timecode, 16 bytes.
type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

// struct v4l2_buffer, 88 bytes on 64-bit. M is the memory union; for
// MMAP buffers the low 32 bits carry the mmap offset.
type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	_         uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	M         uint64
	Length    uint32
	Reserved2 uint32
	RequestFD uint32
	_         uint32
}

// v4l2Device drives a Video4Linux2 capture device through raw ioctls.
type v4l2Device struct {
	fd     int
	path   string
	logger log.Logger
}

func openV4L2(opts Options) (*v4l2Device, error) {
	if opts.Path == "" {
		opts.Path = "/dev/video0"
	}
	// Non-blocking so DQBUF reports EAGAIN instead of stalling; readiness
	// is multiplexed through select(2) in WaitReadiness.
	fd, err := unix.Open(opts.Path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	return &v4l2Device{
		fd:     fd,
		path:   opts.Path,
		logger: log.GetLogger().WithField("device", opts.Path),
	}, nil
}

func (d *v4l2Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	for i := 0; i < maxEINTRRetries; i++ {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno != unix.EINTR {
			return errno
		}
	}
	return unix.EINTR
}

func (d *v4l2Device) NegotiateFormat(width, height uint32, format PixelFormat) error {
	f := v4l2Format{Type: bufTypeVideoCapture}
	f.Pix.Width = width
	f.Pix.Height = height
	f.Pix.PixelFormat = uint32(format)
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	// The driver may adjust the request; the adjusted values win.
	if f.Pix.Width != width || f.Pix.Height != height || f.Pix.PixelFormat != uint32(format) {
		d.logger.WithFields(map[string]interface{}{
			"width":  f.Pix.Width,
			"height": f.Pix.Height,
		}).Warn("driver adjusted the requested format")
	}
	return nil
}

func (d *v4l2Device) RequestBuffers(count uint32) ([]BufferDescriptor, error) {
	req := v4l2RequestBuffers{
		Count:  count,
		Type:   bufTypeVideoCapture,
		Memory: memoryMmap,
	}
	if err := d.ioctl(vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return nil, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	if req.Count == 0 {
		return nil, fmt.Errorf("driver granted zero buffers")
	}

	descs := make([]BufferDescriptor, 0, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		buf := v4l2Buffer{
			Index:  i,
			Type:   bufTypeVideoCapture,
			Memory: memoryMmap,
		}
		if err := d.ioctl(vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return nil, fmt.Errorf("VIDIOC_QUERYBUF index %d: %w", i, err)
		}
		descs = append(descs, BufferDescriptor{
			Index:  i,
			Length: buf.Length,
			Offset: uint32(buf.M),
		})
	}
	return descs, nil
}

func (d *v4l2Device) MapBuffer(desc BufferDescriptor) ([]byte, error) {
	region, err := unix.Mmap(d.fd, int64(desc.Offset), int(desc.Length),
		unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer %d: %w", desc.Index, err)
	}
	return region, nil
}

func (d *v4l2Device) UnmapBuffer(region []byte) error {
	return unix.Munmap(region)
}

func (d *v4l2Device) EnqueueEmpty(index uint32) error {
	buf := v4l2Buffer{
		Index:  index,
		Type:   bufTypeVideoCapture,
		Memory: memoryMmap,
	}
	if err := d.ioctl(vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF index %d: %w", index, err)
	}
	return nil
}

func (d *v4l2Device) DequeueFilled() (uint32, uint32, error) {
	buf := v4l2Buffer{
		Type:   bufTypeVideoCapture,
		Memory: memoryMmap,
	}
	if err := d.ioctl(vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		if err == unix.EAGAIN {
			return 0, 0, core.ErrNotReady
		}
		return 0, 0, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return buf.Index, buf.BytesUsed, nil
}

func (d *v4l2Device) WaitReadiness(timeout time.Duration) (bool, error) {
	for i := 0; i < maxEINTRRetries; i++ {
		var fds unix.FdSet
		fds.Zero()
		fds.Set(d.fd)
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		n, err := unix.Select(d.fd+1, &fds, nil, nil, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("select on %s: %w", d.path, err)
		}
		return n > 0, nil
	}
	return false, nil
}

func (d *v4l2Device) StartStreaming() error {
	typ := int32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

func (d *v4l2Device) StopStreaming() error {
	typ := int32(bufTypeVideoCapture)
	if err := d.ioctl(vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

func (d *v4l2Device) Close() error {
	if d.fd < 0 {
		return core.ErrDeviceClosed
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
